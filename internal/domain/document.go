package domain

// Category names one collection branch (company, news, ...).
type Category string

// SourceKind describes where a document came from.
type SourceKind string

const (
	SourceFirstParty SourceKind = "first_party"
	SourceWebSearch  SourceKind = "web_search"
	SourceOther      SourceKind = "other"
)

// Document is one candidate piece of evidence collected for a category.
type Document struct {
	URL            string     `json:"url"`
	NormalizedURL  string     `json:"normalized_url,omitempty"`
	Title          string     `json:"title"`
	Content        string     `json:"content,omitempty"`
	SourceKind     SourceKind `json:"source_kind"`
	BaseScore      float64    `json:"base_score"`
	AuthorityBoost float64    `json:"authority_boost,omitempty"`
	FinalScore     float64    `json:"final_score,omitempty"`
	Category       Category   `json:"category"`
}

// CuratedSet is the ranked, deduplicated and capped document list of one category.
type CuratedSet struct {
	Category  Category   `json:"category"`
	Documents []Document `json:"documents"`
}

// ReferenceEntry is one citation of the global reference list.
type ReferenceEntry struct {
	NormalizedURL string  `json:"url"`
	Title         string  `json:"title"`
	Domain        string  `json:"domain"`
	FinalScore    float64 `json:"score"`
}

// Classification carries the tags assigned to a finished report.
type Classification struct {
	Industries  []string `json:"industries,omitempty"`
	Region      string   `json:"region,omitempty"`
	RevenueBand string   `json:"revenue_band,omitempty"`
}

// IsZero reports whether no tag was assigned.
func (c Classification) IsZero() bool {
	return len(c.Industries) == 0 && c.Region == "" && c.RevenueBand == ""
}

// SyncRecord is the payload pushed to the external record store.
type SyncRecord struct {
	RecordID       string           `json:"record_id,omitempty"`
	JobID          string           `json:"job_id"`
	Company        string           `json:"company"`
	Report         string           `json:"report"`
	Classification Classification   `json:"classification"`
	References     []ReferenceEntry `json:"references"`
}
