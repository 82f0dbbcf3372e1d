package curation

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"CompanyResearcher/internal/domain"
)

const (
	officialBoost   = 0.20
	topicBoost      = 0.10
	firstPartyBoost = 0.15

	// absorbs float noise such as 0.3+0.1 landing just below 0.4
	scoreEpsilon = 1e-9
)

var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

var (
	errMalformedScore = errors.New("malformed base score")
	errMissingHost    = errors.New("url has no host")
)

// Options tune the curation algorithm.
type Options struct {
	Threshold            float64
	MaxDocuments         int
	MinFirstPartyContent int
	OfficialMarkers      []string
	TopicMarkers         []string
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		Threshold:            0.4,
		MaxDocuments:         30,
		MinFirstPartyContent: 500,
		OfficialMarkers: []string{
			"impact report",
			"esg report",
			"sustainability report",
			"csr report",
			"annual report",
			"10-k",
			"regulatory filing",
		},
		TopicMarkers: []string{"food waste", "food loss"},
	}
}

// Curator scores, deduplicates, ranks and caps raw documents per category.
type Curator struct {
	opts   Options
	logger *slog.Logger
	onKept func(domain.Document)
}

// NewCurator builds a curator; zero option values fall back to defaults.
func NewCurator(opts Options, logger *slog.Logger) *Curator {
	def := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = def.Threshold
	}
	if opts.MaxDocuments <= 0 {
		opts.MaxDocuments = def.MaxDocuments
	}
	if opts.MinFirstPartyContent <= 0 {
		opts.MinFirstPartyContent = def.MinFirstPartyContent
	}
	if opts.OfficialMarkers == nil {
		opts.OfficialMarkers = def.OfficialMarkers
	}
	if opts.TopicMarkers == nil {
		opts.TopicMarkers = def.TopicMarkers
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Curator{opts: lowerMarkers(opts), logger: logger}
}

// WithObserver registers a callback invoked once per retained document.
func (c *Curator) WithObserver(fn func(domain.Document)) *Curator {
	cp := *c
	cp.onKept = fn
	return &cp
}

// Curate turns the raw documents of one category, in discovery order, into a CuratedSet.
func (c *Curator) Curate(raw []domain.Document, category domain.Category) domain.CuratedSet {
	seen := make(map[string]struct{}, len(raw))
	kept := make([]domain.Document, 0, len(raw))

	for _, doc := range raw {
		normalized, err := NormalizeURL(doc.URL)
		if err != nil {
			c.logger.Debug("skip document", "category", category, "url", doc.URL, "error", err)
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}

		doc.NormalizedURL = normalized
		doc.Category = category
		if err := c.score(&doc); err != nil {
			c.logger.Warn("skip document", "category", category, "url", doc.URL, "error", err)
			continue
		}

		if doc.FinalScore+scoreEpsilon >= c.opts.Threshold || doc.SourceKind == domain.SourceFirstParty {
			kept = append(kept, doc)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].FinalScore > kept[j].FinalScore
	})
	if len(kept) > c.opts.MaxDocuments {
		kept = kept[:c.opts.MaxDocuments]
	}

	for _, doc := range kept {
		c.logger.Debug("document kept", "category", category, "url", doc.NormalizedURL, "score", doc.FinalScore)
		if c.onKept != nil {
			c.onKept(doc)
		}
	}

	c.logger.Info("category curated", "category", category, "initial", len(raw), "kept", len(kept))
	return domain.CuratedSet{Category: category, Documents: kept}
}

func (c *Curator) score(doc *domain.Document) error {
	base := doc.BaseScore
	if math.IsNaN(base) || math.IsInf(base, 0) || base < 0 || base > 1 {
		return fmt.Errorf("%w: %v", errMalformedScore, base)
	}

	boost := 0.0
	title := strings.ToLower(doc.Title)
	if containsAny(title, c.opts.OfficialMarkers) {
		boost += officialBoost
	}
	if containsAny(strings.ToLower(doc.Content), c.opts.TopicMarkers) {
		boost += topicBoost
	}
	if doc.SourceKind == domain.SourceFirstParty && len(doc.Content) >= c.opts.MinFirstPartyContent {
		boost += firstPartyBoost
	}

	doc.AuthorityBoost = boost
	doc.FinalScore = math.Min(1.0, base+boost)
	return nil
}

// WithScheme prepends https:// unless raw starts with a scheme. A "://" later in
// the url, e.g. inside a query parameter, does not count.
func WithScheme(raw string) string {
	if schemePrefix.MatchString(raw) {
		return raw
	}
	return "https://" + strings.TrimPrefix(raw, "//")
}

// NormalizeURL lower-cases scheme and host and strips query, fragment and trailing slash.
// A missing scheme defaults to https.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errMissingHost
	}
	parsed, err := url.Parse(WithScheme(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if parsed.Host == "" {
		return "", errMissingHost
	}

	normalized := strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + parsed.EscapedPath()
	return strings.TrimRight(normalized, "/"), nil
}

func containsAny(text string, markers []string) bool {
	if text == "" {
		return false
	}
	for _, marker := range markers {
		if marker != "" && strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func lowerMarkers(opts Options) Options {
	lower := func(in []string) []string {
		out := make([]string, 0, len(in))
		for _, m := range in {
			if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
				out = append(out, m)
			}
		}
		return out
	}
	opts.OfficialMarkers = lower(opts.OfficialMarkers)
	opts.TopicMarkers = lower(opts.TopicMarkers)
	return opts
}
