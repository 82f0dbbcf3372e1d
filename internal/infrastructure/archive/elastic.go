package archive

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/ports"
)

// ContextDocument is one archived piece of curated evidence.
type ContextDocument struct {
	JobID      string          `json:"job_id"`
	Company    string          `json:"company"`
	Category   domain.Category `json:"category"`
	URL        string          `json:"url"`
	Title      string          `json:"title"`
	Content    string          `json:"content"`
	SourceKind string          `json:"source_kind"`
	Score      float64         `json:"score"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// ElasticArchive stores curated documents in an Elasticsearch index.
type ElasticArchive struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
	now   func() time.Time
}

var _ ports.ContextArchive = (*ElasticArchive)(nil)

// NewElasticArchive instantiates the Elasticsearch client.
func NewElasticArchive(addr, index string, logger *slog.Logger) (*ElasticArchive, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if index == "" {
		index = "research-context"
	}
	return &ElasticArchive{es: es, index: index, log: logger, now: time.Now}, nil
}

// Ping checks if Elasticsearch is available.
func (a *ElasticArchive) Ping(ctx context.Context) error {
	res, err := a.es.Ping(a.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}
	return nil
}

// ArchiveContext indexes every document under a job-scoped id, so re-runs overwrite.
func (a *ElasticArchive) ArchiveContext(ctx context.Context, jobID, company string, docs []domain.Document) error {
	archivedAt := a.now().UTC()
	for _, doc := range docs {
		url := doc.NormalizedURL
		if url == "" {
			url = doc.URL
		}
		payload, err := json.Marshal(ContextDocument{
			JobID:      jobID,
			Company:    company,
			Category:   doc.Category,
			URL:        url,
			Title:      doc.Title,
			Content:    doc.Content,
			SourceKind: string(doc.SourceKind),
			Score:      doc.FinalScore,
			ArchivedAt: archivedAt,
		})
		if err != nil {
			return fmt.Errorf("marshal doc: %w", err)
		}

		req := esapi.IndexRequest{
			Index:      a.index,
			DocumentID: documentID(jobID, doc.Category, url),
			Body:       bytes.NewReader(payload),
			Refresh:    "false",
		}
		res, err := req.Do(ctx, a.es)
		if err != nil {
			return fmt.Errorf("index doc: %w", err)
		}
		if res.IsError() {
			body, _ := io.ReadAll(res.Body)
			res.Body.Close()
			return fmt.Errorf("index doc failed: %s", strings.TrimSpace(string(body)))
		}
		res.Body.Close()
	}

	a.log.Debug("context archived", "job_id", jobID, "documents", len(docs), "index", a.index)
	return nil
}

func documentID(jobID string, category domain.Category, url string) string {
	sum := sha1.Sum([]byte(string(category) + "|" + url))
	return jobID + "-" + hex.EncodeToString(sum[:8])
}
