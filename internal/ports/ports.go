package ports

import (
	"context"
	"errors"

	"CompanyResearcher/internal/domain"
)

// ErrNotFound is returned by repositories for missing records.
var ErrNotFound = errors.New("not found")

// SearchRequest is one query issued on behalf of a collection category. Topic narrows
// the backend's index, e.g. "news"; empty means general search.
type SearchRequest struct {
	Query    string
	Category domain.Category
	Topic    string
}

// Searcher runs a web search for one collection category.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) ([]domain.Document, error)
}

// Crawler walks the subject's own website.
type Crawler interface {
	Crawl(ctx context.Context, url string) ([]domain.Document, error)
}

// ContentExtractor downloads the readable text of a single page.
type ContentExtractor interface {
	ExtractContent(ctx context.Context, url string) (string, error)
}

// TextGenerator sends a prompt to an LLM and returns its answer.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// RecordSync mirrors job progress and final reports into an external record store.
type RecordSync interface {
	UpsertReport(ctx context.Context, record domain.SyncRecord) (string, error)
	UpdateStatus(ctx context.Context, recordID, status string) error
}

// ContextArchive stores the curated evidence of a job.
type ContextArchive interface {
	ArchiveContext(ctx context.Context, jobID, company string, docs []domain.Document) error
}

// JobRepository persists job snapshots beyond the in-memory registry.
type JobRepository interface {
	SaveJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id string) (domain.Job, error)
}

// Notifier announces finished jobs to humans.
type Notifier interface {
	NotifyJob(ctx context.Context, job domain.Job) error
}

// Scheduler runs periodic housekeeping.
type Scheduler interface {
	Start(ctx context.Context, job func(context.Context)) error
	Stop(ctx context.Context) error
}
