package domain

import (
	"strings"
	"time"
)

// JobStatus tracks the lifecycle of a research job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further status change is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobInput holds the immutable request parameters.
type JobInput struct {
	Company  string `json:"company"`
	URL      string `json:"url,omitempty"`
	Industry string `json:"industry,omitempty"`
	Location string `json:"location,omitempty"`
	RecordID string `json:"record_id,omitempty"`
}

// Normalize trims all fields.
func (in JobInput) Normalize() JobInput {
	return JobInput{
		Company:  strings.TrimSpace(in.Company),
		URL:      strings.TrimSpace(in.URL),
		Industry: strings.TrimSpace(in.Industry),
		Location: strings.TrimSpace(in.Location),
		RecordID: strings.TrimSpace(in.RecordID),
	}
}

// Job is one research request and its outcome.
type Job struct {
	ID        string    `json:"id"`
	Input     JobInput  `json:"input"`
	Status    JobStatus `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Result    string    `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}
