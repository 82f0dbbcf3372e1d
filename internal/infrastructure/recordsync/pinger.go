package recordsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/internal/ports"
)

// RecordLookup resolves the external record id of a job, "" when it has none.
type RecordLookup func(jobID string) string

// StatusPinger mirrors progress into the record store. Pings never block or fail the
// pipeline. Each record has one sender goroutine, so statuses arrive in order, and
// progress of a job is dropped once its terminal status is queued.
type StatusPinger struct {
	records ports.RecordSync
	lookup  RecordLookup
	logger  *slog.Logger
	timeout time.Duration

	mu     sync.Mutex
	queues map[string]*recordQueue
	wg     sync.WaitGroup
}

type recordQueue struct {
	pending  []string
	finished map[string]bool // jobs whose terminal status is queued
}

// NewStatusPinger wires the record store and the job lookup.
func NewStatusPinger(records ports.RecordSync, lookup RecordLookup, logger *slog.Logger) *StatusPinger {
	return &StatusPinger{
		records: records,
		lookup:  lookup,
		logger:  logger,
		timeout: 10 * time.Second,
		queues:  map[string]*recordQueue{},
	}
}

// OnUpdate sends a status text for every progress step of jobs with a record id.
func (p *StatusPinger) OnUpdate(u pipeline.Update) {
	if u.Stage == pipeline.EndStage || p.lookup == nil {
		return
	}
	p.enqueue(u.JobID, p.lookup(u.JobID), StatusText(u.Stage, u.Percent), false)
}

// JobChanged sends the terminal status of a job.
func (p *StatusPinger) JobChanged(_ context.Context, job domain.Job) {
	switch job.Status {
	case domain.JobCompleted:
		p.enqueue(job.ID, job.Input.RecordID, completedStatus, true)
	case domain.JobFailed:
		p.enqueue(job.ID, job.Input.RecordID, "Failed: "+job.Error, true)
	}
}

// Wait blocks until every queued ping was sent.
func (p *StatusPinger) Wait() {
	p.wg.Wait()
}

// StatusText renders the progress line stored in the record.
func StatusText(stage string, percent int) string {
	return fmt.Sprintf("Researching: %s (%d%%)", stage, percent)
}

func (p *StatusPinger) enqueue(jobID, recordID, status string, terminal bool) {
	if recordID == "" || p.records == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	q, draining := p.queues[recordID]
	if !draining {
		q = &recordQueue{finished: map[string]bool{}}
		p.queues[recordID] = q
	}
	if q.finished[jobID] && !terminal {
		return
	}
	if terminal {
		q.finished[jobID] = true
	}
	q.pending = append(q.pending, status)
	if !draining {
		p.wg.Add(1)
		go p.drain(recordID, q)
	}
}

func (p *StatusPinger) drain(recordID string, q *recordQueue) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if len(q.pending) == 0 {
			delete(p.queues, recordID)
			p.mu.Unlock()
			return
		}
		status := q.pending[0]
		q.pending = q.pending[1:]
		p.mu.Unlock()

		p.send(recordID, status)
	}
}

func (p *StatusPinger) send(recordID, status string) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.records.UpdateStatus(ctx, recordID, status); err != nil && p.logger != nil {
		p.logger.Warn("status ping failed", "record_id", recordID, "status", status, "error", err)
	}
}
