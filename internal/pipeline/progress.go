package pipeline

import (
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"
)

// Update is one progress event.
type Update struct {
	JobID   string    `json:"job_id"`
	Stage   string    `json:"stage"`
	Percent int       `json:"progress"`
	Keys    []string  `json:"keys"`
	At      time.Time `json:"at"`
}

// Subscriber receives progress events.
type Subscriber interface {
	OnUpdate(Update)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(Update)

// OnUpdate calls f.
func (f SubscriberFunc) OnUpdate(u Update) { f(u) }

// Tracker maps stage names onto a fixed ordinal list and broadcasts progress.
type Tracker struct {
	ordinals map[string]int
	total    int
	logger   *slog.Logger

	mu     sync.Mutex
	last   map[string]int
	subs   map[string]map[uint64]Subscriber
	global []Subscriber
	nextID uint64
}

// NewTracker builds a tracker from ordered stage groups; names in one group share an ordinal.
func NewTracker(order [][]string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	ordinals := make(map[string]int)
	for i, group := range order {
		for _, name := range group {
			ordinals[name] = i
		}
	}
	ordinals[EndStage] = len(order)

	return &Tracker{
		ordinals: ordinals,
		total:    max(len(order), 1),
		logger:   logger,
		last:     map[string]int{},
		subs:     map[string]map[uint64]Subscriber{},
	}
}

// Percent computes the progress value of a stage.
func (t *Tracker) Percent(stage string) (int, bool) {
	ordinal, ok := t.ordinals[stage]
	if !ok {
		return 0, false
	}
	pct := int(math.Round(100 * float64(ordinal+1) / float64(t.total)))
	return min(100, pct), true
}

// Report publishes the progress of jobID after stage finished.
func (t *Tracker) Report(jobID, stage string, keys []string) {
	pct, ok := t.Percent(stage)
	if !ok {
		t.logger.Warn("unknown stage in progress report", "job_id", jobID, "stage", stage)
		return
	}

	t.mu.Lock()
	if prev, seen := t.last[jobID]; seen && prev > pct {
		pct = prev
	}
	t.last[jobID] = pct
	receivers := make([]Subscriber, 0, len(t.subs[jobID])+len(t.global))
	for _, sub := range t.subs[jobID] {
		receivers = append(receivers, sub)
	}
	receivers = append(receivers, t.global...)
	t.mu.Unlock()

	update := Update{JobID: jobID, Stage: stage, Percent: pct, Keys: slices.Clone(keys), At: time.Now().UTC()}
	for _, sub := range receivers {
		sub.OnUpdate(update)
	}
}

// Subscribe registers sub for one job. The returned func removes it.
func (t *Tracker) Subscribe(jobID string, sub Subscriber) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	id := t.nextID
	if t.subs[jobID] == nil {
		t.subs[jobID] = map[uint64]Subscriber{}
	}
	t.subs[jobID][id] = sub

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs[jobID], id)
		if len(t.subs[jobID]) == 0 {
			delete(t.subs, jobID)
		}
	}
}

// SubscribeAll registers sub for every job.
func (t *Tracker) SubscribeAll(sub Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.global = append(t.global, sub)
}

// Last returns the latest published percent of a job.
func (t *Tracker) Last(jobID string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pct, ok := t.last[jobID]
	return pct, ok
}

// Forget drops everything known about a job.
func (t *Tracker) Forget(jobID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, jobID)
	delete(t.subs, jobID)
}
