package domain

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrKeyWritten is returned when a stage tries to overwrite a key owned by another write.
var ErrKeyWritten = errors.New("state key already written")

// Diagnostic records a stage-local failure. It never reaches the job result.
type Diagnostic struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// State is the per-job bag threaded through the pipeline. Every key is written once;
// diagnostics are append-only.
type State struct {
	JobID string
	Input JobInput

	SiteScrape     []Document
	Raw            map[Category][]Document
	InferredURL    string
	Curated        map[Category]CuratedSet
	References     []ReferenceEntry
	Extracted      map[string]string
	Briefings      map[Category]string
	Report         string
	Classification Classification
	SyncReceipt    string
	Diagnostics    []Diagnostic

	written map[string]struct{}
	order   []string
}

// StateUpdate is the partial output of one stage. A nil field means the stage did not
// write that key; stages that fail write an empty, non-nil value instead.
type StateUpdate struct {
	SiteScrape     []Document
	Raw            map[Category][]Document
	InferredURL    *string
	Curated        map[Category]CuratedSet
	References     []ReferenceEntry
	Extracted      map[string]string
	Briefings      map[Category]string
	Report         *string
	Classification *Classification
	SyncReceipt    *string
	Diagnostics    []Diagnostic
}

// NewState creates the initial state of a job.
func NewState(jobID string, input JobInput) State {
	return State{
		JobID:     jobID,
		Input:     input,
		Raw:       map[Category][]Document{},
		Curated:   map[Category]CuratedSet{},
		Extracted: map[string]string{},
		Briefings: map[Category]string{},
		written:   map[string]struct{}{},
	}
}

// Keys lists written keys in write order.
func (s State) Keys() []string {
	return slices.Clone(s.order)
}

// Has reports whether key was written.
func (s State) Has(key string) bool {
	_, ok := s.written[key]
	return ok
}

// CompanyURL returns the requested url or the one inferred during merge.
func (s State) CompanyURL() string {
	if s.Input.URL != "" {
		return s.Input.URL
	}
	return s.InferredURL
}

// CuratedSets returns curated sets in the given category order, skipping absent ones.
func (s State) CuratedSets(order []Category) []CuratedSet {
	sets := make([]CuratedSet, 0, len(order))
	for _, cat := range order {
		if set, ok := s.Curated[cat]; ok {
			sets = append(sets, set)
		}
	}
	return sets
}

// Clone returns a snapshot whose maps can be read while the original keeps changing.
func (s State) Clone() State {
	out := s
	out.SiteScrape = slices.Clone(s.SiteScrape)
	out.Raw = maps.Clone(s.Raw)
	out.Curated = maps.Clone(s.Curated)
	out.References = slices.Clone(s.References)
	out.Extracted = maps.Clone(s.Extracted)
	out.Briefings = maps.Clone(s.Briefings)
	out.Diagnostics = slices.Clone(s.Diagnostics)
	out.written = maps.Clone(s.written)
	out.order = slices.Clone(s.order)
	return out
}

// Apply merges a partial update. Nothing is written when any key conflicts.
func (s *State) Apply(u StateUpdate) error {
	keys := u.keys()
	for _, key := range keys {
		if s.Has(key) {
			return fmt.Errorf("apply %s: %w", key, ErrKeyWritten)
		}
	}

	if s.written == nil {
		s.written = map[string]struct{}{}
	}
	if s.Raw == nil {
		s.Raw = map[Category][]Document{}
	}
	if s.Curated == nil {
		s.Curated = map[Category]CuratedSet{}
	}
	if s.Extracted == nil {
		s.Extracted = map[string]string{}
	}
	if s.Briefings == nil {
		s.Briefings = map[Category]string{}
	}

	if u.SiteScrape != nil {
		s.SiteScrape = u.SiteScrape
	}
	for cat, docs := range u.Raw {
		s.Raw[cat] = docs
	}
	if u.InferredURL != nil {
		s.InferredURL = *u.InferredURL
	}
	for cat, set := range u.Curated {
		s.Curated[cat] = set
	}
	if u.References != nil {
		s.References = u.References
	}
	maps.Copy(s.Extracted, u.Extracted)
	for cat, text := range u.Briefings {
		s.Briefings[cat] = text
	}
	if u.Report != nil {
		s.Report = *u.Report
	}
	if u.Classification != nil {
		s.Classification = *u.Classification
	}
	if u.SyncReceipt != nil {
		s.SyncReceipt = *u.SyncReceipt
	}
	s.Diagnostics = append(s.Diagnostics, u.Diagnostics...)

	for _, key := range keys {
		s.written[key] = struct{}{}
		s.order = append(s.order, key)
	}
	return nil
}

func (u StateUpdate) keys() []string {
	var keys []string
	if u.SiteScrape != nil {
		keys = append(keys, "site_scrape")
	}
	for _, cat := range slices.Sorted(maps.Keys(u.Raw)) {
		keys = append(keys, "raw/"+string(cat))
	}
	if u.InferredURL != nil {
		keys = append(keys, "inferred_url")
	}
	for _, cat := range slices.Sorted(maps.Keys(u.Curated)) {
		keys = append(keys, "curated/"+string(cat))
	}
	if u.References != nil {
		keys = append(keys, "references")
	}
	if u.Extracted != nil {
		keys = append(keys, "extracted")
	}
	for _, cat := range slices.Sorted(maps.Keys(u.Briefings)) {
		keys = append(keys, "briefings/"+string(cat))
	}
	if u.Report != nil {
		keys = append(keys, "report")
	}
	if u.Classification != nil {
		keys = append(keys, "classification")
	}
	if u.SyncReceipt != nil {
		keys = append(keys, "sync_receipt")
	}
	return keys
}
