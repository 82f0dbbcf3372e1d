package recordsync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
)

func TestUpsertReportCreatesAndUpdates(t *testing.T) {
	type call struct {
		method, path string
		fields       map[string]any
	}
	var (
		mu    sync.Mutex
		calls []call
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body recordPayload
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		calls = append(calls, call{r.Method, r.URL.Path, body.Fields})
		mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"recNew"}`))
	}))
	defer srv.Close()

	c := NewClient(config.RecordSyncConfig{Endpoint: srv.URL, Table: "Companies"})
	record := domain.SyncRecord{
		JobID:          "job-1",
		Company:        "Acme",
		Report:         "# Acme Research Report\n",
		Classification: domain.Classification{Industries: []string{"Technology"}, Region: "Europe"},
	}

	id, err := c.UpsertReport(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, "recNew", id)

	record.RecordID = "recOld"
	_, err = c.UpsertReport(context.Background(), record)
	require.NoError(t, err)

	require.Len(t, calls, 2)
	require.Equal(t, http.MethodPost, calls[0].method)
	require.Equal(t, "/Companies", calls[0].path)
	require.Equal(t, "Acme", calls[0].fields["Organization"])
	require.Equal(t, []any{"Europe"}, calls[0].fields["Country/Region"])
	require.Equal(t, "Completed", calls[0].fields["Research Status"])
	require.Equal(t, http.MethodPatch, calls[1].method)
	require.Equal(t, "/Companies/recOld", calls[1].path)
}

func TestUpdateStatusRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(config.RecordSyncConfig{Endpoint: srv.URL})
	require.NoError(t, c.UpdateStatus(context.Background(), "rec1", "Researching"))
	require.Equal(t, int32(3), attempts.Load())
}

func TestUpdateStatusDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		http.Error(w, "unknown record", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(config.RecordSyncConfig{Endpoint: srv.URL})
	err := c.UpdateStatus(context.Background(), "rec1", "Researching")
	require.ErrorContains(t, err, "unknown record")
	require.Equal(t, int32(1), attempts.Load())
}

type recordingSync struct {
	mu       sync.Mutex
	statuses []string
	fail     bool
	started  chan struct{}
	release  chan struct{}
}

func (r *recordingSync) UpsertReport(context.Context, domain.SyncRecord) (string, error) {
	return "", nil
}

func (r *recordingSync) UpdateStatus(_ context.Context, recordID, status string) error {
	r.mu.Lock()
	r.statuses = append(r.statuses, recordID+":"+status)
	r.mu.Unlock()
	if r.started != nil {
		r.started <- struct{}{}
	}
	if r.release != nil {
		<-r.release
	}
	if r.fail {
		return errors.New("record store down")
	}
	return nil
}

func TestStatusPingerOnlyPingsJobsWithRecords(t *testing.T) {
	rs := &recordingSync{fail: true}
	p := NewStatusPinger(rs, func(jobID string) string {
		if jobID == "with-record" {
			return "rec9"
		}
		return ""
	}, nil)

	p.OnUpdate(pipeline.Update{JobID: "with-record", Stage: "curation", Percent: 44, At: time.Now()})
	p.OnUpdate(pipeline.Update{JobID: "anonymous", Stage: "curation", Percent: 44})
	p.OnUpdate(pipeline.Update{JobID: "with-record", Stage: pipeline.EndStage, Percent: 100})
	p.JobChanged(context.Background(), domain.Job{Status: domain.JobFailed, Error: "no report generated", Input: domain.JobInput{RecordID: "rec9"}})
	p.JobChanged(context.Background(), domain.Job{Status: domain.JobRunning, Input: domain.JobInput{RecordID: "rec9"}})
	p.Wait()

	sort.Strings(rs.statuses)
	require.Equal(t, []string{
		"rec9:Failed: no report generated",
		"rec9:Researching: curation (44%)",
	}, rs.statuses)
}

func TestStatusPingerSendsTerminalStatusLast(t *testing.T) {
	rs := &recordingSync{started: make(chan struct{}, 8), release: make(chan struct{})}
	p := NewStatusPinger(rs, func(string) string { return "rec1" }, nil)

	p.OnUpdate(pipeline.Update{JobID: "job-1", Stage: "curation", Percent: 44})
	<-rs.started
	p.OnUpdate(pipeline.Update{JobID: "job-1", Stage: "synthesis", Percent: 67})
	p.JobChanged(context.Background(), domain.Job{ID: "job-1", Status: domain.JobCompleted, Input: domain.JobInput{RecordID: "rec1"}})
	p.OnUpdate(pipeline.Update{JobID: "job-1", Stage: "sync", Percent: 100})
	close(rs.release)
	p.Wait()

	require.Equal(t, []string{
		"rec1:Researching: curation (44%)",
		"rec1:Researching: synthesis (67%)",
		"rec1:Completed",
	}, rs.statuses)

	p.OnUpdate(pipeline.Update{JobID: "job-2", Stage: "curation", Percent: 44})
	p.Wait()
	require.Equal(t, "rec1:Researching: curation (44%)", rs.statuses[len(rs.statuses)-1], "a new job on the same record pings again")
}
