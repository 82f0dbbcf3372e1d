package archive

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"CompanyResearcher/internal/domain"
)

func TestArchiveContextIndexesDocuments(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		docs  []ContextDocument
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPut {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		var doc ContextDocument
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		paths = append(paths, r.URL.Path)
		docs = append(docs, doc)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer srv.Close()

	a, err := NewElasticArchive(srv.URL, "ctx", nil)
	require.NoError(t, err)
	a.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	err = a.ArchiveContext(context.Background(), "job-1", "Acme", []domain.Document{
		{URL: "https://acme.com/about/", NormalizedURL: "https://acme.com/about", Category: "company", FinalScore: 0.7, SourceKind: domain.SourceFirstParty},
		{URL: "https://news.example.com/a", Category: "news", FinalScore: 0.5},
	})
	require.NoError(t, err)

	require.Len(t, paths, 2)
	for _, p := range paths {
		require.True(t, strings.HasPrefix(p, "/ctx/_doc/job-1-"), p)
	}
	require.NotEqual(t, paths[0], paths[1])
	require.Equal(t, "https://acme.com/about", docs[0].URL)
	require.Equal(t, "first_party", docs[0].SourceKind)
	require.Equal(t, "Acme", docs[1].Company)
	require.Equal(t, "job-1", docs[1].JobID)
}

func TestArchiveContextReportsIndexErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"mapper_parsing_exception"}`))
	}))
	defer srv.Close()

	a, err := NewElasticArchive(srv.URL, "", nil)
	require.NoError(t, err)
	err = a.ArchiveContext(context.Background(), "job-1", "Acme", []domain.Document{{URL: "https://acme.com"}})
	require.ErrorContains(t, err, "mapper_parsing_exception")
}

func TestDocumentIDIsStable(t *testing.T) {
	require.Equal(t, documentID("j", "news", "https://a"), documentID("j", "news", "https://a"))
	require.NotEqual(t, documentID("j", "news", "https://a"), documentID("j", "company", "https://a"))
}
