package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/ports"
)

func TestSearchMapsResults(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req searchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.URL.Path != "/search" || req.Query != "Acme news" || req.Topic != "news" || req.MaxResults != 3 {
			http.Error(w, "unexpected request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"results":[
			{"url":"https://news.example.com/a","title":"A","content":"snippet","raw_content":"full text","score":0.72},
			{"url":"https://news.example.com/b","title":"B","content":"only snippet","score":0.31}
		]}`))
	}))
	defer srv.Close()

	client := NewClient(config.SearchConfig{Endpoint: srv.URL + "/", MaxResults: 3, RetryMax: 2, Timeout: time.Second})
	client.http.RetryWaitMin = time.Millisecond
	client.http.RetryWaitMax = time.Millisecond

	docs, err := client.Search(context.Background(), ports.SearchRequest{Query: "Acme news", Category: "news", Topic: "news"})
	require.NoError(t, err)
	require.Equal(t, int32(2), attempts.Load())
	require.Equal(t, []domain.Document{
		{URL: "https://news.example.com/a", Title: "A", Content: "full text", SourceKind: domain.SourceWebSearch, BaseScore: 0.72, Category: "news"},
		{URL: "https://news.example.com/b", Title: "B", Content: "only snippet", SourceKind: domain.SourceWebSearch, BaseScore: 0.31, Category: "news"},
	}, docs)
}

func TestSearchFailsOnClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(config.SearchConfig{Endpoint: srv.URL, RetryMax: 1, Timeout: time.Second})
	_, err := client.Search(context.Background(), ports.SearchRequest{Query: "Acme", Category: "company"})
	require.ErrorContains(t, err, "401")
}

func TestSearchOmitsTopicForGeneralCategories(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	client := NewClient(config.SearchConfig{Endpoint: srv.URL, Timeout: time.Second})
	docs, err := client.Search(context.Background(), ports.SearchRequest{Query: "Acme news", Category: "news"})
	require.NoError(t, err)
	require.Empty(t, docs)
	require.Equal(t, "Acme news", raw["query"])
	require.NotContains(t, raw, "topic", "the category name alone does not select a topic")
}
