package collector_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"CompanyResearcher/internal/collector"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/ports"
)

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	topics  []string
	fail    map[string]bool
	explode map[string]bool
}

func (f *fakeSearcher) Search(_ context.Context, req ports.SearchRequest) ([]domain.Document, error) {
	query := req.Query
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.topics = append(f.topics, req.Topic)
	f.mu.Unlock()

	if f.explode[query] {
		panic("search client exploded")
	}
	if f.fail[query] {
		return nil, errors.New("rate limited")
	}
	return []domain.Document{{URL: "https://example.com/" + strings.ReplaceAll(query, " ", "-"), Title: query, BaseScore: 0.5}}, nil
}

type fakeGenerator struct {
	answer string
	err    error
}

func (f fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.answer, f.err
}

func TestRegistry(t *testing.T) {
	reg := collector.NewRegistry()
	reg.Register(collector.NewQueryCollector(collector.QuerySpec{Category: "news"}, nil, nil))
	reg.Register(collector.NewQueryCollector(collector.QuerySpec{Category: "company"}, nil, nil))
	reg.Register(collector.NewQueryCollector(collector.QuerySpec{Category: "news"}, nil, nil))

	require.Equal(t, []domain.Category{"news", "company"}, reg.Categories())

	_, err := reg.Resolve("contacts")
	require.EqualError(t, err, "collector contacts is not registered")

	c, err := reg.Resolve("company")
	require.NoError(t, err)
	require.Equal(t, domain.Category("company"), c.Category())
}

func TestRenderQueries(t *testing.T) {
	got := collector.RenderQueries(
		[]string{"{company} news", "{company}  {industry} {location}", "{company} NEWS", "{industry}"},
		domain.JobInput{Company: "Acme", Location: "Ohio"},
	)
	require.Equal(t, []string{"Acme news", "Acme Ohio"}, got)
}

func TestQueryCollectorCollect(t *testing.T) {
	searcher := &fakeSearcher{fail: map[string]bool{"Acme partners": true}}
	gen := fakeGenerator{answer: "1. Acme coalition\n- Acme partners\n\n\"Acme pledge\"\nAcme extra"}

	c := collector.NewQueryCollector(collector.QuerySpec{
		Category:          "company",
		Label:             "Company",
		Templates:         []string{"{company} overview"},
		IncludeSiteScrape: true,
		GeneratedQueries:  3,
		MaxContentLength:  4,
	}, searcher, gen)

	docs, err := c.Collect(context.Background(), collector.Request{
		Input:      domain.JobInput{Company: "Acme"},
		SiteScrape: []domain.Document{{URL: "https://acme.com", Content: "welcome to acme"}},
	})

	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limited")
	require.ElementsMatch(t, []string{"Acme overview", "Acme coalition", "Acme partners", "Acme pledge"}, searcher.queries)

	require.Len(t, docs, 4)
	require.Equal(t, domain.SourceFirstParty, docs[0].SourceKind)
	require.Equal(t, "welc", docs[0].Content)
	require.Equal(t, "Acme overview", docs[1].Title)
	require.Equal(t, "Acme coalition", docs[2].Title)
	require.Equal(t, "Acme pledge", docs[3].Title)
	for _, doc := range docs {
		require.Equal(t, domain.Category("company"), doc.Category)
	}
	require.Equal(t, domain.SourceWebSearch, docs[1].SourceKind)
}

func TestQueryCollectorIgnoresPlanningFailure(t *testing.T) {
	searcher := &fakeSearcher{}
	c := collector.NewQueryCollector(collector.QuerySpec{
		Category:         "news",
		Templates:        []string{"{company} news"},
		GeneratedQueries: 2,
	}, searcher, fakeGenerator{err: errors.New("quota")})

	docs, err := c.Collect(context.Background(), collector.Request{Input: domain.JobInput{Company: "Acme"}})

	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, []string{"Acme news"}, searcher.queries)
}

func TestQueryCollectorContainsPanickingSearch(t *testing.T) {
	searcher := &fakeSearcher{explode: map[string]bool{"Acme press": true}}
	c := collector.NewQueryCollector(collector.QuerySpec{
		Category:  "news",
		Templates: []string{"{company} news", "{company} press"},
		Topic:     "news",
	}, searcher, nil)

	docs, err := c.Collect(context.Background(), collector.Request{Input: domain.JobInput{Company: "Acme"}})

	require.ErrorContains(t, err, `search "Acme press": panic: search client exploded`)
	require.Len(t, docs, 1)
	require.Equal(t, "Acme news", docs[0].Title)
	require.Equal(t, []string{"news", "news"}, searcher.topics)
}
