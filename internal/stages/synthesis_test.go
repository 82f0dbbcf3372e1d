package stages_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/stages"
)

func TestBuildContextRanksAndTruncates(t *testing.T) {
	docs := []domain.Document{
		{URL: "https://b.example.com", Title: "B", Content: "short", FinalScore: 0.5},
		{URL: "https://a.example.com", NormalizedURL: "https://a.example.com", Title: "A", Content: strings.Repeat("x", 50), FinalScore: 0.9},
	}
	extracted := map[string]string{"https://a.example.com": strings.Repeat("y", 200)}

	out := stages.BuildContext(docs, extracted, 100, 10000)
	entries := strings.Split(out, "\n"+strings.Repeat("-", 40)+"\n")
	require.Len(t, entries, 2)
	require.True(t, strings.HasPrefix(entries[0], "Source URL: https://a.example.com\nTitle: A\n\nContent: "))
	require.Contains(t, entries[0], strings.Repeat("y", 100)+"... [content truncated]")
	require.NotContains(t, entries[0], strings.Repeat("y", 101))
	require.Contains(t, entries[1], "Content: short")
}

func TestBuildContextStopsAtTotalLimit(t *testing.T) {
	docs := []domain.Document{
		{URL: "https://a.example.com", Title: "A", Content: strings.Repeat("a", 300), FinalScore: 0.9},
		{URL: "https://b.example.com", Title: "B", Content: strings.Repeat("b", 300), FinalScore: 0.8},
	}
	out := stages.BuildContext(docs, nil, 8000, 500)
	require.Contains(t, out, "https://a.example.com")
	require.NotContains(t, out, "https://b.example.com")

	require.Empty(t, stages.BuildContext(docs, nil, 8000, 10))
}

func TestCompileReport(t *testing.T) {
	categories := []config.CategoryConfig{
		{Name: "company", Label: "Company Overview"},
		{Name: "news"},
		{Name: "contacts", Label: "Key Contacts"},
	}
	briefings := map[domain.Category]string{
		"company":  "* Makes widgets.",
		"news":     "* Opened a plant.\n",
		"contacts": "   ",
	}
	refs := []domain.ReferenceEntry{{NormalizedURL: "https://acme.com/about", Title: "About", Domain: "acme.com"}}

	report := stages.CompileReport("Acme", categories, briefings, refs)
	require.Equal(t, "# Acme Research Report\n\n"+
		"## Company Overview\n\n* Makes widgets.\n\n"+
		"## news\n\n* Opened a plant.\n\n"+
		"## References\n\n* Acme. \"About.\" https://acme.com/about\n", report)

	require.Empty(t, stages.CompileReport("Acme", categories, map[domain.Category]string{"company": ""}, refs))
}

func TestMatchOptions(t *testing.T) {
	options := []string{"Food Retail", "Technology", "Europe"}

	require.Equal(t, []string{"Technology", "Food Retail"},
		stages.MatchOptions("technology, Unknown thing,\n- Food Retail, Technology", options))
	require.Empty(t, stages.MatchOptions("None", options))
	require.Equal(t, []string{"Europe"}, stages.MatchOptions(`"Europe".`, options))
}

func TestClassifyKeepsPartialAnswers(t *testing.T) {
	rules := config.ClassificationConfig{
		Industries:    []string{"A", "B", "C", "D"},
		Regions:       []string{"Europe"},
		RevenueBands:  []string{"Unknown"},
		MaxIndustries: 2,
	}
	generate := func(_ context.Context, prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "industries"):
			return "D, C, B, A", nil
		case strings.Contains(prompt, "revenue"):
			return "", errors.New("rate limited")
		default:
			return "Mars", nil
		}
	}

	got, err := stages.Classify(context.Background(), domain.JobInput{Company: "Acme", Location: "Berlin"}, "# Acme", rules, generate)
	require.ErrorContains(t, err, "revenue_band: rate limited")
	require.Equal(t, []string{"D", "C"}, got.Industries)
	require.Empty(t, got.Region)
	require.Empty(t, got.RevenueBand)
}

func TestClassifyContainsPanickingQuestion(t *testing.T) {
	rules := config.ClassificationConfig{Industries: []string{"A"}, Regions: []string{"Europe"}, MaxIndustries: 1}
	generate := func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "region") {
			panic("generator exploded")
		}
		return "A", nil
	}

	got, err := stages.Classify(context.Background(), domain.JobInput{Company: "Acme"}, "# Acme", rules, generate)
	require.ErrorContains(t, err, "region: panic: generator exploded")
	require.Equal(t, []string{"A"}, got.Industries)
	require.Empty(t, got.Region)
}

// topicGenerator answers like fakeGenerator except for the briefing of one category.
type topicGenerator struct {
	fakeGenerator
	topic   string
	explode bool
}

func (g topicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.Contains(prompt, "Documents for Analysis") && strings.Contains(prompt, "Brief on "+g.topic+".") {
		if g.explode {
			panic("generator exploded")
		}
		return "", errors.New("model overloaded")
	}
	return g.fakeGenerator.Generate(ctx, prompt)
}

func TestSynthesisContainsPanickingBriefing(t *testing.T) {
	f := newFixture(fakeSearcher{})
	f.deps.Generator = topicGenerator{topic: "news", explode: true}

	final := execute(t, f.deps, domain.JobInput{Company: "Acme", URL: "https://acme.example.com"}, nil)

	require.Len(t, final.Diagnostics, 1)
	require.Equal(t, stages.Synthesis, final.Diagnostics[0].Stage)
	require.Equal(t, "briefing failed for: news", final.Diagnostics[0].Message)
	require.Empty(t, final.Briefings["news"])
	require.Equal(t, "* Verified company fact.", final.Briefings["company"])
	require.True(t, strings.HasPrefix(final.Report, "# Acme Research Report\n"))
	require.NotContains(t, final.Report, "## Recent News")
	require.Contains(t, final.Report, "## Sustainability")
}

func TestSynthesisKeepsOtherBriefingsWhenOneFails(t *testing.T) {
	f := newFixture(fakeSearcher{})
	f.deps.Generator = topicGenerator{topic: "contacts"}

	final := execute(t, f.deps, domain.JobInput{Company: "Acme", URL: "https://acme.example.com"}, nil)

	require.Len(t, final.Diagnostics, 1)
	require.Equal(t, stages.Synthesis, final.Diagnostics[0].Stage)
	require.Equal(t, "briefing failed for: contacts", final.Diagnostics[0].Message)
	for _, cat := range []domain.Category{"company", "news", "sustainability", "engagement"} {
		require.Equal(t, "* Verified "+string(cat)+" fact.", final.Briefings[cat])
	}
	require.Empty(t, final.Briefings["contacts"])
	require.NotContains(t, final.Report, "## Key Contacts")
	require.Contains(t, final.Report, "## Recent News")
	require.Equal(t, "rec-42", final.SyncReceipt, "a degraded report is still synced")
}

// gatedGenerator holds each briefing call until the limit is reached, recording the peak.
type gatedGenerator struct {
	fakeGenerator
	limit int

	mu       sync.Mutex
	inflight int
	peak     int
	calls    int
}

func (g *gatedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if !strings.Contains(prompt, "Documents for Analysis") {
		return g.fakeGenerator.Generate(ctx, prompt)
	}
	g.mu.Lock()
	g.inflight++
	g.calls++
	g.peak = max(g.peak, g.inflight)
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inflight--
		g.mu.Unlock()
	}()

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		g.mu.Lock()
		full := g.inflight >= g.limit
		g.mu.Unlock()
		if full {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return g.fakeGenerator.Generate(ctx, prompt)
}

func TestSynthesisHonoursConcurrencyLimit(t *testing.T) {
	f := newFixture(fakeSearcher{})
	gen := &gatedGenerator{limit: 2}
	f.deps.Generator = gen
	f.deps.Pipeline.SynthesisConcurrency = 2

	final := execute(t, f.deps, domain.JobInput{Company: "Acme", URL: "https://acme.example.com"}, nil)

	require.Empty(t, final.Diagnostics)
	gen.mu.Lock()
	defer gen.mu.Unlock()
	require.Equal(t, len(testCategories), gen.calls)
	require.Equal(t, 2, gen.peak, "briefings never exceed the per-job limit")
}
