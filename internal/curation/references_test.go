package curation_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"CompanyResearcher/internal/curation"
	"CompanyResearcher/internal/domain"
)

func TestSelectReferencesBoundSortedDeduplicated(t *testing.T) {
	var sets []domain.CuratedSet
	for c := 0; c < 3; c++ {
		set := domain.CuratedSet{Category: domain.Category(fmt.Sprintf("cat%d", c))}
		for i := 0; i < 8; i++ {
			set.Documents = append(set.Documents, domain.Document{
				URL:           fmt.Sprintf("https://example.com/%d", i),
				NormalizedURL: fmt.Sprintf("https://example.com/%d", i),
				Title:         fmt.Sprintf("Doc %d", i),
				FinalScore:    float64(c*8+i) / 30,
			})
		}
		sets = append(sets, set)
	}

	refs := curation.SelectReferences(sets, 10)

	require.LessOrEqual(t, len(refs), 10)
	require.Len(t, refs, 8)
	seen := map[string]bool{}
	for i, ref := range refs {
		require.False(t, seen[ref.NormalizedURL])
		seen[ref.NormalizedURL] = true
		require.Equal(t, "example.com", ref.Domain)
		if i > 0 {
			require.GreaterOrEqual(t, refs[i-1].FinalScore, ref.FinalScore)
		}
	}
	require.InDelta(t, 23.0/30, refs[0].FinalScore, 1e-9)
}

func TestSelectReferencesCapsAtLimit(t *testing.T) {
	set := domain.CuratedSet{Category: "news"}
	for i := 0; i < 25; i++ {
		url := fmt.Sprintf("https://site%d.example.org/post", i)
		set.Documents = append(set.Documents, domain.Document{URL: url, NormalizedURL: url, FinalScore: 0.5})
	}

	refs := curation.SelectReferences([]domain.CuratedSet{set}, 0)
	require.Len(t, refs, curation.DefaultMaxReferences)
	require.Equal(t, "https://site0.example.org/post", refs[0].NormalizedURL)
}

func TestReferenceTitle(t *testing.T) {
	tests := []struct {
		name  string
		title string
		url   string
		want  string
	}{
		{name: "clean", title: ` "Annual Results." `, url: "https://acme.com/x", want: "Annual Results"},
		{name: "leading date", title: "2024-05-01 Quarterly update", url: "https://acme.com/x", want: "Quarterly update"},
		{name: "from path", title: "", url: "https://acme.com/news/food_waste-pledge.html", want: "News - Food Waste Pledge"},
		{name: "title equals url", title: "https://acme.com/about-us", url: "https://acme.com/about-us", want: "About Us"},
		{name: "fallback", title: "   ", url: "https://www.acme.com", want: "Information from acme.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, curation.ReferenceTitle(tt.title, tt.url, curation.DomainOf(tt.url)))
		})
	}
}

func TestReferenceTitleTruncatesLongPaths(t *testing.T) {
	url := "https://acme.com/" + strings.Repeat("word-", 40)
	title := curation.ReferenceTitle("", url, "acme.com")

	require.Len(t, []rune(title), 100)
	require.True(t, strings.HasSuffix(title, "..."))
}

func TestFormatReferences(t *testing.T) {
	out := curation.FormatReferences([]domain.ReferenceEntry{
		{NormalizedURL: "https://www.acme.co.uk/report", Title: "Impact Report", Domain: "acme.co.uk"},
	})

	require.Equal(t, "* Acme. \"Impact Report.\" https://www.acme.co.uk/report\n", out)
}
