package curation

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"CompanyResearcher/internal/domain"
)

const (
	// DefaultMaxReferences bounds the global citation list.
	DefaultMaxReferences = 10

	maxTitleLength = 100
)

var (
	leadingDate  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}\s*[-:|]?\s*`)
	pageSuffixes = []string{".html", ".htm", ".php", ".aspx", ".asp", ".pdf"}
	titleCaser   = cases.Title(language.English)
)

// SelectReferences pools every curated entry, ranks by score and keeps the best entry per URL.
func SelectReferences(sets []domain.CuratedSet, limit int) []domain.ReferenceEntry {
	if limit <= 0 {
		limit = DefaultMaxReferences
	}

	pool := make([]domain.Document, 0)
	for _, set := range sets {
		pool = append(pool, set.Documents...)
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].FinalScore > pool[j].FinalScore
	})

	refs := make([]domain.ReferenceEntry, 0, limit)
	seen := map[string]struct{}{}
	for _, doc := range pool {
		if len(refs) == limit {
			break
		}

		normalized := doc.NormalizedURL
		if normalized == "" {
			var err error
			if normalized, err = NormalizeURL(doc.URL); err != nil {
				continue
			}
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}

		host := DomainOf(normalized)
		refs = append(refs, domain.ReferenceEntry{
			NormalizedURL: normalized,
			Title:         ReferenceTitle(doc.Title, normalized, host),
			Domain:        host,
			FinalScore:    doc.FinalScore,
		})
	}

	return refs
}

// FormatReferences renders the citation list as markdown bullet lines.
func FormatReferences(refs []domain.ReferenceEntry) string {
	var b strings.Builder
	for _, ref := range refs {
		fmt.Fprintf(&b, "* %s. \"%s.\" %s\n", WebsiteName(ref.Domain), ref.Title, ref.NormalizedURL)
	}
	return b.String()
}

// ReferenceTitle returns a cleaned title, one synthesized from the url path, or a generic label.
func ReferenceTitle(title, rawURL, host string) string {
	if cleaned := cleanTitle(title); cleaned != "" && cleaned != rawURL {
		return cleaned
	}
	if synthesized := titleFromPath(rawURL); synthesized != "" {
		return synthesized
	}
	return "Information from " + host
}

// DomainOf returns the lower-cased host of a url without a www. prefix.
func DomainOf(rawURL string) string {
	parsed, err := url.Parse(WithScheme(rawURL))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(parsed.Hostname()), "www.")
}

// WebsiteName turns "example.co.uk" into "Example".
func WebsiteName(host string) string {
	label, _, _ := strings.Cut(strings.TrimPrefix(host, "www."), ".")
	if label == "" {
		return host
	}
	return strings.ToUpper(label[:1]) + label[1:]
}

func cleanTitle(title string) string {
	title = strings.TrimSpace(title)
	title = leadingDate.ReplaceAllString(title, "")
	title = strings.Trim(title, ". \"'“”")
	return strings.TrimSpace(title)
}

func titleFromPath(rawURL string) string {
	parsed, err := url.Parse(WithScheme(rawURL))
	if err != nil {
		return ""
	}
	p := strings.Trim(parsed.Path, "/")
	if p == "" {
		return ""
	}

	ext := strings.ToLower(path.Ext(p))
	for _, suffix := range pageSuffixes {
		if ext == suffix {
			p = strings.TrimSuffix(p, path.Ext(p))
			break
		}
	}

	p = strings.NewReplacer("-", " ", "_", " ", "/", " - ").Replace(p)
	p = strings.Join(strings.Fields(p), " ")
	if p == "" {
		return ""
	}

	title := titleCaser.String(p)
	if utf8.RuneCountInString(title) > maxTitleLength {
		runes := []rune(title)
		title = string(runes[:maxTitleLength-3]) + "..."
	}
	return title
}
