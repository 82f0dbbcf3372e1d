package collector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/sourcegraph/conc/pool"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/internal/ports"
	"CompanyResearcher/pkg/logger"
)

var listMarker = regexp.MustCompile(`^\s*(\d+[.)]|[-*•])\s*`)

// QuerySpec configures a search-driven collector.
type QuerySpec struct {
	Category          domain.Category
	Label             string
	Templates         []string
	Topic             string
	IncludeSiteScrape bool
	GeneratedQueries  int
	MaxContentLength  int
}

// QueryCollector renders query templates, optionally asks the LLM for more, and runs them.
type QueryCollector struct {
	spec      QuerySpec
	searcher  ports.Searcher
	generator ports.TextGenerator
}

var _ Collector = (*QueryCollector)(nil)

// NewQueryCollector wires a search backend; generator may be nil.
func NewQueryCollector(spec QuerySpec, searcher ports.Searcher, generator ports.TextGenerator) *QueryCollector {
	return &QueryCollector{spec: spec, searcher: searcher, generator: generator}
}

// Category identifies the collector inside the registry.
func (c *QueryCollector) Category() domain.Category {
	return c.spec.Category
}

// Collect returns site pages (when enabled) followed by search hits in query order.
// A non-nil error with documents means some queries failed.
func (c *QueryCollector) Collect(ctx context.Context, req Request) ([]domain.Document, error) {
	log := logger.FromContext(ctx)

	var docs []domain.Document
	if c.spec.IncludeSiteScrape {
		for _, doc := range req.SiteScrape {
			docs = append(docs, c.prepare(doc, domain.SourceFirstParty))
		}
	}

	if c.searcher == nil {
		return docs, nil
	}

	queries := RenderQueries(c.spec.Templates, req.Input)
	if c.generator != nil && c.spec.GeneratedQueries > 0 {
		extra, err := c.planQueries(ctx, req.Input)
		if err != nil {
			log.Warn("query planning failed", "category", c.spec.Category, "error", err)
		}
		queries = mergeQueries(queries, extra)
	}
	if len(queries) == 0 {
		return docs, nil
	}

	results := make([][]domain.Document, len(queries))
	errs := make([]error, len(queries))
	p := pool.New()
	for i, query := range queries {
		p.Go(func() {
			var hits []domain.Document
			err := pipeline.Guard(func() (err error) {
				hits, err = c.searcher.Search(ctx, ports.SearchRequest{Query: query, Category: c.spec.Category, Topic: c.spec.Topic})
				return err
			})
			if err != nil {
				errs[i] = fmt.Errorf("search %q: %w", query, err)
				return
			}
			results[i] = hits
		})
	}
	p.Wait()

	for _, hits := range results {
		for _, hit := range hits {
			docs = append(docs, c.prepare(hit, domain.SourceWebSearch))
		}
	}

	log.Debug("collected documents", "category", c.spec.Category, "queries", len(queries), "documents", len(docs))
	return docs, errors.Join(errs...)
}

func (c *QueryCollector) prepare(doc domain.Document, kind domain.SourceKind) domain.Document {
	doc.Category = c.spec.Category
	if doc.SourceKind == "" {
		doc.SourceKind = kind
	}
	if limit := c.spec.MaxContentLength; limit > 0 && len(doc.Content) > limit {
		doc.Content = truncateUTF8(doc.Content, limit)
	}
	return doc
}

func (c *QueryCollector) planQueries(ctx context.Context, in domain.JobInput) ([]string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Write %d web search queries to research %q for the section %q.\n", c.spec.GeneratedQueries, in.Company, c.spec.Label)
	if in.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s.\n", in.Industry)
	}
	if in.Location != "" {
		fmt.Fprintf(&b, "Location: %s.\n", in.Location)
	}
	b.WriteString("Return one query per line without numbering or commentary.")

	answer, err := c.generator.Generate(ctx, b.String())
	if err != nil {
		return nil, fmt.Errorf("generate queries: %w", err)
	}

	var out []string
	for _, line := range strings.Split(answer, "\n") {
		line = listMarker.ReplaceAllString(line, "")
		line = strings.Trim(strings.TrimSpace(line), `"`)
		if line != "" {
			out = append(out, line)
		}
		if len(out) == c.spec.GeneratedQueries {
			break
		}
	}
	return out, nil
}

// RenderQueries substitutes {company}, {industry} and {location} and drops empty results.
func RenderQueries(templates []string, in domain.JobInput) []string {
	r := strings.NewReplacer("{company}", in.Company, "{industry}", in.Industry, "{location}", in.Location)
	out := make([]string, 0, len(templates))
	for _, tpl := range templates {
		q := strings.Join(strings.Fields(r.Replace(tpl)), " ")
		if q != "" {
			out = append(out, q)
		}
	}
	return mergeQueries(nil, out)
}

func mergeQueries(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, q := range slices.Concat(base, extra) {
		key := strings.ToLower(q)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	return out
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
