package stages

import (
	"context"
	"net/url"
	"strings"

	"CompanyResearcher/internal/collector"
	"CompanyResearcher/internal/curation"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/pkg/logger"
)

func newGroundingStage(deps Deps) pipeline.Stage {
	crawler := deps.Crawler
	neutral := func() domain.StateUpdate {
		return domain.StateUpdate{SiteScrape: []domain.Document{}}
	}

	return pipeline.Stage{
		Name:     Grounding,
		Fallback: neutral,
		Run: func(ctx context.Context, state domain.State) pipeline.Result {
			log := logger.FromContext(ctx)
			target := state.Input.URL
			if target == "" || crawler == nil {
				log.Info("site crawl skipped", "url", target)
				return pipeline.Succeeded(neutral())
			}

			docs, err := crawler.Crawl(ctx, target)
			pages := make([]domain.Document, 0, len(docs))
			for _, doc := range docs {
				doc.SourceKind = domain.SourceFirstParty
				pages = append(pages, doc)
			}
			if err != nil {
				return pipeline.Failed(domain.StateUpdate{SiteScrape: pages}, "crawl %s: %v", target, err)
			}

			log.Info("site crawled", "url", target, "pages", len(pages))
			return pipeline.Succeeded(domain.StateUpdate{SiteScrape: pages})
		},
	}
}

func newCollectStage(c collector.Collector) pipeline.Stage {
	cat := c.Category()
	neutral := func() domain.StateUpdate {
		return domain.StateUpdate{Raw: map[domain.Category][]domain.Document{cat: {}}}
	}

	return pipeline.Stage{
		Name:     CollectorStage(cat),
		Fallback: neutral,
		Run: func(ctx context.Context, state domain.State) pipeline.Result {
			docs, err := c.Collect(ctx, collector.Request{
				Input:      state.Input,
				CompanyURL: state.CompanyURL(),
				SiteScrape: state.SiteScrape,
			})

			raw := make([]domain.Document, 0, len(docs))
			for _, doc := range docs {
				doc.Category = cat
				raw = append(raw, doc)
			}
			update := domain.StateUpdate{Raw: map[domain.Category][]domain.Document{cat: raw}}
			if err != nil {
				return pipeline.Failed(update, "collect %s: %v", cat, err)
			}

			logger.FromContext(ctx).Info("category collected", "category", cat, "documents", len(raw))
			return pipeline.Succeeded(update)
		},
	}
}

func newMergeStage(deps Deps) pipeline.Stage {
	categories := deps.categories()
	neutral := func() domain.StateUpdate {
		empty := ""
		return domain.StateUpdate{InferredURL: &empty}
	}

	return pipeline.Stage{
		Name:     Merge,
		Fallback: neutral,
		Run: func(ctx context.Context, state domain.State) pipeline.Result {
			log := logger.FromContext(ctx)

			total := 0
			for _, cat := range categories {
				n := len(state.Raw[cat])
				total += n
				log.Info("raw documents", "category", cat, "count", n)
			}

			inferred := ""
			if state.Input.URL == "" {
				inferred = inferCompanyURL(state, categories)
				if inferred != "" {
					log.Info("company url inferred", "url", inferred)
				}
			}
			return pipeline.Succeeded(domain.StateUpdate{InferredURL: &inferred})
		},
	}
}

// inferCompanyURL picks the site root of the best first-party hit, falling back to the
// best search hit overall.
func inferCompanyURL(state domain.State, categories []domain.Category) string {
	var best, bestFirstParty *domain.Document
	for _, doc := range state.SiteScrape {
		if bestFirstParty == nil || doc.BaseScore > bestFirstParty.BaseScore {
			bestFirstParty = &doc
		}
	}
	for _, cat := range categories {
		for _, doc := range state.Raw[cat] {
			if doc.SourceKind == domain.SourceFirstParty {
				if bestFirstParty == nil || doc.BaseScore > bestFirstParty.BaseScore {
					bestFirstParty = &doc
				}
				continue
			}
			if best == nil || doc.BaseScore > best.BaseScore {
				best = &doc
			}
		}
	}

	if bestFirstParty != nil {
		best = bestFirstParty
	}
	if best == nil {
		return ""
	}
	return siteRoot(best.URL)
}

func siteRoot(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(curation.WithScheme(raw))
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}
