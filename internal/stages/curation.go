package stages

import (
	"context"
	"strings"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"CompanyResearcher/internal/curation"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/pkg/logger"
)

func newCurationStage(deps Deps) pipeline.Stage {
	categories := deps.categories()
	curator := deps.Curator
	limit := deps.Pipeline.MaxReferences

	neutral := func() domain.StateUpdate {
		curated := make(map[domain.Category]domain.CuratedSet, len(categories))
		for _, cat := range categories {
			curated[cat] = domain.CuratedSet{Category: cat, Documents: []domain.Document{}}
		}
		return domain.StateUpdate{Curated: curated, References: []domain.ReferenceEntry{}}
	}

	return pipeline.Stage{
		Name:     Curation,
		Fallback: neutral,
		Run: func(ctx context.Context, state domain.State) pipeline.Result {
			curated := make(map[domain.Category]domain.CuratedSet, len(categories))
			sets := make([]domain.CuratedSet, 0, len(categories))
			kept := 0
			for _, cat := range categories {
				set := curator.Curate(state.Raw[cat], cat)
				curated[cat] = set
				sets = append(sets, set)
				kept += len(set.Documents)
			}

			refs := curation.SelectReferences(sets, limit)
			logger.FromContext(ctx).Info("curation finished", "documents", kept, "references", len(refs))
			return pipeline.Succeeded(domain.StateUpdate{Curated: curated, References: refs})
		},
	}
}

func newEnrichmentStage(deps Deps) pipeline.Stage {
	categories := deps.categories()
	extractor := deps.Extractor
	limit := deps.Pipeline.EnrichmentConcurrency
	if limit <= 0 {
		limit = 10
	}
	minContent := deps.Pipeline.MinSubstantiveContent

	neutral := func() domain.StateUpdate {
		return domain.StateUpdate{Extracted: map[string]string{}}
	}

	return pipeline.Stage{
		Name:     Enrichment,
		Fallback: neutral,
		Run: func(ctx context.Context, state domain.State) pipeline.Result {
			log := logger.FromContext(ctx)
			if extractor == nil {
				return pipeline.Succeeded(neutral())
			}

			var targets []string
			seen := map[string]struct{}{}
			for _, set := range state.CuratedSets(categories) {
				for _, doc := range set.Documents {
					if len(strings.TrimSpace(doc.Content)) >= minContent {
						continue
					}
					key := doc.NormalizedURL
					if key == "" {
						key = doc.URL
					}
					if _, dup := seen[key]; dup {
						continue
					}
					seen[key] = struct{}{}
					targets = append(targets, key)
				}
			}
			if len(targets) == 0 {
				return pipeline.Succeeded(neutral())
			}

			var (
				mu        sync.Mutex
				extracted = make(map[string]string, len(targets))
				failed    int
			)
			p := pool.New().WithMaxGoroutines(limit)
			for _, target := range targets {
				p.Go(func() {
					var text string
					err := pipeline.Guard(func() (err error) {
						text, err = extractor.ExtractContent(ctx, target)
						return err
					})
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						failed++
						log.Debug("extract content failed", "url", target, "error", err)
						return
					}
					if text = strings.TrimSpace(text); text != "" {
						extracted[target] = text
					}
				})
			}
			p.Wait()

			log.Info("enrichment finished", "requested", len(targets), "extracted", len(extracted), "failed", failed)
			update := domain.StateUpdate{Extracted: extracted}
			if failed == len(targets) {
				return pipeline.Failed(update, "all %d content fetches failed", failed)
			}
			return pipeline.Succeeded(update)
		},
	}
}

// contentOf prefers extracted page text when it is longer than the search snippet.
func contentOf(doc domain.Document, extracted map[string]string) string {
	key := doc.NormalizedURL
	if key == "" {
		key = doc.URL
	}
	if text, ok := extracted[key]; ok && len(text) > len(doc.Content) {
		return text
	}
	return doc.Content
}

func joinCategories(cats []domain.Category) string {
	parts := make([]string, len(cats))
	for i, c := range cats {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
