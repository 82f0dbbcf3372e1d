// Package stages holds the concrete research pipeline: one stage per step of the graph.
package stages

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"CompanyResearcher/internal/collector"
	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/curation"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/internal/ports"
)

// Stage names as reported to the progress tracker.
const (
	Grounding      = "grounding"
	Merge          = "merge"
	Curation       = "curation"
	Enrichment     = "enrichment"
	Synthesis      = "synthesis"
	Compilation    = "compilation"
	Classification = "classification"
	Sync           = "sync"

	collectPrefix = "collect_"
)

// CollectorStage returns the stage name of a category branch.
func CollectorStage(category domain.Category) string {
	return collectPrefix + string(category)
}

// Deps is everything the stages need. Nil adapters turn the matching step into a no-op.
type Deps struct {
	Categories     []config.CategoryConfig
	Pipeline       config.PipelineConfig
	Classification config.ClassificationConfig

	Collectors *collector.Registry
	Curator    *curation.Curator
	Crawler    ports.Crawler
	Extractor  ports.ContentExtractor
	Generator  ports.TextGenerator
	Archive    ports.ContextArchive
	RecordSync ports.RecordSync
	Logger     *slog.Logger
}

func (d Deps) categories() []domain.Category {
	out := make([]domain.Category, 0, len(d.Categories))
	for _, cat := range d.Categories {
		out = append(out, domain.Category(cat.Name))
	}
	return out
}

func (d Deps) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d.Logger
}

// ProgressOrder lists the stage groups in execution order; all collectors share one slot.
func ProgressOrder(categories []domain.Category) [][]string {
	collectors := make([]string, 0, len(categories))
	for _, cat := range categories {
		collectors = append(collectors, CollectorStage(cat))
	}
	return [][]string{
		{Grounding},
		collectors,
		{Merge},
		{Curation},
		{Enrichment},
		{Synthesis},
		{Compilation},
		{Classification},
		{Sync},
	}
}

// BuildGraph declares the research graph:
// grounding -> collectors -> merge -> curation -> enrichment -> synthesis -> compilation -> classification -> sync.
func BuildGraph(deps Deps) (*pipeline.Graph, error) {
	if deps.Collectors == nil {
		return nil, fmt.Errorf("build graph: collector registry is required")
	}
	if deps.Curator == nil {
		deps.Curator = curation.NewCurator(curation.DefaultOptions(), deps.Logger)
	}
	categories := deps.categories()
	if len(categories) == 0 {
		return nil, fmt.Errorf("build graph: no categories configured")
	}

	configured := make(map[domain.Category]bool, len(categories))
	for _, cat := range categories {
		configured[cat] = true
	}
	for _, cat := range deps.Collectors.Categories() {
		if !configured[cat] {
			deps.logger().Warn("collector registered for an unconfigured category, not scheduled", "category", cat)
		}
	}

	stages := []pipeline.Stage{newGroundingStage(deps)}
	var edges []pipeline.Edge
	for _, cat := range categories {
		c, err := deps.Collectors.Resolve(cat)
		if err != nil {
			return nil, fmt.Errorf("build graph: %w", err)
		}
		st := newCollectStage(c)
		stages = append(stages, st)
		edges = append(edges,
			pipeline.Edge{From: Grounding, To: st.Name},
			pipeline.Edge{From: st.Name, To: Merge},
		)
	}

	chain := []pipeline.Stage{
		newMergeStage(deps),
		newCurationStage(deps),
		newEnrichmentStage(deps),
		newSynthesisStage(deps),
		newCompilationStage(deps),
		newClassificationStage(deps),
		newSyncStage(deps),
	}
	for i, st := range chain {
		stages = append(stages, st)
		if i > 0 {
			edges = append(edges, pipeline.Edge{From: chain[i-1].Name, To: st.Name})
		}
	}

	if timeout := deps.Pipeline.StageTimeout; timeout > 0 {
		for i := range stages {
			stages[i].Run = bounded(timeout, stages[i].Run)
		}
	}

	return pipeline.NewGraph(stages, edges)
}

func bounded(timeout time.Duration, run pipeline.StageFunc) pipeline.StageFunc {
	return func(ctx context.Context, state domain.State) pipeline.Result {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return run(ctx, state)
	}
}
