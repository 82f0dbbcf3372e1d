package stages

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/sourcegraph/conc/pool"

	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/curation"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/pkg/logger"
)

const (
	defaultMaxDocumentLength = 8000
	defaultMaxContextLength  = 120000
	truncatedMarker          = "... [content truncated]"
)

var documentSeparator = "\n" + strings.Repeat("-", 40) + "\n"

func newSynthesisStage(deps Deps) pipeline.Stage {
	categories := deps.Categories
	generator := deps.Generator
	limit := deps.Pipeline.SynthesisConcurrency
	if limit <= 0 {
		limit = 3
	}
	maxDoc := deps.Pipeline.MaxDocumentLength
	if maxDoc <= 0 {
		maxDoc = defaultMaxDocumentLength
	}
	maxTotal := deps.Pipeline.MaxContextLength
	if maxTotal <= 0 {
		maxTotal = defaultMaxContextLength
	}

	neutral := func() domain.StateUpdate {
		briefings := make(map[domain.Category]string, len(categories))
		for _, cat := range categories {
			briefings[domain.Category(cat.Name)] = ""
		}
		return domain.StateUpdate{Briefings: briefings}
	}

	return pipeline.Stage{
		Name:     Synthesis,
		Fallback: neutral,
		Run: func(ctx context.Context, state domain.State) pipeline.Result {
			log := logger.FromContext(ctx)
			if generator == nil {
				return pipeline.Failed(neutral(), "no text generator configured")
			}

			var (
				mu        sync.Mutex
				briefings = neutral().Briefings
				failed    []domain.Category
			)
			p := pool.New().WithMaxGoroutines(limit)
			for _, cat := range categories {
				category := domain.Category(cat.Name)
				docs := state.Curated[category].Documents
				if len(docs) == 0 {
					log.Info("briefing skipped, no documents", "category", category)
					continue
				}

				p.Go(func() {
					var text string
					err := pipeline.Guard(func() (err error) {
						text, err = briefCategory(ctx, state, cat, docs, maxDoc, maxTotal, generator.Generate)
						return err
					})
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						log.Warn("briefing failed", "category", category, "error", err)
						failed = append(failed, category)
						return
					}
					briefings[category] = text
					log.Info("briefing generated", "category", category, "length", len(text))
				})
			}
			p.Wait()

			update := domain.StateUpdate{Briefings: briefings}
			if len(failed) > 0 {
				sort.Slice(failed, func(i, j int) bool { return failed[i] < failed[j] })
				return pipeline.Failed(update, "briefing failed for: %s", joinCategories(failed))
			}
			return pipeline.Succeeded(update)
		},
	}
}

func briefCategory(
	ctx context.Context,
	state domain.State,
	cat config.CategoryConfig,
	docs []domain.Document,
	maxDoc, maxTotal int,
	generate func(context.Context, string) (string, error),
) (string, error) {
	evidence := BuildContext(docs, state.Extracted, maxDoc, maxTotal)
	if evidence == "" {
		return "", fmt.Errorf("no document content")
	}

	text, err := generate(ctx, briefingPrompt(state.Input, cat, evidence))
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("empty generator output")
	}
	return text, nil
}

// BuildContext ranks documents by score and renders them into one evidence block. Each
// document is cut to maxDoc characters and the block stops before it would reach maxTotal.
func BuildContext(docs []domain.Document, extracted map[string]string, maxDoc, maxTotal int) string {
	ranked := make([]domain.Document, len(docs))
	copy(ranked, docs)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].FinalScore > ranked[j].FinalScore })

	var entries []string
	total := 0
	for _, doc := range ranked {
		content := truncate(contentOf(doc, extracted), maxDoc)
		source := doc.URL
		if source == "" {
			source = doc.NormalizedURL
		}
		entry := fmt.Sprintf("Source URL: %s\nTitle: %s\n\nContent: %s", source, doc.Title, content)

		size := len(entry) + len(documentSeparator)
		if total+size >= maxTotal {
			break
		}
		entries = append(entries, entry)
		total += size
	}
	return strings.Join(entries, documentSeparator)
}

func truncate(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + truncatedMarker
}

func briefingPrompt(input domain.JobInput, cat config.CategoryConfig, evidence string) string {
	instruction := cat.BriefingPrompt
	if instruction == "" {
		instruction = fmt.Sprintf("Create a focused research briefing on %s.", cat.Label)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Company: %s\n", input.Company)
	if input.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", input.Industry)
	}
	if input.Location != "" {
		fmt.Fprintf(&b, "Location: %s\n", input.Location)
	}
	fmt.Fprintf(&b, "\n%s\n", instruction)
	b.WriteString("Use only facts found in the documents below. Write markdown bullet points, no preamble.\n")
	b.WriteString("\n---\nDocuments for Analysis:\n")
	b.WriteString(evidence)
	b.WriteString("\n---\n")
	return b.String()
}

func newCompilationStage(deps Deps) pipeline.Stage {
	categories := deps.Categories
	neutral := func() domain.StateUpdate {
		empty := ""
		return domain.StateUpdate{Report: &empty}
	}

	return pipeline.Stage{
		Name:     Compilation,
		Fallback: neutral,
		Run: func(ctx context.Context, state domain.State) pipeline.Result {
			report := CompileReport(state.Input.Company, categories, state.Briefings, state.References)
			if report == "" {
				return pipeline.Failed(neutral(), "no briefings to compile")
			}
			logger.FromContext(ctx).Info("report compiled", "length", len(report), "references", len(state.References))
			return pipeline.Succeeded(domain.StateUpdate{Report: &report})
		},
	}
}

// CompileReport assembles the markdown report. It returns "" when no briefing has content.
func CompileReport(company string, categories []config.CategoryConfig, briefings map[domain.Category]string, refs []domain.ReferenceEntry) string {
	var sections strings.Builder
	for _, cat := range categories {
		text := strings.TrimSpace(briefings[domain.Category(cat.Name)])
		if text == "" {
			continue
		}
		label := cat.Label
		if label == "" {
			label = cat.Name
		}
		fmt.Fprintf(&sections, "## %s\n\n%s\n\n", label, text)
	}
	if sections.Len() == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s Research Report\n\n", company)
	b.WriteString(sections.String())
	if len(refs) > 0 {
		b.WriteString("## References\n\n")
		b.WriteString(curation.FormatReferences(refs))
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
