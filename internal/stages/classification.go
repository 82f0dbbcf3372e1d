package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"CompanyResearcher/internal/config"
	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/pkg/logger"
)

const (
	classificationContextLimit = 12000
	defaultMaxIndustries       = 3
)

func newClassificationStage(deps Deps) pipeline.Stage {
	rules := deps.Classification
	if rules.MaxIndustries <= 0 {
		rules.MaxIndustries = defaultMaxIndustries
	}
	generator := deps.Generator

	neutral := func() domain.StateUpdate {
		return domain.StateUpdate{Classification: &domain.Classification{}}
	}

	return pipeline.Stage{
		Name:     Classification,
		Fallback: neutral,
		Run: func(ctx context.Context, state domain.State) pipeline.Result {
			log := logger.FromContext(ctx)
			if generator == nil || strings.TrimSpace(state.Report) == "" {
				log.Info("classification skipped")
				return pipeline.Succeeded(neutral())
			}

			result, err := Classify(ctx, state.Input, state.Report, rules, generator.Generate)
			update := domain.StateUpdate{Classification: &result}
			if err != nil {
				return pipeline.Failed(update, "classify: %v", err)
			}
			log.Info("company classified", "industries", result.Industries, "region", result.Region, "revenue_band", result.RevenueBand)
			return pipeline.Succeeded(update)
		},
	}
}

// Classify asks the generator for industries, region and revenue band. Answers that are
// not on the configured option lists are dropped; failed questions leave their field empty.
func Classify(
	ctx context.Context,
	input domain.JobInput,
	report string,
	rules config.ClassificationConfig,
	generate func(context.Context, string) (string, error),
) (domain.Classification, error) {
	evidence := report
	if input.Location != "" {
		evidence = fmt.Sprintf("## Location Context\n* Headquarters: %s\n\n%s", input.Location, evidence)
	}
	if len(evidence) > classificationContextLimit {
		evidence = truncate(evidence, classificationContextLimit)
	}

	type question struct {
		field   string
		options []string
		prompt  string
	}
	var questions []question
	if len(rules.Industries) > 0 {
		questions = append(questions, question{"industries", rules.Industries, classificationPrompt(input.Company, evidence,
			fmt.Sprintf("Select up to %d relevant industries. Output the names separated by commas.", rules.MaxIndustries),
			rules.Industries)})
	}
	if len(rules.Regions) > 0 {
		questions = append(questions, question{"region", rules.Regions, classificationPrompt(input.Company, evidence,
			"Select the single primary region of operation. Output only its name.", rules.Regions)})
	}
	if len(rules.RevenueBands) > 0 {
		questions = append(questions, question{"revenue_band", rules.RevenueBands, classificationPrompt(input.Company, evidence,
			"Estimate the annual revenue band. Output exactly one option.", rules.RevenueBands)})
	}

	answers := make([][]string, len(questions))
	errs := make([]error, len(questions))
	p := pool.New()
	for i, q := range questions {
		p.Go(func() {
			var text string
			err := pipeline.Guard(func() (err error) {
				text, err = generate(ctx, q.prompt)
				return err
			})
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", q.field, err)
				return
			}
			answers[i] = MatchOptions(text, q.options)
		})
	}
	p.Wait()

	var out domain.Classification
	for i, q := range questions {
		picked := answers[i]
		switch q.field {
		case "industries":
			if len(picked) > rules.MaxIndustries {
				picked = picked[:rules.MaxIndustries]
			}
			out.Industries = picked
		case "region":
			if len(picked) > 0 {
				out.Region = picked[0]
			}
		case "revenue_band":
			if len(picked) > 0 {
				out.RevenueBand = picked[0]
			}
		}
	}
	return out, errors.Join(errs...)
}

func classificationPrompt(company, evidence, task string, options []string) string {
	return fmt.Sprintf(`Analyze the following company information for %q:
--- START COMPANY INFO ---
%s
--- END COMPANY INFO ---
Based only on the information provided: %s
If nothing fits, output "None".
Available options: %s
`, company, evidence, task, strings.Join(options, ", "))
}

// MatchOptions splits a comma or newline separated answer and keeps the entries found in
// options, case-insensitively, in answer order and without duplicates.
func MatchOptions(answer string, options []string) []string {
	canonical := make(map[string]string, len(options))
	for _, opt := range options {
		canonical[strings.ToLower(strings.TrimSpace(opt))] = opt
	}

	var picked []string
	seen := map[string]struct{}{}
	fields := strings.FieldsFunc(answer, func(r rune) bool { return r == ',' || r == '\n' || r == ';' })
	for _, field := range fields {
		field = strings.TrimSpace(listMarkerPrefix(field))
		field = strings.Trim(field, `"'*. `)
		opt, ok := canonical[strings.ToLower(field)]
		if !ok {
			continue
		}
		if _, dup := seen[opt]; dup {
			continue
		}
		seen[opt] = struct{}{}
		picked = append(picked, opt)
	}
	return picked
}

func listMarkerPrefix(s string) string {
	s = strings.TrimSpace(s)
	for _, marker := range []string{"- ", "* ", "• "} {
		s = strings.TrimPrefix(s, marker)
	}
	return s
}
