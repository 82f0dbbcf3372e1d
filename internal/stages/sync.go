package stages

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"CompanyResearcher/internal/domain"
	"CompanyResearcher/internal/pipeline"
	"CompanyResearcher/pkg/logger"
)

func newSyncStage(deps Deps) pipeline.Stage {
	categories := deps.categories()
	archive := deps.Archive
	records := deps.RecordSync

	neutral := func() domain.StateUpdate {
		empty := ""
		return domain.StateUpdate{SyncReceipt: &empty}
	}

	return pipeline.Stage{
		Name:     Sync,
		Fallback: neutral,
		Run: func(ctx context.Context, state domain.State) pipeline.Result {
			log := logger.FromContext(ctx)
			var errs []error

			if archive != nil {
				var docs []domain.Document
				for _, set := range state.CuratedSets(categories) {
					docs = append(docs, set.Documents...)
				}
				if len(docs) > 0 {
					if err := archive.ArchiveContext(ctx, state.JobID, state.Input.Company, docs); err != nil {
						errs = append(errs, fmt.Errorf("archive context: %w", err))
					} else {
						log.Info("context archived", "documents", len(docs))
					}
				}
			}

			receipt := ""
			if records != nil && strings.TrimSpace(state.Report) != "" {
				id, err := records.UpsertReport(ctx, domain.SyncRecord{
					RecordID:       state.Input.RecordID,
					JobID:          state.JobID,
					Company:        state.Input.Company,
					Report:         state.Report,
					Classification: state.Classification,
					References:     state.References,
				})
				if err != nil {
					errs = append(errs, fmt.Errorf("upsert report: %w", err))
				} else {
					receipt = id
					log.Info("report synced", "record_id", id)
				}
			}

			update := domain.StateUpdate{SyncReceipt: &receipt}
			if err := errors.Join(errs...); err != nil {
				return pipeline.Failed(update, "%v", err)
			}
			return pipeline.Succeeded(update)
		},
	}
}
