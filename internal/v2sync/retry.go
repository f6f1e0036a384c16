package v2sync

import (
	"context"
	"errors"
	"slices"
	"time"

	"metax/internal/locks"
	"metax/pkg/domain"
)

// RetryOptions select the statuses retried by Retry.
type RetryOptions struct {
	// Identifiers limits the retry to these datasets.
	Identifiers []string
	// Force resyncs the listed datasets even when their last sync
	// succeeded. Datasets without a status get an update sync.
	Force bool
	// CleanMissing deletes statuses of datasets that no longer exist.
	CleanMissing bool
}

// RetryOutcome is the result of one retried sync.
type RetryOutcome struct {
	DatasetID string
	Action    domain.SyncAction
	Duration  time.Duration
	Error     string
	Skipped   string
}

// RetryReport summarizes a Retry run.
type RetryReport struct {
	// Failed counts the selected failed or incomplete statuses per action.
	Failed   map[domain.SyncAction]int
	Outcomes []RetryOutcome
	Missing  []string
	Cleaned  int
}

// ErrForceWithoutIdentifiers is returned when Force is set without identifiers.
var ErrForceWithoutIdentifiers = errors.New("force requires identifiers")

func (s *Syncer) selectStatuses(ctx context.Context, opts RetryOptions) ([]domain.V2SyncStatus, map[domain.SyncAction]int, error) {
	var statuses []domain.V2SyncStatus
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		statuses = v.ListV2SyncStatuses()
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	if len(opts.Identifiers) > 0 {
		statuses = slices.DeleteFunc(statuses, func(st domain.V2SyncStatus) bool {
			return !slices.Contains(opts.Identifiers, st.ID)
		})
	}
	failed := map[domain.SyncAction]int{}
	if opts.Force {
		for _, id := range opts.Identifiers {
			if !slices.ContainsFunc(statuses, func(st domain.V2SyncStatus) bool { return st.ID == id }) {
				statuses = append(statuses, domain.V2SyncStatus{Base: domain.Base{ID: id}, Action: domain.SyncUpdate})
			}
		}
		return statuses, failed, nil
	}
	statuses = slices.DeleteFunc(statuses, func(st domain.V2SyncStatus) bool {
		return st.Status() == domain.SyncStatusSuccess
	})
	for _, st := range statuses {
		failed[st.Action]++
	}
	return statuses, failed, nil
}

// Retry resyncs failed and incomplete syncs, or the listed datasets when
// forced. Datasets locked by a running sync are skipped.
func (s *Syncer) Retry(ctx context.Context, opts RetryOptions) (RetryReport, error) {
	if opts.Force && len(opts.Identifiers) == 0 {
		return RetryReport{}, ErrForceWithoutIdentifiers
	}
	statuses, failed, err := s.selectStatuses(ctx, opts)
	if err != nil {
		return RetryReport{}, err
	}
	slices.SortFunc(statuses, func(a, b domain.V2SyncStatus) int { return a.SyncStarted.Compare(b.SyncStarted) })
	report := RetryReport{Failed: failed}

	for _, st := range statuses {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		out := RetryOutcome{DatasetID: st.ID, Action: st.Action}
		exists := false
		_ = s.store.View(ctx, func(v domain.TransactionView) error {
			_, exists = v.FindDataset(st.ID)
			return nil
		})
		if !exists && st.Action != domain.SyncDelete && st.Action != domain.SyncFlush {
			out.Skipped = "dataset does not exist"
			report.Missing = append(report.Missing, st.ID)
			report.Outcomes = append(report.Outcomes, out)
			continue
		}
		release, ok, err := s.locker.TryLock(ctx, locks.SyncDataset, st.ID)
		if err != nil {
			return report, err
		}
		if !ok {
			out.Skipped = "dataset is locked for syncing"
			report.Outcomes = append(report.Outcomes, out)
			continue
		}
		started := time.Now()
		if err := s.sync(ctx, st.ID, st.Action, true); err != nil {
			out.Error = err.Error()
		}
		out.Duration = time.Since(started)
		release()
		report.Outcomes = append(report.Outcomes, out)
	}

	if opts.CleanMissing && len(report.Missing) > 0 {
		cleaned := 0
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			cleaned = 0
			for _, id := range report.Missing {
				// Forced identifiers may never have had a stored status.
				if _, ok := tx.FindV2SyncStatus(id); !ok {
					continue
				}
				if err := tx.DeleteV2SyncStatus(id); err != nil {
					return err
				}
				cleaned++
			}
			return nil
		})
		if err != nil {
			return report, err
		}
		report.Cleaned = cleaned
	}
	return report, nil
}
