package v2sync

import (
	"context"
	"time"

	"metax/pkg/domain"
)

// StuckAfter is how long a sync may run before the health check fails.
const StuckAfter = 5 * time.Minute

// Health summarizes V2 sync statuses for the health endpoint.
type Health struct {
	OK bool `json:"ok"`
	// Failed counts statuses with errors per action.
	Failed map[domain.SyncAction]int `json:"failed,omitempty"`
	// Stuck counts syncs started over StuckAfter ago that never stopped.
	Stuck int `json:"stuck,omitempty"`
}

// Check reports failing and stuck syncs.
func (s *Syncer) Check(ctx context.Context) (Health, error) {
	h := Health{OK: true, Failed: map[domain.SyncAction]int{}}
	if !s.enabled {
		return h, nil
	}
	now := s.nowFn()
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, st := range v.ListV2SyncStatuses() {
			switch st.Status() {
			case domain.SyncStatusFail:
				h.Failed[st.Action]++
				h.OK = false
			case domain.SyncStatusIncomplete:
				if now.Sub(st.SyncStarted) > StuckAfter {
					h.Stuck++
					h.OK = false
				}
			}
		}
		return nil
	})
	return h, err
}
