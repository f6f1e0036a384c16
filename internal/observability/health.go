package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"metax/internal/logging"
	"metax/internal/v2sync"
)

// Pinger checks storage connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SyncChecker reports V2 sync health.
type SyncChecker interface {
	Check(ctx context.Context) (v2sync.Health, error)
}

// PublishErrorCounter counts datasets whose REMS publish failed.
type PublishErrorCounter interface {
	PublishErrors(ctx context.Context) (int, error)
}

// Check is the outcome of one watchman check.
type Check struct {
	OK    bool   `json:"ok"`
	Fails any    `json:"fails,omitempty"`
	Error string `json:"error,omitempty"`
}

// Report is the watchman response body.
type Report struct {
	Databases   []map[string]Check `json:"databases"`
	SyncToV2    *Check             `json:"sync_to_v2,omitempty"`
	REMSPublish *Check             `json:"rems_publish,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool {
	for _, db := range r.Databases {
		for _, c := range db {
			if !c.OK {
				return false
			}
		}
	}
	return (r.SyncToV2 == nil || r.SyncToV2.OK) && (r.REMSPublish == nil || r.REMSPublish.OK)
}

// Watchman runs the health checks. The sync and REMS checks are optional.
type Watchman struct {
	Storage Pinger
	Sync    SyncChecker
	REMS    PublishErrorCounter
	Timeout time.Duration
	Log     logging.Logger
}

// Run executes all checks concurrently.
func (w *Watchman) Run(ctx context.Context) Report {
	if w.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}
	var (
		report Report
		db     Check
		sync   Check
		rems   Check
	)
	var g errgroup.Group
	g.Go(func() error {
		db = Check{OK: true}
		if err := w.Storage.Ping(ctx); err != nil {
			db = Check{OK: false, Error: err.Error()}
		}
		return nil
	})
	if w.Sync != nil {
		g.Go(func() error {
			h, err := w.Sync.Check(ctx)
			switch {
			case err != nil:
				sync = Check{Error: err.Error()}
			case h.OK:
				sync = Check{OK: true}
			default:
				fails := map[string]int{}
				for action, n := range h.Failed {
					fails[string(action)] = n
				}
				if h.Stuck > 0 {
					fails["stuck"] = h.Stuck
				}
				sync = Check{Fails: fails}
			}
			return nil
		})
	}
	if w.REMS != nil {
		g.Go(func() error {
			n, err := w.REMS.PublishErrors(ctx)
			switch {
			case err != nil:
				rems = Check{Error: err.Error()}
			case n > 0:
				rems = Check{Fails: n}
			default:
				rems = Check{OK: true}
			}
			return nil
		})
	}
	_ = g.Wait()

	report.Databases = []map[string]Check{{"default": db}}
	if w.Sync != nil {
		report.SyncToV2 = &sync
	}
	if w.REMS != nil {
		report.REMSPublish = &rems
	}
	if !report.OK() {
		logging.OrNop(w.Log).Warnw("health check failed", "report", report)
	}
	return report
}

// ServeHTTP writes the report, with status 500 when a check fails.
func (w *Watchman) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	report := w.Run(r.Context())
	rw.Header().Set("Content-Type", "application/json")
	if !report.OK() {
		rw.WriteHeader(http.StatusInternalServerError)
	}
	_ = json.NewEncoder(rw).Encode(report)
}
