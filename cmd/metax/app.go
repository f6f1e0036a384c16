package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"slices"
	"time"

	"metax/internal/blob"
	"metax/internal/cache"
	"metax/internal/config"
	"metax/internal/core"
	"metax/internal/datacite"
	"metax/internal/files"
	"metax/internal/legacy"
	"metax/internal/locks"
	"metax/internal/logging"
	"metax/internal/observability"
	"metax/internal/pid"
	"metax/internal/refdata"
	"metax/internal/rems"
	"metax/internal/tasks"
	"metax/internal/v2sync"
	"metax/pkg/domain"
)

// app holds the wired services of one process.
type app struct {
	cfg      *config.Config
	log      logging.Logger
	store    domain.PersistentStore
	blobs    blob.Store
	metrics  *observability.Metrics
	runner   *tasks.Runner
	cache    *cache.Cache
	datacite *datacite.Builder
	core     *core.Service
	files    *files.Service
	syncer   *v2sync.Syncer
	rems     *rems.Service
	refdata  *refdata.Service
	migrator *legacy.Migrator
}

type dbStore interface {
	DB() *sql.DB
}

// newApp opens storage and builds every service. Observers are registered
// in the order DOI update, V2 sync, REMS, cache invalidation.
func newApp(ctx context.Context, cfg *config.Config, log logging.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, metrics: observability.NewMetrics(), datacite: datacite.NewBuilder(datacite.WithLogger(log))}

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.store = store
	if a.blobs, err = blob.Open(ctx, cfg.Blob); err != nil {
		a.close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	var locker locks.Locker = locks.NewLocal()
	if db, ok := store.(dbStore); ok && cfg.Storage.Driver == string(core.StoragePostgres) {
		locker = locks.NewPostgres(db.DB(), log)
	}

	a.runner = tasks.NewRunner(
		tasks.WithLogger(log),
		tasks.WithMetrics(a.metrics),
		tasks.WithWorkers(cfg.Tasks.Workers),
		tasks.WithBackground(cfg.Tasks.Background),
	)
	a.cache = cache.New(cfg.Cache.Size, log)
	a.metrics.RegisterCache(a.cache)

	minter := pid.NewMinter(cfg.PID,
		pid.WithLogger(log),
		pid.WithBuilder(a.datacite),
		pid.WithTotalSize(a.totalSize),
	)
	a.syncer = v2sync.NewSyncer(store, v2sync.NewClient(cfg.V2, log), locker, cfg.V2.Enabled,
		v2sync.WithLogger(log),
		v2sync.WithMetrics(a.metrics),
		v2sync.WithDispatch(a.runner.Run),
	)
	coreOpts := []core.Option{
		core.WithMinter(minter),
		core.WithLogger(log),
		core.WithMetrics(a.metrics),
		core.WithObserver(pid.DOIObserver(minter, log)),
		core.WithObserver(a.syncer),
	}
	if cfg.REMS.Enabled {
		a.rems = rems.NewService(store, rems.NewClient(cfg.REMS, log), locker, cfg.REMS.OrganizationID, cfg.REMS.ETSINURL,
			rems.WithLogger(log),
			rems.WithMetrics(a.metrics),
			rems.WithDispatch(a.runner.Run),
			rems.WithOrganizationAdmins(a.organizationAdmins),
		)
		coreOpts = append(coreOpts, core.WithObserver(a.rems))
	}
	coreOpts = append(coreOpts, core.WithObserver(a.cache))
	a.core = core.NewService(store, coreOpts...)
	a.files = files.NewService(store, files.WithLogger(log), files.WithMetrics(a.metrics))

	var sources []refdata.Source
	if cfg.Refdata.Sources != "" {
		if sources, err = refdata.LoadSources(cfg.Refdata.Sources); err != nil {
			log.Warnw("reference data sources unavailable", "path", cfg.Refdata.Sources, "error", err)
		}
	}
	a.refdata = refdata.NewService(store, sources, refdata.WithLogger(log))
	a.migrator = legacy.NewMigrator(a.core, a.blobs, legacy.WithLogger(log))
	return a, nil
}

// totalSize is the byte size of a dataset's file set.
func (a *app) totalSize(ctx context.Context, datasetID string) int64 {
	_, sum, err := a.core.GetFileSet(ctx, core.System, datasetID)
	if err != nil {
		return 0
	}
	return sum.TotalFilesSize
}

// organizationAdmins returns the configured token users of org that belong
// to the REMS handler group.
func (a *app) organizationAdmins(org string) []rems.Handler {
	var out []rems.Handler
	for _, tc := range a.cfg.Auth.Tokens {
		if tc.Organization == org && slices.Contains(tc.Groups, remsHandlerGroup) {
			out = append(out, rems.Handler{UserID: tc.User, Name: tc.User})
		}
	}
	return out
}

const remsHandlerGroup = "rems_handlers"

// watchman builds the health checks of the enabled integrations.
func (a *app) watchman() *observability.Watchman {
	w := &observability.Watchman{Storage: a.store, Timeout: 10 * time.Second, Log: a.log}
	if a.syncer.Enabled() {
		w.Sync = a.syncer
	}
	if a.rems != nil {
		w.REMS = a.rems
	}
	return w
}

// schedule registers the periodic jobs. render builds the cached dataset
// representation.
func (a *app) schedule(s *tasks.Scheduler, render cache.RenderFunc) error {
	if a.syncer.Enabled() {
		if err := s.Add(a.cfg.Tasks.RetrySyncSchedule, "retry_sync", func(ctx context.Context) error {
			report, err := a.syncer.Retry(ctx, v2sync.RetryOptions{})
			if err != nil {
				return err
			}
			a.log.Infow("retried v2 syncs", "outcomes", len(report.Outcomes), "failed", report.Failed)
			return nil
		}); err != nil {
			return err
		}
	}
	return s.Add(a.cfg.Tasks.CacheWarmSchedule, "warm_cache", func(ctx context.Context) error {
		n, err := a.cache.Warm(ctx, a.store, render)
		if err == nil && n > 0 {
			a.log.Infow("warmed dataset cache", "rendered", n)
		}
		return err
	})
}

func (a *app) close() {
	stop, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if a.runner != nil {
		if err := a.runner.Stop(stop); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			a.log.Warnw("stopping task runner", "error", err)
		}
	}
	if c, ok := a.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warnw("closing storage", "error", err)
		}
	}
	_ = a.log.Sync()
}
