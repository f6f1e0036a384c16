package v2sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"metax/internal/core"
	"metax/internal/locks"
	"metax/internal/logging"
	"metax/pkg/domain"
)

// Option customizes a Syncer.
type Option func(*Syncer)

// WithLogger sets the syncer logger.
func WithLogger(l logging.Logger) Option { return func(s *Syncer) { s.log = logging.OrNop(l) } }

// WithClock overrides the time source of status timestamps.
func WithClock(now func() time.Time) Option { return func(s *Syncer) { s.nowFn = now } }

// WithMetrics records one observation per sync attempt.
func WithMetrics(m core.MetricsRecorder) Option { return func(s *Syncer) { s.metrics = m } }

// WithDispatch runs observer triggered syncs through dispatch, typically a
// background task queue. Syncs run inline by default.
func WithDispatch(dispatch func(name string, fn func(ctx context.Context) error)) Option {
	return func(s *Syncer) { s.dispatch = dispatch }
}

// Syncer replicates datasets to V2, one dataset at a time under the sync lock.
type Syncer struct {
	store    domain.PersistentStore
	client   V2
	locker   locks.Locker
	enabled  bool
	log      logging.Logger
	metrics  core.MetricsRecorder
	dispatch func(name string, fn func(ctx context.Context) error)
	nowFn    func() time.Time
}

// NewSyncer returns a syncer. A disabled syncer skips every sync.
func NewSyncer(store domain.PersistentStore, client V2, locker locks.Locker, enabled bool, opts ...Option) *Syncer {
	s := &Syncer{
		store:   store,
		client:  client,
		locker:  locker,
		enabled: enabled,
		log:     logging.Nop(),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether syncing is turned on.
func (s *Syncer) Enabled() bool { return s.enabled }

// DatasetChanged maps committed dataset events to sync actions.
func (s *Syncer) DatasetChanged(ctx context.Context, ev core.DatasetEvent) {
	if !s.enabled {
		return
	}
	var action domain.SyncAction
	switch ev.Kind {
	case core.EventCreated:
		action = domain.SyncCreate
	case core.EventUpdated:
		action = domain.SyncUpdate
	case core.EventDeleted:
		action = domain.SyncDelete
	case core.EventFlushed:
		action = domain.SyncFlush
	default:
		return
	}
	id := ev.Dataset.ID
	run := func(ctx context.Context) error { return s.SyncDataset(ctx, id, action, false) }
	if s.dispatch != nil {
		s.dispatch("sync_dataset_to_v2", run)
		return
	}
	if err := run(ctx); err != nil {
		s.log.Warnw("v2 sync failed", "dataset", id, "action", action, "error", err)
	}
}

// SyncDataset waits for the sync lock of the dataset and syncs it. Failures
// are recorded in the sync status and also returned.
func (s *Syncer) SyncDataset(ctx context.Context, datasetID string, action domain.SyncAction, force bool) error {
	if !s.enabled {
		return nil
	}
	release, err := s.locker.Lock(ctx, locks.SyncDataset, datasetID)
	if err != nil {
		return fmt.Errorf("lock dataset %s for sync: %w", datasetID, err)
	}
	defer release()
	return s.sync(ctx, datasetID, action, force)
}

type snapshot struct {
	dataset  domain.Dataset
	found    bool
	original *domain.Dataset
	fileSet  domain.FileSet
	files    []domain.File
	size     int64
}

func (s *Syncer) load(ctx context.Context, id string) (snapshot, error) {
	var snap snapshot
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		snap.dataset, snap.found = v.FindDataset(id)
		if !snap.found {
			return nil
		}
		if of := snap.dataset.DraftOf; of != "" {
			if orig, ok := v.FindDataset(of); ok {
				snap.original = &orig
			}
		}
		if fs, ok := v.FindFileSet(id); ok {
			snap.fileSet = fs
			for _, fid := range fs.FileIDs {
				if f, ok := v.FindFile(fid); ok {
					snap.files = append(snap.files, f)
					snap.size += f.Size
				}
			}
		}
		return nil
	})
	return snap, err
}

func (s *Syncer) writeStatus(ctx context.Context, id string, mutate func(*domain.V2SyncStatus)) error {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindV2SyncStatus(id); !ok {
			st := domain.V2SyncStatus{Base: domain.Base{ID: id}}
			mutate(&st)
			_, err := tx.CreateV2SyncStatus(st)
			return err
		}
		_, err := tx.UpdateV2SyncStatus(id, func(st *domain.V2SyncStatus) error {
			mutate(st)
			return nil
		})
		return err
	})
	return err
}

func (s *Syncer) markV3(ctx context.Context, id string) error {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateDataset(id, func(d *domain.Dataset) error {
			d.APIVersion = 3
			return nil
		})
		return err
	})
	return err
}

// sync performs one sync while the caller holds the lock.
func (s *Syncer) sync(ctx context.Context, id string, action domain.SyncAction, force bool) (err error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !snap.found && (action == domain.SyncCreate || action == domain.SyncUpdate) {
		return domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
	}
	d := snap.dataset
	if !snap.found {
		d = domain.Dataset{Base: domain.Base{ID: id}}
	}
	// Drafts owned by V2 stay there until published in V3.
	if !force && snap.found && d.IsDraft() && d.Legacy && d.APIVersion < 3 && d.DraftOf == "" {
		s.log.Debugw("skipping v2 sync of v2 draft", "dataset", id)
		return nil
	}

	started := s.nowFn()
	if err := s.writeStatus(ctx, id, func(st *domain.V2SyncStatus) {
		st.SyncStarted = started
		st.SyncFilesStarted = nil
		st.SyncStopped = nil
		st.Action = action
		st.Error = ""
	}); err != nil {
		return fmt.Errorf("record sync start of %s: %w", id, err)
	}
	defer func() {
		if s.metrics != nil {
			s.metrics.Observe(ctx, "v2_sync_"+string(action), err == nil, time.Since(started))
		}
		stopped := s.nowFn()
		werr := s.writeStatus(ctx, id, func(st *domain.V2SyncStatus) {
			if err != nil {
				st.Error = err.Error()
				return
			}
			st.SyncStopped = &stopped
		})
		if err != nil {
			s.log.Errorw("v2 sync failed", "dataset", id, "action", action, "error", err)
		}
		err = errors.Join(err, werr)
	}()

	switch action {
	case domain.SyncDelete:
		return s.client.DeleteDataset(ctx, d, true)
	case domain.SyncFlush:
		return s.client.DeleteDataset(ctx, d, false)
	case domain.SyncCreate, domain.SyncUpdate:
		return s.update(ctx, snap, action == domain.SyncCreate)
	default:
		return fmt.Errorf("unknown sync action %q", action)
	}
}

func (s *Syncer) update(ctx context.Context, snap snapshot, created bool) error {
	d := snap.dataset
	if !d.IsPublished() {
		// V3 drafts are not replicated. Editing a migrated draft or a draft
		// of a published dataset locks the V2 copy.
		if d.Legacy && d.APIVersion < 3 {
			if err := s.client.UpdateAPIMeta(ctx, d.ID); err != nil {
				return err
			}
			if err := s.markV3(ctx, d.ID); err != nil {
				return err
			}
		}
		if o := snap.original; o != nil && o.APIVersion < 3 {
			if err := s.client.UpdateAPIMeta(ctx, o.ID); err != nil {
				return err
			}
			return s.markV3(ctx, o.ID)
		}
		return nil
	}
	if d.APIVersion < 3 {
		if err := s.client.UpdateAPIMeta(ctx, d.ID); err != nil {
			return err
		}
		if err := s.markV3(ctx, d.ID); err != nil {
			return err
		}
	}
	if d.IsRemoved() {
		return nil
	}
	if err := s.client.UpdateDataset(ctx, NewDocument(d, snap.size), created); err != nil {
		return err
	}
	if snap.fileSet.ID == "" {
		return nil
	}
	filesStarted := s.nowFn()
	if err := s.writeStatus(ctx, d.ID, func(st *domain.V2SyncStatus) { st.SyncFilesStarted = &filesStarted }); err != nil {
		return err
	}
	return s.client.UpdateDatasetFiles(ctx, d.ID, snap.files, snap.fileSet, created)
}
