// Package files manages stored files of storage projects and the directory
// views aggregated from them.
package files

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"metax/internal/core"
	"metax/internal/logging"
	"metax/pkg/domain"
)

// Entry is the API representation of a file.
type Entry struct {
	domain.File
	Pathname       string `json:"pathname"`
	StorageService string `json:"storage_service"`
	CSCProject     string `json:"csc_project,omitempty"`
	// DatasetMetadata is filled when listing files of a dataset.
	DatasetMetadata *domain.FileMetadata `json:"dataset_metadata,omitempty"`
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option { return func(s *Service) { s.log = logging.OrNop(l) } }

// WithClock overrides the time source used for removal timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.nowFn = now } }

// WithMetrics records operation outcomes.
func WithMetrics(m core.MetricsRecorder) Option { return func(s *Service) { s.metrics = m } }

// Service provides file operations over the catalog store.
type Service struct {
	store   domain.PersistentStore
	log     logging.Logger
	metrics core.MetricsRecorder
	nowFn   func() time.Time
}

// NewService constructs a file service.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   logging.Nop(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) run(ctx context.Context, op string, fn func(tx domain.Transaction) error) error {
	started := time.Now()
	_, err := s.store.RunInTransaction(ctx, fn)
	if s.metrics != nil {
		s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	}
	if err != nil {
		s.log.Debugw("file operation failed", "operation", op, "error", err)
	}
	return err
}

func entryOf(f domain.File, st domain.FileStorage) Entry {
	return Entry{File: f, Pathname: f.Pathname(), StorageService: st.StorageService, CSCProject: st.CSCProject}
}

func findStorage(view domain.RuleView, service, project string) (domain.FileStorage, bool) {
	for _, st := range view.ListFileStorages() {
		if st.StorageService == service && st.CSCProject == project {
			return st, true
		}
	}
	return domain.FileStorage{}, false
}

func storagesByID(view domain.RuleView) map[string]domain.FileStorage {
	out := map[string]domain.FileStorage{}
	for _, st := range view.ListFileStorages() {
		out[st.ID] = st
	}
	return out
}

// CreateOptions tunes CreateFiles.
type CreateOptions struct {
	// Upsert updates files whose storage_identifier already exists.
	Upsert bool
}

func validateEntry(i int, e Entry) *domain.ValidationError {
	verr := &domain.ValidationError{}
	prefix := fmt.Sprintf("[%d].", i)
	if e.StorageService == "" {
		verr.Add(prefix+"storage_service", "This field is required.")
	}
	if e.StorageIdentifier == "" {
		verr.Add(prefix+"storage_identifier", "This field is required.")
	}
	if e.Pathname == "" {
		verr.Add(prefix+"pathname", "This field is required.")
	} else if strings.HasSuffix(e.Pathname, "/") {
		verr.Add(prefix+"pathname", "Pathname cannot end with a slash.")
	}
	if e.Size < 0 {
		verr.Add(prefix+"size", "Ensure this value is greater than or equal to 0.")
	}
	return verr
}

// CreateFiles inserts files in bulk. File storages are created on demand.
// Without Upsert an existing storage_identifier is an error.
func (s *Service) CreateFiles(ctx context.Context, u core.User, entries []Entry, opts CreateOptions) ([]Entry, error) {
	if !u.Admin {
		return nil, domain.PermissionError{}
	}
	verr := &domain.ValidationError{}
	for i, e := range entries {
		verr.Merge(validateEntry(i, e))
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	err := s.run(ctx, "files.create", func(tx domain.Transaction) error {
		out = out[:0]
		existing := map[string]map[string]domain.File{}
		for i, e := range entries {
			st, ok := findStorage(tx, e.StorageService, e.CSCProject)
			if !ok {
				var err error
				st, err = tx.CreateFileStorage(domain.FileStorage{StorageService: e.StorageService, CSCProject: e.CSCProject})
				if err != nil {
					return err
				}
			}
			byIdentifier, ok := existing[st.ID]
			if !ok {
				byIdentifier = map[string]domain.File{}
				for _, f := range tx.ListFiles() {
					if f.StorageID == st.ID {
						byIdentifier[f.StorageIdentifier] = f
					}
				}
				existing[st.ID] = byIdentifier
			}
			dir, name := domain.SplitPathname(e.Pathname)
			if cur, found := byIdentifier[e.StorageIdentifier]; found {
				if !opts.Upsert {
					return domain.NewValidationError(fmt.Sprintf("[%d].storage_identifier", i),
						fmt.Sprintf("File with storage_identifier %s already exists.", e.StorageIdentifier))
				}
				if cur.Pathname() != e.Pathname {
					return domain.NewValidationError(fmt.Sprintf("[%d].pathname", i), "Cannot change value after creation.")
				}
				updated, err := tx.UpdateFile(cur.ID, func(f *domain.File) error {
					f.Size = e.Size
					f.Checksum = e.Checksum
					f.Frozen = e.Frozen
					f.FileModified = e.FileModified
					if e.LegacyID != 0 {
						f.LegacyID = e.LegacyID
					}
					return nil
				})
				if err != nil {
					return err
				}
				byIdentifier[updated.StorageIdentifier] = updated
				out = append(out, entryOf(updated, st))
				continue
			}
			created, err := tx.CreateFile(domain.File{
				Base:              domain.Base{ID: uuid.NewString()},
				StorageIdentifier: e.StorageIdentifier,
				StorageID:         st.ID,
				DirectoryPath:     dir,
				Filename:          name,
				Size:              e.Size,
				Checksum:          e.Checksum,
				Frozen:            e.Frozen,
				FileModified:      e.FileModified,
				LegacyID:          e.LegacyID,
			})
			if err != nil {
				return err
			}
			byIdentifier[created.StorageIdentifier] = created
			out = append(out, entryOf(created, st))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infow("files stored", "count", len(out), "upsert", opts.Upsert)
	return out, nil
}

// GetFile returns one file.
func (s *Service) GetFile(ctx context.Context, id string, includeRemoved bool) (Entry, error) {
	var out Entry
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		f, ok := v.FindFile(id)
		if !ok || (f.Removed != nil && !includeRemoved) {
			return domain.NotFoundError{Entity: domain.EntityFile, ID: id}
		}
		st, _ := v.FindFileStorage(f.StorageID)
		out = entryOf(f, st)
		return nil
	})
	return out, err
}

// FileFilter selects files in ListFiles.
type FileFilter struct {
	StorageService string
	CSCProject     string
	// Dataset limits results to the file set of a dataset and attaches its file metadata.
	Dataset string
	// Filename matches case-insensitively anywhere in the file name.
	Filename string
	// DirectoryPath and Pathname match as case-insensitive prefixes.
	DirectoryPath  string
	Pathname       string
	SizeGT         *int64
	SizeLT         *int64
	IncludeRemoved bool
	Limit          int
	Offset         int
}

// Page is one page of ListFiles results.
type Page struct {
	Count   int     `json:"count"`
	Results []Entry `json:"results"`
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// ListFiles returns files ordered by storage and pathname.
func (s *Service) ListFiles(ctx context.Context, f FileFilter) (Page, error) {
	var page Page
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		storages := storagesByID(v)
		var (
			inSet map[string]bool
			fs    domain.FileSet
		)
		if f.Dataset != "" {
			inSet = map[string]bool{}
			var ok bool
			if fs, ok = v.FindFileSet(f.Dataset); ok {
				for _, id := range fs.FileIDs {
					inSet[id] = true
				}
			}
		}
		var out []Entry
		for _, file := range v.ListFiles() {
			st := storages[file.StorageID]
			switch {
			case file.Removed != nil && !f.IncludeRemoved,
				f.StorageService != "" && st.StorageService != f.StorageService,
				f.CSCProject != "" && st.CSCProject != f.CSCProject,
				inSet != nil && !inSet[file.ID],
				f.Filename != "" && !strings.Contains(strings.ToLower(file.Filename), strings.ToLower(f.Filename)),
				f.DirectoryPath != "" && !hasPrefixFold(file.DirectoryPath, f.DirectoryPath),
				f.Pathname != "" && !hasPrefixFold(file.Pathname(), f.Pathname),
				f.SizeGT != nil && file.Size <= *f.SizeGT,
				f.SizeLT != nil && file.Size >= *f.SizeLT:
				continue
			}
			e := entryOf(file, st)
			if m, ok := fs.FileMetadata[file.ID]; ok {
				m := m
				e.DatasetMetadata = &m
			}
			out = append(out, e)
		}
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].StorageID != out[j].StorageID {
				return out[i].StorageID < out[j].StorageID
			}
			return out[i].Pathname < out[j].Pathname
		})
		page.Count = len(out)
		page.Results = paginate(out, f.Offset, f.Limit)
		return nil
	})
	return page, err
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// DeleteResult reports the effects of DeleteFiles.
type DeleteResult struct {
	Deleted int `json:"deleted_files_count"`
	// Datasets lists datasets whose file sets lost files.
	Datasets []string `json:"affected_datasets,omitempty"`
}

// DeleteFiles marks files removed and drops them from file sets. Published
// datasets that lose files are marked deprecated.
func (s *Service) DeleteFiles(ctx context.Context, u core.User, ids []string) (DeleteResult, error) {
	if !u.Admin {
		return DeleteResult{}, domain.PermissionError{}
	}
	var res DeleteResult
	err := s.run(ctx, "files.delete", func(tx domain.Transaction) error {
		res = DeleteResult{}
		now := s.nowFn()
		removed := map[string]bool{}
		for _, id := range ids {
			f, ok := tx.FindFile(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityFile, ID: id}
			}
			if f.Removed != nil || removed[id] {
				continue
			}
			if _, err := tx.UpdateFile(id, func(cur *domain.File) error {
				cur.Removed = &now
				return nil
			}); err != nil {
				return err
			}
			removed[id] = true
			res.Deleted++
		}
		for _, d := range tx.ListDatasets() {
			fs, ok := tx.FindFileSet(d.ID)
			if !ok {
				continue
			}
			kept := make([]string, 0, len(fs.FileIDs))
			for _, id := range fs.FileIDs {
				if !removed[id] {
					kept = append(kept, id)
				}
			}
			if len(kept) == len(fs.FileIDs) {
				continue
			}
			if _, err := tx.UpdateFileSet(d.ID, func(cur *domain.FileSet) error {
				cur.FileIDs = kept
				for id := range cur.FileMetadata {
					if removed[id] {
						delete(cur.FileMetadata, id)
					}
				}
				return nil
			}); err != nil {
				return err
			}
			if d.IsPublished() && d.Deprecated == nil {
				if _, err := tx.UpdateDataset(d.ID, func(cur *domain.Dataset) error {
					cur.Deprecated = &now
					return nil
				}); err != nil {
					return err
				}
			}
			res.Datasets = append(res.Datasets, d.ID)
		}
		return nil
	})
	if err != nil {
		return DeleteResult{}, err
	}
	s.log.Infow("files removed", "count", res.Deleted, "datasets", len(res.Datasets))
	return res, nil
}

// RestoreFiles clears the removal mark of files. Datasets are not changed.
func (s *Service) RestoreFiles(ctx context.Context, u core.User, ids []string) (int, error) {
	if !u.Admin {
		return 0, domain.PermissionError{}
	}
	restored := 0
	err := s.run(ctx, "files.restore", func(tx domain.Transaction) error {
		restored = 0
		for _, id := range ids {
			f, ok := tx.FindFile(id)
			if !ok {
				return domain.NotFoundError{Entity: domain.EntityFile, ID: id}
			}
			if f.Removed == nil {
				continue
			}
			if _, err := tx.UpdateFile(id, func(cur *domain.File) error {
				cur.Removed = nil
				return nil
			}); err != nil {
				return err
			}
			restored++
		}
		return nil
	})
	return restored, err
}

// FileDatasets maps file ids to the datasets containing them. With
// byDataset the ids are dataset ids and the values are their file ids.
// Keys without values are omitted.
func (s *Service) FileDatasets(ctx context.Context, ids []string, byDataset bool) (map[string][]string, error) {
	out := map[string][]string{}
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		wanted := map[string]bool{}
		for _, id := range ids {
			wanted[id] = true
		}
		for _, d := range v.ListDatasets() {
			if d.IsRemoved() || d.Deprecated != nil {
				continue
			}
			fs, ok := v.FindFileSet(d.ID)
			if !ok {
				continue
			}
			if byDataset {
				if wanted[d.ID] && len(fs.FileIDs) > 0 {
					out[d.ID] = append([]string(nil), fs.FileIDs...)
				}
				continue
			}
			for _, id := range fs.FileIDs {
				if wanted[id] {
					out[id] = append(out[id], d.ID)
				}
			}
		}
		return nil
	})
	return out, err
}
