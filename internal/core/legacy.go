package core

import (
	"context"
	"fmt"

	"metax/pkg/domain"
)

// LegacyFiles lists the files of a migrated dataset. Files are matched to
// existing ones by storage identifier and created when missing.
type LegacyFiles struct {
	StorageService string
	CSCProject     string
	Files          []domain.File
}

// LegacyImport is the outcome of ImportLegacyDataset.
type LegacyImport struct {
	Dataset domain.Dataset
	Created bool
}

// ImportLegacyDataset creates or replaces a dataset migrated from V2. The
// identifier, timestamps and revision counters of d are kept as given and
// cumulative state transitions are not checked.
func (s *Service) ImportLegacyDataset(ctx context.Context, d domain.Dataset, files *LegacyFiles) (LegacyImport, Result, error) {
	if d.ID == "" {
		return LegacyImport{}, Result{}, domain.NewValidationError("id", "Legacy datasets need an identifier.")
	}
	var out LegacyImport
	res, err := s.run(ctx, "dataset.import_legacy", func(sc *scope) error {
		in := d.Clone()
		in.Legacy = true
		if in.State == "" {
			in.State = domain.StatePublished
		}
		if in.Version == 0 {
			in.Version = 1
		}
		normalizeInput(&in)
		if err := validateCatalog(sc.tx, in); err != nil {
			return err
		}
		if in.IsPublished() {
			if err := ValidatePublished(in, catalogOf(sc.tx, in), false); err != nil {
				return err
			}
		}
		if err := s.ensureVersionGroup(sc, &in); err != nil {
			return err
		}

		if in.Modified.IsZero() {
			in.Modified = sc.now
		}
		prev, exists := sc.tx.FindDataset(in.ID)
		var err error
		if exists {
			in.NextDraft = prev.NextDraft
			in.Created = prev.Created
			out.Dataset, err = sc.tx.UpdateDataset(in.ID, func(cur *domain.Dataset) error {
				*cur = in
				return nil
			})
		} else {
			out.Created = true
			out.Dataset, err = sc.tx.CreateDataset(in)
		}
		if err != nil {
			return err
		}
		if files != nil {
			if err := importLegacyFiles(sc, out.Dataset, *files); err != nil {
				return err
			}
		}
		if out.Dataset.IsPublished() {
			if err := markFilesPublished(sc, out.Dataset.ID); err != nil {
				return err
			}
		}
		_, err = sc.tx.CreateDatasetRevision(domain.DatasetRevision{
			DatasetID:         out.Dataset.ID,
			Reason:            out.Dataset.RevisionReason(),
			PublishedRevision: out.Dataset.PublishedRevision,
			DraftRevision:     out.Dataset.DraftRevision,
			Dataset:           out.Dataset.Clone(),
		})
		return err
	})
	return out, res, err
}

func importLegacyFiles(sc *scope, d domain.Dataset, lf LegacyFiles) error {
	storage, ok := findStorage(sc.tx, lf.StorageService, lf.CSCProject)
	if !ok {
		var err error
		storage, err = sc.tx.CreateFileStorage(domain.FileStorage{StorageService: lf.StorageService, CSCProject: lf.CSCProject})
		if err != nil {
			return err
		}
	}
	byIdentifier := map[string]domain.File{}
	for _, f := range sc.tx.ListFiles() {
		if f.StorageID == storage.ID {
			byIdentifier[f.StorageIdentifier] = f
		}
	}
	ids := make([]string, 0, len(lf.Files))
	for _, f := range lf.Files {
		if f.StorageIdentifier == "" {
			return domain.NewValidationError("files", fmt.Sprintf("File %d is missing storage_identifier.", f.LegacyID))
		}
		if existing, ok := byIdentifier[f.StorageIdentifier]; ok {
			if f.LegacyID != 0 && existing.LegacyID != f.LegacyID {
				updated, err := sc.tx.UpdateFile(existing.ID, func(cur *domain.File) error {
					cur.LegacyID = f.LegacyID
					return nil
				})
				if err != nil {
					return err
				}
				existing = updated
			}
			ids = append(ids, existing.ID)
			continue
		}
		f.ID = newID()
		f.StorageID = storage.ID
		if f.DirectoryPath == "" {
			f.DirectoryPath = "/"
		}
		created, err := sc.tx.CreateFile(f)
		if err != nil {
			return err
		}
		byIdentifier[created.StorageIdentifier] = created
		ids = append(ids, created.ID)
	}

	if fs, ok := sc.tx.FindFileSet(d.ID); ok {
		if fs.StorageID != storage.ID {
			return domain.NewValidationError("storage", "Wrong storage_service/csc_project for fileset.")
		}
		_, err := sc.tx.UpdateFileSet(d.ID, func(cur *domain.FileSet) error {
			cur.FileIDs = ids
			return nil
		})
		return err
	}
	_, err := sc.tx.CreateFileSet(domain.FileSet{Base: domain.Base{ID: d.ID}, StorageID: storage.ID, FileIDs: ids})
	return err
}

// RecordLegacyMigration upserts the migration bookkeeping of a dataset.
func (s *Service) RecordLegacyMigration(ctx context.Context, rec domain.LegacyDataset) (domain.LegacyDataset, error) {
	var out domain.LegacyDataset
	_, err := s.run(ctx, "legacy.record", func(sc *scope) error {
		var err error
		if _, ok := sc.tx.FindLegacyDataset(rec.ID); ok {
			out, err = sc.tx.UpdateLegacyDataset(rec.ID, func(cur *domain.LegacyDataset) error {
				base := cur.Base
				*cur = rec.Clone()
				cur.Base = base
				return nil
			})
			return err
		}
		out, err = sc.tx.CreateLegacyDataset(rec)
		return err
	})
	return out, err
}

// ListLegacyDatasets returns every migration record.
func (s *Service) ListLegacyDatasets(ctx context.Context) ([]domain.LegacyDataset, error) {
	var out []domain.LegacyDataset
	err := s.view(ctx, func(v domain.TransactionView) error {
		out = v.ListLegacyDatasets()
		return nil
	})
	return out, err
}
