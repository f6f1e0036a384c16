package core

import (
	"context"
	"slices"
	"sort"

	"metax/pkg/domain"
)

// copyDataset forks d into a new unpublished dataset in the same version
// group. The file set is copied along with its dataset specific metadata.
func (s *Service) copyDataset(sc *scope, d domain.Dataset, adjust func(*domain.Dataset)) (domain.Dataset, error) {
	cp := d.Clone()
	cp.ID = newID()
	cp.Created, cp.Modified = sc.now, sc.now
	cp.Preservation = nil
	cp.State = domain.StateDraft
	cp.PublishedRevision = 0
	cp.PersistentIdentifier = ""
	cp.DraftOf = ""
	cp.NextDraft = ""
	cp.APIVersion = 3
	cp.Removed = nil
	cp.REMSPublishError = ""
	for i := range cp.Actors {
		cp.Actors[i].ID = newID()
	}
	if adjust != nil {
		adjust(&cp)
	}
	if fs, ok := sc.tx.FindFileSet(d.ID); ok {
		fork := fs.Clone()
		fork.Base = domain.Base{ID: cp.ID}
		if _, err := sc.tx.CreateFileSet(fork); err != nil {
			return domain.Dataset{}, err
		}
	}
	// copies inherit the source's cumulative state, which a fresh draft
	// could not otherwise be saved with
	return s.save(sc, cp, nil, saveOptions{legacy: true})
}

// nextExistingVersion returns the earliest created dataset of the group with
// a higher version than d.
func nextExistingVersion(view domain.TransactionView, d domain.Dataset) (domain.Dataset, bool) {
	group, ok := view.FindDatasetVersions(d.DatasetVersionsID)
	if !ok {
		return domain.Dataset{}, false
	}
	var found *domain.Dataset
	for _, id := range group.DatasetIDs {
		other, ok := view.FindDataset(id)
		if !ok || other.IsRemoved() || other.DraftOf != "" || other.Version <= d.Version {
			continue
		}
		if found == nil || other.Created.Before(found.Created) {
			o := other
			found = &o
		}
	}
	if found == nil {
		return domain.Dataset{}, false
	}
	return *found, true
}

func checkNewVersionAllowed(view domain.TransactionView, d domain.Dataset) error {
	verr := &domain.ValidationError{}
	if d.Legacy {
		verr.Add("dataset", "Cannot create a new version of a legacy dataset.")
	}
	if c := catalogOf(view, d); c == nil || !c.DatasetVersioningEnabled {
		verr.Add("data_catalog", "Data catalog doesn't support versioning.")
	}
	if d.IsRemoved() {
		verr.Add("removed", "Cannot make a new version of a removed dataset.")
	}
	if d.IsDraft() {
		verr.Add("state", "Cannot make a new version of a draft.")
	}
	if next, ok := nextExistingVersion(view, d); ok {
		if next.IsDraft() {
			verr.Add("dataset_versions", "There is an existing draft of a new version of this dataset.")
		} else {
			verr.Add("dataset_versions", "Newer version of this dataset exists. Only the latest existing version of the dataset can be used to make a new version.")
		}
	}
	return verr.OrNil()
}

// CreateNewVersion creates an unpublished next version of a published dataset.
func (s *Service) CreateNewVersion(ctx context.Context, u User, id string) (domain.Dataset, Result, error) {
	var created domain.Dataset
	res, err := s.run(ctx, "dataset.new_version", func(sc *scope) error {
		d, err := sc.dataset(id, true)
		if err != nil {
			return err
		}
		if err := requireEdit(sc.tx, u, d); err != nil {
			return err
		}
		if err := checkNewVersionAllowed(sc.tx, d); err != nil {
			return err
		}
		latest := d.Version
		if group, ok := sc.tx.FindDatasetVersions(d.DatasetVersionsID); ok {
			for _, memberID := range group.DatasetIDs {
				if member, ok := sc.tx.FindDataset(memberID); ok && member.Version > latest {
					latest = member.Version
				}
			}
		}
		created, err = s.copyDataset(sc, d, func(cp *domain.Dataset) {
			cp.Version = latest + 1
		})
		return err
	})
	return created, res, err
}

// CreateNewDraft creates an editable draft of a published dataset. Changes
// in the draft reach the original when the draft is published.
func (s *Service) CreateNewDraft(ctx context.Context, u User, id string) (domain.Dataset, Result, error) {
	var created domain.Dataset
	res, err := s.run(ctx, "dataset.new_draft", func(sc *scope) error {
		d, err := sc.dataset(id, false)
		if err != nil {
			return err
		}
		if err := requireEdit(sc.tx, u, d); err != nil {
			return err
		}
		if !d.IsPublished() {
			return domain.NewValidationError("state", "Dataset needs to be published before creating a new draft.")
		}
		if d.NextDraft != "" {
			return domain.NewValidationError("next_draft", "Dataset already has a draft.")
		}
		created, err = s.copyDataset(sc, d, func(cp *domain.Dataset) {
			cp.DraftOf = d.ID
			cp.DraftRevision = 0
			cp.PersistentIdentifier = "draft:" + d.PersistentIdentifier
		})
		if err != nil {
			return err
		}
		_, err = sc.tx.UpdateDataset(d.ID, func(orig *domain.Dataset) error {
			orig.NextDraft = created.ID
			return nil
		})
		return err
	})
	return created, res, err
}

func fileIDSet(view domain.TransactionView, datasetID string) map[string]struct{} {
	out := map[string]struct{}{}
	if fs, ok := view.FindFileSet(datasetID); ok {
		for _, id := range fs.FileIDs {
			out[id] = struct{}{}
		}
	}
	return out
}

// mergeDraft copies the draft's values into the published original, moves
// its file set and removes the draft.
func (s *Service) mergeDraft(sc *scope, orig, draft domain.Dataset) (domain.Dataset, error) {
	if orig.NextDraft == "" || orig.NextDraft != draft.ID {
		return domain.Dataset{}, domain.NewValidationError("state", "Dataset does not have a draft.")
	}
	if draft.Deprecated != nil {
		return domain.Dataset{}, domain.NewValidationError("state", "Draft is deprecated.")
	}

	origFiles := fileIDSet(sc.tx, orig.ID)
	draftFiles := fileIDSet(sc.tx, draft.ID)
	added := false
	for id := range origFiles {
		if _, ok := draftFiles[id]; !ok {
			return domain.Dataset{}, domain.NewValidationError("fileset", "Merging changes would remove files, which is not allowed.")
		}
	}
	for id := range draftFiles {
		if _, ok := origFiles[id]; !ok {
			added = true
			break
		}
	}
	if added && orig.CumulativeState != domain.CumulativeActive {
		return domain.Dataset{}, domain.NewValidationError("fileset", "Merging changes would add files, which is not allowed.")
	}

	merged := draft.Clone()
	merged.ID = orig.ID
	merged.State = orig.State
	merged.PublishedRevision = orig.PublishedRevision
	merged.Created = orig.Created
	merged.Modified = orig.Modified
	merged.PersistentIdentifier = orig.PersistentIdentifier
	merged.NextDraft = ""
	merged.DraftOf = orig.DraftOf
	merged.MetadataOwner = orig.MetadataOwner
	merged.Preservation = orig.Preservation
	merged.DraftRevision = orig.DraftRevision
	merged.Version = orig.Version
	merged.DatasetVersionsID = orig.DatasetVersionsID
	merged.Removed = orig.Removed
	merged.Legacy = orig.Legacy
	merged.REMSPublishError = orig.REMSPublishError
	if added {
		t := sc.now
		merged.LastCumulativeAddition = &t
	}

	if fs, ok := sc.tx.FindFileSet(draft.ID); ok {
		if _, exists := sc.tx.FindFileSet(orig.ID); exists {
			if err := sc.tx.DeleteFileSet(orig.ID); err != nil {
				return domain.Dataset{}, err
			}
		}
		moved := fs.Clone()
		moved.Base = domain.Base{ID: orig.ID}
		if _, err := sc.tx.CreateFileSet(moved); err != nil {
			return domain.Dataset{}, err
		}
	}
	if err := s.hardDelete(sc, draft); err != nil {
		return domain.Dataset{}, err
	}
	return s.save(sc, merged, &orig, saveOptions{filesChanged: added})
}

// ListVersions returns the versions of the dataset visible to u, newest first.
// Drafts of published datasets are not separate versions and are omitted.
func (s *Service) ListVersions(ctx context.Context, u User, id string) ([]domain.Dataset, error) {
	var out []domain.Dataset
	err := s.view(ctx, func(v domain.TransactionView) error {
		d, ok := v.FindDataset(id)
		if !ok || !u.CanView(d, catalogOf(v, d)) {
			return domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
		}
		group, ok := v.FindDatasetVersions(d.DatasetVersionsID)
		if !ok {
			out = []domain.Dataset{d}
			return nil
		}
		for _, memberID := range group.DatasetIDs {
			member, ok := v.FindDataset(memberID)
			if !ok || member.DraftOf != "" || !u.CanView(member, catalogOf(v, member)) {
				continue
			}
			out = append(out, member)
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })
		return nil
	})
	return out, err
}

// VersionIDs returns the ids of all datasets in the version group of id.
func (s *Service) VersionIDs(ctx context.Context, id string) ([]string, error) {
	var out []string
	err := s.view(ctx, func(v domain.TransactionView) error {
		d, ok := v.FindDataset(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
		}
		if group, ok := v.FindDatasetVersions(d.DatasetVersionsID); ok {
			out = slices.Clone(group.DatasetIDs)
		}
		return nil
	})
	return out, err
}
