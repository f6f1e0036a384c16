package core

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"

	"metax/pkg/domain"
)

type saveOptions struct {
	// legacy saves skip the cumulative state transition check
	legacy       bool
	event        EventKind
	filesChanged bool
}

// save validates and stores d, maintaining revision counters, the version
// group and the revision history. prev is nil for new datasets.
func (s *Service) save(sc *scope, d domain.Dataset, prev *domain.Dataset, opts saveOptions) (domain.Dataset, error) {
	if err := validateCatalog(sc.tx, d); err != nil {
		return domain.Dataset{}, err
	}
	if !opts.legacy {
		if err := validateCumulative(sc.tx, d, prev); err != nil {
			return domain.Dataset{}, err
		}
	}
	if prev != nil && prev.IsPublished() && !d.IsPublished() {
		return domain.Dataset{}, domain.NewValidationError("state", "Cannot change value into non-published.")
	}
	if d.IsPublished() {
		switch d.CumulativeState {
		case domain.CumulativeActive:
			if d.CumulationStarted == nil {
				t := sc.now
				d.CumulationStarted = &t
			}
		case domain.CumulativeClosed:
			if d.CumulationEnded == nil {
				t := sc.now
				d.CumulationEnded = &t
			}
		}
	}

	switch {
	case d.IsDraft():
		d.DraftRevision++
	case d.IsPublished():
		d.PublishedRevision++
		d.DraftRevision = 0
		if err := ValidatePublished(d, catalogOf(sc.tx, d), true); err != nil {
			return domain.Dataset{}, err
		}
	default:
		return domain.Dataset{}, domain.NewValidationError("state", fmt.Sprintf("Invalid state %q.", d.State))
	}

	if d.ID == "" {
		d.ID = newID()
	}
	if err := s.ensureVersionGroup(sc, &d); err != nil {
		return domain.Dataset{}, err
	}

	var (
		saved domain.Dataset
		err   error
	)
	if prev == nil {
		saved, err = sc.tx.CreateDataset(d)
	} else {
		d.Modified = sc.now
		saved, err = sc.tx.UpdateDataset(d.ID, func(cur *domain.Dataset) error {
			*cur = d
			return nil
		})
	}
	if err != nil {
		return domain.Dataset{}, err
	}
	if saved.IsPublished() {
		if err := markFilesPublished(sc, saved.ID); err != nil {
			return domain.Dataset{}, err
		}
	}
	if _, err := sc.tx.CreateDatasetRevision(domain.DatasetRevision{
		DatasetID:         saved.ID,
		Reason:            saved.RevisionReason(),
		PublishedRevision: saved.PublishedRevision,
		DraftRevision:     saved.DraftRevision,
		Dataset:           saved.Clone(),
	}); err != nil {
		return domain.Dataset{}, err
	}
	event := opts.event
	if event == "" {
		event = EventUpdated
		if prev == nil {
			event = EventCreated
		}
	}
	sc.emit(event, saved, opts.filesChanged)
	return saved, nil
}

func (s *Service) ensureVersionGroup(sc *scope, d *domain.Dataset) error {
	if d.DatasetVersionsID == "" {
		group, err := sc.tx.CreateDatasetVersions(domain.DatasetVersions{DatasetIDs: []string{d.ID}})
		if err != nil {
			return err
		}
		d.DatasetVersionsID = group.ID
		return nil
	}
	group, ok := sc.tx.FindDatasetVersions(d.DatasetVersionsID)
	if !ok {
		_, err := sc.tx.CreateDatasetVersions(domain.DatasetVersions{
			Base:       domain.Base{ID: d.DatasetVersionsID},
			DatasetIDs: []string{d.ID},
		})
		return err
	}
	if slices.Contains(group.DatasetIDs, d.ID) {
		return nil
	}
	_, err := sc.tx.UpdateDatasetVersions(group.ID, func(g *domain.DatasetVersions) error {
		g.DatasetIDs = append(g.DatasetIDs, d.ID)
		return nil
	})
	return err
}

func (sc *scope) dataset(id string, includeRemoved bool) (domain.Dataset, error) {
	d, ok := sc.tx.FindDataset(id)
	if !ok || (d.IsRemoved() && !includeRemoved) {
		return domain.Dataset{}, domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
	}
	return d, nil
}

// normalizeInput assigns identifiers to nested records and fills defaults
// for fields the caller left empty.
func normalizeInput(d *domain.Dataset) {
	for i := range d.Actors {
		if d.Actors[i].ID == "" {
			d.Actors[i].ID = newID()
		}
	}
	if d.GeneratePIDOnPublish && d.PIDType == "" {
		d.PIDType = domain.PIDTypeURN
	}
}

// keepSystemFields restores values that only the service may change.
func keepSystemFields(d *domain.Dataset, prev domain.Dataset, u User) {
	d.ID = prev.ID
	d.Created = prev.Created
	d.Modified = prev.Modified
	d.Removed = prev.Removed
	d.Version = prev.Version
	d.PublishedRevision = prev.PublishedRevision
	d.DraftRevision = prev.DraftRevision
	d.DatasetVersionsID = prev.DatasetVersionsID
	d.DraftOf = prev.DraftOf
	d.NextDraft = prev.NextDraft
	d.APIVersion = prev.APIVersion
	d.Legacy = prev.Legacy
	d.REMSPublishError = prev.REMSPublishError
	d.CumulationStarted = prev.CumulationStarted
	d.CumulationEnded = prev.CumulationEnded
	d.LastCumulativeAddition = prev.LastCumulativeAddition
	if !u.Admin || d.MetadataOwner == nil {
		d.MetadataOwner = prev.MetadataOwner
	}
	if prev.IsPublished() || d.GeneratePIDOnPublish {
		d.PersistentIdentifier = prev.PersistentIdentifier
	}
}

// CreateDataset stores a new dataset owned by u. A dataset created in the
// published state goes through the publishing steps.
func (s *Service) CreateDataset(ctx context.Context, u User, d domain.Dataset) (domain.Dataset, Result, error) {
	if !u.Authenticated() {
		return domain.Dataset{}, Result{}, domain.AuthenticationError{Missing: true}
	}
	var created domain.Dataset
	res, err := s.run(ctx, "dataset.create", func(sc *scope) error {
		in := d.Clone()
		normalizeInput(&in)
		in.ID = newID()
		in.Created, in.Modified = sc.now, sc.now
		in.Removed = nil
		in.Version = 1
		in.PublishedRevision, in.DraftRevision = 0, 0
		in.DatasetVersionsID, in.DraftOf, in.NextDraft = "", "", ""
		in.APIVersion = 3
		in.Legacy = false
		in.REMSPublishError = ""
		if !u.Admin || in.MetadataOwner == nil {
			in.MetadataOwner = &domain.MetadataOwner{User: u.Username, Organization: u.Organization}
		}
		if in.GeneratePIDOnPublish && in.PersistentIdentifier != "" {
			return domain.NewValidationError("persistent_identifier", "Persistent identifier cannot be set when it is generated on publish.")
		}
		if in.State == "" {
			in.State = domain.StateDraft
		}
		var err error
		if in.IsPublished() {
			in.State = domain.StateDraft
			created, err = s.publishInScope(sc, in, nil)
			return err
		}
		created, err = s.save(sc, in, nil, saveOptions{})
		return err
	})
	return created, res, err
}

// GetOptions tunes dataset lookups.
type GetOptions struct {
	IncludeRemoved bool
}

// GetDataset returns a dataset visible to u.
func (s *Service) GetDataset(ctx context.Context, u User, id string, opts GetOptions) (domain.Dataset, error) {
	var out domain.Dataset
	err := s.view(ctx, func(v domain.TransactionView) error {
		d, ok := v.FindDataset(id)
		if !ok || (d.IsRemoved() && !opts.IncludeRemoved) || !u.CanView(d, catalogOf(v, d)) {
			return domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
		}
		out = d
		return nil
	})
	return out, err
}

// UpdateDataset applies mutator to the stored dataset and saves the result.
// Moving a draft to the published state publishes it.
func (s *Service) UpdateDataset(ctx context.Context, u User, id string, mutator func(*domain.Dataset) error) (domain.Dataset, Result, error) {
	var updated domain.Dataset
	res, err := s.run(ctx, "dataset.update", func(sc *scope) error {
		prev, err := sc.dataset(id, false)
		if err != nil {
			return err
		}
		if err := requireEdit(sc.tx, u, prev); err != nil {
			return err
		}
		next := prev.Clone()
		if err := mutator(&next); err != nil {
			return err
		}
		if next.GeneratePIDOnPublish && !prev.IsPublished() && next.PersistentIdentifier != prev.PersistentIdentifier {
			return domain.NewValidationError("persistent_identifier", "Persistent identifier cannot be set when it is generated on publish.")
		}
		keepSystemFields(&next, prev, u)
		normalizeInput(&next)
		if prev.IsDraft() && next.IsPublished() {
			next.State = domain.StateDraft
			updated, err = s.publishInScope(sc, next, &prev)
			return err
		}
		updated, err = s.save(sc, next, &prev, saveOptions{})
		return err
	})
	return updated, res, err
}

// ReplaceDataset overwrites all user editable fields of a dataset.
func (s *Service) ReplaceDataset(ctx context.Context, u User, id string, d domain.Dataset) (domain.Dataset, Result, error) {
	return s.UpdateDataset(ctx, u, id, func(cur *domain.Dataset) error {
		*cur = d.Clone()
		if cur.State == "" {
			cur.State = domain.StateDraft
		}
		return nil
	})
}

// PatchDataset applies a JSON merge patch to a dataset.
func (s *Service) PatchDataset(ctx context.Context, u User, id string, patch []byte) (domain.Dataset, Result, error) {
	return s.UpdateDataset(ctx, u, id, func(cur *domain.Dataset) error {
		original, err := json.Marshal(cur)
		if err != nil {
			return err
		}
		merged, err := jsonpatch.MergePatch(original, patch)
		if err != nil {
			return domain.NewValidationError("non_field_errors", fmt.Sprintf("Invalid merge patch: %v", err))
		}
		var next domain.Dataset
		if err := json.Unmarshal(merged, &next); err != nil {
			return domain.NewValidationError("non_field_errors", fmt.Sprintf("Invalid dataset: %v", err))
		}
		*cur = next
		return nil
	})
}

// DeleteDataset removes a dataset. Drafts and flushed datasets are removed
// from storage together with their file set and history; others are only
// marked removed.
func (s *Service) DeleteDataset(ctx context.Context, u User, id string, flush bool) (Result, error) {
	return s.run(ctx, "dataset.delete", func(sc *scope) error {
		d, err := sc.dataset(id, flush)
		if err != nil {
			return err
		}
		if err := requireEdit(sc.tx, u, d); err != nil {
			return err
		}
		if d.NextDraft != "" {
			if draft, ok := sc.tx.FindDataset(d.NextDraft); ok {
				if err := s.hardDelete(sc, draft); err != nil {
					return err
				}
				sc.emit(EventFlushed, draft, false)
			}
		}
		if d.IsDraft() || flush {
			if err := s.hardDelete(sc, d); err != nil {
				return err
			}
			sc.emit(EventFlushed, d, false)
			return nil
		}
		removed, err := sc.tx.UpdateDataset(d.ID, func(cur *domain.Dataset) error {
			t := sc.now
			cur.Removed = &t
			cur.NextDraft = ""
			return nil
		})
		if err != nil {
			return err
		}
		sc.emit(EventDeleted, removed, false)
		return nil
	})
}

func (s *Service) hardDelete(sc *scope, d domain.Dataset) error {
	if _, ok := sc.tx.FindFileSet(d.ID); ok {
		if err := sc.tx.DeleteFileSet(d.ID); err != nil {
			return err
		}
	}
	for _, rev := range sc.tx.ListDatasetRevisions(d.ID) {
		if err := sc.tx.DeleteDatasetRevision(rev.ID); err != nil {
			return err
		}
	}
	if d.DraftOf != "" {
		if _, ok := sc.tx.FindDataset(d.DraftOf); ok {
			if _, err := sc.tx.UpdateDataset(d.DraftOf, func(orig *domain.Dataset) error {
				orig.NextDraft = ""
				return nil
			}); err != nil {
				return err
			}
		}
	}
	if group, ok := sc.tx.FindDatasetVersions(d.DatasetVersionsID); ok {
		remaining := slices.DeleteFunc(slices.Clone(group.DatasetIDs), func(id string) bool { return id == d.ID })
		var err error
		if len(remaining) == 0 {
			err = sc.tx.DeleteDatasetVersions(group.ID)
		} else {
			_, err = sc.tx.UpdateDatasetVersions(group.ID, func(g *domain.DatasetVersions) error {
				g.DatasetIDs = remaining
				return nil
			})
		}
		if err != nil {
			return err
		}
	}
	return sc.tx.DeleteDataset(d.ID)
}

// DatasetFilter selects datasets in ListDatasets.
type DatasetFilter struct {
	State                domain.State
	DataCatalog          string
	PersistentIdentifier string
	// Search matches title values and keywords case-insensitively.
	Search            string
	OwnerUser         string
	OwnerOrganization string
	IncludeRemoved    bool
	// LatestVersions keeps only the highest version of each version group.
	LatestVersions bool
	HasFiles       *bool
	StorageService string
	CSCProject     string
	// Ordering is one of created, modified or title, optionally prefixed with "-".
	Ordering string
	Limit    int
	Offset   int
}

// DatasetPage is one page of ListDatasets results.
type DatasetPage struct {
	Count   int
	Results []domain.Dataset
}

func (f DatasetFilter) matches(v domain.TransactionView, d domain.Dataset) bool {
	if d.IsRemoved() && !f.IncludeRemoved {
		return false
	}
	if f.State != "" && d.State != f.State {
		return false
	}
	if f.DataCatalog != "" && d.DataCatalog != f.DataCatalog {
		return false
	}
	if f.PersistentIdentifier != "" && d.PersistentIdentifier != f.PersistentIdentifier {
		return false
	}
	if f.OwnerUser != "" && (d.MetadataOwner == nil || d.MetadataOwner.User != f.OwnerUser) {
		return false
	}
	if f.OwnerOrganization != "" && (d.MetadataOwner == nil || d.MetadataOwner.Organization != f.OwnerOrganization) {
		return false
	}
	if f.Search != "" && !matchesSearch(d, f.Search) {
		return false
	}
	if f.HasFiles != nil && hasFiles(v, d.ID) != *f.HasFiles {
		return false
	}
	if f.StorageService != "" || f.CSCProject != "" {
		fs, ok := v.FindFileSet(d.ID)
		if !ok {
			return false
		}
		storage, ok := v.FindFileStorage(fs.StorageID)
		if !ok {
			return false
		}
		if f.StorageService != "" && storage.StorageService != f.StorageService {
			return false
		}
		if f.CSCProject != "" && storage.CSCProject != f.CSCProject {
			return false
		}
	}
	return true
}

func matchesSearch(d domain.Dataset, q string) bool {
	q = strings.ToLower(q)
	for _, t := range d.Title {
		if strings.Contains(strings.ToLower(t), q) {
			return true
		}
	}
	for _, k := range d.Keyword {
		if strings.Contains(strings.ToLower(k), q) {
			return true
		}
	}
	return false
}

func sortDatasets(ds []domain.Dataset, ordering string) error {
	desc := strings.HasPrefix(ordering, "-")
	field := strings.TrimPrefix(ordering, "-")
	var less func(a, b domain.Dataset) bool
	switch field {
	case "", "created":
		less = func(a, b domain.Dataset) bool { return a.Created.Before(b.Created) }
	case "modified":
		less = func(a, b domain.Dataset) bool { return a.Modified.Before(b.Modified) }
	case "title":
		less = func(a, b domain.Dataset) bool { return a.Title.Preferred() < b.Title.Preferred() }
	default:
		return domain.NewValidationError("ordering", fmt.Sprintf("Invalid ordering %q.", ordering))
	}
	sort.SliceStable(ds, func(i, j int) bool {
		if desc {
			return less(ds[j], ds[i])
		}
		return less(ds[i], ds[j])
	})
	return nil
}

// ListDatasets returns the datasets visible to u matching f.
func (s *Service) ListDatasets(ctx context.Context, u User, f DatasetFilter) (DatasetPage, error) {
	var page DatasetPage
	err := s.view(ctx, func(v domain.TransactionView) error {
		var out []domain.Dataset
		for _, d := range v.ListDatasets() {
			if f.matches(v, d) && u.CanView(d, catalogOf(v, d)) {
				out = append(out, d)
			}
		}
		if f.LatestVersions {
			out = latestVersions(out)
		}
		if err := sortDatasets(out, f.Ordering); err != nil {
			return err
		}
		page.Count = len(out)
		page.Results = paginate(out, f.Offset, f.Limit)
		return nil
	})
	return page, err
}

func latestVersions(ds []domain.Dataset) []domain.Dataset {
	best := map[string]domain.Dataset{}
	var order []string
	for _, d := range ds {
		key := d.DatasetVersionsID
		if key == "" || d.DraftOf != "" {
			key = d.ID
		}
		cur, ok := best[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || d.Version > cur.Version {
			best[key] = d
		}
	}
	out := make([]domain.Dataset, 0, len(order))
	for _, k := range order {
		out = append(out, best[k])
	}
	return out
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
