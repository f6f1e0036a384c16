package core

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"metax/pkg/domain"
)

// FileSetAction is the operation of a file or directory action.
type FileSetAction string

// File set actions. Update only changes dataset specific metadata.
const (
	ActionAdd    FileSetAction = "add"
	ActionRemove FileSetAction = "remove"
	ActionUpdate FileSetAction = "update"
)

// DirectoryAction adds, removes or annotates every file below Pathname.
type DirectoryAction struct {
	Action          FileSetAction             `json:"action,omitempty"`
	Pathname        string                    `json:"pathname"`
	DatasetMetadata *domain.DirectoryMetadata `json:"dataset_metadata,omitempty"`
	// OnlyUnpublished limits the action to files not yet in any published dataset.
	OnlyUnpublished bool `json:"only_unpublished,omitempty"`
	// HasMetadata is set when dataset_metadata was present, even as null.
	HasMetadata bool `json:"-"`
}

// UnmarshalJSON records whether dataset_metadata was supplied.
func (a *DirectoryAction) UnmarshalJSON(b []byte) error {
	type plain DirectoryAction
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = DirectoryAction(p)
	_, a.HasMetadata = raw["dataset_metadata"]
	return nil
}

// FileAction adds, removes or annotates one file identified by ID,
// StorageIdentifier or Pathname.
type FileAction struct {
	Action            FileSetAction        `json:"action,omitempty"`
	ID                string               `json:"id,omitempty"`
	StorageIdentifier string               `json:"storage_identifier,omitempty"`
	Pathname          string               `json:"pathname,omitempty"`
	DatasetMetadata   *domain.FileMetadata `json:"dataset_metadata,omitempty"`
	HasMetadata       bool                 `json:"-"`
}

// UnmarshalJSON records whether dataset_metadata was supplied.
func (a *FileAction) UnmarshalJSON(b []byte) error {
	type plain FileAction
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*a = FileAction(p)
	_, a.HasMetadata = raw["dataset_metadata"]
	return nil
}

// FileSetUpdate is a batch of changes to the file set of a dataset.
// Directory actions apply before file actions; later actions win.
type FileSetUpdate struct {
	StorageService   string            `json:"storage_service"`
	CSCProject       string            `json:"csc_project,omitempty"`
	DirectoryActions []DirectoryAction `json:"directory_actions,omitempty"`
	FileActions      []FileAction      `json:"file_actions,omitempty"`
}

// FileSetResult summarizes a file set after an update.
type FileSetResult struct {
	domain.FileSetSummary
	AddedFilesCount   *int `json:"added_files_count,omitempty"`
	RemovedFilesCount *int `json:"removed_files_count,omitempty"`
}

func normalizeDirPath(p string) string {
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

func normalizeAction(a FileSetAction) FileSetAction {
	if a == "" {
		return ActionAdd
	}
	return a
}

// storageFiles indexes the active files of one storage.
type storageFiles struct {
	byID         map[string]domain.File
	byIdentifier map[string]domain.File
	byPath       map[string]domain.File
	ordered      []domain.File
}

func indexStorageFiles(view domain.TransactionView, storageID string) storageFiles {
	idx := storageFiles{
		byID:         map[string]domain.File{},
		byIdentifier: map[string]domain.File{},
		byPath:       map[string]domain.File{},
	}
	for _, f := range view.ListFiles() {
		if f.StorageID != storageID || f.Removed != nil {
			continue
		}
		idx.byID[f.ID] = f
		idx.byIdentifier[f.StorageIdentifier] = f
		idx.byPath[f.Pathname()] = f
		idx.ordered = append(idx.ordered, f)
	}
	return idx
}

func (idx storageFiles) resolve(a FileAction) (domain.File, error) {
	var (
		found domain.File
		ok    bool
	)
	check := func(field, expected, got string) error {
		if expected != "" && got != "" && expected != got {
			return domain.NewValidationError(field, fmt.Sprintf("Value conflict. Expected '%s', got '%s'.", got, expected))
		}
		return nil
	}
	switch {
	case a.ID != "":
		found, ok = idx.byID[a.ID]
	case a.StorageIdentifier != "":
		found, ok = idx.byIdentifier[a.StorageIdentifier]
	case a.Pathname != "":
		found, ok = idx.byPath[a.Pathname]
	}
	if !ok {
		params := map[string]string{}
		if a.ID != "" {
			params["id"] = a.ID
		}
		if a.StorageIdentifier != "" {
			params["storage_identifier"] = a.StorageIdentifier
		}
		if a.Pathname != "" {
			params["pathname"] = a.Pathname
		}
		return domain.File{}, domain.NewValidationError("file_actions", fmt.Sprintf("File not found in FileStorage: %v", params))
	}
	if err := check("storage_identifier", a.StorageIdentifier, found.StorageIdentifier); err != nil {
		return domain.File{}, err
	}
	if err := check("pathname", a.Pathname, found.Pathname()); err != nil {
		return domain.File{}, err
	}
	return found, nil
}

func findStorage(view domain.TransactionView, service, project string) (domain.FileStorage, bool) {
	for _, st := range view.ListFileStorages() {
		if st.StorageService == service && st.CSCProject == project {
			return st, true
		}
	}
	return domain.FileStorage{}, false
}

type fileDecision int

const (
	decisionNone fileDecision = iota
	decisionAdd
	decisionRemove
)

// decide returns the last add or remove decision of the directory actions
// matching f, overridden by the last file action naming f.
func decide(f domain.File, dirs []DirectoryAction, fileDecisions map[string]fileDecision) fileDecision {
	out := decisionNone
	for _, a := range dirs {
		if !strings.HasPrefix(f.DirectoryPath, a.Pathname) {
			continue
		}
		if a.OnlyUnpublished && f.Published != nil {
			continue
		}
		switch a.Action {
		case ActionAdd:
			out = decisionAdd
		case ActionRemove:
			out = decisionRemove
		}
	}
	if d, ok := fileDecisions[f.ID]; ok {
		out = d
	}
	return out
}

// UpdateFileSet applies directory and file actions to the file set of a
// dataset, creating the file set when needed.
func (s *Service) UpdateFileSet(ctx context.Context, u User, datasetID string, upd FileSetUpdate) (FileSetResult, Result, error) {
	var out FileSetResult
	res, err := s.run(ctx, "fileset.update", func(sc *scope) error {
		d, err := sc.dataset(datasetID, false)
		if err != nil {
			return err
		}
		if err := requireEdit(sc.tx, u, d); err != nil {
			return err
		}
		out, err = s.updateFileSet(sc, u, d, upd)
		return err
	})
	return out, res, err
}

func (s *Service) updateFileSet(sc *scope, u User, d domain.Dataset, upd FileSetUpdate) (FileSetResult, error) {
	upd.DirectoryActions = slices.Clone(upd.DirectoryActions)
	upd.FileActions = slices.Clone(upd.FileActions)
	for i := range upd.DirectoryActions {
		upd.DirectoryActions[i].Action = normalizeAction(upd.DirectoryActions[i].Action)
		upd.DirectoryActions[i].Pathname = normalizeDirPath(upd.DirectoryActions[i].Pathname)
	}
	for i := range upd.FileActions {
		upd.FileActions[i].Action = normalizeAction(upd.FileActions[i].Action)
	}
	hasActions := len(upd.DirectoryActions) > 0 || len(upd.FileActions) > 0

	storage, ok := findStorage(sc.tx, upd.StorageService, upd.CSCProject)
	if !ok {
		if hasActions {
			return FileSetResult{}, domain.NewValidationError("storage", fmt.Sprintf(
				"File storage not found with parameters {storage_service: %s, csc_project: %s}.", upd.StorageService, upd.CSCProject))
		}
		if upd.StorageService == "" {
			return FileSetResult{}, domain.NewValidationError("storage_service", "This field is required.")
		}
		created, err := sc.tx.CreateFileStorage(domain.FileStorage{StorageService: upd.StorageService, CSCProject: upd.CSCProject})
		if err != nil {
			return FileSetResult{}, err
		}
		storage = created
	}
	if catalog := catalogOf(sc.tx, d); catalog != nil && !catalog.AllowsStorageService(storage.StorageService) {
		return FileSetResult{}, domain.NewValidationError("storage_service",
			fmt.Sprintf("Data catalog %s does not allow files from service %s.", catalog.ID, storage.StorageService))
	}

	fs, exists := sc.tx.FindFileSet(d.ID)
	if exists && fs.StorageID != storage.ID {
		current, _ := sc.tx.FindFileStorage(fs.StorageID)
		if current.StorageService != storage.StorageService {
			return FileSetResult{}, domain.NewValidationError("storage_service", "Wrong storage_service for fileset.")
		}
		return FileSetResult{}, domain.NewValidationError("csc_project", "Wrong csc_project for fileset.")
	}
	if !exists {
		if !u.HasProject(storage.CSCProject) {
			return FileSetResult{}, domain.NewValidationError("action", "Project membership is required for adding or removing files.")
		}
		fs = domain.FileSet{Base: domain.Base{ID: d.ID}, StorageID: storage.ID}
	}

	idx := indexStorageFiles(sc.tx, storage.ID)
	var missing []string
	for _, a := range upd.DirectoryActions {
		if a.Pathname == "/" {
			continue
		}
		found := false
		for _, f := range idx.ordered {
			if strings.HasPrefix(f.DirectoryPath, a.Pathname) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, a.Pathname)
		}
	}
	if len(missing) > 0 {
		return FileSetResult{}, domain.NewValidationError("pathname", fmt.Sprintf("Directory not found: %q", missing))
	}

	fileDecisions := map[string]fileDecision{}
	fileMeta := map[string]*domain.FileMetadata{}
	var fileMetaOrder []string
	for i, a := range upd.FileActions {
		f, err := idx.resolve(a)
		if err != nil {
			return FileSetResult{}, err
		}
		upd.FileActions[i].ID = f.ID
		switch a.Action {
		case ActionAdd:
			fileDecisions[f.ID] = decisionAdd
		case ActionRemove:
			fileDecisions[f.ID] = decisionRemove
		case ActionUpdate:
		default:
			return FileSetResult{}, domain.NewValidationError("action", fmt.Sprintf("Invalid action %q.", a.Action))
		}
		if a.HasMetadata && a.Action != ActionRemove {
			if _, seen := fileMeta[f.ID]; !seen {
				fileMetaOrder = append(fileMetaOrder, f.ID)
			}
			fileMeta[f.ID] = a.DatasetMetadata
		}
	}

	inSet := map[string]bool{}
	for _, id := range fs.FileIDs {
		inSet[id] = true
	}
	var toRemove, toAdd []string
	for _, f := range idx.ordered {
		switch decide(f, upd.DirectoryActions, fileDecisions) {
		case decisionRemove:
			if inSet[f.ID] {
				toRemove = append(toRemove, f.ID)
			}
		case decisionAdd:
			if !inSet[f.ID] {
				toAdd = append(toAdd, f.ID)
			}
		}
	}
	// files removed from the storage after joining the set can still be removed
	for id, dec := range fileDecisions {
		if _, active := idx.byID[id]; !active && dec == decisionRemove && inSet[id] {
			toRemove = append(toRemove, id)
		}
	}

	if len(toRemove) > 0 {
		if !u.HasProject(storage.CSCProject) {
			return FileSetResult{}, domain.NewValidationError("action", "Project membership is required for adding or removing files.")
		}
		if !AllowRemovingFiles(sc.tx, d) {
			return FileSetResult{}, domain.NewValidationError("action", "Removing files from a published dataset is not allowed.")
		}
	}
	if len(toAdd) > 0 {
		if !u.HasProject(storage.CSCProject) {
			return FileSetResult{}, domain.NewValidationError("action", "Project membership is required for adding or removing files.")
		}
		if !AllowAddingFiles(sc.tx, d) {
			return FileSetResult{}, domain.NewValidationError("action", "Adding files to a published noncumulative dataset is not allowed.")
		}
	}

	removeSet := map[string]bool{}
	for _, id := range toRemove {
		removeSet[id] = true
	}
	next := fs.Clone()
	next.FileIDs = next.FileIDs[:0]
	for _, id := range fs.FileIDs {
		if !removeSet[id] {
			next.FileIDs = append(next.FileIDs, id)
		}
	}
	next.FileIDs = append(next.FileIDs, toAdd...)

	if next.FileMetadata == nil {
		next.FileMetadata = map[string]domain.FileMetadata{}
	}
	for _, id := range fileMetaOrder {
		if m := fileMeta[id]; m == nil {
			delete(next.FileMetadata, id)
		} else {
			next.FileMetadata[id] = *m
		}
	}
	if next.DirectoryMetadata == nil {
		next.DirectoryMetadata = map[string]domain.DirectoryMetadata{}
	}
	for _, a := range upd.DirectoryActions {
		if !a.HasMetadata || a.Action == ActionRemove {
			continue
		}
		if a.DatasetMetadata == nil {
			delete(next.DirectoryMetadata, a.Pathname)
		} else {
			next.DirectoryMetadata[a.Pathname] = *a.DatasetMetadata
		}
	}
	pruneMetadata(sc.tx, &next)

	if exists {
		if _, err := sc.tx.UpdateFileSet(d.ID, func(cur *domain.FileSet) error {
			cur.StorageID = next.StorageID
			cur.FileIDs = next.FileIDs
			cur.FileMetadata = next.FileMetadata
			cur.DirectoryMetadata = next.DirectoryMetadata
			return nil
		}); err != nil {
			return FileSetResult{}, err
		}
	} else if _, err := sc.tx.CreateFileSet(next); err != nil {
		return FileSetResult{}, err
	}

	filesChanged := len(toAdd) > 0 || len(toRemove) > 0
	if filesChanged {
		updated, err := sc.tx.UpdateDataset(d.ID, func(cur *domain.Dataset) error {
			if cur.IsPublished() && cur.CumulativeState == domain.CumulativeActive && len(toAdd) > 0 {
				t := sc.now
				cur.LastCumulativeAddition = &t
			}
			return nil
		})
		if err != nil {
			return FileSetResult{}, err
		}
		if updated.IsPublished() {
			if err := markFilesPublished(sc, updated.ID); err != nil {
				return FileSetResult{}, err
			}
		}
		sc.emit(EventUpdated, updated, true)
	}

	result := FileSetResult{FileSetSummary: summarize(sc.tx, next)}
	if len(toAdd) > 0 {
		n := len(toAdd)
		result.AddedFilesCount = &n
	}
	if len(toRemove) > 0 {
		n := len(toRemove)
		result.RemovedFilesCount = &n
	}
	return result, nil
}

// pruneMetadata drops dataset metadata of files and directories that are no
// longer part of the set.
func pruneMetadata(view domain.TransactionView, fs *domain.FileSet) {
	inSet := map[string]bool{}
	var dirs []string
	for _, id := range fs.FileIDs {
		inSet[id] = true
		if f, ok := view.FindFile(id); ok {
			dirs = append(dirs, f.DirectoryPath)
		}
	}
	for id := range fs.FileMetadata {
		if !inSet[id] {
			delete(fs.FileMetadata, id)
		}
	}
	for path := range fs.DirectoryMetadata {
		used := false
		for _, dir := range dirs {
			if strings.HasPrefix(dir, path) {
				used = true
				break
			}
		}
		if !used {
			delete(fs.DirectoryMetadata, path)
		}
	}
}

// markFilesPublished stamps files of a published dataset that have not been published before.
func markFilesPublished(sc *scope, datasetID string) error {
	fs, ok := sc.tx.FindFileSet(datasetID)
	if !ok {
		return nil
	}
	for _, id := range fs.FileIDs {
		f, ok := sc.tx.FindFile(id)
		if !ok || f.Published != nil {
			continue
		}
		if _, err := sc.tx.UpdateFile(id, func(cur *domain.File) error {
			t := sc.now
			cur.Published = &t
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

func summarize(view domain.TransactionView, fs domain.FileSet) domain.FileSetSummary {
	out := domain.FileSetSummary{}
	if st, ok := view.FindFileStorage(fs.StorageID); ok {
		out.StorageService = st.StorageService
		out.CSCProject = st.CSCProject
	}
	for _, id := range fs.FileIDs {
		if f, ok := view.FindFile(id); ok {
			out.TotalFilesCount++
			out.TotalFilesSize += f.Size
		}
	}
	return out
}

// GetFileSet returns the file set of a dataset with its summary.
func (s *Service) GetFileSet(ctx context.Context, u User, datasetID string) (domain.FileSet, domain.FileSetSummary, error) {
	var (
		fs  domain.FileSet
		sum domain.FileSetSummary
	)
	err := s.view(ctx, func(v domain.TransactionView) error {
		d, ok := v.FindDataset(datasetID)
		if !ok || !u.CanView(d, catalogOf(v, d)) {
			return domain.NotFoundError{Entity: domain.EntityDataset, ID: datasetID}
		}
		var found bool
		fs, found = v.FindFileSet(datasetID)
		if !found {
			return domain.NotFoundError{Entity: domain.EntityFileSet, ID: datasetID}
		}
		sum = summarize(v, fs)
		return nil
	})
	return fs, sum, err
}

// DatasetFiles returns the files of a dataset ordered by pathname.
func (s *Service) DatasetFiles(ctx context.Context, datasetID string) ([]domain.File, error) {
	var out []domain.File
	err := s.view(ctx, func(v domain.TransactionView) error {
		fs, ok := v.FindFileSet(datasetID)
		if !ok {
			return nil
		}
		for _, id := range fs.FileIDs {
			if f, ok := v.FindFile(id); ok {
				out = append(out, f)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Pathname() < out[j].Pathname() })
		return nil
	})
	return out, err
}
