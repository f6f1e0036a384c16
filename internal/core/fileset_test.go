package core

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"metax/pkg/domain"
)

func fileSetUpdate(dirs []DirectoryAction, files []FileAction) FileSetUpdate {
	return FileSetUpdate{StorageService: "ida", CSCProject: testProject, DirectoryActions: dirs, FileActions: files}
}

func TestUpdateFileSetDirectoryActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.seedFiles(t, "/data/a.csv", "/data/sub/b.csv", "/other/c.csv")
	d := f.createDraft(t)

	res, _, err := f.svc.UpdateFileSet(ctx, owner, d.ID, fileSetUpdate(
		[]DirectoryAction{{Pathname: "/data"}, {Pathname: "/data/sub/", Action: ActionRemove}},
		[]FileAction{{ID: ids["/data/sub/b.csv"]}},
	))
	require.NoError(t, err)
	require.Equal(t, 2, *res.AddedFilesCount)
	require.Nil(t, res.RemovedFilesCount)
	require.Equal(t, 2, res.TotalFilesCount)
	require.Equal(t, int64(300), res.TotalFilesSize)
	require.Equal(t, "ida", res.StorageService)

	res, _, err = f.svc.UpdateFileSet(ctx, owner, d.ID, fileSetUpdate(
		[]DirectoryAction{{Pathname: "/", Action: ActionRemove}}, nil,
	))
	require.NoError(t, err)
	require.Equal(t, 2, *res.RemovedFilesCount)
	require.Zero(t, res.TotalFilesCount)

	last := f.events[len(f.events)-1]
	require.Equal(t, EventUpdated, last.Kind)
	require.True(t, last.FilesChanged)
}

func TestUpdateFileSetMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.seedFiles(t, "/data/a.csv", "/data/b.csv")
	d := f.createDraft(t)

	var upd FileSetUpdate
	require.NoError(t, json.Unmarshal([]byte(`{
		"storage_service": "ida",
		"csc_project": "project_x",
		"directory_actions": [{"pathname": "/data/", "dataset_metadata": {"title": "Data dir"}}],
		"file_actions": [
			{"storage_identifier": "s-/data/a.csv", "dataset_metadata": {"title": "A"}},
			{"pathname": "/data/b.csv", "dataset_metadata": {"title": "B"}}
		]
	}`), &upd))
	_, _, err := f.svc.UpdateFileSet(ctx, owner, d.ID, upd)
	require.NoError(t, err)

	fs, _, err := f.svc.GetFileSet(ctx, owner, d.ID)
	require.NoError(t, err)
	require.Equal(t, "A", fs.FileMetadata[ids["/data/a.csv"]].Title)
	require.Equal(t, "Data dir", fs.DirectoryMetadata["/data/"].Title)

	upd = FileSetUpdate{}
	require.NoError(t, json.Unmarshal([]byte(`{
		"storage_service": "ida",
		"csc_project": "project_x",
		"file_actions": [
			{"id": "`+ids["/data/a.csv"]+`", "action": "update", "dataset_metadata": null},
			{"id": "`+ids["/data/b.csv"]+`", "action": "remove"}
		]
	}`), &upd))
	require.True(t, upd.FileActions[0].HasMetadata)
	_, _, err = f.svc.UpdateFileSet(ctx, owner, d.ID, upd)
	require.NoError(t, err)

	fs, _, err = f.svc.GetFileSet(ctx, owner, d.ID)
	require.NoError(t, err)
	require.Equal(t, []string{ids["/data/a.csv"]}, fs.FileIDs)
	require.Empty(t, fs.FileMetadata)
	require.Contains(t, fs.DirectoryMetadata, "/data/")
}

func TestUpdateFileSetErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.seedFiles(t, "/data/a.csv")
	d := f.createDraft(t)

	_, _, err := f.svc.UpdateFileSet(ctx, owner, d.ID, FileSetUpdate{
		StorageService: "ida", CSCProject: "nope",
		FileActions: []FileAction{{ID: ids["/data/a.csv"]}},
	})
	requireFieldError(t, err, "storage", "File storage not found with parameters {storage_service: ida, csc_project: nope}.")

	_, _, err = f.svc.UpdateFileSet(ctx, owner, d.ID, fileSetUpdate(nil, []FileAction{{ID: "missing"}}))
	requireFieldError(t, err, "file_actions", "File not found in FileStorage: map[id:missing]")

	_, _, err = f.svc.UpdateFileSet(ctx, owner, d.ID, fileSetUpdate(nil, []FileAction{{ID: ids["/data/a.csv"], Pathname: "/data/z.csv"}}))
	requireFieldError(t, err, "pathname", "Value conflict. Expected '/data/a.csv', got '/data/z.csv'.")

	_, _, err = f.svc.UpdateFileSet(ctx, owner, d.ID, fileSetUpdate([]DirectoryAction{{Pathname: "/nothing"}}, nil))
	requireFieldError(t, err, "pathname", `Directory not found: ["/nothing/"]`)

	outsider := User{Username: "outsider", Admin: false}
	_, _, err = f.svc.UpdateFileSet(ctx, outsider, d.ID, fileSetUpdate(nil, []FileAction{{ID: ids["/data/a.csv"]}}))
	require.ErrorAs(t, err, new(domain.PermissionError))

	f.seed(t, func(tx domain.Transaction) error {
		_, err := tx.UpdateDataset(d.ID, func(cur *domain.Dataset) error {
			cur.MetadataOwner = &domain.MetadataOwner{User: "outsider"}
			return nil
		})
		return err
	})
	_, _, err = f.svc.UpdateFileSet(ctx, outsider, d.ID, fileSetUpdate(nil, []FileAction{{ID: ids["/data/a.csv"]}}))
	requireFieldError(t, err, "action", "Project membership is required for adding or removing files.")
}

func TestUpdateFileSetRequiresStorageService(t *testing.T) {
	f := newFixture(t)
	d := f.createDraft(t)
	_, _, err := f.svc.UpdateFileSet(context.Background(), owner, d.ID, FileSetUpdate{CSCProject: testProject})
	requireFieldError(t, err, "storage_service", "This field is required.")

	var storages int
	require.NoError(t, f.store.View(context.Background(), func(v domain.TransactionView) error {
		storages = len(v.ListFileStorages())
		return nil
	}))
	require.Zero(t, storages)
}

func TestUpdateFileSetRejectsDisallowedStorage(t *testing.T) {
	f := newFixture(t)
	d := f.createDraft(t)
	_, _, err := f.svc.UpdateFileSet(context.Background(), owner, d.ID, FileSetUpdate{StorageService: "pas", CSCProject: testProject})
	requireFieldError(t, err, "storage_service", "Data catalog "+testCatalog+" does not allow files from service pas.")
}

func TestOnlyUnpublishedSkipsPublishedFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ids := f.seedFiles(t, "/data/a.csv", "/data/b.csv")

	first := f.createDraft(t)
	_, _, err := f.svc.UpdateFileSet(ctx, owner, first.ID, fileSetUpdate(nil, []FileAction{{ID: ids["/data/a.csv"]}}))
	require.NoError(t, err)
	_, _, err = f.svc.PublishDataset(ctx, owner, first.ID)
	require.NoError(t, err)

	second := f.createDraft(t)
	res, _, err := f.svc.UpdateFileSet(ctx, owner, second.ID, fileSetUpdate(
		[]DirectoryAction{{Pathname: "/data/", OnlyUnpublished: true}}, nil,
	))
	require.NoError(t, err)
	require.Equal(t, 1, *res.AddedFilesCount)

	files, err := f.svc.DatasetFiles(ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "/data/b.csv", files[0].Pathname())
}

func TestDecideLastActionWins(t *testing.T) {
	file := domain.File{Base: domain.Base{ID: "f"}, DirectoryPath: "/a/b/"}
	dirs := []DirectoryAction{{Action: ActionAdd, Pathname: "/a/"}, {Action: ActionRemove, Pathname: "/a/b/"}}
	require.Equal(t, decisionRemove, decide(file, dirs, nil))
	require.Equal(t, decisionAdd, decide(file, dirs, map[string]fileDecision{"f": decisionAdd}))
	require.Equal(t, decisionNone, decide(file, []DirectoryAction{{Action: ActionAdd, Pathname: "/c/"}}, nil))
}
