package files

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metax/internal/core"
	"metax/internal/infra/persistence/memory"
	"metax/internal/logging"
	"metax/pkg/domain"
)

const cscProject = "project_x"

var (
	admin  = core.User{Username: "admin", Admin: true}
	member = core.User{Username: "teppo", CSCProjects: []string{cscProject}}
)

type fixture struct {
	svc   *Service
	store *memory.Store
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(domain.NewRulesEngine()),
		clock: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	tick := func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	}
	f.store.SetNowFunc(tick)
	f.svc = NewService(f.store, WithLogger(logging.Test(t)), WithClock(tick))
	return f
}

func (f *fixture) create(t *testing.T, paths ...string) map[string]Entry {
	t.Helper()
	entries := make([]Entry, 0, len(paths))
	for i, p := range paths {
		entries = append(entries, Entry{
			File:           domain.File{StorageIdentifier: "s-" + p, Size: int64(100 * (i + 1))},
			Pathname:       p,
			StorageService: "ida",
			CSCProject:     cscProject,
		})
	}
	out, err := f.svc.CreateFiles(context.Background(), admin, entries, CreateOptions{})
	require.NoError(t, err)
	byPath := map[string]Entry{}
	for _, e := range out {
		byPath[e.Pathname] = e
	}
	return byPath
}

func (f *fixture) dataset(t *testing.T, id string, state domain.State, fileIDs ...string) {
	t.Helper()
	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		d, err := tx.CreateDataset(domain.Dataset{
			Base:          domain.Base{ID: id},
			State:         state,
			Title:         domain.MultiLang{"en": id},
			MetadataOwner: &domain.MetadataOwner{User: "teppo"},
		})
		if err != nil {
			return err
		}
		var storageID string
		for _, st := range tx.ListFileStorages() {
			storageID = st.ID
		}
		_, err = tx.CreateFileSet(domain.FileSet{
			Base:      domain.Base{ID: d.ID},
			StorageID: storageID,
			FileIDs:   fileIDs,
			FileMetadata: map[string]domain.FileMetadata{
				fileIDs[0]: {Title: "first"},
			},
			DirectoryMetadata: map[string]domain.DirectoryMetadata{
				"/data/": {Title: "data dir"},
			},
		})
		return err
	})
	require.NoError(t, err)
}

func TestCreateFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateFiles(ctx, member, nil, CreateOptions{})
	require.ErrorAs(t, err, new(domain.PermissionError))

	_, err = f.svc.CreateFiles(ctx, admin, []Entry{{Pathname: "/dir/"}}, CreateOptions{})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields["[0].storage_service"], "This field is required.")
	require.Contains(t, verr.Fields["[0].pathname"], "Pathname cannot end with a slash.")

	created := f.create(t, "/data/a.csv", "/data/sub/b.csv")
	a := created["/data/a.csv"]
	require.Equal(t, "/data/", a.DirectoryPath)
	require.Equal(t, "a.csv", a.Filename)
	require.NotEmpty(t, a.StorageID)
	require.Equal(t, created["/data/sub/b.csv"].StorageID, a.StorageID)

	dup := Entry{File: domain.File{StorageIdentifier: "s-/data/a.csv", Size: 5}, Pathname: "/data/a.csv", StorageService: "ida", CSCProject: cscProject}
	_, err = f.svc.CreateFiles(ctx, admin, []Entry{dup}, CreateOptions{})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields["[0].storage_identifier"], "File with storage_identifier s-/data/a.csv already exists.")

	out, err := f.svc.CreateFiles(ctx, admin, []Entry{dup}, CreateOptions{Upsert: true})
	require.NoError(t, err)
	require.Equal(t, a.ID, out[0].ID)
	require.Equal(t, int64(5), out[0].Size)

	dup.Pathname = "/moved/a.csv"
	_, err = f.svc.CreateFiles(ctx, admin, []Entry{dup}, CreateOptions{Upsert: true})
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Fields["[0].pathname"], "Cannot change value after creation.")
}

func TestListFilesFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, "/data/a.csv", "/data/sub/B.csv", "/other/c.txt")
	f.dataset(t, "d1", domain.StateDraft, created["/data/a.csv"].ID)

	page, err := f.svc.ListFiles(ctx, FileFilter{StorageService: "ida"})
	require.NoError(t, err)
	require.Equal(t, 3, page.Count)

	page, err = f.svc.ListFiles(ctx, FileFilter{DirectoryPath: "/DATA/"})
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)

	page, err = f.svc.ListFiles(ctx, FileFilter{Filename: "b.c"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)

	gt := int64(150)
	page, err = f.svc.ListFiles(ctx, FileFilter{SizeGT: &gt, Limit: 1})
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	require.Len(t, page.Results, 1)

	page, err = f.svc.ListFiles(ctx, FileFilter{Dataset: "d1"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)
	require.Equal(t, "first", page.Results[0].DatasetMetadata.Title)
}

func TestDeleteAndRestoreFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, "/data/a.csv", "/data/b.csv")
	a, b := created["/data/a.csv"].ID, created["/data/b.csv"].ID
	f.dataset(t, "draft", domain.StateDraft, a, b)
	f.dataset(t, "published", domain.StatePublished, a)

	res, err := f.svc.DeleteFiles(ctx, admin, []string{a, a})
	require.NoError(t, err)
	require.Equal(t, 1, res.Deleted)
	require.ElementsMatch(t, []string{"draft", "published"}, res.Datasets)

	_, err = f.svc.GetFile(ctx, a, false)
	require.ErrorAs(t, err, new(domain.NotFoundError))
	removed, err := f.svc.GetFile(ctx, a, true)
	require.NoError(t, err)
	require.NotNil(t, removed.Removed)

	require.NoError(t, f.store.View(ctx, func(v domain.TransactionView) error {
		fs, _ := v.FindFileSet("draft")
		require.Equal(t, []string{b}, fs.FileIDs)
		require.NotContains(t, fs.FileMetadata, a)
		d, _ := v.FindDataset("published")
		require.NotNil(t, d.Deprecated)
		d, _ = v.FindDataset("draft")
		require.Nil(t, d.Deprecated)
		return nil
	}))

	n, err := f.svc.RestoreFiles(ctx, admin, []string{a, b})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = f.svc.DeleteFiles(ctx, admin, []string{"missing"})
	require.ErrorAs(t, err, new(domain.NotFoundError))
}

func TestFileDatasets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created := f.create(t, "/data/a.csv", "/data/b.csv")
	a, b := created["/data/a.csv"].ID, created["/data/b.csv"].ID
	f.dataset(t, "d1", domain.StateDraft, a, b)
	f.dataset(t, "d2", domain.StatePublished, a)

	byFile, err := f.svc.FileDatasets(ctx, []string{a, b, "nope"}, false)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"d1", "d2"}, byFile[a])
	require.Equal(t, []string{"d1"}, byFile[b])
	require.NotContains(t, byFile, "nope")

	byDataset, err := f.svc.FileDatasets(ctx, []string{"d2"}, true)
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"d2": {a}}, byDataset)
}
