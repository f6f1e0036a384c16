package legacy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metax/internal/blob"
	"metax/internal/core"
	"metax/internal/infra/persistence/memory"
	"metax/internal/logging"
	"metax/pkg/domain"
)

type fakeSource struct {
	docs  map[string]map[string]any
	files map[string][]map[string]any
}

func (f *fakeSource) Dataset(_ context.Context, id string) (map[string]any, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
	}
	return doc, nil
}

func (f *fakeSource) Files(_ context.Context, id string) ([]map[string]any, error) {
	return f.files[id], nil
}

type migratorFixture struct {
	svc   *core.Service
	store *memory.Store
	blobs blob.Store
	src   *fakeSource
	m     *Migrator
}

func newMigratorFixture(t *testing.T) *migratorFixture {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	f := &migratorFixture{
		store: memory.NewStore(core.NewDefaultRulesEngine()),
		src:   &fakeSource{docs: map[string]map[string]any{}, files: map[string][]map[string]any{}},
	}
	var err error
	f.blobs, err = blob.Open(ctx, blob.Config{Driver: string(blob.DriverMemory)})
	require.NoError(t, err)
	f.svc = core.NewService(f.store, core.WithLogger(logging.Test(t)), core.WithClock(clock))
	_, err = f.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateDataCatalog(domain.DataCatalog{
			Base:            domain.Base{ID: idaCatalog},
			Title:           domain.MultiLang{"en": "IDA"},
			StorageServices: []string{"ida"},
		}); err != nil {
			return err
		}
		if _, err := tx.CreateConcept(domain.Concept{Type: domain.RefAccessType, URL: openAccess, InScheme: domain.RefdataSchemes[domain.RefAccessType], PrefLabel: domain.MultiLang{"en": "Open"}, IsReferenceData: true}); err != nil {
			return err
		}
		if _, err := tx.CreateConcept(domain.Concept{Type: domain.RefLocation, URL: helsinki, InScheme: domain.RefdataSchemes[domain.RefLocation], PrefLabel: domain.MultiLang{"fi": "Helsinki"}, IsReferenceData: true}); err != nil {
			return err
		}
		_, err := tx.CreateOrganization(domain.Organization{URL: orgURL, PrefLabel: domain.MultiLang{"en": "University of Helsinki"}, IsReferenceData: true})
		return err
	})
	require.NoError(t, err)
	f.m = NewMigrator(f.svc, f.blobs, WithLogger(logging.Test(t)), WithClock(clock), WithFiles(f.src), WithConcurrency(2))
	return f
}

func (f *migratorFixture) legacyRecord(t *testing.T, id string) domain.LegacyDataset {
	t.Helper()
	var rec domain.LegacyDataset
	require.NoError(t, f.store.View(context.Background(), func(v domain.TransactionView) error {
		var ok bool
		rec, ok = v.FindLegacyDataset(id)
		require.True(t, ok)
		return nil
	}))
	return rec
}

const datasetID = "5d4e2c6a-1b3f-4a9e-8c7d-6e5f4a3b2c1d"

func TestMigrate(t *testing.T) {
	f := newMigratorFixture(t)
	ctx := context.Background()
	f.src.files[datasetID] = []map[string]any{
		{"id": float64(11), "identifier": "file-1", "file_path": "/data/a.csv", "byte_size": float64(10),
			"checksum": map[string]any{"algorithm": "MD5", "value": "ABC"},
			"file_storage": map[string]any{"identifier": "urn:nbn:fi:att:file-storage-ida"}, "project_identifier": "project"},
	}

	out, err := f.m.Migrate(ctx, parseDoc(t, v2Dataset))
	require.NoError(t, err)
	require.True(t, out.Created)
	require.Equal(t, []string{"research_dataset.temporal[0]"}, out.Fixed)

	var d domain.Dataset
	var fs domain.FileSet
	require.NoError(t, f.store.View(ctx, func(v domain.TransactionView) error {
		d, _ = v.FindDataset(datasetID)
		fs, _ = v.FindFileSet(datasetID)
		return nil
	}))
	require.True(t, d.Legacy)
	require.Equal(t, "Birds", d.Title["en"])
	require.Len(t, fs.FileIDs, 1)

	rec := f.legacyRecord(t, datasetID)
	require.Equal(t, BlobKey(datasetID), rec.BlobKey)
	require.Equal(t, "2022-03-01T10:00:00+02:00", rec.V2Modified)
	require.Equal(t, []string{"research_dataset.temporal[0]"}, rec.FixedFields)
	require.NotNil(t, rec.LastSuccessfulMigration)
	require.Empty(t, rec.MigrationError)

	var stored map[string]any
	require.NoError(t, blob.GetJSON(ctx, f.blobs, BlobKey(datasetID), &stored))
	require.Equal(t, datasetID, stored["identifier"])

	again, err := f.m.Migrate(ctx, parseDoc(t, v2Dataset))
	require.NoError(t, err)
	require.Equal(t, "dataset is unchanged", again.Skipped)
}

func TestMigrateCreatesMissingReferenceData(t *testing.T) {
	f := newMigratorFixture(t)
	ctx := context.Background()
	doc := parseDoc(t, v2Dataset)
	doc["data_catalog"] = map[string]any{"identifier": "urn:nbn:fi:att:data-catalog-harvest-x"}
	rd := doc["research_dataset"].(map[string]any)
	rd["field_of_science"] = []any{map[string]any{"identifier": "http://www.yso.fi/onto/okm-tieteenala/ta999", "pref_label": map[string]any{"en": "Gone"}}}
	rd["creator"] = []any{map[string]any{"@type": "Organization", "identifier": OrganizationBaseURI + "999", "name": map[string]any{"en": "Old"},
		"is_part_of": map[string]any{"@type": "Organization", "identifier": orgURL}}}
	f.m.files = nil

	_, err := f.m.Migrate(ctx, doc)
	require.NoError(t, err)
	require.NoError(t, f.store.View(ctx, func(v domain.TransactionView) error {
		_, ok := v.FindDataCatalog("urn:nbn:fi:att:data-catalog-harvest-x")
		require.True(t, ok)
		var found bool
		for _, c := range v.ListConcepts() {
			if c.URL == "http://www.yso.fi/onto/okm-tieteenala/ta999" {
				found = true
				require.NotNil(t, c.Deprecated)
			}
		}
		require.True(t, found)
		for _, o := range v.ListOrganizations() {
			if o.URL == OrganizationBaseURI+"999" {
				require.Equal(t, orgURL, o.Parent.URL)
				require.NotNil(t, o.Deprecated)
			}
		}
		return nil
	}))
}

func TestMigrateRecordsFailure(t *testing.T) {
	f := newMigratorFixture(t)
	doc := parseDoc(t, v2Dataset)
	doc["research_dataset"].(map[string]any)["creator"] = []any{map[string]any{"name": "No type"}}

	out, err := f.m.Migrate(context.Background(), doc)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	require.NotEmpty(t, out.Error)
	rec := f.legacyRecord(t, datasetID)
	require.Contains(t, rec.MigrationError, "Unknown or missing actor @type value")
	require.Nil(t, rec.LastSuccessfulMigration)
}

func TestMigrateSkipsV3Datasets(t *testing.T) {
	f := newMigratorFixture(t)
	ctx := context.Background()
	_, err := f.m.Migrate(ctx, parseDoc(t, v2Dataset))
	require.NoError(t, err)
	_, err = f.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateDataset(datasetID, func(d *domain.Dataset) error {
			d.APIVersion = 3
			return nil
		})
		return err
	})
	require.NoError(t, err)

	doc := parseDoc(t, v2Dataset)
	doc["date_modified"] = "2023-01-01T00:00:00Z"
	out, err := f.m.Migrate(ctx, doc)
	require.NoError(t, err)
	require.Equal(t, "dataset has been modified in v3", out.Skipped)

	forced := NewMigrator(f.svc, f.blobs, WithForce(true))
	out, err = forced.Migrate(ctx, doc)
	require.NoError(t, err)
	require.Empty(t, out.Skipped)
}

func TestMigrateFrom(t *testing.T) {
	f := newMigratorFixture(t)
	f.src.docs[datasetID] = parseDoc(t, v2Dataset)

	report, err := f.m.MigrateFrom(context.Background(), f.src, []string{datasetID, "missing"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Created)
	require.Equal(t, 1, report.Failed)
	require.Len(t, report.Outcomes, 2)
	require.Equal(t, "missing", report.Outcomes[1].ID)
}

func TestConvertOnly(t *testing.T) {
	f := newMigratorFixture(t)
	res, err := f.m.Convert(context.Background(), parseDoc(t, v2Dataset))
	require.NoError(t, err)
	require.Empty(t, res.Dataset.ID)
	require.Equal(t, "Birds", res.Dataset.Title["en"])
}

func TestConvertFiles(t *testing.T) {
	lf, err := ConvertFiles([]map[string]any{
		{"id": float64(1), "identifier": "f1", "file_path": "/a/b/c.txt", "byte_size": float64(3), "project_identifier": "p",
			"file_storage": map[string]any{"identifier": "urn:nbn:fi:att:file-storage-pas"}},
	})
	require.NoError(t, err)
	require.Equal(t, "pas", lf.StorageService)
	require.Equal(t, "p", lf.CSCProject)
	require.Equal(t, "/a/b/", lf.Files[0].DirectoryPath)
	require.Equal(t, "c.txt", lf.Files[0].Filename)
	require.Equal(t, int64(1), lf.Files[0].LegacyID)

	_, err = ConvertFiles([]map[string]any{
		{"identifier": "f1", "file_path": "/a", "project_identifier": "p", "file_storage": map[string]any{"identifier": "urn:nbn:fi:att:file-storage-ida"}},
		{"identifier": "f2", "file_path": "/b", "project_identifier": "q", "file_storage": map[string]any{"identifier": "urn:nbn:fi:att:file-storage-ida"}},
	})
	require.ErrorContains(t, err, "single storage project")
}
