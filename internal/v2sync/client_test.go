package v2sync

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"metax/internal/config"
	"metax/internal/logging"
	"metax/pkg/domain"
)

type v2Request struct {
	method, uri, auth string
	body              map[string]any
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *[]v2Request) {
	t.Helper()
	var reqs []v2Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := v2Request{method: r.Method, uri: r.URL.RequestURI(), auth: r.Header.Get("Authorization")}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		reqs = append(reqs, rec)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(config.V2Config{Host: srv.URL, User: "metax", Password: "pw"}, logging.Test(t))
	c.http.Delay = 0
	return c, &reqs
}

func TestClientUpdateDataset(t *testing.T) {
	c, reqs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
		}
	})
	doc := NewDocument(domain.Dataset{Base: domain.Base{ID: "d1"}, State: domain.StatePublished, DataCatalog: "urn:catalog"}, 0)
	require.NoError(t, c.UpdateDataset(context.Background(), doc, false))
	require.Len(t, *reqs, 2)
	require.Equal(t, "GET", (*reqs)[0].method)
	require.Equal(t, "/rest/v2/datasets/d1", (*reqs)[0].uri)
	require.Equal(t, "Basic bWV0YXg6cHc=", (*reqs)[0].auth)
	require.Equal(t, "POST", (*reqs)[1].method)
	require.Equal(t, "/rest/v2/datasets?migration_override", (*reqs)[1].uri)
	require.Equal(t, map[string]any{"identifier": "urn:catalog"}, (*reqs)[1].body["data_catalog"])

	*reqs = nil
	c2, reqs2 := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	require.NoError(t, c2.UpdateDataset(context.Background(), doc, false))
	require.Equal(t, "PUT", (*reqs2)[1].method)
	require.Equal(t, "/rest/v2/datasets/d1?migration_override", (*reqs2)[1].uri)
}

func TestClientUpdateDatasetFailure(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	err := c.UpdateDataset(context.Background(), Document{"identifier": "d1"}, true)
	require.ErrorContains(t, err, "sync dataset d1 to v2")
}

func TestClientDeleteDataset(t *testing.T) {
	c, reqs := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	require.NoError(t, c.DeleteDataset(context.Background(), domain.Dataset{Base: domain.Base{ID: "d1"}, State: domain.StatePublished}, false))
	require.NoError(t, c.DeleteDataset(context.Background(), domain.Dataset{Base: domain.Base{ID: "d1"}, State: domain.StatePublished}, true))
	require.NoError(t, c.DeleteDataset(context.Background(), domain.Dataset{Base: domain.Base{ID: "d1"}, State: domain.StateDraft}, false))
	require.Equal(t, "/rest/v2/datasets/d1?hard=true&removed=true", (*reqs)[0].uri)
	require.Equal(t, "/rest/v2/datasets/d1?removed=true", (*reqs)[1].uri)
	require.Equal(t, "/rest/v2/datasets/d1?removed=true", (*reqs)[2].uri)
}

func TestClientUpdateDatasetFiles(t *testing.T) {
	c, reqs := newTestClient(t, func(http.ResponseWriter, *http.Request) {})
	files := []domain.File{{Base: domain.Base{ID: "f1"}, StorageIdentifier: "s1", LegacyID: 11}}
	fs := domain.FileSet{
		FileMetadata:      map[string]domain.FileMetadata{"f1": {Title: "File"}},
		DirectoryMetadata: map[string]domain.DirectoryMetadata{"/data/": {Title: "Dir"}},
	}
	require.NoError(t, c.UpdateDatasetFiles(context.Background(), "d1", files, fs, false))
	req := (*reqs)[0]
	require.Equal(t, "/rest/v2/datasets/d1/files_from_v3", req.uri)
	require.Equal(t, []any{float64(11)}, req.body["file_ids"])
	md := req.body["user_metadata"].(map[string]any)
	require.Equal(t, []any{map[string]any{"identifier": "s1", "title": "File"}}, md["files"])
	require.Equal(t, []any{map[string]any{"directory_path": "/data", "title": "Dir"}}, md["directories"])

	require.NoError(t, c.UpdateDatasetFiles(context.Background(), "d2", nil, domain.FileSet{}, true))
	require.Len(t, *reqs, 1)

	err := c.UpdateDatasetFiles(context.Background(), "d3", []domain.File{{Base: domain.Base{ID: "f2"}}}, domain.FileSet{}, false)
	require.ErrorContains(t, err, "1 files are missing legacy_id")
}

func TestNewDocument(t *testing.T) {
	d := domain.Dataset{
		Base:          domain.Base{ID: "d1"},
		Title:         domain.MultiLang{"en": "T"},
		State:         domain.StatePublished,
		MetadataOwner: &domain.MetadataOwner{User: "teppo", Organization: "org"},
		Actors: []domain.DatasetActor{
			{Roles: []string{domain.RoleCreator}, Person: &domain.Person{Name: "Teppo"}},
			{Roles: []string{domain.RolePublisher}, Organization: &domain.Organization{PrefLabel: domain.MultiLang{"en": "Org"}, URL: "http://org"}},
		},
		Temporal: []domain.Temporal{{StartDate: "2020-01-01"}},
	}
	doc := NewDocument(d, 5)
	require.Equal(t, "d1", doc.ID())
	require.Equal(t, "teppo", doc["metadata_provider_user"])
	rd := doc["research_dataset"].(map[string]any)
	require.Equal(t, []map[string]any{{"@type": "Person", "name": "Teppo"}}, rd["creator"])
	require.Equal(t, "http://org", rd["publisher"].(map[string]any)["identifier"])
	require.Equal(t, "2020-01-01T00:00:00.000Z", rd["temporal"].([]map[string]any)[0]["start_date"])
	require.Equal(t, map[string]int{"version": 3}, doc["api_meta"])
}
