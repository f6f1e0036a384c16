package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"metax/internal/cache"
	"metax/internal/config"
	"metax/internal/core"
	"metax/internal/files"
	"metax/internal/infra/persistence/memory"
	"metax/internal/logging"
	"metax/internal/observability"
	"metax/internal/pid"
	"metax/internal/tasks"
	"metax/pkg/domain"
)

const catalogID = "urn:nbn:fi:att:data-catalog-ida"

type testServer struct {
	*httptest.Server
	core    *core.Service
	metrics *observability.Metrics
	cache   *cache.Cache
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store := memory.NewStore(core.NewDefaultRulesEngine())
	c := cache.New(16, nil)
	metrics := observability.NewMetrics()
	svc := core.NewService(store,
		core.WithMinter(pid.Dummy{}),
		core.WithLogger(logging.Test(t)),
		core.WithMetrics(metrics),
		core.WithObserver(c),
	)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.CreateDataCatalog(domain.DataCatalog{
			Base:                     domain.Base{ID: catalogID},
			Title:                    domain.MultiLang{"en": "IDA"},
			DatasetVersioningEnabled: true,
			StorageServices:          []string{"ida"},
			AllowedPIDTypes:          []domain.PIDType{domain.PIDTypeURN},
		})
		return err
	})
	require.NoError(t, err)

	runner := tasks.NewRunner(tasks.WithBackground(false))
	srv := New(Deps{
		Core:    svc,
		Files:   files.NewService(store),
		Tasks:   runner,
		Cache:   c,
		Metrics: metrics,
		Auth: config.AuthConfig{Tokens: map[string]config.TokenConfig{
			"owner-token": {User: "teppo", Organization: "test.fi", CSCProjects: []string{"project_x"}},
			"other-token": {User: "matti", Organization: "test.fi"},
			"admin-token": {User: "admin", Admin: true},
		}},
		Log: logging.Test(t),
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, core: svc, metrics: metrics, cache: c}
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case []byte:
		rd = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func testDataset() domain.Dataset {
	return domain.Dataset{
		Title:                domain.MultiLang{"en": "Test dataset"},
		Description:          domain.MultiLang{"en": "About the data"},
		DataCatalog:          catalogID,
		GeneratePIDOnPublish: true,
		AccessRights: &domain.AccessRights{
			AccessType: &domain.ConceptRef{URL: domain.AccessTypeOpen},
			License:    []domain.License{{URL: domain.LicenseBaseURL + "/code/CC-BY-4.0"}},
		},
		Actors: []domain.DatasetActor{
			{Roles: []string{domain.RoleCreator, domain.RolePublisher}, Organization: &domain.Organization{PrefLabel: domain.MultiLang{"en": "Test org"}}},
		},
	}
}

func parseDataset(t *testing.T, body []byte) domain.Dataset {
	t.Helper()
	var d domain.Dataset
	require.NoError(t, json.Unmarshal(body, &d), string(body))
	return d
}

func TestDatasetLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/v3/datasets", "owner-token", testDataset())
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	draft := parseDataset(t, body)
	require.Equal(t, domain.StateDraft, draft.State)

	resp, _ = ts.do(t, http.MethodGet, "/v3/datasets/"+draft.ID, "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/v3/datasets/"+draft.ID+"/publish", "other-token", nil)
	require.Contains(t, []int{http.StatusForbidden, http.StatusNotFound}, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodPost, "/rest/v3/datasets/"+draft.ID+"/publish", "owner-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	published := parseDataset(t, body)
	require.Equal(t, domain.StatePublished, published.State)
	require.NotEmpty(t, published.PersistentIdentifier)

	resp, body = ts.do(t, http.MethodGet, "/v3/datasets/"+draft.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, published.PersistentIdentifier, parseDataset(t, body).PersistentIdentifier)
	require.Equal(t, 1, ts.cache.Stats().Size)

	resp, body = ts.do(t, http.MethodPatch, "/v3/datasets/"+draft.ID, "owner-token", []byte(`{"title": {"en": "Renamed"}}`))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Equal(t, "Renamed", parseDataset(t, body).Title["en"])

	resp, body = ts.do(t, http.MethodGet, "/v3/datasets/"+draft.ID, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "Renamed", parseDataset(t, body).Title["en"])

	resp, body = ts.do(t, http.MethodGet, "/v3/datasets/"+draft.ID+"/revisions", "owner-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var revs []domain.DatasetRevision
	require.NoError(t, json.Unmarshal(body, &revs))
	require.NotEmpty(t, revs)

	resp, body = ts.do(t, http.MethodGet, "/v3/datasets/"+draft.ID+"/files", "owner-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{}`, string(body))

	resp, body = ts.do(t, http.MethodGet, "/v3/datasets/"+draft.ID+"/metadata-download", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/xml", resp.Header.Get("Content-Type"))
	require.Contains(t, string(body), "<resource")

	resp, _ = ts.do(t, http.MethodDelete, "/v3/datasets/"+draft.ID, "owner-token", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/v3/datasets/"+draft.ID, "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListDatasets(t *testing.T) {
	ts := newTestServer(t)
	for range 3 {
		in := testDataset()
		in.State = domain.StatePublished
		resp, body := ts.do(t, http.MethodPost, "/v3/datasets", "owner-token", in)
		require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	}

	resp, body := ts.do(t, http.MethodGet, "/v3/datasets?limit=2", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pg struct {
		Count    int               `json:"count"`
		Next     *string           `json:"next"`
		Previous *string           `json:"previous"`
		Results  []json.RawMessage `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body, &pg))
	require.Equal(t, 3, pg.Count)
	require.Len(t, pg.Results, 2)
	require.NotNil(t, pg.Next)
	require.Contains(t, *pg.Next, "offset=2")
	require.Nil(t, pg.Previous)

	resp, body = ts.do(t, http.MethodGet, "/v3/datasets?pagination=false", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []json.RawMessage
	require.NoError(t, json.Unmarshal(body, &all))
	require.Len(t, all, 3)

	resp, body = ts.do(t, http.MethodGet, "/v3/datasets?limit=abc", "", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.JSONEq(t, `{"limit": ["A valid integer is required."]}`, string(body))
}

func TestAuthentication(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/v3/datasets", "", testDataset())
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, string(body), "not_authenticated")

	resp, _ = ts.do(t, http.MethodGet, "/v3/datasets", "bogus", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/v3/datasets", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Token")
	res, err := ts.Client().Do(req)
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/v3/tasks", "owner-token", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/v3/tasks", "admin-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestFilesAndDirectories(t *testing.T) {
	ts := newTestServer(t)
	entries := []files.Entry{
		{File: domain.File{StorageIdentifier: "s1", Size: 10}, Pathname: "/data/a.csv", StorageService: "ida", CSCProject: "project_x"},
		{File: domain.File{StorageIdentifier: "s2", Size: 20}, Pathname: "/data/sub/b.csv", StorageService: "ida", CSCProject: "project_x"},
	}
	resp, body := ts.do(t, http.MethodPost, "/v3/files", "owner-token", entries)
	require.Equal(t, http.StatusForbidden, resp.StatusCode, string(body))
	resp, body = ts.do(t, http.MethodPost, "/v3/files", "admin-token", entries)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var created []files.Entry
	require.NoError(t, json.Unmarshal(body, &created))
	require.Len(t, created, 2)

	resp, body = ts.do(t, http.MethodGet, "/v3/files?storage_service=ida&csc_project=project_x", "owner-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var pg struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &pg))
	require.Equal(t, 2, pg.Count)

	resp, _ = ts.do(t, http.MethodGet, "/v3/files?storage_service=ida&csc_project=project_x", "other-token", nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/v3/directories?storage_service=ida&csc_project=project_x&path=/data", "owner-token", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var listing struct {
		Count   int `json:"count"`
		Results struct {
			Directories []files.Directory `json:"directories"`
			Files       []files.Entry     `json:"files"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(body, &listing))
	require.Equal(t, 2, listing.Count)
	require.Len(t, listing.Results.Directories, 1)
	require.Equal(t, "sub", listing.Results.Directories[0].Name)
	require.Len(t, listing.Results.Files, 1)

	resp, body = ts.do(t, http.MethodPost, "/v3/files/delete-many", "admin-token", []string{created[0].ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.JSONEq(t, `{"deleted_files_count": 1}`, string(body))

	resp, body = ts.do(t, http.MethodPost, "/v3/files/restore-many", "admin-token", []string{created[0].ID})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.JSONEq(t, `{"restored_files_count": 1}`, string(body))
}

func TestRoutingErrorsAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/v3/nothing", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.JSONEq(t, `{"detail": "Not found.", "code": "not_found"}`, string(body))

	resp, _ = ts.do(t, http.MethodGet, "/v3/datasets/missing", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = ts.do(t, http.MethodPost, "/v3/datasets", "owner-token", []byte("{"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Contains(t, string(body), "JSON parse error")

	resp, body = ts.do(t, http.MethodGet, "/v3/swagger.json", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `"openapi":"3.0.3"`)

	resp, _ = ts.do(t, http.MethodGet, "/v3/reference-data", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `metax_http_requests_total{code="404",method="GET",route="/v3/datasets/{id}"} 1`)
}
