package rems

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metax/internal/core"
	"metax/internal/infra/persistence/memory"
	"metax/internal/locks"
	"metax/internal/logging"
	"metax/pkg/domain"
)

// fakeREMS keeps created REMS objects in memory, keyed by api collection.
type fakeREMS struct {
	mu      *sync.Mutex
	user    string
	nextID  *int64
	objects map[string]map[int64]map[string]any
	orgs    map[string]bool
	calls   *[]string
	fail    map[string]error
}

func newFakeREMS() *fakeREMS {
	return &fakeREMS{
		mu:      &sync.Mutex{},
		objects: map[string]map[int64]map[string]any{},
		orgs:    map[string]bool{},
		calls:   &[]string{},
		fail:    map[string]error{},
		nextID:  new(int64),
	}
}

func (f *fakeREMS) AsUser(userID string) API {
	cp := *f
	cp.user = userID
	return &cp
}

func (f *fakeREMS) callsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range *f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeREMS) create(collection string, obj map[string]any) int64 {
	*f.nextID++
	id := *f.nextID
	if f.objects[collection] == nil {
		f.objects[collection] = map[int64]map[string]any{}
	}
	obj["id"] = float64(id)
	f.objects[collection][id] = obj
	return id
}

func (f *fakeREMS) view(collection string, obj map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range obj {
		out[k] = v
	}
	switch collection {
	case "workflows":
		var handlers []any
		for _, h := range obj["handlers"].([]any) {
			handlers = append(handlers, map[string]any{"userid": h})
		}
		out["workflow"] = map[string]any{"type": obj["type"], "handlers": handlers, "forms": []any{}}
	case "resources":
		var licenses []any
		for _, id := range obj["licenses"].([]any) {
			licenses = append(licenses, f.objects["licenses"][int64(id.(float64))])
		}
		out["licenses"] = licenses
	case "catalogue-items":
		out["resource-id"] = obj["resid"]
	}
	return out
}

func (f *fakeREMS) Do(_ context.Context, method, path string, body, out any, opts ...CallOption) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	call := method + " " + path
	*f.calls = append(*f.calls, call)
	if err := f.fail[call]; err != nil {
		return http.StatusInternalServerError, err
	}
	var in map[string]any
	if body != nil {
		if err := remarshal(body, &in); err != nil {
			return 0, err
		}
	}
	parts := strings.Split(strings.TrimPrefix(path, "/api/"), "/")
	collection := parts[0]
	var resp any = map[string]any{"success": true}
	switch {
	case collection == "users":
	case collection == "organizations" && method == http.MethodGet:
		if !f.orgs[parts[1]] {
			return http.StatusNotFound, nil
		}
	case collection == "organizations":
		f.orgs[in["organization/id"].(string)] = true
	case collection == "applications" && len(parts) == 2 && parts[1] == "create":
		var resources []any
		for _, id := range in["catalogue-item-ids"].([]any) {
			item := f.objects["catalogue-items"][int64(id.(float64))]
			res := f.objects["resources"][int64(item["resid"].(float64))]
			var licenses []any
			for _, l := range res["licenses"].([]any) {
				licenses = append(licenses, map[string]any{"license/id": l})
			}
			resources = append(resources, map[string]any{"resource/ext-id": res["resid"]})
			in["application/licenses"] = licenses
		}
		in["application/resources"] = resources
		in["applicant"] = f.user
		id := f.create("applications", in)
		resp = map[string]any{"success": true, "application-id": id}
	case collection == "applications" && len(parts) == 2 && (parts[1] == "accept-licenses" || parts[1] == "submit"):
	case collection == "my-applications" || collection == "entitlements":
		list := []any{}
		for _, app := range f.objects["applications"] {
			list = append(list, app)
		}
		resp = list
	case len(parts) == 2 && parts[1] == "create":
		resp = map[string]any{"success": true, "id": f.create(collection, in)}
	case len(parts) == 2 && parts[1] == "edit":
		obj := f.objects[collection][int64(in["id"].(float64))]
		for k, v := range in {
			obj[k] = v
		}
	case len(parts) == 2 && (parts[1] == "enabled" || parts[1] == "archived"):
		obj := f.objects[collection][int64(in["id"].(float64))]
		obj[parts[1]] = in[parts[1]]
	case len(parts) == 2 && method == http.MethodGet:
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return 0, err
		}
		obj, ok := f.objects[collection][id]
		if !ok {
			if o.allowNotFound {
				return http.StatusNotFound, nil
			}
			return http.StatusNotFound, &Error{Method: method, Path: path, Status: http.StatusNotFound}
		}
		resp = f.view(collection, obj)
	case len(parts) == 1 && method == http.MethodGet:
		list := []any{}
		for id, obj := range f.objects[collection] {
			if obj["archived"] == true {
				continue
			}
			switch collection {
			case "resources":
				if obj["resid"] != o.query.Get("resid") {
					continue
				}
			case "catalogue-items":
				res := f.objects["resources"][int64(obj["resid"].(float64))]
				if res["resid"] != o.query.Get("resource") {
					continue
				}
			}
			list = append(list, map[string]any{"id": id})
		}
		resp = list
	default:
		return 0, fmt.Errorf("unexpected call %s", call)
	}
	if out != nil {
		if err := remarshal(resp, out); err != nil {
			return 0, err
		}
	}
	return http.StatusOK, nil
}

type fixture struct {
	store   *memory.Store
	api     *fakeREMS
	service *Service
	catalog domain.DataCatalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memory.NewStore(domain.NewRulesEngine()), api: newFakeREMS()}
	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		f.catalog, err = tx.CreateDataCatalog(domain.DataCatalog{Title: domain.MultiLang{"en": "REMS"}, REMSEnabled: true})
		return err
	})
	require.NoError(t, err)
	f.service = NewService(f.store, f.api, locks.NewLocal(), "csc", "etsin.fairdata.fi",
		WithLogger(logging.Test(t)),
		WithClock(func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }),
		WithOrganizationAdmins(func(org string) []Handler {
			if org == "org" {
				return []Handler{{UserID: "org-admin", Name: "Admin"}}
			}
			return nil
		}))
	return f
}

func (f *fixture) dataset(t *testing.T, mutate func(*domain.Dataset)) domain.Dataset {
	t.Helper()
	d := domain.Dataset{
		Title:         domain.MultiLang{"en": "Dataset", "fi": "Aineisto"},
		State:         domain.StatePublished,
		DataCatalog:   f.catalog.ID,
		MetadataOwner: &domain.MetadataOwner{User: "teppo", Organization: "org"},
		AccessRights: &domain.AccessRights{
			REMSApprovalType: "automatic",
			License:          []domain.License{{URL: "http://license/cc-by", PrefLabel: domain.MultiLang{"en": "CC BY"}}},
			DataAccessTerms:  domain.MultiLang{"en": "Be nice"},
		},
	}
	if mutate != nil {
		mutate(&d)
	}
	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		var err error
		d, err = tx.CreateDataset(d)
		return err
	})
	require.NoError(t, err)
	return d
}

func (f *fixture) update(t *testing.T, id string, mutate func(*domain.Dataset)) {
	t.Helper()
	_, err := f.store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, err := tx.UpdateDataset(id, func(d *domain.Dataset) error {
			mutate(d)
			return nil
		})
		return err
	})
	require.NoError(t, err)
}

func (f *fixture) entities(t *testing.T, includeRemoved bool) map[string]domain.REMSEntity {
	t.Helper()
	out := map[string]domain.REMSEntity{}
	require.NoError(t, f.store.View(context.Background(), func(v domain.TransactionView) error {
		for _, e := range v.ListREMSEntities() {
			if e.Removed == nil || includeRemoved {
				out[string(e.Type)+":"+e.Key] = e
			}
		}
		return nil
	}))
	return out
}

func TestPublishDataset(t *testing.T) {
	f := newFixture(t)
	d := f.dataset(t, nil)

	item, err := f.service.PublishDataset(context.Background(), d.ID, true)
	require.NoError(t, err)
	require.NotNil(t, item)

	entities := f.entities(t, false)
	require.Contains(t, entities, "workflow:automatic-org")
	require.Contains(t, entities, "license:reference-license-http://license/cc-by")
	require.Contains(t, entities, "license:dataset-"+d.ID+"-access-terms")
	require.Contains(t, entities, "resource:dataset-"+d.ID)
	require.Equal(t, item.REMSID, entities["catalogue-item:dataset-"+d.ID].REMSID)
	require.True(t, entities["license:dataset-"+d.ID+"-access-terms"].IsDataAccessTerms)

	wf := f.api.objects["workflows"][entities["workflow:automatic-org"].REMSID]
	require.Equal(t, []any{"approver-bot", "rejecter-bot", "org-admin"}, wf["handlers"])
	ci := f.api.objects["catalogue-items"][item.REMSID]
	require.Equal(t, "https://etsin.fairdata.fi/dataset/"+d.ID,
		ci["localizations"].(map[string]any)["fi"].(map[string]any)["infourl"])

	// Publishing unchanged dataset reuses every entity.
	*f.api.calls = nil
	again, err := f.service.PublishDataset(context.Background(), d.ID, true)
	require.NoError(t, err)
	require.Equal(t, item.REMSID, again.REMSID)
	require.Empty(t, f.api.callsWithPrefix("POST /api/workflows"))
	require.Empty(t, f.api.callsWithPrefix("POST /api/licenses"))
	require.Empty(t, f.api.callsWithPrefix("POST /api/resources"))
	require.Empty(t, f.api.callsWithPrefix("POST /api/catalogue-items"))
}

func TestPublishDatasetEditsLocalizations(t *testing.T) {
	f := newFixture(t)
	d := f.dataset(t, nil)
	item, err := f.service.PublishDataset(context.Background(), d.ID, true)
	require.NoError(t, err)

	f.update(t, d.ID, func(d *domain.Dataset) { d.Title["en"] = "Renamed" })
	*f.api.calls = nil
	edited, err := f.service.PublishDataset(context.Background(), d.ID, true)
	require.NoError(t, err)
	require.Equal(t, item.REMSID, edited.REMSID)
	require.Equal(t, []string{"PUT /api/catalogue-items/edit"}, f.api.callsWithPrefix("PUT /api/catalogue-items"))
	title := f.api.objects["catalogue-items"][item.REMSID]["localizations"].(map[string]any)["en"].(map[string]any)["title"]
	require.Equal(t, "Renamed", title)
}

func TestPublishDatasetArchivesRemovedTerms(t *testing.T) {
	f := newFixture(t)
	d := f.dataset(t, nil)
	item, err := f.service.PublishDataset(context.Background(), d.ID, true)
	require.NoError(t, err)
	terms := f.entities(t, false)["license:dataset-"+d.ID+"-access-terms"]

	f.update(t, d.ID, func(d *domain.Dataset) { d.AccessRights.DataAccessTerms = nil })
	next, err := f.service.PublishDataset(context.Background(), d.ID, true)
	require.NoError(t, err)
	require.NotEqual(t, item.REMSID, next.REMSID)

	all := f.entities(t, true)
	require.NotNil(t, all["license:dataset-"+d.ID+"-access-terms"].Removed)
	require.Equal(t, true, f.api.objects["licenses"][terms.REMSID]["archived"])
	require.Equal(t, true, f.api.objects["catalogue-items"][item.REMSID]["archived"])
	require.NotContains(t, f.entities(t, false), "license:dataset-"+d.ID+"-access-terms")
}

func TestPublishDatasetPreconditions(t *testing.T) {
	f := newFixture(t)
	draft := f.dataset(t, func(d *domain.Dataset) { d.State = domain.StateDraft })
	_, err := f.service.PublishDataset(context.Background(), draft.ID, false)
	require.ErrorIs(t, err, ErrNotPublished)

	open := f.dataset(t, func(d *domain.Dataset) { d.AccessRights.REMSApprovalType = "" })
	_, err = f.service.PublishDataset(context.Background(), open.ID, false)
	require.ErrorIs(t, err, ErrNotREMSDataset)
}

func TestPublishDatasetStoresError(t *testing.T) {
	f := newFixture(t)
	d := f.dataset(t, nil)
	f.api.fail["POST /api/resources/create"] = &Error{Method: "POST", Path: "/api/resources/create", Status: 400, Body: "bad resource"}

	item, err := f.service.PublishDataset(context.Background(), d.ID, false)
	require.NoError(t, err)
	require.Nil(t, item)

	var stored domain.Dataset
	require.NoError(t, f.store.View(context.Background(), func(v domain.TransactionView) error {
		stored, _ = v.FindDataset(d.ID)
		return nil
	}))
	require.Contains(t, stored.REMSPublishError, "REMS sync failed for dataset "+d.ID+" 2024-05-01T00:00:00.000Z")
	require.Contains(t, stored.REMSPublishError, "Response status 400:\n bad resource")
	n, err := f.service.PublishErrors(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	delete(f.api.fail, "POST /api/resources/create")
	_, err = f.service.PublishDataset(context.Background(), d.ID, false)
	require.NoError(t, err)
	n, err = f.service.PublishErrors(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestCustomLicense(t *testing.T) {
	f := newFixture(t)
	d := f.dataset(t, func(d *domain.Dataset) {
		d.AccessRights.DataAccessTerms = nil
		d.AccessRights.License = []domain.License{{
			URL:         domain.LicenseOther,
			Title:       domain.MultiLang{"en": "Own license"},
			Description: domain.MultiLang{"en": "Use freely"},
		}}
	})
	_, err := f.service.PublishDataset(context.Background(), d.ID, true)
	require.NoError(t, err)

	e := f.entities(t, false)["license:dataset-"+d.ID+"-license-0"]
	require.Equal(t, d.ID, e.DatasetID)
	lic := f.api.objects["licenses"][e.REMSID]
	require.Equal(t, "text", lic["licensetype"])
	require.Equal(t, map[string]any{"en": map[string]any{"title": "Own license", "textcontent": "Use freely"}}, lic["localizations"])
}

func TestCreateOrganization(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.CreateOrganization(context.Background(), "csc", domain.MultiLang{"en": "CSC"}, domain.MultiLang{"en": "CSC"})
	require.NoError(t, err)
	_, err = f.service.CreateOrganization(context.Background(), "csc", domain.MultiLang{"en": "CSC"}, domain.MultiLang{"en": "CSC Oy"})
	require.NoError(t, err)
	require.Equal(t, []string{
		"GET /api/organizations/csc", "POST /api/organizations/create",
		"GET /api/organizations/csc", "PUT /api/organizations/edit",
	}, *f.api.calls)
	require.Len(t, f.entities(t, false), 1)
}

func TestApplications(t *testing.T) {
	f := newFixture(t)
	d := f.dataset(t, nil)
	user := core.User{Username: "fd_user"}

	_, err := f.service.CreateApplication(context.Background(), user, d.ID, nil)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = f.service.PublishDataset(context.Background(), d.ID, true)
	require.NoError(t, err)

	base, err := f.service.ApplicationBase(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, base.Licenses, 2)
	var ids []int64
	terms := 0
	for _, l := range base.Licenses {
		ids = append(ids, l.ID)
		if l.IsDataAccessTerms {
			terms++
			require.Equal(t, "text", l.Type)
			require.Equal(t, "Be nice", l.Text["en"])
		}
	}
	require.Equal(t, 1, terms)

	_, err = f.service.CreateApplication(context.Background(), user, d.ID, ids[:1])
	require.ErrorContains(t, err, "All licenses need to be accepted")
	_, err = f.service.CreateApplication(context.Background(), user, d.ID, append(ids, 999))
	require.ErrorContains(t, err, "not available for the application: [999]")
	require.Empty(t, f.api.callsWithPrefix("POST /api/applications/create"))

	app, err := f.service.CreateApplication(context.Background(), user, d.ID, ids)
	require.NoError(t, err)
	appID := app["application-id"].(int64)

	got, err := f.service.GetApplication(context.Background(), user, d.ID, appID)
	require.NoError(t, err)
	marked := 0
	for _, l := range got["application/licenses"].([]any) {
		if l.(map[string]any)["is_data_access_terms"] == true {
			marked++
		}
	}
	require.Equal(t, 1, marked)

	_, err = f.service.GetApplication(context.Background(), user, "other", appID)
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)

	apps, err := f.service.ListApplications(context.Background(), user, d.ID)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	require.Equal(t, float64(appID), apps[0]["id"])

	_, err = f.service.ListApplications(context.Background(), core.User{}, d.ID)
	require.ErrorAs(t, err, &verr)
}

func TestObserverPublishes(t *testing.T) {
	f := newFixture(t)
	d := f.dataset(t, nil)
	var names []string
	var queued []func(context.Context) error
	WithDispatch(func(name string, fn func(context.Context) error) {
		names = append(names, name)
		queued = append(queued, fn)
	})(f.service)

	f.service.DatasetChanged(context.Background(), core.DatasetEvent{Kind: core.EventDeleted, Dataset: d})
	f.service.DatasetChanged(context.Background(), core.DatasetEvent{Kind: core.EventUpdated, Dataset: d})
	require.Equal(t, []string{"publish_rems_dataset"}, names)
	require.NoError(t, queued[0](context.Background()))
	require.Contains(t, f.entities(t, false), "catalogue-item:dataset-"+d.ID)

	report, err := f.service.PublishAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{d.ID}, report.Published)
	require.Empty(t, report.Failed)
}
