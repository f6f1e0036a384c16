// Package httpapi serves the REST API under /v3 and /rest/v3.
package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"metax/docs/schema/openapi"
	"metax/internal/blob"
	"metax/internal/cache"
	"metax/internal/config"
	"metax/internal/core"
	"metax/internal/datacite"
	"metax/internal/files"
	"metax/internal/legacy"
	"metax/internal/logging"
	"metax/internal/observability"
	"metax/internal/refdata"
	"metax/internal/rems"
	"metax/internal/tasks"
)

// Deps are the services behind the API. Core, Files and Auth are required;
// routes of missing optional services answer 404.
type Deps struct {
	Core     *core.Service
	Files    *files.Service
	REMS     *rems.Service
	Refdata  *refdata.Service
	Migrator *legacy.Migrator
	Tasks    *tasks.Runner
	Cache    *cache.Cache
	DataCite *datacite.Builder
	Blobs    blob.Store
	Metrics  *observability.Metrics
	Watchman *observability.Watchman
	Auth     config.AuthConfig
	BaseURL  string
	Log      logging.Logger
}

// Server routes API requests to the services.
type Server struct {
	Deps
	log logging.Logger
}

// New returns a server over deps.
func New(deps Deps) *Server {
	if deps.DataCite == nil {
		deps.DataCite = datacite.NewBuilder()
	}
	return &Server{Deps: deps, log: logging.OrNop(deps.Log).Named("http")}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.observe, s.authenticate)

	for _, prefix := range []string{"/v3", "/rest/v3"} {
		s.routes(r.PathPrefix(prefix).Subrouter())
	}
	if s.Watchman != nil {
		r.Handle("/watchman", s.Watchman).Methods(http.MethodGet)
		r.Handle("/watchman/", s.Watchman).Methods(http.MethodGet)
	}
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, "Not found.", "not_found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, http.StatusMethodNotAllowed, "Method \""+r.Method+"\" not allowed.", "method_not_allowed")
	})
	return r
}

func (s *Server) routes(r *mux.Router) {
	get, post, put, patch, del := http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete

	r.HandleFunc("/datasets", s.listDatasets).Methods(get)
	r.HandleFunc("/datasets", s.createDataset).Methods(post)
	r.HandleFunc("/datasets/{id}", s.getDataset).Methods(get)
	r.HandleFunc("/datasets/{id}", s.replaceDataset).Methods(put)
	r.HandleFunc("/datasets/{id}", s.patchDataset).Methods(patch)
	r.HandleFunc("/datasets/{id}", s.deleteDataset).Methods(del)
	r.HandleFunc("/datasets/{id}/publish", s.publishDataset).Methods(post)
	r.HandleFunc("/datasets/{id}/new-version", s.newVersion).Methods(post)
	r.HandleFunc("/datasets/{id}/create-draft", s.createDraft).Methods(post)
	r.HandleFunc("/datasets/{id}/versions", s.listVersions).Methods(get)
	r.HandleFunc("/datasets/{id}/revisions", s.listRevisions).Methods(get)
	r.HandleFunc("/datasets/{id}/files", s.getDatasetFiles).Methods(get)
	r.HandleFunc("/datasets/{id}/files", s.updateDatasetFiles).Methods(patch, post)
	r.HandleFunc("/datasets/{id}/metadata-download", s.metadataDownload).Methods(get)
	r.HandleFunc("/datasets/{id}/rems-applications", s.listApplications).Methods(get)
	r.HandleFunc("/datasets/{id}/rems-applications", s.createApplication).Methods(post)
	r.HandleFunc("/datasets/{id}/rems-applications/{application}", s.getApplication).Methods(get)
	r.HandleFunc("/datasets/{id}/rems-application-base", s.applicationBase).Methods(get)
	r.HandleFunc("/datasets/{id}/rems-entitlements", s.entitlements).Methods(get)

	r.HandleFunc("/files", s.listFiles).Methods(get)
	r.HandleFunc("/files", s.createFiles).Methods(post)
	r.HandleFunc("/files/delete-many", s.deleteFiles).Methods(post)
	r.HandleFunc("/files/restore-many", s.restoreFiles).Methods(post)
	r.HandleFunc("/files/datasets", s.fileDatasets).Methods(post)
	r.HandleFunc("/files/{id}", s.getFile).Methods(get)
	r.HandleFunc("/files/{id}", s.deleteFile).Methods(del)
	r.HandleFunc("/directories", s.browse).Methods(get)

	r.HandleFunc("/data-catalogs", s.listCatalogs).Methods(get)
	r.HandleFunc("/data-catalogs", s.createCatalog).Methods(post)
	r.HandleFunc("/data-catalogs/{id}", s.getCatalog).Methods(get)
	r.HandleFunc("/data-catalogs/{id}", s.updateCatalog).Methods(put)
	r.HandleFunc("/data-catalogs/{id}", s.deleteCatalog).Methods(del)

	r.HandleFunc("/organizations", s.listOrganizations).Methods(get)
	r.HandleFunc("/organizations", s.createOrganization).Methods(post)
	r.HandleFunc("/organizations/{id}", s.getOrganization).Methods(get)

	r.HandleFunc("/contracts", s.listContracts).Methods(get)
	r.HandleFunc("/contracts", s.createContract).Methods(post)
	r.HandleFunc("/contracts/{id}", s.getContract).Methods(get)
	r.HandleFunc("/contracts/{id}", s.updateContract).Methods(put)

	r.HandleFunc("/reference-data", s.listRefdataTypes).Methods(get)
	r.HandleFunc("/reference-data/{type}", s.listRefdata).Methods(get)
	r.HandleFunc("/reference-data/{type}/{id}", s.getRefdata).Methods(get)

	r.HandleFunc("/migrated-datasets", s.listMigrated).Methods(get)
	r.HandleFunc("/migrated-datasets", s.migrateDataset).Methods(post)

	r.HandleFunc("/tasks", s.listTasks).Methods(get)
	r.HandleFunc("/tasks/{id}", s.getTask).Methods(get)

	r.HandleFunc("/swagger.json", s.swagger).Methods(get)
}

func (s *Server) swagger(w http.ResponseWriter, _ *http.Request) {
	doc, err := openapi.JSON()
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// observe logs requests and counts them by route template.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		started := time.Now()
		next.ServeHTTP(rec, r)
		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = strings.Replace(tpl, "/rest/v3", "/v3", 1)
			}
		}
		if s.Metrics != nil {
			s.Metrics.ObserveRequest(route, r.Method, rec.status)
		}
		s.log.Debugw("request", "method", r.Method, "route", route, "status", rec.status, "duration", time.Since(started))
	})
}
