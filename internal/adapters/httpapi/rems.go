package httpapi

import (
	"net/http"
	"strconv"

	"metax/internal/core"
	"metax/pkg/domain"
)

// remsDataset resolves the dataset of a REMS route. It fails with 404 when
// REMS is disabled or the dataset is not visible to the caller.
func (s *Server) remsDataset(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.REMS == nil {
		writeDetail(w, http.StatusNotFound, "REMS is not enabled.", "not_found")
		return "", false
	}
	d, err := s.Core.GetDataset(r.Context(), userFrom(r), pathVar(r, "id"), core.GetOptions{})
	if err != nil {
		s.fail(w, err)
		return "", false
	}
	return d.ID, true
}

func (s *Server) applicationBase(w http.ResponseWriter, r *http.Request) {
	id, ok := s.remsDataset(w, r)
	if !ok {
		return
	}
	base, err := s.REMS.ApplicationBase(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, base)
}

func (s *Server) listApplications(w http.ResponseWriter, r *http.Request) {
	if err := requireUser(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	id, ok := s.remsDataset(w, r)
	if !ok {
		return
	}
	apps, err := s.REMS.ListApplications(r.Context(), userFrom(r), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, apps)
}

func (s *Server) createApplication(w http.ResponseWriter, r *http.Request) {
	if err := requireUser(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	id, ok := s.remsDataset(w, r)
	if !ok {
		return
	}
	var body struct {
		AcceptLicenses []int64 `json:"accept_licenses"`
	}
	if err := decode(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	app, err := s.REMS.CreateApplication(r.Context(), userFrom(r), id, body.AcceptLicenses)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, app)
}

func (s *Server) getApplication(w http.ResponseWriter, r *http.Request) {
	if err := requireUser(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	appID, err := strconv.ParseInt(pathVar(r, "application"), 10, 64)
	if err != nil {
		s.fail(w, domain.NotFoundError{Entity: "rems_application", ID: pathVar(r, "application")})
		return
	}
	id, ok := s.remsDataset(w, r)
	if !ok {
		return
	}
	app, err := s.REMS.GetApplication(r.Context(), userFrom(r), id, appID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

func (s *Server) entitlements(w http.ResponseWriter, r *http.Request) {
	if err := requireUser(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	id, ok := s.remsDataset(w, r)
	if !ok {
		return
	}
	ents, err := s.REMS.Entitlements(r.Context(), userFrom(r), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ents)
}
