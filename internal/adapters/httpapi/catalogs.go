package httpapi

import (
	"net/http"

	"metax/pkg/domain"
)

func (s *Server) listCatalogs(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	pg := q.page()
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	catalogs, err := s.Core.ListDataCatalogs(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writePage(w, r, pg, len(catalogs), slice(catalogs, pg))
}

func (s *Server) createCatalog(w http.ResponseWriter, r *http.Request) {
	var c domain.DataCatalog
	if err := decode(r, &c); err != nil {
		s.fail(w, err)
		return
	}
	created, _, err := s.Core.CreateDataCatalog(r.Context(), userFrom(r), c)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getCatalog(w http.ResponseWriter, r *http.Request) {
	c, err := s.Core.GetDataCatalog(r.Context(), pathVar(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateCatalog(w http.ResponseWriter, r *http.Request) {
	var body domain.DataCatalog
	if err := decode(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	updated, _, err := s.Core.UpdateDataCatalog(r.Context(), userFrom(r), pathVar(r, "id"), func(c *domain.DataCatalog) error {
		base := c.Base
		*c = body
		c.Base = base
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteCatalog(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Core.DeleteDataCatalog(r.Context(), userFrom(r), pathVar(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listOrganizations(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	pg := q.page()
	referenceOnly := q.boolean("reference_only", false)
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	orgs, err := s.Core.ListOrganizations(r.Context(), referenceOnly)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writePage(w, r, pg, len(orgs), slice(orgs, pg))
}

func (s *Server) createOrganization(w http.ResponseWriter, r *http.Request) {
	var o domain.Organization
	if err := decode(r, &o); err != nil {
		s.fail(w, err)
		return
	}
	created, _, err := s.Core.CreateOrganization(r.Context(), userFrom(r), o)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getOrganization(w http.ResponseWriter, r *http.Request) {
	o, err := s.Core.GetOrganization(r.Context(), pathVar(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// Contracts are visible to administrators only.

func (s *Server) listContracts(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	pg := q.page()
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	if err := requireAdmin(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	contracts, err := s.Core.ListContracts(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writePage(w, r, pg, len(contracts), slice(contracts, pg))
}

func (s *Server) createContract(w http.ResponseWriter, r *http.Request) {
	var c domain.Contract
	if err := decode(r, &c); err != nil {
		s.fail(w, err)
		return
	}
	created, _, err := s.Core.CreateContract(r.Context(), userFrom(r), c)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getContract(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	c, err := s.Core.GetContract(r.Context(), pathVar(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateContract(w http.ResponseWriter, r *http.Request) {
	var body domain.Contract
	if err := decode(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	updated, _, err := s.Core.UpdateContract(r.Context(), userFrom(r), pathVar(r, "id"), func(c *domain.Contract) error {
		base := c.Base
		*c = body
		c.Base = base
		return nil
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
