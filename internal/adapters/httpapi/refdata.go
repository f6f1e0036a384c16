package httpapi

import (
	"net/http"
	"strings"

	"metax/internal/refdata"
	"metax/pkg/domain"
)

// refdataType accepts both access_type and access-type spellings.
func refdataType(r *http.Request) domain.RefdataType {
	return domain.RefdataType(strings.ReplaceAll(pathVar(r, "type"), "-", "_"))
}

func (s *Server) listRefdataTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, domain.RefdataTypes)
}

func (s *Server) listRefdata(w http.ResponseWriter, r *http.Request) {
	if s.Refdata == nil {
		writeDetail(w, http.StatusNotFound, "Not found.", "not_found")
		return
	}
	q := query(r)
	pg := q.page()
	rq := refdata.Query{
		PrefLabel:         q.str("pref_label"),
		URL:               q.str("url"),
		IncludeDeprecated: q.boolean("deprecated", false),
	}
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	concepts, err := s.Refdata.List(r.Context(), refdataType(r), rq)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writePage(w, r, pg, len(concepts), slice(concepts, pg))
}

func (s *Server) getRefdata(w http.ResponseWriter, r *http.Request) {
	if s.Refdata == nil {
		writeDetail(w, http.StatusNotFound, "Not found.", "not_found")
		return
	}
	c, err := s.Refdata.Get(r.Context(), refdataType(r), pathVar(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}
