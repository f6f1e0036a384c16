package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"metax/internal/files"
	"metax/pkg/domain"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail, code string) {
	body := map[string]any{"detail": detail}
	if code != "" {
		body["code"] = code
	}
	writeJSON(w, status, body)
}

// fail maps err to a status code and error body.
func (s *Server) fail(w http.ResponseWriter, err error) {
	var (
		verr     *domain.ValidationError
		rule     domain.RuleViolationError
		notFound domain.NotFoundError
		conflict domain.ConflictError
		perm     domain.PermissionError
		authn    domain.AuthenticationError
		unavail  domain.ServiceUnavailableError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, verr.Fields)
	case errors.As(err, &rule):
		writeJSON(w, http.StatusBadRequest, rule.Fields())
	case errors.As(err, &notFound):
		writeDetail(w, http.StatusNotFound, "Not found.", "not_found")
	case errors.As(err, &conflict):
		writeDetail(w, http.StatusConflict, conflict.Error(), "conflict")
	case errors.As(err, &authn):
		writeDetail(w, http.StatusUnauthorized, authn.Error(), authn.Code())
	case errors.As(err, &perm):
		writeDetail(w, http.StatusForbidden, perm.Error(), perm.Code())
	case errors.As(err, &unavail):
		s.log.Errorw("upstream service failed", "error", err)
		writeDetail(w, http.StatusServiceUnavailable, unavail.Error(), unavail.Code())
	default:
		s.log.Errorw("request failed", "error", err)
		writeDetail(w, http.StatusInternalServerError, "A server error occurred.", "error")
	}
}

// decode reads a JSON body into v.
func decode(r *http.Request, v any) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return domain.NewValidationError("non_field_errors", "No data provided.")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return domain.NewValidationError("non_field_errors", "JSON parse error - "+err.Error())
	}
	return nil
}

func pathVar(r *http.Request, name string) string { return mux.Vars(r)[name] }

// params parses query parameters, collecting errors as validation messages.
type params struct {
	q    url.Values
	verr domain.ValidationError
}

func query(r *http.Request) *params { return &params{q: r.URL.Query()} }

func (p *params) str(name string) string { return p.q.Get(name) }

func (p *params) list(name string) []string {
	var out []string
	for _, v := range p.q[name] {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (p *params) boolean(name string, def bool) bool {
	v := p.q.Get(name)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.verr.Add(name, "Must be a valid boolean.")
		return def
	}
	return b
}

func (p *params) optBool(name string) *bool {
	if p.q.Get(name) == "" {
		return nil
	}
	b := p.boolean(name, false)
	return &b
}

func (p *params) integer(name string, def int) int {
	v := p.q.Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.verr.Add(name, "A valid integer is required.")
		return def
	}
	return n
}

func (p *params) optInt64(name string) *int64 {
	v := p.q.Get(name)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.verr.Add(name, "A valid integer is required.")
		return nil
	}
	return &n
}

func (p *params) err() error { return p.verr.OrNil() }

const (
	defaultLimit = 20
	maxLimit     = 1000
)

// page holds the pagination parameters of a list request.
type page struct {
	enabled bool
	offset  int
	limit   int
}

func (p *params) page() page {
	pg := page{enabled: p.boolean("pagination", true), offset: p.integer("offset", 0), limit: p.integer("limit", defaultLimit)}
	if pg.offset < 0 {
		p.verr.Add("offset", "Ensure this value is greater than or equal to 0.")
	}
	if pg.limit < 1 {
		p.verr.Add("limit", "Ensure this value is greater than or equal to 1.")
	}
	pg.limit = min(pg.limit, maxLimit)
	if !pg.enabled {
		pg.offset, pg.limit = 0, 0
	}
	return pg
}

// absoluteURL resolves the request URL against the configured base URL.
func (s *Server) absoluteURL(r *http.Request) *url.URL {
	u := *r.URL
	if base, err := url.Parse(s.BaseURL); err == nil && base.Host != "" {
		u.Scheme, u.Host = base.Scheme, base.Host
	}
	return &u
}

// writePage writes results in the {count, next, previous, results}
// envelope, or as a bare list when pagination is disabled.
func (s *Server) writePage(w http.ResponseWriter, r *http.Request, pg page, count int, results any) {
	if !pg.enabled {
		writeJSON(w, http.StatusOK, results)
		return
	}
	next, previous := files.PageLinks(s.absoluteURL(r), pg.offset, pg.limit, pg.offset+pg.limit, count > pg.offset+pg.limit)
	body := map[string]any{"count": count, "next": nilIfEmpty(next), "previous": nilIfEmpty(previous), "results": results}
	writeJSON(w, http.StatusOK, body)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// slice returns the page of items.
func slice[T any](items []T, pg page) []T {
	if !pg.enabled {
		return items
	}
	if pg.offset >= len(items) {
		return []T{}
	}
	items = items[pg.offset:]
	if pg.limit < len(items) {
		items = items[:pg.limit]
	}
	return items
}
