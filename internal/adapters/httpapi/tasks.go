package httpapi

import (
	"net/http"

	"metax/internal/tasks"
)

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	if s.Tasks == nil {
		writeJSON(w, http.StatusOK, []tasks.Task{})
		return
	}
	q := query(r)
	pg := q.page()
	tq := tasks.Query{
		Name:     q.str("name"),
		Group:    q.str("group"),
		Success:  q.optBool("success"),
		Ordering: q.str("ordering"),
	}
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	list, err := s.Tasks.List(tq)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writePage(w, r, pg, len(list), slice(list, pg))
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	if s.Tasks == nil {
		writeDetail(w, http.StatusNotFound, "Not found.", "not_found")
		return
	}
	t, err := s.Tasks.Get(pathVar(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
