package httpapi

import "net/http"

func (s *Server) listMigrated(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	q := query(r)
	pg := q.page()
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	recs, err := s.Core.ListLegacyDatasets(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writePage(w, r, pg, len(recs), slice(recs, pg))
}

// migrateDataset imports a V2 dataset document. With convert_only=true the
// converted dataset is returned without storing anything.
func (s *Server) migrateDataset(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	if s.Migrator == nil {
		writeDetail(w, http.StatusNotFound, "Not found.", "not_found")
		return
	}
	q := query(r)
	convertOnly := q.boolean("convert_only", false)
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	var doc map[string]any
	if err := decode(r, &doc); err != nil {
		s.fail(w, err)
		return
	}
	if convertOnly {
		res, err := s.Migrator.Convert(r.Context(), doc)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"dataset": res.Dataset,
			"invalid": res.InvalidPaths(),
			"fixed":   res.FixedPaths(),
		})
		return
	}
	out, err := s.Migrator.Migrate(r.Context(), doc)
	if out.Error != "" {
		writeJSON(w, http.StatusBadRequest, out)
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	status := http.StatusOK
	if out.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, out)
}

