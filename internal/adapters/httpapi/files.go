package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"metax/internal/core"
	"metax/internal/files"
	"metax/pkg/domain"
)

// checkFileAccess limits non-admin file queries to the caller's projects or
// to a dataset the caller can view.
func (s *Server) checkFileAccess(r *http.Request, project, dataset string) error {
	u := userFrom(r)
	if u.Admin {
		return nil
	}
	if err := requireUser(u); err != nil {
		return err
	}
	if dataset != "" {
		_, err := s.Core.GetDataset(r.Context(), u, dataset, core.GetOptions{})
		return err
	}
	if project == "" || !u.HasProject(project) {
		return domain.PermissionError{Message: "You are not a member of this project."}
	}
	return nil
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	pg := q.page()
	f := files.FileFilter{
		StorageService: q.str("storage_service"),
		CSCProject:     q.str("csc_project"),
		Dataset:        q.str("dataset"),
		Filename:       q.str("filename"),
		DirectoryPath:  q.str("file_path"),
		Pathname:       q.str("pathname"),
		SizeGT:         q.optInt64("size_gt"),
		SizeLT:         q.optInt64("size_lt"),
		IncludeRemoved: q.boolean("include_removed", false),
		Offset:         pg.offset,
		Limit:          pg.limit,
	}
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.checkFileAccess(r, f.CSCProject, f.Dataset); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.Files.ListFiles(r.Context(), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writePage(w, r, pg, res.Count, res.Results)
}

// createFiles accepts a single file object or a list of them.
func (s *Server) createFiles(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	opts := files.CreateOptions{Upsert: q.boolean("upsert", false)}
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(w, err)
		return
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		s.fail(w, domain.NewValidationError("non_field_errors", "No data provided."))
		return
	}
	single := data[0] == '{'
	var entries []files.Entry
	if single {
		var e files.Entry
		err = json.Unmarshal(data, &e)
		entries = []files.Entry{e}
	} else {
		err = json.Unmarshal(data, &entries)
	}
	if err != nil {
		s.fail(w, domain.NewValidationError("non_field_errors", "JSON parse error - "+err.Error()))
		return
	}
	created, err := s.Files.CreateFiles(r.Context(), userFrom(r), entries, opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	if single {
		writeJSON(w, http.StatusCreated, created[0])
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getFile(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	includeRemoved := q.boolean("include_removed", false)
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	e, err := s.Files.GetFile(r.Context(), pathVar(r, "id"), includeRemoved)
	if err != nil {
		s.fail(w, err)
		return
	}
	if err := s.checkFileAccess(r, e.CSCProject, ""); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Files.DeleteFiles(r.Context(), userFrom(r), []string{pathVar(r, "id")}); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeIDs(r *http.Request) ([]string, error) {
	var ids []string
	if err := decode(r, &ids); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, domain.NewValidationError("non_field_errors", "Expected a non-empty list of identifiers.")
	}
	return ids, nil
}

func (s *Server) deleteFiles(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDs(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.Files.DeleteFiles(r.Context(), userFrom(r), ids)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) restoreFiles(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDs(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	n, err := s.Files.RestoreFiles(r.Context(), userFrom(r), ids)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"restored_files_count": n})
}

// fileDatasets maps file ids to dataset ids, or the reverse with
// relations=true&keys=datasets.
func (s *Server) fileDatasets(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	byDataset := q.str("keys") == "datasets"
	relations := q.boolean("relations", false)
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	if err := requireAdmin(userFrom(r)); err != nil {
		s.fail(w, err)
		return
	}
	ids, err := decodeIDs(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	rel, err := s.Files.FileDatasets(r.Context(), ids, byDataset)
	if err != nil {
		s.fail(w, err)
		return
	}
	if relations {
		writeJSON(w, http.StatusOK, rel)
		return
	}
	seen := map[string]bool{}
	out := []string{}
	for _, values := range rel {
		for _, v := range values {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) browse(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	p := files.DefaultDirectoryParams()
	p.StorageService = q.str("storage_service")
	p.CSCProject = q.str("csc_project")
	if v := q.str("path"); v != "" {
		p.Path = v
	}
	p.IncludeParent = q.boolean("include_parent", p.IncludeParent)
	p.Name = q.str("name")
	p.DirectoryFields = q.list("directory_fields")
	p.DirectoryOrdering = q.list("directory_ordering")
	p.FileFields = q.list("file_fields")
	p.FileOrdering = q.list("file_ordering")
	p.Pagination = q.boolean("pagination", p.Pagination)
	p.Offset = q.integer("offset", p.Offset)
	p.Limit = q.integer("limit", p.Limit)
	p.Dataset = q.str("dataset")
	p.IncludeAll = q.boolean("include_all", false)
	p.ExcludeDataset = q.boolean("exclude_dataset", false)
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	if err := s.checkFileAccess(r, p.CSCProject, p.Dataset); err != nil {
		s.fail(w, err)
		return
	}
	listing, err := s.Files.Browse(r.Context(), userFrom(r), p)
	if err != nil {
		s.fail(w, err)
		return
	}
	if !p.Pagination {
		writeJSON(w, http.StatusOK, listing)
		return
	}
	next, previous := files.PageLinks(s.absoluteURL(r), p.Offset, p.Limit, listing.LastIdx, listing.HasMore)
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    listing.Count,
		"next":     nilIfEmpty(next),
		"previous": nilIfEmpty(previous),
		"results":  listing,
	})
}
