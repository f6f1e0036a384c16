package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"metax/internal/core"
	"metax/pkg/domain"
)

// datasetResponse is the rendered form of a dataset.
type datasetResponse struct {
	domain.Dataset
	Fileset *domain.FileSetSummary `json:"fileset,omitempty"`
}

// Render produces the JSON representation of d, including its file set
// summary. It matches cache.RenderFunc.
func (s *Server) Render(ctx context.Context, d domain.Dataset) ([]byte, error) {
	out := datasetResponse{Dataset: d}
	_, sum, err := s.Core.GetFileSet(ctx, core.System, d.ID)
	var nf domain.NotFoundError
	switch {
	case err == nil:
		out.Fileset = &sum
	case errors.As(err, &nf) && nf.Entity == domain.EntityFileSet:
	default:
		return nil, err
	}
	return json.Marshal(out)
}

// renderCached serves published datasets through the representation cache.
func (s *Server) renderCached(ctx context.Context, d domain.Dataset) ([]byte, error) {
	if d.IsPublished() && !d.IsRemoved() {
		return s.Cache.Render(ctx, d, s.Render)
	}
	return s.Render(ctx, d)
}

func (s *Server) writeDataset(w http.ResponseWriter, r *http.Request, status int, d domain.Dataset) {
	body, err := s.renderCached(r.Context(), d)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, status, json.RawMessage(body))
}

func (s *Server) listDatasets(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	pg := q.page()
	f := core.DatasetFilter{
		State:                domain.State(q.str("state")),
		DataCatalog:          q.str("data_catalog__id"),
		PersistentIdentifier: q.str("persistent_identifier"),
		Search:               q.str("search"),
		OwnerUser:            q.str("metadata_owner__user"),
		OwnerOrganization:    q.str("metadata_owner__organization"),
		IncludeRemoved:       q.boolean("include_removed", false),
		LatestVersions:       q.boolean("latest_versions", false),
		HasFiles:             q.optBool("has_files"),
		StorageService:       q.str("storage_service"),
		CSCProject:           q.str("csc_project"),
		Ordering:             q.str("ordering"),
		Offset:               pg.offset,
		Limit:                pg.limit,
	}
	if f.DataCatalog == "" {
		f.DataCatalog = q.str("data_catalog")
	}
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.Core.ListDatasets(r.Context(), userFrom(r), f)
	if err != nil {
		s.fail(w, err)
		return
	}
	rendered := make([]json.RawMessage, 0, len(res.Results))
	for _, d := range res.Results {
		body, err := s.renderCached(r.Context(), d)
		if err != nil {
			s.fail(w, err)
			return
		}
		rendered = append(rendered, body)
	}
	s.writePage(w, r, pg, res.Count, rendered)
}

func (s *Server) getDataset(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	opts := core.GetOptions{IncludeRemoved: q.boolean("include_removed", false)}
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	d, err := s.Core.GetDataset(r.Context(), userFrom(r), pathVar(r, "id"), opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeDataset(w, r, http.StatusOK, d)
}

// datasetRequest is a dataset body with an optional file set update.
type datasetRequest struct {
	domain.Dataset
	Fileset *core.FileSetUpdate
}

func decodeDataset(r *http.Request) (datasetRequest, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return datasetRequest{}, err
	}
	var req datasetRequest
	if err := json.Unmarshal(data, &req.Dataset); err != nil {
		return req, domain.NewValidationError("non_field_errors", "JSON parse error - "+err.Error())
	}
	var extra struct {
		Fileset *core.FileSetUpdate `json:"fileset"`
	}
	if err := json.Unmarshal(data, &extra); err != nil {
		return req, domain.NewValidationError("fileset", err.Error())
	}
	req.Fileset = extra.Fileset
	return req, nil
}

// applyFileset runs the file set update of a dataset request.
func (s *Server) applyFileset(ctx context.Context, u core.User, d domain.Dataset, upd *core.FileSetUpdate) (domain.Dataset, error) {
	if upd == nil {
		return d, nil
	}
	if _, _, err := s.Core.UpdateFileSet(ctx, u, d.ID, *upd); err != nil {
		return d, err
	}
	return s.Core.GetDataset(ctx, u, d.ID, core.GetOptions{})
}

func (s *Server) createDataset(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	req, err := decodeDataset(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	d, _, err := s.Core.CreateDataset(r.Context(), u, req.Dataset)
	if err != nil {
		s.fail(w, err)
		return
	}
	if d, err = s.applyFileset(r.Context(), u, d, req.Fileset); err != nil {
		s.fail(w, err)
		return
	}
	s.writeDataset(w, r, http.StatusCreated, d)
}

func (s *Server) replaceDataset(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r)
	req, err := decodeDataset(r)
	if err != nil {
		s.fail(w, err)
		return
	}
	d, _, err := s.Core.ReplaceDataset(r.Context(), u, pathVar(r, "id"), req.Dataset)
	if err != nil {
		s.fail(w, err)
		return
	}
	if d, err = s.applyFileset(r.Context(), u, d, req.Fileset); err != nil {
		s.fail(w, err)
		return
	}
	s.writeDataset(w, r, http.StatusOK, d)
}

func (s *Server) patchDataset(w http.ResponseWriter, r *http.Request) {
	patch, err := io.ReadAll(r.Body)
	if err != nil {
		s.fail(w, err)
		return
	}
	d, _, err := s.Core.PatchDataset(r.Context(), userFrom(r), pathVar(r, "id"), patch)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeDataset(w, r, http.StatusOK, d)
}

func (s *Server) deleteDataset(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	flush := q.boolean("flush", false)
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	if _, err := s.Core.DeleteDataset(r.Context(), userFrom(r), pathVar(r, "id"), flush); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publishDataset(w http.ResponseWriter, r *http.Request) {
	d, _, err := s.Core.PublishDataset(r.Context(), userFrom(r), pathVar(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeDataset(w, r, http.StatusOK, d)
}

func (s *Server) newVersion(w http.ResponseWriter, r *http.Request) {
	d, _, err := s.Core.CreateNewVersion(r.Context(), userFrom(r), pathVar(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeDataset(w, r, http.StatusCreated, d)
}

func (s *Server) createDraft(w http.ResponseWriter, r *http.Request) {
	d, _, err := s.Core.CreateNewDraft(r.Context(), userFrom(r), pathVar(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeDataset(w, r, http.StatusCreated, d)
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.Core.ListVersions(r.Context(), userFrom(r), pathVar(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

// listRevisions lists the revisions of a dataset, or returns a single one
// when version or published_revision is given.
func (s *Server) listRevisions(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	rq := core.RevisionQuery{Name: q.str("version"), Publication: q.integer("published_revision", 0)}
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	u, id := userFrom(r), pathVar(r, "id")
	if rq.Name != "" || rq.Publication > 0 {
		rev, err := s.Core.GetRevision(r.Context(), u, id, rq)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rev)
		return
	}
	revs, err := s.Core.ListRevisions(r.Context(), u, id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, revs)
}

func (s *Server) getDatasetFiles(w http.ResponseWriter, r *http.Request) {
	_, sum, err := s.Core.GetFileSet(r.Context(), userFrom(r), pathVar(r, "id"))
	var nf domain.NotFoundError
	if errors.As(err, &nf) && nf.Entity == domain.EntityFileSet {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) updateDatasetFiles(w http.ResponseWriter, r *http.Request) {
	var upd core.FileSetUpdate
	if err := decode(r, &upd); err != nil {
		s.fail(w, err)
		return
	}
	res, _, err := s.Core.UpdateFileSet(r.Context(), userFrom(r), pathVar(r, "id"), upd)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// metadataDownload renders a dataset as DataCite XML. With export=true the
// document is stored in the blob store and its location returned.
func (s *Server) metadataDownload(w http.ResponseWriter, r *http.Request) {
	q := query(r)
	format := q.str("format")
	export := q.boolean("export", false)
	if format == "" {
		format = "datacite"
	}
	if format != "datacite" && format != "json" {
		q.verr.Add("format", "Unsupported format \""+format+"\".")
	}
	if err := q.err(); err != nil {
		s.fail(w, err)
		return
	}
	ctx, u := r.Context(), userFrom(r)
	d, err := s.Core.GetDataset(ctx, u, pathVar(r, "id"), core.GetOptions{})
	if err != nil {
		s.fail(w, err)
		return
	}
	if format == "json" {
		w.Header().Set("Content-Disposition", `attachment; filename="`+d.ID+`-metadata.json"`)
		s.writeDataset(w, r, http.StatusOK, d)
		return
	}
	var size int64
	if _, sum, err := s.Core.GetFileSet(ctx, u, d.ID); err == nil {
		size = sum.TotalFilesSize
	}
	if export {
		if s.Blobs == nil {
			s.fail(w, domain.NotFoundError{Entity: "blob_store"})
			return
		}
		info, err := s.DataCite.Export(ctx, s.Blobs, d, size)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
		return
	}
	doc, err := s.DataCite.Build(d, size).XML()
	if err != nil {
		s.fail(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.Header().Set("Content-Disposition", `attachment; filename="`+d.ID+`-datacite.xml"`)
	_, _ = w.Write(doc)
}
