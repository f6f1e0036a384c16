package legacy

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"metax/internal/config"
	"metax/internal/core"
	"metax/internal/httpx"
	"metax/pkg/domain"
)

// Source provides V2 dataset documents and their files.
type Source interface {
	Dataset(ctx context.Context, id string) (map[string]any, error)
	Files(ctx context.Context, id string) ([]map[string]any, error)
}

// V2Source reads datasets from the V2 REST API.
type V2Source struct {
	http *httpx.Client
}

// NewV2Source returns a source for the V2 host in cfg.
func NewV2Source(cfg config.V2Config) *V2Source {
	host := strings.TrimRight(cfg.Host, "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.User + ":" + cfg.Password))
	return &V2Source{http: httpx.New(host+"/rest/v2", http.Header{"Authorization": {"Basic " + auth}})}
}

// Dataset fetches a dataset including removed ones.
func (s *V2Source) Dataset(ctx context.Context, id string) (map[string]any, error) {
	q := url.Values{"removed": {"true"}, "include_user_metadata": {"true"}}
	resp, err := s.http.Do(ctx, httpx.Request{Method: http.MethodGet, Path: "/datasets/" + url.PathEscape(id) + "?" + q.Encode()})
	if err != nil {
		if httpx.IsStatus(err, http.StatusNotFound) {
			return nil, domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
		}
		return nil, fmt.Errorf("fetch v2 dataset %s: %w", id, err)
	}
	var doc map[string]any
	if err := resp.JSON(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Files fetches the files of a dataset.
func (s *V2Source) Files(ctx context.Context, id string) ([]map[string]any, error) {
	q := url.Values{"removed_files": {"true"}}
	resp, err := s.http.Do(ctx, httpx.Request{Method: http.MethodGet, Path: "/datasets/" + url.PathEscape(id) + "/files?" + q.Encode()})
	if err != nil {
		return nil, fmt.Errorf("fetch v2 files of %s: %w", id, err)
	}
	var files []map[string]any
	if err := resp.JSON(&files); err != nil {
		return nil, err
	}
	return files, nil
}

// ListIdentifiers pages through the dataset identifiers of a catalog. An
// empty catalog lists all datasets.
func (s *V2Source) ListIdentifiers(ctx context.Context, catalog string) ([]string, error) {
	const limit = 1000
	var ids []string
	for offset := 0; ; offset += limit {
		q := url.Values{
			"fields":  {"identifier"},
			"removed": {"true"},
			"limit":   {strconv.Itoa(limit)},
			"offset":  {strconv.Itoa(offset)},
		}
		if catalog != "" {
			q.Set("data_catalog", catalog)
		}
		resp, err := s.http.Do(ctx, httpx.Request{Method: http.MethodGet, Path: "/datasets?" + q.Encode()})
		if err != nil {
			return nil, fmt.Errorf("list v2 datasets: %w", err)
		}
		var page struct {
			Results []struct {
				Identifier string `json:"identifier"`
			} `json:"results"`
			Next *string `json:"next"`
		}
		if err := resp.JSON(&page); err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			ids = append(ids, r.Identifier)
		}
		if page.Next == nil || len(page.Results) == 0 {
			return ids, nil
		}
	}
}

// ReadFile reads a JSON file holding a list of V2 datasets or a single
// dataset.
func ReadFile(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []map[string]any
	if err := json.Unmarshal(data, &list); err == nil {
		return list, nil
	}
	var single map[string]any
	if err := json.Unmarshal(data, &single); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return []map[string]any{single}, nil
}

var storageServices = map[string]string{
	"urn:nbn:fi:att:file-storage-ida": "ida",
	"urn:nbn:fi:att:file-storage-pas": "pas",
}

// ConvertFiles maps V2 file objects of one dataset to a LegacyFiles. All
// files need to be in the same storage project.
func ConvertFiles(files []map[string]any) (*core.LegacyFiles, error) {
	if len(files) == 0 {
		return nil, nil
	}
	out := &core.LegacyFiles{}
	for _, f := range files {
		storage := str(f, "file_storage")
		if m, ok := f["file_storage"].(map[string]any); ok {
			storage = str(m, "identifier")
		}
		service, ok := storageServices[storage]
		if !ok {
			return nil, domain.NewValidationError("files", fmt.Sprintf("Unknown file storage %q.", storage))
		}
		project := str(f, "project_identifier")
		if out.StorageService == "" {
			out.StorageService, out.CSCProject = service, project
		} else if out.StorageService != service || out.CSCProject != project {
			return nil, domain.NewValidationError("files", "Dataset files need to be in a single storage project.")
		}
		legacyID, _ := f["id"].(float64)
		path := str(f, "file_path")
		dir, name := "/", strings.TrimPrefix(path, "/")
		if i := strings.LastIndexByte(path, '/'); i >= 0 {
			dir, name = path[:i+1], path[i+1:]
		}
		size, _ := f["byte_size"].(float64)
		file := domain.File{
			StorageIdentifier: str(f, "identifier"),
			DirectoryPath:     dir,
			Filename:          name,
			Size:              int64(size),
			Checksum:          checksum(mapValue(f["checksum"]), "value"),
			Frozen:            optionalTime(str(f, "file_frozen")),
			FileModified:      optionalTime(str(f, "file_modified")),
			LegacyID:          int64(legacyID),
		}
		if truthy(f["removed"]) {
			file.Removed = optionalTime(firstNonEmpty(str(f, "date_removed"), str(f, "date_modified")))
		}
		out.Files = append(out.Files, file)
	}
	return out, nil
}

func mapValue(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func optionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil
	}
	return &t
}
