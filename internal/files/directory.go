package files

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"metax/internal/core"
	"metax/pkg/domain"
)

var (
	directoryFields = []string{"name", "pathname", "file_count", "size", "created", "modified", "dataset_metadata"}
	fileFields      = []string{
		"id", "storage_identifier", "storage_service", "csc_project", "filename", "directory_path", "pathname",
		"size", "checksum", "frozen", "modified_on_storage", "removed", "published", "created", "modified",
		"legacy_id", "dataset_metadata",
	}
	directoryOrderings = withDescending("name", "pathname", "file_count", "size", "created", "modified")
	fileOrderings      = withDescending("filename", "pathname", "size", "created", "modified", "frozen", "modified_on_storage", "removed")
)

func withDescending(fields ...string) []string {
	out := slices.Clone(fields)
	for _, f := range fields {
		out = append(out, "-"+f)
	}
	return out
}

// DirectoryParams selects the contents of a directory listing.
type DirectoryParams struct {
	StorageService string
	CSCProject     string
	Path           string
	IncludeParent  bool
	// Name filters direct subdirectories and files case-insensitively.
	Name              string
	DirectoryFields   []string
	DirectoryOrdering []string
	FileFields        []string
	FileOrdering      []string
	Pagination        bool
	Offset            int
	Limit             int

	// Dataset restricts the listing to items of a dataset unless IncludeAll
	// is set. ExcludeDataset lists only items missing from the dataset.
	Dataset        string
	IncludeAll     bool
	ExcludeDataset bool
}

// DefaultDirectoryParams returns the parameters used when a query omits them.
func DefaultDirectoryParams() DirectoryParams {
	return DirectoryParams{Path: "/", IncludeParent: true, Pagination: true, Limit: 100}
}

func choices(verr *domain.ValidationError, field string, values, allowed []string) {
	for _, v := range values {
		if !slices.Contains(allowed, v) {
			verr.Add(field, fmt.Sprintf("%q is not a valid choice.", v))
		}
	}
}

// Validate normalizes the path and checks parameter combinations.
func (p *DirectoryParams) Validate() error {
	verr := &domain.ValidationError{}
	if p.StorageService == "" {
		verr.Add("storage_service", "This field is required.")
	}
	if p.Path == "" {
		p.Path = "/"
	}
	if !strings.HasPrefix(p.Path, "/") {
		p.Path = "/" + p.Path
	}
	if !strings.HasSuffix(p.Path, "/") {
		p.Path += "/"
	}
	if p.Offset < 0 {
		verr.Add("offset", "Ensure this value is greater than or equal to 0.")
	}
	if p.Limit < 0 {
		verr.Add("limit", "Ensure this value is greater than or equal to 0.")
	}
	choices(verr, "directory_fields", p.DirectoryFields, directoryFields)
	choices(verr, "file_fields", p.FileFields, fileFields)
	choices(verr, "directory_ordering", p.DirectoryOrdering, directoryOrderings)
	choices(verr, "file_ordering", p.FileOrdering, fileOrderings)
	if p.IncludeAll && p.ExcludeDataset {
		verr.Add("exclude_dataset", "Fields include_all and exclude_dataset cannot be used together.")
	} else if p.ExcludeDataset && p.Dataset == "" {
		verr.Add("exclude_dataset", "The dataset field is required when exclude_dataset is enabled.")
	}
	return verr.OrNil()
}

// Directory is a directory aggregated from the files below it.
type Directory struct {
	Name            string                    `json:"name"`
	Pathname        string                    `json:"pathname"`
	FileCount       int                       `json:"file_count"`
	Size            int64                     `json:"size"`
	Created         *time.Time                `json:"created"`
	Modified        *time.Time                `json:"modified"`
	DatasetMetadata *domain.DirectoryMetadata `json:"dataset_metadata,omitempty"`
}

func (d *Directory) add(f domain.File) {
	d.FileCount++
	d.Size += f.Size
	if d.Created == nil || f.Created.Before(*d.Created) {
		c := f.Created
		d.Created = &c
	}
	if d.Modified == nil || f.Modified.After(*d.Modified) {
		m := f.Modified
		d.Modified = &m
	}
}

func (d *Directory) merge(o Directory) {
	d.FileCount += o.FileCount
	d.Size += o.Size
	if o.Created != nil && (d.Created == nil || o.Created.Before(*d.Created)) {
		d.Created = o.Created
	}
	if o.Modified != nil && (d.Modified == nil || o.Modified.After(*d.Modified)) {
		d.Modified = o.Modified
	}
}

// Listing is the content of one directory.
type Listing struct {
	Parent      *Directory
	Directories []Directory
	Files       []Entry
	// Count is the number of matching subdirectories and files before pagination.
	Count   int
	LastIdx int
	HasMore bool

	directoryFields []string
	fileFields      []string
}

// MarshalJSON renders the listing honoring the selected fields.
func (l Listing) MarshalJSON() ([]byte, error) {
	out := map[string]any{}
	if l.Parent != nil {
		parent, err := project(l.Parent, l.directoryFields)
		if err != nil {
			return nil, err
		}
		out["directory"] = parent
	}
	dirs := make([]map[string]any, 0, len(l.Directories))
	for i := range l.Directories {
		m, err := project(l.Directories[i], l.directoryFields)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, m)
	}
	files := make([]map[string]any, 0, len(l.Files))
	for i := range l.Files {
		m, err := project(l.Files[i], l.fileFields)
		if err != nil {
			return nil, err
		}
		files = append(files, m)
	}
	out["directories"] = dirs
	out["files"] = files
	return json.Marshal(out)
}

// project converts v to a JSON object containing only fields. All fields
// are kept when fields is empty.
func project(v any, fields []string) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return m, nil
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if val, ok := m[f]; ok {
			out[f] = val
		} else {
			out[f] = nil
		}
	}
	return out, nil
}

func wantsMetadata(fields []string) bool {
	return len(fields) == 0 || slices.Contains(fields, "dataset_metadata")
}

// subdirectoryName returns the name of the direct child of path containing
// dirPath, or "" when the file lies directly in path.
func subdirectoryName(path, dirPath string) string {
	level := strings.Count(path, "/")
	parts := strings.Split(dirPath, "/")
	if level >= len(parts) {
		return ""
	}
	return parts[level]
}

// Browse lists the subdirectories and files directly under p.Path.
func (s *Service) Browse(ctx context.Context, u core.User, p DirectoryParams) (Listing, error) {
	if err := p.Validate(); err != nil {
		return Listing{}, err
	}
	if !u.HasProject(p.CSCProject) && p.Dataset == "" {
		return Listing{}, domain.PermissionError{}
	}
	l := Listing{directoryFields: p.DirectoryFields, fileFields: p.FileFields}
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		st, ok := findStorage(v, p.StorageService, p.CSCProject)
		var fs domain.FileSet
		if p.Dataset != "" {
			d, found := v.FindDataset(p.Dataset)
			if !found {
				return domain.NotFoundError{Entity: domain.EntityDataset, ID: p.Dataset}
			}
			var catalog *domain.DataCatalog
			if c, found := v.FindDataCatalog(d.DataCatalog); found {
				catalog = &c
			}
			if !u.HasProject(p.CSCProject) && !u.CanView(d, catalog) {
				return domain.PermissionError{}
			}
			fs, _ = v.FindFileSet(p.Dataset)
		}
		if !ok {
			return nil
		}
		inDataset := map[string]bool{}
		for _, id := range fs.FileIDs {
			inDataset[id] = true
		}

		groups := map[string]*Directory{}
		var direct []domain.File
		for _, f := range v.ListFiles() {
			switch {
			case f.StorageID != st.ID, f.Removed != nil,
				!strings.HasPrefix(f.DirectoryPath, p.Path),
				p.ExcludeDataset && inDataset[f.ID],
				p.Dataset != "" && !p.ExcludeDataset && !p.IncludeAll && !inDataset[f.ID]:
				continue
			}
			name := subdirectoryName(p.Path, f.DirectoryPath)
			g, ok := groups[name]
			if !ok {
				g = &Directory{Name: name, Pathname: p.Path + name + "/"}
				groups[name] = g
			}
			g.add(f)
			if name == "" {
				direct = append(direct, f)
			}
		}

		if p.IncludeParent {
			parts := strings.Split(p.Path, "/")
			parent := &Directory{Name: parts[len(parts)-2], Pathname: p.Path}
			for _, g := range groups {
				parent.merge(*g)
			}
			l.Parent = parent
		}

		var subdirs []Directory
		for name, g := range groups {
			if name == "" {
				continue
			}
			if p.Name != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(p.Name)) {
				continue
			}
			subdirs = append(subdirs, *g)
		}
		sortDirectories(subdirs, p.DirectoryOrdering)

		files := make([]Entry, 0, len(direct))
		for _, f := range direct {
			if p.Name != "" && !strings.Contains(strings.ToLower(f.Filename), strings.ToLower(p.Name)) {
				continue
			}
			files = append(files, entryOf(f, st))
		}
		sortEntries(files, p.FileOrdering)

		l.Count = len(subdirs) + len(files)
		if p.Pagination {
			subdirs, files, l.LastIdx, l.HasMore = paginateListing(subdirs, files, p.Offset, p.Limit)
		}

		if p.Dataset != "" && !p.ExcludeDataset {
			if wantsMetadata(p.FileFields) {
				for i := range files {
					if m, ok := fs.FileMetadata[files[i].ID]; ok {
						m := m
						files[i].DatasetMetadata = &m
					}
				}
			}
			if wantsMetadata(p.DirectoryFields) {
				for i := range subdirs {
					if m, ok := fs.DirectoryMetadata[subdirs[i].Pathname]; ok {
						m := m
						subdirs[i].DatasetMetadata = &m
					}
				}
				if l.Parent != nil {
					if m, ok := fs.DirectoryMetadata[l.Parent.Pathname]; ok {
						l.Parent.DatasetMetadata = &m
					}
				}
			}
		}
		l.Directories = subdirs
		l.Files = files

		// An empty page of an existing directory keeps its parent.
		if len(subdirs) == 0 && len(files) == 0 && len(groups) == 0 {
			l.Parent = nil
		}
		return nil
	})
	if err != nil {
		return Listing{}, err
	}
	if l.Directories == nil {
		l.Directories = []Directory{}
	}
	if l.Files == nil {
		l.Files = []Entry{}
	}
	return l, nil
}

// paginateListing pages directories first and fills the rest of the page
// with files.
func paginateListing(dirs []Directory, files []Entry, offset, limit int) ([]Directory, []Entry, int, bool) {
	pagedDirs := window(dirs, offset, limit)
	fileOffset := max(0, offset-len(dirs))
	fileLimit := max(0, limit-len(pagedDirs))
	pagedFiles := window(files, fileOffset, fileLimit)
	count := len(dirs) + len(files)
	lastIdx := offset + len(pagedDirs) + len(pagedFiles)
	return pagedDirs, pagedFiles, lastIdx, count > offset+limit
}

// window returns items[offset:offset+limit] clamped to the slice bounds.
// A zero limit yields an empty page.
func window[T any](items []T, offset, limit int) []T {
	start := min(max(offset, 0), len(items))
	end := min(start+max(limit, 0), len(items))
	return slices.Clone(items[start:end])
}

// PageLinks builds the next and previous links of a paginated listing
// from the request URL.
func PageLinks(u *url.URL, offset, limit, lastIdx int, hasMore bool) (next, previous string) {
	if hasMore && lastIdx > 0 {
		next = withQuery(u, "offset", strconv.Itoa(lastIdx))
	}
	if offset > 0 {
		if prev := max(offset-limit, 0); prev > 0 {
			previous = withQuery(u, "offset", strconv.Itoa(prev))
		} else {
			previous = withQuery(u, "offset", "")
		}
	}
	return next, previous
}

func withQuery(u *url.URL, key, value string) string {
	c := *u
	q := c.Query()
	if value == "" {
		q.Del(key)
	} else {
		q.Set(key, value)
	}
	c.RawQuery = q.Encode()
	return c.String()
}

func timeCmp(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func directoryCmp(field string, a, b Directory) int {
	switch field {
	case "pathname":
		return cmp.Compare(a.Pathname, b.Pathname)
	case "file_count":
		return cmp.Compare(a.FileCount, b.FileCount)
	case "size":
		return cmp.Compare(a.Size, b.Size)
	case "created":
		return timeCmp(a.Created, b.Created)
	case "modified":
		return timeCmp(a.Modified, b.Modified)
	}
	return cmp.Compare(a.Name, b.Name)
}

func entryCmp(field string, a, b Entry) int {
	switch field {
	case "pathname":
		return cmp.Compare(a.Pathname, b.Pathname)
	case "size":
		return cmp.Compare(a.Size, b.Size)
	case "created":
		return a.Created.Compare(b.Created)
	case "modified":
		return a.Modified.Compare(b.Modified)
	case "frozen":
		return timeCmp(a.Frozen, b.Frozen)
	case "modified_on_storage":
		return timeCmp(a.FileModified, b.FileModified)
	case "removed":
		return timeCmp(a.Removed, b.Removed)
	}
	return cmp.Compare(a.Filename, b.Filename)
}

// ordered builds a comparator applying ordering keys in turn, then fallback.
func ordered[T any](ordering []string, fallback string, fieldCmp func(string, T, T) int) func(T, T) int {
	return func(a, b T) int {
		for _, key := range append(slices.Clone(ordering), fallback) {
			field, desc := strings.CutPrefix(key, "-")
			if c := fieldCmp(field, a, b); c != 0 {
				if desc {
					return -c
				}
				return c
			}
		}
		return 0
	}
}

func sortDirectories(dirs []Directory, ordering []string) {
	slices.SortStableFunc(dirs, ordered(ordering, "name", directoryCmp))
}

func sortEntries(files []Entry, ordering []string) {
	slices.SortStableFunc(files, ordered(ordering, "filename", entryCmp))
}
