package domain

import (
	"strings"
	"time"
)

// FileStorage is a project area in a storage service.
type FileStorage struct {
	Base
	StorageService string `json:"storage_service"`
	CSCProject     string `json:"csc_project,omitempty"`
}

// Clone returns a copy of the storage.
func (s FileStorage) Clone() FileStorage { return s }

// File is a single stored file.
type File struct {
	Base
	StorageIdentifier string     `json:"storage_identifier"`
	StorageID         string     `json:"storage_id"`
	Filename          string     `json:"filename"`
	DirectoryPath     string     `json:"directory_path"`
	Size              int64      `json:"size"`
	Checksum          string     `json:"checksum,omitempty"`
	Frozen            *time.Time `json:"frozen,omitempty"`
	FileModified      *time.Time `json:"modified_on_storage,omitempty"`
	Removed           *time.Time `json:"removed,omitempty"`
	// Published is set when the file first becomes part of a published dataset.
	Published         *time.Time `json:"published,omitempty"`
	LegacyID          int64      `json:"legacy_id,omitempty"`
}

// Clone returns a copy of the file.
func (f File) Clone() File {
	f.Frozen = cloneTime(f.Frozen)
	f.FileModified = cloneTime(f.FileModified)
	f.Removed = cloneTime(f.Removed)
	f.Published = cloneTime(f.Published)
	return f
}

// Pathname joins the directory path and filename.
func (f File) Pathname() string { return f.DirectoryPath + f.Filename }

// SplitPathname splits an absolute file path into directory path and filename.
// The directory path always starts and ends with a slash.
func SplitPathname(pathname string) (dir, name string) {
	if !strings.HasPrefix(pathname, "/") {
		pathname = "/" + pathname
	}
	idx := strings.LastIndex(pathname, "/")
	return pathname[:idx+1], pathname[idx+1:]
}

// FileMetadata is dataset specific metadata of a file.
type FileMetadata struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	FileType    *ConceptRef `json:"file_type,omitempty"`
	UseCategory *ConceptRef `json:"use_category,omitempty"`
}

// DirectoryMetadata is dataset specific metadata of a directory.
type DirectoryMetadata struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	UseCategory *ConceptRef `json:"use_category,omitempty"`
}

// FileSet ties a dataset to files of a single storage. Its ID equals the dataset ID.
type FileSet struct {
	Base
	StorageID         string                       `json:"storage_id"`
	FileIDs           []string                     `json:"file_ids"`
	FileMetadata      map[string]FileMetadata      `json:"file_metadata,omitempty"`
	DirectoryMetadata map[string]DirectoryMetadata `json:"directory_metadata,omitempty"`
}

// Clone returns a deep copy of the file set.
func (fs FileSet) Clone() FileSet { return cloneJSON(fs) }

// Contains reports whether the set includes fileID.
func (fs FileSet) Contains(fileID string) bool {
	for _, id := range fs.FileIDs {
		if id == fileID {
			return true
		}
	}
	return false
}

// FileSetSummary aggregates a file set for API responses.
type FileSetSummary struct {
	StorageService  string `json:"storage_service"`
	CSCProject      string `json:"csc_project,omitempty"`
	TotalFilesCount int    `json:"total_files_count"`
	TotalFilesSize  int64  `json:"total_files_size"`
}
