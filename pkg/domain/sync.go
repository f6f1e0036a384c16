package domain

import (
	"encoding/json"
	"time"
)

// SyncAction is the kind of change propagated to the V2 service.
type SyncAction string

// Sync actions.
const (
	SyncCreate SyncAction = "create"
	SyncUpdate SyncAction = "update"
	SyncDelete SyncAction = "delete"
	SyncFlush  SyncAction = "flush"
)

// SyncStatus summarizes a V2SyncStatus row.
type SyncStatus string

// Sync status values.
const (
	SyncStatusFail       SyncStatus = "fail"
	SyncStatusSuccess    SyncStatus = "success"
	SyncStatusIncomplete SyncStatus = "incomplete"
)

// V2SyncStatus tracks the latest sync of a dataset to V2. Its ID equals the dataset ID.
type V2SyncStatus struct {
	Base
	SyncStarted      time.Time  `json:"sync_started"`
	SyncFilesStarted *time.Time `json:"sync_files_started,omitempty"`
	SyncStopped      *time.Time `json:"sync_stopped,omitempty"`
	Action           SyncAction `json:"action"`
	Error            string     `json:"error,omitempty"`
}

// Clone returns a copy of the status.
func (s V2SyncStatus) Clone() V2SyncStatus {
	s.SyncFilesStarted = cloneTime(s.SyncFilesStarted)
	s.SyncStopped = cloneTime(s.SyncStopped)
	return s
}

// Status reports fail when an error was recorded, success when the sync
// stopped, and incomplete otherwise.
func (s V2SyncStatus) Status() SyncStatus {
	switch {
	case s.Error != "":
		return SyncStatusFail
	case s.SyncStopped != nil:
		return SyncStatusSuccess
	default:
		return SyncStatusIncomplete
	}
}

// Duration is the elapsed sync time, measured to now while still running.
func (s V2SyncStatus) Duration(now time.Time) time.Duration {
	end := now
	if s.SyncStopped != nil {
		end = *s.SyncStopped
	}
	return end.Sub(s.SyncStarted)
}

// REMSEntityType names a REMS object kind.
type REMSEntityType string

// REMS object kinds.
const (
	REMSOrganization  REMSEntityType = "organization"
	REMSUser          REMSEntityType = "user"
	REMSForm          REMSEntityType = "form"
	REMSWorkflow      REMSEntityType = "workflow"
	REMSLicense       REMSEntityType = "license"
	REMSResource      REMSEntityType = "resource"
	REMSCatalogueItem REMSEntityType = "catalogue-item"
	REMSApplication   REMSEntityType = "application"
	REMSEntitlement   REMSEntityType = "entitlement"
)

// IDField returns the JSON key REMS uses for the identifier of the kind.
func (t REMSEntityType) IDField() string {
	switch t {
	case REMSUser:
		return "userid"
	case REMSOrganization:
		return "organization/id"
	default:
		return "id"
	}
}

// REMSEntity mirrors an object created in REMS.
type REMSEntity struct {
	Base
	Key               string          `json:"key"`
	Type              REMSEntityType  `json:"type"`
	REMSID            int64           `json:"rems_id,omitempty"`
	REMSStringID      string          `json:"rems_string_id,omitempty"`
	DatasetID         string          `json:"dataset_id,omitempty"`
	LicenseURL        string          `json:"license_url,omitempty"`
	IsDataAccessTerms bool            `json:"is_data_access_terms,omitempty"`
	Data              json.RawMessage `json:"data,omitempty"`
	Removed           *time.Time      `json:"removed,omitempty"`
}

// Clone returns a copy of the entity.
func (e REMSEntity) Clone() REMSEntity {
	e.Data = append(json.RawMessage(nil), e.Data...)
	e.Removed = cloneTime(e.Removed)
	return e
}

// LegacyDataset records the migration of a V2 document. Its ID equals the dataset ID.
type LegacyDataset struct {
	Base
	BlobKey                 string     `json:"blob_key"`
	V2Modified              string     `json:"v2_modified,omitempty"`
	InvalidFields           []string   `json:"invalid_fields,omitempty"`
	FixedFields             []string   `json:"fixed_fields,omitempty"`
	LastSuccessfulMigration *time.Time `json:"last_successful_migration,omitempty"`
	MigrationError          string     `json:"migration_error,omitempty"`
}

// Clone returns a copy of the record.
func (l LegacyDataset) Clone() LegacyDataset {
	l.InvalidFields = cloneStrings(l.InvalidFields)
	l.FixedFields = cloneStrings(l.FixedFields)
	l.LastSuccessfulMigration = cloneTime(l.LastSuccessfulMigration)
	return l
}
