// Package domain defines the catalog entities, value types and rule
// evaluation primitives shared by every metax component.
package domain

import (
	"encoding/json"
	"time"
)

// EntityType identifies the type of record stored in the catalog.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityDataset identifies a dataset record.
	EntityDataset EntityType = "dataset"
	// EntityDatasetVersions identifies the group linking versions of a dataset.
	EntityDatasetVersions EntityType = "dataset_versions"
	// EntityDatasetRevision identifies a saved dataset revision.
	EntityDatasetRevision EntityType = "dataset_revision"
	// EntityDataCatalog identifies a data catalog record.
	EntityDataCatalog EntityType = "data_catalog"
	// EntityOrganization identifies an organization record.
	EntityOrganization EntityType = "organization"
	EntityContract     EntityType = "contract"
	// EntityConcept identifies a reference data concept.
	EntityConcept     EntityType = "concept"
	EntityFileStorage EntityType = "file_storage"
	EntityFile        EntityType = "file"
	// EntityFileSet identifies the file set attached to a dataset.
	EntityFileSet EntityType = "file_set"
	// EntityV2SyncStatus identifies the sync status of a dataset towards V2.
	EntityV2SyncStatus EntityType = "v2_sync_status"
	// EntityREMSEntity identifies a mirrored REMS object.
	EntityREMSEntity    EntityType = "rems_entity"
	EntityLegacyDataset EntityType = "legacy_dataset"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all stored records.
type Base struct {
	ID       string    `json:"id,omitempty"`
	Created  time.Time `json:"created,omitzero"`
	Modified time.Time `json:"modified,omitzero"`
}

// BaseRef exposes the embedded base for generic persistence helpers.
func (b *Base) BaseRef() *Base { return b }

// MultiLang maps language codes to localized text.
type MultiLang map[string]string

// Clone returns a copy of the map.
func (m MultiLang) Clone() MultiLang {
	if m == nil {
		return nil
	}
	out := make(MultiLang, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Preferred returns the value in the first language present from the
// preference order en, fi, sv, und, falling back to any value.
func (m MultiLang) Preferred() string {
	for _, lang := range []string{"en", "fi", "sv", "und"} {
		if v, ok := m[lang]; ok && v != "" {
			return v
		}
	}
	for _, v := range m {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsEmpty reports whether no language has a non-empty value.
func (m MultiLang) IsEmpty() bool {
	for _, v := range m {
		if v != "" {
			return false
		}
	}
	return true
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string     `json:"rule"`
	Severity Severity   `json:"severity"`
	Message  string     `json:"message"`
	Field    string     `json:"field,omitempty"`
	Entity   EntityType `json:"entity"`
	EntityID string     `json:"entity_id,omitempty"`
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// Fields groups blocking violation messages by field for API responses.
func (e RuleViolationError) Fields() map[string][]string {
	out := map[string][]string{}
	for _, v := range e.Result.Violations {
		if v.Severity != SeverityBlock {
			continue
		}
		field := v.Field
		if field == "" {
			field = "non_field_errors"
		}
		out[field] = append(out[field], v.Message)
	}
	return out
}

func cloneJSON[T any](v T) T {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(err)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
