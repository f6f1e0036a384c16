package domain

import "time"

// DataCatalog groups datasets and controls what they may contain.
type DataCatalog struct {
	Base
	Removed                  *time.Time `json:"removed,omitempty"`
	Title                    MultiLang  `json:"title"`
	Description              MultiLang  `json:"description,omitempty"`
	DatasetVersioningEnabled bool       `json:"dataset_versioning_enabled"`
	AllowRemoteResources     bool       `json:"allow_remote_resources"`
	StorageServices          []string   `json:"storage_services,omitempty"`
	Harvested                bool       `json:"harvested"`
	REMSEnabled              bool       `json:"rems_enabled"`
	AllowedPIDTypes          []PIDType  `json:"allowed_pid_types,omitempty"`
	AdminGroups              []string   `json:"dataset_groups_admin,omitempty"`
	Publisher                MultiLang  `json:"publisher,omitempty"`
}

// Clone returns a copy of the catalog.
func (c DataCatalog) Clone() DataCatalog {
	c.Removed = cloneTime(c.Removed)
	c.Title = c.Title.Clone()
	c.Description = c.Description.Clone()
	c.StorageServices = cloneStrings(c.StorageServices)
	c.AllowedPIDTypes = append([]PIDType(nil), c.AllowedPIDTypes...)
	c.AdminGroups = cloneStrings(c.AdminGroups)
	c.Publisher = c.Publisher.Clone()
	return c
}

// AllowsStorageService reports whether files from service may be attached.
func (c DataCatalog) AllowsStorageService(service string) bool {
	for _, s := range c.StorageServices {
		if s == service {
			return true
		}
	}
	return false
}

// Organization is either reference data or a user defined organization.
type Organization struct {
	Base
	Removed            *time.Time    `json:"removed,omitempty"`
	URL                string        `json:"url,omitempty"`
	Code               string        `json:"code,omitempty"`
	InScheme           string        `json:"in_scheme,omitempty"`
	PrefLabel          MultiLang     `json:"pref_label"`
	Email              string        `json:"email,omitempty"`
	Homepage           *Homepage     `json:"homepage,omitempty"`
	ExternalIdentifier string        `json:"external_identifier,omitempty"`
	Parent             *Organization `json:"parent,omitempty"`
	IsReferenceData    bool          `json:"is_reference_data,omitempty"`
	Deprecated         *time.Time    `json:"deprecated,omitempty"`
}

// Clone returns a deep copy of the organization.
func (o Organization) Clone() Organization { return cloneJSON(o) }

// TopParent walks the parent chain to the root organization.
func (o Organization) TopParent() Organization {
	cur := o
	for cur.Parent != nil {
		cur = *cur.Parent
	}
	return cur
}

// Contract is a storage contract used by preservation.
type Contract struct {
	Base
	Removed      *time.Time `json:"removed,omitempty"`
	Title        MultiLang  `json:"title"`
	Description  MultiLang  `json:"description,omitempty"`
	Quota        int64      `json:"quota"`
	ValidFrom    string     `json:"valid_from,omitempty"`
	ValidUntil   string     `json:"valid_until,omitempty"`
	Organization string     `json:"organization,omitempty"`
	LegacyID     string     `json:"legacy_id,omitempty"`
}

// Clone returns a copy of the contract.
func (c Contract) Clone() Contract {
	c.Removed = cloneTime(c.Removed)
	c.Title = c.Title.Clone()
	c.Description = c.Description.Clone()
	return c
}
