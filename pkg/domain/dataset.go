package domain

import (
	"slices"
	"strconv"
	"time"
)

// State is the publication state of a dataset.
type State string

// Dataset states.
const (
	StateDraft     State = "draft"
	StatePublished State = "published"
)

// CumulativeState describes whether files can still be added to a published dataset.
type CumulativeState int

// Cumulative states. Closed is only reachable from active.
const (
	CumulativeNot    CumulativeState = 0
	CumulativeActive CumulativeState = 1
	CumulativeClosed CumulativeState = 2
)

// PIDType selects which persistent identifier kind is minted on publish.
type PIDType string

// Persistent identifier kinds.
const (
	PIDTypeURN PIDType = "URN"
	PIDTypeDOI PIDType = "DOI"
)

// Reference data urls with special meaning for access rights.
const (
	AccessTypeOpen    = "http://uri.suomi.fi/codelist/fairdata/access_type/code/open"
	AccessTypeEmbargo = "http://uri.suomi.fi/codelist/fairdata/access_type/code/embargo"
	LicenseBaseURL    = "http://uri.suomi.fi/codelist/fairdata/license"
	LicenseOther      = "http://uri.suomi.fi/codelist/fairdata/license/code/other"
	LicenseNotSpec    = "http://uri.suomi.fi/codelist/fairdata/license/code/notspecified"
)

// Actor roles.
const (
	RoleCreator      = "creator"
	RolePublisher    = "publisher"
	RoleCurator      = "curator"
	RoleContributor  = "contributor"
	RoleRightsHolder = "rights_holder"
)

// ActorRoles lists actor roles in their canonical order.
var ActorRoles = []string{RoleCreator, RolePublisher, RoleCurator, RoleContributor, RoleRightsHolder}

// ConceptRef points to a reference data concept from a dataset field.
type ConceptRef struct {
	URL       string    `json:"url"`
	PrefLabel MultiLang `json:"pref_label,omitempty"`
	InScheme  string    `json:"in_scheme,omitempty"`
}

// MetadataOwner records which user and organization own a dataset.
type MetadataOwner struct {
	User         string `json:"user"`
	Organization string `json:"organization"`
}

// License is a reference license with optional custom overrides.
type License struct {
	URL         string    `json:"url,omitempty"`
	PrefLabel   MultiLang `json:"pref_label,omitempty"`
	CustomURL   string    `json:"custom_url,omitempty"`
	Title       MultiLang `json:"title,omitempty"`
	Description MultiLang `json:"description,omitempty"`
}

// IsCustom reports whether the license carries dataset specific content.
func (l License) IsCustom() bool {
	return l.CustomURL != "" || !l.Title.IsEmpty() || !l.Description.IsEmpty()
}

// AccessRights describes how a dataset may be accessed.
type AccessRights struct {
	AccessType         *ConceptRef  `json:"access_type,omitempty"`
	License            []License    `json:"license,omitempty"`
	RestrictionGrounds []ConceptRef `json:"restriction_grounds,omitempty"`
	AvailableDate      string       `json:"available,omitempty"`
	Description        MultiLang    `json:"description,omitempty"`
	DataAccessTerms    MultiLang    `json:"data_access_terms,omitempty"`
	REMSApprovalType   string       `json:"rems_approval_type,omitempty"`
}

// Homepage links to a web page of an actor.
type Homepage struct {
	Title MultiLang `json:"title,omitempty"`
	URL   string    `json:"url"`
}

// Person is a natural person acting in a dataset.
type Person struct {
	Name               string    `json:"name"`
	Email              string    `json:"email,omitempty"`
	ExternalIdentifier string    `json:"external_identifier,omitempty"`
	Homepage           *Homepage `json:"homepage,omitempty"`
}

// DatasetActor is a person and/or organization with roles in a dataset.
type DatasetActor struct {
	ID           string        `json:"id,omitempty"`
	Roles        []string      `json:"roles"`
	Person       *Person       `json:"person,omitempty"`
	Organization *Organization `json:"organization,omitempty"`
}

// HasRole reports whether the actor carries role.
func (a DatasetActor) HasRole(role string) bool {
	return slices.Contains(a.Roles, role)
}

// Temporal is a time span covered by a dataset.
type Temporal struct {
	StartDate        string `json:"start_date,omitempty"`
	EndDate          string `json:"end_date,omitempty"`
	TemporalCoverage string `json:"temporal_coverage,omitempty"`
}

// Spatial is a location covered by a dataset.
type Spatial struct {
	Reference        *ConceptRef `json:"reference,omitempty"`
	GeographicName   string      `json:"geographic_name,omitempty"`
	FullAddress      string      `json:"full_address,omitempty"`
	AltitudeInMeters *float64    `json:"altitude_in_meters,omitempty"`
	CustomWKT        []string    `json:"custom_wkt,omitempty"`
}

// FreeConcept is a concept that is not part of reference data.
type FreeConcept struct {
	PrefLabel         MultiLang `json:"pref_label,omitempty"`
	Definition        MultiLang `json:"definition,omitempty"`
	ConceptIdentifier string    `json:"concept_identifier,omitempty"`
	InScheme          string    `json:"in_scheme,omitempty"`
}

// Variable describes a measured variable in a provenance event.
type Variable struct {
	PrefLabel      MultiLang    `json:"pref_label,omitempty"`
	Description    MultiLang    `json:"description,omitempty"`
	Concept        *FreeConcept `json:"concept,omitempty"`
	Universe       *FreeConcept `json:"universe,omitempty"`
	Representation string       `json:"representation,omitempty"`
}

// Entity is an external resource referenced from provenance or relations.
type Entity struct {
	Title            MultiLang   `json:"title,omitempty"`
	Description      MultiLang   `json:"description,omitempty"`
	EntityIdentifier string      `json:"entity_identifier,omitempty"`
	Type             *ConceptRef `json:"type,omitempty"`
}

// Provenance is an event in the history of a dataset.
type Provenance struct {
	Title              MultiLang      `json:"title,omitempty"`
	Description        MultiLang      `json:"description,omitempty"`
	OutcomeDescription MultiLang      `json:"outcome_description,omitempty"`
	Spatial            *Spatial       `json:"spatial,omitempty"`
	Temporal           *Temporal      `json:"temporal,omitempty"`
	EventOutcome       *ConceptRef    `json:"event_outcome,omitempty"`
	LifecycleEvent     *ConceptRef    `json:"lifecycle_event,omitempty"`
	PreservationEvent  *ConceptRef    `json:"preservation_event,omitempty"`
	Variables          []Variable     `json:"variables,omitempty"`
	IsAssociatedWith   []DatasetActor `json:"is_associated_with,omitempty"`
	UsedEntity         []Entity       `json:"used_entity,omitempty"`
}

// Relation links a dataset to an external entity.
type Relation struct {
	Entity       Entity     `json:"entity"`
	RelationType ConceptRef `json:"relation_type"`
}

// OtherIdentifier is an alternative identifier of a dataset.
type OtherIdentifier struct {
	Notation       string      `json:"notation"`
	OldNotation    string      `json:"old_notation,omitempty"`
	IdentifierType *ConceptRef `json:"identifier_type,omitempty"`
}

// RemoteResource is a file hosted outside metax storages.
type RemoteResource struct {
	Title       MultiLang   `json:"title,omitempty"`
	Description MultiLang   `json:"description,omitempty"`
	AccessURL   string      `json:"access_url,omitempty"`
	DownloadURL string      `json:"download_url,omitempty"`
	Checksum    string      `json:"checksum,omitempty"`
	MediaType   string      `json:"mediatype,omitempty"`
	UseCategory *ConceptRef `json:"use_category,omitempty"`
	FileType    *ConceptRef `json:"file_type,omitempty"`
}

// Funder is an organization funding a project.
type Funder struct {
	Organization *Organization `json:"organization,omitempty"`
	FunderType   *ConceptRef   `json:"funder_type,omitempty"`
}

// Funding ties a funder to a funding identifier.
type Funding struct {
	Funder            *Funder `json:"funder,omitempty"`
	FundingIdentifier string  `json:"funding_identifier,omitempty"`
}

// Project is a research project producing a dataset.
type Project struct {
	Title                      MultiLang      `json:"title,omitempty"`
	ProjectIdentifier          string         `json:"project_identifier,omitempty"`
	ParticipatingOrganizations []Organization `json:"participating_organizations,omitempty"`
	Funding                    []Funding      `json:"funding,omitempty"`
}

// Preservation holds digital preservation status.
type Preservation struct {
	Contract               string     `json:"contract,omitempty"`
	State                  int        `json:"state"`
	StateModified          *time.Time `json:"state_modified,omitempty"`
	Description            MultiLang  `json:"description,omitempty"`
	ReasonDescription      string     `json:"reason_description,omitempty"`
	PreservationIdentifier string     `json:"preservation_identifier,omitempty"`
	DatasetVersion         string     `json:"dataset_version,omitempty"`
	DatasetOriginVersion   string     `json:"dataset_origin_version,omitempty"`
}

// Dataset is the central catalog record.
type Dataset struct {
	Base
	Removed                *time.Time        `json:"removed,omitempty"`
	Title                  MultiLang         `json:"title"`
	Description            MultiLang         `json:"description,omitempty"`
	Keyword                []string          `json:"keyword,omitempty"`
	Issued                 string            `json:"issued,omitempty"`
	PersistentIdentifier   string            `json:"persistent_identifier,omitempty"`
	PIDType                PIDType           `json:"pid_type,omitempty"`
	GeneratePIDOnPublish   bool              `json:"generate_pid_on_publish,omitempty"`
	State                  State             `json:"state"`
	Version                int               `json:"version"`
	PublishedRevision      int               `json:"published_revision"`
	DraftRevision          int               `json:"draft_revision"`
	DatasetVersionsID      string            `json:"dataset_versions_id,omitempty"`
	DraftOf                string            `json:"draft_of,omitempty"`
	NextDraft              string            `json:"next_draft,omitempty"`
	CumulativeState        CumulativeState   `json:"cumulative_state"`
	CumulationStarted      *time.Time        `json:"cumulation_started,omitempty"`
	CumulationEnded        *time.Time        `json:"cumulation_ended,omitempty"`
	LastCumulativeAddition *time.Time        `json:"last_cumulative_addition,omitempty"`
	Deprecated             *time.Time        `json:"deprecated,omitempty"`
	DataCatalog            string            `json:"data_catalog,omitempty"`
	MetadataOwner          *MetadataOwner    `json:"metadata_owner,omitempty"`
	AccessRights           *AccessRights     `json:"access_rights,omitempty"`
	Actors                 []DatasetActor    `json:"actors,omitempty"`
	Language               []ConceptRef      `json:"language,omitempty"`
	FieldOfScience         []ConceptRef      `json:"field_of_science,omitempty"`
	Theme                  []ConceptRef      `json:"theme,omitempty"`
	Infrastructure         []ConceptRef      `json:"infrastructure,omitempty"`
	Temporal               []Temporal        `json:"temporal,omitempty"`
	Spatial                []Spatial         `json:"spatial,omitempty"`
	Provenance             []Provenance      `json:"provenance,omitempty"`
	Relation               []Relation        `json:"relation,omitempty"`
	OtherIdentifiers       []OtherIdentifier `json:"other_identifiers,omitempty"`
	RemoteResources        []RemoteResource  `json:"remote_resources,omitempty"`
	Projects               []Project         `json:"projects,omitempty"`
	Preservation           *Preservation     `json:"preservation,omitempty"`
	BibliographicCitation  string            `json:"bibliographic_citation,omitempty"`
	APIVersion             int               `json:"api_version"`
	Legacy                 bool              `json:"legacy,omitempty"`
	REMSPublishError       string            `json:"rems_publish_error,omitempty"`
}

// Clone returns a deep copy of the dataset.
func (d Dataset) Clone() Dataset { return cloneJSON(d) }

// IsDraft reports whether the dataset is a draft.
func (d Dataset) IsDraft() bool { return d.State == StateDraft }

// IsPublished reports whether the dataset is published.
func (d Dataset) IsPublished() bool { return d.State == StatePublished }

// IsRemoved reports whether the dataset has been soft deleted.
func (d Dataset) IsRemoved() bool { return d.Removed != nil }

// IsREMSDataset reports whether access is granted through REMS.
func (d Dataset) IsREMSDataset() bool {
	return d.AccessRights != nil && d.AccessRights.REMSApprovalType != ""
}

// ActorsWithRole returns actors carrying role.
func (d Dataset) ActorsWithRole(role string) []DatasetActor {
	var out []DatasetActor
	for _, a := range d.Actors {
		if a.HasRole(role) {
			out = append(out, a)
		}
	}
	return out
}

// RevisionReason names a saved revision as "{state}-{published}.{draft}".
func (d Dataset) RevisionReason() string {
	return string(d.State) + "-" + strconv.Itoa(d.PublishedRevision) + "." + strconv.Itoa(d.DraftRevision)
}

// DatasetVersions groups all versions of a dataset.
type DatasetVersions struct {
	Base
	DatasetIDs []string `json:"dataset_ids"`
}

// Clone returns a copy of the group.
func (v DatasetVersions) Clone() DatasetVersions {
	v.DatasetIDs = cloneStrings(v.DatasetIDs)
	return v
}

// DatasetRevision is a stored snapshot of a dataset taken on save.
type DatasetRevision struct {
	Base
	DatasetID         string  `json:"dataset_id"`
	Reason            string  `json:"reason"`
	PublishedRevision int     `json:"published_revision"`
	DraftRevision     int     `json:"draft_revision"`
	Dataset           Dataset `json:"dataset"`
}

// Clone returns a deep copy of the revision.
func (r DatasetRevision) Clone() DatasetRevision {
	r.Dataset = r.Dataset.Clone()
	return r
}
