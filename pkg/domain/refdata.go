package domain

import "time"

// RefdataType names a reference data vocabulary.
type RefdataType string

// Reference data vocabularies.
const (
	RefAccessType         RefdataType = "access_type"
	RefContributorRole    RefdataType = "contributor_role"
	RefContributorType    RefdataType = "contributor_type"
	RefEventOutcome       RefdataType = "event_outcome"
	RefFieldOfScience     RefdataType = "field_of_science"
	RefFileFormatVersion  RefdataType = "file_format_version"
	RefFileType           RefdataType = "file_type"
	RefFunderType         RefdataType = "funder_type"
	RefIdentifierType     RefdataType = "identifier_type"
	RefTheme              RefdataType = "theme"
	RefLanguage           RefdataType = "language"
	RefLicense            RefdataType = "license"
	RefLifecycleEvent     RefdataType = "lifecycle_event"
	RefLocation           RefdataType = "location"
	RefPreservationEvent  RefdataType = "preservation_event"
	RefRelationType       RefdataType = "relation_type"
	RefResearchInfra      RefdataType = "research_infra"
	RefResourceType       RefdataType = "resource_type"
	RefRestrictionGrounds RefdataType = "restriction_grounds"
	RefUseCategory        RefdataType = "use_category"
)

// RefdataTypes lists every supported vocabulary.
var RefdataTypes = []RefdataType{
	RefAccessType, RefContributorRole, RefContributorType, RefEventOutcome,
	RefFieldOfScience, RefFileFormatVersion, RefFileType, RefFunderType,
	RefIdentifierType, RefTheme, RefLanguage, RefLicense, RefLifecycleEvent,
	RefLocation, RefPreservationEvent, RefRelationType, RefResearchInfra,
	RefResourceType, RefRestrictionGrounds, RefUseCategory,
}

// RefdataSchemes maps vocabularies to their default concept scheme.
var RefdataSchemes = map[RefdataType]string{
	RefAccessType:         "http://uri.suomi.fi/codelist/fairdata/access_type",
	RefContributorRole:    "http://uri.suomi.fi/codelist/fairdata/contributor_role",
	RefContributorType:    "http://uri.suomi.fi/codelist/fairdata/contributor_type",
	RefEventOutcome:       "http://uri.suomi.fi/codelist/fairdata/event_outcome",
	RefFieldOfScience:     "http://www.yso.fi/onto/okm-tieteenala/conceptscheme",
	RefFileFormatVersion:  "http://uri.suomi.fi/codelist/fairdata/file_format_version",
	RefFileType:           "http://uri.suomi.fi/codelist/fairdata/file_type",
	RefFunderType:         "http://uri.suomi.fi/codelist/fairdata/funder_type",
	RefIdentifierType:     "http://uri.suomi.fi/codelist/fairdata/identifier_type",
	RefTheme:              "http://www.yso.fi/onto/koko/",
	RefLanguage:           "http://lexvo.org/id/",
	RefLicense:            "http://uri.suomi.fi/codelist/fairdata/license",
	RefLifecycleEvent:     "http://uri.suomi.fi/codelist/fairdata/lifecycle_event",
	RefLocation:           "http://www.yso.fi/onto/yso/places",
	RefPreservationEvent:  "http://uri.suomi.fi/codelist/fairdata/preservation_event",
	RefRelationType:       "http://uri.suomi.fi/codelist/fairdata/relation_type",
	RefResearchInfra:      "https://avaa.tdata.fi/api/jsonws/tupa-portlet.Infrastructures/get-all-infrastructures",
	RefResourceType:       "http://uri.suomi.fi/codelist/fairdata/resource_type",
	RefRestrictionGrounds: "http://uri.suomi.fi/codelist/fairdata/restriction_grounds",
	RefUseCategory:        "http://uri.suomi.fi/codelist/fairdata/use_category",
}

// Concept is a SKOS style reference data entry.
type Concept struct {
	Base
	Type            RefdataType `json:"type"`
	URL             string      `json:"url"`
	InScheme        string      `json:"in_scheme,omitempty"`
	PrefLabel       MultiLang   `json:"pref_label"`
	Broader         []string    `json:"broader_concepts,omitempty"`
	Narrower        []string    `json:"narrower_concepts,omitempty"`
	SameAs          []string    `json:"same_as,omitempty"`
	IsReferenceData bool        `json:"is_reference_data"`
	Deprecated      *time.Time  `json:"deprecated,omitempty"`
	AsWKT           string      `json:"as_wkt,omitempty"`
	FileFormat      string      `json:"file_format,omitempty"`
	FormatVersion   string      `json:"format_version,omitempty"`
}

// Clone returns a copy of the concept.
func (c Concept) Clone() Concept {
	c.PrefLabel = c.PrefLabel.Clone()
	c.Broader = cloneStrings(c.Broader)
	c.Narrower = cloneStrings(c.Narrower)
	c.SameAs = cloneStrings(c.SameAs)
	c.Deprecated = cloneTime(c.Deprecated)
	return c
}

// Label returns the english or finnish label, or any label.
func (c Concept) Label() string {
	if v := c.PrefLabel["en"]; v != "" {
		return v
	}
	if v := c.PrefLabel["fi"]; v != "" {
		return v
	}
	for _, v := range c.PrefLabel {
		return v
	}
	return ""
}

// Ref returns the dataset side reference to the concept.
func (c Concept) Ref() ConceptRef {
	return ConceptRef{URL: c.URL, PrefLabel: c.PrefLabel.Clone(), InScheme: c.InScheme}
}
