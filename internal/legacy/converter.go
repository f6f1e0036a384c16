// Package legacy converts V2 dataset documents into datasets and migrates
// them into the catalog. Conversion keeps track of values it had to fix or
// drop by annotating a copy of the source document.
package legacy

import (
	"fmt"
	"strings"
	"time"

	"metax/pkg/domain"
)

// Catalog and identifier constants of V2.
const (
	DraftDataCatalog = "urn:nbn:fi:att:data-catalog-dft"
	DataCitePrefix   = "10.23729"

	OrganizationBaseURI = "http://uri.suomi.fi/codelist/fairdata/organization/code/"
	OrganizationScheme  = "http://uri.suomi.fi/codelist/fairdata/organization"

	languageScheme     = "http://lexvo.org/id/"
	relationTypeScheme = "http://uri.suomi.fi/codelist/fairdata/relation_type"
)

// ManagedDataCatalogs are the catalogs where PIDs are generated by Metax.
var ManagedDataCatalogs = []string{
	"urn:nbn:fi:att:data-catalog-ida",
	"urn:nbn:fi:att:data-catalog-pas",
	"urn:nbn:fi:att:data-catalog-att",
}

// Lookup resolves references of a legacy document to existing records.
type Lookup interface {
	Concept(typ domain.RefdataType, url string) (domain.Concept, bool)
	ReferenceOrganization(url string) (domain.Organization, bool)
	ContractByLegacyID(legacyID string) (domain.Contract, bool)
	DataCatalogExists(id string) bool
}

// Created lists records a conversion needs that do not exist yet. They are
// created as deprecated reference data by the migrator.
type Created struct {
	Concepts      []domain.Concept
	Organizations []domain.Organization
	Catalogs      []domain.DataCatalog
}

// Empty reports whether nothing needs to be created.
func (c Created) Empty() bool {
	return len(c.Concepts) == 0 && len(c.Organizations) == 0 && len(c.Catalogs) == 0
}

// Result is the outcome of a conversion.
type Result struct {
	Dataset domain.Dataset
	// Invalid and Fixed annotations keyed by dotted path starting from
	// research_dataset, e.g. research_dataset.creator[0].member_of.
	Invalid map[string]*Annotation
	Fixed   map[string]*Annotation
	Created Created
	// Document is the annotated copy of the source document.
	Document map[string]any
}

// InvalidPaths returns the sorted paths of invalid values.
func (r Result) InvalidPaths() []string { return sortedPaths(r.Invalid) }

// FixedPaths returns the sorted paths of fixed values.
func (r Result) FixedPaths() []string { return sortedPaths(r.Fixed) }

// Converter turns V2 dataset documents into datasets.
type Converter struct {
	// ConvertOnly disables everything needed only for storing the dataset:
	// missing reference data is an error instead of being created and
	// non-public fields are left empty.
	ConvertOnly bool
	Lookup      Lookup
	Now         func() time.Time
}

// conversion holds the state of converting one document.
type conversion struct {
	*Converter
	doc     map[string]any
	rd      map[string]any
	created Created
	err     error
}

// Convert converts doc. The source document is not modified.
func (c *Converter) Convert(doc map[string]any) (Result, error) {
	cv := &conversion{Converter: c, doc: deepCopy(doc).(map[string]any)}
	if cv.Now == nil {
		cv.Now = func() time.Time { return time.Now().UTC() }
	}
	rd, err := asMap(cv.doc["research_dataset"])
	if err != nil {
		return Result{}, validation("research_dataset", err.Error())
	}
	if rd == nil {
		rd = map[string]any{}
		cv.doc["research_dataset"] = rd
	}
	cv.rd = rd

	d := cv.dataset()
	if cv.err != nil {
		return Result{}, cv.err
	}
	res := Result{
		Dataset:  d,
		Invalid:  map[string]*Annotation{},
		Fixed:    map[string]*Annotation{},
		Created:  cv.created,
		Document: cv.doc,
	}
	annotationsByPath(cv.rd, "research_dataset", invalidKey, false, res.Invalid)
	annotationsByPath(cv.rd, "research_dataset", fixedKey, true, res.Fixed)
	return res, nil
}

func validation(field, msg string) error {
	return domain.NewValidationError(field, msg)
}

// fail records the first error of the conversion.
func (cv *conversion) fail(err error) {
	if cv.err == nil && err != nil {
		cv.err = err
	}
}

func (cv *conversion) mapOf(v any) map[string]any {
	m, err := asMap(v)
	if err != nil {
		cv.fail(validation("research_dataset", err.Error()))
	}
	return m
}

func (cv *conversion) listOf(v any) []any {
	l, err := asList(v)
	if err != nil {
		cv.fail(validation("research_dataset", err.Error()))
	}
	return l
}

func (cv *conversion) removed() bool { return truthy(cv.doc["removed"]) }

func (cv *conversion) catalogID() string {
	if m, ok := cv.doc["data_catalog"].(map[string]any); ok {
		return str(m, "identifier")
	}
	return str(cv.doc, "data_catalog")
}

func (cv *conversion) isNewDraft() bool {
	return str(cv.doc, "state") == string(domain.StateDraft) && !truthy(cv.doc["draft_of"])
}

func (cv *conversion) modified() string {
	for _, v := range []string{str(cv.rd, "modified"), str(cv.doc, "date_modified"), str(cv.doc, "date_created")} {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseTime accepts the timestamp formats found in V2 documents.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02T15:04:05Z0700", "2006-01-02 15:04:05.999999999Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}

func (cv *conversion) timestamp(field, s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := parseTime(s)
	if err != nil {
		cv.fail(validation(field, err.Error()))
		return nil
	}
	return &t
}

func (cv *conversion) dataset() domain.Dataset {
	modified := cv.modified()
	d := domain.Dataset{
		Legacy:                 true,
		State:                  domain.State(str(cv.doc, "state")),
		MetadataOwner:          cv.metadataOwner(),
		DataCatalog:            cv.dataCatalog(),
		CumulationStarted:      cv.timestamp("cumulation_started", str(cv.doc, "date_cumulation_started")),
		CumulationEnded:        cv.timestamp("cumulation_ended", str(cv.doc, "date_cumulation_ended")),
		LastCumulativeAddition: cv.timestamp("last_cumulative_addition", str(cv.doc, "date_last_cumulative_addition")),
		PersistentIdentifier:   str(cv.rd, "preferred_identifier"),
		Title:                  multiLang(cv.rd["title"]),
		Description:            multiLang(cv.rd["description"]),
		Issued:                 cv.issued(modified),
		BibliographicCitation:  str(cv.rd, "bibliographic_citation"),
	}
	if cs, ok := cv.doc["cumulative_state"].(float64); ok {
		d.CumulativeState = domain.CumulativeState(cs)
	}
	for _, kw := range cv.listOf(cv.rd["keyword"]) {
		if s, ok := kw.(string); ok {
			d.Keyword = append(d.Keyword, s)
		}
	}
	if t := cv.timestamp("created", str(cv.doc, "date_created")); t != nil {
		d.Created = *t
	}
	if t := cv.timestamp("modified", modified); t != nil {
		d.Modified = *t
	}
	if truthy(cv.doc["deprecated"]) {
		d.Deprecated = cv.timestamp("deprecated", firstNonEmpty(str(cv.doc, "date_deprecated"), modified))
	}
	if m, ok := cv.doc["draft_of"].(map[string]any); ok {
		d.DraftOf = str(m, "identifier")
	}
	if m, ok := cv.doc["next_draft"].(map[string]any); ok {
		d.NextDraft = str(m, "identifier")
	}

	d.AccessRights = cv.accessRights()
	d.Actors = cv.actors()
	for _, v := range cv.listOf(cv.rd["provenance"]) {
		d.Provenance = append(d.Provenance, cv.provenance(cv.mapOf(v)))
	}
	for _, v := range cv.listOf(cv.rd["is_output_of"]) {
		d.Projects = append(d.Projects, cv.project(cv.mapOf(v)))
	}
	d.FieldOfScience = cv.concepts(domain.RefFieldOfScience, cv.rd["field_of_science"], "pref_label", "")
	d.Theme = cv.concepts(domain.RefTheme, cv.rd["theme"], "pref_label", "")
	d.Language = cv.concepts(domain.RefLanguage, cv.rd["language"], "title", languageScheme)
	d.Infrastructure = cv.concepts(domain.RefResearchInfra, cv.rd["infrastructure"], "pref_label", "")
	for _, v := range cv.listOf(cv.rd["spatial"]) {
		if s := cv.spatial(cv.mapOf(v)); s != nil {
			d.Spatial = append(d.Spatial, *s)
		}
	}
	for _, v := range cv.listOf(cv.rd["temporal"]) {
		if t := cv.temporal(cv.mapOf(v)); t != nil {
			d.Temporal = append(d.Temporal, *t)
		}
	}
	for _, v := range cv.listOf(cv.rd["other_identifier"]) {
		d.OtherIdentifiers = append(d.OtherIdentifiers, cv.otherIdentifier(cv.mapOf(v)))
	}
	for _, v := range cv.listOf(cv.rd["relation"]) {
		d.Relation = append(d.Relation, cv.relation(cv.mapOf(v)))
	}
	for _, v := range cv.listOf(cv.rd["remote_resources"]) {
		d.RemoteResources = append(d.RemoteResources, cv.remoteResource(cv.mapOf(v)))
	}
	d.Preservation = cv.preservation()

	if cv.ConvertOnly {
		return d
	}
	d.ID = str(cv.doc, "identifier")
	d.APIVersion = 1
	if meta, ok := cv.doc["api_meta"].(map[string]any); ok {
		if v, ok := meta["version"].(float64); ok {
			d.APIVersion = int(v)
		}
	}
	if cv.removed() {
		d.Removed = cv.timestamp("removed", firstNonEmpty(str(cv.doc, "date_removed"), modified))
	}
	cv.pidAttributes(&d)
	cv.handleNewDraft(&d)
	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (cv *conversion) issued(modified string) string {
	if v := str(cv.rd, "issued"); v != "" {
		return v
	}
	if cv.ConvertOnly || modified == "" {
		return ""
	}
	t, err := parseTime(modified)
	if err != nil {
		return ""
	}
	return t.Format(time.DateOnly)
}

func (cv *conversion) metadataOwner() *domain.MetadataOwner {
	owner := &domain.MetadataOwner{
		User:         str(cv.doc, "metadata_provider_user"),
		Organization: firstNonEmpty(str(cv.doc, "metadata_provider_org"), str(cv.doc, "metadata_owner_org")),
	}
	if owner.User == "" && owner.Organization == "" {
		return nil
	}
	return owner
}

func (cv *conversion) dataCatalog() string {
	id := cv.catalogID()
	if id == "" || cv.ConvertOnly || id == DraftDataCatalog || cv.Lookup.DataCatalogExists(id) {
		return id
	}
	for _, c := range cv.created.Catalogs {
		if c.ID == id {
			return id
		}
	}
	cv.created.Catalogs = append(cv.created.Catalogs, domain.DataCatalog{
		Base:  domain.Base{ID: id},
		Title: domain.MultiLang{"und": id},
	})
	return id
}

func (cv *conversion) isManagedCatalog(id string) bool {
	for _, c := range ManagedDataCatalogs {
		if c == id {
			return true
		}
	}
	return false
}

func (cv *conversion) pidAttributes(d *domain.Dataset) {
	pid := d.PersistentIdentifier
	if pid == "" || !cv.isManagedCatalog(cv.catalogID()) {
		return
	}
	switch {
	case strings.HasPrefix(pid, "urn:nbn:fi:att:") || strings.HasPrefix(pid, "urn:nbn:fi:csc"):
		d.GeneratePIDOnPublish, d.PIDType = true, domain.PIDTypeURN
	case strings.HasPrefix(pid, "doi:"+DataCitePrefix+"/"):
		d.GeneratePIDOnPublish, d.PIDType = true, domain.PIDTypeDOI
	case cv.isNewDraft():
		d.GeneratePIDOnPublish, d.PIDType = true, domain.PIDTypeURN
		if truthy(cv.doc["use_doi_for_published"]) {
			d.PIDType = domain.PIDTypeDOI
		}
	}
}

// handleNewDraft drops the V2 draft catalog and placeholder PIDs of drafts
// that have never been published.
func (cv *conversion) handleNewDraft(d *domain.Dataset) {
	if !cv.isNewDraft() {
		return
	}
	if d.DataCatalog == DraftDataCatalog {
		d.DataCatalog = ""
		d.PersistentIdentifier = ""
	}
	if strings.HasPrefix(d.PersistentIdentifier, "draft:") {
		d.PersistentIdentifier = ""
	}
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = deepCopy(child)
		}
		return out
	case *Annotation:
		cp := *t
		return &cp
	default:
		return v
	}
}
