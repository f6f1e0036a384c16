// Package datacite renders datasets as DataCite kernel-4 metadata, both as
// the JSON attributes accepted by the PID service and as XML.
package datacite

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"metax/internal/logging"
	"metax/pkg/domain"
)

// SchemaVersion is the DataCite schema the documents conform to.
const SchemaVersion = "http://datacite.org/schema/kernel-4"

var languageCodes = map[string]string{
	"http://lexvo.org/id/iso639-3/eng": "en",
	"http://lexvo.org/id/iso639-3/fin": "fi",
	"http://lexvo.org/id/iso639-3/swe": "sv",
}

// identifierPrefixes is checked in order; the first match wins.
var identifierPrefixes = []struct{ prefix, typ string }{
	{"https://doi.org/10.", "DOI"},
	{"http://doi.org/10.", "DOI"},
	{"doi:10.", "DOI"},
	{"10.", "DOI"},
	{"urn:", "URN"},
	{"http://", "URL"},
	{"https://", "URL"},
}

var contributorTypes = []struct{ role, typ string }{
	{domain.RoleCurator, "DataCurator"},
	{domain.RoleContributor, "Other"},
	{domain.RoleRightsHolder, "RightsHolder"},
}

var relationTypes = map[string]string{
	"http://purl.org/spar/cito/cites":                "Cites",
	"http://purl.org/spar/cito/citesForInformation":  "Cites",
	"http://purl.org/spar/cito/isCitedBy":            "IsCitedBy",
	"http://purl.org/vocab/frbr/core#isSupplementTo": "IsSupplementTo",
	"http://purl.org/dc/terms/hasPart":               "HasPart",
	"http://purl.org/dc/terms/isPartOf":              "IsPartOf",
	"http://www.w3.org/ns/prov#wasDerivedFrom":       "IsDerivedFrom",
	"purl.org/spar/cito/isCompiledBy":                "IsCompiledBy",
	"http://purl.org/vocab/frbr/core#alternate":      "IsVariantFormOf",
	"http://www.w3.org/2002/07/owl#sameAs":           "IsIdenticalTo",
	"http://www.w3.org/ns/adms#previous":             "IsNewVersionOf",
	"http://www.w3.org/ns/adms#next":                 "IsPreviousVersionOf",
}

// Identifier is a typed identifier of the dataset.
type Identifier struct {
	Identifier     string `json:"identifier"`
	IdentifierType string `json:"identifierType"`
}

// Title is a localized title.
type Title struct {
	Lang  string `json:"lang,omitempty"`
	Title string `json:"title"`
}

// NameIdentifier identifies a creator or contributor.
type NameIdentifier struct {
	NameIdentifier       string `json:"nameIdentifier"`
	NameIdentifierScheme string `json:"nameIdentifierScheme"`
}

// Affiliation is the top level organization of an actor.
type Affiliation struct {
	Name string `json:"name"`
}

// Creator is a creator or contributor of the dataset.
type Creator struct {
	Name            string           `json:"name"`
	Lang            string           `json:"lang,omitempty"`
	NameType        string           `json:"nameType"`
	NameIdentifiers []NameIdentifier `json:"nameIdentifiers"`
	Affiliation     []Affiliation    `json:"affiliation,omitempty"`
	ContributorType string           `json:"contributorType,omitempty"`
}

// Types is the resource type of the document.
type Types struct {
	ResourceTypeGeneral string `json:"resourceTypeGeneral"`
	ResourceType        string `json:"resourceType"`
}

// Description is a localized abstract.
type Description struct {
	Description     string `json:"description"`
	DescriptionType string `json:"descriptionType"`
	Lang            string `json:"lang,omitempty"`
}

// Date is a typed date or date range.
type Date struct {
	Date     string `json:"date"`
	DateType string `json:"dateType"`
}

// RelatedIdentifier links the dataset to another resource.
type RelatedIdentifier struct {
	RelatedIdentifier     string `json:"relatedIdentifier"`
	RelatedIdentifierType string `json:"relatedIdentifierType"`
	RelationType          string `json:"relationType"`
}

// Subject is a keyword or classification.
type Subject struct {
	Subject   string `json:"subject"`
	ValueURI  string `json:"valueUri,omitempty"`
	SchemeURI string `json:"schemeUri,omitempty"`
	Lang      string `json:"lang,omitempty"`
}

// Point is a geographic coordinate.
type Point struct {
	PointLongitude string `json:"pointLongitude"`
	PointLatitude  string `json:"pointLatitude"`
}

// Polygon is the exterior ring of an area.
type Polygon struct {
	PolygonPoints []Point `json:"polygonPoints"`
}

// GeoLocation is a place covered by the dataset.
type GeoLocation struct {
	GeoLocationPlace    string    `json:"geoLocationPlace,omitempty"`
	GeoLocationPoint    *Point    `json:"geoLocationPoint,omitempty"`
	GeoLocationPolygons []Polygon `json:"geoLocationPolygons,omitempty"`
}

// Rights is a localized license statement.
type Rights struct {
	Rights    string `json:"rights"`
	Lang      string `json:"lang,omitempty"`
	RightsURI string `json:"rightsUri,omitempty"`
}

// Document holds DataCite attributes of a dataset.
type Document struct {
	Identifiers        []Identifier        `json:"identifiers"`
	Titles             []Title             `json:"titles"`
	Creators           []Creator           `json:"creators"`
	Publisher          string              `json:"publisher,omitempty"`
	PublicationYear    string              `json:"publicationYear"`
	Types              Types               `json:"types"`
	SchemaVersion      string              `json:"schemaVersion"`
	Descriptions       []Description       `json:"descriptions"`
	Language           string              `json:"language,omitempty"`
	Contributors       []Creator           `json:"contributors"`
	Dates              []Date              `json:"dates"`
	RelatedIdentifiers []RelatedIdentifier `json:"relatedIdentifiers"`
	Subjects           []Subject           `json:"subjects"`
	GeoLocations       []GeoLocation       `json:"geoLocations"`
	RightsList         []Rights            `json:"rightsList"`
	Sizes              []string            `json:"sizes"`

	// Event and URL are only sent to the PID service.
	Event string `json:"event,omitempty"`
	URL   string `json:"url,omitempty"`
}

// Option customizes a Builder.
type Option func(*Builder)

// WithLogger sets the logger used for skipped geometries.
func WithLogger(l logging.Logger) Option { return func(b *Builder) { b.log = logging.OrNop(l) } }

// WithReferenceWKT resolves the WKT of a location reference url.
func WithReferenceWKT(fn func(url string) string) Option {
	return func(b *Builder) { b.referenceWKT = fn }
}

// Builder converts datasets to DataCite documents.
type Builder struct {
	log          logging.Logger
	referenceWKT func(url string) string
}

// NewBuilder returns a builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{log: logging.Nop()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type renderer struct {
	*Builder
	language string
}

func (r renderer) languageOrder() []string {
	order := []string{"en", "fi", "sv", "und"}
	if r.language != "" && r.language != "en" {
		order = append([]string{r.language}, order...)
	}
	return order
}

// translate picks one translation in preference order and returns it with its language.
func (r renderer) translate(m domain.MultiLang) (string, string) {
	for _, lang := range r.languageOrder() {
		if v := m[lang]; v != "" {
			if lang == "und" {
				lang = ""
			}
			return v, lang
		}
	}
	for _, lang := range sortedKeys(m) {
		if v := m[lang]; v != "" {
			if lang == "und" {
				lang = ""
			}
			return v, lang
		}
	}
	return "", ""
}

// parseIdentifier detects the identifier type from its prefix. ok is false
// when the type cannot be determined and there is no default.
func parseIdentifier(identifier, defaultType string) (value, typ string, ok bool) {
	value = identifier
	if identifier != "" {
		lower := strings.ToLower(identifier)
		for _, p := range identifierPrefixes {
			if strings.HasPrefix(lower, p.prefix) {
				typ = p.typ
				prefix := p.prefix
				if typ == "DOI" {
					prefix = "10."
				}
				value = prefix + identifier[len(p.prefix):]
				break
			}
		}
	}
	if typ == "" {
		typ = defaultType
	}
	if value == "" || typ == "" {
		return "", "", false
	}
	return value, typ, true
}

func nameIdentifiers(identifier string) []NameIdentifier {
	out := []NameIdentifier{}
	if v, t, ok := parseIdentifier(identifier, ""); ok {
		out = append(out, NameIdentifier{NameIdentifier: v, NameIdentifierScheme: t})
	}
	return out
}

func (r renderer) affiliation(org domain.Organization) []Affiliation {
	name, _ := r.translate(org.TopParent().PrefLabel)
	return []Affiliation{{Name: name}}
}

func (r renderer) actor(a domain.DatasetActor, contributorType string) Creator {
	var c Creator
	switch {
	case a.Person != nil:
		c = Creator{Name: a.Person.Name, NameType: "Personal", NameIdentifiers: nameIdentifiers(a.Person.ExternalIdentifier)}
		if a.Organization != nil {
			c.Affiliation = r.affiliation(*a.Organization)
		}
	case a.Organization != nil:
		name, lang := r.translate(a.Organization.PrefLabel)
		c = Creator{Name: name, Lang: lang, NameType: "Organizational", NameIdentifiers: nameIdentifiers(a.Organization.ExternalIdentifier)}
		if a.Organization.Parent != nil {
			c.Affiliation = r.affiliation(*a.Organization.Parent)
		}
	}
	c.ContributorType = contributorType
	return c
}

func sortedKeys(m domain.MultiLang) []string {
	return slices.Sorted(maps.Keys(m))
}

// Build converts d. totalSize is the byte size of the dataset file set.
func (b *Builder) Build(d domain.Dataset, totalSize int64) Document {
	r := renderer{Builder: b}
	for _, lang := range d.Language {
		if code, ok := languageCodes[lang.URL]; ok {
			r.language = code
			break
		}
	}

	doc := Document{
		Identifiers:   []Identifier{},
		Titles:        []Title{},
		Creators:      []Creator{},
		Types:         Types{ResourceTypeGeneral: "Dataset", ResourceType: "Dataset"},
		SchemaVersion: SchemaVersion,
		Language:      r.language,
		Descriptions:  []Description{},
		Contributors:  []Creator{},
		Sizes:         []string{},
	}
	if v, t, ok := parseIdentifier(d.PersistentIdentifier, ""); ok {
		doc.Identifiers = append(doc.Identifiers, Identifier{Identifier: v, IdentifierType: t})
	}
	for _, lang := range sortedKeys(d.Title) {
		doc.Titles = append(doc.Titles, Title{Lang: lang, Title: d.Title[lang]})
	}
	for _, a := range d.ActorsWithRole(domain.RoleCreator) {
		doc.Creators = append(doc.Creators, r.actor(a, ""))
	}
	if publishers := d.ActorsWithRole(domain.RolePublisher); len(publishers) > 0 {
		doc.Publisher = r.actor(publishers[0], "").Name
	}
	doc.PublicationYear = strconv.Itoa(d.Created.Year())
	if len(d.Issued) >= 4 {
		doc.PublicationYear = d.Issued[:4]
	}
	for _, lang := range sortedKeys(d.Description) {
		doc.Descriptions = append(doc.Descriptions, Description{Description: d.Description[lang], DescriptionType: "Abstract", Lang: lang})
	}
	for _, ct := range contributorTypes {
		for _, a := range d.ActorsWithRole(ct.role) {
			doc.Contributors = append(doc.Contributors, r.actor(a, ct.typ))
		}
	}
	doc.Dates = dates(d)
	doc.RelatedIdentifiers = relatedIdentifiers(d)
	doc.Subjects = subjects(d)
	doc.GeoLocations = r.geoLocations(d)
	doc.RightsList = rightsList(d)
	if totalSize > 0 {
		doc.Sizes = append(doc.Sizes, strconv.FormatInt(totalSize, 10)+" bytes")
	}

	doc.Identifiers = dedupe(doc.Identifiers)
	doc.Titles = dedupe(doc.Titles)
	doc.Creators = dedupe(doc.Creators)
	doc.Descriptions = dedupe(doc.Descriptions)
	doc.Contributors = dedupe(doc.Contributors)
	doc.Dates = dedupe(doc.Dates)
	doc.RelatedIdentifiers = dedupe(doc.RelatedIdentifiers)
	doc.Subjects = dedupe(doc.Subjects)
	doc.GeoLocations = dedupe(doc.GeoLocations)
	doc.RightsList = dedupe(doc.RightsList)
	return doc
}

func dedupe[T any](items []T) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		dup := false
		for _, seen := range out {
			if reflect.DeepEqual(seen, item) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return out
}

func dates(d domain.Dataset) []Date {
	out := []Date{}
	if d.Issued != "" {
		out = append(out, Date{Date: d.Issued, DateType: "Issued"})
	}
	for _, t := range d.Temporal {
		switch {
		case t.StartDate != "" && t.EndDate != "":
			out = append(out, Date{Date: t.StartDate + "/" + t.EndDate, DateType: "Other"})
		case t.StartDate != "":
			out = append(out, Date{Date: t.StartDate, DateType: "Other"})
		case t.EndDate != "":
			out = append(out, Date{Date: t.EndDate, DateType: "Other"})
		}
	}
	if ar := d.AccessRights; ar != nil && ar.AccessType != nil && ar.AccessType.URL == domain.AccessTypeEmbargo && ar.AvailableDate != "" {
		out = append(out, Date{Date: ar.AvailableDate, DateType: "Available"})
	}
	return out
}

func relatedIdentifiers(d domain.Dataset) []RelatedIdentifier {
	out := []RelatedIdentifier{}
	for _, oi := range d.OtherIdentifiers {
		if v, t, ok := parseIdentifier(oi.Notation, "URL"); ok {
			out = append(out, RelatedIdentifier{RelatedIdentifier: v, RelatedIdentifierType: t, RelationType: "IsIdenticalTo"})
		}
	}
	for _, rel := range d.Relation {
		relType := relationTypes[rel.RelationType.URL]
		if rel.Entity.EntityIdentifier == "" || relType == "" {
			continue
		}
		if v, t, ok := parseIdentifier(rel.Entity.EntityIdentifier, "URL"); ok {
			out = append(out, RelatedIdentifier{RelatedIdentifier: v, RelatedIdentifierType: t, RelationType: relType})
		}
	}
	return out
}

func subjects(d domain.Dataset) []Subject {
	out := []Subject{}
	for _, c := range append(append([]domain.ConceptRef(nil), d.Theme...), d.FieldOfScience...) {
		for _, lang := range sortedKeys(c.PrefLabel) {
			out = append(out, Subject{Subject: c.PrefLabel[lang], ValueURI: c.URL, SchemeURI: c.InScheme, Lang: lang})
		}
	}
	for _, kw := range d.Keyword {
		out = append(out, Subject{Subject: kw})
	}
	return out
}

func rightsList(d domain.Dataset) []Rights {
	out := []Rights{}
	if d.AccessRights == nil {
		return out
	}
	for _, l := range d.AccessRights.License {
		url := l.CustomURL
		if url == "" {
			url = l.URL
		}
		title := l.Description
		if title.IsEmpty() {
			title = l.PrefLabel
		}
		for _, lang := range sortedKeys(title) {
			out = append(out, Rights{Rights: title[lang], Lang: lang, RightsURI: url})
		}
	}
	return out
}

func (r renderer) geoLocations(d domain.Dataset) []GeoLocation {
	out := []GeoLocation{}
	for _, s := range d.Spatial {
		var loc GeoLocation
		loc.GeoLocationPlace = s.GeographicName
		wkts := append([]string(nil), s.CustomWKT...)
		if s.Reference != nil && r.referenceWKT != nil {
			if wkt := r.referenceWKT(s.Reference.URL); wkt != "" {
				wkts = append(wkts, wkt)
			}
		}
		for _, wkt := range wkts {
			geoms, err := parseWKT(wkt)
			if err != nil {
				r.log.Warnw("invalid WKT, skipping", "dataset", d.ID, "error", err)
				continue
			}
			if p := r.firstPoint(geoms); p != nil {
				loc.GeoLocationPoint = p
			}
			if polys := r.polygons(geoms); len(polys) > 0 {
				loc.GeoLocationPolygons = polys
			}
		}
		if loc.GeoLocationPlace != "" || loc.GeoLocationPoint != nil || len(loc.GeoLocationPolygons) > 0 {
			out = append(out, loc)
		}
	}
	return out
}

func (r renderer) firstPoint(geoms []geometry) *Point {
	for _, g := range geoms {
		if g.kind != kindPoint {
			continue
		}
		p, err := toPoint(g.rings[0][0])
		if err != nil {
			r.log.Warnw("skipping invalid point", "error", err)
			continue
		}
		return &p
	}
	return nil
}

func (r renderer) polygons(geoms []geometry) []Polygon {
	var out []Polygon
	for _, g := range geoms {
		if g.kind != kindPolygon {
			continue
		}
		poly := Polygon{}
		valid := true
		for _, c := range g.rings[0] {
			p, err := toPoint(c)
			if err != nil {
				r.log.Warnw("skipping polygon with invalid point", "error", err)
				valid = false
				break
			}
			poly.PolygonPoints = append(poly.PolygonPoints, p)
		}
		if valid {
			out = append(out, poly)
		}
	}
	return out
}
