package datacite

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"metax/internal/blob"
	"metax/internal/logging"
	"metax/pkg/domain"
)

func testDataset() domain.Dataset {
	university := &domain.Organization{PrefLabel: domain.MultiLang{"fi": "Yliopisto", "en": "University"}}
	lab := &domain.Organization{PrefLabel: domain.MultiLang{"en": "Lab"}, Parent: university, ExternalIdentifier: "https://ror.org/abc"}
	return domain.Dataset{
		Base:                 domain.Base{ID: "d1", Created: time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC)},
		PersistentIdentifier: "doi:10.82614/abc",
		Title:                domain.MultiLang{"en": "Title", "fi": "Otsikko"},
		Description:          domain.MultiLang{"en": "About"},
		Keyword:              []string{"rocks", "rocks"},
		Issued:               "2024-02-03",
		Language:             []domain.ConceptRef{{URL: "http://lexvo.org/id/iso639-3/fin"}},
		Actors: []domain.DatasetActor{
			{Roles: []string{domain.RoleCreator, domain.RoleCurator}, Person: &domain.Person{Name: "Teppo", ExternalIdentifier: "https://orcid.org/0000"}, Organization: lab},
			{Roles: []string{domain.RolePublisher}, Organization: university},
		},
		Temporal: []domain.Temporal{{StartDate: "2020-01-01", EndDate: "2020-12-31"}, {EndDate: "2021-01-01"}},
		AccessRights: &domain.AccessRights{
			AccessType:    &domain.ConceptRef{URL: domain.AccessTypeEmbargo},
			AvailableDate: "2030-01-01",
			License:       []domain.License{{URL: "http://uri.suomi.fi/codelist/fairdata/license/code/CC-BY-4.0", PrefLabel: domain.MultiLang{"en": "CC BY 4.0"}}},
		},
		OtherIdentifiers: []domain.OtherIdentifier{{Notation: "https://example.com/other"}},
		Relation: []domain.Relation{
			{Entity: domain.Entity{EntityIdentifier: "10.1234/cited"}, RelationType: domain.ConceptRef{URL: "http://purl.org/spar/cito/cites"}},
			{Entity: domain.Entity{EntityIdentifier: "https://x"}, RelationType: domain.ConceptRef{URL: "http://purl.org/dc/terms/relation"}},
		},
		Theme: []domain.ConceptRef{{URL: "http://www.yso.fi/onto/koko/p1", InScheme: "http://www.yso.fi/onto/koko/", PrefLabel: domain.MultiLang{"en": "geology"}}},
		Spatial: []domain.Spatial{
			{GeographicName: "Espoo", CustomWKT: []string{"MULTIPOLYGON(((0 0, 1 0, 1 1, 0 0)),((2 2, 3 2, 3 3, 2 2)))", "POINT(200 10)", "POINT (24.8 60.2)"}},
			{Reference: &domain.ConceptRef{URL: "http://www.yso.fi/onto/yso/p94137"}},
			{CustomWKT: []string{"not wkt"}},
		},
	}
}

func TestBuild(t *testing.T) {
	b := NewBuilder(WithLogger(logging.Test(t)), WithReferenceWKT(func(url string) string {
		if url == "http://www.yso.fi/onto/yso/p94137" {
			return "POINT(25 61)"
		}
		return ""
	}))
	doc := b.Build(testDataset(), 1234)

	require.Equal(t, []Identifier{{Identifier: "10.82614/abc", IdentifierType: "DOI"}}, doc.Identifiers)
	require.Equal(t, []Title{{Lang: "en", Title: "Title"}, {Lang: "fi", Title: "Otsikko"}}, doc.Titles)
	require.Equal(t, "fi", doc.Language)
	require.Equal(t, "2024", doc.PublicationYear)
	require.Equal(t, "Yliopisto", doc.Publisher)

	require.Len(t, doc.Creators, 1)
	require.Equal(t, "Personal", doc.Creators[0].NameType)
	require.Equal(t, []NameIdentifier{{NameIdentifier: "https://orcid.org/0000", NameIdentifierScheme: "URL"}}, doc.Creators[0].NameIdentifiers)
	require.Equal(t, []Affiliation{{Name: "Yliopisto"}}, doc.Creators[0].Affiliation)
	require.Len(t, doc.Contributors, 1)
	require.Equal(t, "DataCurator", doc.Contributors[0].ContributorType)

	require.Equal(t, []Date{
		{Date: "2024-02-03", DateType: "Issued"},
		{Date: "2020-01-01/2020-12-31", DateType: "Other"},
		{Date: "2021-01-01", DateType: "Other"},
		{Date: "2030-01-01", DateType: "Available"},
	}, doc.Dates)
	require.Equal(t, []RelatedIdentifier{
		{RelatedIdentifier: "https://example.com/other", RelatedIdentifierType: "URL", RelationType: "IsIdenticalTo"},
		{RelatedIdentifier: "10.1234/cited", RelatedIdentifierType: "DOI", RelationType: "Cites"},
	}, doc.RelatedIdentifiers)
	require.Equal(t, []Subject{
		{Subject: "geology", ValueURI: "http://www.yso.fi/onto/koko/p1", SchemeURI: "http://www.yso.fi/onto/koko/", Lang: "en"},
		{Subject: "rocks"},
	}, doc.Subjects)
	require.Equal(t, []Rights{{Rights: "CC BY 4.0", Lang: "en", RightsURI: "http://uri.suomi.fi/codelist/fairdata/license/code/CC-BY-4.0"}}, doc.RightsList)
	require.Equal(t, []string{"1234 bytes"}, doc.Sizes)

	require.Len(t, doc.GeoLocations, 2)
	espoo := doc.GeoLocations[0]
	require.Equal(t, "Espoo", espoo.GeoLocationPlace)
	require.Equal(t, &Point{PointLongitude: "24.8", PointLatitude: "60.2"}, espoo.GeoLocationPoint)
	require.Len(t, espoo.GeoLocationPolygons, 2)
	require.Len(t, espoo.GeoLocationPolygons[1].PolygonPoints, 4)
	require.Equal(t, &Point{PointLongitude: "25", PointLatitude: "61"}, doc.GeoLocations[1].GeoLocationPoint)
}

func TestParseIdentifier(t *testing.T) {
	cases := []struct {
		in, def, value, typ string
		ok                  bool
	}{
		{in: "https://doi.org/10.1/x", value: "10.1/x", typ: "DOI", ok: true},
		{in: "urn:nbn:fi:att:1", value: "urn:nbn:fi:att:1", typ: "URN", ok: true},
		{in: "plain", ok: false},
		{in: "plain", def: "URL", value: "plain", typ: "URL", ok: true},
		{in: "", def: "URL", ok: false},
	}
	for _, tc := range cases {
		v, typ, ok := parseIdentifier(tc.in, tc.def)
		require.Equal(t, tc.ok, ok, tc.in)
		require.Equal(t, tc.value, v, tc.in)
		require.Equal(t, tc.typ, typ, tc.in)
	}
}

func TestParseWKT(t *testing.T) {
	geoms, err := parseWKT("GEOMETRYCOLLECTION(POINT(1 2), POLYGON((0 0, 1 0, 1 1, 0 0), (0.1 0.1, 0.2 0.1, 0.2 0.2, 0.1 0.1)), LINESTRING(0 0, 1 1))")
	require.NoError(t, err)
	require.Len(t, geoms, 2)
	require.Equal(t, kindPoint, geoms[0].kind)
	require.Equal(t, kindPolygon, geoms[1].kind)
	require.Len(t, geoms[1].rings, 2)

	geoms, err = parseWKT("MULTIPOINT((1 2), (3 4))")
	require.NoError(t, err)
	require.Len(t, geoms, 2)

	geoms, err = parseWKT("POINT Z (1 2 3)")
	require.NoError(t, err)
	require.Equal(t, [2]float64{1, 2}, geoms[0].rings[0][0])

	_, err = parseWKT("CIRCLE(1 2)")
	require.Error(t, err)
	_, err = parseWKT("POINT(1 2")
	require.Error(t, err)
}

func TestNearPoint(t *testing.T) {
	require.True(t, NearPoint("POINT(22.1 60.5)", "POINT(22.10001 60.5)", 0.0001))
	require.False(t, NearPoint("POINT(22.1 60.5)", "POINT(22.2 60.5)", 0.0001))
	require.False(t, NearPoint("POINT(22.1 60.5)", "POLYGON((0 0, 1 0, 1 1, 0 0))", 0.0001))
	require.False(t, NearPoint("POINT(22.1 60.5)", "nonsense", 0.0001))
}

func TestXML(t *testing.T) {
	doc := NewBuilder().Build(testDataset(), 0)
	out, err := doc.XML()
	require.NoError(t, err)
	xml := string(out)
	require.True(t, strings.HasPrefix(xml, "<?xml"))
	require.Contains(t, xml, `<identifier identifierType="DOI">10.82614/abc</identifier>`)
	require.Contains(t, xml, `<creatorName nameType="Personal">Teppo</creatorName>`)
	require.Contains(t, xml, `<title xml:lang="fi">Otsikko</title>`)
	require.Contains(t, xml, `<resourceType resourceTypeGeneral="Dataset">Dataset</resourceType>`)
	require.Contains(t, xml, `<date dateType="Available">2030-01-01</date>`)
	require.NotContains(t, xml, "<sizes>")

	out, err = NewBuilder().Build(testDataset(), 1234).XML()
	require.NoError(t, err)
	require.Contains(t, string(out), "<sizes>\n    <size>1234 bytes</size>\n  </sizes>")

	out, err = NewBuilder().Build(domain.Dataset{Title: domain.MultiLang{"en": "x"}}, 0).XML()
	require.NoError(t, err)
	for _, wrapper := range []string{"<subjects", "<contributors", "<relatedIdentifiers", "<rightsList", "<descriptions", "<geoLocations", "<sizes"} {
		require.NotContains(t, string(out), wrapper)
	}
}

func TestJSONShape(t *testing.T) {
	doc := NewBuilder().Build(domain.Dataset{Title: domain.MultiLang{"en": "x"}}, 0)
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	require.Equal(t, SchemaVersion, m["schemaVersion"])
	require.Equal(t, []any{}, m["identifiers"])
	require.NotContains(t, m, "event")
}

func TestExport(t *testing.T) {
	store, err := blob.Open(context.Background(), blob.Config{Driver: string(blob.DriverMemory)})
	require.NoError(t, err)
	info, err := NewBuilder().Export(context.Background(), store, testDataset(), 10)
	require.NoError(t, err)
	require.Equal(t, "datacite/d1.xml", info.Key)
	require.Empty(t, info.URL)

	_, err = store.Head(context.Background(), ExportKey("d1"))
	require.NoError(t, err)
}
