package datacite

import (
	"encoding/xml"
	"fmt"
)

type xmlResource struct {
	XMLName            xml.Name         `xml:"resource"`
	Xmlns              string           `xml:"xmlns,attr"`
	XmlnsXSI           string           `xml:"xmlns:xsi,attr"`
	SchemaLocation     string           `xml:"xsi:schemaLocation,attr"`
	Identifier         *xmlIdentifier   `xml:"identifier,omitempty"`
	Creators           []xmlCreator     `xml:"creators>creator"`
	Titles             []xmlLangValue   `xml:"titles>title"`
	Publisher          string           `xml:"publisher,omitempty"`
	PublicationYear    string           `xml:"publicationYear"`
	ResourceType       xmlResourceType  `xml:"resourceType"`
	Subjects           *xmlSubjects     `xml:"subjects,omitempty"`
	Contributors       *xmlContributors `xml:"contributors,omitempty"`
	Dates              *xmlDates        `xml:"dates,omitempty"`
	Language           string           `xml:"language,omitempty"`
	RelatedIdentifiers *xmlRelatedList  `xml:"relatedIdentifiers,omitempty"`
	Sizes              *xmlSizes        `xml:"sizes,omitempty"`
	RightsList         *xmlRightsList   `xml:"rightsList,omitempty"`
	Descriptions       *xmlDescriptions `xml:"descriptions,omitempty"`
	GeoLocations       *xmlGeoLocations `xml:"geoLocations,omitempty"`
}

// Optional lists are pointers: a nil list drops its wrapper element.
type (
	xmlSubjects     struct{ Items []xmlSubject `xml:"subject"` }
	xmlContributors struct{ Items []xmlContributor `xml:"contributor"` }
	xmlDates        struct{ Items []xmlDate `xml:"date"` }
	xmlRelatedList  struct{ Items []xmlRelated `xml:"relatedIdentifier"` }
	xmlSizes        struct{ Items []string `xml:"size"` }
	xmlRightsList   struct{ Items []xmlRights `xml:"rights"` }
	xmlDescriptions struct{ Items []xmlDescription `xml:"description"` }
	xmlGeoLocations struct{ Items []xmlGeoLocation `xml:"geoLocation"` }
)

type xmlIdentifier struct {
	Type  string `xml:"identifierType,attr"`
	Value string `xml:",chardata"`
}

type xmlLangValue struct {
	Lang  string `xml:"xml:lang,attr,omitempty"`
	Value string `xml:",chardata"`
}

type xmlName struct {
	NameType string `xml:"nameType,attr,omitempty"`
	Lang     string `xml:"xml:lang,attr,omitempty"`
	Value    string `xml:",chardata"`
}

type xmlNameIdentifier struct {
	Scheme string `xml:"nameIdentifierScheme,attr"`
	Value  string `xml:",chardata"`
}

type xmlCreator struct {
	Name            xmlName             `xml:"creatorName"`
	NameIdentifiers []xmlNameIdentifier `xml:"nameIdentifier,omitempty"`
	Affiliation     []string            `xml:"affiliation,omitempty"`
}

type xmlContributor struct {
	Type            string              `xml:"contributorType,attr"`
	Name            xmlName             `xml:"contributorName"`
	NameIdentifiers []xmlNameIdentifier `xml:"nameIdentifier,omitempty"`
	Affiliation     []string            `xml:"affiliation,omitempty"`
}

type xmlResourceType struct {
	General string `xml:"resourceTypeGeneral,attr"`
	Value   string `xml:",chardata"`
}

type xmlSubject struct {
	Lang      string `xml:"xml:lang,attr,omitempty"`
	SchemeURI string `xml:"schemeURI,attr,omitempty"`
	ValueURI  string `xml:"valueURI,attr,omitempty"`
	Value     string `xml:",chardata"`
}

type xmlDate struct {
	Type  string `xml:"dateType,attr"`
	Value string `xml:",chardata"`
}

type xmlRelated struct {
	IdentifierType string `xml:"relatedIdentifierType,attr"`
	RelationType   string `xml:"relationType,attr"`
	Value          string `xml:",chardata"`
}

type xmlRights struct {
	Lang  string `xml:"xml:lang,attr,omitempty"`
	URI   string `xml:"rightsURI,attr,omitempty"`
	Value string `xml:",chardata"`
}

type xmlDescription struct {
	Lang  string `xml:"xml:lang,attr,omitempty"`
	Type  string `xml:"descriptionType,attr"`
	Value string `xml:",chardata"`
}

type xmlPoint struct {
	Longitude string `xml:"pointLongitude"`
	Latitude  string `xml:"pointLatitude"`
}

type xmlPolygon struct {
	Points []xmlPoint `xml:"polygonPoint"`
}

type xmlGeoLocation struct {
	Place    string       `xml:"geoLocationPlace,omitempty"`
	Point    *xmlPoint    `xml:"geoLocationPoint,omitempty"`
	Polygons []xmlPolygon `xml:"geoLocationPolygon,omitempty"`
}

func xmlNameIdentifiers(ids []NameIdentifier) []xmlNameIdentifier {
	out := make([]xmlNameIdentifier, 0, len(ids))
	for _, id := range ids {
		out = append(out, xmlNameIdentifier{Scheme: id.NameIdentifierScheme, Value: id.NameIdentifier})
	}
	return out
}

func affiliations(in []Affiliation) []string {
	out := make([]string, 0, len(in))
	for _, a := range in {
		out = append(out, a.Name)
	}
	return out
}

func xmlPointOf(p Point) xmlPoint { return xmlPoint{Longitude: p.PointLongitude, Latitude: p.PointLatitude} }

// XML renders the document as DataCite kernel-4 XML.
func (doc Document) XML() ([]byte, error) {
	res := xmlResource{
		Xmlns:           "http://datacite.org/schema/kernel-4",
		XmlnsXSI:        "http://www.w3.org/2001/XMLSchema-instance",
		SchemaLocation:  "http://datacite.org/schema/kernel-4 http://schema.datacite.org/meta/kernel-4/metadata.xsd",
		Publisher:       doc.Publisher,
		PublicationYear: doc.PublicationYear,
		ResourceType:    xmlResourceType{General: doc.Types.ResourceTypeGeneral, Value: doc.Types.ResourceType},
		Language:        doc.Language,
	}
	if len(doc.Identifiers) > 0 {
		res.Identifier = &xmlIdentifier{Type: doc.Identifiers[0].IdentifierType, Value: doc.Identifiers[0].Identifier}
	}
	for _, c := range doc.Creators {
		res.Creators = append(res.Creators, xmlCreator{
			Name:            xmlName{NameType: c.NameType, Lang: c.Lang, Value: c.Name},
			NameIdentifiers: xmlNameIdentifiers(c.NameIdentifiers),
			Affiliation:     affiliations(c.Affiliation),
		})
	}
	for _, t := range doc.Titles {
		res.Titles = append(res.Titles, xmlLangValue{Lang: t.Lang, Value: t.Title})
	}
	var (
		subjects     []xmlSubject
		contributors []xmlContributor
		dates        []xmlDate
		related      []xmlRelated
		rights       []xmlRights
		descriptions []xmlDescription
		geoLocations []xmlGeoLocation
	)
	for _, s := range doc.Subjects {
		subjects = append(subjects, xmlSubject{Lang: s.Lang, SchemeURI: s.SchemeURI, ValueURI: s.ValueURI, Value: s.Subject})
	}
	for _, c := range doc.Contributors {
		contributors = append(contributors, xmlContributor{
			Type:            c.ContributorType,
			Name:            xmlName{NameType: c.NameType, Lang: c.Lang, Value: c.Name},
			NameIdentifiers: xmlNameIdentifiers(c.NameIdentifiers),
			Affiliation:     affiliations(c.Affiliation),
		})
	}
	for _, d := range doc.Dates {
		dates = append(dates, xmlDate{Type: d.DateType, Value: d.Date})
	}
	for _, r := range doc.RelatedIdentifiers {
		related = append(related, xmlRelated{IdentifierType: r.RelatedIdentifierType, RelationType: r.RelationType, Value: r.RelatedIdentifier})
	}
	for _, r := range doc.RightsList {
		rights = append(rights, xmlRights{Lang: r.Lang, URI: r.RightsURI, Value: r.Rights})
	}
	for _, d := range doc.Descriptions {
		descriptions = append(descriptions, xmlDescription{Lang: d.Lang, Type: d.DescriptionType, Value: d.Description})
	}
	for _, g := range doc.GeoLocations {
		loc := xmlGeoLocation{Place: g.GeoLocationPlace}
		if g.GeoLocationPoint != nil {
			p := xmlPointOf(*g.GeoLocationPoint)
			loc.Point = &p
		}
		for _, poly := range g.GeoLocationPolygons {
			var xp xmlPolygon
			for _, p := range poly.PolygonPoints {
				xp.Points = append(xp.Points, xmlPointOf(p))
			}
			loc.Polygons = append(loc.Polygons, xp)
		}
		geoLocations = append(geoLocations, loc)
	}
	if len(subjects) > 0 {
		res.Subjects = &xmlSubjects{Items: subjects}
	}
	if len(contributors) > 0 {
		res.Contributors = &xmlContributors{Items: contributors}
	}
	if len(dates) > 0 {
		res.Dates = &xmlDates{Items: dates}
	}
	if len(related) > 0 {
		res.RelatedIdentifiers = &xmlRelatedList{Items: related}
	}
	if len(doc.Sizes) > 0 {
		res.Sizes = &xmlSizes{Items: doc.Sizes}
	}
	if len(rights) > 0 {
		res.RightsList = &xmlRightsList{Items: rights}
	}
	if len(descriptions) > 0 {
		res.Descriptions = &xmlDescriptions{Items: descriptions}
	}
	if len(geoLocations) > 0 {
		res.GeoLocations = &xmlGeoLocations{Items: geoLocations}
	}
	out, err := xml.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render datacite xml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
