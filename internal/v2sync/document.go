package v2sync

import (
	"strings"

	"metax/pkg/domain"
)

// Document is a dataset in the V2 JSON format.
type Document map[string]any

// ID returns the dataset identifier of the document.
func (doc Document) ID() string {
	id, _ := doc["identifier"].(string)
	return id
}

func refDataV2(c domain.ConceptRef, labelKey string) map[string]any {
	out := map[string]any{"identifier": c.URL}
	if len(c.PrefLabel) > 0 {
		out[labelKey] = map[string]string(c.PrefLabel)
	}
	if c.InScheme != "" {
		out["in_scheme"] = c.InScheme
	}
	return out
}

func refDataListV2(refs []domain.ConceptRef, labelKey string) []map[string]any {
	out := make([]map[string]any, 0, len(refs))
	for _, r := range refs {
		out = append(out, refDataV2(r, labelKey))
	}
	return out
}

func organizationV2(o *domain.Organization) map[string]any {
	out := map[string]any{"@type": "Organization", "name": map[string]string(o.PrefLabel)}
	if o.URL != "" {
		out["identifier"] = o.URL
	} else if o.ExternalIdentifier != "" {
		out["identifier"] = o.ExternalIdentifier
	}
	if o.Email != "" {
		out["email"] = o.Email
	}
	if o.Parent != nil {
		out["is_part_of"] = organizationV2(o.Parent)
	}
	return out
}

func actorV2(a domain.DatasetActor) map[string]any {
	if a.Person == nil {
		if a.Organization == nil {
			return nil
		}
		return organizationV2(a.Organization)
	}
	out := map[string]any{"@type": "Person", "name": a.Person.Name}
	if a.Person.Email != "" {
		out["email"] = a.Person.Email
	}
	if a.Person.ExternalIdentifier != "" {
		out["identifier"] = a.Person.ExternalIdentifier
	}
	if a.Organization != nil {
		out["member_of"] = organizationV2(a.Organization)
	}
	return out
}

func accessRightsV2(ar *domain.AccessRights) map[string]any {
	if ar == nil {
		return nil
	}
	out := map[string]any{}
	if ar.AccessType != nil {
		out["access_type"] = refDataV2(*ar.AccessType, "pref_label")
	}
	if len(ar.License) > 0 {
		licenses := make([]map[string]any, 0, len(ar.License))
		for _, l := range ar.License {
			lic := map[string]any{}
			if l.URL != "" {
				lic["identifier"] = l.URL
			}
			if len(l.PrefLabel) > 0 {
				lic["title"] = map[string]string(l.PrefLabel)
			}
			if l.CustomURL != "" {
				lic["license"] = l.CustomURL
			}
			if len(l.Description) > 0 {
				lic["description"] = map[string]string(l.Description)
			}
			licenses = append(licenses, lic)
		}
		out["license"] = licenses
	}
	if len(ar.RestrictionGrounds) > 0 {
		out["restriction_grounds"] = refDataListV2(ar.RestrictionGrounds, "pref_label")
	}
	if ar.AvailableDate != "" {
		out["available"] = ar.AvailableDate
	}
	if len(ar.Description) > 0 {
		out["description"] = map[string]string(ar.Description)
	}
	return out
}

func temporalV2(ts []domain.Temporal) []map[string]any {
	out := make([]map[string]any, 0, len(ts))
	for _, t := range ts {
		entry := map[string]any{}
		if t.StartDate != "" {
			entry["start_date"] = t.StartDate + "T00:00:00.000Z"
		}
		if t.EndDate != "" {
			entry["end_date"] = t.EndDate + "T00:00:00.000Z"
		}
		if t.TemporalCoverage != "" {
			entry["temporal_coverage"] = t.TemporalCoverage
		}
		out = append(out, entry)
	}
	return out
}

func spatialV2(ss []domain.Spatial) []map[string]any {
	out := make([]map[string]any, 0, len(ss))
	for _, s := range ss {
		entry := map[string]any{}
		if s.Reference != nil {
			entry["place_uri"] = refDataV2(*s.Reference, "pref_label")
		}
		if s.GeographicName != "" {
			entry["geographic_name"] = s.GeographicName
		}
		if s.FullAddress != "" {
			entry["full_address"] = s.FullAddress
		}
		if s.AltitudeInMeters != nil {
			entry["alt"] = *s.AltitudeInMeters
		}
		if len(s.CustomWKT) > 0 {
			entry["as_wkt"] = s.CustomWKT
		}
		out = append(out, entry)
	}
	return out
}

// NewDocument renders d in the V2 format. totalSize is the byte size of the
// files of the dataset.
func NewDocument(d domain.Dataset, totalSize int64) Document {
	rd := map[string]any{
		"title":                 map[string]string(d.Title),
		"preferred_identifier":  d.PersistentIdentifier,
		"total_files_byte_size": totalSize,
		"modified":              d.Modified,
	}
	if len(d.Description) > 0 {
		rd["description"] = map[string]string(d.Description)
	}
	if len(d.Keyword) > 0 {
		rd["keyword"] = d.Keyword
	}
	if d.Issued != "" {
		rd["issued"] = d.Issued
	}
	if ar := accessRightsV2(d.AccessRights); ar != nil {
		rd["access_rights"] = ar
	}
	if len(d.Language) > 0 {
		rd["language"] = refDataListV2(d.Language, "title")
	}
	if len(d.FieldOfScience) > 0 {
		rd["field_of_science"] = refDataListV2(d.FieldOfScience, "pref_label")
	}
	if len(d.Theme) > 0 {
		rd["theme"] = refDataListV2(d.Theme, "pref_label")
	}
	if len(d.Infrastructure) > 0 {
		rd["infrastructure"] = refDataListV2(d.Infrastructure, "pref_label")
	}
	if len(d.Spatial) > 0 {
		rd["spatial"] = spatialV2(d.Spatial)
	}
	if len(d.Temporal) > 0 {
		rd["temporal"] = temporalV2(d.Temporal)
	}
	if len(d.OtherIdentifiers) > 0 {
		ids := make([]map[string]any, 0, len(d.OtherIdentifiers))
		for _, oi := range d.OtherIdentifiers {
			entry := map[string]any{"notation": oi.Notation}
			if oi.IdentifierType != nil {
				entry["type"] = refDataV2(*oi.IdentifierType, "pref_label")
			}
			ids = append(ids, entry)
		}
		rd["other_identifier"] = ids
	}
	for _, role := range []string{domain.RoleCreator, domain.RoleCurator, domain.RoleContributor, domain.RoleRightsHolder} {
		actors := d.ActorsWithRole(role)
		if len(actors) == 0 {
			continue
		}
		list := make([]map[string]any, 0, len(actors))
		for _, a := range actors {
			if v := actorV2(a); v != nil {
				list = append(list, v)
			}
		}
		rd[role] = list
	}
	if pubs := d.ActorsWithRole(domain.RolePublisher); len(pubs) > 0 {
		if v := actorV2(pubs[0]); v != nil {
			rd["publisher"] = v
		}
	}

	doc := Document{
		"identifier":       d.ID,
		"deprecated":       d.Deprecated != nil,
		"state":            string(d.State),
		"cumulative_state": int(d.CumulativeState),
		"date_created":     d.Created,
		"removed":          d.Removed != nil,
		"api_meta":         map[string]int{"version": 3},
		"research_dataset": rd,
	}
	if d.DataCatalog != "" {
		doc["data_catalog"] = map[string]string{"identifier": d.DataCatalog}
	}
	if d.MetadataOwner != nil {
		doc["metadata_provider_user"] = d.MetadataOwner.User
		doc["metadata_provider_org"] = d.MetadataOwner.Organization
		doc["metadata_owner_org"] = d.MetadataOwner.Organization
	}
	if d.Preservation != nil {
		doc["preservation_state"] = d.Preservation.State
		if d.Preservation.PreservationIdentifier != "" {
			doc["preservation_identifier"] = d.Preservation.PreservationIdentifier
		}
	}
	if d.CumulationStarted != nil {
		doc["date_cumulation_started"] = *d.CumulationStarted
	}
	if d.LastCumulativeAddition != nil {
		doc["date_last_cumulative_addition"] = *d.LastCumulativeAddition
	}
	return doc
}

func conceptIdentifier(c *domain.ConceptRef) map[string]string {
	if c == nil {
		return nil
	}
	return map[string]string{"identifier": c.URL}
}

// userMetadata renders dataset specific file and directory metadata. Files
// are keyed by their storage identifier.
func userMetadata(files []domain.File, fs domain.FileSet) map[string]any {
	fileEntries := []map[string]any{}
	for _, f := range files {
		md, ok := fs.FileMetadata[f.ID]
		if !ok {
			continue
		}
		entry := map[string]any{"identifier": f.StorageIdentifier}
		if md.Title != "" {
			entry["title"] = md.Title
		}
		if md.Description != "" {
			entry["description"] = md.Description
		}
		if v := conceptIdentifier(md.FileType); v != nil {
			entry["file_type"] = v
		}
		if v := conceptIdentifier(md.UseCategory); v != nil {
			entry["use_category"] = v
		}
		fileEntries = append(fileEntries, entry)
	}
	dirEntries := []map[string]any{}
	for _, path := range sortedKeys(fs.DirectoryMetadata) {
		md := fs.DirectoryMetadata[path]
		entry := map[string]any{"directory_path": strings.TrimSuffix(path, "/")}
		if md.Title != "" {
			entry["title"] = md.Title
		}
		if md.Description != "" {
			entry["description"] = md.Description
		}
		if v := conceptIdentifier(md.UseCategory); v != nil {
			entry["use_category"] = v
		}
		dirEntries = append(dirEntries, entry)
	}
	return map[string]any{"files": fileEntries, "directories": dirEntries}
}
