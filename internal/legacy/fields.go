package legacy

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"metax/internal/datacite"
	"metax/pkg/domain"
)

func multiLang(v any) domain.MultiLang {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := domain.MultiLang{}
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func english(s string) domain.MultiLang {
	if s == "" {
		return nil
	}
	return domain.MultiLang{"en": s}
}

var refdataNames = map[domain.RefdataType]string{
	domain.RefAccessType:         "AccessType",
	domain.RefEventOutcome:       "EventOutcome",
	domain.RefFieldOfScience:     "FieldOfScience",
	domain.RefFileType:           "FileType",
	domain.RefFunderType:         "FunderType",
	domain.RefIdentifierType:     "IdentifierType",
	domain.RefLanguage:           "Language",
	domain.RefLifecycleEvent:     "LifecycleEvent",
	domain.RefLocation:           "Location",
	domain.RefPreservationEvent:  "PreservationEvent",
	domain.RefRelationType:       "RelationType",
	domain.RefResearchInfra:      "ResearchInfra",
	domain.RefResourceType:       "ResourceType",
	domain.RefRestrictionGrounds: "RestrictionGrounds",
	domain.RefTheme:              "Theme",
	domain.RefUseCategory:        "UseCategory",
}

// concept resolves a V2 reference data object. Unknown concepts are created
// as deprecated entries unless converting only.
func (cv *conversion) concept(typ domain.RefdataType, v any, labelKey, scheme string) *domain.ConceptRef {
	m := cv.mapOf(v)
	if len(m) == 0 {
		return nil
	}
	url := str(m, "identifier")
	if c, ok := cv.Lookup.Concept(typ, url); ok {
		return &domain.ConceptRef{URL: c.URL, PrefLabel: c.PrefLabel.Clone()}
	}
	for _, c := range cv.created.Concepts {
		if c.Type == typ && c.URL == url {
			return &domain.ConceptRef{URL: c.URL, PrefLabel: c.PrefLabel.Clone()}
		}
	}
	if cv.ConvertOnly {
		cv.fail(validation(string(typ), fmt.Sprintf("%s not found with url=%q", refdataNames[typ], url)))
		return nil
	}
	if scheme == "" {
		scheme = firstNonEmpty(str(m, "in_scheme"), domain.RefdataSchemes[typ])
	}
	now := cv.Now()
	c := domain.Concept{
		Type:            typ,
		URL:             url,
		InScheme:        scheme,
		PrefLabel:       multiLang(m[labelKey]),
		IsReferenceData: true,
		Deprecated:      &now,
	}
	cv.created.Concepts = append(cv.created.Concepts, c)
	return &domain.ConceptRef{URL: c.URL, PrefLabel: c.PrefLabel.Clone()}
}

func (cv *conversion) concepts(typ domain.RefdataType, v any, labelKey, scheme string) []domain.ConceptRef {
	var out []domain.ConceptRef
	for _, item := range cv.listOf(v) {
		if ref := cv.concept(typ, item, labelKey, scheme); ref != nil {
			out = append(out, *ref)
		}
	}
	return out
}

func (cv *conversion) license(m map[string]any) domain.License {
	url := str(m, "identifier")
	if url == "" {
		url = domain.LicenseNotSpec
	}
	l := domain.License{
		URL:         url,
		CustomURL:   str(m, "license"),
		Title:       multiLang(m["title"]),
		Description: multiLang(m["description"]),
	}
	// Some old removed datasets have invalid license urls.
	if !strings.HasPrefix(url, domain.LicenseBaseURL) && cv.removed() {
		l.URL = domain.LicenseOther
		markFixed(m, "Invalid license identifier", nil, "identifier")
	}
	return l
}

func (cv *conversion) accessRights() *domain.AccessRights {
	ar := cv.mapOf(cv.rd["access_rights"])
	if ar == nil {
		ar = map[string]any{}
	}
	out := &domain.AccessRights{
		Description:   multiLang(ar["description"]),
		AccessType:    cv.concept(domain.RefAccessType, ar["access_type"], "pref_label", ""),
		AvailableDate: str(ar, "available"),
	}
	for _, v := range cv.listOf(ar["license"]) {
		if m := cv.mapOf(v); m != nil {
			out.License = append(out.License, cv.license(m))
		}
	}
	out.RestrictionGrounds = cv.concepts(domain.RefRestrictionGrounds, ar["restriction_grounds"], "pref_label", "")
	return out
}

func (cv *conversion) spatial(m map[string]any) *domain.Spatial {
	if len(m) == 0 {
		return nil
	}
	s := &domain.Spatial{
		Reference:      cv.concept(domain.RefLocation, m["place_uri"], "pref_label", ""),
		GeographicName: str(m, "geographic_name"),
		FullAddress:    str(m, "full_address"),
	}
	if alt := str(m, "alt"); alt != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(alt), 64); err == nil {
			s.AltitudeInMeters = &f
		} else {
			markInvalid(m, "Invalid number", "alt")
		}
	}
	var wkt []string
	for _, v := range cv.listOf(m["as_wkt"]) {
		if w, ok := v.(string); ok {
			wkt = append(wkt, w)
		}
	}
	// A single point matching the location itself is redundant.
	if len(wkt) == 1 && s.Reference != nil {
		if loc, ok := cv.Lookup.Concept(domain.RefLocation, s.Reference.URL); ok && loc.AsWKT != "" {
			if datacite.NearPoint(loc.AsWKT, wkt[0], 0.0001) {
				wkt = nil
			}
		}
	}
	s.CustomWKT = wkt
	return s
}

// temporalDate converts a timestamp to its UTC date. Other values are kept.
func temporalDate(s string) string {
	if s == "" {
		return ""
	}
	t, err := parseTime(s)
	if err != nil {
		return s
	}
	return t.Format(time.DateOnly)
}

func (cv *conversion) temporal(m map[string]any) *domain.Temporal {
	if len(m) == 0 {
		return nil
	}
	start, end := temporalDate(str(m, "start_date")), temporalDate(str(m, "end_date"))
	if start != "" && end != "" && end < start {
		start, end = end, start
		markFixed(m, "End date after start date", nil, "start_date", "end_date")
	}
	return &domain.Temporal{StartDate: start, EndDate: end, TemporalCoverage: str(m, "temporal_coverage")}
}

func (cv *conversion) otherIdentifier(m map[string]any) domain.OtherIdentifier {
	oi := domain.OtherIdentifier{
		Notation:       str(m, "notation"),
		IdentifierType: cv.concept(domain.RefIdentifierType, m["type"], "pref_label", ""),
	}
	if oi.Notation == "" && cv.removed() {
		oi.Notation = str(m, "old_notation")
	}
	return oi
}

func (cv *conversion) homepage(v any) *domain.Homepage {
	m := cv.mapOf(v)
	if len(m) == 0 {
		return nil
	}
	h := &domain.Homepage{Title: multiLang(m["title"]), URL: str(m, "identifier")}
	if !isValidURL(h.URL) {
		markInvalid(m, "Invalid URL")
		return nil
	}
	return h
}

func (cv *conversion) email(m map[string]any) string {
	email := str(m, "email")
	if email != "" && !isValidEmail(email) {
		markInvalid(m, "Invalid email", "email")
		return ""
	}
	return email
}

// ensureReferenceOrganization schedules creation of a deprecated reference
// organization unless it already exists. Existing organizations keep their
// own parent.
func (cv *conversion) ensureReferenceOrganization(org *domain.Organization) {
	if existing, ok := cv.Lookup.ReferenceOrganization(org.URL); ok {
		org.Parent = nil
		org.ID = existing.ID
		return
	}
	for _, o := range cv.created.Organizations {
		if o.URL == org.URL {
			org.Parent = nil
			return
		}
	}
	var parent *domain.Organization
	if org.Parent != nil {
		parentURL := org.Parent.URL
		if strings.HasPrefix(parentURL, OrganizationBaseURI) {
			if p, ok := cv.Lookup.ReferenceOrganization(parentURL); ok {
				parent = &p
			}
			for i := range cv.created.Organizations {
				if parent == nil && cv.created.Organizations[i].URL == parentURL {
					parent = &cv.created.Organizations[i]
				}
			}
		}
		if parent == nil {
			cv.fail(validation("is_part_of", fmt.Sprintf(
				"Reference organization %s cannot be child of non-reference organization %s", org.URL, parentURL)))
			return
		}
	}
	now := cv.Now()
	created := domain.Organization{
		URL:             org.URL,
		PrefLabel:       org.PrefLabel.Clone(),
		InScheme:        OrganizationScheme,
		IsReferenceData: true,
		Deprecated:      &now,
		Parent:          parent,
	}
	cv.created.Organizations = append(cv.created.Organizations, created)
}

func (cv *conversion) organization(v any) *domain.Organization {
	m := cv.mapOf(v)
	if len(m) == 0 {
		return nil
	}
	org := &domain.Organization{
		PrefLabel: multiLang(m["name"]),
		Email:     cv.email(m),
		Homepage:  cv.homepage(m["homepage"]),
	}
	if parent := m["is_part_of"]; truthy(parent) {
		org.Parent = cv.organization(parent)
	}
	identifier, fixed := FixURL(str(m, "identifier"))
	if fixed {
		markFixed(m, "Invalid URL", identifier, "identifier")
	}
	if identifier != "" {
		if strings.HasPrefix(identifier, OrganizationBaseURI) {
			org.URL = identifier
			if !cv.ConvertOnly {
				cv.ensureReferenceOrganization(org)
			}
		} else {
			org.ExternalIdentifier = identifier
		}
	}
	if org.URL == "" && org.PrefLabel.IsEmpty() {
		markInvalid(m, "Invalid organization")
		return nil
	}
	return org
}

// actor converts a Person or Organization. Roles are nil for actors
// without roles such as provenance actors.
func (cv *conversion) actor(m map[string]any, roles []string) *domain.DatasetActor {
	a := &domain.DatasetActor{Roles: roles}
	var org map[string]any
	switch typ := str(m, "@type"); typ {
	case "Person":
		a.Person = &domain.Person{
			Name:               str(m, "name"),
			ExternalIdentifier: str(m, "identifier"),
			Email:              cv.email(m),
			Homepage:           cv.homepage(m["homepage"]),
		}
		org = cv.mapOf(m["member_of"])
	case "Organization":
		org = m
	default:
		if typ == "" {
			typ = "None"
		}
		cv.fail(validation("actor", fmt.Sprintf("Unknown or missing actor @type value: %s.", typ)))
		return nil
	}
	if len(org) > 0 {
		a.Organization = cv.organization(org)
		if isInvalid(org) {
			markInvalid(m, "Invalid actor")
			return nil
		}
	}
	return a
}

type roleActor struct {
	actor      map[string]any
	roles      []string
	duplicates []map[string]any
}

// actors merges identical actors of the role lists into single actors
// with multiple roles.
func (cv *conversion) actors() []domain.DatasetActor {
	var collected []*roleActor
	for _, role := range domain.ActorRoles {
		var list []any
		switch v := cv.rd[role].(type) {
		case map[string]any:
			list = []any{v}
		default:
			list = cv.listOf(v)
		}
		for _, item := range list {
			m := cv.mapOf(item)
			if m == nil {
				continue
			}
			var match *roleActor
			for _, other := range collected {
				if reflect.DeepEqual(other.actor, m) {
					match = other
					break
				}
			}
			if match != nil {
				match.roles = append(match.roles, role)
				match.duplicates = append(match.duplicates, m)
				continue
			}
			collected = append(collected, &roleActor{actor: m, roles: []string{role}})
		}
	}
	var out []domain.DatasetActor
	for _, ra := range collected {
		if a := cv.actor(ra.actor, ra.roles); a != nil {
			out = append(out, *a)
		}
		// Annotations of the converted actor are copied to its duplicates.
		for _, dup := range ra.duplicates {
			for k, v := range deepCopy(ra.actor).(map[string]any) {
				dup[k] = v
			}
		}
	}
	return out
}

func checksum(m map[string]any, valueKey string) string {
	if len(m) == 0 {
		return ""
	}
	algorithm := strings.ReplaceAll(strings.ToLower(str(m, "algorithm")), "-", "")
	return algorithm + ":" + strings.ToLower(str(m, valueKey))
}

func (cv *conversion) freeConcept(v any) *domain.FreeConcept {
	m := cv.mapOf(v)
	if len(m) == 0 {
		return nil
	}
	id, scheme := str(m, "identifier"), str(m, "in_scheme")
	if (id != "" && !isValidURL(id)) || (scheme != "" && !isValidURL(scheme)) {
		markInvalid(m, "Invalid URL")
		return nil
	}
	return &domain.FreeConcept{
		PrefLabel:         multiLang(m["pref_label"]),
		Definition:        multiLang(m["definition"]),
		ConceptIdentifier: id,
		InScheme:          scheme,
	}
}

func (cv *conversion) variable(m map[string]any) domain.Variable {
	return domain.Variable{
		PrefLabel:      multiLang(m["pref_label"]),
		Description:    multiLang(m["description"]),
		Concept:        cv.freeConcept(m["concept"]),
		Universe:       cv.freeConcept(m["universe"]),
		Representation: str(m, "representation"),
	}
}

func (cv *conversion) entity(m map[string]any) domain.Entity {
	return domain.Entity{
		Title:            multiLang(m["title"]),
		Description:      multiLang(m["description"]),
		EntityIdentifier: str(m, "identifier"),
		Type:             cv.concept(domain.RefResourceType, m["type"], "pref_label", ""),
	}
}

func (cv *conversion) provenance(m map[string]any) domain.Provenance {
	p := domain.Provenance{
		Title:              multiLang(m["title"]),
		Description:        multiLang(m["description"]),
		OutcomeDescription: multiLang(m["outcome_description"]),
		Spatial:            cv.spatial(cv.mapOf(m["spatial"])),
		Temporal:           cv.temporal(cv.mapOf(m["temporal"])),
		EventOutcome:       cv.concept(domain.RefEventOutcome, m["event_outcome"], "pref_label", ""),
		LifecycleEvent:     cv.concept(domain.RefLifecycleEvent, m["lifecycle_event"], "pref_label", ""),
		PreservationEvent:  cv.concept(domain.RefPreservationEvent, m["preservation_event"], "pref_label", ""),
	}
	for _, v := range cv.listOf(m["variable"]) {
		p.Variables = append(p.Variables, cv.variable(cv.mapOf(v)))
	}
	for _, v := range cv.listOf(m["was_associated_with"]) {
		if am := cv.mapOf(v); am != nil {
			if a := cv.actor(am, nil); a != nil {
				p.IsAssociatedWith = append(p.IsAssociatedWith, *a)
			}
		}
	}
	for _, v := range cv.listOf(m["used_entity"]) {
		p.UsedEntity = append(p.UsedEntity, cv.entity(cv.mapOf(v)))
	}
	return p
}

func (cv *conversion) relation(m map[string]any) domain.Relation {
	r := domain.Relation{Entity: cv.entity(cv.mapOf(m["entity"]))}
	if rt := cv.concept(domain.RefRelationType, m["relation_type"], "pref_label", relationTypeScheme); rt != nil {
		r.RelationType = *rt
	}
	return r
}

func (cv *conversion) remoteURL(v any) string {
	m := cv.mapOf(v)
	if len(m) == 0 {
		return ""
	}
	raw := str(m, "identifier")
	if raw == "" {
		return ""
	}
	u, fixed := FixURL(raw)
	if !isValidURL(u) {
		markInvalid(m, "Invalid URL")
		return ""
	}
	if fixed {
		markFixed(m, "Invalid URL", u, "identifier")
	}
	return u
}

func (cv *conversion) remoteResource(m map[string]any) domain.RemoteResource {
	r := domain.RemoteResource{
		Title:       english(str(m, "title")),
		Description: english(str(m, "description")),
		Checksum:    checksum(cv.mapOf(m["checksum"]), "checksum_value"),
		MediaType:   str(m, "mediatype"),
		AccessURL:   cv.remoteURL(m["access_url"]),
		DownloadURL: cv.remoteURL(m["download_url"]),
	}
	if truthy(m["use_category"]) {
		r.UseCategory = cv.concept(domain.RefUseCategory, m["use_category"], "pref_label", "")
	}
	if truthy(m["file_type"]) {
		r.FileType = cv.concept(domain.RefFileType, m["file_type"], "pref_label", "")
	}
	return r
}

func (cv *conversion) project(m map[string]any) domain.Project {
	p := domain.Project{
		Title:             multiLang(m["name"]),
		ProjectIdentifier: str(m, "identifier"),
	}
	for _, v := range cv.listOf(m["source_organization"]) {
		if org := cv.organization(v); org != nil {
			p.ParticipatingOrganizations = append(p.ParticipatingOrganizations, *org)
		}
	}
	var funderType *domain.ConceptRef
	if truthy(m["funder_type"]) {
		funderType = cv.concept(domain.RefFunderType, m["funder_type"], "pref_label", "")
	}
	fundingID := str(m, "has_funder_identifier")
	agencies := cv.listOf(m["has_funding_agency"])
	if len(agencies) == 0 {
		agencies = []any{nil}
	}
	for _, agency := range agencies {
		f := domain.Funding{FundingIdentifier: fundingID}
		if org := cv.organization(agency); org != nil || funderType != nil {
			f.Funder = &domain.Funder{Organization: org, FunderType: funderType}
		}
		if f.Funder != nil || f.FundingIdentifier != "" {
			p.Funding = append(p.Funding, f)
		}
	}
	return p
}

// preservation returns nil for datasets with only the initial V2
// preservation state.
func (cv *conversion) preservation() *domain.Preservation {
	doc := cv.doc
	p := &domain.Preservation{State: -1}
	empty := true
	if contract := doc["contract"]; truthy(contract) {
		m := cv.mapOf(contract)
		if _, ok := m["id"]; !ok {
			cv.fail(validation("contract", "Missing contract.id"))
			return nil
		}
		legacyID := str(m, "id")
		if legacyID == "" {
			cv.fail(validation("contract", "Invalid value"))
			return nil
		}
		c, ok := cv.Lookup.ContractByLegacyID(legacyID)
		if !ok {
			cv.fail(validation("contract", fmt.Sprintf("Contract with legacy_id=%s not found", legacyID)))
			return nil
		}
		p.Contract, empty = c.ID, false
	}
	if m, ok := doc["preservation_dataset_version"].(map[string]any); ok {
		p.DatasetVersion = str(m, "identifier")
	}
	if m, ok := doc["preservation_dataset_origin_version"].(map[string]any); ok {
		p.DatasetOriginVersion = str(m, "identifier")
	}
	state, hasState := doc["preservation_state"].(float64)
	if hasState {
		p.State = int(state)
	}
	p.StateModified = cv.timestamp("preservation_state_modified", str(doc, "preservation_state_modified"))
	p.ReasonDescription = str(doc, "preservation_reason_description")
	// V2 assigns generated DOIs to preservation_identifier also without a
	// preservation contract.
	if p.Contract != "" {
		p.PreservationIdentifier = str(doc, "preservation_identifier")
	}
	if desc := str(doc, "preservation_description"); desc != "" {
		p.Description = domain.MultiLang{"und": desc}
	}
	empty = empty && p.DatasetVersion == "" && p.DatasetOriginVersion == "" && p.StateModified == nil &&
		p.ReasonDescription == "" && p.PreservationIdentifier == "" && p.Description == nil
	if empty && (!hasState || state == 0) {
		return nil
	}
	return p
}
