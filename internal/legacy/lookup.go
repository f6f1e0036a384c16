package legacy

import "metax/pkg/domain"

type conceptKey struct {
	typ domain.RefdataType
	url string
}

// Snapshot is a Lookup over records copied from a store view.
type Snapshot struct {
	concepts      map[conceptKey]domain.Concept
	organizations map[string]domain.Organization
	contracts     map[string]domain.Contract
	catalogs      map[string]bool
}

// NewSnapshot copies the records needed for conversion from v.
func NewSnapshot(v domain.TransactionView) *Snapshot {
	s := &Snapshot{
		concepts:      map[conceptKey]domain.Concept{},
		organizations: map[string]domain.Organization{},
		contracts:     map[string]domain.Contract{},
		catalogs:      map[string]bool{},
	}
	for _, c := range v.ListConcepts() {
		s.concepts[conceptKey{c.Type, c.URL}] = c
	}
	for _, o := range v.ListOrganizations() {
		if o.IsReferenceData && o.URL != "" {
			s.organizations[o.URL] = o
		}
	}
	for _, c := range v.ListContracts() {
		if c.LegacyID != "" {
			s.contracts[c.LegacyID] = c
		}
	}
	for _, c := range v.ListDataCatalogs() {
		s.catalogs[c.ID] = true
	}
	return s
}

func (s *Snapshot) Concept(typ domain.RefdataType, url string) (domain.Concept, bool) {
	c, ok := s.concepts[conceptKey{typ, url}]
	return c, ok
}

func (s *Snapshot) ReferenceOrganization(url string) (domain.Organization, bool) {
	o, ok := s.organizations[url]
	return o, ok
}

func (s *Snapshot) ContractByLegacyID(legacyID string) (domain.Contract, bool) {
	c, ok := s.contracts[legacyID]
	return c, ok
}

func (s *Snapshot) DataCatalogExists(id string) bool { return s.catalogs[id] }
