package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"metax/pkg/domain"
)

var admin = User{Username: "admin", Admin: true}

func TestDataCatalogLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateDataCatalog(ctx, owner, domain.DataCatalog{Title: domain.MultiLang{"en": "x"}})
	require.ErrorAs(t, err, new(domain.PermissionError))

	_, _, err = f.svc.CreateDataCatalog(ctx, admin, domain.DataCatalog{AllowedPIDTypes: []domain.PIDType{"ARK"}})
	requireFieldError(t, err, "title", "This field is required.")
	requireFieldError(t, err, "allowed_pid_types", `Invalid PID type "ARK".`)

	c, _, err := f.svc.CreateDataCatalog(ctx, admin, domain.DataCatalog{
		Base:  domain.Base{ID: "urn:nbn:fi:att:data-catalog-att"},
		Title: domain.MultiLang{"en": "ATT"},
	})
	require.NoError(t, err)
	require.Equal(t, "urn:nbn:fi:att:data-catalog-att", c.ID)

	c, _, err = f.svc.UpdateDataCatalog(ctx, admin, c.ID, func(cur *domain.DataCatalog) error {
		cur.Harvested = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, c.Harvested)

	all, err := f.svc.ListDataCatalogs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)

	_, err = f.svc.DeleteDataCatalog(ctx, admin, c.ID)
	require.NoError(t, err)
	_, err = f.svc.GetDataCatalog(ctx, c.ID)
	require.ErrorAs(t, err, new(domain.NotFoundError))
}

func TestDeleteDataCatalogWithDatasets(t *testing.T) {
	f := newFixture(t)
	f.createDraft(t)
	_, err := f.svc.DeleteDataCatalog(context.Background(), admin, testCatalog)
	require.ErrorAs(t, err, new(domain.ConflictError))
}

func TestReferenceOrganizationsAreReadOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ref, _, err := f.svc.CreateOrganization(ctx, admin, domain.Organization{
		PrefLabel:       domain.MultiLang{"en": "University"},
		IsReferenceData: true,
		URL:             "http://uri.suomi.fi/codelist/fairdata/organization/code/01901",
	})
	require.NoError(t, err)

	_, _, err = f.svc.CreateOrganization(ctx, owner, domain.Organization{PrefLabel: domain.MultiLang{"en": "x"}, IsReferenceData: true})
	requireFieldError(t, err, "is_reference_data", "Reference data organizations cannot be created.")

	child, _, err := f.svc.CreateOrganization(ctx, owner, domain.Organization{
		PrefLabel: domain.MultiLang{"en": "Lab"},
		Parent:    &domain.Organization{Base: domain.Base{ID: ref.ID}},
	})
	require.NoError(t, err)
	require.Equal(t, "University", child.Parent.PrefLabel["en"])
	require.Equal(t, ref.ID, child.TopParent().ID)

	_, _, err = f.svc.UpdateOrganization(ctx, owner, ref.ID, func(o *domain.Organization) error {
		o.Email = "x@example.com"
		return nil
	})
	require.ErrorAs(t, err, new(domain.PermissionError))

	updated, _, err := f.svc.UpdateOrganization(ctx, owner, child.ID, func(o *domain.Organization) error {
		o.IsReferenceData = true
		o.Email = "lab@example.com"
		return nil
	})
	require.NoError(t, err)
	require.False(t, updated.IsReferenceData)

	refs, err := f.svc.ListOrganizations(ctx, true)
	require.NoError(t, err)
	require.Len(t, refs, 1)
}

func TestContracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateContract(ctx, admin, domain.Contract{Title: domain.MultiLang{"en": "c"}, Quota: -1})
	requireFieldError(t, err, "quota", "Ensure this value is greater than or equal to 0.")

	c, _, err := f.svc.CreateContract(ctx, admin, domain.Contract{Title: domain.MultiLang{"en": "c"}, Quota: 1 << 30, LegacyID: "urn:uuid:abc"})
	require.NoError(t, err)

	byLegacy, err := f.svc.GetContract(ctx, "urn:uuid:abc")
	require.NoError(t, err)
	require.Equal(t, c.ID, byLegacy.ID)

	c, _, err = f.svc.UpdateContract(ctx, admin, c.ID, func(cur *domain.Contract) error {
		cur.ValidUntil = "2030-01-01"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "2030-01-01", c.ValidUntil)

	list, err := f.svc.ListContracts(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}
