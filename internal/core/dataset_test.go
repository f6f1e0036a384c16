package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"metax/pkg/domain"
)

func TestCreateDatasetDefaults(t *testing.T) {
	f := newFixture(t)
	d := f.createDraft(t)

	require.NotEmpty(t, d.ID)
	require.Equal(t, domain.StateDraft, d.State)
	require.Equal(t, 1, d.Version)
	require.Equal(t, 1, d.DraftRevision)
	require.Equal(t, 3, d.APIVersion)
	require.Equal(t, &domain.MetadataOwner{User: "teppo", Organization: "test.fi"}, d.MetadataOwner)
	require.Equal(t, domain.PIDTypeURN, d.PIDType)
	require.NotEmpty(t, d.Actors[0].ID)

	versions, err := f.svc.VersionIDs(context.Background(), d.ID)
	require.NoError(t, err)
	require.Equal(t, []string{d.ID}, versions)

	revs, err := f.svc.ListRevisions(context.Background(), owner, d.ID)
	require.NoError(t, err)
	require.Len(t, revs, 1)
	require.Equal(t, "draft-0.1", revs[0].Reason)
}

func TestCreateDatasetRequiresAuthentication(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateDataset(context.Background(), User{}, publishable())
	var authErr domain.AuthenticationError
	require.ErrorAs(t, err, &authErr)
	require.True(t, authErr.Missing)
}

func TestCreateDatasetRejectsPIDWithGenerate(t *testing.T) {
	f := newFixture(t)
	in := publishable()
	in.PersistentIdentifier = "urn:own"
	_, _, err := f.svc.CreateDataset(context.Background(), owner, in)
	requireFieldError(t, err, "persistent_identifier", "Persistent identifier cannot be set when it is generated on publish.")
}

func TestCreatePublishedDatasetMintsPID(t *testing.T) {
	f := newFixture(t)
	d := f.createPublished(t)

	require.Equal(t, domain.StatePublished, d.State)
	require.Equal(t, "urn:nbn:fi:fd-test-1", d.PersistentIdentifier)
	require.Equal(t, 1, d.PublishedRevision)
	require.Equal(t, 0, d.DraftRevision)
	require.Equal(t, "2024-03-01", d.Issued)
}

func TestUpdateDatasetRevisions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	d := f.createDraft(t)

	d, _, err := f.svc.UpdateDataset(ctx, owner, d.ID, func(cur *domain.Dataset) error {
		cur.Keyword = []string{"soil"}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, d.DraftRevision)

	d, _, err = f.svc.PublishDataset(ctx, owner, d.ID)
	require.NoError(t, err)
	require.Equal(t, 1, d.PublishedRevision)

	d, _, err = f.svc.UpdateDataset(ctx, owner, d.ID, func(cur *domain.Dataset) error {
		cur.Title = domain.MultiLang{"en": "Renamed"}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, d.PublishedRevision)

	revs, err := f.svc.ListRevisions(ctx, owner, d.ID)
	require.NoError(t, err)
	reasons := make([]string, 0, len(revs))
	for _, r := range revs {
		reasons = append(reasons, r.Reason)
	}
	require.Equal(t, []string{"published-1.0", "published-2.0"}, reasons)

	rev, err := f.svc.GetRevision(ctx, owner, d.ID, RevisionQuery{Publication: 1})
	require.NoError(t, err)
	require.Equal(t, "Test dataset", rev.Dataset.Title["en"])

	_, err = f.svc.GetRevision(ctx, owner, d.ID, RevisionQuery{Name: "draft-0.1"})
	var nf domain.NotFoundError
	require.ErrorAs(t, err, &nf)
}

func TestPublishedDatasetCannotReturnToDraft(t *testing.T) {
	f := newFixture(t)
	d := f.createPublished(t)
	_, _, err := f.svc.UpdateDataset(context.Background(), owner, d.ID, func(cur *domain.Dataset) error {
		cur.State = domain.StateDraft
		return nil
	})
	requireFieldError(t, err, "state", "Cannot change value into non-published.")
}

func TestUpdateDatasetKeepsSystemFields(t *testing.T) {
	f := newFixture(t)
	d := f.createPublished(t)
	updated, _, err := f.svc.UpdateDataset(context.Background(), owner, d.ID, func(cur *domain.Dataset) error {
		cur.PersistentIdentifier = "urn:changed"
		cur.Version = 9
		cur.MetadataOwner = &domain.MetadataOwner{User: "someone"}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, d.PersistentIdentifier, updated.PersistentIdentifier)
	require.Equal(t, 1, updated.Version)
	require.Equal(t, "teppo", updated.MetadataOwner.User)
}

func TestUpdateDatasetPermissions(t *testing.T) {
	f := newFixture(t)
	d := f.createDraft(t)
	noop := func(*domain.Dataset) error { return nil }

	_, _, err := f.svc.UpdateDataset(context.Background(), other, d.ID, noop)
	require.ErrorAs(t, err, new(domain.PermissionError))

	_, _, err = f.svc.UpdateDataset(context.Background(), User{}, d.ID, noop)
	require.ErrorAs(t, err, new(domain.AuthenticationError))

	f.seed(t, func(tx domain.Transaction) error {
		_, err := tx.UpdateDataCatalog(testCatalog, func(c *domain.DataCatalog) error {
			c.AdminGroups = []string{"catalog-admins"}
			return nil
		})
		return err
	})
	curator := User{Username: "curator", Groups: []string{"catalog-admins"}}
	_, _, err = f.svc.UpdateDataset(context.Background(), curator, d.ID, noop)
	require.NoError(t, err)
}

func TestPatchDatasetMergesJSON(t *testing.T) {
	f := newFixture(t)
	d := f.createDraft(t)

	patched, _, err := f.svc.PatchDataset(context.Background(), owner, d.ID, []byte(`{"title":{"fi":"Testi"},"keyword":["a","b"]}`))
	require.NoError(t, err)
	require.Equal(t, domain.MultiLang{"en": "Test dataset", "fi": "Testi"}, patched.Title)
	require.Equal(t, []string{"a", "b"}, patched.Keyword)

	_, _, err = f.svc.PatchDataset(context.Background(), owner, d.ID, []byte(`{"title":`))
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPublishValidation(t *testing.T) {
	f := newFixture(t)
	in := publishable()
	in.Description = nil
	in.AccessRights.AccessType = &domain.ConceptRef{URL: domain.AccessTypeEmbargo}
	d, _, err := f.svc.CreateDataset(context.Background(), owner, in)
	require.NoError(t, err)

	_, _, err = f.svc.PublishDataset(context.Background(), owner, d.ID)
	requireFieldError(t, err, "description", "Dataset has to have a description when publishing.")
	requireFieldError(t, err, "access_rights", "Dataset access rights has to contain restriction grounds if access type is not 'Open'.")

}

func TestRepublishIncrementsPublishedRevision(t *testing.T) {
	f := newFixture(t)
	published := f.createPublished(t)
	again, _, err := f.svc.PublishDataset(context.Background(), owner, published.ID)
	require.NoError(t, err)
	require.Equal(t, published.PublishedRevision+1, again.PublishedRevision)
	require.Equal(t, published.PersistentIdentifier, again.PersistentIdentifier)
	require.Equal(t, domain.StatePublished, again.State)
}

func TestPublishWithoutPIDSource(t *testing.T) {
	f := newFixture(t)
	in := publishable()
	in.GeneratePIDOnPublish = false
	d, _, err := f.svc.CreateDataset(context.Background(), owner, in)
	require.NoError(t, err)

	_, _, err = f.svc.PublishDataset(context.Background(), owner, d.ID)
	requireFieldError(t, err, "persistent_identifier", "Dataset has to have a persistent identifier when publishing.")
}

func TestPublishMinterFailure(t *testing.T) {
	f := newFixture(t)
	d := f.createDraft(t)
	f.minter.err = errors.New("pid service down")

	_, _, err := f.svc.PublishDataset(context.Background(), owner, d.ID)
	var unavailable domain.ServiceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Equal(t, pidUnavailable, unavailable.Message)

	stored, err := f.svc.GetDataset(context.Background(), owner, d.ID, GetOptions{})
	require.NoError(t, err)
	require.True(t, stored.IsDraft())
}

func TestPublishDOI(t *testing.T) {
	f := newFixture(t)
	in := publishable()
	in.PIDType = domain.PIDTypeDOI
	in.State = domain.StatePublished
	d, _, err := f.svc.CreateDataset(context.Background(), owner, in)
	require.NoError(t, err)
	require.Equal(t, "doi:10.82614/test-1", d.PersistentIdentifier)
}

func TestPIDUniquePerCatalog(t *testing.T) {
	f := newFixture(t)
	first := f.createPublished(t)
	in := publishable()
	in.GeneratePIDOnPublish = false
	in.PersistentIdentifier = first.PersistentIdentifier
	in.State = domain.StatePublished

	_, _, err := f.svc.CreateDataset(context.Background(), owner, in)
	var rv domain.RuleViolationError
	require.ErrorAs(t, err, &rv)
	require.Equal(t, []string{"Data catalog is not allowed to have multiple datasets with same value."}, rv.Fields()["persistent_identifier"])
}

func TestDeleteDataset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	draft := f.createDraft(t)
	_, err := f.svc.DeleteDataset(ctx, owner, draft.ID, false)
	require.NoError(t, err)
	_, err = f.svc.GetDataset(ctx, owner, draft.ID, GetOptions{IncludeRemoved: true})
	require.ErrorAs(t, err, new(domain.NotFoundError))

	published := f.createPublished(t)
	_, err = f.svc.DeleteDataset(ctx, owner, published.ID, false)
	require.NoError(t, err)
	_, err = f.svc.GetDataset(ctx, owner, published.ID, GetOptions{})
	require.ErrorAs(t, err, new(domain.NotFoundError))
	removed, err := f.svc.GetDataset(ctx, owner, published.ID, GetOptions{IncludeRemoved: true})
	require.NoError(t, err)
	require.NotNil(t, removed.Removed)

	_, err = f.svc.DeleteDataset(ctx, owner, published.ID, true)
	require.NoError(t, err)
	_, err = f.svc.GetDataset(ctx, owner, published.ID, GetOptions{IncludeRemoved: true})
	require.ErrorAs(t, err, new(domain.NotFoundError))

	kinds := []EventKind{}
	for _, ev := range f.events {
		kinds = append(kinds, ev.Kind)
	}
	require.Equal(t, []EventKind{EventCreated, EventFlushed, EventCreated, EventDeleted, EventFlushed}, kinds)
}

func TestListDatasetsFiltersAndPaginates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.createPublished(t)
	b := f.createDraft(t)
	_, _, err := f.svc.UpdateDataset(ctx, owner, b.ID, func(cur *domain.Dataset) error {
		cur.Title = domain.MultiLang{"en": "Alpha soil"}
		return nil
	})
	require.NoError(t, err)

	page, err := f.svc.ListDatasets(ctx, other, DatasetFilter{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)
	require.Equal(t, a.ID, page.Results[0].ID)

	page, err = f.svc.ListDatasets(ctx, owner, DatasetFilter{Ordering: "title"})
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	require.Equal(t, b.ID, page.Results[0].ID)

	page, err = f.svc.ListDatasets(ctx, owner, DatasetFilter{Search: "SOIL"})
	require.NoError(t, err)
	require.Equal(t, 1, page.Count)

	page, err = f.svc.ListDatasets(ctx, owner, DatasetFilter{Ordering: "-created", Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 2, page.Count)
	require.Len(t, page.Results, 1)
	require.Equal(t, a.ID, page.Results[0].ID)

	hasFiles := true
	page, err = f.svc.ListDatasets(ctx, owner, DatasetFilter{HasFiles: &hasFiles})
	require.NoError(t, err)
	require.Zero(t, page.Count)

	_, err = f.svc.ListDatasets(ctx, owner, DatasetFilter{Ordering: "size"})
	requireFieldError(t, err, "ordering", `Invalid ordering "size".`)
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	require.Equal(t, []int{3, 4}, paginate(items, 2, 2))
	require.Equal(t, []int{1, 2, 3, 4, 5}, paginate(items, 0, 0))
	require.Equal(t, []int{}, paginate(items, 7, 2))
	require.Equal(t, []int{1}, paginate(items, -3, 1))
}
