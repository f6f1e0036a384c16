package rems

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"metax/internal/core"
	"metax/internal/locks"
	"metax/internal/logging"
	"metax/pkg/domain"
)

// Handler is a REMS user handling applications of an organization.
type Handler struct {
	UserID string
	Name   string
	Email  string
}

// Bot handlers of the automatic workflow.
const (
	approverBot = "approver-bot"
	rejecterBot = "rejecter-bot"
)

// Publishing preconditions.
var (
	ErrNotPublished    = errors.New("dataset needs to be published to enable rems")
	ErrCatalogDisabled = errors.New("catalog is not enabled for rems")
	ErrNotREMSDataset  = errors.New("dataset is not enabled for rems")
)

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option { return func(s *Service) { s.log = logging.OrNop(l) } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.nowFn = now } }

// WithMetrics records one observation per publish.
func WithMetrics(m core.MetricsRecorder) Option { return func(s *Service) { s.metrics = m } }

// WithOrganizationAdmins lists the users handling applications for
// datasets owned by an organization.
func WithOrganizationAdmins(fn func(org string) []Handler) Option {
	return func(s *Service) { s.admins = fn }
}

// WithDispatch runs observer triggered publishes through dispatch.
func WithDispatch(dispatch func(name string, fn func(ctx context.Context) error)) Option {
	return func(s *Service) { s.dispatch = dispatch }
}

// Service mirrors datasets into REMS entities.
type Service struct {
	store        domain.PersistentStore
	api          API
	locker       locks.Locker
	organization string
	etsinURL     string
	admins       func(org string) []Handler
	dispatch     func(name string, fn func(ctx context.Context) error)
	log          logging.Logger
	metrics      core.MetricsRecorder
	nowFn        func() time.Time
}

// NewService returns a service managing entities of the REMS organization.
func NewService(store domain.PersistentStore, api API, locker locks.Locker, organization, etsinURL string, opts ...Option) *Service {
	s := &Service{
		store:        store,
		api:          api,
		locker:       locker,
		organization: organization,
		etsinURL:     etsinURL,
		admins:       func(string) []Handler { return nil },
		log:          logging.Nop(),
		nowFn:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) organizationData() map[string]any {
	return map[string]any{"organization/id": s.organization}
}

// CreateUser creates or updates a REMS user.
func (s *Service) CreateUser(ctx context.Context, userID, name, email string) (domain.REMSEntity, error) {
	body := map[string]any{"userid": userID, "name": name, "email": nil}
	if email != "" {
		body["email"] = email
	}
	if _, err := s.api.Do(ctx, http.MethodPost, "/api/users/create", body, nil); err != nil {
		return domain.REMSEntity{}, err
	}
	return s.getOrCreateEntity(ctx, domain.REMSEntity{Key: userID, Type: domain.REMSUser, REMSStringID: userID})
}

// CreateOrganization creates the organization or edits an existing one.
func (s *Service) CreateOrganization(ctx context.Context, id string, shortName, name domain.MultiLang) (domain.REMSEntity, error) {
	data := map[string]any{
		"organization/id":         id,
		"organization/name":       name,
		"organization/short-name": shortName,
	}
	status, err := s.api.Do(ctx, http.MethodGet, "/api/organizations/"+id, nil, nil, AllowNotFound())
	if err != nil {
		return domain.REMSEntity{}, err
	}
	if status == http.StatusOK {
		_, err = s.api.Do(ctx, http.MethodPut, "/api/organizations/edit", data, nil)
	} else {
		_, err = s.api.Do(ctx, http.MethodPost, "/api/organizations/create", data, nil)
	}
	if err != nil {
		return domain.REMSEntity{}, err
	}
	return s.getOrCreateEntity(ctx, domain.REMSEntity{Key: id, Type: domain.REMSOrganization, REMSStringID: id})
}

type workflowData struct {
	Type         string         `json:"type"`
	Organization map[string]any `json:"organization"`
	Handlers     []string       `json:"handlers"`
	Title        string         `json:"title"`
	Forms        []any          `json:"forms"`
}

func (s *Service) workflowOperation(ctx context.Context, want workflowData, e domain.REMSEntity, exists bool) (operation, error) {
	if !exists {
		return opCreate, nil
	}
	var old struct {
		Title        string         `json:"title"`
		Organization map[string]any `json:"organization"`
		Workflow     struct {
			Type     string `json:"type"`
			Handlers []struct {
				UserID string `json:"userid"`
			} `json:"handlers"`
			Forms []any `json:"forms"`
		} `json:"workflow"`
	}
	raw, err := s.entityData(ctx, e)
	if err != nil {
		return 0, err
	}
	if err := remarshal(raw, &old); err != nil {
		return 0, err
	}
	oldForms := old.Workflow.Forms
	if oldForms == nil {
		oldForms = []any{}
	}
	wantForms := want.Forms
	if wantForms == nil {
		wantForms = []any{}
	}
	if want.Type != old.Workflow.Type ||
		!sameJSON(want.Organization, map[string]any{"organization/id": old.Organization["organization/id"]}) ||
		!sameJSON(wantForms, oldForms) {
		return opCreate, nil
	}
	handlers := make([]string, 0, len(old.Workflow.Handlers))
	for _, h := range old.Workflow.Handlers {
		handlers = append(handlers, h.UserID)
	}
	slices.Sort(handlers)
	wantHandlers := slices.Sorted(slices.Values(want.Handlers))
	if old.Title != want.Title || !slices.Equal(slices.Compact(handlers), slices.Compact(wantHandlers)) {
		return opEdit, nil
	}
	return opKeep, nil
}

// createWorkflow creates, edits or keeps the workflow stored under key.
func (s *Service) createWorkflow(ctx context.Context, key, title string, handlers []string, metaxOrganization string) (domain.REMSEntity, error) {
	e, exists, err := s.entityByKey(ctx, domain.REMSWorkflow, key)
	if err != nil {
		return e, err
	}
	want := workflowData{
		Type:         "workflow/default",
		Organization: s.organizationData(),
		Handlers:     handlers,
		Title:        title,
	}
	op, err := s.workflowOperation(ctx, want, e, exists)
	if err != nil {
		return e, err
	}
	switch op {
	case opKeep:
		return e, nil
	case opEdit:
		body := map[string]any{"id": e.REMSID, "handlers": handlers, "title": title}
		_, err := s.api.Do(ctx, http.MethodPut, "/api/workflows/edit", body, nil)
		return e, err
	}
	if exists {
		if err := s.archive(ctx, e); err != nil {
			return e, err
		}
	}
	var created remsRef
	body := map[string]any{"type": want.Type, "organization": want.Organization, "handlers": handlers, "title": title}
	if _, err := s.api.Do(ctx, http.MethodPost, "/api/workflows/create", body, &created); err != nil {
		return e, err
	}
	return s.saveEntity(ctx, domain.REMSEntity{
		Key:    key,
		Type:   domain.REMSWorkflow,
		REMSID: created.ID,
		Data:   mustJSON(map[string]string{"metax_organization": metaxOrganization}),
	})
}

// createAutomaticWorkflow creates the auto-approving workflow of a Metax
// organization, handled by the bots and the organization admins.
func (s *Service) createAutomaticWorkflow(ctx context.Context, org string) (domain.REMSEntity, error) {
	var handlers []string
	for _, h := range s.admins(org) {
		u, err := s.CreateUser(ctx, h.UserID, h.Name, h.Email)
		if err != nil {
			return domain.REMSEntity{}, err
		}
		handlers = append(handlers, u.REMSStringID)
	}
	slices.Sort(handlers)
	return s.createWorkflow(ctx, automaticWorkflowKey(org), fmt.Sprintf("Fairdata Automatic (%s)", org),
		append([]string{approverBot, rejecterBot}, handlers...), org)
}

// UpdateOrganizationWorkflows refreshes the handlers of the existing
// workflows of a Metax organization.
func (s *Service) UpdateOrganizationWorkflows(ctx context.Context, org string) ([]domain.REMSEntity, error) {
	_, exists, err := s.entityByKey(ctx, domain.REMSWorkflow, automaticWorkflowKey(org))
	if err != nil || !exists {
		return nil, err
	}
	wf, err := s.createAutomaticWorkflow(ctx, org)
	if err != nil {
		return nil, err
	}
	return []domain.REMSEntity{wf}, nil
}

type licenseSpec struct {
	key           string
	title         domain.MultiLang
	url           string
	description   domain.MultiLang
	customDataset string
	accessTerms   bool
}

func singleTranslation(m domain.MultiLang, lang string) string {
	if v := m[lang]; v != "" {
		return v
	}
	return m.Preferred()
}

func (s *Service) licenseData(spec licenseSpec) (map[string]any, error) {
	hasURL, hasDescription := spec.url != "", !spec.description.IsEmpty()
	localizations := map[string]any{}
	var licenseType string
	switch {
	case hasURL && !hasDescription:
		licenseType = "link"
		for lang, title := range spec.title {
			localizations[lang] = map[string]any{"title": title, "textcontent": spec.url}
		}
	case hasDescription && !hasURL:
		licenseType = "text"
		for lang, text := range spec.description {
			localizations[lang] = map[string]any{"title": singleTranslation(spec.title, lang), "textcontent": text}
		}
	default:
		return nil, errors.New("expected exactly one of 'url' or 'description' to be set")
	}
	return map[string]any{
		"licensetype":   licenseType,
		"organization":  s.organizationData(),
		"localizations": localizations,
	}, nil
}

func (s *Service) createLicense(ctx context.Context, spec licenseSpec) (domain.REMSEntity, error) {
	data, err := s.licenseData(spec)
	if err != nil {
		return domain.REMSEntity{}, err
	}
	e, exists, err := s.entityByKey(ctx, domain.REMSLicense, spec.key)
	if err != nil {
		return e, err
	}
	if exists {
		old, err := s.entityData(ctx, e)
		if err != nil {
			return e, err
		}
		orgID := any(nil)
		if org, ok := old["organization"].(map[string]any); ok {
			orgID = org["organization/id"]
		}
		current := map[string]any{
			"licensetype":   old["licensetype"],
			"organization":  map[string]any{"organization/id": orgID},
			"localizations": old["localizations"],
		}
		if sameJSON(data, current) {
			return e, nil
		}
		if err := s.archive(ctx, e); err != nil {
			return e, err
		}
	}
	var created remsRef
	if _, err := s.api.Do(ctx, http.MethodPost, "/api/licenses/create", data, &created); err != nil {
		return e, err
	}
	return s.saveEntity(ctx, domain.REMSEntity{
		Key:               spec.key,
		Type:              domain.REMSLicense,
		REMSID:            created.ID,
		DatasetID:         spec.customDataset,
		LicenseURL:        spec.url,
		IsDataAccessTerms: spec.accessTerms,
	})
}

// licenseFromDataset maps the n:th dataset license to a REMS license.
// Reference licenses are shared by all datasets using them.
func (s *Service) licenseFromDataset(ctx context.Context, d domain.Dataset, n int, l domain.License) (domain.REMSEntity, error) {
	spec := licenseSpec{title: l.PrefLabel, url: l.URL}
	if !l.Title.IsEmpty() {
		spec.title = l.Title
	}
	if l.CustomURL != "" {
		spec.url = l.CustomURL
	}
	if !l.Description.IsEmpty() {
		spec.url = ""
		spec.description = l.Description
	}
	if l.IsCustom() {
		spec.key = customLicenseKey(d.ID, n)
		spec.customDataset = d.ID
	} else {
		spec.key = referenceLicenseKey(spec.url)
	}
	return s.createLicense(ctx, spec)
}

func (s *Service) licenseFromAccessTerms(ctx context.Context, d domain.Dataset, terms domain.MultiLang) (domain.REMSEntity, error) {
	return s.createLicense(ctx, licenseSpec{
		key:           accessTermsKey(d.ID),
		title:         domain.MultiLang{"en": "Terms for data access", "fi": "Käyttöluvan ehdot"},
		description:   terms,
		customDataset: d.ID,
		accessTerms:   true,
	})
}

// archiveUnusedCustomLicenses archives custom licenses of the dataset that
// are no longer among used.
func (s *Service) archiveUnusedCustomLicenses(ctx context.Context, datasetID string, used []domain.REMSEntity) error {
	var unused []domain.REMSEntity
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, e := range v.ListREMSEntities() {
			if e.Type != domain.REMSLicense || e.DatasetID != datasetID || e.Removed != nil {
				continue
			}
			if !slices.ContainsFunc(used, func(u domain.REMSEntity) bool { return u.REMSID == e.REMSID }) {
				unused = append(unused, e)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range unused {
		if err := s.archive(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) createResource(ctx context.Context, key, identifier string, licenses []domain.REMSEntity) (domain.REMSEntity, error) {
	ids := make([]int64, 0, len(licenses))
	for _, l := range licenses {
		if l.Type != domain.REMSLicense {
			return domain.REMSEntity{}, fmt.Errorf("invalid entity type for license: %s", l.Type)
		}
		ids = append(ids, l.REMSID)
	}
	data := map[string]any{"resid": identifier, "organization": s.organizationData(), "licenses": ids}
	e, exists, err := s.entityByKey(ctx, domain.REMSResource, key)
	if err != nil {
		return e, err
	}
	if exists {
		var old struct {
			Resid        string         `json:"resid"`
			Organization map[string]any `json:"organization"`
			Licenses     []remsRef      `json:"licenses"`
		}
		raw, err := s.entityData(ctx, e)
		if err != nil {
			return e, err
		}
		if err := remarshal(raw, &old); err != nil {
			return e, err
		}
		oldIDs := make([]int64, 0, len(old.Licenses))
		for _, l := range old.Licenses {
			oldIDs = append(oldIDs, l.ID)
		}
		current := map[string]any{
			"resid":        old.Resid,
			"organization": map[string]any{"organization/id": old.Organization["organization/id"]},
			"licenses":     oldIDs,
		}
		if sameJSON(data, current) {
			return e, nil
		}
		if err := s.archive(ctx, e); err != nil {
			return e, err
		}
	}
	var created remsRef
	if _, err := s.api.Do(ctx, http.MethodPost, "/api/resources/create", data, &created); err != nil {
		return e, err
	}
	return s.saveEntity(ctx, domain.REMSEntity{Key: key, Type: domain.REMSResource, REMSID: created.ID, DatasetID: identifier})
}

func (s *Service) catalogueItemOperation(ctx context.Context, want map[string]any, e domain.REMSEntity, exists bool) (operation, error) {
	if !exists {
		return opCreate, nil
	}
	old, err := s.entityData(ctx, e)
	if err != nil {
		return 0, err
	}
	// On creation resid is the numeric resource id, while reading an item
	// returns it as resource-id.
	if !sameJSON(want["resid"], old["resource-id"]) || !sameJSON(want["wfid"], old["wfid"]) || !sameJSON(want["form"], old["form"]) {
		return opCreate, nil
	}
	if !sameJSON(want["localizations"], old["localizations"]) {
		return opEdit, nil
	}
	return opKeep, nil
}

func (s *Service) createCatalogueItem(ctx context.Context, key string, resource, workflow domain.REMSEntity, localizations map[string]any) (domain.REMSEntity, error) {
	e, exists, err := s.entityByKey(ctx, domain.REMSCatalogueItem, key)
	if err != nil {
		return e, err
	}
	data := map[string]any{
		"resid":         resource.REMSID,
		"wfid":          workflow.REMSID,
		"organization":  s.organizationData(),
		"localizations": localizations,
	}
	op, err := s.catalogueItemOperation(ctx, data, e, exists)
	if err != nil {
		return e, err
	}
	switch op {
	case opKeep:
		return e, nil
	case opEdit:
		// Localizations may change even when applications exist.
		body := map[string]any{"id": e.REMSID, "organization": data["organization"], "localizations": localizations}
		_, err := s.api.Do(ctx, http.MethodPut, "/api/catalogue-items/edit", body, nil)
		return e, err
	}
	if exists {
		if err := s.archive(ctx, e); err != nil {
			return e, err
		}
	}
	var created remsRef
	if _, err := s.api.Do(ctx, http.MethodPost, "/api/catalogue-items/create", data, &created); err != nil {
		return e, err
	}
	return s.saveEntity(ctx, domain.REMSEntity{Key: key, Type: domain.REMSCatalogueItem, REMSID: created.ID, DatasetID: resource.DatasetID})
}

func (s *Service) infoURL(datasetID string) string {
	base := strings.TrimRight(s.etsinURL, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return base + "/dataset/" + datasetID
}

func (s *Service) localizations(d domain.Dataset) map[string]any {
	out := map[string]any{
		"en": map[string]any{"title": d.Title["en"], "infourl": s.infoURL(d.ID)},
	}
	if fi := d.Title["fi"]; fi != "" {
		out["fi"] = map[string]any{"title": fi, "infourl": s.infoURL(d.ID)}
	}
	return out
}

func (s *Service) loadPublishable(ctx context.Context, id string) (domain.Dataset, error) {
	var (
		d       domain.Dataset
		catalog domain.DataCatalog
		ok      bool
	)
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		if d, ok = v.FindDataset(id); !ok {
			return domain.NotFoundError{Entity: domain.EntityDataset, ID: id}
		}
		catalog, _ = v.FindDataCatalog(d.DataCatalog)
		return nil
	})
	switch {
	case err != nil:
		return d, err
	case !d.IsPublished():
		return d, ErrNotPublished
	case !catalog.REMSEnabled:
		return d, ErrCatalogDisabled
	case !d.IsREMSDataset():
		return d, ErrNotREMSDataset
	}
	return d, nil
}

func (s *Service) setPublishError(ctx context.Context, id, msg string) error {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateDataset(id, func(d *domain.Dataset) error {
			d.REMSPublishError = msg
			return nil
		})
		return err
	})
	return err
}

// PublishDataset creates or updates the catalogue item of a dataset under
// the publish lock. Failures of the REMS calls are stored in the
// rems_publish_error of the dataset and only returned when raiseErrors is set.
func (s *Service) PublishDataset(ctx context.Context, datasetID string, raiseErrors bool) (*domain.REMSEntity, error) {
	release, err := s.locker.Lock(ctx, locks.REMSPublish, datasetID)
	if err != nil {
		return nil, fmt.Errorf("lock dataset %s for rems publish: %w", datasetID, err)
	}
	defer release()

	d, err := s.loadPublishable(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	started := time.Now()
	if d.REMSPublishError != "" {
		if err := s.setPublishError(ctx, d.ID, ""); err != nil {
			return nil, err
		}
	}
	s.log.Infow("syncing dataset to rems", "dataset", d.ID, "pid", d.PersistentIdentifier)
	item, err := s.publish(ctx, d)
	if s.metrics != nil {
		s.metrics.Observe(ctx, "rems_publish", err == nil, time.Since(started))
	}
	if err == nil {
		return &item, nil
	}
	if raiseErrors {
		return nil, err
	}
	msg := fmt.Sprintf("REMS sync failed for dataset %s %s\n\n", d.ID, s.nowFn().Format("2006-01-02T15:04:05.000Z07:00"))
	var rerr *Error
	if errors.As(err, &rerr) && rerr.Status != 0 {
		msg += fmt.Sprintf("Response status %d:\n %s\n\n", rerr.Status, rerr.Body)
	}
	msg += err.Error()
	s.log.Errorw("dataset rems sync failed", "dataset", d.ID, "error", err)
	if serr := s.setPublishError(ctx, d.ID, msg); serr != nil {
		return nil, errors.Join(err, serr)
	}
	return nil, nil
}

func (s *Service) publish(ctx context.Context, d domain.Dataset) (domain.REMSEntity, error) {
	org := ""
	if d.MetadataOwner != nil {
		org = d.MetadataOwner.Organization
	}
	workflow, err := s.createAutomaticWorkflow(ctx, org)
	if err != nil {
		return domain.REMSEntity{}, err
	}
	var licenses []domain.REMSEntity
	if terms := d.AccessRights.DataAccessTerms; !terms.IsEmpty() {
		l, err := s.licenseFromAccessTerms(ctx, d, terms)
		if err != nil {
			return domain.REMSEntity{}, err
		}
		licenses = append(licenses, l)
	}
	for n, dl := range d.AccessRights.License {
		l, err := s.licenseFromDataset(ctx, d, n, dl)
		if err != nil {
			return domain.REMSEntity{}, err
		}
		licenses = append(licenses, l)
	}
	if err := s.archiveUnusedCustomLicenses(ctx, d.ID, licenses); err != nil {
		return domain.REMSEntity{}, err
	}
	key := datasetKey(d.ID)
	resource, err := s.createResource(ctx, key, d.ID, licenses)
	if err != nil {
		return domain.REMSEntity{}, err
	}
	return s.createCatalogueItem(ctx, key, resource, workflow, s.localizations(d))
}

// PublishReport lists the outcome of PublishAll.
type PublishReport struct {
	Published []string
	Failed    map[string]string
}

// PublishAll publishes every published REMS dataset of REMS enabled catalogs.
func (s *Service) PublishAll(ctx context.Context) (PublishReport, error) {
	var ids []string
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, d := range v.ListDatasets() {
			if !d.IsPublished() || d.IsRemoved() || !d.IsREMSDataset() {
				continue
			}
			if c, ok := v.FindDataCatalog(d.DataCatalog); ok && c.REMSEnabled {
				ids = append(ids, d.ID)
			}
		}
		return nil
	})
	if err != nil {
		return PublishReport{}, err
	}
	slices.Sort(ids)
	report := PublishReport{Failed: map[string]string{}}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if _, err := s.PublishDataset(ctx, id, true); err != nil {
			report.Failed[id] = err.Error()
			_ = s.setPublishError(ctx, id, err.Error())
			continue
		}
		report.Published = append(report.Published, id)
	}
	return report, nil
}

// DatasetChanged publishes REMS datasets after they are created or updated.
func (s *Service) DatasetChanged(ctx context.Context, ev core.DatasetEvent) {
	d := ev.Dataset
	if ev.Kind != core.EventCreated && ev.Kind != core.EventUpdated {
		return
	}
	if !d.IsPublished() || d.IsRemoved() || !d.IsREMSDataset() {
		return
	}
	run := func(ctx context.Context) error {
		_, err := s.PublishDataset(ctx, d.ID, false)
		if errors.Is(err, ErrCatalogDisabled) {
			return nil
		}
		return err
	}
	if s.dispatch != nil {
		s.dispatch("publish_rems_dataset", run)
		return
	}
	if err := run(ctx); err != nil {
		s.log.Warnw("rems publish failed", "dataset", d.ID, "error", err)
	}
}

// PublishErrors counts datasets whose last REMS publish failed.
func (s *Service) PublishErrors(ctx context.Context) (int, error) {
	n := 0
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, d := range v.ListDatasets() {
			if d.REMSPublishError != "" {
				n++
			}
		}
		return nil
	})
	return n, err
}
