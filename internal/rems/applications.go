package rems

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"

	"metax/internal/core"
	"metax/pkg/domain"
)

// Application is an access application as returned by REMS.
type Application = map[string]any

// ApplicationLicense is a license that has to be accepted in an application.
type ApplicationLicense struct {
	ID                int64            `json:"id"`
	Type              string           `json:"type"`
	Title             domain.MultiLang `json:"title"`
	Text              domain.MultiLang `json:"text,omitempty"`
	Link              domain.MultiLang `json:"link,omitempty"`
	IsDataAccessTerms bool             `json:"is_data_access_terms"`
}

// ApplicationBase lists what an application for a dataset requires.
type ApplicationBase struct {
	Licenses []ApplicationLicense `json:"licenses"`
	Forms    []any                `json:"forms"`
}

type licenseResponse struct {
	ID            int64  `json:"id"`
	LicenseType   string `json:"licensetype"`
	Localizations map[string]struct {
		Title       string `json:"title"`
		TextContent string `json:"textcontent"`
	} `json:"localizations"`
}

func (l licenseResponse) application(accessTerms bool) ApplicationLicense {
	out := ApplicationLicense{ID: l.ID, Type: l.LicenseType, Title: domain.MultiLang{}, IsDataAccessTerms: accessTerms}
	content := domain.MultiLang{}
	for lang, loc := range l.Localizations {
		out.Title[lang] = loc.Title
		content[lang] = loc.TextContent
	}
	switch l.LicenseType {
	case "text":
		out.Text = content
	case "link":
		out.Link = content
	}
	return out
}

func checkUser(u core.User) error {
	if u.Username == "" {
		return domain.NewValidationError("user", "user should be a Fairdata user")
	}
	return nil
}

// accessTermsIDs returns the subset of ids belonging to data access terms licenses.
func (s *Service) accessTermsIDs(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := map[int64]bool{}
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, e := range v.ListREMSEntities() {
			if e.Type == domain.REMSLicense && e.IsDataAccessTerms && slices.Contains(ids, e.REMSID) {
				out[e.REMSID] = true
			}
		}
		return nil
	})
	return out, err
}

func (s *Service) datasetResource(ctx context.Context, datasetID string) ([]licenseResponse, error) {
	resource, ok, err := s.entityByKey(ctx, domain.REMSResource, datasetKey(datasetID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NotFoundError{Entity: domain.EntityType("rems resource"), ID: datasetID}
	}
	raw, err := s.entityData(ctx, resource)
	if err != nil {
		return nil, err
	}
	var data struct {
		Licenses []licenseResponse `json:"licenses"`
	}
	if err := remarshal(raw, &data); err != nil {
		return nil, err
	}
	return data.Licenses, nil
}

// LicenseIDs returns the REMS ids of the licenses of the dataset resource.
func (s *Service) LicenseIDs(ctx context.Context, datasetID string) ([]int64, error) {
	licenses, err := s.datasetResource(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(licenses))
	for _, l := range licenses {
		ids = append(ids, l.ID)
	}
	return ids, nil
}

// ApplicationBase previews the licenses an application for the dataset
// needs to accept. Forms are not supported.
func (s *Service) ApplicationBase(ctx context.Context, datasetID string) (ApplicationBase, error) {
	licenses, err := s.datasetResource(ctx, datasetID)
	if err != nil {
		return ApplicationBase{}, err
	}
	ids := make([]int64, 0, len(licenses))
	for _, l := range licenses {
		ids = append(ids, l.ID)
	}
	terms, err := s.accessTermsIDs(ctx, ids)
	if err != nil {
		return ApplicationBase{}, err
	}
	base := ApplicationBase{Licenses: []ApplicationLicense{}, Forms: []any{}}
	for _, l := range licenses {
		base.Licenses = append(base.Licenses, l.application(terms[l.ID]))
	}
	return base, nil
}

// validateAcceptedLicenses checks that accepted is exactly the set all.
func validateAcceptedLicenses(all, accepted []int64) error {
	var missing, extra []int64
	for _, id := range all {
		if !slices.Contains(accepted, id) {
			missing = append(missing, id)
		}
	}
	for _, id := range accepted {
		if !slices.Contains(all, id) {
			extra = append(extra, id)
		}
	}
	slices.Sort(missing)
	slices.Sort(extra)
	if len(missing) > 0 {
		return domain.NewValidationError("accept_licenses", fmt.Sprintf("All licenses need to be accepted. Missing: %v", missing))
	}
	if len(extra) > 0 {
		return domain.NewValidationError("accept_licenses", fmt.Sprintf("The following licenses are not available for the application: %v", extra))
	}
	return nil
}

// CreateApplication creates and submits an application for the dataset as
// the user. All licenses of the dataset resource have to be accepted; they
// are checked before anything is created in REMS.
func (s *Service) CreateApplication(ctx context.Context, u core.User, datasetID string, acceptLicenses []int64) (Application, error) {
	if err := checkUser(u); err != nil {
		return nil, err
	}
	item, ok, err := s.entityByKey(ctx, domain.REMSCatalogueItem, datasetKey(datasetID))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.NewValidationError("dataset", "Dataset has not been published to REMS.")
	}
	licenses, err := s.LicenseIDs(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if err := validateAcceptedLicenses(licenses, acceptLicenses); err != nil {
		return nil, err
	}
	if _, err := s.CreateUser(ctx, u.Username, u.Username, ""); err != nil {
		return nil, err
	}
	api := s.api.AsUser(u.Username)
	var created struct {
		ID int64 `json:"application-id"`
	}
	if _, err := api.Do(ctx, http.MethodPost, "/api/applications/create", map[string]any{"catalogue-item-ids": []int64{item.REMSID}}, &created); err != nil {
		return nil, err
	}
	accept := map[string]any{"application-id": created.ID, "accepted-licenses": acceptLicenses}
	if _, err := api.Do(ctx, http.MethodPost, "/api/applications/accept-licenses", accept, nil); err != nil {
		return nil, err
	}
	result := Application{}
	if _, err := api.Do(ctx, http.MethodPost, "/api/applications/submit", map[string]any{"application-id": created.ID}, &result); err != nil {
		return nil, err
	}
	result["application-id"] = created.ID
	return result, nil
}

// onlyResource reports whether datasetID is the single resource of app.
func onlyResource(app Application, datasetID string) bool {
	var resources []struct {
		ExtID string `json:"resource/ext-id"`
	}
	if err := remarshal(app["application/resources"], &resources); err != nil {
		return false
	}
	return len(resources) == 1 && resources[0].ExtID == datasetID
}

// ListApplications returns the applications of the user having the
// dataset as their only resource.
func (s *Service) ListApplications(ctx context.Context, u core.User, datasetID string) ([]Application, error) {
	if err := checkUser(u); err != nil {
		return nil, err
	}
	var apps []Application
	q := url.Values{"query": {"resource:" + datasetID}}
	if _, err := s.api.AsUser(u.Username).Do(ctx, http.MethodGet, "/api/my-applications", nil, &apps, Query(q)); err != nil {
		return nil, err
	}
	out := []Application{}
	for _, app := range apps {
		if onlyResource(app, datasetID) {
			out = append(out, app)
		}
	}
	return out, nil
}

// GetApplication returns an application of the user for the dataset, with
// licenses marked by is_data_access_terms.
func (s *Service) GetApplication(ctx context.Context, u core.User, datasetID string, applicationID int64) (Application, error) {
	if err := checkUser(u); err != nil {
		return nil, err
	}
	var app Application
	status, err := s.api.AsUser(u.Username).Do(ctx, http.MethodGet, "/api/applications/"+strconv.FormatInt(applicationID, 10), nil, &app, AllowNotFound())
	if err != nil {
		return nil, err
	}
	notFound := domain.NotFoundError{Entity: domain.EntityType("rems application"), ID: strconv.FormatInt(applicationID, 10)}
	if status == http.StatusNotFound || !onlyResource(app, datasetID) {
		return nil, notFound
	}
	licenses, _ := app["application/licenses"].([]any)
	var ids []int64
	for _, l := range licenses {
		if m, ok := l.(map[string]any); ok {
			if id, ok := m["license/id"].(float64); ok {
				ids = append(ids, int64(id))
			}
		}
	}
	terms, err := s.accessTermsIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, l := range licenses {
		if m, ok := l.(map[string]any); ok {
			id, _ := m["license/id"].(float64)
			m["is_data_access_terms"] = terms[int64(id)]
		}
	}
	return app, nil
}

// Entitlements returns the active entitlements of the user to the dataset.
func (s *Service) Entitlements(ctx context.Context, u core.User, datasetID string) ([]map[string]any, error) {
	if err := checkUser(u); err != nil {
		return nil, err
	}
	out := []map[string]any{}
	q := url.Values{"resource": {datasetID}, "user": {u.Username}}
	if _, err := s.api.Do(ctx, http.MethodGet, "/api/entitlements", nil, &out, Query(q)); err != nil {
		return nil, err
	}
	return out, nil
}
