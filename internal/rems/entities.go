package rems

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"

	"metax/pkg/domain"
)

// operation is what has to happen to an existing REMS entity to match the
// desired values.
type operation int

const (
	opCreate operation = iota // create new entity, archive old one
	opEdit                    // edit fields editable in place
	opKeep                    // use existing entity as-is
)

// Entity keys.
func datasetKey(datasetID string) string { return "dataset-" + datasetID }

func referenceLicenseKey(url string) string { return "reference-license-" + url }

func customLicenseKey(datasetID string, n int) string {
	return "dataset-" + datasetID + "-license-" + strconv.Itoa(n)
}

func accessTermsKey(datasetID string) string { return "dataset-" + datasetID + "-access-terms" }

func automaticWorkflowKey(org string) string { return "automatic-" + org }

func remsID(e domain.REMSEntity) any {
	if e.REMSStringID != "" {
		return e.REMSStringID
	}
	return e.REMSID
}

func remsIDString(e domain.REMSEntity) string {
	if e.REMSStringID != "" {
		return e.REMSStringID
	}
	return strconv.FormatInt(e.REMSID, 10)
}

// sameJSON compares values by their JSON encoding.
func sameJSON(a, b any) bool {
	norm := func(v any) any {
		raw, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil
		}
		return out
	}
	return reflect.DeepEqual(norm(a), norm(b))
}

func (s *Service) findEntity(ctx context.Context, typ domain.REMSEntityType, match func(domain.REMSEntity) bool) (domain.REMSEntity, bool, error) {
	var (
		found domain.REMSEntity
		ok    bool
	)
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, e := range v.ListREMSEntities() {
			if e.Type == typ && e.Removed == nil && match(e) {
				found, ok = e, true
				return nil
			}
		}
		return nil
	})
	return found, ok, err
}

func (s *Service) entityByKey(ctx context.Context, typ domain.REMSEntityType, key string) (domain.REMSEntity, bool, error) {
	return s.findEntity(ctx, typ, func(e domain.REMSEntity) bool { return e.Key == key })
}

func (s *Service) entityByREMSID(ctx context.Context, typ domain.REMSEntityType, id int64) (domain.REMSEntity, bool, error) {
	return s.findEntity(ctx, typ, func(e domain.REMSEntity) bool { return e.REMSID == id })
}

func (s *Service) saveEntity(ctx context.Context, e domain.REMSEntity) (domain.REMSEntity, error) {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		e, err = tx.CreateREMSEntity(e)
		return err
	})
	return e, err
}

// getOrCreateEntity returns the entity with key, storing a new one when missing.
func (s *Service) getOrCreateEntity(ctx context.Context, e domain.REMSEntity) (domain.REMSEntity, error) {
	existing, ok, err := s.entityByKey(ctx, e.Type, e.Key)
	if err != nil || ok {
		return existing, err
	}
	return s.saveEntity(ctx, e)
}

func (s *Service) removeEntity(ctx context.Context, id string) error {
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.UpdateREMSEntity(id, func(e *domain.REMSEntity) error {
			now := s.nowFn()
			e.Removed = &now
			return nil
		})
		return err
	})
	return err
}

// entityData fetches the current state of e from REMS.
func (s *Service) entityData(ctx context.Context, e domain.REMSEntity) (map[string]any, error) {
	if e.Type == domain.REMSUser {
		return nil, fmt.Errorf("entity data not supported for %s", e.Type)
	}
	var data map[string]any
	if _, err := s.api.Do(ctx, http.MethodGet, "/api/"+string(e.Type)+"s/"+remsIDString(e), nil, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// archive disables and archives e in REMS, archiving dependent entities
// first, and soft deletes the stored entity.
func (s *Service) archive(ctx context.Context, e domain.REMSEntity) error {
	if e.Type == domain.REMSUser {
		return fmt.Errorf("archiving not supported for %s", e.Type)
	}
	s.log.Infow("archiving rems entity", "type", e.Type, "key", e.Key, "rems_id", remsIDString(e))
	switch e.Type {
	case domain.REMSResource:
		data, err := s.entityData(ctx, e)
		if err != nil {
			return err
		}
		resid, _ := data["resid"].(string)
		if err := s.archiveCatalogueItemsByResid(ctx, resid); err != nil {
			return err
		}
	case domain.REMSLicense:
		if e.DatasetID != "" {
			if err := s.archiveResourcesByResid(ctx, e.DatasetID); err != nil {
				return err
			}
		}
	}
	field := e.Type.IDField()
	base := "/api/" + string(e.Type) + "s"
	if _, err := s.api.Do(ctx, http.MethodPut, base+"/enabled", map[string]any{field: remsID(e), "enabled": false}, nil); err != nil {
		return err
	}
	if _, err := s.api.Do(ctx, http.MethodPut, base+"/archived", map[string]any{field: remsID(e), "archived": true}, nil); err != nil {
		return err
	}
	if e.ID == "" {
		return nil
	}
	return s.removeEntity(ctx, e.ID)
}

type remsRef struct {
	ID int64 `json:"id"`
}

func (s *Service) archiveListed(ctx context.Context, typ domain.REMSEntityType, path string, q url.Values) error {
	var items []remsRef
	if _, err := s.api.Do(ctx, http.MethodGet, path, nil, &items, Query(q)); err != nil {
		return err
	}
	for _, item := range items {
		e, ok, err := s.entityByREMSID(ctx, typ, item.ID)
		if err != nil {
			return err
		}
		if !ok {
			// Not known locally, archive through a temporary entity.
			e = domain.REMSEntity{Type: typ, REMSID: item.ID}
		}
		if err := s.archive(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// archiveCatalogueItemsByResid archives the catalogue items of a resource.
// The resource parameter of the query is the resid string.
func (s *Service) archiveCatalogueItemsByResid(ctx context.Context, resid string) error {
	return s.archiveListed(ctx, domain.REMSCatalogueItem, "/api/catalogue-items",
		url.Values{"resource": {resid}, "archived": {"false"}})
}

func (s *Service) archiveResourcesByResid(ctx context.Context, resid string) error {
	return s.archiveListed(ctx, domain.REMSResource, "/api/resources",
		url.Values{"resid": {resid}, "archived": {"false"}})
}

// remarshal converts decoded JSON into out.
func remarshal(in any, out any) error {
	raw, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
