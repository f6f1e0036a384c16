package core

import (
	"context"
	"fmt"

	"metax/pkg/domain"
)

func requireAdmin(u User) error {
	if !u.Authenticated() && !u.Admin {
		return domain.AuthenticationError{Missing: true}
	}
	if !u.Admin {
		return domain.PermissionError{}
	}
	return nil
}

func validateCatalogInput(c domain.DataCatalog) error {
	verr := &domain.ValidationError{}
	if c.Title.IsEmpty() {
		verr.Add("title", "This field is required.")
	}
	for _, t := range c.AllowedPIDTypes {
		if t != domain.PIDTypeURN && t != domain.PIDTypeDOI {
			verr.Add("allowed_pid_types", fmt.Sprintf("Invalid PID type %q.", t))
		}
	}
	return verr.OrNil()
}

// CreateDataCatalog stores a data catalog. A caller supplied id is kept.
func (s *Service) CreateDataCatalog(ctx context.Context, u User, c domain.DataCatalog) (domain.DataCatalog, Result, error) {
	if err := requireAdmin(u); err != nil {
		return domain.DataCatalog{}, Result{}, err
	}
	if err := validateCatalogInput(c); err != nil {
		return domain.DataCatalog{}, Result{}, err
	}
	var created domain.DataCatalog
	res, err := s.run(ctx, "data_catalog.create", func(sc *scope) error {
		c.Removed = nil
		var err error
		created, err = sc.tx.CreateDataCatalog(c)
		return err
	})
	return created, res, err
}

// GetDataCatalog returns a data catalog that has not been removed.
func (s *Service) GetDataCatalog(ctx context.Context, id string) (domain.DataCatalog, error) {
	var out domain.DataCatalog
	err := s.view(ctx, func(v domain.TransactionView) error {
		c, ok := v.FindDataCatalog(id)
		if !ok || c.Removed != nil {
			return domain.NotFoundError{Entity: domain.EntityDataCatalog, ID: id}
		}
		out = c
		return nil
	})
	return out, err
}

// ListDataCatalogs returns active data catalogs ordered by creation.
func (s *Service) ListDataCatalogs(ctx context.Context) ([]domain.DataCatalog, error) {
	var out []domain.DataCatalog
	err := s.view(ctx, func(v domain.TransactionView) error {
		for _, c := range v.ListDataCatalogs() {
			if c.Removed == nil {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

// UpdateDataCatalog mutates a data catalog.
func (s *Service) UpdateDataCatalog(ctx context.Context, u User, id string, mutator func(*domain.DataCatalog) error) (domain.DataCatalog, Result, error) {
	if err := requireAdmin(u); err != nil {
		return domain.DataCatalog{}, Result{}, err
	}
	var updated domain.DataCatalog
	res, err := s.run(ctx, "data_catalog.update", func(sc *scope) error {
		var err error
		updated, err = sc.tx.UpdateDataCatalog(id, func(c *domain.DataCatalog) error {
			removed := c.Removed
			if err := mutator(c); err != nil {
				return err
			}
			c.Removed = removed
			return validateCatalogInput(*c)
		})
		return err
	})
	return updated, res, err
}

// DeleteDataCatalog marks a data catalog removed. Catalogs with active
// datasets cannot be removed.
func (s *Service) DeleteDataCatalog(ctx context.Context, u User, id string) (Result, error) {
	if err := requireAdmin(u); err != nil {
		return Result{}, err
	}
	return s.run(ctx, "data_catalog.delete", func(sc *scope) error {
		for _, d := range sc.tx.ListDatasets() {
			if d.DataCatalog == id && !d.IsRemoved() {
				return domain.ConflictError{Message: fmt.Sprintf("Data catalog %s has datasets.", id)}
			}
		}
		_, err := sc.tx.UpdateDataCatalog(id, func(c *domain.DataCatalog) error {
			t := sc.now
			c.Removed = &t
			return nil
		})
		return err
	})
}

// CreateOrganization stores a user defined organization. Reference data
// organizations are created by the reference data import only.
func (s *Service) CreateOrganization(ctx context.Context, u User, o domain.Organization) (domain.Organization, Result, error) {
	if !u.Authenticated() {
		return domain.Organization{}, Result{}, domain.AuthenticationError{Missing: true}
	}
	if o.PrefLabel.IsEmpty() {
		return domain.Organization{}, Result{}, domain.NewValidationError("pref_label", "This field is required.")
	}
	if o.IsReferenceData && !u.Admin {
		return domain.Organization{}, Result{}, domain.NewValidationError("is_reference_data", "Reference data organizations cannot be created.")
	}
	var created domain.Organization
	res, err := s.run(ctx, "organization.create", func(sc *scope) error {
		if o.Parent != nil && o.Parent.ID != "" {
			parent, ok := sc.tx.FindOrganization(o.Parent.ID)
			if !ok {
				return domain.NewValidationError("parent", fmt.Sprintf("Organization %s not found.", o.Parent.ID))
			}
			o.Parent = &parent
		}
		var err error
		created, err = sc.tx.CreateOrganization(o)
		return err
	})
	return created, res, err
}

// GetOrganization returns one organization.
func (s *Service) GetOrganization(ctx context.Context, id string) (domain.Organization, error) {
	var out domain.Organization
	err := s.view(ctx, func(v domain.TransactionView) error {
		o, ok := v.FindOrganization(id)
		if !ok || o.Removed != nil {
			return domain.NotFoundError{Entity: domain.EntityOrganization, ID: id}
		}
		out = o
		return nil
	})
	return out, err
}

// ListOrganizations returns organizations, optionally only reference data.
func (s *Service) ListOrganizations(ctx context.Context, referenceOnly bool) ([]domain.Organization, error) {
	var out []domain.Organization
	err := s.view(ctx, func(v domain.TransactionView) error {
		for _, o := range v.ListOrganizations() {
			if o.Removed != nil || (referenceOnly && !o.IsReferenceData) {
				continue
			}
			out = append(out, o)
		}
		return nil
	})
	return out, err
}

// UpdateOrganization mutates a user defined organization.
func (s *Service) UpdateOrganization(ctx context.Context, u User, id string, mutator func(*domain.Organization) error) (domain.Organization, Result, error) {
	if !u.Authenticated() {
		return domain.Organization{}, Result{}, domain.AuthenticationError{Missing: true}
	}
	var updated domain.Organization
	res, err := s.run(ctx, "organization.update", func(sc *scope) error {
		var err error
		updated, err = sc.tx.UpdateOrganization(id, func(o *domain.Organization) error {
			if o.IsReferenceData && !u.Admin {
				return domain.PermissionError{Message: "Reference data organizations are read-only."}
			}
			isRef := o.IsReferenceData
			if err := mutator(o); err != nil {
				return err
			}
			o.IsReferenceData = isRef
			return nil
		})
		return err
	})
	return updated, res, err
}

// CreateContract stores a preservation contract.
func (s *Service) CreateContract(ctx context.Context, u User, c domain.Contract) (domain.Contract, Result, error) {
	if err := requireAdmin(u); err != nil {
		return domain.Contract{}, Result{}, err
	}
	verr := &domain.ValidationError{}
	if c.Title.IsEmpty() {
		verr.Add("title", "This field is required.")
	}
	if c.Quota < 0 {
		verr.Add("quota", "Ensure this value is greater than or equal to 0.")
	}
	if err := verr.OrNil(); err != nil {
		return domain.Contract{}, Result{}, err
	}
	var created domain.Contract
	res, err := s.run(ctx, "contract.create", func(sc *scope) error {
		var err error
		created, err = sc.tx.CreateContract(c)
		return err
	})
	return created, res, err
}

// GetContract returns one contract by id or legacy id.
func (s *Service) GetContract(ctx context.Context, id string) (domain.Contract, error) {
	var out domain.Contract
	err := s.view(ctx, func(v domain.TransactionView) error {
		if c, ok := v.FindContract(id); ok && c.Removed == nil {
			out = c
			return nil
		}
		for _, c := range v.ListContracts() {
			if c.LegacyID == id && c.Removed == nil {
				out = c
				return nil
			}
		}
		return domain.NotFoundError{Entity: domain.EntityContract, ID: id}
	})
	return out, err
}

// ListContracts returns active contracts.
func (s *Service) ListContracts(ctx context.Context) ([]domain.Contract, error) {
	var out []domain.Contract
	err := s.view(ctx, func(v domain.TransactionView) error {
		for _, c := range v.ListContracts() {
			if c.Removed == nil {
				out = append(out, c)
			}
		}
		return nil
	})
	return out, err
}

// UpdateContract mutates a contract.
func (s *Service) UpdateContract(ctx context.Context, u User, id string, mutator func(*domain.Contract) error) (domain.Contract, Result, error) {
	if err := requireAdmin(u); err != nil {
		return domain.Contract{}, Result{}, err
	}
	var updated domain.Contract
	res, err := s.run(ctx, "contract.update", func(sc *scope) error {
		var err error
		updated, err = sc.tx.UpdateContract(id, mutator)
		return err
	})
	return updated, res, err
}
