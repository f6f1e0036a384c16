package core

import (
	"context"
	"fmt"

	"metax/pkg/domain"
)

// NewDefaultRulesEngine builds a rules engine with the built-in uniqueness constraints.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewPIDUniqueRule())
	engine.Register(NewFilePathUniqueRule())
	engine.Register(NewConceptURLRule())
	engine.Register(NewREMSKeyUniqueRule())
	return engine
}

func changed[T any](changes []domain.Change, entity domain.EntityType) []T {
	var out []T
	for _, c := range changes {
		if c.Entity != entity || c.After == nil {
			continue
		}
		if v, ok := c.After.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// NewPIDUniqueRule blocks two datasets of one catalog sharing a persistent identifier.
// Removed datasets still reserve their identifier.
func NewPIDUniqueRule() domain.Rule { return pidUniqueRule{} }

type pidUniqueRule struct{}

func (pidUniqueRule) Name() string { return "dataset_pid_unique" }

func (r pidUniqueRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	touched := changed[domain.Dataset](changes, domain.EntityDataset)
	if len(touched) == 0 {
		return res, nil
	}
	type key struct{ catalog, pid string }
	owners := map[key][]string{}
	for _, d := range view.ListDatasets() {
		if d.PersistentIdentifier == "" || d.DataCatalog == "" {
			continue
		}
		k := key{d.DataCatalog, d.PersistentIdentifier}
		owners[k] = append(owners[k], d.ID)
	}
	for _, d := range touched {
		if d.PersistentIdentifier == "" || d.DataCatalog == "" {
			continue
		}
		if ids := owners[key{d.DataCatalog, d.PersistentIdentifier}]; len(ids) > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Field:    "persistent_identifier",
				Message:  "Data catalog is not allowed to have multiple datasets with same value.",
				Entity:   domain.EntityDataset,
				EntityID: d.ID,
			})
		}
	}
	return res, nil
}

// NewFilePathUniqueRule keeps pathnames unique per storage among non-removed
// files and storage identifiers unique per storage among all files.
func NewFilePathUniqueRule() domain.Rule { return filePathUniqueRule{} }

type filePathUniqueRule struct{}

func (filePathUniqueRule) Name() string { return "file_path_unique" }

func (r filePathUniqueRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	touched := changed[domain.File](changes, domain.EntityFile)
	if len(touched) == 0 {
		return res, nil
	}
	type key struct{ storage, value string }
	paths := map[key]int{}
	identifiers := map[key]int{}
	for _, f := range view.ListFiles() {
		identifiers[key{f.StorageID, f.StorageIdentifier}]++
		if f.Removed == nil {
			paths[key{f.StorageID, f.Pathname()}]++
		}
	}
	for _, f := range touched {
		if identifiers[key{f.StorageID, f.StorageIdentifier}] > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Field:    "storage_identifier",
				Message:  fmt.Sprintf("File with storage_identifier %s already exists in storage.", f.StorageIdentifier),
				Entity:   domain.EntityFile,
				EntityID: f.ID,
			})
		}
		if f.Removed == nil && paths[key{f.StorageID, f.Pathname()}] > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Field:    "pathname",
				Message:  fmt.Sprintf("File with path %s already exists in storage.", f.Pathname()),
				Entity:   domain.EntityFile,
				EntityID: f.ID,
			})
		}
	}
	return res, nil
}

// NewConceptURLRule requires reference data concepts to carry a scheme and
// unique urls within their vocabulary.
func NewConceptURLRule() domain.Rule { return conceptURLRule{} }

type conceptURLRule struct{}

func (conceptURLRule) Name() string { return "concept_url_unique" }

func (r conceptURLRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	touched := changed[domain.Concept](changes, domain.EntityConcept)
	if len(touched) == 0 {
		return res, nil
	}
	type key struct {
		typ domain.RefdataType
		url string
	}
	counts := map[key]int{}
	for _, c := range view.ListConcepts() {
		if c.IsReferenceData {
			counts[key{c.Type, c.URL}]++
		}
	}
	for _, c := range touched {
		if !c.IsReferenceData {
			continue
		}
		if c.InScheme == "" {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Field:    "in_scheme",
				Message:  "Reference data requires in_scheme.",
				Entity:   domain.EntityConcept,
				EntityID: c.ID,
			})
		}
		if counts[key{c.Type, c.URL}] > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Field:    "url",
				Message:  fmt.Sprintf("Reference data %s with url %s already exists.", c.Type, c.URL),
				Entity:   domain.EntityConcept,
				EntityID: c.ID,
			})
		}
	}
	return res, nil
}

// NewREMSKeyUniqueRule keeps REMS entity keys unique among active entities.
func NewREMSKeyUniqueRule() domain.Rule { return remsKeyUniqueRule{} }

type remsKeyUniqueRule struct{}

func (remsKeyUniqueRule) Name() string { return "rems_key_unique" }

func (r remsKeyUniqueRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	touched := changed[domain.REMSEntity](changes, domain.EntityREMSEntity)
	if len(touched) == 0 {
		return res, nil
	}
	counts := map[string]int{}
	for _, e := range view.ListREMSEntities() {
		if e.Removed == nil {
			counts[e.Key]++
		}
	}
	for _, e := range touched {
		if e.Removed == nil && counts[e.Key] > 1 {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Field:    "key",
				Message:  fmt.Sprintf("REMS entity with key %s already exists.", e.Key),
				Entity:   domain.EntityREMSEntity,
				EntityID: e.ID,
			})
		}
	}
	return res, nil
}
