package legacy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"metax/internal/blob"
	"metax/internal/core"
	"metax/internal/logging"
	"metax/pkg/domain"
)

// MigratorOption customizes a Migrator.
type MigratorOption func(*Migrator)

// WithLogger sets the migrator logger.
func WithLogger(l logging.Logger) MigratorOption { return func(m *Migrator) { m.log = logging.OrNop(l) } }

// WithClock overrides the time source of migration timestamps.
func WithClock(now func() time.Time) MigratorOption { return func(m *Migrator) { m.nowFn = now } }

// WithConcurrency sets how many datasets are migrated in parallel.
func WithConcurrency(n int) MigratorOption {
	return func(m *Migrator) {
		if n > 0 {
			m.concurrency = n
		}
	}
}

// WithFiles fetches dataset files from src during migration.
func WithFiles(src Source) MigratorOption { return func(m *Migrator) { m.files = src } }

// WithForce migrates datasets even when they are unchanged since the last
// migration or have been modified through V3.
func WithForce(force bool) MigratorOption { return func(m *Migrator) { m.force = force } }

// Migrator imports V2 datasets. Raw documents are kept in the blob store
// under legacy/{id}.json.
type Migrator struct {
	svc         *core.Service
	blobs       blob.Store
	files       Source
	log         logging.Logger
	nowFn       func() time.Time
	concurrency int
	force       bool
}

// NewMigrator returns a migrator storing datasets through svc.
func NewMigrator(svc *core.Service, blobs blob.Store, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		svc:         svc,
		blobs:       blobs,
		log:         logging.Nop(),
		nowFn:       func() time.Time { return time.Now().UTC() },
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Outcome is the result of migrating one dataset.
type Outcome struct {
	ID      string   `json:"id"`
	Created bool     `json:"created"`
	Skipped string   `json:"skipped,omitempty"`
	Invalid []string `json:"invalid,omitempty"`
	Fixed   []string `json:"fixed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// Report summarizes a batch migration.
type Report struct {
	Created  int       `json:"created"`
	Updated  int       `json:"updated"`
	Skipped  int       `json:"skipped"`
	Failed   int       `json:"failed"`
	Outcomes []Outcome `json:"outcomes"`
}

func (r *Report) add(o Outcome) {
	switch {
	case o.Error != "":
		r.Failed++
	case o.Skipped != "":
		r.Skipped++
	case o.Created:
		r.Created++
	default:
		r.Updated++
	}
	r.Outcomes = append(r.Outcomes, o)
}

// BlobKey is where the raw V2 document of a dataset is stored.
func BlobKey(id string) string { return "legacy/" + id + ".json" }

func (m *Migrator) snapshot(ctx context.Context) (*Snapshot, error) {
	var snap *Snapshot
	err := m.svc.Store().View(ctx, func(v domain.TransactionView) error {
		snap = NewSnapshot(v)
		return nil
	})
	return snap, err
}

// Convert converts doc without storing anything. Reference data has to
// exist already.
func (m *Migrator) Convert(ctx context.Context, doc map[string]any) (Result, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return Result{}, err
	}
	cv := &Converter{ConvertOnly: true, Lookup: snap, Now: m.nowFn}
	return cv.Convert(doc)
}

// skipReason reports why doc does not need migrating.
func (m *Migrator) skipReason(ctx context.Context, id, v2Modified string) (string, domain.LegacyDataset, error) {
	var rec domain.LegacyDataset
	var reason string
	err := m.svc.Store().View(ctx, func(v domain.TransactionView) error {
		var hasRec bool
		rec, hasRec = v.FindLegacyDataset(id)
		if m.force {
			return nil
		}
		if d, ok := v.FindDataset(id); ok && d.APIVersion >= 3 {
			reason = "dataset has been modified in v3"
			return nil
		}
		if hasRec && rec.MigrationError == "" && rec.LastSuccessfulMigration != nil && rec.V2Modified == v2Modified {
			reason = "dataset is unchanged"
		}
		return nil
	})
	return reason, rec, err
}

// Migrate converts and stores one V2 dataset document. Failures are also
// recorded in the LegacyDataset of the dataset.
func (m *Migrator) Migrate(ctx context.Context, doc map[string]any) (Outcome, error) {
	id := str(doc, "identifier")
	if id == "" {
		return Outcome{}, domain.NewValidationError("identifier", "Dataset identifier is missing.")
	}
	out := Outcome{ID: id}
	v2Modified := firstNonEmpty(str(doc, "date_modified"), str(doc, "date_created"))
	reason, rec, err := m.skipReason(ctx, id, v2Modified)
	if err != nil {
		return out, err
	}
	if reason != "" {
		out.Skipped = reason
		return out, nil
	}

	rec.ID = id
	rec.BlobKey = BlobKey(id)
	rec.V2Modified = v2Modified
	if err := m.migrate(ctx, doc, &out); err != nil {
		out.Error = err.Error()
		rec.MigrationError = err.Error()
		if _, recErr := m.svc.RecordLegacyMigration(ctx, rec); recErr != nil {
			m.log.Errorw("recording migration failure failed", "dataset", id, "error", recErr)
		}
		return out, err
	}
	now := m.nowFn()
	rec.MigrationError = ""
	rec.LastSuccessfulMigration = &now
	rec.InvalidFields = out.Invalid
	rec.FixedFields = out.Fixed
	if _, err := m.svc.RecordLegacyMigration(ctx, rec); err != nil {
		return out, err
	}
	m.log.Infow("migrated dataset", "dataset", id, "created", out.Created, "invalid", len(out.Invalid), "fixed", len(out.Fixed))
	return out, nil
}

func (m *Migrator) migrate(ctx context.Context, doc map[string]any, out *Outcome) error {
	if _, err := blob.PutJSON(ctx, m.blobs, BlobKey(out.ID), doc); err != nil {
		return fmt.Errorf("store v2 document: %w", err)
	}
	snap, err := m.snapshot(ctx)
	if err != nil {
		return err
	}
	cv := &Converter{Lookup: snap, Now: m.nowFn}
	res, err := cv.Convert(doc)
	if err != nil {
		return err
	}
	if err := m.createMissing(ctx, res.Created); err != nil {
		return err
	}
	var files *core.LegacyFiles
	if m.files != nil {
		raw, err := m.files.Files(ctx, out.ID)
		if err != nil {
			return err
		}
		if files, err = ConvertFiles(raw); err != nil {
			return err
		}
	}
	imp, _, err := m.svc.ImportLegacyDataset(ctx, res.Dataset, files)
	if err != nil {
		return err
	}
	out.Created = imp.Created
	out.Invalid = res.InvalidPaths()
	out.Fixed = res.FixedPaths()
	return nil
}

// createMissing stores reference data the conversion needed. Records
// created concurrently by another migration are reused.
func (m *Migrator) createMissing(ctx context.Context, c Created) error {
	if c.Empty() {
		return nil
	}
	_, err := m.svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		for _, cat := range c.Catalogs {
			if _, ok := tx.FindDataCatalog(cat.ID); ok {
				continue
			}
			if _, err := tx.CreateDataCatalog(cat); err != nil {
				return err
			}
		}
		concepts := map[conceptKey]bool{}
		for _, existing := range tx.ListConcepts() {
			concepts[conceptKey{existing.Type, existing.URL}] = true
		}
		for _, concept := range c.Concepts {
			if concepts[conceptKey{concept.Type, concept.URL}] {
				continue
			}
			if _, err := tx.CreateConcept(concept); err != nil {
				return err
			}
		}
		orgs := map[string]domain.Organization{}
		for _, o := range tx.ListOrganizations() {
			if o.IsReferenceData {
				orgs[o.URL] = o
			}
		}
		for _, o := range c.Organizations {
			if _, ok := orgs[o.URL]; ok {
				continue
			}
			if o.Parent != nil {
				parent, ok := orgs[o.Parent.URL]
				if !ok {
					return domain.NewValidationError("is_part_of", fmt.Sprintf("Parent organization %s not found.", o.Parent.URL))
				}
				o.Parent = &parent
			}
			created, err := tx.CreateOrganization(o)
			if err != nil {
				return err
			}
			orgs[created.URL] = created
		}
		return nil
	})
	return err
}

// MigrateAll migrates docs in parallel. Failing datasets are reported in
// the outcomes and do not stop the batch.
func (m *Migrator) MigrateAll(ctx context.Context, docs []map[string]any) (Report, error) {
	return m.run(ctx, len(docs), func(ctx context.Context, i int) (Outcome, error) {
		return m.Migrate(ctx, docs[i])
	})
}

// MigrateFrom fetches the listed datasets from src and migrates them.
func (m *Migrator) MigrateFrom(ctx context.Context, src Source, ids []string) (Report, error) {
	return m.run(ctx, len(ids), func(ctx context.Context, i int) (Outcome, error) {
		doc, err := src.Dataset(ctx, ids[i])
		if err != nil {
			return Outcome{ID: ids[i]}, err
		}
		return m.Migrate(ctx, doc)
	})
}

func (m *Migrator) run(ctx context.Context, n int, fn func(ctx context.Context, i int) (Outcome, error)) (Report, error) {
	outcomes := make([]Outcome, n)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	var mu sync.Mutex
	for i := range n {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := fn(ctx, i)
			if err != nil {
				out.Error = err.Error()
				m.log.Warnw("dataset migration failed", "dataset", out.ID, "error", err)
			}
			mu.Lock()
			outcomes[i] = out
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	report := Report{Outcomes: make([]Outcome, 0, n)}
	for _, o := range outcomes {
		if o.ID == "" && o.Error == "" {
			continue
		}
		report.add(o)
	}
	return report, err
}
