package refdata

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"metax/internal/logging"
	"metax/pkg/domain"
)

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option { return func(s *Service) { s.log = logging.OrNop(l) } }

// WithClock overrides the time used for deprecations.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.nowFn = now } }

// Service imports and queries reference data.
type Service struct {
	store   domain.PersistentStore
	sources []Source
	log     logging.Logger
	nowFn   func() time.Time
}

// NewService returns a service importing from sources.
func NewService(store domain.PersistentStore, sources []Source, opts ...Option) *Service {
	s := &Service{
		store:   store,
		sources: sources,
		log:     logging.Nop(),
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Counts summarizes the import of one vocabulary.
type Counts struct {
	New        int `json:"new"`
	Existing   int `json:"existing"`
	Deprecated int `json:"deprecated"`
}

// Import loads the sources of types, or all sources when types is empty,
// and stores them. Concepts missing from their source are deprecated.
func (s *Service) Import(ctx context.Context, types []domain.RefdataType) (map[domain.RefdataType]Counts, error) {
	var selected []Source
	for _, src := range s.sources {
		if len(types) == 0 || slices.Contains(types, src.Type) {
			selected = append(selected, src)
		}
	}
	for _, typ := range types {
		if !slices.ContainsFunc(selected, func(src Source) bool { return src.Type == typ }) {
			return nil, domain.NewValidationError("types", fmt.Sprintf("No source configured for %s.", typ))
		}
	}

	loaded := make([][]domain.Concept, len(selected))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range selected {
		g.Go(func() error {
			concepts, err := load(gctx, src)
			if err != nil {
				return err
			}
			loaded[i] = concepts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := map[domain.RefdataType]Counts{}
	for i, src := range selected {
		counts, err := s.save(ctx, src.Type, loaded[i])
		if err != nil {
			return out, fmt.Errorf("import %s: %w", src.Type, err)
		}
		out[src.Type] = counts
		s.log.Infow("imported reference data", "type", src.Type,
			"new", counts.New, "existing", counts.Existing, "deprecated", counts.Deprecated)
	}
	return out, nil
}

// save upserts the concepts of one vocabulary and links broader and
// narrower concepts within it.
func (s *Service) save(ctx context.Context, typ domain.RefdataType, concepts []domain.Concept) (Counts, error) {
	var counts Counts
	now := s.nowFn()
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		existing := map[string]domain.Concept{}
		for _, c := range tx.ListConcepts() {
			if c.Type == typ && c.IsReferenceData {
				existing[c.URL] = c
			}
		}
		known := map[string]bool{}
		for _, c := range concepts {
			known[c.URL] = true
		}
		narrower := map[string][]string{}
		for i := range concepts {
			concepts[i].Broader = slices.DeleteFunc(slices.Clone(concepts[i].Broader), func(u string) bool { return !known[u] })
			for _, parent := range concepts[i].Broader {
				narrower[parent] = append(narrower[parent], concepts[i].URL)
			}
		}

		for _, c := range concepts {
			c.Narrower = narrower[c.URL]
			sort.Strings(c.Narrower)
			cur, ok := existing[c.URL]
			if !ok {
				if _, err := tx.CreateConcept(c); err != nil {
					return err
				}
				counts.New++
				continue
			}
			counts.Existing++
			if _, err := tx.UpdateConcept(cur.ID, func(dst *domain.Concept) error {
				base := dst.Base
				*dst = c
				dst.Base = base
				return nil
			}); err != nil {
				return err
			}
		}
		for url, cur := range existing {
			if known[url] || cur.Deprecated != nil {
				continue
			}
			if _, err := tx.UpdateConcept(cur.ID, func(dst *domain.Concept) error {
				dst.Deprecated = &now
				return nil
			}); err != nil {
				return err
			}
			counts.Deprecated++
		}
		return nil
	})
	return counts, err
}

// Query filters List results.
type Query struct {
	PrefLabel         string
	URL               string
	IncludeDeprecated bool
}

func (q Query) matches(c domain.Concept) bool {
	if c.Deprecated != nil && !q.IncludeDeprecated {
		return false
	}
	if q.URL != "" && c.URL != q.URL {
		return false
	}
	if q.PrefLabel != "" {
		needle := strings.ToLower(q.PrefLabel)
		for _, label := range c.PrefLabel {
			if strings.Contains(strings.ToLower(label), needle) {
				return true
			}
		}
		return false
	}
	return true
}

// List returns the concepts of typ matching q, ordered by url.
func (s *Service) List(ctx context.Context, typ domain.RefdataType, q Query) ([]domain.Concept, error) {
	if !slices.Contains(domain.RefdataTypes, typ) {
		return nil, domain.NotFoundError{Entity: domain.EntityConcept, ID: string(typ)}
	}
	var out []domain.Concept
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		for _, c := range v.ListConcepts() {
			if c.Type == typ && c.IsReferenceData && q.matches(c) {
				out = append(out, c)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, err
}

// Get returns a concept of typ by id.
func (s *Service) Get(ctx context.Context, typ domain.RefdataType, id string) (domain.Concept, error) {
	var out domain.Concept
	err := s.store.View(ctx, func(v domain.TransactionView) error {
		c, ok := v.FindConcept(id)
		if !ok || c.Type != typ {
			return domain.NotFoundError{Entity: domain.EntityConcept, ID: id}
		}
		out = c
		return nil
	})
	return out, err
}
