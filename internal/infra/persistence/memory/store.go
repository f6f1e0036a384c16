// Package memory provides an in-memory implementation of the catalog
// persistence store used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"metax/pkg/domain"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

// Store provides an in-memory transactional store for the catalog.
//
// Committed bucket maps are never mutated. A transaction copies a bucket the
// first time it writes to it and commit swaps the copies in, so readers can
// keep using the maps they captured without holding the lock.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState returns the committed state for external persistence. The
// returned maps are shared with the store and must not be modified.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(snapshot)
}

// RulesEngine exposes the configured engine so callers can register rules.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the clock used for timestamps.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// Ping always succeeds for the memory store.
func (s *Store) Ping(context.Context) error { return nil }

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	res, _, err := s.RunTracked(ctx, fn)
	return res, err
}

// RunTracked behaves like RunInTransaction and additionally reports the
// buckets written by the committed transaction.
func (s *Store) RunTracked(ctx context.Context, fn func(tx Transaction) error) (Result, []domain.EntityType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store:  s,
		state:  s.state,
		now:    s.nowFn(),
		copied: map[domain.EntityType]bool{},
	}
	tx.stateView = stateView{state: &tx.state}

	if err := fn(tx); err != nil {
		return Result{}, nil, err
	}

	var result Result
	if s.engine != nil {
		res, err := s.engine.Evaluate(ctx, tx.stateView, tx.changes)
		if err != nil {
			return Result{}, nil, err
		}
		result = res
		if res.HasBlocking() {
			return res, nil, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	touched := make([]domain.EntityType, 0, len(tx.copied))
	for kind := range tx.copied {
		touched = append(touched, kind)
	}
	sort.Slice(touched, func(i, j int) bool { return touched[i] < touched[j] })
	return result, touched, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	snapshot := s.state
	s.mu.RUnlock()
	return fn(stateView{state: &snapshot})
}

type transaction struct {
	stateView
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
	copied  map[domain.EntityType]bool
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return tx.stateView
}

// record is satisfied by pointers to stored entity types.
type record[T any] interface {
	*T
	BaseRef() *domain.Base
	Clone() T
}

func cloneOf[T any, P record[T]](v T) T {
	return P(&v).Clone()
}

func getRecord[T any, P record[T]](table map[string]T, id string) (T, bool) {
	v, ok := table[id]
	if !ok {
		var zero T
		return zero, false
	}
	return cloneOf[T, P](v), true
}

func listRecords[T any, P record[T]](table map[string]T, keep func(T) bool) []T {
	out := make([]T, 0, len(table))
	for _, v := range table {
		if keep != nil && !keep(v) {
			continue
		}
		out = append(out, cloneOf[T, P](v))
	}
	sort.Slice(out, func(i, j int) bool {
		bi, bj := P(&out[i]).BaseRef(), P(&out[j]).BaseRef()
		if !bi.Created.Equal(bj.Created) {
			return bi.Created.Before(bj.Created)
		}
		return bi.ID < bj.ID
	})
	return out
}

func writable[T any](tx *transaction, kind domain.EntityType, table *map[string]T) map[string]T {
	if !tx.copied[kind] {
		c := make(map[string]T, len(*table)+1)
		maps.Copy(c, *table)
		*table = c
		tx.copied[kind] = true
	}
	return *table
}

func createRecord[T any, P record[T]](tx *transaction, kind domain.EntityType, table *map[string]T, v T) (T, error) {
	var zero T
	b := P(&v).BaseRef()
	if b.ID == "" {
		b.ID = tx.store.newID()
	}
	if _, exists := (*table)[b.ID]; exists {
		return zero, domain.ConflictError{Message: fmt.Sprintf("%s %q already exists", kind, b.ID)}
	}
	if b.Created.IsZero() {
		b.Created = tx.now
	}
	if b.Modified.IsZero() {
		b.Modified = b.Created
	}
	writable(tx, kind, table)[b.ID] = cloneOf[T, P](v)
	tx.recordChange(Change{Entity: kind, Action: domain.ActionCreate, After: cloneOf[T, P](v)})
	return cloneOf[T, P](v), nil
}

func updateRecord[T any, P record[T]](tx *transaction, kind domain.EntityType, table *map[string]T, id string, mutator func(*T) error) (T, error) {
	var zero T
	current, ok := (*table)[id]
	if !ok {
		return zero, domain.NotFoundError{Entity: kind, ID: id}
	}
	before := cloneOf[T, P](current)
	next := cloneOf[T, P](current)
	if err := mutator(&next); err != nil {
		return zero, err
	}
	prev := P(&before).BaseRef()
	b := P(&next).BaseRef()
	b.ID = id
	b.Created = prev.Created
	// A mutator that sets Modified explicitly keeps its value.
	if b.Modified.Equal(prev.Modified) {
		b.Modified = tx.now
	}
	writable(tx, kind, table)[id] = cloneOf[T, P](next)
	tx.recordChange(Change{Entity: kind, Action: domain.ActionUpdate, Before: before, After: cloneOf[T, P](next)})
	return next, nil
}

func deleteRecord[T any, P record[T]](tx *transaction, kind domain.EntityType, table *map[string]T, id string) error {
	current, ok := (*table)[id]
	if !ok {
		return domain.NotFoundError{Entity: kind, ID: id}
	}
	delete(writable(tx, kind, table), id)
	tx.recordChange(Change{Entity: kind, Action: domain.ActionDelete, Before: cloneOf[T, P](current)})
	return nil
}
