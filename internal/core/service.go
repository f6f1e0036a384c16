// Package core implements the dataset catalog service: dataset lifecycle,
// versioning, publishing, file sets and the catalog records datasets refer to.
package core

import (
	"context"
	"time"

	"github.com/google/uuid"

	"metax/internal/logging"
	"metax/pkg/domain"
)

type (
	// Result aliases domain.Result returned by every mutating operation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine.
	RulesEngine = domain.RulesEngine
)

// Minter mints persistent identifiers for datasets being published.
type Minter interface {
	CreateURN(ctx context.Context, datasetID string) (string, error)
	CreateDOI(ctx context.Context, d domain.Dataset) (string, error)
}

// MetricsRecorder observes service operation outcomes.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// EventKind names what happened to a dataset.
type EventKind string

// Dataset event kinds.
const (
	EventCreated EventKind = "created"
	EventUpdated EventKind = "updated"
	EventDeleted EventKind = "deleted"
	EventFlushed EventKind = "flushed"
)

// DatasetEvent is delivered to observers after the transaction commits.
type DatasetEvent struct {
	Kind    EventKind
	Dataset domain.Dataset
	// FilesChanged is set when the file set of the dataset was modified.
	FilesChanged bool
}

// Observer receives committed dataset events.
type Observer interface {
	DatasetChanged(ctx context.Context, ev DatasetEvent)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev DatasetEvent)

// DatasetChanged calls f.
func (f ObserverFunc) DatasetChanged(ctx context.Context, ev DatasetEvent) { f(ctx, ev) }

// Option customizes a Service.
type Option func(*Service)

// WithMinter sets the persistent identifier minter.
func WithMinter(m Minter) Option { return func(s *Service) { s.minter = m } }

// WithLogger sets the service logger.
func WithLogger(l logging.Logger) Option { return func(s *Service) { s.log = logging.OrNop(l) } }

// WithClock overrides the time source used for dataset timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.nowFn = now } }

// WithObserver registers an observer for committed dataset events.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observers = append(s.observers, o) }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option { return func(s *Service) { s.metrics = m } }

// Service exposes transactional catalog operations.
type Service struct {
	store     domain.PersistentStore
	minter    Minter
	log       logging.Logger
	metrics   MetricsRecorder
	observers []Observer
	nowFn     func() time.Time
}

// NewService constructs a service backed by the supplied store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   logging.Nop(),
		nowFn: func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying storage implementation.
func (s *Service) Store() domain.PersistentStore { return s.store }

// AddObserver registers o after construction.
func (s *Service) AddObserver(o Observer) { s.observers = append(s.observers, o) }

func (s *Service) now() time.Time { return s.nowFn() }

// scope carries per-transaction state through the dataset helpers.
type scope struct {
	ctx    context.Context
	tx     domain.Transaction
	now    time.Time
	events []DatasetEvent
}

func (sc *scope) emit(kind EventKind, d domain.Dataset, filesChanged bool) {
	sc.events = append(sc.events, DatasetEvent{Kind: kind, Dataset: d, FilesChanged: filesChanged})
}

// run executes fn in a store transaction, then records metrics and
// delivers collected events when the transaction committed.
func (s *Service) run(ctx context.Context, op string, fn func(sc *scope) error) (Result, error) {
	started := time.Now()
	var sc *scope
	res, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		sc = &scope{ctx: ctx, tx: tx, now: s.now()}
		return fn(sc)
	})
	if s.metrics != nil {
		s.metrics.Observe(ctx, op, err == nil, time.Since(started))
	}
	if err != nil {
		s.log.Debugw("operation failed", "operation", op, "error", err)
		return res, err
	}
	for _, v := range res.Violations {
		s.log.Warnw("rule violation", "operation", op, "rule", v.Rule, "entity", v.Entity, "id", v.EntityID, "message", v.Message)
	}
	for _, ev := range sc.events {
		for _, o := range s.observers {
			o.DatasetChanged(ctx, ev)
		}
	}
	return res, nil
}

// view runs fn against a read-only snapshot.
func (s *Service) view(ctx context.Context, fn func(domain.TransactionView) error) error {
	return s.store.View(ctx, fn)
}

func newID() string { return uuid.NewString() }
