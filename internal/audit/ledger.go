// Package audit keeps an append-only, hash-chained log of security events
// per tenant and verifies chains for tamper evidence.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tenantcore.io/internal/ids"
	"tenantcore.io/internal/obs"
)

// Entry is one persisted link of a tenant chain.
type Entry struct {
	ID           string          `json:"id"`
	TenantID     uuid.UUID       `json:"tenant_id"`
	PreviousHash string          `json:"previous_hash"`
	CurrentHash  string          `json:"current_hash"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Tail is the newest link of a chain as seen inside an append.
type Tail struct {
	Hash      string
	CreatedAt time.Time
}

// Store persists entries. AppendEntry must serialize appends of the same
// tenant: build sees the current tail (GenesisHash for an empty chain) and
// the returned entry becomes the new tail atomically.
type Store interface {
	AppendEntry(ctx context.Context, tenantID uuid.UUID, build func(tail Tail) (Entry, error)) (Entry, error)
	// Entries returns the chain ordered by (created_at, id).
	Entries(ctx context.Context, tenantID uuid.UUID) ([]Entry, error)
}

// Sink receives entries after they have been chained.
type Sink interface {
	Publish(ctx context.Context, entry Entry) error
}

const (
	defaultAppendTimeout = 5 * time.Second
	defaultSinkTimeout   = 5 * time.Second
)

// Ledger appends events and verifies chains.
type Ledger struct {
	store         Store
	sink          Sink
	logger        *slog.Logger
	now           func() time.Time
	appendTimeout time.Duration
	sinkTimeout   time.Duration
	tracer        trace.Tracer
	locks         tenantLocks
}

// Option configures Ledger.
type Option func(*Ledger)

// WithSink forwards every appended entry to s.
func WithSink(s Sink) Option { return func(l *Ledger) { l.sink = s } }

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// WithAppendTimeout bounds how long Append may spend on storage.
func WithAppendTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.appendTimeout = d
		}
	}
}

// WithSinkTimeout bounds a single sink publish. It runs after the tenant
// lock is released and does not share the append deadline.
func WithSinkTimeout(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.sinkTimeout = d
		}
	}
}

// New builds a Ledger over store.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:         store,
		logger:        slog.Default(),
		now:           time.Now,
		appendTimeout: defaultAppendTimeout,
		sinkTimeout:   defaultSinkTimeout,
		tracer:        obs.Tracer("audit"),
		locks:         tenantLocks{locks: make(map[uuid.UUID]*tenantLock)},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "audit_ledger")
	return l
}

// Append records ev and never reports failure. The write is detached from
// ctx cancellation: the event already happened even if the request was
// aborted. Failures are logged at warning level.
func (l *Ledger) Append(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.appendTimeout)
	defer cancel()

	if _, err := l.Record(ctx, ev); err != nil {
		obs.AuditAppends.WithLabelValues("failed").Inc()
		l.logger.WarnContext(ctx, "audit append failed",
			"tenant_id", ev.TenantID,
			"actor_id", ev.ActorID,
			"action", ev.Action,
			"resource_type", ev.ResourceType,
			"resource_id", ev.ResourceID,
			"success", ev.Success,
			"source", sourceKind(ev.Source),
			"error", err,
		)
		logUnchained(ctx, l.logger, ev)
	}
}

// Record chains ev onto its tenant's ledger and returns the stored entry.
func (l *Ledger) Record(ctx context.Context, ev Event) (Entry, error) {
	if ev.TenantID == uuid.Nil {
		return Entry{}, errors.New("audit: event has no tenant")
	}
	if strings.TrimSpace(ev.Action) == "" {
		return Entry{}, errors.New("audit: event has no action")
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.now()
	}
	payload, err := Canonicalize(ev.payload())
	if err != nil {
		return Entry{}, err
	}

	ctx, span := l.tracer.Start(ctx, "audit.Record", trace.WithAttributes(
		attribute.String("tenant.id", ev.TenantID.String()),
		attribute.String("audit.action", ev.Action),
	))
	defer span.End()

	entry, err := l.chain(ctx, ev.TenantID, payload)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Entry{}, fmt.Errorf("append audit entry: %w", err)
	}
	obs.AuditAppends.WithLabelValues("ok").Inc()
	l.publish(ctx, entry)
	return entry, nil
}

// chain holds the tenant lock only for the storage append.
func (l *Ledger) chain(ctx context.Context, tenantID uuid.UUID, payload []byte) (Entry, error) {
	unlock := l.locks.lock(tenantID)
	defer unlock()

	return l.store.AppendEntry(ctx, tenantID, func(tail Tail) (Entry, error) {
		createdAt := l.now().UTC().Truncate(time.Microsecond)
		if createdAt.Before(tail.CreatedAt) {
			// wall clock stepped back; keep (created_at, id) ordering
			createdAt = tail.CreatedAt
		}
		return Entry{
			ID:           ids.NewAt(createdAt),
			TenantID:     tenantID,
			PreviousHash: tail.Hash,
			CurrentHash:  ComputeHash(tail.Hash, payload, createdAt),
			Payload:      payload,
			CreatedAt:    createdAt,
		}, nil
	})
}

func (l *Ledger) publish(ctx context.Context, entry Entry) {
	if l.sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.sinkTimeout)
	defer cancel()
	if err := l.sink.Publish(ctx, entry); err != nil {
		obs.AuditAppends.WithLabelValues("sink_failed").Inc()
		l.logger.WarnContext(ctx, "audit sink publish failed", "tenant_id", entry.TenantID, "entry_id", entry.ID, "error", err)
	}
}

type tenantLock struct {
	mu   sync.Mutex
	refs int
}

// tenantLocks hands out one mutex per tenant so unrelated tenants never
// wait on each other.
type tenantLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*tenantLock
}

func (t *tenantLocks) lock(id uuid.UUID) func() {
	t.mu.Lock()
	tl, ok := t.locks[id]
	if !ok {
		tl = &tenantLock{}
		t.locks[id] = tl
	}
	tl.refs++
	t.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		t.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(t.locks, id)
		}
		t.mu.Unlock()
	}
}

func sourceKind(s Source) string {
	if s == nil {
		return "unspecified"
	}
	return s.Kind()
}
