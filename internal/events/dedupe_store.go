package events

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// rowQuerier is the subset of *pgxpool.Pool InboundDedupeStore needs.
type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// InboundDedupeStore guards the inbound worker against processing the same
// queue message twice. Chatwoot and SQS are both at-least-once: a webhook
// retry or a redelivered-but-not-yet-deleted SQS message can hand the same
// conversation turn to the orchestrator a second time, which would produce
// a duplicate reply. Every message id is recorded here before the turn
// runs; a second delivery of the same id is skipped.
type InboundDedupeStore struct {
	pool rowQuerier
}

// NewInboundDedupeStore builds a store backed by a real connection pool.
func NewInboundDedupeStore(pool *pgxpool.Pool) *InboundDedupeStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &InboundDedupeStore{pool: pool}
}

func newInboundDedupeStoreWithExec(exec rowQuerier) *InboundDedupeStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &InboundDedupeStore{pool: exec}
}

// AlreadyProcessed reports whether this provider/message id pair was
// already recorded.
func (s *InboundDedupeStore) AlreadyProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	key, _, _, err := normalizeDedupeKey(provider, eventID)
	if err != nil {
		return false, err
	}
	var seen bool
	query := `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`
	if err := s.pool.QueryRow(ctx, query, key).Scan(&seen); err != nil {
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return seen, nil
}

// MarkProcessed records a provider/message id pair, reporting false if it
// was already present (the redelivery case).
func (s *InboundDedupeStore) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	key, normalizedProvider, normalizedEventID, err := normalizeDedupeKey(provider, eventID)
	if err != nil {
		return false, err
	}
	query := `
		INSERT INTO processed_events (event_id, provider, external_event_id)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, key, normalizedProvider, normalizedEventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// dedupeNamespace seeds the v5-style derivation below; it has no meaning
// beyond being fixed for the lifetime of the processed_events table.
var dedupeNamespace = uuid.MustParse("7e3aa2b4-5d1c-48f6-9b0e-2f84c1d6a953")

// normalizeDedupeKey derives a stable UUID primary key from a provider name
// (e.g. "chatwoot") and the provider's own message/event id, so the
// processed_events table never has to trust the provider's id format.
func normalizeDedupeKey(provider, eventID string) (uuid.UUID, string, string, error) {
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return uuid.Nil, "", "", fmt.Errorf("events: event id required")
	}
	provider = strings.TrimSpace(provider)
	key := provider + ":" + eventID
	return uuid.NewSHA1(dedupeNamespace, []byte(key)), provider, eventID, nil
}
