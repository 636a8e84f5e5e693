// Package statestore checkpoints per-conversation state between turns and
// tracks per-sender rate-limit counters (IncrementRate). Backed by Redis: each conversation is one
// JSON blob under a TTL, with an OpenTelemetry span per operation.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/pepeccz/atrevete-orchestrator/internal/state"
)

// defaultTTL is the checkpoint eviction window: a conversation
// that goes quiet for this long is treated as abandoned and its state
// store entry expires on its own rather than being explicitly cleaned up.
const defaultTTL = time.Hour

// Store checkpoints Conversation snapshots and rate-limit counters in
// Redis.
type Store struct {
	redis  *redis.Client
	tracer trace.Tracer
	ttl    time.Duration
}

// New builds a Store. ttl <= 0 uses defaultTTL (1h, matching StateTTL's
// default in config).
func New(client *redis.Client, ttl time.Duration) *Store {
	if client == nil {
		panic("statestore: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{
		redis:  client,
		tracer: otel.Tracer("atrevete.internal.statestore"),
		ttl:    ttl,
	}
}

func conversationKey(id string) string { return fmt.Sprintf("conversation:%s", id) }
func rateLimitKey(bucket string) string { return fmt.Sprintf("ratelimit:%s", bucket) }
func lockKey(conversationID string) string { return fmt.Sprintf("lock:conversation:%s", conversationID) }

// defaultLockTTL bounds how long a single turn may hold the per-conversation
// lock before another task is allowed to steal it, guarding against a
// crashed holder wedging the conversation forever.
const defaultLockTTL = 15 * time.Second

// Lock acquires the per-conversation key lock: two concurrent inbound messages
// for the same conversation id must never interleave their FSM
// transitions. It returns ok=false without error when another task
// already holds the lock. token must be passed back to Unlock so a
// holder never releases a lock it no longer owns (e.g. after its own TTL
// expired and someone else acquired it).
func (s *Store) Lock(ctx context.Context, conversationID, token string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.lock")
	defer span.End()

	ok, err := s.redis.SetNX(ctx, lockKey(conversationID), token, defaultLockTTL).Result()
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("statestore: acquire lock: %w", err)
	}
	return ok, nil
}

// unlockScript releases the lock only if its value still matches token,
// the standard Redis-recipe guard against releasing a lock acquired by a
// different holder after this one's TTL lapsed.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Unlock releases conversationID's lock, a no-op if token no longer
// matches the current holder.
func (s *Store) Unlock(ctx context.Context, conversationID, token string) error {
	ctx, span := s.tracer.Start(ctx, "statestore.unlock")
	defer span.End()

	if err := unlockScript.Run(ctx, s.redis, []string{lockKey(conversationID)}, token).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("statestore: release lock: %w", err)
	}
	return nil
}

// Load fetches a conversation's checkpoint. A missing key is not an
// error: it reports (nil, false, nil) so the orchestrator can start a
// fresh conversation for a phone number it has never seen, or one whose
// checkpoint aged out.
func (s *Store) Load(ctx context.Context, conversationID string) (*state.Conversation, bool, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.load")
	defer span.End()

	data, err := s.redis.Get(ctx, conversationKey(conversationID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		span.RecordError(err)
		return nil, false, fmt.Errorf("statestore: load conversation: %w", err)
	}

	var conv state.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("statestore: decode conversation: %w", err)
	}
	return &conv, true, nil
}

// Save writes conv's checkpoint, refreshing its TTL so a live
// conversation never ages out mid-flow.
func (s *Store) Save(ctx context.Context, conv *state.Conversation) error {
	ctx, span := s.tracer.Start(ctx, "statestore.save")
	defer span.End()

	if conv == nil {
		return fmt.Errorf("statestore: conversation is nil")
	}
	conv.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(conv)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("statestore: marshal conversation: %w", err)
	}
	if err := s.redis.Set(ctx, conversationKey(conv.ConversationID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("statestore: persist conversation: %w", err)
	}
	return nil
}

// Delete removes a conversation's checkpoint outright.
func (s *Store) Delete(ctx context.Context, conversationID string) error {
	ctx, span := s.tracer.Start(ctx, "statestore.delete")
	defer span.End()

	if err := s.redis.Del(ctx, conversationKey(conversationID)).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("statestore: delete conversation: %w", err)
	}
	return nil
}

// IncrementRate increments bucket's fixed-window counter (keyed by
// whatever the caller chooses to bucket on — customer phone number,
// typically one bucket per calendar minute) and sets its expiry to window
// on first increment. It returns the counter's value after the increment.
func (s *Store) IncrementRate(ctx context.Context, bucket string, window time.Duration) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "statestore.increment_rate")
	defer span.End()

	key := rateLimitKey(bucket)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("statestore: increment rate counter: %w", err)
	}
	if count == 1 {
		if window <= 0 {
			window = time.Minute
		}
		if err := s.redis.Expire(ctx, key, window).Err(); err != nil {
			span.RecordError(err)
			return count, fmt.Errorf("statestore: set rate counter expiry: %w", err)
		}
	}
	return count, nil
}
