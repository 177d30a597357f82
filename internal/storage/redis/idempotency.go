package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/orderflow/internal/domain/order"
)

const (
	keyIdemOrderCreate = "orderflow:idem:order:create:%s:%s"

	// pendingMarker holds a key while its request is being processed.
	pendingMarker = "pending"

	DefaultIdempotencyTTL = 24 * time.Hour
	// DefaultPendingTTL must exceed the longest placement; a claim that
	// lapses mid-placement lets a retry place a second order.
	DefaultPendingTTL = time.Minute
)

// abandonScript drops a key only while it is still pending, so a late
// abandon never erases a completed order id.
var abandonScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var _ order.IdempotencyStore = (*IdempotencyStore)(nil)

// IdempotencyStore maps (owner, key) pairs to the order created for them.
type IdempotencyStore struct {
	rdb        goredis.Cmdable
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewIdempotencyStore returns a store remembering completed keys for ttl and
// holding claims for pendingTTL. Zero values select the defaults.
func NewIdempotencyStore(rdb goredis.Cmdable, ttl, pendingTTL time.Duration) *IdempotencyStore {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if pendingTTL <= 0 {
		pendingTTL = DefaultPendingTTL
	}
	return &IdempotencyStore{rdb: rdb, ttl: ttl, pendingTTL: pendingTTL}
}

func idempotencyKey(ownerID, key string) string {
	return fmt.Sprintf(keyIdemOrderCreate, ownerID, key)
}

// Claim reserves the key for the caller. When the key already completed it
// returns the recorded order id and claimed=false; while another request
// holds it, order.ErrRequestInFlight.
func (s *IdempotencyStore) Claim(ctx context.Context, ownerID, key string) (uuid.UUID, bool, error) {
	k := idempotencyKey(ownerID, key)
	for range 2 {
		ok, err := s.rdb.SetNX(ctx, k, pendingMarker, s.pendingTTL).Result()
		if err != nil {
			return uuid.Nil, false, errors.Wrap(err, "claim key")
		}
		if ok {
			return uuid.Nil, true, nil
		}

		v, err := s.rdb.Get(ctx, k).Result()
		if errors.Is(err, goredis.Nil) {
			// Expired between SETNX and GET.
			continue
		}
		if err != nil {
			return uuid.Nil, false, errors.Wrap(err, "read key")
		}
		if v == pendingMarker {
			return uuid.Nil, false, order.ErrRequestInFlight
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return uuid.Nil, false, errors.Wrapf(err, "parse stored order id %q", v)
		}
		return id, false, nil
	}
	return uuid.Nil, false, order.ErrRequestInFlight
}

// Complete records the order created for the key.
func (s *IdempotencyStore) Complete(ctx context.Context, ownerID, key string, orderID uuid.UUID) error {
	if err := s.rdb.Set(ctx, idempotencyKey(ownerID, key), orderID.String(), s.ttl).Err(); err != nil {
		return errors.Wrap(err, "complete key")
	}
	return nil
}

// Abandon releases a pending key so the request can be retried.
func (s *IdempotencyStore) Abandon(ctx context.Context, ownerID, key string) error {
	if err := abandonScript.Run(ctx, s.rdb, []string{idempotencyKey(ownerID, key)}, pendingMarker).Err(); err != nil {
		return errors.Wrap(err, "abandon key")
	}
	return nil
}
