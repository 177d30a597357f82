package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// ErrRequestInFlight is returned when a request with the same idempotency
// key is still being processed.
var ErrRequestInFlight = errors.New("a request with this idempotency key is in progress")

// IdempotencyStore deduplicates placement requests per owner and key.
type IdempotencyStore interface {
	// Claim marks the key as in progress. When the key already completed it
	// returns the order it produced and claimed=false. When another request
	// holds the claim it returns ErrRequestInFlight.
	Claim(ctx context.Context, ownerID, key string) (existing uuid.UUID, claimed bool, err error)
	// Complete records the order produced for a claimed key.
	Complete(ctx context.Context, ownerID, key string, orderID uuid.UUID) error
	// Abandon drops a claim after a failed placement so the key can be retried.
	Abandon(ctx context.Context, ownerID, key string) error
}
