// Package cache guards checkout submissions against double posts. A key is
// reserved before the sale is committed and then bound to the new sale id,
// so a resubmitted form lands on the same receipt.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrInFlight is returned when the same key is being committed right now.
var ErrInFlight = errors.New("checkout already in progress")

type IdempotencyStore interface {
	// Reserve claims key. When a previous checkout already completed under
	// key, its sale id is returned with reserved=false.
	Reserve(ctx context.Context, key string, ttl time.Duration) (saleID string, reserved bool, err error)
	Complete(ctx context.Context, key string, saleID string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type NoopIdempotencyStore struct{}

func (NoopIdempotencyStore) Reserve(_ context.Context, _ string, _ time.Duration) (string, bool, error) {
	return "", true, nil
}

func (NoopIdempotencyStore) Complete(_ context.Context, _ string, _ string, _ time.Duration) error {
	return nil
}

func (NoopIdempotencyStore) Release(_ context.Context, _ string) error {
	return nil
}
