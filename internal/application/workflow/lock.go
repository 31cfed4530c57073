package workflow

import (
	"context"
	"fmt"

	"github.com/equiprent/rental-workflow/internal/application/port"
)

type heldKeysKey struct{}

// OrderLockKey is the lock key guarding a rental order
func OrderLockKey(orderID int64) string {
	return fmt.Sprintf("order:%d", orderID)
}

// ReportLockKey is the lock key guarding a damage report
func ReportLockKey(reportID int64) string {
	return fmt.Sprintf("report:%d", reportID)
}

// BillingLockKey is the lock key guarding a billing record
func BillingLockKey(reference string) string {
	return "billing:" + reference
}

// WithEntityLock runs fn while holding key. A key already held further up the
// same call chain is not acquired again, so nested operations on one entity
// do not deadlock.
func WithEntityLock(ctx context.Context, locker port.Locker, key string, fn func(ctx context.Context) error) error {
	if locker == nil || isHeld(ctx, key) {
		return fn(ctx)
	}

	release, err := locker.Acquire(ctx, key)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer release()

	return fn(withHeld(ctx, key))
}

func isHeld(ctx context.Context, key string) bool {
	held, _ := ctx.Value(heldKeysKey{}).(map[string]struct{})
	_, ok := held[key]
	return ok
}

func withHeld(ctx context.Context, key string) context.Context {
	prev, _ := ctx.Value(heldKeysKey{}).(map[string]struct{})
	next := make(map[string]struct{}, len(prev)+1)
	for k := range prev {
		next[k] = struct{}{}
	}
	next[key] = struct{}{}
	return context.WithValue(ctx, heldKeysKey{}, next)
}
