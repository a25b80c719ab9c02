package accounts

import (
	"context"
	"fmt"
	"time"

	"github.com/G4FproAPI/Astra-OSS/internal/models"
)

// Accountant enforces daily quotas and records metered usage.
type Accountant struct {
	store Store
	now   func() time.Time
}

// AccountantOption configures an Accountant.
type AccountantOption func(*Accountant)

// WithClock overrides the time source.
func WithClock(now func() time.Time) AccountantOption {
	return func(a *Accountant) { a.now = now }
}

// NewAccountant creates an accountant over store.
func NewAccountant(store Store, opts ...AccountantOption) *Accountant {
	a := &Accountant{store: store, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HasQuota reports whether acc may start another request. It judges the
// account as last read and does not apply the daily reset.
func (a *Accountant) HasQuota(acc models.Account) bool {
	return acc.Usage < acc.MaxUsagePerDay
}

// AddUsage charges amount to the account, resetting the daily counter first
// when a day has passed since the last reset.
func (a *Accountant) AddUsage(ctx context.Context, id string, amount float64) (models.Account, error) {
	acc, err := a.store.IncrementUsage(ctx, id, amount, a.now())
	if err != nil {
		return models.Account{}, fmt.Errorf("add usage for %s: %w", id, err)
	}
	return acc, nil
}

// ResetUsage zeroes the daily counter immediately.
func (a *Accountant) ResetUsage(ctx context.Context, id string) (models.Account, error) {
	return a.store.Update(ctx, id, ResetUsage(a.now()))
}
