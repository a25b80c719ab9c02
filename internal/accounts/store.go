// Package accounts persists gateway callers and meters their usage.
//
// Two Store implementations are provided: RedisStore, which keeps the
// user:<id> / api_key:<key> / banned_users layout and is safe to share
// between gateway replicas, and MemoryStore for single-process use and tests.
package accounts

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/G4FproAPI/Astra-OSS/internal/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAPIKeyTaken     = errors.New("api key already in use")
	ErrAccountExists   = errors.New("account already exists")
)

// Store is the account registry. Every method is atomic with respect to
// concurrent callers, including callers in other processes for RedisStore.
type Store interface {
	GetByID(ctx context.Context, id string) (models.Account, error)
	GetByAPIKey(ctx context.Context, apiKey string) (models.Account, error)
	Create(ctx context.Context, acc NewAccount, now time.Time) (models.Account, error)
	Update(ctx context.Context, id string, upd Update) (models.Account, error)
	Ban(ctx context.Context, id string) error
	Unban(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]models.Account, error)
	ListBanned(ctx context.Context) ([]models.Account, error)

	// IncrementUsage applies the daily reset rule and adds amount to the
	// account's usage counters as one atomic step.
	IncrementUsage(ctx context.Context, id string, amount float64, now time.Time) (models.Account, error)
}

// NewAccount describes an account to provision. ID and APIKey are generated
// when empty; MaxUsagePerDay overrides the plan quota when set.
type NewAccount struct {
	ID             string
	APIKey         string
	Plan           string
	MaxUsagePerDay *float64
}

// Update is a partial account update; nil fields are left unchanged.
type Update struct {
	APIKey         *string
	Plan           *string
	Banned         *bool
	MaxUsagePerDay *float64
	Usage          *float64
	LastReset      *int64
}

// ResetUsage returns the update that zeroes usage as of now.
func ResetUsage(now time.Time) Update {
	zero := 0.0
	ts := now.Unix()
	return Update{Usage: &zero, LastReset: &ts}
}

// apply mutates acc according to upd and returns the previous API key.
func (upd Update) apply(acc *models.Account) string {
	oldKey := acc.APIKey
	if upd.APIKey != nil {
		acc.APIKey = *upd.APIKey
	}
	if upd.Plan != nil {
		acc.Plan = *upd.Plan
		if !acc.QuotaOverride {
			acc.MaxUsagePerDay = models.MaxUsageForPlan(acc.Plan)
		}
	}
	if upd.MaxUsagePerDay != nil {
		acc.MaxUsagePerDay = *upd.MaxUsagePerDay
		acc.QuotaOverride = true
	}
	if upd.Banned != nil {
		acc.Banned = *upd.Banned
	}
	if upd.Usage != nil {
		acc.Usage = *upd.Usage
	}
	if upd.LastReset != nil {
		acc.LastReset = *upd.LastReset
	}
	return oldKey
}

func newAccount(in NewAccount, now time.Time) (models.Account, error) {
	plan := in.Plan
	if plan == "" {
		plan = models.PlanFree
	}
	acc := models.Account{
		ID:             in.ID,
		APIKey:         in.APIKey,
		Plan:           plan,
		MaxUsagePerDay: models.MaxUsageForPlan(plan),
		LastReset:      now.Unix(),
		CreatedAt:      now.Unix(),
	}
	if in.MaxUsagePerDay != nil {
		acc.MaxUsagePerDay = *in.MaxUsagePerDay
		acc.QuotaOverride = true
	}
	if acc.ID == "" {
		acc.ID = newID()
	}
	if acc.APIKey == "" {
		key, err := GenerateAPIKey()
		if err != nil {
			return models.Account{}, err
		}
		acc.APIKey = key
	}
	return acc, nil
}

// GenerateAPIKey returns a fresh random API key.
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 24)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "sk-" + hex.EncodeToString(bytes), nil
}

func newID() string {
	return uuid.NewString()
}
