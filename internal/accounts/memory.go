package accounts

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/G4FproAPI/Astra-OSS/internal/models"
)

// MemoryStore is an in-process Store. A single mutex serializes all
// operations, which makes every method atomic within the process.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]models.Account
	keys     map[string]string
	banned   map[string]struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]models.Account),
		keys:     make(map[string]string),
		banned:   make(map[string]struct{}),
	}
}

// Put stores acc as is, replacing any record with the same id. It is meant
// for seeding fixtures.
func (s *MemoryStore) Put(acc models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.accounts[acc.ID]; ok {
		delete(s.keys, prev.APIKey)
	}
	s.accounts[acc.ID] = acc
	s.keys[acc.APIKey] = acc.ID
	if acc.Banned {
		s.banned[acc.ID] = struct{}{}
	} else {
		delete(s.banned, acc.ID)
	}
}

func (s *MemoryStore) GetByID(_ context.Context, id string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (s *MemoryStore) GetByAPIKey(_ context.Context, apiKey string) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.keys[apiKey]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	acc, ok := s.accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	return acc, nil
}

func (s *MemoryStore) Create(_ context.Context, in NewAccount, now time.Time) (models.Account, error) {
	acc, err := newAccount(in, now)
	if err != nil {
		return models.Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acc.ID]; ok {
		return models.Account{}, ErrAccountExists
	}
	if _, ok := s.keys[acc.APIKey]; ok {
		return models.Account{}, ErrAPIKeyTaken
	}
	s.accounts[acc.ID] = acc
	s.keys[acc.APIKey] = acc.ID
	return acc, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, upd Update) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	if upd.APIKey != nil && *upd.APIKey != acc.APIKey {
		if owner, taken := s.keys[*upd.APIKey]; taken && owner != id {
			return models.Account{}, ErrAPIKeyTaken
		}
	}

	oldKey := upd.apply(&acc)
	if oldKey != acc.APIKey {
		delete(s.keys, oldKey)
		s.keys[acc.APIKey] = id
	}
	if acc.Banned {
		s.banned[id] = struct{}{}
	} else {
		delete(s.banned, id)
	}
	s.accounts[id] = acc
	return acc, nil
}

func (s *MemoryStore) Ban(ctx context.Context, id string) error {
	banned := true
	_, err := s.Update(ctx, id, Update{Banned: &banned})
	return err
}

func (s *MemoryStore) Unban(ctx context.Context, id string) error {
	banned := false
	_, err := s.Update(ctx, id, Update{Banned: &banned})
	return err
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return ErrAccountNotFound
	}
	delete(s.accounts, id)
	delete(s.keys, acc.APIKey)
	delete(s.banned, id)
	return nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	sortAccounts(out)
	return out, nil
}

func (s *MemoryStore) ListBanned(_ context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Account, 0, len(s.banned))
	for id := range s.banned {
		if acc, ok := s.accounts[id]; ok {
			out = append(out, acc)
		}
	}
	sortAccounts(out)
	return out, nil
}

func (s *MemoryStore) IncrementUsage(_ context.Context, id string, amount float64, now time.Time) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[id]
	if !ok {
		return models.Account{}, ErrAccountNotFound
	}
	acc.ApplyUsage(amount, now)
	s.accounts[id] = acc
	return acc, nil
}

func sortAccounts(accs []models.Account) {
	sort.Slice(accs, func(i, j int) bool {
		if accs[i].CreatedAt != accs[j].CreatedAt {
			return accs[i].CreatedAt < accs[j].CreatedAt
		}
		return accs[i].ID < accs[j].ID
	})
}
