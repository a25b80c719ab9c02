package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/G4FproAPI/Astra-OSS/internal/models"
)

const (
	userPrefix   = "user:"
	apiKeyPrefix = "api_key:"
	bannedSet    = "banned_users"

	maxTxRetries = 10
)

// RedisStore keeps accounts as JSON documents under user:<id>, an
// api_key:<key> -> id index and a banned_users set. Multi-key changes run in
// WATCH/MULTI transactions and usage increments in a Lua script, so several
// gateway processes can share one Redis.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix namespaces every key the store touches.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// NewRedisStore creates a store on an existing client.
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) userKey(id string) string { return s.prefix + userPrefix + id }

func (s *RedisStore) apiKeyKey(key string) string { return s.prefix + apiKeyPrefix + key }

func (s *RedisStore) bannedKey() string { return s.prefix + bannedSet }

// incrementUsageScript applies the daily reset and the increment to the
// stored document in one step.
// KEYS[1] = user key
// ARGV[1] = amount
// ARGV[2] = now (unix seconds)
// ARGV[3] = reset interval (seconds)
//
// Returns the updated document, or nil when the account does not exist.
var incrementUsageScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
    return false
end

local user = cjson.decode(raw)
local amount = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])

local last_reset = tonumber(user["last_reset"] or 0)
if now - last_reset >= interval then
    user["usage"] = 0
    user["last_reset"] = now
end

user["usage"] = tonumber(user["usage"] or 0) + amount
user["total_usage_all_time"] = tonumber(user["total_usage_all_time"] or 0) + amount

local out = cjson.encode(user)
redis.call("SET", KEYS[1], out)
return out
`)

func (s *RedisStore) load(ctx context.Context, c redis.Cmdable, id string) (models.Account, error) {
	raw, err := c.Get(ctx, s.userKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("accounts/redis: get %s: %w", id, err)
	}
	var acc models.Account
	if err := json.Unmarshal(raw, &acc); err != nil {
		return models.Account{}, fmt.Errorf("accounts/redis: decode %s: %w", id, err)
	}
	return acc, nil
}

// watch runs fn in an optimistic transaction, retrying when a watched key
// changed underneath it.
func (s *RedisStore) watch(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("accounts/redis: transaction on %v retried %d times", keys, maxTxRetries)
}

func (s *RedisStore) GetByID(ctx context.Context, id string) (models.Account, error) {
	return s.load(ctx, s.client, id)
}

func (s *RedisStore) GetByAPIKey(ctx context.Context, apiKey string) (models.Account, error) {
	id, err := s.client.Get(ctx, s.apiKeyKey(apiKey)).Result()
	if errors.Is(err, redis.Nil) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("accounts/redis: resolve api key: %w", err)
	}
	return s.load(ctx, s.client, id)
}

func (s *RedisStore) Create(ctx context.Context, in NewAccount, now time.Time) (models.Account, error) {
	acc, err := newAccount(in, now)
	if err != nil {
		return models.Account{}, err
	}
	doc, err := json.Marshal(acc)
	if err != nil {
		return models.Account{}, fmt.Errorf("accounts/redis: encode: %w", err)
	}

	userKey, indexKey := s.userKey(acc.ID), s.apiKeyKey(acc.APIKey)
	err = s.watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, userKey).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrAccountExists
		}
		if n, err = tx.Exists(ctx, indexKey).Result(); err != nil {
			return err
		}
		if n > 0 {
			return ErrAPIKeyTaken
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey, doc, 0)
			pipe.Set(ctx, indexKey, acc.ID, 0)
			return nil
		})
		return err
	}, userKey, indexKey)
	if err != nil {
		return models.Account{}, err
	}
	return acc, nil
}

func (s *RedisStore) Update(ctx context.Context, id string, upd Update) (models.Account, error) {
	userKey := s.userKey(id)
	keys := []string{userKey}
	if upd.APIKey != nil {
		keys = append(keys, s.apiKeyKey(*upd.APIKey))
	}

	var updated models.Account
	err := s.watch(ctx, func(tx *redis.Tx) error {
		acc, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		if upd.APIKey != nil && *upd.APIKey != acc.APIKey {
			owner, err := tx.Get(ctx, s.apiKeyKey(*upd.APIKey)).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if err == nil && owner != id {
				return ErrAPIKeyTaken
			}
		}

		oldKey := upd.apply(&acc)
		doc, err := json.Marshal(acc)
		if err != nil {
			return fmt.Errorf("accounts/redis: encode: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, userKey, doc, 0)
			if oldKey != acc.APIKey {
				pipe.Del(ctx, s.apiKeyKey(oldKey))
				pipe.Set(ctx, s.apiKeyKey(acc.APIKey), id, 0)
			}
			if upd.Banned != nil {
				if acc.Banned {
					pipe.SAdd(ctx, s.bannedKey(), id)
				} else {
					pipe.SRem(ctx, s.bannedKey(), id)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		updated = acc
		return nil
	}, keys...)
	if err != nil {
		return models.Account{}, err
	}
	return updated, nil
}

func (s *RedisStore) Ban(ctx context.Context, id string) error {
	banned := true
	_, err := s.Update(ctx, id, Update{Banned: &banned})
	return err
}

func (s *RedisStore) Unban(ctx context.Context, id string) error {
	banned := false
	_, err := s.Update(ctx, id, Update{Banned: &banned})
	return err
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	userKey := s.userKey(id)
	return s.watch(ctx, func(tx *redis.Tx) error {
		acc, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, userKey)
			pipe.Del(ctx, s.apiKeyKey(acc.APIKey))
			pipe.SRem(ctx, s.bannedKey(), id)
			return nil
		})
		return err
	}, userKey)
}

func (s *RedisStore) ListAll(ctx context.Context) ([]models.Account, error) {
	var out []models.Account
	pattern := s.userKey("*")
	iter := s.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		id := iter.Val()[len(s.userKey("")):]
		acc, err := s.load(ctx, s.client, id)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("accounts/redis: scan: %w", err)
	}
	sortAccounts(out)
	return out, nil
}

func (s *RedisStore) ListBanned(ctx context.Context) ([]models.Account, error) {
	ids, err := s.client.SMembers(ctx, s.bannedKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("accounts/redis: banned members: %w", err)
	}
	out := make([]models.Account, 0, len(ids))
	for _, id := range ids {
		acc, err := s.load(ctx, s.client, id)
		if errors.Is(err, ErrAccountNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	sortAccounts(out)
	return out, nil
}

func (s *RedisStore) IncrementUsage(ctx context.Context, id string, amount float64, now time.Time) (models.Account, error) {
	interval := int64(models.UsageResetInterval / time.Second)
	raw, err := incrementUsageScript.Run(ctx, s.client,
		[]string{s.userKey(id)},
		strconv.FormatFloat(amount, 'f', -1, 64), now.Unix(), interval,
	).Text()
	if errors.Is(err, redis.Nil) {
		return models.Account{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Account{}, fmt.Errorf("accounts/redis: increment usage %s: %w", id, err)
	}
	var acc models.Account
	if err := json.Unmarshal([]byte(raw), &acc); err != nil {
		return models.Account{}, fmt.Errorf("accounts/redis: decode %s: %w", id, err)
	}
	return acc, nil
}
