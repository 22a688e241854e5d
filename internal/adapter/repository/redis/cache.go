package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/iho/settlement/internal/domain"
	"github.com/iho/settlement/internal/usecase"
)

// setIfNewer stores balance and offset unless the cached offset is higher.
var setIfNewer = redis.NewScript(`
local current = redis.call("HGET", KEYS[1], "offset")
if current and tonumber(current) > tonumber(ARGV[2]) then
	return 0
end
redis.call("HSET", KEYS[1], "balance", ARGV[1], "offset", ARGV[2])
return 1
`)

// BalanceCache implements usecase.BalanceCache using Redis hashes.
type BalanceCache struct {
	client *redis.Client
	prefix string
}

// NewBalanceCache creates a new BalanceCache.
func NewBalanceCache(client *redis.Client) *BalanceCache {
	return &BalanceCache{
		client: client,
		prefix: "balance:",
	}
}

func (c *BalanceCache) key(k domain.AccountKey) string {
	return c.prefix + string(k.Denomination) + ":" + k.Party
}

// Get returns the cached balance for key.
func (c *BalanceCache) Get(ctx context.Context, key domain.AccountKey) (usecase.CachedBalance, bool, error) {
	values, err := c.client.HMGet(ctx, c.key(key), "balance", "offset").Result()
	if err != nil {
		return usecase.CachedBalance{}, false, err
	}

	if len(values) != 2 || values[0] == nil || values[1] == nil {
		return usecase.CachedBalance{}, false, nil
	}

	balance, err := parseInt(values[0])
	if err != nil {
		return usecase.CachedBalance{}, false, fmt.Errorf("cached balance %s: %w", key, err)
	}

	offset, err := parseInt(values[1])
	if err != nil {
		return usecase.CachedBalance{}, false, fmt.Errorf("cached offset %s: %w", key, err)
	}

	return usecase.CachedBalance{Balance: balance, Offset: offset}, true, nil
}

// Set stores value unless a higher offset is already cached.
func (c *BalanceCache) Set(ctx context.Context, key domain.AccountKey, value usecase.CachedBalance) error {
	return setIfNewer.Run(ctx, c.client, []string{c.key(key)}, value.Balance, value.Offset).Err()
}

// Delete removes cached balances.
func (c *BalanceCache) Delete(ctx context.Context, keys ...domain.AccountKey) error {
	if len(keys) == 0 {
		return nil
	}

	redisKeys := make([]string, 0, len(keys))
	for _, k := range keys {
		redisKeys = append(redisKeys, c.key(k))
	}

	return c.client.Del(ctx, redisKeys...).Err()
}

func parseInt(v any) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected value type")
	}

	return strconv.ParseInt(s, 10, 64)
}
