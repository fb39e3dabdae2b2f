package cachesvc

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
	logsvc "github.com/trezcool/masomo-cloud/services/logger"
)

// newTestCache connects to the Redis server at TEST_REDIS_ADDRESS, skipping the test when it is not set.
func newTestCache(t *testing.T) *SchoolCache {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDRESS")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDRESS not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = rdb.FlushDB(context.Background()).Err()
		_ = rdb.Close()
	})
	return NewSchoolCacheWithClient(rdb, time.Minute)
}

func TestNewSchoolCache_disabled(t *testing.T) {
	logger, logs := logsvc.NewObservedLogger(zapcore.DebugLevel)

	conf := &core.Config{}
	assert.Equal(t, tenant.NopCache{}, NewSchoolCache(conf, logger))

	conf.Redis.Address = "127.0.0.1:1"
	assert.Equal(t, tenant.NopCache{}, NewSchoolCache(conf, logger))
	assert.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}

func TestSchoolCache(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	_, found, err := cache.GetSchool(ctx, "green-hill")
	require.NoError(t, err)
	assert.False(t, found)

	s := tenant.School{
		ID:        "s-1",
		Name:      "Green Hill",
		Slug:      "green-hill",
		DBName:    "masomo_school_green_hill",
		Status:    tenant.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, cache.SetSchool(ctx, s))

	got, found, err := cache.GetSchool(ctx, "green-hill")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, s, got)

	ttl, err := cache.rdb.TTL(ctx, schoolKey("green-hill")).Result()
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl = %v", ttl)

	require.NoError(t, cache.DeleteSchool(ctx, "green-hill"))
	_, found, err = cache.GetSchool(ctx, "green-hill")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.DeleteSchool(ctx, "nowhere"))
}
