// Package cachesvc caches platform lookups in Redis.
package cachesvc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

const schoolKeyPrefix = "masomo:school:"

type (
	// cachedSchool keeps the fields tenant.School hides from JSON.
	cachedSchool struct {
		tenant.School
		DBName string `json:"db_name"`
	}

	SchoolCache struct {
		rdb *redis.Client
		ttl time.Duration
	}
)

var _ tenant.Cache = (*SchoolCache)(nil)

// NewSchoolCache connects to Redis. Caching is disabled (tenant.NopCache) when Redis is not configured or unreachable.
func NewSchoolCache(conf *core.Config, logger core.Logger) tenant.Cache {
	if conf.Redis.Address == "" {
		logger.Info("redis address not set, school caching disabled")
		return tenant.NopCache{}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("connecting to redis, school caching disabled", err)
		_ = rdb.Close()
		return tenant.NopCache{}
	}
	return NewSchoolCacheWithClient(rdb, conf.Redis.TTL)
}

func NewSchoolCacheWithClient(rdb *redis.Client, ttl time.Duration) *SchoolCache {
	return &SchoolCache{rdb: rdb, ttl: ttl}
}

func schoolKey(slug string) string { return schoolKeyPrefix + slug }

func (c *SchoolCache) GetSchool(ctx context.Context, slug string) (tenant.School, bool, error) {
	data, err := c.rdb.Get(ctx, schoolKey(slug)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return tenant.School{}, false, nil
		}
		return tenant.School{}, false, errors.Wrap(err, "redis GET")
	}

	var cs cachedSchool
	if err := json.Unmarshal(data, &cs); err != nil {
		return tenant.School{}, false, errors.Wrap(err, "unmarshalling cached school")
	}
	s := cs.School
	s.DBName = cs.DBName
	return s, true, nil
}

func (c *SchoolCache) SetSchool(ctx context.Context, s tenant.School) error {
	data, err := json.Marshal(cachedSchool{School: s, DBName: s.DBName})
	if err != nil {
		return errors.Wrap(err, "marshalling school")
	}
	return errors.Wrap(c.rdb.Set(ctx, schoolKey(s.Slug), data, c.ttl).Err(), "redis SET")
}

func (c *SchoolCache) DeleteSchool(ctx context.Context, slug string) error {
	return errors.Wrap(c.rdb.Del(ctx, schoolKey(slug)).Err(), "redis DEL")
}

func (c *SchoolCache) Close() error {
	return c.rdb.Close()
}
