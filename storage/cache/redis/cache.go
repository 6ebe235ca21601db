// Package rediscache is a read-through redis cache in front of the certification type repository.
package rediscache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/trezcool/wastewise/core"
	"github.com/trezcool/wastewise/core/certification"
)

const keyPrefix = "wastewise:certification-types:"

// Client is the subset of the redis API the cache relies on.
type Client interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd
	Incr(ctx context.Context, key string) *goredis.IntCmd
}

// NewClient connects to redis and checks the connection.
func NewClient(conf *core.Config) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        conf.Redis.Addr,
		Password:    conf.Redis.Password,
		DB:          conf.Redis.DB,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return rdb, nil
}

// TypeRepository caches reads of the wrapped repository. Upserts bump a generation counter that is part
// of every key, which retires all cached entries at once. Redis failures fall back to the wrapped repository.
type TypeRepository struct {
	next   certification.TypeRepository
	client Client
	ttl    time.Duration
	logger core.Logger
}

var _ certification.TypeRepository = (*TypeRepository)(nil) // interface compliance check

func NewTypeRepository(next certification.TypeRepository, client Client, ttl time.Duration, logger core.Logger) *TypeRepository {
	return &TypeRepository{next: next, client: client, ttl: ttl, logger: logger}
}

func (repo *TypeRepository) generation(ctx context.Context) (string, bool) {
	gen, err := repo.client.Get(ctx, keyPrefix+"generation").Result()
	switch {
	case err == goredis.Nil:
		return "0", true
	case err != nil:
		repo.logger.Warn("reading cache generation", err)
		return "", false
	default:
		return gen, true
	}
}

// load fills dest from key; it reports false on a miss or when the cache is unusable.
func (repo *TypeRepository) load(ctx context.Context, key string, dest interface{}) bool {
	data, err := repo.client.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			repo.logger.Warn("reading cache", err, map[string]interface{}{"key": key})
		}
		return false
	}
	if err = json.Unmarshal(data, dest); err != nil {
		repo.logger.Warn("decoding cached value", err, map[string]interface{}{"key": key})
		return false
	}
	return true
}

func (repo *TypeRepository) store(ctx context.Context, key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		repo.logger.Warn("encoding cached value", err, map[string]interface{}{"key": key})
		return
	}
	if err = repo.client.Set(ctx, key, data, repo.ttl).Err(); err != nil {
		repo.logger.Warn("writing cache", err, map[string]interface{}{"key": key})
	}
}

func (repo *TypeRepository) QueryTypes(
	ctx context.Context,
	filter *certification.TypeFilter,
	ordering []core.DBOrdering,
) ([]certification.Type, error) {
	gen, ok := repo.generation(ctx)
	if !ok {
		return repo.next.QueryTypes(ctx, filter, ordering)
	}

	query, err := json.Marshal(struct {
		Filter   *certification.TypeFilter
		Ordering []core.DBOrdering
	}{filter, ordering})
	if err != nil {
		return nil, errors.Wrap(err, "encoding cache key")
	}
	key := keyPrefix + gen + ":list:" + string(query)

	var types []certification.Type
	if repo.load(ctx, key, &types) {
		return types, nil
	}

	types, err = repo.next.QueryTypes(ctx, filter, ordering)
	if err != nil {
		return nil, err
	}
	repo.store(ctx, key, types)
	return types, nil
}

func (repo *TypeRepository) GetType(ctx context.Context, id int) (certification.Type, error) {
	gen, ok := repo.generation(ctx)
	if !ok {
		return repo.next.GetType(ctx, id)
	}
	key := keyPrefix + gen + ":id:" + strconv.Itoa(id)

	var ct certification.Type
	if repo.load(ctx, key, &ct) {
		return ct, nil
	}

	ct, err := repo.next.GetType(ctx, id)
	if err != nil {
		return certification.Type{}, err
	}
	repo.store(ctx, key, ct)
	return ct, nil
}

func (repo *TypeRepository) UpsertTypes(ctx context.Context, types ...certification.Type) error {
	if err := repo.next.UpsertTypes(ctx, types...); err != nil {
		return err
	}
	if err := repo.client.Incr(ctx, keyPrefix+"generation").Err(); err != nil {
		// stale entries expire with the TTL
		repo.logger.Error("invalidating certification types cache", err)
	}
	return nil
}
