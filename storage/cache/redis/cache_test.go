package rediscache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trezcool/wastewise/core"
	"github.com/trezcool/wastewise/core/certification"
	logsvc "github.com/trezcool/wastewise/services/logger"
	inmemdb "github.com/trezcool/wastewise/storage/database/inmem"
)

// fakeClient is an in-process stand-in for redis.
type fakeClient struct {
	sync.Mutex
	data map[string]string
	ttls map[string]time.Duration
	down bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (c *fakeClient) Get(_ context.Context, key string) *goredis.StringCmd {
	c.Lock()
	defer c.Unlock()
	if c.down {
		return goredis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := c.data[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (c *fakeClient) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *goredis.StatusCmd {
	c.Lock()
	defer c.Unlock()
	if c.down {
		return goredis.NewStatusResult("", errors.New("connection refused"))
	}
	switch v := value.(type) {
	case []byte:
		c.data[key] = string(v)
	case string:
		c.data[key] = v
	}
	c.ttls[key] = expiration
	return goredis.NewStatusResult("OK", nil)
}

func (c *fakeClient) Incr(_ context.Context, key string) *goredis.IntCmd {
	c.Lock()
	defer c.Unlock()
	if c.down {
		return goredis.NewIntResult(0, errors.New("connection refused"))
	}
	n, _ := strconv.ParseInt(c.data[key], 10, 64)
	n++
	c.data[key] = strconv.FormatInt(n, 10)
	return goredis.NewIntResult(n, nil)
}

// countingRepo counts the reads reaching the wrapped repository.
type countingRepo struct {
	certification.TypeRepository
	queries, gets int
}

func (r *countingRepo) QueryTypes(ctx context.Context, f *certification.TypeFilter, o []core.DBOrdering) ([]certification.Type, error) {
	r.queries++
	return r.TypeRepository.QueryTypes(ctx, f, o)
}

func (r *countingRepo) GetType(ctx context.Context, id int) (certification.Type, error) {
	r.gets++
	return r.TypeRepository.GetType(ctx, id)
}

func setup(t *testing.T) (*TypeRepository, *countingRepo, *fakeClient) {
	t.Helper()
	backend := &countingRepo{TypeRepository: inmemdb.NewCertificationRepository(inmemdb.Open())}
	require.NoError(t, backend.UpsertTypes(context.Background(),
		certification.Type{ID: 1, Name: "ISO 14001", ValidityPeriod: 36, Industries: []string{"Manufacturing"}},
		certification.Type{ID: 2, Name: "TRUE Zero Waste", ValidityPeriod: 36, Industries: []string{"Retail"}},
	))
	client := newFakeClient()
	return NewTypeRepository(backend, client, time.Hour, logsvc.NewZapLogger(zap.NewNop())), backend, client
}

func TestTypeRepository_GetType(t *testing.T) {
	repo, backend, client := setup(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ct, err := repo.GetType(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "ISO 14001", ct.Name)
	}
	assert.Equal(t, 1, backend.gets)
	assert.Equal(t, time.Hour, client.ttls[keyPrefix+"0:id:1"])

	// misses are not cached
	for i := 0; i < 2; i++ {
		_, err := repo.GetType(ctx, 9)
		assert.Equal(t, certification.ErrTypeNotFound, err)
	}
	assert.Equal(t, 3, backend.gets)
}

func TestTypeRepository_QueryTypes(t *testing.T) {
	repo, backend, _ := setup(t)
	ctx := context.Background()
	retail := &certification.TypeFilter{Industry: "retail"}

	for i := 0; i < 2; i++ {
		types, err := repo.QueryTypes(ctx, retail, nil)
		require.NoError(t, err)
		require.Len(t, types, 1)
		assert.Equal(t, 2, types[0].ID)
	}
	assert.Equal(t, 1, backend.queries)

	// another filter is another entry
	types, err := repo.QueryTypes(ctx, nil, nil)
	require.NoError(t, err)
	assert.Len(t, types, 2)
	assert.Equal(t, 2, backend.queries)
}

func TestTypeRepository_UpsertInvalidates(t *testing.T) {
	repo, backend, _ := setup(t)
	ctx := context.Background()

	_, err := repo.GetType(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, repo.UpsertTypes(ctx, certification.Type{ID: 1, Name: "ISO 14001:2015", ValidityPeriod: 36, Industries: []string{"Manufacturing"}}))

	ct, err := repo.GetType(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ISO 14001:2015", ct.Name)
	assert.Equal(t, 2, backend.gets)
}

func TestTypeRepository_redisDown(t *testing.T) {
	repo, backend, client := setup(t)
	ctx := context.Background()
	client.down = true

	for i := 0; i < 2; i++ {
		ct, err := repo.GetType(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, "TRUE Zero Waste", ct.Name)
	}
	assert.Equal(t, 2, backend.gets)
	assert.NoError(t, repo.UpsertTypes(ctx, certification.Type{ID: 3, Name: "B Corp", Industries: []string{"Retail"}}))
}
