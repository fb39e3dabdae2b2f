package database

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/proullon/ramsql/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/trezcool/masomo-cloud/core"
	logsvc "github.com/trezcool/masomo-cloud/services/logger"
)

// useRamSQL makes the router open in-memory ramsql databases & counts the opens.
func useRamSQL(t *testing.T) *int32 {
	t.Helper()
	var opens int32
	orig := openSchoolFunc
	openSchoolFunc = func(ctx context.Context, _ *core.Config, dbName string) (core.DB, error) {
		atomic.AddInt32(&opens, 1)
		db, err := sqlx.Open("ramsql", t.Name()+"/"+dbName)
		if err != nil {
			return nil, err
		}
		return db, db.PingContext(ctx)
	}
	t.Cleanup(func() { openSchoolFunc = orig })
	return &opens
}

func newTestRouter(t *testing.T, maxOpen int) *Router {
	t.Helper()
	conf := &core.Config{Tenant: core.TenantConfig{MaxOpenSchools: maxOpen}}
	logger, _ := logsvc.NewObservedLogger(zapcore.DebugLevel)
	r, err := NewRouter(conf, nil, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestRouter_School(t *testing.T) {
	opens := useRamSQL(t)
	r := newTestRouter(t, 4)
	ctx := context.Background()

	a1, err := r.School(ctx, "school_a")
	require.NoError(t, err)
	a2, err := r.School(ctx, "school_a")
	require.NoError(t, err)
	b, err := r.School(ctx, "school_b")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.NotSame(t, a1, b)
	assert.EqualValues(t, 2, atomic.LoadInt32(opens))
	assert.Equal(t, 2, r.Len())
}

func TestRouter_School_concurrentFirstUse(t *testing.T) {
	opens := useRamSQL(t)
	r := newTestRouter(t, 4)

	var wg sync.WaitGroup
	conns := make([]core.DB, 20)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			db, err := r.School(context.Background(), "school_a")
			assert.NoError(t, err)
			conns[i] = db
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(opens))
	for _, db := range conns[1:] {
		assert.Same(t, conns[0], db)
	}
}

func setRetireDelay(t *testing.T, d time.Duration) {
	t.Helper()
	orig := retireDelay
	retireDelay = d
	t.Cleanup(func() { retireDelay = orig })
}

func TestRouter_School_evictsLeastRecentlyUsed(t *testing.T) {
	setRetireDelay(t, 10*time.Millisecond)
	opens := useRamSQL(t)
	r := newTestRouter(t, 2)
	ctx := context.Background()

	a, err := r.School(ctx, "school_a")
	require.NoError(t, err)
	_, err = r.School(ctx, "school_b")
	require.NoError(t, err)
	_, err = r.School(ctx, "school_a") // b is now the least recently used
	require.NoError(t, err)
	_, err = r.School(ctx, "school_c")
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.NoError(t, a.PingContext(ctx))

	_, err = r.School(ctx, "school_b") // reopened, a is retired
	require.NoError(t, err)
	assert.EqualValues(t, 4, atomic.LoadInt32(opens))
	assert.Eventually(t, func() bool { return a.PingContext(ctx) != nil }, time.Second, 5*time.Millisecond,
		"a should have been closed")
}

func TestRouter_School_evictedConnectionStaysUsable(t *testing.T) {
	setRetireDelay(t, time.Hour)
	useRamSQL(t)
	r := newTestRouter(t, 1)
	ctx := context.Background()

	a, err := r.School(ctx, "school_a")
	require.NoError(t, err)
	_, err = r.School(ctx, "school_b")
	require.NoError(t, err)

	assert.Equal(t, 1, r.Len())
	assert.NoError(t, a.PingContext(ctx), "a request holding a must not lose it")

	require.NoError(t, r.Close())
	assert.Error(t, a.PingContext(ctx), "retired connections are closed with the router")
}

func TestRouter_School_openOutlivesCanceledCaller(t *testing.T) {
	var opens int32
	started, release := make(chan struct{}), make(chan struct{})
	orig := openSchoolFunc
	openSchoolFunc = func(ctx context.Context, _ *core.Config, dbName string) (core.DB, error) {
		atomic.AddInt32(&opens, 1)
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		db, err := sqlx.Open("ramsql", t.Name()+"/"+dbName)
		if err != nil {
			return nil, err
		}
		return db, db.PingContext(ctx)
	}
	t.Cleanup(func() { openSchoolFunc = orig })
	r := newTestRouter(t, 4)

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.School(ctx, "school_a")
		firstErr <- err
	}()
	<-started

	type result struct {
		db  core.DB
		err error
	}
	second := make(chan result, 1)
	go func() {
		db, err := r.School(context.Background(), "school_a")
		second <- result{db, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	res := <-second
	require.NoError(t, res.err)
	assert.NoError(t, res.db.PingContext(context.Background()))
	assert.EqualValues(t, 1, atomic.LoadInt32(&opens))
	assert.Equal(t, 1, r.Len())
}

func TestRouter_Evict(t *testing.T) {
	setRetireDelay(t, 10*time.Millisecond)
	opens := useRamSQL(t)
	r := newTestRouter(t, 4)
	ctx := context.Background()

	a, err := r.School(ctx, "school_a")
	require.NoError(t, err)
	require.NoError(t, r.Evict("school_a"))
	require.NoError(t, r.Evict("unknown"))

	assert.Equal(t, 0, r.Len())
	assert.NoError(t, a.PingContext(ctx))
	assert.Eventually(t, func() bool { return a.PingContext(ctx) != nil }, time.Second, 5*time.Millisecond)

	a2, err := r.School(ctx, "school_a")
	require.NoError(t, err)
	assert.NotSame(t, a, a2)
	assert.EqualValues(t, 2, atomic.LoadInt32(opens))
}

func TestRouter_Disconnect(t *testing.T) {
	setRetireDelay(t, time.Hour)
	useRamSQL(t)
	r := newTestRouter(t, 4)
	ctx := context.Background()

	a, err := r.School(ctx, "school_a")
	require.NoError(t, err)
	require.NoError(t, r.Evict("school_a"))
	a2, err := r.School(ctx, "school_a")
	require.NoError(t, err)
	b, err := r.School(ctx, "school_b")
	require.NoError(t, err)

	require.NoError(t, r.Disconnect("school_a"))
	require.NoError(t, r.Disconnect("unknown"))

	assert.Error(t, a.PingContext(ctx))
	assert.Error(t, a2.PingContext(ctx))
	assert.NoError(t, b.PingContext(ctx))
	assert.Equal(t, 1, r.Len())
}

func TestRouter_Close(t *testing.T) {
	useRamSQL(t)
	r := newTestRouter(t, 4)
	ctx := context.Background()

	a, err := r.School(ctx, "school_a")
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	assert.Error(t, a.PingContext(ctx))
	_, err = r.School(ctx, "school_b")
	assert.ErrorIs(t, err, ErrRouterClosed)
}
