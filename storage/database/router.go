package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

var (
	// openSchoolFunc opens & pings the database of a school.
	openSchoolFunc = func(ctx context.Context, conf *core.Config, dbName string) (core.DB, error) { // mockable
		db, err := OpenSchool(conf, dbName)
		if err != nil {
			return nil, err
		}
		if err := ping(ctx, db, schoolPingAttempts); err != nil {
			_ = db.Close()
			return nil, err
		}
		return db, nil
	}

	// schoolOpenTimeout bounds a shared open, whatever the callers waiting on it.
	schoolOpenTimeout = 10 * time.Second
	// retireDelay is how long an evicted connection stays open for the requests still holding it.
	retireDelay = 30 * time.Second

	ErrRouterClosed = errors.New("database router is closed")
)

// Router hands out database connections: the shared platform connection,
// and one lazily opened connection per school, kept in a bounded LRU cache.
// Evicted connections are retired, then closed once retireDelay has passed.
type Router struct {
	conf     *core.Config
	platform core.DB
	logger   core.Logger

	mu      sync.Mutex // guards adds, evictions, retired & closed
	conns   *lru.Cache // dbName -> core.DB
	retired map[string][]*retiredConn
	opens   singleflight.Group
	closed  bool
}

type retiredConn struct {
	db    core.DB
	timer *time.Timer
}

var _ tenant.Router = (*Router)(nil)

func NewRouter(conf *core.Config, platform core.DB, logger core.Logger) (*Router, error) {
	size := conf.Tenant.MaxOpenSchools
	if size <= 0 {
		size = 1
	}
	conns, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection cache")
	}
	return &Router{
		conf:     conf,
		platform: platform,
		logger:   logger,
		conns:    conns,
		retired:  make(map[string][]*retiredConn),
	}, nil
}

// Platform returns the platform database connection.
func (r *Router) Platform() core.DB {
	return r.platform
}

// School returns the connection to the database dbName, opening it on first use.
// Concurrent first calls for the same database share a single open, which outlives
// the cancellation of any one of them; each caller stops waiting when its own ctx is done.
func (r *Router) School(ctx context.Context, dbName string) (core.DB, error) {
	if db, ok := r.conns.Get(dbName); ok {
		return db.(core.DB), nil
	}

	ch := r.opens.DoChan(dbName, func() (interface{}, error) {
		if db, ok := r.conns.Get(dbName); ok {
			return db, nil
		}
		octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), schoolOpenTimeout)
		defer cancel()

		db, err := openSchoolFunc(octx, r.conf, dbName)
		if err != nil {
			return nil, errors.Wrapf(err, "opening school database %q", dbName)
		}
		if err := r.add(dbName, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		r.logger.Debug(fmt.Sprintf("school database %q connected", dbName))
		return db, nil
	})

	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(), "waiting for school database %q", dbName)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(core.DB), nil
	}
}

// add caches db, retiring the least recently used connection when the cache is full.
func (r *Router) add(dbName string, db core.DB) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrRouterClosed
	}
	if r.conns.Len() >= r.conf.Tenant.MaxOpenSchools && r.conns.Len() > 0 {
		if name, old, ok := r.conns.RemoveOldest(); ok {
			r.retire(name.(string), old.(core.DB))
		}
	}
	r.conns.Add(dbName, db)
	return nil
}

// retire schedules the close of db. r.mu must be held.
func (r *Router) retire(dbName string, db core.DB) {
	rc := &retiredConn{db: db}
	rc.timer = time.AfterFunc(retireDelay, func() {
		r.mu.Lock()
		found := r.unretire(dbName, rc)
		r.mu.Unlock()
		if found {
			r.close(dbName, db)
		}
	})
	r.retired[dbName] = append(r.retired[dbName], rc)
	r.logger.Debug(fmt.Sprintf("school database %q retired", dbName))
}

// unretire forgets rc, reporting whether it was still pending. r.mu must be held.
func (r *Router) unretire(dbName string, rc *retiredConn) bool {
	conns := r.retired[dbName]
	for i, c := range conns {
		if c != rc {
			continue
		}
		conns = append(conns[:i], conns[i+1:]...)
		if len(conns) == 0 {
			delete(r.retired, dbName)
		} else {
			r.retired[dbName] = conns
		}
		return true
	}
	return false
}

func (r *Router) close(dbName string, db core.DB) {
	if err := db.Close(); err != nil {
		r.logger.Warn(fmt.Sprintf("closing school database %q", dbName), err)
		return
	}
	r.logger.Debug(fmt.Sprintf("school database %q disconnected", dbName))
}

// Evict forgets the connection to dbName, if any: the next School call opens a new one.
// The evicted connection is closed once retireDelay has passed.
func (r *Router) Evict(dbName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.conns.Peek(dbName)
	if !ok {
		return nil
	}
	r.conns.Remove(dbName)
	r.retire(dbName, v.(core.DB))
	return nil
}

// Disconnect closes every connection to dbName right away, retired ones included.
func (r *Router) Disconnect(dbName string) error {
	r.mu.Lock()
	var conns []core.DB
	if v, ok := r.conns.Peek(dbName); ok {
		r.conns.Remove(dbName)
		conns = append(conns, v.(core.DB))
	}
	for _, rc := range r.retired[dbName] {
		rc.timer.Stop()
		conns = append(conns, rc.db)
	}
	delete(r.retired, dbName)
	r.mu.Unlock()

	var err error
	for _, db := range conns {
		err = multierr.Append(err, db.Close())
	}
	return errors.Wrapf(err, "closing school database %q", dbName)
}

// Len returns the number of cached school connections, retired ones excluded.
func (r *Router) Len() int {
	return r.conns.Len()
}

// Close closes every school connection, then the platform connection.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	for _, k := range r.conns.Keys() {
		if v, ok := r.conns.Peek(k); ok {
			r.close(k.(string), v.(core.DB))
		}
	}
	r.conns.Purge()
	for dbName, conns := range r.retired {
		for _, rc := range conns {
			rc.timer.Stop()
			r.close(dbName, rc.db)
		}
	}
	r.retired = make(map[string][]*retiredConn)

	if r.platform == nil {
		return nil
	}
	return errors.Wrap(r.platform.Close(), "closing platform database")
}
