package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"github.com/trezcool/masomo-cloud/core"
	appfs "github.com/trezcool/masomo-cloud/fs"
)

const (
	pingAttempts       = 30
	schoolPingAttempts = 3 // school databases live on an already reachable server
)

var (
	gooseRunFunc = goose.RunContext // mockable
	pingDelay    = 100 * time.Millisecond

	gooseOnce sync.Once
	gooseErr  error
)

func dsn(conf *core.Config, dbName string, admin bool) string {
	user := url.UserPassword(conf.Database.User, conf.Database.Password)
	if admin && conf.Database.AdminUser != "" {
		user = url.UserPassword(conf.Database.AdminUser, conf.Database.AdminPassword)
	}

	sslMode := "require"
	if conf.Database.DisableTLS {
		sslMode = "disable"
	}
	q := make(url.Values)
	q.Set("sslmode", sslMode)
	q.Set("timezone", "utc")

	u := url.URL{
		Scheme:   conf.Database.Engine,
		User:     user,
		Host:     conf.Database.Address(),
		Path:     dbName,
		RawQuery: q.Encode(),
	}
	return u.String()
}

func open(conf *core.Config, dbName string, admin bool) (*sqlx.DB, error) {
	return sqlx.Open(conf.Database.Engine, dsn(conf, dbName, admin))
}

// Open opens the platform database.
func Open(conf *core.Config) (*sqlx.DB, error) {
	db, err := open(conf, conf.Database.Name, false)
	if err != nil {
		return nil, errors.Wrap(err, "opening platform database")
	}
	db.SetMaxOpenConns(conf.Database.MaxOpenConns)
	db.SetMaxIdleConns(conf.Database.MaxIdleConns)
	return db, nil
}

// OpenSchool opens the database of a school. School pools are kept small: there may be many of them.
func OpenSchool(conf *core.Config, dbName string) (*sqlx.DB, error) {
	db, err := open(conf, dbName, false)
	if err != nil {
		return nil, errors.Wrapf(err, "opening school database %q", dbName)
	}
	db.SetMaxOpenConns(conf.Tenant.MaxOpenConns)
	db.SetMaxIdleConns(conf.Tenant.MaxIdleConns)
	return db, nil
}

// Ping waits for the database to be ready. Waits 100ms longer between each attempt.
func Ping(ctx context.Context, db core.DB) error {
	return ping(ctx, db, pingAttempts)
}

func ping(ctx context.Context, db core.DB, attempts uint) error {
	err := retry.Do(
		func() error { return db.PingContext(ctx) },
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(pingDelay),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return time.Duration(n+1) * pingDelay
		}),
		retry.LastErrorOnly(true),
	)
	return errors.Wrap(err, "DB ping timeout")
}

func exists(ctx context.Context, db core.DBExecutor, query, name string) (bool, error) {
	var found bool
	err := db.QueryRowxContext(ctx, query, name).Scan(&found)
	switch {
	case err == nil:
		return found, nil
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	default:
		return false, err
	}
}

func createAppUser(ctx context.Context, db core.DBExecutor, conf *core.Config) error {
	if conf.Database.User == "" {
		return nil
	}
	found, err := exists(ctx, db, "SELECT true FROM pg_roles WHERE rolname = $1", conf.Database.User)
	if err != nil {
		return errors.Wrap(err, "checking app user")
	}
	if found {
		return nil
	}
	q := fmt.Sprintf(
		"CREATE USER %s CREATEDB ENCRYPTED PASSWORD %s",
		pq.QuoteIdentifier(conf.Database.User),
		pq.QuoteLiteral(conf.Database.Password),
	)
	_, err = db.ExecContext(ctx, q)
	return errors.Wrap(err, "creating app user")
}

// createDB creates the database dbName, owned by the connected user, unless it exists.
func createDB(ctx context.Context, db core.DBExecutor, dbName string) (bool, error) {
	found, err := exists(ctx, db, "SELECT true FROM pg_database WHERE datname = $1", dbName)
	if err != nil {
		return false, errors.Wrap(err, "checking database")
	}
	if found {
		return false, nil
	}
	if _, err = db.ExecContext(ctx, "CREATE DATABASE "+pq.QuoteIdentifier(dbName)); err != nil {
		return false, errors.Wrap(err, "creating database")
	}
	return true, nil
}

// CreateIfNotExist creates the app user & the platform database.
func CreateIfNotExist(ctx context.Context, conf *core.Config) error {
	// connect as admin
	adminDB, err := open(conf, "postgres", true)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = adminDB.Close() }()
	if err = Ping(ctx, adminDB); err != nil {
		return errors.Wrap(err, "pinging database")
	}
	if err = createAppUser(ctx, adminDB, conf); err != nil {
		return err
	}

	// create DB as app user
	db, err := open(conf, "postgres", false)
	if err != nil {
		return errors.Wrap(err, "opening database")
	}
	defer func() { _ = db.Close() }()
	_, err = createDB(ctx, db, conf.Database.Name)
	return err
}

func initGoose() error {
	gooseOnce.Do(func() {
		goose.SetBaseFS(appfs.FS)
		gooseErr = goose.SetDialect("postgres")
	})
	return gooseErr
}

func runGoose(ctx context.Context, db *sqlx.DB, dir, command string, args ...string) error {
	if err := initGoose(); err != nil {
		return errors.Wrap(err, "initializing goose")
	}
	if err := gooseRunFunc(ctx, command, db.DB, dir, args...); err != nil {
		return errors.Wrapf(err, "goose %s", command)
	}
	return nil
}

// Migrate runs a goose command (up, down, status, version, ...) against the platform database.
func Migrate(ctx context.Context, db *sqlx.DB, command string, args ...string) error {
	return runGoose(ctx, db, appfs.PlatformMigrationsDir, command, args...)
}

// MigrateSchool runs a goose command against a school database.
func MigrateSchool(ctx context.Context, db *sqlx.DB, command string, args ...string) error {
	return runGoose(ctx, db, appfs.SchoolMigrationsDir, command, args...)
}
