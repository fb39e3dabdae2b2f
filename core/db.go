package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type (
	// DBExecutor is satisfied by both *sqlx.DB and *sqlx.Tx.
	DBExecutor interface {
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
		QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
		Rebind(query string) string
	}

	DB interface {
		DBExecutor

		BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
		PingContext(ctx context.Context) error
		Close() error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// FilterOrderings drops the orderings whose field is not in allowed.
// Ordering fields end up in raw SQL, so they must never come unchecked from a request.
func FilterOrderings(orderings []DBOrdering, allowed ...string) []DBOrdering {
	if len(orderings) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, f := range allowed {
		set[f] = struct{}{}
	}
	kept := make([]DBOrdering, 0, len(orderings))
	for _, ord := range orderings {
		if _, ok := set[ord.Field]; ok {
			kept = append(kept, ord)
		}
	}
	return kept
}

// RunInTx runs fn inside a transaction on db.
// The transaction is carried by the context passed to fn, so repositories pick it up (see ExecutorFromContext).
// When ctx already carries a transaction, fn joins it.
func RunInTx(ctx context.Context, db DB, fn func(ctx context.Context) error) (err error) {
	if _, ok := ExecutorFromContext(ctx).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	if ctxDB, ok := ExecutorFromContext(ctx).(DB); ok {
		db = ctxDB
	}
	if db == nil {
		// repositories without SQL (eg. in-memory) have nothing to commit
		return fn(ctx)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(ContextWithExecutor(ctx, tx))
}
