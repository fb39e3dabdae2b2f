// Package sqlxrepos implements the repositories on PostgreSQL, with jmoiron/sqlx & Masterminds/squirrel.
package sqlxrepos

import (
	"context"
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
)

const pqUniqueViolation = "23505"

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	errNoDatabase = errors.New("no database connection in context")
)

// base runs statements on the executor carried by the context (a school database or a transaction),
// falling back to exec.
type base struct {
	exec core.DBExecutor
}

func (b base) getExec(ctx context.Context) (core.DBExecutor, error) {
	if exec := core.ExecutorFromContext(ctx); exec != nil {
		return exec, nil
	}
	if b.exec == nil {
		return nil, errNoDatabase
	}
	return b.exec, nil
}

func (b base) get(ctx context.Context, dest interface{}, q sq.Sqlizer) error {
	exec, err := b.getExec(ctx)
	if err != nil {
		return err
	}
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.GetContext(ctx, exec, dest, query, args...)
}

func (b base) selectAll(ctx context.Context, dest interface{}, q sq.Sqlizer) error {
	exec, err := b.getExec(ctx)
	if err != nil {
		return err
	}
	query, args, err := q.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}
	return sqlx.SelectContext(ctx, exec, dest, query, args...)
}

// run executes q & returns the number of affected rows.
func (b base) run(ctx context.Context, q sq.Sqlizer) (int64, error) {
	exec, err := b.getExec(ctx)
	if err != nil {
		return 0, err
	}
	query, args, err := q.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}
	res, err := exec.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// trapNoRowsErr maps psql "no rows" err to notFound
func trapNoRowsErr(err error, notFound error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return errors.Wrap(err, msg)
}

// uniqueViolation returns the constraint a unique violation error is about, "" for any other error.
func uniqueViolation(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint
	}
	return ""
}

// mustAffect returns notFound when no row was affected.
func mustAffect(n int64, err error, notFound error, msg string) error {
	if err != nil {
		return errors.Wrap(err, msg)
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func orderBy(q sq.SelectBuilder, orderings []core.DBOrdering, fallback string) sq.SelectBuilder {
	if len(orderings) == 0 {
		return q.OrderBy(fallback)
	}
	for _, ord := range orderings {
		q = q.OrderBy(ord.String())
	}
	return q
}

func ilike(search string, columns ...string) sq.Or {
	val := "%" + search + "%"
	or := make(sq.Or, 0, len(columns))
	for _, col := range columns {
		or = append(or, sq.ILike{col: val})
	}
	return or
}

func isUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
