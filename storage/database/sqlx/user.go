package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/user"
)

const userTable = `"user"`

var userColumns = []string{
	"id", "name", "username", "email", "is_active", "roles", "password_hash", "created_at", "updated_at", "last_login",
}

type userRow struct {
	ID           string         `db:"id"`
	Name         string         `db:"name"`
	Username     null.String    `db:"username"`
	Email        null.String    `db:"email"`
	IsActive     bool           `db:"is_active"`
	Roles        pq.StringArray `db:"roles"`
	PasswordHash null.Bytes     `db:"password_hash"`
	CreatedAt    time.Time      `db:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at"`
	LastLogin    null.Time      `db:"last_login"`
}

func newUserRow(usr user.User) userRow {
	roles := usr.Roles
	if roles == nil {
		roles = []string{}
	}
	return userRow{
		ID:           usr.ID,
		Name:         usr.Name,
		Username:     null.NewString(usr.Username, usr.Username != ""),
		Email:        null.NewString(usr.Email, usr.Email != ""),
		IsActive:     usr.IsActive,
		Roles:        roles,
		PasswordHash: null.NewBytes(usr.PasswordHash, usr.PasswordHash != nil),
		CreatedAt:    usr.CreatedAt.UTC(),
		UpdatedAt:    usr.UpdatedAt.UTC(),
		LastLogin:    null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (r userRow) user() user.User {
	usr := user.User{
		ID:           r.ID,
		Name:         r.Name,
		Username:     r.Username.String,
		Email:        r.Email.String,
		IsActive:     r.IsActive,
		Roles:        r.Roles,
		PasswordHash: r.PasswordHash.Bytes,
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.LastLogin.Valid {
		usr.LastLogin = r.LastLogin.Time.UTC()
	}
	return usr
}

// userRepository serves both the platform users & the users of every school:
// the tables are identical, the context decides which database is used.
type userRepository struct {
	base
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

// NewUserRepository returns a user.Repository running on exec when the context carries no executor.
func NewUserRepository(exec core.DBExecutor) *userRepository {
	return &userRepository{base{exec: exec}}
}

func (repo userRepository) writeErr(err error, msg string) error {
	switch uniqueViolation(err) {
	case "user_username_key":
		return user.ErrUsernameExists
	case "user_email_key":
		return user.ErrEmailExists
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	match := sq.Or{}
	if username != "" {
		match = append(match, sq.Eq{"username": username})
	}
	if email != "" {
		match = append(match, sq.Eq{"email": email})
	}
	if len(match) == 0 {
		return nil
	}
	q := psql.Select("username", "email").From(userTable).Where(match).Limit(1)
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		q = q.Where(sq.NotEq{"id": ids})
	}

	var found struct {
		Username null.String `db:"username"`
		Email    null.String `db:"email"`
	}
	err := repo.get(ctx, &found, q)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		return nil
	default:
		return errors.Wrap(err, "checking user uniqueness")
	}
	if username != "" && found.Username.String == username {
		return user.ErrUsernameExists
	}
	return user.ErrEmailExists
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	row := newUserRow(usr)
	_, err := repo.run(ctx, psql.Insert(userTable).Columns(userColumns...).Values(
		row.ID, row.Name, row.Username, row.Email, row.IsActive, row.Roles, row.PasswordHash,
		row.CreatedAt, row.UpdatedAt, row.LastLogin,
	))
	if err != nil {
		return user.User{}, repo.writeErr(err, "inserting user")
	}
	return row.user(), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	q := psql.Select(userColumns...).From(userTable)

	if filter != nil {
		// users with Name, Username or Email matching the search keyword
		if filter.Search != "" {
			q = q.Where(ilike(filter.Search, "name", "username", "email"))
		}
		// users with any role that starts with any of the provided roles
		if len(filter.Roles) > 0 {
			roles := make(sq.Or, 0, len(filter.Roles))
			for _, role := range filter.Roles {
				roles = append(roles, sq.Expr("EXISTS (SELECT 1 FROM unnest(roles) AS user_role WHERE user_role LIKE ?)", role+"%"))
			}
			q = q.Where(roles)
		}
		if filter.IsActive != nil {
			q = q.Where(sq.Eq{"is_active": *filter.IsActive})
		}
		if !filter.CreatedFrom.IsZero() {
			q = q.Where(sq.GtOrEq{"created_at": filter.CreatedFrom.UTC()})
		}
		if !filter.CreatedTo.IsZero() {
			q = q.Where(sq.LtOrEq{"created_at": filter.CreatedTo.UTC()})
		}
	}
	q = orderBy(q, core.FilterOrderings(orderings, user.Orderings...), "created_at DESC")

	var rows []userRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.user())
	}
	return users, nil
}

func (repo userRepository) getUser(ctx context.Context, where sq.Sqlizer, msg string) (user.User, error) {
	var row userRow
	if err := repo.get(ctx, &row, psql.Select(userColumns...).From(userTable).Where(where).Limit(1)); err != nil {
		return user.User{}, trapNoRowsErr(err, user.ErrNotFound, msg)
	}
	return row.user(), nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if !isUUID(id) {
		return user.User{}, user.ErrNotFound
	}
	return repo.getUser(ctx, sq.Eq{"id": id}, "finding user by ID")
}

func (repo userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.getUser(ctx, sq.Eq{"username": username}, "finding user by username")
}

func (repo userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getUser(ctx, sq.Eq{"email": email}, "finding user by email")
}

func (repo userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return repo.getUser(ctx, sq.Or{sq.Eq{"username": username}, sq.Eq{"email": username}}, "finding user by username or email")
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	if isActive != nil {
		usr.IsActive = *isActive
	}
	row := newUserRow(usr)
	n, err := repo.run(ctx, psql.Update(userTable).SetMap(map[string]interface{}{
		"name":          row.Name,
		"username":      row.Username,
		"email":         row.Email,
		"is_active":     row.IsActive,
		"roles":         row.Roles,
		"password_hash": row.PasswordHash,
		"updated_at":    row.UpdatedAt,
	}).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		return user.User{}, repo.writeErr(err, "updating user")
	}
	if n == 0 {
		return user.User{}, user.ErrNotFound
	}
	return usr, nil
}

func (repo userRepository) SetUserLastLogin(ctx context.Context, id string, at time.Time) error {
	n, err := repo.run(ctx, psql.Update(userTable).Set("last_login", at.UTC()).Where(sq.Eq{"id": id}))
	return mustAffect(n, err, user.ErrNotFound, "setting last login")
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if isUUID(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return nil
	}
	_, err := repo.run(ctx, psql.Delete(userTable).Where(sq.Eq{"id": valid}))
	return errors.Wrap(err, "deleting users")
}
