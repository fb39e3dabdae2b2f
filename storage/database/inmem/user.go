package inmemdb

import (
	"context"
	"strings"
	"time"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) user.Repository {
	return &userRepository{db: db}
}

func copyUser(usr user.User) user.User {
	usr.Roles = copyStrings(usr.Roles)
	usr.PasswordHash = append([]byte(nil), usr.PasswordHash...)
	return usr
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, excl := range excludedUsers {
		if excl.ID == usr.ID {
			return true
		}
	}
	return false
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...user.User) error {
	var err error
	repo.db.read(ctx, func(s *schema) {
		err = checkUserUniqueness(s, username, email, excludedUsers...)
	})
	return err
}

func checkUserUniqueness(s *schema, username, email string, excludedUsers ...user.User) error {
	for _, usr := range s.users {
		if isExcluded(usr, excludedUsers) {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	err := repo.db.write(ctx, func(s *schema) error {
		if err := checkUserUniqueness(s, usr.Username, usr.Email); err != nil {
			return err
		}
		s.users[usr.ID] = copyUser(usr)
		return nil
	})
	if err != nil {
		return user.User{}, err
	}
	return usr, nil
}

func (repo *userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, orderings ...core.DBOrdering) ([]user.User, error) {
	users := make([]user.User, 0)
	repo.db.read(ctx, func(s *schema) {
		for _, usr := range s.users {
			if filter == nil || matchUser(usr, filter) {
				users = append(users, copyUser(usr))
			}
		}
	})
	sortBy(users, core.FilterOrderings(orderings, user.Orderings...), compareUsers,
		core.DBOrdering{Field: "created_at"}, core.DBOrdering{Field: "username", Ascending: true})
	return users, nil
}

func matchUser(usr user.User, filter *user.QueryFilter) bool {
	if filter.Search != "" &&
		!contains(usr.Name, filter.Search) && !contains(usr.Username, filter.Search) && !contains(usr.Email, filter.Search) {
		return false
	}
	if len(filter.Roles) > 0 {
		var found bool
		for _, prefix := range filter.Roles {
			for _, role := range usr.Roles {
				if strings.HasPrefix(role, prefix) {
					found = true
				}
			}
		}
		if !found {
			return false
		}
	}
	if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
		return false
	}
	if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func compareUsers(a, b user.User, field string) int {
	switch field {
	case "name":
		return compareStrings(a.Name, b.Name)
	case "username":
		return compareStrings(a.Username, b.Username)
	case "email":
		return compareStrings(a.Email, b.Email)
	case "created_at":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "last_login":
		return a.LastLogin.Compare(b.LastLogin)
	}
	return 0
}

func (repo *userRepository) getUser(ctx context.Context, match func(usr user.User) bool) (user.User, error) {
	var (
		found user.User
		ok    bool
	)
	repo.db.read(ctx, func(s *schema) {
		for _, usr := range s.users {
			if match(usr) {
				found, ok = copyUser(usr), true
				return
			}
		}
	})
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	return found, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	return repo.getUser(ctx, func(usr user.User) bool { return usr.ID == id })
}

func (repo *userRepository) GetUserByUsername(ctx context.Context, username string) (user.User, error) {
	return repo.getUser(ctx, func(usr user.User) bool { return usr.Username != "" && usr.Username == username })
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	return repo.getUser(ctx, func(usr user.User) bool { return usr.Email != "" && usr.Email == email })
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, username string) (user.User, error) {
	return repo.getUser(ctx, func(usr user.User) bool {
		return username != "" && (usr.Username == username || usr.Email == username)
	})
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	var updated user.User
	err := repo.db.write(ctx, func(s *schema) error {
		// only save set fields
		orig, ok := s.users[usr.ID]
		if !ok {
			return user.ErrNotFound
		}
		if err := checkUserUniqueness(s, usr.Username, usr.Email, orig); err != nil {
			return err
		}
		if usr.Roles != nil {
			orig.Roles = copyStrings(usr.Roles)
		}
		if usr.PasswordHash != nil {
			orig.PasswordHash = append([]byte(nil), usr.PasswordHash...)
		}
		if isActive != nil {
			orig.IsActive = *isActive
		}
		orig.Name = usr.Name
		orig.Username = usr.Username
		orig.Email = usr.Email
		orig.UpdatedAt = usr.UpdatedAt

		s.users[usr.ID] = orig
		updated = copyUser(orig)
		return nil
	})
	return updated, err
}

func (repo *userRepository) SetUserLastLogin(ctx context.Context, id string, at time.Time) error {
	return repo.db.write(ctx, func(s *schema) error {
		usr, ok := s.users[id]
		if !ok {
			return user.ErrNotFound
		}
		usr.LastLogin = at.UTC()
		s.users[id] = usr
		return nil
	})
}

func (repo *userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	return repo.db.write(ctx, func(s *schema) error {
		for _, id := range ids {
			delete(s.users, id)
		}
		return nil
	})
}
