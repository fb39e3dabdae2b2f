package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/user"
)

// schoolContext scopes ctx to the active school identified by slug; "" is the platform.
func (cli *commandLine) schoolContext(ctx context.Context, slug string) (context.Context, error) {
	slug = core.CleanString(slug, true /* lower */)
	if slug == "" {
		return core.ContextWithSchool(ctx, ""), nil
	}
	s, db, err := cli.tenantSvc.Resolve(ctx, slug)
	if err != nil {
		return nil, err
	}
	return cli.tenantSvc.SchoolContext(ctx, s, db), nil
}

// findUser returns the user whose username or email is one of unames.
func (cli *commandLine) findUser(ctx context.Context, unames ...string) (user.User, error) {
	for _, uname := range unames {
		if uname == "" {
			continue
		}
		usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
		if errors.Cause(err) == user.ErrNotFound {
			continue
		}
		return usr, err
	}
	return user.User{}, user.ErrNotFound
}

// addUser updates or creates a user.User, of the platform or of the school identified by slug.
func (cli *commandLine) addUser(ctx context.Context, slug, name, uname, email, pwd string, isAdmin bool) error {
	ctx, err := cli.schoolContext(ctx, slug)
	if err != nil {
		return err
	}
	name = core.CleanString(name)
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.findUser(ctx, uname, email)
	found := err == nil
	if err != nil && errors.Cause(err) != user.ErrNotFound {
		return err
	}
	if !found {
		now := time.Now().UTC()
		usr = user.User{ID: uuid.NewString(), Username: uname, Email: email, CreatedAt: now}
	}
	if name != "" {
		usr.Name = name
	} else if usr.Name == "" {
		usr.Name = uname
	}
	if isAdmin {
		if core.SchoolFromContext(ctx) == "" {
			usr.Roles = user.PlatformRoles
		} else {
			usr.Roles = []string{user.RoleAdminOwner}
		}
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()

	active := true
	if found {
		_, err = cli.usrRepo.UpdateUser(ctx, usr, &active)
	} else {
		usr.IsActive = active
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	return err
}
