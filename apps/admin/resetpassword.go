package main

import (
	"context"
)

func (cli *commandLine) resetPassword(ctx context.Context, slug, uname, pwd string) error {
	ctx, err := cli.schoolContext(ctx, slug)
	if err != nil {
		return err
	}
	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}
	if _, err := cli.usrRepo.UpdateUser(ctx, usr, nil); err != nil {
		return err
	}
	return nil
}
