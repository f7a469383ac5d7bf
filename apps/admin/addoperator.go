package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

// addOperator registers a platform operator. Operators belong to no tenant;
// their accounts live in the platform scope and can only be created here.
func (cli *commandLine) addOperator(uname, email, pwd string) error {
	ctx := context.Background()

	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	if err := cli.usrRepo.CheckUsernameUniqueness(ctx, "", uname, email); err != nil {
		return err
	}

	now := time.Now().UTC()
	usr := user.User{
		Name:      uname,
		Username:  uname,
		Email:     email,
		IsActive:  true,
		Roles:     []string{user.RoleOperator},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(pwd); err != nil {
		return err
	}

	usr, err := cli.usrRepo.CreateUser(ctx, usr)
	if err != nil {
		return err
	}

	fmt.Printf("operator %q created; id: %s\n", usr.Username, usr.ID)
	return nil
}
