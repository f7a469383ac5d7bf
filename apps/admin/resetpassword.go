package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/shule/core"
)

// resetPassword force-sets a user's password. An empty routing key targets
// the platform scope (operators).
func (cli *commandLine) resetPassword(routingKey, uname, pwd string) error {
	ctx := context.Background()

	var tenantID string
	if routingKey != "" {
		tnt, err := cli.tenantRepo.GetTenantByRoutingKey(ctx, core.CleanString(routingKey, true /* lower */))
		if err != nil {
			return err
		}
		tenantID = tnt.ID
	}

	usr, err := cli.usrRepo.GetUserByUsernameOrEmail(ctx, tenantID, core.CleanString(uname, true /* lower */))
	if err != nil {
		return err
	}
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	if _, err = cli.usrRepo.UpdateUser(ctx, usr, nil); err != nil {
		return err
	}

	fmt.Printf("password reset for %q\n", usr.Username)
	return nil
}
