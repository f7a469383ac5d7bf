package main

import (
	"context"
	"fmt"

	"github.com/trezcool/shule/core/tenant"
)

func (cli *commandLine) addTenant(name, key string) error {
	ctx := context.Background()
	svc := tenant.NewService(cli.tenantRepo)

	nt := tenant.NewTenant{Name: name, RoutingKey: key}
	if err := nt.Validate(ctx, svc); err != nil {
		return err
	}

	tnt, err := svc.Create(ctx, nt)
	if err != nil {
		return err
	}

	fmt.Printf("tenant %q created; routing key: %s; id: %s\n", tnt.Name, tnt.RoutingKey, tnt.ID)
	return nil
}
