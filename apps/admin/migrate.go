package main

import (
	"github.com/trezcool/shule/storage/database"
)

var gooseRunFunc = database.RunMigrationCommand // mockable

func (cli *commandLine) migrate(args []string) error {
	command := args[0]
	return gooseRunFunc(command, cli.db, args[1:]...)
}
