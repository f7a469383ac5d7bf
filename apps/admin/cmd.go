package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/shule/core/tenant"
	"github.com/trezcool/shule/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	tenantRepo tenant.Repository
	usrRepo    user.Repository
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS] - run DB migrations (up, down, status, ...)")
	fmt.Println("  addtenant -name NAME -key ROUTING_KEY - onboard a new school")
	fmt.Println("  addoperator -username USERNAME -email EMAIL - add a platform operator; the password will be prompted")
	fmt.Println("  resetpassword -username USERNAME|EMAIL [-tenant ROUTING_KEY] - reset a user's password")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addTenantCmd := flag.NewFlagSet("addtenant", flag.ExitOnError)
	addTenantName := addTenantCmd.String("name", "", "The school's display name.")
	addTenantKey := addTenantCmd.String("key", "", "The school's routing key; lowercase letters, digits and hyphens.")

	addOperatorCmd := flag.NewFlagSet("addoperator", flag.ExitOnError)
	addOperatorUname := addOperatorCmd.String("username", "", "The operator's username.")
	addOperatorEmail := addOperatorCmd.String("email", "", "The operator's email.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")
	resetPasswordTenant := resetPasswordCmd.String("tenant", "", "The school's routing key; omit for platform operators.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "addtenant":
		if err := addTenantCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addTenantName == "" || *addTenantKey == "" {
			addTenantCmd.Usage()
			return errHelp
		}
		return cli.addTenant(*addTenantName, *addTenantKey)
	case "addoperator":
		if err := addOperatorCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addOperatorUname == "" || *addOperatorEmail == "" {
			addOperatorCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		return cli.addOperator(*addOperatorUname, *addOperatorEmail, pwd)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		return cli.resetPassword(*resetPasswordTenant, *resetPasswordUname, pwd)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errHelp
	}
	return string(pwd), nil
}
