package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
	"github.com/trezcool/masomo-cloud/core/tenant"
	"github.com/trezcool/masomo-cloud/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	conf       *core.Config
	db         *sqlx.DB
	logger     core.Logger
	usrRepo    user.Repository
	tenantSvc  tenant.Service
	billingSvc billing.Service
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate platform|school SLUG|schools COMMAND [ARGS] - run a goose command on the platform, one school or every active school")
	fmt.Println("  adduser -name NAME -username USERNAME -email EMAIL [-school SLUG] [-admin] - add or update a user")
	fmt.Println("  resetpassword -username USERNAME|EMAIL [-school SLUG] - reset user's password")
	fmt.Println("  addschool -name NAME -slug SLUG -owner-name NAME -owner-email EMAIL [-plan CODE] - register a school")
	fmt.Println("  provision -school SLUG - create the database of a pending school & invite its owner")
	fmt.Println("  archive -school SLUG [-purge] - archive a school, dropping its database with -purge")
	fmt.Println("  seedplans -file PATH - create or update the subscription plans listed in a YAML file")
	fmt.Println("  expiresubscriptions - expire the subscriptions whose period ended & suspend their schools")
}

// promptPassword reads a password from the terminal, without echoing it.
func promptPassword(fs *flag.FlagSet) (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email. The password will be prompted next.")
	addUserSchool := addUserCmd.String("school", "", "The slug of the user's school. Platform user when empty.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Give the user the platform superadmin role, or the school owner role.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")
	resetPasswordSchool := resetPasswordCmd.String("school", "", "The slug of the user's school. Platform user when empty.")

	addSchoolCmd := flag.NewFlagSet("addschool", flag.ContinueOnError)
	addSchoolName := addSchoolCmd.String("name", "", "The school's name.")
	addSchoolSlug := addSchoolCmd.String("slug", "", "The school's slug, used in its URLs & database name.")
	addSchoolOwner := addSchoolCmd.String("owner-name", "", "The owner's full name.")
	addSchoolOwnerEmail := addSchoolCmd.String("owner-email", "", "The owner's email; the invitation is sent there.")
	addSchoolPlan := addSchoolCmd.String("plan", "", "The code of the plan to subscribe to. The school is provisioned right away when empty.")

	provisionCmd := flag.NewFlagSet("provision", flag.ContinueOnError)
	provisionSchool := provisionCmd.String("school", "", "The school's slug.")

	archiveCmd := flag.NewFlagSet("archive", flag.ContinueOnError)
	archiveSchool := archiveCmd.String("school", "", "The school's slug.")
	archivePurge := archiveCmd.Bool("purge", false, "Drop the school's database.")

	seedPlansCmd := flag.NewFlagSet("seedplans", flag.ContinueOnError)
	seedPlansFile := seedPlansCmd.String("file", "", "The YAML file listing the plans.")

	switch args[1] {
	case "migrate":
		return cli.migrate(ctx, args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addUserUname == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword(addUserCmd)
		if err != nil {
			return err
		}
		return cli.addUser(ctx, *addUserSchool, *addUserName, *addUserUname, *addUserEmail, pwd, *addUserAdmin)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword(resetPasswordCmd)
		if err != nil {
			return err
		}
		return cli.resetPassword(ctx, *resetPasswordSchool, *resetPasswordUname, pwd)

	case "addschool":
		if err := addSchoolCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *addSchoolSlug == "" || *addSchoolOwnerEmail == "" {
			addSchoolCmd.Usage()
			return errHelp
		}
		return cli.addSchool(ctx, tenant.NewSchool{
			Name:       *addSchoolName,
			Slug:       *addSchoolSlug,
			OwnerName:  *addSchoolOwner,
			OwnerEmail: *addSchoolOwnerEmail,
			PlanCode:   *addSchoolPlan,
		})

	case "provision":
		if err := provisionCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *provisionSchool == "" {
			provisionCmd.Usage()
			return errHelp
		}
		return cli.provision(ctx, *provisionSchool)

	case "archive":
		if err := archiveCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *archiveSchool == "" {
			archiveCmd.Usage()
			return errHelp
		}
		return cli.archive(ctx, *archiveSchool, *archivePurge)

	case "seedplans":
		if err := seedPlansCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *seedPlansFile == "" {
			seedPlansCmd.Usage()
			return errHelp
		}
		return cli.seedPlans(ctx, *seedPlansFile)

	case "expiresubscriptions":
		return cli.expireSubscriptions(ctx)

	default:
		cli.printUsage()
		return errHelp
	}
}
