package main

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
	"github.com/trezcool/masomo-cloud/storage/database"
)

// maxConcurrentMigrations bounds the school databases migrated at once by `migrate schools`.
const maxConcurrentMigrations = 4

var (
	migratePlatformFunc = database.Migrate // mockable
	migrateSchoolFunc   = migrateSchool    // mockable
)

func migrateSchool(ctx context.Context, conf *core.Config, dbName, command string, args ...string) error {
	db, err := database.OpenSchool(conf, dbName)
	if err != nil {
		return err
	}
	defer func(db *sqlx.DB) { _ = db.Close() }(db)
	if err := database.Ping(ctx, db); err != nil {
		return err
	}
	return database.MigrateSchool(ctx, db, command, args...)
}

func (cli *commandLine) migrate(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[0] {
	case "platform":
		return migratePlatformFunc(ctx, cli.db, args[1], args[2:]...)

	case "school":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		s, err := cli.tenantSvc.GetBySlug(ctx, args[1])
		if err != nil {
			return err
		}
		return migrateSchoolFunc(ctx, cli.conf, s.DBName, args[2], args[3:]...)

	case "schools":
		schools, err := cli.migratableSchools(ctx)
		if err != nil {
			return err
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrentMigrations)
		for _, s := range schools {
			s := s
			g.Go(func() error {
				if err := migrateSchoolFunc(gctx, cli.conf, s.DBName, args[1], args[2:]...); err != nil {
					return errors.Wrapf(err, "migrating school %q", s.Slug)
				}
				cli.logger.Info(fmt.Sprintf("school %q migrated", s.Slug))
				return nil
			})
		}
		return g.Wait()

	default:
		cli.printUsage()
		return errHelp
	}
}

// migratableSchools returns the schools whose database exists & is kept: active & suspended ones.
func (cli *commandLine) migratableSchools(ctx context.Context) ([]tenant.School, error) {
	var schools []tenant.School
	for _, status := range []string{tenant.StatusActive, tenant.StatusSuspended} {
		found, err := cli.tenantSvc.Query(ctx, &tenant.QueryFilter{Status: status})
		if err != nil {
			return nil, errors.Wrapf(err, "querying %s schools", status)
		}
		schools = append(schools, found...)
	}
	return schools, nil
}
