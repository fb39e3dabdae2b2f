package database

import (
	"context"
	"fmt"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

var migrateSchoolFunc = MigrateSchool // mockable

// Provisioner creates, migrates & drops school databases, on the platform database connection.
type Provisioner struct {
	conf   *core.Config
	router *Router
	logger core.Logger
}

var _ tenant.Provisioner = (*Provisioner)(nil)

func NewProvisioner(conf *core.Config, router *Router, logger core.Logger) *Provisioner {
	return &Provisioner{conf: conf, router: router, logger: logger}
}

func (p *Provisioner) CreateSchoolDatabase(ctx context.Context, dbName string) error {
	created, err := createDB(ctx, p.router.Platform(), dbName)
	if err != nil {
		return err
	}
	if created {
		p.logger.Info(fmt.Sprintf("school database %q created", dbName))
	}
	return nil
}

// MigrateSchoolDatabase applies every pending migration, on a dedicated connection.
func (p *Provisioner) MigrateSchoolDatabase(ctx context.Context, dbName string) error {
	db, err := OpenSchool(p.conf, dbName)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := Ping(ctx, db); err != nil {
		return err
	}
	return migrateSchoolFunc(ctx, db, "up")
}

func (p *Provisioner) DropSchoolDatabase(ctx context.Context, dbName string) error {
	if err := p.router.Disconnect(dbName); err != nil {
		p.logger.Warn(fmt.Sprintf("disconnecting school database %q", dbName), err)
	}
	if _, err := p.router.Platform().ExecContext(ctx, "DROP DATABASE IF EXISTS "+pq.QuoteIdentifier(dbName)); err != nil {
		return errors.Wrapf(err, "dropping database %q", dbName)
	}
	return nil
}
