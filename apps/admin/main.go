// Command admin runs the operations of the platform: migrations, users, schools & billing.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
	"github.com/trezcool/masomo-cloud/core/tenant"
	"github.com/trezcool/masomo-cloud/core/user"
	appfs "github.com/trezcool/masomo-cloud/fs"
	emailsvc "github.com/trezcool/masomo-cloud/services/email"
	logsvc "github.com/trezcool/masomo-cloud/services/logger"
	"github.com/trezcool/masomo-cloud/storage/database"
	sqlxrepos "github.com/trezcool/masomo-cloud/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logsvc.InitRollbar(conf)
	zl, err := logsvc.NewZapLogger(conf)
	if err != nil {
		log.Fatal(err)
	}
	logger := logsvc.NewRollbarLogger(zl, "ADMIN")

	code := run(conf, logger)
	logger.Sync()
	os.Exit(code)
}

func run(conf *core.Config, logger *logsvc.RollbarLogger) int {
	ctx := context.Background()

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Error("opening database", err)
		return 1
	}
	if err := database.Ping(ctx, db); err != nil {
		logger.Error("connecting to database", err)
		return 1
	}
	router, err := database.NewRouter(conf, db, logger)
	if err != nil {
		logger.Error("creating database router", err)
		return 1
	}
	defer func() { _ = router.Close() }()

	// set up services
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	core.ParseEmailTemplates(appfs.FS, conf, logger)

	usrRepo := sqlxrepos.NewUserRepository(db)
	usrSvc := user.NewService(conf, usrRepo, emailsvc.NewService(conf, logger))
	tenantSvc := tenant.NewService(
		conf, sqlxrepos.NewSchoolRepository(db), nil, router, database.NewProvisioner(conf, router, logger),
		usrSvc, validate, logger,
	)

	// start CLI
	cli := commandLine{
		conf:       conf,
		db:         db,
		logger:     logger,
		usrRepo:    usrRepo,
		tenantSvc:  tenantSvc,
		billingSvc: billing.NewService(db, sqlxrepos.NewBillingRepository(db), validate),
	}
	if err := cli.run(os.Args); err != nil {
		if err != errHelp {
			fmt.Printf("\nerror: %s\n", err)
		}
		return 1
	}
	return 0
}
