package dig_container

import (
	"context"
	"fmt"
	"log"
	"os"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"go.uber.org/dig"

	echoapi "github.com/trezcool/masomo-cloud/apps/api/echo"
	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
	"github.com/trezcool/masomo-cloud/core/school"
	"github.com/trezcool/masomo-cloud/core/tenant"
	"github.com/trezcool/masomo-cloud/core/timetable"
	"github.com/trezcool/masomo-cloud/core/user"
	cachesvc "github.com/trezcool/masomo-cloud/services/cache"
	emailsvc "github.com/trezcool/masomo-cloud/services/email"
	logsvc "github.com/trezcool/masomo-cloud/services/logger"
	"github.com/trezcool/masomo-cloud/storage/database"
	sqlxrepos "github.com/trezcool/masomo-cloud/storage/database/sqlx"
)

type DBLoggerParam struct {
	dig.In
	Logger core.Logger `name:"dbLogger"`
}

type (
	// Loggers are the named rollbar loggers; Root is synced on shutdown.
	Loggers struct {
		dig.Out
		Root *logsvc.RollbarLogger
		API  core.Logger
		DB   core.Logger `name:"dbLogger"`
	}

	// Databases are the platform database & the router to the school databases.
	Databases struct {
		dig.Out
		Platform    *sqlx.DB
		Router      *database.Router
		TenantRoute tenant.Router
		Provisioner tenant.Provisioner
	}

	// Services are the domain services used by the API.
	Services struct {
		dig.Out
		User      user.Service
		Tenant    tenant.Service
		Billing   billing.Service
		Roster    school.Service
		Timetable timetable.Service
		Webhook   *billing.WebhookHandler
	}

	serviceDeps struct {
		dig.In
		Conf        *core.Config
		Logger      core.Logger
		Platform    *sqlx.DB
		Router      tenant.Router
		Provisioner tenant.Provisioner
		Cache       tenant.Cache
		Mail        core.EmailService
		Validate    *validator.Validate
	}
)

func newLoggers(conf *core.Config) (Loggers, error) {
	logsvc.InitRollbar(conf)
	zl, err := logsvc.NewZapLogger(conf)
	if err != nil {
		return Loggers{}, errors.Wrap(err, "creating zap logger")
	}
	apiLogger := logsvc.NewRollbarLogger(zl, "API")
	return Loggers{
		Root: apiLogger,
		API:  apiLogger,
		DB:   logsvc.NewRollbarLogger(zl, "DB"),
	}, nil
}

func newDatabases(conf *core.Config, loggerParam DBLoggerParam) Databases {
	logger := loggerParam.Logger
	setUp := func() (*sqlx.DB, error) {
		ctx := context.Background()
		if err := database.CreateIfNotExist(ctx, conf); err != nil {
			return nil, err
		}

		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Ping(ctx, db); err != nil {
			return nil, err
		}

		if err = database.Migrate(ctx, db, "up"); err != nil {
			return nil, err
		}
		return db, nil
	}

	db, err := setUp()
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	router, err := database.NewRouter(conf, db, logger)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database router: %v", err), err)
	}
	return Databases{
		Platform:    db,
		Router:      router,
		TenantRoute: router,
		Provisioner: database.NewProvisioner(conf, router, logger),
	}
}

func newValidation() (*validator.Validate, ut.Translator) {
	return validator.New(), core.NewTranslator()
}

func newServices(deps serviceDeps) Services {
	usrSvc := user.NewService(deps.Conf, sqlxrepos.NewUserRepository(deps.Platform), deps.Mail)
	tenantSvc := tenant.NewService(
		deps.Conf, sqlxrepos.NewSchoolRepository(deps.Platform), deps.Cache, deps.Router, deps.Provisioner,
		usrSvc, deps.Validate, deps.Logger,
	)
	billingSvc := billing.NewService(deps.Platform, sqlxrepos.NewBillingRepository(deps.Platform), deps.Validate)
	rosterSvc := school.NewService(sqlxrepos.NewRosterRepository(), deps.Validate)
	return Services{
		User:      usrSvc,
		Tenant:    tenantSvc,
		Billing:   billingSvc,
		Roster:    rosterSvc,
		Timetable: timetable.NewService(sqlxrepos.NewTimetableRepository(), rosterSvc, deps.Validate),
		Webhook:   billing.NewWebhookHandler(billingSvc, tenantSvc, deps.Logger),
	}
}

type serverDeps struct {
	dig.In
	Conf       *core.Config
	Logger     core.Logger
	Validate   *validator.Validate
	Translator ut.Translator

	UserSvc      user.Service
	TenantSvc    tenant.Service
	BillingSvc   billing.Service
	SchoolSvc    school.Service
	TimetableSvc timetable.Service
	Webhook      *billing.WebhookHandler
}

func newServer(deps serverDeps) echoapi.Server {
	return echoapi.NewServer(&echoapi.Options{
		Address:      deps.Conf.Server.Address,
		Conf:         deps.Conf,
		Logger:       deps.Logger,
		Validate:     deps.Validate,
		Translator:   deps.Translator,
		UserSvc:      deps.UserSvc,
		TenantSvc:    deps.TenantSvc,
		BillingSvc:   deps.BillingSvc,
		SchoolSvc:    deps.SchoolSvc,
		TimetableSvc: deps.TimetableSvc,
		Webhook:      deps.Webhook,
	})
}

// New returns a new dependency injection dig.Container
func New() *dig.Container {
	c := dig.New()

	must(c.Provide(core.NewConfig))
	must(c.Provide(newLoggers))
	must(c.Provide(newDatabases))
	must(c.Provide(cachesvc.NewSchoolCache))
	must(c.Provide(emailsvc.NewService))
	must(c.Provide(newValidation))
	must(c.Provide(newServices))
	must(c.Provide(newServer))

	if os.Getenv("DIG_VISUALIZE") != "" {
		_ = dig.Visualize(c, os.Stdout)
	}

	return c
}

// must exits program if err happened
func must(err error) {
	if err != nil {
		log.Fatal(errors.Wrap(err, "failed to provide dependency").Error())
	}
}
