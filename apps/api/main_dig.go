package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // register the /debug/pprof handlers

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	dig_container "github.com/trezcool/masomo-cloud/apps/api/di/dig"
	echoapi "github.com/trezcool/masomo-cloud/apps/api/echo"
	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/user"
	appfs "github.com/trezcool/masomo-cloud/fs"
	logsvc "github.com/trezcool/masomo-cloud/services/logger"
	"github.com/trezcool/masomo-cloud/storage/database"
)

func startWithDig() {
	c := dig_container.New()

	must(c.Invoke(func(
		conf *core.Config,
		rootLogger *logsvc.RollbarLogger,
		apiLogger core.Logger,
		dbLoggerParam dig_container.DBLoggerParam,
		router *database.Router,
		validate *validator.Validate,
		translator ut.Translator,
		server echoapi.Server,
	) {
		defer rootLogger.Sync()

		// =========================================================================
		// Initialize App

		apiLogger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))

		core.InitValidators(validate, translator)
		user.InitValidators(validate, translator)

		core.ParseEmailTemplates(appfs.FS, conf, apiLogger)

		if err := user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsFile); err != nil {
			apiLogger.Error("loading common passwords", err)
		}

		dbLogger := dbLoggerParam.Logger
		defer func() {
			if err := router.Close(); err != nil {
				dbLogger.Error("Failed to close", err)
			}
		}()
		defer apiLogger.Info("Application stopped")

		// =========================================================================
		// Start Debug Service
		//
		// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
		// /debug/vars - Added to the default mux by importing the expvar package.

		// Expose important info under /debug/vars.
		expvar.NewString("build").Set(conf.Build)
		expvar.NewString("env").Set(conf.Env)
		expvar.Publish("open_schools", expvar.Func(func() interface{} { return router.Len() }))

		go func() {
			if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
				apiLogger.Error(fmt.Sprintf("debug server closed: %v", err), err)
			}
		}()

		// =========================================================================
		// Start API Service

		go func() {
			server.Start()
		}()

		// =========================================================================
		// Shutdown

		select {
		case err := <-server.Errors():
			apiLogger.Error(fmt.Sprintf("server error: %v", err), err)

		case sig := <-server.ShutdownSignal():
			apiLogger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

			// give outstanding requests a deadline for completion
			ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
			defer cancel()

			// asking listener to shut down and shed load
			if err := server.Shutdown(ctx); err != nil {
				apiLogger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

				if err = server.Close(); err != nil {
					apiLogger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
				}
			}
		}
	}))
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}
