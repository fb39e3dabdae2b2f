package logsvc

import (
	"fmt"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/user"
)

// RollbarLogger reports to Rollbar & writes structured logs with zap.
type RollbarLogger struct {
	zl *zap.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

// InitRollbar configures the rollbar client shared by every RollbarLogger.
// Reporting is only enabled outside debug mode, when a token is configured.
func InitRollbar(conf *core.Config) {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(!conf.Debug && !conf.TestMode && conf.RollbarToken != "")
}

// NewZapLogger returns the root zap logger: human readable in debug mode, JSON otherwise.
func NewZapLogger(conf *core.Config) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if conf.Debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.InitialFields = map[string]interface{}{"env": conf.Env, "build": conf.Build}
	return cfg.Build(zap.AddCallerSkip(2))
}

// NewRollbarLogger returns a logger named after the component using it (eg. "API", "DB").
func NewRollbarLogger(zl *zap.Logger, name string) *RollbarLogger {
	return &RollbarLogger{zl: zl.Named(name)}
}

// NewObservedLogger returns a logger recording its entries in memory, for tests.
// Rollbar reporting is disabled.
func NewObservedLogger(level zapcore.Level) (*RollbarLogger, *observer.ObservedLogs) {
	rollbar.SetEnabled(false)
	oCore, logs := observer.New(level)
	return &RollbarLogger{zl: zap.New(oCore)}, logs
}

// Sync flushes buffered entries & waits for pending rollbar reports.
func (l RollbarLogger) Sync() {
	_ = l.zl.Sync()
	rollbar.Wait()
}

// expected args: error, map[string]interface{}, user.User
func (l RollbarLogger) prepare(msg string, args []interface{}) ([]interface{}, []zap.Field) {
	var usrSet bool
	rbArgs := make([]interface{}, 0, len(args)+1)
	rbArgs = append(rbArgs, msg)
	fields := make([]zap.Field, 0, len(args))

	for i, arg := range args {
		switch a := arg.(type) {
		case user.User:
			// only set one User
			if !usrSet {
				rollbar.SetPerson(a.ID, a.Username, a.Email)
				fields = append(fields, zap.String("user_id", a.ID))
				usrSet = true
			}
			continue
		case error:
			fields = append(fields, zap.NamedError(fmt.Sprintf("error%s", suffix(i)), a))
		case map[string]interface{}:
			fields = append(fields, zap.Any(fmt.Sprintf("extras%s", suffix(i)), a))
		default:
			fields = append(fields, zap.Any(fmt.Sprintf("arg%d", i), a))
		}
		rbArgs = append(rbArgs, arg)
	}
	if !usrSet {
		rollbar.ClearPerson()
	}
	return rbArgs, fields
}

func suffix(i int) string {
	if i == 0 {
		return ""
	}
	return fmt.Sprintf("%d", i)
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Debug(rbArgs...)
	l.zl.Debug(msg, fields...)
}

func (l RollbarLogger) Info(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Info(rbArgs...)
	l.zl.Info(msg, fields...)
}

func (l RollbarLogger) Warn(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Warning(rbArgs...)
	l.zl.Warn(msg, fields...)
}

func (l RollbarLogger) Error(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Error(rbArgs...)
	l.zl.Error(msg, fields...)
}

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	rbArgs, fields := l.prepare(msg, args)
	rollbar.Critical(rbArgs...)
	rollbar.Wait()
	l.zl.Fatal(msg, fields...)
}
