// Package testutil holds the fixtures shared by the tests of several packages.
package testutil

import (
	"context"
	"testing"
	"time"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/user"
	appfs "github.com/trezcool/masomo-cloud/fs"
	logsvc "github.com/trezcool/masomo-cloud/services/logger"
)

// NewConfig returns the configuration of the TEST environment.
func NewConfig(t *testing.T) *core.Config {
	t.Helper()
	t.Setenv("ENV", "TEST")
	t.Setenv("TEST_PAYSTACK_SECRET_KEY", "sk_test_secret")
	conf := core.NewConfig()
	conf.SetDefaultFromEmail("Masomo <noreply@masomo.test>")
	return conf
}

// NewValidator returns a validator with the custom validations & translations registered.
func NewValidator() *validator.Validate {
	validate, _ := NewValidatorAndTranslator()
	return validate
}

// NewValidatorAndTranslator also returns the translator the validation messages are registered on.
func NewValidatorAndTranslator() (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	_ = user.LoadCommonPasswords(appfs.FS, appfs.CommonPasswordsFile)
	return validate, translator
}

// NewLogger returns a logger recording its entries at the debug level & above.
func NewLogger(conf *core.Config) (core.Logger, *observer.ObservedLogs) {
	logger, logs := logsvc.NewObservedLogger(zapcore.DebugLevel)
	core.ParseEmailTemplates(appfs.FS, conf, logger)
	return logger, logs
}

func CreateUser(
	t *testing.T,
	ctx context.Context,
	repo user.Repository,
	name, uname, email, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()
	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	usr := user.User{
		ID:        uuid.NewString(),
		Name:      name,
		Username:  uname,
		Email:     email,
		Roles:     roles,
		IsActive:  isActive,
		CreatedAt: tstamp,
		UpdatedAt: tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("createUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(ctx, usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}
