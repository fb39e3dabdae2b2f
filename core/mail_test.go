package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/trezcool/masomo-cloud/core"
	appfs "github.com/trezcool/masomo-cloud/fs"
	logsvc "github.com/trezcool/masomo-cloud/services/logger"
)

func TestParseEmailTemplates(t *testing.T) {
	logger, logs := logsvc.NewObservedLogger(zapcore.DebugLevel)
	conf := &core.Config{AppName: "Masomo", FrontendBaseURL: "https://app.masomo.test", TestMode: true}
	core.ParseEmailTemplates(appfs.FS, conf, logger)
	require.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), "templates failed to parse: %v", logs.All())

	tests := []struct {
		name string
		data map[string]interface{}
		want string
	}{
		{
			name: "password_reset",
			data: map[string]interface{}{"Name": "Jane", "School": "", "UID": "dWlk", "Token": "tok-en"},
			want: "https://app.masomo.test/password-reset/dWlk/tok-en",
		},
		{
			name: "school_welcome",
			data: map[string]interface{}{
				"OwnerName": "Jane", "SchoolName": "Green Hill", "Slug": "green-hill",
				"Username": "jane@school.test", "UID": "dWlk", "Token": "tok-en",
			},
			want: "https://app.masomo.test/s/green-hill/password-reset/dWlk/tok-en",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &core.EmailMessage{TemplateName: tt.name, TemplateData: tt.data}
			require.NoError(t, msg.Render(conf))
			assert.Contains(t, msg.TextContent, tt.want)
			assert.Contains(t, msg.TextContent, "The Masomo team")
			assert.NotEmpty(t, msg.HTMLContent)
		})
	}
}

func TestEmailMessage_Render(t *testing.T) {
	logger, _ := logsvc.NewObservedLogger(zapcore.DebugLevel)
	conf := &core.Config{AppName: "Masomo", TestMode: true}
	core.ParseEmailTemplates(appfs.FS, conf, logger)

	t.Run("unknown template", func(t *testing.T) {
		msg := &core.EmailMessage{TemplateName: "no_such_template"}
		assert.EqualError(t, msg.Render(conf), `email template "no_such_template" not found`)
		assert.False(t, msg.HasContent())
	})

	t.Run("plain body", func(t *testing.T) {
		msg := &core.EmailMessage{BodyStr: "hello"}
		require.NoError(t, msg.Render(conf))
		assert.Equal(t, "hello", msg.TextContent)
		assert.Empty(t, msg.HTMLContent)
	})
}
