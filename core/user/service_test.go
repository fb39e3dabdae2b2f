package user_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/user"
	emailsvc "github.com/trezcool/masomo-cloud/services/email"
	inmemdb "github.com/trezcool/masomo-cloud/storage/database/inmem"
	testutil "github.com/trezcool/masomo-cloud/tests"
)

func setup(t *testing.T) (context.Context, user.Repository, user.Service) {
	t.Helper()
	conf := testutil.NewConfig(t)
	logger, _ := testutil.NewLogger(conf)
	repo := inmemdb.NewUserRepository(inmemdb.Open())
	svc := user.NewServiceMock(conf, repo, emailsvc.NewConsoleServiceMock(conf, logger))
	emailsvc.ClearSentMessages()
	return core.ContextWithSchool(context.Background(), "green-hill"), repo, svc
}

func TestService_Create(t *testing.T) {
	ctx, _, svc := setup(t)

	usr, err := svc.Create(ctx, user.NewUser{
		Name: "Jane Doe", Username: "janedoe", Email: "jane@school.test", Password: "Pa$$w0rd!", Roles: []string{user.RoleTeacher},
	})
	require.NoError(t, err)
	assert.True(t, usr.IsActive)
	assert.NoError(t, usr.CheckPassword("Pa$$w0rd!"))

	tests := []struct {
		name      string
		uname     string
		email     string
		excl      []user.User
		wantField string
	}{
		{name: "username taken", uname: "janedoe", wantField: "username"},
		{name: "email taken", uname: "someone", email: "jane@school.test", wantField: "email"},
		{name: "excluded", uname: "janedoe", email: "jane@school.test", excl: []user.User{usr}},
		{name: "free", uname: "johndoe", email: "john@school.test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CheckUniqueness(ctx, tt.uname, tt.email, tt.excl...)
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var verr *core.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Fields[0].Field)
		})
	}

	t.Run("other schools do not see the user", func(t *testing.T) {
		_, err := svc.GetByUsername(core.ContextWithSchool(context.Background(), "other"), "janedoe")
		assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	})
}

func TestService_Update(t *testing.T) {
	ctx, repo, svc := setup(t)
	usr := testutil.CreateUser(t, ctx, repo, "Jane", "janedoe", "jane@school.test", "Pa$$w0rd!", []string{user.RoleTeacher}, true)

	updated, err := svc.Update(ctx, usr, user.UpdateUser{Name: "Jane D.", Username: "janedoe", Email: "jane@school.test"})
	require.NoError(t, err)
	assert.Equal(t, "Jane D.", updated.Name)
	assert.Equal(t, []string{user.RoleTeacher}, updated.Roles)
	assert.True(t, updated.IsActive)
	assert.NoError(t, updated.CheckPassword("Pa$$w0rd!"))

	updated, err = svc.Update(ctx, updated, user.UpdateUser{
		Name: "Jane D.", Username: "janedoe", Email: "jane@school.test", IsActive: core.BoolPtr(false), Password: "N3w-Pa$$word",
	})
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.NoError(t, updated.CheckPassword("N3w-Pa$$word"))

	updated, err = svc.SetLastLogin(ctx, updated)
	require.NoError(t, err)
	got, err := svc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.LastLogin, got.LastLogin)
}

func TestService_Query(t *testing.T) {
	ctx, repo, svc := setup(t)
	now := time.Now().UTC()
	jane := testutil.CreateUser(t, ctx, repo, "Jane", "janedoe", "jane@school.test", "", []string{user.RoleAdminPrincipal}, true, now.Add(-time.Hour))
	john := testutil.CreateUser(t, ctx, repo, "John", "johndoe", "john@school.test", "", []string{user.RoleTeacher}, false, now)
	kid := testutil.CreateUser(t, ctx, repo, "Amani", "amani01", "", "", []string{user.RoleStudent}, true, now.Add(-2*time.Hour))

	tests := []struct {
		name      string
		filter    *user.QueryFilter
		orderings []core.DBOrdering
		want      []user.User
	}{
		{name: "newest first", want: []user.User{john, jane, kid}},
		{name: "by name", orderings: []core.DBOrdering{{Field: "name", Ascending: true}}, want: []user.User{kid, jane, john}},
		{name: "by role prefix", filter: &user.QueryFilter{Roles: []string{user.RoleAdmin}}, want: []user.User{jane}},
		{name: "search", filter: &user.QueryFilter{Search: "DOE"}, want: []user.User{john, jane}},
		{name: "inactive", filter: &user.QueryFilter{IsActive: core.BoolPtr(false)}, want: []user.User{john}},
		{name: "created from", filter: &user.QueryFilter{CreatedFrom: now.Add(-90 * time.Minute)}, want: []user.User{john, jane}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users, err := svc.Query(ctx, tt.filter, tt.orderings...)
			require.NoError(t, err)
			ids := make([]string, 0, len(users))
			for _, u := range users {
				ids = append(ids, u.ID)
			}
			want := make([]string, 0, len(tt.want))
			for _, u := range tt.want {
				want = append(want, u.ID)
			}
			assert.Equal(t, want, ids)
		})
	}

	require.NoError(t, svc.Delete(ctx, jane.ID, kid.ID))
	users, err := svc.Query(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestService_PasswordReset(t *testing.T) {
	ctx, repo, svc := setup(t)
	usr := testutil.CreateUser(t, ctx, repo, "Jane", "janedoe", "jane@school.test", "Pa$$w0rd!", []string{user.RoleTeacher}, true)

	assert.Equal(t, user.ErrNotFound, errors.Cause(svc.RequestPasswordReset(ctx, "nobody@school.test")))
	require.NoError(t, svc.RequestPasswordReset(ctx, " JANE@school.test "))

	sent := emailsvc.SentMessages()
	require.Len(t, sent, 1)
	data := sent[0].TemplateData.(map[string]interface{})
	assert.Equal(t, "green-hill", data["School"])

	reset := user.ResetUserPassword{
		UID: data["UID"].(string), Token: data["Token"].(string), Password: "N3w-Pa$$word", PasswordConfirm: "N3w-Pa$$word",
	}
	t.Run("bad token", func(t *testing.T) {
		bad := reset
		bad.Token = "nope"
		var verr *core.ValidationError
		require.True(t, errors.As(svc.ResetPassword(ctx, bad), &verr))
		assert.Equal(t, "token", verr.Fields[0].Field)
	})

	require.NoError(t, svc.ResetPassword(ctx, reset))
	got, err := svc.GetByID(ctx, usr.ID)
	require.NoError(t, err)
	assert.NoError(t, got.CheckPassword("N3w-Pa$$word"))

	t.Run("tokens are single use", func(t *testing.T) {
		assert.Error(t, svc.ResetPassword(ctx, reset))
	})
}

func TestService_Invite(t *testing.T) {
	ctx, _, svc := setup(t)

	usr, err := svc.Invite(ctx, user.Invitation{
		Name: "Jane Owner", Email: "Owner@School.test", Roles: []string{user.RoleAdminOwner}, SchoolName: "Green Hill", Slug: "green-hill",
	})
	require.NoError(t, err)
	assert.Equal(t, "owner@school.test", usr.Email)
	assert.Error(t, usr.CheckPassword(""))

	sent := emailsvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].TextContent, "green-hill")

	_, err = svc.Invite(ctx, user.Invitation{Name: "Again", Email: "owner@school.test"})
	var verr *core.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "email", verr.Fields[0].Field)
}
