package tests

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/masomo-cloud/apps/api/echo"
	"github.com/trezcool/masomo-cloud/core/tenant"
	"github.com/trezcool/masomo-cloud/core/user"
	emailsvc "github.com/trezcool/masomo-cloud/services/email"
)

func Test_userApi_login(t *testing.T) {
	f := setup(t)
	f.activeSchool(t, "green-hill")
	suspended := f.activeSchool(t, "blue-lake")
	f.platformAdmin(t)
	f.schoolUser(t, "green-hill", "teacher", user.RoleTeacher)
	f.schoolUser(t, "blue-lake", "teacher", user.RoleTeacher)
	f.inactiveUser(t, "green-hill", "naughty")

	_, err := f.schools.Suspend(platformCtx(), suspended)
	require.NoError(t, err)

	login := func(uname, pwd string) []byte {
		return marchallObj(t, echoapi.LoginRequest{Username: uname, Password: pwd})
	}
	authFailed := marchallObj(t, httpErr{Error: "authentication failed"})

	tests := []httpTest{
		{
			name: "required fields", path: "/v1/users/login", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, echoapi.LoginRequest{Username: "this field is required", Password: "this field is required"}),
		},
		{name: "platform: wrong password", path: "/v1/users/login", body: login("root", "lol"), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "platform: school user", path: "/v1/users/login", body: login("teacher", testPassword), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "platform: ok", path: "/v1/users/login", body: login("ROOT", testPassword)},
		{name: "platform: ok by email", path: "/v1/users/login", body: login("root@masomo.test", testPassword)},
		{name: "school: platform user", path: "/v1/s/green-hill/users/login", body: login("root", testPassword), wantCode: http.StatusBadRequest, wantData: authFailed},
		{name: "school: ok", path: "/v1/s/green-hill/users/login", body: login("teacher", testPassword)},
		{name: "school: slug is case insensitive", path: "/v1/s/Green-Hill/users/login", body: login("teacher", testPassword)},
		{
			name: "school: inactive user", path: "/v1/s/green-hill/users/login", body: login("naughty", testPassword),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "school: unknown school", path: "/v1/s/nowhere/users/login", body: login("teacher", testPassword),
			wantCode: http.StatusNotFound, wantData: marchallObj(t, httpErr{Error: tenant.ErrNotFound.Error()}),
		},
		{
			name: "school: suspended school", path: "/v1/s/blue-lake/users/login", body: login("teacher", testPassword),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: tenant.ErrUnavailable.Error()}),
		},
	}
	for _, tt := range tests {
		tt.method = http.MethodPost
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}

		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, "", tt.body)
			if tt.wantCode != http.StatusOK {
				checkCodeAndData(t, tt, rec)
				return
			}

			// cannot guess the token.. check the school it was issued for
			require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
			var resp echoapi.LoginResponse
			decode(t, rec, &resp)
			claims := new(echoapi.Claims)
			_, err := jwt.ParseWithClaims(resp.Token, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(f.conf.SecretKey), nil
			})
			require.NoError(t, err)
			if strings.HasPrefix(tt.path, "/v1/s/") {
				assert.Equal(t, "green-hill", claims.School)
				assert.False(t, claims.IsPlatformAdmin)
			} else {
				assert.Empty(t, claims.School)
				assert.True(t, claims.IsPlatformAdmin)
			}
		})
	}
}

// inactiveUser creates an inactive student of the school identified by slug.
func (f fixture) inactiveUser(t *testing.T, slug, uname string) user.User {
	t.Helper()
	usr := f.schoolUser(t, slug, uname, user.RoleStudent)
	isActive := false
	usr, err := f.users.UpdateUser(schoolCtx(slug), usr, &isActive)
	require.NoError(t, err)
	return usr
}

func Test_userApi_tokenScope(t *testing.T) {
	f := setup(t)
	f.activeSchool(t, "green-hill")
	f.activeSchool(t, "blue-lake")
	root := f.platformAdmin(t)
	admin := f.schoolUser(t, "green-hill", "admin1", user.RoleAdmin)

	rootToken := f.token(t, root, "")
	adminToken := f.token(t, admin, "green-hill")
	forbidden := marchallObj(t, httpErr{Error: "permission denied"})

	f.runHTTPTests(t, http.MethodGet, []httpTest{
		{name: "platform: auth required", path: "/v1/users", wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "platform: invalid token", path: "/v1/users", token: "lol",
			wantCode: http.StatusUnauthorized, wantData: marchallObj(t, httpErr{Error: "invalid or expired jwt"}),
		},
		{name: "platform: school token", path: "/v1/users", token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "platform: ok", path: "/v1/users", token: rootToken},
		{name: "school: platform token", path: "/v1/s/green-hill/users", token: rootToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "school: other school token", path: "/v1/s/blue-lake/users", token: adminToken, wantCode: http.StatusForbidden, wantData: forbidden},
		{name: "school: ok", path: "/v1/s/green-hill/users", token: adminToken},
	})
}

func Test_userApi_userQuery(t *testing.T) {
	f := setup(t)
	f.activeSchool(t, "green-hill")

	path := func(search, ordering string, isActive *bool, roles ...string) string {
		v := make(url.Values)
		if search != "" {
			v.Add("search", search)
		}
		if ordering != "" {
			v.Add("ordering", ordering)
		}
		if isActive != nil {
			v.Add("is_active", strconv.FormatBool(*isActive))
		}
		for _, r := range roles {
			v.Add("role", r)
		}
		return "/v1/s/green-hill/users?" + v.Encode()
	}
	bPtr := func(b bool) *bool { return &b }

	owner, err := f.users.GetUserByEmail(schoolCtx("green-hill"), "owner@green-hill.test")
	require.NoError(t, err)
	admin := f.schoolUser(t, "green-hill", "admin1", user.RoleAdminPrincipal)
	teacher := f.schoolUser(t, "green-hill", "teacher", user.RoleTeacher)
	student := f.schoolUser(t, "green-hill", "student", user.RoleStudent)
	naughty := f.inactiveUser(t, "green-hill", "naughty")
	adminToken := f.token(t, admin, "green-hill")

	ids := func(users ...user.User) []string {
		var out []string
		for _, u := range users {
			out = append(out, u.ID)
		}
		return out
	}

	tests := []struct {
		name    string
		path    string
		token   string
		wantIDs []string
		ordered bool
	}{
		{name: "all", path: path("", "", nil), wantIDs: ids(owner, admin, teacher, student, naughty)},
		{name: "search (unknown)", path: path("lol", "", nil)},
		{name: "search=TEACH", path: path("TEACH", "", nil), wantIDs: ids(teacher)},
		{name: "role=admin:", path: path("", "", nil, user.RoleAdmin), wantIDs: ids(owner, admin)},
		{name: "role=teacher:,student:", path: path("", "", nil, user.RoleTeacher, user.RoleStudent), wantIDs: ids(teacher, student, naughty)},
		{name: "is_active=false", path: path("", "", bPtr(false)), wantIDs: ids(naughty)},
		{
			name: "order by username", path: path("", "username", nil, user.RoleTeacher, user.RoleStudent),
			wantIDs: ids(naughty, student, teacher), ordered: true,
		},
		{
			name: "order by -username", path: path("", "-username", nil, user.RoleTeacher, user.RoleStudent),
			wantIDs: ids(teacher, student, naughty), ordered: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodGet, tt.path, adminToken)
			require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
			var users []user.User
			decode(t, rec, &users)
			if tt.ordered {
				assert.Equal(t, tt.wantIDs, ids(users...))
			} else {
				assert.ElementsMatch(t, tt.wantIDs, ids(users...))
			}
		})
	}

	t.Run("admin required", func(t *testing.T) {
		rec := f.do(http.MethodGet, path("", "", nil), f.token(t, student, "green-hill"))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func Test_userApi_userCreate(t *testing.T) {
	f := setup(t)
	f.activeSchool(t, "green-hill")
	principal := f.schoolUser(t, "green-hill", "principal", user.RoleAdminPrincipal)
	teacher := f.schoolUser(t, "green-hill", "teacher", user.RoleTeacher)
	token := f.token(t, principal, "green-hill")

	newUser := func(uname string, roles ...string) []byte {
		return marchallObj(t, user.NewUser{
			Name: "New " + uname, Username: uname, Password: testPassword, PasswordConfirm: testPassword, Roles: roles,
		})
	}

	f.runHTTPTests(t, http.MethodPost, []httpTest{
		{
			name: "admin required", path: "/v1/s/green-hill/users", token: f.token(t, teacher, "green-hill"),
			body: newUser("student1", user.RoleStudent), wantCode: http.StatusForbidden,
		},
		{
			name: "username taken", path: "/v1/s/green-hill/users", token: token, body: newUser("teacher"),
			wantCode: http.StatusBadRequest,
		},
		{
			name: "platform role", path: "/v1/s/green-hill/users", token: token, body: newUser("sneaky1", user.RolePlatformSuperadmin),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"roles": "these roles cannot be given here"}),
		},
		{
			name: "role above own", path: "/v1/s/green-hill/users", token: token, body: newUser("owner2", user.RoleAdminOwner),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, map[string]string{"roles": "not enough rights to set these roles"}),
		},
		{name: "ok", path: "/v1/s/green-hill/users", token: token, body: newUser("student1", user.RoleStudent), wantCode: http.StatusCreated},
	})

	created, err := f.users.GetUserByUsername(schoolCtx("green-hill"), "student1")
	require.NoError(t, err)
	assert.Equal(t, []string{user.RoleStudent}, created.Roles)

	// the user only exists in its school
	_, err = f.users.GetUserByUsername(platformCtx(), "student1")
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func Test_userApi_userDetail(t *testing.T) {
	f := setup(t)
	f.activeSchool(t, "green-hill")
	admin := f.schoolUser(t, "green-hill", "admin1", user.RoleAdmin)
	teacher := f.schoolUser(t, "green-hill", "teacher", user.RoleTeacher)
	student := f.schoolUser(t, "green-hill", "student", user.RoleStudent)
	adminToken := f.token(t, admin, "green-hill")
	studentToken := f.token(t, student, "green-hill")

	userPath := func(usr user.User) string { return "/v1/s/green-hill/users/" + usr.ID }
	notFound := marchallObj(t, httpErr{Error: "not found"})

	f.runHTTPTests(t, http.MethodGet, []httpTest{
		{name: "own account", path: userPath(student), token: studentToken, wantData: marchallObj(t, student)},
		{name: "other account", path: userPath(teacher), token: studentToken, wantCode: http.StatusNotFound, wantData: notFound},
		{name: "admin", path: userPath(teacher), token: adminToken, wantData: marchallObj(t, teacher)},
		{name: "unknown", path: "/v1/s/green-hill/users/lol", token: adminToken, wantCode: http.StatusNotFound, wantData: notFound},
		{
			name: "user cannot change own roles", method: http.MethodPut, path: userPath(student), token: studentToken,
			body: marchallObj(t, map[string]interface{}{"roles": []string{user.RoleAdmin}}), wantCode: http.StatusForbidden,
		},
		{
			name: "user changes own name", method: http.MethodPut, path: userPath(student), token: studentToken,
			body: marchallObj(t, map[string]interface{}{"name": "Hero"}),
		},
		{name: "user cannot delete", method: http.MethodDelete, path: userPath(teacher), token: studentToken, wantCode: http.StatusNotFound},
		{name: "admin cannot delete self", method: http.MethodDelete, path: userPath(admin), token: adminToken, wantCode: http.StatusForbidden},
		{name: "admin deletes", method: http.MethodDelete, path: userPath(teacher), token: adminToken, wantCode: http.StatusNoContent},
	})

	usr, err := f.users.GetUserByID(schoolCtx("green-hill"), student.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hero", usr.Name)
	_, err = f.users.GetUserByID(schoolCtx("green-hill"), teacher.ID)
	assert.ErrorIs(t, err, user.ErrNotFound)
}

func Test_userApi_userRefreshToken(t *testing.T) {
	f := setup(t)
	f.activeSchool(t, "green-hill")
	student := f.schoolUser(t, "green-hill", "student", user.RoleStudent)
	naughty := f.inactiveUser(t, "green-hill", "naughty")

	claims := echoapi.NewClaims(f.conf, student, "green-hill", time.Now().Add(-2*f.conf.Server.JWTRefreshExpirationDelta).Unix())
	unrefreshableToken, err := echoapi.GenerateToken(f.conf, claims)
	require.NoError(t, err)

	path := "/v1/s/green-hill/users/token-refresh"
	f.runHTTPTests(t, http.MethodPost, []httpTest{
		{name: "Auth required", path: path, wantCode: http.StatusUnauthorized, wantData: marchallObj(t, errMissingToken)},
		{
			name: "Inactive user not allowed", path: path, token: f.token(t, naughty, "green-hill"),
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "account deactivated"}),
		},
		{
			name: "Refresh period expired", path: path, token: unrefreshableToken,
			wantCode: http.StatusForbidden, wantData: marchallObj(t, httpErr{Error: "refresh has expired"}),
		},
	})

	t.Run("Token refreshed", func(t *testing.T) {
		rec := f.do(http.MethodPost, path, f.token(t, student, "green-hill"))
		require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())
		var resp echoapi.LoginResponse
		decode(t, rec, &resp)
		assert.NotEmpty(t, resp.Token)
	})
}

func Test_userApi_userPasswordReset(t *testing.T) {
	f := setup(t)
	f.activeSchool(t, "green-hill")
	student := f.schoolUser(t, "green-hill", "student", user.RoleStudent)
	successData := marchallObj(t, echoapi.SuccessResponse{Success: "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."})

	f.runHTTPTests(t, http.MethodPost, []httpTest{
		{
			name: "required fields", path: "/v1/s/green-hill/users/password-reset", wantCode: http.StatusBadRequest,
			wantData: marchallObj(t, echoapi.PasswordResetRequest{Email: "this field is required"}),
		},
		{
			name: "unknown email", path: "/v1/s/green-hill/users/password-reset",
			body: marchallObj(t, echoapi.PasswordResetRequest{Email: "lol@test.com"}), wantData: successData,
		},
		{
			name: "email of another school", path: "/v1/users/password-reset",
			body: marchallObj(t, echoapi.PasswordResetRequest{Email: student.Email}), wantData: successData,
		},
	})
	require.Empty(t, emailsvc.SentMessages())

	rec := f.do(http.MethodPost, "/v1/s/green-hill/users/password-reset", "", marchallObj(t, echoapi.PasswordResetRequest{Email: student.Email}))
	require.Equal(t, http.StatusOK, rec.Code)
	sent := emailsvc.SentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, student.Email, sent[0].To[0].Address)
	data := sent[0].TemplateData.(map[string]interface{})
	assert.Equal(t, "green-hill", data["School"])

	confirm := func(token, pwd string) []byte {
		return marchallObj(t, user.ResetUserPassword{UID: data["UID"].(string), Token: token, Password: pwd, PasswordConfirm: pwd})
	}
	path := "/v1/s/green-hill/users/password-reset-confirm"
	f.runHTTPTests(t, http.MethodPost, []httpTest{
		{
			name: "weak password", path: path, body: confirm(data["Token"].(string), "12345678"),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, user.ResetUserPassword{Password: "password cannot be entirely numeric"}),
		},
		{
			name: "invalid token", path: path, body: confirm("HE4TS-sigsig-sig", "N3w-Pa$$word"),
			wantCode: http.StatusBadRequest, wantData: marchallObj(t, user.ResetUserPassword{Token: "invalid or expired link"}),
		},
		{
			name: "valid token", path: path, body: confirm(data["Token"].(string), "N3w-Pa$$word"),
			wantData: marchallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		},
	})

	rec = f.do(http.MethodPost, "/v1/s/green-hill/users/login", "", marchallObj(t, echoapi.LoginRequest{Username: "student", Password: "N3w-Pa$$word"}))
	assert.Equal(t, http.StatusOK, rec.Code)
}
