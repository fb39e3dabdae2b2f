package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest/observer"

	echoapi "github.com/trezcool/masomo-cloud/apps/api/echo"
	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
	"github.com/trezcool/masomo-cloud/core/school"
	"github.com/trezcool/masomo-cloud/core/tenant"
	"github.com/trezcool/masomo-cloud/core/timetable"
	"github.com/trezcool/masomo-cloud/core/user"
	emailsvc "github.com/trezcool/masomo-cloud/services/email"
	inmemdb "github.com/trezcool/masomo-cloud/storage/database/inmem"
	testutil "github.com/trezcool/masomo-cloud/tests"
)

const testPassword = "LolC@t123"

var errMissingToken = httpErr{Error: "missing or malformed jwt"}

type fixture struct {
	conf  *core.Config
	app   echoapi.Server
	logs  *observer.ObservedLogs
	users user.Repository

	schools    tenant.Service
	billing    billing.Service
	roster     school.Service
	timetables timetable.Service
}

func setup(t *testing.T) fixture {
	t.Helper()
	conf := testutil.NewConfig(t)
	logger, logs := testutil.NewLogger(conf)
	validate, translator := testutil.NewValidatorAndTranslator()

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo := inmemdb.NewUserRepository(db)

	// set up services
	mailSvc := emailsvc.NewConsoleServiceMock(conf, logger)
	emailsvc.ClearSentMessages()
	usrSvc := user.NewServiceMock(conf, usrRepo, mailSvc)
	tenantSvc := tenant.NewService(
		conf, inmemdb.NewSchoolRepository(db), nil, inmemdb.NewRouter(), inmemdb.NewProvisioner(db), usrSvc, validate, logger,
	)
	billingSvc := billing.NewService(nil, inmemdb.NewBillingRepository(db), validate)
	rosterSvc := school.NewService(inmemdb.NewRosterRepository(db), validate)
	timetableSvc := timetable.NewService(inmemdb.NewTimetableRepository(db), rosterSvc, validate)

	// set up server
	app := echoapi.NewServer(&echoapi.Options{
		DisableReqLogs: true,
		Conf:           conf,
		Logger:         logger,
		Validate:       validate,
		Translator:     translator,
		UserSvc:        usrSvc,
		TenantSvc:      tenantSvc,
		BillingSvc:     billingSvc,
		SchoolSvc:      rosterSvc,
		TimetableSvc:   timetableSvc,
		Webhook:        billing.NewWebhookHandler(billingSvc, tenantSvc, logger),
	})

	return fixture{
		conf:       conf,
		app:        app,
		logs:       logs,
		users:      usrRepo,
		schools:    tenantSvc,
		billing:    billingSvc,
		roster:     rosterSvc,
		timetables: timetableSvc,
	}
}

// platformCtx is the context of the platform database.
func platformCtx() context.Context {
	return core.ContextWithSchool(context.Background(), "")
}

// schoolCtx is the context of the database of the school identified by slug.
func schoolCtx(slug string) context.Context {
	return core.ContextWithSchool(context.Background(), slug)
}

// activeSchool registers & provisions a school.
func (f fixture) activeSchool(t *testing.T, slug string) tenant.School {
	t.Helper()
	s, err := f.schools.Register(platformCtx(), tenant.NewSchool{
		Name: "School " + slug, Slug: slug, OwnerName: "Owner", OwnerEmail: "owner@" + slug + ".test",
	})
	require.NoError(t, err)
	s, err = f.schools.Provision(platformCtx(), s)
	require.NoError(t, err)
	emailsvc.ClearSentMessages()
	return s
}

func (f fixture) platformAdmin(t *testing.T) user.User {
	t.Helper()
	return testutil.CreateUser(
		t, platformCtx(), f.users, "Platform Admin", "root", "root@masomo.test", testPassword,
		[]string{user.RolePlatformSuperadmin}, true,
	)
}

// schoolUser creates a user of the school identified by slug.
func (f fixture) schoolUser(t *testing.T, slug, uname string, roles ...string) user.User {
	t.Helper()
	return testutil.CreateUser(
		t, schoolCtx(slug), f.users, "User "+uname, uname, uname+"@"+slug+".test", testPassword, roles, true,
	)
}

// token returns a JWT of usr, a user of the school identified by slug ("" for platform users).
func (f fixture) token(t *testing.T, usr user.User, slug string) string {
	t.Helper()
	token, err := echoapi.GenerateToken(f.conf, echoapi.NewClaims(f.conf, usr, slug))
	require.NoError(t, err)
	return token
}

// do serves a request & returns the recorded response.
func (f fixture) do(method, path, token string, data ...[]byte) *httptest.ResponseRecorder {
	req, rec := newAuthRequest(method, path, token, data...)
	f.app.ServeHTTP(rec, req)
	return rec
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
	extra    interface{}
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

// decode unmarshals the body of rec into v.
func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}

func jsonBytesEqual(t *testing.T, b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	assert.Equal(t, tt.wantCode, rec.Code, "body: %s", rec.Body.String())
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(t, rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// runHTTPTests serves the requests of tests, defaulting to method & a 200 response.
func (f fixture) runHTTPTests(t *testing.T, method string, tests []httpTest) {
	t.Helper()
	for _, tt := range tests {
		if tt.method == "" {
			tt.method = method
		}
		if tt.wantCode == 0 {
			tt.wantCode = http.StatusOK
		}
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(tt.method, tt.path, tt.token, tt.body)
			checkCodeAndData(t, tt, rec)
		})
	}
}
