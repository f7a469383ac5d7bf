package echoapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/authz"
	"github.com/trezcool/shule/core/fee"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/tenant"
	"github.com/trezcool/shule/core/user"
	inmemdb "github.com/trezcool/shule/storage/database/inmem"
)

const testPassword = "s3cr3tPa55"

// mailRecorder captures outgoing emails instead of sending them.
type mailRecorder struct {
	messages []*core.EmailMessage
}

func (rec *mailRecorder) SendMessages(messages ...*core.EmailMessage) {
	rec.messages = append(rec.messages, messages...)
}

func (rec *mailRecorder) last(t *testing.T) *core.EmailMessage {
	t.Helper()
	if len(rec.messages) == 0 {
		t.Fatal("no messages sent")
	}
	return rec.messages[len(rec.messages)-1]
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}
func (nopLogger) Fatal(msg string, args ...interface{}) {}

type testEnv struct {
	srv  Server
	db   *inmemdb.DB
	mail *mailRecorder

	usrRepo    user.Repository
	tenantRepo tenant.Repository
	auditRepo  interface {
		audit.Repository
		Records() []audit.Record
	}
	recorder *audit.Recorder

	tnt   tenant.Tenant // green-hills, active
	tnt2  tenant.Tenant // st-joseph, active
	host  string
	host2 string
}

// newTestEnv stands up the full API over the in-memory repositories with
// two active schools seeded. throttleAttempts bounds failed logins per
// client within the test.
func newTestEnv(t *testing.T, throttleAttempts int) *testEnv {
	t.Helper()

	origDebug, origTestMode := core.Conf.Debug, core.Conf.TestMode
	core.Conf.Debug, core.Conf.TestMode = false, true
	t.Cleanup(func() { core.Conf.Debug, core.Conf.TestMode = origDebug, origTestMode })

	ctx := context.Background()
	db := inmemdb.NewDB()
	tenantRepo := inmemdb.NewTenantRepository(db)
	usrRepo := inmemdb.NewUserRepository(db)
	auditRepo := inmemdb.NewAuditRepository(db)

	now := time.Now().UTC()
	tnt, err := tenantRepo.CreateTenant(ctx, tenant.Tenant{
		Name: "Green Hills Academy", RoutingKey: "green-hills", IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateTenant() failed, %v", err)
	}
	tnt2, err := tenantRepo.CreateTenant(ctx, tenant.Tenant{
		Name: "St Joseph", RoutingKey: "st-joseph", IsActive: true, CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("CreateTenant() failed, %v", err)
	}

	matrix, err := authz.DefaultMatrix()
	if err != nil {
		t.Fatalf("DefaultMatrix() failed, %v", err)
	}
	engine, err := authz.NewEngine(matrix)
	if err != nil {
		t.Fatalf("NewEngine() failed, %v", err)
	}

	mailRec := &mailRecorder{}
	throttle := user.NewLoginThrottle(core.LoginThrottleConfig{Attempts: throttleAttempts, Window: 15 * time.Minute})
	recorder := audit.NewRecorder(auditRepo, nopLogger{})

	opts := &Options{
		DisableReqLogs: true,
		Logger:         nopLogger{},
		Resolver:       tenant.NewResolver(tenant.NewService(tenantRepo), core.Conf),
		Engine:         engine,
		Recorder:       recorder,
		UserSvc:        user.NewService(usrRepo, mailRec, throttle),
		SessionSvc:     session.NewService(inmemdb.NewSessionRepository(db), core.Conf),
		StudentSvc:     student.NewService(inmemdb.NewStudentRepository(db), engine, recorder),
		FeeSvc:         fee.NewService(inmemdb.NewFeeRepository(db), inmemdb.NewStudentRepository(db), engine, recorder),
		SignalShutdown: func() {},
	}

	return &testEnv{
		srv:        NewServer(opts),
		db:         db,
		mail:       mailRec,
		usrRepo:    usrRepo,
		tenantRepo: tenantRepo,
		auditRepo:  auditRepo,
		recorder:  recorder,
		tnt:       tnt,
		tnt2:      tnt2,
		host:      "green-hills." + core.Conf.BaseDomain,
		host2:     "st-joseph." + core.Conf.BaseDomain,
	}
}

type userOpts struct {
	tenantID  string
	twoFactor bool
	inactive  bool
}

func (env *testEnv) createUser(t *testing.T, name, uname, email string, opts userOpts, roles ...string) user.User {
	t.Helper()

	now := time.Now().UTC()
	usr := user.User{
		TenantID:         opts.tenantID,
		Name:             name,
		Username:         uname,
		Email:            email,
		IsActive:         !opts.inactive,
		TwoFactorEnabled: opts.twoFactor,
		Roles:            roles,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := usr.SetPassword(testPassword); err != nil {
		t.Fatalf("SetPassword() failed, %v", err)
	}
	usr, err := env.usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed, %v", err)
	}
	return usr
}

// request performs an HTTP call against the API on the given host.
func (env *testEnv) request(t *testing.T, method, host, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body failed, %v", err)
		}
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Host = host
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}

	res := httptest.NewRecorder()
	env.srv.ServeHTTP(res, req)
	return res
}

func decodeBody(t *testing.T, res *httptest.ResponseRecorder, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(res.Body.Bytes(), dest); err != nil {
		t.Fatalf("decoding response %q failed, %v", res.Body.String(), err)
	}
}

func checkStatus(t *testing.T, res *httptest.ResponseRecorder, want int) {
	t.Helper()
	if res.Code != want {
		t.Fatalf("status = %d, want %d; body %s", res.Code, want, res.Body.String())
	}
}

// login authenticates uname on the primary school host and returns the token.
func (env *testEnv) login(t *testing.T, uname string) string {
	t.Helper()
	return env.loginOn(t, env.host, uname)
}

func (env *testEnv) loginOn(t *testing.T, host, uname string) string {
	t.Helper()

	res := env.request(t, http.MethodPost, host, "/v1/auth/login", "", LoginRequest{Username: uname, Password: testPassword})
	checkStatus(t, res, http.StatusOK)

	var body LoginResponse
	decodeBody(t, res, &body)
	if body.Token == "" {
		t.Fatal("login returned no token")
	}
	return body.Token
}
