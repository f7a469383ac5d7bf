package echoapi

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/authz"
	"github.com/trezcool/shule/core/fee"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/tenant"
	"github.com/trezcool/shule/core/user"
)

type (
	Options struct {
		Address        string
		DisableReqLogs bool

		Logger   core.Logger
		Resolver *tenant.Resolver
		Engine   *authz.Engine
		Recorder *audit.Recorder

		UserSvc    *user.Service
		SessionSvc *session.Service
		StudentSvc *student.Service
		FeeSvc     *fee.Service

		SignalShutdown func()
	}

	Server interface {
		http.Handler
		Start()
		Stop(context.Context) error
	}

	server struct {
		opts *Options
		app  *echo.Echo
	}
)

var _ Server = (*server)(nil)

func NewServer(opts *Options) Server {
	s := &server{
		opts: opts,
		app:  echo.New(),
	}
	s.setup()
	return s
}

func (s *server) setup() {
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.opts.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(core.Conf.Debug || core.Conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.opts.Logger, s.opts.SignalShutdown)
	s.app.Debug = core.Conf.Debug

	s.app.GET("/", home)

	// every API route lives under a resolved tenant host
	v1 := s.app.Group("/v1", tenantMiddleware(s.opts.Resolver))
	authed := sessionMiddleware(s.opts.SessionSvc)

	registerAuthAPI(v1, authed, s.opts)
	registerUserAPI(v1, authed, s.opts)
	registerStudentAPI(v1, authed, s.opts)
	registerFeeAPI(v1, authed, s.opts)
}

func (s *server) Start() {
	s.app.Logger.Fatal(s.app.Start(s.opts.Address))
}

func (s *server) Stop(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Shule API!")
}
