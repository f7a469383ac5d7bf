package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	echoapi "github.com/trezcool/shule/apps/api/echo"
	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/authz"
	"github.com/trezcool/shule/core/fee"
	"github.com/trezcool/shule/core/session"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/tenant"
	"github.com/trezcool/shule/core/user"
	emailsvc "github.com/trezcool/shule/services/email"
	logsvc "github.com/trezcool/shule/services/logger"
	"github.com/trezcool/shule/storage/database"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.Conf

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			logger.Error("failed to close DB", err)
		}
	}()

	gw := database.NewGateway(db, conf)

	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService()
	} else {
		mailSvc = emailsvc.NewSendgridService(logger)
	}

	matrix, err := authz.LoadMatrixFile(conf.GrantsPath)
	if err != nil {
		logger.Fatal(fmt.Sprintf("loading grants: %v", err), err)
	}
	engine, err := authz.NewEngine(matrix)
	if err != nil {
		logger.Fatal(fmt.Sprintf("validating grants: %v", err), err)
	}

	recorder := audit.NewRecorder(database.NewAuditRepository(gw), logger)
	defer recorder.Close()

	throttle := user.NewLoginThrottle(conf.LoginThrottle)
	tenantSvc := tenant.NewService(database.NewTenantRepository(gw))
	usrSvc := user.NewService(database.NewUserRepository(gw), mailSvc, throttle)
	sessionSvc := session.NewService(database.NewSessionRepository(gw), conf)
	studentRepo := database.NewStudentRepository(gw)
	studentSvc := student.NewService(studentRepo, engine, recorder)
	feeSvc := fee.NewService(database.NewFeeRepository(gw), studentRepo, engine, recorder)

	resolver := tenant.NewResolver(tenantSvc, conf)

	// =========================================================================
	// Start API Service

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	server := echoapi.NewServer(&echoapi.Options{
		Address:    conf.Server.Addr,
		Logger:     logger,
		Resolver:   resolver,
		Engine:     engine,
		Recorder:   recorder,
		UserSvc:    usrSvc,
		SessionSvc: sessionSvc,
		StudentSvc: studentSvc,
		FeeSvc:     feeSvc,
		SignalShutdown: func() {
			shutdown <- syscall.SIGTERM
		},
	})

	go server.Start()

	// =========================================================================
	// Shutdown

	sig := <-shutdown
	logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

	// give outstanding requests a deadline for completion
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err = server.Stop(ctx); err != nil {
		logger.Fatal(fmt.Sprintf("could not stop server gracefully: %v", err), err)
	}
}

func setUpDB(conf *core.Config) (*sql.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}
