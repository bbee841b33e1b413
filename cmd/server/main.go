// Command studydesk-server runs the chat relay and call signaling server.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/studydesk/internal/config"
	"github.com/and161185/studydesk/internal/events"
	"github.com/and161185/studydesk/internal/limiter"
	"github.com/and161185/studydesk/internal/migrate"
	"github.com/and161185/studydesk/internal/realtime"
	"github.com/and161185/studydesk/internal/repository/postgres"
	grpcserver "github.com/and161185/studydesk/internal/server/grpc"
	"github.com/and161185/studydesk/internal/server/httpapi"
	"github.com/and161185/studydesk/internal/server/socket"
	"github.com/and161185/studydesk/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// no logger yet
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger := newLogger(cfg.Dev)
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func newLogger(dev bool) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		return err
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()

	// Repositories
	users := postgres.NewUserRepo(db)
	chats := postgres.NewChatRepo(db)
	groups := postgres.NewGroupRepo(db)
	messages := postgres.NewMessageRepo(db)
	lim := limiter.NewPG(db.Pool, limiter.DefaultPolicy)

	// Services
	authSvc := service.NewAuthService(users, []byte(cfg.JWTKey), cfg.AccessTTL, lim)
	chatSvc := service.NewChatService(chats)
	groupSvc := service.NewGroupService(groups)
	msgSvc := service.NewMessageService(chats, groups, messages, service.HistoryLimits{Max: cfg.HistoryLimit})

	pub := newPublisher(ctx, cfg, logger)
	defer func() {
		if err := pub.Close(); err != nil {
			logger.Warn("close publisher", zap.Error(err))
		}
	}()

	hub := realtime.NewHub(realtime.Options{
		Status:   users,
		Messages: msgSvc,
		Events:   pub,
		CallLog:  cfg.CallLog,
		Log:      logger.Named("realtime"),
	})
	sockets := socket.NewDispatcher(hub, msgSvc, socket.Options{
		SendBuffer: cfg.SendBuffer,
		ReadLimit:  cfg.ReadLimit,
	}, logger.Named("socket"))

	api := httpapi.New(httpapi.Deps{
		Auth:     authSvc,
		Chats:    chatSvc,
		Groups:   groupSvc,
		Messages: msgSvc,
		Hub:      hub,
		Sockets:  sockets,
		Tokens:   httpapi.NewTokenVerifier([]byte(cfg.JWTKey)),
		Origins:  cfg.Origins,
		Ready:    db.Ping,
		Log:      logger.Named("http"),
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	// Health & reflection (dev)
	var health *grpcserver.Health
	errCh := make(chan error, 2)
	if cfg.HealthAddr != "" {
		health = grpcserver.NewHealth(grpcserver.Options{
			Probe:      db.Ping,
			Reflection: cfg.Dev,
			Log:        logger.Named("grpc"),
		})
		lis, err := net.Listen("tcp", cfg.HealthAddr)
		if err != nil {
			return err
		}
		go health.Watch(ctx)
		go func() { errCh <- health.Serve(lis) }()
	}

	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	if health != nil {
		health.Drain()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Shutdown does not track hijacked connections.
	sockets.CloseAll()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if health != nil {
		done := make(chan struct{})
		go func() {
			health.Shutdown()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
		}
	}
	return serveErr
}

// newPublisher dials RabbitMQ when configured and falls back to logging otherwise.
func newPublisher(ctx context.Context, cfg *config.Config, logger *zap.Logger) events.Publisher {
	log := logger.Named("events")
	if cfg.AMQPURL == "" {
		return events.NewFallback(log)
	}
	conn, err := events.DialWithRetry(ctx, events.ConnectionOptions{
		URL:           cfg.AMQPURL,
		RetryAttempts: 5,
		Delay:         time.Second,
		Logger:        log,
	})
	if err != nil {
		log.Warn("event broker unavailable, using fallback", zap.Error(err))
		return events.NewFallback(log)
	}
	pub, err := events.NewAMQP(conn, cfg.AMQPExchange, log)
	if err != nil {
		log.Warn("event exchange setup failed, using fallback", zap.Error(err))
		return events.NewFallback(log)
	}
	return pub
}
