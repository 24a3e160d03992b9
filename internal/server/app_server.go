// internal/server/app_server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/SinaHo/referral-gate-backend/internal/auth"
	"github.com/SinaHo/referral-gate-backend/internal/config"
	"github.com/SinaHo/referral-gate-backend/internal/handler"
	"github.com/SinaHo/referral-gate-backend/internal/middleware"
	"github.com/SinaHo/referral-gate-backend/internal/notify"
	"github.com/SinaHo/referral-gate-backend/internal/repository"
	"github.com/SinaHo/referral-gate-backend/internal/repository/memstore"
	"github.com/SinaHo/referral-gate-backend/internal/service"

	_ "github.com/lib/pq"
)

type AppServer struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *sqlx.DB
	rdb    *redis.Client
	GRPC   *grpc.Server
	HTTP   *http.Server
}

func NewAppServer(cfg *config.Config, logger *zap.Logger) (*AppServer, error) {
	sugar := logger.Sugar()
	app := &AppServer{cfg: cfg, logger: logger}

	var (
		users repository.UserRepository
		pool  repository.PoolRepository
	)
	switch cfg.Storage.Driver {
	case "memory":
		store := memstore.New()
		users, pool = store, store
		sugar.Warn("Using in-memory storage; state is lost on restart")
	default:
		// PostgreSQL (via sqlx)
		db, err := sqlx.Connect("postgres", cfg.Postgres.DSN())
		if err != nil {
			sugar.Errorf("failed to connect to postgres: %v", err)
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		if err := repository.Migrate(db); err != nil {
			db.Close()
			sugar.Errorf("failed to migrate postgres: %v", err)
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		app.db = db
		users = repository.NewUserRepository(db)
		pool = repository.NewPoolRepository(db)
	}

	// Redis
	var notifier notify.Notifier
	if cfg.Redis.Enabled {
		rd := cfg.Redis
		rdb := redis.NewClient(&redis.Options{
			Addr:     rd.Addr,
			Password: rd.Password,
			DB:       rd.DB,
		})
		if _, err := rdb.Ping(rdb.Context()).Result(); err != nil {
			sugar.Errorf("failed to ping redis: %v", err)
			app.closeStores()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		app.rdb = rdb
		notifier = notify.NewRedisNotifier(rdb, rd.Channel)
	} else {
		notifier = notify.NewLogNotifier(sugar)
	}

	// Repository → Service → Handler
	referralSvc := service.NewReferralService(users, notifier, sugar, cfg.Referral.Threshold, cfg.Referral.CodePrefix)
	allocationSvc := service.NewAllocationService(users, pool)
	adminSvc, err := service.NewAdminService(users, pool, cfg.Admin.Password, []byte(cfg.JWT.SigningKey), cfg.JWT.TokenTTL, cfg.Pool.GeneratedPINLength)
	if err != nil {
		app.closeStores()
		return nil, err
	}

	// Logging interceptor & Auth interceptor
	authInt := middleware.AuthInterceptor(sugar, cfg.JWT.SigningKey, auth.RoleFrontend)
	logInt := middleware.UnaryLoggingInterceptor(sugar)

	app.GRPC = grpc.NewServer(
		grpc.ChainUnaryInterceptor(logInt, authInt),
	)
	handler.RegisterReferralGateServer(app.GRPC, handler.NewReferralHandler(referralSvc, allocationSvc, sugar))
	reflection.Register(app.GRPC)

	app.HTTP = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: NewRouter(handler.NewAdminHandler(adminSvc, sugar), sugar, cfg.JWT.SigningKey),
	}

	sugar.Infof("AppServer initialized successfully")
	return app, nil
}

// Run serves gRPC and HTTP until one of them fails or is stopped.
func (a *AppServer) Run() error {
	sugar := a.logger.Sugar()
	addr := fmt.Sprintf(":%d", a.cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		sugar.Errorf("listen error on %s: %v", addr, err)
		return fmt.Errorf("listen: %w", err)
	}

	errCh := make(chan error, 2)
	go func() {
		sugar.Infof("gRPC server listening on %s", addr)
		errCh <- a.GRPC.Serve(lis)
	}()
	go func() {
		sugar.Infof("HTTP admin server listening on %s", a.HTTP.Addr)
		if err := a.HTTP.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
			return
		}
		errCh <- nil
	}()
	return <-errCh
}

func (a *AppServer) GracefulStop(ctx context.Context) {
	sugar := a.logger.Sugar()
	sugar.Info("Shutting down servers gracefully")
	if err := a.HTTP.Shutdown(ctx); err != nil {
		sugar.Warnw("HTTP shutdown", "error", err)
	}
	a.GRPC.GracefulStop()
	a.closeStores()
	sugar.Info("Resources closed, server stopped")
}

func (a *AppServer) closeStores() {
	if a.db != nil {
		a.db.Close()
	}
	if a.rdb != nil {
		a.rdb.Close()
	}
}
