// cmd/server/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/SinaHo/referral-gate-backend/internal/config"
	"github.com/SinaHo/referral-gate-backend/internal/logger"
	"github.com/SinaHo/referral-gate-backend/internal/server"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig("internal/config")
	if err != nil {
		bootLog, _ := zap.NewProduction()
		bootLog.Sugar().Fatalf("failed to load config: %v", err)
	}

	log, err := logger.FromConfig(cfg.Logging)
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer log.Sync()

	app, err := server.NewAppServer(cfg, log)
	if err != nil {
		log.Sugar().Fatalf("failed to initialize server: %v", err)
	}

	// Start servers in a goroutine
	go func() {
		if err := app.Run(); err != nil {
			log.Sugar().Fatalf("server run error: %v", err)
		}
	}()

	// Wait for interrupt (SIGINT/SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Sugar().Info("Received shutdown signal")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	app.GracefulStop(ctx)
	log.Sugar().Info("Server stopped")
}
