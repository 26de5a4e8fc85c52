package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/iotmonitor/ingest-service/internal/config"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	startTimeout = 30 * time.Second
	stopTimeout  = 30 * time.Second
	// parent directories searched for a .env file
	envSearchDepth = 2
)

func main() {
	if path, ok := loadEnvFile(); ok {
		fmt.Printf("Loaded environment from: %s\n", path)
	} else {
		fmt.Println("No .env file found, using system environment variables")
	}

	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			ProvideDBPool,
			ProvideRepository,
			ProvideLimiter,
			ProvideValidator,
			ProvideEvaluator,
			ProvideEventPublisher,
			ProvideMetrics,
			ProvideIngestService,
			ProvideReadingService,
			ProvideRouter,
		),
		fx.Invoke(runMigrations, startHTTPServer),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	startupLogger, _ := newLogger(&config.Config{ServiceName: "iot-ingest"})
	startupLogger.Info("starting application...", zap.Duration("timeout", startTimeout))

	startCtx, startCancel := context.WithTimeout(context.Background(), startTimeout)
	defer startCancel()

	if err := app.Start(startCtx); err != nil {
		if errors.Is(startCtx.Err(), context.DeadlineExceeded) {
			startupLogger.Error("application did not start in time, check database and RabbitMQ reachability")
		}
		startupLogger.Fatal("application start failed", zap.Error(err))
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Println("error stopping app:", err)
	}
}

// loadEnvFile loads the first .env found in the working directory or its parents
func loadEnvFile() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	for i := 0; i <= envSearchDepth; i++ {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return path, true
			}
		}
		dir = filepath.Dir(dir)
	}
	return "", false
}
