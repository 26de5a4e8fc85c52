package main

import (
	"github.com/iotmonitor/ingest-service/internal/config"
	"github.com/iotmonitor/ingest-service/internal/logging"
	"go.uber.org/zap"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.NewLogger(cfg.ServiceName)
}
