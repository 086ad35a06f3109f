package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kkkkikiki/couponguard/internal/config"
)

const serviceName = "coupon-system"

// New builds a structured zap.Logger from the application config.
func New(cfg config.AppConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Debug || strings.EqualFold(strings.TrimSpace(cfg.LogFormat), "console") {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if cfg.IsDevelopment() {
		// DPanic panics and warnings carry stack traces
		zapCfg.Development = true
	}
	if !cfg.IsProduction() {
		zapCfg.Sampling = nil
	}
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}

	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	if err := zapCfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	logger = logger.With(
		zap.String("service", serviceName),
		zap.String("env", cfg.Environment),
	)
	zap.ReplaceGlobals(logger)
	return logger, nil
}
