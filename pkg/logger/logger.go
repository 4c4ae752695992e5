package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// logger.go - структурированное логирование на zap
//
// Назначение:
// Единая точка создания логгера для всех компонентов.
// Формат "json" для продакшена (парсится агрегаторами),
// "console" для локальной разработки.

// Config конфигурация логгера
type Config struct {
	// Level: debug, info, warn, error
	Level string
	// Format: json или console
	Format string
}

// New создаёт сконфигурированный *zap.Logger
func New(cfg Config) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zapCfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zapCfg = zap.NewProductionConfig()
	case "console":
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format: %q", cfg.Format)
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapCfg.Build()
}

// MustNew создаёт логгер или паникует. Для main().
func MustNew(cfg Config) *zap.Logger {
	log, err := New(cfg)
	if err != nil {
		panic(fmt.Sprintf("logger init: %v", err))
	}
	return log
}

func parseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown log level: %q", s)
	}
}
