package obs

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerOnce sync.Once
	logger     *zap.Logger
)

// Logger returns the shared structured logger used across the service.
// Development output is enabled with GATEKIT_LOG_PRETTY=1.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		var err error
		if os.Getenv("GATEKIT_LOG_PRETTY") == "1" {
			logger, err = zap.NewDevelopment()
		} else {
			cfg := zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "ts"
			cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
			logger, err = cfg.Build()
		}
		if err != nil {
			logger = zap.NewNop()
		}
	})
	return logger
}

// Sync flushes buffered log entries. Call on shutdown.
func Sync() {
	if logger != nil {
		_ = logger.Sync()
	}
}
