package logger

import (
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu   sync.RWMutex
	root = zap.NewNop()
)

// Init builds the process logger. Timestamps are encoded as RFC3339 so log
// lines line up with the timestamps stored on audit records. An unknown
// level falls back to info instead of failing startup.
func Init(level string) error {
	lvl := zapcore.InfoLevel
	if text := strings.TrimSpace(level); text != "" {
		if err := lvl.UnmarshalText([]byte(text)); err != nil {
			lvl = zapcore.InfoLevel
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return err
	}

	mu.Lock()
	root = built
	mu.Unlock()
	return nil
}

// WithComponent returns a child logger tagged with the owning component.
// Usable before Init; entries are dropped until the logger is configured.
func WithComponent(component string) *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root.With(zap.String("component", component))
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return root.Sync()
}
