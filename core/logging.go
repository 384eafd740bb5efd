package core

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLogging sends log output to both stdout and a file in cfg.LogDir and
// returns a structured logger writing to the same place.
// Caller should close the returned io.Closer on shutdown.
func SetupLogging(cfg Config, filename string) (*zap.Logger, io.Closer, error) {
	dir := cfg.LogDir
	if dir == "" {
		dir = "/var/log/portal"
	}
	if filename == "" {
		filename = "app.log"
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, filename)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	mw := io.MultiWriter(os.Stdout, f)
	log.SetOutput(mw)
	gin.DefaultWriter = mw
	gin.DefaultErrorWriter = mw

	return NewLogger(cfg, mw), f, nil
}

// NewLogger builds a JSON logger on w; debug level outside production.
func NewLogger(cfg Config, w io.Writer) *zap.Logger {
	level := zapcore.DebugLevel
	if cfg.IsProduction() {
		level = zapcore.InfoLevel
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller()).With(zap.String("env", cfg.Env))
}
