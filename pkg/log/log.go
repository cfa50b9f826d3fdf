// Package log hands out named zap loggers for every MARP subsystem.
//
// Packages declare a package-level logger once:
//
//	var logger = logging.Logger("resolver")
//
// and the process entry point calls Setup to choose level, encoding and an
// optional rotating log file. Loggers created before Setup pick up the new
// configuration, because every logger writes through the current root core.
package log

import (
	"os"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the root logger.
type Config struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"` // console or json
	File       string `toml:"file"`   // empty logs to stderr only
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// DefaultConfig logs info and above to stderr with the console encoder.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  64,
		MaxBackups: 4,
		MaxAgeDays: 14,
	}
}

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	root  atomic.Pointer[zapcore.Core]
)

func init() {
	core := zapcore.NewCore(encoder("console"), zapcore.Lock(os.Stderr), level)
	root.Store(&core)
}

// Setup replaces the root core. It is safe to call more than once.
func Setup(cfg Config) error {
	lvl, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(rotating))
	}

	core := zapcore.NewCore(encoder(cfg.Format), sink, level)
	root.Store(&core)
	return nil
}

// SetLevel changes the level of every logger at runtime.
func SetLevel(l zapcore.Level) {
	level.SetLevel(l)
}

// ParseLevel accepts debug, info, warn, error. Empty means info.
func ParseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, errors.Errorf("log: unknown level %q", raw)
	}
}

// Logger returns a sugared logger tagged with the subsystem name.
func Logger(name string) *zap.SugaredLogger {
	return zap.New(&forwardCore{}).Named(name).Sugar()
}

func encoder(format string) zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if format == "json" {
		return zapcore.NewJSONEncoder(cfg)
	}
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

// forwardCore resolves the root core on every write.
type forwardCore struct {
	fields []zapcore.Field
}

func (c *forwardCore) current() zapcore.Core {
	return *root.Load()
}

func (c *forwardCore) Enabled(l zapcore.Level) bool {
	return level.Enabled(l)
}

func (c *forwardCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)
	return &forwardCore{fields: merged}
}

func (c *forwardCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *forwardCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	core := c.current()
	if len(c.fields) > 0 {
		core = core.With(c.fields)
	}
	return core.Write(ent, fields)
}

func (c *forwardCore) Sync() error {
	return c.current().Sync()
}
