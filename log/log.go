package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewRootLogger builds a logger writing to w in one of the json, console
// (alias auto) or logfmt formats.
func NewRootLogger(format string, level string, w io.Writer) (*zap.Logger, error) {
	enc, err := newEncoder(format)
	if err != nil {
		return nil, err
	}
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(w), lvl)), nil
}

// NewRootLoggerWithFile logs to stdout and appends the same lines to the file
// at path. The returned closer closes the file.
func NewRootLoggerWithFile(path, format, level string) (*zap.Logger, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	logger, err := NewRootLogger(format, level, io.MultiWriter(os.Stdout, f))
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return logger, f, nil
}

func newEncoder(format string) (zapcore.Encoder, error) {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = func(ts time.Time, encoder zapcore.PrimitiveArrayEncoder) {
		encoder.AppendString(ts.UTC().Format("2006-01-02T15:04:05.000000Z07:00"))
	}
	cfg.LevelKey = "lvl"

	switch format {
	case "json":
		return zapcore.NewJSONEncoder(cfg), nil
	case "auto", "console":
		return zapcore.NewConsoleEncoder(cfg), nil
	case "logfmt":
		return zaplogfmt.NewEncoder(cfg), nil
	default:
		return nil, fmt.Errorf("unrecognized log format %q", format)
	}
}

func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "panic":
		return zap.PanicLevel, nil
	case "fatal":
		return zap.FatalLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	case "warn", "warning":
		return zap.WarnLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "debug":
		return zap.DebugLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("unsupported log level: %s", level)
	}
}
