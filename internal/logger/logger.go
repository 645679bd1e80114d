// Package logger provides structured logging for emberkv, built on
// zerolog the way the teacher's own logger package is.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with emberkv-specific component loggers.
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration.
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// New creates a structured logger per cfg.
func New(cfg Config) *Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "emberkv").
		Logger()

	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// Zerolog returns the underlying zerolog logger, for packages that
// take a zerolog.Logger directly (internal/evict.Scanner,
// internal/walog.Checkpointer).
func (l *Logger) Zerolog() zerolog.Logger { return l.zlog }

func (l *Logger) Info(msg string) *zerolog.Event  { return l.zlog.Info().Str("msg", msg) }
func (l *Logger) Debug(msg string) *zerolog.Event { return l.zlog.Debug().Str("msg", msg) }
func (l *Logger) Warn(msg string) *zerolog.Event  { return l.zlog.Warn().Str("msg", msg) }
func (l *Logger) Error(msg string) *zerolog.Event { return l.zlog.Error().Str("msg", msg) }
func (l *Logger) Fatal(msg string) *zerolog.Event { return l.zlog.Fatal().Str("msg", msg) }

// WithFields returns a logger carrying fields in every subsequent
// event.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// EngineLogger returns a logger scoped to one open store's URI, the
// component tag passed to Engine.Open and every Session it spawns.
func (l *Logger) EngineLogger(uri string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "engine").Str("uri", uri).Logger()}
}

// CheckpointLogger returns a logger scoped to checkpoint/WAL activity.
func (l *Logger) CheckpointLogger() *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", "checkpoint").Logger()}
}

// LogCheckpoint logs a completed checkpoint with its duration and the
// write generation it produced.
func (l *Logger) LogCheckpoint(writeGen uint64, duration time.Duration, err error) {
	event := l.zlog.Info().
		Str("component", "checkpoint").
		Uint64("write_gen", writeGen).
		Dur("duration_ms", duration)
	if err != nil {
		event = l.zlog.Error().
			Str("component", "checkpoint").
			Uint64("write_gen", writeGen).
			Dur("duration_ms", duration).
			Err(err)
	}
	event.Msg("checkpoint completed")
}

// LogEviction logs one eviction sweep's outcome.
func (l *Logger) LogEviction(reclaimed int, bytesInMem int64, bytesDirty int64) {
	l.zlog.Debug().
		Str("component", "evict").
		Int("reclaimed", reclaimed).
		Int64("bytes_in_mem", bytesInMem).
		Int64("bytes_dirty", bytesDirty).
		Msg("eviction sweep completed")
}

// LogStoreOpen logs a store being opened.
func (l *Logger) LogStoreOpen(uri string, cfg string) {
	l.zlog.Info().
		Str("event", "store_open").
		Str("uri", uri).
		Str("config", cfg).
		Msg("emberkv store opened")
}

// LogStoreClose logs a store being closed.
func (l *Logger) LogStoreClose(uri string) {
	l.zlog.Info().
		Str("event", "store_close").
		Str("uri", uri).
		Msg("emberkv store closed")
}

var globalLogger *Logger

// InitGlobal installs cfg as the process-wide logger, also setting
// zerolog's own global log.Logger so packages that log through it
// directly pick up the same configuration.
func InitGlobal(cfg Config) {
	globalLogger = New(cfg)
	log.Logger = globalLogger.zlog
}

// Global returns the process-wide logger, initializing it with
// defaults on first use if InitGlobal was never called.
func Global() *Logger {
	if globalLogger == nil {
		InitGlobal(Config{Level: "info", Pretty: true})
	}
	return globalLogger
}
