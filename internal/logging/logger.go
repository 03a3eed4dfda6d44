// Package logging wraps zerolog in the leveled, field-based interface the
// rest of the fuzzer logs through.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const timestampLayout = "[2006-01-02][15:04:05]"

// Logger is a thin leveled wrapper over zerolog.Logger, carrying the
// "[YYYY-MM-DD][HH:MM:SS]" prefix the fuzzer's user-visible error log
// requires.
type Logger struct {
	z zerolog.Logger
}

// Config configures a Logger.
type Config struct {
	Level  string // debug, info, warn, error
	Pretty bool   // console (text) writer instead of JSON
}

// New builds a Logger writing to w.
func New(cfg Config, w io.Writer) *Logger {
	if w == nil {
		w = os.Stdout
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: timestampLayout}
	}
	zerolog.TimeFieldFormat = timestampLayout
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	z := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{z: z}
}

// Default returns a pretty logger at info level writing to stderr, used
// before configuration is loaded.
func Default() *Logger {
	return New(Config{Level: "info", Pretty: true}, os.Stderr)
}

func withFields(e *zerolog.Event, kv []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(kv); i += 2 {
		key, _ := kv[i].(string)
		e = e.Interface(key, kv[i+1])
	}
	return e
}

func (l *Logger) Debug(msg string, kv ...interface{}) { withFields(l.z.Debug(), kv).Msg(msg) }
func (l *Logger) Info(msg string, kv ...interface{})  { withFields(l.z.Info(), kv).Msg(msg) }
func (l *Logger) Warn(msg string, kv ...interface{})  { withFields(l.z.Warn(), kv).Msg(msg) }
func (l *Logger) Error(msg string, kv ...interface{}) { withFields(l.z.Error(), kv).Msg(msg) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { withFields(l.z.Fatal(), kv).Msg(msg) }

// WithField returns a child Logger with one field attached to every
// subsequent entry.
func (l *Logger) WithField(key string, val interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, val).Logger()}
}

// Elapsed logs msg with a "took" duration field, used for coarse phase
// timing around boot/dispatch.
func (l *Logger) Elapsed(msg string, start time.Time, kv ...interface{}) {
	kv = append(kv, "took", time.Since(start).String())
	withFields(l.z.Info(), kv).Msg(msg)
}
