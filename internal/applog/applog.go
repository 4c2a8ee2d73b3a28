// Package applog sets up zerolog for the process and bridges pion's logging
// interface onto it, so library and application logs share one stream.
package applog

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Setup installs the global zerolog logger. Output goes to stderr (console or
// JSON) and, uncoloured, to every tee writer.
func Setup(level string, jsonOut bool, tees ...io.Writer) (zerolog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return zerolog.Nop(), err
	}

	var primary io.Writer = os.Stderr
	if !jsonOut {
		primary = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}
	}
	writers := []io.Writer{primary}
	for _, w := range tees {
		writers = append(writers, zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.TimeOnly})
	}

	zerolog.SetGlobalLevel(lvl)
	l := zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()
	log.Logger = l

	// Anything still on the standard logger lands in the same stream.
	stdlog.SetFlags(0)
	stdlog.SetOutput(l)
	return l, nil
}

// SetLevel changes the global level, e.g. after a config reload.
func SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	if lvl != zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(lvl)
		log.Info().Str("level", lvl.String()).Msg("log level changed")
	}
	return nil
}

func parseLevel(level string) (zerolog.Level, error) {
	if strings.TrimSpace(level) == "" {
		return zerolog.InfoLevel, nil
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", level, err)
	}
	return lvl, nil
}

// LoggerFactory hands out pion LeveledLoggers backed by a zerolog logger.
type LoggerFactory struct {
	base zerolog.Logger
}

var _ logging.LoggerFactory = (*LoggerFactory)(nil)

func NewLoggerFactory(base zerolog.Logger) *LoggerFactory {
	return &LoggerFactory{base: base}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{l: f.base.With().Str("scope", scope).Logger()}
}

type leveled struct {
	l zerolog.Logger
}

func (z *leveled) Trace(msg string)                  { z.l.Trace().Msg(msg) }
func (z *leveled) Tracef(format string, args ...any) { z.l.Trace().Msgf(format, args...) }
func (z *leveled) Debug(msg string)                  { z.l.Debug().Msg(msg) }
func (z *leveled) Debugf(format string, args ...any) { z.l.Debug().Msgf(format, args...) }
func (z *leveled) Info(msg string)                   { z.l.Info().Msg(msg) }
func (z *leveled) Infof(format string, args ...any)  { z.l.Info().Msgf(format, args...) }
func (z *leveled) Warn(msg string)                   { z.l.Warn().Msg(msg) }
func (z *leveled) Warnf(format string, args ...any)  { z.l.Warn().Msgf(format, args...) }
func (z *leveled) Error(msg string)                  { z.l.Error().Msg(msg) }
func (z *leveled) Errorf(format string, args ...any) { z.l.Error().Msgf(format, args...) }
