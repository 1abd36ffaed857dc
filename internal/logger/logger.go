package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel = zerolog.Level

const (
	DEBUG = zerolog.DebugLevel
	INFO  = zerolog.InfoLevel
	WARN  = zerolog.WarnLevel
	ERROR = zerolog.ErrorLevel
	FATAL = zerolog.FatalLevel
)

var (
	defaultLogger = newLogger(os.Stderr).Level(INFO)
)

func newLogger(w io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.DateTime, NoColor: true}

	return zerolog.New(output).With().Timestamp().Str("app", "FLEETSSH").Logger()
}

func SetOutput(w io.Writer) {
	level := defaultLogger.GetLevel()
	defaultLogger = newLogger(w).Level(level)
}

// SetLevel accepts zerolog level names (debug, info, warn, error, fatal).
func SetLevel(level string) error {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))

	if err != nil {
		return err
	}

	defaultLogger = defaultLogger.Level(parsed)

	return nil
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug().Msgf(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info().Msgf(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn().Msgf(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error().Msgf(format, args...)
}

func Fatal(format string, args ...interface{}) {
	defaultLogger.Fatal().Msgf(format, args...)
}
