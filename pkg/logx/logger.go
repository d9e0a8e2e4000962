package logx

import (
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// Logger is a value-type structured logger. A Logger from a Service
// follows later Service.Apply calls. The zero value discards everything.
type Logger struct {
	svc    *Service
	fixed  *zerolog.Logger
	fields []Field
}

var nopLogger = zerolog.Nop()

// Nop returns a logger that never writes. Unlike the zero value it is not
// IsZero, so constructors keep it as given.
func Nop() Logger { return Logger{fixed: &nopLogger} }

// NewConsole is a standalone console logger for use before the Service
// exists (bootstrap, config errors).
func NewConsole(level string) Logger {
	return fixedLogger(newConsoleWriter(os.Stdout), parseLevel(level, zerolog.InfoLevel))
}

// NewWriter writes JSON lines to w. Handy in tests.
func NewWriter(w io.Writer, level string) Logger {
	return fixedLogger(w, parseLevel(level, zerolog.DebugLevel))
}

func fixedLogger(w io.Writer, lvl zerolog.Level) Logger {
	setGlobals()
	zl := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return Logger{fixed: &zl}
}

func (l Logger) IsZero() bool { return l.svc == nil && l.fixed == nil && len(l.fields) == 0 }

func (l Logger) zl() zerolog.Logger {
	switch {
	case l.svc != nil:
		return l.svc.current()
	case l.fixed != nil:
		return *l.fixed
	default:
		return nopLogger
	}
}

// Enabled reports whether level would be written.
func (l Logger) Enabled(level Level) bool {
	zl := l.zl()
	return level >= zl.GetLevel()
}

// With returns a child logger carrying fields on every line.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return l
}

func (l Logger) Debug(msg string, fields ...Field) { l.write(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(zerolog.ErrorLevel, msg, fields) }

// write must be called directly from the level methods: the caller skip
// depth depends on it.
func (l Logger) write(level zerolog.Level, msg string, fields []Field) {
	zl := l.zl()
	e := zl.WithLevel(level)
	if e == nil {
		return
	}
	if _, file, line, ok := runtime.Caller(2); ok {
		e.Str(zerolog.CallerFieldName, filepath.Base(file)+":"+strconv.Itoa(line))
	}
	applyFields(e, l.fields, fields)
	e.Msg(msg)
}

func setGlobals() {
	zerolog.TimeFieldFormat = timeFormat
	zerolog.ErrorFieldName = "err"
}

func newConsoleWriter(w io.Writer) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: timeFormat,
		FormatCaller: func(i any) string {
			s, _ := i.(string)
			return s
		},
	}
}

// parseLevel accepts zerolog names plus "warning"; anything else is def.
func parseLevel(s string, def zerolog.Level) zerolog.Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	if s == "" {
		return def
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil || lvl == zerolog.NoLevel {
		return def
	}
	return lvl
}

// ValidLevel reports whether s names a level. Empty is valid.
func ValidLevel(s string) bool {
	if strings.TrimSpace(s) == "" {
		return true
	}
	const sentinel = zerolog.Level(-42)
	return parseLevel(s, sentinel) != sentinel
}
