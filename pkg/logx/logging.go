package logx

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats for the stderr sink. The file sink is always JSON.
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

type Config struct {
	Level  string
	Format string
	// Output replaces stderr; tests use it to capture records.
	Output io.Writer
	File   FileConfig
}

// FileConfig adds a size-rotated JSON file when Path is set.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
}

func init() {
	zerolog.ErrorFieldName = "err"
	zerolog.TimeFieldFormat = timeFormat
	zerolog.CallerMarshalFunc = func(_ uintptr, file string, line int) string {
		return filepath.Base(file) + ":" + strconv.Itoa(line)
	}
}

// Logger writes structured records. The zero value discards everything.
type Logger struct {
	zl     *zerolog.Logger
	fields []Field
}

func Nop() Logger {
	zl := zerolog.Nop()
	return Logger{zl: &zl}
}

// NewWriter logs JSON to w.
func NewWriter(w io.Writer, level string) Logger {
	zl := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return Logger{zl: &zl}
}

func (l Logger) IsZero() bool { return l.zl == nil }

// With returns a logger that adds fields to every record.
func (l Logger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	l.fields = append(append([]Field(nil), l.fields...), fields...)
	return l
}

func (l Logger) Trace(msg string, fields ...Field) { l.write(zerolog.TraceLevel, msg, fields) }
func (l Logger) Debug(msg string, fields ...Field) { l.write(zerolog.DebugLevel, msg, fields) }
func (l Logger) Info(msg string, fields ...Field)  { l.write(zerolog.InfoLevel, msg, fields) }
func (l Logger) Warn(msg string, fields ...Field)  { l.write(zerolog.WarnLevel, msg, fields) }
func (l Logger) Error(msg string, fields ...Field) { l.write(zerolog.ErrorLevel, msg, fields) }

// callerSkip steps over write and the level method.
const callerSkip = 2

func (l Logger) write(level zerolog.Level, msg string, fields []Field) {
	if l.zl == nil {
		return
	}
	e := l.zl.WithLevel(level)
	if e == nil {
		return
	}
	e.Caller(callerSkip)
	for _, f := range l.fields {
		if f != nil {
			f(e)
		}
	}
	for _, f := range fields {
		if f != nil {
			f(e)
		}
	}
	e.Msg(msg)
}

// Service owns the sinks behind the process logger.
type Service struct {
	mu   sync.Mutex
	file *lumberjack.Logger
}

// New builds the process logger from cfg. A file that cannot be prepared
// is reported on the stderr sink and skipped.
func New(cfg Config) (*Service, Logger) {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if !strings.EqualFold(strings.TrimSpace(cfg.Format), FormatJSON) {
		out = zerolog.ConsoleWriter{
			Out:          out,
			TimeFormat:   timeFormat,
			FormatCaller: func(i any) string { s, _ := i.(string); return s },
		}
	}

	s := &Service{}
	writers := []io.Writer{out}
	var fileErr error
	if path := strings.TrimSpace(cfg.File.Path); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			fileErr = fmt.Errorf("log dir: %w", err)
		} else {
			s.file = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    positive(cfg.File.MaxSizeMB, 50),
				MaxBackups: positive(cfg.File.MaxBackups, 5),
			}
			writers = append(writers, zerolog.SyncWriter(s.file))
		}
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(parseLevel(cfg.Level)).
		With().Timestamp().Logger()
	log := Logger{zl: &zl}
	if fileErr != nil {
		log.Warn("log file disabled", String("path", cfg.File.Path), Err(fileErr))
	}
	return s, log
}

// Close flushes and closes the log file, if any.
func (s *Service) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	f := s.file
	s.file = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

// parseLevel falls back to info for anything it does not recognize.
func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func positive(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
