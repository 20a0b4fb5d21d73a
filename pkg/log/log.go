package log

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/context"
	"gopkg.in/natefinch/lumberjack.v2"

	formatter "github.com/antonfisher/nested-logrus-formatter"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

const RequestIDKey = "request_id"

type Fields = logrus.Fields

type options struct {
	level string
	dir   string
}

type Option func(*options)

// WithLevel sets the minimum level by name ("debug", "info", ...). Unknown
// names keep the debug default.
func WithLevel(level string) Option {
	return func(o *options) {
		o.level = level
	}
}

// WithDir sets the directory of the rotating log file.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// NewLogger returns the process wide logger. Options only apply to the first
// call.
func NewLogger(opts ...Option) *logrus.Logger {
	once.Do(func() {
		o := options{
			level: "debug",
			dir:   "./storage/logs",
		}
		for _, opt := range opts {
			opt(&o)
		}

		logger = logrus.New()
		level, err := logrus.ParseLevel(o.level)
		if err != nil {
			level = logrus.DebugLevel
		}
		logger.SetLevel(level)

		logger.SetFormatter(&formatter.Formatter{
			NoColors:        false,
			TimestampFormat: "02 Jan 06 - 15:04",
			HideKeys:        false,
			CallerFirst:     true,
			CustomCallerFormatter: func(f *runtime.Frame) string {
				s := strings.Split(f.Function, ".")
				funcName := s[len(s)-1]
				return fmt.Sprintf(" \x1b[%dm[%s:%d][%s()]", 34, path.Base(f.File), f.Line, funcName)
			},
		})

		writers := []io.Writer{os.Stderr}

		if os.Getenv("APP_ENV") != "test" {
			fileWriter := &lumberjack.Logger{
				Filename:   filepath.Join(o.dir, fmt.Sprintf("classifier-%s.log", time.Now().Format("2006-01-02"))),
				LocalTime:  true,
				Compress:   true,
				MaxSize:    100,
				MaxAge:     7,
				MaxBackups: 3,
			}
			writers = append(writers, fileWriter)
		}

		logger.SetOutput(io.MultiWriter(writers...))
		logger.SetReportCaller(true)
	})

	return logger
}

func entry(fields Fields) *logrus.Entry {
	if fields == nil {
		fields = Fields{}
	}
	return NewLogger().WithFields(fields)
}

func Debug(fields Fields, msg string) {
	entry(fields).Debug(msg)
}

func Info(fields Fields, msg string) {
	entry(fields).Info(msg)
}

func Warn(fields Fields, msg string) {
	entry(fields).Warn(msg)
}

func Error(fields Fields, msg string) {
	entry(fields).Error(msg)
}

// ErrorWithTraceID logs msg at error level and returns the id that ties the
// log line to the response: the request id when present, a fresh uuid
// otherwise.
func ErrorWithTraceID(fields Fields, msg string) string {
	if fields == nil {
		fields = Fields{}
	}

	var traceID string
	if reqID, ok := fields["request_id"].(string); ok && reqID != "" && reqID != "unknown" {
		traceID = reqID
	} else {
		id, err := uuid.NewRandom()
		if err != nil {
			Error(Fields{
				"error": err.Error(),
			}, "[log.ErrorWithTraceID] failed to generate trace ID")
			traceID = "unknown"
		} else {
			traceID = id.String()
		}
	}

	fields["trace_id"] = traceID
	entry(fields).Error(msg)

	return traceID
}

func Fatal(fields Fields, msg string) {
	entry(fields).Fatal(msg)
}

func WithRequestID(ctx context.Context) *logrus.Entry {
	requestID := "unknown"
	if ctx != nil {
		if id, ok := ctx.Value(RequestIDKey).(string); ok && id != "" {
			requestID = id
		}
	}

	return NewLogger().WithField("request_id", requestID)
}
