package pkg

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

type LogLevel int

const (
	LogLevelNone LogLevel = iota
	LogLevelErrOnly
	LogLevelDebug
)

type LogOptions struct {
	ShouldLog     bool
	ShowDebugLogs bool
}

func (o LogOptions) Level() LogLevel {
	if !o.ShouldLog {
		return LogLevelNone
	}
	if o.ShowDebugLogs {
		return LogLevelDebug
	}
	return LogLevelErrOnly
}

// SinkTimeLayout is the timestamp layout of lines written to a log sink.
const SinkTimeLayout = "2006-01-02 15:04:05"

// Logger is a level-gated set of std loggers with an optional event sink.
// Every line written to the sink has the form "[{timestamp}] {LEVEL}: {message}".
// Sink write failures are dropped.
type Logger struct {
	mu    sync.Mutex
	level LogLevel
	sink  io.Writer

	info_logger  *log.Logger
	error_logger *log.Logger
	warn_logger  *log.Logger
	debug_logger *log.Logger
}

func NewLogger(level LogLevel) *Logger {
	l := &Logger{
		info_logger:  log.New(os.Stdout, "INFO: ", log.Lshortfile|log.LstdFlags),
		error_logger: log.New(os.Stderr, "ERROR: ", log.Lshortfile|log.LstdFlags),
		warn_logger:  log.New(os.Stdout, "WARN: ", log.Lshortfile|log.LstdFlags),
		debug_logger: log.New(os.Stdout, "DEBUG: ", log.Lshortfile|log.LstdFlags),
	}
	l.SetLevel(level)
	return l
}

func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level

	switch level {
	case LogLevelNone:
		l.info_logger.SetOutput(io.Discard)
		l.error_logger.SetOutput(io.Discard)
		l.warn_logger.SetOutput(io.Discard)
		l.debug_logger.SetOutput(io.Discard)
	case LogLevelErrOnly:
		l.error_logger.SetOutput(os.Stderr)

		l.info_logger.SetOutput(io.Discard)
		l.warn_logger.SetOutput(io.Discard)
		l.debug_logger.SetOutput(io.Discard)
	case LogLevelDebug:
		l.error_logger.SetOutput(os.Stderr)

		l.info_logger.SetOutput(os.Stdout)
		l.warn_logger.SetOutput(os.Stdout)
		l.debug_logger.SetOutput(os.Stdout)
	}
}

func (l *Logger) Level() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetSink sets the writer that receives event lines. Pass nil to disable.
func (l *Logger) SetSink(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = w
}

// With returns a logger sharing l's console outputs but writing events to sink.
func (l *Logger) With(sink io.Writer) *Logger {
	n := NewLogger(l.Level())
	n.sink = sink
	return n
}

func (l *Logger) write(std *log.Logger, level string, v []any) {
	msg := strings.TrimSuffix(fmt.Sprintln(v...), "\n")
	std.Output(3, msg)

	l.mu.Lock()
	sink := l.sink
	debug := l.level == LogLevelDebug
	l.mu.Unlock()

	if sink == nil || (level == "DEBUG" && !debug) {
		return
	}
	line := fmt.Sprintf("[%s] %s: %s\n", time.Now().Format(SinkTimeLayout), level, msg)
	sink.Write([]byte(line))
}

func (l *Logger) Info(v ...any)  { l.write(l.info_logger, "INFO", v) }
func (l *Logger) Error(v ...any) { l.write(l.error_logger, "ERROR", v) }
func (l *Logger) Warn(v ...any)  { l.write(l.warn_logger, "WARNING", v) }
func (l *Logger) Debug(v ...any) { l.write(l.debug_logger, "DEBUG", v) }

// AppendFile is a sink that opens, appends to and closes path on every write.
type AppendFile string

func (f AppendFile) Write(p []byte) (int, error) {
	file, err := os.OpenFile(string(f), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	return file.Write(p)
}

// DefaultLogger backs the package-level log helpers.
var DefaultLogger = NewLogger(LogLevelErrOnly)

func SetLogLevel(level LogLevel) {
	DefaultLogger.Info("log level set to", level)
	DefaultLogger.SetLevel(level)
}

func InfoLog(v ...any)  { DefaultLogger.write(DefaultLogger.info_logger, "INFO", v) }
func ErrorLog(v ...any) { DefaultLogger.write(DefaultLogger.error_logger, "ERROR", v) }
func WarnLog(v ...any)  { DefaultLogger.write(DefaultLogger.warn_logger, "WARNING", v) }
func DebugLog(v ...any) { DefaultLogger.write(DefaultLogger.debug_logger, "DEBUG", v) }

func FatalLog(v ...any) {
	DefaultLogger.write(DefaultLogger.error_logger, "ERROR", v)
	os.Exit(1)
}
