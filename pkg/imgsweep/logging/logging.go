// Package logging provides component loggers for imgsweep backed by
// charmbracelet/log, writing to a rotating file and optionally to stderr.
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	logging.Get("runner").Info("run started", "target", dir)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/jamesainslie/imgsweep/pkg/imgsweep/config"
	"github.com/jamesainslie/imgsweep/pkg/imgsweep/types"
)

// Level is a logging severity.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

// String returns the lowercase level name.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a level name. "warning" is accepted as an alias of warn.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "warning" {
		return LevelWarn, nil
	}
	for lvl, n := range levelNames {
		if n == name {
			return lvl, nil
		}
	}
	return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
}

// Config configures the logging system.
type Config struct {
	// Level is the default log level.
	Level string

	// Path is the log file path. Empty uses config.DefaultLogPath().
	Path string

	Rotation RotationConfig

	// Components maps component names to level overrides.
	Components map[string]string

	// ConsoleLevel enables stderr output at this level. Empty disables it.
	ConsoleLevel string

	// TUIMode suppresses console output and keeps a ring of recent entries
	// for the progress view.
	TUIMode bool
}

// FromSettings converts the logging section of the application config.
func FromSettings(s config.LoggingConfig) (Config, error) {
	rot := DefaultRotationConfig()
	if s.Rotation.MaxSize != "" {
		size, err := types.ParseSize(s.Rotation.MaxSize)
		if err != nil {
			return Config{}, fmt.Errorf("logging.rotation.max_size: %w", err)
		}
		rot.MaxSize = size
	}
	rot.MaxAge = s.Rotation.MaxAge
	rot.MaxBackups = s.Rotation.MaxBackups
	rot.Daily = s.Rotation.Daily

	return Config{
		Level:      s.Level,
		Path:       s.Path,
		Rotation:   rot,
		Components: s.Components,
	}, nil
}

// Entry is a single log record delivered to subscribers.
type Entry struct {
	Time      time.Time
	Level     Level
	Component string
	Message   string
}

// Logger is a component-scoped logger.
type Logger struct {
	component string
	file      *log.Logger
	console   *log.Logger
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, keyvals ...interface{}) { l.emit(LevelDebug, msg, keyvals) }

// Info logs an info message.
func (l *Logger) Info(msg string, keyvals ...interface{}) { l.emit(LevelInfo, msg, keyvals) }

// Warn logs a warning.
func (l *Logger) Warn(msg string, keyvals ...interface{}) { l.emit(LevelWarn, msg, keyvals) }

// Error logs an error.
func (l *Logger) Error(msg string, keyvals ...interface{}) { l.emit(LevelError, msg, keyvals) }

// With returns a logger carrying additional key/value context.
func (l *Logger) With(keyvals ...interface{}) *Logger {
	out := &Logger{component: l.component, file: l.file.With(keyvals...)}
	if l.console != nil {
		out.console = l.console.With(keyvals...)
	}
	return out
}

func (l *Logger) emit(level Level, msg string, keyvals []interface{}) {
	for _, dst := range []*log.Logger{l.file, l.console} {
		if dst == nil {
			continue
		}
		switch level {
		case LevelDebug:
			dst.Debug(msg, keyvals...)
		case LevelInfo:
			dst.Info(msg, keyvals...)
		case LevelWarn:
			dst.Warn(msg, keyvals...)
		case LevelError:
			dst.Error(msg, keyvals...)
		}
	}

	if level < l.threshold() {
		return
	}
	std.publish(Entry{Time: time.Now(), Level: level, Component: l.component, Message: msg})
}

func (l *Logger) threshold() Level {
	switch l.file.GetLevel() {
	case log.DebugLevel:
		return LevelDebug
	case log.WarnLevel:
		return LevelWarn
	case log.ErrorLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

type registry struct {
	mu          sync.RWMutex
	ready       bool
	writer      *RotatingWriter
	level       Level
	components  map[string]Level
	loggers     map[string]*Logger
	subscribers map[chan Entry]struct{}

	console      bool
	consoleLevel Level
	tuiMode      bool
	recent       *Ring
}

var std = &registry{
	components:  make(map[string]Level),
	loggers:     make(map[string]*Logger),
	subscribers: make(map[chan Entry]struct{}),
}

// Init configures the logging system. Loggers obtained before Init discard
// their output and are rebuilt in place.
func Init(cfg Config) error {
	level, err := ParseLevel(orDefault(cfg.Level, "info"))
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]Level, len(cfg.Components))
	for comp, name := range cfg.Components {
		lvl, err := ParseLevel(name)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = lvl
	}

	var consoleLevel Level
	console := cfg.ConsoleLevel != "" && !cfg.TUIMode
	if console {
		if consoleLevel, err = ParseLevel(cfg.ConsoleLevel); err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
	}

	writer, err := NewRotatingWriter(orDefault(cfg.Path, config.DefaultLogPath()), cfg.Rotation)
	if err != nil {
		return fmt.Errorf("creating log writer: %w", err)
	}

	std.mu.Lock()
	defer std.mu.Unlock()

	if std.writer != nil {
		_ = std.writer.Close()
	}

	std.writer = writer
	std.level = level
	std.components = components
	std.console = console
	std.consoleLevel = consoleLevel
	std.tuiMode = cfg.TUIMode
	std.recent = nil
	if cfg.TUIMode {
		std.recent = NewRing(DefaultRingSize)
	}
	std.ready = true

	for name := range std.loggers {
		std.loggers[name] = std.build(name)
	}
	return nil
}

// Get returns the logger for component, creating it on first use.
func Get(component string) *Logger {
	std.mu.RLock()
	l, ok := std.loggers[component]
	std.mu.RUnlock()
	if ok {
		return l
	}

	std.mu.Lock()
	defer std.mu.Unlock()
	if l, ok := std.loggers[component]; ok {
		return l
	}
	l = std.build(component)
	std.loggers[component] = l
	return l
}

// build must be called with mu held.
func (r *registry) build(component string) *Logger {
	level := r.level
	if lvl, ok := r.components[component]; ok {
		level = lvl
	}

	if !r.ready {
		return &Logger{
			component: component,
			file:      log.NewWithOptions(io.Discard, log.Options{Level: level.charm(), Prefix: component}),
		}
	}

	l := &Logger{
		component: component,
		file: log.NewWithOptions(r.writer, log.Options{
			Level:           level.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339,
			Prefix:          component,
		}),
	}
	if r.console && !r.tuiMode {
		l.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           r.consoleLevel.charm(),
			ReportTimestamp: true,
			TimeFormat:      "15:04:05",
			Prefix:          component,
		})
	}
	return l
}

// Close flushes the log file and closes every subscription.
func Close() error {
	std.mu.Lock()
	defer std.mu.Unlock()

	if !std.ready {
		return nil
	}

	for ch := range std.subscribers {
		close(ch)
		delete(std.subscribers, ch)
	}

	var err error
	if std.writer != nil {
		err = std.writer.Close()
		std.writer = nil
	}

	std.ready = false
	std.recent = nil
	std.loggers = make(map[string]*Logger)
	std.components = make(map[string]Level)

	if err != nil {
		return fmt.Errorf("closing log writer: %w", err)
	}
	return nil
}

// Subscribe returns a buffered channel receiving every emitted entry.
// Entries are dropped rather than blocking the caller when it is full.
func Subscribe() <-chan Entry {
	std.mu.Lock()
	defer std.mu.Unlock()

	ch := make(chan Entry, 100)
	std.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe stops delivery to ch. The channel is left open.
func Unsubscribe(ch <-chan Entry) {
	std.mu.Lock()
	defer std.mu.Unlock()

	for sub := range std.subscribers {
		if sub == ch {
			delete(std.subscribers, sub)
			return
		}
	}
}

// Recent returns the ring of recent entries kept in TUI mode, or nil.
func Recent() *Ring {
	std.mu.RLock()
	defer std.mu.RUnlock()
	return std.recent
}

func (r *registry) publish(e Entry) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.recent != nil {
		r.recent.Add(e)
	}
	for ch := range r.subscribers {
		select {
		case ch <- e:
		default:
		}
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
