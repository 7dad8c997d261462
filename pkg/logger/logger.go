package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifiers for color-coded logging
type Component string

const (
	ComponentSSOURL   Component = "SSO-URL"
	ComponentToken    Component = "TOKEN"
	ComponentPGP      Component = "PGP"
	ComponentPolicy   Component = "POLICY"
	ComponentStorage  Component = "STORAGE"
	ComponentDelivery Component = "DELIVERY"
)

// ANSI color codes
const (
	colorReset   = "\033[0m"
	colorGreen   = "\033[32m"
	colorBlue    = "\033[34m"
	colorMagenta = "\033[35m"
	colorYellow  = "\033[33m"
	colorCyan    = "\033[36m"
	colorWhite   = "\033[37m"
)

// componentColors maps components to their display colors
var componentColors = map[Component]string{
	ComponentSSOURL:   colorWhite,
	ComponentToken:    colorBlue,
	ComponentPGP:      colorMagenta,
	ComponentPolicy:   colorCyan,
	ComponentStorage:  colorYellow,
	ComponentDelivery: colorGreen,
}

// ColorHandler is a custom slog handler that adds color-coded component output
type ColorHandler struct {
	slog.Handler
	out       io.Writer
	mu        *sync.Mutex
	component Component
	useColors bool
	level     slog.Leveler
	attrs     []slog.Attr
}

// NewColorHandler creates a new color-coded handler
func NewColorHandler(out io.Writer, component Component, useColors bool, level slog.Leveler) *ColorHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{
		Level: level,
	}
	return &ColorHandler{
		Handler:   slog.NewTextHandler(out, opts),
		out:       out,
		mu:        &sync.Mutex{},
		component: component,
		useColors: useColors,
		level:     level,
	}
}

// Enabled reports whether records at the given level are written
func (h *ColorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle processes a log record with color-coded output
func (h *ColorHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	color, reset := componentColors[h.component], colorReset
	if !h.useColors {
		color, reset = "", ""
	}

	// Format: LEVEL [COMPONENT] message attrs...
	fmt.Fprintf(h.out, "%s%-5s [%s]%s %s", color, levelTag(r.Level), h.component, reset, r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.out, " %s=%v", a.Key, a.Value)
		return true
	})
	fmt.Fprintln(h.out)

	return nil
}

// WithAttrs returns a new handler with the given attributes
func (h *ColorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.Handler = h.Handler.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &clone
}

// WithGroup returns a new handler with the given group
func (h *ColorHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.Handler = h.Handler.WithGroup(name)
	return &clone
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// ParseLevel converts a level name (debug, info, warn, error) to a slog.Level.
// Unknown names fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// level is shared by every logger created with New so that SetLevel applies
// to loggers created before the config was loaded.
var level = new(slog.LevelVar)

// SetLevel changes the level of all loggers created with New
func SetLevel(l slog.Level) {
	level.Set(l)
}

// Logger wraps slog.Logger with component-specific functionality
type Logger struct {
	*slog.Logger
	component Component
}

// New creates a new component-specific logger writing to stderr. Stdout is
// reserved for the generated URL or token.
func New(component Component) *Logger {
	useColors := os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
	handler := NewColorHandler(os.Stderr, component, useColors, level)
	return &Logger{
		Logger:    slog.New(handler),
		component: component,
	}
}

// NewWithWriter creates a logger with a custom writer
func NewWithWriter(component Component, w io.Writer, useColors bool, lvl slog.Leveler) *Logger {
	handler := NewColorHandler(w, component, useColors, lvl)
	return &Logger{
		Logger:    slog.New(handler),
		component: component,
	}
}

// Discard returns a logger that drops everything
func Discard() *Logger {
	return NewWithWriter(ComponentSSOURL, io.Discard, false, slog.LevelError+1)
}

// Component returns the component this logger reports as
func (l *Logger) Component() Component {
	return l.component
}

// Success logs a success message
func (l *Logger) Success(msg string, args ...any) {
	l.Info("✅ "+msg, args...)
}

// Deny logs a denial message
func (l *Logger) Deny(msg string, args ...any) {
	l.Error("❌ "+msg, args...)
}

// Allow logs an allow decision
func (l *Logger) Allow(msg string, args ...any) {
	l.Info("✅ ALLOW: "+msg, args...)
}

// Section logs a section header
func (l *Logger) Section(title string) {
	bar := strings.Repeat("═", 50)
	l.Debug(bar)
	l.Debug(" " + title)
	l.Debug(bar)
}
