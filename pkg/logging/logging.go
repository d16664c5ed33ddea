// Package logging configures the process-wide zerolog logger and provides
// request-scoped logger plumbing for HTTP handlers.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level emitted ("debug", "info", "warn", "error").
	Level string
	// Debug switches output to a human-readable console writer with colors.
	Debug bool
	// Service is attached to every entry as the "service" field.
	Service string
	// Output overrides the destination writer (defaults to os.Stdout).
	Output io.Writer
	// TargetLevels re-levels named components, e.g. {"httpclient": "warn"}
	// to quiet a chatty subsystem without touching the global level.
	TargetLevels map[string]string
}

var (
	mu           sync.RWMutex
	base         zerolog.Logger
	targetLevels map[string]zerolog.Level
	configured   bool
)

// Configure initialises the global logger. The first call wins; later calls
// are ignored so libraries and binaries can both call it safely.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	if configured {
		return
	}
	configured = true
	base = build(cfg)
	targetLevels = parseTargetLevels(cfg.TargetLevels)
}

// Reset clears the configured state. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	configured = false
	targetLevels = nil
}

func build(cfg Config) zerolog.Logger {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
			level = parsed
		}
	} else if env := os.Getenv("LOG_LEVEL"); env != "" {
		if parsed, err := zerolog.ParseLevel(strings.ToLower(env)); err == nil {
			level = parsed
		}
	} else if cfg.Debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stdout
	}
	if cfg.Debug {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			TimeFormat: time.RFC3339,
		}
	}

	ctx := zerolog.New(writer).With().Timestamp().Caller()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	return ctx.Logger()
}

func parseTargetLevels(raw map[string]string) map[string]zerolog.Level {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]zerolog.Level, len(raw))
	for target, lvl := range raw {
		parsed, err := zerolog.ParseLevel(strings.ToLower(lvl))
		if err != nil {
			continue
		}
		out[target] = parsed
	}
	return out
}

func logger() zerolog.Logger {
	mu.RLock()
	ok := configured
	l := base
	mu.RUnlock()
	if !ok {
		Configure(Config{})
		mu.RLock()
		l = base
		mu.RUnlock()
	}
	return l
}

// Base returns the configured base logger.
func Base() zerolog.Logger {
	return logger()
}

// WithComponent returns a child logger annotated with the component name.
// Components listed in TargetLevels are re-leveled accordingly.
func WithComponent(component string) zerolog.Logger {
	l := logger().With().Str("component", component).Logger()
	mu.RLock()
	lvl, ok := targetLevels[component]
	mu.RUnlock()
	if ok {
		l = l.Level(lvl)
	}
	return l
}
