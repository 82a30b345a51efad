package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// The process sink. Everything the daemon writes, including captured
// container output, funnels through this one logger; packages derive child
// loggers from it instead of keeping their own.
var (
	mu   sync.RWMutex
	sink = newSink(false, nil)
)

func newSink(json bool, out io.Writer) zerolog.Logger {
	if out == nil {
		out = os.Stderr
	}
	if !json {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// Setup replaces the sink. level takes the manifest/flag spelling; an
// unrecognized level falls back to info with a warning. out defaults to
// stderr.
func Setup(level string, json bool, out io.Writer) {
	mu.Lock()
	sink = newSink(json, out)
	mu.Unlock()
	SetLevel(level)
}

// SetLevel changes the global level at runtime. The manifest's
// Logging.Console.Level is applied through this on every successful reload.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		Component("log").Warn().Str("level", level).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Component derives a child logger for one daemon component.
func Component(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return sink.With().Str("component", name).Logger()
}

// Service derives a child logger scoped to one service.
func Service(name string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return sink.With().Str("service", name).Logger()
}

// Container derives a child logger scoped to one container of a service.
func Container(service, container string) zerolog.Logger {
	return Service(service).With().Str("container", container).Logger()
}
