package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/hypebeast/go-osc/osc"
)

type LogCategory string

const (
	META    LogCategory = "meta" // For logs about logging
	OSC_IN  LogCategory = "osc_in"
	OSC_OUT LogCategory = "osc_out"
	MIDI_IN LogCategory = "midi_in"
	HTTP    LogCategory = "http"
	APP     LogCategory = "app" // For relay logic: calibration, parameters, pose publishing
)

func strToLogCategory(s string) (LogCategory, bool) {
	switch s {
	case "meta":
		return META, true
	case "osc_in":
		return OSC_IN, true
	case "osc_out":
		return OSC_OUT, true
	case "midi_in":
		return MIDI_IN, true
	case "http":
		return HTTP, true
	case "app":
		return APP, true
	default:
		return "", false
	}
}

// Internal state for loggers per category
var (
	mu               = new(sync.RWMutex)
	loggers          = map[LogCategory]*slog.Logger{}
	categoryLvls     = map[LogCategory]*slog.LevelVar{}
	defaultLogLevels = map[LogCategory]slog.Level{
		META:    slog.LevelInfo,
		OSC_IN:  slog.LevelWarn,
		OSC_OUT: slog.LevelWarn,
		MIDI_IN: slog.LevelWarn,
		HTTP:    slog.LevelInfo,
		APP:     slog.LevelInfo,
	}
	output     io.Writer = os.Stderr
	jsonOutput bool
)

// Configure selects the handler format ("text" or "json") and destination for every category logger. If level is
// non-nil it becomes the level of every category.
//
// Loggers handed out before Configure keep their old handler, so call it before constructing anything that logs.
func Configure(format string, w io.Writer, level *slog.Level) error {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(format) {
	case "", "text":
		jsonOutput = false
	case "json":
		jsonOutput = true
	default:
		return fmt.Errorf("unknown log format %q (want text or json)", format)
	}
	if w != nil {
		output = w
	}
	if level != nil {
		for cat := range defaultLogLevels {
			levelVar(cat).Set(*level)
		}
	}
	loggers = map[LogCategory]*slog.Logger{}
	return nil
}

// ParseLevel parses a level name such as "debug" or "warn".
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// levelVar must be called with mu held for writing.
func levelVar(category LogCategory) *slog.LevelVar {
	lvlVar, ok := categoryLvls[category]
	if !ok {
		lvlVar = new(slog.LevelVar)
		lvlVar.Set(defaultLogLevels[category])
		categoryLvls[category] = lvlVar
	}
	return lvlVar
}

// Get returns a slog.Logger that always has the "category" attribute set.
// Each category gets its own logger instance.
func Get(category LogCategory) *slog.Logger {
	mu.RLock()
	l, ok := loggers[category]
	mu.RUnlock()
	if ok {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	// Double-check after locking
	if l, ok := loggers[category]; ok {
		return l
	}
	opts := &slog.HandlerOptions{Level: levelVar(category)}
	var handler slog.Handler
	if jsonOutput {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	catLogger := slog.New(handler).With("category", category)
	loggers[category] = catLogger
	return catLogger
}

func SetCategoryLevel(category LogCategory, level slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	levelVar(category).Set(level)
}

// CategoryLevel returns the current level of a category.
func CategoryLevel(category LogCategory) slog.Level {
	mu.Lock()
	defer mu.Unlock()
	return levelVar(category).Level()
}

func splitOscPath(path string) []string {
	return strings.Split(strings.TrimPrefix(path, "/"), "/")
}

// OSC handler for runtime config
//
// Routes:
// /meta/logging/{category}/level as int where -4 is Debug, 0 is Info, 4 is Warn, 8 is Error
func HandleOSCSetCategoryLevel(msg *osc.Message) error {
	pathSegs := splitOscPath(msg.Address)

	if len(pathSegs) != 4 || pathSegs[0] != "meta" || pathSegs[1] != "logging" || pathSegs[3] != "level" {
		return fmt.Errorf("not a log level address: %s", msg.Address)
	}
	cat, ok := strToLogCategory(pathSegs[2])
	if !ok {
		return fmt.Errorf("unrecognized log category %q", pathSegs[2])
	}
	if len(msg.Arguments) == 0 {
		return fmt.Errorf("missing level argument for %s", msg.Address)
	}
	var level slog.Level
	switch v := msg.Arguments[0].(type) {
	case int32:
		level = slog.Level(v)
	case int64:
		level = slog.Level(v)
	case float32:
		level = slog.Level(int(v))
	case string:
		parsed, err := ParseLevel(v)
		if err != nil {
			return err
		}
		level = parsed
	default:
		return fmt.Errorf("invalid level type in OSC message: expected int32, got %T", msg.Arguments[0])
	}
	Get(META).Info("Setting category level via OSC",
		"category", cat,
		"level", level)
	SetCategoryLevel(cat, level)
	return nil
}
