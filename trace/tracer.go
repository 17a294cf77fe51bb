package trace

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents the verbosity of tracing
type Level int

const (
	LevelOff Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the string representation of Level
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "OFF"
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// Component identifies the engine component emitting a trace
type Component string

const (
	ComponentCatalog   Component = "CATALOG"
	ComponentPipeline  Component = "PIPELINE"
	ComponentPlanner   Component = "PLANNER"
	ComponentGroup     Component = "GROUP"
	ComponentJoin      Component = "JOIN"
	ComponentSort      Component = "SORT"
	ComponentSource    Component = "SOURCE"
	ComponentExec      Component = "EXEC"
	ComponentPreview   Component = "PREVIEW"
	ComponentDataFrame Component = "DATAFRAME"
)

var allComponents = []Component{
	ComponentCatalog, ComponentPipeline, ComponentPlanner, ComponentGroup,
	ComponentJoin, ComponentSort, ComponentSource, ComponentExec,
	ComponentPreview, ComponentDataFrame,
}

// Entry is a single recorded trace event
type Entry struct {
	Timestamp time.Time
	Level     Level
	Component Component
	Message   string
	Context   map[string]interface{}
}

// Tracer records and prints trace events for engine components
type Tracer struct {
	level      Level
	enabled    map[Component]bool
	mutex      sync.RWMutex
	entries    []Entry
	maxEntries int
}

var globalTracer *Tracer
var tracerOnce sync.Once

// Get returns the global tracer instance
func Get() *Tracer {
	tracerOnce.Do(func() {
		globalTracer = New()
	})
	return globalTracer
}

// New creates a tracer configured from environment variables
func New() *Tracer {
	t := &Tracer{
		level:      LevelOff,
		enabled:    make(map[Component]bool),
		maxEntries: 1000, // keep the last 1000 entries
	}
	t.configureFromEnv()
	return t
}

// configureFromEnv reads CLOJASK_TRACE_LEVEL and CLOJASK_TRACE_COMPONENTS
func (t *Tracer) configureFromEnv() {
	switch strings.ToUpper(os.Getenv("CLOJASK_TRACE_LEVEL")) {
	case "OFF":
		t.level = LevelOff
	case "ERROR":
		t.level = LevelError
	case "WARN":
		t.level = LevelWarn
	case "INFO":
		t.level = LevelInfo
	case "DEBUG":
		t.level = LevelDebug
	}

	if spec := os.Getenv("CLOJASK_TRACE_COMPONENTS"); spec != "" {
		if strings.ToUpper(spec) == "ALL" {
			for _, comp := range allComponents {
				t.enabled[comp] = true
			}
		} else {
			for _, comp := range strings.Split(spec, ",") {
				t.enabled[Component(strings.TrimSpace(strings.ToUpper(comp)))] = true
			}
		}
	} else if t.level > LevelOff {
		// A level without a component list means trace everything
		for _, comp := range allComponents {
			t.enabled[comp] = true
		}
	}
}

// SetLevel sets the trace level
func (t *Tracer) SetLevel(level Level) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.level = level
}

// EnableComponent enables tracing for a specific component
func (t *Tracer) EnableComponent(component Component) {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.enabled[component] = true
}

// IsEnabled reports whether a level/component pair would be recorded
func (t *Tracer) IsEnabled(level Level, component Component) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.level >= level && t.enabled[component]
}

func (t *Tracer) trace(level Level, component Component, message string, context map[string]interface{}) {
	if !t.IsEnabled(level, component) {
		return
	}

	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Component: component,
		Message:   message,
		Context:   context,
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.entries = append(t.entries, entry)
	if len(t.entries) > t.maxEntries {
		t.entries = t.entries[len(t.entries)-t.maxEntries:]
	}

	t.printEntry(entry)
}

func (t *Tracer) printEntry(entry Entry) {
	timestamp := entry.Timestamp.Format("15:04:05.000")
	fmt.Printf("[%s] %s/%s: %s", timestamp, entry.Level, entry.Component, entry.Message)
	if len(entry.Context) > 0 {
		fmt.Printf(" |")
		for k, v := range entry.Context {
			fmt.Printf(" %s=%v", k, v)
		}
	}
	fmt.Println()
}

// Error logs an error-level trace
func (t *Tracer) Error(component Component, message string, context ...map[string]interface{}) {
	t.trace(LevelError, component, message, first(context))
}

// Warn logs a warning-level trace
func (t *Tracer) Warn(component Component, message string, context ...map[string]interface{}) {
	t.trace(LevelWarn, component, message, first(context))
}

// Info logs an info-level trace
func (t *Tracer) Info(component Component, message string, context ...map[string]interface{}) {
	t.trace(LevelInfo, component, message, first(context))
}

// Debug logs a debug-level trace
func (t *Tracer) Debug(component Component, message string, context ...map[string]interface{}) {
	t.trace(LevelDebug, component, message, first(context))
}

func first(context []map[string]interface{}) map[string]interface{} {
	if len(context) > 0 {
		return context[0]
	}
	return map[string]interface{}{}
}

// Entries returns a copy of the recorded trace entries
func (t *Tracer) Entries() []Entry {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	entries := make([]Entry, len(t.entries))
	copy(entries, t.entries)
	return entries
}

// Clear discards all recorded entries
func (t *Tracer) Clear() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.entries = nil
}

// Context builds a context map from alternating key/value pairs
func Context(pairs ...interface{}) map[string]interface{} {
	context := make(map[string]interface{})
	for i := 0; i < len(pairs)-1; i += 2 {
		if key, ok := pairs[i].(string); ok {
			context[key] = pairs[i+1]
		}
	}
	return context
}
