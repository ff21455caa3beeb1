// Package log provides structured logging for flowml built on zerolog.
//
// The package keeps a process-wide logger plus a small set of attribute key
// constants so that training, evaluation and workflow events carry a
// consistent vocabulary (operation, model, task, node, metric) that the
// orchestration layer can index on.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Attribute keys shared across the module.
const (
	OperationKey = "operation"
	ModelKey     = "model"
	TaskKey      = "task"
	SamplesKey   = "samples"
	FeaturesKey  = "features"
	NodeKey      = "node"
	WorkflowKey  = "workflow"
	MetricKey    = "metric"
	DurationKey  = "duration_ms"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Logger returns the process-wide logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the process-wide logger.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	logger = l
}

// SetOutput redirects the process-wide logger to w, keeping its context.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = logger.Output(w)
}

// SetLevel sets the global zerolog level from a string. Unknown levels fall
// back to info.
func SetLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// Nop returns a disabled logger, useful in tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// WithModel returns a logger pre-populated with model and task fields.
func WithModel(name, task string) zerolog.Logger {
	return Logger().With().Str(ModelKey, name).Str(TaskKey, task).Logger()
}

// WithNode returns a logger pre-populated with workflow and node fields.
func WithNode(workflowID, nodeID string) zerolog.Logger {
	return Logger().With().Str(WorkflowKey, workflowID).Str(NodeKey, nodeID).Logger()
}
