// Package evaluator scores fitted trainers on held-out data. Each
// evaluator produces an ordered metric list; a metric that cannot be
// computed is reported with a nil value rather than failing the whole
// evaluation.
package evaluator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/log"
	"github.com/flowml/flowml/trainer"
)

// Metric is one named score. Value is usually a float64, a nested
// numeric slice for structured metrics like the confusion matrix, and
// nil when the metric was undefined or its computation failed on this
// data.
type Metric struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// Evaluator scores predictions for one task family.
type Evaluator interface {
	Task() trainer.Task
	Evaluate(t trainer.Trainer, X *mat.Dense, yTrue []float64) ([]Metric, error)
}

// ForTask returns the evaluator matching a trainer task, or false
// when the task has no evaluation (dimensionality reduction).
func ForTask(task trainer.Task) (Evaluator, bool) {
	switch task {
	case trainer.TaskClassification:
		return Classification{}, true
	case trainer.TaskRegression:
		return Regression{}, true
	case trainer.TaskClustering:
		return Clustering{}, true
	}
	return nil, false
}

// metricOf wraps one metric computation, degrading failure to a nil
// value with a log line instead of an error.
func metricOf(key string, fn func() (float64, error)) Metric {
	v, err := fn()
	if err != nil {
		logger := log.Logger()
		logger.Warn().
			Err(err).
			Str(log.MetricKey, key).
			Msg("metric could not be computed, reporting null")
		return Metric{Key: key}
	}
	return Metric{Key: key, Value: v}
}

func column(m *mat.Dense) []float64 {
	rows, _ := m.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = m.At(i, 0)
	}
	return out
}
