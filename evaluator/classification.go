package evaluator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/metrics"
	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/pkg/log"
	"github.com/flowml/flowml/trainer"
)

// Classification scores accuracy, precision, recall, f1, roc_auc and
// the confusion matrix. The averaging mode is chosen from the
// distinct classes present in y_true alone: exactly two means binary,
// anything else weighted.
type Classification struct{}

func (Classification) Task() trainer.Task { return trainer.TaskClassification }

func (c Classification) Evaluate(t trainer.Trainer, X *mat.Dense, yTrue []float64) ([]Metric, error) {
	pred, err := t.Predict(X)
	if err != nil {
		return nil, err
	}
	// Probability output is optional; families without it just lose
	// roc_auc.
	proba, err := t.PredictProba(X)
	if err != nil {
		proba = nil
	}
	return c.Score(yTrue, column(pred), proba), nil
}

// Score computes the classification metric set from raw labels. The
// probability matrix may be nil; roc_auc then reports null.
func (Classification) Score(yTrue, yPred []float64, proba *mat.Dense) []Metric {
	average := "weighted"
	binary := len(metrics.Classes(yTrue)) == 2
	if binary {
		average = "binary"
	}
	precision, recall, f1, prfErr := metrics.PrecisionRecallF1(yTrue, yPred, average)

	out := []Metric{
		metricOf("accuracy", func() (float64, error) { return metrics.Accuracy(yTrue, yPred) }),
		metricOf("precision", func() (float64, error) { return precision, prfErr }),
		metricOf("recall", func() (float64, error) { return recall, prfErr }),
		metricOf("f1_score", func() (float64, error) { return f1, prfErr }),
		metricOf("roc_auc", func() (float64, error) { return rocAUC(yTrue, proba, binary) }),
	}
	return append(out, confusionOf(yTrue, yPred))
}

// rocAUC scores the positive-class probability column for binary
// targets. Multiclass targets or a missing probability matrix surface
// as errors, which the caller degrades to a null metric.
func rocAUC(yTrue []float64, proba *mat.Dense, binary bool) (float64, error) {
	if !binary {
		return 0, errors.NewNotSupportedError("roc_auc", "evaluator",
			"roc_auc is only defined for binary targets")
	}
	if proba == nil {
		return 0, errors.NewNotSupportedError("roc_auc", "evaluator",
			"no probability matrix was supplied")
	}
	_, cols := proba.Dims()
	col := 0
	if cols > 1 {
		col = 1
	}
	score := make([]float64, len(yTrue))
	for i := range score {
		score[i] = proba.At(i, col)
	}
	return metrics.ROCAUC(yTrue, score)
}

// confusionOf reports the confusion matrix as a nested slice, nil on
// failure like any other metric.
func confusionOf(yTrue, yPred []float64) Metric {
	cm, _, err := metrics.ConfusionMatrix(yTrue, yPred)
	if err != nil {
		logger := log.Logger()
		logger.Warn().
			Err(err).
			Str(log.MetricKey, "confusion_matrix").
			Msg("metric could not be computed, reporting null")
		return Metric{Key: "confusion_matrix"}
	}
	return Metric{Key: "confusion_matrix", Value: cm}
}
