package evaluator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/metrics"
	"github.com/flowml/flowml/trainer"
)

// Regression scores mse, rmse, mae and r2.
type Regression struct{}

func (Regression) Task() trainer.Task { return trainer.TaskRegression }

func (r Regression) Evaluate(t trainer.Trainer, X *mat.Dense, yTrue []float64) ([]Metric, error) {
	pred, err := t.Predict(X)
	if err != nil {
		return nil, err
	}
	return r.Score(yTrue, column(pred)), nil
}

// Score computes the regression metric set from raw values.
func (Regression) Score(yTrue, yPred []float64) []Metric {
	return []Metric{
		metricOf("mse", func() (float64, error) { return metrics.MSE(yTrue, yPred) }),
		metricOf("rmse", func() (float64, error) { return metrics.RMSE(yTrue, yPred) }),
		metricOf("mae", func() (float64, error) { return metrics.MAE(yTrue, yPred) }),
		metricOf("r2_score", func() (float64, error) { return metrics.R2(yTrue, yPred) }),
	}
}
