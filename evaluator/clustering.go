package evaluator

import (
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/metrics"
	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/trainer"
)

// Clustering scores the fitted cluster assignment of X. The target
// passed to Evaluate is ignored; the internal indices need only the
// data and the labels.
type Clustering struct{}

func (Clustering) Task() trainer.Task { return trainer.TaskClustering }

func (c Clustering) Evaluate(t trainer.Trainer, X *mat.Dense, yTrue []float64) ([]Metric, error) {
	pred, err := t.Predict(X)
	if err != nil {
		return nil, err
	}
	assigned := column(pred)
	labels := make([]int, len(assigned))
	for i, v := range assigned {
		labels[i] = int(v)
	}
	return c.Score(X, labels)
}

// Score computes the clustering metric set from data and labels. A
// single distinct label fails the whole evaluation; these indices are
// undefined for one cluster. Per-metric failures beyond that degrade
// to null as usual.
func (Clustering) Score(X *mat.Dense, labels []int) ([]Metric, error) {
	distinct := map[int]struct{}{}
	for _, l := range labels {
		distinct[l] = struct{}{}
	}
	if len(distinct) < 2 {
		return nil, errors.NewValueError("evaluator.Clustering",
			"clustering metrics require at least 2 distinct cluster labels")
	}
	return []Metric{
		metricOf("silhouette_score", func() (float64, error) { return metrics.SilhouetteScore(X, labels) }),
		metricOf("davies_bouldin", func() (float64, error) { return metrics.DaviesBouldin(X, labels) }),
		metricOf("calinski_harabasz", func() (float64, error) { return metrics.CalinskiHarabasz(X, labels) }),
		metricOf("inertia", func() (float64, error) { return metrics.Inertia(X, labels) }),
	}, nil
}
