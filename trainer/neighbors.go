package trainer

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/core/parallel"
	"github.com/flowml/flowml/pkg/validate"
)

// Below this many prediction rows the goroutine fan-out costs more than
// the brute-force scans it saves.
const knnParallelThreshold = 32

// KNN is the distance-based dual-task trainer: majority vote for
// classification, neighbor mean for regression. Fitting stores the
// training data; all work happens at predict time.
type KNN struct {
	baseTrainer

	trainX  [][]float64
	trainY  []float64
	classes []float64
}

type knnPayload struct {
	TrainX  [][]float64
	TrainY  []float64
	Classes []float64
}

func validateKNNParams(p map[string]interface{}) error {
	if v, ok := p["n_neighbors"]; ok {
		if _, err := validate.PositiveInt("n_neighbors", v); err != nil {
			return err
		}
	}
	if v, ok := p["weights"]; ok {
		if _, err := validate.OneOf("weights", v, "uniform", "distance"); err != nil {
			return err
		}
	}
	return nil
}

// NewKNN creates a k-nearest-neighbors trainer for the given task.
// Defaults: n_neighbors=5, weights="uniform".
func NewKNN(task Task, hyper map[string]interface{}) (*KNN, error) {
	merged := mergeDefaults(map[string]interface{}{
		"n_neighbors": 5,
		"weights":     "uniform",
	}, hyper)
	b, err := newBaseTrainer("knn", task, ModelDistance, merged, validateKNNParams)
	if err != nil {
		return nil, err
	}
	return &KNN{baseTrainer: b}, nil
}

// Fit stores the training set. The task must be classification or
// regression; anything else fails here rather than at construction.
func (k *KNN) Fit(X *mat.Dense, y []float64) error {
	if !k.task.IsSupervised() {
		return k.unsupportedTask()
	}
	rows, cols, err := k.validateFitInputs(X, y)
	if err != nil {
		return err
	}

	k.trainX = make([][]float64, rows)
	for i := 0; i < rows; i++ {
		k.trainX[i] = append([]float64(nil), X.RawRowView(i)...)
	}
	k.trainY = append([]float64(nil), y...)
	if k.task == TaskClassification {
		k.classes = classesOf(y)
	} else {
		k.classes = nil
	}

	k.stampFitted(rows, cols)
	return nil
}

type neighbor struct {
	dist  float64
	value float64
}

func (k *KNN) nearest(row []float64) []neighbor {
	n, _ := validate.AsInt("n_neighbors", k.hyper["n_neighbors"])
	if n > len(k.trainX) {
		n = len(k.trainX)
	}
	all := make([]neighbor, len(k.trainX))
	for i, tr := range k.trainX {
		var d float64
		for j := range tr {
			diff := tr[j] - row[j]
			d += diff * diff
		}
		all[i] = neighbor{dist: math.Sqrt(d), value: k.trainY[i]}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].dist < all[j].dist })
	return all[:n]
}

func (k *KNN) weightOf(nb neighbor) float64 {
	if w, _ := k.hyper["weights"].(string); w == "distance" {
		return 1.0 / (nb.dist + 1e-10)
	}
	return 1.0
}

// Predict votes (classification) or averages (regression) over the k
// nearest training samples.
func (k *KNN) Predict(X *mat.Dense) (*mat.Dense, error) {
	rows, err := k.requirePredictable("Predict", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	parallel.ParallelizeWithThreshold(rows, knnParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			nbs := k.nearest(X.RawRowView(i))
			if k.task == TaskRegression {
				var sum, wsum float64
				for _, nb := range nbs {
					w := k.weightOf(nb)
					sum += w * nb.value
					wsum += w
				}
				out.Set(i, 0, sum/wsum)
				continue
			}
			votes := map[float64]float64{}
			for _, nb := range nbs {
				votes[nb.value] += k.weightOf(nb)
			}
			best, bestW := k.classes[0], -1.0
			for _, c := range k.classes {
				if votes[c] > bestW {
					best, bestW = c, votes[c]
				}
			}
			out.Set(i, 0, best)
		}
	})
	return out, nil
}

// PredictProba returns neighbor vote fractions per class.
func (k *KNN) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	if k.task != TaskClassification {
		return k.notSupportedProba()
	}
	rows, err := k.requirePredictable("PredictProba", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, len(k.classes), nil)
	parallel.ParallelizeWithThreshold(rows, knnParallelThreshold, func(start, end int) {
		for i := start; i < end; i++ {
			nbs := k.nearest(X.RawRowView(i))
			votes := map[float64]float64{}
			var total float64
			for _, nb := range nbs {
				w := k.weightOf(nb)
				votes[nb.value] += w
				total += w
			}
			for ci, c := range k.classes {
				out.Set(i, ci, votes[c]/total)
			}
		}
	})
	return out, nil
}

// FeatureImportance is not defined for distance-based models.
func (k *KNN) FeatureImportance() ([]float64, error) {
	return k.notSupportedImportance()
}

// Save persists the stored training set and metadata.
func (k *KNN) Save(dir string) error {
	return k.saveWithPayload(dir, knnPayload{TrainX: k.trainX, TrainY: k.trainY, Classes: k.classes})
}

func init() {
	loaders["knn"] = func(doc artifactDoc, dir string) (Trainer, error) {
		k, err := NewKNN(doc.Task, doc.Hyperparameters)
		if err != nil {
			return nil, err
		}
		var payload knnPayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		k.trainX = payload.TrainX
		k.trainY = payload.TrainY
		k.classes = payload.Classes
		k.restore(doc)
		return k, nil
	}
}
