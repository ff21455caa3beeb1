package trainer

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/core/parallel"
	"github.com/flowml/flowml/pkg/validate"
)

// RandomForest is the bagging ensemble of CART trees. Trees are grown
// on bootstrap samples with sqrt(n_features) candidate features per
// split and fitted in parallel.
type RandomForest struct {
	baseTrainer

	trees   []*cartTree
	classes []float64
}

type forestPayload struct {
	Trees   []*cartTree
	Classes []float64
}

func validateForestParams(p map[string]interface{}) error {
	if v, ok := p["n_estimators"]; ok {
		if _, err := validate.PositiveInt("n_estimators", v); err != nil {
			return err
		}
	}
	return validateTreeParams(p)
}

// NewRandomForest creates a random-forest trainer for the given task.
// Defaults: n_estimators=100 plus the decision-tree defaults.
func NewRandomForest(task Task, hyper map[string]interface{}) (*RandomForest, error) {
	criterion := "gini"
	if task == TaskRegression {
		criterion = "squared_error"
	}
	merged := mergeDefaults(map[string]interface{}{
		"n_estimators":      100,
		"criterion":         criterion,
		"max_depth":         nil,
		"min_samples_split": 2,
		"min_samples_leaf":  1,
		"random_state":      42,
	}, hyper)
	b, err := newBaseTrainer("random_forest", task, ModelTree, merged, validateForestParams)
	if err != nil {
		return nil, err
	}
	return &RandomForest{baseTrainer: b}, nil
}

func (r *RandomForest) cartParams(nFeatures int, rng *rand.Rand) cartParams {
	p := cartParams{criterion: "squared_error", rng: rng}
	if c, _ := r.hyper["criterion"].(string); c != "" {
		p.criterion = c
	}
	if r.task == TaskRegression {
		p.criterion = "squared_error"
	} else if p.criterion == "squared_error" {
		p.criterion = "gini"
	}
	if v := r.hyper["max_depth"]; v != nil {
		p.maxDepth, _ = validate.AsInt("max_depth", v)
	}
	p.minSamplesSplit, _ = validate.AsInt("min_samples_split", r.hyper["min_samples_split"])
	p.minSamplesLeaf, _ = validate.AsInt("min_samples_leaf", r.hyper["min_samples_leaf"])
	p.maxFeatures = int(math.Sqrt(float64(nFeatures)))
	if p.maxFeatures < 1 {
		p.maxFeatures = 1
	}
	return p
}

// Fit grows n_estimators trees on bootstrap samples.
func (r *RandomForest) Fit(X *mat.Dense, y []float64) error {
	if !r.task.IsSupervised() {
		return r.unsupportedTask()
	}
	rows, cols, err := r.validateFitInputs(X, y)
	if err != nil {
		return err
	}

	var classes []float64
	if r.task == TaskClassification {
		classes = classesOf(y)
	}
	data := matrixRows(X, rows)
	nTrees, _ := validate.AsInt("n_estimators", r.hyper["n_estimators"])
	seed := seedFrom(r.hyper)

	trees := make([]*cartTree, nTrees)
	parallel.Parallelize(nTrees, func(start, end int) {
		for t := start; t < end; t++ {
			rng := rand.New(rand.NewSource(seed + int64(t)))
			bootX := make([][]float64, rows)
			bootY := make([]float64, rows)
			for i := 0; i < rows; i++ {
				j := rng.Intn(rows)
				bootX[i] = data[j]
				bootY[i] = y[j]
			}
			trees[t] = fitCART(bootX, bootY, classes, r.cartParams(cols, rng))
		}
	})

	r.trees = trees
	r.classes = classes
	r.stampFitted(rows, cols)
	return nil
}

// Predict averages tree outputs (regression) or takes the class with
// the highest mean leaf probability (classification).
func (r *RandomForest) Predict(X *mat.Dense) (*mat.Dense, error) {
	rows, err := r.requirePredictable("Predict", X)
	if err != nil {
		return nil, err
	}
	if r.task == TaskRegression {
		out := mat.NewDense(rows, 1, nil)
		for i := 0; i < rows; i++ {
			var sum float64
			for _, t := range r.trees {
				sum += t.predictRow(X.RawRowView(i))
			}
			out.Set(i, 0, sum/float64(len(r.trees)))
		}
		return out, nil
	}

	proba, err := r.PredictProba(X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		best := 0
		for c := 1; c < len(r.classes); c++ {
			if proba.At(i, c) > proba.At(i, best) {
				best = c
			}
		}
		out.Set(i, 0, r.classes[best])
	}
	return out, nil
}

// PredictProba averages leaf class distributions across trees.
func (r *RandomForest) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	if r.task != TaskClassification {
		return r.notSupportedProba()
	}
	rows, err := r.requirePredictable("PredictProba", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, len(r.classes), nil)
	for i := 0; i < rows; i++ {
		row := X.RawRowView(i)
		acc := make([]float64, len(r.classes))
		for _, t := range r.trees {
			for c, p := range t.probaRow(row) {
				acc[c] += p
			}
		}
		for c := range acc {
			acc[c] /= float64(len(r.trees))
		}
		out.SetRow(i, acc)
	}
	return out, nil
}

// FeatureImportance averages per-tree normalized importances, then
// renormalizes to sum to 1.
func (r *RandomForest) FeatureImportance() ([]float64, error) {
	if err := r.state.RequireFitted(r.name, "FeatureImportance"); err != nil {
		return nil, err
	}
	out := make([]float64, r.meta.NFeatures)
	for _, t := range r.trees {
		for i, v := range t.normalizedImportance() {
			out[i] += v
		}
	}
	var total float64
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for i := range out {
			out[i] /= total
		}
	}
	return out, nil
}

// Save persists the fitted ensemble and metadata.
func (r *RandomForest) Save(dir string) error {
	return r.saveWithPayload(dir, forestPayload{Trees: r.trees, Classes: r.classes})
}

func init() {
	loaders["random_forest"] = func(doc artifactDoc, dir string) (Trainer, error) {
		r, err := NewRandomForest(doc.Task, doc.Hyperparameters)
		if err != nil {
			return nil, err
		}
		var payload forestPayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		r.trees = payload.Trees
		r.classes = payload.Classes
		r.restore(doc)
		return r, nil
	}
}
