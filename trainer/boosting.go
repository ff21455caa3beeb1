package trainer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/log"
	"github.com/flowml/flowml/pkg/validate"
)

// GradientBoosting fits shallow regression trees to pseudo-residuals.
// Regression boosts toward squared-error residuals from the mean;
// classification boosts class scores with a softmax objective, one
// tree per class per round.
//
// The device hyperparameter is honored only when the constructor was
// handed GPU permission. Without it any CUDA device request is
// normalized to "cpu" before fitting, so stored hyperparameters never
// claim hardware the run was not allowed to use.
type GradientBoosting struct {
	baseTrainer

	useGPU  bool
	init_   []float64
	trees   [][]*cartTree
	classes []float64
}

type boostingPayload struct {
	Init    []float64
	Trees   [][]*cartTree
	Classes []float64
}

func validateBoostingParams(p map[string]interface{}) error {
	if v, ok := p["n_estimators"]; ok {
		if _, err := validate.PositiveInt("n_estimators", v); err != nil {
			return err
		}
	}
	if v, ok := p["learning_rate"]; ok {
		if _, err := validate.PositiveFloat("learning_rate", v); err != nil {
			return err
		}
	}
	if v, ok := p["max_depth"]; ok && v != nil {
		if _, err := validate.PositiveInt("max_depth", v); err != nil {
			return err
		}
	}
	if v, ok := p["device"]; ok {
		if _, err := validate.AsString("device", v); err != nil {
			return err
		}
	}
	return nil
}

// NewGradientBoosting creates a gradient-boosting trainer. useGPU is
// granted by the caller, not by hyperparameters; when it is false a
// CUDA device request is downgraded to "cpu".
func NewGradientBoosting(task Task, hyper map[string]interface{}, useGPU bool) (*GradientBoosting, error) {
	merged := mergeDefaults(map[string]interface{}{
		"n_estimators":  100,
		"learning_rate": 0.1,
		"max_depth":     3,
		"device":        "cpu",
	}, hyper)
	b, err := newBaseTrainer("gradient_boosting", task, ModelTree, merged, validateBoostingParams)
	if err != nil {
		return nil, err
	}
	g := &GradientBoosting{baseTrainer: b, useGPU: useGPU}
	g.normalizeDevice()
	return g, nil
}

func (g *GradientBoosting) normalizeDevice() {
	device, _ := g.hyper["device"].(string)
	if !g.useGPU && deviceIsCUDA(device) {
		logger := log.WithModel(g.name, string(g.task))
		logger.Debug().
			Str("device", device).
			Msg("gpu not granted for this run, falling back to cpu")
		g.hyper["device"] = "cpu"
	}
}

// UpdateHyperparameters re-applies the device gate after merging.
func (g *GradientBoosting) UpdateHyperparameters(params map[string]interface{}) error {
	if err := g.baseTrainer.UpdateHyperparameters(params); err != nil {
		return err
	}
	g.normalizeDevice()
	return nil
}

func (g *GradientBoosting) cartParams() cartParams {
	p := cartParams{criterion: "squared_error"}
	if v := g.hyper["max_depth"]; v != nil {
		p.maxDepth, _ = validate.AsInt("max_depth", v)
	}
	p.minSamplesSplit = 2
	p.minSamplesLeaf = 1
	return p
}

// Fit boosts n_estimators rounds of learning_rate-scaled trees.
func (g *GradientBoosting) Fit(X *mat.Dense, y []float64) error {
	if !g.task.IsSupervised() {
		return g.unsupportedTask()
	}
	rows, cols, err := g.validateFitInputs(X, y)
	if err != nil {
		return err
	}

	data := matrixRows(X, rows)
	nTrees, _ := validate.AsInt("n_estimators", g.hyper["n_estimators"])
	lr, _ := validate.AsFloat("learning_rate", g.hyper["learning_rate"])

	if g.task == TaskRegression {
		g.fitRegression(data, y, rows, nTrees, lr)
	} else {
		g.fitClassification(data, y, rows, nTrees, lr)
	}

	g.stampFitted(rows, cols)
	return nil
}

func (g *GradientBoosting) fitRegression(data [][]float64, y []float64, rows, nTrees int, lr float64) {
	var mean float64
	for _, v := range y {
		mean += v
	}
	mean /= float64(rows)

	pred := make([]float64, rows)
	for i := range pred {
		pred[i] = mean
	}
	resid := make([]float64, rows)

	g.init_ = []float64{mean}
	g.classes = nil
	g.trees = make([][]*cartTree, nTrees)
	for t := 0; t < nTrees; t++ {
		for i := range resid {
			resid[i] = y[i] - pred[i]
		}
		tree := fitCART(data, resid, nil, g.cartParams())
		for i := range pred {
			pred[i] += lr * tree.predictRow(data[i])
		}
		g.trees[t] = []*cartTree{tree}
	}
}

func (g *GradientBoosting) fitClassification(data [][]float64, y []float64, rows, nTrees int, lr float64) {
	classes := classesOf(y)
	k := len(classes)
	pos := map[float64]int{}
	for i, c := range classes {
		pos[c] = i
	}

	scores := make([][]float64, rows)
	for i := range scores {
		scores[i] = make([]float64, k)
	}
	probs := make([]float64, k)
	resid := make([]float64, rows)

	g.init_ = make([]float64, k)
	g.classes = classes
	g.trees = make([][]*cartTree, nTrees)
	for t := 0; t < nTrees; t++ {
		round := make([]*cartTree, k)
		for c := 0; c < k; c++ {
			for i := 0; i < rows; i++ {
				softmaxFloats(probs, scores[i])
				target := 0.0
				if pos[y[i]] == c {
					target = 1.0
				}
				resid[i] = target - probs[c]
			}
			round[c] = fitCART(data, resid, nil, g.cartParams())
		}
		for i := 0; i < rows; i++ {
			for c := 0; c < k; c++ {
				scores[i][c] += lr * round[c].predictRow(data[i])
			}
		}
		g.trees[t] = round
	}
}

func (g *GradientBoosting) rawScores(row []float64) []float64 {
	lr, _ := validate.AsFloat("learning_rate", g.hyper["learning_rate"])
	if g.task == TaskRegression {
		s := g.init_[0]
		for _, round := range g.trees {
			s += lr * round[0].predictRow(row)
		}
		return []float64{s}
	}
	scores := append([]float64(nil), g.init_...)
	for _, round := range g.trees {
		for c, tree := range round {
			scores[c] += lr * tree.predictRow(row)
		}
	}
	return scores
}

// Predict returns boosted predictions, argmax of class scores for
// classification.
func (g *GradientBoosting) Predict(X *mat.Dense) (*mat.Dense, error) {
	rows, err := g.requirePredictable("Predict", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		scores := g.rawScores(X.RawRowView(i))
		if g.task == TaskRegression {
			out.Set(i, 0, scores[0])
			continue
		}
		best := 0
		for c := 1; c < len(scores); c++ {
			if scores[c] > scores[best] {
				best = c
			}
		}
		out.Set(i, 0, g.classes[best])
	}
	return out, nil
}

// PredictProba returns softmax class probabilities.
func (g *GradientBoosting) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	if g.task != TaskClassification {
		return g.notSupportedProba()
	}
	rows, err := g.requirePredictable("PredictProba", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, len(g.classes), nil)
	probs := make([]float64, len(g.classes))
	for i := 0; i < rows; i++ {
		softmaxFloats(probs, g.rawScores(X.RawRowView(i)))
		out.SetRow(i, probs)
	}
	return out, nil
}

// softmaxFloats writes the softmax of scores into dst, shifted by the
// max score for numerical stability.
func softmaxFloats(dst, scores []float64) {
	maxScore := scores[0]
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, s)
	}
	sum := 0.0
	for _, s := range scores {
		sum += math.Exp(s - maxScore)
	}
	for i, s := range scores {
		dst[i] = math.Exp(s-maxScore) / sum
	}
}

// FeatureImportance returns raw accumulated impurity decreases across
// every tree. Unlike single trees and forests the values are reported
// unnormalized, so magnitudes grow with n_estimators.
func (g *GradientBoosting) FeatureImportance() ([]float64, error) {
	if err := g.state.RequireFitted(g.name, "FeatureImportance"); err != nil {
		return nil, err
	}
	out := make([]float64, g.meta.NFeatures)
	for _, round := range g.trees {
		for _, tree := range round {
			for i, v := range tree.Importance {
				out[i] += v
			}
		}
	}
	for i := range out {
		if math.IsNaN(out[i]) {
			out[i] = 0
		}
	}
	return out, nil
}

// Save persists the ensemble, initial scores and metadata.
func (g *GradientBoosting) Save(dir string) error {
	return g.saveWithPayload(dir, boostingPayload{Init: g.init_, Trees: g.trees, Classes: g.classes})
}

func init() {
	// The GPU grant is per run, not part of the artifact, so a reloaded
	// model starts without it and normalizes device back to cpu until
	// the next run's resource check grants GPU again.
	loaders["gradient_boosting"] = func(doc artifactDoc, dir string) (Trainer, error) {
		g, err := NewGradientBoosting(doc.Task, doc.Hyperparameters, false)
		if err != nil {
			return nil, err
		}
		var payload boostingPayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		g.init_ = payload.Init
		g.trees = payload.Trees
		g.classes = payload.Classes
		g.restore(doc)
		return g, nil
	}
}
