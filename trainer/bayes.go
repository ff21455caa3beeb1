package trainer

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/validate"
)

// GaussianNB is the Gaussian naive Bayes classifier. Each feature is
// modeled as an independent normal per class; var_smoothing adds a
// fraction of the largest feature variance to every variance to keep
// the log density finite.
type GaussianNB struct {
	baseTrainer

	classes []float64
	priors  []float64
	means   [][]float64
	vars    [][]float64
}

type bayesPayload struct {
	Classes []float64
	Priors  []float64
	Means   [][]float64
	Vars    [][]float64
}

func validateBayesParams(p map[string]interface{}) error {
	if v, ok := p["var_smoothing"]; ok {
		if _, err := validate.PositiveFloat("var_smoothing", v); err != nil {
			return err
		}
	}
	return nil
}

// NewGaussianNB creates a Gaussian naive Bayes trainer. Only the
// classification task is meaningful for it.
// Defaults: var_smoothing=1e-9.
func NewGaussianNB(hyper map[string]interface{}) (*GaussianNB, error) {
	merged := mergeDefaults(map[string]interface{}{
		"var_smoothing": 1e-9,
	}, hyper)
	b, err := newBaseTrainer("gaussian_nb", TaskClassification, ModelDistance, merged, validateBayesParams)
	if err != nil {
		return nil, err
	}
	return &GaussianNB{baseTrainer: b}, nil
}

// Fit estimates per-class feature means, variances and priors.
func (g *GaussianNB) Fit(X *mat.Dense, y []float64) error {
	rows, cols, err := g.validateFitInputs(X, y)
	if err != nil {
		return err
	}

	g.classes = classesOf(y)
	k := len(g.classes)
	pos := map[float64]int{}
	for i, c := range g.classes {
		pos[c] = i
	}

	counts := make([]float64, k)
	g.means = make([][]float64, k)
	g.vars = make([][]float64, k)
	for c := 0; c < k; c++ {
		g.means[c] = make([]float64, cols)
		g.vars[c] = make([]float64, cols)
	}
	for i := 0; i < rows; i++ {
		c := pos[y[i]]
		counts[c]++
		for j, v := range X.RawRowView(i) {
			g.means[c][j] += v
		}
	}
	for c := 0; c < k; c++ {
		for j := range g.means[c] {
			g.means[c][j] /= counts[c]
		}
	}
	for i := 0; i < rows; i++ {
		c := pos[y[i]]
		for j, v := range X.RawRowView(i) {
			d := v - g.means[c][j]
			g.vars[c][j] += d * d
		}
	}

	// Smooth with a fraction of the largest overall feature variance.
	smoothing, _ := validate.AsFloat("var_smoothing", g.hyper["var_smoothing"])
	var maxVar float64
	for c := 0; c < k; c++ {
		for j := range g.vars[c] {
			g.vars[c][j] /= counts[c]
			maxVar = math.Max(maxVar, g.vars[c][j])
		}
	}
	eps := smoothing * maxVar
	if eps == 0 {
		eps = smoothing
	}
	g.priors = make([]float64, k)
	for c := 0; c < k; c++ {
		g.priors[c] = counts[c] / float64(rows)
		for j := range g.vars[c] {
			g.vars[c][j] += eps
		}
	}

	g.stampFitted(rows, cols)
	return nil
}

func (g *GaussianNB) logJoint(row []float64) []float64 {
	scores := make([]float64, len(g.classes))
	for c := range g.classes {
		s := math.Log(g.priors[c])
		for j, v := range row {
			variance := g.vars[c][j]
			d := v - g.means[c][j]
			s += -0.5*math.Log(2*math.Pi*variance) - d*d/(2*variance)
		}
		scores[c] = s
	}
	return scores
}

// Predict returns the class with the highest posterior.
func (g *GaussianNB) Predict(X *mat.Dense) (*mat.Dense, error) {
	rows, err := g.requirePredictable("Predict", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		scores := g.logJoint(X.RawRowView(i))
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

// PredictProba returns normalized posteriors per class.
func (g *GaussianNB) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	rows, err := g.requirePredictable("PredictProba", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, len(g.classes), nil)
	probs := make([]float64, len(g.classes))
	for i := 0; i < rows; i++ {
		softmaxFloats(probs, g.logJoint(X.RawRowView(i)))
		out.SetRow(i, probs)
	}
	return out, nil
}

// FeatureImportance is not defined for naive Bayes.
func (g *GaussianNB) FeatureImportance() ([]float64, error) {
	return g.notSupportedImportance()
}

// Save persists the class statistics and metadata.
func (g *GaussianNB) Save(dir string) error {
	return g.saveWithPayload(dir, bayesPayload{
		Classes: g.classes, Priors: g.priors, Means: g.means, Vars: g.vars,
	})
}

func init() {
	loaders["gaussian_nb"] = func(doc artifactDoc, dir string) (Trainer, error) {
		g, err := NewGaussianNB(doc.Hyperparameters)
		if err != nil {
			return nil, err
		}
		var payload bayesPayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		g.classes = payload.Classes
		g.priors = payload.Priors
		g.means = payload.Means
		g.vars = payload.Vars
		g.restore(doc)
		return g, nil
	}
}
