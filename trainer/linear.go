package trainer

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/pkg/validate"
)

// LinearRegression fits ordinary least squares via a QR solve.
type LinearRegression struct {
	baseTrainer

	coef      []float64
	intercept float64
}

type linearPayload struct {
	Coef      []float64
	Intercept float64
}

func validateLinearParams(p map[string]interface{}) error {
	if v, ok := p["fit_intercept"]; ok {
		if _, err := validate.AsBool("fit_intercept", v); err != nil {
			return err
		}
	}
	return nil
}

// NewLinearRegression creates a linear regression trainer. Defaults:
// fit_intercept=true.
func NewLinearRegression(hyper map[string]interface{}) (*LinearRegression, error) {
	merged := mergeDefaults(map[string]interface{}{"fit_intercept": true}, hyper)
	b, err := newBaseTrainer("linear_regression", TaskRegression, ModelLinear, merged, validateLinearParams)
	if err != nil {
		return nil, err
	}
	return &LinearRegression{baseTrainer: b}, nil
}

func (lr *LinearRegression) fitIntercept() bool {
	v, _ := validate.AsBool("fit_intercept", lr.hyper["fit_intercept"])
	return v
}

// Fit solves the least squares problem, optionally with an intercept
// column appended to X.
func (lr *LinearRegression) Fit(X *mat.Dense, y []float64) error {
	rows, cols, err := lr.validateFitInputs(X, y)
	if err != nil {
		return err
	}

	design := X
	width := cols
	if lr.fitIntercept() {
		width = cols + 1
		design = mat.NewDense(rows, width, nil)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				design.Set(i, j, X.At(i, j))
			}
			design.Set(i, cols, 1)
		}
	}

	var solution mat.Dense
	if err := solution.Solve(design, mat.NewDense(rows, 1, y)); err != nil {
		return errors.Wrap(errors.ErrSingularMatrix, "linear_regression: least squares solve failed")
	}

	lr.coef = make([]float64, cols)
	for j := 0; j < cols; j++ {
		lr.coef[j] = solution.At(j, 0)
	}
	if lr.fitIntercept() {
		lr.intercept = solution.At(cols, 0)
	} else {
		lr.intercept = 0
	}

	lr.stampFitted(rows, cols)
	return nil
}

// Predict returns the fitted linear combination for each row.
func (lr *LinearRegression) Predict(X *mat.Dense) (*mat.Dense, error) {
	rows, err := lr.requirePredictable("Predict", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		v := lr.intercept
		for j, c := range lr.coef {
			v += c * X.At(i, j)
		}
		out.Set(i, 0, v)
	}
	return out, nil
}

// PredictProba is not available for regression.
func (lr *LinearRegression) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	return lr.notSupportedProba()
}

// FeatureImportance returns the absolute coefficient magnitudes.
func (lr *LinearRegression) FeatureImportance() ([]float64, error) {
	if err := lr.state.RequireFitted(lr.name, "FeatureImportance"); err != nil {
		return nil, err
	}
	out := make([]float64, len(lr.coef))
	for i, c := range lr.coef {
		out[i] = math.Abs(c)
	}
	return out, nil
}

// Save persists the fitted coefficients and metadata.
func (lr *LinearRegression) Save(dir string) error {
	return lr.saveWithPayload(dir, linearPayload{Coef: lr.coef, Intercept: lr.intercept})
}

func init() {
	loaders["linear_regression"] = func(doc artifactDoc, dir string) (Trainer, error) {
		lr, err := NewLinearRegression(doc.Hyperparameters)
		if err != nil {
			return nil, err
		}
		var payload linearPayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		lr.coef = payload.Coef
		lr.intercept = payload.Intercept
		lr.restore(doc)
		return lr, nil
	}
}

// LogisticRegression is a gradient-descent logistic classifier with
// one-vs-rest handling for more than two classes. Features are
// standardized internally before descent so the fixed step size behaves
// across feature scales; the fitted scaling is part of the model.
type LogisticRegression struct {
	baseTrainer

	coef      [][]float64
	intercept []float64
	classes   []float64
	featMean  []float64
	featScale []float64
}

type logisticPayload struct {
	Coef      [][]float64
	Intercept []float64
	Classes   []float64
	FeatMean  []float64
	FeatScale []float64
}

func validateLogisticParams(p map[string]interface{}) error {
	if v, ok := p["max_iter"]; ok {
		if _, err := validate.PositiveInt("max_iter", v); err != nil {
			return err
		}
	}
	if v, ok := p["tol"]; ok {
		if _, err := validate.PositiveFloat("tol", v); err != nil {
			return err
		}
	}
	if v, ok := p["c"]; ok {
		if _, err := validate.PositiveFloat("c", v); err != nil {
			return err
		}
	}
	if v, ok := p["penalty"]; ok && v != nil {
		if _, err := validate.OneOf("penalty", v, "l2", "none"); err != nil {
			return err
		}
	}
	if v, ok := p["fit_intercept"]; ok {
		if _, err := validate.AsBool("fit_intercept", v); err != nil {
			return err
		}
	}
	return nil
}

// NewLogisticRegression creates a logistic regression trainer. Defaults:
// max_iter=200, tol=1e-4, c=1.0, penalty="l2", fit_intercept=true.
func NewLogisticRegression(hyper map[string]interface{}) (*LogisticRegression, error) {
	merged := mergeDefaults(map[string]interface{}{
		"max_iter":      200,
		"tol":           1e-4,
		"c":             1.0,
		"penalty":       "l2",
		"fit_intercept": true,
	}, hyper)
	b, err := newBaseTrainer("logistic_regression", TaskClassification, ModelLinear, merged, validateLogisticParams)
	if err != nil {
		return nil, err
	}
	return &LogisticRegression{baseTrainer: b}, nil
}

func (lr *LogisticRegression) params() (maxIter int, tol, c float64, penalty string, fitIntercept bool) {
	maxIter, _ = validate.AsInt("max_iter", lr.hyper["max_iter"])
	tol, _ = validate.AsFloat("tol", lr.hyper["tol"])
	c, _ = validate.AsFloat("c", lr.hyper["c"])
	penalty = "l2"
	if v, ok := lr.hyper["penalty"].(string); ok {
		penalty = v
	}
	fitIntercept, _ = validate.AsBool("fit_intercept", lr.hyper["fit_intercept"])
	return maxIter, tol, c, penalty, fitIntercept
}

// Fit trains one binary classifier per class (a single one when exactly
// two classes are observed).
func (lr *LogisticRegression) Fit(X *mat.Dense, y []float64) error {
	rows, cols, err := lr.validateFitInputs(X, y)
	if err != nil {
		return err
	}
	if err := errors.CheckMatrixFinite("logistic_regression.Fit", X, rows, cols); err != nil {
		return err
	}

	lr.classes = classesOf(y)
	if len(lr.classes) < 2 {
		return errors.NewValueError("logistic_regression.Fit", "y must contain at least 2 classes")
	}

	nModels := len(lr.classes)
	if nModels == 2 {
		nModels = 1
	}
	lr.coef = make([][]float64, nModels)
	lr.intercept = make([]float64, nModels)

	rng := rand.New(rand.NewSource(seedFrom(lr.hyper)))
	for m := range lr.coef {
		lr.coef[m] = make([]float64, cols)
		for j := range lr.coef[m] {
			lr.coef[m][j] = rng.NormFloat64() * 0.01
		}
	}

	Xs := lr.standardizeFit(X, rows, cols)

	if len(lr.classes) == 2 {
		lr.fitBinary(Xs, y, lr.classes[1], 0)
	} else {
		for m, class := range lr.classes {
			lr.fitBinary(Xs, y, class, m)
		}
	}

	lr.stampFitted(rows, cols)
	return nil
}

// standardizeFit learns per-feature mean and scale from X and returns the
// standardized copy the optimizer runs on. Constant features get scale 1
// so they standardize to zero instead of dividing by zero.
func (lr *LogisticRegression) standardizeFit(X *mat.Dense, rows, cols int) *mat.Dense {
	lr.featMean = make([]float64, cols)
	lr.featScale = make([]float64, cols)
	for j := 0; j < cols; j++ {
		mean := 0.0
		for i := 0; i < rows; i++ {
			mean += X.At(i, j)
		}
		mean /= float64(rows)
		variance := 0.0
		for i := 0; i < rows; i++ {
			d := X.At(i, j) - mean
			variance += d * d
		}
		scale := math.Sqrt(variance / float64(rows))
		if scale == 0 {
			scale = 1
		}
		lr.featMean[j] = mean
		lr.featScale[j] = scale
	}

	Xs := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			Xs.Set(i, j, (X.At(i, j)-lr.featMean[j])/lr.featScale[j])
		}
	}
	return Xs
}

// fitBinary runs gradient descent for the one-vs-rest problem of a single
// class, writing into weight slot m.
func (lr *LogisticRegression) fitBinary(X *mat.Dense, y []float64, positive float64, m int) {
	rows, cols := X.Dims()
	maxIter, tol, c, penalty, fitIntercept := lr.params()

	weights := lr.coef[m]
	intercept := &lr.intercept[m]

	target := make([]float64, rows)
	for i, v := range y {
		if v == positive {
			target[i] = 1
		}
	}

	converged := false
	for iter := 0; iter < maxIter; iter++ {
		gradW := make([]float64, cols)
		gradB := 0.0
		for i := 0; i < rows; i++ {
			z := *intercept
			for j := 0; j < cols; j++ {
				z += X.At(i, j) * weights[j]
			}
			diff := sigmoid(z) - target[i]
			gradB += diff
			for j := 0; j < cols; j++ {
				gradW[j] += diff * X.At(i, j)
			}
		}
		for j := range gradW {
			gradW[j] /= float64(rows)
		}
		gradB /= float64(rows)

		if penalty == "l2" {
			lambda := 1.0 / c
			for j := range weights {
				gradW[j] += lambda * weights[j] / float64(rows)
			}
		}

		// Fixed step on standardized features; the mean gradient keeps
		// its magnitude bounded.
		const lrate = 0.5
		for j := range weights {
			weights[j] -= lrate * gradW[j]
		}
		if fitIntercept {
			*intercept -= lrate * gradB
		}

		maxGrad := math.Abs(gradB)
		for _, g := range gradW {
			maxGrad = math.Max(maxGrad, math.Abs(g))
		}
		if maxGrad < tol {
			converged = true
			break
		}
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning("logistic_regression", maxIter, ""))
	}
}

func (lr *LogisticRegression) scores(X *mat.Dense, i int) []float64 {
	out := make([]float64, len(lr.coef))
	for m := range lr.coef {
		z := lr.intercept[m]
		for j, w := range lr.coef[m] {
			z += w * (X.At(i, j) - lr.featMean[j]) / lr.featScale[j]
		}
		out[m] = z
	}
	return out
}

// Predict returns the most probable class label for each row.
func (lr *LogisticRegression) Predict(X *mat.Dense) (*mat.Dense, error) {
	rows, err := lr.requirePredictable("Predict", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		s := lr.scores(X, i)
		if len(lr.classes) == 2 {
			if sigmoid(s[0]) >= 0.5 {
				out.Set(i, 0, lr.classes[1])
			} else {
				out.Set(i, 0, lr.classes[0])
			}
			continue
		}
		best := 0
		for m := 1; m < len(s); m++ {
			if s[m] > s[best] {
				best = m
			}
		}
		out.Set(i, 0, lr.classes[best])
	}
	return out, nil
}

// PredictProba returns the class probability matrix: sigmoid pairs for two
// classes, a softmax over one-vs-rest scores otherwise.
func (lr *LogisticRegression) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	rows, err := lr.requirePredictable("PredictProba", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, len(lr.classes), nil)
	for i := 0; i < rows; i++ {
		s := lr.scores(X, i)
		if len(lr.classes) == 2 {
			p := sigmoid(s[0])
			out.Set(i, 0, 1-p)
			out.Set(i, 1, p)
			continue
		}
		softmaxInto(out, i, s)
	}
	return out, nil
}

// FeatureImportance returns the mean absolute coefficient magnitude per
// feature across the per-class weight vectors.
func (lr *LogisticRegression) FeatureImportance() ([]float64, error) {
	if err := lr.state.RequireFitted(lr.name, "FeatureImportance"); err != nil {
		return nil, err
	}
	out := make([]float64, lr.meta.NFeatures)
	for _, ws := range lr.coef {
		for j, w := range ws {
			out[j] += math.Abs(w)
		}
	}
	for j := range out {
		out[j] /= float64(len(lr.coef))
	}
	return out, nil
}

// Save persists the fitted weights and metadata.
func (lr *LogisticRegression) Save(dir string) error {
	return lr.saveWithPayload(dir, logisticPayload{
		Coef:      lr.coef,
		Intercept: lr.intercept,
		Classes:   lr.classes,
		FeatMean:  lr.featMean,
		FeatScale: lr.featScale,
	})
}

func init() {
	loaders["logistic_regression"] = func(doc artifactDoc, dir string) (Trainer, error) {
		lr, err := NewLogisticRegression(doc.Hyperparameters)
		if err != nil {
			return nil, err
		}
		var payload logisticPayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		lr.coef = payload.Coef
		lr.intercept = payload.Intercept
		lr.classes = payload.Classes
		lr.featMean = payload.FeatMean
		lr.featScale = payload.FeatScale
		lr.restore(doc)
		return lr, nil
	}
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}

// softmaxInto writes the softmax of scores into row i of out, shifted by
// the max score for numerical stability.
func softmaxInto(out *mat.Dense, i int, scores []float64) {
	maxScore := scores[0]
	for _, s := range scores[1:] {
		maxScore = math.Max(maxScore, s)
	}
	sum := 0.0
	for _, s := range scores {
		sum += math.Exp(s - maxScore)
	}
	for m, s := range scores {
		out.Set(i, m, math.Exp(s-maxScore)/sum)
	}
}
