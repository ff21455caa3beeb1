package model

import "gonum.org/v1/gonum/mat"

// Fitter is anything that learns from a feature matrix and target vector.
type Fitter interface {
	Fit(X *mat.Dense, y []float64) error
}

// Predictor produces outputs for new samples. For clustering models the
// output column holds cluster ids; for dimensionality reduction it is the
// transformed matrix.
type Predictor interface {
	Predict(X *mat.Dense) (*mat.Dense, error)
}

// ProbabilityPredictor is implemented by classification-capable models that
// can emit a row-stochastic class probability matrix.
type ProbabilityPredictor interface {
	PredictProba(X *mat.Dense) (*mat.Dense, error)
}
