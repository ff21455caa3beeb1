package trainer

import (
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/pkg/validate"
)

// PCA is the dimensionality-reduction trainer. Fit centers the data
// and keeps the top n_components right singular vectors; Predict is
// the projection into that subspace.
type PCA struct {
	baseTrainer

	mean       []float64
	components *mat.Dense // n_components x n_features
	explained  []float64
}

type pcaPayload struct {
	Mean       []float64
	Components []float64
	NComp      int
	Explained  []float64
}

func validatePCAParams(p map[string]interface{}) error {
	if v, ok := p["n_components"]; ok && v != nil {
		if _, err := validate.PositiveInt("n_components", v); err != nil {
			return err
		}
	}
	return nil
}

// NewPCA creates a principal-component-analysis trainer.
// Defaults: n_components=2.
func NewPCA(hyper map[string]interface{}) (*PCA, error) {
	merged := mergeDefaults(map[string]interface{}{
		"n_components": 2,
	}, hyper)
	b, err := newBaseTrainer("pca", TaskDimensionalityReduction, ModelDimensionality, merged, validatePCAParams)
	if err != nil {
		return nil, err
	}
	return &PCA{baseTrainer: b}, nil
}

// Fit computes the principal axes from the SVD of the centered data.
// y is ignored.
func (p *PCA) Fit(X *mat.Dense, y []float64) error {
	rows, cols, err := p.validateFitInputs(X, y)
	if err != nil {
		return err
	}
	nComp, _ := validate.AsInt("n_components", p.hyper["n_components"])
	if nComp > cols {
		return errors.NewValueError("pca.Fit", "n_components cannot exceed the number of features")
	}

	p.mean = make([]float64, cols)
	for i := 0; i < rows; i++ {
		for j, v := range X.RawRowView(i) {
			p.mean[j] += v
		}
	}
	for j := range p.mean {
		p.mean[j] /= float64(rows)
	}

	centered := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j, v := range X.RawRowView(i) {
			centered.Set(i, j, v-p.mean[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(centered, mat.SVDThin) {
		return errors.NewValueError("pca.Fit", "SVD did not converge")
	}
	var v mat.Dense
	svd.VTo(&v)
	sv := svd.Values(nil)

	p.components = mat.NewDense(nComp, cols, nil)
	for c := 0; c < nComp; c++ {
		for j := 0; j < cols; j++ {
			p.components.Set(c, j, v.At(j, c))
		}
	}

	var total float64
	for _, s := range sv {
		total += s * s
	}
	p.explained = make([]float64, nComp)
	for c := 0; c < nComp; c++ {
		if total > 0 {
			p.explained[c] = sv[c] * sv[c] / total
		}
	}

	p.stampFitted(rows, cols)
	return nil
}

// Transform projects rows onto the principal axes.
func (p *PCA) Transform(X *mat.Dense) (*mat.Dense, error) {
	rows, err := p.requirePredictable("Transform", X)
	if err != nil {
		return nil, err
	}
	nComp, cols := p.components.Dims()
	out := mat.NewDense(rows, nComp, nil)
	for i := 0; i < rows; i++ {
		row := X.RawRowView(i)
		for c := 0; c < nComp; c++ {
			var s float64
			for j := 0; j < cols; j++ {
				s += (row[j] - p.mean[j]) * p.components.At(c, j)
			}
			out.Set(i, c, s)
		}
	}
	return out, nil
}

// Predict is the projection; for this trainer prediction and
// transformation are the same operation.
func (p *PCA) Predict(X *mat.Dense) (*mat.Dense, error) {
	return p.Transform(X)
}

// InverseTransform maps projected rows back into the original feature
// space.
func (p *PCA) InverseTransform(Z *mat.Dense) (*mat.Dense, error) {
	if err := p.state.RequireFitted(p.name, "InverseTransform"); err != nil {
		return nil, err
	}
	nComp, cols := p.components.Dims()
	rows, zc := Z.Dims()
	if zc != nComp {
		return nil, errors.NewDimensionError("pca.InverseTransform", nComp, zc, 1)
	}
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			s := p.mean[j]
			for c := 0; c < nComp; c++ {
				s += Z.At(i, c) * p.components.At(c, j)
			}
			out.Set(i, j, s)
		}
	}
	return out, nil
}

// ExplainedVarianceRatio returns the variance fraction captured per
// component.
func (p *PCA) ExplainedVarianceRatio() ([]float64, error) {
	if err := p.state.RequireFitted(p.name, "ExplainedVarianceRatio"); err != nil {
		return nil, err
	}
	return append([]float64(nil), p.explained...), nil
}

// PredictProba is not defined for dimensionality reduction.
func (p *PCA) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	return p.notSupportedProba()
}

// FeatureImportance is not defined for dimensionality reduction.
func (p *PCA) FeatureImportance() ([]float64, error) {
	return p.notSupportedImportance()
}

// Save persists the mean, components and metadata.
func (p *PCA) Save(dir string) error {
	nComp, _ := p.components.Dims()
	return p.saveWithPayload(dir, pcaPayload{
		Mean:       p.mean,
		Components: append([]float64(nil), p.components.RawMatrix().Data...),
		NComp:      nComp,
		Explained:  p.explained,
	})
}

func init() {
	loaders["pca"] = func(doc artifactDoc, dir string) (Trainer, error) {
		p, err := NewPCA(doc.Hyperparameters)
		if err != nil {
			return nil, err
		}
		var payload pcaPayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		p.mean = payload.Mean
		cols := len(payload.Mean)
		p.components = mat.NewDense(payload.NComp, cols, payload.Components)
		p.explained = payload.Explained
		p.restore(doc)
		return p, nil
	}
}
