package plugin

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/trainer"
)

func classificationData() (*mat.Dense, []float64) {
	X := mat.NewDense(8, 2, []float64{
		0, 0, 0.2, 0.1, 0.1, 0.3, 0.3, 0.2,
		4, 4, 4.2, 4.1, 4.1, 4.3, 4.3, 4.2,
	})
	return X, []float64{0, 0, 0, 0, 1, 1, 1, 1}
}

func TestDefaultRegistry_HoldsFullCatalog(t *testing.T) {
	Reset()
	r := Default()

	slugs := []string{
		"decision_tree", "gaussian_nb", "gradient_boosting", "kmeans", "knn",
		"linear_regression", "logistic_regression", "neural_network", "pca", "random_forest",
	}
	all := r.All()
	require.Len(t, all, len(slugs))
	for i, p := range all {
		assert.Equal(t, slugs[i], p.Slug())
	}

	for _, slug := range slugs {
		p, err := r.Get(slug)
		require.NoError(t, err)
		assert.Equal(t, slug, p.Slug())
	}

	_, err := r.Get("perceptron")
	require.Error(t, err)
}

func TestDefault_RaceOnFirstUse(t *testing.T) {
	Reset()
	var wg sync.WaitGroup
	results := make([]*Registry, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = Default()
		}(i)
	}
	wg.Wait()
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestByTask(t *testing.T) {
	Reset()
	r := Default()

	clustering := r.ByTask(trainer.TaskClustering)
	require.Len(t, clustering, 1)
	assert.Equal(t, "kmeans", clustering[0].Slug())

	regressors := r.ByTask(trainer.TaskRegression)
	var slugs []string
	for _, p := range regressors {
		slugs = append(slugs, p.Slug())
	}
	assert.Contains(t, slugs, "linear_regression")
	assert.Contains(t, slugs, "random_forest")
	assert.NotContains(t, slugs, "logistic_regression")
	assert.NotContains(t, slugs, "kmeans")
}

func TestSchema_SerializesForUI(t *testing.T) {
	Reset()
	p, err := Default().Get("decision_tree")
	require.NoError(t, err)

	raw, err := json.Marshal(p.Schema())
	require.NoError(t, err)

	var decoded map[string][]map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.NotEmpty(t, decoded["main"])

	var depth map[string]interface{}
	for _, f := range decoded["main"] {
		if f["key"] == "max_depth" {
			depth = f
		}
	}
	require.NotNil(t, depth)
	assert.Equal(t, "int", depth["type"])
	assert.Equal(t, true, depth["nullable"])
	assert.Equal(t, "Unlimited", depth["nullLabel"])
}

func TestCapabilities_PerTask(t *testing.T) {
	Reset()
	p, err := Default().Get("random_forest")
	require.NoError(t, err)

	cls := p.SupportedMetrics(trainer.TaskClassification)
	assert.Contains(t, cls, "accuracy")
	assert.Contains(t, cls, "confusion_matrix")
	reg := p.SupportedMetrics(trainer.TaskRegression)
	assert.Contains(t, reg, "rmse")
	assert.NotContains(t, reg, "accuracy")

	for _, m := range p.DefaultMetrics(trainer.TaskClassification) {
		assert.Contains(t, cls, m, "default metric %s must be supported", m)
	}

	assert.Contains(t, p.SupportedPlots(trainer.TaskClassification), "feature_importance")
	assert.Empty(t, p.SupportedMetrics(trainer.TaskClustering))
}

func TestTrain_SentinelNullNormalization(t *testing.T) {
	Reset()
	p, err := Default().Get("decision_tree")
	require.NoError(t, err)

	X, y := classificationData()
	for _, sentinel := range []string{"none", "None", "null"} {
		tr, err := p.Train(X, y, map[string]interface{}{"max_depth": sentinel}, trainer.TaskClassification, TrainOptions{})
		require.NoError(t, err, sentinel)
		assert.Nil(t, tr.Hyperparameters()["max_depth"], sentinel)
	}
}

func TestTrain_CriterionMappedAcrossTasks(t *testing.T) {
	Reset()
	p, err := Default().Get("decision_tree")
	require.NoError(t, err)

	X := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := []float64{2, 4, 6, 8, 10, 12}

	// A classification criterion on a regression task maps to its
	// regression equivalent instead of failing validation.
	tr, err := p.Train(X, y, map[string]interface{}{"criterion": "gini"}, trainer.TaskRegression, TrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, "squared_error", tr.Hyperparameters()["criterion"])

	// The legacy mse alias maps the same way.
	tr, err = p.Train(X, y, map[string]interface{}{"criterion": "mse"}, trainer.TaskRegression, TrainOptions{})
	require.NoError(t, err)
	assert.Equal(t, "squared_error", tr.Hyperparameters()["criterion"])
}

func TestTrain_StripsInapplicableParams(t *testing.T) {
	Reset()
	p, err := Default().Get("random_forest")
	require.NoError(t, err)

	X := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := []float64{2, 4, 6, 8, 10, 12}

	tr, err := p.Train(X, y, map[string]interface{}{
		"n_estimators": 5,
		"class_weight": "balanced",
	}, trainer.TaskRegression, TrainOptions{})
	require.NoError(t, err)
	_, present := tr.Hyperparameters()["class_weight"]
	assert.False(t, present)
}

func TestTrain_SolverPenaltyCompatibility(t *testing.T) {
	Reset()
	p, err := Default().Get("logistic_regression")
	require.NoError(t, err)

	X, y := classificationData()
	tr, err := p.Train(X, y, map[string]interface{}{
		"penalty": "none",
		"solver":  "liblinear",
	}, trainer.TaskClassification, TrainOptions{})
	require.NoError(t, err)

	hyper := tr.Hyperparameters()
	assert.Equal(t, "none", hyper["penalty"])
	assert.Equal(t, "lbfgs", hyper["solver"])
}

func TestTrain_RejectsUnsupportedTask(t *testing.T) {
	Reset()
	p, err := Default().Get("kmeans")
	require.NoError(t, err)

	X, y := classificationData()
	_, err = p.Train(X, y, nil, trainer.TaskClassification, TrainOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported task")
}

func TestTrain_GPUGateFlowsThrough(t *testing.T) {
	Reset()
	p, err := Default().Get("gradient_boosting")
	require.NoError(t, err)

	X, y := classificationData()
	hyper := map[string]interface{}{"n_estimators": 3, "device": "CUDA"}

	denied, err := p.Train(X, y, hyper, trainer.TaskClassification, TrainOptions{UseGPU: false})
	require.NoError(t, err)
	assert.Equal(t, "cpu", denied.Hyperparameters()["device"])

	granted, err := p.Train(X, y, hyper, trainer.TaskClassification, TrainOptions{UseGPU: true})
	require.NoError(t, err)
	assert.Equal(t, "CUDA", granted.Hyperparameters()["device"])
}

func TestTrain_ReturnsFittedTrainer(t *testing.T) {
	Reset()
	p, err := Default().Get("knn")
	require.NoError(t, err)

	X, y := classificationData()
	tr, err := p.Train(X, y, map[string]interface{}{"n_neighbors": 3}, trainer.TaskClassification, TrainOptions{})
	require.NoError(t, err)

	pred, err := tr.Predict(X)
	require.NoError(t, err)
	for i := range y {
		assert.Equal(t, y[i], pred.At(i, 0))
	}
}
