package viz

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/trainer"
)

func fittedRegressor(t *testing.T) (trainer.Trainer, *mat.Dense, []float64) {
	t.Helper()
	X := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
	y := []float64{1.1, 2.0, 2.9, 4.2, 5.0, 6.1}
	k, err := trainer.NewKNN(trainer.TaskRegression, map[string]interface{}{"n_neighbors": 2})
	require.NoError(t, err)
	require.NoError(t, k.Fit(X, y))
	return k, X, y
}

func TestRender_PredictionScatter(t *testing.T) {
	k, X, y := fittedRegressor(t)
	dir := t.TempDir()

	path, err := Render("prediction_scatter", dir, k, X, y)
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestRender_PredictionScatterEmptyTargets(t *testing.T) {
	k, X, _ := fittedRegressor(t)

	_, err := Render("prediction_scatter", t.TempDir(), k, X, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no target values")
}

func TestRender_UnknownPlot(t *testing.T) {
	k, X, y := fittedRegressor(t)

	_, err := Render("residual_histogram", t.TempDir(), k, X, y)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
