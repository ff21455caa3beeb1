package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestRegressionMetrics(t *testing.T) {
	yTrue := []float64{3, -0.5, 2, 7}
	yPred := []float64{2.5, 0.0, 2, 8}

	mse, err := MSE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.375, mse, 1e-9)

	rmse, err := RMSE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.6123724357, rmse, 1e-9)

	mae, err := MAE(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, mae, 1e-9)

	r2, err := R2(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.9486081370, r2, 1e-9)
}

func TestRegressionMetrics_InputChecks(t *testing.T) {
	_, err := MSE([]float64{1, 2}, []float64{1})
	require.Error(t, err)

	_, err = MAE(nil, nil)
	require.Error(t, err)
}

func TestR2_ConstantTruth(t *testing.T) {
	// A constant target leaves R2 undefined; it reports 0 and warns,
	// except for an exact constant prediction which scores 1.
	r2, err := R2([]float64{2, 2, 2}, []float64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 0.0, r2)

	r2, err = R2([]float64{2, 2, 2}, []float64{2, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, 1.0, r2)
}

func TestAccuracy(t *testing.T) {
	acc, err := Accuracy([]float64{0, 1, 1, 0}, []float64{0, 1, 0, 0})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, acc, 1e-9)
}

func TestConfusionMatrix(t *testing.T) {
	cm, classes, err := ConfusionMatrix(
		[]float64{0, 1, 2, 0, 1, 2},
		[]float64{0, 2, 1, 0, 1, 2},
	)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, classes)
	assert.Equal(t, [][]float64{
		{2, 0, 0},
		{0, 1, 1},
		{0, 1, 1},
	}, cm)
}

func TestConfusionMatrix_PredOnlyClass(t *testing.T) {
	// A class appearing only in predictions still gets a column/row.
	cm, classes, err := ConfusionMatrix([]float64{0, 0}, []float64{0, 5})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 5}, classes)
	assert.Equal(t, [][]float64{{1, 1}, {0, 0}}, cm)
}

func TestPrecisionRecallF1_Binary(t *testing.T) {
	yTrue := []float64{0, 1, 1, 0, 1, 0, 1, 0}
	yPred := []float64{0, 1, 0, 0, 1, 0, 1, 1}

	p, r, f1, err := PrecisionRecallF1(yTrue, yPred, "binary")
	require.NoError(t, err)
	assert.InDelta(t, 0.75, p, 1e-9)
	assert.InDelta(t, 0.75, r, 1e-9)
	assert.InDelta(t, 0.75, f1, 1e-9)
}

func TestPrecisionRecallF1_WeightedPerfect(t *testing.T) {
	y := []float64{0, 1, 2, 0, 1, 2}
	p, r, f1, err := PrecisionRecallF1(y, y, "weighted")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, p, 1e-9)
	assert.InDelta(t, 1.0, r, 1e-9)
	assert.InDelta(t, 1.0, f1, 1e-9)
}

func TestROCAUC(t *testing.T) {
	// Perfectly ranked scores.
	auc, err := ROCAUC([]float64{0, 0, 1, 1}, []float64{0.1, 0.2, 0.8, 0.9})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, auc, 1e-9)

	// Inverted ranking.
	auc, err = ROCAUC([]float64{0, 0, 1, 1}, []float64{0.9, 0.8, 0.2, 0.1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, auc, 1e-9)

	// All scores tied is chance level.
	auc, err = ROCAUC([]float64{0, 1, 0, 1}, []float64{0.5, 0.5, 0.5, 0.5})
	require.NoError(t, err)
	assert.InDelta(t, 0.5, auc, 1e-9)
}

func TestClusteringMetrics_TwoBlobs(t *testing.T) {
	X := mat.NewDense(6, 2, []float64{
		0, 0, 0.1, 0, 0, 0.1,
		9, 9, 9.1, 9, 9, 9.1,
	})
	labels := []int{0, 0, 0, 1, 1, 1}

	sil, err := SilhouetteScore(X, labels)
	require.NoError(t, err)
	assert.Greater(t, sil, 0.9)

	db, err := DaviesBouldin(X, labels)
	require.NoError(t, err)
	assert.Less(t, db, 0.1)

	ch, err := CalinskiHarabasz(X, labels)
	require.NoError(t, err)
	assert.Greater(t, ch, 100.0)

	inertia, err := Inertia(X, labels)
	require.NoError(t, err)
	assert.InDelta(t, 0.0266666667, inertia, 1e-6)
}

func TestClusteringMetrics_SingleClusterFails(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	labels := []int{0, 0, 0}

	_, err := SilhouetteScore(X, labels)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 distinct cluster labels")

	_, err = DaviesBouldin(X, labels)
	require.Error(t, err)
	_, err = CalinskiHarabasz(X, labels)
	require.Error(t, err)
}

func TestClasses_SortedDistinct(t *testing.T) {
	assert.Equal(t, []float64{0, 1, 4}, Classes([]float64{4, 0, 1, 0, 4}))
}
