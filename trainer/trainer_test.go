package trainer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/dataset"
)

// binaryBlobs returns two well separated 2-D clusters labeled 0 and 1.
func binaryBlobs() (*mat.Dense, []float64) {
	X := mat.NewDense(12, 2, []float64{
		0.1, 0.2,
		0.3, 0.1,
		0.2, 0.4,
		0.4, 0.3,
		0.0, 0.1,
		0.3, 0.3,
		4.1, 4.2,
		4.3, 4.0,
		4.0, 4.4,
		4.2, 4.1,
		4.4, 4.3,
		4.1, 4.0,
	})
	y := []float64{0, 0, 0, 0, 0, 0, 1, 1, 1, 1, 1, 1}
	return X, y
}

func regressionData() (*mat.Dense, []float64) {
	X := mat.NewDense(10, 2, []float64{
		1, 2, 2, 1, 3, 3, 4, 2, 5, 5,
		6, 4, 7, 6, 8, 5, 9, 7, 10, 8,
	})
	y := make([]float64, 10)
	for i := 0; i < 10; i++ {
		y[i] = 2*X.At(i, 0) - 0.5*X.At(i, 1) + 1
	}
	return X, y
}

func irisData(t *testing.T) (*mat.Dense, []float64) {
	t.Helper()
	table := dataset.SampleIris()
	X, err := table.Matrix()
	require.NoError(t, err)
	y, _, err := table.TargetVector()
	require.NoError(t, err)
	return X, y
}

// classifierFixtures builds one fitted-capable instance per
// classification-capable family.
func classifierFixtures(t *testing.T) map[string]Trainer {
	t.Helper()
	out := map[string]Trainer{}

	lr, err := NewLogisticRegression(nil)
	require.NoError(t, err)
	out["logistic_regression"] = lr

	knn, err := NewKNN(TaskClassification, map[string]interface{}{"n_neighbors": 3})
	require.NoError(t, err)
	out["knn"] = knn

	dt, err := NewDecisionTree(TaskClassification, nil)
	require.NoError(t, err)
	out["decision_tree"] = dt

	rf, err := NewRandomForest(TaskClassification, map[string]interface{}{"n_estimators": 10})
	require.NoError(t, err)
	out["random_forest"] = rf

	gb, err := NewGradientBoosting(TaskClassification, map[string]interface{}{"n_estimators": 15}, false)
	require.NoError(t, err)
	out["gradient_boosting"] = gb

	nn, err := NewNeuralNetwork(TaskClassification, map[string]interface{}{
		"hidden_layer_sizes": []int{8},
		"max_iter":           300,
		"learning_rate_init": 0.05,
	})
	require.NoError(t, err)
	out["neural_network"] = nn

	nb, err := NewGaussianNB(nil)
	require.NoError(t, err)
	out["gaussian_nb"] = nb

	return out
}

func TestLinearRegression_RecoversCoefficients(t *testing.T) {
	X, y := regressionData()
	lr, err := NewLinearRegression(nil)
	require.NoError(t, err)
	require.NoError(t, lr.Fit(X, y))

	pred, err := lr.Predict(X)
	require.NoError(t, err)
	for i := range y {
		assert.InDelta(t, y[i], pred.At(i, 0), 1e-6)
	}

	imp, err := lr.FeatureImportance()
	require.NoError(t, err)
	require.Len(t, imp, 2)
	assert.InDelta(t, 2.0, imp[0], 1e-6)
	assert.InDelta(t, 0.5, imp[1], 1e-6)
}

func TestLogisticRegression_Iris(t *testing.T) {
	X, y := irisData(t)
	rows, _ := X.Dims()
	nTrain := rows * 8 / 10

	trainX := mat.DenseCopyOf(X.Slice(0, nTrain, 0, 4))
	testX := mat.DenseCopyOf(X.Slice(nTrain, rows, 0, 4))

	lr, err := NewLogisticRegression(map[string]interface{}{"max_iter": 300})
	require.NoError(t, err)
	require.NoError(t, lr.Fit(trainX, y[:nTrain]))

	pred, err := lr.Predict(testX)
	require.NoError(t, err)
	nTest, _ := pred.Dims()
	require.Equal(t, rows-nTrain, nTest)

	correct := 0
	for i := 0; i < nTest; i++ {
		label := pred.At(i, 0)
		assert.Contains(t, []float64{0, 1, 2}, label)
		if label == y[nTrain+i] {
			correct++
		}
	}
	assert.Greater(t, float64(correct)/float64(nTest), 0.5)
}

func TestDualTask_UnsupportedTaskFailsAtFit(t *testing.T) {
	X, y := binaryBlobs()

	knn, err := NewKNN(Task("ranking"), nil)
	require.NoError(t, err)
	err = knn.Fit(X, y)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported task")

	dt, err := NewDecisionTree(Task("ranking"), nil)
	require.NoError(t, err)
	err = dt.Fit(X, y)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unsupported task")
}

func TestPredictBeforeFit_Fails(t *testing.T) {
	X, _ := binaryBlobs()
	for name, tr := range classifierFixtures(t) {
		_, err := tr.Predict(X)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "not fitted", name)
	}

	km, err := NewKMeans(nil)
	require.NoError(t, err)
	_, err = km.Predict(X)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not fitted")

	pca, err := NewPCA(nil)
	require.NoError(t, err)
	_, err = pca.Predict(X)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not fitted")
}

func TestFit_InputValidation(t *testing.T) {
	X, y := binaryBlobs()

	lr, err := NewLogisticRegression(nil)
	require.NoError(t, err)

	// Mismatched lengths.
	err = lr.Fit(X, y[:5])
	require.Error(t, err)

	// Missing target for a supervised task.
	err = lr.Fit(X, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classification")

	// Empty input.
	err = lr.Fit(nil, y)
	require.Error(t, err)
}

func TestPredict_FeatureCountMismatch(t *testing.T) {
	X, y := binaryBlobs()
	dt, err := NewDecisionTree(TaskClassification, nil)
	require.NoError(t, err)
	require.NoError(t, dt.Fit(X, y))

	narrow := mat.NewDense(2, 1, []float64{1, 2})
	_, err = dt.Predict(narrow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "features")
}

func TestConstructorValidation(t *testing.T) {
	tests := []struct {
		name    string
		build   func() error
		substr  string
	}{
		{
			name: "negative n_neighbors",
			build: func() error {
				_, err := NewKNN(TaskClassification, map[string]interface{}{"n_neighbors": -1})
				return err
			},
			substr: "positive",
		},
		{
			name: "negative n_estimators",
			build: func() error {
				_, err := NewRandomForest(TaskClassification, map[string]interface{}{"n_estimators": -5})
				return err
			},
			substr: "positive",
		},
		{
			name: "negative n_clusters",
			build: func() error {
				_, err := NewKMeans(map[string]interface{}{"n_clusters": -2})
				return err
			},
			substr: "positive",
		},
		{
			name: "fractional n_estimators",
			build: func() error {
				_, err := NewRandomForest(TaskClassification, map[string]interface{}{"n_estimators": 2.5})
				return err
			},
			substr: "integer",
		},
		{
			name: "bad criterion",
			build: func() error {
				_, err := NewDecisionTree(TaskClassification, map[string]interface{}{"criterion": "chi2"})
				return err
			},
			substr: "criterion",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

func TestPredictProba_RowStochastic(t *testing.T) {
	X, y := binaryBlobs()
	for name, tr := range classifierFixtures(t) {
		require.NoError(t, tr.Fit(X, y), name)
		proba, err := tr.PredictProba(X)
		require.NoError(t, err, name)

		rows, cols := proba.Dims()
		require.Equal(t, 12, rows, name)
		require.Equal(t, 2, cols, name)
		for i := 0; i < rows; i++ {
			var sum float64
			for j := 0; j < cols; j++ {
				v := proba.At(i, j)
				assert.GreaterOrEqual(t, v, 0.0, name)
				assert.LessOrEqual(t, v, 1.0, name)
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-6, name)
		}
	}
}

func TestPredictProba_RegressionNotSupported(t *testing.T) {
	X, y := regressionData()
	builders := map[string]func() (Trainer, error){
		"knn": func() (Trainer, error) { return NewKNN(TaskRegression, nil) },
		"decision_tree": func() (Trainer, error) {
			return NewDecisionTree(TaskRegression, nil)
		},
		"random_forest": func() (Trainer, error) {
			return NewRandomForest(TaskRegression, map[string]interface{}{"n_estimators": 5})
		},
		"gradient_boosting": func() (Trainer, error) {
			return NewGradientBoosting(TaskRegression, map[string]interface{}{"n_estimators": 5}, false)
		},
		"neural_network": func() (Trainer, error) {
			return NewNeuralNetwork(TaskRegression, map[string]interface{}{"hidden_layer_sizes": []int{4}, "max_iter": 20})
		},
	}
	for name, build := range builders {
		tr, err := build()
		require.NoError(t, err, name)
		require.NoError(t, tr.Fit(X, y), name)
		_, err = tr.PredictProba(X)
		require.Error(t, err, name)
		assert.Contains(t, err.Error(), "classification", name)
	}
}

func TestFeatureImportance_TreeFamilies(t *testing.T) {
	X, y := irisData(t)

	dt, err := NewDecisionTree(TaskClassification, nil)
	require.NoError(t, err)
	require.NoError(t, dt.Fit(X, y))

	rf, err := NewRandomForest(TaskClassification, map[string]interface{}{"n_estimators": 10})
	require.NoError(t, err)
	require.NoError(t, rf.Fit(X, y))

	for name, tr := range map[string]Trainer{"decision_tree": dt, "random_forest": rf} {
		imp, err := tr.FeatureImportance()
		require.NoError(t, err, name)
		require.Len(t, imp, 4, name)
		var sum float64
		for _, v := range imp {
			assert.GreaterOrEqual(t, v, 0.0, name)
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-6, name)
	}

	gb, err := NewGradientBoosting(TaskClassification, map[string]interface{}{"n_estimators": 5}, false)
	require.NoError(t, err)
	require.NoError(t, gb.Fit(X, y))
	imp, err := gb.FeatureImportance()
	require.NoError(t, err)
	require.Len(t, imp, 4)
	for _, v := range imp {
		assert.GreaterOrEqual(t, v, 0.0)
	}

	knn, err := NewKNN(TaskClassification, nil)
	require.NoError(t, err)
	require.NoError(t, knn.Fit(X, y))
	_, err = knn.FeatureImportance()
	require.Error(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	clsX, clsY := binaryBlobs()
	regX, regY := regressionData()

	fixtures := []struct {
		name  string
		build func() (Trainer, error)
		X     *mat.Dense
		y     []float64
	}{
		{"linear_regression", func() (Trainer, error) { return NewLinearRegression(nil) }, regX, regY},
		{"logistic_regression", func() (Trainer, error) { return NewLogisticRegression(nil) }, clsX, clsY},
		{"knn", func() (Trainer, error) { return NewKNN(TaskClassification, nil) }, clsX, clsY},
		{"decision_tree", func() (Trainer, error) { return NewDecisionTree(TaskRegression, nil) }, regX, regY},
		{"random_forest", func() (Trainer, error) {
			return NewRandomForest(TaskClassification, map[string]interface{}{"n_estimators": 5})
		}, clsX, clsY},
		{"gradient_boosting", func() (Trainer, error) {
			return NewGradientBoosting(TaskRegression, map[string]interface{}{"n_estimators": 5}, false)
		}, regX, regY},
		{"neural_network", func() (Trainer, error) {
			return NewNeuralNetwork(TaskClassification, map[string]interface{}{"hidden_layer_sizes": []int{4}, "max_iter": 50})
		}, clsX, clsY},
		{"gaussian_nb", func() (Trainer, error) { return NewGaussianNB(nil) }, clsX, clsY},
		{"kmeans", func() (Trainer, error) {
			return NewKMeans(map[string]interface{}{"n_clusters": 2})
		}, clsX, nil},
		{"pca", func() (Trainer, error) { return NewPCA(nil) }, clsX, nil},
	}

	for _, f := range fixtures {
		t.Run(f.name, func(t *testing.T) {
			tr, err := f.build()
			require.NoError(t, err)
			require.NoError(t, tr.Fit(f.X, f.y))

			before, err := tr.Predict(f.X)
			require.NoError(t, err)

			dir := t.TempDir()
			require.NoError(t, tr.Save(dir))

			loaded, err := Load(dir)
			require.NoError(t, err)
			assert.Equal(t, tr.Name(), loaded.Name())
			assert.Equal(t, tr.Task(), loaded.Task())
			assert.Equal(t, tr.Hyperparameters(), loaded.Hyperparameters())

			after, err := loaded.Predict(f.X)
			require.NoError(t, err)

			rows, cols := before.Dims()
			afterRows, afterCols := after.Dims()
			require.Equal(t, rows, afterRows)
			require.Equal(t, cols, afterCols)
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					assert.InDelta(t, before.At(i, j), after.At(i, j), 1e-9)
				}
			}
		})
	}
}

func TestSaveLoad_KeepsHyperparameterTypes(t *testing.T) {
	clsX, clsY := binaryBlobs()
	regX, regY := regressionData()

	t.Run("knn int count", func(t *testing.T) {
		k, err := NewKNN(TaskClassification, map[string]interface{}{"n_neighbors": 3})
		require.NoError(t, err)
		require.NoError(t, k.Fit(clsX, clsY))

		dir := t.TempDir()
		require.NoError(t, k.Save(dir))
		loaded, err := Load(dir)
		require.NoError(t, err)

		assert.Equal(t, 3, loaded.Hyperparameters()["n_neighbors"])
	})

	t.Run("boosting mixed numerics", func(t *testing.T) {
		g, err := NewGradientBoosting(TaskRegression, map[string]interface{}{
			"n_estimators":  5,
			"learning_rate": 0.05,
		}, false)
		require.NoError(t, err)
		require.NoError(t, g.Fit(regX, regY))

		dir := t.TempDir()
		require.NoError(t, g.Save(dir))
		loaded, err := Load(dir)
		require.NoError(t, err)

		hp := loaded.Hyperparameters()
		assert.Equal(t, 5, hp["n_estimators"])
		assert.Equal(t, 0.05, hp["learning_rate"])
		assert.Equal(t, 3, hp["max_depth"])
	})

	t.Run("tree nil depth", func(t *testing.T) {
		dt, err := NewDecisionTree(TaskRegression, map[string]interface{}{"max_depth": nil})
		require.NoError(t, err)
		require.NoError(t, dt.Fit(regX, regY))

		dir := t.TempDir()
		require.NoError(t, dt.Save(dir))
		loaded, err := Load(dir)
		require.NoError(t, err)

		depth, ok := loaded.Hyperparameters()["max_depth"]
		require.True(t, ok)
		assert.Nil(t, depth)
	})
}

func TestSave_RequiresFitted(t *testing.T) {
	lr, err := NewLinearRegression(nil)
	require.NoError(t, err)
	err = lr.Save(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not fitted")
}

func TestUpdateHyperparameters_RequiresRefit(t *testing.T) {
	X, y := irisData(t)

	dt, err := NewDecisionTree(TaskClassification, map[string]interface{}{"max_depth": 10})
	require.NoError(t, err)
	require.NoError(t, dt.Fit(X, y))

	before, err := dt.Predict(X)
	require.NoError(t, err)

	// A stump cannot separate three classes, so refitting must change
	// at least one prediction. Merely updating must change nothing.
	require.NoError(t, dt.UpdateHyperparameters(map[string]interface{}{"max_depth": 1}))

	unchanged, err := dt.Predict(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(before, unchanged))

	require.NoError(t, dt.Fit(X, y))
	after, err := dt.Predict(X)
	require.NoError(t, err)
	assert.False(t, mat.Equal(before, after))
}

func TestUpdateHyperparameters_RejectsInvalidWithoutMutation(t *testing.T) {
	knn, err := NewKNN(TaskClassification, map[string]interface{}{"n_neighbors": 5})
	require.NoError(t, err)

	err = knn.UpdateHyperparameters(map[string]interface{}{"n_neighbors": 0})
	require.Error(t, err)
	assert.Equal(t, 5, knn.Hyperparameters()["n_neighbors"])
}

func TestGradientBoosting_GPUGate(t *testing.T) {
	tests := []struct {
		name   string
		device string
		useGPU bool
		want   string
	}{
		{"denied uppercase", "CUDA", false, "cpu"},
		{"denied lowercase", "cuda", false, "cpu"},
		{"denied device index", "cuda:0", false, "cpu"},
		{"granted", "cuda", true, "cuda"},
		{"cpu passes through", "cpu", false, "cpu"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gb, err := NewGradientBoosting(TaskClassification, map[string]interface{}{"device": tt.device}, tt.useGPU)
			require.NoError(t, err)
			assert.Equal(t, tt.want, gb.Hyperparameters()["device"])
		})
	}
}

func TestGradientBoosting_GPUGateSurvivesUpdate(t *testing.T) {
	gb, err := NewGradientBoosting(TaskClassification, nil, false)
	require.NoError(t, err)

	// Hyperparameter injection after construction must not reopen the
	// gate.
	require.NoError(t, gb.UpdateHyperparameters(map[string]interface{}{"device": "Cuda:1"}))
	assert.Equal(t, "cpu", gb.Hyperparameters()["device"])
}

func TestKMeans_AssignsAllClusters(t *testing.T) {
	table := dataset.SampleBlobs()
	X, err := table.Matrix()
	require.NoError(t, err)

	km, err := NewKMeans(map[string]interface{}{"n_clusters": 3})
	require.NoError(t, err)
	require.NoError(t, km.Fit(X, nil))

	pred, err := km.Predict(X)
	require.NoError(t, err)

	seen := map[int]bool{}
	rows, _ := pred.Dims()
	for i := 0; i < rows; i++ {
		label := int(pred.At(i, 0))
		require.GreaterOrEqual(t, label, 0)
		require.Less(t, label, 3)
		seen[label] = true
	}
	assert.Len(t, seen, 3)

	inertia, err := km.Inertia()
	require.NoError(t, err)
	assert.Greater(t, inertia, 0.0)
}

func TestPCA_TransformAndInverse(t *testing.T) {
	X, _ := binaryBlobs()

	pca, err := NewPCA(map[string]interface{}{"n_components": 2})
	require.NoError(t, err)
	require.NoError(t, pca.Fit(X, nil))

	Z, err := pca.Predict(X)
	require.NoError(t, err)
	_, zc := Z.Dims()
	require.Equal(t, 2, zc)

	// Keeping every component makes the inverse exact.
	back, err := pca.InverseTransform(Z)
	require.NoError(t, err)
	rows, cols := X.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			assert.InDelta(t, X.At(i, j), back.At(i, j), 1e-8)
		}
	}

	ratios, err := pca.ExplainedVarianceRatio()
	require.NoError(t, err)
	var sum float64
	for _, r := range ratios {
		sum += r
	}
	assert.InDelta(t, 1.0, sum, 1e-8)
}

func TestPCA_ComponentBoundsAndProba(t *testing.T) {
	X, _ := binaryBlobs()

	pca, err := NewPCA(map[string]interface{}{"n_components": 5})
	require.NoError(t, err)
	err = pca.Fit(X, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "n_components")

	pca2, err := NewPCA(nil)
	require.NoError(t, err)
	require.NoError(t, pca2.Fit(X, nil))
	_, err = pca2.PredictProba(X)
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "classification")
}

func TestMetadata_StampedOnFit(t *testing.T) {
	X, y := binaryBlobs()
	nb, err := NewGaussianNB(nil)
	require.NoError(t, err)
	require.NoError(t, nb.Fit(X, y))

	meta := nb.Metadata()
	assert.Equal(t, 12, meta.NSamples)
	assert.Equal(t, 2, meta.NFeatures)
	assert.False(t, meta.TrainedAt.IsZero())
	assert.Equal(t, Version, meta.Version)
}

func TestUnsupervisedFit_IgnoresTarget(t *testing.T) {
	X, y := binaryBlobs()
	km, err := NewKMeans(map[string]interface{}{"n_clusters": 2})
	require.NoError(t, err)
	// Passing y to an unsupervised trainer is silently ignored.
	require.NoError(t, km.Fit(X, y))
}

func TestNeuralNetwork_LearnsSeparableData(t *testing.T) {
	X, y := binaryBlobs()
	nn, err := NewNeuralNetwork(TaskClassification, map[string]interface{}{
		"hidden_layer_sizes": []int{8},
		"max_iter":           500,
		"learning_rate_init": 0.1,
	})
	require.NoError(t, err)
	require.NoError(t, nn.Fit(X, y))

	pred, err := nn.Predict(X)
	require.NoError(t, err)
	correct := 0
	for i := range y {
		if pred.At(i, 0) == y[i] {
			correct++
		}
	}
	assert.GreaterOrEqual(t, correct, 10)
}

func TestModelTypeTags(t *testing.T) {
	lr, _ := NewLinearRegression(nil)
	assert.Equal(t, ModelLinear, lr.ModelType())
	knn, _ := NewKNN(TaskClassification, nil)
	assert.Equal(t, ModelDistance, knn.ModelType())
	dt, _ := NewDecisionTree(TaskClassification, nil)
	assert.Equal(t, ModelTree, dt.ModelType())
	nn, _ := NewNeuralNetwork(TaskClassification, nil)
	assert.Equal(t, ModelNeural, nn.ModelType())
	km, _ := NewKMeans(nil)
	assert.Equal(t, ModelClustering, km.ModelType())
	pca, _ := NewPCA(nil)
	assert.Equal(t, ModelDimensionality, pca.ModelType())
}
