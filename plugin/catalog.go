package plugin

import (
	"github.com/flowml/flowml/trainer"
)

func fptr(v float64) *float64 { return &v }

func intField(key, name string, def interface{}, min, max float64, desc string) Field {
	return Field{Key: key, Name: name, Type: "int", Default: def, Min: fptr(min), Max: fptr(max), Description: desc, Required: true}
}

func floatField(key, name string, def interface{}, min, max, step float64, desc string) Field {
	return Field{Key: key, Name: name, Type: "float", Default: def, Min: fptr(min), Max: fptr(max), Step: fptr(step), Description: desc, Required: true}
}

func boolField(key, name string, def bool, desc string) Field {
	return Field{Key: key, Name: name, Type: "bool", Default: def, Description: desc, Required: true}
}

func selectField(key, name string, def interface{}, desc string, values ...string) Field {
	opts := make([]Option, len(values))
	for i, v := range values {
		opts[i] = Option{Label: v, Value: v}
	}
	return Field{Key: key, Name: name, Type: "select", Default: def, Options: opts, Description: desc, Required: true}
}

func nullable(f Field, label string) Field {
	f.Nullable = true
	f.NullLabel = label
	f.Required = false
	return f
}

// Shared capability tables. Metric keys match the evaluator output,
// plot keys match the viz renderers.
var (
	classificationMetrics        = []string{"accuracy", "precision", "recall", "f1_score", "roc_auc", "confusion_matrix"}
	classificationDefaultMetrics = []string{"accuracy", "f1_score", "confusion_matrix"}
	regressionMetrics            = []string{"mse", "rmse", "mae", "r2_score"}
	regressionDefaultMetrics     = []string{"mse", "r2_score"}
	clusteringMetrics            = []string{"silhouette_score", "davies_bouldin", "calinski_harabasz", "inertia"}
	clusteringDefaultMetrics     = []string{"silhouette_score", "inertia"}
)

func dualMetricTables() (m, d map[trainer.Task][]string) {
	m = map[trainer.Task][]string{
		trainer.TaskClassification: classificationMetrics,
		trainer.TaskRegression:     regressionMetrics,
	}
	d = map[trainer.Task][]string{
		trainer.TaskClassification: classificationDefaultMetrics,
		trainer.TaskRegression:     regressionDefaultMetrics,
	}
	return m, d
}

func dualPlotTables(importance bool) (p, d map[trainer.Task][]string) {
	cls := []string{"confusion_heatmap", "prediction_scatter"}
	reg := []string{"prediction_scatter"}
	clsDef := []string{"confusion_heatmap"}
	regDef := []string{"prediction_scatter"}
	if importance {
		cls = append(cls, "feature_importance")
		reg = append(reg, "feature_importance")
	}
	p = map[trainer.Task][]string{
		trainer.TaskClassification: cls,
		trainer.TaskRegression:     reg,
	}
	d = map[trainer.Task][]string{
		trainer.TaskClassification: clsDef,
		trainer.TaskRegression:     regDef,
	}
	return p, d
}

// sanitizeTreeCriterion resolves split criteria across the task
// boundary: regression trees cannot use class purity criteria and
// classification trees cannot use squared error. The legacy "mse"
// alias maps to "squared_error".
func sanitizeTreeCriterion(task trainer.Task, h map[string]interface{}) {
	c, _ := h["criterion"].(string)
	if c == "mse" {
		c = "squared_error"
	}
	switch task {
	case trainer.TaskRegression:
		if c == "gini" || c == "entropy" {
			c = "squared_error"
		}
		delete(h, "class_weight")
	case trainer.TaskClassification:
		if c == "squared_error" {
			c = "gini"
		}
	}
	if c != "" {
		h["criterion"] = c
	}
}

func catalog() []Plugin {
	dualMetrics, dualDefaults := dualMetricTables()

	linearPlots := map[trainer.Task][]string{
		trainer.TaskRegression: {"prediction_scatter", "feature_importance"},
	}
	linearDefaultPlots := map[trainer.Task][]string{
		trainer.TaskRegression: {"prediction_scatter"},
	}
	logisticPlots := map[trainer.Task][]string{
		trainer.TaskClassification: {"confusion_heatmap", "prediction_scatter", "feature_importance"},
	}
	logisticDefaultPlots := map[trainer.Task][]string{
		trainer.TaskClassification: {"confusion_heatmap"},
	}

	treePlots, treeDefaultPlots := dualPlotTables(true)
	plainPlots, plainDefaultPlots := dualPlotTables(false)

	return []Plugin{
		&descriptor{
			slug:        "linear_regression",
			name:        "Linear Regression",
			description: "Ordinary least squares regression.",
			icon:        "trending-up",
			category:    "linear",
			tasks:       []trainer.Task{trainer.TaskRegression},
			schema: Schema{
				Main: []Field{
					boolField("fit_intercept", "Fit intercept", true, "Estimate a constant term."),
				},
			},
			metrics:        map[trainer.Task][]string{trainer.TaskRegression: regressionMetrics},
			defaultMetrics: map[trainer.Task][]string{trainer.TaskRegression: regressionDefaultMetrics},
			plots:          linearPlots,
			defaultPlots:   linearDefaultPlots,
			build: func(task trainer.Task, h map[string]interface{}, _ TrainOptions) (trainer.Trainer, error) {
				return trainer.NewLinearRegression(h)
			},
		},
		&descriptor{
			slug:        "logistic_regression",
			name:        "Logistic Regression",
			description: "Linear classifier with one-vs-rest multiclass handling.",
			icon:        "git-branch",
			category:    "linear",
			tasks:       []trainer.Task{trainer.TaskClassification},
			schema: Schema{
				Main: []Field{
					floatField("c", "Regularization strength", 1.0, 0.001, 1000, 0.001, "Inverse regularization weight."),
					intField("max_iter", "Max iterations", 200, 1, 10000, "Gradient descent iteration cap."),
				},
				Advanced: []Field{
					nullable(selectField("penalty", "Penalty", "l2", "Regularization penalty.", "l2", "none"), "No penalty"),
					selectField("solver", "Solver", "lbfgs", "Optimization backend.", "lbfgs", "liblinear"),
					floatField("tol", "Tolerance", 1e-4, 1e-8, 1.0, 1e-5, "Convergence tolerance."),
					boolField("fit_intercept", "Fit intercept", true, "Estimate a constant term."),
				},
			},
			metrics:        map[trainer.Task][]string{trainer.TaskClassification: classificationMetrics},
			defaultMetrics: map[trainer.Task][]string{trainer.TaskClassification: classificationDefaultMetrics},
			plots:          logisticPlots,
			defaultPlots:   logisticDefaultPlots,
			sanitize: func(_ trainer.Task, h map[string]interface{}) {
				if p, ok := h["penalty"]; ok && p == nil {
					h["penalty"] = "none"
				}
				if p, _ := h["penalty"].(string); p != "" && p != "l2" && p != "none" {
					// Unsupported penalties fall back to l2.
					h["penalty"] = "l2"
				}
				// liblinear cannot run without a penalty.
				if s, _ := h["solver"].(string); s == "liblinear" && h["penalty"] == "none" {
					h["solver"] = "lbfgs"
				}
			},
			build: func(task trainer.Task, h map[string]interface{}, _ TrainOptions) (trainer.Trainer, error) {
				return trainer.NewLogisticRegression(h)
			},
		},
		&descriptor{
			slug:        "knn",
			name:        "K-Nearest Neighbors",
			description: "Distance-based prediction from the k closest samples.",
			icon:        "users",
			category:    "distance",
			tasks:       []trainer.Task{trainer.TaskClassification, trainer.TaskRegression},
			schema: Schema{
				Main: []Field{
					intField("n_neighbors", "Neighbors", 5, 1, 100, "Number of neighbors to vote."),
				},
				Advanced: []Field{
					selectField("weights", "Weights", "uniform", "Neighbor weighting.", "uniform", "distance"),
				},
			},
			metrics:        dualMetrics,
			defaultMetrics: dualDefaults,
			plots:          plainPlots,
			defaultPlots:   plainDefaultPlots,
			sanitize: func(_ trainer.Task, h map[string]interface{}) {
				if w, ok := h["weights"]; ok && w == nil {
					h["weights"] = "uniform"
				}
			},
			build: func(task trainer.Task, h map[string]interface{}, _ TrainOptions) (trainer.Trainer, error) {
				return trainer.NewKNN(task, h)
			},
		},
		&descriptor{
			slug:        "decision_tree",
			name:        "Decision Tree",
			description: "Single CART tree with impurity-based splits.",
			icon:        "git-merge",
			category:    "tree",
			tasks:       []trainer.Task{trainer.TaskClassification, trainer.TaskRegression},
			schema: Schema{
				Main: []Field{
					nullable(intField("max_depth", "Max depth", nil, 1, 100, "Depth cap, empty for unlimited."), "Unlimited"),
					selectField("criterion", "Criterion", "gini", "Split quality measure.", "gini", "entropy", "squared_error"),
				},
				Advanced: []Field{
					intField("min_samples_split", "Min samples to split", 2, 2, 1000, "Smallest node eligible for splitting."),
					intField("min_samples_leaf", "Min samples per leaf", 1, 1, 1000, "Smallest allowed leaf."),
				},
			},
			metrics:        dualMetrics,
			defaultMetrics: dualDefaults,
			plots:          treePlots,
			defaultPlots:   treeDefaultPlots,
			sanitize:       sanitizeTreeCriterion,
			build: func(task trainer.Task, h map[string]interface{}, _ TrainOptions) (trainer.Trainer, error) {
				return trainer.NewDecisionTree(task, h)
			},
		},
		&descriptor{
			slug:        "random_forest",
			name:        "Random Forest",
			description: "Bagged ensemble of randomized CART trees.",
			icon:        "layers",
			category:    "tree",
			tasks:       []trainer.Task{trainer.TaskClassification, trainer.TaskRegression},
			schema: Schema{
				Main: []Field{
					intField("n_estimators", "Trees", 100, 1, 1000, "Ensemble size."),
					nullable(intField("max_depth", "Max depth", nil, 1, 100, "Depth cap per tree."), "Unlimited"),
				},
				Advanced: []Field{
					selectField("criterion", "Criterion", "gini", "Split quality measure.", "gini", "entropy", "squared_error"),
					intField("min_samples_split", "Min samples to split", 2, 2, 1000, "Smallest node eligible for splitting."),
					intField("min_samples_leaf", "Min samples per leaf", 1, 1, 1000, "Smallest allowed leaf."),
					intField("random_state", "Random seed", 42, 0, 1<<31-1, "Seed for bootstrap sampling."),
				},
			},
			metrics:        dualMetrics,
			defaultMetrics: dualDefaults,
			plots:          treePlots,
			defaultPlots:   treeDefaultPlots,
			sanitize:       sanitizeTreeCriterion,
			build: func(task trainer.Task, h map[string]interface{}, _ TrainOptions) (trainer.Trainer, error) {
				return trainer.NewRandomForest(task, h)
			},
		},
		&descriptor{
			slug:        "gradient_boosting",
			name:        "Gradient Boosting",
			description: "Boosted shallow trees fitted to pseudo-residuals.",
			icon:        "zap",
			category:    "tree",
			tasks:       []trainer.Task{trainer.TaskClassification, trainer.TaskRegression},
			schema: Schema{
				Main: []Field{
					intField("n_estimators", "Rounds", 100, 1, 1000, "Boosting rounds."),
					floatField("learning_rate", "Learning rate", 0.1, 0.001, 1.0, 0.001, "Shrinkage per round."),
					intField("max_depth", "Max depth", 3, 1, 16, "Depth cap per tree."),
				},
				Advanced: []Field{
					selectField("device", "Device", "cpu", "Training device. GPU requires a granted quota.", "cpu", "cuda"),
				},
			},
			metrics:        dualMetrics,
			defaultMetrics: dualDefaults,
			plots:          treePlots,
			defaultPlots:   treeDefaultPlots,
			sanitize: func(_ trainer.Task, h map[string]interface{}) {
				if d, ok := h["device"]; ok && d == nil {
					h["device"] = "cpu"
				}
			},
			build: func(task trainer.Task, h map[string]interface{}, opts TrainOptions) (trainer.Trainer, error) {
				return trainer.NewGradientBoosting(task, h, opts.UseGPU)
			},
		},
		&descriptor{
			slug:        "neural_network",
			name:        "Neural Network",
			description: "Fully connected multilayer perceptron.",
			icon:        "cpu",
			category:    "neural",
			tasks:       []trainer.Task{trainer.TaskClassification, trainer.TaskRegression},
			schema: Schema{
				Main: []Field{
					{Key: "hidden_layer_sizes", Name: "Hidden layers", Type: "range", Default: []int{100},
						Description: "Units per hidden layer.", Required: true},
					selectField("activation", "Activation", "relu", "Hidden layer activation.", "relu", "tanh", "logistic"),
				},
				Advanced: []Field{
					floatField("learning_rate_init", "Learning rate", 0.001, 1e-6, 1.0, 1e-4, "Gradient descent step size."),
					intField("max_iter", "Max iterations", 200, 1, 5000, "Training iteration cap."),
				},
			},
			metrics:        dualMetrics,
			defaultMetrics: dualDefaults,
			plots:          plainPlots,
			defaultPlots:   plainDefaultPlots,
			build: func(task trainer.Task, h map[string]interface{}, _ TrainOptions) (trainer.Trainer, error) {
				return trainer.NewNeuralNetwork(task, h)
			},
		},
		&descriptor{
			slug:        "gaussian_nb",
			name:        "Gaussian Naive Bayes",
			description: "Independent Gaussian likelihood per feature and class.",
			icon:        "percent",
			category:    "distance",
			tasks:       []trainer.Task{trainer.TaskClassification},
			schema: Schema{
				Advanced: []Field{
					floatField("var_smoothing", "Variance smoothing", 1e-9, 1e-12, 1.0, 1e-9, "Stability term added to variances."),
				},
			},
			metrics:        map[trainer.Task][]string{trainer.TaskClassification: classificationMetrics},
			defaultMetrics: map[trainer.Task][]string{trainer.TaskClassification: classificationDefaultMetrics},
			plots:          logisticPlots,
			defaultPlots:   logisticDefaultPlots,
			build: func(task trainer.Task, h map[string]interface{}, _ TrainOptions) (trainer.Trainer, error) {
				return trainer.NewGaussianNB(h)
			},
		},
		&descriptor{
			slug:        "kmeans",
			name:        "K-Means",
			description: "Centroid clustering with k-means++ seeding.",
			icon:        "target",
			category:    "clustering",
			tasks:       []trainer.Task{trainer.TaskClustering},
			schema: Schema{
				Main: []Field{
					intField("n_clusters", "Clusters", 8, 1, 100, "Number of centroids."),
				},
				Advanced: []Field{
					intField("max_iter", "Max iterations", 300, 1, 10000, "Lloyd iteration cap."),
					floatField("tol", "Tolerance", 1e-4, 1e-8, 1.0, 1e-5, "Centroid shift threshold."),
					intField("random_state", "Random seed", 42, 0, 1<<31-1, "Seed for centroid seeding."),
				},
			},
			metrics:        map[trainer.Task][]string{trainer.TaskClustering: clusteringMetrics},
			defaultMetrics: map[trainer.Task][]string{trainer.TaskClustering: clusteringDefaultMetrics},
			plots:          map[trainer.Task][]string{trainer.TaskClustering: {"cluster_scatter"}},
			defaultPlots:   map[trainer.Task][]string{trainer.TaskClustering: {"cluster_scatter"}},
			build: func(task trainer.Task, h map[string]interface{}, _ TrainOptions) (trainer.Trainer, error) {
				return trainer.NewKMeans(h)
			},
		},
		&descriptor{
			slug:        "pca",
			name:        "PCA",
			description: "Principal component projection via SVD.",
			icon:        "minimize-2",
			category:    "dimensionality",
			tasks:       []trainer.Task{trainer.TaskDimensionalityReduction},
			schema: Schema{
				Main: []Field{
					intField("n_components", "Components", 2, 1, 100, "Dimensions to keep."),
				},
			},
			metrics:        map[trainer.Task][]string{},
			defaultMetrics: map[trainer.Task][]string{},
			plots:          map[trainer.Task][]string{trainer.TaskDimensionalityReduction: {"cluster_scatter"}},
			defaultPlots:   map[trainer.Task][]string{trainer.TaskDimensionalityReduction: {"cluster_scatter"}},
			build: func(task trainer.Task, h map[string]interface{}, _ TrainOptions) (trainer.Trainer, error) {
				return trainer.NewPCA(h)
			},
		},
	}
}
