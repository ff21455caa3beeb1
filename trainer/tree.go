package trainer

import (
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/pkg/validate"
)

// DecisionTree is the dual-task CART trainer. The split criterion
// follows the task: gini or entropy for classification, squared_error
// for regression.
type DecisionTree struct {
	baseTrainer

	tree *cartTree
}

type treePayload struct {
	Tree *cartTree
}

func validateTreeParams(p map[string]interface{}) error {
	if v, ok := p["criterion"]; ok {
		if _, err := validate.OneOf("criterion", v, "gini", "entropy", "squared_error"); err != nil {
			return err
		}
	}
	if v, ok := p["max_depth"]; ok && v != nil {
		if _, err := validate.PositiveInt("max_depth", v); err != nil {
			return err
		}
	}
	if v, ok := p["min_samples_split"]; ok {
		n, err := validate.AsInt("min_samples_split", v)
		if err != nil {
			return err
		}
		if n < 2 {
			return errors.NewValidationError("min_samples_split", "must be an integer of at least 2", v)
		}
	}
	if v, ok := p["min_samples_leaf"]; ok {
		if _, err := validate.PositiveInt("min_samples_leaf", v); err != nil {
			return err
		}
	}
	return nil
}

// NewDecisionTree creates a decision-tree trainer for the given task.
// Defaults: criterion per task, max_depth=nil (unlimited),
// min_samples_split=2, min_samples_leaf=1.
func NewDecisionTree(task Task, hyper map[string]interface{}) (*DecisionTree, error) {
	criterion := "gini"
	if task == TaskRegression {
		criterion = "squared_error"
	}
	merged := mergeDefaults(map[string]interface{}{
		"criterion":         criterion,
		"max_depth":         nil,
		"min_samples_split": 2,
		"min_samples_leaf":  1,
	}, hyper)
	b, err := newBaseTrainer("decision_tree", task, ModelTree, merged, validateTreeParams)
	if err != nil {
		return nil, err
	}
	return &DecisionTree{baseTrainer: b}, nil
}

func (d *DecisionTree) cartParams() cartParams {
	p := cartParams{criterion: "squared_error"}
	if c, _ := d.hyper["criterion"].(string); c != "" {
		p.criterion = c
	}
	if d.task == TaskRegression {
		p.criterion = "squared_error"
	} else if p.criterion == "squared_error" {
		p.criterion = "gini"
	}
	if v := d.hyper["max_depth"]; v != nil {
		p.maxDepth, _ = validate.AsInt("max_depth", v)
	}
	p.minSamplesSplit, _ = validate.AsInt("min_samples_split", d.hyper["min_samples_split"])
	p.minSamplesLeaf, _ = validate.AsInt("min_samples_leaf", d.hyper["min_samples_leaf"])
	return p
}

// Fit grows a single CART tree on X.
func (d *DecisionTree) Fit(X *mat.Dense, y []float64) error {
	if !d.task.IsSupervised() {
		return d.unsupportedTask()
	}
	rows, cols, err := d.validateFitInputs(X, y)
	if err != nil {
		return err
	}

	var classes []float64
	if d.task == TaskClassification {
		classes = classesOf(y)
	}
	d.tree = fitCART(matrixRows(X, rows), y, classes, d.cartParams())

	d.stampFitted(rows, cols)
	return nil
}

// Predict returns the leaf value (majority class or mean) per row.
func (d *DecisionTree) Predict(X *mat.Dense) (*mat.Dense, error) {
	rows, err := d.requirePredictable("Predict", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		out.Set(i, 0, d.tree.predictRow(X.RawRowView(i)))
	}
	return out, nil
}

// PredictProba returns the leaf class distribution per row.
func (d *DecisionTree) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	if d.task != TaskClassification {
		return d.notSupportedProba()
	}
	rows, err := d.requirePredictable("PredictProba", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, len(d.tree.Classes), nil)
	for i := 0; i < rows; i++ {
		out.SetRow(i, d.tree.probaRow(X.RawRowView(i)))
	}
	return out, nil
}

// FeatureImportance returns impurity-decrease importances normalized
// to sum to 1.
func (d *DecisionTree) FeatureImportance() ([]float64, error) {
	if err := d.state.RequireFitted(d.name, "FeatureImportance"); err != nil {
		return nil, err
	}
	return d.tree.normalizedImportance(), nil
}

// Save persists the fitted tree and metadata.
func (d *DecisionTree) Save(dir string) error {
	return d.saveWithPayload(dir, treePayload{Tree: d.tree})
}

func init() {
	loaders["decision_tree"] = func(doc artifactDoc, dir string) (Trainer, error) {
		d, err := NewDecisionTree(doc.Task, doc.Hyperparameters)
		if err != nil {
			return nil, err
		}
		var payload treePayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		d.tree = payload.Tree
		d.restore(doc)
		return d, nil
	}
}
