// Package trainer implements the polymorphic training contract: one
// interface, ten concrete model families (linear, distance, tree,
// ensemble, neural, clustering, dimensionality reduction), each wrapping
// one algorithm behind uniform fit/predict/persist operations.
package trainer

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/core/model"
	"github.com/flowml/flowml/pkg/errors"
)

// Task identifies what a trainer learns to produce.
type Task string

const (
	TaskClassification           Task = "classification"
	TaskRegression               Task = "regression"
	TaskClustering               Task = "clustering"
	TaskDimensionalityReduction  Task = "dimensionality_reduction"
)

// IsSupervised reports whether the task requires a target vector.
func (t Task) IsSupervised() bool {
	return t == TaskClassification || t == TaskRegression
}

// ModelType is the stable family tag, independent of task, used by
// capability lookups downstream.
type ModelType string

const (
	ModelLinear         ModelType = "linear"
	ModelTree           ModelType = "tree"
	ModelNeural         ModelType = "neural"
	ModelDistance       ModelType = "distance"
	ModelClustering     ModelType = "clustering"
	ModelDimensionality ModelType = "dimensionality"
)

// Version stamps saved artifacts so future format changes can be detected
// at load time.
const Version = "1.0.0"

// Metadata records a trainer's provenance.
type Metadata struct {
	CreatedAt time.Time  `json:"created_at"`
	TrainedAt *time.Time `json:"trained_at,omitempty"`
	NSamples  int        `json:"n_samples,omitempty"`
	NFeatures int        `json:"n_features,omitempty"`
	Version   string     `json:"version"`
}

// Trainer is the uniform contract over all model families.
//
// Predict's meaning varies by task: labels for classification, values for
// regression, cluster ids in [0, n_clusters) for clustering, and the
// transformed (lower-dimensional) matrix for dimensionality reduction.
// The uniform name keeps the workflow executor polymorphic; PCA
// additionally exposes InverseTransform for callers that need the
// transform-shaped contract.
type Trainer interface {
	Name() string
	Task() Task
	ModelType() ModelType

	// Hyperparameters returns a copy of the current hyperparameter set.
	Hyperparameters() map[string]interface{}
	// UpdateHyperparameters merges new values into the current set and
	// re-validates the merged result before it becomes durable. It never
	// retrains; call Fit again for changes to take effect.
	UpdateHyperparameters(params map[string]interface{}) error

	model.Fitter
	model.Predictor
	// PredictProba returns a row-stochastic class probability matrix for
	// classification-capable trainers and a NotSupportedError otherwise.
	model.ProbabilityPredictor
	// FeatureImportance returns per-feature importances for tree and
	// linear families and a NotSupportedError otherwise.
	FeatureImportance() ([]float64, error)

	Metadata() Metadata
	// Save writes the fitted model blob and metadata document into dir.
	Save(dir string) error
}

// baseTrainer carries the bookkeeping shared by every family.
type baseTrainer struct {
	name       string
	task       Task
	family     ModelType
	hyper      map[string]interface{}
	meta       Metadata
	state      *model.StateManager
	validateFn func(map[string]interface{}) error
}

func newBaseTrainer(name string, task Task, family ModelType, hyper map[string]interface{}, validateFn func(map[string]interface{}) error) (baseTrainer, error) {
	if hyper == nil {
		hyper = map[string]interface{}{}
	}
	b := baseTrainer{
		name:       name,
		task:       task,
		family:     family,
		hyper:      canonParams(hyper),
		meta:       Metadata{CreatedAt: time.Now(), Version: Version},
		state:      model.NewStateManager(),
		validateFn: validateFn,
	}
	if validateFn != nil {
		if err := validateFn(b.hyper); err != nil {
			return baseTrainer{}, err
		}
	}
	return b, nil
}

func (b *baseTrainer) Name() string          { return b.name }
func (b *baseTrainer) Task() Task            { return b.task }
func (b *baseTrainer) ModelType() ModelType  { return b.family }
func (b *baseTrainer) Metadata() Metadata    { return b.meta }
func (b *baseTrainer) IsFitted() bool        { return b.state.IsFitted() }

func (b *baseTrainer) Hyperparameters() map[string]interface{} {
	return cloneParams(b.hyper)
}

// UpdateHyperparameters validates the merged parameter set before any
// mutation becomes visible, so a failed update leaves the trainer intact.
func (b *baseTrainer) UpdateHyperparameters(params map[string]interface{}) error {
	merged := cloneParams(b.hyper)
	for k, v := range params {
		merged[k] = canonValue(v)
	}
	if b.validateFn != nil {
		if err := b.validateFn(merged); err != nil {
			return err
		}
	}
	b.hyper = merged
	return nil
}

// validateFitInputs applies the shared fit preconditions: a non-empty 2-D
// matrix, a target for supervised tasks (named in the error), matching
// lengths. y is ignored for unsupervised tasks.
func (b *baseTrainer) validateFitInputs(X *mat.Dense, y []float64) (rows, cols int, err error) {
	if X == nil {
		return 0, 0, errors.NewValueError(b.name+".Fit", "X must not be nil")
	}
	rows, cols = X.Dims()
	if rows == 0 || cols == 0 {
		return 0, 0, errors.NewValueError(b.name+".Fit", "X must not be empty")
	}
	if b.task.IsSupervised() {
		if len(y) == 0 {
			return 0, 0, errors.NewValueError(b.name+".Fit",
				"target y is required for "+string(b.task)+" task")
		}
		if len(y) != rows {
			return 0, 0, errors.NewDimensionError(b.name+".Fit", rows, len(y), 0)
		}
	}
	return rows, cols, nil
}

// requirePredictable applies the shared predict preconditions: fitted
// state and a feature count matching the one recorded at fit time.
func (b *baseTrainer) requirePredictable(method string, X *mat.Dense) (rows int, err error) {
	if err := b.state.RequireFitted(b.name, method); err != nil {
		return 0, err
	}
	rows, cols := X.Dims()
	if cols != b.meta.NFeatures {
		return 0, errors.NewDimensionError(b.name+"."+method, b.meta.NFeatures, cols, 1)
	}
	return rows, nil
}

// stampFitted records the training shape and timestamp.
func (b *baseTrainer) stampFitted(rows, cols int) {
	now := time.Now()
	b.meta.TrainedAt = &now
	b.meta.NSamples = rows
	b.meta.NFeatures = cols
	b.state.SetDimensions(cols, rows)
	b.state.SetFitted()
}

// notSupportedProba is the default PredictProba for non-classification
// configurations.
func (b *baseTrainer) notSupportedProba() (*mat.Dense, error) {
	return nil, errors.NewNotSupportedError("PredictProba", b.name,
		"probability estimates are only available for classification tasks")
}

// notSupportedImportance is the default FeatureImportance for families
// without importances.
func (b *baseTrainer) notSupportedImportance() ([]float64, error) {
	return nil, errors.NewNotSupportedError("FeatureImportance", b.name,
		"this model family does not expose feature importances")
}

// unsupportedTask is returned by dual-task trainers when Fit sees a task
// outside {classification, regression}. Deliberately a fit-time error.
func (b *baseTrainer) unsupportedTask() error {
	return errors.NewValueError(b.name+".Fit", "Unsupported task: "+string(b.task))
}

// artifactDoc is the JSON metadata document stored next to the model blob.
type artifactDoc struct {
	Name            string                 `json:"name"`
	Task            Task                   `json:"task"`
	ModelType       ModelType              `json:"model_type"`
	Hyperparameters map[string]interface{} `json:"hyperparameters"`
	Metadata        Metadata               `json:"metadata"`
}

func (b *baseTrainer) artifactDoc() artifactDoc {
	return artifactDoc{
		Name:            b.name,
		Task:            b.task,
		ModelType:       b.family,
		Hyperparameters: b.hyper,
		Metadata:        b.meta,
	}
}

// saveWithPayload persists the family-specific fitted payload plus the
// metadata document. Save requires a fitted model: persisting an untrained
// trainer would round-trip into an unusable artifact.
func (b *baseTrainer) saveWithPayload(dir string, payload interface{}) error {
	if err := b.state.RequireFitted(b.name, "Save"); err != nil {
		return err
	}
	return model.SaveArtifacts(dir, payload, b.artifactDoc())
}

// restore rehydrates base bookkeeping from a loaded metadata document.
func (b *baseTrainer) restore(doc artifactDoc) {
	b.hyper = canonParams(doc.Hyperparameters)
	b.meta = doc.Metadata
	b.state.SetDimensions(doc.Metadata.NFeatures, doc.Metadata.NSamples)
	b.state.SetFitted()
}

// loaders maps trainer names to artifact reconstruction functions. Every
// family registers here; Load dispatches on the name recorded in the
// metadata document.
var loaders = map[string]func(doc artifactDoc, dir string) (Trainer, error){}

// Load reconstructs a trainer of the same concrete family with identical
// hyperparameters and fitted state from a directory written by Save.
func Load(dir string) (Trainer, error) {
	var doc artifactDoc
	if err := model.ReadMetadata(dir, &doc); err != nil {
		return nil, err
	}
	loader, ok := loaders[doc.Name]
	if !ok {
		return nil, errors.NewNotFoundError("trainer family", doc.Name)
	}
	return loader(doc, dir)
}

// loadPayload decodes the family-specific payload blob from dir.
func loadPayload(dir string, payload interface{}) error {
	var doc artifactDoc
	return model.LoadArtifacts(dir, payload, &doc)
}

// mergeDefaults overlays caller-supplied hyperparameters onto family
// defaults; the caller wins on conflicts.
func mergeDefaults(defaults, hyper map[string]interface{}) map[string]interface{} {
	out := cloneParams(defaults)
	for k, v := range hyper {
		out[k] = v
	}
	return out
}

// seedFrom extracts the random_state hyperparameter, defaulting to a fixed
// seed so repeated fits are reproducible.
func seedFrom(hyper map[string]interface{}) int64 {
	switch v := hyper["random_state"].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 42
	}
}

func cloneParams(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// canonParams rewrites hyperparameter values into the canonical types the
// JSON artifact boundary can reproduce: whole-valued numbers become int,
// other numbers float64, numeric slices []interface{}. Construction, update
// and load all pass through here, so the hyperparameter set a loaded
// trainer reports equals the one the saved trainer was built with.
func canonParams(p map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = canonValue(v)
	}
	return out
}

func canonValue(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if n, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
			return int(n)
		}
		f, _ := x.Float64()
		return f
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<31 {
			return int(x)
		}
		return x
	case float32:
		return canonValue(float64(x))
	case int64:
		return int(x)
	case []int:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = canonValue(e)
		}
		return out
	default:
		return v
	}
}

// classesOf returns the sorted distinct labels in y.
func classesOf(y []float64) []float64 {
	seen := map[float64]struct{}{}
	var out []float64
	for _, v := range y {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	for i := 0; i < len(out)-1; i++ {
		for j := i + 1; j < len(out); j++ {
			if out[i] > out[j] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// deviceIsCUDA reports whether a device hyperparameter requests GPU
// execution, matching any case of "cuda" anywhere in the value.
func deviceIsCUDA(device string) bool {
	return strings.Contains(strings.ToLower(device), "cuda")
}
