package workflow

import (
	"context"
	"math/rand"
	"path/filepath"

	"github.com/google/uuid"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/dataset"
	"github.com/flowml/flowml/evaluator"
	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/pkg/log"
	"github.com/flowml/flowml/plugin"
	"github.com/flowml/flowml/preprocessing"
	"github.com/flowml/flowml/trainer"
	"github.com/flowml/flowml/viz"
)

// Status is a node or run state. Nodes move pending to running to
// completed, or to failed. A node whose upstream failed goes straight
// from pending to failed without running.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Error messages kept on the run are truncated for display.
const maxErrorLen = 500

// StatusCallback observes node transitions. It is invoked
// synchronously and must return promptly.
type StatusCallback func(nodeID string, status Status, errMsg string)

// Results is the aggregate produced by a fully successful run.
type Results struct {
	Algorithm       string                 `json:"algorithm"`
	AlgorithmName   string                 `json:"algorithm_name"`
	ModelPath       string                 `json:"model_path"`
	Metrics         []evaluator.Metric     `json:"metrics"`
	Hyperparameters map[string]interface{} `json:"hyperparameters"`
}

// Run is the typed aggregate of one workflow execution.
type Run struct {
	ID       string
	Def      *Definition
	Statuses map[string]Status
	Status   Status
	Error    string
	Results  *Results
	Plots    []string
}

// Executor walks a validated definition node by node.
type Executor struct {
	registry     *plugin.Registry
	source       dataset.Source
	artifactsDir string
	callback     StatusCallback
	useGPU       bool
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithArtifactsDir sets where model artifacts and plots are written.
func WithArtifactsDir(dir string) ExecutorOption {
	return func(e *Executor) { e.artifactsDir = dir }
}

// WithStatusCallback registers a node transition observer.
func WithStatusCallback(cb StatusCallback) ExecutorOption {
	return func(e *Executor) { e.callback = cb }
}

// WithGPU grants GPU use to trainers that can take it. This is run
// policy from the orchestration layer, never user configuration.
func WithGPU(enabled bool) ExecutorOption {
	return func(e *Executor) { e.useGPU = enabled }
}

// NewExecutor creates an executor over a plugin registry and a
// dataset source.
func NewExecutor(registry *plugin.Registry, source dataset.Source, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:     registry,
		source:       source,
		artifactsDir: "artifacts",
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// modelOutput is what a completed model node hands downstream.
type modelOutput struct {
	plugin  plugin.Plugin
	trainer trainer.Trainer
	task    trainer.Task
	holdX   *mat.Dense
	holdY   []float64
	path    string
	hyper   map[string]interface{}
}

// runState carries per-node outputs during one execution.
type runState struct {
	tables map[string]*dataset.Table
	models map[string]*modelOutput
}

// Execute validates the definition and runs it to completion. A node
// failure fails the run but Execute itself only errors on invalid
// input; the run aggregate carries the failure detail.
func (e *Executor) Execute(ctx context.Context, def *Definition) (*Run, error) {
	if err := def.Validate(e.registry); err != nil {
		return nil, err
	}
	order, err := def.topoOrder()
	if err != nil {
		return nil, err
	}

	run := &Run{
		ID:       uuid.NewString(),
		Def:      def,
		Statuses: make(map[string]Status, len(def.Nodes)),
		Status:   StatusRunning,
	}
	for _, n := range def.Nodes {
		run.Statuses[n.ID] = StatusPending
	}
	state := &runState{
		tables: map[string]*dataset.Table{},
		models: map[string]*modelOutput{},
	}

	logger := log.Logger().With().Str(log.WorkflowKey, run.ID).Logger()
	logger.Info().Int("nodes", len(def.Nodes)).Msg("workflow started")

	for _, id := range order {
		node, _ := def.node(id)

		if e.upstreamFailed(def, run, id) {
			e.transition(run, id, StatusFailed, "upstream node failed")
			continue
		}
		if err := ctx.Err(); err != nil {
			e.transition(run, id, StatusFailed, "run cancelled")
			e.failRun(run, errors.Wrap(err, "workflow: cancelled before node "+id))
			continue
		}

		e.transition(run, id, StatusRunning, "")
		err := errors.SafeExecute("workflow node "+id, func() error {
			return e.runNode(run, state, def, node)
		})
		if err != nil {
			logger.Error().Err(err).Str(log.NodeKey, id).Msg("node failed")
			e.transition(run, id, StatusFailed, truncate(err.Error()))
			e.failRun(run, err)
			continue
		}
		e.transition(run, id, StatusCompleted, "")
	}

	if run.Status != StatusFailed {
		run.Status = StatusCompleted
		logger.Info().Msg("workflow completed")
	}
	return run, nil
}

func (e *Executor) upstreamFailed(def *Definition, run *Run, id string) bool {
	for _, up := range def.upstream(id) {
		if run.Statuses[up] == StatusFailed {
			return true
		}
	}
	return false
}

// failRun records the first failure as the run-level error.
func (e *Executor) failRun(run *Run, err error) {
	run.Status = StatusFailed
	if run.Error == "" {
		run.Error = truncate(err.Error())
	}
}

func (e *Executor) transition(run *Run, id string, status Status, errMsg string) {
	run.Statuses[id] = status
	if e.callback != nil {
		e.callback(id, status, errMsg)
	}
}

func truncate(msg string) string {
	if len(msg) > maxErrorLen {
		return msg[:maxErrorLen]
	}
	return msg
}

func (e *Executor) runNode(run *Run, state *runState, def *Definition, node Node) error {
	switch node.Type {
	case NodeDataset:
		return e.runDataset(state, node)
	case NodePreprocess:
		return e.runPreprocess(state, def, node)
	case NodeModel:
		return e.runModel(run, state, def, node)
	case NodeEvaluate:
		return e.runEvaluate(run, state, def, node)
	case NodeVisualize:
		return e.runVisualize(run, state, def, node)
	}
	return errors.NewValueError("workflow", "unknown node type "+string(node.Type))
}

// inputTable finds the table produced by the nearest upstream
// dataset or preprocess node.
func (e *Executor) inputTable(state *runState, def *Definition, id string) (*dataset.Table, error) {
	for _, up := range def.upstream(id) {
		if t, ok := state.tables[up]; ok {
			return t, nil
		}
		if t, err := e.inputTable(state, def, up); err == nil {
			return t, nil
		}
	}
	return nil, errors.NewValueError("workflow", "node "+id+" has no upstream data output")
}

func (e *Executor) inputModel(state *runState, def *Definition, id string) (*modelOutput, error) {
	for _, up := range def.upstream(id) {
		if m, ok := state.models[up]; ok {
			return m, nil
		}
		if m, err := e.inputModel(state, def, up); err == nil {
			return m, nil
		}
	}
	return nil, errors.NewValueError("workflow", "node "+id+" has no upstream model output")
}

func (e *Executor) runDataset(state *runState, node Node) error {
	ref := stringConfig(node.Config, "ref", "")
	target := stringConfig(node.Config, "target", "")
	t, err := e.source.Resolve(ref, target)
	if err != nil {
		return err
	}
	state.tables[node.ID] = t
	return nil
}

func (e *Executor) runPreprocess(state *runState, def *Definition, node Node) error {
	in, err := e.inputTable(state, def, node.ID)
	if err != nil {
		return err
	}
	params, _ := node.Config["params"].(map[string]interface{})
	op, err := preprocessing.New(stringConfig(node.Config, "operator", ""), params)
	if err != nil {
		return err
	}
	if err := op.Fit(in); err != nil {
		return err
	}
	out, err := op.Transform(in)
	if err != nil {
		return err
	}
	state.tables[node.ID] = out
	return nil
}

func (e *Executor) runModel(run *Run, state *runState, def *Definition, node Node) error {
	in, err := e.inputTable(state, def, node.ID)
	if err != nil {
		return err
	}
	slug := stringConfig(node.Config, "algorithm", "")
	p, err := e.registry.Get(slug)
	if err != nil {
		return err
	}
	task := trainer.Task(stringConfig(node.Config, "task", ""))
	hyper, _ := node.Config["hyperparameters"].(map[string]interface{})

	X, err := in.Matrix()
	if err != nil {
		return err
	}
	var y []float64
	if task.IsSupervised() {
		y, _, err = in.TargetVector()
		if err != nil {
			return err
		}
	}

	trainX, trainY, holdX, holdY := e.split(node, X, y)
	t, err := p.Train(trainX, trainY, hyper, task, plugin.TrainOptions{UseGPU: e.useGPU})
	if err != nil {
		return err
	}

	dir := filepath.Join(e.artifactsDir, run.ID, node.ID)
	if err := t.Save(dir); err != nil {
		return err
	}

	state.models[node.ID] = &modelOutput{
		plugin:  p,
		trainer: t,
		task:    task,
		holdX:   holdX,
		holdY:   holdY,
		path:    dir,
		hyper:   t.Hyperparameters(),
	}
	run.Results = &Results{
		Algorithm:       p.Slug(),
		AlgorithmName:   p.Name(),
		ModelPath:       dir,
		Hyperparameters: t.Hyperparameters(),
	}
	return nil
}

// split partitions rows into train and holdout sets. With
// use_full_dataset the whole matrix serves both roles.
func (e *Executor) split(node Node, X *mat.Dense, y []float64) (trainX *mat.Dense, trainY []float64, holdX *mat.Dense, holdY []float64) {
	if b, ok := node.Config["use_full_dataset"].(bool); ok && b {
		return X, y, X, y
	}
	testSize := 0.2
	if v, ok := node.Config["test_size"].(float64); ok && v > 0 && v < 1 {
		testSize = v
	}
	rows, cols := X.Dims()
	nHold := int(float64(rows) * testSize)
	if nHold < 1 {
		return X, y, X, y
	}

	seed := int64(42)
	if v, ok := node.Config["random_state"].(int); ok {
		seed = int64(v)
	}
	idx := rand.New(rand.NewSource(seed)).Perm(rows)

	take := func(ids []int) (*mat.Dense, []float64) {
		m := mat.NewDense(len(ids), cols, nil)
		var yy []float64
		if y != nil {
			yy = make([]float64, len(ids))
		}
		for i, j := range ids {
			m.SetRow(i, X.RawRowView(j))
			if y != nil {
				yy[i] = y[j]
			}
		}
		return m, yy
	}
	holdX, holdY = take(idx[:nHold])
	trainX, trainY = take(idx[nHold:])
	return trainX, trainY, holdX, holdY
}

func (e *Executor) runEvaluate(run *Run, state *runState, def *Definition, node Node) error {
	m, err := e.inputModel(state, def, node.ID)
	if err != nil {
		return err
	}
	ev, ok := evaluator.ForTask(m.task)
	if !ok {
		return errors.NewNotSupportedError("workflow.evaluate", m.plugin.Slug(),
			"no evaluator exists for task "+string(m.task))
	}
	metrics, err := ev.Evaluate(m.trainer, m.holdX, m.holdY)
	if err != nil {
		return err
	}

	if requested := stringsConfig(node.Config, "metrics"); len(requested) > 0 {
		metrics = filterMetrics(metrics, requested)
	}
	if run.Results != nil {
		run.Results.Metrics = metrics
	}
	return nil
}

func filterMetrics(all []evaluator.Metric, requested []string) []evaluator.Metric {
	want := make(map[string]bool, len(requested))
	for _, k := range requested {
		want[k] = true
	}
	out := make([]evaluator.Metric, 0, len(all))
	for _, m := range all {
		if want[m.Key] {
			out = append(out, m)
		}
	}
	return out
}

// runVisualize renders the requested plots next to the model
// artifacts. A single plot failure is logged and skipped; partial
// plot output is still useful.
func (e *Executor) runVisualize(run *Run, state *runState, def *Definition, node Node) error {
	m, err := e.inputModel(state, def, node.ID)
	if err != nil {
		return err
	}
	plots := stringsConfig(node.Config, "plots")
	if len(plots) == 0 {
		plots = m.plugin.DefaultPlots(m.task)
	}
	dir := filepath.Join(e.artifactsDir, run.ID, node.ID)
	logger := log.WithNode(run.ID, node.ID)
	for _, name := range plots {
		path, err := viz.Render(name, dir, m.trainer, m.holdX, m.holdY)
		if err != nil {
			logger.Warn().
				Err(err).
				Str("plot", name).
				Msg("plot could not be rendered, skipping")
			continue
		}
		run.Plots = append(run.Plots, path)
	}
	return nil
}
