package workflow

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowml/flowml/dataset"
	"github.com/flowml/flowml/pkg/log"
	"github.com/flowml/flowml/plugin"
)

// recorder captures status transitions in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) callback(nodeID string, status Status, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, nodeID+":"+string(status))
}

func (r *recorder) has(event string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e == event {
			return true
		}
	}
	return false
}

func trainingDefinition(preprocessParams map[string]interface{}) *Definition {
	return &Definition{
		Nodes: []Node{
			{ID: "data", Type: NodeDataset, Config: map[string]interface{}{"ref": "iris"}},
			{ID: "prep", Type: NodePreprocess, Config: map[string]interface{}{
				"operator": "duplicate_removal",
				"params":   preprocessParams,
			}},
			{ID: "train", Type: NodeModel, Config: map[string]interface{}{
				"algorithm": "random_forest",
				"task":      "classification",
				"hyperparameters": map[string]interface{}{
					"n_estimators": 5,
				},
			}},
			{ID: "eval", Type: NodeEvaluate, Config: map[string]interface{}{}},
		},
		Edges: []Edge{
			{Source: "data", Target: "prep"},
			{Source: "prep", Target: "train"},
			{Source: "train", Target: "eval"},
		},
	}
}

func newTestExecutor(t *testing.T, rec *recorder) *Executor {
	t.Helper()
	log.SetLogger(log.Nop())
	plugin.Reset()
	opts := []ExecutorOption{WithArtifactsDir(t.TempDir())}
	if rec != nil {
		opts = append(opts, WithStatusCallback(rec.callback))
	}
	return NewExecutor(plugin.Default(), dataset.NewMemorySource(), opts...)
}

func TestExecute_FullTrainingRun(t *testing.T) {
	rec := &recorder{}
	e := newTestExecutor(t, rec)

	run, err := e.Execute(context.Background(), trainingDefinition(nil))
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, run.Status)
	assert.Empty(t, run.Error)
	for _, id := range []string{"data", "prep", "train", "eval"} {
		assert.Equal(t, StatusCompleted, run.Statuses[id], id)
		assert.True(t, rec.has(id+":running"), id)
		assert.True(t, rec.has(id+":completed"), id)
	}

	require.NotNil(t, run.Results)
	assert.Equal(t, "random_forest", run.Results.Algorithm)
	assert.Equal(t, "Random Forest", run.Results.AlgorithmName)
	assert.NotEmpty(t, run.Results.ModelPath)
	assert.NotEmpty(t, run.Results.Metrics)
	assert.Equal(t, 5, run.Results.Hyperparameters["n_estimators"])

	keys := map[string]bool{}
	for _, m := range run.Results.Metrics {
		keys[m.Key] = true
	}
	assert.True(t, keys["accuracy"])
	assert.True(t, keys["confusion_matrix"])
}

func TestExecute_FailurePropagation(t *testing.T) {
	def := trainingDefinition(nil)
	// A preprocess step that names a column the dataset does not have
	// fails during fit.
	def.Nodes[1].Config = map[string]interface{}{
		"operator": "drop_columns",
		"params":   map[string]interface{}{"columns": []interface{}{"no_such_column"}},
	}

	rec := &recorder{}
	e := newTestExecutor(t, rec)

	run, err := e.Execute(context.Background(), def)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, run.Status)
	assert.NotEmpty(t, run.Error)
	assert.Equal(t, StatusCompleted, run.Statuses["data"])
	assert.Equal(t, StatusFailed, run.Statuses["prep"])

	// Downstream nodes are failed without ever entering running.
	for _, id := range []string{"train", "eval"} {
		assert.Equal(t, StatusFailed, run.Statuses[id], id)
		assert.False(t, rec.has(id+":running"), id)
		assert.True(t, rec.has(id+":failed"), id)
	}
}

func TestExecute_ErrorMessageTruncated(t *testing.T) {
	run := &Run{Status: StatusRunning}
	e := &Executor{}
	long := strings.Repeat("x", maxErrorLen*2)
	e.failRun(run, &truncTestError{msg: long})
	assert.Len(t, run.Error, maxErrorLen)
}

type truncTestError struct{ msg string }

func (e *truncTestError) Error() string { return e.msg }

func TestExecute_CancelledContext(t *testing.T) {
	e := newTestExecutor(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := e.Execute(ctx, trainingDefinition(nil))
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Contains(t, run.Error, "cancelled")
}

func TestExecute_ClusteringRun(t *testing.T) {
	def := &Definition{
		Nodes: []Node{
			{ID: "data", Type: NodeDataset, Config: map[string]interface{}{"ref": "blobs"}},
			{ID: "train", Type: NodeModel, Config: map[string]interface{}{
				"algorithm":        "kmeans",
				"task":             "clustering",
				"use_full_dataset": true,
				"hyperparameters":  map[string]interface{}{"n_clusters": 3},
			}},
			{ID: "eval", Type: NodeEvaluate, Config: map[string]interface{}{
				"metrics": []interface{}{"silhouette_score", "inertia"},
			}},
		},
		Edges: []Edge{
			{Source: "data", Target: "train"},
			{Source: "train", Target: "eval"},
		},
	}

	e := newTestExecutor(t, nil)
	run, err := e.Execute(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status, run.Error)

	require.Len(t, run.Results.Metrics, 2)
	assert.Equal(t, "silhouette_score", run.Results.Metrics[0].Key)
	assert.Equal(t, "inertia", run.Results.Metrics[1].Key)
}

func TestExecute_VisualizeNode(t *testing.T) {
	def := trainingDefinition(nil)
	def.Nodes = append(def.Nodes, Node{ID: "viz", Type: NodeVisualize, Config: map[string]interface{}{
		"plots": []interface{}{"confusion_heatmap", "no_such_plot"},
	}})
	def.Edges = append(def.Edges, Edge{Source: "train", Target: "viz"})

	e := newTestExecutor(t, nil)
	run, err := e.Execute(context.Background(), def)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, run.Status, run.Error)

	// The unknown plot is skipped, not fatal.
	require.Len(t, run.Plots, 1)
	assert.Contains(t, run.Plots[0], "confusion_heatmap")
	assert.Equal(t, StatusCompleted, run.Statuses["viz"])
}

func TestValidate_StaticErrors(t *testing.T) {
	plugin.Reset()
	registry := plugin.Default()

	tests := []struct {
		name   string
		mutate func(*Definition)
		substr string
	}{
		{
			name:   "evaluate without model",
			mutate: func(d *Definition) { d.Edges = d.Edges[:2] },
			substr: "no upstream model",
		},
		{
			name: "duplicate node ids",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{ID: "data", Type: NodeDataset, Config: map[string]interface{}{"ref": "iris"}})
			},
			substr: "duplicate node id",
		},
		{
			name: "no dataset node",
			mutate: func(d *Definition) {
				d.Nodes = d.Nodes[1:]
				d.Edges = d.Edges[1:]
			},
			substr: "exactly one dataset node",
		},
		{
			name: "second dataset node",
			mutate: func(d *Definition) {
				d.Nodes = append(d.Nodes, Node{ID: "data2", Type: NodeDataset, Config: map[string]interface{}{"ref": "blobs"}})
			},
			substr: "exactly one dataset node",
		},
		{
			name: "unknown operator",
			mutate: func(d *Definition) {
				d.Nodes[1].Config["operator"] = "tokenizer"
			},
			substr: "unknown operator",
		},
		{
			name: "unknown algorithm",
			mutate: func(d *Definition) {
				d.Nodes[2].Config["algorithm"] = "perceptron"
			},
			substr: "not found",
		},
		{
			name: "task unsupported by plugin",
			mutate: func(d *Definition) {
				d.Nodes[2].Config["task"] = "clustering"
			},
			substr: "unsupported",
		},
		{
			name: "unsupported metric requested",
			mutate: func(d *Definition) {
				d.Nodes[3].Config["metrics"] = []interface{}{"perplexity"}
			},
			substr: "perplexity",
		},
		{
			name: "cycle",
			mutate: func(d *Definition) {
				d.Edges = append(d.Edges, Edge{Source: "eval", Target: "data"})
			},
			substr: "cycle",
		},
		{
			name: "edge to unknown node",
			mutate: func(d *Definition) {
				d.Edges = append(d.Edges, Edge{Source: "data", Target: "ghost"})
			},
			substr: "unknown node",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := trainingDefinition(nil)
			tt.mutate(def)
			err := def.Validate(registry)
			require.Error(t, err)
			assert.Contains(t, strings.ToLower(err.Error()), strings.ToLower(tt.substr))
		})
	}
}

func TestLoadDefinition(t *testing.T) {
	yamlDoc := `
nodes:
  - id: data
    type: dataset
    config:
      ref: iris
  - id: train
    type: model
    config:
      algorithm: gaussian_nb
      task: classification
edges:
  - source: data
    target: train
`
	def, err := LoadYAML(strings.NewReader(yamlDoc))
	require.NoError(t, err)
	require.Len(t, def.Nodes, 2)
	assert.Equal(t, NodeModel, def.Nodes[1].Type)
	assert.Equal(t, "gaussian_nb", def.Nodes[1].Config["algorithm"])

	jsonDoc := `{"nodes":[{"id":"a","type":"dataset","config":{"ref":"blobs"}}],"edges":[]}`
	def, err = LoadJSON(strings.NewReader(jsonDoc))
	require.NoError(t, err)
	require.Len(t, def.Nodes, 1)
	assert.Equal(t, "blobs", def.Nodes[0].Config["ref"])
}
