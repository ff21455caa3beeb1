// Package workflow executes a directed graph of dataset,
// preprocessing, model, evaluate and visualize nodes as one
// sequential run with per-node status tracking.
package workflow

import (
	"encoding/json"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/plugin"
	"github.com/flowml/flowml/preprocessing"
	"github.com/flowml/flowml/trainer"
)

// NodeType tags what a node does.
type NodeType string

const (
	NodeDataset    NodeType = "dataset"
	NodePreprocess NodeType = "preprocess"
	NodeModel      NodeType = "model"
	NodeEvaluate   NodeType = "evaluate"
	NodeVisualize  NodeType = "visualize"
)

// Node is one stage of the graph.
type Node struct {
	ID     string                 `json:"id" yaml:"id"`
	Type   NodeType               `json:"type" yaml:"type"`
	Config map[string]interface{} `json:"config" yaml:"config"`
}

// Edge connects a source node's output to a target node's input.
type Edge struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// Definition is a full workflow graph as configured by the user.
type Definition struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// LoadJSON decodes a definition from JSON.
func LoadJSON(r io.Reader) (*Definition, error) {
	var def Definition
	if err := json.NewDecoder(r).Decode(&def); err != nil {
		return nil, errors.Wrap(err, "workflow: decoding definition")
	}
	return &def, nil
}

// LoadYAML decodes a definition from YAML.
func LoadYAML(r io.Reader) (*Definition, error) {
	var def Definition
	if err := yaml.NewDecoder(r).Decode(&def); err != nil {
		return nil, errors.Wrap(err, "workflow: decoding definition")
	}
	return &def, nil
}

func (d *Definition) node(id string) (Node, bool) {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

func (d *Definition) upstream(id string) []string {
	var out []string
	for _, e := range d.Edges {
		if e.Target == id {
			out = append(out, e.Source)
		}
	}
	return out
}

func (d *Definition) downstream(id string) []string {
	var out []string
	for _, e := range d.Edges {
		if e.Source == id {
			out = append(out, e.Target)
		}
	}
	return out
}

// topoOrder returns node IDs so every node follows all of its
// upstream dependencies, or an error when the graph has a cycle.
func (d *Definition) topoOrder() ([]string, error) {
	indeg := make(map[string]int, len(d.Nodes))
	for _, n := range d.Nodes {
		indeg[n.ID] = 0
	}
	for _, e := range d.Edges {
		indeg[e.Target]++
	}

	var queue []string
	for _, n := range d.Nodes {
		if indeg[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	var order []string
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range d.downstream(id) {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(order) != len(d.Nodes) {
		return nil, errors.NewValueError("workflow.Validate", "workflow graph contains a cycle")
	}
	return order, nil
}

// Validate checks the definition statically before any node runs:
// graph shape, node types, operator and plugin references, and the
// required upstream chains for model and evaluate nodes.
func (d *Definition) Validate(registry *plugin.Registry) error {
	if len(d.Nodes) == 0 {
		return errors.NewValueError("workflow.Validate", "workflow has no nodes")
	}

	seen := map[string]bool{}
	datasets := 0
	for _, n := range d.Nodes {
		if n.ID == "" {
			return errors.NewValueError("workflow.Validate", "node with empty id")
		}
		if seen[n.ID] {
			return errors.NewValueError("workflow.Validate", "duplicate node id "+n.ID)
		}
		seen[n.ID] = true
		switch n.Type {
		case NodeDataset:
			datasets++
		case NodePreprocess, NodeModel, NodeEvaluate, NodeVisualize:
		default:
			return errors.NewValueError("workflow.Validate", "unknown node type "+string(n.Type)+" on node "+n.ID)
		}
	}
	if datasets != 1 {
		return errors.NewValueError("workflow.Validate", "workflow needs exactly one dataset node")
	}
	for _, e := range d.Edges {
		if !seen[e.Source] || !seen[e.Target] {
			return errors.NewValueError("workflow.Validate", "edge references unknown node")
		}
	}
	if _, err := d.topoOrder(); err != nil {
		return err
	}

	for _, n := range d.Nodes {
		if err := d.validateNode(n, registry); err != nil {
			return err
		}
	}
	return nil
}

func (d *Definition) validateNode(n Node, registry *plugin.Registry) error {
	switch n.Type {
	case NodeDataset:
		if _, ok := n.Config["ref"].(string); !ok {
			return errors.NewValueError("workflow.Validate", "dataset node "+n.ID+" has no ref")
		}
	case NodePreprocess:
		name, _ := n.Config["operator"].(string)
		if !operatorKnown(name) {
			return errors.NewValueError("workflow.Validate", "preprocess node "+n.ID+" names unknown operator "+name)
		}
		if !d.hasUpstreamOfType(n.ID, NodeDataset, NodePreprocess) {
			return errors.NewValueError("workflow.Validate", "preprocess node "+n.ID+" has no upstream data")
		}
	case NodeModel:
		slug, _ := n.Config["algorithm"].(string)
		p, err := registry.Get(slug)
		if err != nil {
			return err
		}
		task := trainer.Task(stringConfig(n.Config, "task", ""))
		if !taskSupported(p, task) {
			return errors.NewValueError("workflow.Validate", "model node "+n.ID+" requests task "+string(task)+" unsupported by "+slug)
		}
		if !d.hasUpstreamOfType(n.ID, NodeDataset, NodePreprocess) {
			return errors.NewValueError("workflow.Validate", "model node "+n.ID+" has no upstream data")
		}
	case NodeEvaluate:
		if !d.hasUpstreamOfType(n.ID, NodeModel) {
			return errors.NewValueError("workflow.Validate", "evaluate node "+n.ID+" has no upstream model")
		}
		if err := d.validateRequestedMetrics(n, registry); err != nil {
			return err
		}
	case NodeVisualize:
		if !d.hasUpstreamOfType(n.ID, NodeModel) {
			return errors.NewValueError("workflow.Validate", "visualize node "+n.ID+" has no upstream model")
		}
	}
	return nil
}

// validateRequestedMetrics rejects metric requests outside the
// upstream plugin's declared support. Requesting an unsupported
// metric is a configuration error, not something to ignore silently.
func (d *Definition) validateRequestedMetrics(n Node, registry *plugin.Registry) error {
	requested := stringsConfig(n.Config, "metrics")
	if len(requested) == 0 {
		return nil
	}
	model, ok := d.upstreamModel(n.ID)
	if !ok {
		return nil
	}
	slug, _ := model.Config["algorithm"].(string)
	p, err := registry.Get(slug)
	if err != nil {
		return err
	}
	task := trainer.Task(stringConfig(model.Config, "task", ""))
	supported := map[string]bool{}
	for _, m := range p.SupportedMetrics(task) {
		supported[m] = true
	}
	for _, m := range requested {
		if !supported[m] {
			return errors.NewValueError("workflow.Validate",
				"evaluate node "+n.ID+" requests metric "+m+" unsupported by "+slug)
		}
	}
	return nil
}

// upstreamModel walks incoming edges to the nearest model node.
func (d *Definition) upstreamModel(id string) (Node, bool) {
	for _, up := range d.upstream(id) {
		n, ok := d.node(up)
		if !ok {
			continue
		}
		if n.Type == NodeModel {
			return n, true
		}
		if found, ok := d.upstreamModel(up); ok {
			return found, true
		}
	}
	return Node{}, false
}

// hasUpstreamOfType reports whether any transitive upstream node has
// one of the given types.
func (d *Definition) hasUpstreamOfType(id string, types ...NodeType) bool {
	for _, up := range d.upstream(id) {
		n, ok := d.node(up)
		if !ok {
			continue
		}
		for _, t := range types {
			if n.Type == t {
				return true
			}
		}
		if d.hasUpstreamOfType(up, types...) {
			return true
		}
	}
	return false
}

func operatorKnown(name string) bool {
	for _, n := range preprocessing.Names() {
		if n == name {
			return true
		}
	}
	return false
}

func taskSupported(p plugin.Plugin, task trainer.Task) bool {
	for _, t := range p.Tasks() {
		if t == task {
			return true
		}
	}
	return false
}

func stringConfig(cfg map[string]interface{}, key, def string) string {
	if v, ok := cfg[key].(string); ok {
		return v
	}
	return def
}

func stringsConfig(cfg map[string]interface{}, key string) []string {
	switch v := cfg[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
