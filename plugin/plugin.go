// Package plugin wraps the trainer families with declarative
// metadata for the no-code workflow layer: hyperparameter schemas for
// UI rendering, supported metrics and plots per task, and a train
// entrypoint that sanitizes configuration arriving from a JSON
// boundary before fitting.
package plugin

import (
	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/trainer"
)

// Option is one choice of a select field.
type Option struct {
	Label string      `json:"label"`
	Value interface{} `json:"value"`
}

// Field describes one hyperparameter for UI rendering.
type Field struct {
	Key         string      `json:"key"`
	Name        string      `json:"name"`
	Type        string      `json:"type"` // int, float, select, bool or range
	Default     interface{} `json:"default"`
	Description string      `json:"description,omitempty"`
	Min         *float64    `json:"min,omitempty"`
	Max         *float64    `json:"max,omitempty"`
	Step        *float64    `json:"step,omitempty"`
	Nullable    bool        `json:"nullable,omitempty"`
	NullLabel   string      `json:"nullLabel,omitempty"`
	Options     []Option    `json:"options,omitempty"`
	Required    bool        `json:"required"`
}

// Schema groups fields into the always-visible main section and the
// collapsed advanced section.
type Schema struct {
	Main     []Field `json:"main"`
	Advanced []Field `json:"advanced"`
}

// TrainOptions carries run-level policy set by the orchestration
// layer, never by user hyperparameters.
type TrainOptions struct {
	UseGPU bool
}

// Plugin is the declarative capability descriptor for one algorithm
// family.
type Plugin interface {
	Slug() string
	Name() string
	Description() string
	Icon() string
	Category() string
	Tasks() []trainer.Task
	Schema() Schema

	SupportedMetrics(task trainer.Task) []string
	DefaultMetrics(task trainer.Task) []string
	SupportedPlots(task trainer.Task) []string
	DefaultPlots(task trainer.Task) []string

	// Train sanitizes hyperparameters, builds the concrete trainer
	// for the task and fits it on X, y.
	Train(X *mat.Dense, y []float64, hyper map[string]interface{}, task trainer.Task, opts TrainOptions) (trainer.Trainer, error)
}

// descriptor is the shared Plugin implementation. Every family is one
// descriptor value in the catalog with its own schema, capability
// tables, sanitize hook and constructor.
type descriptor struct {
	slug        string
	name        string
	description string
	icon        string
	category    string
	tasks       []trainer.Task
	schema      Schema

	metrics        map[trainer.Task][]string
	defaultMetrics map[trainer.Task][]string
	plots          map[trainer.Task][]string
	defaultPlots   map[trainer.Task][]string

	sanitize func(task trainer.Task, hyper map[string]interface{})
	build    func(task trainer.Task, hyper map[string]interface{}, opts TrainOptions) (trainer.Trainer, error)
}

func (d *descriptor) Slug() string         { return d.slug }
func (d *descriptor) Name() string         { return d.name }
func (d *descriptor) Description() string  { return d.description }
func (d *descriptor) Icon() string         { return d.icon }
func (d *descriptor) Category() string     { return d.category }
func (d *descriptor) Tasks() []trainer.Task {
	return append([]trainer.Task(nil), d.tasks...)
}
func (d *descriptor) Schema() Schema { return d.schema }

func lookup(table map[trainer.Task][]string, task trainer.Task) []string {
	return append([]string(nil), table[task]...)
}

func (d *descriptor) SupportedMetrics(task trainer.Task) []string {
	return lookup(d.metrics, task)
}
func (d *descriptor) DefaultMetrics(task trainer.Task) []string {
	return lookup(d.defaultMetrics, task)
}
func (d *descriptor) SupportedPlots(task trainer.Task) []string {
	return lookup(d.plots, task)
}
func (d *descriptor) DefaultPlots(task trainer.Task) []string {
	return lookup(d.defaultPlots, task)
}

func (d *descriptor) supportsTask(task trainer.Task) bool {
	for _, t := range d.tasks {
		if t == task {
			return true
		}
	}
	return false
}

// Train is the sanitization boundary between JSON-shaped
// configuration and the trainer layer. Sentinel null strings are
// normalized first, then family-specific fixups run, then the trainer
// is built and fitted.
func (d *descriptor) Train(X *mat.Dense, y []float64, hyper map[string]interface{}, task trainer.Task, opts TrainOptions) (trainer.Trainer, error) {
	if !d.supportsTask(task) {
		return nil, errors.NewValueError(d.slug+".Train", "Unsupported task: "+string(task))
	}

	clean := normalizeSentinels(hyper)
	if d.sanitize != nil {
		d.sanitize(task, clean)
	}

	t, err := d.build(task, clean, opts)
	if err != nil {
		return nil, err
	}
	if err := t.Fit(X, y); err != nil {
		return nil, err
	}
	return t, nil
}

// normalizeSentinels copies hyper with string spellings of null
// turned into actual nils. Configuration arrives through JSON where
// null is often stringified by the form layer.
func normalizeSentinels(hyper map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(hyper))
	for k, v := range hyper {
		if s, ok := v.(string); ok {
			switch s {
			case "none", "None", "null":
				out[k] = nil
				continue
			}
		}
		out[k] = v
	}
	return out
}
