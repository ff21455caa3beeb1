// Package preprocessing implements the fit/transform operators that run in
// a workflow's preprocessing chain. Every operator is constructed with
// explicit parameters, learns fit metadata from one table, and produces a
// new table plus transform metadata. Calling Transform before Fit is a
// state error.
package preprocessing

import (
	"github.com/flowml/flowml/core/model"
	"github.com/flowml/flowml/dataset"
	"github.com/flowml/flowml/pkg/errors"
)

// Operator is one named, parameterized transformation in a preprocessing
// chain.
type Operator interface {
	// Name returns the operator's registered name.
	Name() string
	// Params returns the parameters the operator was constructed with.
	Params() map[string]interface{}
	// Fit learns any data-dependent parameters (per-column means, category
	// sets) from the table. Fit is idempotent.
	Fit(t *dataset.Table) error
	// Transform applies the fitted transformation, returning a new table
	// with an appended history entry.
	Transform(t *dataset.Table) (*dataset.Table, error)
	// FitMeta returns the parameters learned during Fit.
	FitMeta() map[string]interface{}
	// TransformMeta describes what the last Transform changed: rows
	// dropped, columns added or removed.
	TransformMeta() map[string]interface{}
}

// base carries the bookkeeping every operator shares.
type base struct {
	name          string
	params        map[string]interface{}
	state         *model.StateManager
	fitMeta       map[string]interface{}
	transformMeta map[string]interface{}
}

func newBase(name string, params map[string]interface{}) base {
	if params == nil {
		params = map[string]interface{}{}
	}
	return base{
		name:   name,
		params: params,
		state:  model.NewStateManager(),
	}
}

func (b *base) Name() string                           { return b.name }
func (b *base) Params() map[string]interface{}         { return b.params }
func (b *base) FitMeta() map[string]interface{}        { return b.fitMeta }
func (b *base) TransformMeta() map[string]interface{}  { return b.transformMeta }
func (b *base) requireFitted(method string) error      { return b.state.RequireFitted(b.name, method) }
func (b *base) setFitted(meta map[string]interface{}) {
	b.fitMeta = meta
	b.state.SetFitted()
}

func (b *base) historyEntry(changes map[string]interface{}) dataset.HistoryEntry {
	b.transformMeta = changes
	return dataset.HistoryEntry{
		Operator: b.name,
		Params:   b.params,
		Changes:  changes,
	}
}

// targetOf returns the table's target column as a pointer for Derive, or
// nil when the table has none.
func targetOf(t *dataset.Table) *dataset.Column {
	target, ok := t.Target()
	if !ok {
		return nil
	}
	return &target
}

// constructors maps operator names to their factories. This is an explicit
// table rather than reflective discovery; new operators register here.
var constructors = map[string]func(params map[string]interface{}) (Operator, error){
	"duplicate_removal": newDropDuplicates,
	"standard_scaler":   newStandardScaler,
	"minmax_scaler":     newMinMaxScaler,
	"imputer":           newImputer,
	"one_hot_encoder":   newOneHotEncoder,
	"label_encoder":     newLabelEncoder,
	"datetime_features": newDatetimeFeatures,
	"drop_columns":      newDropColumns,
}

// New resolves an operator by name and constructs it with params.
func New(name string, params map[string]interface{}) (Operator, error) {
	ctor, ok := constructors[name]
	if !ok {
		return nil, errors.NewNotFoundError("preprocessing operator", name)
	}
	return ctor(params)
}

// Names returns the registered operator names.
func Names() []string {
	out := make([]string, 0, len(constructors))
	for name := range constructors {
		out = append(out, name)
	}
	return out
}
