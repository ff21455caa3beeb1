// Package dataset provides the tabular data container passed between
// workflow stages. A Table is one preprocessing snapshot: named, typed
// columns plus an optional target, carrying the ordered history of the
// operators that produced it. Transforms never mutate a Table in place;
// they build a new one with an appended history entry.
package dataset

import (
	"math"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/errors"
)

// ColumnType tags the representation of one column.
type ColumnType string

const (
	Numeric     ColumnType = "numeric"
	Categorical ColumnType = "categorical"
	Datetime    ColumnType = "datetime"
)

// Column is a single named column. Exactly one of the value slices is
// populated, matching Type. NaN marks a missing numeric value and the empty
// string a missing categorical one.
type Column struct {
	Name   string
	Type   ColumnType
	Values []float64
	Labels []string
	Times  []time.Time
}

// Len returns the number of rows in the column.
func (c Column) Len() int {
	switch c.Type {
	case Categorical:
		return len(c.Labels)
	case Datetime:
		return len(c.Times)
	default:
		return len(c.Values)
	}
}

func (c Column) clone() Column {
	out := Column{Name: c.Name, Type: c.Type}
	if c.Values != nil {
		out.Values = append([]float64(nil), c.Values...)
	}
	if c.Labels != nil {
		out.Labels = append([]string(nil), c.Labels...)
	}
	if c.Times != nil {
		out.Times = append([]time.Time(nil), c.Times...)
	}
	return out
}

// HistoryEntry records one preprocessing step applied to the data.
type HistoryEntry struct {
	Operator  string                 `json:"operator"`
	Params    map[string]interface{} `json:"params,omitempty"`
	Changes   map[string]interface{} `json:"changes,omitempty"`
	AppliedAt time.Time              `json:"applied_at"`
}

// Metadata describes the provenance of a Table.
type Metadata struct {
	CreatedAt    time.Time      `json:"created_at"`
	OriginalRows int            `json:"original_rows"`
	OriginalCols int            `json:"original_cols"`
	History      []HistoryEntry `json:"history,omitempty"`
}

// Table is a feature table plus an optional target column. It is immutable
// by convention: downstream stages receive a fresh Table from every
// transform and never share one across concurrently executing nodes.
type Table struct {
	columns []Column
	target  *Column
	meta    Metadata
}

// New builds a Table from feature columns and an optional target. All
// columns, including the target, must have equal row counts.
func New(columns []Column, target *Column) (*Table, error) {
	if len(columns) == 0 {
		return nil, errors.NewValueError("dataset.New", "at least one feature column is required")
	}
	rows := columns[0].Len()
	for _, c := range columns {
		if c.Len() != rows {
			return nil, errors.NewDimensionError("dataset.New", rows, c.Len(), 0)
		}
	}
	if target != nil && target.Len() != rows {
		return nil, errors.NewDimensionError("dataset.New", rows, target.Len(), 0)
	}

	t := &Table{
		columns: make([]Column, len(columns)),
		meta: Metadata{
			CreatedAt:    time.Now(),
			OriginalRows: rows,
			OriginalCols: len(columns),
		},
	}
	for i, c := range columns {
		t.columns[i] = c.clone()
	}
	if target != nil {
		tc := target.clone()
		t.target = &tc
	}
	return t, nil
}

// Rows returns the number of rows.
func (t *Table) Rows() int {
	if len(t.columns) == 0 {
		return 0
	}
	return t.columns[0].Len()
}

// NumFeatures returns the number of feature columns.
func (t *Table) NumFeatures() int { return len(t.columns) }

// FeatureNames returns the feature column names in order.
func (t *Table) FeatureNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Column returns the named feature column.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Columns returns a copy of the feature columns.
func (t *Table) Columns() []Column {
	out := make([]Column, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.clone()
	}
	return out
}

// Target returns the target column, or false if none is set.
func (t *Table) Target() (Column, bool) {
	if t.target == nil {
		return Column{}, false
	}
	return t.target.clone(), true
}

// TargetName returns the target column name, or "" if none is set.
func (t *Table) TargetName() string {
	if t.target == nil {
		return ""
	}
	return t.target.Name
}

// Metadata returns the table's provenance record.
func (t *Table) Metadata() Metadata {
	m := t.meta
	m.History = append([]HistoryEntry(nil), t.meta.History...)
	return m
}

// Derive builds a new Table from the given columns and target, inheriting
// this table's provenance with entry appended to the history. It is the
// single construction path used by preprocessing operators.
func (t *Table) Derive(columns []Column, target *Column, entry HistoryEntry) (*Table, error) {
	next, err := New(columns, target)
	if err != nil {
		return nil, err
	}
	entry.AppliedAt = time.Now()
	next.meta.CreatedAt = t.meta.CreatedAt
	next.meta.OriginalRows = t.meta.OriginalRows
	next.meta.OriginalCols = t.meta.OriginalCols
	next.meta.History = append(append([]HistoryEntry(nil), t.meta.History...), entry)
	return next, nil
}

// SelectRows builds the feature columns and target restricted to the given
// row indices, preserving order. Used by row-dropping operators and the
// train/holdout split.
func (t *Table) SelectRows(idx []int) ([]Column, *Column) {
	cols := make([]Column, len(t.columns))
	for i, c := range t.columns {
		cols[i] = selectColumnRows(c, idx)
	}
	var target *Column
	if t.target != nil {
		tc := selectColumnRows(*t.target, idx)
		target = &tc
	}
	return cols, target
}

func selectColumnRows(c Column, idx []int) Column {
	out := Column{Name: c.Name, Type: c.Type}
	switch c.Type {
	case Categorical:
		out.Labels = make([]string, len(idx))
		for i, j := range idx {
			out.Labels[i] = c.Labels[j]
		}
	case Datetime:
		out.Times = make([]time.Time, len(idx))
		for i, j := range idx {
			out.Times[i] = c.Times[j]
		}
	default:
		out.Values = make([]float64, len(idx))
		for i, j := range idx {
			out.Values[i] = c.Values[j]
		}
	}
	return out
}

// Matrix coerces the feature table to a dense numeric matrix. Categorical
// and datetime columns must be encoded away first.
func (t *Table) Matrix() (*mat.Dense, error) {
	rows := t.Rows()
	if rows == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	for _, c := range t.columns {
		if c.Type != Numeric {
			return nil, errors.NewValueError("dataset.Matrix",
				"column '"+c.Name+"' is "+string(c.Type)+"; encode it before training")
		}
	}
	X := mat.NewDense(rows, len(t.columns), nil)
	for j, c := range t.columns {
		for i := 0; i < rows; i++ {
			X.Set(i, j, c.Values[i])
		}
	}
	return X, nil
}

// TargetVector returns the target as a float64 vector. Categorical targets
// are encoded to class indices in sorted label order; Classes reports that
// order so predictions can be mapped back.
func (t *Table) TargetVector() ([]float64, []string, error) {
	if t.target == nil {
		return nil, nil, errors.NewValueError("dataset.TargetVector", "table has no target column")
	}
	switch t.target.Type {
	case Numeric:
		return append([]float64(nil), t.target.Values...), nil, nil
	case Categorical:
		classes := uniqueSorted(t.target.Labels)
		index := make(map[string]int, len(classes))
		for i, c := range classes {
			index[c] = i
		}
		y := make([]float64, len(t.target.Labels))
		for i, l := range t.target.Labels {
			y[i] = float64(index[l])
		}
		return y, classes, nil
	default:
		return nil, nil, errors.NewValueError("dataset.TargetVector", "datetime targets are not supported")
	}
}

func uniqueSorted(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}

// FromMatrix builds a numeric Table from a matrix, an optional target
// vector and column names. Names are generated when nil.
func FromMatrix(X *mat.Dense, y []float64, featureNames []string, targetName string) (*Table, error) {
	rows, cols := X.Dims()
	if rows == 0 || cols == 0 {
		return nil, errors.WithStack(errors.ErrEmptyData)
	}
	if featureNames != nil && len(featureNames) != cols {
		return nil, errors.NewDimensionError("dataset.FromMatrix", cols, len(featureNames), 1)
	}
	columns := make([]Column, cols)
	for j := 0; j < cols; j++ {
		name := "feature_" + strconv.Itoa(j)
		if featureNames != nil {
			name = featureNames[j]
		}
		vals := make([]float64, rows)
		for i := 0; i < rows; i++ {
			vals[i] = X.At(i, j)
		}
		columns[j] = Column{Name: name, Type: Numeric, Values: vals}
	}
	var target *Column
	if y != nil {
		if len(y) != rows {
			return nil, errors.NewDimensionError("dataset.FromMatrix", rows, len(y), 0)
		}
		if targetName == "" {
			targetName = "target"
		}
		target = &Column{Name: targetName, Type: Numeric, Values: append([]float64(nil), y...)}
	}
	return New(columns, target)
}

// HasMissing reports whether any numeric feature cell is NaN or any
// categorical cell is empty.
func (t *Table) HasMissing() bool {
	for _, c := range t.columns {
		switch c.Type {
		case Numeric:
			for _, v := range c.Values {
				if math.IsNaN(v) {
					return true
				}
			}
		case Categorical:
			for _, l := range c.Labels {
				if l == "" {
					return true
				}
			}
		}
	}
	return false
}
