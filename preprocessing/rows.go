package preprocessing

import (
	"fmt"
	"strings"

	"github.com/flowml/flowml/dataset"
	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/pkg/validate"
)

// DropDuplicates removes rows whose feature values (and target, when
// present) are exactly equal to an earlier row.
type DropDuplicates struct {
	base
}

func newDropDuplicates(params map[string]interface{}) (Operator, error) {
	return &DropDuplicates{base: newBase("duplicate_removal", params)}, nil
}

// Fit is a no-op; duplicate detection needs no learned state. It still
// must be called before Transform to honor the operator lifecycle.
func (d *DropDuplicates) Fit(t *dataset.Table) error {
	if t.Rows() == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	d.setFitted(map[string]interface{}{})
	return nil
}

// Transform keeps the first occurrence of each distinct row.
func (d *DropDuplicates) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := d.requireFitted("Transform"); err != nil {
		return nil, err
	}
	rows := t.Rows()
	cols := t.Columns()
	target, hasTarget := t.Target()

	seen := make(map[string]struct{}, rows)
	var keep []int
	var sb strings.Builder
	for i := 0; i < rows; i++ {
		sb.Reset()
		for _, c := range cols {
			writeCell(&sb, c, i)
		}
		if hasTarget {
			writeCell(&sb, target, i)
		}
		key := sb.String()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keep = append(keep, i)
	}

	newCols, newTarget := t.SelectRows(keep)
	return t.Derive(newCols, newTarget, d.historyEntry(map[string]interface{}{
		"rows_dropped": rows - len(keep),
	}))
}

func writeCell(sb *strings.Builder, c dataset.Column, i int) {
	switch c.Type {
	case dataset.Categorical:
		sb.WriteString(c.Labels[i])
	case dataset.Datetime:
		sb.WriteString(c.Times[i].String())
	default:
		fmt.Fprintf(sb, "%v", c.Values[i])
	}
	sb.WriteByte('|')
}

// DropColumns removes the named feature columns.
type DropColumns struct {
	base

	columns []string
}

func newDropColumns(params map[string]interface{}) (Operator, error) {
	op := &DropColumns{base: newBase("drop_columns", params)}
	raw, ok := params["columns"]
	if !ok {
		return nil, errors.NewValidationError("columns", "is required", nil)
	}
	list, ok := raw.([]interface{})
	if !ok {
		if strs, ok := raw.([]string); ok {
			op.columns = strs
			return op, nil
		}
		return nil, errors.NewValidationError("columns", "must be a list of column names", raw)
	}
	for _, v := range list {
		s, err := validate.AsString("columns", v)
		if err != nil {
			return nil, err
		}
		op.columns = append(op.columns, s)
	}
	return op, nil
}

// Fit verifies the named columns exist.
func (d *DropColumns) Fit(t *dataset.Table) error {
	for _, name := range d.columns {
		if _, ok := t.Column(name); !ok {
			return errors.NewNotFoundError("column", name)
		}
	}
	d.setFitted(map[string]interface{}{"columns": d.columns})
	return nil
}

// Transform removes the configured columns.
func (d *DropColumns) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := d.requireFitted("Transform"); err != nil {
		return nil, err
	}
	drop := make(map[string]bool, len(d.columns))
	for _, name := range d.columns {
		drop[name] = true
	}
	var out []dataset.Column
	for _, c := range t.Columns() {
		if !drop[c.Name] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, errors.NewValueError("drop_columns", "cannot drop every feature column")
	}
	return t.Derive(out, targetOf(t), d.historyEntry(map[string]interface{}{
		"columns_removed": len(t.Columns()) - len(out),
	}))
}
