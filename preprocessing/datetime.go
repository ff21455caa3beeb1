package preprocessing

import (
	"github.com/flowml/flowml/dataset"
	"github.com/flowml/flowml/pkg/errors"
)

// DatetimeFeatures expands every datetime column into numeric year, month,
// day, weekday and hour columns, dropping the original.
type DatetimeFeatures struct {
	base

	Columns []string
}

func newDatetimeFeatures(params map[string]interface{}) (Operator, error) {
	return &DatetimeFeatures{base: newBase("datetime_features", params)}, nil
}

// Fit records which columns are datetime typed.
func (d *DatetimeFeatures) Fit(t *dataset.Table) error {
	if t.Rows() == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	d.Columns = nil
	for _, c := range t.Columns() {
		if c.Type == dataset.Datetime {
			d.Columns = append(d.Columns, c.Name)
		}
	}
	d.setFitted(map[string]interface{}{"columns": d.Columns})
	return nil
}

// Transform replaces each fitted datetime column with its extracted parts.
func (d *DatetimeFeatures) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := d.requireFitted("Transform"); err != nil {
		return nil, err
	}
	fitted := make(map[string]bool, len(d.Columns))
	for _, name := range d.Columns {
		fitted[name] = true
	}

	var out []dataset.Column
	added, removed := 0, 0
	for _, c := range t.Columns() {
		if !fitted[c.Name] || c.Type != dataset.Datetime {
			out = append(out, c)
			continue
		}
		removed++
		parts := map[string][]float64{
			"year":    make([]float64, len(c.Times)),
			"month":   make([]float64, len(c.Times)),
			"day":     make([]float64, len(c.Times)),
			"weekday": make([]float64, len(c.Times)),
			"hour":    make([]float64, len(c.Times)),
		}
		for i, ts := range c.Times {
			parts["year"][i] = float64(ts.Year())
			parts["month"][i] = float64(ts.Month())
			parts["day"][i] = float64(ts.Day())
			parts["weekday"][i] = float64(ts.Weekday())
			parts["hour"][i] = float64(ts.Hour())
		}
		for _, part := range []string{"year", "month", "day", "weekday", "hour"} {
			out = append(out, dataset.Column{
				Name:   c.Name + "_" + part,
				Type:   dataset.Numeric,
				Values: parts[part],
			})
			added++
		}
	}
	return t.Derive(out, targetOf(t), d.historyEntry(map[string]interface{}{
		"columns_added":   added,
		"columns_removed": removed,
	}))
}
