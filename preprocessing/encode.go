package preprocessing

import (
	"sort"

	"github.com/flowml/flowml/dataset"
	"github.com/flowml/flowml/pkg/errors"
)

// OneHotEncoder replaces each categorical column with one numeric indicator
// column per category observed at fit time. Unseen categories at transform
// time map to all-zero rows.
type OneHotEncoder struct {
	base

	// Categories holds the sorted category set per encoded column.
	Categories map[string][]string
}

func newOneHotEncoder(params map[string]interface{}) (Operator, error) {
	return &OneHotEncoder{base: newBase("one_hot_encoder", params)}, nil
}

// Fit collects the category sets of every categorical column.
func (e *OneHotEncoder) Fit(t *dataset.Table) error {
	if t.Rows() == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	e.Categories = make(map[string][]string)
	for _, c := range t.Columns() {
		if c.Type != dataset.Categorical {
			continue
		}
		e.Categories[c.Name] = uniqueLabels(c.Labels)
	}
	e.setFitted(map[string]interface{}{"categories": e.Categories})
	return nil
}

// Transform expands fitted categorical columns into indicator columns.
func (e *OneHotEncoder) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := e.requireFitted("Transform"); err != nil {
		return nil, err
	}
	var out []dataset.Column
	added, removed := 0, 0
	for _, c := range t.Columns() {
		cats, ok := e.Categories[c.Name]
		if !ok || c.Type != dataset.Categorical {
			out = append(out, c)
			continue
		}
		removed++
		for _, cat := range cats {
			vals := make([]float64, len(c.Labels))
			for i, l := range c.Labels {
				if l == cat {
					vals[i] = 1
				}
			}
			out = append(out, dataset.Column{
				Name:   c.Name + "_" + cat,
				Type:   dataset.Numeric,
				Values: vals,
			})
			added++
		}
	}
	return t.Derive(out, targetOf(t), e.historyEntry(map[string]interface{}{
		"columns_added":   added,
		"columns_removed": removed,
	}))
}

// LabelEncoder maps each categorical column to integer codes in sorted
// category order. Unseen categories at transform time are an input error;
// unlike one-hot encoding there is no safe all-zero fallback.
type LabelEncoder struct {
	base

	Categories map[string][]string
}

func newLabelEncoder(params map[string]interface{}) (Operator, error) {
	return &LabelEncoder{base: newBase("label_encoder", params)}, nil
}

// Fit collects the category sets of every categorical column.
func (e *LabelEncoder) Fit(t *dataset.Table) error {
	if t.Rows() == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	e.Categories = make(map[string][]string)
	for _, c := range t.Columns() {
		if c.Type != dataset.Categorical {
			continue
		}
		e.Categories[c.Name] = uniqueLabels(c.Labels)
	}
	e.setFitted(map[string]interface{}{"categories": e.Categories})
	return nil
}

// Transform replaces fitted categorical columns with their integer codes.
func (e *LabelEncoder) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := e.requireFitted("Transform"); err != nil {
		return nil, err
	}
	cols := t.Columns()
	encoded := 0
	for i, c := range cols {
		cats, ok := e.Categories[c.Name]
		if !ok || c.Type != dataset.Categorical {
			continue
		}
		index := make(map[string]int, len(cats))
		for j, cat := range cats {
			index[cat] = j
		}
		vals := make([]float64, len(c.Labels))
		for j, l := range c.Labels {
			code, ok := index[l]
			if !ok {
				return nil, errors.NewValueError("label_encoder",
					"unseen category '"+l+"' in column '"+c.Name+"'")
			}
			vals[j] = float64(code)
		}
		cols[i] = dataset.Column{Name: c.Name, Type: dataset.Numeric, Values: vals}
		encoded++
	}
	return t.Derive(cols, targetOf(t), e.historyEntry(map[string]interface{}{
		"columns_encoded": encoded,
	}))
}

func uniqueLabels(labels []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, l := range labels {
		if l == "" {
			continue
		}
		if _, ok := seen[l]; !ok {
			seen[l] = struct{}{}
			out = append(out, l)
		}
	}
	sort.Strings(out)
	return out
}
