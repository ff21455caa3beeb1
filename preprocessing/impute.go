package preprocessing

import (
	"math"
	"sort"

	"github.com/flowml/flowml/dataset"
	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/pkg/validate"
)

// Imputer fills missing cells. Numeric columns accept the "mean", "median"
// and "constant" strategies; "most_frequent" additionally covers
// categorical columns.
type Imputer struct {
	base

	strategy  string
	fillValue float64

	NumericFill     map[string]float64
	CategoricalFill map[string]string
}

func newImputer(params map[string]interface{}) (Operator, error) {
	op := &Imputer{base: newBase("imputer", params), strategy: "mean"}
	if v, ok := params["strategy"]; ok {
		s, err := validate.OneOf("strategy", v, "mean", "median", "most_frequent", "constant")
		if err != nil {
			return nil, err
		}
		op.strategy = s
	}
	if v, ok := params["fill_value"]; ok {
		f, err := validate.AsFloat("fill_value", v)
		if err != nil {
			return nil, err
		}
		op.fillValue = f
	}
	return op, nil
}

// Fit learns the per-column fill values for the configured strategy.
func (im *Imputer) Fit(t *dataset.Table) error {
	if t.Rows() == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	im.NumericFill = make(map[string]float64)
	im.CategoricalFill = make(map[string]string)

	for _, c := range t.Columns() {
		switch c.Type {
		case dataset.Numeric:
			fill, ok := im.numericFill(c.Values)
			if ok {
				im.NumericFill[c.Name] = fill
			}
		case dataset.Categorical:
			if im.strategy == "most_frequent" {
				if mode, ok := modeLabel(c.Labels); ok {
					im.CategoricalFill[c.Name] = mode
				}
			}
		}
	}
	im.setFitted(map[string]interface{}{
		"strategy":         im.strategy,
		"numeric_fill":     im.NumericFill,
		"categorical_fill": im.CategoricalFill,
	})
	return nil
}

func (im *Imputer) numericFill(values []float64) (float64, bool) {
	switch im.strategy {
	case "constant":
		return im.fillValue, true
	case "median":
		var present []float64
		for _, v := range values {
			if !math.IsNaN(v) {
				present = append(present, v)
			}
		}
		if len(present) == 0 {
			return 0, false
		}
		sort.Float64s(present)
		mid := len(present) / 2
		if len(present)%2 == 0 {
			return (present[mid-1] + present[mid]) / 2, true
		}
		return present[mid], true
	case "most_frequent":
		counts := map[float64]int{}
		for _, v := range values {
			if !math.IsNaN(v) {
				counts[v]++
			}
		}
		best, bestCount, found := 0.0, 0, false
		for v, n := range counts {
			if n > bestCount || (n == bestCount && found && v < best) {
				best, bestCount, found = v, n, true
			}
		}
		return best, found
	default: // mean
		mean, n := 0.0, 0
		for _, v := range values {
			if !math.IsNaN(v) {
				mean += v
				n++
			}
		}
		if n == 0 {
			return 0, false
		}
		return mean / float64(n), true
	}
}

func modeLabel(labels []string) (string, bool) {
	counts := map[string]int{}
	for _, l := range labels {
		if l != "" {
			counts[l]++
		}
	}
	best, bestCount, found := "", 0, false
	for l, n := range counts {
		if n > bestCount || (n == bestCount && found && l < best) {
			best, bestCount, found = l, n, true
		}
	}
	return best, found
}

// Transform fills missing cells using the fitted values.
func (im *Imputer) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := im.requireFitted("Transform"); err != nil {
		return nil, err
	}
	cols := t.Columns()
	filled := 0
	for i, c := range cols {
		switch c.Type {
		case dataset.Numeric:
			fill, ok := im.NumericFill[c.Name]
			if !ok {
				continue
			}
			for j, v := range c.Values {
				if math.IsNaN(v) {
					cols[i].Values[j] = fill
					filled++
				}
			}
		case dataset.Categorical:
			fill, ok := im.CategoricalFill[c.Name]
			if !ok {
				continue
			}
			for j, l := range c.Labels {
				if l == "" {
					cols[i].Labels[j] = fill
					filled++
				}
			}
		}
	}
	return t.Derive(cols, targetOf(t), im.historyEntry(map[string]interface{}{
		"cells_filled": filled,
	}))
}
