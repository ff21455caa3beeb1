package preprocessing

import (
	"math"

	"github.com/flowml/flowml/dataset"
	"github.com/flowml/flowml/pkg/errors"
)

// StandardScaler standardizes numeric columns to zero mean and unit
// variance. Columns with zero variance are left centered only.
type StandardScaler struct {
	base

	Mean  map[string]float64
	Scale map[string]float64
}

func newStandardScaler(params map[string]interface{}) (Operator, error) {
	return &StandardScaler{base: newBase("standard_scaler", params)}, nil
}

// Fit computes the per-column mean and standard deviation.
func (s *StandardScaler) Fit(t *dataset.Table) error {
	if t.Rows() == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	s.Mean = make(map[string]float64)
	s.Scale = make(map[string]float64)
	for _, c := range t.Columns() {
		if c.Type != dataset.Numeric {
			continue
		}
		mean, std := meanStd(c.Values)
		s.Mean[c.Name] = mean
		s.Scale[c.Name] = std
	}
	s.setFitted(map[string]interface{}{"mean": s.Mean, "scale": s.Scale})
	return nil
}

// Transform standardizes every numeric column seen at fit time.
func (s *StandardScaler) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := s.requireFitted("Transform"); err != nil {
		return nil, err
	}
	cols := t.Columns()
	scaled := 0
	for i, c := range cols {
		mean, ok := s.Mean[c.Name]
		if !ok || c.Type != dataset.Numeric {
			continue
		}
		scale := s.Scale[c.Name]
		for j, v := range c.Values {
			if math.IsNaN(v) {
				continue
			}
			if scale > 0 {
				cols[i].Values[j] = (v - mean) / scale
			} else {
				cols[i].Values[j] = v - mean
			}
		}
		scaled++
	}
	return t.Derive(cols, targetOf(t), s.historyEntry(map[string]interface{}{
		"columns_scaled": scaled,
	}))
}

// MinMaxScaler rescales numeric columns to [0, 1]. Constant columns map
// to 0.
type MinMaxScaler struct {
	base

	Min map[string]float64
	Max map[string]float64
}

func newMinMaxScaler(params map[string]interface{}) (Operator, error) {
	return &MinMaxScaler{base: newBase("minmax_scaler", params)}, nil
}

// Fit records the per-column minimum and maximum.
func (s *MinMaxScaler) Fit(t *dataset.Table) error {
	if t.Rows() == 0 {
		return errors.WithStack(errors.ErrEmptyData)
	}
	s.Min = make(map[string]float64)
	s.Max = make(map[string]float64)
	for _, c := range t.Columns() {
		if c.Type != dataset.Numeric {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, v := range c.Values {
			if math.IsNaN(v) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		s.Min[c.Name] = lo
		s.Max[c.Name] = hi
	}
	s.setFitted(map[string]interface{}{"min": s.Min, "max": s.Max})
	return nil
}

// Transform rescales every numeric column seen at fit time.
func (s *MinMaxScaler) Transform(t *dataset.Table) (*dataset.Table, error) {
	if err := s.requireFitted("Transform"); err != nil {
		return nil, err
	}
	cols := t.Columns()
	scaled := 0
	for i, c := range cols {
		lo, ok := s.Min[c.Name]
		if !ok || c.Type != dataset.Numeric {
			continue
		}
		span := s.Max[c.Name] - lo
		for j, v := range c.Values {
			if math.IsNaN(v) {
				continue
			}
			if span > 0 {
				cols[i].Values[j] = (v - lo) / span
			} else {
				cols[i].Values[j] = 0
			}
		}
		scaled++
	}
	return t.Derive(cols, targetOf(t), s.historyEntry(map[string]interface{}{
		"columns_scaled": scaled,
	}))
}

func meanStd(values []float64) (mean, std float64) {
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		mean += v
		n++
	}
	if n == 0 {
		return 0, 0
	}
	mean /= float64(n)
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		d := v - mean
		std += d * d
	}
	std = math.Sqrt(std / float64(n))
	return mean, std
}
