package dataset

import (
	"math"
	"math/rand"
	"strconv"
)

// Built-in sample datasets. They are generated with fixed seeds so that
// every process sees identical data, which keeps training results and
// tests reproducible without shipping data files.

// SampleIris returns a 150x4 three-class classification table modeled on
// the iris measurements: 50 rows per class drawn around the per-class
// feature means with small within-class spread.
func SampleIris() *Table {
	rng := rand.New(rand.NewSource(42))

	// sepal length, sepal width, petal length, petal width per class
	means := [3][4]float64{
		{5.01, 3.43, 1.46, 0.25}, // setosa
		{5.94, 2.77, 4.26, 1.33}, // versicolor
		{6.59, 2.97, 5.55, 2.03}, // virginica
	}
	stds := [3][4]float64{
		{0.35, 0.38, 0.17, 0.11},
		{0.52, 0.31, 0.47, 0.20},
		{0.64, 0.32, 0.55, 0.27},
	}
	names := []string{"sepal_length", "sepal_width", "petal_length", "petal_width"}
	classes := []string{"setosa", "versicolor", "virginica"}

	cols := make([]Column, 4)
	for j := range cols {
		cols[j] = Column{Name: names[j], Type: Numeric, Values: make([]float64, 150)}
	}
	labels := make([]string, 150)

	for c := 0; c < 3; c++ {
		for i := 0; i < 50; i++ {
			row := c*50 + i
			labels[row] = classes[c]
			for j := 0; j < 4; j++ {
				v := means[c][j] + rng.NormFloat64()*stds[c][j]
				cols[j].Values[row] = math.Round(v*10) / 10
			}
		}
	}

	t, _ := New(cols, &Column{Name: "species", Type: Categorical, Labels: labels})
	return t
}

// SampleBlobs returns a 120x2 table of three well-separated Gaussian blobs
// with no target, for clustering workflows.
func SampleBlobs() *Table {
	rng := rand.New(rand.NewSource(7))

	centers := [3][2]float64{{0, 0}, {8, 8}, {-8, 8}}
	x := Column{Name: "x0", Type: Numeric, Values: make([]float64, 120)}
	y := Column{Name: "x1", Type: Numeric, Values: make([]float64, 120)}
	for c := 0; c < 3; c++ {
		for i := 0; i < 40; i++ {
			row := c*40 + i
			x.Values[row] = centers[c][0] + rng.NormFloat64()
			y.Values[row] = centers[c][1] + rng.NormFloat64()
		}
	}

	t, _ := New([]Column{x, y}, nil)
	return t
}

// SampleLinear returns a 200x3 regression table where the target is a fixed
// linear combination of the features plus noise.
func SampleLinear() *Table {
	rng := rand.New(rand.NewSource(13))

	const rows = 200
	cols := make([]Column, 3)
	for j := range cols {
		cols[j] = Column{Name: "x" + strconv.Itoa(j), Type: Numeric, Values: make([]float64, rows)}
	}
	target := Column{Name: "y", Type: Numeric, Values: make([]float64, rows)}

	coef := []float64{2.0, -1.5, 0.5}
	for i := 0; i < rows; i++ {
		sum := 3.0
		for j := 0; j < 3; j++ {
			v := rng.Float64()*10 - 5
			cols[j].Values[i] = v
			sum += coef[j] * v
		}
		target.Values[i] = sum + rng.NormFloat64()*0.5
	}

	t, _ := New(cols, &target)
	return t
}
