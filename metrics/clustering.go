package metrics

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/errors"
)

func checkClusterInput(op string, X *mat.Dense, labels []int) (clusters map[int][]int, err error) {
	rows, _ := X.Dims()
	if rows == 0 {
		return nil, errors.NewValueError(op, "empty input")
	}
	if len(labels) != rows {
		return nil, errors.NewDimensionError(op, rows, len(labels), 0)
	}
	clusters = make(map[int][]int)
	for i, l := range labels {
		clusters[l] = append(clusters[l], i)
	}
	if len(clusters) < 2 {
		return nil, errors.NewValueError(op, "requires at least 2 distinct cluster labels")
	}
	return clusters, nil
}

func rowAt(X *mat.Dense, i int) []float64 {
	return X.RawRowView(i)
}

func sqDist(a, b []float64) float64 {
	var sum float64
	for k := range a {
		d := a[k] - b[k]
		sum += d * d
	}
	return sum
}

func dist(a, b []float64) float64 {
	return math.Sqrt(sqDist(a, b))
}

func centroidOf(X *mat.Dense, members []int) []float64 {
	_, cols := X.Dims()
	c := make([]float64, cols)
	for _, i := range members {
		row := rowAt(X, i)
		for k := range c {
			c[k] += row[k]
		}
	}
	for k := range c {
		c[k] /= float64(len(members))
	}
	return c
}

// SilhouetteScore computes the mean silhouette coefficient over all
// samples. Samples in singleton clusters contribute 0.
func SilhouetteScore(X *mat.Dense, labels []int) (float64, error) {
	clusters, err := checkClusterInput("SilhouetteScore", X, labels)
	if err != nil {
		return 0, err
	}
	rows, _ := X.Dims()

	var total float64
	for i := 0; i < rows; i++ {
		own := clusters[labels[i]]
		if len(own) == 1 {
			continue
		}

		// Mean intra-cluster distance, excluding the sample itself.
		var a float64
		for _, j := range own {
			if j != i {
				a += dist(rowAt(X, i), rowAt(X, j))
			}
		}
		a /= float64(len(own) - 1)

		// Smallest mean distance to any other cluster.
		b := math.Inf(1)
		for l, members := range clusters {
			if l == labels[i] {
				continue
			}
			var d float64
			for _, j := range members {
				d += dist(rowAt(X, i), rowAt(X, j))
			}
			d /= float64(len(members))
			b = math.Min(b, d)
		}

		if m := math.Max(a, b); m > 0 {
			total += (b - a) / m
		}
	}
	return total / float64(rows), nil
}

// DaviesBouldin computes the Davies-Bouldin index; lower is better.
func DaviesBouldin(X *mat.Dense, labels []int) (float64, error) {
	clusters, err := checkClusterInput("DaviesBouldin", X, labels)
	if err != nil {
		return 0, err
	}

	ids := make([]int, 0, len(clusters))
	for l := range clusters {
		ids = append(ids, l)
	}

	centroids := make(map[int][]float64, len(clusters))
	scatter := make(map[int]float64, len(clusters))
	for _, l := range ids {
		centroids[l] = centroidOf(X, clusters[l])
		var s float64
		for _, i := range clusters[l] {
			s += dist(rowAt(X, i), centroids[l])
		}
		scatter[l] = s / float64(len(clusters[l]))
	}

	var sum float64
	for _, li := range ids {
		worst := 0.0
		for _, lj := range ids {
			if li == lj {
				continue
			}
			sep := dist(centroids[li], centroids[lj])
			if sep == 0 {
				continue
			}
			if r := (scatter[li] + scatter[lj]) / sep; r > worst {
				worst = r
			}
		}
		sum += worst
	}
	return sum / float64(len(ids)), nil
}

// CalinskiHarabasz computes the Calinski-Harabasz index; higher is better.
func CalinskiHarabasz(X *mat.Dense, labels []int) (float64, error) {
	clusters, err := checkClusterInput("CalinskiHarabasz", X, labels)
	if err != nil {
		return 0, err
	}
	rows, _ := X.Dims()
	k := len(clusters)

	all := make([]int, rows)
	for i := range all {
		all[i] = i
	}
	grand := centroidOf(X, all)

	var between, within float64
	for _, members := range clusters {
		c := centroidOf(X, members)
		between += float64(len(members)) * sqDist(c, grand)
		for _, i := range members {
			within += sqDist(rowAt(X, i), c)
		}
	}
	if within == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("calinski_harabasz", "zero within-cluster variance", 0))
		return 0, nil
	}
	return (between / float64(k-1)) / (within / float64(rows-k)), nil
}

// Inertia computes the sum of squared distances from each sample to its
// cluster centroid.
func Inertia(X *mat.Dense, labels []int) (float64, error) {
	rows, _ := X.Dims()
	if rows == 0 {
		return 0, errors.NewValueError("Inertia", "empty input")
	}
	if len(labels) != rows {
		return 0, errors.NewDimensionError("Inertia", rows, len(labels), 0)
	}
	clusters := make(map[int][]int)
	for i, l := range labels {
		clusters[l] = append(clusters[l], i)
	}
	var total float64
	for _, members := range clusters {
		c := centroidOf(X, members)
		for _, i := range members {
			total += sqDist(rowAt(X, i), c)
		}
	}
	return total, nil
}
