package trainer

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/pkg/validate"
)

// KMeans is the clustering trainer. Centroids are seeded with
// k-means++ and refined by Lloyd iterations until the centroid shift
// drops below tol.
type KMeans struct {
	baseTrainer

	centroids [][]float64
	inertia   float64
}

type kmeansPayload struct {
	Centroids [][]float64
	Inertia   float64
}

func validateKMeansParams(p map[string]interface{}) error {
	if v, ok := p["n_clusters"]; ok {
		if _, err := validate.PositiveInt("n_clusters", v); err != nil {
			return err
		}
	}
	if v, ok := p["max_iter"]; ok {
		if _, err := validate.PositiveInt("max_iter", v); err != nil {
			return err
		}
	}
	if v, ok := p["tol"]; ok {
		if _, err := validate.PositiveFloat("tol", v); err != nil {
			return err
		}
	}
	return nil
}

// NewKMeans creates a k-means trainer.
// Defaults: n_clusters=8, max_iter=300, tol=1e-4.
func NewKMeans(hyper map[string]interface{}) (*KMeans, error) {
	merged := mergeDefaults(map[string]interface{}{
		"n_clusters":   8,
		"max_iter":     300,
		"tol":          1e-4,
		"random_state": 42,
	}, hyper)
	b, err := newBaseTrainer("kmeans", TaskClustering, ModelClustering, merged, validateKMeansParams)
	if err != nil {
		return nil, err
	}
	return &KMeans{baseTrainer: b}, nil
}

func sqDist(a, b []float64) float64 {
	var d float64
	for i := range a {
		diff := a[i] - b[i]
		d += diff * diff
	}
	return d
}

// seedCentroids picks initial centroids with k-means++: the first
// uniformly, the rest proportionally to squared distance from the
// nearest chosen centroid.
func seedCentroids(data [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, append([]float64(nil), data[rng.Intn(len(data))]...))

	dists := make([]float64, len(data))
	for len(centroids) < k {
		var total float64
		for i, row := range data {
			best := math.Inf(1)
			for _, c := range centroids {
				if d := sqDist(row, c); d < best {
					best = d
				}
			}
			dists[i] = best
			total += best
		}
		target := rng.Float64() * total
		pick := len(data) - 1
		var acc float64
		for i, d := range dists {
			acc += d
			if acc >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, append([]float64(nil), data[pick]...))
	}
	return centroids
}

// Fit runs k-means++ seeding followed by Lloyd iterations. y is
// ignored; clustering is unsupervised.
func (k *KMeans) Fit(X *mat.Dense, y []float64) error {
	rows, cols, err := k.validateFitInputs(X, y)
	if err != nil {
		return err
	}

	nClusters, _ := validate.AsInt("n_clusters", k.hyper["n_clusters"])
	if nClusters > rows {
		return errors.NewValueError("kmeans.Fit", "n_clusters cannot exceed the number of samples")
	}
	maxIter, _ := validate.AsInt("max_iter", k.hyper["max_iter"])
	tol, _ := validate.AsFloat("tol", k.hyper["tol"])
	rng := rand.New(rand.NewSource(seedFrom(k.hyper)))

	data := matrixRows(X, rows)
	centroids := seedCentroids(data, nClusters, rng)
	assign := make([]int, rows)

	for iter := 0; iter < maxIter; iter++ {
		for i, row := range data {
			best, bestD := 0, math.Inf(1)
			for c, cent := range centroids {
				if d := sqDist(row, cent); d < bestD {
					best, bestD = c, d
				}
			}
			assign[i] = best
		}

		next := make([][]float64, nClusters)
		counts := make([]int, nClusters)
		for c := range next {
			next[c] = make([]float64, cols)
		}
		for i, row := range data {
			c := assign[i]
			counts[c]++
			for j, v := range row {
				next[c][j] += v
			}
		}
		var shift float64
		for c := range next {
			if counts[c] == 0 {
				// Empty cluster keeps its centroid.
				copy(next[c], centroids[c])
				continue
			}
			for j := range next[c] {
				next[c][j] /= float64(counts[c])
			}
			shift += math.Sqrt(sqDist(next[c], centroids[c]))
		}
		centroids = next
		if shift < tol {
			break
		}
	}

	k.centroids = centroids
	k.inertia = 0
	for i, row := range data {
		k.inertia += sqDist(row, centroids[assign[i]])
	}

	k.stampFitted(rows, cols)
	return nil
}

// Predict assigns each row to its nearest centroid index.
func (k *KMeans) Predict(X *mat.Dense) (*mat.Dense, error) {
	rows, err := k.requirePredictable("Predict", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		row := X.RawRowView(i)
		best, bestD := 0, math.Inf(1)
		for c, cent := range k.centroids {
			if d := sqDist(row, cent); d < bestD {
				best, bestD = c, d
			}
		}
		out.Set(i, 0, float64(best))
	}
	return out, nil
}

// PredictProba is not defined for clustering.
func (k *KMeans) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	return k.notSupportedProba()
}

// FeatureImportance is not defined for clustering.
func (k *KMeans) FeatureImportance() ([]float64, error) {
	return k.notSupportedImportance()
}

// Centroids returns the fitted cluster centers.
func (k *KMeans) Centroids() ([][]float64, error) {
	if err := k.state.RequireFitted(k.name, "Centroids"); err != nil {
		return nil, err
	}
	return k.centroids, nil
}

// Inertia returns the within-cluster sum of squared distances.
func (k *KMeans) Inertia() (float64, error) {
	if err := k.state.RequireFitted(k.name, "Inertia"); err != nil {
		return 0, err
	}
	return k.inertia, nil
}

// Save persists the centroids, inertia and metadata.
func (k *KMeans) Save(dir string) error {
	return k.saveWithPayload(dir, kmeansPayload{Centroids: k.centroids, Inertia: k.inertia})
}

func init() {
	loaders["kmeans"] = func(doc artifactDoc, dir string) (Trainer, error) {
		k, err := NewKMeans(doc.Hyperparameters)
		if err != nil {
			return nil, err
		}
		var payload kmeansPayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		k.centroids = payload.Centroids
		k.inertia = payload.Inertia
		k.restore(doc)
		return k, nil
	}
}
