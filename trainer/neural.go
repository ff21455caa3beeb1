package trainer

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/pkg/validate"
)

// NeuralNetwork is a small fully connected multilayer perceptron
// trained by full-batch gradient descent. Classification uses a
// softmax output with cross-entropy loss, regression a linear output
// with squared error.
type NeuralNetwork struct {
	baseTrainer

	weights []*mat.Dense
	biases  [][]float64
	classes []float64
}

type neuralPayload struct {
	Weights [][]float64
	Shapes  [][2]int
	Biases  [][]float64
	Classes []float64
}

func hiddenSizes(v interface{}) ([]int, error) {
	var raw []interface{}
	switch t := v.(type) {
	case []interface{}:
		raw = t
	case []int:
		out := make([]int, len(t))
		copy(out, t)
		for _, n := range out {
			if n <= 0 {
				return nil, errors.NewValidationError("hidden_layer_sizes", "sizes must be positive integers", v)
			}
		}
		return out, nil
	default:
		return nil, errors.NewValidationError("hidden_layer_sizes", "must be a list of layer sizes", v)
	}
	out := make([]int, len(raw))
	for i, e := range raw {
		n, err := validate.PositiveInt("hidden_layer_sizes", e)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	if len(out) == 0 {
		return nil, errors.NewValidationError("hidden_layer_sizes", "must name at least one hidden layer", v)
	}
	return out, nil
}

func validateNeuralParams(p map[string]interface{}) error {
	if v, ok := p["hidden_layer_sizes"]; ok {
		if _, err := hiddenSizes(v); err != nil {
			return err
		}
	}
	if v, ok := p["activation"]; ok {
		if _, err := validate.OneOf("activation", v, "relu", "tanh", "logistic"); err != nil {
			return err
		}
	}
	if v, ok := p["learning_rate_init"]; ok {
		if _, err := validate.PositiveFloat("learning_rate_init", v); err != nil {
			return err
		}
	}
	if v, ok := p["max_iter"]; ok {
		if _, err := validate.PositiveInt("max_iter", v); err != nil {
			return err
		}
	}
	return nil
}

// NewNeuralNetwork creates an MLP trainer for the given task.
// Defaults: hidden_layer_sizes=[100], activation="relu",
// learning_rate_init=0.001, max_iter=200.
func NewNeuralNetwork(task Task, hyper map[string]interface{}) (*NeuralNetwork, error) {
	merged := mergeDefaults(map[string]interface{}{
		"hidden_layer_sizes": []int{100},
		"activation":         "relu",
		"learning_rate_init": 0.001,
		"max_iter":           200,
		"tol":                1e-4,
		"random_state":       42,
	}, hyper)
	b, err := newBaseTrainer("neural_network", task, ModelNeural, merged, validateNeuralParams)
	if err != nil {
		return nil, err
	}
	return &NeuralNetwork{baseTrainer: b}, nil
}

func (n *NeuralNetwork) activate(z float64) (a, grad float64) {
	switch n.hyper["activation"] {
	case "tanh":
		a = math.Tanh(z)
		return a, 1 - a*a
	case "logistic":
		a = sigmoid(z)
		return a, a * (1 - a)
	default: // relu
		if z > 0 {
			return z, 1
		}
		return 0, 0
	}
}

// Fit trains the network with full-batch gradient descent, stopping
// early once the loss improvement per iteration drops below tol.
func (n *NeuralNetwork) Fit(X *mat.Dense, y []float64) error {
	if !n.task.IsSupervised() {
		return n.unsupportedTask()
	}
	rows, cols, err := n.validateFitInputs(X, y)
	if err != nil {
		return err
	}

	sizes, _ := hiddenSizes(n.hyper["hidden_layer_sizes"])
	outDim := 1
	if n.task == TaskClassification {
		n.classes = classesOf(y)
		outDim = len(n.classes)
	} else {
		n.classes = nil
	}
	layerDims := append(append([]int{cols}, sizes...), outDim)

	rng := rand.New(rand.NewSource(seedFrom(n.hyper)))
	n.weights = make([]*mat.Dense, len(layerDims)-1)
	n.biases = make([][]float64, len(layerDims)-1)
	for l := 0; l < len(layerDims)-1; l++ {
		in, out := layerDims[l], layerDims[l+1]
		scale := math.Sqrt(2.0 / float64(in))
		w := mat.NewDense(in, out, nil)
		for i := 0; i < in; i++ {
			for j := 0; j < out; j++ {
				w.Set(i, j, rng.NormFloat64()*scale)
			}
		}
		n.weights[l] = w
		n.biases[l] = make([]float64, out)
	}

	target := make([][]float64, rows)
	pos := map[float64]int{}
	for i, c := range n.classes {
		pos[c] = i
	}
	for i := 0; i < rows; i++ {
		t := make([]float64, outDim)
		if n.task == TaskClassification {
			t[pos[y[i]]] = 1
		} else {
			t[0] = y[i]
		}
		target[i] = t
	}

	maxIter, _ := validate.AsInt("max_iter", n.hyper["max_iter"])
	lr, _ := validate.AsFloat("learning_rate_init", n.hyper["learning_rate_init"])
	tol, _ := validate.AsFloat("tol", n.hyper["tol"])

	prevLoss := math.Inf(1)
	converged := false
	for iter := 0; iter < maxIter; iter++ {
		loss := n.gradientStep(X, target, rows, lr)
		if math.Abs(prevLoss-loss) < tol {
			converged = true
			break
		}
		prevLoss = loss
	}
	if !converged {
		errors.Warn(errors.NewConvergenceWarning(n.name, maxIter, "loss did not converge within max_iter"))
	}

	n.stampFitted(rows, cols)
	return nil
}

// gradientStep runs one forward and backward pass over the whole
// batch and applies the averaged gradients. Returns the batch loss.
func (n *NeuralNetwork) gradientStep(X *mat.Dense, target [][]float64, rows int, lr float64) float64 {
	nLayers := len(n.weights)
	gradW := make([]*mat.Dense, nLayers)
	gradB := make([][]float64, nLayers)
	for l := range n.weights {
		r, c := n.weights[l].Dims()
		gradW[l] = mat.NewDense(r, c, nil)
		gradB[l] = make([]float64, c)
	}

	var loss float64
	for i := 0; i < rows; i++ {
		acts, grads := n.forward(X.RawRowView(i))
		out := acts[nLayers]

		// Output delta. For classification out already holds softmax
		// probabilities, so delta is (p - t) for cross-entropy; for
		// regression it is (yhat - y) for squared error.
		delta := make([]float64, len(out))
		for j := range out {
			delta[j] = out[j] - target[i][j]
			if n.task == TaskClassification {
				if target[i][j] == 1 {
					loss -= math.Log(out[j] + 1e-15)
				}
			} else {
				loss += 0.5 * delta[j] * delta[j]
			}
		}

		for l := nLayers - 1; l >= 0; l-- {
			in := acts[l]
			for a := range in {
				for b := range delta {
					gradW[l].Set(a, b, gradW[l].At(a, b)+in[a]*delta[b])
				}
			}
			for b := range delta {
				gradB[l][b] += delta[b]
			}
			if l == 0 {
				break
			}
			prev := make([]float64, len(in))
			for a := range in {
				var s float64
				for b := range delta {
					s += n.weights[l].At(a, b) * delta[b]
				}
				prev[a] = s * grads[l-1][a]
			}
			delta = prev
		}
	}

	scale := lr / float64(rows)
	for l := range n.weights {
		r, c := n.weights[l].Dims()
		for a := 0; a < r; a++ {
			for b := 0; b < c; b++ {
				n.weights[l].Set(a, b, n.weights[l].At(a, b)-scale*gradW[l].At(a, b))
			}
		}
		for b := 0; b < c; b++ {
			n.biases[l][b] -= scale * gradB[l][b]
		}
	}
	return loss / float64(rows)
}

// forward returns per-layer activations (acts[0] is the input row)
// and per-hidden-layer activation gradients.
func (n *NeuralNetwork) forward(row []float64) (acts [][]float64, grads [][]float64) {
	nLayers := len(n.weights)
	acts = make([][]float64, nLayers+1)
	grads = make([][]float64, nLayers-1)
	acts[0] = row

	for l := 0; l < nLayers; l++ {
		_, out := n.weights[l].Dims()
		z := make([]float64, out)
		for j := 0; j < out; j++ {
			s := n.biases[l][j]
			for a, v := range acts[l] {
				s += v * n.weights[l].At(a, j)
			}
			z[j] = s
		}
		if l < nLayers-1 {
			a := make([]float64, out)
			g := make([]float64, out)
			for j, v := range z {
				a[j], g[j] = n.activate(v)
			}
			acts[l+1] = a
			grads[l] = g
		} else if n.task == TaskClassification {
			p := make([]float64, out)
			softmaxFloats(p, z)
			acts[l+1] = p
		} else {
			acts[l+1] = z
		}
	}
	return acts, grads
}

// Predict returns the argmax class or the raw regression output.
func (n *NeuralNetwork) Predict(X *mat.Dense) (*mat.Dense, error) {
	rows, err := n.requirePredictable("Predict", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, 1, nil)
	for i := 0; i < rows; i++ {
		acts, _ := n.forward(X.RawRowView(i))
		final := acts[len(acts)-1]
		if n.task == TaskRegression {
			out.Set(i, 0, final[0])
			continue
		}
		best := 0
		for c := 1; c < len(final); c++ {
			if final[c] > final[best] {
				best = c
			}
		}
		out.Set(i, 0, n.classes[best])
	}
	return out, nil
}

// PredictProba returns softmax class probabilities.
func (n *NeuralNetwork) PredictProba(X *mat.Dense) (*mat.Dense, error) {
	if n.task != TaskClassification {
		return n.notSupportedProba()
	}
	rows, err := n.requirePredictable("PredictProba", X)
	if err != nil {
		return nil, err
	}
	out := mat.NewDense(rows, len(n.classes), nil)
	for i := 0; i < rows; i++ {
		acts, _ := n.forward(X.RawRowView(i))
		out.SetRow(i, acts[len(acts)-1])
	}
	return out, nil
}

// FeatureImportance is not defined for neural networks.
func (n *NeuralNetwork) FeatureImportance() ([]float64, error) {
	return n.notSupportedImportance()
}

// Save persists the layer weights, biases and metadata.
func (n *NeuralNetwork) Save(dir string) error {
	payload := neuralPayload{Classes: n.classes, Biases: n.biases}
	for _, w := range n.weights {
		r, c := w.Dims()
		payload.Shapes = append(payload.Shapes, [2]int{r, c})
		payload.Weights = append(payload.Weights, append([]float64(nil), w.RawMatrix().Data...))
	}
	return n.saveWithPayload(dir, payload)
}

func init() {
	loaders["neural_network"] = func(doc artifactDoc, dir string) (Trainer, error) {
		n, err := NewNeuralNetwork(doc.Task, doc.Hyperparameters)
		if err != nil {
			return nil, err
		}
		var payload neuralPayload
		if err := loadPayload(dir, &payload); err != nil {
			return nil, err
		}
		n.weights = make([]*mat.Dense, len(payload.Weights))
		for l, data := range payload.Weights {
			sh := payload.Shapes[l]
			n.weights[l] = mat.NewDense(sh[0], sh[1], data)
		}
		n.biases = payload.Biases
		n.classes = payload.Classes
		n.restore(doc)
		return n, nil
	}
}
