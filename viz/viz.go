// Package viz renders workflow plots to PNG files with gonum/plot.
// Renderers work from a fitted trainer and holdout data; each plot is
// best effort and the caller decides whether a failure matters.
package viz

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/flowml/flowml/metrics"
	"github.com/flowml/flowml/pkg/errors"
	"github.com/flowml/flowml/trainer"
)

type renderFn func(p *plot.Plot, t trainer.Trainer, X *mat.Dense, y []float64) error

var renderers = map[string]renderFn{
	"confusion_heatmap":  confusionHeatmap,
	"prediction_scatter": predictionScatter,
	"cluster_scatter":    clusterScatter,
	"feature_importance": featureImportance,
}

// Names returns the available plot names.
func Names() []string {
	out := make([]string, 0, len(renderers))
	for name := range renderers {
		out = append(out, name)
	}
	return out
}

// Render draws the named plot into dir and returns the written file
// path.
func Render(name, dir string, t trainer.Trainer, X *mat.Dense, y []float64) (string, error) {
	fn, ok := renderers[name]
	if !ok {
		return "", errors.NewNotFoundError("plot", name)
	}
	p := plot.New()
	if err := fn(p, t, X, y); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "viz: creating plot directory")
	}
	path := filepath.Join(dir, name+".png")
	if err := p.Save(6*vg.Inch, 6*vg.Inch, path); err != nil {
		return "", errors.Wrap(err, "viz: saving "+name)
	}
	return path, nil
}

func predictions(t trainer.Trainer, X *mat.Dense) ([]float64, error) {
	pred, err := t.Predict(X)
	if err != nil {
		return nil, err
	}
	rows, _ := pred.Dims()
	out := make([]float64, rows)
	for i := range out {
		out[i] = pred.At(i, 0)
	}
	return out, nil
}

// confusionGrid adapts a confusion matrix to the heatmap interface.
type confusionGrid struct {
	cells [][]float64
}

func (g confusionGrid) Dims() (int, int)   { return len(g.cells[0]), len(g.cells) }
func (g confusionGrid) X(c int) float64    { return float64(c) }
func (g confusionGrid) Y(r int) float64    { return float64(r) }
func (g confusionGrid) Z(c, r int) float64 { return g.cells[len(g.cells)-1-r][c] }

func confusionHeatmap(p *plot.Plot, t trainer.Trainer, X *mat.Dense, y []float64) error {
	yPred, err := predictions(t, X)
	if err != nil {
		return err
	}
	cm, _, err := metrics.ConfusionMatrix(y, yPred)
	if err != nil {
		return err
	}

	p.Title.Text = "Confusion matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "True"
	pal := moreland.SmoothBlueRed().Palette(64)
	p.Add(plotter.NewHeatMap(confusionGrid{cells: cm}, pal))
	return nil
}

func predictionScatter(p *plot.Plot, t trainer.Trainer, X *mat.Dense, y []float64) error {
	if len(y) == 0 {
		return errors.NewValueError("viz.prediction_scatter", "no target values to plot")
	}
	yPred, err := predictions(t, X)
	if err != nil {
		return err
	}
	pts := make(plotter.XYs, len(y))
	for i := range y {
		pts[i] = plotter.XY{X: y[i], Y: yPred[i]}
	}
	s, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}

	p.Title.Text = "Predicted vs actual"
	p.X.Label.Text = "Actual"
	p.Y.Label.Text = "Predicted"
	p.Add(s)

	// Identity line for reference.
	min, max := y[0], y[0]
	for _, v := range y {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	line, err := plotter.NewLine(plotter.XYs{{X: min, Y: min}, {X: max, Y: max}})
	if err != nil {
		return err
	}
	p.Add(line)
	return nil
}

func clusterScatter(p *plot.Plot, t trainer.Trainer, X *mat.Dense, y []float64) error {
	_, cols := X.Dims()
	if cols < 2 {
		return errors.NewValueError("viz.cluster_scatter", "at least 2 features are required")
	}
	labels, err := predictions(t, X)
	if err != nil {
		return err
	}

	p.Title.Text = "Cluster assignment"
	p.X.Label.Text = "Feature 0"
	p.Y.Label.Text = "Feature 1"

	byLabel := map[float64]plotter.XYs{}
	for i, l := range labels {
		byLabel[l] = append(byLabel[l], plotter.XY{X: X.At(i, 0), Y: X.At(i, 1)})
	}
	for l, pts := range byLabel {
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return err
		}
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("cluster %d", int(l)), s)
	}
	return nil
}

func featureImportance(p *plot.Plot, t trainer.Trainer, X *mat.Dense, y []float64) error {
	imp, err := t.FeatureImportance()
	if err != nil {
		return err
	}
	bars, err := plotter.NewBarChart(plotter.Values(imp), vg.Points(20))
	if err != nil {
		return err
	}

	p.Title.Text = "Feature importance"
	p.Y.Label.Text = "Importance"
	p.Add(bars)
	names := make([]string, len(imp))
	for i := range names {
		names[i] = fmt.Sprintf("f%d", i)
	}
	p.NominalX(names...)
	return nil
}
