package metrics

import (
	"sort"

	"github.com/flowml/flowml/pkg/errors"
)

// Accuracy computes the fraction of exactly matching labels.
func Accuracy(yTrue, yPred []float64) (float64, error) {
	if err := checkPair("Accuracy", yTrue, yPred); err != nil {
		return 0, err
	}
	correct := 0
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue)), nil
}

// Classes returns the sorted distinct labels in y.
func Classes(y []float64) []float64 {
	seen := map[float64]struct{}{}
	var out []float64
	for _, v := range y {
		if _, ok := seen[v]; !ok {
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Float64s(out)
	return out
}

// ConfusionMatrix computes the confusion matrix over the union of classes
// in yTrue and yPred, in sorted class order. Rows are true classes,
// columns predicted classes.
func ConfusionMatrix(yTrue, yPred []float64) ([][]float64, []float64, error) {
	if err := checkPair("ConfusionMatrix", yTrue, yPred); err != nil {
		return nil, nil, err
	}
	classes := Classes(append(append([]float64(nil), yTrue...), yPred...))
	index := make(map[float64]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	cm := make([][]float64, len(classes))
	for i := range cm {
		cm[i] = make([]float64, len(classes))
	}
	for i := range yTrue {
		cm[index[yTrue[i]]][index[yPred[i]]]++
	}
	return cm, classes, nil
}

// PrecisionRecallF1 computes precision, recall and F1. With average
// "binary" the positive class is the larger of the two labels observed in
// yTrue; "weighted" averages per-class scores weighted by true-class
// support. Per-class divisions by zero degrade to 0 with a warning.
func PrecisionRecallF1(yTrue, yPred []float64, average string) (precision, recall, f1 float64, err error) {
	if err := checkPair("PrecisionRecallF1", yTrue, yPred); err != nil {
		return 0, 0, 0, err
	}

	switch average {
	case "binary":
		classes := Classes(yTrue)
		if len(classes) != 2 {
			return 0, 0, 0, errors.NewValueError("PrecisionRecallF1",
				"binary average requires exactly 2 classes in the true labels")
		}
		pos := classes[1]
		var tp, fp, fn float64
		for i := range yTrue {
			switch {
			case yPred[i] == pos && yTrue[i] == pos:
				tp++
			case yPred[i] == pos:
				fp++
			case yTrue[i] == pos:
				fn++
			}
		}
		precision = safeRatio("precision", tp, tp+fp)
		recall = safeRatio("recall", tp, tp+fn)
		f1 = harmonic(precision, recall)
		return precision, recall, f1, nil

	case "weighted":
		cm, classes, err := ConfusionMatrix(yTrue, yPred)
		if err != nil {
			return 0, 0, 0, err
		}
		total := float64(len(yTrue))
		for ci := range classes {
			var tp, fp, fn, support float64
			tp = cm[ci][ci]
			for cj := range classes {
				if cj != ci {
					fp += cm[cj][ci]
					fn += cm[ci][cj]
				}
				support += cm[ci][cj]
			}
			if support == 0 {
				continue
			}
			p := safeRatio("precision", tp, tp+fp)
			r := safeRatio("recall", tp, tp+fn)
			w := support / total
			precision += w * p
			recall += w * r
			f1 += w * harmonic(p, r)
		}
		return precision, recall, f1, nil

	default:
		return 0, 0, 0, errors.NewValidationError("average", "must be one of the allowed options", average)
	}
}

func safeRatio(metric string, num, den float64) float64 {
	if den == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning(metric, "no predicted samples", 0))
		return 0
	}
	return num / den
}

func harmonic(p, r float64) float64 {
	if p+r == 0 {
		return 0
	}
	return 2 * p * r / (p + r)
}

// ROCAUC computes the area under the ROC curve for binary labels using the
// rank statistic, with tie handling. yTrue must contain exactly the labels
// {0, 1} after normalization against its two distinct values; score is the
// positive-class score.
func ROCAUC(yTrue, score []float64) (float64, error) {
	if err := checkPair("ROCAUC", yTrue, score); err != nil {
		return 0, err
	}
	classes := Classes(yTrue)
	if len(classes) != 2 {
		return 0, errors.NewValueError("ROCAUC", "requires exactly 2 classes in the true labels")
	}
	pos := classes[1]

	type pair struct {
		score float64
		pos   bool
	}
	pairs := make([]pair, len(yTrue))
	nPos, nNeg := 0.0, 0.0
	for i := range yTrue {
		p := yTrue[i] == pos
		pairs[i] = pair{score: score[i], pos: p}
		if p {
			nPos++
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("roc_auc", "only one class present", 0.5))
		return 0.5, nil
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score < pairs[j].score })

	// Average ranks across ties, then apply the Mann-Whitney identity.
	ranks := make([]float64, len(pairs))
	for i := 0; i < len(pairs); {
		j := i
		for j < len(pairs) && pairs[j].score == pairs[i].score {
			j++
		}
		avg := float64(i+j+1) / 2 // ranks are 1-based
		for k := i; k < j; k++ {
			ranks[k] = avg
		}
		i = j
	}
	var rankSum float64
	for i, p := range pairs {
		if p.pos {
			rankSum += ranks[i]
		}
	}
	return (rankSum - nPos*(nPos+1)/2) / (nPos * nNeg), nil
}
