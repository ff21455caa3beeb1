package trainer

import (
	"math"
	"math/rand"
	"sort"
)

// cartParams controls a single CART tree fit. maxFeatures <= 0 means
// consider every feature at each split; maxDepth <= 0 means unlimited.
type cartParams struct {
	criterion       string // "gini", "entropy" or "squared_error"
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	rng             *rand.Rand
}

// cartNode is one node of a fitted tree. Leaves carry either a class
// distribution (classification) or a mean value (regression).
type cartNode struct {
	Feature   int
	Threshold float64
	Left      *cartNode
	Right     *cartNode
	Value     float64
	Dist      []float64
	Leaf      bool
}

// cartTree is a fitted CART tree plus per-feature impurity decreases.
type cartTree struct {
	Root       *cartNode
	Classes    []float64
	NFeatures  int
	Importance []float64
}

func (p cartParams) isClassification() bool {
	return p.criterion == "gini" || p.criterion == "entropy"
}

// fitCART grows a tree greedily by best impurity decrease. X is row
// major with stride cols. classes must be the sorted distinct labels
// for classification criteria and nil otherwise.
func fitCART(X [][]float64, y []float64, classes []float64, p cartParams) *cartTree {
	if p.minSamplesSplit < 2 {
		p.minSamplesSplit = 2
	}
	if p.minSamplesLeaf < 1 {
		p.minSamplesLeaf = 1
	}
	t := &cartTree{
		Classes:    classes,
		NFeatures:  len(X[0]),
		Importance: make([]float64, len(X[0])),
	}
	idx := make([]int, len(X))
	for i := range idx {
		idx[i] = i
	}
	t.Root = growNode(t, X, y, idx, 0, p)
	return t
}

func growNode(t *cartTree, X [][]float64, y []float64, idx []int, depth int, p cartParams) *cartNode {
	imp := nodeImpurity(y, idx, t.Classes, p)
	if len(idx) < p.minSamplesSplit || imp == 0 || (p.maxDepth > 0 && depth >= p.maxDepth) {
		return makeLeaf(y, idx, t.Classes, p)
	}

	feat, thr, gain, leftIdx, rightIdx := bestSplit(X, y, idx, imp, t.Classes, p)
	if feat < 0 || len(leftIdx) < p.minSamplesLeaf || len(rightIdx) < p.minSamplesLeaf {
		return makeLeaf(y, idx, t.Classes, p)
	}

	t.Importance[feat] += gain * float64(len(idx))
	return &cartNode{
		Feature:   feat,
		Threshold: thr,
		Left:      growNode(t, X, y, leftIdx, depth+1, p),
		Right:     growNode(t, X, y, rightIdx, depth+1, p),
	}
}

func makeLeaf(y []float64, idx []int, classes []float64, p cartParams) *cartNode {
	if p.isClassification() {
		dist := make([]float64, len(classes))
		pos := map[float64]int{}
		for i, c := range classes {
			pos[c] = i
		}
		for _, i := range idx {
			dist[pos[y[i]]]++
		}
		best := 0
		for i := range dist {
			dist[i] /= float64(len(idx))
			if dist[i] > dist[best] {
				best = i
			}
		}
		return &cartNode{Leaf: true, Value: classes[best], Dist: dist}
	}
	var sum float64
	for _, i := range idx {
		sum += y[i]
	}
	return &cartNode{Leaf: true, Value: sum / float64(len(idx))}
}

func nodeImpurity(y []float64, idx []int, classes []float64, p cartParams) float64 {
	n := float64(len(idx))
	if p.isClassification() {
		counts := map[float64]float64{}
		for _, i := range idx {
			counts[y[i]]++
		}
		var imp float64
		for _, c := range counts {
			q := c / n
			if p.criterion == "entropy" {
				imp -= q * math.Log2(q)
			} else {
				imp += q * (1 - q)
			}
		}
		return imp
	}
	var sum, sq float64
	for _, i := range idx {
		sum += y[i]
		sq += y[i] * y[i]
	}
	mean := sum / n
	return sq/n - mean*mean
}

// bestSplit scans candidate features for the threshold with the
// largest weighted impurity decrease. Returns feat=-1 when no split
// improves on the parent.
func bestSplit(X [][]float64, y []float64, idx []int, parentImp float64, classes []float64, p cartParams) (feat int, thr, gain float64, left, right []int) {
	feats := candidateFeatures(len(X[0]), p)
	feat = -1
	order := make([]int, len(idx))

	for _, f := range feats {
		copy(order, idx)
		sort.Slice(order, func(a, b int) bool { return X[order[a]][f] < X[order[b]][f] })
		for cut := p.minSamplesLeaf; cut <= len(order)-p.minSamplesLeaf; cut++ {
			if cut < len(order) && X[order[cut]][f] == X[order[cut-1]][f] {
				continue
			}
			if cut == len(order) {
				break
			}
			lImp := nodeImpurity(y, order[:cut], classes, p)
			rImp := nodeImpurity(y, order[cut:], classes, p)
			n := float64(len(order))
			g := parentImp - (float64(cut)/n)*lImp - (float64(len(order)-cut)/n)*rImp
			if g > gain {
				gain = g
				feat = f
				thr = (X[order[cut]][f] + X[order[cut-1]][f]) / 2
				left = append(left[:0:0], order[:cut]...)
				right = append(right[:0:0], order[cut:]...)
			}
		}
	}
	return feat, thr, gain, left, right
}

func candidateFeatures(n int, p cartParams) []int {
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}
	if p.maxFeatures <= 0 || p.maxFeatures >= n || p.rng == nil {
		return all
	}
	p.rng.Shuffle(n, func(i, j int) { all[i], all[j] = all[j], all[i] })
	sub := all[:p.maxFeatures]
	sort.Ints(sub)
	return sub
}

// predictRow walks the tree to a leaf and returns its value.
func (t *cartTree) predictRow(row []float64) float64 {
	return t.leafFor(row).Value
}

// probaRow returns the class distribution at the leaf for row.
func (t *cartTree) probaRow(row []float64) []float64 {
	return t.leafFor(row).Dist
}

func (t *cartTree) leafFor(row []float64) *cartNode {
	n := t.Root
	for !n.Leaf {
		if row[n.Feature] <= n.Threshold {
			n = n.Left
		} else {
			n = n.Right
		}
	}
	return n
}

// normalizedImportance returns impurity decreases scaled to sum to 1,
// or all zeros for a stump with no splits.
func (t *cartTree) normalizedImportance() []float64 {
	out := append([]float64(nil), t.Importance...)
	var total float64
	for _, v := range out {
		total += v
	}
	if total == 0 {
		return out
	}
	for i := range out {
		out[i] /= total
	}
	return out
}

func matrixRows(X interface{ RawRowView(int) []float64 }, rows int) [][]float64 {
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = append([]float64(nil), X.RawRowView(i)...)
	}
	return out
}
