package svi

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/allenv5/sviamp/pkg/model"
)

// edgeWork is one edge scheduled for the local step.
type edgeWork struct {
	p, q, y int
	scale   float64
}

// contribution is the gradient mass a single edge adds.
type contribution struct {
	row, col, mu []float64
	lambda       float64
	sigmaBeta    float64
	sigmaTheta   float64
}

// contributions allocates n records backed by one slab.
func contributions(n, k int) []contribution {
	slab := make([]float64, 3*n*k)
	cs := make([]contribution, n)
	for i := range cs {
		base := slab[3*i*k:]
		cs[i].row = base[:k:k]
		cs[i].col = base[k : 2*k : 2*k]
		cs[i].mu = base[2*k : 3*k : 3*k]
	}
	return cs
}

// worker holds the scratch buffers of one local-step goroutine.
type worker struct {
	r   *Responsibility
	buf []float64
}

func newWorker(k int) *worker {
	return &worker{r: NewResponsibility(k), buf: make([]float64, k)}
}

// contribute runs the local step for w and records its gradient terms in c.
func (wk *worker) contribute(s *model.State, w edgeWork, c *contribution) {
	r := wk.r
	r.Compute(s, w.p, w.q, w.y)

	h := s.Hyper
	y := float64(w.y)
	sb2 := h.SigmaBeta * h.SigmaBeta / 2
	for k := 0; k < r.K; k++ {
		c.row[k] = w.scale * r.RowSum(k)
		c.col[k] = w.scale * r.ColSum(k)

		phi := r.At(k, k)
		c.mu[k] = w.scale * phi * (y - math.Exp(r.LogX+s.LinkRate(k)+sb2))

		wk.buf[k] = math.Log(math.Max(phi, 1e-30)) + s.Mu[k]
	}
	c.sigmaBeta = h.SigmaBeta * math.Exp(r.LogX+floats.LogSumExp(wk.buf))

	xs := math.Exp(r.LogXS)
	c.lambda = w.scale * (y - xs)
	c.sigmaTheta = 2 * h.SigmaTheta * xs
}

// Accumulator collects one iteration's gradient terms. A fresh accumulator is
// created per iteration and handed to the step.
type Accumulator struct {
	K      int
	Gamma  map[int][]float64
	Lambda map[int]float64
	Mu     []float64

	// Reported only; not applied to any parameter.
	SigmaBeta  float64
	SigmaTheta float64

	Edges int
}

// NewAccumulator creates an empty accumulator for k communities.
func NewAccumulator(k int) *Accumulator {
	return &Accumulator{
		K:      k,
		Gamma:  make(map[int][]float64),
		Lambda: make(map[int]float64),
		Mu:     make([]float64, k),
	}
}

func (a *Accumulator) gammaRow(n int) []float64 {
	row, ok := a.Gamma[n]
	if !ok {
		row = make([]float64, a.K)
		a.Gamma[n] = row
	}
	return row
}

// add folds one edge's contribution into the totals.
func (a *Accumulator) add(w edgeWork, c *contribution) {
	floats.Add(a.gammaRow(w.p), c.row)
	floats.Add(a.gammaRow(w.q), c.col)
	floats.Add(a.Mu, c.mu)
	a.Lambda[w.p] += c.lambda
	a.Lambda[w.q] += c.lambda
	a.SigmaBeta += c.sigmaBeta
	a.SigmaTheta += c.sigmaTheta
	a.Edges++
}
