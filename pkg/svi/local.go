package svi

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/allenv5/sviamp/pkg/model"
)

// Responsibility is the normalized KxK soft assignment of one edge.
type Responsibility struct {
	K     int
	Phi   []float64 // row-major, Phi[k1*K+k2]
	LogX  float64
	LogXS float64

	diag []float64
}

// NewResponsibility allocates a reusable buffer for k communities.
func NewResponsibility(k int) *Responsibility {
	return &Responsibility{K: k, Phi: make([]float64, k*k), diag: make([]float64, k)}
}

// At returns phi[k1][k2].
func (r *Responsibility) At(k1, k2 int) float64 { return r.Phi[k1*r.K+k2] }

// RowSum returns the membership mass the edge assigns to the first endpoint's
// community k.
func (r *Responsibility) RowSum(k int) float64 { return floats.Sum(r.Phi[k*r.K : (k+1)*r.K]) }

// ColSum is RowSum for the second endpoint.
func (r *Responsibility) ColSum(k int) float64 {
	s := 0.0
	for k1 := 0; k1 < r.K; k1++ {
		s += r.Phi[k1*r.K+k]
	}
	return s
}

// LogX returns log Σ_{k1,k2} exp(ep[k1] + eq[k2]). The double sum factors
// into the product of the two row sums.
func LogX(ep, eq []float64) float64 {
	return floats.LogSumExp(ep) + floats.LogSumExp(eq)
}

// LogXS returns log Σ_k exp(ep[k] + eq[k]). buf must have len(ep) entries.
func LogXS(ep, eq, buf []float64) float64 {
	floats.AddTo(buf, ep, eq)
	return floats.LogSumExp(buf)
}

// Compute fills r with the responsibilities of edge (p, q) with label y.
func (r *Responsibility) Compute(s *model.State, p, q, y int) {
	ep, eq := s.Elogpi[p], s.Elogpi[q]
	h := s.Hyper
	k := r.K

	r.LogX = LogX(ep, eq)
	r.LogXS = LogXS(ep, eq, r.diag)

	background := math.Exp(r.LogX + h.Epsilon)
	sb2 := h.SigmaBeta * h.SigmaBeta / 2
	for k1 := 0; k1 < k; k1++ {
		row := r.Phi[k1*k : (k1+1)*k]
		for k2 := 0; k2 < k; k2++ {
			row[k2] = ep[k1] + eq[k2]
		}
		m := s.LinkRate(k1)
		row[k1] += float64(y)*(m-h.Epsilon) - (math.Exp(r.LogX+m+sb2) - background)
	}

	norm := floats.LogSumExp(r.Phi)
	for i, v := range r.Phi {
		r.Phi[i] = math.Exp(v - norm)
	}
}
