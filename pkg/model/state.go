// Package model holds the variational parameters of the assortative
// mixed-membership link model and the predictive likelihood they imply.
package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mathext"

	"github.com/allenv5/sviamp/pkg/rng"
)

// ErrDegenerateGamma is returned when a node's gamma row sums to zero.
var ErrDegenerateGamma = errors.New("gamma row sums to zero")

// Hyper holds the fixed hyperparameters.
type Hyper struct {
	Alpha []float64 // Dirichlet prior on memberships, length K

	Mu0, Sigma0 float64 // prior on mu and globalMu
	Mu1, Sigma1 float64 // prior on lambda

	SigmaBeta  float64
	SigmaTheta float64
	Epsilon    float64 // background link rate

	GlobalMu bool // use globalMu in place of mu[k]
	NoLambda bool // popularity bias fixed at zero
}

// DefaultHyper returns the standard hyperparameters with a symmetric alpha.
func DefaultHyper(k int, alpha float64) Hyper {
	a := make([]float64, k)
	for i := range a {
		a[i] = alpha
	}
	return Hyper{
		Alpha:      a,
		Mu0:        0,
		Sigma0:     1,
		Mu1:        0,
		Sigma1:     10,
		SigmaBeta:  0.5,
		SigmaTheta: 0.1,
		Epsilon:    0,
	}
}

// State is the full set of variational parameters.
type State struct {
	N, K int

	Gamma  [][]float64
	Elogpi [][]float64
	Lambda []float64

	Mu       []float64
	GlobalMu float64

	Hyper Hyper
}

// New allocates a zeroed state for n nodes and k communities.
func New(n, k int, h Hyper) *State {
	s := &State{
		N:      n,
		K:      k,
		Gamma:  make([][]float64, n),
		Elogpi: make([][]float64, n),
		Lambda: make([]float64, n),
		Mu:     make([]float64, k),
		Hyper:  h,
	}
	for i := 0; i < n; i++ {
		s.Gamma[i] = make([]float64, k)
		s.Elogpi[i] = make([]float64, k)
	}
	return s
}

// Init draws gamma from Gamma(100v, 0.01), with v = 1 for K < 100 and 100/K
// otherwise, and sets lambda from node degrees.
func (s *State) Init(r *rng.Source, degree func(n int) int) {
	v := 1.0
	if s.K >= 100 {
		v = 100 / float64(s.K)
	}
	for n := 0; n < s.N; n++ {
		for k := 0; k < s.K; k++ {
			s.Gamma[n][k] = r.Gamma(100*v, 0.01)
		}
	}
	s.InitLambda(degree)
	s.RefreshAllElogpi()
}

// Bias adds weight to gamma[n][group[n]] for every node and refreshes Elogpi.
// Nodes with a negative group are left unchanged.
func (s *State) Bias(group []int, weight float64) {
	for n, k := range group {
		if k < 0 || k >= s.K {
			continue
		}
		s.Gamma[n][k] += weight
		s.RefreshElogpi(n)
	}
}

// InitLambda sets lambda[n] = log(deg/maxDeg + 1e-5), or zero when the
// popularity bias is disabled.
func (s *State) InitLambda(degree func(n int) int) {
	if s.Hyper.NoLambda {
		for n := range s.Lambda {
			s.Lambda[n] = 0
		}
		return
	}
	maxDeg := 0
	for n := 0; n < s.N; n++ {
		if d := degree(n); d > maxDeg {
			maxDeg = d
		}
	}
	for n := 0; n < s.N; n++ {
		ratio := 0.0
		if maxDeg > 0 {
			ratio = float64(degree(n)) / float64(maxDeg)
		}
		s.Lambda[n] = math.Log(ratio + 1e-5)
	}
}

// RefreshElogpi recomputes E[log pi] for node n from its gamma row.
func (s *State) RefreshElogpi(n int) {
	g := s.Gamma[n]
	d := mathext.Digamma(floats.Sum(g))
	for k, v := range g {
		s.Elogpi[n][k] = mathext.Digamma(v) - d
	}
}

func (s *State) RefreshAllElogpi() {
	for n := 0; n < s.N; n++ {
		s.RefreshElogpi(n)
	}
}

// LinkRate returns the community link rate m_k.
func (s *State) LinkRate(k int) float64 {
	if s.Hyper.GlobalMu {
		return s.GlobalMu
	}
	return s.Mu[k]
}

// Pi writes the normalized gamma row of node n into dst.
func (s *State) Pi(n int, dst []float64) ([]float64, error) {
	if dst == nil {
		dst = make([]float64, s.K)
	}
	sum := floats.Sum(s.Gamma[n])
	if !(sum > 0) {
		return nil, fmt.Errorf("node %d: %w", n, ErrDegenerateGamma)
	}
	floats.ScaleTo(dst, 1/sum, s.Gamma[n])
	return dst, nil
}

// EstimatePi returns the normalized gamma matrix.
func (s *State) EstimatePi() ([][]float64, error) {
	pi := make([][]float64, s.N)
	for n := 0; n < s.N; n++ {
		row, err := s.Pi(n, nil)
		if err != nil {
			return nil, err
		}
		pi[n] = row
	}
	return pi, nil
}

// ClampMu keeps mu and globalMu non-negative.
func (s *State) ClampMu() {
	for k, v := range s.Mu {
		if v < 0 {
			s.Mu[k] = 0
		}
	}
	if s.GlobalMu < 0 {
		s.GlobalMu = 0
	}
}

// Snapshot is a detached copy of the variational parameters.
type Snapshot struct {
	Gamma    [][]float64
	Pi       [][]float64
	Lambda   []float64
	Mu       []float64
	GlobalMu float64
}

// Snapshot copies the current parameters.
func (s *State) Snapshot() (Snapshot, error) {
	pi, err := s.EstimatePi()
	if err != nil {
		return Snapshot{}, err
	}
	gamma := make([][]float64, s.N)
	for n := range gamma {
		gamma[n] = append([]float64(nil), s.Gamma[n]...)
	}
	return Snapshot{
		Gamma:    gamma,
		Pi:       pi,
		Lambda:   append([]float64(nil), s.Lambda...),
		Mu:       append([]float64(nil), s.Mu...),
		GlobalMu: s.GlobalMu,
	}, nil
}
