package model

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mathext"

	"github.com/allenv5/sviamp/pkg/network"
	"github.com/allenv5/sviamp/pkg/rng"
	"github.com/allenv5/sviamp/pkg/sample"
)

func newState(t *testing.T, n, k int) *State {
	t.Helper()
	s := New(n, k, DefaultHyper(k, 1.0/float64(k)))
	s.Init(rng.New(42), func(i int) int { return i + 1 })
	return s
}

func TestInit_GammaPositiveAndPiNormalized(t *testing.T) {
	s := newState(t, 30, 4)

	pi, err := s.EstimatePi()
	require.NoError(t, err)
	for n, row := range pi {
		for _, g := range s.Gamma[n] {
			assert.Greater(t, g, 0.0)
		}
		assert.InDelta(t, 1.0, floats.Sum(row), 1e-12)
	}
}

func TestInit_Lambda(t *testing.T) {
	s := newState(t, 4, 2)
	// degrees 1..4, max 4
	assert.InDelta(t, math.Log(0.25+1e-5), s.Lambda[0], 1e-12)
	assert.InDelta(t, math.Log(1+1e-5), s.Lambda[3], 1e-12)

	h := DefaultHyper(2, 0.5)
	h.NoLambda = true
	nl := New(4, 2, h)
	nl.Init(rng.New(1), func(i int) int { return i + 1 })
	assert.Equal(t, []float64{0, 0, 0, 0}, nl.Lambda)
}

func TestRefreshElogpi(t *testing.T) {
	s := New(1, 3, DefaultHyper(3, 0.1))
	s.Gamma[0] = []float64{1, 2, 3}
	s.RefreshElogpi(0)

	d := mathext.Digamma(6)
	assert.InDelta(t, mathext.Digamma(1)-d, s.Elogpi[0][0], 1e-12)
	assert.InDelta(t, mathext.Digamma(3)-d, s.Elogpi[0][2], 1e-12)
}

func TestPi_DegenerateGamma(t *testing.T) {
	s := New(2, 2, DefaultHyper(2, 0.5))
	s.Gamma[0] = []float64{1, 1}

	_, err := s.EstimatePi()
	assert.ErrorIs(t, err, ErrDegenerateGamma)

	_, err = s.Snapshot()
	assert.ErrorIs(t, err, ErrDegenerateGamma)
}

func TestPairLikelihood_SingleCommunityIsSigmoidBernoulli(t *testing.T) {
	s := New(2, 1, DefaultHyper(1, 1))
	s.Gamma[0], s.Gamma[1] = []float64{3}, []float64{0.5}
	s.Lambda[0], s.Lambda[1] = 0.2, -0.7
	s.Mu[0] = 1.3

	pi, err := s.EstimatePi()
	require.NoError(t, err)

	want := 1 / (1 + math.Exp(-(0.2 - 0.7 + 1.3)))
	assert.InDelta(t, want, s.PairLikelihood(pi[0], pi[1], 0, 1, 1), 1e-12)
	assert.InDelta(t, 1-want, s.PairLikelihood(pi[0], pi[1], 0, 1, 0), 1e-12)
	assert.InDelta(t, want, s.LinkProb(pi[0], pi[1], 0, 1), 1e-12)
}

func TestPairLikelihood_GlobalMu(t *testing.T) {
	h := DefaultHyper(2, 0.5)
	h.GlobalMu = true
	s := New(2, 2, h)
	s.Mu = []float64{5, 5}
	s.GlobalMu = 0

	pp := []float64{1, 0}
	// shared mass 1 and rate sigmoid(0) = 0.5 regardless of mu
	assert.InDelta(t, 0.5, s.PairLikelihood(pp, pp, 0, 1, 1), 1e-12)
}

func TestPairLikelihood_Floor(t *testing.T) {
	s := New(2, 1, DefaultHyper(1, 1))
	s.Lambda[0], s.Lambda[1] = 400, 400
	pp := []float64{1}
	assert.Equal(t, likelihoodFloor, s.PairLikelihood(pp, pp, 0, 1, 0))
}

func TestClampMu(t *testing.T) {
	s := New(1, 3, DefaultHyper(3, 0.1))
	s.Mu = []float64{-1, 0.5, -0.1}
	s.GlobalMu = -2
	s.ClampMu()
	assert.Equal(t, []float64{0, 0.5, 0}, s.Mu)
	assert.Zero(t, s.GlobalMu)
}

func labeledPairs(n int) []sample.Pair {
	var pairs []sample.Pair
	for p := 0; p < n; p++ {
		for q := p + 1; q < n; q++ {
			pairs = append(pairs, sample.Pair{Edge: network.NewEdge(p, q), Label: (p + q) % 2})
		}
	}
	return pairs
}

func TestEvaluate_OrderInvariant(t *testing.T) {
	s := newState(t, 25, 3)
	s.Mu = []float64{0.3, 1.1, 2.4}
	pi, err := s.EstimatePi()
	require.NoError(t, err)

	pairs := labeledPairs(25)
	base, err := s.Evaluate(pi, pairs, 0.1)
	require.NoError(t, err)

	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 10; i++ {
		shuffled := append([]sample.Pair(nil), pairs...)
		r.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got, err := s.Evaluate(pi, shuffled, 0.1)
		require.NoError(t, err)
		assert.Equal(t, base, got)
	}

	assert.InDelta(t, 0.9*base.MeanZero+0.1*base.MeanOne, base.Value, 1e-12)
	assert.Equal(t, len(pairs), base.Zeros+base.Ones)
}

func TestEvaluate_EmptyBucket(t *testing.T) {
	s := newState(t, 3, 2)
	pi, err := s.EstimatePi()
	require.NoError(t, err)

	onlyOnes := []sample.Pair{{Edge: network.NewEdge(0, 1), Label: 1}}
	_, err = s.Evaluate(pi, onlyOnes, 0.5)
	assert.ErrorIs(t, err, ErrEmptyBucket)

	_, err = s.Evaluate(pi, nil, 0.5)
	assert.ErrorIs(t, err, ErrEmptyBucket)
}

func TestSnapshot_IsDetached(t *testing.T) {
	s := newState(t, 3, 2)
	snap, err := s.Snapshot()
	require.NoError(t, err)

	snap.Gamma[0][0] = -1
	snap.Mu[0] = 99
	assert.NotEqual(t, -1.0, s.Gamma[0][0])
	assert.NotEqual(t, 99.0, s.Mu[0])
}

func TestSnapshot_PiMatchesGamma(t *testing.T) {
	s := newState(t, 4, 3)
	snap, err := s.Snapshot()
	require.NoError(t, err)

	want := make([][]float64, 4)
	for n, row := range s.Gamma {
		sum := row[0] + row[1] + row[2]
		want[n] = []float64{row[0] / sum, row[1] / sum, row[2] / sum}
	}
	if diff := cmp.Diff(want, snap.Pi, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("pi mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s.Lambda, snap.Lambda); diff != "" {
		t.Errorf("lambda mismatch (-want +got):\n%s", diff)
	}
}

func TestBias(t *testing.T) {
	s := newState(t, 3, 2)
	before := [][]float64{append([]float64(nil), s.Gamma[0]...), append([]float64(nil), s.Gamma[1]...)}

	s.Bias([]int{1, -1, 0}, 2)
	assert.Equal(t, before[0][0], s.Gamma[0][0])
	assert.InDelta(t, before[0][1]+2, s.Gamma[0][1], 1e-12)
	assert.Equal(t, before[1], s.Gamma[1])
	assert.InDelta(t, mathext.Digamma(s.Gamma[0][1])-mathext.Digamma(floats.Sum(s.Gamma[0])), s.Elogpi[0][1], 1e-12)
}
