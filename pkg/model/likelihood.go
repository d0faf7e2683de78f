package model

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"github.com/allenv5/sviamp/pkg/rng"
	"github.com/allenv5/sviamp/pkg/sample"
)

// ErrEmptyBucket is returned when a scored set has no zero or no one pairs.
var ErrEmptyBucket = errors.New("likelihood bucket is empty")

const likelihoodFloor = 1e-30

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// PairLikelihood returns P(y | p, q) under the current parameters given the
// membership rows pp and pq. The result is floored at 1e-30.
func (s *State) PairLikelihood(pp, pq []float64, p, q, y int) float64 {
	base := s.Lambda[p] + s.Lambda[q]
	shared, like := 0.0, 0.0
	for k := 0; k < s.K; k++ {
		w := pp[k] * pq[k]
		shared += w
		like += w * rng.BernoulliPDF(y, sigmoid(base+s.LinkRate(k)))
	}
	like += (1 - shared) * rng.BernoulliPDF(y, sigmoid(base+s.Hyper.Epsilon))
	if like < likelihoodFloor {
		return likelihoodFloor
	}
	return like
}

// LinkProb returns the predicted probability that p and q are linked.
func (s *State) LinkProb(pp, pq []float64, p, q int) float64 {
	return s.PairLikelihood(pp, pq, p, q, 1)
}

// Score summarizes the predictive likelihood of a labeled set.
type Score struct {
	Zeros, Ones       int
	MeanZero, MeanOne float64
	Mean              float64 // mean over all pairs
	Value             float64 // class-prior weighted score
}

// Evaluate scores pairs against pi. Per-class sums are taken over sorted
// values so the result does not depend on iteration order.
func (s *State) Evaluate(pi [][]float64, pairs []sample.Pair, onesPrior float64) (Score, error) {
	var zeros, ones []float64
	for _, pr := range pairs {
		p, q := pr.Edge.P, pr.Edge.Q
		ll := math.Log(s.PairLikelihood(pi[p], pi[q], p, q, pr.Label))
		if pr.Label == 1 {
			ones = append(ones, ll)
		} else {
			zeros = append(zeros, ll)
		}
	}
	if len(zeros) == 0 || len(ones) == 0 {
		return Score{}, fmt.Errorf("zeros=%d ones=%d: %w", len(zeros), len(ones), ErrEmptyBucket)
	}

	sort.Float64s(zeros)
	sort.Float64s(ones)
	sz, so := floats.Sum(zeros), floats.Sum(ones)

	sc := Score{
		Zeros:    len(zeros),
		Ones:     len(ones),
		MeanZero: sz / float64(len(zeros)),
		MeanOne:  so / float64(len(ones)),
		Mean:     (sz + so) / float64(len(zeros)+len(ones)),
	}
	sc.Value = (1-onesPrior)*sc.MeanZero + onesPrior*sc.MeanOne
	return sc, nil
}
