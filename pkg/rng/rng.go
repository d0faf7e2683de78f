// Package rng provides the single seeded random source shared by sample
// construction and the inference loop. Every draw advances the same PCG
// stream, so call order is part of the reproducibility contract.
package rng

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

// Source wraps one PCG stream.
type Source struct {
	src rand.Source
	rnd *rand.Rand
}

// New creates a source seeded with seed.
func New(seed uint64) *Source {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Source{src: src, rnd: rand.New(src)}
}

// UniformInt returns a uniform integer in [0, n).
func (s *Source) UniformInt(n int) int { return s.rnd.IntN(n) }

// Gaussian returns a draw from N(0, sigma²).
func (s *Source) Gaussian(sigma float64) float64 {
	return distuv.Normal{Mu: 0, Sigma: sigma, Src: s.src}.Rand()
}

// Gamma returns a draw from Gamma(shape, scale).
func (s *Source) Gamma(shape, scale float64) float64 {
	return distuv.Gamma{Alpha: shape, Beta: 1 / scale, Src: s.src}.Rand()
}

// Dirichlet fills dst with a draw from Dir(alpha) and returns it.
func (s *Source) Dirichlet(alpha, dst []float64) []float64 {
	return distmv.NewDirichlet(alpha, s.src).Rand(dst)
}

// Shuffle permutes perm in place.
func (s *Source) Shuffle(perm []int) {
	s.rnd.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
}

// BernoulliPDF returns P(Y = y) for Y ~ Bernoulli(p).
func BernoulliPDF(y int, p float64) float64 {
	return distuv.Bernoulli{P: p}.Prob(float64(y))
}
