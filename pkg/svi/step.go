package svi

import (
	"fmt"
	"math"
)

// StepSize turns a natural gradient into a parameter increment. One
// implementation is chosen at startup and used for the whole run.
type StepSize interface {
	// Advance prepares the step sizes for iteration iter.
	Advance(iter int)
	Gamma(n, k int, g float64) float64
	Lambda(n int, g float64) float64
	Mu(k int, g float64) float64
	GlobalMu(g float64) float64
}

// NewStepSize builds the strategy named by step.strategy.
func NewStepSize(cfg *Config, n, k int) (StepSize, error) {
	switch cfg.StepStrategy() {
	case StrategyRobbinsMonro:
		return &RobbinsMonro{
			Tau0:    cfg.Tau0(),
			Kappa:   cfg.Kappa(),
			MuTau0:  cfg.MuTau0(),
			MuKappa: cfg.MuKappa(),
		}, nil
	case StrategyAdaGrad:
		return NewAdaGrad(cfg.AdaGradEta(), n, k), nil
	default:
		return nil, fmt.Errorf("unknown step strategy %q", cfg.StepStrategy())
	}
}

// RobbinsMonro anneals with rho = (tau0 + iter)^-kappa for gamma and lambda,
// and a separate slower schedule for mu.
type RobbinsMonro struct {
	Tau0, Kappa     float64
	MuTau0, MuKappa float64

	rho, muRho float64
}

func (s *RobbinsMonro) Advance(iter int) {
	s.rho = math.Pow(s.Tau0+float64(iter), -s.Kappa)
	s.muRho = math.Pow(s.MuTau0+float64(iter), -s.MuKappa)
}

func (s *RobbinsMonro) Gamma(_, _ int, g float64) float64 { return s.rho * g }
func (s *RobbinsMonro) Lambda(_ int, g float64) float64   { return s.rho * g }
func (s *RobbinsMonro) Mu(_ int, g float64) float64       { return s.muRho * g }
func (s *RobbinsMonro) GlobalMu(g float64) float64        { return s.muRho * g }

// AdaGrad scales every coordinate by eta over the root of its accumulated
// squared gradients.
type AdaGrad struct {
	Eta float64

	gamma    [][]float64
	lambda   []float64
	mu       []float64
	globalMu float64
}

// NewAdaGrad allocates per-coordinate history for n nodes and k communities.
func NewAdaGrad(eta float64, n, k int) *AdaGrad {
	a := &AdaGrad{
		Eta:    eta,
		gamma:  make([][]float64, n),
		lambda: make([]float64, n),
		mu:     make([]float64, k),
	}
	for i := range a.gamma {
		a.gamma[i] = make([]float64, k)
	}
	return a
}

func (a *AdaGrad) Advance(int) {}

func (a *AdaGrad) scaled(hist *float64, g float64) float64 {
	*hist += g * g
	if *hist == 0 {
		return 0
	}
	return a.Eta * g / math.Sqrt(*hist)
}

func (a *AdaGrad) Gamma(n, k int, g float64) float64 { return a.scaled(&a.gamma[n][k], g) }
func (a *AdaGrad) Lambda(n int, g float64) float64   { return a.scaled(&a.lambda[n], g) }
func (a *AdaGrad) Mu(k int, g float64) float64       { return a.scaled(&a.mu[k], g) }
func (a *AdaGrad) GlobalMu(g float64) float64        { return a.scaled(&a.globalMu, g) }
