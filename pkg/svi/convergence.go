package svi

import "math"

// Verdict is the outcome of one convergence check.
type Verdict int

const (
	Continue Verdict = iota
	Plateau
	Declining
)

func (v Verdict) String() string {
	switch v {
	case Plateau:
		return "plateau"
	case Declining:
		return "declining"
	default:
		return "continue"
	}
}

// Code is the reason code written to max.txt.
func (v Verdict) Code() int {
	switch v {
	case Plateau:
		return 100
	case Declining:
		return 1
	default:
		return -1
	}
}

const initialScore = -2147483647

// Detector watches successive held-out scores for a plateau or a sustained
// decline.
type Detector struct {
	Warmup    int
	Threshold float64
	MaxStalls int

	prev   float64
	max    float64
	stalls int
}

// NewDetector creates a detector with the given warm-up, relative-change
// threshold and tolerated number of consecutive decreases.
func NewDetector(warmup int, threshold float64, maxStalls int) *Detector {
	return &Detector{
		Warmup:    warmup,
		Threshold: threshold,
		MaxStalls: maxStalls,
		prev:      initialScore,
		max:       initialScore,
	}
}

// Observe records the score a at iteration iter.
func (d *Detector) Observe(iter int, a float64) Verdict {
	defer func() { d.prev = a }()
	if iter <= d.Warmup {
		return Continue
	}

	verdict := Continue
	switch {
	case d.prev != 0 && math.Abs((a-d.prev)/d.prev) < d.Threshold:
		verdict = Plateau
	case a < d.prev:
		d.stalls++
	case a > d.prev:
		d.stalls = 0
	}
	if a > d.max {
		d.max = a
	}
	if verdict == Continue && d.stalls > d.MaxStalls {
		verdict = Declining
	}
	return verdict
}

func (d *Detector) Max() float64 { return d.max }
func (d *Detector) Stalls() int  { return d.stalls }
