// Package sample draws the held-out, validation, training and precision pair
// sets at startup. Sets are disjoint, contain no self-pairs, and each set built
// here holds equal numbers of links and non-links.
package sample

import (
	"errors"
	"fmt"

	"github.com/allenv5/sviamp/pkg/network"
	"github.com/allenv5/sviamp/pkg/rng"
)

// Graph is the view of the observed network the builder needs.
type Graph interface {
	Nodes() int
	Ones() int
	Edge(i int) network.Edge
	Y(p, q int) int
}

// Options controls which sets are drawn and how large they are. Non-empty
// HeldoutPairs or ValidationPairs are loaded in place of drawing that set.
type Options struct {
	HeldoutRatio   float64
	Validation     bool
	Training       bool
	TrainingRatio  float64
	PrecisionRatio float64

	HeldoutPairs    []network.LabeledPair
	ValidationPairs []network.LabeledPair
}

// ErrNoLinks is returned when a non-empty balanced set is requested from a
// network without links.
var ErrNoLinks = errors.New("network has no links to sample")

// Builder fills sample sets from one shared random source.
type Builder struct {
	g    Graph
	r    *rng.Source
	sets *Sets
}

// NewBuilder creates a builder writing into sets.
func NewBuilder(g Graph, r *rng.Source, sets *Sets) *Builder {
	return &Builder{g: g, r: r, sets: sets}
}

// Build draws every configured set in the order heldout, validation,
// training, precision.
func Build(g Graph, r *rng.Source, opts Options) (*Sets, error) {
	sets := NewSets()
	b := NewBuilder(g, r, sets)

	if len(opts.HeldoutPairs) > 0 {
		if err := Load(sets, sets.Heldout, opts.HeldoutPairs); err != nil {
			return nil, err
		}
	} else if err := b.Fill(sets.Heldout, b.size(opts.HeldoutRatio)); err != nil {
		return nil, err
	}

	if len(opts.ValidationPairs) > 0 {
		if err := Load(sets, sets.Validation, opts.ValidationPairs); err != nil {
			return nil, err
		}
	} else if opts.Validation {
		if err := b.Fill(sets.Validation, b.size(opts.HeldoutRatio)); err != nil {
			return nil, err
		}
	}
	if opts.Training {
		if err := b.Fill(sets.Training, b.size(opts.TrainingRatio)); err != nil {
			return nil, err
		}
	}
	if err := b.Fill(sets.Precision, b.size(opts.PrecisionRatio)); err != nil {
		return nil, err
	}
	return sets, nil
}

// SetSize returns ratio*links rounded down to an even count.
func SetSize(links int, ratio float64) int {
	s := int(ratio * float64(links))
	return s - s%2
}

func (b *Builder) size(ratio float64) int { return SetSize(b.g.Ones(), ratio) }

// Fill adds size/2 links and size/2 non-links to set. Candidates already in
// any set, or self-pairs, are redrawn.
func (b *Builder) Fill(set *Set, size int) error {
	half := size / 2
	if half == 0 {
		return nil
	}
	if b.g.Ones() == 0 {
		return fmt.Errorf("filling %s set: %w", set.Name, ErrNoLinks)
	}

	zeros, ones := 0, 0
	for zeros < half || ones < half {
		var e network.Edge
		if zeros == half {
			e = b.randomLink()
		} else {
			e = b.randomPair()
		}
		y := b.g.Y(e.P, e.Q)
		if y == 1 {
			if ones == half {
				continue
			}
			ones++
		} else {
			zeros++
		}
		set.Add(e, y)
	}
	return nil
}

// randomLink draws a uniform observed link not yet in any set.
func (b *Builder) randomLink() network.Edge {
	for {
		e := b.g.Edge(b.r.UniformInt(b.g.Ones()))
		if !b.sets.Taken(e) {
			return e
		}
	}
}

// randomPair draws a uniform unordered pair not yet in any set.
func (b *Builder) randomPair() network.Edge {
	n := b.g.Nodes()
	for {
		e := network.NewEdge(b.r.UniformInt(n), b.r.UniformInt(n))
		if !e.IsSelf() && !b.sets.Taken(e) {
			return e
		}
	}
}

// Load adds pairs read from a file to set, rejecting any pair that is already
// a member of another set.
func Load(sets *Sets, set *Set, pairs []network.LabeledPair) error {
	for _, p := range pairs {
		if sets.Taken(p.Edge) && !set.Contains(p.Edge) {
			return fmt.Errorf("pair %s in %s set overlaps another set", p.Edge, set.Name)
		}
		set.Add(p.Edge, p.Label)
	}
	return nil
}
