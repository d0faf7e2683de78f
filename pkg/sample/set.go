package sample

import (
	"bufio"
	"fmt"
	"io"

	"github.com/allenv5/sviamp/pkg/network"
)

// Pair is one labeled member of a Set.
type Pair struct {
	Edge  network.Edge
	Label int
}

// Set is a named edge->label mapping. It is append-only while being built
// and iterates in insertion order.
type Set struct {
	Name   string
	labels map[network.Edge]int
	order  []network.Edge
	zeros  int
	ones   int
}

// NewSet creates an empty named set.
func NewSet(name string) *Set {
	return &Set{Name: name, labels: make(map[network.Edge]int)}
}

// Add inserts e with label y. It returns false if e is already present.
func (s *Set) Add(e network.Edge, y int) bool {
	if _, exists := s.labels[e]; exists {
		return false
	}
	s.labels[e] = y
	s.order = append(s.order, e)
	if y == 1 {
		s.ones++
	} else {
		s.zeros++
	}
	return true
}

// Contains reports whether e is a member.
func (s *Set) Contains(e network.Edge) bool {
	if s == nil {
		return false
	}
	_, ok := s.labels[e]
	return ok
}

// Label returns the label of e and whether e is a member.
func (s *Set) Label(e network.Edge) (int, bool) {
	y, ok := s.labels[e]
	return y, ok
}

func (s *Set) Len() int   { return len(s.order) }
func (s *Set) Zeros() int { return s.zeros }
func (s *Set) Ones() int  { return s.ones }

// Pairs returns the members in insertion order.
func (s *Set) Pairs() []Pair {
	pairs := make([]Pair, len(s.order))
	for i, e := range s.order {
		pairs[i] = Pair{Edge: e, Label: s.labels[e]}
	}
	return pairs
}

// WriteTSV writes "p \t q \t y" rows using the given external ID mapping.
func (s *Set) WriteTSV(w io.Writer, externalID func(int) string) error {
	bw := bufio.NewWriter(w)
	for _, e := range s.order {
		if _, err := fmt.Fprintf(bw, "%s\t%s\t%d\n", externalID(e.P), externalID(e.Q), s.labels[e]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Sets groups the four sample sets drawn at startup.
type Sets struct {
	Heldout    *Set
	Validation *Set
	Training   *Set
	Precision  *Set
}

// NewSets creates four empty sets.
func NewSets() *Sets {
	return &Sets{
		Heldout:    NewSet("heldout"),
		Validation: NewSet("validation"),
		Training:   NewSet("training"),
		Precision:  NewSet("precision"),
	}
}

// All returns the sets in build order.
func (s *Sets) All() []*Set {
	return []*Set{s.Heldout, s.Validation, s.Training, s.Precision}
}

// Excluded reports whether e must be left out of gradient computation.
// Training members stay in the training data.
func (s *Sets) Excluded(e network.Edge) bool {
	return s.Heldout.Contains(e) || s.Validation.Contains(e) || s.Precision.Contains(e)
}

// Taken reports whether e already belongs to any set.
func (s *Sets) Taken(e network.Edge) bool {
	return s.Excluded(e) || s.Training.Contains(e)
}
