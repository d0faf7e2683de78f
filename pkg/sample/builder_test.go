package sample

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenv5/sviamp/pkg/network"
	"github.com/allenv5/sviamp/pkg/rng"
)

func twoCliques(t *testing.T) *network.Network {
	t.Helper()
	g := network.NewNetwork(20)
	for c := 0; c < 2; c++ {
		for i := c * 10; i < c*10+10; i++ {
			for j := i + 1; j < c*10+10; j++ {
				require.NoError(t, g.AddEdge(i, j))
			}
		}
	}
	return g
}

func TestBuild_BalancedDisjoint(t *testing.T) {
	g := twoCliques(t)
	opts := Options{
		HeldoutRatio:   0.2,
		Validation:     true,
		Training:       true,
		TrainingRatio:  0.1,
		PrecisionRatio: 0.2,
	}

	sets, err := Build(g, rng.New(1), opts)
	require.NoError(t, err)

	// 90 links: 0.2*90 = 18, 0.1*90 = 9 -> 8
	assert.Equal(t, 18, sets.Heldout.Len())
	assert.Equal(t, 18, sets.Validation.Len())
	assert.Equal(t, 8, sets.Training.Len())
	assert.Equal(t, 18, sets.Precision.Len())

	seen := make(map[network.Edge]string)
	for _, s := range sets.All() {
		assert.Equal(t, s.Ones(), s.Zeros(), s.Name)
		for _, p := range s.Pairs() {
			assert.False(t, p.Edge.IsSelf())
			assert.Equal(t, g.Y(p.Edge.P, p.Edge.Q), p.Label)
			prev, dup := seen[p.Edge]
			assert.False(t, dup, "%s in both %s and %s", p.Edge, prev, s.Name)
			seen[p.Edge] = s.Name
		}
	}
}

func TestBuild_Reproducible(t *testing.T) {
	g := twoCliques(t)
	opts := Options{HeldoutRatio: 0.1, PrecisionRatio: 0.1}

	a, err := Build(g, rng.New(5), opts)
	require.NoError(t, err)
	b, err := Build(g, rng.New(5), opts)
	require.NoError(t, err)

	assert.Equal(t, a.Heldout.Pairs(), b.Heldout.Pairs())
	assert.Equal(t, a.Precision.Pairs(), b.Precision.Pairs())
	assert.Zero(t, a.Validation.Len())
}

func TestBuild_LoadsGivenPairs(t *testing.T) {
	g := twoCliques(t)
	heldout := []network.LabeledPair{
		{Edge: network.NewEdge(0, 1), Label: 1},
		{Edge: network.NewEdge(0, 10), Label: 0},
	}
	validation := []network.LabeledPair{{Edge: network.NewEdge(2, 3), Label: 1}}

	sets, err := Build(g, rng.New(3), Options{
		HeldoutRatio:    0.2,
		PrecisionRatio:  0.1,
		HeldoutPairs:    heldout,
		ValidationPairs: validation,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sets.Heldout.Len())
	assert.Equal(t, 1, sets.Validation.Len())
	assert.Equal(t, 8, sets.Precision.Len())
	for _, p := range sets.Precision.Pairs() {
		assert.False(t, sets.Heldout.Contains(p.Edge))
		assert.False(t, sets.Validation.Contains(p.Edge))
	}

	_, err = Build(g, rng.New(3), Options{
		HeldoutPairs:    heldout,
		ValidationPairs: []network.LabeledPair{{Edge: network.NewEdge(1, 0), Label: 1}},
	})
	assert.Error(t, err)
}

func TestBuild_NoLinks(t *testing.T) {
	g := network.NewNetwork(5)
	sets := NewSets()
	err := NewBuilder(g, rng.New(1), sets).Fill(sets.Heldout, 4)
	assert.ErrorIs(t, err, ErrNoLinks)
}

func TestSets_Exclusion(t *testing.T) {
	sets := NewSets()
	sets.Heldout.Add(network.NewEdge(0, 1), 1)
	sets.Training.Add(network.NewEdge(2, 3), 0)

	assert.True(t, sets.Excluded(network.NewEdge(1, 0)))
	assert.False(t, sets.Excluded(network.NewEdge(2, 3)))
	assert.True(t, sets.Taken(network.NewEdge(2, 3)))
	assert.False(t, sets.Heldout.Add(network.NewEdge(0, 1), 1))
}

func TestLoad_RejectsOverlap(t *testing.T) {
	sets := NewSets()
	sets.Heldout.Add(network.NewEdge(0, 1), 1)

	err := Load(sets, sets.Validation, []network.LabeledPair{{Edge: network.NewEdge(0, 1), Label: 1}})
	assert.Error(t, err)

	err = Load(sets, sets.Validation, []network.LabeledPair{{Edge: network.NewEdge(1, 2), Label: 0}})
	require.NoError(t, err)
	assert.Equal(t, 1, sets.Validation.Zeros())
}

func TestSet_WriteTSV(t *testing.T) {
	s := NewSet("heldout")
	s.Add(network.NewEdge(2, 0), 1)
	s.Add(network.NewEdge(1, 2), 0)

	ids := []string{"a", "b", "c"}
	var buf bytes.Buffer
	require.NoError(t, s.WriteTSV(&buf, func(n int) string { return ids[n] }))
	assert.Equal(t, "a\tc\t1\nb\tc\t0\n", buf.String())
}
