package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenv5/sviamp/pkg/model"
	"github.com/allenv5/sviamp/pkg/network"
	"github.com/allenv5/sviamp/pkg/sample"
)

// twoTriangles builds nodes 0-2 and 3-5 as triangles joined by link 2-3, with
// memberships concentrated on community 0 and 1 respectively.
func twoTriangles(t *testing.T) (*network.Network, *model.State, [][]float64) {
	t.Helper()
	g := network.NewNetwork(6)
	for _, e := range [][2]int{{0, 1}, {0, 2}, {1, 2}, {3, 4}, {3, 5}, {4, 5}, {2, 3}} {
		require.NoError(t, g.AddEdge(e[0], e[1]))
	}
	for n := 0; n < 6; n++ {
		g.SetExternalID(n, string(rune('a'+n)))
	}

	s := model.New(6, 2, model.DefaultHyper(2, 0.5))
	for n := 0; n < 6; n++ {
		if n < 3 {
			s.Gamma[n] = []float64{9, 1}
		} else {
			s.Gamma[n] = []float64{1, 9}
		}
	}
	s.Mu = []float64{2, 2}
	pi, err := s.EstimatePi()
	require.NoError(t, err)
	return g, s, pi
}

func TestWriteGroups(t *testing.T) {
	g, _, pi := twoTriangles(t)

	var buf bytes.Buffer
	require.NoError(t, WriteGroups(&buf, g, pi))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "0\ta\t0.900\t0.100\t0", lines[0])
	assert.Equal(t, "5\tf\t0.100\t0.900\t1", lines[5])
}

func TestAssignLinksAndCommunities(t *testing.T) {
	g, s, pi := twoTriangles(t)

	links := AssignLinks(g, s, pi)
	require.Len(t, links, 7)
	for _, la := range links {
		assert.Less(t, la.P, la.Q)
		if la.Q <= 2 {
			assert.Equal(t, 0, la.Community)
			assert.Greater(t, la.Weight, 0.9)
		}
		if la.P >= 3 {
			assert.Equal(t, 1, la.Community)
		}
	}

	comms := Communities(g.Nodes(), links, 0.5, 1)
	assert.Equal(t, []int{0, 1, 2}, comms[0])
	assert.Equal(t, []int{3, 4, 5}, comms[1])

	var buf bytes.Buffer
	require.NoError(t, WriteCommunities(&buf, g, comms))
	assert.Equal(t, "a b c\nd e f\n", buf.String())
}

func TestCommunityGraph_DOT(t *testing.T) {
	g, s, pi := twoTriangles(t)
	links := AssignLinks(g, s, pi)

	cg := CommunityGraph(g, s, pi, links)
	assert.Equal(t, 6, cg.Nodes().Len())
	assert.Equal(t, 7, cg.Edges().Len())

	var buf bytes.Buffer
	require.NoError(t, WriteDOT(&buf, cg))
	out := buf.String()
	assert.Contains(t, out, "graph network {")
	assert.Contains(t, out, "color=1")
	assert.Contains(t, out, "group=0")
}

func TestRanker_Hits(t *testing.T) {
	g, s, pi := twoTriangles(t)

	sets := sample.NewSets()
	sets.Precision.Add(network.NewEdge(0, 1), 1)
	sets.Precision.Add(network.NewEdge(0, 4), 0)

	r := &Ranker{G: g, State: s, Pi: pi, Sets: sets, TopN: 100}
	assert.Equal(t, []int{0, 1, 4}, r.QueryNodes())

	var buf bytes.Buffer
	h, err := r.Rank(&buf)
	require.NoError(t, err)
	assert.Equal(t, 3, h.Queries)

	// Node 0 ranks 1 first among {1, 3, 4, 5}; node 1 ranks 0 first among
	// {0, 3, 4, 5}; node 4 has no true precision link.
	assert.InDelta(t, (0.1+0.1+0)/3, h.At10, 1e-12)
	assert.InDelta(t, (1.0/100+1.0/100)/3, h.At100, 1e-12)
	assert.True(t, strings.HasPrefix(buf.String(), "a\tb\t"))
}

func TestRanker_HitsIgnoreTopN(t *testing.T) {
	g, s, pi := twoTriangles(t)

	sets := sample.NewSets()
	// Nodes 3, 4 and 5 score alike for node 0, so its precision link to 5
	// ranks third, outside a top 1.
	sets.Precision.Add(network.NewEdge(0, 5), 1)

	full := &Ranker{G: g, State: s, Pi: pi, Sets: sets, TopN: 100}
	want, err := full.Rank(nil)
	require.NoError(t, err)
	require.Greater(t, want.At50, 0.0)

	short := &Ranker{G: g, State: s, Pi: pi, Sets: sets, TopN: 1}
	var buf bytes.Buffer
	got, err := short.Rank(&buf)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"), "one row per query node")
}
