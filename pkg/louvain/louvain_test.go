package louvain

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenv5/sviamp/pkg/network"
)

func cliques(t *testing.T, sizes ...int) *network.Network {
	t.Helper()
	total := 0
	for _, s := range sizes {
		total += s
	}
	g := network.NewNetwork(total)
	start := 0
	for _, s := range sizes {
		for i := start; i < start+s; i++ {
			for j := i + 1; j < start+s; j++ {
				require.NoError(t, g.AddEdge(i, j))
			}
		}
		start += s
	}
	return g
}

func TestRun_DisjointCliques(t *testing.T) {
	res, err := Run(context.Background(), cliques(t, 10, 10), DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 2, res.NumCommunities)
	assert.InDelta(t, 0.5, res.Modularity, 1e-12)
	for i := 0; i < 20; i++ {
		assert.Equal(t, i/10, res.Communities[i], "node %d", i)
	}
}

func TestRun_BridgedCliques(t *testing.T) {
	g := cliques(t, 5, 5, 5)
	require.NoError(t, g.AddEdge(4, 5))
	require.NoError(t, g.AddEdge(9, 10))

	res, err := Run(context.Background(), g, DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 3, res.NumCommunities)
	for c := 0; c < 3; c++ {
		for i := c * 5; i < c*5+5; i++ {
			assert.Equal(t, res.Communities[c*5], res.Communities[i], "node %d", i)
		}
	}
	assert.Greater(t, res.Modularity, 0.5)
	require.NotEmpty(t, res.Levels)
	assert.Equal(t, 15, res.Levels[0].Nodes)
}

func TestRun_NoEdges(t *testing.T) {
	res, err := Run(context.Background(), network.NewNetwork(3), DefaultConfig(), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, res.Communities)
	assert.Zero(t, res.Modularity)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, cliques(t, 4, 4), DefaultConfig(), zerolog.Nop())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResult_Fold(t *testing.T) {
	r := &Result{Communities: []int{0, 1, 1, 2, 2, 2, 3}, NumCommunities: 4}

	// sizes 1,2,3,1 rank as 2,1,0,3
	assert.Equal(t, []int{0, 1, 1, 0, 0, 0, 1}, r.Fold(2))
	assert.Equal(t, []int{2, 1, 1, 0, 0, 0, 0}, r.Fold(3))
}
