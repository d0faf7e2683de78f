package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allenv5/sviamp/pkg/model"
	"github.com/allenv5/sviamp/pkg/network"
	"github.com/allenv5/sviamp/pkg/rng"
)

func testGraph(t *testing.T) *network.Network {
	t.Helper()
	g := network.NewNetwork(4)
	require.NoError(t, g.AddEdge(0, 1))
	require.NoError(t, g.AddEdge(1, 2))
	for i, id := range []string{"a", "b", "c", "d"} {
		g.SetExternalID(i, id)
	}
	return g
}

func TestGamma_RoundTrip(t *testing.T) {
	g := testGraph(t)
	s := model.New(4, 3, model.DefaultHyper(3, 0.3))
	s.Init(rng.New(8), g.Degree)

	var buf bytes.Buffer
	require.NoError(t, WriteGamma(&buf, g, s.Gamma))
	assert.True(t, strings.HasPrefix(buf.String(), "0\ta\t"))

	got, err := ReadGamma(&buf, g, 3)
	require.NoError(t, err)
	assert.Equal(t, s.Gamma, got)
}

func TestReadGamma_Malformed(t *testing.T) {
	g := network.NewNetwork(2)
	g.SetExternalID(0, "a")
	g.SetExternalID(1, "b")

	tests := map[string]string{
		"short row":    "0\ta\t1\t2\n1\tb\t1\t2\t3\n",
		"out of range": "0\ta\t1\t2\t3\n5\tb\t1\t2\t3\n",
		"duplicate":    "0\ta\t1\t2\t3\n0\ta\t1\t2\t3\n",
		"missing row":  "0\ta\t1\t2\t3\n",
		"bad value":    "0\ta\t1\tx\t3\n1\tb\t1\t2\t3\n",
		"negative":     "0\ta\t2\t-1\t3\n1\tb\t1\t2\t3\n",
		"zero":         "0\ta\t1\t2\t3\n1\tb\t0\t2\t3\n",
		"infinite":     "0\ta\t1\t+Inf\t3\n1\tb\t1\t2\t3\n",
		"not a number": "0\ta\tNaN\t2\t3\n1\tb\t1\t2\t3\n",
		"foreign id":   "0\tb\t1\t2\t3\n1\ta\t1\t2\t3\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadGamma(strings.NewReader(content), g, 3)
			assert.ErrorIs(t, err, ErrMalformed)
		})
	}

	gamma, err := ReadGamma(strings.NewReader("1\tb\t4\t5\t6\n0\ta\t1\t2\t3\n"), g, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2, 3}, {4, 5, 6}}, gamma)
}

func TestMu_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteMu(&buf, []float64{0.5, 1.25}, 0.75))
	assert.True(t, strings.HasPrefix(buf.String(), "65536\t0.75\n"))

	mu, global, err := ReadMu(&buf, 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 1.25}, mu)
	assert.Equal(t, 0.75, global)

	_, _, err = ReadMu(strings.NewReader("65536\t1\n0\t1\n"), 2)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestSave_WritesAllFiles(t *testing.T) {
	g := testGraph(t)
	s := model.New(4, 2, model.DefaultHyper(2, 0.5))
	s.Init(rng.New(2), g.Degree)
	snap, err := s.Snapshot()
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, Save(dir, g, snap, []HeldoutNode{{Node: 3, HeldoutDegree: 0}}))

	for _, name := range []string{"gamma.txt", "mu.txt", "lambda.txt", "heldout-nodes.txt"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	lambda, err := os.ReadFile(filepath.Join(dir, "lambda.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(lambda), "0\ta\t1\t"))

	nodes, err := os.ReadFile(filepath.Join(dir, "heldout-nodes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "3\td\t0\n", string(nodes))

	gamma, err := LoadGamma(filepath.Join(dir, "gamma.txt"), g, 2)
	require.NoError(t, err)
	assert.Equal(t, snap.Gamma, gamma)
}

func TestLoadGamma_MissingFile(t *testing.T) {
	_, err := LoadGamma(filepath.Join(t.TempDir(), "gamma.txt"), network.NewNetwork(1), 1)
	assert.Error(t, err)
}
