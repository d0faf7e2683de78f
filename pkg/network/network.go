package network

import (
	"fmt"
	"sort"
)

// Edge is an unordered node pair stored in canonical order (P < Q).
type Edge struct {
	P int `json:"p"`
	Q int `json:"q"`
}

// NewEdge returns the canonical edge for the pair (a, b).
func NewEdge(a, b int) Edge {
	if a > b {
		a, b = b, a
	}
	return Edge{P: a, Q: b}
}

// IsSelf reports whether both endpoints are the same node.
func (e Edge) IsSelf() bool { return e.P == e.Q }

func (e Edge) String() string { return fmt.Sprintf("%d-%d", e.P, e.Q) }

// Network is an unweighted undirected graph with dense integer node indices.
type Network struct {
	NumNodes  int     `json:"num_nodes"`
	Adjacency [][]int `json:"-"` // adjacency[i] = sorted neighbors of node i

	edges        []Edge
	links        map[Edge]struct{}
	toOriginal   []string
	toNormalized map[string]int
}

// NewNetwork creates an empty network with n nodes whose external IDs default
// to their decimal index.
func NewNetwork(numNodes int) *Network {
	g := &Network{
		NumNodes:     numNodes,
		Adjacency:    make([][]int, numNodes),
		links:        make(map[Edge]struct{}),
		toOriginal:   make([]string, numNodes),
		toNormalized: make(map[string]int, numNodes),
	}
	for i := 0; i < numNodes; i++ {
		id := fmt.Sprintf("%d", i)
		g.toOriginal[i] = id
		g.toNormalized[id] = i
	}
	return g
}

// AddEdge adds the undirected link u-v. Self-loops are rejected and duplicate
// links are ignored.
func (g *Network) AddEdge(u, v int) error {
	if u < 0 || u >= g.NumNodes || v < 0 || v >= g.NumNodes {
		return fmt.Errorf("node index out of range: u=%d, v=%d, numNodes=%d", u, v, g.NumNodes)
	}
	if u == v {
		return fmt.Errorf("self-loop on node %d", u)
	}

	e := NewEdge(u, v)
	if _, exists := g.links[e]; exists {
		return nil
	}
	g.links[e] = struct{}{}
	g.edges = append(g.edges, e)

	g.Adjacency[u] = insertSorted(g.Adjacency[u], v)
	g.Adjacency[v] = insertSorted(g.Adjacency[v], u)
	return nil
}

func insertSorted(list []int, v int) []int {
	i := sort.SearchInts(list, v)
	list = append(list, 0)
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}

// SetExternalID records the original identifier of node n.
func (g *Network) SetExternalID(n int, id string) {
	if old := g.toOriginal[n]; g.toNormalized[old] == n {
		delete(g.toNormalized, old)
	}
	g.toOriginal[n] = id
	g.toNormalized[id] = n
}

// ExternalID returns the original identifier of node n.
func (g *Network) ExternalID(n int) string { return g.toOriginal[n] }

// Lookup returns the node index for an original identifier.
func (g *Network) Lookup(id string) (int, bool) {
	n, ok := g.toNormalized[id]
	return n, ok
}

// Nodes returns the node count.
func (g *Network) Nodes() int { return g.NumNodes }

func (g *Network) Degree(n int) int { return len(g.Adjacency[n]) }

func (g *Network) Neighbors(n int) []int { return g.Adjacency[n] }

// Y returns the observed label of the pair: 1 for a link, 0 otherwise.
func (g *Network) Y(p, q int) int {
	if _, ok := g.links[NewEdge(p, q)]; ok {
		return 1
	}
	return 0
}

// Ones returns the number of observed links.
func (g *Network) Ones() int { return len(g.edges) }

// Edge returns the i-th observed link in insertion order.
func (g *Network) Edge(i int) Edge { return g.edges[i] }

// DegreeStats returns the maximum and mean node degree.
func (g *Network) DegreeStats() (maxDeg int, avg float64) {
	if g.NumNodes == 0 {
		return 0, 0
	}
	total := 0
	for i := 0; i < g.NumNodes; i++ {
		d := len(g.Adjacency[i])
		total += d
		if d > maxDeg {
			maxDeg = d
		}
	}
	return maxDeg, float64(total) / float64(g.NumNodes)
}

// Validate checks adjacency symmetry and link bookkeeping.
func (g *Network) Validate() error {
	if g.NumNodes <= 0 {
		return fmt.Errorf("network must have positive number of nodes")
	}

	for i := 0; i < g.NumNodes; i++ {
		for _, neighbor := range g.Adjacency[i] {
			if neighbor < 0 || neighbor >= g.NumNodes {
				return fmt.Errorf("invalid neighbor %d for node %d", neighbor, i)
			}
			if _, ok := g.links[NewEdge(i, neighbor)]; !ok {
				return fmt.Errorf("adjacency %d-%d missing from link set", i, neighbor)
			}
		}
	}
	return nil
}
