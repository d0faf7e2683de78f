// Package louvain finds a non-overlapping modularity partition of a network.
// The partition seeds the initial community memberships of inference.
package louvain

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Graph is the unweighted network to partition.
type Graph interface {
	Nodes() int
	Neighbors(n int) []int
}

// Config contains configuration for the Louvain algorithm
type Config struct {
	MaxLevels int     // aggregation levels
	MaxPasses int     // local-moving passes per level
	MinGain   float64 // stop a level once a pass improves modularity by less
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		MaxLevels: 10,
		MaxPasses: 20,
		MinGain:   1e-7,
	}
}

// LevelInfo contains information about one level in the hierarchy
type LevelInfo struct {
	Level          int
	Nodes          int
	Moves          int
	Passes         int
	Modularity     float64
	NumCommunities int
}

// Result is the final partition.
type Result struct {
	Communities    []int // community of each original node, dense from 0
	NumCommunities int
	Modularity     float64
	Levels         []LevelInfo
}

// level is the weighted graph of one aggregation level. Self-loop weight
// adj[i][i] counts once toward degree[i].
type level struct {
	adj    []map[int]float64
	degree []float64
	total  float64 // 2m
}

func fromGraph(g Graph) *level {
	n := g.Nodes()
	l := &level{adj: make([]map[int]float64, n), degree: make([]float64, n)}
	for i := 0; i < n; i++ {
		l.adj[i] = make(map[int]float64)
		for _, j := range g.Neighbors(i) {
			if j == i {
				continue
			}
			l.adj[i][j] = 1
			l.degree[i]++
		}
		l.total += l.degree[i]
	}
	return l
}

// state maintains the current state of community assignments
type state struct {
	l   *level
	n2c []int
	in  []float64 // internal weight of each community
	tot []float64 // total degree of each community
}

func newState(l *level) *state {
	n := len(l.adj)
	s := &state{l: l, n2c: make([]int, n), in: make([]float64, n), tot: make([]float64, n)}
	for i := 0; i < n; i++ {
		s.n2c[i] = i
		s.in[i] = l.adj[i][i]
		s.tot[i] = l.degree[i]
	}
	return s
}

func (s *state) modularity() float64 {
	m2 := s.l.total
	q := 0.0
	for c := range s.tot {
		if s.tot[c] > 0 {
			q += s.in[c]/m2 - (s.tot[c]/m2)*(s.tot[c]/m2)
		}
	}
	return q
}

// neighborWeights returns the link weight from node to each adjacent
// community, excluding its self-loop, and the communities in ascending order.
func (s *state) neighborWeights(node int) (map[int]float64, []int) {
	w := map[int]float64{s.n2c[node]: 0}
	for j, wt := range s.l.adj[node] {
		if j != node {
			w[s.n2c[j]] += wt
		}
	}
	comms := make([]int, 0, len(w))
	for c := range w {
		comms = append(comms, c)
	}
	sort.Ints(comms)
	return w, comms
}

// pass moves every node, in index order, to the neighboring community with
// the largest modularity gain and returns the number of moves.
func (s *state) pass() int {
	moves := 0
	m2 := s.l.total
	for node := range s.n2c {
		k := s.l.degree[node]
		self := s.l.adj[node][node]
		weights, comms := s.neighborWeights(node)

		old := s.n2c[node]
		s.tot[old] -= k
		s.in[old] -= 2*weights[old] + self

		best, bestGain := old, weights[old]-s.tot[old]*k/m2
		for _, c := range comms {
			if gain := weights[c] - s.tot[c]*k/m2; gain > bestGain {
				best, bestGain = c, gain
			}
		}

		s.n2c[node] = best
		s.tot[best] += k
		s.in[best] += 2*weights[best] + self
		if best != old {
			moves++
		}
	}
	return moves
}

// renumber maps community IDs to a dense range in order of first appearance.
func (s *state) renumber() ([]int, int) {
	index := make(map[int]int)
	out := make([]int, len(s.n2c))
	for i, c := range s.n2c {
		id, ok := index[c]
		if !ok {
			id = len(index)
			index[c] = id
		}
		out[i] = id
	}
	return out, len(index)
}

// aggregate builds the graph whose nodes are the communities of comm.
func (l *level) aggregate(comm []int, n int) *level {
	next := &level{adj: make([]map[int]float64, n), degree: make([]float64, n), total: l.total}
	for c := range next.adj {
		next.adj[c] = make(map[int]float64)
	}
	for i, nbrs := range l.adj {
		ci := comm[i]
		next.degree[ci] += l.degree[i]
		for j, w := range nbrs {
			next.adj[ci][comm[j]] += w
		}
	}
	return next
}

// Run executes the complete Louvain algorithm on g. Nodes are visited in index
// order so the result is deterministic.
func Run(ctx context.Context, g Graph, cfg Config, logger zerolog.Logger) (*Result, error) {
	n := g.Nodes()
	if n <= 0 {
		return nil, fmt.Errorf("graph must have positive number of nodes")
	}

	result := &Result{Communities: make([]int, n)}
	for i := range result.Communities {
		result.Communities[i] = i
	}
	result.NumCommunities = n

	l := fromGraph(g)
	if l.total == 0 {
		return result, nil
	}

	for lvl := 0; lvl < cfg.MaxLevels; lvl++ {
		s := newState(l)
		q := s.modularity()
		info := LevelInfo{Level: lvl, Nodes: len(l.adj)}

		for info.Passes < cfg.MaxPasses {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			moves := s.pass()
			info.Passes++
			info.Moves += moves
			nq := s.modularity()
			gain := nq - q
			q = nq
			if moves == 0 || gain < cfg.MinGain {
				break
			}
		}

		comm, count := s.renumber()
		for i, c := range result.Communities {
			result.Communities[i] = comm[c]
		}
		info.Modularity = q
		info.NumCommunities = count
		result.Levels = append(result.Levels, info)
		result.NumCommunities = count
		result.Modularity = q

		logger.Debug().
			Int("level", lvl).
			Int("nodes", info.Nodes).
			Int("moves", info.Moves).
			Int("communities", count).
			Float64("modularity", q).
			Msg("Louvain level complete")

		if info.Moves == 0 || count == len(l.adj) {
			break
		}
		l = l.aggregate(comm, count)
	}
	return result, nil
}

// Fold maps the partition onto k groups: communities are ranked by size,
// largest first with ties broken by ID, and rank r goes to group r mod k.
func (r *Result) Fold(k int) []int {
	sizes := make([]int, r.NumCommunities)
	for _, c := range r.Communities {
		sizes[c]++
	}
	order := make([]int, r.NumCommunities)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return sizes[order[a]] > sizes[order[b]] })

	group := make([]int, r.NumCommunities)
	for rank, c := range order {
		group[c] = rank % k
	}
	out := make([]int, len(r.Communities))
	for i, c := range r.Communities {
		out[i] = group[c]
	}
	return out
}
