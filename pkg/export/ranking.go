package export

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/allenv5/sviamp/pkg/model"
	"github.com/allenv5/sviamp/pkg/network"
	"github.com/allenv5/sviamp/pkg/sample"
)

// Hits is the mean fraction of true precision links found in each query
// node's top 10, 50 and 100 predictions.
type Hits struct {
	At10, At50, At100 float64
	Queries           int
}

// hitsDepth is the deepest cut-off of Hits.
const hitsDepth = 100

type candidate struct {
	node  int
	score float64
}

// Ranker scores candidate links for every node that appears in the
// precision set. TopN bounds the rows written per query; hits are always
// counted over the first 100 candidates.
type Ranker struct {
	G     Graph
	State *model.State
	Pi    [][]float64
	Sets  *sample.Sets
	TopN  int
}

// QueryNodes returns the nodes of the precision set in ascending order.
func (r *Ranker) QueryNodes() []int {
	seen := make(map[int]struct{})
	for _, p := range r.Sets.Precision.Pairs() {
		seen[p.Edge.P] = struct{}{}
		seen[p.Edge.Q] = struct{}{}
	}
	nodes := make([]int, 0, len(seen))
	for n := range seen {
		nodes = append(nodes, n)
	}
	sort.Ints(nodes)
	return nodes
}

// candidates scores every m that is either a precision pair with n or a
// non-link outside the held-out set.
func (r *Ranker) candidates(n int) []candidate {
	var out []candidate
	for m := 0; m < r.G.Nodes(); m++ {
		if m == n {
			continue
		}
		e := network.NewEdge(n, m)
		if !r.Sets.Precision.Contains(e) && r.G.Y(n, m) != 0 {
			continue
		}
		if r.Sets.Heldout.Contains(e) {
			continue
		}
		out = append(out, candidate{node: m, score: r.State.LinkProb(r.Pi[n], r.Pi[m], n, m)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].score > out[j].score })
	return out
}

// Rank computes hits@10/50/100. When w is non-nil each query's top
// predictions are written as "n \t m \t pred \t actual \t likelihood".
func (r *Ranker) Rank(w io.Writer) (Hits, error) {
	var bw *bufio.Writer
	if w != nil {
		bw = bufio.NewWriter(w)
	}

	var h Hits
	for _, n := range r.QueryNodes() {
		var h10, h50, h100 int
		cands := r.candidates(n)
		for j := 0; j < len(cands) && (j < hitsDepth || j < r.TopN); j++ {
			m := cands[j].node
			actual, inPrecision := r.Sets.Precision.Label(network.NewEdge(n, m))
			if inPrecision && actual == 1 {
				if j < 10 {
					h10++
				}
				if j < 50 {
					h50++
				}
				if j < 100 {
					h100++
				}
			}
			if bw != nil && j < r.TopN {
				fmt.Fprintf(bw, "%s\t%s\t%.5f\t%d\t%.5f\n",
					r.G.ExternalID(n), r.G.ExternalID(m), cands[j].score, actual,
					r.State.PairLikelihood(r.Pi[n], r.Pi[m], n, m, actual))
			}
		}
		h.At10 += float64(h10) / 10
		h.At50 += float64(h50) / 50
		h.At100 += float64(h100) / 100
		h.Queries++
	}
	if h.Queries > 0 {
		q := float64(h.Queries)
		h.At10, h.At50, h.At100 = h.At10/q, h.At50/q, h.At100/q
	}
	if bw != nil {
		if err := bw.Flush(); err != nil {
			return h, err
		}
	}
	return h, nil
}
