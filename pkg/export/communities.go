package export

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/encoding/dot"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/allenv5/sviamp/pkg/model"
)

// LinkAssignment is the most probable shared community of one observed link.
type LinkAssignment struct {
	P, Q      int
	Community int
	Weight    float64 // normalized probability of Community
}

// AssignLinks gives every observed link (p < q) the community k maximizing
// sigmoid(m_k + lambda_p + lambda_q) * pi_pk * pi_qk.
func AssignLinks(g Graph, s *model.State, pi [][]float64) []LinkAssignment {
	var out []LinkAssignment
	for p := 0; p < g.Nodes(); p++ {
		for _, q := range g.Neighbors(p) {
			if q <= p {
				continue
			}
			best, top, sum := -1, 0.0, 0.0
			for k := 0; k < s.K; k++ {
				l := sigmoid(s.LinkRate(k)+s.Lambda[p]+s.Lambda[q]) * pi[p][k] * pi[q][k]
				sum += l
				if l > top {
					best, top = k, l
				}
			}
			if best < 0 {
				continue
			}
			out = append(out, LinkAssignment{P: p, Q: q, Community: best, Weight: top / sum})
		}
	}
	return out
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

// Communities turns link assignments into overlapping node communities. A
// node joins community k once more than minDegree of its links have been
// assigned to k with weight above thresh.
func Communities(numNodes int, links []LinkAssignment, thresh float64, minDegree int) map[int][]int {
	counts := make([]map[int]int, numNodes)
	members := make(map[int]map[int]struct{})
	join := func(n, k int) {
		if counts[n][k] <= minDegree {
			return
		}
		if members[k] == nil {
			members[k] = make(map[int]struct{})
		}
		members[k][n] = struct{}{}
	}

	for _, la := range links {
		for _, n := range []int{la.P, la.Q} {
			if counts[n] == nil {
				counts[n] = make(map[int]int)
			}
			counts[n][la.Community]++
		}
		if la.Weight > thresh {
			join(la.P, la.Community)
			join(la.Q, la.Community)
		}
	}

	out := make(map[int][]int, len(members))
	for k, set := range members {
		nodes := make([]int, 0, len(set))
		for n := range set {
			nodes = append(nodes, n)
		}
		sort.Ints(nodes)
		out[k] = nodes
	}
	return out
}

// WriteCommunities writes one line of space-separated external IDs per
// community, in community order.
func WriteCommunities(w io.Writer, g Graph, comms map[int][]int) error {
	keys := make([]int, 0, len(comms))
	for k := range comms {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		ids := make([]string, len(comms[k]))
		for i, n := range comms[k] {
			ids[i] = g.ExternalID(n)
		}
		fmt.Fprintln(bw, strings.Join(ids, " "))
	}
	return bw.Flush()
}

// communityNode is a network node annotated for graph export.
type communityNode struct {
	id         int64
	externalID string
	popularity float64
	group      int
}

func (n communityNode) ID() int64 { return n.id }

func (n communityNode) Attributes() []encoding.Attribute {
	return []encoding.Attribute{
		{Key: "extid", Value: n.externalID},
		{Key: "popularity", Value: fmt.Sprintf("%.5f", n.popularity)},
		{Key: "group", Value: fmt.Sprintf("%d", n.group)},
	}
}

// communityEdge is an observed link colored by its assigned community.
type communityEdge struct {
	f, t      graph.Node
	community int
}

func (e communityEdge) From() graph.Node         { return e.f }
func (e communityEdge) To() graph.Node           { return e.t }
func (e communityEdge) ReversedEdge() graph.Edge { return communityEdge{f: e.t, t: e.f, community: e.community} }

func (e communityEdge) Attributes() []encoding.Attribute {
	return []encoding.Attribute{{Key: "color", Value: fmt.Sprintf("%d", e.community)}}
}

// CommunityGraph builds an undirected gonum graph of the network whose nodes
// carry popularity and group and whose edges carry their assigned community.
func CommunityGraph(g Graph, s *model.State, pi [][]float64, links []LinkAssignment) *simple.UndirectedGraph {
	cg := simple.NewUndirectedGraph()
	nodes := make([]communityNode, g.Nodes())
	for n := range nodes {
		nodes[n] = communityNode{
			id:         int64(n),
			externalID: g.ExternalID(n),
			popularity: math.Exp(s.Lambda[n]),
			group:      MostLikelyGroup(pi[n]),
		}
		cg.AddNode(nodes[n])
	}
	for _, la := range links {
		cg.SetEdge(communityEdge{f: nodes[la.P], t: nodes[la.Q], community: la.Community})
	}
	return cg
}

// WriteDOT encodes the community graph in Graphviz DOT format.
func WriteDOT(w io.Writer, cg *simple.UndirectedGraph) error {
	b, err := dot.Marshal(cg, "network", "", "\t")
	if err != nil {
		return fmt.Errorf("failed to encode community graph: %w", err)
	}
	_, err = w.Write(b)
	return err
}
