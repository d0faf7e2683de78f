// Package export writes the human-readable results of an inference run:
// per-node groups, link communities and link-prediction rankings.
package export

import (
	"bufio"
	"fmt"
	"io"

	"gonum.org/v1/gonum/floats"
)

// Graph is the read-only network view used by the exporters.
type Graph interface {
	Nodes() int
	ExternalID(n int) string
	Degree(n int) int
	Neighbors(n int) []int
	Y(p, q int) int
}

// MostLikelyGroup returns the community with the largest membership weight.
func MostLikelyGroup(pi []float64) int {
	if len(pi) == 0 {
		return -1
	}
	return floats.MaxIdx(pi)
}

// WriteGroups writes "seq \t externalID \t pi_1 ... pi_K \t group" rows.
func WriteGroups(w io.Writer, g Graph, pi [][]float64) error {
	bw := bufio.NewWriter(w)
	for n, row := range pi {
		fmt.Fprintf(bw, "%d\t%s\t", n, g.ExternalID(n))
		for _, v := range row {
			fmt.Fprintf(bw, "%.3f\t", v)
		}
		fmt.Fprintf(bw, "%d\n", MostLikelyGroup(row))
	}
	return bw.Flush()
}
