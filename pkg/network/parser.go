package network

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// LabeledPair is a node pair read from a sample file.
type LabeledPair struct {
	Edge  Edge
	Label int
}

// ParseEdgeList reads a whitespace-separated edge list ("from to [ignored...]")
// and returns a network with dense node indices. Blank lines, '#' comments and
// self-loops are skipped. Numeric IDs are indexed in numeric order, anything
// else lexically.
func ParseEdgeList(filename string) (*Network, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var pairs [][2]string
	nodeSet := make(map[string]bool)
	scanner := bufio.NewScanner(file)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		from, to := parts[0], parts[1]
		if from == to {
			continue
		}

		nodeSet[from] = true
		nodeSet[to] = true
		pairs = append(pairs, [2]string{from, to})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	nodes := sortedIDs(nodeSet)
	g := NewNetwork(len(nodes))
	for i, id := range nodes {
		g.SetExternalID(i, id)
	}

	for _, pair := range pairs {
		u := g.toNormalized[pair[0]]
		v := g.toNormalized[pair[1]]
		if err := g.AddEdge(u, v); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func sortedIDs(nodeSet map[string]bool) []string {
	nodes := make([]string, 0, len(nodeSet))
	for node := range nodeSet {
		nodes = append(nodes, node)
	}

	if allIntegers(nodes) {
		sort.Slice(nodes, func(i, j int) bool {
			a, _ := strconv.ParseInt(nodes[i], 10, 64)
			b, _ := strconv.ParseInt(nodes[j], 10, 64)
			return a < b
		})
	} else {
		sort.Strings(nodes)
	}
	return nodes
}

func allIntegers(nodes []string) bool {
	for _, node := range nodes {
		if _, err := strconv.ParseInt(node, 10, 64); err != nil {
			return false
		}
	}
	return true
}

// ReadLabeledPairs reads "from to [label]" lines using external IDs. A
// missing label defaults to the observed label in g. Pairs naming unknown
// nodes or self-pairs are errors.
func ReadLabeledPairs(filename string, g *Network) ([]LabeledPair, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pairs file: %w", err)
	}
	defer file.Close()

	var result []LabeledPair
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			return nil, fmt.Errorf("%s:%d: expected at least 2 columns", filename, lineNo)
		}

		p, ok := g.Lookup(parts[0])
		if !ok {
			return nil, fmt.Errorf("%s:%d: unknown node %q", filename, lineNo, parts[0])
		}
		q, ok := g.Lookup(parts[1])
		if !ok {
			return nil, fmt.Errorf("%s:%d: unknown node %q", filename, lineNo, parts[1])
		}
		if p == q {
			return nil, fmt.Errorf("%s:%d: self-pair %q", filename, lineNo, parts[0])
		}

		label := g.Y(p, q)
		if len(parts) >= 3 {
			y, err := strconv.Atoi(parts[2])
			if err != nil || (y != 0 && y != 1) {
				return nil, fmt.Errorf("%s:%d: invalid label %q", filename, lineNo, parts[2])
			}
			label = y
		}

		result = append(result, LabeledPair{Edge: NewEdge(p, q), Label: label})
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading pairs file: %w", err)
	}
	return result, nil
}
