// Package snapshot persists and restores the variational state as
// tab-separated text files keyed by node sequence number and external ID.
package snapshot

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/allenv5/sviamp/pkg/model"
)

// ErrMalformed is returned for persisted state that cannot be restored.
var ErrMalformed = errors.New("malformed snapshot")

// globalMuRow is the sequence number of the globalMu row in mu.txt.
const globalMuRow = 65536

// Graph is the node metadata written alongside parameters.
type Graph interface {
	Nodes() int
	ExternalID(n int) string
	Degree(n int) int
}

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

// WriteGamma writes "seq \t externalID \t gamma_1 ... gamma_K" rows.
func WriteGamma(w io.Writer, g Graph, gamma [][]float64) error {
	bw := bufio.NewWriter(w)
	for n, row := range gamma {
		fields := make([]string, 0, len(row)+2)
		fields = append(fields, strconv.Itoa(n), g.ExternalID(n))
		for _, v := range row {
			fields = append(fields, formatFloat(v))
		}
		if _, err := bw.WriteString(strings.Join(fields, "\t") + "\n"); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// ReadGamma parses gamma rows for the nodes of g and k communities. Every node
// must appear exactly once under its own external ID, and every entry must be
// positive and finite.
func ReadGamma(r io.Reader, g Graph, k int) ([][]float64, error) {
	n := g.Nodes()
	gamma := make([][]float64, n)
	rows := 0
	err := scanRows(r, func(line int, fields []string) error {
		if len(fields) != k+2 {
			return fmt.Errorf("line %d: expected %d columns, got %d: %w", line, k+2, len(fields), ErrMalformed)
		}
		seq, err := parseSeq(fields[0], n, line)
		if err != nil {
			return err
		}
		if gamma[seq] != nil {
			return fmt.Errorf("line %d: duplicate node %d: %w", line, seq, ErrMalformed)
		}
		if id := g.ExternalID(seq); fields[1] != id {
			return fmt.Errorf("line %d: node %d is %q in the network, not %q: %w", line, seq, id, fields[1], ErrMalformed)
		}
		row := make([]float64, k)
		for i := range row {
			if row[i], err = parseFloat(fields[i+2], line); err != nil {
				return err
			}
			if !(row[i] > 0) || math.IsInf(row[i], 0) {
				return fmt.Errorf("line %d: gamma %v must be positive and finite: %w", line, row[i], ErrMalformed)
			}
		}
		gamma[seq] = row
		rows++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if rows != n {
		return nil, fmt.Errorf("expected %d gamma rows, got %d: %w", n, rows, ErrMalformed)
	}
	return gamma, nil
}

// WriteMu writes the globalMu row followed by one row per community.
func WriteMu(w io.Writer, mu []float64, globalMu float64) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\t%s\n", globalMuRow, formatFloat(globalMu))
	for k, v := range mu {
		fmt.Fprintf(bw, "%d\t%s\n", k, formatFloat(v))
	}
	return bw.Flush()
}

// ReadMu parses a mu.txt written by WriteMu.
func ReadMu(r io.Reader, k int) ([]float64, float64, error) {
	mu := make([]float64, k)
	seen := make([]bool, k)
	globalMu := 0.0
	err := scanRows(r, func(line int, fields []string) error {
		if len(fields) != 2 {
			return fmt.Errorf("line %d: expected 2 columns, got %d: %w", line, len(fields), ErrMalformed)
		}
		v, err := parseFloat(fields[1], line)
		if err != nil {
			return err
		}
		if fields[0] == strconv.Itoa(globalMuRow) {
			globalMu = v
			return nil
		}
		idx, err := parseSeq(fields[0], k, line)
		if err != nil {
			return err
		}
		mu[idx], seen[idx] = v, true
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	for idx, ok := range seen {
		if !ok {
			return nil, 0, fmt.Errorf("community %d missing: %w", idx, ErrMalformed)
		}
	}
	return mu, globalMu, nil
}

// WriteLambda writes "seq \t externalID \t degree \t lambda" rows.
func WriteLambda(w io.Writer, g Graph, lambda []float64) error {
	bw := bufio.NewWriter(w)
	for n, v := range lambda {
		fmt.Fprintf(bw, "%d\t%s\t%d\t%s\n", n, g.ExternalID(n), g.Degree(n), formatFloat(v))
	}
	return bw.Flush()
}

// HeldoutNode is a node whose every link landed in the held-out set.
type HeldoutNode struct {
	Node          int
	HeldoutDegree int
}

// WriteHeldoutNodes writes "seq \t externalID \t heldoutDegree" rows.
func WriteHeldoutNodes(w io.Writer, g Graph, nodes []HeldoutNode) error {
	bw := bufio.NewWriter(w)
	for _, hn := range nodes {
		fmt.Fprintf(bw, "%d\t%s\t%d\n", hn.Node, g.ExternalID(hn.Node), hn.HeldoutDegree)
	}
	return bw.Flush()
}

// Save writes gamma.txt, mu.txt, lambda.txt and heldout-nodes.txt into dir.
func Save(dir string, g Graph, snap model.Snapshot, heldout []HeldoutNode) error {
	writers := []struct {
		name  string
		write func(io.Writer) error
	}{
		{"gamma.txt", func(w io.Writer) error { return WriteGamma(w, g, snap.Gamma) }},
		{"mu.txt", func(w io.Writer) error { return WriteMu(w, snap.Mu, snap.GlobalMu) }},
		{"lambda.txt", func(w io.Writer) error { return WriteLambda(w, g, snap.Lambda) }},
		{"heldout-nodes.txt", func(w io.Writer) error { return WriteHeldoutNodes(w, g, heldout) }},
	}
	for _, wr := range writers {
		if err := WriteFile(filepath.Join(dir, wr.name), wr.write); err != nil {
			return err
		}
	}
	return nil
}

// WriteFile creates path and fills it with write.
func WriteFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// LoadGamma reads a gamma file written for g from disk.
func LoadGamma(path string, g Graph, k int) ([][]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gamma file: %w", err)
	}
	defer f.Close()
	return ReadGamma(f, g, k)
}

// LoadMu reads a mu file from disk.
func LoadMu(path string, k int) ([]float64, float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open mu file: %w", err)
	}
	defer f.Close()
	return ReadMu(f, k)
}

func scanRows(r io.Reader, fn func(line int, fields []string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := fn(line, strings.Fields(text)); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func parseSeq(s string, limit, line int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid index %q: %w", line, s, ErrMalformed)
	}
	if v < 0 || v >= limit {
		return 0, fmt.Errorf("line %d: index %d out of range [0,%d): %w", line, v, limit, ErrMalformed)
	}
	return v, nil
}

func parseFloat(s string, line int) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("line %d: invalid value %q: %w", line, s, ErrMalformed)
	}
	return v, nil
}
