package svi

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/allenv5/sviamp/pkg/export"
	"github.com/allenv5/sviamp/pkg/model"
	"github.com/allenv5/sviamp/pkg/network"
	"github.com/allenv5/sviamp/pkg/sample"
	"github.com/allenv5/sviamp/pkg/snapshot"
)

// Progress is the summary published to observers after every report.
type Progress struct {
	RunID      string
	Iteration  int
	Elapsed    time.Duration
	Heldout    float64
	MaxHeldout float64
	Validation float64
	Training   float64
	Stalls     int
	Verdict    string
	Edges      int
	Hits       *export.Hits
}

// Observer receives progress reports. Observe is called from the goroutine
// running the engine and must not block.
type Observer interface {
	Observe(Progress)
}

// sinks are the append-only likelihood logs kept open for the whole run.
type sinks struct {
	heldout    *os.File
	validation *os.File
	training   *os.File
	precision  *os.File // precision set likelihood rows
	hits       *os.File // hits@10/50/100 rows
}

func openSinks(dir string, validation, training bool) (*sinks, error) {
	s := &sinks{}
	open := func(name string) (*os.File, error) {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to open output %s: %w", name, err)
		}
		return f, nil
	}

	var err error
	if s.heldout, err = open("heldout.txt"); err != nil {
		return nil, err
	}
	if validation {
		if s.validation, err = open("validation.txt"); err != nil {
			return nil, err
		}
	}
	if training {
		if s.training, err = open("training.txt"); err != nil {
			return nil, err
		}
	}
	if s.precision, err = open("precision-likelihood.txt"); err != nil {
		return nil, err
	}
	if s.hits, err = open("precision.txt"); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes every open sink. It is safe to call more than once.
func (s *sinks) Close() error {
	var first error
	for _, f := range []**os.File{&s.heldout, &s.validation, &s.training, &s.precision, &s.hits} {
		if *f == nil {
			continue
		}
		if err := (*f).Close(); err != nil && first == nil {
			first = err
		}
		*f = nil
	}
	return first
}

// writeScore appends one likelihood row:
// iter, seconds, mean, n, meanZero, zeros, meanOne, ones, weighted zero, weighted one, score.
func writeScore(w io.Writer, iter int, elapsed time.Duration, sc model.Score, onesPrior float64) error {
	_, err := fmt.Fprintf(w, "%d\t%d\t%.9f\t%d\t%.9f\t%d\t%.9f\t%d\t%.9f\t%.9f\t%.9f\n",
		iter, int(elapsed.Seconds()), sc.Mean, sc.Zeros+sc.Ones,
		sc.MeanZero, sc.Zeros, sc.MeanOne, sc.Ones,
		(1-onesPrior)*sc.MeanZero, onesPrior*sc.MeanOne, sc.Value)
	return err
}

// score evaluates set and appends the row to w.
func (e *Engine) score(w io.Writer, set *sample.Set, pi [][]float64) (model.Score, error) {
	sc, err := e.state.Evaluate(pi, set.Pairs(), e.onesPrior)
	if err != nil {
		return sc, fmt.Errorf("%s likelihood: %w", set.Name, err)
	}
	if err := writeScore(w, e.iter, e.Elapsed(), sc, e.onesPrior); err != nil {
		return sc, fmt.Errorf("failed to write %s likelihood: %w", set.Name, err)
	}
	return sc, nil
}

// report runs the periodic evaluations due at the current iteration.
func (e *Engine) report() (Verdict, error) {
	pi, err := e.state.EstimatePi()
	if err != nil {
		return Continue, err
	}

	held, err := e.score(e.out.heldout, e.sets.Heldout, pi)
	if err != nil {
		return Continue, err
	}
	verdict := e.detector.Observe(e.iter, held.Value)
	if err := e.writeMax(held.Value, verdict); err != nil {
		return verdict, err
	}

	p := Progress{
		RunID:      e.manifest.RunID,
		Iteration:  e.iter,
		Elapsed:    e.Elapsed(),
		Heldout:    held.Value,
		MaxHeldout: e.detector.Max(),
		Stalls:     e.detector.Stalls(),
		Verdict:    verdict.String(),
		Edges:      e.last.Edges,
	}
	if e.out.validation != nil && e.sets.Validation.Len() > 0 {
		sc, err := e.score(e.out.validation, e.sets.Validation, pi)
		if err != nil {
			return verdict, err
		}
		p.Validation = sc.Value
	}
	if e.out.training != nil && e.sets.Training.Len() > 0 {
		sc, err := e.score(e.out.training, e.sets.Training, pi)
		if err != nil {
			return verdict, err
		}
		p.Training = sc.Value
	}

	e.logger.Info().
		Int("iteration", e.iter).
		Float64("heldout", held.Value).
		Float64("max_heldout", e.detector.Max()).
		Int("stalls", e.detector.Stalls()).
		Float64("sigma_beta_grad", e.last.SigmaBeta).
		Float64("sigma_theta_grad", e.last.SigmaTheta).
		Msg("Heldout likelihood")

	if every := e.cfg.PrecisionEvery(); every > 0 && e.iter%every == 0 {
		hits, err := e.precisionAndHits(pi)
		if err != nil {
			return verdict, err
		}
		p.Hits = hits
	}
	if every := e.cfg.CheckpointEvery(); every > 0 && e.iter%every == 0 {
		if err := e.checkpoint(pi, false); err != nil {
			return verdict, err
		}
	}

	for _, obs := range e.observers {
		obs.Observe(p)
	}
	return verdict, nil
}

// writeMax overwrites max.txt with the latest convergence status.
func (e *Engine) writeMax(score float64, verdict Verdict) error {
	line := fmt.Sprintf("%d\t%d\t%.5f\t%.5f\t%d\n",
		e.iter, int(e.Elapsed().Seconds()), score, e.detector.Max(), verdict.Code())
	return os.WriteFile(filepath.Join(e.dir, "max.txt"), []byte(line), 0o644)
}

// precisionAndHits scores the precision set and appends ranking hits.
func (e *Engine) precisionAndHits(pi [][]float64) (*export.Hits, error) {
	if err := e.precision(pi); err != nil {
		return nil, err
	}
	if e.sets.Precision.Len() == 0 {
		return nil, nil
	}
	r := &export.Ranker{G: e.g, State: e.state, Pi: pi, Sets: e.sets, TopN: e.cfg.TopN()}
	hits, err := r.Rank(nil)
	if err != nil {
		return nil, err
	}
	if _, err := fmt.Fprintf(e.out.hits, "%.5f\t%.5f\t%.5f\n", hits.At10, hits.At50, hits.At100); err != nil {
		return nil, fmt.Errorf("failed to write hits: %w", err)
	}
	e.logger.Info().
		Int("iteration", e.iter).
		Int("queries", hits.Queries).
		Float64("hits10", hits.At10).
		Float64("hits50", hits.At50).
		Float64("hits100", hits.At100).
		Msg("Precision ranking")
	return &hits, nil
}

// precision scores the precision set and rewrites the degree statistics.
func (e *Engine) precision(pi [][]float64) error {
	set := e.sets.Precision
	if set.Len() == 0 {
		return nil
	}
	if _, err := e.score(e.out.precision, set, pi); err != nil {
		return err
	}

	stats := NewDegreeStats()
	for _, pr := range set.Pairs() {
		p, q := pr.Edge.P, pr.Edge.Q
		ll := math.Log(e.state.PairLikelihood(pi[p], pi[q], p, q, pr.Label))
		stats.Add(e.g.Degree(p), e.g.Degree(q), ll)
	}
	if err := snapshot.WriteFile(filepath.Join(e.dir, "degstats.txt"), stats.WriteBuckets); err != nil {
		return err
	}
	return snapshot.WriteFile(filepath.Join(e.dir, "degpairstats.txt"), stats.WritePairs)
}

type meanAcc struct {
	sum float64
	n   int
}

// DegreeStats aggregates pair log-likelihoods by endpoint degree.
type DegreeStats struct {
	buckets map[int]*meanAcc          // degree/10
	pairs   map[network.Edge]*meanAcc // canonical (deg p, deg q)
}

func NewDegreeStats() *DegreeStats {
	return &DegreeStats{buckets: make(map[int]*meanAcc), pairs: make(map[network.Edge]*meanAcc)}
}

// Add records ll for a pair whose endpoints have degrees dp and dq.
func (d *DegreeStats) Add(dp, dq int, ll float64) {
	for _, deg := range []int{dp, dq} {
		b := d.buckets[deg/10]
		if b == nil {
			b = &meanAcc{}
			d.buckets[deg/10] = b
		}
		b.sum += ll
		b.n++
	}
	key := network.NewEdge(dp, dq)
	pa := d.pairs[key]
	if pa == nil {
		pa = &meanAcc{}
		d.pairs[key] = pa
	}
	pa.sum += ll
	pa.n++
}

// WriteBuckets writes "bucket*10 \t count \t mean" rows in bucket order.
func (d *DegreeStats) WriteBuckets(w io.Writer) error {
	keys := make([]int, 0, len(d.buckets))
	for k := range d.buckets {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		b := d.buckets[k]
		if b.n == 0 {
			continue
		}
		fmt.Fprintf(bw, "%d\t%d\t%f\n", k*10, b.n, b.sum/float64(b.n))
	}
	return bw.Flush()
}

// WritePairs writes "deg p \t deg q \t mean \t count" rows in degree order.
func (d *DegreeStats) WritePairs(w io.Writer) error {
	keys := make([]network.Edge, 0, len(d.pairs))
	for k := range d.pairs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].P != keys[j].P {
			return keys[i].P < keys[j].P
		}
		return keys[i].Q < keys[j].Q
	})

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		pa := d.pairs[k]
		if pa.n == 0 {
			continue
		}
		fmt.Fprintf(bw, "%d\t%d\t%f\t%d\n", k.P, k.Q, pa.sum/float64(pa.n), pa.n)
	}
	return bw.Flush()
}
