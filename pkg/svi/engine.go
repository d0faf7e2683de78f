// Package svi fits the assortative mixed-membership link model by stochastic
// variational inference over minibatches of anchor nodes.
package svi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/allenv5/sviamp/pkg/louvain"
	"github.com/allenv5/sviamp/pkg/model"
	"github.com/allenv5/sviamp/pkg/network"
	"github.com/allenv5/sviamp/pkg/rng"
	"github.com/allenv5/sviamp/pkg/sample"
	"github.com/allenv5/sviamp/pkg/snapshot"
)

// Network is the observed graph consumed by inference.
type Network interface {
	Nodes() int
	Degree(n int) int
	Neighbors(n int) []int
	Y(p, q int) int
	Ones() int
	Edge(i int) network.Edge
	ExternalID(n int) string
}

// ErrEmptyHeldout is returned when the held-out set cannot score convergence.
var ErrEmptyHeldout = errors.New("held-out set is empty")

const gammaFloor = 1e-10

// Option customizes an Engine.
type Option func(*Engine)

// WithExporters adds exporters invoked at every checkpoint.
func WithExporters(ex ...Exporter) Option {
	return func(e *Engine) { e.exporters = append(e.exporters, ex...) }
}

// WithObservers adds progress observers notified at every report.
func WithObservers(obs ...Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, obs...) }
}

// WithHeldoutPairs uses pre-labeled pairs for the held-out and validation
// sets instead of drawing them.
func WithHeldoutPairs(heldout, validation []network.LabeledPair) Option {
	return func(e *Engine) {
		e.heldoutPairs = heldout
		e.validationPairs = validation
	}
}

// WithNetworkName records the input name in the run manifest.
func WithNetworkName(name string) Option {
	return func(e *Engine) { e.networkName = name }
}

// Engine owns the variational state and runs the update loop.
type Engine struct {
	g      Network
	cfg    *Config
	logger zerolog.Logger

	state    *model.State
	sets     *sample.Sets
	r        *rng.Source
	step     StepSize
	detector *Detector
	workers  []*worker

	perm        []int // shuffled node order for non-link scans
	nonlinkSize int
	onesPrior   float64
	heldoutDeg  []int

	iter     int
	start    time.Time
	dir      string
	manifest *Manifest
	out      *sinks
	last     *Accumulator

	exporters []Exporter
	observers []Observer

	heldoutPairs    []network.LabeledPair
	validationPairs []network.LabeledPair
	networkName     string
}

// NewEngine draws the sample sets, initializes the variational state and opens
// the output files. Any failure here is fatal for the run.
func NewEngine(g Network, cfg *Config, logger zerolog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	n, k := g.Nodes(), cfg.K()
	if n < 2 {
		return nil, fmt.Errorf("network needs at least 2 nodes, got %d", n)
	}

	e := &Engine{
		g:           g,
		cfg:         cfg,
		logger:      logger,
		r:           rng.New(uint64(cfg.RandomSeed())),
		detector:    NewDetector(cfg.Warmup(), cfg.Threshold(), cfg.MaxStalls()),
		nonlinkSize: cfg.NonlinkSampleSize(n),
		onesPrior:   float64(g.Ones()) / (float64(n) * float64(n-1) / 2),
		dir:         cfg.OutputDir(),
	}
	e.exporters = append(e.exporters, &ResultsExporter{
		TopN:          cfg.TopN(),
		LinkThresh:    cfg.LinkThresh(),
		LinkMinDegree: cfg.LinkMinDegree(),
	})
	for _, opt := range opts {
		opt(e)
	}

	if err := e.buildSets(); err != nil {
		return nil, fmt.Errorf("failed to build sample sets: %w", err)
	}
	if e.sets.Heldout.Zeros() == 0 || e.sets.Heldout.Ones() == 0 {
		return nil, ErrEmptyHeldout
	}
	e.countHeldoutDegrees()

	if err := e.initState(n, k); err != nil {
		return nil, err
	}

	e.perm = make([]int, n)
	for i := range e.perm {
		e.perm[i] = i
	}
	e.r.Shuffle(e.perm)

	step, err := NewStepSize(cfg, n, k)
	if err != nil {
		return nil, err
	}
	e.step = step

	workers := cfg.NumWorkers()
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		e.workers = append(e.workers, newWorker(k))
	}

	if err := e.openOutputs(); err != nil {
		return nil, err
	}

	logger.Info().
		Int("nodes", n).
		Int("links", g.Ones()).
		Int("communities", k).
		Int("heldout", e.sets.Heldout.Len()).
		Int("validation", e.sets.Validation.Len()).
		Int("training", e.sets.Training.Len()).
		Int("precision", e.sets.Precision.Len()).
		Str("step", cfg.StepStrategy()).
		Str("run_id", e.manifest.RunID).
		Msg("Inference initialized")
	return e, nil
}

func (e *Engine) buildSets() error {
	sets, err := sample.Build(e.g, e.r, sample.Options{
		HeldoutRatio:    e.cfg.HeldoutRatio(),
		Validation:      e.cfg.Validation(),
		Training:        e.cfg.Training(),
		TrainingRatio:   e.cfg.TrainingRatio(),
		PrecisionRatio:  e.cfg.PrecisionRatio(),
		HeldoutPairs:    e.heldoutPairs,
		ValidationPairs: e.validationPairs,
	})
	if err != nil {
		return err
	}
	e.sets = sets
	return nil
}

func (e *Engine) countHeldoutDegrees() {
	e.heldoutDeg = make([]int, e.g.Nodes())
	for _, p := range e.sets.Heldout.Pairs() {
		if p.Label == 1 {
			e.heldoutDeg[p.Edge.P]++
			e.heldoutDeg[p.Edge.Q]++
		}
	}
}

func (e *Engine) initState(n, k int) error {
	h := model.DefaultHyper(k, e.cfg.Alpha())
	h.SigmaBeta = e.cfg.SigmaBeta()
	h.SigmaTheta = e.cfg.SigmaTheta()
	h.Epsilon = e.cfg.Epsilon()
	h.GlobalMu = e.cfg.GlobalMu()
	h.NoLambda = e.cfg.NoLambda()
	e.state = model.New(n, k, h)

	path := e.cfg.RestartGamma()
	if path == "" {
		e.state.Init(e.r, e.g.Degree)
		if e.cfg.InitStrategy() == InitLouvain {
			return e.louvainStart(k)
		}
		return nil
	}

	gamma, err := snapshot.LoadGamma(path, e.g, k)
	if err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	e.state.Gamma = gamma
	if _, err := e.state.EstimatePi(); err != nil {
		return fmt.Errorf("failed to restore state: %w", err)
	}
	e.state.InitLambda(e.g.Degree)
	if muPath := e.cfg.RestartMu(); muPath != "" {
		mu, globalMu, err := snapshot.LoadMu(muPath, k)
		if err != nil {
			return fmt.Errorf("failed to restore state: %w", err)
		}
		e.state.Mu, e.state.GlobalMu = mu, globalMu
	}
	e.state.RefreshAllElogpi()
	e.logger.Info().Str("gamma", path).Msg("Restored variational state")
	return nil
}

// louvainStart biases gamma toward a modularity partition of the training
// links.
func (e *Engine) louvainStart(k int) error {
	res, err := louvain.Run(context.Background(), trainingGraph{e.g, e.sets}, louvain.DefaultConfig(), e.logger)
	if err != nil {
		return fmt.Errorf("louvain initialization: %w", err)
	}
	e.state.Bias(res.Fold(k), e.cfg.LouvainWeight())
	e.logger.Info().
		Int("communities", res.NumCommunities).
		Float64("modularity", res.Modularity).
		Msg("Seeded memberships from Louvain partition")
	return nil
}

// trainingGraph hides held-out, validation and precision links.
type trainingGraph struct {
	Network
	sets *sample.Sets
}

func (t trainingGraph) Neighbors(n int) []int {
	var out []int
	for _, m := range t.Network.Neighbors(n) {
		if !t.sets.Excluded(network.NewEdge(n, m)) {
			out = append(out, m)
		}
	}
	return out
}

func (e *Engine) openOutputs() error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	out, err := openSinks(e.dir, e.cfg.Validation() || len(e.validationPairs) > 0, e.cfg.Training())
	if err != nil {
		return err
	}
	e.out = out

	for _, set := range e.sets.All() {
		if set.Len() == 0 {
			continue
		}
		path := filepath.Join(e.dir, set.Name+"-pairs.txt")
		if err := snapshot.WriteFile(path, func(w io.Writer) error { return set.WriteTSV(w, e.g.ExternalID) }); err != nil {
			e.out.Close()
			return err
		}
	}

	e.manifest = NewManifest(e.networkName, e.cfg)
	e.manifest.Nodes, e.manifest.Links = e.g.Nodes(), e.g.Ones()
	for _, set := range e.sets.All() {
		e.manifest.Samples[set.Name] = SampleCount{Zeros: set.Zeros(), Ones: set.Ones()}
	}
	if err := e.manifest.Write(e.dir); err != nil {
		e.out.Close()
		return err
	}
	return nil
}

// Run iterates until the context is cancelled, the held-out score converges
// or the iteration cap is reached. Every stop path writes a final checkpoint.
func (e *Engine) Run(ctx context.Context) error {
	defer e.out.Close()
	e.start = time.Now()
	maxIter := e.cfg.MaxIterations()

	for {
		if err := e.Iterate(ctx); err != nil {
			return err
		}

		if e.iter%e.cfg.ReportEvery() == 0 {
			verdict, err := e.report()
			if err != nil {
				return err
			}
			if verdict != Continue && e.cfg.StopOnConverge() {
				return e.finish(verdict.String())
			}
			if ctx.Err() != nil {
				return e.finish("cancelled")
			}
		}
		if maxIter > 0 && e.iter >= maxIter {
			return e.finish("max_iterations")
		}
	}
}

// Iterate performs one minibatch update.
func (e *Engine) Iterate(ctx context.Context) error {
	anchors := e.drawAnchors()
	work := e.schedule(anchors)
	acc, err := e.accumulate(ctx, work)
	if err != nil {
		return err
	}
	e.apply(acc, anchors)
	e.last = acc
	e.iter++
	return nil
}

// drawAnchors returns min(minibatch, N) distinct nodes in ascending order.
func (e *Engine) drawAnchors() []int {
	n := e.g.Nodes()
	m := e.cfg.Minibatch()
	if m > n {
		m = n
	}
	seen := make(map[int]struct{}, m)
	anchors := make([]int, 0, m)
	for len(anchors) < m {
		a := e.r.UniformInt(n)
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		anchors = append(anchors, a)
	}
	sort.Ints(anchors)
	return anchors
}

// schedule lists the training links and subsampled non-links of every anchor.
func (e *Engine) schedule(anchors []int) []edgeWork {
	var work []edgeWork
	n := e.g.Nodes()
	for _, a := range anchors {
		for _, b := range e.g.Neighbors(a) {
			edge := network.NewEdge(a, b)
			if e.sets.Excluded(edge) {
				continue
			}
			work = append(work, edgeWork{p: edge.P, q: edge.Q, y: 1, scale: 1})
		}

		nonlinks := e.nonlinks(a)
		if len(nonlinks) == 0 {
			continue
		}
		scale := float64(n-1-e.g.Degree(a)) / float64(len(nonlinks))
		for _, edge := range nonlinks {
			work = append(work, edgeWork{p: edge.P, q: edge.Q, y: 0, scale: scale})
		}
	}
	return work
}

// nonlinks scans the shuffled node order circularly from a block-aligned
// random start and collects up to nonlinkSize usable non-links of a. The scan
// stops after one full cycle.
func (e *Engine) nonlinks(a int) []network.Edge {
	n, s := e.g.Nodes(), e.nonlinkSize
	q := int(float64(e.r.UniformInt(n))/float64(s)) * s

	var out []network.Edge
	for scanned := 0; scanned < n && len(out) < s; scanned++ {
		node := e.perm[q]
		q = (q + 1) % n
		if node == a || e.g.Y(a, node) != 0 {
			continue
		}
		edge := network.NewEdge(a, node)
		if e.sets.Excluded(edge) {
			continue
		}
		out = append(out, edge)
	}
	return out
}

// accumulate runs the local step over work and folds the results in work
// order. With more than one worker the work is split into contiguous chunks.
func (e *Engine) accumulate(ctx context.Context, work []edgeWork) (*Accumulator, error) {
	cs := contributions(len(work), e.state.K)

	if len(e.workers) == 1 || len(work) < len(e.workers) {
		wk := e.workers[0]
		for i := range work {
			wk.contribute(e.state, work[i], &cs[i])
		}
	} else {
		g, _ := errgroup.WithContext(ctx)
		chunk := (len(work) + len(e.workers) - 1) / len(e.workers)
		for w, wk := range e.workers {
			lo := w * chunk
			hi := min(lo+chunk, len(work))
			if lo >= hi {
				break
			}
			g.Go(func() error {
				for i := lo; i < hi; i++ {
					wk.contribute(e.state, work[i], &cs[i])
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	acc := NewAccumulator(e.state.K)
	for i := range work {
		acc.add(work[i], &cs[i])
	}
	return acc, nil
}

// apply adds priors to the accumulated gradients and takes one step. Gamma and
// lambda move for anchors only; mu and globalMu move once per iteration.
func (e *Engine) apply(acc *Accumulator, anchors []int) {
	s := e.state
	h := s.Hyper
	e.step.Advance(e.iter)

	sigma0Sq := h.Sigma0 * h.Sigma0
	globalGrad := 0.0
	for k := range acc.Mu {
		globalGrad += acc.Mu[k]
		acc.Mu[k] += (h.Mu0 - s.Mu[k]) / sigma0Sq
	}
	globalGrad += (h.Mu0 - s.GlobalMu) / sigma0Sq

	sigma1Sq := h.Sigma1 * h.Sigma1
	for _, n := range anchors {
		grad := acc.gammaRow(n)
		for k := range grad {
			g := grad[k] + h.Alpha[k] - s.Gamma[n][k]
			s.Gamma[n][k] += e.step.Gamma(n, k, g)
			if s.Gamma[n][k] < gammaFloor {
				s.Gamma[n][k] = gammaFloor
			}
		}
		if !h.NoLambda {
			g := acc.Lambda[n] + (h.Mu1-s.Lambda[n])/sigma1Sq
			s.Lambda[n] += e.step.Lambda(n, g)
		}
		s.RefreshElogpi(n)
	}

	for k, g := range acc.Mu {
		s.Mu[k] += e.step.Mu(k, g)
	}
	s.GlobalMu += e.step.GlobalMu(globalGrad)
	s.ClampMu()
}

// finish writes the final evaluation and checkpoint.
func (e *Engine) finish(reason string) error {
	e.logger.Info().
		Int("iteration", e.iter).
		Str("reason", reason).
		Float64("max_heldout", e.detector.Max()).
		Dur("elapsed", e.Elapsed()).
		Msg("Stopping inference")

	pi, err := e.state.EstimatePi()
	if err != nil {
		return err
	}
	if err := e.precision(pi); err != nil {
		return err
	}
	return e.checkpoint(pi, true)
}

// checkpoint hands the current state to every exporter.
func (e *Engine) checkpoint(pi [][]float64, final bool) error {
	cp := &Checkpoint{
		Iteration:    e.iter,
		Final:        final,
		Dir:          e.dir,
		Network:      e.g,
		State:        e.state,
		Pi:           pi,
		Sets:         e.sets,
		HeldoutNodes: e.heldoutNodes(),
	}
	for _, ex := range e.exporters {
		if err := ex.Export(cp); err != nil {
			return fmt.Errorf("checkpoint at iteration %d: %w", e.iter, err)
		}
	}
	e.logger.Debug().Int("iteration", e.iter).Bool("final", final).Msg("Checkpoint written")
	return nil
}

// heldoutNodes lists nodes whose every link is held out.
func (e *Engine) heldoutNodes() []snapshot.HeldoutNode {
	var out []snapshot.HeldoutNode
	for n, hd := range e.heldoutDeg {
		if hd >= e.g.Degree(n) {
			out = append(out, snapshot.HeldoutNode{Node: n, HeldoutDegree: hd})
		}
	}
	return out
}

// Snapshot returns a detached copy of the variational parameters.
func (e *Engine) Snapshot() (model.Snapshot, error) { return e.state.Snapshot() }

// PairLikelihood returns P(y | p, q) under the current parameters.
func (e *Engine) PairLikelihood(p, q, y int) (float64, error) {
	pp, err := e.state.Pi(p, nil)
	if err != nil {
		return 0, err
	}
	pq, err := e.state.Pi(q, nil)
	if err != nil {
		return 0, err
	}
	return e.state.PairLikelihood(pp, pq, p, q, y), nil
}

func (e *Engine) Iteration() int { return e.iter }

// Elapsed returns the time since Run started.
func (e *Engine) Elapsed() time.Duration {
	if e.start.IsZero() {
		return 0
	}
	return time.Since(e.start)
}

// Close releases the output files. Run closes them itself.
func (e *Engine) Close() error { return e.out.Close() }

func (e *Engine) Sets() *sample.Sets { return e.sets }
func (e *Engine) RunID() string      { return e.manifest.RunID }
