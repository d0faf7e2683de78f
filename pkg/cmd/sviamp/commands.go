package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/allenv5/sviamp/pkg/monitor"
	"github.com/allenv5/sviamp/pkg/network"
	"github.com/allenv5/sviamp/pkg/svi"
)

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"communities":         "algorithm.k",
	"minibatch":           "algorithm.minibatch",
	"seed":                "algorithm.random_seed",
	"max-iterations":      "algorithm.max_iterations",
	"alpha":               "model.alpha",
	"epsilon":             "model.epsilon",
	"global-mu":           "model.global_mu",
	"no-lambda":           "model.no_lambda",
	"heldout-ratio":       "sampling.heldout_ratio",
	"validation":          "sampling.validation",
	"training":            "sampling.training",
	"precision-ratio":     "sampling.precision_ratio",
	"nonlink-sample-size": "sampling.nonlink_sample_size",
	"heldout-file":        "sampling.heldout_file",
	"validation-file":     "sampling.validation_file",
	"init":                "init.strategy",
	"louvain-weight":      "init.louvain_weight",
	"step":                "step.strategy",
	"tau0":                "step.tau0",
	"kappa":               "step.kappa",
	"eta":                 "step.adagrad_eta",
	"stop-on-converge":    "convergence.stop_on_converge",
	"report-every":        "report.every",
	"precision-every":     "report.precision_every",
	"checkpoint-every":    "report.checkpoint_every",
	"workers":             "performance.num_workers",
	"out":                 "output.dir",
	"gamma":               "restart.gamma_file",
	"mu":                  "restart.mu_file",
	"monitor":             "monitor.addr",
	"log-level":           "logging.level",
	"log-file":            "logging.file",
}

func newRootCmd() *cobra.Command {
	cfg := svi.NewConfig()
	var cfgFile string

	root := &cobra.Command{
		Use:          "sviamp",
		Short:        "Overlapping community detection with stochastic variational inference",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile == "" {
				return nil
			}
			if err := cfg.LoadFromFile(cfgFile); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file")

	v := cfg.Viper()
	v.SetEnvPrefix("SVIAMP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	root.AddCommand(newInferCmd(cfg), newStatsCmd())
	return root
}

func newInferCmd(cfg *svi.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "infer <edge-list>",
		Short: "Fit community memberships to a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfer(cmd, cfg, args[0])
		},
	}

	f := cmd.Flags()
	f.IntP("communities", "k", 10, "number of communities")
	f.IntP("minibatch", "m", 32, "anchor nodes per iteration")
	f.Int64("seed", time.Now().UnixNano(), "random seed")
	f.Int("max-iterations", 0, "stop after this many iterations (0 = no limit)")
	f.Float64("alpha", 0, "Dirichlet prior on memberships (0 = 1/k)")
	f.Float64("epsilon", 0, "background link rate")
	f.Bool("global-mu", false, "share one link rate across communities")
	f.Bool("no-lambda", false, "disable the per-node popularity bias")
	f.Float64("heldout-ratio", 0.01, "held-out pairs as a fraction of links")
	f.Bool("validation", false, "draw a validation set")
	f.Bool("training", false, "draw a training likelihood set")
	f.Float64("precision-ratio", 0.01, "precision pairs as a fraction of links")
	f.Int("nonlink-sample-size", 0, "non-links per anchor (0 = N/10)")
	f.String("heldout-file", "", "read held-out pairs from file")
	f.String("validation-file", "", "read validation pairs from file")
	f.String("init", svi.InitRandom, "membership initialization (random, louvain)")
	f.Float64("louvain-weight", 1, "gamma added toward the Louvain community")
	f.String("step", svi.StrategyRobbinsMonro, "step size strategy (robbins_monro, adagrad)")
	f.Float64("tau0", 65536, "Robbins-Monro delay")
	f.Float64("kappa", 0.5, "Robbins-Monro forgetting rate")
	f.Float64("eta", 0.1, "AdaGrad learning rate")
	f.Bool("stop-on-converge", true, "stop when the held-out likelihood converges")
	f.Int("report-every", 10, "iterations between likelihood reports")
	f.Int("precision-every", 100, "iterations between precision rankings")
	f.Int("checkpoint-every", 1000, "iterations between result checkpoints")
	f.Int("workers", 1, "goroutines for the local step")
	f.StringP("out", "o", "out", "output directory")
	f.String("gamma", "", "restart from a gamma.txt")
	f.String("mu", "", "restart link rates from a mu.txt")
	f.String("monitor", "", "serve metrics and status on this address")
	f.String("log-level", "info", "log level")
	f.String("log-file", "", "also write JSON logs to this file")

	v := cfg.Viper()
	for name, key := range flagKeys {
		if err := v.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
	return cmd
}

func runInfer(cmd *cobra.Command, cfg *svi.Config, path string) error {
	logger := cfg.CreateLogger()

	g, err := network.ParseEdgeList(path)
	if err != nil {
		return err
	}
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid network: %w", err)
	}
	maxDeg, avgDeg := g.DegreeStats()
	logger.Info().
		Str("network", path).
		Int("nodes", g.Nodes()).
		Int("links", g.Ones()).
		Int("max_degree", maxDeg).
		Float64("avg_degree", avgDeg).
		Msg("Network loaded")

	opts := []svi.Option{svi.WithNetworkName(filepath.Base(path))}

	heldout, err := readPairs(cfg.HeldoutFile(), g)
	if err != nil {
		return err
	}
	validation, err := readPairs(cfg.ValidationFile(), g)
	if err != nil {
		return err
	}
	if heldout != nil || validation != nil {
		opts = append(opts, svi.WithHeldoutPairs(heldout, validation))
	}

	if addr := cfg.MonitorAddr(); addr != "" {
		srv := monitor.NewServer(logger)
		if err := srv.Start(addr); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn().Err(err).Msg("Monitor shutdown failed")
			}
		}()
		opts = append(opts, svi.WithObservers(srv))
	}

	engine, err := svi.NewEngine(g, cfg, logger, opts...)
	if err != nil {
		return err
	}
	if err := engine.Run(cmd.Context()); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d iterations, results in %s\n",
		engine.RunID(), engine.Iteration(), cfg.OutputDir())
	return nil
}

func readPairs(path string, g *network.Network) ([]network.LabeledPair, error) {
	if path == "" {
		return nil, nil
	}
	pairs, err := network.ReadLabeledPairs(path, g)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return pairs, nil
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <edge-list>",
		Short: "Print node, link and degree counts of a network",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := network.ParseEdgeList(args[0])
			if err != nil {
				return err
			}
			maxDeg, avgDeg := g.DegreeStats()
			fmt.Fprintf(cmd.OutOrStdout(), "nodes\t%d\nlinks\t%d\nmax_degree\t%d\navg_degree\t%.3f\n",
				g.Nodes(), g.Ones(), maxDeg, avgDeg)
			return nil
		},
	}
}
