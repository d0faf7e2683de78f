package svi

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Step strategies accepted by step.strategy.
const (
	StrategyRobbinsMonro = "robbins_monro"
	StrategyAdaGrad      = "adagrad"
)

// Initializations accepted by init.strategy.
const (
	InitRandom  = "random"
	InitLouvain = "louvain"
)

// Config manages inference configuration using Viper
type Config struct {
	v *viper.Viper
}

// NewConfig creates a new configuration with defaults
func NewConfig() *Config {
	v := viper.New()

	// Algorithm parameters
	v.SetDefault("algorithm.k", 10)
	v.SetDefault("algorithm.minibatch", 32)
	v.SetDefault("algorithm.random_seed", time.Now().UnixNano())
	v.SetDefault("algorithm.max_iterations", 0)

	// Model hyperparameters
	v.SetDefault("model.alpha", 0.0) // 0 means 1/K
	v.SetDefault("model.global_mu", false)
	v.SetDefault("model.no_lambda", false)
	v.SetDefault("model.sigma_beta", 0.5)
	v.SetDefault("model.sigma_theta", 0.1)
	v.SetDefault("model.epsilon", 0.0)

	// Edge sampling
	v.SetDefault("sampling.heldout_ratio", 0.01)
	v.SetDefault("sampling.validation", false)
	v.SetDefault("sampling.training", false)
	v.SetDefault("sampling.training_ratio", 0.01)
	v.SetDefault("sampling.precision_ratio", 0.01)
	v.SetDefault("sampling.nonlink_sample_size", 0) // 0 means N/10
	v.SetDefault("sampling.heldout_file", "")
	v.SetDefault("sampling.validation_file", "")

	// Initialization
	v.SetDefault("init.strategy", InitRandom)
	v.SetDefault("init.louvain_weight", 1.0)

	// Step size
	v.SetDefault("step.strategy", StrategyRobbinsMonro)
	v.SetDefault("step.tau0", 65536.0)
	v.SetDefault("step.kappa", 0.5)
	v.SetDefault("step.mu_tau0", 131072.0)
	v.SetDefault("step.mu_kappa", 0.9)
	v.SetDefault("step.adagrad_eta", 0.1)

	// Convergence
	v.SetDefault("convergence.warmup", 100)
	v.SetDefault("convergence.threshold", 1e-5)
	v.SetDefault("convergence.max_stalls", 2)
	v.SetDefault("convergence.stop_on_converge", true)

	// Reporting
	v.SetDefault("report.every", 10)
	v.SetDefault("report.precision_every", 100)
	v.SetDefault("report.checkpoint_every", 1000)
	v.SetDefault("report.top_n", 100)
	v.SetDefault("report.link_thresh", 0.5)
	v.SetDefault("report.lt_min_deg", 3)

	// Performance parameters
	v.SetDefault("performance.num_workers", 1)

	// Logging parameters
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 3)

	v.SetDefault("output.dir", "out")
	v.SetDefault("restart.gamma_file", "")
	v.SetDefault("restart.mu_file", "")
	v.SetDefault("monitor.addr", "")

	return &Config{v: v}
}

// LoadFromFile loads configuration from file
func (c *Config) LoadFromFile(path string) error {
	c.v.SetConfigFile(path)
	return c.v.ReadInConfig()
}

// Viper exposes the underlying instance so command-line flags can be bound.
func (c *Config) Viper() *viper.Viper { return c.v }

// Getters for algorithm parameters
func (c *Config) K() int             { return c.v.GetInt("algorithm.k") }
func (c *Config) Minibatch() int     { return c.v.GetInt("algorithm.minibatch") }
func (c *Config) RandomSeed() int64  { return c.v.GetInt64("algorithm.random_seed") }
func (c *Config) MaxIterations() int { return c.v.GetInt("algorithm.max_iterations") }

// Alpha returns the symmetric Dirichlet prior, defaulting to 1/K.
func (c *Config) Alpha() float64 {
	if a := c.v.GetFloat64("model.alpha"); a > 0 {
		return a
	}
	return 1 / float64(c.K())
}

func (c *Config) GlobalMu() bool          { return c.v.GetBool("model.global_mu") }
func (c *Config) NoLambda() bool          { return c.v.GetBool("model.no_lambda") }
func (c *Config) SigmaBeta() float64      { return c.v.GetFloat64("model.sigma_beta") }
func (c *Config) SigmaTheta() float64     { return c.v.GetFloat64("model.sigma_theta") }
func (c *Config) Epsilon() float64        { return c.v.GetFloat64("model.epsilon") }
func (c *Config) HeldoutRatio() float64   { return c.v.GetFloat64("sampling.heldout_ratio") }
func (c *Config) Validation() bool        { return c.v.GetBool("sampling.validation") }
func (c *Config) Training() bool          { return c.v.GetBool("sampling.training") }
func (c *Config) TrainingRatio() float64  { return c.v.GetFloat64("sampling.training_ratio") }
func (c *Config) PrecisionRatio() float64 { return c.v.GetFloat64("sampling.precision_ratio") }
func (c *Config) HeldoutFile() string     { return c.v.GetString("sampling.heldout_file") }
func (c *Config) ValidationFile() string  { return c.v.GetString("sampling.validation_file") }

// NonlinkSampleSize returns the per-anchor non-link subsample size for n nodes.
func (c *Config) NonlinkSampleSize(n int) int {
	if s := c.v.GetInt("sampling.nonlink_sample_size"); s > 0 {
		return s
	}
	if n/10 < 1 {
		return 1
	}
	return n / 10
}

func (c *Config) InitStrategy() string   { return c.v.GetString("init.strategy") }
func (c *Config) LouvainWeight() float64 { return c.v.GetFloat64("init.louvain_weight") }

func (c *Config) StepStrategy() string { return c.v.GetString("step.strategy") }
func (c *Config) Tau0() float64        { return c.v.GetFloat64("step.tau0") }
func (c *Config) Kappa() float64       { return c.v.GetFloat64("step.kappa") }
func (c *Config) MuTau0() float64      { return c.v.GetFloat64("step.mu_tau0") }
func (c *Config) MuKappa() float64     { return c.v.GetFloat64("step.mu_kappa") }
func (c *Config) AdaGradEta() float64  { return c.v.GetFloat64("step.adagrad_eta") }
func (c *Config) Warmup() int          { return c.v.GetInt("convergence.warmup") }
func (c *Config) Threshold() float64   { return c.v.GetFloat64("convergence.threshold") }
func (c *Config) MaxStalls() int       { return c.v.GetInt("convergence.max_stalls") }
func (c *Config) StopOnConverge() bool { return c.v.GetBool("convergence.stop_on_converge") }
func (c *Config) ReportEvery() int     { return c.v.GetInt("report.every") }
func (c *Config) PrecisionEvery() int  { return c.v.GetInt("report.precision_every") }
func (c *Config) CheckpointEvery() int { return c.v.GetInt("report.checkpoint_every") }
func (c *Config) TopN() int            { return c.v.GetInt("report.top_n") }
func (c *Config) LinkThresh() float64  { return c.v.GetFloat64("report.link_thresh") }
func (c *Config) LinkMinDegree() int   { return c.v.GetInt("report.lt_min_deg") }
func (c *Config) NumWorkers() int      { return c.v.GetInt("performance.num_workers") }
func (c *Config) LogLevel() string     { return c.v.GetString("logging.level") }
func (c *Config) LogFile() string      { return c.v.GetString("logging.file") }
func (c *Config) OutputDir() string    { return c.v.GetString("output.dir") }
func (c *Config) RestartGamma() string { return c.v.GetString("restart.gamma_file") }
func (c *Config) RestartMu() string    { return c.v.GetString("restart.mu_file") }
func (c *Config) MonitorAddr() string  { return c.v.GetString("monitor.addr") }

// Set allows dynamic configuration changes
func (c *Config) Set(key string, value interface{}) {
	c.v.Set(key, value)
}

// AllSettings returns the effective configuration as a nested map.
func (c *Config) AllSettings() map[string]interface{} { return c.v.AllSettings() }

// Validate rejects settings inference cannot run with.
func (c *Config) Validate() error {
	if c.K() < 1 {
		return fmt.Errorf("algorithm.k must be positive, got %d", c.K())
	}
	if c.Minibatch() < 1 {
		return fmt.Errorf("algorithm.minibatch must be positive, got %d", c.Minibatch())
	}
	switch c.StepStrategy() {
	case StrategyRobbinsMonro, StrategyAdaGrad:
	default:
		return fmt.Errorf("unknown step.strategy %q", c.StepStrategy())
	}
	switch c.InitStrategy() {
	case InitRandom, InitLouvain:
	default:
		return fmt.Errorf("unknown init.strategy %q", c.InitStrategy())
	}
	if c.ReportEvery() < 1 {
		return fmt.Errorf("report.every must be positive, got %d", c.ReportEvery())
	}
	return nil
}

// CreateLogger creates a zerolog logger based on config. When logging.file is
// set, JSON lines are also written to a size-rotated file.
func (c *Config) CreateLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	}
	if path := c.LogFile(); path != "" {
		out = zerolog.MultiLevelWriter(out, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    c.v.GetInt("logging.max_size_mb"),
			MaxBackups: c.v.GetInt("logging.max_backups"),
		})
	}

	return zerolog.New(out).Level(level).With().Timestamp().Str("service", "sviamp").Logger()
}
