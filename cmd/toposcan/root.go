// Package main implements spec.md §6's toposcan CLI: a single batch
// command that computes merge trees, persistence diagrams and per-
// component integrals over one scalar field input, wired onto
// internal/config, internal/telemetry, internal/exchange and the rest
// of the computation pipeline. Grounded on cmd/root.go's
// Execute/init pattern, reshaped from mini's multi-subcommand launcher
// into the single positional-args-plus-flags shape spec.md §6 documents.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rskv-p/toposcan/internal/config"
)

var flags struct {
	blocks       int
	maxMemory    int
	jobs         int
	storage      string
	rho          float64
	theta        float64
	profilePath  string
	profileDSN   string
	logPath      string
	logLevel     string
	logJSON      bool
	absolute     bool
	negate       bool
	noWrap       bool
	splitIO      bool
	monitorAddr  string
	clusterToken string
	rank         int
	nranks       int
	connectURL   string
}

var rootCmd = &cobra.Command{
	Use:   "toposcan INPUT OUTPUT.mt [OUT_DIAGRAMS] [OUT_INTEGRAL]",
	Short: "Compute merge trees, persistence diagrams and integrals over scalar field blocks",
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.RangeArgs(2, 4)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	},
	RunE: runRoot,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	f := rootCmd.Flags()
	f.IntVarP(&flags.blocks, "blocks", "b", 0, "requested number of blocks (0 = number of ranks); uniform grids always use one block per rank and only log a differing value, AMR inputs use the file's boxes")
	f.IntVarP(&flags.maxMemory, "max-resident", "m", -1, "max resident blocks (-1 = unlimited)")
	f.IntVarP(&flags.jobs, "jobs", "j", 1, "concurrent worker jobs per rank")
	f.StringVarP(&flags.storage, "storage", "s", "./DIY.XXXXXX", "paging directory for evicted blocks")
	f.Float64VarP(&flags.rho, "rho", "i", -1e300, "mask threshold (absolute, or relative to the field mean unless -a)")
	f.Float64VarP(&flags.theta, "theta", "x", -1e300, "integral isofind threshold")
	f.StringVarP(&flags.profilePath, "profile", "p", "", "profiler sqlite path (enables round profiling)")
	f.StringVar(&flags.profileDSN, "profile-dsn", "", "profiler postgres DSN, overrides -p")
	f.StringVarP(&flags.logPath, "log", "l", "", "optional rotated log file path")
	f.StringVar(&flags.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	f.BoolVar(&flags.logJSON, "log-json", false, "emit structured JSON logs instead of the styled console")
	f.BoolVarP(&flags.absolute, "absolute", "a", false, "treat -i rho as an absolute threshold, not mean-relative")
	f.BoolVarP(&flags.negate, "negate", "n", false, "negate the sweep direction (find minima of -field)")
	f.BoolVarP(&flags.noWrap, "no-wrap", "w", false, "disable toroidal domain wrap")
	f.BoolVar(&flags.splitIO, "split", false, "write a per-rank output file even in a single-rank run (multi-rank runs always write one file per rank)")
	f.StringVar(&flags.monitorAddr, "monitor", "", "optional --monitor HTTP+WS address (e.g. :8090)")
	f.StringVar(&flags.clusterToken, "cluster-secret", "", "shared secret signing/verifying mesh RankTokens")
	f.IntVar(&flags.rank, "rank", 0, "this process's rank in the mesh")
	f.IntVar(&flags.nranks, "nranks", 1, "total number of ranks in the mesh")
	f.StringVar(&flags.connectURL, "connect", "", "join an existing mesh at this NATS URL instead of hosting one")

	rootCmd.AddCommand(profileCmd)
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return &usageError{err: err} })
}

func buildConfig() *config.Config {
	cfg := config.Default()
	cfg.Blocks = flags.blocks
	cfg.MaxMemory = flags.maxMemory
	cfg.Jobs = flags.jobs
	cfg.Storage = flags.storage
	cfg.Rho = flags.rho
	cfg.Theta = flags.theta
	cfg.Absolute = flags.absolute
	cfg.Negate = flags.negate
	cfg.Wrap = !flags.noWrap
	cfg.SplitIO = flags.splitIO
	cfg.ProfilePath = flags.profilePath
	cfg.ProfileDSN = flags.profileDSN
	cfg.MonitorAddr = flags.monitorAddr
	cfg.ClusterToken = flags.clusterToken
	cfg.LogLevel = flags.logLevel
	cfg.LogJSON = flags.logJSON
	cfg.ApplyEnv()
	return cfg
}

func runRoot(cmd *cobra.Command, args []string) error {
	cfg := buildConfig()
	integralsRequested := len(args) >= 4
	if err := cfg.Validate(integralsRequested); err != nil {
		return &usageError{err: fmt.Errorf("toposcan: %w", err)}
	}

	in := Inputs{
		Input:       args[0],
		OutputTree:  args[1],
		Diagrams:    optArg(args, 2),
		Integral:    optArg(args, 3),
		Rank:        flags.rank,
		NRanks:      flags.nranks,
		ConnectURL:  flags.connectURL,
		LogFilePath: flags.logPath,
	}
	return run(cmd.Context(), cfg, in)
}

func optArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}
