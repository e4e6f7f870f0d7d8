package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kluth/npm-feature-extractor/internal/cache"
	"github.com/kluth/npm-feature-extractor/internal/extract"
	"github.com/kluth/npm-feature-extractor/internal/features"
	"github.com/kluth/npm-feature-extractor/internal/patterns"
	"github.com/kluth/npm-feature-extractor/internal/policy"
	"github.com/kluth/npm-feature-extractor/internal/registry"
	"github.com/kluth/npm-feature-extractor/internal/reporter"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// ExitError signals a non-standard exit code (e.g., 3 for a policy violation).
type ExitError struct {
	Code    int
	Message string
}

func (e *ExitError) Error() string { return e.Message }

// app carries the state of one invocation.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer

	configPath string
	verbose    bool
	quiet      bool

	cfg    settings
	logger *slog.Logger
	diag   *slog.Logger
	closer io.Closer
	cache  *cache.Cache
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: newViper(), stdout: stdout, stderr: stderr}

	rootCmd := &cobra.Command{
		Use:   "npmfeat",
		Short: "Extract static feature records from npm packages",
		Long: fmt.Sprintf(`npmfeat statically analyzes npm packages and extracts a fixed
vector of boolean features describing what their code and install hooks do:
network and filesystem access, child processes, eval, encoded strings,
suspicious literals and more. Nothing in a package is executed.

Build Info: Commit %s, Date %s

Examples:  npmfeat extract ./node_modules/left-pad
  npmfeat extract pkg-1.0.0.tgz --format json
  npmfeat batch ./corpus --features-dir out/features --positions-dir out/positions
  npmfeat fetch lodash@4.17.21`, commit, date),
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			a.teardown()
		},
	}

	configureRootFlags(rootCmd, a)

	rootCmd.AddCommand(
		newExtractCmd(a),
		newBatchCmd(a),
		newFetchCmd(a),
		newFeaturesCmd(a),
		newMcpCmd(a),
	)
	return rootCmd
}

func configureRootFlags(rootCmd *cobra.Command, a *app) {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default: ./"+configFileName+" or ~/.config/npmfeat/config.yaml)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")
	flags.BoolVarP(&a.quiet, "quiet", "q", false, "only log errors")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "write parse-failure diagnostics to this rotating log file")

	flags.Int64("max-file-size", extract.DefaultMaxFileSize, "largest script analyzed, in bytes")
	flags.Int("max-string-length", 0, "longest string literal matched against the lexical patterns (0 = default)")
	flags.Int("max-positions", 0, "positions recorded per feature (0 = default)")
	flags.IntP("workers", "w", 1, "files analyzed concurrently within one package")
	flags.StringSlice("ext", extract.DefaultExtensions, "script extensions to analyze")
	flags.StringSlice("exclude", nil, "glob patterns of package paths to skip")
	flags.Bool("tolerate-syntax-errors", false, "analyze scripts that contain syntax errors")
	flags.Int("cache-size", defaultCacheSize, "file results kept in the content cache (0 disables it)")
	flags.StringSlice("sensitive-keyword", nil, "replace the sensitive string keywords")
	flags.StringSlice("network-command", nil, "replace the install-hook network commands")

	flags.StringP("format", "f", reporter.FormatTerminal, "output format (terminal, json, yaml, markdown, csv, pdf)")
	flags.StringP("output", "o", "", "write the report to a file instead of stdout")
	flags.String("features-dir", "", "directory receiving one feature CSV per package")
	flags.String("positions-dir", "", "directory receiving one positions JSON per package")
	flags.StringP("registry", "r", "", "npm registry URL (default: "+registry.DefaultRegistry+")")
	flags.Duration("registry-timeout", 0, "registry request timeout")
	flags.Bool("policy", false, "enforce the configured policy (exit code 3 on violation)")

	bindFlagToConfig(a.v, flags.Lookup("log-level"), logLevelKey)
	bindFlagToConfig(a.v, flags.Lookup("log-file"), logFilenameKey)
	bindFlagToConfig(a.v, flags.Lookup("max-file-size"), maxFileSizeKey)
	bindFlagToConfig(a.v, flags.Lookup("max-string-length"), maxStringLengthKey)
	bindFlagToConfig(a.v, flags.Lookup("max-positions"), maxPositionsKey)
	bindFlagToConfig(a.v, flags.Lookup("workers"), workersKey)
	bindFlagToConfig(a.v, flags.Lookup("ext"), extensionsKey)
	bindFlagToConfig(a.v, flags.Lookup("exclude"), excludeKey)
	bindFlagToConfig(a.v, flags.Lookup("tolerate-syntax-errors"), tolerateSyntaxErrorsKey)
	bindFlagToConfig(a.v, flags.Lookup("cache-size"), cacheSizeKey)
	bindFlagToConfig(a.v, flags.Lookup("sensitive-keyword"), sensitiveKeywordsKey)
	bindFlagToConfig(a.v, flags.Lookup("network-command"), networkCommandsKey)
	bindFlagToConfig(a.v, flags.Lookup("format"), formatKey)
	bindFlagToConfig(a.v, flags.Lookup("output"), outputFileKey)
	bindFlagToConfig(a.v, flags.Lookup("features-dir"), featuresDirKey)
	bindFlagToConfig(a.v, flags.Lookup("positions-dir"), positionsDirKey)
	bindFlagToConfig(a.v, flags.Lookup("registry"), registryURLKey)
	bindFlagToConfig(a.v, flags.Lookup("registry-timeout"), registryTimeoutKey)
	bindFlagToConfig(a.v, flags.Lookup("policy"), policyEnforceKey)
}

func (a *app) setup() error {
	if a.quiet && a.verbose {
		return fmt.Errorf("--quiet and --verbose are mutually exclusive")
	}
	if err := readConfig(a.v, a.configPath); err != nil {
		return err
	}
	cfg, err := resolveSettings(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger, a.diag, a.closer = configureLoggers(a.v, a.stderr, a.verbose, a.quiet)
	return nil
}

func (a *app) teardown() {
	if a.closer != nil {
		a.closer.Close()
		a.closer = nil
	}
}

// newExtractor builds an extractor from the resolved settings, logging to logger.
func (a *app) newExtractor(logger *slog.Logger) (*extract.Extractor, error) {
	tables, err := patterns.Compile(patterns.Options{
		SensitiveKeywords: a.cfg.SensitiveKeywords,
		NetworkCommands:   a.cfg.NetworkCommands,
	})
	if err != nil {
		return nil, err
	}
	c, err := cache.New(a.cfg.Scan.CacheSize)
	if err != nil {
		return nil, err
	}
	a.cache = c
	return extract.New(extract.Options{
		MaxFileSize:          a.cfg.Scan.MaxFileSize,
		MaxStringLength:      a.cfg.Scan.MaxStringLength,
		MaxPositions:         a.cfg.Scan.MaxPositions,
		Workers:              a.cfg.Scan.Workers,
		Extensions:           a.cfg.Scan.Extensions,
		Exclude:              a.cfg.Scan.Exclude,
		TolerateSyntaxErrors: a.cfg.Scan.TolerateSyntaxErrors,
		Tables:               tables,
		Cache:                c,
		Logger:               logger,
		DiagLogger:           a.diag,
	})
}

// logCacheStats reports how much file analysis the content cache saved.
func (a *app) logCacheStats() {
	if a.cache == nil {
		return
	}
	s := a.cache.Stats()
	a.logger.Debug("analysis cache", "hits", s.Hits, "misses", s.Misses, "entries", s.Len)
}

func (a *app) openOutput() (io.Writer, func(), error) {
	if a.cfg.OutputFile == "" {
		return a.stdout, func() {}, nil
	}
	f, err := os.Create(a.cfg.OutputFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// emit renders reports in the configured format.
func (a *app) emit(reports []reporter.Report) error {
	out, closeOut, err := a.openOutput()
	if err != nil {
		return err
	}
	defer closeOut()

	rep := reporter.New(out, a.cfg.Format)
	if len(reports) == 1 {
		return rep.Render(reports[0])
	}
	return rep.RenderBatch(reports)
}

// save writes the per-package files when output directories are configured.
func (a *app) save(report reporter.Report) error {
	saved, err := reporter.Save(report, a.cfg.FeaturesDir, a.cfg.PositionsDir)
	if err != nil {
		return fmt.Errorf("saving %s: %w", report.Source, err)
	}
	if saved.Features != "" || saved.Positions != "" {
		a.logger.Debug("saved package files", "package", report.Features.ID(), "features", saved.Features, "positions", saved.Positions)
	}
	return nil
}

// enforce applies the configured policy when enabled.
func (a *app) enforce(reports []reporter.Report) error {
	if !a.cfg.EnforcePolicy {
		return nil
	}
	records := make([]features.Record, len(reports))
	for i, r := range reports {
		records[i] = r.Features
	}
	violations, err := policy.Evaluate(records, &a.cfg.Policy)
	if err != nil {
		return err
	}
	if len(violations) == 0 {
		return nil
	}
	fmt.Fprintln(a.stderr, "\nPolicy Violations Detected:")
	for _, v := range violations {
		fmt.Fprintf(a.stderr, " - %s\n", v)
	}
	return &ExitError{Code: 3, Message: "Policy check failed"}
}
