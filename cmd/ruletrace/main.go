package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/ruletrace"
	"github.com/jward/ruletrace/internal/server"
)

var (
	flagRoot     string
	flagConfig   string
	flagCache    string
	flagNoCache  bool
	flagFormat   string
	flagLogLevel string
)

const defaultCache = ".ruletrace/cache.db"

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

// stdout receives command results; stderr receives progress and logs.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

var logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "ruletrace",
	Short:         "Trace requirement rules from markdown specs to the code that implements them",
	Long:          "ruletrace indexes r[rule.id] definitions in markdown specs and [impl rule.id] / [verify rule.id] comments in source code, and reports coverage, gaps and broken references.",
	Version:       server.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateFormat(flagFormat); err != nil {
			return err
		}
		level, err := parseLevel(flagLogLevel)
		if err != nil {
			return err
		}
		logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
		return nil
	},
	// No Run; prints help by default.
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "project root (default: repository root of the working directory)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default: .config/ruletrace/config.yaml under the root)")
	rootCmd.PersistentFlags().StringVar(&flagCache, "cache", defaultCache, "scan cache database, relative to the root")
	rootCmd.PersistentFlags().BoolVar(&flagNoCache, "no-cache", false, "do not read or write the scan cache")
	rootCmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "output format: json|text")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level: debug|info|warn|error")

	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(uncoveredCmd)
	rootCmd.AddCommand(untestedCmd)
	rootCmd.AddCommand(unmappedCmd)
	rootCmd.AddCommand(ruleCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(configCmd)
}

var flagForce bool

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Build the index and report coverage",
	Long:  "Scans spec and source files, builds the rule index, updates the scan cache and prints a coverage summary.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	indexCmd.Flags().BoolVar(&flagForce, "force", false, "delete the scan cache and rescan every file")
}

func runIndex(cmd *cobra.Command, args []string) error {
	start := time.Now()
	if len(args) > 0 {
		flagRoot = args[0]
	}
	root, err := resolveRoot()
	if err != nil {
		return outputError("index", err)
	}

	if flagForce && !flagNoCache {
		cachePath := resolveCachePath(root)
		if err := os.Remove(cachePath); err != nil && !os.IsNotExist(err) {
			return outputError("index", fmt.Errorf("removing cache for --force: %w", err))
		}
		fmt.Fprintf(stderr, "Cleared cache: %s\n", cachePath)
	}

	e, err := openEngine(root)
	if err != nil {
		return outputError("index", err)
	}
	defer e.Close()

	if err := e.Build(cmd.Context()); err != nil {
		if e.Snapshot() == nil {
			return outputError("index", fmt.Errorf("indexing: %w", err))
		}
		logger.Warn("index incomplete", "error", err)
	}

	fmt.Fprintf(stderr, "Indexed %s in %s (version %d)\n", root, time.Since(start).Round(time.Millisecond), e.Version())
	if !flagNoCache {
		fmt.Fprintf(stderr, "Cache: %s\n", resolveCachePath(root))
	}
	return outputResult(CLIResult{Command: "index", Results: e.Query().Status()})
}

// resolveRoot returns the absolute project root from --root, or the
// repository root of the working directory.
func resolveRoot() (string, error) {
	if flagRoot != "" {
		abs, err := filepath.Abs(flagRoot)
		if err != nil {
			return "", fmt.Errorf("resolving root %q: %w", flagRoot, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return "", fmt.Errorf("directory not found: %s", abs)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("not a directory: %s", abs)
		}
		return abs, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting cwd: %w", err)
	}
	return findRepoRoot(cwd), nil
}

// findRepoRoot walks up from startDir looking for a .git directory.
// Returns the directory containing .git, or startDir if not found.
func findRepoRoot(startDir string) string {
	dir := startDir
	for {
		if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return startDir
		}
		dir = parent
	}
}

// resolveCachePath returns the cache path from the --cache flag.
func resolveCachePath(root string) string {
	if filepath.IsAbs(flagCache) {
		return flagCache
	}
	return filepath.Join(root, flagCache)
}

// openEngine creates an engine for root from the global flags and extra.
func openEngine(root string, extra ...ruletrace.Option) (*ruletrace.Engine, error) {
	opts := append([]ruletrace.Option{ruletrace.WithLogger(logger)}, extra...)
	if !flagNoCache && flagCache != "" {
		opts = append(opts, ruletrace.WithCache(resolveCachePath(root)))
	}
	if flagConfig != "" {
		cfg, err := filepath.Abs(flagConfig)
		if err != nil {
			return nil, fmt.Errorf("resolving config %q: %w", flagConfig, err)
		}
		opts = append(opts, ruletrace.WithConfigPath(cfg))
	}
	e, err := ruletrace.New(root, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}
	return e, nil
}

// buildEngine opens and builds an engine for one-shot queries. A partial
// build still answers queries; only a missing snapshot is an error.
func buildEngine(ctx context.Context) (*ruletrace.Engine, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	e, err := openEngine(root)
	if err != nil {
		return nil, err
	}
	if err := e.Build(ctx); err != nil {
		if e.Snapshot() == nil {
			e.Close()
			return nil, fmt.Errorf("indexing: %w", err)
		}
		logger.Warn("index incomplete", "error", err)
	}
	return e, nil
}

// parseLevel parses the --log-level flag.
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: must be debug, info, warn or error", s)
	}
	return level, nil
}
