package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jward/ruletrace"
	"github.com/jward/ruletrace/internal/httpapi"
	"github.com/jward/ruletrace/internal/server"
	"github.com/jward/ruletrace/internal/session"
)

var (
	flagAddr     string
	flagDebounce time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the dashboard data API and keep the index up to date",
	Long:  "Builds the index, watches the project for changes and serves the JSON API and Prometheus metrics over HTTP until interrupted.",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio and keep the index up to date",
	Long:  "Builds the index, watches the project for changes and serves the ruletrace MCP tools on stdin/stdout. Logs go to stderr.",
	Args:  cobra.NoArgs,
	RunE:  runMCP,
}

func init() {
	serveCmd.Flags().StringVar(&flagAddr, "addr", "127.0.0.1:3777", "listen address")
	serveCmd.Flags().DurationVar(&flagDebounce, "debounce", 0, "quiet period after a change before rebuilding (default 200ms)")
	mcpCmd.Flags().DurationVar(&flagDebounce, "debounce", 0, "quiet period after a change before rebuilding (default 200ms)")
}

// openWatchedEngine opens an engine for a long-running command.
func openWatchedEngine() (*ruletrace.Engine, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, err
	}
	var opts []ruletrace.Option
	if flagDebounce > 0 {
		opts = append(opts, ruletrace.WithDebounce(flagDebounce))
	}
	return openEngine(root, opts...)
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := openWatchedEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              flagAddr,
		Handler:           httpapi.NewRouter(httpapi.NewHandlers(e, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("serving http", "addr", flagAddr, "root", e.Root())
		fmt.Fprintf(stderr, "Serving %s on http://%s\n", e.Root(), flagAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runMCP(cmd *cobra.Command, args []string) error {
	e, err := openWatchedEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The first snapshot is built before serving so early tool calls never
	// see an empty index.
	if err := e.Build(ctx); err != nil {
		if e.Snapshot() == nil {
			return fmt.Errorf("indexing: %w", err)
		}
		logger.Warn("initial build incomplete", "error", err)
	}

	watchErr := make(chan error, 1)
	go func() { watchErr <- e.Run(ctx) }()

	s := server.New(e, session.NewTracker(), logger)
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("mcp server: %w", err)
	}
	stop()
	if err := <-watchErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
