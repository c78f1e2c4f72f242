package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/dshills/shelfsearch/internal/config"
	"github.com/dshills/shelfsearch/internal/embedder"
	"github.com/dshills/shelfsearch/internal/logging"
	"github.com/dshills/shelfsearch/internal/mcp"
	"github.com/dshills/shelfsearch/internal/searcher"
	"github.com/dshills/shelfsearch/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

const usage = `Usage: shelfsearch [flags] [command]

Commands:
  serve                 Run the MCP server on stdio (default)
  index [--force]       Embed library items and exit
  search [--limit N] [--no-rerank] QUERY
                        Search the library and print the results

Flags:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("shelfsearch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("version", false, "Print version information and exit")
	configPath := fs.String("config", "", "Path to the YAML config file")
	debug := fs.Bool("debug", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		printVersion(stdout)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "shelfsearch: %v\n", err)
		return 1
	}

	// stdout is reserved for the MCP protocol
	logger := logging.New(cfg.Debug || *debug, cfg.Logging)
	defer func() { _ = logger.Sync() }()
	undo := zap.RedirectStdLog(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}()

	command, rest := "serve", []string(nil)
	if fs.NArg() > 0 {
		command, rest = fs.Arg(0), fs.Args()[1:]
	}

	switch command {
	case "serve":
		err = serve(ctx, a)
	case "index":
		err = indexCommand(ctx, a, rest, stdout)
	case "search":
		err = searchCommand(ctx, a, rest, stdout)
	default:
		fs.Usage()
		return 2
	}

	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		return 1
	}
	return 0
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "shelfsearch MCP server\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Build Mode: %s\n", storage.BuildMode)
	fmt.Fprintf(w, "SQLite Driver: %s\n", storage.DriverName)
	fmt.Fprintf(w, "Vector Extension: %v\n", storage.VectorExtensionAvailable)
}

func serve(ctx context.Context, a *app) error {
	mcp.ServerVersion = version
	a.logger.Info("shelfsearch starting",
		zap.String("version", version),
		zap.String("build_mode", storage.BuildMode),
		zap.String("driver", storage.DriverName),
		zap.Bool("vector_extension", storage.VectorExtensionAvailable),
		zap.String("database", a.cfg.Storage.DatabasePath),
		zap.String("catalog", a.cfg.Library.CatalogPath))

	if err := a.watch(ctx); err != nil {
		a.logger.Warn("catalog watcher disabled", zap.Error(err))
	}

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("MCP server ready, listening on stdio")
		errChan <- a.server.Serve(ctx, os.Stdin, os.Stdout)
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutting down gracefully")
		return nil
	case err := <-errChan:
		a.logger.Info("server stopped")
		return err
	}
}

func indexCommand(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	force := fs.Bool("force", false, "Re-embed every item")
	if err := fs.Parse(args); err != nil {
		return err
	}

	result, err := a.indexer.Run(ctx, *force, func(processed, total int, title string) {
		a.logger.Info("indexing", zap.Int("processed", processed), zap.Int("total", total), zap.String("current", title))
	})
	if result != nil {
		if result.NotConfigured {
			fmt.Fprintln(stdout, "No embedding provider configured; nothing indexed.")
		} else {
			fmt.Fprintf(stdout, "indexed=%d skipped=%d failed=%d source=%s duration=%s\n",
				result.Indexed, result.Skipped, result.Failed, result.Source, result.Duration)
		}
	}
	return err
}

func searchCommand(ctx context.Context, a *app, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	limit := fs.Int("limit", a.cfg.Search.DefaultLimit, "Maximum number of results")
	noRerank := fs.Bool("no-rerank", false, "Disable BM25 re-ranking")
	if err := fs.Parse(args); err != nil {
		return err
	}

	resp, err := a.searcher.Query(ctx, searcher.Request{
		Query:  strings.Join(fs.Args(), " "),
		Limit:  *limit,
		Rerank: a.cfg.Search.RerankOrDefault() && !*noRerank,
	})
	if err != nil {
		return err
	}

	switch {
	case resp.NotConfigured:
		fmt.Fprintln(stdout, "No embedding provider configured.")
	case len(resp.Results) == 0 && resp.RateLimitedFor > 0:
		fmt.Fprintf(stdout, "Rate limited, retry in %ds.\n", embedder.CooldownSeconds(resp.RateLimitedFor))
	case len(resp.Results) == 0:
		fmt.Fprintln(stdout, "No results.")
	}
	for i, r := range resp.Results {
		fmt.Fprintf(stdout, "%2d. [%d] %s (%.3f)\n", i+1, r.Item.ID, r.Item.Title, r.Score)
	}
	return nil
}
