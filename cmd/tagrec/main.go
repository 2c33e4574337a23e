package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/cognicore/tagrec/internal/httpapi"
	"github.com/cognicore/tagrec/internal/logger"
	"github.com/cognicore/tagrec/pkg/tagrec"
	"github.com/cognicore/tagrec/pkg/tagrec/config"
	"github.com/cognicore/tagrec/pkg/tagrec/corpus"
	"github.com/cognicore/tagrec/pkg/tagrec/engine/sqlite"
	"github.com/cognicore/tagrec/pkg/tagrec/indexer"
	"github.com/cognicore/tagrec/pkg/tagrec/metrics"
)

const usage = `usage:
  tagrec build-index [-config file] <corpus.csv> <outputDir>
  tagrec recommend [-config file] -title T -body B [-id N] [-explain] <indexDir>
  tagrec serve [-config file] [-addr :8080] <indexDir>`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		return flag.ErrHelp
	}
	switch args[0] {
	case "build-index":
		return buildIndex(ctx, args[1:], out)
	case "recommend":
		return recommend(ctx, args[1:], out)
	case "serve":
		return serve(ctx, args[1:])
	case "-h", "-help", "--help", "help":
		fmt.Fprintln(out, usage)
		return nil
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}

// setup loads the configuration and builds the logger.
func setup(configPath string) (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	l, err := logger.NewLogger(cfg.Logging.Env, cfg.Logging.Level)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, l, nil
}

func buildIndex(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("build-index", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 2 {
		return fmt.Errorf("build-index needs <corpus.csv> <outputDir>\n%s", usage)
	}
	corpusPath, outDir := fs.Arg(0), fs.Arg(1)

	// Fail on bad paths before touching the index.
	if err := config.RequireFile(corpusPath); err != nil {
		return err
	}
	if err := config.RequireDir(outDir); err != nil {
		return err
	}

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	start := time.Now()
	eng, err := tagrec.OpenEngine(ctx, cfg, outDir, log)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	defer eng.Close()

	src, err := corpus.Open(corpusPath, log)
	if err != nil {
		return err
	}
	defer src.Close()

	rep, err := indexer.New(eng, cfg.IndexerConfig(), log, metrics.New(nil)).Run(ctx, src)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Elapsed time: %s\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "Indexed: %d  Dropped: %d  Duplicates: %d  Failed: %d\n",
		rep.Indexed, rep.Dropped, rep.Duplicates, len(rep.Failed))
	for i, q := range rep.Failed {
		if i == 20 {
			fmt.Fprintf(out, "  ... and %d more\n", len(rep.Failed)-i)
			break
		}
		fmt.Fprintf(out, "  failed: %d\n", q.ID)
	}
	return nil
}

// openRecommender opens an existing index and wraps it in a recommender.
func openRecommender(ctx context.Context, cfg config.Config, dir string, log *zap.Logger, m *metrics.Metrics) (*tagrec.Recommender, error) {
	if cfg.Index.Backend == config.BackendSQLite {
		if err := config.RequireFile(filepath.Join(dir, sqlite.FileName)); err != nil {
			return nil, fmt.Errorf("no index in %s: %w", dir, err)
		}
	}
	eng, err := tagrec.OpenEngine(ctx, cfg, dir, log)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	threshold := cfg.Threshold()
	rec, err := tagrec.New(tagrec.Options{
		Engine:         eng,
		Query:          cfg.MLTParams(),
		TopK:           cfg.Query.TopK,
		ScoreThreshold: &threshold,
		Logger:         log,
		Metrics:        m,
	})
	if err != nil {
		eng.Close()
		return nil, err
	}
	return rec, nil
}

func recommend(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("recommend", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	title := fs.String("title", "", "Question title")
	body := fs.String("body", "", "Question body")
	id := fs.Int64("id", 0, "Question id (informational)")
	explain := fs.Bool("explain", false, "Also print the selected query terms")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("recommend needs <indexDir>\n%s", usage)
	}

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()

	rec, err := openRecommender(ctx, cfg, fs.Arg(0), log, nil)
	if err != nil {
		return err
	}
	defer rec.Close()

	res, err := rec.Explain(ctx, corpus.Question{ID: *id, Title: *title, Body: *body})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Similar questions: %d\n", res.Hits)
	if *explain {
		for _, t := range res.Terms {
			fmt.Fprintf(out, "  term %s:%s tf=%d df=%d weight=%.4f\n", t.Field, t.Term, t.Freq, t.DocFreq, t.Weight)
		}
	}
	for _, ts := range res.Tags {
		fmt.Fprintf(out, "%-24s %10.4f %6.3f\n", ts.Tag, ts.Score, ts.Proportion)
	}
	return nil
}

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	addr := fs.String("addr", "", "Listen address (overrides http.addr)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("serve needs <indexDir>\n%s", usage)
	}

	cfg, log, err := setup(*configPath)
	if err != nil {
		return err
	}
	defer log.Sync()
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	rec, err := openRecommender(ctx, cfg, fs.Arg(0), log, metrics.New(reg))
	if err != nil {
		return err
	}
	defer rec.Close()

	timeout := time.Duration(cfg.HTTP.RequestTimeoutS) * time.Second
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewServer(rec, reg, timeout, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", zap.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
	}
	log.Info("Server stopped gracefully")
	return nil
}
