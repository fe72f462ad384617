package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/clinlp/medspan/internal/pipeline"
	"github.com/clinlp/medspan/internal/worker"
)

var (
	concurrency  int
	outputPath   string
	batchTimeout time.Duration
	batchTasks   pipeline.Tasks
	metricsAddr  string
)

// batchCmd represents the batch command
var batchCmd = &cobra.Command{
	Use:   "batch <file>",
	Short: "Run the NER pipeline over many documents in parallel",
	Long: `Batch processes documents concurrently:
- Read documents from the input file, one per line. A line is either a
  JSON object {"id": ..., "text": ...} or plain text.
- Run each document through the pipeline with a pool of workers
- Write one JSON result per line, in input order

Example:
  medspan batch notes.jsonl
  medspan batch notes.jsonl --concurrency 8 --out results.jsonl --mask
  medspan batch notes.txt --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runBatch,
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().IntVar(&concurrency, "concurrency", 0, "number of concurrent workers (default from config)")
	batchCmd.Flags().StringVarP(&outputPath, "out", "o", "", "output JSON lines path (default: stdout)")
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 30*time.Minute, "total timeout for batch processing")
	batchCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	batchCmd.Flags().BoolVar(&batchTasks.Assertion, "assertion", false, "classify entity assertions")
	batchCmd.Flags().BoolVar(&batchTasks.Relation, "relation", false, "classify entity relations")
	batchCmd.Flags().BoolVar(&batchTasks.Mask, "mask", false, "add masked text")
	batchCmd.Flags().BoolVar(&batchTasks.Fake, "fake", false, "add faked text")
}

func runBatch(cmd *cobra.Command, args []string) error {
	file := args[0]
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	if concurrency <= 0 {
		concurrency = cfg.Concurrency.Workers
	}

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, logger)
		defer func() { _ = srv.Close() }()
	}

	logger.WithFields(logrus.Fields{
		"file":    file,
		"workers": concurrency,
		"timeout": batchTimeout.String(),
	}).Info("starting batch")

	p, err := pipeline.Build(cfg, batchTasks, logger)
	if err != nil {
		return err
	}

	processor := worker.NewBatchProcessor(p, concurrency, logger)
	results, err := processor.ProcessFile(ctx, file)
	if err != nil {
		return fmt.Errorf("process file: %w", err)
	}

	out := os.Stdout
	if outputPath != "" {
		if dir := filepath.Dir(outputPath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
		}
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = f.Close() }()
		out = f
	}
	if err := worker.WriteResults(out, results); err != nil {
		return err
	}

	failures := 0
	for _, r := range results {
		if r.Error != nil {
			failures++
		}
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  Total:     %d documents\n", len(results))
	fmt.Fprintf(os.Stderr, "  Success:   %d\n", len(results)-failures)
	fmt.Fprintf(os.Stderr, "  Failures:  %d\n", failures)
	if outputPath != "" {
		fmt.Fprintf(os.Stderr, "  Output:    %s\n", outputPath)
	}
	fmt.Fprintf(os.Stderr, "\n")

	if failures == len(results) && failures > 0 {
		return fmt.Errorf("all %d documents failed", failures)
	}
	return nil
}

func serveMetrics(addr string, logger logrus.FieldLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()
	logger.WithField("addr", addr).Info("serving metrics")
	return srv
}

// sanitizeFilename turns a document id into a safe file name.
func sanitizeFilename(s string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "-",
	)
	s = replacer.Replace(s)
	if s == "" || s == "." || s == ".." {
		s = "document"
	}
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
