package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/gateway"
	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/pipeline"
	"github.com/clinlp/medspan/internal/storage"
	"github.com/clinlp/medspan/internal/util"
	"github.com/clinlp/medspan/internal/worker"
)

// inputFlags selects where a command reads its documents from.
type inputFlags struct {
	file    string
	payload string
}

// texts returns the documents given as arguments, in a file, or in a task
// payload. Payload items are resolved through the fetcher and S3.
func (in inputFlags) texts(ctx context.Context, cfg model.Config, logger logrus.FieldLogger, args []string) ([]string, error) {
	switch {
	case in.payload != "":
		data, err := readSource(in.payload)
		if err != nil {
			return nil, err
		}
		p, err := gateway.ParsePayload(data)
		if err != nil {
			return nil, err
		}
		store, err := newFileManager(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		var dl pipeline.Downloader
		if store != nil {
			dl = store
		}
		r := pipeline.NewResolver(
			pipeline.NewFetcher(cfg.HTTP).WithLimiter(worker.NewLimiterFromConfig(cfg.RateLimiting)),
			dl, cfg.S3.Bucket)
		return r.Texts(ctx, p)

	case in.file != "":
		data, err := readSource(in.file)
		if err != nil {
			return nil, err
		}
		return []string{string(data)}, nil

	case len(args) > 0:
		return args, nil
	}
	return nil, fmt.Errorf("no input: pass text arguments, --file or --payload")
}

// readSource reads a file, or stdin for "-".
func readSource(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// newFileManager returns nil when no bucket is configured.
func newFileManager(ctx context.Context, cfg model.Config, logger logrus.FieldLogger) (*storage.FileManager, error) {
	if cfg.S3.Bucket == "" {
		return nil, nil
	}
	client, err := storage.NewS3Client(ctx, cfg.S3, s3HTTPClient(cfg.HTTP))
	if err != nil {
		return nil, err
	}
	return storage.NewFileManager(client, logger), nil
}

// s3HTTPClient keeps the proxy settings but drops the request timeout;
// model downloads are bounded by the command context instead.
func s3HTTPClient(hc model.HTTPConfig) *http.Client {
	hc.Timeout = 0
	return util.NewHTTPClient(hc)
}

// writeOutput wraps result in the task envelope and writes it as indented
// JSON to path, or stdout when path is empty.
func writeOutput(path string, result any) error {
	out, err := gateway.NewOutput(result)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	data = append(data, '\n')

	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "✓ Wrote %s\n", path)
	return nil
}
