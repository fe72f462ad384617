package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/logging"
)

// Document is one input of a batch run.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Processor turns one document into a task result.
type Processor interface {
	Process(ctx context.Context, doc Document) (any, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, doc Document) (any, error)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, doc Document) (any, error) {
	return f(ctx, doc)
}

// DocumentJob runs a processor on one document
type DocumentJob struct {
	Doc       Document
	Processor Processor
}

// Execute executes the job
func (j *DocumentJob) Execute(ctx context.Context) Result {
	out, err := j.Processor.Process(ctx, j.Doc)
	if err != nil {
		return &DocumentResult{ID: j.Doc.ID, Error: err}
	}
	return &DocumentResult{ID: j.Doc.ID, Output: out}
}

// DocumentResult is the outcome for one document.
type DocumentResult struct {
	ID     string
	Output any
	Error  error
}

// GetError returns the processing error, if any
func (r *DocumentResult) GetError() error {
	return r.Error
}

// MarshalJSON writes the result as {"id", "status", "output"} or
// {"id", "status", "error"}.
func (r *DocumentResult) MarshalJSON() ([]byte, error) {
	wire := struct {
		ID     string `json:"id"`
		Status bool   `json:"status"`
		Output any    `json:"output,omitempty"`
		Error  string `json:"error,omitempty"`
	}{ID: r.ID, Status: r.Error == nil, Output: r.Output}
	if r.Error != nil {
		wire.Error = r.Error.Error()
	}
	return json.Marshal(wire)
}

// BatchProcessor processes many documents concurrently
type BatchProcessor struct {
	processor   Processor
	concurrency int
	logger      logrus.FieldLogger
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(processor Processor, concurrency int, logger logrus.FieldLogger) *BatchProcessor {
	return &BatchProcessor{
		processor:   processor,
		concurrency: concurrency,
		logger:      logging.OrDiscard(logger),
	}
}

// ProcessDocuments runs every document and returns the results in input
// order. A cancelled context leaves the remaining documents out.
func (b *BatchProcessor) ProcessDocuments(ctx context.Context, docs []Document) []*DocumentResult {
	if len(docs) == 0 {
		return []*DocumentResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for _, doc := range docs {
		if !pool.Submit(&DocumentJob{Doc: doc, Processor: b.processor}) {
			break
		}
	}

	results := pool.Wait()

	out := make([]*DocumentResult, len(results))
	failed := 0
	for i, result := range results {
		out[i] = result.(*DocumentResult)
		if out[i].Error != nil {
			failed++
			b.logger.WithError(out[i].Error).WithField("id", out[i].ID).Warn("document failed")
		}
	}

	b.logger.WithFields(logrus.Fields{
		"documents": len(docs),
		"processed": len(out),
		"failed":    failed,
	}).Info("batch finished")
	return out
}

// ProcessFile reads documents from a file and processes them concurrently
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*DocumentResult, error) {
	docs, err := ReadDocumentsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read documents: %w", err)
	}

	return b.ProcessDocuments(ctx, docs), nil
}

// ReadDocumentsFromFile reads one document per line. A line starting with
// "{" is a JSON document; any other line is plain text with the id
// "line-N". Blank lines and lines starting with "#" are skipped.
func ReadDocumentsFromFile(filePath string) ([]Document, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	return ReadDocuments(file)
}

// ReadDocuments reads documents in the format of ReadDocumentsFromFile.
func ReadDocuments(r io.Reader) ([]Document, error) {
	var docs []Document
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var doc Document
		if strings.HasPrefix(line, "{") {
			if err := json.Unmarshal([]byte(line), &doc); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
		} else {
			doc.Text = line
		}
		if doc.ID == "" {
			doc.ID = fmt.Sprintf("line-%d", lineNo)
		}

		if seen[doc.ID] {
			return nil, fmt.Errorf("line %d: duplicate id %q", lineNo, doc.ID)
		}
		seen[doc.ID] = true
		docs = append(docs, doc)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return docs, nil
}

// WriteResults writes one JSON result per line.
func WriteResults(w io.Writer, results []*DocumentResult) error {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("write result %s: %w", r.ID, err)
		}
	}
	return nil
}
