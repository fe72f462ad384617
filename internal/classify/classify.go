// Package classify shapes aligned entities into classifier inputs and joins
// the classifier's answers back onto them.
package classify

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/metrics"
)

// ErrShapeMismatch is returned when classifier output cannot be joined to its input.
var ErrShapeMismatch = errors.New("classifier output does not match input")

// Input is one text to classify. ID is echoed back in the Output.
type Input struct {
	ID   string
	Text string
}

// Output is the classifier's answer for one Input.
type Output struct {
	ID    string
	Label string
	Score float64
}

// Classifier labels a batch of texts.
type Classifier interface {
	Classify(ctx context.Context, inputs []Input) ([]Output, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, inputs []Input) ([]Output, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, inputs []Input) ([]Output, error) {
	return f(ctx, inputs)
}

// Positional wraps a classifier that returns results in input order without
// ids, such as a plain text-classification endpoint, and stamps the ids on.
func Positional(fn func(ctx context.Context, texts []string) ([]Output, error)) Classifier {
	return ClassifierFunc(func(ctx context.Context, inputs []Input) ([]Output, error) {
		texts := make([]string, len(inputs))
		for i, in := range inputs {
			texts[i] = in.Text
		}
		outs, err := fn(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(outs) != len(inputs) {
			return nil, fmt.Errorf("%d inputs, %d outputs: %w", len(inputs), len(outs), ErrShapeMismatch)
		}
		for i := range outs {
			outs[i].ID = inputs[i].ID
		}
		return outs, nil
	})
}

func newID() string {
	return uuid.NewString()
}

// run classifies inputs and indexes the answers by id. Every input must be
// answered exactly once.
func run(ctx context.Context, c Classifier, inputs []Input) (map[string]Output, error) {
	if len(inputs) == 0 {
		return map[string]Output{}, nil
	}

	outs, err := c.Classify(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}
	if len(outs) != len(inputs) {
		return nil, fmt.Errorf("%d inputs, %d outputs: %w", len(inputs), len(outs), ErrShapeMismatch)
	}

	byID := make(map[string]Output, len(outs))
	for _, o := range outs {
		if _, dup := byID[o.ID]; dup {
			return nil, fmt.Errorf("duplicate id %s: %w", o.ID, ErrShapeMismatch)
		}
		byID[o.ID] = o
	}
	for _, in := range inputs {
		if _, ok := byID[in.ID]; !ok {
			return nil, fmt.Errorf("no output for id %s: %w", in.ID, ErrShapeMismatch)
		}
	}
	return byID, nil
}

// FilterByLabel keeps the records whose label is in whiteList, preserving
// order. An empty whiteList drops everything. Dropped records are counted
// under stage and logged at debug level.
func FilterByLabel[T any](records []T, label func(T) string, whiteList []string, stage string, logger logrus.FieldLogger) []T {
	allowed := make(map[string]bool, len(whiteList))
	for _, l := range whiteList {
		allowed[l] = true
	}

	out := make([]T, 0, len(records))
	for _, r := range records {
		l := label(r)
		if allowed[l] {
			out = append(out, r)
			continue
		}
		metrics.RecordsDropped.WithLabelValues(stage).Inc()
		if logger != nil {
			logger.WithFields(logrus.Fields{"stage": stage, "label": l}).Debug("record dropped by white-list")
		}
	}
	return out
}
