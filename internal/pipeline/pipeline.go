// Package pipeline runs the clinical NER pipeline: sentence segmentation,
// token classification, alignment, chunk merging and the optional
// assertion, relation and de-identification stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/align"
	"github.com/clinlp/medspan/internal/classify"
	"github.com/clinlp/medspan/internal/deid"
	"github.com/clinlp/medspan/internal/gateway"
	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/textseg"
	"github.com/clinlp/medspan/internal/worker"
)

// ErrTaskUnavailable is returned when a request asks for a stage the
// pipeline was built without.
var ErrTaskUnavailable = errors.New("task not configured")

// Tasks selects the optional stages.
type Tasks struct {
	Assertion bool `json:"assertion"`
	Relation  bool `json:"relation"`
	Mask      bool `json:"mask"`
	Fake      bool `json:"fake"`
}

// Request is one document to run.
type Request struct {
	ID    string
	Text  string
	Tasks Tasks
}

// Options wires the pipeline stages.
type Options struct {
	NER      align.Predictor
	ID2Label map[int]string
	// WhiteList holds the entity types kept after merging.
	WhiteList []string
	// SentenceOffsets records sentence-relative offsets on every entity.
	// They are always recorded when a classifier is configured.
	SentenceOffsets bool

	Assertion          classify.Classifier
	AssertionWhiteList []string

	Relation          classify.Classifier
	RelationPairs     []classify.Pair
	RelationWhiteList []string
	RelationFull      bool

	// Deid supplies the pool for faking. Its Mask and Fake flags are
	// taken from each request.
	Deid deid.Options

	// TextLimit caps the input length in characters.
	TextLimit int
	// DefaultTasks applies to documents run through Process.
	DefaultTasks Tasks

	Logger logrus.FieldLogger
}

// Pipeline runs documents through the configured stages.
type Pipeline struct {
	opts    Options
	aligner *align.Aligner
	logger  logrus.FieldLogger
}

// New checks the options and builds a Pipeline.
func New(o Options) (*Pipeline, error) {
	if o.NER == nil {
		return nil, fmt.Errorf("pipeline needs a token classifier")
	}
	if len(o.ID2Label) == 0 {
		return nil, fmt.Errorf("pipeline needs a label map")
	}
	logger := logging.OrDiscard(o.Logger)

	alignOpts := []align.Option{align.WithLogger(logger)}
	if o.SentenceOffsets || o.Assertion != nil || o.Relation != nil {
		alignOpts = append(alignOpts, align.WithSentenceOffsets())
	}

	return &Pipeline{
		opts:    o,
		aligner: align.New(o.ID2Label, alignOpts...),
		logger:  logger,
	}, nil
}

// Run processes one document.
func (p *Pipeline) Run(ctx context.Context, req Request) (*model.Document, error) {
	if err := p.check(req.Tasks); err != nil {
		return nil, err
	}
	if err := gateway.CheckText(p.opts.TextLimit, req.Text); err != nil {
		return nil, err
	}
	start := time.Now()

	sentences, err := textseg.Split(req.Text)
	if err != nil {
		return nil, err
	}

	words, err := p.aligner.AlignDocument(ctx, req.Text, sentences, p.opts.NER)
	if err != nil {
		return nil, err
	}
	entities := p.aligner.MergeChunks(req.Text, words, p.opts.WhiteList)

	doc := &model.Document{
		ID:        req.ID,
		Text:      req.Text,
		Sentences: sentences,
		Entities:  entities,
	}

	sentTexts := make([]string, len(sentences))
	for i, s := range sentences {
		sentTexts[i] = s.Text
	}

	if req.Tasks.Assertion {
		doc.Assertions, err = classify.Assertions(ctx, entities, sentTexts, p.opts.Assertion, classify.AssertionOptions{
			WhiteList: p.opts.AssertionWhiteList,
			Logger:    p.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("assertion: %w", err)
		}
	}

	if req.Tasks.Relation {
		doc.Relations, err = classify.Relations(ctx, entities, sentTexts, p.opts.Relation, classify.RelationOptions{
			Pairs:     p.opts.RelationPairs,
			WhiteList: p.opts.RelationWhiteList,
			Full:      p.opts.RelationFull,
			Logger:    p.logger,
		})
		if err != nil {
			return nil, fmt.Errorf("relation: %w", err)
		}
	}

	if req.Tasks.Mask || req.Tasks.Fake {
		opts := p.opts.Deid
		opts.Mask = req.Tasks.Mask
		opts.Fake = req.Tasks.Fake
		res, err := deid.Deidentify(req.Text, entities, opts)
		if err != nil {
			return nil, fmt.Errorf("deid: %w", err)
		}
		doc.Entities = res.Entities
		doc.MaskedText = res.MaskedText
		doc.FakedText = res.FakedText
	}

	p.logger.WithFields(logrus.Fields{
		"id":        req.ID,
		"sentences": len(sentences),
		"entities":  len(doc.Entities),
		"elapsed":   time.Since(start).String(),
	}).Debug("document processed")
	return doc, nil
}

// Process runs a batch document with the default tasks.
func (p *Pipeline) Process(ctx context.Context, doc worker.Document) (any, error) {
	return p.Run(ctx, Request{ID: doc.ID, Text: doc.Text, Tasks: p.opts.DefaultTasks})
}

func (p *Pipeline) check(t Tasks) error {
	if t.Assertion && p.opts.Assertion == nil {
		return fmt.Errorf("assertion: %w", ErrTaskUnavailable)
	}
	if t.Relation && p.opts.Relation == nil {
		return fmt.Errorf("relation: %w", ErrTaskUnavailable)
	}
	return nil
}
