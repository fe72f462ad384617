package pipeline

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/classify"
	"github.com/clinlp/medspan/internal/deid"
	"github.com/clinlp/medspan/internal/gateway"
	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/tokenize"
	"github.com/clinlp/medspan/internal/util"
	"github.com/clinlp/medspan/internal/worker"
)

// loadTokenizer is replaced in tests.
var loadTokenizer = func(path string, maxLen int) (tokenize.Tokenizer, error) {
	return tokenize.Load(path, maxLen)
}

// Build assembles a Pipeline backed by the configured inference server.
func Build(cfg model.Config, tasks Tasks, logger logrus.FieldLogger) (*Pipeline, error) {
	pc := cfg.Pipeline
	if cfg.Gateway.URL == "" || cfg.Gateway.Model == "" {
		return nil, fmt.Errorf("gateway.url and gateway.model are required")
	}

	tk, err := loadTokenizer(pc.TokenizerPath, pc.MaxLength)
	if err != nil {
		return nil, err
	}
	id2label, err := gateway.LoadID2Label(pc.ModelConfigPath)
	if err != nil {
		return nil, err
	}

	client := gateway.NewTritonClient(cfg.Gateway.URL, gateway.TritonOptions{
		Headers:    cfg.Gateway.Headers,
		HTTPClient: util.NewHTTPClient(cfg.HTTP),
		Limiter:    worker.NewLimiterFromConfig(cfg.RateLimiting),
		Logger:     logger,
	})

	opts := Options{
		NER:             client.Predictor(cfg.Gateway.Model, tk),
		ID2Label:        id2label,
		WhiteList:       pc.WhiteList,
		SentenceOffsets: pc.SentenceOffsets,
		TextLimit:       cfg.Gateway.TextLimit,
		DefaultTasks:    tasks,
		Logger:          logger,
	}

	if a := pc.Assertion; a.Model != "" {
		labels, err := gateway.LoadID2Label(a.ModelConfigPath)
		if err != nil {
			return nil, fmt.Errorf("assertion: %w", err)
		}
		atk, err := classifierTokenizer(a, tk, pc.MaxLength)
		if err != nil {
			return nil, fmt.Errorf("assertion: %w", err)
		}
		opts.Assertion = client.Classifier(a.Model, atk, labels)
		opts.AssertionWhiteList = a.WhiteList
	}

	if r := pc.Relation; r.Model != "" {
		labels, err := gateway.LoadID2Label(r.ModelConfigPath)
		if err != nil {
			return nil, fmt.Errorf("relation: %w", err)
		}
		pairs, err := ParsePairs(r.Pairs)
		if err != nil {
			return nil, err
		}
		rtk, err := classifierTokenizer(r, tk, pc.MaxLength)
		if err != nil {
			return nil, fmt.Errorf("relation: %w", err)
		}
		opts.Relation = client.Classifier(r.Model, rtk, labels)
		opts.RelationPairs = pairs
		opts.RelationWhiteList = r.WhiteList
	}

	if tasks.Fake || cfg.Deid.Fake {
		if cfg.Deid.PoolPath == "" {
			return nil, fmt.Errorf("deid.pool_path is required for faking")
		}
		pool, err := deid.LoadPool(cfg.Deid.PoolPath)
		if err != nil {
			return nil, err
		}
		// The table is re-read on every faking call so edits apply without a restart.
		opts.Deid.PoolPath = cfg.Deid.PoolPath
		logging.OrDiscard(logger).WithField("labels", pool.Labels()).Info("fake pool checked")
	}

	return New(opts)
}

func classifierTokenizer(c model.ClassifierConfig, ner tokenize.Tokenizer, maxLen int) (tokenize.Tokenizer, error) {
	if c.TokenizerPath == "" {
		return ner, nil
	}
	return loadTokenizer(c.TokenizerPath, maxLen)
}

// ParsePairs reads "FIRST:SECOND" label pairs.
func ParsePairs(specs []string) ([]classify.Pair, error) {
	out := make([]classify.Pair, 0, len(specs))
	for _, s := range specs {
		first, second, ok := strings.Cut(s, ":")
		first, second = strings.TrimSpace(first), strings.TrimSpace(second)
		if !ok || first == "" || second == "" {
			return nil, fmt.Errorf("invalid relation pair %q, want FIRST:SECOND", s)
		}
		out = append(out, classify.Pair{First: first, Second: second})
	}
	return out, nil
}
