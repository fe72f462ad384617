// Package graph writes extracted relations into a Neo4j knowledge graph.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/gateway"
	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/model"
)

// ErrInvalidLabel is returned for entity or relation labels that cannot be
// used as graph labels.
var ErrInvalidLabel = errors.New("invalid graph label")

// Query is one parameterised Cypher statement.
type Query struct {
	Text   string         `json:"text"`
	Params map[string]any `json:"params"`
}

// Label turns an entity or relation label into a Cypher identifier: dashes
// become underscores and other characters outside letters, digits and
// underscore are dropped.
func Label(s string) (string, error) {
	var b strings.Builder
	for _, r := range strings.ReplaceAll(s, "-", "_") {
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		return "", fmt.Errorf("%q: %w", s, ErrInvalidLabel)
	}
	if unicode.IsDigit(rune(out[0])) {
		out = "_" + out
	}
	return out, nil
}

// RelationQueries builds one MERGE statement per relation: both entities
// as nodes named by their chunk and the relation as an edge from the first
// to the second.
func RelationQueries(records []model.RelationRecord) ([]Query, error) {
	out := make([]Query, 0, len(records))
	for i, r := range records {
		l1, err := Label(r.Label1)
		if err != nil {
			return nil, fmt.Errorf("record %d entity1: %w", i, err)
		}
		l2, err := Label(r.Label2)
		if err != nil {
			return nil, fmt.Errorf("record %d entity2: %w", i, err)
		}
		rel, err := Label(r.Relation)
		if err != nil {
			return nil, fmt.Errorf("record %d relation: %w", i, err)
		}

		out = append(out, Query{
			Text: fmt.Sprintf("MERGE (e1:`%s` {name: $chunk1}) MERGE (e2:`%s` {name: $chunk2}) MERGE (e1)-[:`%s`]->(e2)", l1, l2, rel),
			Params: map[string]any{
				"chunk1": r.Chunk1,
				"chunk2": r.Chunk2,
			},
		})
	}
	return out, nil
}

// QueriesFromOutput reads a relation task output envelope, whose result
// holds one list of relations per input text, and builds its queries.
func QueriesFromOutput(r io.Reader) ([]Query, error) {
	var out gateway.Output
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode output: %w", err)
	}
	var groups [][]model.RelationRecord
	if err := out.Result(&groups); err != nil {
		return nil, err
	}
	var all []model.RelationRecord
	for _, g := range groups {
		all = append(all, g...)
	}
	return RelationQueries(all)
}

// Writer runs queries against a Neo4j database.
type Writer struct {
	driver   neo4j.Driver
	database string
	logger   logrus.FieldLogger
}

// NewWriter connects to the database described by cfg.
func NewWriter(cfg model.Neo4jConfig, logger logrus.FieldLogger) (*Writer, error) {
	driver, err := neo4j.NewDriver(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(); err != nil {
		_ = driver.Close()
		return nil, fmt.Errorf("connect to neo4j: %w", err)
	}
	return &Writer{driver: driver, database: cfg.Database, logger: logging.OrDiscard(logger)}, nil
}

// Write runs all queries in one write transaction.
func (w *Writer) Write(ctx context.Context, queries []Query) error {
	if len(queries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	session := w.driver.NewSession(neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: w.database,
	})
	defer func() { _ = session.Close() }()

	_, err := session.WriteTransaction(func(tx neo4j.Transaction) (interface{}, error) {
		return nil, runAll(ctx, tx, queries)
	})
	if err != nil {
		return fmt.Errorf("write relations: %w", err)
	}
	w.logger.WithField("queries", len(queries)).Info("relations written to graph")
	return nil
}

// Close releases the driver.
func (w *Writer) Close() error {
	return w.driver.Close()
}

func runAll(ctx context.Context, tx neo4j.Transaction, queries []Query) error {
	for i, q := range queries {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := tx.Run(q.Text, q.Params)
		if err != nil {
			return fmt.Errorf("query %d: %w", i, err)
		}
		if res != nil {
			if _, err := res.Consume(); err != nil {
				return fmt.Errorf("query %d: %w", i, err)
			}
		}
	}
	return nil
}
