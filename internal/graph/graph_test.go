package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v4/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinlp/medspan/internal/model"
)

func TestLabel(t *testing.T) {
	cases := map[string]string{
		"DRUG":          "DRUG",
		"SIDE-EFFECT":   "SIDE_EFFECT",
		"dose`) DETACH": "doseDETACH",
		"2nd-line":      "_2nd_line",
	}
	for in, want := range cases {
		got, err := Label(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := Label("`{}`")
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestRelationQueries(t *testing.T) {
	queries, err := RelationQueries([]model.RelationRecord{
		{Label1: "DRUG", Chunk1: "aspirin", Label2: "SYMPTOM", Chunk2: "head-ache", Relation: "DRUG-TREATS"},
	})
	require.NoError(t, err)
	require.Len(t, queries, 1)

	assert.Equal(t, "MERGE (e1:`DRUG` {name: $chunk1}) MERGE (e2:`SYMPTOM` {name: $chunk2}) MERGE (e1)-[:`DRUG_TREATS`]->(e2)", queries[0].Text)
	assert.Equal(t, map[string]any{"chunk1": "aspirin", "chunk2": "head-ache"}, queries[0].Params)

	_, err = RelationQueries([]model.RelationRecord{{Label1: "DRUG", Label2: "", Relation: "X"}})
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestQueriesFromOutput(t *testing.T) {
	body := `{"status": true, "data_type": ["data_json"], "output": {"data_json": {"result": [
		[{"entity1": "DRUG", "chunk1": "aspirin", "entity2": "SYMPTOM", "chunk2": "fever", "label": "TREATS", "score": 0.9}],
		[],
		[{"entity1": "DRUG", "chunk1": "ibuprofen", "entity2": "SYMPTOM", "chunk2": "pain", "label": "TREATS", "score": 0.8}]
	]}}}`

	queries, err := QueriesFromOutput(strings.NewReader(body))
	require.NoError(t, err)
	require.Len(t, queries, 2)
	assert.Equal(t, "ibuprofen", queries[1].Params["chunk1"])

	_, err = QueriesFromOutput(strings.NewReader(`{"output": {}}`))
	assert.Error(t, err)
}

type fakeTx struct {
	neo4j.Transaction
	ran  []string
	fail int
}

func (f *fakeTx) Run(cypher string, params map[string]interface{}) (neo4j.Result, error) {
	if len(f.ran) == f.fail {
		return nil, errors.New("constraint violated")
	}
	f.ran = append(f.ran, cypher)
	return nil, nil
}

func TestRunAll(t *testing.T) {
	queries := []Query{{Text: "A"}, {Text: "B"}, {Text: "C"}}

	tx := &fakeTx{fail: -1}
	require.NoError(t, runAll(context.Background(), tx, queries))
	assert.Equal(t, []string{"A", "B", "C"}, tx.ran)

	tx = &fakeTx{fail: 1}
	err := runAll(context.Background(), tx, queries)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query 1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, runAll(ctx, &fakeTx{fail: -1}, queries), context.Canceled)
}
