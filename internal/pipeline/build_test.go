package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinlp/medspan/internal/classify"
	"github.com/clinlp/medspan/internal/deid"
	"github.com/clinlp/medspan/internal/gateway"
	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/tokenize"
)

// idTokenizer encodes every sentence as [CLS] id [SEP].
type idTokenizer int

func (t idTokenizer) Encode(model.Sentence) (*tokenize.Encoding, error) {
	return &tokenize.Encoding{
		IDs:     []int{101, int(t), 102},
		WordIDs: []int{-1, 0, -1},
		Offsets: []model.Offset{{}, {Begin: 0, End: 1}, {}},
	}, nil
}

// stubTokenizers swaps loadTokenizer for one returning idTokenizer values
// keyed by path, and records the paths it was asked for.
func stubTokenizers(t *testing.T, ids map[string]int) *[]string {
	t.Helper()
	var loaded []string
	orig := loadTokenizer
	loadTokenizer = func(path string, maxLen int) (tokenize.Tokenizer, error) {
		loaded = append(loaded, path)
		return idTokenizer(ids[path]), nil
	}
	t.Cleanup(func() { loadTokenizer = orig })
	return &loaded
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// inferServer answers every model with two-class logits and records the
// middle input id each model saw.
func inferServer(t *testing.T) (*httptest.Server, func(string) int) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen = map[string]int{}
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v2/models/"), "/infer")
		var req struct {
			Inputs []struct {
				Name string    `json:"name"`
				Data []float64 `json:"data"`
			} `json:"inputs"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Inputs) == 0 || len(req.Inputs[0].Data) < 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		seen[name] = int(req.Inputs[0].Data[1])
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(gateway.InferResponse{ModelName: name, Outputs: []gateway.OutputTensor{{
			Name: "logits", Shape: []int{1, 2}, Data: []float64{0, 3},
		}}})
	}))
	t.Cleanup(server.Close)
	return server, func(name string) int {
		mu.Lock()
		defer mu.Unlock()
		return seen[name]
	}
}

func buildConfig(t *testing.T, url string) model.Config {
	t.Helper()
	dir := t.TempDir()
	labels := writeFile(t, dir, "config.json", `{"id2label":{"0":"absent","1":"present"}}`)

	cfg := model.DefaultConfig()
	cfg.Gateway.URL = url
	cfg.Gateway.Model = "ner"
	cfg.Pipeline.TokenizerPath = "ner/tokenizer.json"
	cfg.Pipeline.ModelConfigPath = writeFile(t, dir, "ner.json", `{"id2label":{"0":"O","1":"B-DRUG"}}`)
	cfg.Pipeline.Assertion = model.ClassifierConfig{
		Model:           "assertion",
		ModelConfigPath: labels,
		TokenizerPath:   "assertion/tokenizer.json",
	}
	cfg.Pipeline.Relation = model.ClassifierConfig{
		Model:           "relation",
		ModelConfigPath: labels,
		Pairs:           []string{"DRUG:DRUG"},
	}
	return cfg
}

func TestBuild_ClassifierTokenizers(t *testing.T) {
	loaded := stubTokenizers(t, map[string]int{
		"ner/tokenizer.json":       7,
		"assertion/tokenizer.json": 42,
	})
	server, seen := inferServer(t)

	p, err := Build(buildConfig(t, server.URL), Tasks{}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"ner/tokenizer.json", "assertion/tokenizer.json"}, *loaded)

	inputs := []classify.Input{{ID: "a", Text: "aspirin"}}
	outs, err := p.opts.Assertion.Classify(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, "present", outs[0].Label)
	assert.Equal(t, 42, seen("assertion"))

	_, err = p.opts.Relation.Classify(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, 7, seen("relation"), "relation without its own tokenizer reuses the NER one")
}

func TestBuild_FakePoolReadPerCall(t *testing.T) {
	stubTokenizers(t, nil)
	server, _ := inferServer(t)

	cfg := buildConfig(t, server.URL)
	cfg.Pipeline.Assertion = model.ClassifierConfig{}
	cfg.Pipeline.Relation = model.ClassifierConfig{}
	cfg.Deid.PoolPath = writeFile(t, t.TempDir(), "pool.csv", "PERSON\nJane Doe\n")

	p, err := Build(cfg, Tasks{Fake: true}, nil)
	require.NoError(t, err)
	assert.Nil(t, p.opts.Deid.Pool)
	assert.Equal(t, cfg.Deid.PoolPath, p.opts.Deid.PoolPath)

	cfg.Deid.PoolPath = ""
	_, err = Build(cfg, Tasks{Fake: true}, nil)
	assert.Error(t, err)
}

func TestRun_FakePoolReloaded(t *testing.T) {
	path := writeFile(t, t.TempDir(), "pool.csv", "PERSON,SYMPTOM,DRUG\nJane Doe,cough,ibuprofen\n")
	p, err := New(Options{
		NER:      samplePredictor(),
		ID2Label: sampleLabels,
		Deid:     deid.Options{PoolPath: path},
	})
	require.NoError(t, err)

	doc, err := p.Run(context.Background(), Request{Text: sampleText, Tasks: Tasks{Fake: true}})
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe has cough. He takes ibuprofen.", *doc.FakedText)

	require.NoError(t, os.WriteFile(path, []byte("PERSON,SYMPTOM,DRUG\nMax Roe,rash,naproxen\n"), 0o600))
	doc, err = p.Run(context.Background(), Request{Text: sampleText, Tasks: Tasks{Fake: true}})
	require.NoError(t, err)
	assert.Equal(t, "Max Roe has rash. He takes naproxen.", *doc.FakedText)
}
