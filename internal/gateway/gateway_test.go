package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clinlp/medspan/internal/classify"
	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/tokenize"
)

type fixedTokenizer struct {
	enc *tokenize.Encoding
}

func (f fixedTokenizer) Encode(model.Sentence) (*tokenize.Encoding, error) { return f.enc, nil }

func TestNewOutput(t *testing.T) {
	out, err := NewOutput([]map[string]any{{"label": "present", "score": 0.5}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"status":true,"data_type":["data_json"],"output":{"data_json":{"result":[{"label":"present","score":0.5}]}}}`
	if string(data) != want {
		t.Errorf("expected %s, got %s", want, data)
	}

	var back []LabelScore
	if err := out.Result(&back); err != nil {
		t.Fatalf("result: %v", err)
	}
	if len(back) != 1 || back[0].Label != "present" {
		t.Errorf("unexpected result %+v", back)
	}
}

func TestParsePayload_Text(t *testing.T) {
	p, err := ParsePayload([]byte(`{"text":["hello there"],"entity":["PERSON"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DataType() != DataJSON {
		t.Errorf("expected data_json, got %s", p.DataType())
	}
	if len(p.Text) != 1 || p.Text[0] != "hello there" {
		t.Errorf("unexpected text %v", p.Text)
	}
	if _, ok := p.Extra["entity"]; !ok {
		t.Error("expected entity to stay in extra fields")
	}

	items, err := p.Items()
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if items[0].Source != SourcePlainText {
		t.Errorf("expected plain text, got %s", items[0].Source)
	}
}

func TestParsePayload_Errors(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"not json":      `{text`,
		"missing text":  `{"entity":["X"]}`,
		"empty list":    `{"text":[]}`,
		"not a list":    `{"text":"abc"}`,
		"bad file type": `{"file_type":"exe","exe":["a.exe"]}`,
		"missing files": `{"file_type":"pdf","text":["a"]}`,
	}
	for name, body := range cases {
		if _, err := ParsePayload([]byte(body)); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%s: expected ErrInvalidPayload, got %v", name, err)
		}
	}
}

func TestPayloadItems_Files(t *testing.T) {
	p, err := ParsePayload([]byte(`{"file_type":"pdf","pdf":["input/abc/report.pdf","https://example.com/x.pdf?v=1"]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DataType() != DataPDF || p.Extension() != ".pdf" {
		t.Errorf("unexpected type %s %s", p.DataType(), p.Extension())
	}
	items, err := p.Items()
	if err != nil {
		t.Fatalf("items: %v", err)
	}
	if items[0].Source != SourceS3 || items[1].Source != SourceURL {
		t.Errorf("unexpected sources %+v", items)
	}

	p.Files = []string{"input/abc/report.txt"}
	if _, err := p.Items(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected extension error, got %v", err)
	}
}

func TestPayloadItems_RejectsNonTextInDataJSON(t *testing.T) {
	p := &Payload{Text: []string{"https://example.com"}}
	if _, err := p.Items(); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("expected ErrInvalidPayload, got %v", err)
	}
}

func TestDataSource(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(local, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}

	cases := map[string]Source{
		"input/2024/a.pdf":          SourceS3,
		"https://example.com/a.png": SourceURL,
		"http://example.com":        SourceURL,
		local:                       SourceLocalPath,
		"aGVsbG8gd29ybGQgYWdhaW4=":  SourceBase64,
		"test":                      SourcePlainText,
		"Patient has a fever.":      SourcePlainText,
	}
	for in, want := range cases {
		if got := DataSource(in); got != want {
			t.Errorf("DataSource(%q) = %s, expected %s", in, got, want)
		}
	}
}

func TestCheckText(t *testing.T) {
	if err := CheckText(10, "hello", "world"); err != nil {
		t.Errorf("expected 10 characters to pass, got %v", err)
	}
	if err := CheckText(10, "hello", "world!"); !errors.Is(err, ErrTextLimit) {
		t.Errorf("expected ErrTextLimit, got %v", err)
	}
	// Characters, not bytes.
	if err := CheckText(3, "çöü"); err != nil {
		t.Errorf("expected multibyte text to count runes, got %v", err)
	}
	if err := CheckText(0, strings.Repeat("a", DefaultTextLimit+1)); !errors.Is(err, ErrTextLimit) {
		t.Errorf("expected default limit to apply, got %v", err)
	}
}

func TestSoftmaxArgmax(t *testing.T) {
	p := Softmax([]float64{1, 2, 3})
	var sum float64
	for _, v := range p {
		sum += v
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("expected probabilities to sum to 1, got %f", sum)
	}
	if Argmax(p) != 2 {
		t.Errorf("expected argmax 2, got %d", Argmax(p))
	}
	if len(Softmax(nil)) != 0 {
		t.Error("expected empty softmax for empty input")
	}
}

func tritonServer(t *testing.T, outputs []OutputTensor, seen *InferRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("CF-Access-Client-Id") != "id" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path == "/v2/models/ner/ready" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != "/v2/models/ner/infer" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("unknown model"))
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		_ = json.NewEncoder(w).Encode(InferResponse{ModelName: "ner", ModelVersion: "1", Outputs: outputs})
	}))
}

func TestTritonPredictor(t *testing.T) {
	// [CLS] fever [SEP] with two classes: O, SYMPTOM.
	outputs := []OutputTensor{{
		Name:     "logits",
		Shape:    []int{1, 3, 2},
		DataType: "FP32",
		Data:     []float64{5, 0, 0, 3, 5, 0},
	}}
	var seen InferRequest
	server := tritonServer(t, outputs, &seen)
	defer server.Close()

	client := NewTritonClient(server.URL+"/", TritonOptions{Headers: map[string]string{"CF-Access-Client-Id": "id"}})
	enc := &tokenize.Encoding{
		IDs:     []int{101, 7, 102},
		WordIDs: []int{-1, 0, -1},
		Offsets: []model.Offset{{}, {Begin: 0, End: 5}, {}},
	}

	if err := client.Ready(context.Background(), "ner"); err != nil {
		t.Fatalf("ready: %v", err)
	}

	pred, err := client.Predictor("ner", fixedTokenizer{enc}).Predict(context.Background(), model.Sentence{Text: "fever", Words: []string{"fever"}})
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(seen.Inputs) != 2 || seen.Inputs[0].Name != "input_ids" || seen.Inputs[1].Name != "attention_mask" {
		t.Fatalf("unexpected inputs %+v", seen.Inputs)
	}
	if seen.Inputs[0].DataType != "INT64" || seen.Inputs[0].Shape[1] != 3 {
		t.Errorf("unexpected tensor %+v", seen.Inputs[0])
	}
	if pred.Labels[1] != 1 {
		t.Errorf("expected class 1 at position 1, got %d", pred.Labels[1])
	}
	if pred.Probabilities[1][1] < 0.9 {
		t.Errorf("expected confident probability, got %f", pred.Probabilities[1][1])
	}
	if pred.Offsets[1].End != 5 {
		t.Errorf("expected offsets to carry through, got %+v", pred.Offsets[1])
	}
}

func TestTritonError(t *testing.T) {
	server := tritonServer(t, nil, nil)
	defer server.Close()

	client := NewTritonClient(server.URL, TritonOptions{Headers: map[string]string{"CF-Access-Client-Id": "id"}})
	_, err := client.Infer(context.Background(), "missing", &tokenize.Encoding{IDs: []int{1}})
	if err == nil || !strings.Contains(err.Error(), "triton error 404: unknown model") {
		t.Errorf("expected triton error, got %v", err)
	}
}

func TestTritonClassifier(t *testing.T) {
	outputs := []OutputTensor{{Name: "logits", Shape: []int{1, 3}, Data: []float64{0, 4, 1}}}
	server := tritonServer(t, outputs, nil)
	defer server.Close()

	client := NewTritonClient(server.URL, TritonOptions{Headers: map[string]string{"CF-Access-Client-Id": "id"}})
	enc := &tokenize.Encoding{IDs: []int{101, 5, 102}}
	c := client.Classifier("ner", fixedTokenizer{enc}, map[int]string{0: "absent", 1: "present", 2: "hypothetical"})

	outs, err := c.Classify(context.Background(), []classify.Input{{ID: "a", Text: "x"}, {ID: "b", Text: "y"}})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(outs) != 2 || outs[1].ID != "b" || outs[0].Label != "present" {
		t.Errorf("unexpected outputs %+v", outs)
	}
}

func TestTritonClassifier_EmptyLogits(t *testing.T) {
	outputs := []OutputTensor{{Name: "logits", Shape: []int{1, 3}, Data: []float64{}}}
	server := tritonServer(t, outputs, nil)
	defer server.Close()

	client := NewTritonClient(server.URL, TritonOptions{Headers: map[string]string{"CF-Access-Client-Id": "id"}})
	c := client.Classifier("ner", fixedTokenizer{&tokenize.Encoding{IDs: []int{101, 5, 102}}}, map[int]string{0: "absent"})

	_, err := c.Classify(context.Background(), []classify.Input{{ID: "a", Text: "x"}})
	if !errors.Is(err, ErrNoOutput) {
		t.Errorf("expected ErrNoOutput for empty logits, got %v", err)
	}
}

func TestLogits_NoOutput(t *testing.T) {
	r := &InferResponse{}
	if _, err := r.Logits("logits"); !errors.Is(err, ErrNoOutput) {
		t.Errorf("expected ErrNoOutput, got %v", err)
	}
	r.Outputs = []OutputTensor{{Name: "a", Shape: []int{3}, Data: []float64{1, 2}}}
	if _, err := r.Logits("logits"); !errors.Is(err, ErrNoOutput) {
		t.Errorf("expected ErrNoOutput for ragged data, got %v", err)
	}
	r.Outputs = []OutputTensor{{Name: "logits", Shape: []int{1, 3}}}
	if _, err := r.Logits("logits"); !errors.Is(err, ErrNoOutput) {
		t.Errorf("expected ErrNoOutput for empty data, got %v", err)
	}
}

func TestLoadID2Label(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"id2label":{"0":"O","1":"B-DRUG","2":"I-DRUG"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadID2Label(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got[1] != "B-DRUG" || len(got) != 3 {
		t.Errorf("unexpected mapping %v", got)
	}

	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadID2Label(path); err == nil {
		t.Error("expected error for config without labels")
	}
}
