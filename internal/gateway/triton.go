package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/align"
	"github.com/clinlp/medspan/internal/classify"
	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/metrics"
	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/tokenize"
	"github.com/clinlp/medspan/internal/worker"
)

// ErrNoOutput is returned when an inference response carries no usable tensor.
var ErrNoOutput = errors.New("inference response has no output tensor")

// Tensor is a tensor in the KServe v2 JSON protocol.
type Tensor struct {
	Name     string `json:"name"`
	Shape    []int  `json:"shape"`
	DataType string `json:"datatype"`
	Data     any    `json:"data"`
}

// InferRequest is the body of an infer call.
type InferRequest struct {
	Inputs  []Tensor          `json:"inputs"`
	Outputs []RequestedOutput `json:"outputs,omitempty"`
}

// RequestedOutput names an output tensor to return.
type RequestedOutput struct {
	Name string `json:"name"`
}

// OutputTensor is a returned tensor. Data is flattened row-major.
type OutputTensor struct {
	Name     string    `json:"name"`
	Shape    []int     `json:"shape"`
	DataType string    `json:"datatype"`
	Data     []float64 `json:"data"`
}

// InferResponse is the body of an infer reply.
type InferResponse struct {
	ModelName    string         `json:"model_name"`
	ModelVersion string         `json:"model_version"`
	Outputs      []OutputTensor `json:"outputs"`
}

// TritonOptions configures a TritonClient.
type TritonOptions struct {
	// Headers are sent with every request (for example Cloudflare Access
	// client id and secret).
	Headers    map[string]string
	OutputName string
	HTTPClient *http.Client
	Limiter    *worker.Limiter
	Logger     logrus.FieldLogger
}

// TritonClient calls a Triton inference server.
type TritonClient struct {
	baseURL    string
	headers    map[string]string
	outputName string
	http       *http.Client
	limiter    *worker.Limiter
	logger     logrus.FieldLogger
}

// NewTritonClient creates a client for the server at baseURL.
func NewTritonClient(baseURL string, o TritonOptions) *TritonClient {
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	name := o.OutputName
	if name == "" {
		name = "logits"
	}
	return &TritonClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    o.Headers,
		outputName: name,
		http:       client,
		limiter:    o.Limiter,
		logger:     logging.OrDiscard(o.Logger),
	}
}

// Ready reports whether the model is loaded.
func (c *TritonClient) Ready(ctx context.Context, modelName string) error {
	url := fmt.Sprintf("%s/v2/models/%s/ready", c.baseURL, modelName)
	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("model %s not ready: status %d", modelName, resp.StatusCode)
	}
	return nil
}

// Infer runs the model on one encoding.
func (c *TritonClient) Infer(ctx context.Context, modelName string, enc *tokenize.Encoding) (*InferResponse, error) {
	n := enc.Len()
	ids := make([]int64, n)
	for i, id := range enc.IDs {
		ids[i] = int64(id)
	}
	mask := make([]int64, n)
	for i, m := range enc.AttentionMask() {
		mask[i] = int64(m)
	}

	body, err := json.Marshal(InferRequest{Inputs: []Tensor{
		{Name: "input_ids", Shape: []int{1, n}, DataType: "INT64", Data: ids},
		{Name: "attention_mask", Shape: []int{1, n}, DataType: "INT64", Data: mask},
	}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v2/models/%s/infer", c.baseURL, modelName)
	resp, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("triton error %d: %s", resp.StatusCode, string(msg))
	}

	var out InferResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}

func (c *TritonClient) do(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.PlatformRequests.WithLabelValues("triton", "error").Inc()
		return nil, fmt.Errorf("triton request: %w", err)
	}
	metrics.PlatformRequests.WithLabelValues("triton", fmt.Sprint(resp.StatusCode)).Inc()
	c.logger.WithFields(logrus.Fields{"url": url, "status": resp.StatusCode}).Debug("triton call")
	return resp, nil
}

// Logits returns the named output reshaped to rows of class scores. The
// leading batch dimension of size one is dropped.
func (r *InferResponse) Logits(name string) ([][]float64, error) {
	var t *OutputTensor
	for i := range r.Outputs {
		if r.Outputs[i].Name == name {
			t = &r.Outputs[i]
			break
		}
	}
	if t == nil && len(r.Outputs) == 1 {
		t = &r.Outputs[0]
	}
	if t == nil || len(t.Shape) == 0 {
		return nil, fmt.Errorf("%q: %w", name, ErrNoOutput)
	}

	classes := t.Shape[len(t.Shape)-1]
	if classes <= 0 || len(t.Data) == 0 || len(t.Data)%classes != 0 {
		return nil, fmt.Errorf("%q shape %v with %d values: %w", name, t.Shape, len(t.Data), ErrNoOutput)
	}
	rows := make([][]float64, len(t.Data)/classes)
	for i := range rows {
		rows[i] = t.Data[i*classes : (i+1)*classes]
	}
	return rows, nil
}

// Softmax returns the normalized exponentials of logits.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	m := logits[0]
	for _, v := range logits[1:] {
		m = math.Max(m, v)
	}
	var sum float64
	for i, v := range logits {
		out[i] = math.Exp(v - m)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

// Predictor returns an align.Predictor that encodes each sentence with tk
// and runs the token classification model.
func (c *TritonClient) Predictor(modelName string, tk tokenize.Tokenizer) align.Predictor {
	return align.PredictorFunc(func(ctx context.Context, sentence model.Sentence) (*align.Prediction, error) {
		enc, err := tk.Encode(sentence)
		if err != nil {
			return nil, err
		}
		resp, err := c.Infer(ctx, modelName, enc)
		if err != nil {
			return nil, err
		}
		rows, err := resp.Logits(c.outputName)
		if err != nil {
			return nil, err
		}
		if len(rows) != enc.Len() {
			return nil, fmt.Errorf("%d logit rows for %d subwords: %w", len(rows), enc.Len(), align.ErrShapeMismatch)
		}

		pred := &align.Prediction{
			WordIDs:       enc.WordIDs,
			Labels:        make([]int, len(rows)),
			Probabilities: make([][]float64, len(rows)),
			Offsets:       enc.Offsets,
		}
		for i, row := range rows {
			pred.Probabilities[i] = Softmax(row)
			pred.Labels[i] = Argmax(row)
		}
		return pred, nil
	})
}

// Classifier returns a classify.Classifier backed by a sequence
// classification model. Each input is encoded and scored on its own.
func (c *TritonClient) Classifier(modelName string, tk tokenize.Tokenizer, id2label map[int]string) classify.Classifier {
	return classify.ClassifierFunc(func(ctx context.Context, inputs []classify.Input) ([]classify.Output, error) {
		out := make([]classify.Output, len(inputs))
		for i, in := range inputs {
			enc, err := tk.Encode(model.Sentence{Index: i, Text: in.Text})
			if err != nil {
				return nil, err
			}
			resp, err := c.Infer(ctx, modelName, enc)
			if err != nil {
				return nil, err
			}
			rows, err := resp.Logits(c.outputName)
			if err != nil {
				return nil, err
			}
			if len(rows) == 0 {
				return nil, fmt.Errorf("%q: %w", c.outputName, ErrNoOutput)
			}
			probs := Softmax(rows[0])
			best := Argmax(probs)
			label, ok := id2label[best]
			if !ok {
				return nil, fmt.Errorf("class %d: %w", best, align.ErrUnknownLabelID)
			}
			out[i] = classify.Output{ID: in.ID, Label: label, Score: probs[best]}
		}
		return out, nil
	})
}
