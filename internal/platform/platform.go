// Package platform is a client for the hosted model platform API.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/metrics"
	"github.com/clinlp/medspan/internal/worker"
)

// ErrStatus is returned for non-2xx responses.
var ErrStatus = errors.New("unexpected status")

// Authorizer supplies the Authorization header for platform calls.
type Authorizer interface {
	AuthHeader() (string, error)
}

// Options configures a Client.
type Options struct {
	HTTPClient *http.Client
	Limiter    *worker.Limiter
	Logger     logrus.FieldLogger
	// PollInterval is the wait between pod status checks.
	PollInterval time.Duration
	// SettleDelay is the wait after a pod reports running before the model
	// is called.
	SettleDelay time.Duration
}

// Client calls the platform's public backend.
type Client struct {
	baseURL      string
	auth         Authorizer
	http         *http.Client
	limiter      *worker.Limiter
	logger       logrus.FieldLogger
	pollInterval time.Duration
	settleDelay  time.Duration
}

// sleepFunc waits for d or until ctx is done. Tests replace it.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// New creates a Client for the platform at baseURL.
func New(baseURL string, auth Authorizer, o Options) *Client {
	client := o.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	poll := o.PollInterval
	if poll <= 0 {
		poll = 15 * time.Second
	}
	settle := o.SettleDelay
	if settle <= 0 {
		settle = 10 * time.Second
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		auth:         auth,
		http:         client,
		limiter:      o.Limiter,
		logger:       logging.OrDiscard(o.Logger),
		pollInterval: poll,
		settleDelay:  settle,
	}
}

// RunModel sends payload to the model and returns the raw response body.
func (c *Client) RunModel(ctx context.Context, modelID int, payload any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	u := fmt.Sprintf("%s/pub/backend/api/v1/model_run_prediction/%d/", c.baseURL, modelID)
	return c.doJSON(ctx, "run_model", http.MethodPost, u, "application/json", bytes.NewReader(body), true)
}

// PodLog is the deployment status of a model's pod.
type PodLog struct {
	Waiting string          `json:"waiting,omitempty"`
	Error   string          `json:"error,omitempty"`
	Running json.RawMessage `json:"running,omitempty"`
}

// IsRunning reports whether the pod is up.
func (p *PodLog) IsRunning() bool {
	switch strings.TrimSpace(string(p.Running)) {
	case "", "null", "false", "{}", "[]", `""`, "0":
		return false
	}
	return true
}

// WaitingReason returns the waiting state without its "Container" prefix.
func (p *PodLog) WaitingReason() string {
	return strings.ReplaceAll(p.Waiting, "Container", "")
}

// PodLogResult returns the status of the model's pod.
func (c *Client) PodLogResult(ctx context.Context, modelID int) (*PodLog, error) {
	q := url.Values{}
	q.Set("model_id", fmt.Sprint(modelID))
	q.Set("instance_id", "")
	q.Set("is_dedicated", "")
	u := c.baseURL + "/pub/backend/get_pod_log?" + q.Encode()

	raw, err := c.doJSON(ctx, "pod_log", http.MethodGet, u, "", nil, false)
	if err != nil {
		return nil, err
	}
	var pl PodLog
	if err := json.Unmarshal(raw, &pl); err != nil {
		return nil, fmt.Errorf("decode pod log: %w", err)
	}
	return &pl, nil
}

// FileUpload uploads the file at path for the model.
func (c *Client) FileUpload(ctx context.Context, modelID int, path string) (json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	u := fmt.Sprintf("%s/pub/backend/api/v1/file_upload/%d", c.baseURL, modelID)
	return c.doJSON(ctx, "file_upload", http.MethodPost, u, mw.FormDataContentType(), &buf, true)
}

// FileDownload streams the platform file source into target and returns
// target. A partial file is removed on failure.
func (c *Client) FileDownload(ctx context.Context, source, target string) (string, error) {
	u := c.baseURL + "/pub/backend/api/v1/file_download?file=" + url.QueryEscape(source)
	resp, err := c.do(ctx, "file_download", http.MethodGet, u, "", nil, true)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create target dir: %w", err)
	}
	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create target: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(target)
		return "", fmt.Errorf("write target: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("close target: %w", err)
	}
	return target, nil
}

func (c *Client) doJSON(ctx context.Context, endpoint, method, u, contentType string, body io.Reader, authed bool) (json.RawMessage, error) {
	resp, err := c.do(ctx, endpoint, method, u, contentType, body, authed)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s: response is not json", endpoint)
	}
	return json.RawMessage(data), nil
}

// do sends the request and returns the response for 2xx statuses.
func (c *Client) do(ctx context.Context, endpoint, method, u, contentType string, body io.Reader, authed bool) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, u); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if authed && c.auth != nil {
		header, err := c.auth.AuthHeader()
		if err != nil {
			return nil, fmt.Errorf("authorize: %w", err)
		}
		req.Header.Set("Authorization", header)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.PlatformRequests.WithLabelValues(endpoint, "error").Inc()
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	metrics.PlatformRequests.WithLabelValues(endpoint, fmt.Sprint(resp.StatusCode)).Inc()
	c.logger.WithFields(logrus.Fields{"endpoint": endpoint, "status": resp.StatusCode}).Debug("platform call")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s: %w %d: %s", endpoint, ErrStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}
