// Package license fetches model public keys from the license manager and
// validates the access tokens signed with them.
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/cache"
	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/metrics"
	"github.com/clinlp/medspan/internal/model"
)

var (
	// ErrUnavailable is returned when the license manager cannot be reached.
	ErrUnavailable = errors.New("license manager unavailable")
	// ErrNoPublicKey is returned when the license manager sends no key.
	ErrNoPublicKey = errors.New("no public key received")
	// ErrInvalidToken is returned for tokens that fail validation.
	ErrInvalidToken = errors.New("invalid token")
)

// Options tunes a Manager. Zero values fall back to the configuration.
type Options struct {
	HTTPClient *http.Client
	// Backoff decides the wait between health check attempts. The default
	// waits RetryDelay every time.
	Backoff retryablehttp.Backoff
	Logger  logrus.FieldLogger
}

// Manager caches one public key per model and validates tokens with it.
// Build one per process and share it.
type Manager struct {
	baseURL string
	keyTTL  time.Duration
	retry   *retryablehttp.Client
	plain   *http.Client
	cache   cache.Cache
	logger  logrus.FieldLogger
	parser  *jwt.Parser

	mu sync.Mutex
}

// NewManager creates a Manager for cfg.ManagerURL storing keys in c.
func NewManager(cfg model.LicenseConfig, c cache.Cache, o Options) (*Manager, error) {
	if cfg.ManagerURL == "" {
		return nil, fmt.Errorf("license manager url is not set")
	}
	if c == nil {
		c = cache.NewMemoryCache(cfg.KeyTTL, 10*time.Minute)
	}

	httpClient := o.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	delay := cfg.RetryDelay
	backoff := o.Backoff
	if backoff == nil {
		backoff = func(_, _ time.Duration, _ int, _ *http.Response) time.Duration {
			return delay
		}
	}

	retry := retryablehttp.NewClient()
	retry.HTTPClient = httpClient
	retry.RetryMax = max(cfg.MaxRetries-1, 0)
	retry.RetryWaitMin = delay
	retry.RetryWaitMax = delay
	retry.Backoff = backoff
	retry.CheckRetry = retryOnHTTPError
	retry.Logger = nil

	return &Manager{
		baseURL: strings.TrimRight(cfg.ManagerURL, "/"),
		keyTTL:  cfg.KeyTTL,
		retry:   retry,
		plain:   httpClient,
		cache:   c,
		logger:  logging.OrDiscard(o.Logger),
		parser:  jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
	}, nil
}

// retryOnHTTPError retries transport failures and every error status.
func retryOnHTTPError(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err == nil && resp.StatusCode >= 400 {
		return true, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// HealthCheck calls the manager's ok endpoint, retrying with the
// configured policy.
func (m *Manager) HealthCheck(ctx context.Context) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+"/aimped/ok/", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := m.retry.Do(req)
	if err != nil {
		metrics.PlatformRequests.WithLabelValues("license_ok", "error").Inc()
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.PlatformRequests.WithLabelValues("license_ok", fmt.Sprint(resp.StatusCode)).Inc()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

type credentialsResponse struct {
	PublicKey string `json:"public_key"`
	Message   string `json:"message"`
}

// RequestPublicKey asks the manager for modelName's public key in PEM form.
func (m *Manager) RequestPublicKey(ctx context.Context, modelName string) (string, error) {
	body, err := json.Marshal(map[string]string{"model_name": modelName})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/aimped/credentials/", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.plain.Do(req)
	if err != nil {
		metrics.PlatformRequests.WithLabelValues("license_credentials", "error").Inc()
		return "", fmt.Errorf("request public key: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.PlatformRequests.WithLabelValues("license_credentials", fmt.Sprint(resp.StatusCode)).Inc()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var cr credentialsResponse
	decodeErr := json.Unmarshal(data, &cr)

	if resp.StatusCode >= 400 {
		if cr.Message != "" {
			return "", fmt.Errorf("license manager: %s", cr.Message)
		}
		return "", fmt.Errorf("request public key: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("parse public key response: %w", decodeErr)
	}

	key := strings.TrimSpace(cr.PublicKey)
	if key == "" {
		return "", ErrNoPublicKey
	}
	m.logger.WithField("model", modelName).Info("received public key")
	return key, nil
}

func (m *Manager) cacheKey(modelName string) string {
	return cache.CacheKey("public_key", m.baseURL, modelName)
}

// GetOrFetch returns the cached key for modelName, or checks the manager's
// health and requests a new one.
func (m *Manager) GetOrFetch(ctx context.Context, modelName string) (string, error) {
	key, _, err := m.getOrFetch(ctx, modelName)
	return key, err
}

func (m *Manager) getOrFetch(ctx context.Context, modelName string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.cache.Get(m.cacheKey(modelName)); ok {
		metrics.CredentialCacheLookups.WithLabelValues("hit").Inc()
		return string(v), true, nil
	}
	metrics.CredentialCacheLookups.WithLabelValues("miss").Inc()

	if err := m.HealthCheck(ctx); err != nil {
		return "", false, err
	}
	key, err := m.RequestPublicKey(ctx, modelName)
	if err != nil {
		return "", false, err
	}
	if err := m.cache.Set(m.cacheKey(modelName), []byte(key), m.keyTTL); err != nil {
		m.logger.WithError(err).Warn("could not cache public key")
	}
	return key, false, nil
}

// Invalidate forgets modelName's key.
func (m *Manager) Invalidate(modelName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cache.Delete(m.cacheKey(modelName))
}

// ValidateToken verifies an RS256 token against the public key of the
// model named in its model_name claim. A "Bearer " prefix is accepted.
// When a cached key fails to verify the signature, the key is fetched
// again once before giving up.
func (m *Manager) ValidateToken(ctx context.Context, token string) (jwt.MapClaims, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))

	unverified := jwt.MapClaims{}
	if _, _, err := m.parser.ParseUnverified(token, unverified); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	modelName, _ := unverified["model_name"].(string)
	if modelName == "" {
		return nil, fmt.Errorf("%w: missing model_name claim", ErrInvalidToken)
	}

	pem, cached, err := m.getOrFetch(ctx, modelName)
	if err != nil {
		return nil, err
	}

	claims, err := m.verify(token, pem)
	if err != nil && cached && errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		m.logger.WithField("model", modelName).Info("signature mismatch with cached key, refetching")
		if err := m.Invalidate(modelName); err != nil {
			m.logger.WithError(err).Warn("could not drop cached key")
		}
		if pem, _, err = m.getOrFetch(ctx, modelName); err != nil {
			return nil, err
		}
		claims, err = m.verify(token, pem)
	}
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return claims, nil
}

func (m *Manager) verify(token, pem string) (jwt.MapClaims, error) {
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	claims := jwt.MapClaims{}
	if _, err := m.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}); err != nil {
		return nil, err
	}
	return claims, nil
}
