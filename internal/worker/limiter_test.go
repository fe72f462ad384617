package worker

import (
	"context"
	"testing"

	"github.com/clinlp/medspan/internal/model"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "http://triton:8000/v2/models/ner/infer"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "https://platform.example.com/pub/backend"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.Wait(ctx, "::invalid"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	url := "http://triton:8000/v2/models/ner/infer"

	if err := limiter.Wait(context.Background(), url); err != nil {
		t.Errorf("first wait failed: %v", err)
	}
	// Burst 1 is spent.
	if limiter.Allow(url) {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}
	if !limiter.Allow("http://other:8000") {
		t.Errorf("expected allow for other host")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("http://triton:8000") {
			t.Fatalf("request %d was limited", i)
		}
	}
}

func TestLimiter_FromConfig(t *testing.T) {
	limiter := NewLimiterFromConfig(model.RateLimitingConfig{
		RequestsPerSecond: 100,
		BurstSize:         1,
		PerHost:           map[string]float64{"slow:9000": 0.01},
	})

	if !limiter.Allow("http://slow:9000/a") {
		t.Errorf("first request should pass")
	}
	if limiter.Allow("http://slow:9000/b") {
		t.Errorf("second request should fail")
	}
	if !limiter.Allow("http://fast:9000") {
		t.Errorf("other host should pass")
	}
}

func TestExtractHost(t *testing.T) {
	host, err := extractHost("http://triton:8000/v2")
	if err != nil {
		t.Fatalf("extractHost failed: %v", err)
	}
	if host != "triton:8000" {
		t.Errorf("expected triton:8000, got %s", host)
	}
}
