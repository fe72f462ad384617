package util

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/clinlp/medspan/internal/model"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy:8080", "http://secure-proxy:8443", "localhost,.internal")

	cases := map[string]string{
		"http://example.com/a":      "http://proxy:8080",
		"https://example.com/a":     "http://secure-proxy:8443",
		"https://localhost/a":       "",
		"https://api.internal/x":    "",
		"http://internal.example/x": "http://proxy:8080",
	}
	for raw, want := range cases {
		u, _ := url.Parse(raw)
		got, err := proxy(&http.Request{URL: u})
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if want == "" {
			if got != nil {
				t.Errorf("%s: expected direct connection, got %v", raw, got)
			}
			continue
		}
		if got == nil || got.String() != want {
			t.Errorf("%s: expected %s, got %v", raw, want, got)
		}
	}
}

func TestNewHTTPClient(t *testing.T) {
	var agent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent = r.Header.Get("User-Agent")
	}))
	defer server.Close()

	client := NewHTTPClient(model.HTTPConfig{Timeout: 5 * time.Second, UserAgent: "medspan-test"})
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout to be set, got %v", client.Timeout)
	}
	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	_ = resp.Body.Close()
	if agent != "medspan-test" {
		t.Errorf("expected user agent medspan-test, got %q", agent)
	}
}
