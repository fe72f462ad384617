package llm

import (
	"net/http"
	"time"

	"github.com/clinlp/medspan/internal/util"
)

func newHTTPClient(config Config, fallback time.Duration) *http.Client {
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = fallback
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = util.NewProxyFunc(config.HTTPProxy, config.HTTPSProxy, config.NoProxy)
	return &http.Client{Timeout: timeout, Transport: transport}
}
