// Package llm adapts hosted and local language models into translation
// backends.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Provider translates one segment of text.
type Provider interface {
	// Name returns the provider name
	Name() string

	// Translate returns the translation of req.Text
	Translate(ctx context.Context, req TranslateRequest) (*TranslateResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// TranslateRequest is one segment to translate.
type TranslateRequest struct {
	Text string

	// Source and Target are language codes such as "en" or "de".
	Source string
	Target string

	// Model overrides the configured model
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// TranslateResponse holds the translated segment.
type TranslateResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

// Config holds provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "openai",
		Timeout:   30,
		MaxTokens: 1000,
	}
}

const systemPrompt = "You are a medical translator. Translate the user's text faithfully, keeping clinical terminology, numbers and units exact. Leave the placeholders <URL> and <EMAIL> unchanged. Reply with the translation only."

// BuildPrompt constructs the user message for one segment.
func BuildPrompt(text, source, target string) string {
	return fmt.Sprintf("Translate the following text from %s to %s.\n\n%s",
		languageName(source), languageName(target), text)
}

var languageNames = map[string]string{
	"en": "English",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"it": "Italian",
	"nl": "Dutch",
	"pl": "Polish",
	"pt": "Portuguese",
	"tr": "Turkish",
	"ru": "Russian",
	"ar": "Arabic",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"vi": "Vietnamese",
	"th": "Thai",
	"hi": "Hindi",
	"bn": "Bengali",
	"ro": "Romanian",
}

func languageName(code string) string {
	if name, ok := languageNames[strings.ToLower(code)]; ok {
		return name
	}
	return code
}

func pickModel(req, configured, fallback string) string {
	if req != "" {
		return req
	}
	if configured != "" {
		return configured
	}
	return fallback
}

func pickMaxTokens(req, configured int) int {
	if req > 0 {
		return req
	}
	if configured > 0 {
		return configured
	}
	return 1000
}
