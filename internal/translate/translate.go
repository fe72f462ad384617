// Package translate splits documents into model-sized segments and
// translates them through an llm.Provider.
package translate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/cache"
	"github.com/clinlp/medspan/internal/llm"
	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/metrics"
	"github.com/clinlp/medspan/internal/textseg"
)

// ErrUnsupportedLanguage is returned for language codes outside Languages.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// DefaultMaxWords bounds the words per segment sent to the model.
const DefaultMaxWords = 80

const (
	urlPlaceholder   = "<URL>"
	emailPlaceholder = "<EMAIL>"
)

// Languages lists the supported language codes.
var Languages = map[string]string{
	"en": "english",
	"de": "german",
	"fr": "french",
	"es": "spanish",
	"it": "italian",
	"nl": "dutch",
	"pl": "polish",
	"pt": "portuguese",
	"tr": "turkish",
	"ru": "russian",
	"ar": "arabic",
	"zh": "chinese",
	"ja": "japanese",
	"ko": "korean",
	"vi": "vietnamese",
	"th": "thai",
	"hi": "hindi",
	"bn": "bengali",
	"ro": "romanian",
}

var (
	urlPattern   = regexp.MustCompile(`\b(?:https?://|ftp://|www\.)\S+(?:/\S+)?\b`)
	emailPattern = regexp.MustCompile(`\b[\w.-]+@[\w.-]+\.\w{2,4}\b`)
)

// Result is the translation task answer.
type Result struct {
	OutputLanguage string   `json:"output_language"`
	TranslatedText []string `json:"translated_text"`
}

// Options configures a Translator.
type Options struct {
	MaxWords int
	Model    string

	// Cache, when set, stores translated segments for CacheTTL.
	Cache    cache.Cache
	CacheTTL time.Duration

	Logger logrus.FieldLogger
}

// Translator translates documents segment by segment.
type Translator struct {
	provider llm.Provider
	opts     Options
	logger   logrus.FieldLogger
}

// New creates a Translator.
func New(provider llm.Provider, o Options) *Translator {
	if o.MaxWords <= 0 {
		o.MaxWords = DefaultMaxWords
	}
	return &Translator{provider: provider, opts: o, logger: logging.OrDiscard(o.Logger)}
}

// Translate translates each text from source to target. Paragraph breaks
// survive. URLs and e-mail addresses are kept out of the model input and
// put back afterwards.
func (t *Translator) Translate(ctx context.Context, texts []string, source, target string) (*Result, error) {
	for _, code := range []string{source, target} {
		if _, ok := Languages[code]; !ok {
			return nil, fmt.Errorf("%q: %w", code, ErrUnsupportedLanguage)
		}
	}

	out := make([]string, 0, len(texts))
	for i, text := range texts {
		var (
			translated string
			err        error
		)
		if source == "zh" {
			translated, err = t.chinese(ctx, text, source, target)
		} else {
			translated, err = t.text(ctx, text, source, target)
		}
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out = append(out, translated)
	}

	t.logger.WithFields(logrus.Fields{
		"texts":  len(texts),
		"source": source,
		"target": target,
	}).Debug("translation finished")
	return &Result{OutputLanguage: target, TranslatedText: out}, nil
}

func (t *Translator) text(ctx context.Context, text, source, target string) (string, error) {
	masked, urls, emails := Mask(text)

	paragraphs, err := Segment(masked, t.opts.MaxWords)
	if err != nil {
		return "", err
	}

	lines := make([]string, len(paragraphs))
	for i, chunks := range paragraphs {
		parts := make([]string, 0, len(chunks))
		for _, c := range chunks {
			tr, err := t.segment(ctx, c, source, target)
			if err != nil {
				return "", err
			}
			parts = append(parts, tr)
		}
		lines[i] = strings.Join(parts, " ")
	}
	return Unmask(strings.Join(lines, "\n"), urls, emails), nil
}

// chinese splits paragraphs after each full-width sentence mark.
func (t *Translator) chinese(ctx context.Context, text, source, target string) (string, error) {
	paragraphs := strings.Split(text, "\n")
	lines := make([]string, len(paragraphs))
	for i, p := range paragraphs {
		var parts []string
		for _, s := range SplitChinese(p) {
			tr, err := t.segment(ctx, s, source, target)
			if err != nil {
				return "", err
			}
			parts = append(parts, tr)
		}
		lines[i] = strings.Join(parts, " ")
	}
	return strings.Join(lines, "\n"), nil
}

func (t *Translator) segment(ctx context.Context, text, source, target string) (string, error) {
	var key string
	if t.opts.Cache != nil {
		key = cache.CacheKey("translate", t.provider.Name(), t.opts.Model, source, target, text)
		if v, ok := t.opts.Cache.Get(key); ok {
			metrics.SegmentsTranslated.WithLabelValues("cached").Inc()
			return string(v), nil
		}
	}

	resp, err := t.provider.Translate(ctx, llm.TranslateRequest{
		Text:   text,
		Source: source,
		Target: target,
		Model:  t.opts.Model,
	})
	if err != nil {
		return "", fmt.Errorf("translate segment: %w", err)
	}
	metrics.SegmentsTranslated.WithLabelValues("translated").Inc()

	if t.opts.Cache != nil {
		if err := t.opts.Cache.Set(key, []byte(resp.Text), t.opts.CacheTTL); err != nil {
			t.logger.WithError(err).Warn("failed to cache translation")
		}
	}
	return resp.Text, nil
}

// Segment splits text into paragraphs at newlines and each paragraph into
// chunks of whole sentences holding at most maxWords words. A sentence
// longer than maxWords is a chunk of its own. Blank paragraphs have no
// chunks.
func Segment(text string, maxWords int) ([][]string, error) {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}

	paragraphs := strings.Split(text, "\n")
	out := make([][]string, len(paragraphs))
	for i, p := range paragraphs {
		sentences, err := textseg.Split(p)
		if err != nil {
			return nil, fmt.Errorf("paragraph %d: %w", i, err)
		}

		var (
			chunks  []string
			current []string
			count   int
		)
		for _, s := range sentences {
			n := len(s.Words)
			if count+n > maxWords && len(current) > 0 {
				chunks = append(chunks, strings.Join(current, " "))
				current, count = nil, 0
			}
			current = append(current, s.Text)
			count += n
		}
		if len(current) > 0 {
			chunks = append(chunks, strings.Join(current, " "))
		}
		out[i] = chunks
	}
	return out, nil
}

// SplitChinese splits text after 。！？, keeping each mark with its
// sentence and dropping empty pieces.
func SplitChinese(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '。' || r == '！' || r == '？' {
			end := i + len(string(r))
			if s := strings.TrimSpace(text[start:end]); s != "" {
				out = append(out, s)
			}
			start = end
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Mask replaces URLs and e-mail addresses with placeholders and returns
// the originals in order.
func Mask(text string) (string, []string, []string) {
	urls := urlPattern.FindAllString(text, -1)
	text = urlPattern.ReplaceAllLiteralString(text, urlPlaceholder)
	emails := emailPattern.FindAllString(text, -1)
	text = emailPattern.ReplaceAllLiteralString(text, emailPlaceholder)
	return text, urls, emails
}

// Unmask puts the originals back into the placeholders, first to last.
// Placeholders the model dropped leave their originals unused.
func Unmask(text string, urls, emails []string) string {
	for _, u := range urls {
		text = strings.Replace(text, urlPlaceholder, u, 1)
	}
	for _, e := range emails {
		text = strings.Replace(text, emailPlaceholder, e, 1)
	}
	return text
}
