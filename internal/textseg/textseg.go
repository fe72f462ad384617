// Package textseg splits documents into sentences and words.
package textseg

import (
	"fmt"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/clinlp/medspan/internal/model"
)

// Split segments text into sentences with their document offsets and
// words. Every returned word occurs in its sentence text, in order.
func Split(text string) ([]model.Sentence, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	doc, err := prose.NewDocument(text,
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithTokenization(false),
	)
	if err != nil {
		return nil, fmt.Errorf("segment sentences: %w", err)
	}

	var out []model.Sentence
	cursor := 0
	for _, s := range doc.Sentences() {
		raw := strings.TrimSpace(s.Text)
		if raw == "" {
			continue
		}
		idx := strings.Index(text[cursor:], raw)
		if idx < 0 {
			return nil, fmt.Errorf("sentence %d not found in text", len(out))
		}

		words, err := Words(raw)
		if err != nil {
			return nil, err
		}
		begin := cursor + idx
		out = append(out, model.Sentence{
			Index: len(out),
			Text:  raw,
			Begin: begin,
			End:   begin + len(raw),
			Words: words,
		})
		cursor = begin + len(raw)
	}
	return out, nil
}

// Words tokenizes one sentence. Tokens the tokenizer rewrote so that they
// no longer appear in the sentence are dropped.
func Words(sentence string) ([]string, error) {
	doc, err := prose.NewDocument(sentence,
		prose.WithSegmentation(false),
		prose.WithTagging(false),
		prose.WithExtraction(false),
	)
	if err != nil {
		return nil, fmt.Errorf("tokenize: %w", err)
	}

	var words []string
	cursor := 0
	for _, tok := range doc.Tokens() {
		idx := strings.Index(sentence[cursor:], tok.Text)
		if tok.Text == "" || idx < 0 {
			continue
		}
		words = append(words, tok.Text)
		cursor += idx + len(tok.Text)
	}
	return words, nil
}
