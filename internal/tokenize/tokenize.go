// Package tokenize encodes sentences into subword ids with word alignment.
package tokenize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/clinlp/medspan/internal/model"
)

// ErrEmptySentence is returned when there is nothing to encode.
var ErrEmptySentence = errors.New("empty sentence")

// NoWord marks special tokens and tokens that cover no word.
const NoWord = -1

// Encoding is a tokenized sentence. All slices are indexed by subword
// position; Offsets are byte ranges inside the sentence text.
type Encoding struct {
	IDs     []int
	WordIDs []int
	Offsets []model.Offset
}

// Len returns the number of subwords.
func (e *Encoding) Len() int { return len(e.IDs) }

// AttentionMask returns an all-ones mask of the encoding's length.
func (e *Encoding) AttentionMask() []int {
	mask := make([]int, len(e.IDs))
	for i := range mask {
		mask[i] = 1
	}
	return mask
}

// Tokenizer encodes one sentence.
type Tokenizer interface {
	Encode(sentence model.Sentence) (*Encoding, error)
}

// HFTokenizer wraps a Hugging Face tokenizer.json.
type HFTokenizer struct {
	tk     *tokenizer.Tokenizer
	maxLen int
}

// Load reads a tokenizer.json file. maxLen truncates encodings when positive.
func Load(path string, maxLen int) (*HFTokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return &HFTokenizer{tk: tk, maxLen: maxLen}, nil
}

// Encode tokenizes the sentence text with special tokens and assigns every
// subword to the word it falls in.
func (t *HFTokenizer) Encode(sentence model.Sentence) (*Encoding, error) {
	if strings.TrimSpace(sentence.Text) == "" {
		return nil, ErrEmptySentence
	}

	enc, err := t.tk.EncodeSingle(sentence.Text, true)
	if err != nil {
		return nil, fmt.Errorf("encode sentence %d: %w", sentence.Index, err)
	}

	offsets := make([]model.Offset, len(enc.Offsets))
	for i, o := range enc.Offsets {
		if len(o) == 2 {
			offsets[i] = model.Offset{Begin: o[0], End: o[1]}
		}
	}
	special := make([]bool, len(enc.Ids))
	for i := range special {
		special[i] = i < len(enc.SpecialTokenMask) && enc.SpecialTokenMask[i] == 1
	}

	out := &Encoding{
		IDs:     append([]int(nil), enc.Ids...),
		WordIDs: AssignWords(offsets, special, LocateWords(sentence.Text, sentence.Words)),
		Offsets: offsets,
	}
	if t.maxLen > 0 && out.Len() > t.maxLen {
		out = truncate(out, t.maxLen)
	}
	return out, nil
}

// LocateWords finds each word in text, searching forward from the end of the
// previous one. Words that cannot be found get an empty range at -1.
func LocateWords(text string, words []string) []model.Offset {
	spans := make([]model.Offset, len(words))
	cursor := 0
	for i, w := range words {
		idx := strings.Index(text[cursor:], w)
		if w == "" || idx < 0 {
			spans[i] = model.Offset{Begin: -1, End: -1}
			continue
		}
		b := cursor + idx
		spans[i] = model.Offset{Begin: b, End: b + len(w)}
		cursor = spans[i].End
	}
	return spans
}

// AssignWords maps each subword to the index of the word whose range
// contains the subword's start. Special tokens and empty ranges map to
// NoWord.
func AssignWords(offsets []model.Offset, special []bool, words []model.Offset) []int {
	ids := make([]int, len(offsets))
	w := 0
	for i, o := range offsets {
		ids[i] = NoWord
		if (i < len(special) && special[i]) || o.Len() <= 0 {
			continue
		}
		for w < len(words) && (words[w].Begin < 0 || words[w].End <= o.Begin) {
			w++
		}
		if w < len(words) && words[w].Begin <= o.Begin && o.Begin < words[w].End {
			ids[i] = w
		}
	}
	return ids
}

// truncate keeps the first n-1 subwords and the final end marker.
func truncate(e *Encoding, n int) *Encoding {
	last := e.Len() - 1
	keep := func(in []int) []int {
		out := append([]int(nil), in[:n-1]...)
		return append(out, in[last])
	}
	offs := append([]model.Offset(nil), e.Offsets[:n-1]...)
	return &Encoding{
		IDs:     keep(e.IDs),
		WordIDs: keep(e.WordIDs),
		Offsets: append(offs, e.Offsets[last]),
	}
}
