// Package align turns subword-level token classification output into
// word-level labels with character offsets into the source text.
package align

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/text/unicode/norm"

	"github.com/clinlp/medspan/internal/logging"
	"github.com/clinlp/medspan/internal/metrics"
	"github.com/clinlp/medspan/internal/model"
)

var (
	// ErrTokenNotFound is returned when a word cannot be located in the source text.
	ErrTokenNotFound = errors.New("token not found in source text")
	// ErrSentenceNotFound is returned when a sentence cannot be located in the document.
	ErrSentenceNotFound = errors.New("sentence not found in document")
	// ErrShapeMismatch is returned when prediction arrays disagree in length.
	ErrShapeMismatch = errors.New("prediction shape mismatch")
	// ErrUnknownLabelID is returned for a class index missing from the label map.
	ErrUnknownLabelID = errors.New("unknown label id")
)

// NoWord marks subword positions that belong to no word (special tokens).
const NoWord = -1

// Prediction is the model output for one sentence.
//
// All slices are indexed by subword position. Position 0 and the last
// position are the sequence start and end markers.
type Prediction struct {
	WordIDs       []int
	Labels        []int
	Probabilities [][]float64
	// Offsets optionally maps each subword to its byte range in the sentence.
	Offsets []model.Offset
}

// Predictor runs the token classifier for one sentence.
type Predictor interface {
	Predict(ctx context.Context, sentence model.Sentence) (*Prediction, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, sentence model.Sentence) (*Prediction, error)

// Predict implements Predictor.
func (f PredictorFunc) Predict(ctx context.Context, sentence model.Sentence) (*Prediction, error) {
	return f(ctx, sentence)
}

// Aligner maps predictions back onto source text.
type Aligner struct {
	id2label        map[int]string
	sentenceOffsets bool
	logger          logrus.FieldLogger
}

// Option configures an Aligner.
type Option func(*Aligner)

// WithSentenceOffsets also records each word's offsets inside its sentence.
// Assertion and relation shaping need them.
func WithSentenceOffsets() Option {
	return func(a *Aligner) { a.sentenceOffsets = true }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(a *Aligner) { a.logger = l }
}

// New creates an Aligner for a model's class index to label mapping.
func New(id2label map[int]string, opts ...Option) *Aligner {
	a := &Aligner{id2label: id2label}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = logging.OrDiscard(a.logger)
	return a
}

// AlignDocument aligns every sentence of text. Sentences must appear in text
// in order; each one is located by searching forward from the end of the
// previous sentence's last word.
func (a *Aligner) AlignDocument(ctx context.Context, text string, sentences []model.Sentence, p Predictor) ([]model.Entity, error) {
	var out []model.Entity
	cursor := 0

	for i := range sentences {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		sent := sentences[i]
		idx := strings.Index(text[cursor:], sent.Text)
		if idx < 0 {
			return nil, fmt.Errorf("sentence %d: %w", sent.Index, ErrSentenceNotFound)
		}
		sent.Begin = cursor + idx
		sent.End = sent.Begin + len(sent.Text)

		pred, err := p.Predict(ctx, sent)
		if err != nil {
			return nil, fmt.Errorf("predict sentence %d: %w", sent.Index, err)
		}

		tokens, next, err := a.AlignSentence(text, sent, pred, sent.Begin)
		if err != nil {
			return nil, fmt.Errorf("align sentence %d: %w", sent.Index, err)
		}
		out = append(out, tokens...)
		cursor = next
	}

	return out, nil
}

// AlignSentence produces one entity per word of sent. start is the document
// position to search from; the returned cursor is the end of the last word.
//
// When several subwords make up a word, the label and probability of the
// last subword are used.
func (a *Aligner) AlignSentence(text string, sent model.Sentence, pred *Prediction, start int) ([]model.Entity, int, error) {
	if err := a.validate(sent, pred); err != nil {
		return nil, start, err
	}

	useOffsets := len(pred.Offsets) > 0
	docCursor := start
	sentCursor := 0
	last := len(pred.WordIDs) - 1

	var out []model.Entity
	for idx := 1; idx < last; idx++ {
		wid := pred.WordIDs[idx]
		if wid == NoWord {
			continue
		}

		first := idx
		for idx+1 < last && pred.WordIDs[idx+1] == wid {
			idx++
		}

		label, ok := a.id2label[pred.Labels[idx]]
		if !ok {
			return nil, start, fmt.Errorf("position %d class %d: %w", idx, pred.Labels[idx], ErrUnknownLabelID)
		}
		score := maxProb(pred.Probabilities[idx])

		var span model.Offset
		var found bool
		if useOffsets {
			span, found = a.spanFromOffsets(sent, pred.Offsets[first], pred.Offsets[idx])
		}
		if found {
			span.Begin += sent.Begin
			span.End += sent.Begin
		} else {
			var err error
			span, err = a.search(text, sent.Words[wid], docCursor)
			if err != nil {
				return nil, start, fmt.Errorf("word %d %q: %w", wid, sent.Words[wid], err)
			}
		}
		docCursor = span.End

		ent := model.Entity{
			Label:         label,
			Chunk:         text[span.Begin:span.End],
			Begin:         span.Begin,
			End:           span.End,
			Score:         score,
			SentenceIndex: sent.Index,
		}

		if a.sentenceOffsets {
			local, err := a.search(sent.Text, ent.Chunk, sentCursor)
			if err != nil {
				return nil, start, fmt.Errorf("word %d %q in sentence: %w", wid, ent.Chunk, err)
			}
			ent.SentenceBegin = local.Begin
			ent.SentenceEnd = local.End
			sentCursor = local.End
		}

		out = append(out, ent)
	}

	metrics.WordsAligned.Add(float64(len(out)))
	return out, docCursor, nil
}

func (a *Aligner) validate(sent model.Sentence, pred *Prediction) error {
	if pred == nil {
		return fmt.Errorf("nil prediction: %w", ErrShapeMismatch)
	}
	n := len(pred.WordIDs)
	if len(pred.Labels) != n || len(pred.Probabilities) != n {
		return fmt.Errorf("word ids %d, labels %d, probabilities %d: %w",
			n, len(pred.Labels), len(pred.Probabilities), ErrShapeMismatch)
	}
	if len(pred.Offsets) > 0 && len(pred.Offsets) != n {
		return fmt.Errorf("word ids %d, offsets %d: %w", n, len(pred.Offsets), ErrShapeMismatch)
	}
	for i, wid := range pred.WordIDs {
		if wid != NoWord && (wid < 0 || wid >= len(sent.Words)) {
			return fmt.Errorf("position %d refers to word %d of %d: %w", i, wid, len(sent.Words), ErrShapeMismatch)
		}
	}
	return nil
}

// spanFromOffsets joins the first and last subword ranges of a word. Ranges
// that fall outside the sentence are rejected so the caller can fall back to
// searching.
func (a *Aligner) spanFromOffsets(sent model.Sentence, first, last model.Offset) (model.Offset, bool) {
	span := model.Offset{Begin: first.Begin, End: last.End}
	if span.Begin < 0 || span.End > len(sent.Text) || span.Begin >= span.End {
		a.logger.WithFields(logrus.Fields{
			"sentence": sent.Index,
			"begin":    span.Begin,
			"end":      span.End,
		}).Debug("offset mapping outside sentence, searching instead")
		return model.Offset{}, false
	}
	return span, true
}

// search finds word in text at or after from. The exact form is tried
// first, then its NFC and NFD forms.
func (a *Aligner) search(text, word string, from int) (model.Offset, error) {
	if from > len(text) {
		from = len(text)
	}

	if idx := strings.Index(text[from:], word); idx >= 0 {
		metrics.AlignmentFallbacks.WithLabelValues("exact").Inc()
		b := from + idx
		return model.Offset{Begin: b, End: b + len(word)}, nil
	}

	for _, form := range []norm.Form{norm.NFC, norm.NFD} {
		alt := form.String(word)
		if alt == word {
			continue
		}
		if idx := strings.Index(text[from:], alt); idx >= 0 {
			metrics.AlignmentFallbacks.WithLabelValues("normalized").Inc()
			a.logger.WithField("word", word).Debug("word matched after unicode normalization")
			b := from + idx
			return model.Offset{Begin: b, End: b + len(alt)}, nil
		}
	}

	return model.Offset{}, ErrTokenNotFound
}

func maxProb(probs []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	m := probs[0]
	for _, p := range probs[1:] {
		if p > m {
			m = p
		}
	}
	return m
}
