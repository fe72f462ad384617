package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/model"
)

// ErrInvalidEntity is returned for an entity whose sentence position does not
// fit the sentence list.
var ErrInvalidEntity = errors.New("entity does not fit its sentence")

// EntityMarker surrounds the entity under assessment in assertion inputs.
const EntityMarker = " [Entity] "

// AnnotateAssertion marks sentence[begin:end] for the assertion classifier.
// The parts are joined by single spaces, so each marker ends up with two
// spaces on either side; the models were trained on that exact form.
func AnnotateAssertion(sentence string, begin, end int) string {
	return strings.Join([]string{
		sentence[:begin],
		EntityMarker,
		sentence[begin:end],
		EntityMarker,
		sentence[end:],
	}, " ")
}

// AssertionOptions configures Assertions.
type AssertionOptions struct {
	// WhiteList holds the assertion labels to keep.
	WhiteList []string
	// Resolver switches records to the resolver wire shape.
	Resolver bool
	Logger   logrus.FieldLogger
}

// Assertions classifies the assertion status of every entity. Entities need
// sentence-relative offsets.
func Assertions(ctx context.Context, entities []model.Entity, sentences []string, c Classifier, opts AssertionOptions) ([]model.AssertionRecord, error) {
	records := make([]model.AssertionRecord, 0, len(entities))
	inputs := make([]Input, 0, len(entities))

	for i, e := range entities {
		if err := checkSentence(e, sentences); err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		id := newID()
		inputs = append(inputs, Input{
			ID:   id,
			Text: AnnotateAssertion(sentences[e.SentenceIndex], e.SentenceBegin, e.SentenceEnd),
		})
		records = append(records, model.AssertionRecord{
			ID:            id,
			Begin:         e.Begin,
			End:           e.End,
			Label:         e.Label,
			Chunk:         e.Chunk,
			SentenceIndex: e.SentenceIndex,
			Resolver:      opts.Resolver,
		})
	}

	answers, err := run(ctx, c, inputs)
	if err != nil {
		return nil, err
	}
	for i := range records {
		a := answers[records[i].ID]
		records[i].Assertion = a.Label
		records[i].Score = a.Score
	}

	return FilterByLabel(records, func(r model.AssertionRecord) string { return r.Assertion },
		opts.WhiteList, "assertion", opts.Logger), nil
}

func checkSentence(e model.Entity, sentences []string) error {
	if e.SentenceIndex < 0 || e.SentenceIndex >= len(sentences) {
		return fmt.Errorf("sentence %d of %d: %w", e.SentenceIndex, len(sentences), ErrInvalidEntity)
	}
	s := sentences[e.SentenceIndex]
	if e.SentenceBegin < 0 || e.SentenceEnd > len(s) || e.SentenceBegin >= e.SentenceEnd {
		return fmt.Errorf("[%d, %d) in sentence of length %d: %w", e.SentenceBegin, e.SentenceEnd, len(s), ErrInvalidEntity)
	}
	return nil
}
