package classify

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/clinlp/medspan/internal/model"
)

// Relation markers around the first and second entity of a pair.
const (
	MarkE1Begin = "e1b"
	MarkE1End   = "e1e"
	MarkE2Begin = "e2b"
	MarkE2End   = "e2e"
)

// Pair is an ordered (first label, second label) combination to classify.
type Pair struct {
	First  string
	Second string
}

// AnnotateRelation marks two non-overlapping spans of sentence, ordered by
// position, for the relation classifier.
func AnnotateRelation(sentence string, a, b model.Offset) string {
	if b.Begin < a.Begin {
		a, b = b, a
	}
	return strings.Join([]string{
		sentence[:a.Begin],
		MarkE1Begin,
		sentence[a.Begin:a.End],
		MarkE1End,
		sentence[a.End:b.Begin],
		MarkE2Begin,
		sentence[b.Begin:b.End],
		MarkE2End,
		sentence[b.End:],
	}, " ")
}

// RelationOptions configures Relations.
type RelationOptions struct {
	// Pairs restricts which label combinations are classified.
	Pairs []Pair
	// WhiteList holds the relation labels to keep.
	WhiteList []string
	// Full keeps the sentence text and sentence offsets in each record.
	Full   bool
	Logger logrus.FieldLogger
}

// Relations classifies every allowed pair of entities that share a sentence.
// Pairs are formed in entity order (i < j), so Pairs entries are directional.
func Relations(ctx context.Context, entities []model.Entity, sentences []string, c Classifier, opts RelationOptions) ([]model.RelationRecord, error) {
	allowed := make(map[Pair]bool, len(opts.Pairs))
	for _, p := range opts.Pairs {
		allowed[p] = true
	}

	bySentence := make(map[int][]model.Entity)
	var order []int
	for i, e := range entities {
		if err := checkSentence(e, sentences); err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		if _, seen := bySentence[e.SentenceIndex]; !seen {
			order = append(order, e.SentenceIndex)
		}
		bySentence[e.SentenceIndex] = append(bySentence[e.SentenceIndex], e)
	}

	var (
		records []model.RelationRecord
		inputs  []Input
	)
	for _, si := range order {
		group := bySentence[si]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				e1, e2 := group[i], group[j]
				if !allowed[Pair{First: e1.Label, Second: e2.Label}] {
					continue
				}
				if e1.SentenceBegin < e2.SentenceEnd && e2.SentenceBegin < e1.SentenceEnd {
					continue
				}

				id := newID()
				sentence := sentences[si]
				inputs = append(inputs, Input{
					ID: id,
					Text: AnnotateRelation(sentence,
						model.Offset{Begin: e1.SentenceBegin, End: e1.SentenceEnd},
						model.Offset{Begin: e2.SentenceBegin, End: e2.SentenceEnd}),
				})
				records = append(records, model.RelationRecord{
					ID:            id,
					SentenceIndex: si,
					Sentence:      sentence,
					Begin1:        e1.Begin,
					End1:          e1.End,
					SentBegin1:    e1.SentenceBegin,
					SentEnd1:      e1.SentenceEnd,
					Label1:        e1.Label,
					Chunk1:        e1.Chunk,
					Begin2:        e2.Begin,
					End2:          e2.End,
					SentBegin2:    e2.SentenceBegin,
					SentEnd2:      e2.SentenceEnd,
					Label2:        e2.Label,
					Chunk2:        e2.Chunk,
					Full:          opts.Full,
				})
			}
		}
	}

	answers, err := run(ctx, c, inputs)
	if err != nil {
		return nil, err
	}
	for i := range records {
		a := answers[records[i].ID]
		records[i].Relation = a.Label
		records[i].Score = a.Score
	}

	return FilterByLabel(records, func(r model.RelationRecord) string { return r.Relation },
		opts.WhiteList, "relation", opts.Logger), nil
}
