package align

import (
	"github.com/clinlp/medspan/internal/metrics"
	"github.com/clinlp/medspan/internal/model"
)

// Outside is the label of words that belong to no entity.
const Outside = "O"

// SplitTag separates a tagged label such as "B-DRUG" into its prefix and
// entity type. Labels without a recognised prefix are returned with an empty
// prefix.
func SplitTag(label string) (prefix, typ string) {
	if len(label) > 2 && label[1] == '-' {
		switch label[0] {
		case 'B', 'I', 'E', 'S':
			return label[:1], label[2:]
		}
	}
	return "", label
}

// MergeChunks groups consecutive word labels into entity chunks.
//
// "B-" and "S-" always start a new chunk; "I-", "E-" and unprefixed labels
// extend the open chunk when its type matches. Chunks never span sentences.
// When whiteList is non-empty only chunks whose type it contains are
// returned; every other chunk is dropped and counted.
func (a *Aligner) MergeChunks(text string, words []model.Entity, whiteList []string) []model.Entity {
	allowed := make(map[string]bool, len(whiteList))
	for _, l := range whiteList {
		allowed[l] = true
	}

	var (
		chunks []model.Entity
		open   *model.Entity
		scores []float64
	)

	flush := func() {
		if open == nil {
			return
		}
		open.Score = mean(scores)
		open.Chunk = text[open.Begin:open.End]
		if len(allowed) == 0 || allowed[open.Label] {
			chunks = append(chunks, *open)
		} else {
			metrics.RecordsDropped.WithLabelValues("ner").Inc()
			a.logger.WithField("label", open.Label).Debug("chunk dropped by white-list")
		}
		open = nil
		scores = scores[:0]
	}

	for _, w := range words {
		prefix, typ := SplitTag(w.Label)
		if typ == Outside || typ == "" {
			flush()
			continue
		}

		extend := open != nil &&
			open.Label == typ &&
			open.SentenceIndex == w.SentenceIndex &&
			(prefix == "I" || prefix == "E" || prefix == "")

		if !extend {
			flush()
			c := w
			c.Label = typ
			open = &c
		} else {
			open.End = w.End
			open.SentenceEnd = w.SentenceEnd
		}
		scores = append(scores, w.Score)

		if prefix == "E" || prefix == "S" {
			flush()
		}
	}
	flush()

	return chunks
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
