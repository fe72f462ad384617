package model

import "encoding/json"

// AssertionRecord is an entity joined with its assertion status.
//
// Resolver records use the resolver wire shape
// (begin, end, entity, chunk, sent_idx, assertion); all others use
// (begin, end, ner_label, chunk, assertion, score).
type AssertionRecord struct {
	ID            string
	Begin         int
	End           int
	Label         string
	Chunk         string
	SentenceIndex int
	Assertion     string
	Score         float64
	Resolver      bool
}

type assertionWire struct {
	Begin     int     `json:"begin"`
	End       int     `json:"end"`
	NERLabel  string  `json:"ner_label"`
	Chunk     string  `json:"chunk"`
	Assertion string  `json:"assertion"`
	Score     float64 `json:"score"`
}

type assertionResolverWire struct {
	Begin         int    `json:"begin"`
	End           int    `json:"end"`
	Entity        string `json:"entity"`
	Chunk         string `json:"chunk"`
	SentenceIndex int    `json:"sent_idx"`
	Assertion     string `json:"assertion"`
}

// MarshalJSON implements json.Marshaler.
func (r AssertionRecord) MarshalJSON() ([]byte, error) {
	if r.Resolver {
		return json.Marshal(assertionResolverWire{
			Begin:         r.Begin,
			End:           r.End,
			Entity:        r.Label,
			Chunk:         r.Chunk,
			SentenceIndex: r.SentenceIndex,
			Assertion:     r.Assertion,
		})
	}
	return json.Marshal(assertionWire{
		Begin:     r.Begin,
		End:       r.End,
		NERLabel:  r.Label,
		Chunk:     r.Chunk,
		Assertion: r.Assertion,
		Score:     r.Score,
	})
}

// UnmarshalJSON accepts both wire shapes.
func (r *AssertionRecord) UnmarshalJSON(data []byte) error {
	var w struct {
		assertionWire
		Entity        *string `json:"entity"`
		SentenceIndex int     `json:"sent_idx"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = AssertionRecord{
		Begin:         w.Begin,
		End:           w.End,
		Label:         w.NERLabel,
		Chunk:         w.Chunk,
		SentenceIndex: w.SentenceIndex,
		Assertion:     w.Assertion,
		Score:         w.Score,
	}
	if w.Entity != nil {
		r.Label = *w.Entity
		r.Resolver = true
	}
	return nil
}

// RelationRecord is a classified pair of entities from the same sentence.
type RelationRecord struct {
	ID            string
	SentenceIndex int
	Sentence      string
	Begin1        int
	End1          int
	SentBegin1    int
	SentEnd1      int
	Label1        string
	Chunk1        string
	Begin2        int
	End2          int
	SentBegin2    int
	SentEnd2      int
	Label2        string
	Chunk2        string
	Relation      string
	Score         float64
	// Full adds the sentence text and the sentence-relative offsets to the
	// wire form. The relation visualizer needs them.
	Full bool
}

type relationWire struct {
	Begin1   int     `json:"firstCharEnt1"`
	End1     int     `json:"lastCharEnt1"`
	Entity1  string  `json:"entity1"`
	Chunk1   string  `json:"chunk1"`
	Begin2   int     `json:"firstCharEnt2"`
	End2     int     `json:"lastCharEnt2"`
	Entity2  string  `json:"entity2"`
	Chunk2   string  `json:"chunk2"`
	Relation string  `json:"label"`
	Score    float64 `json:"score"`
}

type relationFullWire struct {
	SentenceIndex int     `json:"sentID"`
	Sentence      string  `json:"sentence"`
	Begin1        int     `json:"firstCharEnt1"`
	SentBegin1    int     `json:"sent_begin1"`
	End1          int     `json:"lastCharEnt1"`
	SentEnd1      int     `json:"sent_end1"`
	Entity1       string  `json:"entity1"`
	Chunk1        string  `json:"chunk1"`
	Begin2        int     `json:"firstCharEnt2"`
	SentBegin2    int     `json:"sent_begin2"`
	End2          int     `json:"lastCharEnt2"`
	SentEnd2      int     `json:"sent_end2"`
	Entity2       string  `json:"entity2"`
	Chunk2        string  `json:"chunk2"`
	Relation      string  `json:"label"`
	Score         float64 `json:"score"`
}

// MarshalJSON implements json.Marshaler.
func (r RelationRecord) MarshalJSON() ([]byte, error) {
	if r.Full {
		return json.Marshal(relationFullWire{
			SentenceIndex: r.SentenceIndex,
			Sentence:      r.Sentence,
			Begin1:        r.Begin1,
			SentBegin1:    r.SentBegin1,
			End1:          r.End1,
			SentEnd1:      r.SentEnd1,
			Entity1:       r.Label1,
			Chunk1:        r.Chunk1,
			Begin2:        r.Begin2,
			SentBegin2:    r.SentBegin2,
			End2:          r.End2,
			SentEnd2:      r.SentEnd2,
			Entity2:       r.Label2,
			Chunk2:        r.Chunk2,
			Relation:      r.Relation,
			Score:         r.Score,
		})
	}
	return json.Marshal(relationWire{
		Begin1:   r.Begin1,
		End1:     r.End1,
		Entity1:  r.Label1,
		Chunk1:   r.Chunk1,
		Begin2:   r.Begin2,
		End2:     r.End2,
		Entity2:  r.Label2,
		Chunk2:   r.Chunk2,
		Relation: r.Relation,
		Score:    r.Score,
	})
}

// UnmarshalJSON accepts both wire shapes.
func (r *RelationRecord) UnmarshalJSON(data []byte) error {
	var w relationFullWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = RelationRecord{
		SentenceIndex: w.SentenceIndex,
		Sentence:      w.Sentence,
		Begin1:        w.Begin1,
		End1:          w.End1,
		SentBegin1:    w.SentBegin1,
		SentEnd1:      w.SentEnd1,
		Label1:        w.Entity1,
		Chunk1:        w.Chunk1,
		Begin2:        w.Begin2,
		End2:          w.End2,
		SentBegin2:    w.SentBegin2,
		SentEnd2:      w.SentEnd2,
		Label2:        w.Entity2,
		Chunk2:        w.Chunk2,
		Relation:      w.Relation,
		Score:         w.Score,
		Full:          w.Sentence != "",
	}
	return nil
}
