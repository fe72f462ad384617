package model

// Offset is a half-open [Begin, End) byte range.
type Offset struct {
	Begin int `json:"begin"`
	End   int `json:"end"`
}

// Len returns the number of bytes covered by the range.
func (o Offset) Len() int { return o.End - o.Begin }

// Sentence is one segmented sentence of a document.
type Sentence struct {
	Index int      `json:"sent_idx"`
	Text  string   `json:"text"`
	Begin int      `json:"sent_begin"`
	End   int      `json:"sent_end"`
	Words []string `json:"words,omitempty"`
}

// Entity is a labeled span of the source text.
//
// Begin and End are byte offsets into the document and Chunk always equals
// the text they cover. SentenceBegin and SentenceEnd locate the same chunk
// inside its sentence; they are only filled when the aligner runs with
// sentence offsets.
type Entity struct {
	Label         string  `json:"entity"`
	Chunk         string  `json:"chunk"`
	Begin         int     `json:"begin"`
	End           int     `json:"end"`
	Score         float64 `json:"confidence"`
	SentenceIndex int     `json:"sent_idx"`
	SentenceBegin int     `json:"sent_begin"`
	SentenceEnd   int     `json:"sent_end"`
	FakedChunk    string  `json:"faked_chunk,omitempty"`
}

// Span returns the entity's range.
func (e Entity) Span() Offset { return Offset{Begin: e.Begin, End: e.End} }

// CodedEntity is an entity resolved to a terminology code.
type CodedEntity struct {
	Label       string `json:"entity"`
	Chunk       string `json:"chunk"`
	Begin       int    `json:"begin"`
	End         int    `json:"end"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Document is the pipeline output for one input text.
type Document struct {
	ID         string            `json:"id,omitempty"`
	Text       string            `json:"text"`
	Sentences  []Sentence        `json:"sentences,omitempty"`
	Entities   []Entity          `json:"entities"`
	Assertions []AssertionRecord `json:"assertions,omitempty"`
	Relations  []RelationRecord  `json:"relations,omitempty"`
	MaskedText *string           `json:"masked_text,omitempty"`
	FakedText  *string           `json:"faked_text,omitempty"`
}
