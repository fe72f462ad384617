// Package visualize renders labeled spans as self-contained HTML fragments.
package visualize

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/splice"
)

// ErrInvalidMode is returned for an unknown de-identification display mode.
var ErrInvalidMode = errors.New("invalid mode, choose phi_entities, anonymized or pseudonymized")

// DeidMode selects what the de-identification view shows for each span.
type DeidMode string

const (
	ModePHIEntities   DeidMode = "phi_entities"
	ModeAnonymized    DeidMode = "anonymized"
	ModePseudonymized DeidMode = "pseudonymized"
)

// Options controls truncation. With Short set and ShowSize > 0, spans ending
// at or after ShowSize are left out and the trailing text is cut at ShowSize
// with an ellipsis.
type Options struct {
	Short    bool
	ShowSize int
}

func (o Options) truncating() bool { return o.Short && o.ShowSize > 0 }

// Visualizer renders HTML. Colours stay stable across calls on the same
// Visualizer.
type Visualizer struct {
	palette *Palette
}

// New creates a Visualizer. rng only affects colours past the fixed palette.
func New(rng *rand.Rand) *Visualizer {
	return &Visualizer{palette: NewPalette(rng)}
}

// span is the renderer's view of one labeled range.
type span struct {
	begin, end int
	node       *html.Node
}

// Entities renders NER output.
func (v *Visualizer) Entities(text string, entities []model.Entity, o Options) (string, error) {
	spans := make([]span, 0, len(entities))
	for _, e := range entities {
		c := v.palette.Color(e.Label)
		spans = append(spans, span{begin: e.Begin, end: e.End, node: wrapper(c,
			textSpan("entity-name", "", e.Chunk),
			textSpan("entity-type", "background-color: "+c.Dark+";", e.Label),
		)})
	}
	return v.render(text, spans, o, entityCSS)
}

// Deid renders de-identification output in the given mode.
func (v *Visualizer) Deid(text string, entities []model.Entity, mode DeidMode, o Options) (string, error) {
	switch mode {
	case ModePHIEntities, ModeAnonymized, ModePseudonymized:
	default:
		return "", fmt.Errorf("%q: %w", mode, ErrInvalidMode)
	}

	spans := make([]span, 0, len(entities))
	for _, e := range entities {
		c := v.palette.Color(e.Label)
		tag := textSpan("entity-type", "background-color: "+c.Dark+";", e.Label)

		var n *html.Node
		switch mode {
		case ModePHIEntities:
			n = wrapper(c, textSpan("entity-name", "", e.Chunk), tag)
		case ModeAnonymized:
			n = wrapper(c, tag)
		case ModePseudonymized:
			n = wrapper(c, textSpan("entity-name", "", e.FakedChunk), tag)
		}
		spans = append(spans, span{begin: e.Begin, end: e.End, node: n})
	}
	return v.render(text, spans, o, entityCSS)
}

// Assertions renders entities with their assertion status underneath.
func (v *Visualizer) Assertions(text string, records []model.AssertionRecord, o Options) (string, error) {
	spans := make([]span, 0, len(records))
	for _, r := range records {
		c := v.palette.Color(r.Label)
		spans = append(spans, span{begin: r.Begin, end: r.End, node: outer(c,
			[]*html.Node{
				textSpan("entity-name", "", r.Chunk),
				textSpan("entity-type", "background-color: "+c.Dark+";", r.Label),
			},
			textSpan("entity-type-assertion", "background-color: "+v.palette.SecondaryColor(r.Assertion)+";", r.Assertion),
		)})
	}
	return v.render(text, spans, o, stackedCSS)
}

// MedicalCoding renders coded entities with the code description underneath.
func (v *Visualizer) MedicalCoding(text string, records []model.CodedEntity, o Options) (string, error) {
	spans := make([]span, 0, len(records))
	for _, r := range records {
		c := v.palette.Color(r.Label)
		tagStyle := "background-color: " + c.Dark + ";"
		spans = append(spans, span{begin: r.Begin, end: r.End, node: outer(c,
			[]*html.Node{
				textSpan("entity-type", tagStyle, r.Code),
				textSpan("entity-name", "", r.Chunk),
				textSpan("entity-type", tagStyle, r.Label),
			},
			textSpan("entity-type-assertion", "background-color: "+v.palette.SecondaryColor(r.Description)+";", r.Description),
		)})
	}
	return v.render(text, spans, o, stackedCSS)
}

// render interleaves plain text with the span nodes. Spans must lie inside
// text and must not overlap; they are drawn in offset order.
func (v *Visualizer) render(text string, spans []span, o Options, css string) (string, error) {
	reps := make([]splice.Replacement, len(spans))
	for i, s := range spans {
		reps[i] = splice.Replacement{Begin: s.begin, End: s.end}
	}
	if err := splice.Validate(len(text), reps); err != nil {
		return "", fmt.Errorf("visualize: %w", err)
	}
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].begin < spans[j].begin })

	inner := element(atom.Div, attr("dir", "auto"))
	last := 0
	for _, s := range spans {
		if o.truncating() && s.end >= o.ShowSize {
			continue
		}
		if plain := text[last:s.begin]; plain != "" {
			inner.AppendChild(textSpan("non-ner", "", plain))
		}
		inner.AppendChild(s.node)
		last = s.end
	}

	if last < len(text) {
		rest := text[last:]
		if o.truncating() && len(text) > o.ShowSize {
			rest = cut(rest, o.ShowSize-last) + "..."
		}
		inner.AppendChild(textSpan("non-ner", "", rest))
	}

	root := element(atom.Div, attr("style", "padding: 14px;"))
	root.AppendChild(inner)

	style := element(atom.Style)
	style.AppendChild(&html.Node{Type: html.TextNode, Data: css})

	var b strings.Builder
	if err := html.Render(&b, style); err != nil {
		return "", fmt.Errorf("render style: %w", err)
	}
	if err := html.Render(&b, root); err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return b.String(), nil
}

// cut returns at most n bytes of s without splitting a UTF-8 sequence.
func cut(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if n >= len(s) {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func element(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a, Attr: attrs}
}

func attr(key, val string) html.Attribute {
	return html.Attribute{Key: key, Val: val}
}

func textSpan(class, style, text string) *html.Node {
	attrs := []html.Attribute{attr("class", class)}
	if style != "" {
		attrs = append(attrs, attr("style", style))
	}
	n := element(atom.Span, attrs...)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}

func wrapper(c Color, children ...*html.Node) *html.Node {
	n := element(atom.Span,
		attr("class", "entity-wrapper"),
		attr("style", "background-color: "+c.Light+"; border-color: "+c.Dark+";"),
	)
	for _, ch := range children {
		n.AppendChild(ch)
	}
	return n
}

func outer(c Color, inner []*html.Node, below *html.Node) *html.Node {
	n := element(atom.Span, attr("class", "entity-wrapper-outer"), attr("style", "border-color: "+c.Dark+";"))
	w := element(atom.Span, attr("class", "entity-wrapper"), attr("style", "background-color: "+c.Light+";"))
	for _, ch := range inner {
		w.AppendChild(ch)
	}
	n.AppendChild(w)
	n.AppendChild(below)
	return n
}
