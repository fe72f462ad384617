// Package splice replaces character spans of a text with new content while
// keeping every span's offsets meaningful against the original text.
package splice

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/clinlp/medspan/internal/metrics"
)

var (
	// ErrOverlappingSpans is returned when two replacements cover the same bytes.
	ErrOverlappingSpans = errors.New("overlapping spans")
	// ErrSpanOutOfRange is returned for a replacement outside the text.
	ErrSpanOutOfRange = errors.New("span out of range")
)

// Replacement swaps text[Begin:End] for Text. Offsets refer to the original,
// unmodified text.
type Replacement struct {
	Begin int
	End   int
	Text  string
}

// MaskMarker is the placeholder written over a masked span.
func MaskMarker(label string) string {
	return "<<" + label + ">>"
}

// sorted returns a copy of reps ordered by Begin after checking that every
// span lies inside a text of length n and that no two spans overlap.
func sorted(n int, reps []Replacement) ([]Replacement, error) {
	out := make([]Replacement, len(reps))
	copy(out, reps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Begin < out[j].Begin })

	prevEnd := 0
	for i, r := range out {
		if r.Begin < 0 || r.End > n || r.Begin >= r.End {
			return nil, fmt.Errorf("[%d, %d) in text of length %d: %w", r.Begin, r.End, n, ErrSpanOutOfRange)
		}
		if i > 0 && r.Begin < prevEnd {
			return nil, fmt.Errorf("[%d, %d) starts before %d: %w", r.Begin, r.End, prevEnd, ErrOverlappingSpans)
		}
		prevEnd = r.End
	}
	return out, nil
}

// Validate checks reps against a text of length n.
func Validate(n int, reps []Replacement) error {
	_, err := sorted(n, reps)
	return err
}

// Rewrite applies all replacements in a single pass over text. The order of
// reps does not matter.
func Rewrite(text string, reps []Replacement) (string, error) {
	ordered, err := sorted(len(text), reps)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, r := range ordered {
		b.WriteString(text[cursor:r.Begin])
		b.WriteString(r.Text)
		cursor = r.End
	}
	b.WriteString(text[cursor:])

	metrics.SpansSpliced.WithLabelValues("rewrite").Add(float64(len(ordered)))
	return b.String(), nil
}

// SpliceReverse applies replacements one at a time from the highest Begin to
// the lowest, so each edit leaves the offsets of the remaining spans intact.
// It produces the same text as Rewrite.
func SpliceReverse(text string, reps []Replacement) (string, error) {
	ordered, err := sorted(len(text), reps)
	if err != nil {
		return "", err
	}

	out := text
	for i := len(ordered) - 1; i >= 0; i-- {
		r := ordered[i]
		out = out[:r.Begin] + r.Text + out[r.End:]
	}

	metrics.SpansSpliced.WithLabelValues("reverse").Add(float64(len(ordered)))
	return out, nil
}
