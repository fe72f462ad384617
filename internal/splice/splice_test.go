package splice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inPlace applies replacements in the order given, editing the text as it
// goes. Used to show what goes wrong without ordering.
func inPlace(text string, reps []Replacement) string {
	for _, r := range reps {
		text = text[:r.Begin] + r.Text + text[r.End:]
	}
	return text
}

func TestMaskMarker(t *testing.T) {
	assert.Equal(t, "<<PERSON>>", MaskMarker("PERSON"))
}

func TestRewrite_MaskExample(t *testing.T) {
	text := "John Smith was seen on 2023-05-15."
	reps := []Replacement{
		{Begin: 0, End: 10, Text: MaskMarker("PERSON")},
		{Begin: 23, End: 33, Text: MaskMarker("DATE")},
	}

	got, err := Rewrite(text, reps)
	require.NoError(t, err)
	assert.Equal(t, "<<PERSON>> was seen on <<DATE>>.", got)
}

func TestRewrite_OrderIndependent(t *testing.T) {
	text := "abcdefghijklmnopqrstuvwxyz0123"
	asc := []Replacement{{Begin: 5, End: 10, Text: "X"}, {Begin: 20, End: 25, Text: "YYYYYYY"}}
	desc := []Replacement{asc[1], asc[0]}

	a, err := Rewrite(text, asc)
	require.NoError(t, err)
	b, err := Rewrite(text, desc)
	require.NoError(t, err)
	c, err := SpliceReverse(text, asc)
	require.NoError(t, err)

	assert.Equal(t, "abcdeXklmnopqrstYYYYYYYz0123", a)
	assert.Equal(t, a, b)
	assert.Equal(t, a, c)

	// Editing front to back shifts the second span.
	assert.NotEqual(t, a, inPlace(text, asc))
	// Editing back to front is safe.
	assert.Equal(t, a, inPlace(text, desc))
}

func TestRewrite_Idempotent(t *testing.T) {
	text := "call 555-0100 now"
	reps := []Replacement{{Begin: 5, End: 13, Text: MaskMarker("PHONE")}}

	first, err := Rewrite(text, reps)
	require.NoError(t, err)
	second, err := Rewrite(text, reps)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, "call <<PHONE>> now", first)
}

func TestRewrite_Empty(t *testing.T) {
	got, err := Rewrite("unchanged", nil)
	require.NoError(t, err)
	assert.Equal(t, "unchanged", got)
}

func TestRewrite_Adjacent(t *testing.T) {
	got, err := Rewrite("abcd", []Replacement{{Begin: 0, End: 2, Text: "1"}, {Begin: 2, End: 4, Text: "2"}})
	require.NoError(t, err)
	assert.Equal(t, "12", got)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(10, []Replacement{{Begin: 0, End: 10}}))

	err := Validate(10, []Replacement{{Begin: 0, End: 5}, {Begin: 4, End: 8}})
	assert.ErrorIs(t, err, ErrOverlappingSpans)

	err = Validate(10, []Replacement{{Begin: 8, End: 11}})
	assert.ErrorIs(t, err, ErrSpanOutOfRange)

	err = Validate(10, []Replacement{{Begin: -1, End: 2}})
	assert.ErrorIs(t, err, ErrSpanOutOfRange)

	err = Validate(10, []Replacement{{Begin: 3, End: 3}})
	assert.ErrorIs(t, err, ErrSpanOutOfRange)

	_, err = SpliceReverse("short", []Replacement{{Begin: 0, End: 9}})
	assert.ErrorIs(t, err, ErrSpanOutOfRange)
}
