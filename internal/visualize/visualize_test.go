package visualize

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/splice"
)

const sampleText = "John Smith was admitted on 2023-05-15 with severe abdominal pain."

func sampleEntities() []model.Entity {
	return []model.Entity{
		{Label: "PERSON", Chunk: "John Smith", Begin: 0, End: 10, FakedChunk: "Alice Johnson"},
		{Label: "DATE", Chunk: "2023-05-15", Begin: 27, End: 37, FakedChunk: "2023-06-20"},
	}
}

func TestEntities(t *testing.T) {
	out, err := New(nil).Entities(sampleText, sampleEntities(), Options{})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "<style>"))
	assert.Contains(t, out, `<div style="padding: 14px;"><div dir="auto">`)
	assert.Contains(t, out, `<span class="entity-name">John Smith</span>`)
	assert.Contains(t, out, `<span class="entity-type" style="background-color: #5C5CE0;">PERSON</span>`)
	assert.Contains(t, out, `<span class="entity-type" style="background-color: #3DA74E;">DATE</span>`)
	assert.Contains(t, out, `<span class="non-ner"> was admitted on </span>`)
	assert.True(t, strings.HasSuffix(out, `<span class="non-ner"> with severe abdominal pain.</span></div></div>`))
}

func TestEntities_Escapes(t *testing.T) {
	text := "<b>x</b> & y"
	ents := []model.Entity{{Label: "TAG", Chunk: "<b>x</b>", Begin: 0, End: 8}}

	out, err := New(nil).Entities(text, ents, Options{})
	require.NoError(t, err)
	assert.Contains(t, out, "&lt;b&gt;x&lt;/b&gt;")
	assert.Contains(t, out, " &amp; y")
	assert.NotContains(t, out, "<b>")
}

func TestEntities_Short(t *testing.T) {
	out, err := New(nil).Entities(sampleText, sampleEntities(), Options{Short: true, ShowSize: 20})
	require.NoError(t, err)

	assert.Contains(t, out, "John Smith")
	assert.NotContains(t, out, ">DATE<")
	// 20 bytes in total: the 10 byte entity plus 10 bytes of trailing text.
	assert.Contains(t, out, `<span class="non-ner"> was admit...</span>`)
}

func TestEntities_RejectsBadSpans(t *testing.T) {
	ents := []model.Entity{{Label: "X", Begin: 5, End: 500}}
	_, err := New(nil).Entities(sampleText, ents, Options{})
	assert.ErrorIs(t, err, splice.ErrSpanOutOfRange)
}

func TestDeid_Modes(t *testing.T) {
	v := New(nil)

	phi, err := v.Deid(sampleText, sampleEntities(), ModePHIEntities, Options{})
	require.NoError(t, err)
	assert.Contains(t, phi, ">John Smith<")

	anon, err := v.Deid(sampleText, sampleEntities(), ModeAnonymized, Options{})
	require.NoError(t, err)
	assert.NotContains(t, anon, "John Smith")
	assert.Contains(t, anon, ">PERSON<")

	pseudo, err := v.Deid(sampleText, sampleEntities(), ModePseudonymized, Options{})
	require.NoError(t, err)
	assert.Contains(t, pseudo, ">Alice Johnson<")
	assert.NotContains(t, pseudo, "John Smith")

	_, err = v.Deid(sampleText, sampleEntities(), DeidMode("redacted"), Options{})
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = v.Deid(sampleText, nil, DeidMode(""), Options{})
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestAssertions(t *testing.T) {
	text := "No fever but cough."
	records := []model.AssertionRecord{
		{Label: "SYMPTOM", Chunk: "fever", Begin: 3, End: 8, Assertion: "absent"},
		{Label: "SYMPTOM", Chunk: "cough", Begin: 13, End: 18, Assertion: "present"},
	}

	out, err := New(nil).Assertions(text, records, Options{})
	require.NoError(t, err)
	assert.Contains(t, out, `class="entity-wrapper-outer"`)
	assert.Contains(t, out, `<span class="entity-type-assertion" style="background-color: #268E6C;">absent</span>`)
	assert.Contains(t, out, `<span class="entity-type-assertion" style="background-color: #DA7B11;">present</span>`)
}

func TestMedicalCoding(t *testing.T) {
	text := "History of asthma."
	records := []model.CodedEntity{
		{Label: "DISEASE", Chunk: "asthma", Begin: 11, End: 17, Code: "J45", Description: "Asthma"},
	}

	out, err := New(nil).MedicalCoding(text, records, Options{})
	require.NoError(t, err)
	assert.Contains(t, out, ">J45<")
	assert.Contains(t, out, ">asthma<")
	assert.Contains(t, out, ">Asthma<")
}

func TestPalette(t *testing.T) {
	p := NewPalette(rand.New(rand.NewPCG(1, 1)))

	assert.Equal(t, baseColors[0], p.Color("A"))
	assert.Equal(t, baseColors[1], p.Color("B"))
	assert.Equal(t, baseColors[0], p.Color("A"))

	for i := 0; i < len(baseColors); i++ {
		p.Color(string(rune('C' + i)))
	}
	extra := p.Color("overflow")
	assert.True(t, strings.HasPrefix(extra.Dark, "rgb("))
	assert.True(t, strings.HasPrefix(extra.Light, "rgba("))

	assert.Equal(t, baseColors[len(baseColors)-1].Dark, p.SecondaryColor("present"))
	assert.Equal(t, baseColors[len(baseColors)-2].Dark, p.SecondaryColor("absent"))
}

func TestHLSToRGB(t *testing.T) {
	r, g, b := hlsToRGB(0, 0.5, 1)
	assert.InDelta(t, 1.0, r, 1e-9)
	assert.InDelta(t, 0.0, g, 1e-9)
	assert.InDelta(t, 0.0, b, 1e-9)

	r, g, b = hlsToRGB(0.3, 0.4, 0)
	assert.Equal(t, 0.4, r)
	assert.Equal(t, 0.4, g)
	assert.Equal(t, 0.4, b)
}

func TestCut(t *testing.T) {
	assert.Equal(t, "ab", cut("abc", 2))
	assert.Equal(t, "", cut("abc", -1))
	assert.Equal(t, "abc", cut("abc", 10))
	// "é" is two bytes; cutting inside it backs off.
	assert.Equal(t, "a", cut("aéb", 2))
}
