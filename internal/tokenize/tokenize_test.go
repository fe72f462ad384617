package tokenize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinlp/medspan/internal/model"
)

func TestLocateWords(t *testing.T) {
	spans := LocateWords("the cat and the dog", []string{"the", "cat", "and", "the", "dog", "bird"})
	require.Len(t, spans, 6)
	assert.Equal(t, model.Offset{Begin: 0, End: 3}, spans[0])
	assert.Equal(t, model.Offset{Begin: 12, End: 15}, spans[3])
	assert.Equal(t, model.Offset{Begin: 16, End: 19}, spans[4])
	assert.Equal(t, model.Offset{Begin: -1, End: -1}, spans[5])
}

func TestAssignWords(t *testing.T) {
	// [CLS] para ##ceta ##mol 500 mg [SEP]
	offsets := []model.Offset{
		{}, {Begin: 0, End: 4}, {Begin: 4, End: 8}, {Begin: 8, End: 11},
		{Begin: 12, End: 15}, {Begin: 16, End: 18}, {},
	}
	special := []bool{true, false, false, false, false, false, true}
	words := LocateWords("paracetamol 500 mg", []string{"paracetamol", "500", "mg"})

	got := AssignWords(offsets, special, words)
	assert.Equal(t, []int{NoWord, 0, 0, 0, 1, 2, NoWord}, got)
}

func TestAssignWords_SkipsMissingWords(t *testing.T) {
	offsets := []model.Offset{{}, {Begin: 0, End: 2}, {Begin: 3, End: 5}, {}}
	special := []bool{true, false, false, true}
	words := []model.Offset{{Begin: 0, End: 2}, {Begin: -1, End: -1}, {Begin: 3, End: 5}}

	assert.Equal(t, []int{NoWord, 0, 2, NoWord}, AssignWords(offsets, special, words))
}

func TestEncodingAttentionMask(t *testing.T) {
	e := &Encoding{IDs: []int{101, 7, 102}}
	assert.Equal(t, 3, e.Len())
	assert.Equal(t, []int{1, 1, 1}, e.AttentionMask())
}

func TestTruncate(t *testing.T) {
	e := &Encoding{
		IDs:     []int{101, 1, 2, 3, 102},
		WordIDs: []int{NoWord, 0, 1, 2, NoWord},
		Offsets: []model.Offset{{}, {Begin: 0, End: 1}, {Begin: 2, End: 3}, {Begin: 4, End: 5}, {}},
	}
	got := truncate(e, 3)
	assert.Equal(t, []int{101, 1, 102}, got.IDs)
	assert.Equal(t, []int{NoWord, 0, NoWord}, got.WordIDs)
	assert.Len(t, got.Offsets, 3)
}
