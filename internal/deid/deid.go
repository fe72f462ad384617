// Package deid masks or pseudonymizes labeled spans of clinical text.
package deid

import (
	"fmt"
	"math/rand/v2"

	"github.com/clinlp/medspan/internal/model"
	"github.com/clinlp/medspan/internal/splice"
)

// Options selects the de-identification outputs.
type Options struct {
	Mask bool
	Fake bool
	// PoolPath is read on every call that fakes. Pool takes precedence when set.
	PoolPath string
	Pool     Pool
	Rand     *rand.Rand
}

// Result carries the entities and whichever rewritten texts were requested.
type Result struct {
	Entities   []model.Entity `json:"entities"`
	MaskedText *string        `json:"masked_text,omitempty"`
	FakedText  *string        `json:"faked_text,omitempty"`
}

// Mask replaces every entity span with its label marker.
func Mask(text string, entities []model.Entity) (string, error) {
	reps := make([]splice.Replacement, len(entities))
	for i, e := range entities {
		reps[i] = splice.Replacement{Begin: e.Begin, End: e.End, Text: splice.MaskMarker(e.Label)}
	}
	return splice.Rewrite(text, reps)
}

// Fake returns a copy of entities with FakedChunk drawn from pool.
func Fake(entities []model.Entity, pool Pool, rng *rand.Rand) ([]model.Entity, error) {
	out := make([]model.Entity, len(entities))
	for i, e := range entities {
		v, err := pool.Pick(e.Label, rng)
		if err != nil {
			return nil, err
		}
		e.FakedChunk = v
		out[i] = e
	}
	return out, nil
}

// FakedText replaces every entity span with its FakedChunk.
func FakedText(text string, entities []model.Entity) (string, error) {
	reps := make([]splice.Replacement, len(entities))
	for i, e := range entities {
		reps[i] = splice.Replacement{Begin: e.Begin, End: e.End, Text: e.FakedChunk}
	}
	return splice.Rewrite(text, reps)
}

// Deidentify runs the requested modes over one text. When both modes are
// requested the faked chunks are chosen first and both texts are built from
// the same entity list. Entities are never modified in place.
func Deidentify(text string, entities []model.Entity, opts Options) (*Result, error) {
	res := &Result{Entities: append([]model.Entity(nil), entities...)}
	if res.Entities == nil {
		res.Entities = []model.Entity{}
	}

	if opts.Fake {
		pool := opts.Pool
		if pool == nil {
			if opts.PoolPath == "" {
				return nil, fmt.Errorf("faking requires a replacement pool")
			}
			var err error
			pool, err = LoadPool(opts.PoolPath)
			if err != nil {
				return nil, err
			}
		}

		faked, err := Fake(res.Entities, pool, opts.Rand)
		if err != nil {
			return nil, fmt.Errorf("fake: %w", err)
		}
		res.Entities = faked

		ft, err := FakedText(text, faked)
		if err != nil {
			return nil, fmt.Errorf("faked text: %w", err)
		}
		res.FakedText = &ft
	}

	if opts.Mask {
		mt, err := Mask(text, res.Entities)
		if err != nil {
			return nil, fmt.Errorf("mask: %w", err)
		}
		res.MaskedText = &mt
	}

	return res, nil
}
