package visualize

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Color is a label colour: Dark for borders and tags, Light for backgrounds.
type Color struct {
	Dark  string
	Light string
}

var baseColors = []Color{
	{Dark: "#5C5CE0", Light: "rgba(92, 92, 224, 0.12)"},
	{Dark: "#3DA74E", Light: "rgba(61, 167, 78, 0.12)"},
	{Dark: "#CE2783", Light: "rgba(206, 39, 131, 0.12)"},
	{Dark: "#D2B200", Light: "rgba(210, 178, 0, 0.12)"},
	{Dark: "#B130BD", Light: "rgba(177, 48, 189, 0.12)"},
	{Dark: "#16878C", Light: "rgba(22, 135, 140, 0.02)"},
	{Dark: "#7CC33F", Light: "rgba(124, 195, 63, 0.12)"},
	{Dark: "#864CCC", Light: "rgba(134, 76, 204, 0.12)"},
	{Dark: "#1473E6", Light: "rgba(20, 115, 230, 0.12)"},
	{Dark: "#D7373F", Light: "rgba(215, 55, 63, 0.12)"},
	{Dark: "#DA7B11", Light: "rgba(218, 123, 17, 0.12)"},
	{Dark: "#268E6C", Light: "rgba(38, 142, 108, 0.12)"},
}

// Palette hands out colours per label in first-seen order. The first twelve
// labels get the fixed colours; later ones get random ones. Secondary labels
// (assertions, code descriptions) take the fixed colours from the end.
type Palette struct {
	mu        sync.Mutex
	labels    map[string]Color
	secondary map[string]string
	rng       *rand.Rand
}

// NewPalette creates a palette. A nil rng uses the package-level source.
func NewPalette(rng *rand.Rand) *Palette {
	return &Palette{
		labels:    make(map[string]Color),
		secondary: make(map[string]string),
		rng:       rng,
	}
}

// Color returns the colour assigned to label.
func (p *Palette) Color(label string) Color {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.labels[label]; ok {
		return c
	}
	var c Color
	if n := len(p.labels); n < len(baseColors) {
		c = baseColors[n]
	} else {
		c = p.random()
	}
	p.labels[label] = c
	return c
}

// SecondaryColor returns the tag colour assigned to a secondary label.
func (p *Palette) SecondaryColor(label string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.secondary[label]; ok {
		return c
	}
	var c string
	if n := len(p.secondary); n < len(baseColors) {
		c = baseColors[len(baseColors)-1-n].Dark
	} else {
		c = p.random().Dark
	}
	p.secondary[label] = c
	return c
}

func (p *Palette) float() float64 {
	if p.rng == nil {
		return rand.Float64()
	}
	return p.rng.Float64()
}

func (p *Palette) random() Color {
	h := p.float()
	s := 0.5 + p.float()/2.0
	l := 0.4 + p.float()/5.0
	r, g, b := hlsToRGB(h, l, s)
	ri, gi, bi := channel(r), channel(g), channel(b)
	return Color{
		Dark:  fmt.Sprintf("rgb(%d, %d, %d)", ri, gi, bi),
		Light: fmt.Sprintf("rgba(%d, %d, %d, 0.12)", ri, gi, bi),
	}
}

func channel(v float64) int {
	c := int(256 * v)
	if c > 255 {
		c = 255
	}
	return c
}

// hlsToRGB converts hue, lightness and saturation in [0, 1] to RGB in [0, 1].
func hlsToRGB(h, l, s float64) (float64, float64, float64) {
	if s == 0 {
		return l, l, l
	}
	var m2 float64
	if l <= 0.5 {
		m2 = l * (1 + s)
	} else {
		m2 = l + s - l*s
	}
	m1 := 2*l - m2
	return hue(m1, m2, h+1.0/3), hue(m1, m2, h), hue(m1, m2, h-1.0/3)
}

func hue(m1, m2, h float64) float64 {
	if h < 0 {
		h += 1
	} else if h > 1 {
		h -= 1
	}
	switch {
	case h < 1.0/6:
		return m1 + (m2-m1)*h*6
	case h < 0.5:
		return m2
	case h < 2.0/3:
		return m1 + (m2-m1)*(2.0/3-h)*6
	}
	return m1
}
