package render

import "sort"

// Style keys looked up by the renderer.
const (
	StyleName           = "name"
	StyleContact        = "contact"
	StyleSectionHeading = "section_heading"
	StyleBody           = "body"
	StyleBullet         = "bullet"
	StyleDivider        = "divider"
	StyleJobTitle       = "job_title"
)

type Alignment string

const (
	AlignLeft   Alignment = "L"
	AlignCenter Alignment = "C"
	AlignRight  Alignment = "R"
)

// Color is an RGB triple, 0-255 per channel.
type Color struct {
	R, G, B int
}

var Black = Color{}

// ParagraphStyle describes how one kind of element is set. Sizes are in
// points. FontStyle is an fpdf style string ("", "B", "I" or "BI"); LineWidth
// is only read from the divider style.
type ParagraphStyle struct {
	FontFamily   string
	FontStyle    string
	FontSize     float64
	Leading      float64
	Color        Color
	Alignment    Alignment
	SpaceBefore  float64
	SpaceAfter   float64
	LeftIndent   float64
	BulletIndent float64
	LineWidth    float64
}

func (s ParagraphStyle) leading() float64 {
	if s.Leading > 0 {
		return s.Leading
	}
	return s.FontSize * 1.2
}

// StyleConfiguration maps element keys to paragraph styles. It copies its
// input and has no mutators, so a value can be shared across renders.
type StyleConfiguration struct {
	styles map[string]ParagraphStyle
}

// NewStyleConfiguration builds a configuration from a key → style mapping.
func NewStyleConfiguration(styles map[string]ParagraphStyle) StyleConfiguration {
	copied := make(map[string]ParagraphStyle, len(styles))
	for k, v := range styles {
		copied[k] = v
	}
	return StyleConfiguration{styles: copied}
}

// Lookup returns the style registered under key.
func (c StyleConfiguration) Lookup(key string) (ParagraphStyle, bool) {
	s, ok := c.styles[key]
	return s, ok
}

// Style returns the style for key, falling back to body and then to a plain
// Times 10.5pt style.
func (c StyleConfiguration) Style(key string) ParagraphStyle {
	if s, ok := c.styles[key]; ok {
		return s
	}
	if s, ok := c.styles[StyleBody]; ok {
		return s
	}
	return ParagraphStyle{FontFamily: "Times", FontSize: 10.5, Leading: 12, Alignment: AlignLeft}
}

// Keys lists the registered keys in sorted order.
func (c StyleConfiguration) Keys() []string {
	keys := make([]string, 0, len(c.styles))
	for k := range c.styles {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of registered styles.
func (c StyleConfiguration) Len() int {
	return len(c.styles)
}
