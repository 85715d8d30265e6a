package render

import (
	"strings"

	"codeberg.org/go-pdf/fpdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/goregular"

	"resume-gpt/marker"
)

// unicodeFamily is the embedded TrueType family used when the core fonts
// cannot encode the text.
const unicodeFamily = "Go"

// Runes cp1252 places in 0x80-0x9F.
const cp1252Specials = "€‚ƒ„…†‡ˆ‰Š‹ŒŽ‘’“”•–—˜™š›œžŸ"

func encodable(s string) bool {
	for _, r := range s {
		switch {
		case r < 0x80, r >= 0xA0 && r <= 0xFF:
		case strings.ContainsRune(cp1252Specials, r):
		default:
			return false
		}
	}
	return true
}

func elementsEncodable(elements []marker.Element) bool {
	for _, el := range elements {
		for _, text := range elementText(el) {
			if !encodable(text) {
				return false
			}
		}
	}
	return true
}

func elementText(el marker.Element) []string {
	switch e := el.(type) {
	case marker.Title:
		return []string{e.Text}
	case marker.Contact:
		return []string{e.Text}
	case marker.Section:
		return []string{e.Heading}
	case marker.Subsection:
		return []string{e.Text}
	case marker.DateRange:
		return []string{e.Text}
	case marker.Bullet:
		return []string{e.Text}
	case marker.Paragraph:
		return []string{e.Text}
	case marker.PlainText:
		return []string{e.Text}
	case marker.ExperienceItem:
		return []string{e.Company, e.Location, e.Role, e.Date}
	case marker.EducationItem:
		return []string{e.Institution, e.Location, e.Degree, e.Date}
	}
	return nil
}

func addUnicodeFonts(pdf *fpdf.Fpdf) {
	pdf.AddUTF8FontFromBytes(unicodeFamily, "", goregular.TTF)
	pdf.AddUTF8FontFromBytes(unicodeFamily, "B", gobold.TTF)
	pdf.AddUTF8FontFromBytes(unicodeFamily, "I", goitalic.TTF)
	pdf.AddUTF8FontFromBytes(unicodeFamily, "BI", gobolditalic.TTF)
}
