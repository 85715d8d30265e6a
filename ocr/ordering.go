package ocr

import (
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	// A fragment joins the current row when its vertical center is within
	// this share of the row height.
	rowTolerance = 0.5

	minFragmentRun    = 4
	maxFragmentRunes  = 2
	fragmentShare     = 0.8
	wordGapHeightPart = 0.4
)

// FilterConfidence drops blank fragments and fragments below threshold.
func FilterConfidence(lines []Line, threshold float64) []Line {
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l.Text) == "" {
			continue
		}
		if l.Confidence < threshold {
			log.WithField("confidence", l.Confidence).Debugf("Dropping low-confidence fragment %q", l.Text)
			continue
		}
		out = append(out, l)
	}
	return out
}

// OrderLines puts fragments into reading order: rows from top to bottom, and
// left to right within a row. Fragments without geometry keep their relative
// order after the positioned ones.
func OrderLines(lines []Line) []Line {
	var boxed, unboxed []Line
	for _, l := range lines {
		if l.HasBox() {
			boxed = append(boxed, l)
		} else {
			unboxed = append(unboxed, l)
		}
	}
	if len(boxed) == 0 {
		return append([]Line(nil), lines...)
	}

	sort.SliceStable(boxed, func(i, j int) bool {
		if boxed[i].Box.Min.Y != boxed[j].Box.Min.Y {
			return boxed[i].Box.Min.Y < boxed[j].Box.Min.Y
		}
		return boxed[i].Box.Min.X < boxed[j].Box.Min.X
	})

	ordered := make([]Line, 0, len(lines))
	for _, row := range groupRows(boxed) {
		sort.SliceStable(row, func(i, j int) bool {
			return row[i].Box.Min.X < row[j].Box.Min.X
		})
		ordered = append(ordered, row...)
	}
	return append(ordered, unboxed...)
}

// groupRows splits fragments sorted by top edge into visual rows.
func groupRows(sorted []Line) [][]Line {
	var rows [][]Line
	var current []Line
	var rowTop, rowBottom int
	for _, l := range sorted {
		if len(current) > 0 && sameRow(rowTop, rowBottom, l) {
			current = append(current, l)
			if l.Box.Max.Y > rowBottom {
				rowBottom = l.Box.Max.Y
			}
			continue
		}
		if len(current) > 0 {
			rows = append(rows, current)
		}
		current = []Line{l}
		rowTop, rowBottom = l.Box.Min.Y, l.Box.Max.Y
	}
	if len(current) > 0 {
		rows = append(rows, current)
	}
	return rows
}

func sameRow(rowTop, rowBottom int, l Line) bool {
	rowHeight := float64(rowBottom - rowTop)
	if h := float64(l.Box.Dy()); h < rowHeight {
		rowHeight = h
	}
	rowCenter := float64(rowTop+rowBottom) / 2
	center := float64(l.Box.Min.Y+l.Box.Max.Y) / 2
	diff := center - rowCenter
	if diff < 0 {
		diff = -diff
	}
	return diff <= rowHeight*rowTolerance
}

// IsCharacterLevel reports whether a page came back as a run of one- or
// two-character fragments instead of words or lines.
func IsCharacterLevel(lines []Line) bool {
	if len(lines) < minFragmentRun {
		return false
	}
	short := 0
	for _, l := range lines {
		if utf8.RuneCountInString(strings.TrimSpace(l.Text)) <= maxFragmentRunes {
			short++
		}
	}
	return float64(short) >= float64(len(lines))*fragmentShare
}

// rejoinFragments glues ordered character fragments into a single run,
// inserting a space at row breaks and wide horizontal gaps.
func rejoinFragments(lines []Line) string {
	var b strings.Builder
	for i, l := range lines {
		text := strings.TrimSpace(l.Text)
		if i > 0 && needsSpace(lines[i-1], l) {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
	return strings.TrimSpace(b.String())
}

func needsSpace(prev, cur Line) bool {
	if !prev.HasBox() || !cur.HasBox() {
		return false
	}
	if cur.Box.Min.Y >= prev.Box.Max.Y || cur.Box.Max.Y <= prev.Box.Min.Y {
		return true
	}
	height := prev.Box.Dy()
	if cur.Box.Dy() > height {
		height = cur.Box.Dy()
	}
	gap := cur.Box.Min.X - prev.Box.Max.X
	return float64(gap) > float64(height)*wordGapHeightPart
}

// PageText joins ordered fragments of one page with newlines, or rejoins
// them into a single run when the page is character-level noise.
func PageText(lines []Line) string {
	if IsCharacterLevel(lines) {
		return rejoinFragments(lines)
	}
	parts := make([]string, 0, len(lines))
	for _, l := range lines {
		if t := strings.TrimSpace(l.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, "\n")
}

// textToLines turns provider plain text into fragments with full confidence.
func textToLines(text string) []Line {
	var lines []Line
	for _, raw := range strings.Split(text, "\n") {
		if t := strings.TrimSpace(raw); t != "" {
			lines = append(lines, Line{Text: t, Confidence: 1})
		}
	}
	return lines
}
