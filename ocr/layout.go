package ocr

import "image"

// Layout is the positioned view of a recognized page: the fragments that
// carry geometry and the rectangle enclosing them.
type Layout struct {
	PageNumber int
	Bounds     image.Rectangle
	Lines      []Line
}

// buildLayout collects the positioned fragments of a page. Returns nil when
// no fragment carries geometry.
func buildLayout(pageNumber int, lines []Line) *Layout {
	layout := &Layout{PageNumber: pageNumber}
	for _, l := range lines {
		if !l.HasBox() {
			continue
		}
		if len(layout.Lines) == 0 {
			layout.Bounds = l.Box
		} else {
			layout.Bounds = layout.Bounds.Union(l.Box)
		}
		layout.Lines = append(layout.Lines, l)
	}
	if len(layout.Lines) == 0 {
		return nil
	}
	return layout
}

// Coverage returns the share of the page area covered by the layout bounds,
// given the page size in pixels.
func (l *Layout) Coverage(page image.Rectangle) float64 {
	if l == nil || page.Empty() {
		return 0
	}
	inter := l.Bounds.Intersect(page)
	return float64(inter.Dx()*inter.Dy()) / float64(page.Dx()*page.Dy())
}
