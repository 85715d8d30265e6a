package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"codeberg.org/go-pdf/fpdf"
	"github.com/sirupsen/logrus"

	"resume-gpt/marker"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the render package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

var (
	// ErrNoElements is returned when there is nothing to lay out.
	ErrNoElements = errors.New("no elements to render")
	// ErrNoMarkers is returned in strict mode when text carries no formatting markers.
	ErrNoMarkers = errors.New("text carries no formatting markers")
)

// RenderError reports that required layout input was absent or the document
// could not be produced.
type RenderError struct {
	Reason string
	Err    error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render failed: %s: %v", e.Reason, e.Err)
	}
	return "render failed: " + e.Reason
}

func (e *RenderError) Unwrap() error { return e.Err }

// Page geometry in points.
const (
	pointsPerInch = 72.0
	pageMargin    = 0.83 * pointsPerInch

	titleGap         = 0.05 * pointsPerInch
	sectionGapBefore = 0.12 * pointsPerInch
	headingRuleGap   = 0.03 * pointsPerInch
	sectionGapAfter  = 0.10 * pointsPerInch
	subsectionGap    = 0.03 * pointsPerInch
	dateGap          = 0.05 * pointsPerInch
	paragraphGap     = 0.05 * pointsPerInch
	spacingGap       = 0.15 * pointsPerInch

	itemLeftShare = 0.7
	bulletGlyph   = "•"
)

// Mode names the path RenderText took.
type Mode string

const (
	ModeMarkers Mode = "markers"
	ModeLegacy  Mode = "legacy"
)

// Options tune document-level output.
type Options struct {
	// Watermark, when set, is drawn diagonally across every page.
	Watermark string
	Title     string
	Author    string
}

// Renderer lays typed elements onto a letter-size page.
type Renderer struct {
	opts Options
}

// New creates a Renderer.
func New(opts Options) *Renderer {
	return &Renderer{opts: opts}
}

// Render lays out elements with style and writes the PDF to outputPath.
func (r *Renderer) Render(elements []marker.Element, style StyleConfiguration, outputPath string) error {
	var buf bytes.Buffer
	if err := r.RenderTo(&buf, elements, style); err != nil {
		return err
	}
	return writeFile(outputPath, buf.Bytes())
}

// RenderTo lays out elements with style and writes the PDF to w.
func (r *Renderer) RenderTo(w io.Writer, elements []marker.Element, style StyleConfiguration) error {
	if len(elements) == 0 {
		return &RenderError{Reason: "empty element list", Err: ErrNoElements}
	}
	doc := r.newDocument(style, !elementsEncodable(elements))
	for _, el := range elements {
		if err := el.Accept(doc); err != nil {
			return &RenderError{Reason: "laying out " + el.Kind(), Err: err}
		}
	}
	log.WithField("elements", len(elements)).Debug("Laid out marker elements")
	return doc.output(w)
}

// RenderText picks the marker path when text carries markers and the
// heuristic path otherwise. In strict mode marker-less text is an error.
func (r *Renderer) RenderText(w io.Writer, text string, style StyleConfiguration, strict bool) (Mode, error) {
	if strings.TrimSpace(text) == "" {
		return "", &RenderError{Reason: "empty text", Err: ErrNoElements}
	}
	if marker.HasMarkers(text) {
		return ModeMarkers, r.RenderTo(w, marker.Parse(text), style)
	}
	if strict {
		log.Error("Generated text contains no formatting markers")
		return "", &RenderError{Reason: "generator output contains no formatting markers", Err: ErrNoMarkers}
	}

	log.Warn("No formatting markers found, using heuristic layout")
	lines := ClassifyLegacy(text)
	if len(lines) == 0 {
		return "", &RenderError{Reason: "no usable lines", Err: ErrNoElements}
	}
	doc := r.newDocument(style, !encodable(text))
	for _, line := range lines {
		doc.drawLegacy(line)
	}
	return ModeLegacy, doc.output(w)
}

// RenderTextFile is RenderText writing to outputPath.
func (r *Renderer) RenderTextFile(text string, style StyleConfiguration, strict bool, outputPath string) (Mode, error) {
	var buf bytes.Buffer
	mode, err := r.RenderText(&buf, text, style, strict)
	if err != nil {
		return "", err
	}
	return mode, writeFile(outputPath, buf.Bytes())
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &RenderError{Reason: "creating output directory", Err: err}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return &RenderError{Reason: "writing output file", Err: err}
	}
	return nil
}

// document wraps one fpdf instance for the duration of a render.
type document struct {
	pdf     *fpdf.Fpdf
	styles  StyleConfiguration
	tr      func(string) string
	unicode bool
	left    float64
	width   float64
}

func (r *Renderer) newDocument(styles StyleConfiguration, unicode bool) *document {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(pageMargin, pageMargin, pageMargin)
	pdf.SetAutoPageBreak(true, pageMargin)
	pdf.SetCellMargin(0)
	pdf.SetCreator("resume-gpt", true)
	if r.opts.Title != "" {
		pdf.SetTitle(r.opts.Title, true)
	}
	if r.opts.Author != "" {
		pdf.SetAuthor(r.opts.Author, true)
	}

	d := &document{
		pdf:    pdf,
		styles: styles,
		tr:     pdf.UnicodeTranslatorFromDescriptor(""),
		left:   pageMargin,
	}
	if unicode {
		log.Warn("Text outside cp1252, using embedded Unicode font")
		addUnicodeFonts(pdf)
		d.unicode = true
		d.tr = func(s string) string { return s }
	}
	pageWidth, _ := pdf.GetPageSize()
	d.width = pageWidth - 2*pageMargin

	if r.opts.Watermark != "" {
		watermark := d.tr(r.opts.Watermark)
		pdf.SetHeaderFuncMode(func() {
			w, h := pdf.GetPageSize()
			pdf.SetFont(d.family("Helvetica"), "B", 72)
			pdf.SetTextColor(225, 225, 225)
			pdf.TransformBegin()
			pdf.TransformRotate(45, w/2, h/2)
			pdf.SetXY(0, h/2-36)
			pdf.CellFormat(w, 72, watermark, "", 0, "C", false, 0, "")
			pdf.TransformEnd()
		}, true)
	}

	pdf.AddPage()
	return d
}

func (d *document) output(w io.Writer) error {
	if err := d.pdf.Output(w); err != nil {
		return &RenderError{Reason: "writing PDF", Err: err}
	}
	return nil
}

func (d *document) family(name string) string {
	if d.unicode {
		return unicodeFamily
	}
	if name == "" {
		return "Times"
	}
	return name
}

func (d *document) setFont(style ParagraphStyle, fontStyle string) {
	d.pdf.SetFont(d.family(style.FontFamily), fontStyle, style.FontSize)
	d.pdf.SetTextColor(style.Color.R, style.Color.G, style.Color.B)
}

func (d *document) space(h float64) {
	if h > 0 {
		d.pdf.Ln(h)
	}
}

// block sets single-weight text in the style's alignment, wrapping as needed.
func (d *document) block(style ParagraphStyle, text, fontStyle string) {
	d.setFont(style, fontStyle)
	align := string(style.Alignment)
	if align == "" {
		align = string(AlignLeft)
	}
	d.pdf.SetX(d.left + style.LeftIndent)
	d.pdf.MultiCell(d.width-style.LeftIndent, style.leading(), d.tr(stripMarkup(text)), "", align, false)
}

// rich sets text with inline bold spans as flowing text starting at indent.
func (d *document) rich(style ParagraphStyle, text string, indent float64) {
	spans := splitSpans(text)
	if style.Alignment != "" && style.Alignment != AlignLeft && len(spans) <= 1 {
		d.block(style, text, style.FontStyle)
		return
	}
	d.pdf.SetLeftMargin(d.left + indent)
	d.pdf.SetX(d.left + indent)
	for _, s := range spans {
		d.setFont(style, withBold(style.FontStyle, s.Bold))
		d.pdf.Write(style.leading(), d.tr(s.Text))
	}
	d.pdf.Ln(style.leading())
	d.pdf.SetLeftMargin(d.left)
}

func withBold(fontStyle string, bold bool) string {
	if bold && !strings.Contains(strings.ToUpper(fontStyle), "B") {
		return "B" + fontStyle
	}
	return fontStyle
}

// rule draws a full-width horizontal line at the current position.
func (d *document) rule() {
	divider := d.styles.Style(StyleDivider)
	width := divider.LineWidth
	if width <= 0 {
		width = 1
	}
	d.space(divider.SpaceBefore)
	y := d.pdf.GetY()
	d.pdf.SetDrawColor(divider.Color.R, divider.Color.G, divider.Color.B)
	d.pdf.SetLineWidth(width)
	d.pdf.Line(d.left, y, d.left+d.width, y)
	d.pdf.SetY(y + width)
	d.space(divider.SpaceAfter)
}

// row sets a left cell and a right-aligned cell on one line, flush with the flow.
func (d *document) row(style ParagraphStyle, left, leftStyle, right string) {
	leftWidth := d.width * itemLeftShare
	h := style.leading()
	d.pdf.SetX(d.left)
	d.setFont(style, leftStyle)
	d.pdf.CellFormat(leftWidth, h, d.tr(stripMarkup(left)), "", 0, "L", false, 0, "")
	d.setFont(style, style.FontStyle)
	d.pdf.CellFormat(d.width-leftWidth, h, d.tr(stripMarkup(right)), "", 1, "R", false, 0, "")
}

func (d *document) VisitTitle(e marker.Title) error {
	style := d.styles.Style(StyleName)
	style.Alignment = AlignCenter
	d.space(style.SpaceBefore)
	d.block(style, e.Text, style.FontStyle)
	d.space(style.SpaceAfter + titleGap)
	return d.pdf.Error()
}

func (d *document) VisitContact(e marker.Contact) error {
	style := d.styles.Style(StyleContact)
	style.Alignment = AlignCenter
	d.space(style.SpaceBefore)
	d.block(style, e.Text, style.FontStyle)
	d.space(style.SpaceAfter)
	return d.pdf.Error()
}

func (d *document) VisitSection(e marker.Section) error {
	d.section(e.Heading)
	return d.pdf.Error()
}

func (d *document) section(heading string) {
	style := d.styles.Style(StyleSectionHeading)
	d.space(sectionGapBefore + style.SpaceBefore)
	d.block(style, strings.ToUpper(stripMarkup(heading)), "BU")
	d.space(headingRuleGap)
	d.rule()
	d.space(sectionGapAfter + style.SpaceAfter)
}

func (d *document) VisitSubsection(e marker.Subsection) error {
	body := d.styles.Style(StyleBody)
	d.block(body, e.Text, withBold(body.FontStyle, true))
	d.space(subsectionGap)
	return d.pdf.Error()
}

func (d *document) VisitDateRange(e marker.DateRange) error {
	body := d.styles.Style(StyleBody)
	d.block(body, e.Text, "I")
	d.space(dateGap)
	return d.pdf.Error()
}

func (d *document) VisitBullet(e marker.Bullet) error {
	d.bullet(e.Text)
	return d.pdf.Error()
}

func (d *document) bullet(text string) {
	style := d.styles.Style(StyleBullet)
	indent := style.LeftIndent
	if indent <= 0 {
		indent = 15
	}
	d.space(style.SpaceBefore)
	d.setFont(style, style.FontStyle)
	d.pdf.SetX(d.left + style.BulletIndent)
	d.pdf.CellFormat(indent-style.BulletIndent, style.leading(), d.tr(bulletGlyph), "", 0, "L", false, 0, "")
	d.rich(style, text, indent)
	d.space(style.SpaceAfter)
}

func (d *document) VisitParagraph(e marker.Paragraph) error {
	body := d.styles.Style(StyleBody)
	d.space(body.SpaceBefore)
	d.rich(body, e.Text, body.LeftIndent)
	d.space(body.SpaceAfter + paragraphGap)
	return d.pdf.Error()
}

func (d *document) VisitPlainText(e marker.PlainText) error {
	body := d.styles.Style(StyleBody)
	d.rich(body, e.Text, body.LeftIndent)
	return d.pdf.Error()
}

func (d *document) VisitSpacing(marker.Spacing) error {
	d.space(spacingGap)
	return d.pdf.Error()
}

func (d *document) VisitExperienceItem(e marker.ExperienceItem) error {
	body := d.styles.Style(StyleBody)
	d.row(body, e.Company, withBold(body.FontStyle, true), e.Location)
	d.row(body, e.Role, "BI", e.Date)
	return d.pdf.Error()
}

func (d *document) VisitEducationItem(e marker.EducationItem) error {
	body := d.styles.Style(StyleBody)
	d.row(body, e.Institution, withBold(body.FontStyle, true), e.Location)
	d.row(body, e.Degree, withBold(body.FontStyle, true), e.Date)
	return d.pdf.Error()
}
