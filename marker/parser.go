package marker

import (
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the marker package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Marker tokens of the formatting language. The generator's instructions and
// the parser share these, so they must not drift.
const (
	TokenTitle          = "[TITLE:"
	TokenContact        = "[CONTACT:"
	TokenSection        = "[SECTION:"
	TokenSubsection     = "[SUBSECTION:"
	TokenDate           = "[DATE:"
	TokenBullet         = "[BULLET:"
	TokenBold           = "[BOLD:"
	TokenParagraph      = "[PARAGRAPH]"
	TokenSpacing        = "[SPACING]"
	TokenExperienceItem = "[EXPERIENCE_ITEM:"
	TokenEducationItem  = "[EDUCATION_ITEM:"
)

// detectionTokens are the nine tokens HasMarkers looks for.
var detectionTokens = []string{
	TokenTitle, TokenContact, TokenSection, TokenSubsection, TokenDate,
	TokenBullet, TokenParagraph, TokenSpacing, TokenBold,
}

// paragraphStops end paragraph collection. Inline bold is deliberately absent.
var paragraphStops = []string{
	TokenTitle, TokenContact, TokenSection, TokenSubsection, TokenDate,
	TokenBullet, TokenSpacing, TokenParagraph, TokenExperienceItem, TokenEducationItem,
}

var (
	boldPattern = regexp.MustCompile(`\[BOLD:\s*(.*?)\]`)

	// The payload runs to the last closing bracket so that bracketed text
	// inside it survives. Anything after that bracket is kept as trailing text.
	titlePattern      = regexp.MustCompile(`^\[TITLE:\s*(.*)\](.*)$`)
	contactPattern    = regexp.MustCompile(`^\[CONTACT:\s*(.*)\](.*)$`)
	sectionPattern    = regexp.MustCompile(`^\[SECTION:\s*(.*)\](.*)$`)
	subsectionPattern = regexp.MustCompile(`^\[SUBSECTION:\s*(.*)\](.*)$`)
	datePattern       = regexp.MustCompile(`^\[DATE:\s*(.*)\](.*)$`)
	bulletPattern     = regexp.MustCompile(`^\[BULLET:\s*(.*)\](.*)$`)
	experiencePattern = regexp.MustCompile(`^\[EXPERIENCE_ITEM:\s*(.*)\](.*)$`)
	educationPattern  = regexp.MustCompile(`^\[EDUCATION_ITEM:\s*(.*)\](.*)$`)
)

// HasMarkers reports whether text contains any of the recognized marker tokens.
func HasMarkers(text string) bool {
	for _, token := range detectionTokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// ResolveBold replaces every [BOLD: x] token with an embedded <b>x</b> span.
func ResolveBold(text string) string {
	return boldPattern.ReplaceAllStringFunc(text, func(token string) string {
		m := boldPattern.FindStringSubmatch(token)
		return "<b>" + strings.TrimSpace(m[1]) + "</b>"
	})
}

// lineScanner walks trimmed lines and can look at the next line without
// consuming it.
type lineScanner struct {
	lines []string
	pos   int
}

func newLineScanner(text string) *lineScanner {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	raw := strings.Split(text, "\n")
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = strings.TrimSpace(l)
	}
	return &lineScanner{lines: lines}
}

func (s *lineScanner) peek() (string, bool) {
	if s.pos >= len(s.lines) {
		return "", false
	}
	return s.lines[s.pos], true
}

func (s *lineScanner) next() (string, bool) {
	line, ok := s.peek()
	if ok {
		s.pos++
	}
	return line, ok
}

// Parse turns marker-annotated text into an ordered element sequence. It never
// fails: unrecognized or malformed markers degrade to PlainText.
func Parse(text string) []Element {
	scanner := newLineScanner(text)
	elements := make([]Element, 0, len(scanner.lines))

	for {
		line, ok := scanner.next()
		if !ok {
			break
		}
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, TokenParagraph) {
			if p, ok := collectParagraph(scanner, strings.TrimPrefix(line, TokenParagraph)); ok {
				elements = append(elements, p)
			}
			continue
		}
		elements = append(elements, classifyLine(line))
	}

	log.WithField("elements", len(elements)).Debug("Parsed marker text")
	return elements
}

// collectParagraph consumes body lines until a blank line or a structural
// marker. The terminating marker line is left unconsumed.
func collectParagraph(scanner *lineScanner, firstLine string) (Element, bool) {
	var parts []string
	if first := strings.TrimSpace(firstLine); first != "" {
		parts = append(parts, first)
	}
	for {
		line, ok := scanner.peek()
		if !ok || line == "" || isParagraphStop(line) {
			break
		}
		scanner.next()
		parts = append(parts, line)
	}
	if len(parts) == 0 {
		return nil, false
	}
	return Paragraph{Text: ResolveBold(strings.Join(parts, " "))}, true
}

func isParagraphStop(line string) bool {
	for _, token := range paragraphStops {
		if strings.HasPrefix(line, token) {
			return true
		}
	}
	return false
}

// classifyLine maps one non-blank line, outside of paragraph collection, to an element.
func classifyLine(line string) Element {
	if strings.HasPrefix(line, TokenSpacing) {
		return Spacing{}
	}

	resolved := ResolveBold(line)

	if m := experiencePattern.FindStringSubmatch(resolved); m != nil {
		content := withTrailing(m[1], m[2])
		fields, ok := splitItemFields(content)
		if !ok {
			return Subsection{Text: content}
		}
		return ExperienceItem{Company: fields[0], Location: fields[1], Role: fields[2], Date: fields[3]}
	}
	if m := educationPattern.FindStringSubmatch(resolved); m != nil {
		content := withTrailing(m[1], m[2])
		fields, ok := splitItemFields(content)
		if !ok {
			return Subsection{Text: content}
		}
		return EducationItem{Institution: fields[0], Location: fields[1], Degree: fields[2], Date: fields[3]}
	}

	switch {
	case titlePattern.MatchString(resolved):
		return Title{Text: payload(titlePattern, resolved)}
	case contactPattern.MatchString(resolved):
		return Contact{Text: payload(contactPattern, resolved)}
	case sectionPattern.MatchString(resolved):
		return Section{Heading: payload(sectionPattern, resolved)}
	case subsectionPattern.MatchString(resolved):
		return Subsection{Text: payload(subsectionPattern, resolved)}
	case datePattern.MatchString(resolved):
		return DateRange{Text: payload(datePattern, resolved)}
	case bulletPattern.MatchString(resolved):
		return Bullet{Text: payload(bulletPattern, resolved)}
	}

	if strings.HasPrefix(line, "[") {
		log.WithField("line", line).Debug("Unrecognized marker, keeping line as text")
	}
	return PlainText{Text: resolved}
}

func payload(re *regexp.Regexp, line string) string {
	m := re.FindStringSubmatch(line)
	return withTrailing(m[1], m[2])
}

// withTrailing appends text found after a marker's closing bracket to its payload.
func withTrailing(content, trailing string) string {
	content = strings.TrimSpace(content)
	if trailing = strings.TrimSpace(trailing); trailing != "" {
		if content == "" {
			return trailing
		}
		return content + " " + trailing
	}
	return content
}

// splitItemFields splits a composite item payload into exactly four fields.
// Surplus fields are folded into the last one.
func splitItemFields(content string) ([4]string, bool) {
	var fields [4]string
	parts := strings.Split(content, "|")
	if len(parts) < 4 {
		return fields, false
	}
	for i := 0; i < 3; i++ {
		fields[i] = strings.TrimSpace(parts[i])
	}
	rest := make([]string, 0, len(parts)-3)
	for _, p := range parts[3:] {
		rest = append(rest, strings.TrimSpace(p))
	}
	fields[3] = strings.Join(rest, " | ")
	return fields, true
}
