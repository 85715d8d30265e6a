package render

import (
	"regexp"
	"strings"
	"unicode"
)

// LegacyKind classifies one line of marker-less text.
type LegacyKind int

const (
	LegacyBody LegacyKind = iota
	LegacySection
	LegacyHeader
	LegacyBullet
	LegacyRule
)

func (k LegacyKind) String() string {
	switch k {
	case LegacySection:
		return "section"
	case LegacyHeader:
		return "header"
	case LegacyBullet:
		return "bullet"
	case LegacyRule:
		return "rule"
	default:
		return "body"
	}
}

// LegacyLine is one classified line.
type LegacyLine struct {
	Kind LegacyKind
	Text string
}

var sectionKeywords = []string{
	"SUMMARY", "PROFESSIONAL SUMMARY", "PROFILE", "OBJECTIVE",
	"EDUCATION", "EXPERIENCE", "WORK EXPERIENCE", "PROFESSIONAL EXPERIENCE", "EMPLOYMENT",
	"SKILLS", "TECHNICAL SKILLS", "PROJECTS", "CERTIFICATIONS", "CERTIFICATES",
	"AWARDS", "HONORS", "PUBLICATIONS", "LEADERSHIP", "ACTIVITIES",
	"LANGUAGES", "INTERESTS", "VOLUNTEER", "VOLUNTEERING", "REFERENCES",
}

const maxSectionLength = 40

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// ClassifyLegacy applies line heuristics to text that carries no markers.
// Blank lines are dropped.
func ClassifyLegacy(text string) []LegacyLine {
	var out []LegacyLine
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		out = append(out, classifyLegacyLine(line))
	}
	return out
}

func classifyLegacyLine(line string) LegacyLine {
	switch {
	case isDivider(line):
		return LegacyLine{Kind: LegacyRule}
	case strings.HasPrefix(line, "•"):
		return LegacyLine{Kind: LegacyBullet, Text: strings.TrimSpace(strings.TrimPrefix(line, "•"))}
	case strings.HasPrefix(line, "-"):
		return LegacyLine{Kind: LegacyBullet, Text: strings.TrimSpace(strings.TrimPrefix(line, "-"))}
	case isSectionHeading(line):
		return LegacyLine{Kind: LegacySection, Text: strings.TrimSuffix(line, ":")}
	case yearPattern.MatchString(line) && strings.Contains(line, ","):
		return LegacyLine{Kind: LegacyHeader, Text: line}
	default:
		return LegacyLine{Kind: LegacyBody, Text: line}
	}
}

// isDivider reports lines drawn entirely with box-drawing or rule characters.
func isDivider(line string) bool {
	count := 0
	for _, r := range line {
		switch {
		case r >= 0x2500 && r <= 0x257F:
		case r == '-' || r == '_' || r == '=':
		case unicode.IsSpace(r):
			continue
		default:
			return false
		}
		count++
	}
	return count >= 3
}

func isSectionHeading(line string) bool {
	heading := strings.TrimSpace(strings.TrimSuffix(line, ":"))
	if heading == "" || len(heading) > maxSectionLength {
		return false
	}
	if strings.ToUpper(heading) != heading || !strings.ContainsFunc(heading, unicode.IsLetter) {
		return false
	}
	words := strings.Fields(heading)
	for _, keyword := range sectionKeywords {
		if heading == keyword {
			return true
		}
		for _, w := range words {
			if strings.Trim(w, "&/,") == keyword {
				return true
			}
		}
	}
	return false
}

func (d *document) drawLegacy(line LegacyLine) {
	body := d.styles.Style(StyleBody)
	switch line.Kind {
	case LegacySection:
		d.section(line.Text)
	case LegacyHeader:
		d.block(body, line.Text, withBold(body.FontStyle, true))
	case LegacyBullet:
		d.bullet(line.Text)
	case LegacyRule:
		d.rule()
	default:
		d.rich(body, line.Text, body.LeftIndent)
	}
}
