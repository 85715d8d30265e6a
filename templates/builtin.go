package templates

import (
	"strings"

	"resume-gpt/marker"
	"resume-gpt/render"
)

// MarkerVocabulary documents the formatting markers the parser understands.
// Every template's instructions embed it.
var MarkerVocabulary = strings.Join([]string{
	marker.TokenTitle + " text] - the candidate's full name, one line",
	marker.TokenContact + " item • item • item] - all contact details on ONE line, separated by •",
	marker.TokenSection + " HEADER] - major sections such as EDUCATION, EXPERIENCE, SKILLS",
	marker.TokenSubsection + " text] - a bold line inside a section",
	marker.TokenDate + " Month YYYY - Month YYYY] - a date line",
	marker.TokenExperienceItem + " Company | City, ST | Role | Month YYYY - Month YYYY] - job header, exactly 4 fields",
	marker.TokenEducationItem + " Institution | City, ST | Degree | Month YYYY - Month YYYY] - school header, exactly 4 fields",
	marker.TokenBullet + " text] - one achievement or list item",
	marker.TokenBold + " text] - inline emphasis, may appear inside any line",
	marker.TokenParagraph + " - on its own line, followed by body lines; ends at a blank line or the next marker",
	marker.TokenSpacing + " - on its own line, vertical space between sections",
}, "\n")

const writingRules = `You are an expert résumé editor. The text you receive was extracted from a PDF,
possibly via OCR, and has lost its original structure.

1. Reconstruct the document structure from the raw text.
2. Improve the wording: start bullets with strong action verbs, quantify outcomes,
   use present tense for the current role and past tense for earlier ones, no pronouns.
3. Preserve every fact: names, dates, companies, schools and achievements.
   Never invent information and never drop substantive content.
4. Keep reverse chronological order.
5. Put the contact details on a single line separated by •.`

const professionalLayout = `LAYOUT: Harvard CV format. Centered name and contact line, EDUCATION first,
then EXPERIENCE, then SKILLS, then optional sections (PROJECTS, LEADERSHIP, AWARDS).
Do not include an OBJECTIVE section.`

const modernLayout = `LAYOUT: modern single-column format. Centered name and contact line, a short
PROFESSIONAL SUMMARY paragraph, then EXPERIENCE, SKILLS and EDUCATION.`

func instructions(layout, example string) string {
	return writingRules + "\n\n" + layout + "\n\nOUTPUT FORMAT. Use these exact markers:\n" +
		MarkerVocabulary + "\n\nEXAMPLE:\n" + example + "\n\nReturn ONLY the improved résumé using these markers."
}

const professionalExample = `[TITLE: JOHN SMITH]
[CONTACT: Boston, MA • (555) 123-4567 • john.smith@email.com • linkedin.com/in/johnsmith]
[SPACING]
[SECTION: EDUCATION]
[EDUCATION_ITEM: Massachusetts Institute of Technology | Cambridge, MA | B.S. Computer Science | Sep 2016 - May 2020]
[BULLET: Dean's List: Fall 2018, Spring 2019]
[SECTION: EXPERIENCE]
[EXPERIENCE_ITEM: Tech Company Inc. | Boston, MA | Software Engineer | Jun 2020 - Present]
[BULLET: Optimized database queries, cutting load time by [BOLD: 40%]]
[SECTION: SKILLS]
[PARAGRAPH]
[BOLD: Technical:] Go, Python, PostgreSQL, Docker`

const modernExample = `[TITLE: JANE DOE]
[CONTACT: New York, NY • jane@doe.dev • github.com/janedoe]
[SECTION: PROFESSIONAL SUMMARY]
[PARAGRAPH]
Backend engineer with 6 years of experience building payment systems.
[SECTION: EXPERIENCE]
[EXPERIENCE_ITEM: Fintech Co | New York, NY | Senior Engineer | 2021 - Present]
[BULLET: Led migration of [BOLD: 12] services to Kubernetes]`

// Professional is the Harvard-style serif template.
func Professional() Template {
	return Template{
		ID:           "professional",
		Name:         "Harvard CV Format",
		Description:  "Traditional Harvard-style CV with centered header, suited to academic and professional roles",
		PreviewImage: "/static/previews/harvard_preview.png",
		Style: render.NewStyleConfiguration(map[string]render.ParagraphStyle{
			render.StyleName: {
				FontFamily: "Times", FontStyle: "B", FontSize: 21, Leading: 25,
				SpaceAfter: 3, Alignment: render.AlignCenter,
			},
			render.StyleJobTitle: {
				FontFamily: "Times", FontSize: 10, Leading: 12,
				SpaceAfter: 2, Alignment: render.AlignCenter,
			},
			render.StyleContact: {
				FontFamily: "Times", FontSize: 10, Leading: 11,
				SpaceAfter: 14, Alignment: render.AlignCenter,
			},
			render.StyleSectionHeading: {
				FontFamily: "Times", FontStyle: "B", FontSize: 12, Leading: 14,
				SpaceBefore: 8, SpaceAfter: 4, Alignment: render.AlignLeft,
			},
			render.StyleBody: {
				FontFamily: "Times", FontSize: 10.5, Leading: 12,
				SpaceAfter: 3, Alignment: render.AlignLeft,
			},
			render.StyleBullet: {
				FontFamily: "Times", FontSize: 10.5, Leading: 12,
				SpaceAfter: 2, LeftIndent: 15, BulletIndent: 5, Alignment: render.AlignLeft,
			},
			render.StyleDivider: {
				LineWidth: 1, SpaceBefore: 2, SpaceAfter: 4,
			},
		}),
		Instructions: instructions(professionalLayout, professionalExample),
	}
}

// Modern is a sans-serif template with colored headings.
func Modern() Template {
	accent := render.Color{R: 31, G: 56, B: 100}
	return Template{
		ID:           "modern",
		Name:         "Modern",
		Description:  "Clean sans-serif layout with a summary paragraph and accent-colored headings",
		PreviewImage: "/static/previews/modern_preview.png",
		Style: render.NewStyleConfiguration(map[string]render.ParagraphStyle{
			render.StyleName: {
				FontFamily: "Helvetica", FontStyle: "B", FontSize: 22, Leading: 26,
				Color: accent, SpaceAfter: 2, Alignment: render.AlignCenter,
			},
			render.StyleJobTitle: {
				FontFamily: "Helvetica", FontSize: 10, Leading: 12, Alignment: render.AlignCenter,
			},
			render.StyleContact: {
				FontFamily: "Helvetica", FontSize: 9.5, Leading: 11,
				SpaceAfter: 12, Alignment: render.AlignCenter,
			},
			render.StyleSectionHeading: {
				FontFamily: "Helvetica", FontStyle: "B", FontSize: 11.5, Leading: 14,
				Color: accent, SpaceBefore: 6, SpaceAfter: 3, Alignment: render.AlignLeft,
			},
			render.StyleBody: {
				FontFamily: "Helvetica", FontSize: 10, Leading: 12.5,
				SpaceAfter: 3, Alignment: render.AlignLeft,
			},
			render.StyleBullet: {
				FontFamily: "Helvetica", FontSize: 10, Leading: 12.5,
				SpaceAfter: 2, LeftIndent: 14, BulletIndent: 4, Alignment: render.AlignLeft,
			},
			render.StyleDivider: {
				LineWidth: 0.75, Color: accent, SpaceBefore: 1, SpaceAfter: 4,
			},
		}),
		Instructions: instructions(modernLayout, modernExample),
	}
}
