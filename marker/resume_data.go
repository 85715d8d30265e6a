package marker

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResumeData is the structured résumé produced by the JSON generation mode.
// It bypasses the marker language entirely.
type ResumeData struct {
	Header     Header           `json:"header"`
	Education  []EducationEntry `json:"education"`
	Experience []ExperienceJob  `json:"experience"`
	Skills     Skills           `json:"skills"`
}

type Header struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	LinkedIn string `json:"linkedin"`
}

type EducationEntry struct {
	School   string `json:"school"`
	Degree   string `json:"degree"`
	Location string `json:"location"`
	Date     string `json:"date"`
}

type ExperienceJob struct {
	Company  string   `json:"company"`
	Role     string   `json:"role"`
	Location string   `json:"location"`
	Date     string   `json:"date"`
	Bullets  []string `json:"bullets"`
}

// Skills accepts either a single string or a list of strings.
type Skills []string

func (s *Skills) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = nil
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if strings.TrimSpace(single) == "" {
			*s = nil
		} else {
			*s = Skills{single}
		}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("skills must be a string or a list of strings: %w", err)
	}
	*s = Skills(list)
	return nil
}

// String joins list skills with ", ".
func (s Skills) String() string {
	parts := make([]string, 0, len(s))
	for _, skill := range s {
		if skill = strings.TrimSpace(skill); skill != "" {
			parts = append(parts, skill)
		}
	}
	return strings.Join(parts, ", ")
}

// IsEmpty reports whether the résumé carries nothing renderable.
func (r ResumeData) IsEmpty() bool {
	return strings.TrimSpace(r.Header.Name) == "" && len(r.Education) == 0 &&
		len(r.Experience) == 0 && r.Skills.String() == ""
}

// FromResumeData maps structured résumé data onto the same element model the
// marker parser produces. Empty sections are omitted.
func FromResumeData(data ResumeData) []Element {
	var elements []Element

	if name := strings.TrimSpace(data.Header.Name); name != "" {
		elements = append(elements, Title{Text: name})
	}
	var contact []string
	for _, part := range []string{data.Header.Email, data.Header.Phone, data.Header.LinkedIn} {
		if part = strings.TrimSpace(part); part != "" {
			contact = append(contact, part)
		}
	}
	if len(contact) > 0 {
		elements = append(elements, Contact{Text: strings.Join(contact, " • ")})
	}

	if len(data.Education) > 0 {
		elements = append(elements, Section{Heading: "Education"})
		for _, edu := range data.Education {
			elements = append(elements, EducationItem{
				Institution: strings.TrimSpace(edu.School),
				Location:    strings.TrimSpace(edu.Location),
				Degree:      strings.TrimSpace(edu.Degree),
				Date:        strings.TrimSpace(edu.Date),
			})
		}
	}

	if len(data.Experience) > 0 {
		elements = append(elements, Section{Heading: "Experience"})
		for _, job := range data.Experience {
			elements = append(elements, ExperienceItem{
				Company:  strings.TrimSpace(job.Company),
				Location: strings.TrimSpace(job.Location),
				Role:     strings.TrimSpace(job.Role),
				Date:     strings.TrimSpace(job.Date),
			})
			for _, bullet := range job.Bullets {
				if bullet = strings.TrimSpace(bullet); bullet != "" {
					elements = append(elements, Bullet{Text: ResolveBold(bullet)})
				}
			}
		}
	}

	if skills := data.Skills.String(); skills != "" {
		elements = append(elements, Section{Heading: "Skills"}, Paragraph{Text: ResolveBold(skills)})
	}

	return elements
}
