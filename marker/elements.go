package marker

// Element is one typed layout element produced by Parse or FromResumeData.
// Implementations are value types; a sequence of them preserves source order.
type Element interface {
	// Kind returns a stable name for the element variant, e.g. "bullet".
	Kind() string
	// Accept dispatches to the matching Visitor method.
	Accept(v Visitor) error
}

// Visitor has one method per Element variant. Adding a variant means adding a
// method here, so every renderer is forced to handle it.
type Visitor interface {
	VisitTitle(Title) error
	VisitContact(Contact) error
	VisitSection(Section) error
	VisitSubsection(Subsection) error
	VisitDateRange(DateRange) error
	VisitBullet(Bullet) error
	VisitParagraph(Paragraph) error
	VisitPlainText(PlainText) error
	VisitSpacing(Spacing) error
	VisitExperienceItem(ExperienceItem) error
	VisitEducationItem(EducationItem) error
}

// Title is the candidate's name line.
type Title struct {
	Text string
}

// Contact is the centered contact line under the title.
type Contact struct {
	Text string
}

// Section starts a new ruled section.
type Section struct {
	Heading string
}

// Subsection is a bold line inside a section (a job or degree header).
type Subsection struct {
	Text string
}

// DateRange is an italic date line.
type DateRange struct {
	Text string
}

// Bullet is one bulleted line. Text may contain <b>..</b> spans.
type Bullet struct {
	Text string
}

// Paragraph aggregates contiguous body lines. Text may contain <b>..</b> spans.
type Paragraph struct {
	Text string
}

// PlainText is a line that carried no structural marker.
type PlainText struct {
	Text string
}

// Spacing is a fixed vertical gap.
type Spacing struct{}

// ExperienceItem is a two-row tabular job header.
type ExperienceItem struct {
	Company  string
	Location string
	Role     string
	Date     string
}

// EducationItem is a two-row tabular school header.
type EducationItem struct {
	Institution string
	Location    string
	Degree      string
	Date        string
}

func (Title) Kind() string          { return "title" }
func (Contact) Kind() string        { return "contact" }
func (Section) Kind() string        { return "section" }
func (Subsection) Kind() string     { return "subsection" }
func (DateRange) Kind() string      { return "date" }
func (Bullet) Kind() string         { return "bullet" }
func (Paragraph) Kind() string      { return "paragraph" }
func (PlainText) Kind() string      { return "text" }
func (Spacing) Kind() string        { return "spacing" }
func (ExperienceItem) Kind() string { return "experience_item" }
func (EducationItem) Kind() string  { return "education_item" }

func (e Title) Accept(v Visitor) error          { return v.VisitTitle(e) }
func (e Contact) Accept(v Visitor) error        { return v.VisitContact(e) }
func (e Section) Accept(v Visitor) error        { return v.VisitSection(e) }
func (e Subsection) Accept(v Visitor) error     { return v.VisitSubsection(e) }
func (e DateRange) Accept(v Visitor) error      { return v.VisitDateRange(e) }
func (e Bullet) Accept(v Visitor) error         { return v.VisitBullet(e) }
func (e Paragraph) Accept(v Visitor) error      { return v.VisitParagraph(e) }
func (e PlainText) Accept(v Visitor) error      { return v.VisitPlainText(e) }
func (e Spacing) Accept(v Visitor) error        { return v.VisitSpacing(e) }
func (e ExperienceItem) Accept(v Visitor) error { return v.VisitExperienceItem(e) }
func (e EducationItem) Accept(v Visitor) error  { return v.VisitEducationItem(e) }
