package model

import "strings"

// InputKind is the kind of form control a field was detected as.
type InputKind string

const (
	InputText     InputKind = "text"
	InputTextarea InputKind = "textarea"
	InputSelect   InputKind = "select"
	InputRadio    InputKind = "radio"
	InputCheckbox InputKind = "checkbox"
	InputFile     InputKind = "file"
)

// Valid reports whether k is a recognized input kind.
func (k InputKind) Valid() bool {
	switch k {
	case InputText, InputTextarea, InputSelect, InputRadio, InputCheckbox, InputFile:
		return true
	}
	return false
}

// HasOptions reports whether the control restricts values to a fixed option list.
func (k InputKind) HasOptions() bool {
	return k == InputSelect || k == InputRadio
}

// FieldDescriptor is the raw observation of one form control, as reported by
// the detection source. Descriptors are created per detection pass and are
// never mutated.
type FieldDescriptor struct {
	ID           string    `json:"id"`
	RawLabel     string    `json:"raw_label"`
	RawName      string    `json:"raw_name"`
	Placeholder  string    `json:"placeholder"`
	ElementID    string    `json:"element_id,omitempty"`
	InputKind    InputKind `json:"input_kind"`
	Required     bool      `json:"required"`
	CurrentValue *string   `json:"current_value,omitempty"`
	Options      []string  `json:"options,omitempty"`
}

// QuestionText returns the human-readable question a field asks. The label
// is preferred, then the placeholder, then the raw name with separators
// turned into spaces.
func (d FieldDescriptor) QuestionText() string {
	if s := strings.TrimSpace(d.RawLabel); s != "" {
		return s
	}
	if s := strings.TrimSpace(d.Placeholder); s != "" {
		return s
	}
	name := strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(d.RawName)
	return strings.TrimSpace(name)
}

// Signal identifies which descriptor attribute produced a classification match.
type Signal string

const (
	SignalLabel       Signal = "label"
	SignalName        Signal = "name"
	SignalPlaceholder Signal = "placeholder"
	SignalElementID   Signal = "id"
	SignalNone        Signal = ""
)

// ClassifiedField is a descriptor annotated with its semantic purpose.
type ClassifiedField struct {
	FieldDescriptor
	Purpose       Purpose `json:"purpose"`
	Confidence    float64 `json:"confidence"`
	MatchedSignal Signal  `json:"matched_signal,omitempty"`
}

// Purpose is the canonical meaning of a form field, independent of its label.
type Purpose string

const (
	PurposeUnknown Purpose = "unknown"

	// Personal and contact.
	PurposeFirstName    Purpose = "first_name"
	PurposeLastName     Purpose = "last_name"
	PurposeFullName     Purpose = "full_name"
	PurposeEmail        Purpose = "email"
	PurposePhone        Purpose = "phone"
	PurposeAddress      Purpose = "address"
	PurposeCity         Purpose = "city"
	PurposeState        Purpose = "state"
	PurposeZipCode      Purpose = "zip_code"
	PurposeCountry      Purpose = "country"
	PurposeLinkedInURL  Purpose = "linkedin_url"
	PurposeGitHubURL    Purpose = "github_url"
	PurposePortfolioURL Purpose = "portfolio_url"

	// Work history and education.
	PurposeCurrentCompany  Purpose = "current_company"
	PurposeCurrentTitle    Purpose = "current_title"
	PurposeYearsExperience Purpose = "years_experience"
	PurposeSchool          Purpose = "school"
	PurposeDegree          Purpose = "degree"
	PurposeFieldOfStudy    Purpose = "field_of_study"
	PurposeGraduationDate  Purpose = "graduation_date"
	PurposeGPA             Purpose = "gpa"
	PurposeSkills          Purpose = "skills"
	PurposeSummary         Purpose = "summary"

	// Application logistics. These are stored facts when the profile has
	// them, and generated otherwise.
	PurposeSalaryExpectation Purpose = "salary_expectation"
	PurposeWorkAuthorization Purpose = "work_authorization"
	PurposeSponsorship       Purpose = "sponsorship"
	PurposeStartDate         Purpose = "start_date"
	PurposeRelocation        Purpose = "relocation"

	// Open-ended questions. Always generated.
	PurposeCoverLetterText Purpose = "cover_letter_text"
	PurposeWhyCompany      Purpose = "why_company"
	PurposeWhyRole         Purpose = "why_role"
	PurposeOpenQuestion    Purpose = "open_question"

	// File upload purposes.
	PurposeResume        Purpose = "resume"
	PurposeCoverLetter   Purpose = "cover_letter"
	PurposeOtherDocument Purpose = "other_document"
)

// openEnded lists purposes that are never looked up in the fact store.
var openEnded = map[Purpose]bool{
	PurposeCoverLetterText: true,
	PurposeWhyCompany:      true,
	PurposeWhyRole:         true,
	PurposeOpenQuestion:    true,
}

// filePurposes lists purposes that only apply to file inputs.
var filePurposes = map[Purpose]bool{
	PurposeResume:        true,
	PurposeCoverLetter:   true,
	PurposeOtherDocument: true,
}

// IsFactKey reports whether the purpose joins into the fact store.
func (p Purpose) IsFactKey() bool {
	return p != PurposeUnknown && p != "" && !openEnded[p]
}

// IsOpenEnded reports whether the purpose is an open-ended question that is
// always answered by generation.
func (p Purpose) IsOpenEnded() bool {
	return openEnded[p]
}

// IsFile reports whether the purpose describes a document upload.
func (p Purpose) IsFile() bool {
	return filePurposes[p]
}
