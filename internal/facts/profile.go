package facts

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// PersonalInfo holds contact details used for basic form fields.
type PersonalInfo struct {
	FirstName    string `json:"first_name" yaml:"first_name"`
	LastName     string `json:"last_name" yaml:"last_name"`
	Email        string `json:"email" yaml:"email"`
	Phone        string `json:"phone,omitempty" yaml:"phone,omitempty"`
	LinkedInURL  string `json:"linkedin_url,omitempty" yaml:"linkedin_url,omitempty"`
	GitHubURL    string `json:"github_url,omitempty" yaml:"github_url,omitempty"`
	PortfolioURL string `json:"portfolio_url,omitempty" yaml:"portfolio_url,omitempty"`
	Address      string `json:"address,omitempty" yaml:"address,omitempty"`
	City         string `json:"city,omitempty" yaml:"city,omitempty"`
	State        string `json:"state,omitempty" yaml:"state,omitempty"`
	ZipCode      string `json:"zip_code,omitempty" yaml:"zip_code,omitempty"`
	Country      string `json:"country,omitempty" yaml:"country,omitempty"`
}

// Education is one degree or program. Entries are ordered most recent first.
type Education struct {
	Institution        string   `json:"institution" yaml:"institution"`
	Degree             string   `json:"degree" yaml:"degree"`
	FieldOfStudy       string   `json:"field_of_study" yaml:"field_of_study"`
	StartDate          string   `json:"start_date" yaml:"start_date"`
	EndDate            string   `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	GPA                *float64 `json:"gpa,omitempty" yaml:"gpa,omitempty"`
	Honors             []string `json:"honors,omitempty" yaml:"honors,omitempty"`
	RelevantCoursework []string `json:"relevant_coursework,omitempty" yaml:"relevant_coursework,omitempty"`
}

// WorkExperience is one position. Entries are ordered most recent first.
type WorkExperience struct {
	Company          string   `json:"company" yaml:"company"`
	Position         string   `json:"position" yaml:"position"`
	StartDate        string   `json:"start_date" yaml:"start_date"`
	EndDate          string   `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	Location         string   `json:"location,omitempty" yaml:"location,omitempty"`
	Responsibilities []string `json:"responsibilities" yaml:"responsibilities"`
	Achievements     []string `json:"achievements,omitempty" yaml:"achievements,omitempty"`
	Technologies     []string `json:"technologies,omitempty" yaml:"technologies,omitempty"`
}

// Project is a portfolio entry.
type Project struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description" yaml:"description"`
	StartDate    string   `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate      string   `json:"end_date,omitempty" yaml:"end_date,omitempty"`
	URL          string   `json:"url,omitempty" yaml:"url,omitempty"`
	Technologies []string `json:"technologies,omitempty" yaml:"technologies,omitempty"`
	Highlights   []string `json:"highlights,omitempty" yaml:"highlights,omitempty"`
}

// Certification is a credential or license.
type Certification struct {
	Name           string `json:"name" yaml:"name"`
	Issuer         string `json:"issuer" yaml:"issuer"`
	DateObtained   string `json:"date_obtained" yaml:"date_obtained"`
	ExpirationDate string `json:"expiration_date,omitempty" yaml:"expiration_date,omitempty"`
	CredentialID   string `json:"credential_id,omitempty" yaml:"credential_id,omitempty"`
	URL            string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Profile is the applicant's stored data. Preferences carries answers to
// logistics questions (salary_expectation, work_authorization, sponsorship,
// start_date, relocation) keyed by purpose.
type Profile struct {
	Version        string            `json:"version" yaml:"version"`
	LastUpdated    *time.Time        `json:"last_updated,omitempty" yaml:"last_updated,omitempty"`
	PersonalInfo   PersonalInfo      `json:"personal_info" yaml:"personal_info"`
	Education      []Education       `json:"education" yaml:"education"`
	WorkExperience []WorkExperience  `json:"work_experience" yaml:"work_experience"`
	Skills         []string          `json:"skills" yaml:"skills"`
	Projects       []Project         `json:"projects" yaml:"projects"`
	Certifications []Certification   `json:"certifications" yaml:"certifications"`
	Summary        string            `json:"summary,omitempty" yaml:"summary,omitempty"`
	Preferences    map[string]string `json:"preferences,omitempty" yaml:"preferences,omitempty"`
}

// presentMarker marks an ongoing position or program.
const presentMarker = "Present"

var yearMonth = regexp.MustCompile(`^\d{4}-\d{2}$`)

// LoadProfile reads a profile from a .json, .yaml or .yml file and validates it.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "facts: read profile %s", path)
	}

	var p Profile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &p)
	default:
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "facts: parse profile %s", path)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the fields every application needs and the date formats.
func (p *Profile) Validate() error {
	var problems []string

	pi := p.PersonalInfo
	if strings.TrimSpace(pi.FirstName) == "" {
		problems = append(problems, "personal_info.first_name is required")
	}
	if strings.TrimSpace(pi.LastName) == "" {
		problems = append(problems, "personal_info.last_name is required")
	}
	if strings.TrimSpace(pi.Email) == "" {
		problems = append(problems, "personal_info.email is required")
	} else if _, err := mail.ParseAddress(pi.Email); err != nil {
		problems = append(problems, "personal_info.email is not a valid address")
	}

	for i, e := range p.Education {
		if e.GPA != nil && (*e.GPA < 0 || *e.GPA > 4) {
			problems = append(problems, fmt.Sprintf("education[%d].gpa must be within 0.0-4.0", i))
		}
		if !validDate(e.StartDate, false) {
			problems = append(problems, fmt.Sprintf("education[%d].start_date must be YYYY-MM", i))
		}
		if !validDate(e.EndDate, true) {
			problems = append(problems, fmt.Sprintf("education[%d].end_date must be YYYY-MM or Present", i))
		}
	}
	for i, w := range p.WorkExperience {
		if !validDate(w.StartDate, false) {
			problems = append(problems, fmt.Sprintf("work_experience[%d].start_date must be YYYY-MM", i))
		}
		if !validDate(w.EndDate, true) {
			problems = append(problems, fmt.Sprintf("work_experience[%d].end_date must be YYYY-MM or Present", i))
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("facts: invalid profile: %s", strings.Join(problems, "; "))
	}
	return nil
}

// validDate accepts YYYY-MM; optional dates may also be empty or Present.
func validDate(s string, optional bool) bool {
	if optional && (s == "" || s == presentMarker) {
		return true
	}
	return yearMonth.MatchString(s)
}

// current returns the ongoing position, or the most recent one.
func (p *Profile) current() *WorkExperience {
	for i := range p.WorkExperience {
		if p.WorkExperience[i].EndDate == "" || p.WorkExperience[i].EndDate == presentMarker {
			return &p.WorkExperience[i]
		}
	}
	if len(p.WorkExperience) > 0 {
		return &p.WorkExperience[0]
	}
	return nil
}

// yearsExperience counts whole years from the earliest start date to now.
func (p *Profile) yearsExperience(now time.Time) (int, bool) {
	var earliest time.Time
	for _, w := range p.WorkExperience {
		t, err := time.Parse("2006-01", w.StartDate)
		if err != nil {
			continue
		}
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	years := now.Year() - earliest.Year()
	if now.Month() < earliest.Month() {
		years--
	}
	if years < 0 {
		years = 0
	}
	return years, true
}
