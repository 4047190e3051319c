// Package facts provides read-only lookup of the applicant's stored data by
// semantic key.
package facts

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/autofill/internal/model"
)

// Store looks up stored facts by semantic key. Implementations may cross a
// process boundary, so lookups take a context.
type Store interface {
	// Get returns the value for key and whether it is present.
	Get(ctx context.Context, key model.Purpose) (string, bool, error)
	// Summary returns a compact plain-text description of the applicant for
	// use as generation context.
	Summary(ctx context.Context) (string, error)
}

// ProfileStore serves facts flattened from a Profile. It is safe for
// concurrent use; Replace swaps the profile atomically.
type ProfileStore struct {
	mu      sync.RWMutex
	values  map[model.Purpose]string
	summary string
	nowFunc func() time.Time
}

// NewProfileStore flattens p into a fact store.
func NewProfileStore(p *Profile) *ProfileStore {
	s := &ProfileStore{nowFunc: time.Now}
	s.Replace(p)
	return s
}

// Replace swaps in a new profile.
func (s *ProfileStore) Replace(p *Profile) {
	values := Flatten(p, s.nowFunc())
	summary := Summarize(p)

	s.mu.Lock()
	s.values = values
	s.summary = summary
	s.mu.Unlock()

	zap.L().Info("facts: profile loaded", zap.Int("keys", len(values)))
}

// Get implements Store.
func (s *ProfileStore) Get(_ context.Context, key model.Purpose) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

// Summary implements Store.
func (s *ProfileStore) Summary(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summary, nil
}

// Keys returns the fact keys present, sorted.
func (s *ProfileStore) Keys() []model.Purpose {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]model.Purpose, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MapStore is a Store over a fixed map.
type MapStore struct {
	Values  map[model.Purpose]string
	Profile string
}

// NewMapStore returns a MapStore with the given values.
func NewMapStore(values map[model.Purpose]string) *MapStore {
	return &MapStore{Values: values}
}

// Get implements Store.
func (m *MapStore) Get(_ context.Context, key model.Purpose) (string, bool, error) {
	v, ok := m.Values[key]
	return v, ok, nil
}

// Summary implements Store.
func (m *MapStore) Summary(_ context.Context) (string, error) {
	return m.Profile, nil
}

// Flatten maps a profile onto semantic keys. Empty values are omitted so an
// absent fact is reported as absent rather than blank.
func Flatten(p *Profile, now time.Time) map[model.Purpose]string {
	out := make(map[model.Purpose]string)
	set := func(k model.Purpose, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	if p == nil {
		return out
	}

	pi := p.PersonalInfo
	set(model.PurposeFirstName, pi.FirstName)
	set(model.PurposeLastName, pi.LastName)
	set(model.PurposeFullName, strings.TrimSpace(pi.FirstName+" "+pi.LastName))
	set(model.PurposeEmail, pi.Email)
	set(model.PurposePhone, pi.Phone)
	set(model.PurposeAddress, pi.Address)
	set(model.PurposeCity, pi.City)
	set(model.PurposeState, pi.State)
	set(model.PurposeZipCode, pi.ZipCode)
	country := pi.Country
	if country == "" {
		country = "USA"
	}
	set(model.PurposeCountry, country)
	set(model.PurposeLinkedInURL, pi.LinkedInURL)
	set(model.PurposeGitHubURL, pi.GitHubURL)
	set(model.PurposePortfolioURL, pi.PortfolioURL)

	if w := p.current(); w != nil {
		set(model.PurposeCurrentCompany, w.Company)
		set(model.PurposeCurrentTitle, w.Position)
	}
	if years, ok := p.yearsExperience(now); ok {
		set(model.PurposeYearsExperience, strconv.Itoa(years))
	}

	if len(p.Education) > 0 {
		e := p.Education[0]
		set(model.PurposeSchool, e.Institution)
		set(model.PurposeDegree, e.Degree)
		set(model.PurposeFieldOfStudy, e.FieldOfStudy)
		if e.EndDate != presentMarker {
			set(model.PurposeGraduationDate, e.EndDate)
		}
		if e.GPA != nil {
			set(model.PurposeGPA, strconv.FormatFloat(*e.GPA, 'f', -1, 64))
		}
	}

	set(model.PurposeSkills, strings.Join(p.Skills, ", "))
	set(model.PurposeSummary, p.Summary)

	for k, v := range p.Preferences {
		set(model.Purpose(k), v)
	}
	return out
}

// Summarize renders the profile as compact plain text for prompts.
func Summarize(p *Profile) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	pi := p.PersonalInfo
	fmt.Fprintf(&b, "Name: %s %s\n", pi.FirstName, pi.LastName)
	if loc := joinNonEmpty(", ", pi.City, pi.State, pi.Country); loc != "" {
		fmt.Fprintf(&b, "Location: %s\n", loc)
	}
	if p.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", p.Summary)
	}
	if len(p.WorkExperience) > 0 {
		b.WriteString("Experience:\n")
		for _, w := range p.WorkExperience {
			end := w.EndDate
			if end == "" {
				end = presentMarker
			}
			fmt.Fprintf(&b, "- %s at %s (%s to %s)\n", w.Position, w.Company, w.StartDate, end)
			for _, a := range w.Achievements {
				fmt.Fprintf(&b, "  * %s\n", a)
			}
		}
	}
	if len(p.Education) > 0 {
		b.WriteString("Education:\n")
		for _, e := range p.Education {
			fmt.Fprintf(&b, "- %s in %s, %s\n", e.Degree, e.FieldOfStudy, e.Institution)
		}
	}
	if len(p.Projects) > 0 {
		b.WriteString("Projects:\n")
		for _, pr := range p.Projects {
			fmt.Fprintf(&b, "- %s: %s\n", pr.Name, pr.Description)
		}
	}
	if len(p.Certifications) > 0 {
		b.WriteString("Certifications:\n")
		for _, c := range p.Certifications {
			fmt.Fprintf(&b, "- %s (%s)\n", c.Name, c.Issuer)
		}
	}
	if len(p.Skills) > 0 {
		fmt.Fprintf(&b, "Skills: %s\n", strings.Join(p.Skills, ", "))
	}
	return b.String()
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
