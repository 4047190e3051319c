package classify

import "github.com/sells-group/autofill/internal/model"

// Rule maps a semantic purpose to the signal text that identifies it.
// Keywords are compared against the whole normalized signal; Patterns are
// regular expressions searched within it.
type Rule struct {
	Purpose  model.Purpose `yaml:"purpose"`
	Keywords []string      `yaml:"keywords"`
	Patterns []string      `yaml:"patterns"`
}

// defaultRules is the ordered purpose table. Order is precedence: when a
// field matches several rules, the earliest rule wins. Rules whose patterns
// overlap a later rule's keywords (email vs address, names vs company) must
// stay ahead of it.
var defaultRules = []Rule{
	{
		Purpose:  model.PurposeEmail,
		Keywords: []string{"email", "e mail", "email address", "e mail address", "your email", "email id"},
		Patterns: []string{`\be ?mail\b`},
	},
	{
		Purpose:  model.PurposeFirstName,
		Keywords: []string{"first name", "firstname", "given name", "fname", "forename", "legal first name"},
		Patterns: []string{`\bfirst\b.*\bname\b`, `\bgiven name\b`},
	},
	{
		Purpose:  model.PurposeLastName,
		Keywords: []string{"last name", "lastname", "surname", "family name", "lname", "legal last name"},
		Patterns: []string{`\blast\b.*\bname\b`, `\bsurname\b`, `\bfamily name\b`},
	},
	{
		Purpose:  model.PurposeFullName,
		Keywords: []string{"name", "full name", "your name", "legal name", "full legal name", "candidate name"},
		Patterns: []string{`^name\b`, `\bfull (legal )?name\b`, `\blegal name\b`},
	},
	{
		Purpose:  model.PurposePhone,
		Keywords: []string{"phone", "phone number", "mobile", "mobile number", "cell", "cell phone", "telephone", "tel"},
		Patterns: []string{`\b(phone|mobile|cell|telephone)\b`},
	},
	{
		Purpose:  model.PurposeLinkedInURL,
		Keywords: []string{"linkedin", "linkedin url", "linkedin profile", "linkedin profile url"},
		Patterns: []string{`\blinked ?in\b`},
	},
	{
		Purpose:  model.PurposeGitHubURL,
		Keywords: []string{"github", "github url", "github profile"},
		Patterns: []string{`\bgit ?hub\b`},
	},
	{
		Purpose:  model.PurposePortfolioURL,
		Keywords: []string{"portfolio", "website", "personal website", "portfolio url", "website url"},
		Patterns: []string{`\b(portfolio|website|personal site)\b`},
	},
	{
		Purpose:  model.PurposeZipCode,
		Keywords: []string{"zip", "zip code", "zipcode", "postal code", "postcode"},
		Patterns: []string{`\b(zip|postal|postcode)\b`},
	},
	{
		Purpose:  model.PurposeCity,
		Keywords: []string{"city", "town", "city town"},
		Patterns: []string{`\bcity\b`},
	},
	{
		Purpose:  model.PurposeState,
		Keywords: []string{"state", "province", "state province", "region"},
		Patterns: []string{`\b(state|province)\b`},
	},
	{
		Purpose:  model.PurposeCountry,
		Keywords: []string{"country", "country of residence"},
		Patterns: []string{`\bcountry\b`},
	},
	{
		Purpose:  model.PurposeAddress,
		Keywords: []string{"address", "street address", "address line 1", "street", "mailing address"},
		Patterns: []string{`\baddress\b`, `\bstreet\b`},
	},
	{
		Purpose:  model.PurposeWorkAuthorization,
		Keywords: []string{"work authorization", "authorized to work", "work authorisation"},
		Patterns: []string{`\bauthori[sz]ed to work\b`, `\bwork authori[sz]ation\b`, `\blegally (able|eligible|permitted) to work\b`},
	},
	{
		Purpose:  model.PurposeSponsorship,
		Keywords: []string{"sponsorship", "visa sponsorship", "require sponsorship"},
		Patterns: []string{`\bsponsor`, `\bvisa\b`},
	},
	{
		Purpose:  model.PurposeSalaryExpectation,
		Keywords: []string{"salary", "salary expectation", "salary expectations", "desired salary", "expected salary", "compensation"},
		Patterns: []string{`\b(salary|compensation|pay expectations?)\b`},
	},
	{
		Purpose:  model.PurposeStartDate,
		Keywords: []string{"start date", "available start date", "availability", "earliest start date"},
		Patterns: []string{`\bstart date\b`, `\bwhen can you start\b`, `\bearliest start\b`, `\bnotice period\b`},
	},
	{
		Purpose:  model.PurposeRelocation,
		Keywords: []string{"relocation", "willing to relocate", "open to relocation"},
		Patterns: []string{`\breloc`},
	},
	{
		Purpose:  model.PurposeYearsExperience,
		Keywords: []string{"years of experience", "years experience", "total experience"},
		Patterns: []string{`\byears?\b.*\bexperience\b`},
	},
	{
		Purpose:  model.PurposeCurrentCompany,
		Keywords: []string{"current company", "current employer", "employer", "company", "company name"},
		Patterns: []string{`\b(current|present|most recent) (company|employer)\b`},
	},
	{
		Purpose:  model.PurposeCurrentTitle,
		Keywords: []string{"current title", "job title", "title", "current position", "current role"},
		Patterns: []string{`\b(job|current) (title|role|position)\b`},
	},
	{
		Purpose:  model.PurposeSchool,
		Keywords: []string{"school", "university", "college", "institution", "school name"},
		Patterns: []string{`\b(school|university|college|institution)\b`},
	},
	{
		Purpose:  model.PurposeDegree,
		Keywords: []string{"degree", "highest degree", "degree type", "education level"},
		Patterns: []string{`\bdegree\b`},
	},
	{
		Purpose:  model.PurposeFieldOfStudy,
		Keywords: []string{"major", "field of study", "discipline", "area of study"},
		Patterns: []string{`\b(major|field of study|area of study)\b`},
	},
	{
		Purpose:  model.PurposeGraduationDate,
		Keywords: []string{"graduation date", "graduation year", "grad date", "grad year"},
		Patterns: []string{`\bgraduat`},
	},
	{
		Purpose:  model.PurposeGPA,
		Keywords: []string{"gpa", "grade point average", "cumulative gpa"},
		Patterns: []string{`\bgpa\b`, `\bgrade point\b`},
	},
	{
		Purpose:  model.PurposeSkills,
		Keywords: []string{"skills", "key skills", "technical skills"},
		Patterns: []string{`\bskills?\b`},
	},
	{
		Purpose:  model.PurposeSummary,
		Keywords: []string{"summary", "professional summary", "bio", "about you", "about me", "about yourself"},
		Patterns: []string{`\b(summary|bio)\b`, `\babout (you|yourself|me)\b`},
	},
	{
		Purpose:  model.PurposeCoverLetterText,
		Keywords: []string{"cover letter"},
		Patterns: []string{`\bcover letter\b`},
	},
	{
		Purpose:  model.PurposeWhyCompany,
		Keywords: []string{"why this company", "why us", "why do you want to work here"},
		Patterns: []string{`\bwhy\b.*\b(company|us|join|work (here|for|at))\b`, `\binterest(ed)? in (our|this) company\b`},
	},
	{
		Purpose:  model.PurposeWhyRole,
		Keywords: []string{"why this role", "why this position"},
		Patterns: []string{`\bwhy\b.*\b(role|position|job)\b`, `\binterest(ed)? in (this|the) (role|position|job)\b`},
	},
	{
		Purpose:  model.PurposeOpenQuestion,
		Patterns: []string{`\?$`, `^(describe|tell us|explain|please describe|please explain)\b`},
	},
}

// defaultFileRules is the file-purpose table used for file inputs. It is
// evaluated independently of defaultRules.
var defaultFileRules = []Rule{
	{
		Purpose:  model.PurposeResume,
		Keywords: []string{"resume", "cv", "resume cv", "curriculum vitae", "upload resume", "upload your resume", "attach resume"},
		Patterns: []string{`\b(resume|résumé|cv|curriculum vitae)\b`},
	},
	{
		Purpose:  model.PurposeCoverLetter,
		Keywords: []string{"cover letter", "upload cover letter", "attach cover letter"},
		Patterns: []string{`\bcover\b`},
	},
}

// DefaultRules returns a copy of the built-in purpose table.
func DefaultRules() []Rule {
	out := make([]Rule, len(defaultRules))
	copy(out, defaultRules)
	return out
}
