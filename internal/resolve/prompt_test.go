package resolve

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/autofill/internal/model"
)

func TestSnapToOption(t *testing.T) {
	t.Parallel()
	opts := []string{"Yes", "No", "Prefer not to say"}

	tests := []struct {
		name  string
		value string
		opts  []string
		want  string
		ok    bool
	}{
		{name: "exact case-insensitive", value: "yes", opts: opts, want: "Yes", ok: true},
		{name: "trailing punctuation", value: "No.", opts: opts, want: "No", ok: true},
		{name: "boolean synonym", value: "true", opts: opts, want: "Yes", ok: true},
		{name: "option inside answer", value: "I would prefer not to say", opts: opts, want: "Prefer not to say", ok: true},
		{name: "answer inside option", value: "Remote", opts: []string{"On-site", "Fully remote"}, want: "Fully remote", ok: true},
		{name: "word prefix is not a match", value: "Definitely, I know the area well", opts: []string{"Yes", "No"}, want: "Definitely, I know the area well", ok: false},
		{name: "not is not no", value: "Not sure yet", opts: []string{"Yes", "No"}, want: "Not sure yet", ok: false},
		{name: "whole word inside answer", value: "No, I do not", opts: []string{"Yes", "No"}, want: "No", ok: true},
		{name: "partial word inside option", value: "mote", opts: []string{"On-site", "Fully remote"}, want: "mote", ok: false},
		{name: "no match", value: "Maybe later", opts: []string{"Red", "Blue"}, want: "Maybe later", ok: false},
		{name: "empty value", value: "  ", opts: opts, want: "  ", ok: false},
		{name: "no options", value: "yes", opts: nil, want: "yes", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := snapToOption(tt.value, tt.opts)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestBuildRequest(t *testing.T) {
	t.Parallel()
	f := model.ClassifiedField{
		FieldDescriptor: model.FieldDescriptor{ID: "why", RawLabel: "Why this company?", InputKind: model.InputTextarea},
		Purpose:         model.PurposeWhyCompany,
	}
	in := promptInput{
		Field:     f,
		Question:  "Why this company?",
		Summary:   "Name: Ada\n",
		Prior:     map[string]string{"b question": "B", "a question": "A"},
		MaxTokens: 300,
	}

	req := buildRequest(in)
	assert.Equal(t, systemPrompt, req.System)
	assert.Equal(t, 300, req.MaxTokens)
	assert.Equal(t, "why_company", req.Purpose)
	assert.Contains(t, req.Context, "Applicant profile:\nName: Ada\n")
	assert.Less(t, strings.Index(req.Context, "a question"), strings.Index(req.Context, "b question"))
	assert.Contains(t, req.Prompt, "Answer in 2 to 4 sentences.")
	assert.NotContains(t, req.Prompt, "no stored value")

	assert.Equal(t, req, buildRequest(in), "same input builds the same request")
}

func TestBuildRequest_Guidance(t *testing.T) {
	t.Parallel()
	cover := model.ClassifiedField{Purpose: model.PurposeCoverLetterText}
	assert.Contains(t, buildRequest(promptInput{Field: cover}).Prompt, "three short paragraphs")

	short := model.ClassifiedField{
		FieldDescriptor: model.FieldDescriptor{InputKind: model.InputText},
		Purpose:         model.PurposeSalaryExpectation,
	}
	req := buildRequest(promptInput{Field: short, Absent: true})
	assert.Contains(t, req.Prompt, "Answer in a few words.")
	assert.Contains(t, req.Prompt, "(salary_expectation)")
	assert.Empty(t, req.Context)
}
