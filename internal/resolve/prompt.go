package resolve

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sells-group/autofill/internal/model"
	"github.com/sells-group/autofill/internal/provider"
)

const systemPrompt = `You are completing a job application on behalf of the applicant described below.
Answer the form question in the applicant's own voice, truthfully and consistently with their background and with answers already given.
Reply with the answer text only. Do not add a preamble, quotes or notes.`

// absenceNote is added when a factual field has no stored value.
const absenceNote = `The applicant's profile has no stored value for this field (%s). Do not invent credentials, numbers or dates. If the question cannot be answered honestly from the profile, give the most reasonable short answer the applicant could stand behind.`

// maxPriorAnswers bounds how many earlier answers are included as context.
const maxPriorAnswers = 20

// promptInput is everything a generation prompt is built from.
type promptInput struct {
	Field     model.ClassifiedField
	Question  string
	Summary   string
	Prior     map[string]string
	Absent    bool
	MaxTokens int
}

// buildRequest assembles a provider request. The same inputs always produce
// the same request.
func buildRequest(in promptInput) provider.Request {
	var ctx strings.Builder
	if in.Summary != "" {
		ctx.WriteString("Applicant profile:\n")
		ctx.WriteString(strings.TrimSpace(in.Summary))
		ctx.WriteString("\n")
	}
	if len(in.Prior) > 0 {
		keys := make([]string, 0, len(in.Prior))
		for k := range in.Prior {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if len(keys) > maxPriorAnswers {
			keys = keys[:maxPriorAnswers]
		}
		ctx.WriteString("\nAnswers already given in this application:\n")
		for _, k := range keys {
			fmt.Fprintf(&ctx, "- %s => %s\n", k, in.Prior[k])
		}
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Form question: %s\n", in.Question)
	if in.Absent {
		fmt.Fprintf(&prompt, "\n"+absenceNote+"\n", in.Field.Purpose)
	}
	if in.Field.InputKind.HasOptions() && len(in.Field.Options) > 0 {
		fmt.Fprintf(&prompt, "\nChoose exactly one of these options and reply with it verbatim: %s\n",
			strings.Join(in.Field.Options, " | "))
	}
	fmt.Fprintf(&prompt, "\n%s", lengthGuidance(in.Field))

	return provider.Request{
		System:    systemPrompt,
		Context:   ctx.String(),
		Prompt:    prompt.String(),
		MaxTokens: in.MaxTokens,
		Purpose:   string(in.Field.Purpose),
	}
}

func lengthGuidance(f model.ClassifiedField) string {
	switch {
	case f.Purpose == model.PurposeCoverLetterText:
		return "Write three short paragraphs."
	case f.Purpose.IsOpenEnded() || f.InputKind == model.InputTextarea:
		return "Answer in 2 to 4 sentences."
	default:
		return "Answer in a few words."
	}
}
