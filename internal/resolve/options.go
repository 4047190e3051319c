package resolve

import (
	"strings"
	"unicode"
)

var yesWords = map[string]bool{"yes": true, "y": true, "true": true}
var noWords = map[string]bool{"no": true, "n": true, "false": true}

// snapToOption maps a free-text value onto one of a field's options:
// case-insensitive equality first, then yes/no synonyms, then the longest
// option whose words appear in the value, then the shortest option whose
// words contain the value's. Containment is matched on whole words.
// It reports false when nothing matches, in which case value is returned.
func snapToOption(value string, options []string) (string, bool) {
	v := strings.ToLower(strings.TrimSpace(strings.TrimRight(value, ".!")))
	if v == "" || len(options) == 0 {
		return value, false
	}

	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(o), v) {
			return o, true
		}
	}

	if yesWords[v] || noWords[v] {
		want := yesWords
		if noWords[v] {
			want = noWords
		}
		for _, o := range options {
			if want[strings.ToLower(strings.TrimSpace(o))] {
				return o, true
			}
		}
	}

	vw := words(v)
	best := ""
	for _, o := range options {
		if containsWords(vw, words(o)) && len(o) > len(best) {
			best = o
		}
	}
	if best != "" {
		return best, true
	}

	for _, o := range options {
		if containsWords(words(o), vw) && (best == "" || len(o) < len(best)) {
			best = o
		}
	}
	if best != "" {
		return best, true
	}
	return value, false
}

func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// containsWords reports whether sub occurs in w as a contiguous run.
func containsWords(w, sub []string) bool {
	if len(sub) == 0 || len(sub) > len(w) {
		return false
	}
	for i := 0; i+len(sub) <= len(w); i++ {
		match := true
		for j := range sub {
			if w[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
