// Package classify maps raw form-field observations to semantic purposes.
//
// Classification is a pure function of the descriptor: an ordered rule table
// is evaluated against the label, name, placeholder and element id, and the
// earliest-declared matching rule wins. File inputs use a separate table.
package classify

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/autofill/internal/model"
)

const (
	// ExactConfidence is assigned when a whole signal equals a rule keyword.
	ExactConfidence = 1.0
	// PartialConfidence is assigned when a rule pattern matches within a signal.
	PartialConfidence = 0.6
)

type compiledRule struct {
	purpose  model.Purpose
	keywords map[string]struct{}
	patterns []*regexp.Regexp
}

// FileResolver classifies file-upload fields into document categories.
type FileResolver interface {
	ResolveFile(d model.FieldDescriptor) (model.Purpose, float64, model.Signal)
}

// Classifier evaluates descriptors against an ordered rule table. It holds
// no mutable state after construction and is safe for concurrent use.
type Classifier struct {
	rules []compiledRule
	files FileResolver
}

// Option configures a Classifier.
type Option func(*classifierOptions)

type classifierOptions struct {
	extra []Rule
	files FileResolver
}

// WithRules appends rules after the built-in table. Built-in precedence is
// unaffected.
func WithRules(rules []Rule) Option {
	return func(o *classifierOptions) { o.extra = append(o.extra, rules...) }
}

// WithFileResolver replaces the built-in file-purpose table.
func WithFileResolver(r FileResolver) Option {
	return func(o *classifierOptions) { o.files = r }
}

// New builds a classifier from the built-in rule table plus any options.
func New(opts ...Option) (*Classifier, error) {
	var o classifierOptions
	for _, opt := range opts {
		opt(&o)
	}

	rules, err := compileRules(append(DefaultRules(), o.extra...))
	if err != nil {
		return nil, err
	}

	files := o.files
	if files == nil {
		ft, err := NewFileTable(defaultFileRules)
		if err != nil {
			return nil, err
		}
		files = ft
	}

	return &Classifier{rules: rules, files: files}, nil
}

// MustNew is New for the built-in table, which always compiles.
func MustNew() *Classifier {
	c, err := New()
	if err != nil {
		panic(err)
	}
	return c
}

// Classify returns the purpose and confidence for one descriptor.
func (c *Classifier) Classify(d model.FieldDescriptor) model.ClassifiedField {
	out := model.ClassifiedField{FieldDescriptor: d, Purpose: model.PurposeUnknown}

	if d.InputKind == model.InputFile {
		out.Purpose, out.Confidence, out.MatchedSignal = c.files.ResolveFile(d)
		return out
	}

	purpose, conf, sig, ok := match(c.rules, signalsOf(d))
	if ok {
		out.Purpose, out.Confidence, out.MatchedSignal = purpose, conf, sig
	}
	return out
}

// ClassifyAll classifies descriptors in detection order.
func (c *Classifier) ClassifyAll(ds []model.FieldDescriptor) []model.ClassifiedField {
	out := make([]model.ClassifiedField, len(ds))
	var unknown int
	for i, d := range ds {
		out[i] = c.Classify(d)
		if out[i].Purpose == model.PurposeUnknown {
			unknown++
		}
	}
	zap.L().Debug("classify: fields classified",
		zap.Int("total", len(ds)),
		zap.Int("unknown", unknown),
	)
	return out
}

type signal struct {
	kind model.Signal
	text string
}

// signalsOf returns the normalized non-empty signals of d in precedence
// order: label, name, placeholder, element id.
func signalsOf(d model.FieldDescriptor) []signal {
	raw := []signal{
		{model.SignalLabel, d.RawLabel},
		{model.SignalName, d.RawName},
		{model.SignalPlaceholder, d.Placeholder},
		{model.SignalElementID, d.ElementID},
	}
	out := raw[:0]
	for _, s := range raw {
		if t := normalizeSignal(s.text); t != "" {
			out = append(out, signal{kind: s.kind, text: t})
		}
	}
	return out
}

// match walks rules in order. The first rule matching any signal wins; within
// that rule an exact keyword match on any signal beats a pattern match.
func match(rules []compiledRule, signals []signal) (model.Purpose, float64, model.Signal, bool) {
	for _, r := range rules {
		partial := model.SignalNone
		for _, s := range signals {
			if _, ok := r.keywords[exactForm(s.text)]; ok {
				return r.purpose, ExactConfidence, s.kind, true
			}
			if partial == model.SignalNone && r.matchesPattern(s.text) {
				partial = s.kind
			}
		}
		if partial != model.SignalNone {
			return r.purpose, PartialConfidence, partial, true
		}
	}
	return model.PurposeUnknown, 0, model.SignalNone, false
}

func (r compiledRule) matchesPattern(text string) bool {
	for _, re := range r.patterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.Purpose == "" {
			return nil, eris.New("classify: rule without purpose")
		}
		cr := compiledRule{
			purpose:  r.Purpose,
			keywords: make(map[string]struct{}, len(r.Keywords)),
		}
		for _, k := range r.Keywords {
			cr.keywords[exactForm(normalizeSignal(k))] = struct{}{}
		}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, eris.Wrapf(err, "classify: compile pattern %q for %s", p, r.Purpose)
			}
			cr.patterns = append(cr.patterns, re)
		}
		out = append(out, cr)
	}
	return out, nil
}

var separators = strings.NewReplacer(
	"_", " ", "-", " ", ".", " ", "[", " ", "]", " ",
	"(", " ", ")", " ", "/", " ", ",", " ", ":", " ", "*", " ",
)

// normalizeSignal splits camelCase, lowercases, folds separators to spaces
// and collapses whitespace. A trailing question mark is kept so that
// question-shaped labels remain recognizable.
func normalizeSignal(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	s = splitCamel(s)
	s = strings.ToLower(s)
	s = separators.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// exactForm strips trailing punctuation for whole-signal keyword comparison.
func exactForm(s string) string {
	return strings.TrimRight(s, "?!. ")
}

func splitCamel(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 4)
	var prev rune
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) && unicode.IsLower(prev) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}
