package classify

import "github.com/sells-group/autofill/internal/model"

// FileTable is the built-in FileResolver. It evaluates its own ordered rule
// table; a file input that matches no rule is an other_document with zero
// confidence.
type FileTable struct {
	rules []compiledRule
}

// NewFileTable compiles a file-purpose table.
func NewFileTable(rules []Rule) (*FileTable, error) {
	compiled, err := compileRules(rules)
	if err != nil {
		return nil, err
	}
	return &FileTable{rules: compiled}, nil
}

// ResolveFile implements FileResolver.
func (t *FileTable) ResolveFile(d model.FieldDescriptor) (model.Purpose, float64, model.Signal) {
	purpose, conf, sig, ok := match(t.rules, signalsOf(d))
	if !ok {
		return model.PurposeOtherDocument, 0, model.SignalNone
	}
	return purpose, conf, sig
}
