package classify

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads additional classification rules from a YAML file:
//
//	rules:
//	  - purpose: salary_expectation
//	    keywords: ["target compensation"]
//	    patterns: ['\bote\b']
//
// An empty path returns no rules.
func LoadRules(path string) ([]Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read rules %s", path)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrapf(err, "classify: parse rules %s", path)
	}
	for i, r := range rf.Rules {
		if r.Purpose == "" {
			return nil, eris.Errorf("classify: rule %d in %s has no purpose", i, path)
		}
	}
	return rf.Rules, nil
}
