package classify

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// profileFile is the on-disk layout of a toolchain rules file:
//
//	profiles:
//	  - name: clang
//	    noise:
//	      - name: note
//	        pattern: '^.*: note: '
type profileFile struct {
	Profiles []struct {
		Name  string `yaml:"name"`
		Noise []struct {
			Name    string `yaml:"name"`
			Pattern string `yaml:"pattern"`
		} `yaml:"noise"`
	} `yaml:"profiles"`
}

// LoadProfiles reads a YAML rules file and compiles every profile in it.
func LoadProfiles(path string) (map[string]*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	var pf profileFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}

	out := make(map[string]*RuleSet, len(pf.Profiles))
	for _, p := range pf.Profiles {
		if p.Name == "" {
			return nil, fmt.Errorf("rules file %s: profile without a name", path)
		}
		rules := make([][2]string, 0, len(p.Noise))
		for _, n := range p.Noise {
			rules = append(rules, [2]string{n.Name, n.Pattern})
		}
		rs, err := NewRuleSet(p.Name, rules...)
		if err != nil {
			return nil, err
		}
		out[p.Name] = rs
	}
	return out, nil
}

// Profile resolves a toolchain name. Profiles from rulesFile (if set) take
// precedence over the built-in "gnu" and "none" profiles.
func Profile(name, rulesFile string) (*RuleSet, error) {
	if rulesFile != "" {
		loaded, err := LoadProfiles(rulesFile)
		if err != nil {
			return nil, err
		}
		if rs, ok := loaded[name]; ok {
			return rs, nil
		}
	}
	switch name {
	case "", "gnu":
		return GNU(), nil
	case "none":
		return None(), nil
	}
	return nil, fmt.Errorf("unknown toolchain profile: %s", name)
}
