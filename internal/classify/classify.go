// Package classify separates real errors from known toolchain noise in the
// stderr output of build steps.
//
// The rules are plain pattern matching over third-party tool output and
// are only as good as the toolchain profile in use. Profiles are pluggable:
// the built-in "gnu" profile covers make, gcc and bison (English and
// German locales), and additional profiles can be loaded from YAML.
package classify

import (
	"fmt"
	"regexp"
	"strings"
)

// Classifier filters raw stderr lines down to the ones that count as errors.
type Classifier interface {
	Real(lines []string) []string
}

// NoiseRule matches one family of non-error diagnostic lines.
type NoiseRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// RuleSet is a named list of noise rules. A line is real when it is not
// blank and no rule matches it.
type RuleSet struct {
	Name  string
	Rules []NoiseRule
}

var _ Classifier = (*RuleSet)(nil)

// NewRuleSet compiles patterns (rule name -> regexp) in the given order.
func NewRuleSet(name string, rules ...[2]string) (*RuleSet, error) {
	rs := &RuleSet{Name: name}
	for _, r := range rules {
		re, err := regexp.Compile(r[1])
		if err != nil {
			return nil, fmt.Errorf("compile rule %s/%s: %w", name, r[0], err)
		}
		rs.Rules = append(rs.Rules, NoiseRule{Name: r[0], Pattern: re})
	}
	return rs, nil
}

// Noise returns the name of the first rule matching line, or "" if none does.
func (rs *RuleSet) Noise(line string) string {
	for _, r := range rs.Rules {
		if r.Pattern.MatchString(line) {
			return r.Name
		}
	}
	return ""
}

// Real returns the lines that are neither blank nor matched by a noise rule,
// preserving their order.
func (rs *RuleSet) Real(lines []string) []string {
	var out []string
	for _, l := range lines {
		if strings.TrimSpace(l) == "" {
			continue
		}
		if rs.Noise(l) != "" {
			continue
		}
		out = append(out, l)
	}
	return out
}

var gnuRules = [][2]string{
	{"make-directory", `^\s*g?make(\[\d+\])?: (Entering|Leaving) directory`},
	{"make-directory-de", `^\s*g?make(\[\d+\])?: Verzeichnis .* wird (betreten|verlassen)`},
	{"warning", `(?i)warn(ing|ung)`},
	{"in-function", `(?i)in (function|funktion)`},
	{"parser-conflicts", `(?i)(conflicts|konflikte): \d+`},
}

// GNU returns the default profile for make/gcc/bison output.
func GNU() *RuleSet {
	rs, err := NewRuleSet("gnu", gnuRules...)
	if err != nil {
		panic(err)
	}
	return rs
}

// None returns a profile that treats every non-blank line as real.
func None() *RuleSet {
	return &RuleSet{Name: "none"}
}

// Summarize caps lines for display in chat: at most max lines are returned,
// followed by a marker line counting the rest when any were dropped.
func Summarize(lines []string, max int) []string {
	if max <= 0 || len(lines) <= max {
		return lines
	}
	out := make([]string, 0, max+1)
	out = append(out, lines[:max]...)
	out = append(out, fmt.Sprintf("... %d more omitted", len(lines)-max))
	return out
}
