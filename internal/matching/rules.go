// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package matching

import (
	"fmt"
	"os"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Rule is a conjunction of token groups. A group is satisfied when any one of
// its alternatives appears on word boundaries. The rule fires only when every
// group is satisfied in both memories.
type Rule struct {
	Name   string     `yaml:"name"`
	Reason string     `yaml:"reason"`
	AllOf  [][]string `yaml:"all_of"`
}

// RuleFile is the YAML layout of matching.rules_file
type RuleFile struct {
	Rules []Rule `yaml:"rules"`
}

// functionWords cannot carry a group on their own
var functionWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"at": true, "in": true, "on": true, "to": true, "by": true, "near": true,
	"i": true, "you": true, "he": true, "she": true, "they": true, "we": true,
	"it": true, "was": true, "is": true, "saw": true, "there": true, "with": true,
}

// DefaultRules returns the built-in keyword rules
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:   "coco-apartments-6pm",
			Reason: "both mention Coco Apartments around 6pm",
			AllOf: [][]string{
				{"coco apartments", "coco apts"},
				{"6pm", "6 pm", "6:00 pm", "6:00pm", "six pm", "18:00"},
			},
		},
		{
			Name:   "black-sf-hat-july-23",
			Reason: "both mention a black SF hat on July 23",
			AllOf: [][]string{
				{"black sf hat", "black san francisco hat", "black giants hat"},
				{"july 23", "july 23rd", "jul 23", "7/23"},
			},
		},
		{
			Name:   "red-umbrella-ferry-building",
			Reason: "both mention a red umbrella at the Ferry Building",
			AllOf: [][]string{
				{"red umbrella"},
				{"ferry building"},
			},
		},
		{
			Name:   "yellow-raincoat-dolores-park",
			Reason: "both mention a yellow raincoat in Dolores Park",
			AllOf: [][]string{
				{"yellow raincoat", "yellow rain coat"},
				{"dolores park"},
			},
		},
	}
}

// LoadRules reads rules from a YAML file
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules decodes and validates YAML rules
func ParseRules(data []byte) ([]Rule, error) {
	var f RuleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := ValidateRules(f.Rules); err != nil {
		return nil, err
	}
	return f.Rules, nil
}

// ValidateRules rejects rules that could fire on a single shared word
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("at least one rule is required")
	}
	names := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return fmt.Errorf("rule %d: name is required", i)
		}
		if names[r.Name] {
			return fmt.Errorf("rule %q: duplicate name", r.Name)
		}
		names[r.Name] = true
		if r.Reason == "" {
			return fmt.Errorf("rule %q: reason is required", r.Name)
		}
		if len(r.AllOf) < 2 {
			return fmt.Errorf("rule %q: needs at least 2 token groups, got %d", r.Name, len(r.AllOf))
		}
		for g, group := range r.AllOf {
			if len(group) == 0 {
				return fmt.Errorf("rule %q: group %d is empty", r.Name, g)
			}
			for _, alt := range group {
				n := Normalize(alt)
				if n == "" {
					return fmt.Errorf("rule %q: group %d has a blank alternative", r.Name, g)
				}
				if functionWords[n] {
					return fmt.Errorf("rule %q: %q is too common to match on", r.Name, alt)
				}
			}
		}
	}
	return nil
}

type compiledRule struct {
	name   string
	reason string
	groups [][]string // normalized, space padded
}

func compileRules(rules []Rule) []compiledRule {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		c := compiledRule{name: r.Name, reason: r.Reason}
		for _, group := range r.AllOf {
			alts := make([]string, 0, len(group))
			for _, alt := range group {
				alts = append(alts, " "+Normalize(alt)+" ")
			}
			c.groups = append(c.groups, alts)
		}
		out = append(out, c)
	}
	return out
}

// matches reports whether every group has an alternative in padded text
func (c compiledRule) matches(padded string) bool {
	for _, group := range c.groups {
		found := false
		for _, alt := range group {
			if strings.Contains(padded, alt) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Normalize lowercases text, turns punctuation into spaces and collapses
// whitespace. ':' and '/' survive between digits so "6:00" and "7/23" stay whole.
func Normalize(text string) string {
	runes := []rune(strings.ToLower(text))
	var b strings.Builder
	b.Grow(len(runes))
	space := true
	for i, r := range runes {
		keep := unicode.IsLetter(r) || unicode.IsDigit(r)
		if !keep && (r == ':' || r == '/') && i > 0 && i < len(runes)-1 &&
			unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
			keep = true
		}
		if keep {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
