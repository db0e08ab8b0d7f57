package tracker

import (
	"fmt"
	"regexp"
	"strings"
)

// KeyParser extracts issue keys from free text.
type KeyParser struct {
	pattern *regexp.Regexp
}

// NewKeyParser compiles pattern. When the pattern has a capture group, the
// first group is the key; otherwise the whole match is.
func NewKeyParser(pattern string) (*KeyParser, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile key pattern %q: %w", pattern, err)
	}
	return &KeyParser{pattern: re}, nil
}

// ProjectKeyPattern returns the pattern of keys like PROJECT-123.
func ProjectKeyPattern(project string) string {
	return `\b` + regexp.QuoteMeta(strings.ToUpper(project)) + `-[0-9]+\b`
}

// Parse returns the keys found in text in order of appearance, deduplicated.
func (p *KeyParser) Parse(text string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, m := range p.pattern.FindAllStringSubmatch(text, -1) {
		key := m[0]
		if len(m) > 1 && m[1] != "" {
			key = m[1]
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		keys = append(keys, key)
	}
	return keys
}

// Workflow is an ordered list of workflow state names.
type Workflow []string

// Index returns the position of state, compared case-insensitively.
func (w Workflow) Index(state string) (int, error) {
	for i, s := range w {
		if strings.EqualFold(s, state) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrUnknownState, state)
}
