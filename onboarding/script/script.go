// Package script defines the ordered onboarding questionnaire and the
// per-field validation applied to every answer.
package script

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrOutOfRange is returned when a step index does not address a field.
var ErrOutOfRange = errors.New("script: step out of range")

var keyPattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// Field describes one question.
type Field struct {
	Key    string `yaml:"key"`
	Prompt string `yaml:"prompt"`
	Rule   Rule   `yaml:"rule"`
	// Message overrides the rule's default error text.
	Message string `yaml:"message,omitempty"`
	// Transform is empty, "trim", "upper" or "same_as:<key>".
	Transform string   `yaml:"transform,omitempty"`
	Choices   []string `yaml:"choices,omitempty"`
	// Column is the sink header label; derived from Key when empty.
	Column string `yaml:"column,omitempty"`
}

// ColumnName returns the header label used by tabular sinks.
func (f Field) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	words := strings.Split(f.Key, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func (f Field) sameAs() (string, bool) {
	return strings.CutPrefix(f.Transform, "same_as:")
}

// Script is an immutable, validated sequence of fields.
type Script struct {
	fields []Field
	index  map[string]int
}

type fileFormat struct {
	Fields []Field `yaml:"fields"`
}

// New validates the fields and returns a Script.
func New(fields ...Field) (*Script, error) {
	if len(fields) == 0 {
		return nil, errors.New("script: at least one field is required")
	}
	s := &Script{
		fields: make([]Field, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		f.Key = strings.TrimSpace(f.Key)
		f.Prompt = strings.TrimSpace(f.Prompt)
		f.Rule = Rule(strings.ToLower(strings.TrimSpace(string(f.Rule))))
		f.Transform = strings.TrimSpace(f.Transform)
		if f.Rule == "" {
			f.Rule = RuleRequired
		}

		if !keyPattern.MatchString(f.Key) {
			return nil, fmt.Errorf("script: field %d: key %q must match [a-z0-9_]+", i, f.Key)
		}
		if _, dup := s.index[f.Key]; dup {
			return nil, fmt.Errorf("script: field %d: duplicate key %q", i, f.Key)
		}
		if f.Prompt == "" {
			return nil, fmt.Errorf("script: field %q: prompt is required", f.Key)
		}
		if !f.Rule.known() {
			return nil, fmt.Errorf("script: field %q: unknown rule %q", f.Key, f.Rule)
		}
		if f.Rule == RuleChoice && len(f.Choices) == 0 {
			return nil, fmt.Errorf("script: field %q: choice rule needs choices", f.Key)
		}
		switch f.Transform {
		case "", "trim", "upper":
		default:
			ref, ok := f.sameAs()
			if !ok {
				return nil, fmt.Errorf("script: field %q: unknown transform %q", f.Key, f.Transform)
			}
			if _, earlier := s.index[ref]; !earlier {
				return nil, fmt.Errorf("script: field %q: same_as must reference an earlier field, got %q", f.Key, ref)
			}
		}
		f.Choices = append([]string(nil), f.Choices...)

		s.fields[i] = f
		s.index[f.Key] = i
	}
	return s, nil
}

// MustNew is New that panics on error. Intended for package-level scripts.
func MustNew(fields ...Field) *Script {
	s, err := New(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// Load reads a YAML script file of the form {fields: [...]}.
func Load(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("script: read %s: %w", path, err)
	}
	var doc fileFormat
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("script: parse %s: %w", path, err)
	}
	return New(doc.Fields...)
}

// Len returns the number of fields.
func (s *Script) Len() int { return len(s.fields) }

// Field returns the descriptor at index i.
func (s *Script) Field(i int) (Field, error) {
	if i < 0 || i >= len(s.fields) {
		return Field{}, fmt.Errorf("%w: %d", ErrOutOfRange, i)
	}
	return s.fields[i], nil
}

// Fields returns a copy of all descriptors in order.
func (s *Script) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

// Prompt returns the question text for step i.
func (s *Script) Prompt(i int) (string, error) {
	f, err := s.Field(i)
	if err != nil {
		return "", err
	}
	return f.Prompt, nil
}

// ValidateAndTransform checks raw against the rule of field i and returns the
// canonical value. prior holds answers collected so far. It never panics; an
// out-of-range index is reported as a failed validation.
func (s *Script) ValidateAndTransform(i int, raw string, prior map[string]string) (string, bool, string) {
	f, err := s.Field(i)
	if err != nil {
		return "", false, "This question is no longer available. Send /start to begin again."
	}

	text := strings.TrimSpace(raw)
	if ref, ok := f.sameAs(); ok && strings.EqualFold(text, "same") {
		text = prior[ref]
	}

	value, ok := f.Rule.check(text, f.Choices)
	if !ok {
		if f.Message != "" {
			return "", false, f.Message
		}
		return "", false, f.Rule.message(f.Choices)
	}
	if f.Transform == "upper" {
		value = strings.ToUpper(value)
	}
	return value, true, ""
}
