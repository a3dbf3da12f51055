package normalize

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-yaml"
)

// Type is the semantic classification of one output line.
type Type string

const (
	TypeNormal   Type = "normal"
	TypeInfo     Type = "info"
	TypeSuccess  Type = "success"
	TypeWarning  Type = "warning"
	TypeError    Type = "error"
	TypeProgress Type = "progress"
	TypeCode     Type = "code"
)

// GroupRank orders types for aggregate-type selection when lines are grouped.
// Higher wins: error > warning > success > info > code > progress > normal.
func (t Type) GroupRank() int {
	switch t {
	case TypeError:
		return 7
	case TypeWarning:
		return 6
	case TypeSuccess:
		return 5
	case TypeInfo:
		return 4
	case TypeCode:
		return 3
	case TypeProgress:
		return 2
	default:
		return 1
	}
}

// ParseType converts a string into a Type, reporting whether it is known.
func ParseType(s string) (Type, bool) {
	switch Type(strings.ToLower(strings.TrimSpace(s))) {
	case TypeNormal:
		return TypeNormal, true
	case TypeInfo:
		return TypeInfo, true
	case TypeSuccess:
		return TypeSuccess, true
	case TypeWarning:
		return TypeWarning, true
	case TypeError:
		return TypeError, true
	case TypeProgress:
		return TypeProgress, true
	case TypeCode:
		return TypeCode, true
	}
	return TypeNormal, false
}

// Classifier assigns a Type to a single stripped output line.
type Classifier interface {
	Classify(line string) Type
}

// progress indicators: percentages, bar glyphs, spinner frames, and the
// filler lines interactive CLIs print while working.
var (
	progressPercent = regexp.MustCompile(`\b\d{1,3}(\.\d)?%`)
	progressBar     = regexp.MustCompile(`[█▉▊▋▌▍▎▏░▒▓]{3,}|\|[/\-\\|]+\||\[[=#.\-]+\]`)
	progressSpinner = regexp.MustCompile(`[⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏]`)
	progressDots    = regexp.MustCompile(`^\s*\.{3,}\s*$`)
	progressVerb    = regexp.MustCompile(`(?i)^\s*(loading|processing|thinking|working on it|please wait)\.*\s*$`)
)

// code indicators, shared with the chunker's content analysis.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bdef\s+\w+\(`),
	regexp.MustCompile(`\bfunction\s+\w+\(`),
	regexp.MustCompile(`\bfunc\s+\w+\(`),
	regexp.MustCompile(`\bclass\s+\w+`),
	regexp.MustCompile(`\bimport\s+[\w."/]+`),
	regexp.MustCompile(`\bfrom\s+\w+\s+import\b`),
	regexp.MustCompile(`#include\s*<`),
	regexp.MustCompile(`\bpackage\s+\w+`),
	regexp.MustCompile(`\w+\.\w+\(`),
	regexp.MustCompile(`^\s*[{}()\[\];]`),
}

// Rules is the built-in keyword classifier. Keyword tables can be replaced
// from a YAML file; the progress and code patterns are fixed.
type Rules struct {
	errorWords   []string
	warningWords []string
	successWords []string
	infoWords    []string
}

// rulesFile is the YAML shape of a keyword override file.
type rulesFile struct {
	Error   []string `yaml:"error"`
	Warning []string `yaml:"warning"`
	Success []string `yaml:"success"`
	Info    []string `yaml:"info"`
}

// DefaultRules returns the stock keyword tables. "complete" also covers
// "completed" under substring matching.
func DefaultRules() *Rules {
	return &Rules{
		errorWords:   []string{"error", "failed", "failure", "exception", "traceback", "fatal", "panic"},
		warningWords: []string{"warning", "warn", "deprecated", "caution"},
		successWords: []string{"success", "complete", "done", "finished", "passed", "✓", "✅"},
		infoWords:    []string{"info", "note", "hint", "tip"},
	}
}

// LoadRules reads keyword tables from a YAML file. Absent keys keep their
// defaults, so a file can override a single table.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read classifier rules: %w", err)
	}

	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse classifier rules: %w", err)
	}

	rules := DefaultRules()
	if len(rf.Error) > 0 {
		rules.errorWords = lower(rf.Error)
	}
	if len(rf.Warning) > 0 {
		rules.warningWords = lower(rf.Warning)
	}
	if len(rf.Success) > 0 {
		rules.successWords = lower(rf.Success)
	}
	if len(rf.Info) > 0 {
		rules.infoWords = lower(rf.Info)
	}
	return rules, nil
}

func lower(words []string) []string {
	out := make([]string, len(words))
	for i, w := range words {
		out[i] = strings.ToLower(w)
	}
	return out
}

// Classify assigns a Type by keyword and pattern inspection. Keyword tables
// run first in severity order, so "Error: build failed at 45%" stays an
// error; progress patterns follow, code detection runs last before the
// normal fallback.
func (r *Rules) Classify(line string) Type {
	lowered := strings.ToLower(line)
	for _, w := range r.errorWords {
		if strings.Contains(lowered, w) {
			return TypeError
		}
	}
	for _, w := range r.warningWords {
		if strings.Contains(lowered, w) {
			return TypeWarning
		}
	}
	for _, w := range r.successWords {
		if strings.Contains(lowered, w) {
			return TypeSuccess
		}
	}
	for _, w := range r.infoWords {
		if strings.Contains(lowered, w) {
			return TypeInfo
		}
	}

	if IsProgress(line) {
		return TypeProgress
	}
	if LooksLikeCode(line) {
		return TypeCode
	}
	return TypeNormal
}

// IsProgress reports whether a line is a progress indicator.
func IsProgress(line string) bool {
	return progressPercent.MatchString(line) ||
		progressBar.MatchString(line) ||
		progressSpinner.MatchString(line) ||
		progressDots.MatchString(line) ||
		progressVerb.MatchString(line)
}

// ShouldSuppress reports whether a line is pure progress decoration with no
// content worth relaying: bars, spinners, and filler verbs. Lines carrying a
// number pass through, a 45% update is still information.
func ShouldSuppress(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if progressDots.MatchString(trimmed) || progressVerb.MatchString(trimmed) {
		return true
	}
	if strings.ContainsAny(trimmed, "0123456789") {
		return false
	}
	return progressBar.MatchString(trimmed) || progressSpinner.MatchString(trimmed)
}

// LooksLikeCode reports whether a line resembles source code.
func LooksLikeCode(line string) bool {
	for _, p := range codePatterns {
		if p.MatchString(line) {
			return true
		}
	}
	return false
}
