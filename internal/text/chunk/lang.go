package chunk

import (
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
)

// langPattern pairs a fence tag with quick regexes for it. Order matters;
// the first match wins.
type langPattern struct {
	name     string
	patterns []*regexp.Regexp
}

var langPatterns = []langPattern{
	{"python", compileAll(`def\s+\w+\(`, `from\s+\w+\s+import`, `if\s+__name__\s*==`, `^\s*import\s+\w+\s*$`)},
	{"go", compileAll(`func\s+\w+\(`, `package\s+\w+`, `:=`)},
	{"javascript", compileAll(`function\s+\w+\(`, `const\s+\w+\s*=`, `let\s+\w+\s*=`, `=>`)},
	{"bash", compileAll(`#!/bin/(ba)?sh`, `^\s*\$\s+`, `^\s*(cd|ls|grep|echo)\s+`)},
	{"json", compileAll(`^\s*\{\s*$`, `"\w+"\s*:`)},
	{"yaml", compileAll(`^\s*\w+:\s+\S`, `^\s*-\s+\w+:`)},
	{"xml", compileAll(`<\?xml`, `</\w+>`)},
	{"sql", compileAll(`SELECT\s+.+\s+FROM\s+`, `INSERT\s+INTO\s+`, `CREATE\s+TABLE\s+`)},
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(`(?im)` + e)
	}
	return out
}

// DetectLanguage picks a fence language tag for code content. The quick
// pattern table covers the common cases; chroma's analyser decides the rest.
// Empty means no tag.
func DetectLanguage(content string) string {
	for _, lp := range langPatterns {
		for _, re := range lp.patterns {
			if re.MatchString(content) {
				return lp.name
			}
		}
	}

	if lexer := lexers.Analyse(content); lexer != nil {
		name := strings.ToLower(lexer.Config().Name)
		if name != "plaintext" && name != "text" {
			return name
		}
	}
	return ""
}
