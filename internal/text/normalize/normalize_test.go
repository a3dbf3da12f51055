package normalize

import (
	"strings"
	"testing"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

func TestStrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain text untouched",
			input: "plain text",
			want:  "plain text",
		},
		{
			name:  "color codes removed",
			input: "\x1b[31mError: disk full\x1b[0m",
			want:  "Error: disk full",
		},
		{
			name:  "cursor movement removed",
			input: "\x1b[2J\x1b[Hcleared",
			want:  "cleared",
		},
		{
			name:  "osc title removed",
			input: "\x1b]0;window title\x07rest",
			want:  "rest",
		},
		{
			name:  "single character escape removed",
			input: "a\x1bZb",
			want:  "ab",
		},
		{
			name:  "truncated csi discarded",
			input: "partial\x1b[31",
			want:  "partial",
		},
		{
			name:  "truncated osc discarded",
			input: "partial\x1b]0;tit",
			want:  "partial",
		},
		{
			name:  "lone escape at end discarded",
			input: "tail\x1b",
			want:  "tail",
		},
		{
			name:  "mixed sequences",
			input: "\x1b[1;32m✓\x1b[0m done \x1b[33m(2.1s)\x1b[0m",
			want:  "✓ done (2.1s)",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Strip(tt.input)
			if got != tt.want {
				t.Errorf("Strip(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if strings.ContainsRune(got, 0x1b) {
				t.Errorf("Strip(%q) leaked escape byte in %q", tt.input, got)
			}
		})
	}
}

func TestStripIdempotent(t *testing.T) {
	inputs := []string{
		"plain",
		"\x1b[31mred\x1b[0m",
		"partial\x1b[31",
		"tail\x1b",
		"\x1b]0;title\x07body\x1b[1mmore",
		"nested \x1b[38;5;196mcolor\x1b[0m and \x1b]8;;http://x\x1b\\link\x1b]8;;\x1b\\",
		"no escapes at all",
		"\x1b[",
	}

	for _, in := range inputs {
		once := Strip(in)
		twice := Strip(once)
		if once != twice {
			t.Errorf("Strip not idempotent for %q: first %q, second %q", in, once, twice)
		}
	}
}

func TestDecodeBytes(t *testing.T) {
	t.Run("valid utf8 passes through", func(t *testing.T) {
		in := "héllo wörld ✓"
		if got := DecodeBytes([]byte(in)); got != in {
			t.Errorf("DecodeBytes = %q, want %q", got, in)
		}
	})

	t.Run("latin1 decoded", func(t *testing.T) {
		text := "Le café est arrivé. Des résumés détaillés ont été préparés et présentés. " +
			"Les équipes étaient présentes et les répétitions se sont déroulées. "
		sample := strings.Repeat(text, 3)

		raw, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(sample))
		if err != nil {
			t.Fatalf("encode fixture: %v", err)
		}

		got := DecodeBytes(raw)
		if !utf8.ValidString(got) {
			t.Fatalf("DecodeBytes returned invalid UTF-8")
		}
		if !strings.Contains(got, "café") {
			t.Errorf("DecodeBytes lost accents: %q", got[:40])
		}
	})

	t.Run("garbage degrades to valid utf8", func(t *testing.T) {
		raw := []byte{0x81, 0x00, 0x9f, 0xfd, 0x81, 0x9f}
		got := DecodeBytes(raw)
		if !utf8.ValidString(got) {
			t.Errorf("DecodeBytes returned invalid UTF-8 for garbage input")
		}
	})
}

func TestCleanWhitespace(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "trailing whitespace trimmed per line",
			input: "x \t\r\ny",
			want:  "x\ny",
		},
		{
			name:  "blank runs capped at two",
			input: "a\n\n\n\n\nb",
			want:  "a\n\n\nb",
		},
		{
			name:  "leading and trailing blanks removed",
			input: "\n\nx\n\n",
			want:  "x",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
		{
			name:  "only blanks",
			input: "\n \n\t\n",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanWhitespace(tt.input); got != tt.want {
				t.Errorf("CleanWhitespace(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRulesClassify(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		line string
		want Type
	}{
		{"Error: disk full", TypeError},
		{"Traceback (most recent call last):", TypeError},
		{"build FAILED", TypeError},
		{"warning: deprecated API", TypeWarning},
		{"Build complete", TypeSuccess},
		{"All tests passed ✅", TypeSuccess},
		{"Note: check your config", TypeInfo},
		{"45%|████------|", TypeProgress},
		{"Loading...", TypeProgress},
		{"....", TypeProgress},
		{"⠹ compiling", TypeProgress},
		{"def main():", TypeCode},
		{"result := compute.Sum(1, 2)", TypeCode},
		{"just some text", TypeNormal},
		{"", TypeNormal},
	}

	for _, tt := range tests {
		if got := rules.Classify(tt.line); got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestClassifyPrecedence(t *testing.T) {
	rules := DefaultRules()

	// Keyword severity wins over progress patterns.
	if got := rules.Classify("Error: failed at 45%"); got != TypeError {
		t.Errorf("error line with percentage classified as %q", got)
	}
	// Error outranks warning when both match.
	if got := rules.Classify("warning treated as error"); got != TypeError {
		t.Errorf("mixed error/warning line classified as %q", got)
	}
}

func TestIsProgress(t *testing.T) {
	progress := []string{"45%", "12.5% done", "█████░░░░░", "|/-\\|", "[====----]", "...", "Loading", "please wait..."}
	for _, line := range progress {
		if !IsProgress(line) {
			t.Errorf("IsProgress(%q) = false, want true", line)
		}
	}

	plain := []string{"normal output", "Error: disk full", "x = 1"}
	for _, line := range plain {
		if IsProgress(line) {
			t.Errorf("IsProgress(%q) = true, want false", line)
		}
	}
}

func TestShouldSuppress(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"Loading...", true},
		{"....", true},
		{"██████████", true},
		{"⠹", true},
		{"45% |████|", false}, // carries a number, still information
		{"Error: x", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := ShouldSuppress(tt.line); got != tt.want {
			t.Errorf("ShouldSuppress(%q) = %v, want %v", tt.line, got, tt.want)
		}
	}
}

func TestGroupRankOrdering(t *testing.T) {
	order := []Type{TypeError, TypeWarning, TypeSuccess, TypeInfo, TypeCode, TypeProgress, TypeNormal}
	for i := 1; i < len(order); i++ {
		if order[i-1].GroupRank() <= order[i].GroupRank() {
			t.Errorf("GroupRank(%s)=%d should exceed GroupRank(%s)=%d",
				order[i-1], order[i-1].GroupRank(), order[i], order[i].GroupRank())
		}
	}
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in     string
		want   Type
		wantOK bool
	}{
		{"ERROR", TypeError, true},
		{" code ", TypeCode, true},
		{"progress", TypeProgress, true},
		{"bogus", TypeNormal, false},
		{"", TypeNormal, false},
	}

	for _, tt := range tests {
		got, ok := ParseType(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseType(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
