package chunk

import "testing"

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"python def", "def handler(event):\n    return 1", "python"},
		{"python import", "import os", "python"},
		{"go func", "func main() {\n\tfmt.Println(1)\n}", "go"},
		{"go assign", "x := compute()", "go"},
		{"javascript arrow", "const f = (x) => x * 2", "javascript"},
		{"bash shebang", "#!/bin/bash\nset -e", "bash"},
		{"json object", "{\n  \"key\": \"value\"\n}", "json"},
		{"sql select", "SELECT id FROM users WHERE active = 1", "sql"},
		{"xml closing tag", "<root><item>1</item></root>", "xml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectLanguage(tt.content); got != tt.want {
				t.Errorf("DetectLanguage(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}
