package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Strip removes every recognized terminal escape sequence from text without
// altering non-escape characters. A sequence cut off at the end of the input
// is discarded entirely so no partial-escape bytes leak downstream.
//
// Strip(Strip(x)) == Strip(x) for any input.
func Strip(text string) string {
	if !strings.ContainsRune(text, 0x1b) {
		return text
	}

	out := ansi.Strip(text)
	out = dropTruncatedEscape(out)

	// A stray ESC that survived both passes is an escape byte by definition;
	// removing it keeps the output escape-free and Strip idempotent.
	if strings.ContainsRune(out, 0x1b) {
		out = strings.ReplaceAll(out, "\x1b", "")
	}
	return out
}

// dropTruncatedEscape removes an unterminated escape sequence at the end of
// the input. Only byte runs that could still grow into a valid sequence are
// dropped; anything else is left untouched.
func dropTruncatedEscape(s string) string {
	i := strings.LastIndexByte(s, 0x1b)
	if i < 0 {
		return s
	}
	if isEscapePrefix(s[i:]) {
		return s[:i]
	}
	return s
}

// isEscapePrefix reports whether tail (starting with ESC) is a prefix of an
// escape sequence that was never terminated.
func isEscapePrefix(tail string) bool {
	if len(tail) == 1 {
		return true // lone ESC at end of stream
	}

	switch tail[1] {
	case '[': // CSI: parameter and intermediate bytes, no final byte seen
		for i := 2; i < len(tail); i++ {
			b := tail[i]
			if b >= 0x40 && b <= 0x7e {
				return false // final byte present, sequence was complete
			}
			if b < 0x20 || b > 0x3f {
				return false // not a parameter/intermediate byte
			}
		}
		return true
	case ']', 'P', 'X', '^', '_': // OSC / DCS / SOS / PM / APC string bodies
		body := tail[2:]
		if strings.ContainsRune(body, 0x07) || strings.Contains(body, "\x1b\\") || strings.ContainsRune(body, 0x9c) {
			return false // terminator present
		}
		return true
	default:
		return false
	}
}

// detector guesses the charset of non-UTF-8 output. chardet detectors hold
// no mutable state, so one instance serves all readers.
var detector = chardet.NewTextDetector()

// decoders maps chardet charset names to the decoders worth supporting for
// terminal output. Anything else degrades to replacement-rune sanitization.
var decoders = map[string]encoding.Encoding{
	"ISO-8859-1":   charmap.ISO8859_1,
	"ISO-8859-2":   charmap.ISO8859_2,
	"ISO-8859-5":   charmap.ISO8859_5,
	"ISO-8859-15":  charmap.ISO8859_15,
	"windows-1250": charmap.Windows1250,
	"windows-1251": charmap.Windows1251,
	"windows-1252": charmap.Windows1252,
	"KOI8-R":       charmap.KOI8R,
	"UTF-16BE":     unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM),
	"UTF-16LE":     unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
}

// DecodeBytes converts one raw output line to UTF-8. Valid UTF-8 passes
// through untouched; otherwise the charset is detected and decoded, falling
// back to replacement runes when no decoder matches.
func DecodeBytes(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}

	if res, err := detector.DetectBest(raw); err == nil {
		if enc, ok := decoders[res.Charset]; ok {
			if decoded, err := enc.NewDecoder().Bytes(raw); err == nil && utf8.Valid(decoded) {
				return string(decoded)
			}
		}
	}

	return strings.ToValidUTF8(string(raw), string(utf8.RuneError))
}

// CleanWhitespace trims trailing whitespace per line, caps consecutive blank
// lines at two, and removes leading and trailing blank lines.
func CleanWhitespace(text string) string {
	if text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	empty := 0

	for _, line := range lines {
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			empty++
			if empty <= 2 {
				cleaned = append(cleaned, line)
			}
			continue
		}
		empty = 0
		cleaned = append(cleaned, line)
	}

	start, end := 0, len(cleaned)
	for start < end && cleaned[start] == "" {
		start++
	}
	for end > start && cleaned[end-1] == "" {
		end--
	}

	return strings.Join(cleaned[start:end], "\n")
}
