package chunk

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/GriffinCanCode/AgentBridge/internal/text/normalize"
)

var sentenceBreak = regexp.MustCompile(`[.!?]+\s+`)

// Transport limits. The working limit leaves headroom under the transport
// maximum so decoration never pushes a chunk over.
const (
	DefaultTransportLimit = 2000
	DefaultWorkingLimit   = 1900
)

// Rendering styles recorded in chunk metadata.
const (
	FormatPlain     = "plain"
	FormatCodeBlock = "code_block"
	FormatInline    = "inline_code"
)

// Meta carries per-chunk bookkeeping for consumers.
type Meta struct {
	OriginalLength int    `json:"original_length"`
	Format         string `json:"format"`
	Language       string `json:"language,omitempty"`
}

// Chunk is one transport-ready unit of text. Content never exceeds the
// chunker's working limit, decoration included.
type Chunk struct {
	Content   string         `json:"content"`
	Type      normalize.Type `json:"type"`
	Priority  int            `json:"priority"`
	Timestamp time.Time      `json:"timestamp"`
	Index     int            `json:"index"`
	Total     int            `json:"total"`
	Meta      Meta           `json:"meta"`
}

// Chunker formats text into bounded chunks.
type Chunker struct {
	transportLimit int
	workingLimit   int
}

// New builds a Chunker. Out-of-range limits fall back to the defaults, and
// the working limit is clamped below the transport limit.
func New(transportLimit, workingLimit int) *Chunker {
	if transportLimit <= 0 {
		transportLimit = DefaultTransportLimit
	}
	if workingLimit <= 0 || workingLimit > transportLimit {
		workingLimit = transportLimit - 100
	}
	return &Chunker{transportLimit: transportLimit, workingLimit: workingLimit}
}

// WorkingLimit reports the effective per-chunk content bound.
func (c *Chunker) WorkingLimit() int { return c.workingLimit }

// Format turns text into an ordered chunk list. Whitespace-only input yields
// nothing. Text within the limit yields exactly one chunk; longer text is
// split without dropping content, and every chunk records its position and
// the batch total.
func (c *Chunker) Format(text string, typ normalize.Type) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	prio := Priority(text, typ)
	format := recommendFormat(text, typ)

	lang := ""
	overhead := 0
	body := text
	if format == FormatCodeBlock {
		lang = DetectLanguage(text)
		body = escapeFences(text)
		overhead = len("```") + len(lang) + len("\n") + len("\n```")
	}

	parts := split(body, c.workingLimit-overhead)

	total := len(parts)
	now := time.Now()
	chunks := make([]Chunk, 0, total)
	for i, part := range parts {
		content := decorate(part, format, lang)
		if total > 1 {
			prefix := fmt.Sprintf("**Part %d/%d**\n", i+1, total)
			if len(prefix)+len(content) <= c.workingLimit {
				content = prefix + content
			}
		}
		chunks = append(chunks, Chunk{
			Content:   content,
			Type:      typ,
			Priority:  prio,
			Timestamp: now,
			Index:     i,
			Total:     total,
			Meta: Meta{
				OriginalLength: len(part),
				Format:         format,
				Language:       lang,
			},
		})
	}
	return chunks
}

// recommendFormat picks a rendering style. Error and warning text stays
// plain so severity markup remains the delivery layer's call; short
// single-line output reads best as inline code.
func recommendFormat(text string, typ normalize.Type) string {
	if typ == normalize.TypeCode || containsCode(text) {
		return FormatCodeBlock
	}
	if typ == normalize.TypeError || typ == normalize.TypeWarning {
		return FormatPlain
	}
	if len(text) < 50 && !strings.Contains(text, "\n") {
		return FormatInline
	}
	return FormatPlain
}

func containsCode(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if normalize.LooksLikeCode(line) {
			return true
		}
	}
	return false
}

func decorate(part, format, lang string) string {
	switch format {
	case FormatCodeBlock:
		return "```" + lang + "\n" + strings.TrimSpace(part) + "\n```"
	case FormatInline:
		return "`" + escapeInline(part) + "`"
	default:
		return part
	}
}

// escapeFences breaks embedded triple backticks with a zero-width joiner so
// content cannot terminate its surrounding fence.
func escapeFences(text string) string {
	return strings.ReplaceAll(text, "```", "`‍``")
}

// escapeInline breaks backticks with a zero-width space.
func escapeInline(text string) string {
	return strings.ReplaceAll(text, "`", "`​`")
}

// split divides text into pieces of at most budget bytes, descending from
// line to sentence to word boundaries, with rune-safe hard slicing as the
// last resort for a single oversized unit.
func split(text string, budget int) []string {
	if len(text) <= budget {
		return []string{text}
	}
	return pack(strings.Split(text, "\n"), "\n", budget, splitLine)
}

func splitLine(line string, budget int) []string {
	units := sentences(line)
	if len(units) == 1 {
		return splitWords(line, budget)
	}
	return pack(units, "", budget, splitWords)
}

func splitWords(s string, budget int) []string {
	return pack(strings.Split(s, " "), " ", budget, hardSplit)
}

// pack greedily joins parts into budget-sized pieces, preserving separators
// inside a piece. A part over budget on its own is handed to the oversize
// splitter; the separator adjoining it is the only content not carried over.
func pack(parts []string, sep string, budget int, oversize func(string, int) []string) []string {
	var out []string
	cur := ""
	started := false

	for _, p := range parts {
		if len(p) > budget {
			if started {
				out = append(out, cur)
				cur, started = "", false
			}
			out = append(out, oversize(p, budget)...)
			continue
		}
		if !started {
			cur, started = p, true
			continue
		}
		if len(cur)+len(sep)+len(p) <= budget {
			cur += sep + p
		} else {
			out = append(out, cur)
			cur = p
		}
	}
	if started {
		out = append(out, cur)
	}
	return out
}

// sentences cuts after terminal punctuation, keeping the punctuation and
// trailing whitespace attached so concatenation reproduces the input.
func sentences(line string) []string {
	idxs := sentenceBreak.FindAllStringIndex(line, -1)
	if len(idxs) == 0 {
		return []string{line}
	}

	var out []string
	last := 0
	for _, m := range idxs {
		out = append(out, line[last:m[1]])
		last = m[1]
	}
	if last < len(line) {
		out = append(out, line[last:])
	}
	return out
}

// hardSplit slices at byte budget, backing off to a rune boundary.
func hardSplit(s string, budget int) []string {
	var out []string
	for len(s) > budget {
		cut := budget
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			cut = budget
		}
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

// Priority scores text for consumer-side queue ordering. The chunker's own
// output order is always textual order.
func Priority(text string, typ normalize.Type) int {
	p := basePriority(typ)
	if len(text) < 100 {
		p += 10
	}
	lowered := strings.ToLower(text)
	for _, w := range urgencyWords {
		if strings.Contains(lowered, w) {
			p += 20
			break
		}
	}
	return p
}

var urgencyWords = []string{"error", "failed", "success", "complete"}

func basePriority(typ normalize.Type) int {
	switch typ {
	case normalize.TypeError:
		return 100
	case normalize.TypeWarning:
		return 80
	case normalize.TypeSuccess:
		return 60
	case normalize.TypeInfo:
		return 40
	case normalize.TypeCode:
		return 30
	case normalize.TypeProgress:
		return 10
	default:
		return 20
	}
}
