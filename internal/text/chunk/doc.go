// Package chunk splits normalized output into transport-bounded message
// chunks. Splitting prefers line boundaries, then sentence boundaries, then
// word boundaries, and hard character slices only for a single unit that
// still exceeds the limit. Decoration (code fences, part prefixes) is
// counted against the limit, so emitted content never exceeds it.
package chunk
