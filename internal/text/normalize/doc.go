// Package normalize turns raw child-process output into clean UTF-8 text and
// classifies each line's semantic type.
//
// Stripping is parser-based (charmbracelet/x/ansi) and covers every escape
// grammar an interactive CLI emits: CSI parameter sequences, OSC commands,
// DCS/APC/PM/SOS strings, and single-character escapes. A sequence truncated
// by the stream ending mid-escape is discarded rather than leaked. Strip is
// idempotent: its output never contains escape bytes.
//
// Classification is a pluggable strategy: Rules is the built-in keyword and
// pattern classifier (tables overridable from a YAML file), and Script wraps
// a sandboxed JavaScript classifier for deployments with bespoke tooling
// output. Neither participates in the pipeline's structural guarantees; they
// only choose a Type.
package normalize
