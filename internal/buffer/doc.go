// Package buffer aggregates child-process output into deliverable chunk
// batches.
//
// Each session owns one Buffer. Reader loops feed raw lines in through
// Add; a background loop decides when to flush; Flush groups pending
// lines, joins each group into one text block, runs the chunker, and
// hands the ordered batch to the delivery sink.
//
// Strategies:
//   - immediate: every line flushes at once
//   - lines: flush when the pending queue reaches the threshold
//   - window: flush on the interval alone
//   - smart (default): window behavior plus burst-adaptive polling
//
// Regardless of strategy, four per-line triggers force a flush: an error
// or success line, interactive-prompt content, a pending queue past the
// threshold, or twice the flush interval elapsed since the last flush.
//
// Ordering: lines flush in arrival order, groups preserve that order,
// and batches are delivered serially, so concatenating delivered chunk
// text reproduces the original line order.
package buffer
