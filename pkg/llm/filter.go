package llm

import "strings"

// Tool-call protocol tags carried inline in assistant text.
const (
	toolCallsOpenTag  = "<tool_calls>"
	toolCallsCloseTag = "</tool_calls>"
)

// StreamFilter elides <tool_calls> blocks from a token stream. It is a
// two-state machine (outside/inside a block) with a pending buffer that
// catches tags split across chunk boundaries. Visible text comes only
// from outside; the raw stream is accumulated by the caller.
type StreamFilter struct {
	pending strings.Builder
	inside  bool
}

// NewStreamFilter returns a filter in the outside state.
func NewStreamFilter() *StreamFilter {
	return &StreamFilter{}
}

// Write consumes one raw chunk and returns the visible portion.
func (f *StreamFilter) Write(chunk string) string {
	f.pending.WriteString(chunk)
	buf := f.pending.String()
	f.pending.Reset()

	var visible strings.Builder
	for buf != "" {
		if f.inside {
			idx := strings.Index(buf, toolCallsCloseTag)
			if idx < 0 {
				// Hold back only what could be the start of the close
				// tag; the rest of the block content is dropped.
				f.pending.WriteString(tagOverlap(buf, toolCallsCloseTag))
				return visible.String()
			}
			buf = buf[idx+len(toolCallsCloseTag):]
			f.inside = false
			continue
		}

		idx := strings.Index(buf, toolCallsOpenTag)
		if idx < 0 {
			overlap := tagOverlap(buf, toolCallsOpenTag)
			visible.WriteString(buf[:len(buf)-len(overlap)])
			f.pending.WriteString(overlap)
			return visible.String()
		}
		visible.WriteString(buf[:idx])
		buf = buf[idx+len(toolCallsOpenTag):]
		f.inside = true
	}
	return visible.String()
}

// Flush returns any held-back text at stream end. A partial tag prefix
// that never completed is ordinary text; content inside an unclosed
// block stays elided (the block is malformed, the parser reports it).
func (f *StreamFilter) Flush() string {
	tail := f.pending.String()
	f.pending.Reset()
	if f.inside {
		return ""
	}
	return tail
}

// Inside reports whether the filter ended up inside an unclosed block.
func (f *StreamFilter) Inside() bool {
	return f.inside
}

// tagOverlap returns the longest suffix of s that is a proper prefix of
// tag, i.e. the part that must be held back because the tag may continue
// in the next chunk.
func tagOverlap(s, tag string) string {
	max := len(tag) - 1
	if len(s) < max {
		max = len(s)
	}
	for l := max; l > 0; l-- {
		if strings.HasPrefix(tag, s[len(s)-l:]) {
			return s[len(s)-l:]
		}
	}
	return ""
}
