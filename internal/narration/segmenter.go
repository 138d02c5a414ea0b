// Package narration turns a streamed narration script into one ordered audio
// stream while the script is still being written.
package narration

import (
	"fmt"
	"regexp"
	"strings"
)

// Boundary selects how paragraph ends are detected in the script stream.
type Boundary string

const (
	// BoundaryDoubleNewline splits on a blank line.
	BoundaryDoubleNewline Boundary = "double_newline"
	// BoundarySingleNewline splits on every line break.
	BoundarySingleNewline Boundary = "single_newline"
)

var (
	blankLine = regexp.MustCompile(`\r?\n[ \t]*\r?\n`)
	lineBreak = regexp.MustCompile(`\r?\n`)
)

// ParseBoundary maps a configured boundary name to a Boundary.
func ParseBoundary(name string) (Boundary, error) {
	switch Boundary(name) {
	case "", BoundaryDoubleNewline:
		return BoundaryDoubleNewline, nil
	case BoundarySingleNewline:
		return BoundarySingleNewline, nil
	default:
		return "", fmt.Errorf("unknown paragraph boundary %q", name)
	}
}

func (b Boundary) pattern() *regexp.Regexp {
	if b == BoundarySingleNewline {
		return lineBreak
	}
	return blankLine
}

// Segmenter cuts an incremental text stream into paragraphs. It is not safe
// for concurrent use; sequence numbers are assigned in call order.
type Segmenter struct {
	boundary   *regexp.Regexp
	flushOnEnd bool
	buf        string
	next       int
}

func NewSegmenter(boundary Boundary, flushOnEnd bool) *Segmenter {
	return &Segmenter{boundary: boundary.pattern(), flushOnEnd: flushOnEnd}
}

// Feed appends a chunk and returns every paragraph it completed.
func (s *Segmenter) Feed(chunk string) []Paragraph {
	s.buf += chunk
	var out []Paragraph
	for {
		loc := s.boundary.FindStringIndex(s.buf)
		if loc == nil {
			return out
		}
		out = s.emit(out, s.buf[:loc[0]])
		s.buf = s.buf[loc[1]:]
	}
}

// Finish ends the stream. The buffered tail becomes a final paragraph only
// when flush on stream end is enabled.
func (s *Segmenter) Finish() []Paragraph {
	tail := s.buf
	s.buf = ""
	if !s.flushOnEnd {
		return nil
	}
	return s.emit(nil, tail)
}

// Count is the number of paragraphs emitted so far.
func (s *Segmenter) Count() int { return s.next }

// Buffered returns text waiting for a boundary.
func (s *Segmenter) Buffered() string { return s.buf }

func (s *Segmenter) emit(out []Paragraph, candidate string) []Paragraph {
	text := strings.TrimSpace(candidate)
	if text == "" {
		return out
	}
	out = append(out, Paragraph{Seq: s.next, Text: text})
	s.next++
	return out
}
