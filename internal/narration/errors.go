package narration

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks a caller-initiated abort. It is distinct from the
	// failure types below.
	ErrCancelled = errors.New("narration cancelled")
	// ErrEmptyScript is wrapped in a GenerationError when the stream ends
	// without producing a single paragraph.
	ErrEmptyScript = errors.New("script produced no paragraphs")
)

// GenerationError reports that the script stream failed or ended unusably.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("script generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// SynthesisError reports that one paragraph could not be synthesized.
type SynthesisError struct {
	Seq int
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis of paragraph %d failed: %v", e.Seq, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }
