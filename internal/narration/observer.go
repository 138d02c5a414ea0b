package narration

import "context"

// Observer receives progress from a run. Calls are made from the run's
// coordinating goroutine, in order, and must not block for long.
type Observer interface {
	RunStarted(ctx context.Context, runID, title string)
	ParagraphReady(ctx context.Context, runID string, p Paragraph)
	SegmentDone(ctx context.Context, runID string, seq int, err error)
	RunFinished(ctx context.Context, res *Result)
}

// NopObserver can be embedded to implement only part of Observer.
type NopObserver struct{}

func (NopObserver) RunStarted(context.Context, string, string)        {}
func (NopObserver) ParagraphReady(context.Context, string, Paragraph) {}
func (NopObserver) SegmentDone(context.Context, string, int, error)   {}
func (NopObserver) RunFinished(context.Context, *Result)              {}
