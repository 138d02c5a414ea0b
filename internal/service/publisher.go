package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonm3D/hearsay/internal/narration"
	"github.com/jonm3D/hearsay/internal/protocol"
)

type jsonPublisher interface {
	PublishJSON(subject string, v any) error
}

// publisher mirrors coordinator progress onto the bus. Terminal status is
// published by the service once artifacts are written.
type publisher struct {
	narration.NopObserver
	bus    jsonPublisher
	logger *slog.Logger
}

func (p *publisher) RunStarted(_ context.Context, runID, title string) {
	p.publish(protocol.SubjectStatus, protocol.RunStatus{
		RunID:         runID,
		Title:         title,
		State:         narration.StateStreaming.String(),
		LastCompleted: -1,
		Timestamp:     time.Now().UTC(),
	})
}

func (p *publisher) ParagraphReady(_ context.Context, runID string, para narration.Paragraph) {
	p.publish(protocol.SubjectParagraph, protocol.ParagraphEvent{
		RunID:     runID,
		Seq:       para.Seq,
		Text:      para.Text,
		Timestamp: time.Now().UTC(),
	})
}

func (p *publisher) SegmentDone(_ context.Context, runID string, seq int, err error) {
	evt := protocol.SegmentEvent{RunID: runID, Seq: seq, OK: err == nil, Timestamp: time.Now().UTC()}
	if err != nil {
		evt.Error = err.Error()
	}
	p.publish(protocol.SubjectSegment, evt)
}

func (p *publisher) publish(subject string, v any) {
	if err := p.bus.PublishJSON(subject, v); err != nil {
		p.logger.Warn("failed to publish progress", slog.String("subject", subject), slogError(err))
	}
}
