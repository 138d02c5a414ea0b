package llm

import (
	"context"
	"strings"
	"time"
)

const mockChunkSize = 24

type mockGenerator struct {
	delay time.Duration
}

// NewMockGenerator streams a short canned narration in small chunks.
func NewMockGenerator() Generator { return &mockGenerator{delay: 5 * time.Millisecond} }

func (m *mockGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = "this paper"
	}
	script := "Welcome. Today we walk through " + title + ".\n\n" +
		"First, the authors frame the problem and the data they rely on.\n\n" +
		"Next, we look at the method, step by step.\n\n" +
		"Finally, a critical look at the assumptions and the open questions."
	return NewScriptedGenerator(splitEvery(script, mockChunkSize), m.delay, nil).Generate(ctx, req, consumer)
}

// ScriptedGenerator replays fixed chunks, optionally failing after the last one.
type ScriptedGenerator struct {
	chunks []string
	delay  time.Duration
	err    error
}

// NewScriptedGenerator returns a generator that emits chunks in order, waiting
// delay before each, and then returns err.
func NewScriptedGenerator(chunks []string, delay time.Duration, err error) *ScriptedGenerator {
	return &ScriptedGenerator{chunks: append([]string(nil), chunks...), delay: delay, err: err}
}

func (g *ScriptedGenerator) Generate(ctx context.Context, req Request, consumer func(Chunk) error) error {
	start := time.Now()
	for i, content := range g.chunks {
		if g.delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(g.delay):
			}
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := consumer(Chunk{
			RunID:   req.RunID,
			Content: content,
			Partial: i < len(g.chunks)-1 || g.err != nil,
			Latency: time.Since(start),
			TraceID: req.TraceID,
		}); err != nil {
			return err
		}
	}
	return g.err
}

func splitEvery(s string, n int) []string {
	var out []string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}
