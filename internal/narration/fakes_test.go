package narration

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jonm3D/hearsay/internal/llm"
	"github.com/jonm3D/hearsay/internal/tts"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSynth renders "<text>" as PCM and lets tests control timing and
// failure per sequence number.
type fakeSynth struct {
	mu       sync.Mutex
	delays   map[int]time.Duration
	failures map[int]error
	gates    map[int]chan struct{}
	blocked  map[int]bool
	calls    []int
	active   int
	peak     int
	aborted  map[int]bool
	started  chan int
}

func newFakeSynth() *fakeSynth {
	return &fakeSynth{
		delays:   map[int]time.Duration{},
		failures: map[int]error{},
		gates:    map[int]chan struct{}{},
		blocked:  map[int]bool{},
		aborted:  map[int]bool{},
		started:  make(chan int, 64),
	}
}

func (f *fakeSynth) gate(seq int) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[seq] = ch
	return ch
}

func (f *fakeSynth) wasAborted(seq int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborted[seq]
}

func (f *fakeSynth) Synthesize(ctx context.Context, req tts.SynthRequest) (<-chan tts.SynthChunk, <-chan error) {
	chunks := make(chan tts.SynthChunk, 1)
	errs := make(chan error, 1)

	f.mu.Lock()
	f.calls = append(f.calls, req.Sequence)
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	delay := f.delays[req.Sequence]
	failure := f.failures[req.Sequence]
	gate := f.gates[req.Sequence]
	blocked := f.blocked[req.Sequence]
	f.mu.Unlock()
	f.started <- req.Sequence

	go func() {
		defer close(chunks)
		defer close(errs)
		defer func() {
			f.mu.Lock()
			f.active--
			f.mu.Unlock()
		}()

		wait := func(ch <-chan struct{}) bool {
			select {
			case <-ch:
				return true
			case <-ctx.Done():
				f.mu.Lock()
				f.aborted[req.Sequence] = true
				f.mu.Unlock()
				errs <- ctx.Err()
				return false
			}
		}
		if blocked && !wait(nil) {
			return
		}
		if gate != nil && !wait(gate) {
			return
		}
		if delay > 0 && !wait(timeAfter(delay)) {
			return
		}
		if failure != nil {
			errs <- failure
			return
		}
		chunks <- tts.SynthChunk{
			Sequence:   req.Sequence,
			SampleRate: 1000,
			Channels:   1,
			PCM:        []byte("<" + req.Text + ">"),
			Final:      true,
		}
	}()
	return chunks, errs
}

func timeAfter(d time.Duration) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		time.Sleep(d)
		close(ch)
	}()
	return ch
}

// hangingGenerator emits chunks and then waits for cancellation.
type hangingGenerator struct {
	chunks []string
}

func (g hangingGenerator) Generate(ctx context.Context, req llm.Request, consumer func(llm.Chunk) error) error {
	for _, c := range g.chunks {
		if err := consumer(llm.Chunk{RunID: req.RunID, Content: c, Partial: true}); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// recorder captures observer callbacks.
type recorder struct {
	mu         sync.Mutex
	started    []string
	paragraphs []Paragraph
	segments   []int
	failures   map[int]error
	finished   []*Result
	segmentCh  chan int
}

func newRecorder() *recorder {
	return &recorder{failures: map[int]error{}, segmentCh: make(chan int, 64)}
}

func (r *recorder) RunStarted(_ context.Context, runID, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, runID)
}

func (r *recorder) ParagraphReady(_ context.Context, _ string, p Paragraph) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paragraphs = append(r.paragraphs, p)
}

func (r *recorder) SegmentDone(_ context.Context, _ string, seq int, err error) {
	r.mu.Lock()
	r.segments = append(r.segments, seq)
	if err != nil {
		r.failures[seq] = err
	}
	r.mu.Unlock()
	r.segmentCh <- seq
}

func (r *recorder) RunFinished(_ context.Context, res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, res)
}

func (r *recorder) segmentOrder() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.segments...)
}

func (f *fakeSynth) peakConcurrency() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peak
}

func (f *fakeSynth) callLog() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}
