package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonm3D/hearsay/internal/config"
	"github.com/jonm3D/hearsay/internal/llm"
	"github.com/jonm3D/hearsay/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const previewLength = 60

// Options tunes a Coordinator.
type Options struct {
	Boundary         Boundary
	FlushOnStreamEnd bool
	Concurrency      int
	SynthesisTimeout time.Duration
	GracePeriod      time.Duration
	Pause            time.Duration
	Voice            string
	Speed            float64
	// ScriptOnly segments the script without synthesizing it.
	ScriptOnly bool
	// Script carries model defaults; prompt fields are filled per run.
	Script llm.Request
}

// OptionsFromConfig builds coordinator options from the loaded config.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	boundary, err := ParseBoundary(cfg.Pipeline.ParagraphBoundary)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Boundary:         boundary,
		FlushOnStreamEnd: cfg.Pipeline.FlushOnStreamEnd,
		Concurrency:      cfg.Pipeline.Concurrency,
		SynthesisTimeout: time.Duration(cfg.Pipeline.SynthesisTimeoutMS) * time.Millisecond,
		GracePeriod:      time.Duration(cfg.Pipeline.GracePeriodMS) * time.Millisecond,
		Pause:            time.Duration(cfg.Pipeline.PauseMS) * time.Millisecond,
		Voice:            cfg.TTS.Voice,
		Speed:            cfg.TTS.Speed,
		Script:           llm.OptionsFromConfig(cfg.LLM),
	}, nil
}

// Request identifies the paper to narrate.
type Request struct {
	RunID string
	Title string
	// Paper is the cleaned paper markdown.
	Paper string
}

// Coordinator drives the script stream, the segmenter, the synthesis pool
// and the assembler for one paper at a time per Run call.
type Coordinator struct {
	gen       llm.Generator
	synth     tts.Synthesizer
	opts      Options
	logger    *slog.Logger
	observers []Observer
	metrics   *instruments
}

func New(gen llm.Generator, synth tts.Synthesizer, opts Options, logger *slog.Logger, observers ...Observer) *Coordinator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	c := &Coordinator{
		gen:       gen,
		synth:     synth,
		opts:      opts,
		logger:    logger.With(slog.String("component", "narration")),
		observers: observers,
	}
	metrics, err := newInstruments()
	if err != nil {
		c.logger.Warn("failed to initialize metrics", slogError(err))
	}
	c.metrics = metrics
	return c
}

// Run narrates one paper. On success the returned Result holds the ordered
// audio and the full script. Otherwise the Result is in StateAborted, names
// the last assembled sequence, and the error is one of *GenerationError,
// *SynthesisError or ErrCancelled.
func (c *Coordinator) Run(ctx context.Context, req Request) (*Result, error) {
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx, span := tracer().Start(ctx, "narration.run", trace.WithAttributes(
		attribute.String("run_id", runID),
		attribute.String("title", req.Title),
		attribute.Int("concurrency", c.opts.Concurrency),
	))
	defer span.End()

	r := &run{
		c:      c,
		id:     runID,
		title:  req.Title,
		seg:    NewSegmenter(c.opts.Boundary, c.opts.FlushOnStreamEnd),
		asm:    NewAssembler(c.opts.Pause),
		logger: c.logger.With(slog.String("run_id", runID)),
		obsCtx: context.WithoutCancel(ctx),
	}
	script := c.scriptRequest(runID, req)
	script.TraceID = span.SpanContext().TraceID().String()

	res := r.execute(ctx, script)

	c.metrics.finished(r.obsCtx, res.State, errors.Is(res.Err, ErrCancelled))
	span.SetAttributes(
		attribute.String("state", res.State.String()),
		attribute.Int("paragraphs", res.Paragraphs),
		attribute.Int("last_completed", res.LastCompleted),
	)
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
	}
	for _, obs := range c.observers {
		obs.RunFinished(r.obsCtx, res)
	}
	return res, res.Err
}

func (c *Coordinator) scriptRequest(runID string, req Request) llm.Request {
	script := c.opts.Script
	script.RunID = runID
	script.Title = req.Title
	script.Prompt = llm.ScriptPrompt(req.Title, req.Paper)
	script.System = llm.SystemPrompt(script.System)
	return script
}

type run struct {
	c       *Coordinator
	id      string
	title   string
	state   State
	seg     *Segmenter
	asm     *Assembler
	pool    *Pool
	script  []string
	backlog []Paragraph
	logger  *slog.Logger
	obsCtx  context.Context

	stopGen context.CancelFunc
	abandon context.CancelFunc
	results <-chan Outcome
}

func (r *run) execute(ctx context.Context, script llm.Request) *Result {
	r.transition(StateStreaming)
	for _, obs := range r.c.observers {
		obs.RunStarted(r.obsCtx, r.id, r.title)
	}

	genCtx, stopGen := context.WithCancel(ctx)
	defer stopGen()
	// Synthesis outlives caller cancellation by up to the grace period.
	synthCtx, abandon := context.WithCancel(context.WithoutCancel(ctx))
	defer abandon()
	r.stopGen, r.abandon = stopGen, abandon

	r.pool = NewPool(r.c.synth, PoolOptions{
		RunID:   r.id,
		Workers: r.c.opts.Concurrency,
		Timeout: r.c.opts.SynthesisTimeout,
		Voice:   r.c.opts.Voice,
		Speed:   r.c.opts.Speed,
	}, r.logger)
	r.pool.metrics = r.c.metrics
	r.pool.Start(synthCtx)
	defer r.pool.Close()
	r.results = r.pool.Results()

	chunks := make(chan string)
	genDone := make(chan error, 1)
	go func() {
		genDone <- r.c.gen.Generate(genCtx, script, func(chunk llm.Chunk) error {
			if chunk.Content == "" {
				return nil
			}
			select {
			case chunks <- chunk.Content:
				return nil
			case <-genCtx.Done():
				return genCtx.Err()
			}
		})
	}()

	chunkCh, doneCh := (<-chan string)(chunks), (<-chan error)(genDone)
	streaming := true
	for {
		if !streaming {
			if len(r.backlog) == 0 {
				r.pool.Close()
			}
			if r.asm.Done() {
				return r.complete()
			}
		}

		var jobs chan<- Paragraph
		var head Paragraph
		if len(r.backlog) > 0 {
			jobs = r.pool.Jobs()
			head = r.backlog[0]
		}

		select {
		case text := <-chunkCh:
			for _, p := range r.seg.Feed(text) {
				r.accept(ctx, p)
			}

		case err := <-doneCh:
			streaming = false
			chunkCh, doneCh = nil, nil
			if ctx.Err() != nil {
				return r.abort(cancelled(ctx))
			}
			if err != nil {
				if partial := strings.TrimSpace(r.seg.Buffered()); partial != "" {
					r.logger.Warn("discarding unterminated paragraph", slog.Int("chars", len(partial)))
				}
				return r.abort(&GenerationError{Err: err})
			}
			for _, p := range r.seg.Finish() {
				r.accept(ctx, p)
			}
			if r.seg.Count() == 0 {
				return r.abort(&GenerationError{Err: ErrEmptyScript})
			}
			r.logger.Info("script complete", slog.Int("paragraphs", r.seg.Count()))
			if r.c.opts.ScriptOnly {
				return r.complete()
			}
			if err := r.asm.Seal(r.seg.Count()); err != nil {
				return r.abort(err)
			}

		case jobs <- head:
			r.backlog = r.backlog[1:]

		case out, ok := <-r.results:
			if !ok {
				return r.abort(errors.New("synthesis workers exited with paragraphs outstanding"))
			}
			if err := r.settle(out); err != nil {
				return r.abort(err)
			}

		case <-ctx.Done():
			return r.abort(cancelled(ctx))
		}
	}
}

func (r *run) accept(ctx context.Context, p Paragraph) {
	r.script = append(r.script, p.Text)
	r.c.metrics.paragraph(ctx)
	r.logger.Info("paragraph ready", slog.Int("seq", p.Seq), slog.String("preview", preview(p.Text)))
	for _, obs := range r.c.observers {
		obs.ParagraphReady(r.obsCtx, r.id, p)
	}
	if !r.c.opts.ScriptOnly {
		r.backlog = append(r.backlog, p)
	}
}

func (r *run) settle(out Outcome) error {
	for _, obs := range r.c.observers {
		obs.SegmentDone(r.obsCtx, r.id, out.Seq, out.Err)
	}
	return r.asm.Add(out)
}

func (r *run) complete() *Result {
	r.transition(StateComplete)
	res := r.result(nil)
	if !r.c.opts.ScriptOnly {
		res.Audio = r.asm.Bytes()
		res.SampleRate, res.Channels = r.asm.Format()
		res.Duration = pcmDuration(len(res.Audio), res.SampleRate, res.Channels)
	}
	r.logger.Info("narration complete",
		slog.Int("paragraphs", res.Paragraphs),
		slog.Duration("duration", res.Duration))
	return res
}

// abort stops the stream and dispatch, lets in-flight synthesis settle for
// up to the grace period, then abandons whatever is left.
func (r *run) abort(cause error) *Result {
	r.stopGen()
	r.backlog = nil
	r.pool.Stop()
	r.pool.Close()
	if r.asm.Err() == nil {
		r.awaitInflight()
	}
	r.abandon()

	r.transition(StateAborted)
	res := r.result(cause)
	r.logger.Warn("narration aborted",
		slog.Int("paragraphs", res.Paragraphs),
		slog.Int("last_completed", res.LastCompleted),
		slogError(cause))
	return res
}

func (r *run) awaitInflight() {
	grace := r.c.opts.GracePeriod
	if grace <= 0 {
		return
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	for {
		select {
		case out, ok := <-r.results:
			if !ok {
				return
			}
			if err := r.settle(out); err != nil {
				return
			}
		case <-timer.C:
			r.logger.Warn("grace period elapsed, abandoning in-flight synthesis",
				slog.Duration("grace", grace))
			return
		}
	}
}

func (r *run) result(err error) *Result {
	return &Result{
		RunID:         r.id,
		Title:         r.title,
		State:         r.state,
		Script:        strings.Join(r.script, "\n\n"),
		Paragraphs:    r.seg.Count(),
		LastCompleted: r.asm.LastCompleted(),
		Err:           err,
	}
}

func (r *run) transition(next State) {
	if r.state.Terminal() {
		return
	}
	r.logger.Debug("state change", slog.String("from", r.state.String()), slog.String("to", next.String()))
	r.state = next
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= previewLength {
		return text
	}
	return string(runes[:previewLength]) + "..."
}
