package narration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonm3D/hearsay/internal/tts"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// PoolOptions configures a synthesis worker pool.
type PoolOptions struct {
	RunID   string
	Workers int
	Timeout time.Duration
	Voice   string
	Speed   float64
}

// Pool synthesizes paragraphs on a bounded set of workers. Outcomes are
// delivered in completion order, not submission order.
type Pool struct {
	synth   tts.Synthesizer
	opts    PoolOptions
	jobs    chan Paragraph
	results chan Outcome
	halt    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	stop    sync.Once
	metrics *instruments
	logger  *slog.Logger
}

func NewPool(synth tts.Synthesizer, opts PoolOptions, logger *slog.Logger) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{
		synth:   synth,
		opts:    opts,
		jobs:    make(chan Paragraph),
		results: make(chan Outcome, opts.Workers),
		halt:    make(chan struct{}),
		logger:  logger,
	}
}

// Start launches the workers. Cancelling ctx abandons in-flight synthesis and
// any outcome not yet delivered. Results is closed once every worker exits.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
	go func() {
		p.wg.Wait()
		close(p.results)
	}()
}

// Jobs hands a paragraph to an idle worker. A send blocks until one is free.
func (p *Pool) Jobs() chan<- Paragraph { return p.jobs }

// Results delivers exactly one Outcome per paragraph taken from Jobs, unless
// the pool is stopped before the call starts or its context is cancelled.
func (p *Pool) Results() <-chan Outcome { return p.results }

// Close signals that no more paragraphs will be submitted.
func (p *Pool) Close() {
	p.once.Do(func() { close(p.jobs) })
}

// Stop prevents workers from starting any further synthesis. Calls already
// running are left to finish.
func (p *Pool) Stop() {
	p.stop.Do(func() { close(p.halt) })
}

// Wait blocks until every worker has exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for para := range p.jobs {
		select {
		case <-p.halt:
			p.logger.Debug("pool stopped, dropping paragraph", slog.Int("seq", para.Seq))
			return
		default:
		}
		out := p.synthesize(ctx, para)
		select {
		case p.results <- out:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) synthesize(ctx context.Context, para Paragraph) Outcome {
	ctx, span := tracer().Start(ctx, "narration.synthesize", trace.WithAttributes(
		attribute.String("run_id", p.opts.RunID),
		attribute.Int("seq", para.Seq),
		attribute.Int("chars", len(para.Text)),
	))
	defer span.End()

	callCtx := ctx
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	audio, err := tts.Collect(callCtx, p.synth, tts.SynthRequest{
		RunID:    p.opts.RunID,
		Sequence: para.Seq,
		Text:     para.Text,
		Voice:    p.opts.Voice,
		Speed:    p.opts.Speed,
	})
	latency := time.Since(start)
	p.metrics.synthesized(ctx, latency.Seconds(), err != nil)

	if err != nil {
		if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", p.opts.Timeout, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Warn("paragraph synthesis failed", slog.Int("seq", para.Seq), slogError(err))
		return Outcome{Seq: para.Seq, Err: &SynthesisError{Seq: para.Seq, Err: err}}
	}
	p.logger.Debug("paragraph synthesized",
		slog.Int("seq", para.Seq),
		slog.Int("bytes", len(audio.PCM)),
		slog.Duration("latency", latency))
	return Outcome{Seq: para.Seq, Segment: Segment{
		Seq:        para.Seq,
		PCM:        audio.PCM,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Latency:    latency,
	}}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
