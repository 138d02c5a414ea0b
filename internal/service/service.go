// Package service exposes narration over the message bus.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonm3D/hearsay/internal/bus"
	"github.com/jonm3D/hearsay/internal/config"
	"github.com/jonm3D/hearsay/internal/llm"
	"github.com/jonm3D/hearsay/internal/narration"
	"github.com/jonm3D/hearsay/internal/output"
	"github.com/jonm3D/hearsay/internal/protocol"
	"github.com/jonm3D/hearsay/internal/tts"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"
)

// Service accepts narration requests on the bus and runs them on a bounded
// number of coordinators.
type Service struct {
	cfg        config.ServiceConfig
	outDir     string
	bus        *bus.Client
	coord      *narration.Coordinator
	scriptOnly *narration.Coordinator
	sub        *nats.Subscription
	ctx        context.Context
	cancel     context.CancelFunc
	runs       *errgroup.Group
	active     atomic.Int64
	ready      atomic.Bool
	logger     *slog.Logger
}

func New(parent context.Context, cfg config.Config, busClient *bus.Client, gen llm.Generator, synth tts.Synthesizer, logger *slog.Logger, observers ...narration.Observer) (*Service, error) {
	opts, err := narration.OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	logger = logger.With(slog.String("component", "narration-service"))
	observers = append(observers, &publisher{bus: busClient, logger: logger})

	scriptOpts := opts
	scriptOpts.ScriptOnly = true

	limit := cfg.Service.Concurrency
	if limit <= 0 {
		limit = 1
	}
	runs := &errgroup.Group{}
	runs.SetLimit(limit)

	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:        cfg.Service,
		outDir:     cfg.Output.Directory,
		bus:        busClient,
		coord:      narration.New(gen, synth, opts, logger, observers...),
		scriptOnly: narration.New(gen, synth, scriptOpts, logger, observers...),
		ctx:        ctx,
		cancel:     cancel,
		runs:       runs,
		logger:     logger,
	}, nil
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectNarrationRequest, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe narration requests: %w", err)
	}
	s.sub = sub
	s.ready.Store(true)
	s.logger.Info("narration service listening",
		slog.String("subject", protocol.SubjectNarrationRequest),
		slog.Int("max_concurrent_runs", s.cfg.Concurrency))
	return nil
}

// Close stops accepting requests, cancels running narrations and waits for
// them to finish.
func (s *Service) Close() {
	s.ready.Store(false)
	if s.sub != nil {
		_ = s.sub.Unsubscribe()
	}
	s.cancel()
	_ = s.runs.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready.Load()
}

// Active is the number of runs in progress.
func (s *Service) Active() int {
	return int(s.active.Load())
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.NarrationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode narration request", slogError(err))
		s.reply(msg, protocol.RunStatus{State: protocol.StateRejected, LastCompleted: -1, Error: "malformed request"})
		return
	}
	if req.Paper == "" {
		s.reply(msg, protocol.RunStatus{RunID: req.RunID, State: protocol.StateRejected, LastCompleted: -1, Error: "paper is empty"})
		return
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}

	accepted := s.runs.TryGo(func() error {
		s.active.Add(1)
		defer s.active.Add(-1)
		s.narrate(req)
		return nil
	})
	if !accepted {
		s.logger.Warn("narration request rejected, at capacity", slog.String("run_id", req.RunID))
		s.reply(msg, protocol.RunStatus{RunID: req.RunID, Title: req.Title, State: protocol.StateRejected, LastCompleted: -1, Error: "at capacity"})
		return
	}
	s.reply(msg, protocol.RunStatus{RunID: req.RunID, Title: req.Title, State: protocol.StateAccepted, LastCompleted: -1})
}

func (s *Service) narrate(req protocol.NarrationRequest) {
	ctx := s.ctx
	if s.cfg.RunTimeoutS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.RunTimeoutS)*time.Second)
		defer cancel()
	}

	coord := s.coord
	if req.ScriptOnly {
		coord = s.scriptOnly
	}
	res, err := coord.Run(ctx, narration.Request{RunID: req.RunID, Title: req.Title, Paper: req.Paper})
	status := protocol.RunStatus{
		RunID:         res.RunID,
		Title:         res.Title,
		State:         res.State.String(),
		Paragraphs:    res.Paragraphs,
		LastCompleted: res.LastCompleted,
		DurationMS:    res.Duration.Milliseconds(),
		Timestamp:     time.Now().UTC(),
	}
	if err != nil {
		status.Error = describe(err)
	} else {
		sink := output.NewFileSink(filepath.Join(s.outDir, res.RunID), s.logger)
		art, werr := sink.Write(context.WithoutCancel(ctx), output.Narration{
			RunID:      res.RunID,
			Title:      res.Title,
			Script:     res.Script,
			PCM:        res.Audio,
			SampleRate: res.SampleRate,
			Channels:   res.Channels,
		})
		if werr != nil {
			s.logger.Error("failed to write narration", slog.String("run_id", res.RunID), slogError(werr))
			status.Error = werr.Error()
		}
		status.ScriptPath, status.AudioPath = art.ScriptPath, art.AudioPath
	}
	if err := s.bus.PublishJSON(protocol.SubjectStatus, status); err != nil {
		s.logger.Warn("failed to publish run status", slog.String("run_id", res.RunID), slogError(err))
	}
}

func (s *Service) reply(msg *nats.Msg, status protocol.RunStatus) {
	if msg.Reply == "" {
		return
	}
	status.Timestamp = time.Now().UTC()
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to encode reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to reply", slogError(err))
	}
}

func describe(err error) string {
	var genErr *narration.GenerationError
	var synthErr *narration.SynthesisError
	switch {
	case errors.Is(err, narration.ErrCancelled):
		return "cancelled: " + err.Error()
	case errors.As(err, &synthErr):
		return fmt.Sprintf("synthesis failed at paragraph %d: %v", synthErr.Seq, synthErr.Err)
	case errors.As(err, &genErr):
		return "script generation failed: " + genErr.Err.Error()
	default:
		return err.Error()
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
