package tts

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when a synthesis stream closes without any chunk.
var ErrNoAudio = errors.New("synthesizer produced no audio")

// Collect drains one synthesis stream into a single Audio buffer. Any error
// reported by the synthesizer fails the whole call.
func Collect(ctx context.Context, synth Synthesizer, req SynthRequest) (Audio, error) {
	chunks, errs := synth.Synthesize(ctx, req)
	var (
		audio    Audio
		received bool
	)
	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			received = true
			if audio.SampleRate == 0 {
				audio.SampleRate = chunk.SampleRate
				audio.Channels = chunk.Channels
			}
			audio.PCM = append(audio.PCM, chunk.PCM...)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				return Audio{}, err
			}
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		}
	}
	if !received {
		return Audio{}, ErrNoAudio
	}
	return audio, nil
}
