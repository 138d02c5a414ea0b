package tts

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"strings"
	"time"
)

const mockWordDuration = 60 * time.Millisecond

type mockSynth struct {
	sampleRate int
	channels   int
	delay      time.Duration
}

// NewMockSynth returns a deterministic synthesizer that renders a quiet tone
// whose pitch depends on the text and whose length depends on the word count.
func NewMockSynth(sampleRate, channels int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate, channels: channels, delay: 10 * time.Millisecond}
}

func (m *mockSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	chunks := make(chan SynthChunk, 1)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		select {
		case <-ctx.Done():
			errs <- ctx.Err()
			return
		case <-time.After(m.delay):
		}
		chunks <- SynthChunk{
			RunID:      req.RunID,
			Sequence:   req.Sequence,
			SampleRate: m.sampleRate,
			Channels:   m.channels,
			PCM:        tone(req.Text, req.Speed, m.sampleRate, m.channels),
			Final:      true,
		}
	}()
	return chunks, errs
}

func tone(text string, speed float64, sampleRate, channels int) []byte {
	if speed <= 0 {
		speed = 1
	}
	words := len(strings.Fields(text))
	duration := time.Duration(float64(time.Duration(words)*mockWordDuration) / speed)
	frames := int(duration.Seconds() * float64(sampleRate))

	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	freq := 180 + float64(h.Sum32()%220)

	pcm := make([]byte, frames*channels*2)
	for i := 0; i < frames; i++ {
		v := int16(2000 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
		for c := 0; c < channels; c++ {
			binary.LittleEndian.PutUint16(pcm[(i*channels+c)*2:], uint16(v))
		}
	}
	return pcm
}
