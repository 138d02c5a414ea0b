package narration

import "time"

// Paragraph is one complete unit of narration. Seq is assigned by the
// Segmenter and is 0-based and gapless within a run.
type Paragraph struct {
	Seq  int
	Text string
}

// Segment is the synthesized audio for exactly one paragraph, as 16-bit
// little-endian PCM.
type Segment struct {
	Seq        int
	PCM        []byte
	SampleRate int
	Channels   int
	Latency    time.Duration
}

// Outcome is what a worker reports for a dispatched paragraph: either a
// Segment or an error, never both.
type Outcome struct {
	Seq     int
	Segment Segment
	Err     error
}

// State is the coordinator lifecycle of a single run.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateComplete
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateComplete:
		return "complete"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateAborted
}

// Result is the terminal outcome of a run. Audio is only set when State is
// StateComplete. LastCompleted is -1 when no paragraph was assembled.
type Result struct {
	RunID         string
	Title         string
	State         State
	Script        string
	Paragraphs    int
	Audio         []byte
	SampleRate    int
	Channels      int
	Duration      time.Duration
	LastCompleted int
	Err           error
}

// Succeeded reports whether the run produced a complete ordered stream.
func (r *Result) Succeeded() bool {
	return r != nil && r.State == StateComplete && r.Err == nil
}

func pcmDuration(bytes, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := bytes / (2 * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
