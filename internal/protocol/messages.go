package protocol

import "time"

// NarrationRequest asks the service to narrate one paper.
type NarrationRequest struct {
	RunID      string `json:"run_id,omitempty"`
	Title      string `json:"title"`
	Paper      string `json:"paper"`
	ScriptOnly bool   `json:"script_only,omitempty"`
}

// ParagraphEvent is published as soon as a paragraph is cut from the script.
type ParagraphEvent struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// SegmentEvent reports the synthesis outcome of one paragraph, in completion
// order.
type SegmentEvent struct {
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunStatus reports the lifecycle of a run. It is also the reply to a
// NarrationRequest.
type RunStatus struct {
	RunID         string    `json:"run_id"`
	Title         string    `json:"title,omitempty"`
	State         string    `json:"state"`
	Paragraphs    int       `json:"paragraphs"`
	LastCompleted int       `json:"last_completed"`
	DurationMS    int64     `json:"duration_ms,omitempty"`
	ScriptPath    string    `json:"script_path,omitempty"`
	AudioPath     string    `json:"audio_path,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

const (
	SubjectNarrationRequest = "narration.request"
	SubjectParagraph        = "narration.paragraph"
	SubjectSegment          = "narration.segment"
	SubjectStatus           = "narration.status"

	// StreamNarration captures progress subjects when JetStream is available.
	StreamNarration = "NARRATION"

	StateAccepted = "accepted"
	StateRejected = "rejected"
)

// Backends describes how a daemon produces scripts and speech.
type Backends struct {
	LLM         string `json:"llm"`
	TTS         string `json:"tts"`
	Voice       string `json:"voice,omitempty"`
	Concurrency int    `json:"concurrency"`
	MaxRuns     int    `json:"max_runs"`
}

// NodeAnnouncement is published when a daemon joins the bus.
type NodeAnnouncement struct {
	NodeID    string    `json:"node_id"`
	Backends  Backends  `json:"backends"`
	Timestamp time.Time `json:"timestamp"`
}

// NodeHeartbeat is published periodically by every daemon.
type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectNodeAnnounce  = "narration.node.announce"
	SubjectNodeHeartbeat = "narration.node.heartbeat"
)
