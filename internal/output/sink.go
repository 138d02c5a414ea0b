package output

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	ScriptFile    = "script.txt"
	maxSlugLength = 60
)

// Narration is a finished run ready to be persisted.
type Narration struct {
	RunID      string
	Title      string
	Script     string
	PCM        []byte
	SampleRate int
	Channels   int
}

// Artifacts lists what a Sink wrote.
type Artifacts struct {
	Dir        string
	ScriptPath string
	AudioPath  string
}

// Sink persists narrations.
type Sink interface {
	Write(ctx context.Context, n Narration) (Artifacts, error)
}

// FileSink writes script.txt and a 16-bit WAV named after the title into Dir.
type FileSink struct {
	dir    string
	logger *slog.Logger
	now    func() time.Time
}

func NewFileSink(dir string, logger *slog.Logger) *FileSink {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FileSink{
		dir:    dir,
		logger: logger.With(slog.String("component", "output")),
		now:    time.Now,
	}
}

// Write stores the script and, when PCM is present, the audio. A narration
// without audio only produces script.txt.
func (s *FileSink) Write(ctx context.Context, n Narration) (Artifacts, error) {
	if err := ctx.Err(); err != nil {
		return Artifacts{}, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Artifacts{}, fmt.Errorf("create output dir: %w", err)
	}
	art := Artifacts{Dir: s.dir, ScriptPath: filepath.Join(s.dir, ScriptFile)}
	if err := os.WriteFile(art.ScriptPath, []byte(n.Script), 0o644); err != nil {
		return Artifacts{}, fmt.Errorf("write script: %w", err)
	}

	if len(n.PCM) > 0 {
		art.AudioPath = filepath.Join(s.dir, Slug(n.Title)+".wav")
		if err := s.writeAudio(art.AudioPath, n); err != nil {
			return Artifacts{}, err
		}
	}
	s.logger.Info("narration written",
		slog.String("run_id", n.RunID),
		slog.String("script", art.ScriptPath),
		slog.String("audio", art.AudioPath))
	return art, nil
}

func (s *FileSink) writeAudio(path string, n Narration) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create audio file: %w", err)
	}
	defer file.Close()

	if err := encodeWAV(file, n, s.now()); err != nil {
		return err
	}
	return file.Close()
}

func encodeWAV(file *os.File, n Narration, created time.Time) error {
	if len(n.PCM)%2 != 0 {
		return fmt.Errorf("pcm payload not aligned")
	}
	if n.SampleRate <= 0 || n.Channels <= 0 {
		return fmt.Errorf("invalid audio format %d Hz x %d", n.SampleRate, n.Channels)
	}
	samples := make([]int, len(n.PCM)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(n.PCM[i*2:])))
	}
	buffer := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: n.Channels, SampleRate: n.SampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(file, n.SampleRate, 16, n.Channels, 1)
	enc.Metadata = &wav.Metadata{
		Title:        n.Title,
		Artist:       "Hearsay",
		Software:     "hearsay",
		CreationDate: created.Format("2006-01-02"),
	}
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

var (
	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	spaces      = regexp.MustCompile(`\s+`)
)

// Slug turns a title into a file name stem.
func Slug(title string) string {
	slug := unsafeChars.ReplaceAllString(title, "")
	slug = spaces.ReplaceAllString(strings.TrimSpace(slug), "_")
	if runes := []rune(slug); len(runes) > maxSlugLength {
		slug = string(runes[:maxSlugLength])
	}
	slug = strings.Trim(slug, "_-")
	if slug == "" {
		return "narration"
	}
	return slug
}
