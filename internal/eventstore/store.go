package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonm3D/hearsay/internal/config"
	"github.com/jonm3D/hearsay/internal/narration"
	_ "modernc.org/sqlite"
)

// Paragraph statuses recorded in the journal.
const (
	StatusPending   = "pending"
	StatusDone      = "done"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// ErrRunNotFound is returned when the journal has no record of a run.
var ErrRunNotFound = errors.New("run not found")

// Run is the journal record of one narration run.
type Run struct {
	ID            string
	Title         string
	State         string
	Paragraphs    int
	LastCompleted int
	Error         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ParagraphRecord is the journal record of one paragraph of a run.
type ParagraphRecord struct {
	Seq       int
	Text      string
	Status    string
	Error     string
	UpdatedAt time.Time
}

// Checkpoint is what a caller needs to decide whether, and from where, to
// retry an aborted run.
type Checkpoint struct {
	Run        Run
	Paragraphs []ParagraphRecord
}

// Remaining returns the paragraphs after the last assembled one.
func (c Checkpoint) Remaining() []ParagraphRecord {
	var out []ParagraphRecord
	for _, p := range c.Paragraphs {
		if p.Seq > c.Run.LastCompleted {
			out = append(out, p)
		}
	}
	return out
}

// Store wraps the SQLite-backed run journal. It implements
// narration.Observer so it can be attached directly to a Coordinator.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

var _ narration.Observer = (*Store)(nil)

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(slog.String("component", "journal"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS runs (
    run_id TEXT PRIMARY KEY,
    title TEXT,
    state TEXT NOT NULL,
    paragraphs INTEGER NOT NULL DEFAULT 0,
    last_completed INTEGER NOT NULL DEFAULT -1,
    error TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS paragraphs (
    run_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    text TEXT NOT NULL,
    status TEXT NOT NULL,
    error TEXT,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY(run_id, seq),
    FOREIGN KEY(run_id) REFERENCES runs(run_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) disabled() bool {
	return s.cfg.RetentionMode == "ephemeral" || s.db == nil
}

func (s *Store) now() int64 {
	return s.clock().UTC().UnixMilli()
}

// StartRun records a new run in the streaming state.
func (s *Store) StartRun(ctx context.Context, runID, title string) error {
	if s.disabled() {
		return nil
	}
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, title, state, paragraphs, last_completed, created_at, updated_at)
		 VALUES(?, ?, ?, 0, -1, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET title=excluded.title, state=excluded.state, updated_at=excluded.updated_at`,
		runID, title, narration.StateStreaming.String(), now, now)
	return err
}

// AppendParagraph records a paragraph cut from the script stream.
func (s *Store) AppendParagraph(ctx context.Context, runID string, p narration.Paragraph) error {
	if s.disabled() {
		return nil
	}
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO paragraphs(run_id, seq, text, status, updated_at) VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, seq) DO UPDATE SET text=excluded.text, status=excluded.status, updated_at=excluded.updated_at`,
		runID, p.Seq, p.Text, StatusPending, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET paragraphs = MAX(paragraphs, ?), updated_at = ? WHERE run_id = ?`,
		p.Seq+1, now, runID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkSegment records the synthesis outcome of one paragraph.
func (s *Store) MarkSegment(ctx context.Context, runID string, seq int, synthErr error) error {
	if s.disabled() {
		return nil
	}
	status, msg := StatusDone, ""
	if synthErr != nil {
		status, msg = StatusFailed, synthErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE paragraphs SET status = ?, error = ?, updated_at = ? WHERE run_id = ? AND seq = ?`,
		status, msg, s.now(), runID, seq)
	return err
}

// FinishRun stores the terminal state of a run. Paragraphs of an aborted run
// that never got a synthesis outcome are marked abandoned.
func (s *Store) FinishRun(ctx context.Context, res *narration.Result) error {
	if s.disabled() || res == nil {
		return nil
	}
	now := s.now()
	msg := ""
	if res.Err != nil {
		msg = res.Err.Error()
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE runs SET state = ?, paragraphs = ?, last_completed = ?, error = ?, updated_at = ? WHERE run_id = ?`,
		res.State.String(), res.Paragraphs, res.LastCompleted, msg, now, res.RunID); err != nil {
		return err
	}
	if res.State == narration.StateAborted {
		// Past the checkpoint only the failure that stopped the run is kept;
		// audio synthesized beyond it was discarded.
		if _, err := tx.ExecContext(ctx,
			`UPDATE paragraphs SET status = ?, updated_at = ?
			 WHERE run_id = ? AND seq > ? AND (status IN (?, ?) OR (status = ? AND seq > ?))`,
			StatusAbandoned, now, res.RunID, res.LastCompleted,
			StatusPending, StatusDone, StatusFailed, res.LastCompleted+1); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetRun returns the journal record for runID.
func (s *Store) GetRun(ctx context.Context, runID string) (Run, error) {
	if s.disabled() {
		return Run{}, ErrRunNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, title, state, paragraphs, last_completed, COALESCE(error, ''), created_at, updated_at
		 FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

// ListRuns returns up to limit runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if s.disabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, title, state, paragraphs, last_completed, COALESCE(error, ''), created_at, updated_at
		 FROM runs ORDER BY created_at DESC, run_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Checkpoint returns the run record and its paragraphs in sequence order.
func (s *Store) Checkpoint(ctx context.Context, runID string) (Checkpoint, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return Checkpoint{}, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, text, status, COALESCE(error, ''), updated_at
		 FROM paragraphs WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return Checkpoint{}, err
	}
	defer rows.Close()

	cp := Checkpoint{Run: run}
	for rows.Next() {
		var p ParagraphRecord
		var updated int64
		if err := rows.Scan(&p.Seq, &p.Text, &p.Status, &p.Error, &updated); err != nil {
			return Checkpoint{}, err
		}
		p.UpdatedAt = time.UnixMilli(updated).UTC()
		cp.Paragraphs = append(cp.Paragraphs, p)
	}
	return cp, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var r Run
	var created, updated int64
	if err := row.Scan(&r.ID, &r.Title, &r.State, &r.Paragraphs, &r.LastCompleted, &r.Error, &created, &updated); err != nil {
		return Run{}, err
	}
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	return r, nil
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) error {
	if s.disabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UTC().UnixMilli()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRuns > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE run_id IN (
			SELECT run_id FROM runs ORDER BY created_at DESC, run_id LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRuns); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM paragraphs WHERE run_id NOT IN (SELECT run_id FROM runs)`); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) RunStarted(ctx context.Context, runID, title string) {
	if err := s.StartRun(ctx, runID, title); err != nil {
		s.log.Warn("journal run start failed", slog.String("run_id", runID), slog.String("error", err.Error()))
	}
}

func (s *Store) ParagraphReady(ctx context.Context, runID string, p narration.Paragraph) {
	if err := s.AppendParagraph(ctx, runID, p); err != nil {
		s.log.Warn("journal paragraph failed", slog.String("run_id", runID), slog.Int("seq", p.Seq), slog.String("error", err.Error()))
	}
}

func (s *Store) SegmentDone(ctx context.Context, runID string, seq int, synthErr error) {
	if err := s.MarkSegment(ctx, runID, seq, synthErr); err != nil {
		s.log.Warn("journal segment failed", slog.String("run_id", runID), slog.Int("seq", seq), slog.String("error", err.Error()))
	}
}

func (s *Store) RunFinished(ctx context.Context, res *narration.Result) {
	if err := s.FinishRun(ctx, res); err != nil {
		s.log.Warn("journal run finish failed", slog.String("run_id", res.RunID), slog.String("error", err.Error()))
	}
}
