// Package store persists audio clips, recognition results and evaluation
// suites in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/metriclabs/speechbench/internal/config"
)

var (
	// ErrClipNotFound reports a lookup of a clip id that does not exist.
	ErrClipNotFound = errors.New("audio clip not found")
	// ErrSuiteNotFound reports a lookup of a suite id that does not exist.
	ErrSuiteNotFound = errors.New("recognition suite not found")
)

// AudioClip is an uploaded audio file in canonical WAV form. Data is
// immutable after upload; only FileName may change.
type AudioClip struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	FileName  string
	Data      []byte
	CreatedAt time.Time
}

// RecognitionResult is one engine invocation outcome for one clip. Rows are
// append-only: repeated runs of the same (clip, engine) pair accumulate.
type RecognitionResult struct {
	ID                uuid.UUID
	ClipID            uuid.UUID
	OwnerID           uuid.UUID
	EngineName        string
	RecognizedText    string
	ExpectedText      string
	Accuracy          float64
	ModelProcessingMS int64
	SuiteID           *uuid.UUID
	CreatedAt         time.Time
}

// RecognitionSuite groups the results of one batch run.
type RecognitionSuite struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	CreatedAt time.Time
}

// Store wraps the SQLite database holding all benchmark state.
type Store struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store, creating the schema when missing.
func Open(ctx context.Context, cfg config.StoreConfig, log *slog.Logger) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, log: log.With(slog.String("component", "store")), clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			s.log.Warn("vacuum on start failed", slog.String("error", err.Error()))
		}
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS audio_clips (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    file_name TEXT NOT NULL,
    data BLOB NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS recognition_suites (
    id TEXT PRIMARY KEY,
    owner_id TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS recognition_results (
    id TEXT PRIMARY KEY,
    clip_id TEXT NOT NULL,
    owner_id TEXT NOT NULL,
    engine_name TEXT NOT NULL,
    recognized_text TEXT NOT NULL,
    expected_text TEXT NOT NULL,
    accuracy REAL NOT NULL,
    model_processing_ms INTEGER NOT NULL,
    suite_id TEXT,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(clip_id) REFERENCES audio_clips(id) ON DELETE CASCADE,
    FOREIGN KEY(suite_id) REFERENCES recognition_suites(id) ON DELETE SET NULL
);
CREATE INDEX IF NOT EXISTS idx_results_engine ON recognition_results(engine_name COLLATE NOCASE, created_at);
CREATE INDEX IF NOT EXISTS idx_results_owner ON recognition_results(owner_id, created_at);
CREATE INDEX IF NOT EXISTS idx_results_suite ON recognition_results(suite_id, created_at);
CREATE INDEX IF NOT EXISTS idx_clips_owner ON audio_clips(owner_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveClip inserts a clip, assigning id and created_at when unset.
func (s *Store) SaveClip(ctx context.Context, clip *AudioClip) error {
	if clip.ID == uuid.Nil {
		clip.ID = uuid.New()
	}
	if clip.CreatedAt.IsZero() {
		clip.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audio_clips(id, owner_id, file_name, data, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		clip.ID.String(), clip.OwnerID.String(), clip.FileName, clip.Data, clip.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert clip: %w", err)
	}
	return nil
}

// GetClip loads a clip with its audio bytes.
func (s *Store) GetClip(ctx context.Context, id uuid.UUID) (AudioClip, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, file_name, data, created_at FROM audio_clips WHERE id = ?`, id.String())
	clip, err := scanClip(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AudioClip{}, fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	return clip, err
}

// DeleteClip removes a clip and, via the schema cascade, its results.
// It reports whether a clip existed.
func (s *Store) DeleteClip(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audio_clips WHERE id = ?`, id.String())
	if err != nil {
		return false, fmt.Errorf("delete clip: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RenameClip updates the display file name of a clip.
func (s *Store) RenameClip(ctx context.Context, id uuid.UUID, fileName string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audio_clips SET file_name = ? WHERE id = ?`, fileName, id.String())
	if err != nil {
		return fmt.Errorf("rename clip: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrClipNotFound, id)
	}
	return nil
}

// ListClipIDsByOwner returns the ids of all clips owned by owner, oldest
// first.
func (s *Store) ListClipIDsByOwner(ctx context.Context, ownerID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM audio_clips WHERE owner_id = ? ORDER BY created_at ASC`, ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("list clips: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse clip id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertResults writes all results of one orchestrator call in a single
// transaction, preserving slice order. Ids and timestamps are assigned when
// unset.
func (s *Store) InsertResults(ctx context.Context, results []*RecognitionResult) error {
	if len(results) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, result := range results {
		if result.ID == uuid.Nil {
			result.ID = uuid.New()
		}
		if result.CreatedAt.IsZero() {
			result.CreatedAt = s.clock().UTC()
		}
		var suiteID any
		if result.SuiteID != nil {
			suiteID = result.SuiteID.String()
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO recognition_results(
			     id, clip_id, owner_id, engine_name, recognized_text, expected_text,
			     accuracy, model_processing_ms, suite_id, created_at)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.ID.String(), result.ClipID.String(), result.OwnerID.String(), result.EngineName,
			result.RecognizedText, result.ExpectedText, result.Accuracy, result.ModelProcessingMS,
			suiteID, result.CreatedAt.Format(time.RFC3339Nano))
		if err != nil {
			err = fmt.Errorf("insert result: %w", err)
			return err
		}
	}
	err = tx.Commit()
	return err
}

// ResultsByEngine returns all results produced by the named engine,
// matched case-insensitively, oldest first.
func (s *Store) ResultsByEngine(ctx context.Context, engineName string) ([]RecognitionResult, error) {
	return s.queryResults(ctx,
		`SELECT `+resultColumns+` FROM recognition_results
		 WHERE engine_name = ? COLLATE NOCASE ORDER BY created_at ASC`, engineName)
}

// ResultsByOwner returns all results belonging to owner, oldest first.
func (s *Store) ResultsByOwner(ctx context.Context, ownerID uuid.UUID) ([]RecognitionResult, error) {
	return s.queryResults(ctx,
		`SELECT `+resultColumns+` FROM recognition_results
		 WHERE owner_id = ? ORDER BY created_at ASC`, ownerID.String())
}

// ResultsByClip returns all results recorded for a clip, oldest first.
func (s *Store) ResultsByClip(ctx context.Context, clipID uuid.UUID) ([]RecognitionResult, error) {
	return s.queryResults(ctx,
		`SELECT `+resultColumns+` FROM recognition_results
		 WHERE clip_id = ? ORDER BY created_at ASC`, clipID.String())
}

// ResultsBySuite returns the results tagged with a suite, oldest first.
func (s *Store) ResultsBySuite(ctx context.Context, suiteID uuid.UUID) ([]RecognitionResult, error) {
	return s.queryResults(ctx,
		`SELECT `+resultColumns+` FROM recognition_results
		 WHERE suite_id = ? ORDER BY created_at ASC`, suiteID.String())
}

// SaveSuite inserts a suite, assigning id and created_at when unset.
func (s *Store) SaveSuite(ctx context.Context, suite *RecognitionSuite) error {
	if suite.ID == uuid.Nil {
		suite.ID = uuid.New()
	}
	if suite.CreatedAt.IsZero() {
		suite.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO recognition_suites(id, owner_id, created_at) VALUES(?, ?, ?)`,
		suite.ID.String(), suite.OwnerID.String(), suite.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert suite: %w", err)
	}
	return nil
}

// GetSuite loads a suite header (results come from ResultsBySuite).
func (s *Store) GetSuite(ctx context.Context, id uuid.UUID) (RecognitionSuite, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, created_at FROM recognition_suites WHERE id = ?`, id.String())
	var (
		suite   RecognitionSuite
		rawID   string
		rawUser string
		created string
	)
	if err := row.Scan(&rawID, &rawUser, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RecognitionSuite{}, fmt.Errorf("%w: %s", ErrSuiteNotFound, id)
		}
		return RecognitionSuite{}, err
	}
	var err error
	if suite.ID, err = uuid.Parse(rawID); err != nil {
		return RecognitionSuite{}, fmt.Errorf("parse suite id: %w", err)
	}
	if suite.OwnerID, err = uuid.Parse(rawUser); err != nil {
		return RecognitionSuite{}, fmt.Errorf("parse suite owner: %w", err)
	}
	suite.CreatedAt = parseTime(created)
	return suite, nil
}

// SuitesByOwner lists all suites created by owner, oldest first.
func (s *Store) SuitesByOwner(ctx context.Context, ownerID uuid.UUID) ([]RecognitionSuite, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, created_at FROM recognition_suites
		 WHERE owner_id = ? ORDER BY created_at ASC`, ownerID.String())
	if err != nil {
		return nil, fmt.Errorf("list suites: %w", err)
	}
	defer rows.Close()

	var suites []RecognitionSuite
	for rows.Next() {
		var (
			rawID   string
			rawUser string
			created string
		)
		if err := rows.Scan(&rawID, &rawUser, &created); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("parse suite id: %w", err)
		}
		owner, err := uuid.Parse(rawUser)
		if err != nil {
			return nil, fmt.Errorf("parse suite owner: %w", err)
		}
		suites = append(suites, RecognitionSuite{ID: id, OwnerID: owner, CreatedAt: parseTime(created)})
	}
	return suites, rows.Err()
}

const resultColumns = `id, clip_id, owner_id, engine_name, recognized_text, expected_text,
	accuracy, model_processing_ms, suite_id, created_at`

func (s *Store) queryResults(ctx context.Context, query string, args ...any) ([]RecognitionResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var results []RecognitionResult
	for rows.Next() {
		var (
			r       RecognitionResult
			rawID   string
			rawClip string
			rawUser string
			suiteID sql.NullString
			created string
		)
		if err := rows.Scan(&rawID, &rawClip, &rawUser, &r.EngineName, &r.RecognizedText,
			&r.ExpectedText, &r.Accuracy, &r.ModelProcessingMS, &suiteID, &created); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("parse result id: %w", err)
		}
		if r.ClipID, err = uuid.Parse(rawClip); err != nil {
			return nil, fmt.Errorf("parse result clip id: %w", err)
		}
		if r.OwnerID, err = uuid.Parse(rawUser); err != nil {
			return nil, fmt.Errorf("parse result owner: %w", err)
		}
		if suiteID.Valid {
			id, err := uuid.Parse(suiteID.String)
			if err != nil {
				return nil, fmt.Errorf("parse result suite id: %w", err)
			}
			r.SuiteID = &id
		}
		r.CreatedAt = parseTime(created)
		results = append(results, r)
	}
	return results, rows.Err()
}

func scanClip(row *sql.Row) (AudioClip, error) {
	var (
		clip    AudioClip
		rawID   string
		rawUser string
		created string
	)
	if err := row.Scan(&rawID, &rawUser, &clip.FileName, &clip.Data, &created); err != nil {
		return AudioClip{}, err
	}
	var err error
	if clip.ID, err = uuid.Parse(rawID); err != nil {
		return AudioClip{}, fmt.Errorf("parse clip id: %w", err)
	}
	if clip.OwnerID, err = uuid.Parse(rawUser); err != nil {
		return AudioClip{}, fmt.Errorf("parse clip owner: %w", err)
	}
	clip.CreatedAt = parseTime(created)
	return clip, nil
}

func parseTime(raw string) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	return time.Time{}
}
