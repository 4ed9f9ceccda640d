package termstore

import (
	"context"
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Schema is the full term store schema. Migrate applies it on startup;
// every statement is idempotent so repeated runs are safe.
const Schema = `
CREATE TABLE IF NOT EXISTS custom_terms (
    term       TEXT PRIMARY KEY,
    profile_id TEXT NOT NULL DEFAULT 'default',
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS term_samples (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    term          TEXT NOT NULL REFERENCES custom_terms(term),
    profile_id    TEXT NOT NULL DEFAULT 'default',
    audio_path    TEXT NOT NULL,
    duration_ms   INTEGER NOT NULL,
    quality_score REAL NOT NULL,
    fingerprint   BLOB NOT NULL,
    created_at    TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_term_samples_term ON term_samples(term);
`

// SQLite is the embedded single-writer term store. All mutating
// operations serialize on an internal mutex so the sample cap check and
// the subsequent insert observe a consistent count.
type SQLite struct {
	mu        sync.Mutex
	db        *sql.DB
	dataDir   string
	profileID string
	log       *slog.Logger
}

// Open opens (or creates) the SQLite database at dbPath, applies the
// schema and returns a store writing audio artifacts under dataDir.
func Open(ctx context.Context, dbPath, dataDir string, log *slog.Logger) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("termstore: create db directory: %w", err)
	}
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("termstore: open database: %w", err)
	}
	// The driver multiplexes poorly across connections for a single-file
	// store; one connection keeps the WAL writer uncontended.
	db.SetMaxOpenConns(1)

	s := &SQLite{
		db:        db,
		dataDir:   dataDir,
		profileID: DefaultProfileID,
		log:       log,
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("termstore: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// PingContext reports whether the database is reachable. Used by the
// readiness probe.
func (s *SQLite) PingContext(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnrollTerm registers term if it is not present yet. Enrolling an
// existing term is a no-op that reports the current state.
func (s *SQLite) EnrollTerm(ctx context.Context, rawTerm string) (EnrollResult, error) {
	term, err := ValidateTerm(rawTerm)
	if err != nil {
		return EnrollResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count, existed, err := s.termState(ctx, term)
	if err != nil {
		return EnrollResult{}, err
	}
	if !existed {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO custom_terms (term, profile_id) VALUES (?, ?)`,
			term, s.profileID)
		if err != nil {
			return EnrollResult{}, fmt.Errorf("termstore: enroll term: %w", err)
		}
	}
	return EnrollResult{
		Existed:     existed,
		SampleCount: count,
		Status:      statusFor(count),
	}, nil
}

// AddSample stores one pronunciation sample for term: the WAV bytes as a
// file artifact and the metadata row with the precomputed fingerprint.
// The term is enrolled implicitly if needed. When the term already owns
// [MaxSamplesPerTerm] samples the call fails with [ErrCapacityExceeded]
// and nothing is written.
func (s *SQLite) AddSample(ctx context.Context, rawTerm string, wavData []byte, durationMS int, qualityScore float64, fingerprint []byte) (SampleResult, error) {
	term, err := ValidateTerm(rawTerm)
	if err != nil {
		return SampleResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count, existed, err := s.termState(ctx, term)
	if err != nil {
		return SampleResult{}, err
	}
	if count >= MaxSamplesPerTerm {
		return SampleResult{}, ErrCapacityExceeded
	}
	if !existed {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO custom_terms (term, profile_id) VALUES (?, ?)`,
			term, s.profileID)
		if err != nil {
			return SampleResult{}, fmt.Errorf("termstore: enroll term: %w", err)
		}
	}

	audioPath := s.artifactPath(term)
	if err := os.MkdirAll(filepath.Dir(audioPath), 0o755); err != nil {
		return SampleResult{}, fmt.Errorf("termstore: create artifact directory: %w", err)
	}
	if err := os.WriteFile(audioPath, wavData, 0o644); err != nil {
		return SampleResult{}, fmt.Errorf("termstore: write artifact: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO term_samples (term, profile_id, audio_path, duration_ms, quality_score, fingerprint)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		term, s.profileID, audioPath, durationMS, qualityScore, fingerprint)
	if err != nil {
		if rmErr := os.Remove(audioPath); rmErr != nil {
			s.log.Warn("orphaned sample artifact", "path", audioPath, "error", rmErr)
		}
		return SampleResult{}, fmt.Errorf("termstore: insert sample: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return SampleResult{}, fmt.Errorf("termstore: insert sample: %w", err)
	}
	return SampleResult{
		SampleID:    id,
		SampleCount: count + 1,
		Status:      statusFor(count + 1),
	}, nil
}

// DeleteSample removes one sample by id. Deleting a sample that does not
// exist (or belongs to another term) succeeds and reports the current
// state unchanged.
func (s *SQLite) DeleteSample(ctx context.Context, rawTerm string, sampleID int64) (TermInfo, error) {
	term, err := ValidateTerm(rawTerm)
	if err != nil {
		return TermInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var audioPath string
	err = s.db.QueryRowContext(ctx,
		`SELECT audio_path FROM term_samples WHERE id = ? AND term = ?`,
		sampleID, term).Scan(&audioPath)
	switch {
	case err == sql.ErrNoRows:
		// Already gone.
	case err != nil:
		return TermInfo{}, fmt.Errorf("termstore: lookup sample: %w", err)
	default:
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM term_samples WHERE id = ?`, sampleID); err != nil {
			return TermInfo{}, fmt.Errorf("termstore: delete sample: %w", err)
		}
		if err := os.Remove(audioPath); err != nil && !os.IsNotExist(err) {
			s.log.Warn("remove sample artifact", "path", audioPath, "error", err)
		}
	}

	count, _, err := s.termState(ctx, term)
	if err != nil {
		return TermInfo{}, err
	}
	return TermInfo{Term: term, SampleCount: count, Status: statusFor(count)}, nil
}

// DeleteTerm removes a term, all of its samples and their artifacts. It
// reports whether the term existed; deleting an unknown term is not an
// error.
func (s *SQLite) DeleteTerm(ctx context.Context, rawTerm string) (bool, error) {
	term, err := ValidateTerm(rawTerm)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT audio_path FROM term_samples WHERE term = ?`, term)
	if err != nil {
		return false, fmt.Errorf("termstore: list sample artifacts: %w", err)
	}
	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return false, fmt.Errorf("termstore: list sample artifacts: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Close(); err != nil {
		return false, fmt.Errorf("termstore: list sample artifacts: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM term_samples WHERE term = ?`, term); err != nil {
		return false, fmt.Errorf("termstore: delete samples: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM custom_terms WHERE term = ?`, term)
	if err != nil {
		return false, fmt.Errorf("termstore: delete term: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("termstore: delete term: %w", err)
	}

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.log.Warn("remove sample artifact", "path", p, "error", err)
		}
	}
	// The per-term bucket is empty now; removal failures are harmless.
	_ = os.Remove(filepath.Dir(s.artifactPath(term)))

	return affected > 0, nil
}

// ListTerms returns up to limit terms ordered by sample count descending,
// most recent sample first within equal counts, then case-insensitively
// by term. limit <= 0 means no limit. Terms without samples sort last.
func (s *SQLite) ListTerms(ctx context.Context, limit int) ([]TermInfo, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.term, COUNT(s.id) AS cnt
		 FROM custom_terms t
		 LEFT JOIN term_samples s ON s.term = t.term
		 GROUP BY t.term
		 ORDER BY cnt DESC, MAX(s.id) DESC, LOWER(t.term) ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("termstore: list terms: %w", err)
	}
	defer rows.Close()

	var out []TermInfo
	for rows.Next() {
		var info TermInfo
		if err := rows.Scan(&info.Term, &info.SampleCount); err != nil {
			return nil, fmt.Errorf("termstore: list terms: %w", err)
		}
		info.Status = statusFor(info.SampleCount)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("termstore: list terms: %w", err)
	}
	return out, nil
}

// ListSamples returns the stored samples for term, most recent first.
// An unknown term yields an empty list, not an error.
func (s *SQLite) ListSamples(ctx context.Context, rawTerm string) ([]SampleInfo, error) {
	term, err := ValidateTerm(rawTerm)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, duration_ms, quality_score, created_at
		 FROM term_samples WHERE term = ? ORDER BY id DESC`, term)
	if err != nil {
		return nil, fmt.Errorf("termstore: list samples: %w", err)
	}
	defer rows.Close()

	var out []SampleInfo
	for rows.Next() {
		var info SampleInfo
		if err := rows.Scan(&info.SampleID, &info.DurationMS, &info.QualityScore, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("termstore: list samples: %w", err)
		}
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("termstore: list samples: %w", err)
	}
	return out, nil
}

// ListActiveTerms returns up to limit terms that own at least one sample,
// in [ListTerms] order. This is the candidate pool for correction.
func (s *SQLite) ListActiveTerms(ctx context.Context, limit int) ([]string, error) {
	all, err := s.ListTerms(ctx, 0)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, info := range all {
		if info.Status != StatusActive {
			continue
		}
		out = append(out, info.Term)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// LoadFingerprints fetches the stored fingerprints for the given terms,
// most recent sample first per term. Terms without samples are absent
// from the result.
func (s *SQLite) LoadFingerprints(ctx context.Context, terms []string) (map[string][][]byte, error) {
	out := make(map[string][][]byte, len(terms))
	for _, term := range terms {
		rows, err := s.db.QueryContext(ctx,
			`SELECT fingerprint FROM term_samples WHERE term = ? ORDER BY id DESC`, term)
		if err != nil {
			return nil, fmt.Errorf("termstore: load fingerprints: %w", err)
		}
		var blobs [][]byte
		for rows.Next() {
			var b []byte
			if err := rows.Scan(&b); err != nil {
				rows.Close()
				return nil, fmt.Errorf("termstore: load fingerprints: %w", err)
			}
			blobs = append(blobs, b)
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("termstore: load fingerprints: %w", err)
		}
		if len(blobs) > 0 {
			out[term] = blobs
		}
	}
	return out, nil
}

// artifactPath builds a fresh artifact location for one sample of term.
// Terms bucket into a hashed directory so arbitrary term text never
// reaches the filesystem.
func (s *SQLite) artifactPath(term string) string {
	sum := sha1.Sum([]byte(term))
	bucket := hex.EncodeToString(sum[:])[:16]
	name := uuid.NewString() + ".wav"
	return filepath.Join(s.dataDir, "recordings", "term_samples", s.profileID, bucket, name)
}

// termState reports the sample count for term and whether the term row
// exists. Callers must hold s.mu when the answer feeds a write.
func (s *SQLite) termState(ctx context.Context, term string) (count int, existed bool, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM custom_terms WHERE term = ?`, term).Scan(&count)
	if err != nil {
		return 0, false, fmt.Errorf("termstore: term lookup: %w", err)
	}
	existed = count > 0
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM term_samples WHERE term = ?`, term).Scan(&count)
	if err != nil {
		return 0, false, fmt.Errorf("termstore: sample count: %w", err)
	}
	return count, existed, nil
}
