// Package store persists the per-repository export of collected pull
// requests. The export is the durable input the knowledge index is built
// from; a content fingerprint lets the index detect "nothing changed since
// the last build".
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
	_ "github.com/mattn/go-sqlite3"
)

// ReviewThreadComment is one inline review comment, tagged with the file and
// line the thread is anchored to.
type ReviewThreadComment struct {
	FilePath string `json:"file_path"`
	Line     int    `json:"line"`
	Author   string `json:"author"`
	Body     string `json:"body"`
}

// PRRecord is the stored history of one merged pull request.
type PRRecord struct {
	Number          int
	Title           string
	Description     string
	CodeChanges     string
	GeneralComments []string
	IssueComments   []string
	ReviewComments  []ReviewThreadComment
}

// ExportStore is a durable, per-(owner, repo) record of collected PRs.
type ExportStore struct {
	db     *sql.DB
	log    *logging.Logger
	mu     sync.RWMutex
	closed bool
}

// Open opens (creating if needed) the export database at path.
func Open(path string) (*ExportStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open export store: %w", err)
	}
	s := &ExportStore{db: db, log: logging.GetLogger()}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ExportStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pr_records (
		pr_number INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT,
		code_changes TEXT,
		general_comments TEXT,
		issue_comments TEXT,
		review_comments TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS export_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to initialize export store: %w", err)
		}
	}
	return nil
}

// SaveExport replaces the entire export with records in one transaction and
// stores the new content fingerprint. Whole replacement keeps the export free
// of stale duplicates when a PR's comments changed between collection runs.
func (s *ExportStore) SaveExport(ctx context.Context, records []PRRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("export store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.log.Error(context.Background(), "failed to rollback export transaction: %v", err)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pr_records`); err != nil {
		return fmt.Errorf("failed to clear previous export: %w", err)
	}

	for _, rec := range records {
		general, err := json.Marshal(rec.GeneralComments)
		if err != nil {
			return fmt.Errorf("failed to marshal general comments: %w", err)
		}
		issue, err := json.Marshal(rec.IssueComments)
		if err != nil {
			return fmt.Errorf("failed to marshal issue comments: %w", err)
		}
		review, err := json.Marshal(rec.ReviewComments)
		if err != nil {
			return fmt.Errorf("failed to marshal review comments: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO pr_records
			(pr_number, title, description, code_changes, general_comments, issue_comments, review_comments)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.Number, rec.Title, rec.Description, rec.CodeChanges,
			string(general), string(issue), string(review))
		if err != nil {
			return fmt.Errorf("failed to store PR #%d: %w", rec.Number, err)
		}
	}

	fingerprint := Fingerprint(records)
	_, err = tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO export_meta (key, value) VALUES ('fingerprint', ?)`,
		fingerprint)
	if err != nil {
		return fmt.Errorf("failed to store fingerprint: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit export: %w", err)
	}
	s.log.Info(ctx, "Saved export of %d PRs (fingerprint %s)", len(records), fingerprint[:12])
	return nil
}

// LoadExport returns every stored PR record ordered by PR number.
func (s *ExportStore) LoadExport(ctx context.Context) ([]PRRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("export store is closed")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT pr_number, title, description, code_changes, general_comments, issue_comments, review_comments
		FROM pr_records ORDER BY pr_number ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load export: %w", err)
	}
	defer rows.Close()

	var records []PRRecord
	for rows.Next() {
		var rec PRRecord
		var general, issue, review string
		if err := rows.Scan(&rec.Number, &rec.Title, &rec.Description, &rec.CodeChanges,
			&general, &issue, &review); err != nil {
			return nil, fmt.Errorf("failed to scan PR record: %w", err)
		}
		if err := json.Unmarshal([]byte(general), &rec.GeneralComments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal general comments: %w", err)
		}
		if err := json.Unmarshal([]byte(issue), &rec.IssueComments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal issue comments: %w", err)
		}
		if err := json.Unmarshal([]byte(review), &rec.ReviewComments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal review comments: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating export: %w", err)
	}
	return records, nil
}

// StoredFingerprint returns the fingerprint saved by the last successful
// SaveExport, or "" when no export has ever been saved.
func (s *ExportStore) StoredFingerprint(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", fmt.Errorf("export store is closed")
	}

	var fingerprint string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM export_meta WHERE key = 'fingerprint'`).Scan(&fingerprint)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read fingerprint: %w", err)
	}
	return fingerprint, nil
}

// HasExport reports whether at least one successful SaveExport completed.
func (s *ExportStore) HasExport(ctx context.Context) bool {
	fingerprint, err := s.StoredFingerprint(ctx)
	return err == nil && fingerprint != ""
}

// Close releases the underlying database handle.
func (s *ExportStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Fingerprint computes a content hash over records in order. Two exports with
// identical content always hash identically, so an unchanged fingerprint means
// an index rebuild can be skipped.
func Fingerprint(records []PRRecord) string {
	h := sha256.New()
	for _, rec := range records {
		fmt.Fprintf(h, "%d\x00%s\x00%s\x00%s\x00", rec.Number, rec.Title, rec.Description, rec.CodeChanges)
		for _, c := range rec.GeneralComments {
			fmt.Fprintf(h, "g:%s\x00", c)
		}
		for _, c := range rec.IssueComments {
			fmt.Fprintf(h, "i:%s\x00", c)
		}
		for _, c := range rec.ReviewComments {
			fmt.Fprintf(h, "r:%s:%d:%s:%s\x00", c.FilePath, c.Line, c.Author, c.Body)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
