package knowledge

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	_ "github.com/mattn/go-sqlite3"

	"github.com/XiaoConstantine/dspy-go/pkg/logging"
)

// Content is one embedded chunk as stored in the vector database.
type Content struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]string
}

type ragStore struct {
	db     *sql.DB
	dims   int
	log    *logging.Logger
	mu     sync.RWMutex
	closed bool
}

// vecOnce registers the sqlite-vec extension with the sqlite3 driver. The
// binding does not self-register; without this every vec0 statement fails.
var vecOnce sync.Once

func newRAGStore(path string, dims int) (*ragStore, error) {
	vecOnce.Do(sqlite_vec.Auto)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	s := &ragStore{db: db, dims: dims, log: logging.GetLogger()}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *ragStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS contents (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		metadata TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_items USING vec0(
		rowid INTEGER PRIMARY KEY,
		embedding float[%d] distance_metric=cosine,
		content_id TEXT PARTITION KEY
		)`, s.dims),
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to initialize vector table: %w", err)
		}
	}
	return nil
}

// StoreContent saves a content piece with its embedding.
func (s *ragStore) StoreContent(ctx context.Context, content *Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("vector store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.log.Error(context.Background(), "failed to rollback transaction: %v", err)
		}
	}()

	metadata, err := json.Marshal(content.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO contents (id, text, metadata) VALUES (?, ?, ?)`,
		content.ID, content.Text, string(metadata)); err != nil {
		return fmt.Errorf("failed to store content: %w", err)
	}

	blob, err := sqlite_vec.SerializeFloat32(content.Embedding)
	if err != nil {
		return fmt.Errorf("failed to serialize embedding: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO vec_items (embedding, content_id) VALUES (?, ?)`,
		blob, content.ID); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// FindSimilar returns up to limit stored contents ranked by cosine distance.
func (s *ragStore) FindSimilar(ctx context.Context, embedding []float32, limit int) ([]*Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("vector store is closed")
	}

	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize query embedding: %w", err)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.text, c.metadata,
            vec_distance_cosine(v.embedding, ?) as distance
     FROM vec_items v
     JOIN contents c ON v.content_id = c.id
     WHERE v.embedding MATCH ? AND k = ?
     ORDER BY distance ASC`,
		blob, blob, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar content: %w", err)
	}
	defer rows.Close()

	var results []*Content
	for rows.Next() {
		var (
			content     Content
			metadataStr string
			distance    float64
		)
		if err := rows.Scan(&content.ID, &content.Text, &metadataStr, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(metadataStr), &content.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
		results = append(results, &content)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating results: %w", err)
	}
	return results, nil
}

func (s *ragStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
