package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/shelfsearch/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrCorruptVector is returned when a stored blob doesn't match its recorded dimension
	ErrCorruptVector = errors.New("corrupt vector")
	// ErrInvalidRecord is returned when a record cannot be persisted as given
	ErrInvalidRecord = errors.New("invalid embedding record")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB

	// vectorSQL is set when vec_distance_cosine resolves on this database
	vectorSQL bool
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, vectorSQL: probeVectorSQL(db)}, nil
}

// probeVectorSQL reports whether the sqlite-vec functions are registered
func probeVectorSQL(db *sql.DB) bool {
	if !VectorExtensionAvailable {
		return false
	}
	var version string
	return db.QueryRow("SELECT vec_version()").Scan(&version) == nil
}

// VectorSQL reports whether vector ranking runs inside SQLite
func (s *SQLiteStorage) VectorSQL() bool {
	return s.vectorSQL
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Embedding operations

func (s *SQLiteStorage) UpsertEmbedding(ctx context.Context, record *EmbeddingRecord) error {
	if record == nil || record.ItemID == 0 {
		return fmt.Errorf("%w: missing item id", ErrInvalidRecord)
	}
	if len(record.Vector) == 0 || len(record.Vector) != record.Dimension {
		return fmt.Errorf("%w: vector length %d does not match dimension %d",
			ErrInvalidRecord, len(record.Vector), record.Dimension)
	}
	if record.Source == "" {
		return fmt.Errorf("%w: missing source", ErrInvalidRecord)
	}
	if record.IndexedAt.IsZero() {
		record.IndexedAt = time.Now()
	}

	query := `
		INSERT INTO embeddings (item_id, embedding, embedding_dim, embedding_source, indexed_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			embedding = excluded.embedding,
			embedding_dim = excluded.embedding_dim,
			embedding_source = excluded.embedding_source,
			indexed_at = excluded.indexed_at
	`
	_, err := s.db.ExecContext(ctx, query,
		record.ItemID, serializeVector(record.Vector), record.Dimension,
		record.Source, record.IndexedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) GetEmbedding(ctx context.Context, itemID int64) (*EmbeddingRecord, error) {
	query := `
		SELECT item_id, embedding, embedding_dim, embedding_source, indexed_at
		FROM embeddings
		WHERE item_id = ?
	`
	record, err := scanRecord(s.db.QueryRowContext(ctx, query, itemID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListEmbeddings returns up to limit records, most recently indexed first.
// A non-positive limit returns every record.
func (s *SQLiteStorage) ListEmbeddings(ctx context.Context, limit int) ([]*EmbeddingRecord, error) {
	query := `
		SELECT item_id, embedding, embedding_dim, embedding_source, indexed_at
		FROM embeddings
		ORDER BY indexed_at DESC, item_id ASC
	`
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list embeddings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]*EmbeddingRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *SQLiteStorage) ListItemMeta(ctx context.Context) ([]ItemMeta, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item_id, embedding_dim, embedding_source FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list item metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	metas := make([]ItemMeta, 0)
	for rows.Next() {
		var m ItemMeta
		if err := rows.Scan(&m.ItemID, &m.Dimension, &m.Source); err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func (s *SQLiteStorage) DeleteEmbedding(ctx context.Context, itemID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE item_id = ?`, itemID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteAll(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM embeddings`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *SQLiteStorage) DeleteBySource(ctx context.Context, source string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE embedding_source = ?`, source)
	if err != nil {
		return 0, fmt.Errorf("failed to delete embeddings for source %s: %w", source, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// Search operations

func (s *SQLiteStorage) SearchVector(ctx context.Context, query []float32, limit int) ([]types.SearchCandidate, error) {
	// Implementation lives in vector_ops.go next to the scoring helpers
	return searchVector(ctx, s.db, query, limit, s.vectorSQL)
}

// Status operations

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*Status, error) {
	status := &Status{
		Dimensions: make(map[int]int),
		Sources:    make(map[string]int),
		BuildMode:  BuildMode,
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT embedding_dim, embedding_source, COUNT(*), MAX(indexed_at)
		FROM embeddings
		GROUP BY embedding_dim, embedding_source
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var lastMillis int64
	for rows.Next() {
		var dim, count int
		var source string
		var maxIndexed int64
		if err := rows.Scan(&dim, &source, &count, &maxIndexed); err != nil {
			return nil, err
		}
		status.EmbeddingsCount += count
		status.Dimensions[dim] += count
		status.Sources[source] += count
		if maxIndexed > lastMillis {
			lastMillis = maxIndexed
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if lastMillis > 0 {
		status.LastIndexedAt = time.UnixMilli(lastMillis)
	}

	// Calculate database size
	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

// rowScanner is implemented by both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord reads one embeddings row and decodes its vector
func scanRecord(row rowScanner) (*EmbeddingRecord, error) {
	var record EmbeddingRecord
	var blob []byte
	var indexedAt int64
	if err := row.Scan(&record.ItemID, &blob, &record.Dimension, &record.Source, &indexedAt); err != nil {
		return nil, err
	}

	vector, err := decodeVector(blob, record.Dimension)
	if err != nil {
		return nil, fmt.Errorf("item %d: %w", record.ItemID, err)
	}
	record.Vector = vector
	record.IndexedAt = time.UnixMilli(indexedAt)
	return &record, nil
}
