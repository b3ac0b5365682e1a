// Package sqlite provides a single-file relational MetadataStore variant,
// sharing the FileRecord schema and offset-pagination semantics of the
// Postgres variant but over database/sql and modernc.org/sqlite (pure Go,
// no cgo) for single-node deployments that want SQL without a server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/sagarc03/blobcache"
)

const tableName = "file_records"

// Store is a blobcache.MetadataStore backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path. Call Init
// before use.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway
	return &Store{db: db}, nil
}

// New wraps an already-open *sql.DB, mainly for tests.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Init creates the table and its indexes if absent.
func (s *Store) Init(ctx context.Context) error {
	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			original_name TEXT NOT NULL,
			stored_name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size INTEGER NOT NULL,
			hash TEXT NOT NULL,
			uploaded_at TEXT NOT NULL,
			ttl INTEGER NOT NULL,
			expires_at TEXT NOT NULL,
			file_path TEXT NOT NULL,
			metadata TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_%s_hash ON %s (hash);
		CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s (expires_at);
		CREATE INDEX IF NOT EXISTS idx_%s_uploaded_at ON %s (uploaded_at);
	`, tableName, tableName, tableName, tableName, tableName, tableName, tableName)

	if _, err := s.db.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("init metadata store: %w", err)
	}
	return nil
}

// Save upserts a record by id.
func (s *Store) Save(ctx context.Context, record blobcache.FileRecord) error {
	meta, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("save: marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, original_name, stored_name, mime_type, size, hash, uploaded_at, ttl, expires_at, file_path, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			original_name = excluded.original_name,
			stored_name   = excluded.stored_name,
			mime_type     = excluded.mime_type,
			size          = excluded.size,
			hash          = excluded.hash,
			uploaded_at   = excluded.uploaded_at,
			ttl           = excluded.ttl,
			expires_at    = excluded.expires_at,
			file_path     = excluded.file_path,
			metadata      = excluded.metadata
	`, tableName)

	_, err = s.db.ExecContext(ctx, query,
		record.ID.String(), record.OriginalName, record.StoredName, record.MimeType, record.Size,
		record.Hash, formatTime(record.UploadedAt), record.TTL, formatTime(record.ExpiresAt),
		record.FilePath, string(meta),
	)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00") }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (blobcache.FileRecord, error) {
	var r blobcache.FileRecord
	var idStr, uploadedAt, expiresAt, meta string

	err := row.Scan(&idStr, &r.OriginalName, &r.StoredName, &r.MimeType, &r.Size,
		&r.Hash, &uploadedAt, &r.TTL, &expiresAt, &r.FilePath, &meta)
	if err != nil {
		return blobcache.FileRecord{}, err
	}

	if r.ID, err = uuid.Parse(idStr); err != nil {
		return blobcache.FileRecord{}, fmt.Errorf("parse id: %w", err)
	}
	if r.UploadedAt, err = parseTime(uploadedAt); err != nil {
		return blobcache.FileRecord{}, fmt.Errorf("parse uploaded_at: %w", err)
	}
	if r.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return blobcache.FileRecord{}, fmt.Errorf("parse expires_at: %w", err)
	}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return blobcache.FileRecord{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return r, nil
}

const selectColumns = `id, original_name, stored_name, mime_type, size, hash, uploaded_at, ttl, expires_at, file_path, metadata`

// Get performs a single-id lookup.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (blobcache.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, selectColumns, tableName)

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return blobcache.FileRecord{}, blobcache.ErrNotFound
		}
		return blobcache.FileRecord{}, fmt.Errorf("get: %w", err)
	}
	return record, nil
}

// Delete hard-deletes a record by id.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, tableName)

	result, err := s.db.ExecContext(ctx, query, id.String())
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: rows affected: %w", err)
	}
	if affected == 0 {
		return blobcache.ErrNotFound
	}
	return nil
}

// FindByHash looks up a record by its content hash. When several records
// share the hash, any one of them is returned.
func (s *Store) FindByHash(ctx context.Context, hash string) (blobcache.FileRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE hash = ?`, selectColumns, tableName)

	record, err := scanRecord(s.db.QueryRowContext(ctx, query, hash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return blobcache.FileRecord{}, blobcache.ErrNotFound
		}
		return blobcache.FileRecord{}, fmt.Errorf("find by hash: %w", err)
	}
	return record, nil
}

// Search filters and paginates with plain LIMIT/OFFSET, ordered by
// uploaded_at descending.
func (s *Store) Search(ctx context.Context, filter blobcache.SearchFilter) (blobcache.SearchResult, error) {
	where, args := buildWhere(filter)

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, tableName, where)
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return blobcache.SearchResult{}, fmt.Errorf("search: count: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	listQuery := fmt.Sprintf(`
		SELECT %s FROM %s WHERE %s
		ORDER BY uploaded_at DESC
		LIMIT ? OFFSET ?
	`, selectColumns, tableName, where)
	listArgs := append(append([]any{}, args...), limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return blobcache.SearchResult{}, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	records := make([]blobcache.FileRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return blobcache.SearchResult{}, fmt.Errorf("search: scan: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return blobcache.SearchResult{}, fmt.Errorf("search: rows: %w", err)
	}

	return blobcache.SearchResult{Records: records, Total: total}, nil
}

func buildWhere(filter blobcache.SearchFilter) (string, []any) {
	clauses := []string{"1=1"}
	var args []any

	if filter.MimeType != "" {
		clauses = append(clauses, "mime_type = ?")
		args = append(args, filter.MimeType)
	}
	if filter.MinSize > 0 {
		clauses = append(clauses, "size >= ?")
		args = append(args, filter.MinSize)
	}
	if filter.MaxSize > 0 {
		clauses = append(clauses, "size <= ?")
		args = append(args, filter.MaxSize)
	}
	if !filter.UploadedAfter.IsZero() {
		clauses = append(clauses, "uploaded_at >= ?")
		args = append(args, formatTime(filter.UploadedAfter))
	}
	if !filter.UploadedBefore.IsZero() {
		clauses = append(clauses, "uploaded_at <= ?")
		args = append(args, formatTime(filter.UploadedBefore))
	}
	if filter.ExpiredOnly {
		clauses = append(clauses, "expires_at <= ?")
		args = append(args, formatTime(time.Now()))
	}

	where := clauses[0]
	for _, c := range clauses[1:] {
		where += " AND " + c
	}
	return where, args
}

// AllIDs enumerates every record id.
func (s *Store) AllIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := fmt.Sprintf(`SELECT id FROM %s`, tableName)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("all ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var idStr string
		if err := rows.Scan(&idStr); err != nil {
			return nil, fmt.Errorf("all ids: scan: %w", err)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("all ids: parse: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats aggregates counters over all live records. Expired-but-unreaped
// rows are excluded, matching Search's ExpiredOnly rule: an expired record
// is invisible to ordinary reads even before the reaper removes it.
// expires_at sorts lexically the same as chronologically since formatTime
// always emits a fixed-width UTC RFC3339 string with nine fractional digits.
func (s *Store) Stats(ctx context.Context) (blobcache.FileStats, error) {
	stats := blobcache.FileStats{FilesByMime: map[string]int{}, FilesByDate: map[string]int{}}
	cutoff := formatTime(time.Now())

	totalsQuery := fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM %s WHERE expires_at > ?`, tableName)
	if err := s.db.QueryRowContext(ctx, totalsQuery, cutoff).Scan(&stats.TotalFiles, &stats.TotalSize); err != nil {
		return blobcache.FileStats{}, fmt.Errorf("stats: totals: %w", err)
	}

	mimeQuery := fmt.Sprintf(`SELECT mime_type, COUNT(*) FROM %s WHERE expires_at > ? GROUP BY mime_type`, tableName)
	mimeRows, err := s.db.QueryContext(ctx, mimeQuery, cutoff)
	if err != nil {
		return blobcache.FileStats{}, fmt.Errorf("stats: by mime: %w", err)
	}
	defer mimeRows.Close()
	for mimeRows.Next() {
		var mime string
		var count int
		if err := mimeRows.Scan(&mime, &count); err != nil {
			return blobcache.FileStats{}, fmt.Errorf("stats: scan mime: %w", err)
		}
		stats.FilesByMime[mime] = count
	}

	dateQuery := fmt.Sprintf(`SELECT substr(uploaded_at, 1, 10), COUNT(*) FROM %s WHERE expires_at > ? GROUP BY 1`, tableName)
	dateRows, err := s.db.QueryContext(ctx, dateQuery, cutoff)
	if err != nil {
		return blobcache.FileStats{}, fmt.Errorf("stats: by date: %w", err)
	}
	defer dateRows.Close()
	for dateRows.Next() {
		var date string
		var count int
		if err := dateRows.Scan(&date, &count); err != nil {
			return blobcache.FileStats{}, fmt.Errorf("stats: scan date: %w", err)
		}
		stats.FilesByDate[date] = count
	}

	return stats, nil
}

// Healthy pings the connection.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}
