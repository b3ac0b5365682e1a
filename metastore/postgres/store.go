// Package postgres provides the relational MetadataStore variant backed by
// PostgreSQL, kept alongside the mandated JSON-file and Redis variants as
// enrichment for deployments that already run Postgres for other state.
// There is no soft-delete here: a FileRecord has no tombstone concept, so
// Delete is a hard DELETE and reclamation is driven entirely by the expiry
// and orphan reapers.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sagarc03/blobcache"
)

const tableName = "file_records"

// Store is a blobcache.MetadataStore backed by a Postgres pool.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pool against dsn. Call Init before use.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// New wraps an already-open pool, mainly for tests.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Init creates the table and its indexes if absent.
func (s *Store) Init(ctx context.Context) error {
	quotedTable := pgx.Identifier{tableName}.Sanitize()
	indexHash := pgx.Identifier{fmt.Sprintf("idx_%s_hash", tableName)}.Sanitize()
	indexExpiresAt := pgx.Identifier{fmt.Sprintf("idx_%s_expires_at", tableName)}.Sanitize()
	indexUploadedAt := pgx.Identifier{fmt.Sprintf("idx_%s_uploaded_at", tableName)}.Sanitize()

	sql := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			original_name TEXT NOT NULL,
			stored_name TEXT NOT NULL,
			mime_type TEXT NOT NULL,
			size BIGINT NOT NULL,
			hash TEXT NOT NULL,
			uploaded_at TIMESTAMPTZ NOT NULL,
			ttl INT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			file_path TEXT NOT NULL,
			metadata JSONB
		);

		CREATE INDEX IF NOT EXISTS %s ON %s (hash);
		CREATE INDEX IF NOT EXISTS %s ON %s (expires_at);
		CREATE INDEX IF NOT EXISTS %s ON %s (uploaded_at DESC);
	`,
		quotedTable,
		indexHash, quotedTable,
		indexExpiresAt, quotedTable,
		indexUploadedAt, quotedTable,
	)

	if _, err := s.pool.Exec(ctx, sql); err != nil {
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
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			original_name = EXCLUDED.original_name,
			stored_name   = EXCLUDED.stored_name,
			mime_type     = EXCLUDED.mime_type,
			size          = EXCLUDED.size,
			hash          = EXCLUDED.hash,
			uploaded_at   = EXCLUDED.uploaded_at,
			ttl           = EXCLUDED.ttl,
			expires_at    = EXCLUDED.expires_at,
			file_path     = EXCLUDED.file_path,
			metadata      = EXCLUDED.metadata
	`, tableName)

	_, err = s.pool.Exec(ctx, query,
		record.ID, record.OriginalName, record.StoredName, record.MimeType, record.Size,
		record.Hash, record.UploadedAt, record.TTL, record.ExpiresAt, record.FilePath, meta,
	)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

func scanRecord(row pgx.Row) (blobcache.FileRecord, error) {
	var r blobcache.FileRecord
	var meta []byte
	err := row.Scan(&r.ID, &r.OriginalName, &r.StoredName, &r.MimeType, &r.Size,
		&r.Hash, &r.UploadedAt, &r.TTL, &r.ExpiresAt, &r.FilePath, &meta)
	if err != nil {
		return blobcache.FileRecord{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &r.Metadata); err != nil {
			return blobcache.FileRecord{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return r, nil
}

// Get performs a single-id lookup.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (blobcache.FileRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, original_name, stored_name, mime_type, size, hash, uploaded_at, ttl, expires_at, file_path, metadata
		FROM %s WHERE id = $1
	`, tableName)

	record, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return blobcache.FileRecord{}, blobcache.ErrNotFound
		}
		return blobcache.FileRecord{}, fmt.Errorf("get: %w", err)
	}
	return record, nil
}

// Delete hard-deletes a record by id.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, tableName)

	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if result.RowsAffected() == 0 {
		return blobcache.ErrNotFound
	}
	return nil
}

// FindByHash looks up a record by its content hash. When several records
// share the hash, any one of them is returned.
func (s *Store) FindByHash(ctx context.Context, hash string) (blobcache.FileRecord, error) {
	query := fmt.Sprintf(`
		SELECT id, original_name, stored_name, mime_type, size, hash, uploaded_at, ttl, expires_at, file_path, metadata
		FROM %s WHERE hash = $1
	`, tableName)

	record, err := scanRecord(s.pool.QueryRow(ctx, query, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return blobcache.FileRecord{}, blobcache.ErrNotFound
		}
		return blobcache.FileRecord{}, fmt.Errorf("find by hash: %w", err)
	}
	return record, nil
}

// Search filters and paginates with plain LIMIT/OFFSET, ordered by
// uploaded_at descending; a second COUNT(*) query provides SearchResult.Total.
func (s *Store) Search(ctx context.Context, filter blobcache.SearchFilter) (blobcache.SearchResult, error) {
	where, args := buildWhere(filter)

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, tableName, where)
	var total int
	if err := s.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return blobcache.SearchResult{}, fmt.Errorf("search: count: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	listQuery := fmt.Sprintf(`
		SELECT id, original_name, stored_name, mime_type, size, hash, uploaded_at, ttl, expires_at, file_path, metadata
		FROM %s WHERE %s
		ORDER BY uploaded_at DESC
		LIMIT $%d OFFSET $%d
	`, tableName, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, listQuery, args...)
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
	clauses := []string{"TRUE"}
	var args []any

	add := func(clause string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.MimeType != "" {
		add("mime_type = $%d", filter.MimeType)
	}
	if filter.MinSize > 0 {
		add("size >= $%d", filter.MinSize)
	}
	if filter.MaxSize > 0 {
		add("size <= $%d", filter.MaxSize)
	}
	if !filter.UploadedAfter.IsZero() {
		add("uploaded_at >= $%d", filter.UploadedAfter)
	}
	if !filter.UploadedBefore.IsZero() {
		add("uploaded_at <= $%d", filter.UploadedBefore)
	}
	if filter.ExpiredOnly {
		clauses = append(clauses, "expires_at <= now()")
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

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("all ids: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("all ids: scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Stats aggregates counters over all live records. Expired-but-unreaped
// rows are excluded, matching Search's ExpiredOnly rule: an expired record
// is invisible to ordinary reads even before the reaper removes it.
func (s *Store) Stats(ctx context.Context) (blobcache.FileStats, error) {
	stats := blobcache.FileStats{FilesByMime: map[string]int{}, FilesByDate: map[string]int{}}

	totalsQuery := fmt.Sprintf(`SELECT COUNT(*), COALESCE(SUM(size), 0) FROM %s WHERE expires_at > now()`, tableName)
	if err := s.pool.QueryRow(ctx, totalsQuery).Scan(&stats.TotalFiles, &stats.TotalSize); err != nil {
		return blobcache.FileStats{}, fmt.Errorf("stats: totals: %w", err)
	}

	mimeQuery := fmt.Sprintf(`SELECT mime_type, COUNT(*) FROM %s WHERE expires_at > now() GROUP BY mime_type`, tableName)
	mimeRows, err := s.pool.Query(ctx, mimeQuery)
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

	dateQuery := fmt.Sprintf(`SELECT to_char(uploaded_at, 'YYYY-MM-DD'), COUNT(*) FROM %s WHERE expires_at > now() GROUP BY 1`, tableName)
	dateRows, err := s.pool.Query(ctx, dateQuery)
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

// Healthy pings the pool.
func (s *Store) Healthy(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}
