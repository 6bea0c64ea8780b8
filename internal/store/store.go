// Package store persists analysis records and batch results in SQLite.
// It is the persistence adapter: the only place engine types are converted
// to their stored representation.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"repolens/internal/analysis"
	"repolens/internal/errors"
	"repolens/internal/logging"
)

// Store provides durable persistence for analysis records.
type Store struct {
	conn     *sql.DB
	logger   *logging.Logger
	dbPath   string
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// Options configures the store.
type Options struct {
	// CompressPayloads zstd-compresses stage results at rest. Reads handle
	// both compressed and raw rows, so toggling is safe.
	CompressPayloads bool
}

// Open opens or creates the store database at the given path.
func Open(dbPath string, opts Options, logger *logging.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, errors.Wrap(errors.StoreUnavailable, "failed to create store directory", err)
	}

	dbExists := fileExists(dbPath)

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(errors.StoreUnavailable, "failed to open store database", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-16000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, errors.Wrap(errors.StoreUnavailable, "failed to set pragma", err)
		}
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	s := &Store{
		conn:     conn,
		logger:   logger.Component("store"),
		dbPath:   dbPath,
		compress: opts.CompressPayloads,
		enc:      enc,
		dec:      dec,
	}

	if !dbExists {
		s.logger.Info("Creating store database", map[string]interface{}{"path": dbPath})
	}
	if err := s.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(errors.StoreUnavailable, "failed to initialize schema", err)
	}

	return s, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *Store) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS analysis_records (
			analysis_id TEXT PRIMARY KEY,
			repository_url TEXT NOT NULL,
			branch TEXT NOT NULL,
			commit_hash TEXT NOT NULL DEFAULT '',
			commit_time TEXT,
			author TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT,
			error TEXT,
			summary TEXT,
			stage_results BLOB,
			compressed INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_records_repo
			ON analysis_records(repository_url, branch, commit_hash);
		CREATE INDEX IF NOT EXISTS idx_records_status ON analysis_records(status);
		CREATE INDEX IF NOT EXISTS idx_records_completed_at
			ON analysis_records(completed_at DESC);

		CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL,
			completed_at TEXT,
			result BLOB,
			compressed INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_batches_created_at ON batches(created_at DESC);

		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		);
		INSERT OR REPLACE INTO schema_version (version) VALUES (1);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// CreateRecord inserts a new analysis record.
func (s *Store) CreateRecord(rec *analysis.Record) error {
	stageBlob, compressed, err := s.encodeStageResults(rec.StageResults)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	_, err = s.conn.Exec(`
		INSERT INTO analysis_records
			(analysis_id, repository_url, branch, commit_hash, commit_time, author,
			 status, created_at, started_at, completed_at, error, summary,
			 stage_results, compressed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.AnalysisID,
		rec.Repository.URL,
		rec.Repository.Branch,
		rec.Fingerprint.CommitHash,
		nullTimeValue(rec.Fingerprint.CommitTime),
		nullString(rec.Fingerprint.Author),
		string(rec.Status),
		rec.CreatedAt.Format(time.RFC3339),
		nullTimePtr(rec.StartedAt),
		nullTimePtr(rec.CompletedAt),
		nullString(rec.Error),
		string(summary),
		stageBlob,
		boolInt(compressed),
	)
	if err != nil {
		return errors.Wrap(errors.StoreUnavailable, "failed to create analysis record", err)
	}

	s.logger.Debug("Created analysis record", map[string]interface{}{
		"analysisId": rec.AnalysisID,
		"repo":       rec.Repository.URL,
	})
	return nil
}

// UpdateRecord updates an existing analysis record.
func (s *Store) UpdateRecord(rec *analysis.Record) error {
	stageBlob, compressed, err := s.encodeStageResults(rec.StageResults)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(rec.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	res, err := s.conn.Exec(`
		UPDATE analysis_records SET
			commit_hash = ?,
			commit_time = ?,
			author = ?,
			status = ?,
			started_at = ?,
			completed_at = ?,
			error = ?,
			summary = ?,
			stage_results = ?,
			compressed = ?
		WHERE analysis_id = ?
	`,
		rec.Fingerprint.CommitHash,
		nullTimeValue(rec.Fingerprint.CommitTime),
		nullString(rec.Fingerprint.Author),
		string(rec.Status),
		nullTimePtr(rec.StartedAt),
		nullTimePtr(rec.CompletedAt),
		nullString(rec.Error),
		string(summary),
		stageBlob,
		boolInt(compressed),
		rec.AnalysisID,
	)
	if err != nil {
		return errors.Wrap(errors.StoreUnavailable, "failed to update analysis record", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return fmt.Errorf("analysis record not found: %s", rec.AnalysisID)
	}
	return nil
}

// GetRecord retrieves a record by analysis id. Returns nil when absent.
func (s *Store) GetRecord(analysisID string) (*analysis.Record, error) {
	row := s.conn.QueryRow(recordColumns+` WHERE analysis_id = ?`, analysisID)
	rec, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// FindLatestCompleted returns the most recently completed record for a
// repository reference, or nil when none exists. Tie-break on duplicate
// (repository, fingerprint) keys: latest completed_at wins.
func (s *Store) FindLatestCompleted(ref analysis.RepositoryRef) (*analysis.Record, error) {
	row := s.conn.QueryRow(recordColumns+`
		WHERE repository_url = ? AND branch = ? AND status = 'completed'
		ORDER BY completed_at DESC
		LIMIT 1
	`, ref.URL, ref.Branch)
	rec, err := s.scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ListOptions filters record listings.
type ListOptions struct {
	Status []analysis.Status
	Limit  int
	Offset int
}

// ListRecords retrieves records ordered by creation time, newest first.
func (s *Store) ListRecords(opts ListOptions) ([]*analysis.Record, error) {
	var conditions []string
	var args []interface{}

	if len(opts.Status) > 0 {
		placeholders := make([]string, len(opts.Status))
		for i, st := range opts.Status {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	args = append(args, limit, opts.Offset)

	rows, err := s.conn.Query(fmt.Sprintf(`%s %s ORDER BY created_at DESC LIMIT ? OFFSET ?`, recordColumns, where), args...)
	if err != nil {
		return nil, errors.Wrap(errors.StoreUnavailable, "failed to list records", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*analysis.Record
	for rows.Next() {
		rec, err := s.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CleanupOldRecords removes terminal records older than the retention
// window. Returns the number of removed records.
func (s *Store) CleanupOldRecords(retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)
	res, err := s.conn.Exec(`
		DELETE FROM analysis_records
		WHERE status IN ('completed', 'failed')
		AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(errors.StoreUnavailable, "failed to cleanup records", err)
	}
	return res.RowsAffected()
}

// SaveBatch inserts a batch result row.
func (s *Store) SaveBatch(batch *analysis.BatchResult) error {
	blob, compressed, err := s.encodeJSON(batch)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(`
		INSERT OR REPLACE INTO batches (batch_id, status, created_at, completed_at, result, compressed)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		batch.BatchID,
		string(batch.Status),
		batch.CreatedAt.Format(time.RFC3339),
		nullTimePtr(batch.CompletedAt),
		blob,
		boolInt(compressed),
	)
	if err != nil {
		return errors.Wrap(errors.StoreUnavailable, "failed to save batch", err)
	}
	return nil
}

// GetBatch retrieves a batch result by id. Returns nil when absent.
func (s *Store) GetBatch(batchID string) (*analysis.BatchResult, error) {
	var blob []byte
	var compressed int
	err := s.conn.QueryRow(`SELECT result, compressed FROM batches WHERE batch_id = ?`, batchID).
		Scan(&blob, &compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.StoreUnavailable, "failed to get batch", err)
	}

	data, err := s.decodeBlob(blob, compressed == 1)
	if err != nil {
		return nil, err
	}
	var batch analysis.BatchResult
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch: %w", err)
	}
	return &batch, nil
}

const recordColumns = `
	SELECT analysis_id, repository_url, branch, commit_hash, commit_time, author,
	       status, created_at, started_at, completed_at, error, summary,
	       stage_results, compressed
	FROM analysis_records`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanRecord(row rowScanner) (*analysis.Record, error) {
	var rec analysis.Record
	var commitTime, author, startedAt, completedAt, errMsg, summary sql.NullString
	var createdAt, status string
	var stageBlob []byte
	var compressed int

	err := row.Scan(
		&rec.AnalysisID,
		&rec.Repository.URL,
		&rec.Repository.Branch,
		&rec.Fingerprint.CommitHash,
		&commitTime,
		&author,
		&status,
		&createdAt,
		&startedAt,
		&completedAt,
		&errMsg,
		&summary,
		&stageBlob,
		&compressed,
	)
	if err != nil {
		return nil, err
	}

	rec.Status = analysis.Status(status)
	rec.Error = errMsg.String
	rec.Fingerprint.Author = author.String
	if commitTime.Valid {
		if t, err := time.Parse(time.RFC3339, commitTime.String); err == nil {
			rec.Fingerprint.CommitTime = t
		}
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if startedAt.Valid {
		if t, err := time.Parse(time.RFC3339, startedAt.String); err == nil {
			rec.StartedAt = &t
		}
	}
	if completedAt.Valid {
		if t, err := time.Parse(time.RFC3339, completedAt.String); err == nil {
			rec.CompletedAt = &t
		}
	}
	if summary.Valid && summary.String != "" {
		if err := json.Unmarshal([]byte(summary.String), &rec.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
	}
	if len(stageBlob) > 0 {
		data, err := s.decodeBlob(stageBlob, compressed == 1)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &rec.StageResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stage results: %w", err)
		}
	}

	return &rec, nil
}

func (s *Store) encodeStageResults(results []analysis.StageResult) ([]byte, bool, error) {
	if len(results) == 0 {
		return nil, false, nil
	}
	data, err := json.Marshal(results)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal stage results: %w", err)
	}
	if !s.compress {
		return data, false, nil
	}
	return s.enc.EncodeAll(data, nil), true, nil
}

func (s *Store) encodeJSON(v interface{}) ([]byte, bool, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal value: %w", err)
	}
	if !s.compress {
		return data, false, nil
	}
	return s.enc.EncodeAll(data, nil), true, nil
}

func (s *Store) decodeBlob(blob []byte, compressed bool) ([]byte, error) {
	if !compressed {
		return blob, nil
	}
	data, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress payload: %w", err)
	}
	return data, nil
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullTimeValue(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
