package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/co-scribe/internal/transcription"
	"github.com/yegors/co-scribe/pkg/logger"
)

// Fixed width so that text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000Z"

const outcomeColumns = `id, session_id, model_id, batch_model, path, success, streaming_error, error,
	connect_ms, duration_ms, transcript_len, created_at`

// OutcomeStorage handles storage of session outcome records
type OutcomeStorage struct {
	db     *sql.DB
	logger *logger.Logger
	now    func() time.Time
}

// NewOutcomeStorage creates the outcome storage and its schema
func NewOutcomeStorage(db *sql.DB, log *logger.Logger) (*OutcomeStorage, error) {
	storage := &OutcomeStorage{
		db:     db,
		logger: log.Named("sqlite-outcomes"),
		now:    time.Now,
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *OutcomeStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS session_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			batch_model TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL,
			success INTEGER NOT NULL,
			streaming_error TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			connect_ms INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			transcript_len INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create session_outcomes table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_outcomes_created_at ON session_outcomes(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_model_id ON session_outcomes(model_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_outcomes_session_id ON session_outcomes(session_id)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create outcome index: %w", err)
		}
	}

	return nil
}

// StoreOutcome stores an outcome record. A zero CreatedAt is set to now.
func (s *OutcomeStorage) StoreOutcome(ctx context.Context, record *OutcomeRecord) (int64, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.now()
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO session_outcomes
		(session_id, model_id, batch_model, path, success, streaming_error, error,
		 connect_ms, duration_ms, transcript_len, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.SessionID,
		record.ModelID,
		record.BatchModel,
		record.Path,
		record.Success,
		record.StreamingError,
		record.Error,
		record.ConnectMs,
		record.DurationMs,
		record.TranscriptLen,
		record.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert outcome: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	record.ID = id

	return id, nil
}

// ObserveSession implements transcription.Observer
func (s *OutcomeStorage) ObserveSession(report transcription.Report) {
	record := &OutcomeRecord{
		SessionID:     report.SessionID,
		ModelID:       report.Model.ID,
		BatchModel:    report.BatchModel,
		Path:          string(report.Path),
		Success:       report.Err == nil,
		ConnectMs:     report.ConnectTime.Milliseconds(),
		DurationMs:    report.Duration.Milliseconds(),
		TranscriptLen: report.TranscriptLen,
	}
	if report.StreamingErr != nil {
		record.StreamingError = report.StreamingErr.Error()
	}
	if report.Err != nil {
		record.Error = report.Err.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.StoreOutcome(ctx, record); err != nil {
		s.logger.Error("Failed to store session outcome",
			logger.String("session_id", report.SessionID),
			logger.Error(err))
	}
}

// GetRecentOutcomes returns the newest outcomes first
func (s *OutcomeStorage) GetRecentOutcomes(ctx context.Context, limit int) ([]*OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outcomeColumns+`
		FROM session_outcomes
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent outcomes: %w", err)
	}
	defer rows.Close()

	return s.scanOutcomeRows(rows)
}

// GetOutcomesByModel returns the newest outcomes for a model
func (s *OutcomeStorage) GetOutcomesByModel(ctx context.Context, modelID string, limit int) ([]*OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+outcomeColumns+`
		FROM session_outcomes
		WHERE model_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		modelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes by model: %w", err)
	}
	defer rows.Close()

	return s.scanOutcomeRows(rows)
}

// GetStats aggregates outcomes created at or after since
func (s *OutcomeStorage) GetStats(ctx context.Context, since time.Time) (*OutcomeStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, success, COUNT(*), COALESCE(SUM(duration_ms), 0)
		FROM session_outcomes
		WHERE created_at >= ?
		GROUP BY path, success`,
		since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome stats: %w", err)
	}
	defer rows.Close()

	stats := &OutcomeStats{
		Since:  since,
		ByPath: make(map[string]int),
	}
	var totalDuration int64
	for rows.Next() {
		var (
			path     string
			success  bool
			count    int
			duration int64
		)
		if err := rows.Scan(&path, &success, &count, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan outcome stats: %w", err)
		}
		stats.Total += count
		stats.ByPath[path] += count
		totalDuration += duration
		if success {
			stats.Succeeded += count
		} else {
			stats.Failed += count
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome stats: %w", err)
	}

	if stats.Total > 0 {
		stats.AvgDurationMs = float64(totalDuration) / float64(stats.Total)
	}
	streamed := stats.ByPath[string(transcription.PathStreaming)] + stats.ByPath[string(transcription.PathFallback)]
	if streamed > 0 {
		stats.FallbackRate = float64(stats.ByPath[string(transcription.PathFallback)]) / float64(streamed)
	}

	return stats, nil
}

// DeleteOlderThan removes outcomes created before cutoff and returns the
// number of rows removed
func (s *OutcomeStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM session_outcomes WHERE created_at < ?`,
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old outcomes: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return n, nil
}

// scanOutcomeRows scans database rows into OutcomeRecord structs
func (s *OutcomeStorage) scanOutcomeRows(rows *sql.Rows) ([]*OutcomeRecord, error) {
	records := []*OutcomeRecord{}
	for rows.Next() {
		var record OutcomeRecord
		var createdAt string

		if err := rows.Scan(
			&record.ID,
			&record.SessionID,
			&record.ModelID,
			&record.BatchModel,
			&record.Path,
			&record.Success,
			&record.StreamingError,
			&record.Error,
			&record.ConnectMs,
			&record.DurationMs,
			&record.TranscriptLen,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan outcome row: %w", err)
		}

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		record.CreatedAt = t

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating outcome rows: %w", err)
	}

	return records, nil
}
