package sync

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"

	"github.com/hale-app/hale/internal/loggy"
	"github.com/hale-app/hale/internal/ulid"
)

// Repository defines operations for managing sync logs in the database
type Repository interface {
	// CreateSyncLog creates a new sync log
	CreateSyncLog(ctx context.Context, log *SyncLog) error

	// GetSyncLogs retrieves sync logs, most recent first, with optional
	// record-type filtering
	GetSyncLogs(ctx context.Context, recordType string, limit, offset int) ([]*SyncLog, error)
}

// SQLRepository implements the Repository interface using a SQL database
type SQLRepository struct {
	db     *sql.DB
	logger *loggy.Logger
}

// NewSQLRepository creates a new SQL repository
func NewSQLRepository(db *sql.DB, logger *loggy.Logger) *SQLRepository {
	return &SQLRepository{db: db, logger: logger}
}

// CreateSyncLog creates a new sync log
func (r *SQLRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	if log.ID == "" {
		log.ID = ulid.SyncID()
	}

	q := squirrel.Insert("sync_logs").
		Columns("id", "sync_context", "record_type", "success", "error_type", "error_message", "items_synced", "window_start", "started_at", "completed_at").
		Values(log.ID, log.Context, log.RecordType, log.Success, log.ErrorType, log.ErrorMessage, log.ItemsSynced, log.WindowStart, log.StartedAt, log.CompletedAt)

	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("building create sync log query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("executing create sync log query: %w", err)
	}

	return nil
}

// GetSyncLogs retrieves sync logs with optional filtering
func (r *SQLRepository) GetSyncLogs(ctx context.Context, recordType string, limit, offset int) ([]*SyncLog, error) {
	q := squirrel.Select("id", "sync_context", "record_type", "success", "error_type", "error_message", "items_synced", "window_start", "started_at", "completed_at").
		From("sync_logs").
		OrderBy("completed_at DESC")

	if recordType != "" {
		q = q.Where(squirrel.Eq{"record_type": recordType})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building get sync logs query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing get sync logs query: %w", err)
	}
	defer rows.Close()

	var logs []*SyncLog
	for rows.Next() {
		var log SyncLog
		var errorType, errorMessage sql.NullString
		var windowStart sql.NullTime
		err := rows.Scan(
			&log.ID,
			&log.Context,
			&log.RecordType,
			&log.Success,
			&errorType,
			&errorMessage,
			&log.ItemsSynced,
			&windowStart,
			&log.StartedAt,
			&log.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning sync log row: %w", err)
		}
		log.ErrorType = ErrorType(errorType.String)
		log.ErrorMessage = errorMessage.String
		if windowStart.Valid {
			t := windowStart.Time
			log.WindowStart = &t
		}
		logs = append(logs, &log)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync log rows: %w", err)
	}

	return logs, nil
}

// NopRepository discards sync logs; used when no database is configured
type NopRepository struct{}

func (NopRepository) CreateSyncLog(ctx context.Context, log *SyncLog) error {
	return nil
}

func (NopRepository) GetSyncLogs(ctx context.Context, recordType string, limit, offset int) ([]*SyncLog, error) {
	return nil, nil
}
