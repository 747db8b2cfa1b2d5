package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recovery_bot/internal/recovery/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCursorRepository 游标数据访问层（PostgreSQL 实现）
type PostgresCursorRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresCursorRepository 创建游标 Repository
func NewPostgresCursorRepository(pool *pgxpool.Pool) CursorRepository {
	return &PostgresCursorRepository{pool: pool}
}

// GetLastMessagePerUser 批量查询游标位置
func (r *PostgresCursorRepository) GetLastMessagePerUser(ctx context.Context, userIDs []int64) (map[int64]models.CursorPoint, error) {
	result := make(map[int64]models.CursorPoint, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT user_id, last_processed_message_id, last_processed_at
		 FROM user_cursors WHERE user_id = ANY($1)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query cursors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID int64
		var point models.CursorPoint
		if err := rows.Scan(&userID, &point.MessageID, &point.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan cursor row: %w", err)
		}
		result[userID] = point
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cursor rows error: %w", err)
	}

	return result, nil
}

// UpdateCursor 幂等 upsert 游标
// 冲突时覆盖游标位置并累加恢复计数，行级锁保证多实例并发写入不丢更新
func (r *PostgresCursorRepository) UpdateCursor(ctx context.Context, userID, messageID int64, timestamp time.Time, recoveredDelta int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_cursors
		     (user_id, last_processed_message_id, last_processed_at, total_recovered_count, last_recovery_check_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		     last_processed_message_id = EXCLUDED.last_processed_message_id,
		     last_processed_at         = EXCLUDED.last_processed_at,
		     total_recovered_count     = user_cursors.total_recovered_count + EXCLUDED.total_recovered_count,
		     last_recovery_check_at    = NOW()`,
		userID, messageID, timestamp, recoveredDelta)
	if err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	return nil
}

// GetCursor 查询单个用户游标
func (r *PostgresCursorRepository) GetCursor(ctx context.Context, userID int64) (*models.UserCursor, error) {
	var cursor models.UserCursor
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, last_processed_message_id, last_processed_at, total_recovered_count, last_recovery_check_at
		 FROM user_cursors WHERE user_id = $1`, userID).
		Scan(&cursor.UserID, &cursor.LastProcessedMessageID, &cursor.LastProcessedAt,
			&cursor.TotalRecoveredCount, &cursor.LastRecoveryCheckAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	return &cursor, nil
}

// ListAllCursors 列出全部游标，最久未检查的在前，用于陈旧度监控
func (r *PostgresCursorRepository) ListAllCursors(ctx context.Context) ([]*models.UserCursor, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, last_processed_message_id, last_processed_at, total_recovered_count, last_recovery_check_at
		 FROM user_cursors ORDER BY last_recovery_check_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}
	defer rows.Close()

	var cursors []*models.UserCursor
	for rows.Next() {
		var cursor models.UserCursor
		if err := rows.Scan(&cursor.UserID, &cursor.LastProcessedMessageID, &cursor.LastProcessedAt,
			&cursor.TotalRecoveredCount, &cursor.LastRecoveryCheckAt); err != nil {
			return nil, fmt.Errorf("failed to scan cursor row: %w", err)
		}
		cursors = append(cursors, &cursor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cursor rows error: %w", err)
	}

	return cursors, nil
}

// TouchCheckedAt 刷新检查时间
func (r *PostgresCursorRepository) TouchCheckedAt(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE user_cursors SET last_recovery_check_at = NOW() WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to touch cursor check time: %w", err)
	}
	return nil
}

// EnsureSchema 确保表结构存在
func (r *PostgresCursorRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS user_cursors (
		     user_id                   BIGINT PRIMARY KEY,
		     last_processed_message_id BIGINT NOT NULL DEFAULT 0,
		     last_processed_at         TIMESTAMPTZ NOT NULL,
		     total_recovered_count     BIGINT NOT NULL DEFAULT 0,
		     last_recovery_check_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		 )`)
	if err != nil {
		return fmt.Errorf("failed to ensure user_cursors schema: %w", err)
	}
	return nil
}
