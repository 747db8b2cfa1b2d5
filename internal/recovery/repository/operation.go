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

// PostgresOperationRepository 恢复操作记录数据访问层（PostgreSQL 实现）
type PostgresOperationRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresOperationRepository 创建操作记录 Repository
func NewPostgresOperationRepository(pool *pgxpool.Pool) OperationRepository {
	return &PostgresOperationRepository{pool: pool}
}

// Create 写入 running 状态的操作记录
func (r *PostgresOperationRepository) Create(ctx context.Context, op *models.RecoveryOperation) error {
	if op.StartedAt.IsZero() {
		op.StartedAt = time.Now().UTC()
	}
	op.Status = models.OperationStatusRunning

	_, err := r.pool.Exec(ctx,
		`INSERT INTO recovery_operations
		     (id, operation_type, status, started_at, users_checked, messages_recovered,
		      messages_skipped, errors_encountered, metadata)
		 VALUES ($1, $2, $3, $4, 0, 0, 0, 0, $5)`,
		op.ID, op.OperationType, op.Status, op.StartedAt, op.Metadata)
	if err != nil {
		return fmt.Errorf("failed to create recovery operation: %w", err)
	}
	return nil
}

// UpdateCounters 增量累加计数器
func (r *PostgresOperationRepository) UpdateCounters(ctx context.Context, id string, usersChecked, recovered, skipped, errs int) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recovery_operations SET
		     users_checked      = users_checked + $2,
		     messages_recovered = messages_recovered + $3,
		     messages_skipped   = messages_skipped + $4,
		     errors_encountered = errors_encountered + $5
		 WHERE id = $1 AND status = 'running'`,
		id, usersChecked, recovered, skipped, errs)
	if err != nil {
		return fmt.Errorf("failed to update operation counters: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation not found or not running: id=%s", id)
	}
	return nil
}

// MarkCompleted 标记操作完成，只允许从 running 迁移
func (r *PostgresOperationRepository) MarkCompleted(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recovery_operations SET status = 'completed', completed_at = NOW()
		 WHERE id = $1 AND status = 'running'`, id)
	if err != nil {
		return fmt.Errorf("failed to mark operation completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation not found or already terminal: id=%s", id)
	}
	return nil
}

// MarkFailed 标记操作失败，保留已累计的计数
func (r *PostgresOperationRepository) MarkFailed(ctx context.Context, id string, errorDetails string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE recovery_operations SET status = 'failed', completed_at = NOW(), error_details = $2
		 WHERE id = $1 AND status = 'running'`, id, errorDetails)
	if err != nil {
		return fmt.Errorf("failed to mark operation failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("operation not found or already terminal: id=%s", id)
	}
	return nil
}

// Get 查询操作记录
func (r *PostgresOperationRepository) Get(ctx context.Context, id string) (*models.RecoveryOperation, error) {
	op, err := r.scanOne(r.pool.QueryRow(ctx, selectOperation+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get operation: %w", err)
	}
	return op, nil
}

// Latest 返回最近一条操作记录
func (r *PostgresOperationRepository) Latest(ctx context.Context) (*models.RecoveryOperation, error) {
	op, err := r.scanOne(r.pool.QueryRow(ctx, selectOperation+` ORDER BY started_at DESC LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest operation: %w", err)
	}
	return op, nil
}

const selectOperation = `SELECT id, operation_type, status, started_at, completed_at,
    users_checked, messages_recovered, messages_skipped, errors_encountered, metadata, COALESCE(error_details, '')
 FROM recovery_operations`

func (r *PostgresOperationRepository) scanOne(row pgx.Row) (*models.RecoveryOperation, error) {
	var op models.RecoveryOperation
	if err := row.Scan(&op.ID, &op.OperationType, &op.Status, &op.StartedAt, &op.CompletedAt,
		&op.UsersChecked, &op.MessagesRecovered, &op.MessagesSkipped, &op.ErrorsEncountered,
		&op.Metadata, &op.ErrorDetails); err != nil {
		return nil, err
	}
	return &op, nil
}

// EnsureSchema 确保表结构存在
func (r *PostgresOperationRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS recovery_operations (
		     id                 UUID PRIMARY KEY,
		     operation_type     TEXT NOT NULL,
		     status             TEXT NOT NULL,
		     started_at         TIMESTAMPTZ NOT NULL,
		     completed_at       TIMESTAMPTZ,
		     users_checked      INT NOT NULL DEFAULT 0,
		     messages_recovered INT NOT NULL DEFAULT 0,
		     messages_skipped   INT NOT NULL DEFAULT 0,
		     errors_encountered INT NOT NULL DEFAULT 0,
		     metadata           JSONB,
		     error_details      TEXT
		 )`)
	if err != nil {
		return fmt.Errorf("failed to ensure recovery_operations schema: %w", err)
	}
	return nil
}
