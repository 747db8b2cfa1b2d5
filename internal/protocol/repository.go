package protocol

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound 目标记录不存在
var ErrNotFound = errors.New("record not found")

// StatusRepository 协议状态数据访问接口
type StatusRepository interface {
	// GetStatus 查询用户协议状态，从未记录过的用户返回 INACTIVE
	GetStatus(ctx context.Context, userID int64) (*UserStatus, error)

	// SetStatus 写入新状态并追加审计记录（同一事务），返回之前的状态
	SetStatus(ctx context.Context, userID int64, status Status, by, reason string) (Status, error)

	// ListActiveUserIDs 列出当前所有 ACTIVE 用户
	ListActiveUserIDs(ctx context.Context) ([]int64, error)

	// IncrementQuarantined 累加拦截计数与预估节省成本
	IncrementQuarantined(ctx context.Context, userID int64, costSaved float64) error

	// EnsureSchema 确保表结构存在
	EnsureSchema(ctx context.Context) error
}

// QuarantineRepository 隔离消息数据访问接口
type QuarantineRepository interface {
	// Insert 持久化一条隔离消息
	Insert(ctx context.Context, msg *QuarantineMessage) error

	// ListPending 按接收时间倒序列出未处理的隔离消息
	ListPending(ctx context.Context, limit int) ([]*QuarantineMessage, error)

	// MarkProcessed 标记消息已处理；消息不存在或已处理时返回 ErrNotFound（幂等释放）
	MarkProcessed(ctx context.Context, messageID int64, by string) (*QuarantineMessage, error)

	// PurgeExpired 清理超期且未处理的消息，返回删除条数
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)

	// EnsureSchema 确保表结构存在
	EnsureSchema(ctx context.Context) error
}

// PostgresStatusRepository 协议状态数据访问层（PostgreSQL 实现）
type PostgresStatusRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresStatusRepository 创建协议状态 Repository
func NewPostgresStatusRepository(pool *pgxpool.Pool) StatusRepository {
	return &PostgresStatusRepository{pool: pool}
}

// GetStatus 查询用户协议状态
func (r *PostgresStatusRepository) GetStatus(ctx context.Context, userID int64) (*UserStatus, error) {
	var status UserStatus
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, status, COALESCE(activated_by, ''), activated_at, COALESCE(reason, ''),
		        messages_quarantined_count, estimated_cost_saved
		 FROM user_protocol_status WHERE user_id = $1`, userID).
		Scan(&status.UserID, &status.Status, &status.ActivatedBy, &status.ActivatedAt,
			&status.Reason, &status.MessagesQuarantinedCount, &status.EstimatedCostSaved)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// 没有记录等价于未静默
			return &UserStatus{UserID: userID, Status: StatusInactive}, nil
		}
		return nil, fmt.Errorf("failed to get protocol status: %w", err)
	}
	return &status, nil
}

// SetStatus 写入新状态并在同一事务里追加审计记录
func (r *PostgresStatusRepository) SetStatus(ctx context.Context, userID int64, status Status, by, reason string) (Status, error) {
	if !status.Valid() {
		return "", fmt.Errorf("invalid protocol status: %q", status)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin protocol tx: %w", err)
	}
	defer tx.Rollback(ctx)

	previous := StatusInactive
	err = tx.QueryRow(ctx,
		`SELECT status FROM user_protocol_status WHERE user_id = $1 FOR UPDATE`, userID).Scan(&previous)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("failed to lock protocol status: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO user_protocol_status (user_id, status, activated_by, activated_at, reason)
		 VALUES ($1, $2, $3, NOW(), $4)
		 ON CONFLICT (user_id) DO UPDATE SET
		     status = EXCLUDED.status, activated_by = EXCLUDED.activated_by,
		     activated_at = EXCLUDED.activated_at, reason = EXCLUDED.reason`,
		userID, status, by, reason)
	if err != nil {
		return "", fmt.Errorf("failed to upsert protocol status: %w", err)
	}

	action := "deactivated"
	if status == StatusActive {
		action = "activated"
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO protocol_audit_log (user_id, action, performed_by, reason, previous_status, new_status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		userID, action, by, reason, previous, status)
	if err != nil {
		return "", fmt.Errorf("failed to append protocol audit log: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit protocol tx: %w", err)
	}
	return previous, nil
}

// ListActiveUserIDs 列出当前所有 ACTIVE 用户
func (r *PostgresStatusRepository) ListActiveUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM user_protocol_status WHERE status = 'ACTIVE'`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan active user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("active user rows error: %w", err)
	}
	return ids, nil
}

// IncrementQuarantined 累加拦截计数
func (r *PostgresStatusRepository) IncrementQuarantined(ctx context.Context, userID int64, costSaved float64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE user_protocol_status SET
		     messages_quarantined_count = messages_quarantined_count + 1,
		     estimated_cost_saved = estimated_cost_saved + $2
		 WHERE user_id = $1`, userID, costSaved)
	if err != nil {
		return fmt.Errorf("failed to increment quarantined count: %w", err)
	}
	return nil
}

// EnsureSchema 确保表结构存在
func (r *PostgresStatusRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS user_protocol_status (
		     user_id                    BIGINT PRIMARY KEY,
		     status                     TEXT NOT NULL DEFAULT 'INACTIVE',
		     activated_by               TEXT,
		     activated_at               TIMESTAMPTZ,
		     reason                     TEXT,
		     messages_quarantined_count BIGINT NOT NULL DEFAULT 0,
		     estimated_cost_saved       DOUBLE PRECISION NOT NULL DEFAULT 0
		 )`,
		`CREATE TABLE IF NOT EXISTS protocol_audit_log (
		     id              BIGSERIAL PRIMARY KEY,
		     user_id         BIGINT NOT NULL,
		     action          TEXT NOT NULL,
		     performed_by    TEXT NOT NULL,
		     reason          TEXT,
		     previous_status TEXT NOT NULL,
		     new_status      TEXT NOT NULL,
		     created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
		 )`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure protocol schema: %w", err)
		}
	}
	return nil
}

// PostgresQuarantineRepository 隔离消息数据访问层（PostgreSQL 实现）
type PostgresQuarantineRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresQuarantineRepository 创建隔离消息 Repository
func NewPostgresQuarantineRepository(pool *pgxpool.Pool) QuarantineRepository {
	return &PostgresQuarantineRepository{pool: pool}
}

// Insert 持久化隔离消息
func (r *PostgresQuarantineRepository) Insert(ctx context.Context, msg *QuarantineMessage) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	msg.ExpiresAt = msg.ReceivedAt.Add(QuarantineTTL)

	_, err := r.pool.Exec(ctx,
		`INSERT INTO quarantine_messages
		     (id, message_id, user_id, text, platform_message_id, context_preview, received_at, expires_at, processed)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE)`,
		msg.ID, msg.MessageID, msg.UserID, msg.Text, msg.PlatformMessageID,
		msg.ContextPreview, msg.ReceivedAt, msg.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert quarantine message: %w", err)
	}
	return nil
}

// ListPending 按接收时间倒序列出未处理消息
func (r *PostgresQuarantineRepository) ListPending(ctx context.Context, limit int) ([]*QuarantineMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		selectQuarantine+` WHERE processed = FALSE ORDER BY received_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list quarantine messages: %w", err)
	}
	defer rows.Close()

	var messages []*QuarantineMessage
	for rows.Next() {
		msg, err := scanQuarantine(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("quarantine rows error: %w", err)
	}
	return messages, nil
}

// MarkProcessed 幂等标记已处理
// UPDATE 条件带 processed = FALSE，对已处理消息的二次释放命中 0 行即返回 ErrNotFound
func (r *PostgresQuarantineRepository) MarkProcessed(ctx context.Context, messageID int64, by string) (*QuarantineMessage, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE quarantine_messages
		 SET processed = TRUE, processed_at = NOW(), processed_by = $2
		 WHERE message_id = $1 AND processed = FALSE
		 RETURNING id, message_id, user_id, text, platform_message_id, COALESCE(context_preview, ''),
		           received_at, expires_at, processed, processed_at, COALESCE(processed_by, '')`,
		messageID, by)

	msg, err := scanQuarantine(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to mark quarantine message processed: %w", err)
	}
	return msg, nil
}

// PurgeExpired 清理超期未处理的消息
func (r *PostgresQuarantineRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM quarantine_messages WHERE processed = FALSE AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired quarantine messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

const selectQuarantine = `SELECT id, message_id, user_id, text, platform_message_id, COALESCE(context_preview, ''),
    received_at, expires_at, processed, processed_at, COALESCE(processed_by, '')
 FROM quarantine_messages`

func scanQuarantine(row pgx.Row) (*QuarantineMessage, error) {
	var msg QuarantineMessage
	if err := row.Scan(&msg.ID, &msg.MessageID, &msg.UserID, &msg.Text, &msg.PlatformMessageID,
		&msg.ContextPreview, &msg.ReceivedAt, &msg.ExpiresAt, &msg.Processed,
		&msg.ProcessedAt, &msg.ProcessedBy); err != nil {
		return nil, err
	}
	return &msg, nil
}

// EnsureSchema 确保表结构存在
func (r *PostgresQuarantineRepository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS quarantine_messages (
		     id                  UUID PRIMARY KEY,
		     message_id          BIGINT NOT NULL,
		     user_id             BIGINT NOT NULL,
		     text                TEXT NOT NULL,
		     platform_message_id BIGINT NOT NULL,
		     context_preview     TEXT,
		     received_at         TIMESTAMPTZ NOT NULL,
		     expires_at          TIMESTAMPTZ NOT NULL,
		     processed           BOOLEAN NOT NULL DEFAULT FALSE,
		     processed_at        TIMESTAMPTZ,
		     processed_by        TEXT
		 )`,
		`CREATE INDEX IF NOT EXISTS idx_quarantine_pending
		     ON quarantine_messages (received_at DESC) WHERE processed = FALSE`,
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure quarantine schema: %w", err)
		}
	}
	return nil
}
