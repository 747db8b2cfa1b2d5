package recovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"recovery_bot/internal/recovery/models"
	"recovery_bot/internal/recovery/repository"
	telegramModels "recovery_bot/internal/telegram/models"
)

// sweepArchive 按用户存消息的归档桩，ListInboundSince 按游标过滤
type sweepArchive struct {
	mu       sync.Mutex
	dialogs  []int64
	messages map[int64][]*telegramModels.ArchivedMessage
}

func (s *sweepArchive) SaveMessage(ctx context.Context, message *telegramModels.ArchivedMessage) error {
	return nil
}

func (s *sweepArchive) ListInboundSince(ctx context.Context, userID, sinceID int64, sinceTime time.Time, limit int) ([]*telegramModels.ArchivedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*telegramModels.ArchivedMessage
	for _, msg := range s.messages[userID] {
		if msg.TelegramMessageID <= sinceID {
			continue
		}
		// 时间窗口只约束无游标的首次扫描
		if sinceID <= 0 && !msg.SentAt.After(sinceTime) {
			continue
		}
		result = append(result, msg)
	}
	return result, nil
}

func (s *sweepArchive) ListDialogUserIDs(ctx context.Context, afterUserID int64, pageSize int) ([]int64, error) {
	var page []int64
	for _, id := range s.dialogs {
		if id > afterUserID {
			page = append(page, id)
		}
		if len(page) == pageSize {
			break
		}
	}
	return page, nil
}

func (s *sweepArchive) EnsureIndexes(ctx context.Context) error { return nil }

// memoryCursorRepo 内存游标桩
type memoryCursorRepo struct {
	mu      sync.Mutex
	cursors map[int64]*models.UserCursor
	touched map[int64]int
	failN   int // 前 N 次 UpdateCursor 失败
}

func newMemoryCursorRepo() *memoryCursorRepo {
	return &memoryCursorRepo{
		cursors: make(map[int64]*models.UserCursor),
		touched: make(map[int64]int),
	}
}

func (m *memoryCursorRepo) GetLastMessagePerUser(ctx context.Context, userIDs []int64) (map[int64]models.CursorPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[int64]models.CursorPoint)
	for _, id := range userIDs {
		if c, ok := m.cursors[id]; ok {
			result[id] = models.CursorPoint{MessageID: c.LastProcessedMessageID, Timestamp: c.LastProcessedAt}
		}
	}
	return result, nil
}

func (m *memoryCursorRepo) UpdateCursor(ctx context.Context, userID, messageID int64, timestamp time.Time, recoveredDelta int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return errors.New("cursor store unavailable")
	}
	c, ok := m.cursors[userID]
	if !ok {
		c = &models.UserCursor{UserID: userID}
		m.cursors[userID] = c
	}
	c.LastProcessedMessageID = messageID
	c.LastProcessedAt = timestamp
	c.TotalRecoveredCount += recoveredDelta
	c.LastRecoveryCheckAt = time.Now().UTC()
	return nil
}

func (m *memoryCursorRepo) GetCursor(ctx context.Context, userID int64) (*models.UserCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.cursors[userID]; ok {
		clone := *c
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryCursorRepo) ListAllCursors(ctx context.Context) ([]*models.UserCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []*models.UserCursor
	for _, c := range m.cursors {
		clone := *c
		all = append(all, &clone)
	}
	return all, nil
}

func (m *memoryCursorRepo) TouchCheckedAt(ctx context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.touched[userID]++
	return nil
}

func (m *memoryCursorRepo) EnsureSchema(ctx context.Context) error { return nil }

// memoryOperationRepo 内存操作记录桩
type memoryOperationRepo struct {
	mu  sync.Mutex
	ops map[string]*models.RecoveryOperation
}

func newMemoryOperationRepo() *memoryOperationRepo {
	return &memoryOperationRepo{ops: make(map[string]*models.RecoveryOperation)}
}

func (m *memoryOperationRepo) Create(ctx context.Context, op *models.RecoveryOperation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op.Status = models.OperationStatusRunning
	clone := *op
	m.ops[op.ID] = &clone
	return nil
}

func (m *memoryOperationRepo) UpdateCounters(ctx context.Context, id string, usersChecked, recovered, skipped, errs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok || op.Status != models.OperationStatusRunning {
		return fmt.Errorf("operation not found or not running: %s", id)
	}
	op.UsersChecked += usersChecked
	op.MessagesRecovered += recovered
	op.MessagesSkipped += skipped
	op.ErrorsEncountered += errs
	return nil
}

func (m *memoryOperationRepo) MarkCompleted(ctx context.Context, id string) error {
	return m.finish(id, models.OperationStatusCompleted, "")
}

func (m *memoryOperationRepo) MarkFailed(ctx context.Context, id string, errorDetails string) error {
	return m.finish(id, models.OperationStatusFailed, errorDetails)
}

func (m *memoryOperationRepo) finish(id string, status models.OperationStatus, details string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.ops[id]
	if !ok || op.Status != models.OperationStatusRunning {
		return fmt.Errorf("operation not found or already terminal: %s", id)
	}
	now := time.Now().UTC()
	op.Status = status
	op.CompletedAt = &now
	op.ErrorDetails = details
	return nil
}

func (m *memoryOperationRepo) Get(ctx context.Context, id string) (*models.RecoveryOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op, ok := m.ops[id]; ok {
		clone := *op
		return &clone, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryOperationRepo) Latest(ctx context.Context) (*models.RecoveryOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.RecoveryOperation
	for _, op := range m.ops {
		if latest == nil || op.StartedAt.After(latest.StartedAt) {
			latest = op
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (m *memoryOperationRepo) EnsureSchema(ctx context.Context) error { return nil }

// stubGate 静默协议桩
type stubGate struct {
	active map[int64]bool
}

func (g *stubGate) IsActive(ctx context.Context, userID int64) (bool, error) {
	return g.active[userID], nil
}

// recordingConsumer 记录每次投递并按消息 ID 失败的下游桩
type recordingConsumer struct {
	mu         sync.Mutex
	delivered  []deliveredMessage
	failIDs    map[string]bool // platform_message_id -> 持续失败
	failCounts map[string]int  // platform_message_id -> 前 N 次失败（瞬时故障）
	failAll    bool
}

type deliveredMessage struct {
	userID    int64
	text      string
	overrides map[string]string
}

func (c *recordingConsumer) Process(ctx context.Context, userID int64, enrichedText string, overrides map[string]string) (*InteractionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := overrides["platform_message_id"]
	if c.failAll || c.failIDs[id] {
		return nil, errors.New("downstream unavailable")
	}
	if n := c.failCounts[id]; n > 0 {
		c.failCounts[id] = n - 1
		return nil, errors.New("downstream unavailable")
	}
	c.delivered = append(c.delivered, deliveredMessage{userID: userID, text: enrichedText, overrides: overrides})
	return &InteractionResult{Response: "ok"}, nil
}

func (c *recordingConsumer) deliveredIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.delivered))
	for _, d := range c.delivered {
		ids = append(ids, d.overrides["platform_message_id"])
	}
	return ids
}

// noopLimiter 不限速
type noopLimiter struct{}

func (noopLimiter) Wait(ctx context.Context) error { return nil }

func newTestService(archive *sweepArchive, cursors *memoryCursorRepo, ops *memoryOperationRepo, gate *stubGate, consumer *recordingConsumer) *Service {
	classifier := NewClassifier(ClassifierConfig{
		Tier1Pacing: time.Millisecond,
		Tier2Pacing: time.Millisecond,
		Tier3Pacing: time.Millisecond,
	})
	return NewService(
		cursors,
		ops,
		NewDialogScanner(archive, 100, time.Millisecond),
		NewGapDetector(archive, classifier),
		classifier,
		gate,
		consumer,
		noopLimiter{},
		ServiceConfig{
			GroupPause: time.Millisecond,
			BackoffCap: time.Millisecond,
		},
	)
}

func sweepFixture(userID int64, ids ...int64) *sweepArchive {
	archive := &sweepArchive{
		dialogs:  []int64{userID},
		messages: make(map[int64][]*telegramModels.ArchivedMessage),
	}
	for i, id := range ids {
		archive.messages[userID] = append(archive.messages[userID], &telegramModels.ArchivedMessage{
			TelegramMessageID: id,
			ChatID:            userID,
			UserID:            userID,
			Text:              fmt.Sprintf("message %d", i),
			SentAt:            time.Now().UTC().Add(-time.Hour),
		})
	}
	return archive
}

func TestStartupSweepReplaysInOrderAndAdvancesCursor(t *testing.T) {
	archive := sweepFixture(7, 10, 11, 12)
	cursors := newMemoryCursorRepo()
	ops := newMemoryOperationRepo()
	consumer := &recordingConsumer{}

	svc := newTestService(archive, cursors, ops, &stubGate{active: map[int64]bool{}}, consumer)

	op, err := svc.RunStartupSweep(context.Background())
	if err != nil {
		t.Fatalf("RunStartupSweep failed: %v", err)
	}
	if op.Status != models.OperationStatusCompleted {
		t.Fatalf("expected completed operation, got %s (%s)", op.Status, op.ErrorDetails)
	}

	ids := consumer.deliveredIDs()
	if len(ids) != 3 || ids[0] != "10" || ids[1] != "11" || ids[2] != "12" {
		t.Fatalf("expected ordered replay of 10,11,12, got %v", ids)
	}

	for _, d := range consumer.delivered {
		if d.overrides["is_recovered"] != "true" {
			t.Fatalf("expected is_recovered override, got %v", d.overrides)
		}
		if d.overrides["platform_timestamp"] == "" {
			t.Fatalf("expected platform_timestamp override")
		}
	}

	cursor, err := cursors.GetCursor(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected cursor for user 7: %v", err)
	}
	if cursor.LastProcessedMessageID != 12 {
		t.Fatalf("expected cursor at 12, got %d", cursor.LastProcessedMessageID)
	}
	if cursor.TotalRecoveredCount != 3 {
		t.Fatalf("expected total recovered 3, got %d", cursor.TotalRecoveredCount)
	}

	if op.UsersChecked != 1 || op.MessagesRecovered != 3 {
		t.Fatalf("unexpected counters: users=%d recovered=%d", op.UsersChecked, op.MessagesRecovered)
	}

	stored, err := ops.Get(context.Background(), op.ID)
	if err != nil {
		t.Fatalf("operation not persisted: %v", err)
	}
	if stored.MessagesRecovered != 3 || stored.Status != models.OperationStatusCompleted {
		t.Fatalf("persisted operation out of sync: %+v", stored)
	}
}

func TestSweepIsIdempotent(t *testing.T) {
	archive := sweepFixture(7, 10, 11, 12)
	cursors := newMemoryCursorRepo()
	ops := newMemoryOperationRepo()
	consumer := &recordingConsumer{}

	svc := newTestService(archive, cursors, ops, &stubGate{active: map[int64]bool{}}, consumer)

	if _, err := svc.RunStartupSweep(context.Background()); err != nil {
		t.Fatalf("first sweep failed: %v", err)
	}
	firstCount := len(consumer.deliveredIDs())

	op, err := svc.RunManualSweep(context.Background(), "operator")
	if err != nil {
		t.Fatalf("second sweep failed: %v", err)
	}

	if len(consumer.deliveredIDs()) != firstCount {
		t.Fatalf("second sweep must not re-deliver messages")
	}
	if op.MessagesRecovered != 0 {
		t.Fatalf("expected 0 recovered on re-sweep, got %d", op.MessagesRecovered)
	}

	// 无缺口时仍要刷新检查时间
	if cursors.touched[7] == 0 {
		t.Fatalf("expected cursor touch on gapless sweep")
	}
}

func TestSweepSkipsSilencedUsers(t *testing.T) {
	archive := sweepFixture(7, 10, 11)
	cursors := newMemoryCursorRepo()
	ops := newMemoryOperationRepo()
	consumer := &recordingConsumer{}

	svc := newTestService(archive, cursors, ops, &stubGate{active: map[int64]bool{7: true}}, consumer)

	op, err := svc.RunStartupSweep(context.Background())
	if err != nil {
		t.Fatalf("RunStartupSweep failed: %v", err)
	}

	if len(consumer.deliveredIDs()) != 0 {
		t.Fatalf("silenced user must not receive replays")
	}
	if op.MessagesSkipped == 0 {
		t.Fatalf("expected skip counter for silenced user")
	}
	if _, err := cursors.GetCursor(context.Background(), 7); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("cursor must not advance for silenced user")
	}
}

func TestReplayAbandonsBatchAfterConsecutiveErrors(t *testing.T) {
	archive := sweepFixture(7, 10, 11, 12, 13, 14)
	cursors := newMemoryCursorRepo()
	ops := newMemoryOperationRepo()
	consumer := &recordingConsumer{failAll: true}

	svc := newTestService(archive, cursors, ops, &stubGate{active: map[int64]bool{}}, consumer)

	op, err := svc.RunStartupSweep(context.Background())
	if err != nil {
		t.Fatalf("RunStartupSweep failed: %v", err)
	}

	// 连续 3 次失败后放弃批次，剩余消息不再尝试
	if op.ErrorsEncountered != 3 {
		t.Fatalf("expected 3 errors before abandoning batch, got %d", op.ErrorsEncountered)
	}
	if op.MessagesRecovered != 0 {
		t.Fatalf("expected no recoveries, got %d", op.MessagesRecovered)
	}
	if op.Status != models.OperationStatusCompleted {
		t.Fatalf("batch abandonment must not fail the operation, got %s", op.Status)
	}
	if _, err := cursors.GetCursor(context.Background(), 7); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("cursor must not advance when nothing was recovered")
	}
}

func TestReplayPartialFailureKeepsCursorAtLastSuccess(t *testing.T) {
	archive := sweepFixture(7, 10, 11, 12, 13)
	cursors := newMemoryCursorRepo()
	ops := newMemoryOperationRepo()
	// 11 之后的全部失败
	consumer := &recordingConsumer{failIDs: map[string]bool{"12": true, "13": true}}

	svc := newTestService(archive, cursors, ops, &stubGate{active: map[int64]bool{}}, consumer)

	op, err := svc.RunStartupSweep(context.Background())
	if err != nil {
		t.Fatalf("RunStartupSweep failed: %v", err)
	}

	if op.MessagesRecovered != 2 {
		t.Fatalf("expected 2 recovered, got %d", op.MessagesRecovered)
	}

	cursor, err := cursors.GetCursor(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected cursor: %v", err)
	}
	if cursor.LastProcessedMessageID != 11 {
		t.Fatalf("cursor must stop at last success 11, got %d", cursor.LastProcessedMessageID)
	}

	// 下一轮扫描重新捡起失败的尾部
	consumer.mu.Lock()
	consumer.failIDs = nil
	consumer.mu.Unlock()

	if _, err := svc.RunManualSweep(context.Background(), "operator"); err != nil {
		t.Fatalf("follow-up sweep failed: %v", err)
	}

	cursor, _ = cursors.GetCursor(context.Background(), 7)
	if cursor.LastProcessedMessageID != 13 {
		t.Fatalf("follow-up sweep must finish the tail, got cursor %d", cursor.LastProcessedMessageID)
	}
	ids := consumer.deliveredIDs()
	if ids[len(ids)-2] != "12" || ids[len(ids)-1] != "13" {
		t.Fatalf("follow-up sweep delivered unexpected ids: %v", ids)
	}
}

func TestReplayRetriesFailedMessageInPlace(t *testing.T) {
	archive := sweepFixture(7, 10, 11, 12)
	cursors := newMemoryCursorRepo()
	ops := newMemoryOperationRepo()
	// 11 前两次投递失败，第三次成功
	consumer := &recordingConsumer{failCounts: map[string]int{"11": 2}}

	svc := newTestService(archive, cursors, ops, &stubGate{active: map[int64]bool{}}, consumer)

	op, err := svc.RunStartupSweep(context.Background())
	if err != nil {
		t.Fatalf("RunStartupSweep failed: %v", err)
	}

	if op.MessagesRecovered != 3 {
		t.Fatalf("transient failure must not lose the message, recovered %d", op.MessagesRecovered)
	}
	if op.ErrorsEncountered != 2 {
		t.Fatalf("expected 2 errors from retries, got %d", op.ErrorsEncountered)
	}

	// 失败的消息原地重试，顺序不被打乱
	ids := consumer.deliveredIDs()
	if len(ids) != 3 || ids[0] != "10" || ids[1] != "11" || ids[2] != "12" {
		t.Fatalf("expected ordered replay of 10,11,12, got %v", ids)
	}

	cursor, _ := cursors.GetCursor(context.Background(), 7)
	if cursor.LastProcessedMessageID != 12 {
		t.Fatalf("expected cursor at 12, got %d", cursor.LastProcessedMessageID)
	}
}

func TestReplayDoesNotSkipPastFailedMessage(t *testing.T) {
	archive := sweepFixture(7, 10, 11, 12)
	cursors := newMemoryCursorRepo()
	ops := newMemoryOperationRepo()
	// 只有 11 持续失败
	consumer := &recordingConsumer{failIDs: map[string]bool{"11": true}}

	svc := newTestService(archive, cursors, ops, &stubGate{active: map[int64]bool{}}, consumer)

	if _, err := svc.RunStartupSweep(context.Background()); err != nil {
		t.Fatalf("RunStartupSweep failed: %v", err)
	}

	// 11 失败时不允许先回放 12：否则游标会越过 11，它就永久丢了
	ids := consumer.deliveredIDs()
	if len(ids) != 1 || ids[0] != "10" {
		t.Fatalf("expected only 10 delivered while 11 is failing, got %v", ids)
	}
	cursor, err := cursors.GetCursor(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected cursor: %v", err)
	}
	if cursor.LastProcessedMessageID != 10 {
		t.Fatalf("cursor must stay before the failed message, got %d", cursor.LastProcessedMessageID)
	}

	// 故障恢复后，下一轮扫描把 11 和 12 补回来
	consumer.mu.Lock()
	consumer.failIDs = nil
	consumer.mu.Unlock()

	if _, err := svc.RunManualSweep(context.Background(), "operator"); err != nil {
		t.Fatalf("follow-up sweep failed: %v", err)
	}

	ids = consumer.deliveredIDs()
	if len(ids) != 3 || ids[1] != "11" || ids[2] != "12" {
		t.Fatalf("follow-up sweep must deliver 11 then 12, got %v", ids)
	}
	cursor, _ = cursors.GetCursor(context.Background(), 7)
	if cursor.LastProcessedMessageID != 12 {
		t.Fatalf("expected cursor at 12 after follow-up, got %d", cursor.LastProcessedMessageID)
	}
}

func TestSweepDetectsSameSecondMessage(t *testing.T) {
	sentAt := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	archive := &sweepArchive{
		dialogs: []int64{7},
		messages: map[int64][]*telegramModels.ArchivedMessage{
			7: {{
				TelegramMessageID: 11,
				ChatID:            7,
				UserID:            7,
				Text:              "same second",
				SentAt:            sentAt,
			}},
		},
	}
	cursors := newMemoryCursorRepo()
	// 游标时间戳与消息 sent_at 同秒（Telegram 时间戳只有秒级精度）
	if err := cursors.UpdateCursor(context.Background(), 7, 10, sentAt, 0); err != nil {
		t.Fatalf("seed cursor failed: %v", err)
	}
	consumer := &recordingConsumer{}

	svc := newTestService(archive, cursors, newMemoryOperationRepo(), &stubGate{active: map[int64]bool{}}, consumer)

	if _, err := svc.RunStartupSweep(context.Background()); err != nil {
		t.Fatalf("RunStartupSweep failed: %v", err)
	}

	ids := consumer.deliveredIDs()
	if len(ids) != 1 || ids[0] != "11" {
		t.Fatalf("same-second gap message must be recovered, got %v", ids)
	}
	cursor, _ := cursors.GetCursor(context.Background(), 7)
	if cursor.LastProcessedMessageID != 11 {
		t.Fatalf("expected cursor at 11, got %d", cursor.LastProcessedMessageID)
	}
}

func TestCursorAdvanceRetriesTransientFailure(t *testing.T) {
	archive := sweepFixture(7, 10)
	cursors := newMemoryCursorRepo()
	cursors.failN = 2 // 前两次写入失败，重试后成功
	ops := newMemoryOperationRepo()
	consumer := &recordingConsumer{}

	svc := newTestService(archive, cursors, ops, &stubGate{active: map[int64]bool{}}, consumer)

	op, err := svc.RunStartupSweep(context.Background())
	if err != nil {
		t.Fatalf("RunStartupSweep failed: %v", err)
	}
	if op.ErrorsEncountered != 0 {
		t.Fatalf("retried cursor advance must not count as error, got %d", op.ErrorsEncountered)
	}

	cursor, err := cursors.GetCursor(context.Background(), 7)
	if err != nil {
		t.Fatalf("expected cursor after retries: %v", err)
	}
	if cursor.LastProcessedMessageID != 10 {
		t.Fatalf("expected cursor at 10, got %d", cursor.LastProcessedMessageID)
	}
}

func TestRecoverUserRequiresCursor(t *testing.T) {
	archive := sweepFixture(7, 10)
	svc := newTestService(archive, newMemoryCursorRepo(), newMemoryOperationRepo(), &stubGate{active: map[int64]bool{}}, &recordingConsumer{})

	op, err := svc.RecoverUser(context.Background(), 7, "operator")
	if err == nil {
		t.Fatalf("expected error for user without cursor")
	}
	if op == nil || op.Status != models.OperationStatusFailed {
		t.Fatalf("expected failed operation record")
	}
}

func TestRecoverUserReplaysGap(t *testing.T) {
	archive := sweepFixture(7, 10, 11, 12)
	cursors := newMemoryCursorRepo()
	// 已有游标停在 10
	if err := cursors.UpdateCursor(context.Background(), 7, 10, time.Now().UTC().Add(-2*time.Hour), 0); err != nil {
		t.Fatalf("seed cursor failed: %v", err)
	}
	consumer := &recordingConsumer{}

	svc := newTestService(archive, cursors, newMemoryOperationRepo(), &stubGate{active: map[int64]bool{}}, consumer)

	op, err := svc.RecoverUser(context.Background(), 7, "operator")
	if err != nil {
		t.Fatalf("RecoverUser failed: %v", err)
	}
	if op.Status != models.OperationStatusCompleted {
		t.Fatalf("expected completed operation, got %s", op.Status)
	}

	ids := consumer.deliveredIDs()
	if len(ids) != 2 || ids[0] != "11" || ids[1] != "12" {
		t.Fatalf("expected replay of 11,12 only, got %v", ids)
	}

	cursor, _ := cursors.GetCursor(context.Background(), 7)
	if cursor.LastProcessedMessageID != 12 {
		t.Fatalf("expected cursor at 12, got %d", cursor.LastProcessedMessageID)
	}
}

func TestEnrichDelayedMessage(t *testing.T) {
	cases := []struct {
		ageHours float64
		want     string
	}{
		{0.5, "30 minutes"},
		{1.2, "about an hour"},
		{5, "about 5 hours"},
	}
	for _, tc := range cases {
		enriched := enrichDelayedMessage(models.RecoveredMessage{Text: "hi", AgeHours: tc.ageHours})
		if !strings.Contains(enriched, tc.want) || !strings.Contains(enriched, "hi") {
			t.Fatalf("enriched text %q missing %q", enriched, tc.want)
		}
	}
}
