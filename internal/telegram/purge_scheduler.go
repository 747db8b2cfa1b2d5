package telegram

import (
	"context"
	"time"

	"recovery_bot/internal/logger"
	"recovery_bot/internal/protocol"
)

// purgeScheduler 周期性清理超期未释放的隔离消息
type purgeScheduler struct {
	gate     *protocol.Gate
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func newPurgeScheduler(gate *protocol.Gate, interval time.Duration) *purgeScheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	return &purgeScheduler{
		gate:     gate,
		interval: interval,
	}
}

func (s *purgeScheduler) start() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.run(ctx)
	logger.L().Infof("Quarantine purge scheduler started, interval=%s", s.interval)
}

func (s *purgeScheduler) stop() {
	if s == nil {
		return
	}
	if s.cancel == nil {
		return
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	logger.L().Info("Quarantine purge scheduler stopped")
}

func (s *purgeScheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

func (s *purgeScheduler) dispatch(parent context.Context) {
	if parent.Err() != nil {
		return
	}

	runCtx, cancel := context.WithTimeout(parent, 2*time.Minute)
	defer cancel()

	if _, err := s.gate.PurgeExpired(runCtx); err != nil {
		logger.L().Errorf("Quarantine purge failed: %v", err)
	}
}
