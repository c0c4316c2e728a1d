package bot

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kjannette/p2p-ledger/internal/notifications"
)

// Source delivers inbound events until ctx is cancelled or it fails.
type Source interface {
	Run(ctx context.Context, submit func(ctx context.Context, ev Event) error) error
	Send(ctx context.Context, ev Event, r Reply) error
}

// Service owns the worker pool and feeds it from a chat Source.
type Service struct {
	mu      sync.Mutex
	pool    *Pool
	workers int
	handler Handler
	notify  *notifications.Sender
	logger  *zap.Logger
}

func NewService(h Handler, workers int, notify *notifications.Sender, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{handler: h, workers: workers, notify: notify, logger: logger}
}

// Run blocks until ctx is done or the source fails. Queued events are
// drained before it returns.
func (s *Service) Run(ctx context.Context, src Source) error {
	s.mu.Lock()
	if s.pool != nil {
		s.mu.Unlock()
		return fmt.Errorf("bot already running")
	}
	pool := NewPool(s.workers, 0, s.handler, s.logger)
	s.pool = pool
	s.mu.Unlock()

	defer func() {
		pool.Stop()
		s.mu.Lock()
		s.pool = nil
		s.mu.Unlock()
		s.logger.Info("bot stopped")
	}()

	pool.Start(context.WithoutCancel(ctx))
	s.logger.Info("bot started", zap.Int("workers", s.workers))
	if s.notify != nil {
		go s.notify.Send("P2P ledger bot started")
	}

	respond := func(rctx context.Context, ev Event, r Reply) {
		if err := src.Send(rctx, ev, r); err != nil {
			s.logger.Warn("send reply failed", zap.Int64("owner", ev.OwnerID), zap.Error(err))
		}
	}

	err := src.Run(ctx, func(sctx context.Context, ev Event) error {
		return pool.Submit(sctx, ev, respond)
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("chat source: %w", err)
	}
	return nil
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool != nil
}
