package verification

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PurgeExpired deletes tokens that expired more than the retention window ago.
// It is a no-op when retention is zero.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}

	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.Tokens().PurgeExpired(ctx, cutoff)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("failed to purge verification tokens", zap.Error(err))
		}
		return 0, persistenceError("purge verification tokens", err)
	}

	if s.logger != nil {
		s.logger.Info("purged verification tokens",
			zap.Int64("deleted", deleted),
			zap.Time("expired_before", cutoff))
	}
	return deleted, nil
}

type PurgeWorker struct {
	service  *Service
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewPurgeWorker(service *Service, interval time.Duration) *PurgeWorker {
	return &PurgeWorker{service: service, interval: interval}
}

func (w *PurgeWorker) Start() {
	if w.interval <= 0 || w.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	if w.service.logger != nil {
		w.service.logger.Info("starting verification token purge worker", zap.Duration("interval", w.interval))
	}

	go func() {
		defer close(w.done)
		ticker := w.service.clock.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				_, _ = w.service.PurgeExpired(ctx)
			}
		}
	}()
}

func (w *PurgeWorker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil

	if w.service.logger != nil {
		w.service.logger.Info("verification token purge worker stopped")
	}
}
