package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rryowa/sessionguard/internal/storage"
)

// Sweeper periodically removes expired credentials. Rotation already rejects
// expired records on read, so a missed sweep only costs disk space.
type Sweeper struct {
	store    storage.CredentialStore
	interval time.Duration
	timeout  time.Duration
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewSweeper(store storage.CredentialStore, interval, timeout time.Duration, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		timeout:  timeout,
		log:      log,
		now:      time.Now,
	}
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("Expiry sweep disabled.")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Expiry sweeper stopped.")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Errorw("Expiry sweep failed", "error", err)
			}
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Infow("Expired refresh credentials swept", "deleted", n)
	}
	return n, nil
}
