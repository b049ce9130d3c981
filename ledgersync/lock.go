package ledgersync

import (
	"context"
	"errors"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/ledger_sync/config"
)

func runLeaseKey(scope string) string {
	return "lock:ledger-sync:" + scope
}

// acquireRunLease serializes batch runs across processes when Redis is configured.
// Without Redis, or when Redis errors, the run proceeds and the per-row claim still guards it.
func (s *Syncer) acquireRunLease(ctx context.Context, scope string) (func(), error) {
	if s.opts.Locker == nil {
		return func() {}, nil
	}
	lock, err := s.opts.Locker.Obtain(ctx, runLeaseKey(scope), s.opts.RunLease, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		config.LogError(s.logger, "ledgersync", "acquireRunLease", "obtain lease "+scope, nil, err)
		return func() {}, nil
	}
	return func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.LogError(s.logger, "ledgersync", "acquireRunLease", "release lease "+scope, nil, err)
		}
	}, nil
}
