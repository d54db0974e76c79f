package matchqueue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/kotobaquest/battle/internal/distributed"
)

const tickLockKey = "battle:matchqueue:tick"

// PairHandler receives the pairs a tick produces.
type PairHandler interface {
	OnPairFormed(ctx context.Context, a, b Entry) error
}

// EvictionHandler receives players kicked from the queue after sitting at
// the clamped maximum range past the grace period.
type EvictionHandler interface {
	OnEvicted(ctx context.Context, e Entry)
}

// Driver ticks the queue on a fixed interval from a single goroutine, so a
// tick never overlaps a tick. Pairs are drained by re-ticking within the
// same cycle.
type Driver struct {
	queue      *Queue
	pairs      PairHandler
	evictions  EvictionHandler
	clock      clockwork.Clock
	interval   time.Duration
	locks      *distributed.LockManager // nil for single-instance deployments
	instanceID string
}

func NewDriver(queue *Queue, pairs PairHandler, evictions EvictionHandler, clock clockwork.Clock, interval time.Duration) *Driver {
	return &Driver{
		queue:      queue,
		pairs:      pairs,
		evictions:  evictions,
		clock:      clock,
		interval:   interval,
		instanceID: uuid.New().String()[:8],
	}
}

// WithTickLock makes every cycle contend for a shared redis lock, so only
// one instance drives the queue at a time when several are deployed.
func (d *Driver) WithTickLock(locks *distributed.LockManager) *Driver {
	d.locks = locks
	return d
}

// Run blocks until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	log.Info().
		Str("instance", d.instanceID).
		Dur("interval", d.interval).
		Msg("matchqueue driver started")

	ticker := d.clock.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("instance", d.instanceID).Msg("matchqueue driver stopped")
			return nil
		case <-ticker.Chan():
			d.runCycle(ctx)
		}
	}
}

func (d *Driver) runCycle(ctx context.Context) {
	if d.locks != nil {
		lock, err := d.locks.Acquire(ctx, tickLockKey, d.instanceID, d.interval)
		if err != nil {
			if errors.Is(err, distributed.ErrLockNotAcquired) {
				log.Debug().Str("instance", d.instanceID).Msg("tick lock held elsewhere, skipping cycle")
				return
			}
			log.Error().Err(err).Str("instance", d.instanceID).Msg("failed to acquire tick lock")
			return
		}
		defer func() {
			if err := lock.Release(ctx); err != nil {
				log.Error().Err(err).Str("instance", d.instanceID).Msg("failed to release tick lock")
			}
		}()
	}

	for {
		pair, evicted := d.queue.Tick(d.clock.Now())
		for _, e := range evicted {
			d.evictions.OnEvicted(ctx, e)
		}
		if pair == nil {
			return
		}
		if err := d.pairs.OnPairFormed(ctx, pair.A, pair.B); err != nil {
			// Infrastructure failure; the pair is already out of the queue,
			// the players must re-enqueue.
			log.Error().
				Err(err).
				Str("player_a", pair.A.PlayerID.String()).
				Str("player_b", pair.B.PlayerID.String()).
				Msg("failed to hand off formed pair")
		}
	}
}
