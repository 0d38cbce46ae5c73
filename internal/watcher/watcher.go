package watcher

import (
	"context"
	"errors"
	"time"

	"github.com/remeh/sizedwaitgroup"
	"github.com/riftstats/rift-worker/internal/config"
	"github.com/riftstats/rift-worker/internal/models"
	"github.com/rs/zerolog/log"
)

// AccountQueue is the claim/recovery slice of the account repository
type AccountQueue interface {
	ClaimNextPending(ctx context.Context) (*models.Account, error)
	ResetStuck(ctx context.Context, threshold time.Duration) (int64, error)
}

// Processor runs one claimed account to a terminal state
type Processor interface {
	SyncAccount(ctx context.Context, accountKey string) error
}

type Watcher struct {
	cfg       *config.Config
	queue     AccountQueue
	processor Processor
	pool      sizedwaitgroup.SizedWaitGroup
}

func New(cfg *config.Config, queue AccountQueue, processor Processor) *Watcher {
	return &Watcher{
		cfg:       cfg,
		queue:     queue,
		processor: processor,
		pool:      sizedwaitgroup.New(cfg.WorkerCount),
	}
}

// Start claims pending accounts on every poll tick and hands each to a
// bounded pool of sync goroutines. Blocks until ctx is canceled and all
// in-flight syncs have finished.
func (w *Watcher) Start(ctx context.Context) error {
	log.Info().Int("poll_interval_s", w.cfg.PollInterval).Int("worker_count", w.cfg.WorkerCount).
		Msg("starting sync watcher")

	// Pick up accounts left pending by previous runs
	w.drainPending(ctx)

	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sync watcher shutting down, waiting for in-flight syncs")
			w.pool.Wait()
			return ctx.Err()
		case <-ticker.C:
			w.drainPending(ctx)
		}
	}
}

// drainPending claims accounts until the queue is empty or the pool has no
// free slot left to wait for. Each claim is committed before the account's
// provider I/O starts.
func (w *Watcher) drainPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		account, err := w.queue.ClaimNextPending(ctx)
		if err != nil {
			log.Error().Err(err).Msg("failed to claim pending account")
			return
		}
		if account == nil {
			return
		}

		if err := w.pool.AddWithContext(ctx); err != nil {
			// Canceled while waiting for a slot. The claim stays in
			// syncing; the stale sweep recovers it.
			return
		}

		go func(accountKey string) {
			defer w.pool.Done()
			if err := w.processor.SyncAccount(ctx, accountKey); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Str("account_key", accountKey).Msg("account sync failed")
			}
		}(account.AccountKey)
	}
}

// Sweep periodically resets accounts stuck in syncing past the stale
// threshold, recovering claims held by crashed workers.
func (w *Watcher) Sweep(ctx context.Context) error {
	threshold := time.Duration(w.cfg.StaleAfter) * time.Minute

	log.Info().Dur("threshold", threshold).Int("sweep_interval_m", w.cfg.SweepInterval).
		Msg("starting stale-job sweeper")

	ticker := time.NewTicker(time.Duration(w.cfg.SweepInterval) * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.sweepOnce(ctx, threshold)
		}
	}
}

func (w *Watcher) sweepOnce(ctx context.Context, threshold time.Duration) {
	n, err := w.queue.ResetStuck(ctx, threshold)
	if err != nil {
		log.Error().Err(err).Msg("stale-job sweep failed")
		return
	}
	if n > 0 {
		log.Warn().Int64("recovered", n).Msg("reset stuck sync jobs to pending")
	}
}
