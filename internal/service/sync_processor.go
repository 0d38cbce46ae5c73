package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/riftstats/rift-worker/internal/models"
	"github.com/riftstats/rift-worker/internal/rift"
	"github.com/rs/zerolog/log"
)

// AccountStore is the slice of the account repository the processor needs
type AccountStore interface {
	UpdateStatus(ctx context.Context, accountKey string, status models.SyncStatus, lastSyncAt *time.Time) error
	UpdateProgress(ctx context.Context, accountKey string, current, total int) error
}

// MatchLedger records which matches are already known per account
type MatchLedger interface {
	KnownMatchIDs(ctx context.Context, accountKey string) (map[string]struct{}, error)
	RecordMatch(ctx context.Context, accountKey, matchID string, gameCreation int64, payload []byte) error
}

// MatchProvider is the external match data API
type MatchProvider interface {
	ListMatchIDs(ctx context.Context, accountKey string) ([]string, error)
	FetchMatchDetail(ctx context.Context, matchID string) (*rift.MatchDetail, error)
}

// ProgressBroadcaster pushes live sync events to watching dashboard clients
type ProgressBroadcaster interface {
	BroadcastProgress(accountKey string, current, total int, matchID string)
	BroadcastComplete(accountKey string, totalSynced int)
	BroadcastError(accountKey string, message string)
}

type SyncProcessor struct {
	accounts AccountStore
	ledger   MatchLedger
	provider MatchProvider
	hub      ProgressBroadcaster
}

func NewSyncProcessor(accounts AccountStore, ledger MatchLedger, provider MatchProvider, hub ProgressBroadcaster) *SyncProcessor {
	return &SyncProcessor{
		accounts: accounts,
		ledger:   ledger,
		provider: provider,
		hub:      hub,
	}
}

// SyncAccount backfills every match the provider knows for the account but
// the ledger does not. The caller must already hold the claim (the account is
// in syncing state) and the claim transaction must already be committed.
//
// All failures are converted to a status update plus a broadcast event; the
// returned error is for the caller's log only. A context cancellation leaves
// the account in syncing for the stale sweep to recover.
func (p *SyncProcessor) SyncAccount(ctx context.Context, accountKey string) error {
	log.Info().Str("account_key", accountKey).Msg("starting account sync")

	providerIDs, err := p.provider.ListMatchIDs(ctx, accountKey)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return p.fail(ctx, accountKey, fmt.Errorf("failed to list match ids: %w", err))
	}

	known, err := p.ledger.KnownMatchIDs(ctx, accountKey)
	if err != nil {
		return p.fail(ctx, accountKey, fmt.Errorf("failed to load known match ids: %w", err))
	}

	missing := diffMissing(providerIDs, known)
	total := len(missing)

	if err := p.accounts.UpdateProgress(ctx, accountKey, 0, total); err != nil {
		log.Warn().Err(err).Str("account_key", accountKey).Msg("failed to record initial progress")
	}

	current := 0
	for _, matchID := range missing {
		select {
		case <-ctx.Done():
			// Leave the account in syncing; the stale sweep reclaims it.
			log.Info().Str("account_key", accountKey).Int("current", current).Int("total", total).
				Msg("sync interrupted by shutdown")
			return ctx.Err()
		default:
		}

		detail, err := p.provider.FetchMatchDetail(ctx, matchID)
		if err != nil {
			if errors.Is(err, rift.ErrRateLimited) {
				return p.fail(ctx, accountKey, fmt.Errorf("rate limited after %d of %d matches", current, total))
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Str("account_key", accountKey).Str("match_id", matchID).
				Msg("skipping match: fetch failed")
			continue
		}

		if err := p.ledger.RecordMatch(ctx, accountKey, matchID, detail.GameCreation, detail.Raw); err != nil {
			log.Warn().Err(err).Str("account_key", accountKey).Str("match_id", matchID).
				Msg("skipping match: persist failed")
			continue
		}

		current++
		if err := p.accounts.UpdateProgress(ctx, accountKey, current, total); err != nil {
			log.Warn().Err(err).Str("account_key", accountKey).Msg("failed to update progress")
		}
		p.hub.BroadcastProgress(accountKey, current, total, matchID)
	}

	now := time.Now()
	if err := p.accounts.UpdateStatus(ctx, accountKey, models.SyncCompleted, &now); err != nil {
		return fmt.Errorf("failed to mark account completed: %w", err)
	}
	p.hub.BroadcastComplete(accountKey, total)

	log.Info().Str("account_key", accountKey).Int("synced", current).Int("total", total).
		Msg("account sync completed")
	return nil
}

// fail marks the account failed without touching last_sync_at and notifies
// subscribers. The original error is returned for the caller's log.
func (p *SyncProcessor) fail(ctx context.Context, accountKey string, cause error) error {
	if err := p.accounts.UpdateStatus(ctx, accountKey, models.SyncFailed, nil); err != nil {
		log.Error().Err(err).Str("account_key", accountKey).Msg("failed to mark account failed")
	}
	p.hub.BroadcastError(accountKey, cause.Error())
	return cause
}

// diffMissing returns the provider ids absent from the ledger, oldest first.
// The provider lists newest first, so the result is reversed to make
// progress reflect a chronological backfill.
func diffMissing(providerIDs []string, known map[string]struct{}) []string {
	missing := make([]string, 0, len(providerIDs))
	for i := len(providerIDs) - 1; i >= 0; i-- {
		if _, ok := known[providerIDs[i]]; !ok {
			missing = append(missing, providerIDs[i])
		}
	}
	return missing
}
