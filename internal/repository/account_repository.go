package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riftstats/rift-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrAccountNotFound = errors.New("account not found")

// errClaimLost aborts the claim transaction when another worker updated the
// row between our locked read and the conditional update. Not surfaced to
// callers; ClaimNextPending maps it to (nil, nil).
var errClaimLost = errors.New("claim lost to another worker")

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// ClaimNextPending atomically moves the oldest pending account to syncing and
// returns it. Returns (nil, nil) when nothing is pending or another worker
// won the race; callers poll again later. The claim transaction is committed
// before any provider I/O starts, so the lock window stays short.
func (r *AccountRepository) ClaimNextPending(ctx context.Context) (*models.Account, error) {
	var account models.Account

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("sync_status = ?", models.SyncPending).
			Order("updated_at ASC").
			Limit(1).
			Find(&account)
		if result.Error != nil {
			return fmt.Errorf("failed to select pending account: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		update := tx.Model(&models.Account{}).
			Where("id = ? AND sync_status = ?", account.ID, models.SyncPending).
			Updates(map[string]interface{}{
				"sync_status": models.SyncSyncing,
				"updated_at":  time.Now(),
			})
		if update.Error != nil {
			return fmt.Errorf("failed to claim account: %w", update.Error)
		}
		if update.RowsAffected == 0 {
			return errClaimLost
		}

		account.SyncStatus = models.SyncSyncing
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, errClaimLost) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// UpdateStatus sets the sync status and bumps updated_at. lastSyncAt is
// written only when provided; a failed run must not erase the last
// known-good sync time.
func (r *AccountRepository) UpdateStatus(ctx context.Context, accountKey string, status models.SyncStatus, lastSyncAt *time.Time) error {
	updates := map[string]interface{}{
		"sync_status": status,
		"updated_at":  time.Now(),
	}
	if lastSyncAt != nil {
		updates["last_sync_at"] = lastSyncAt
	}

	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("account_key = ?", accountKey).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update sync status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UpdateProgress records how far a running sync has gotten. Callers are
// expected to pass non-decreasing current values.
func (r *AccountRepository) UpdateProgress(ctx context.Context, accountKey string, current, total int) error {
	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("account_key = ?", accountKey).
		Updates(map[string]interface{}{
			"sync_progress": current,
			"sync_total":    total,
			"updated_at":    time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update sync progress: %w", result.Error)
	}
	return nil
}

// ResetStuck sweeps accounts left in syncing past the threshold back to
// pending, so a crashed worker's claim is eventually released. Returns the
// number of recovered accounts.
func (r *AccountRepository) ResetStuck(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().Add(-threshold)
	result := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("sync_status = ? AND updated_at < ?", models.SyncSyncing, cutoff).
		Updates(map[string]interface{}{
			"sync_status": models.SyncPending,
			"updated_at":  time.Now(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to reset stuck accounts: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Enqueue creates a pending sync record for the account, or re-enqueues an
// existing one if its previous run already finished. Accounts currently
// pending or syncing are left alone.
func (r *AccountRepository) Enqueue(ctx context.Context, accountKey, gameName, tagLine, region string) error {
	account := models.Account{
		ID:         uuid.New().String(),
		AccountKey: accountKey,
		GameName:   gameName,
		TagLine:    tagLine,
		Region:     region,
		SyncStatus: models.SyncPending,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"sync_status":   models.SyncPending,
			"sync_progress": 0,
			"sync_total":    0,
			"updated_at":    time.Now(),
		}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.IN{Column: clause.Column{Table: "account", Name: "sync_status"},
				Values: []interface{}{models.SyncCompleted, models.SyncFailed}},
		}},
	}).Create(&account)
	if result.Error != nil {
		return fmt.Errorf("failed to enqueue account: %w", result.Error)
	}
	return nil
}

// GetByKey retrieves an account by its provider key
func (r *AccountRepository) GetByKey(ctx context.Context, accountKey string) (*models.Account, error) {
	var account models.Account
	result := r.db.WithContext(ctx).First(&account, "account_key = ?", accountKey)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}
