package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/riftstats/rift-worker/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type MatchRepository struct {
	db *gorm.DB
}

func NewMatchRepository(db *gorm.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// KnownMatchIDs returns the set of match ids already ingested for the account.
func (r *MatchRepository) KnownMatchIDs(ctx context.Context, accountKey string) (map[string]struct{}, error) {
	var ids []string
	result := r.db.WithContext(ctx).Model(&models.Match{}).
		Where("account_key = ?", accountKey).
		Pluck("match_id", &ids)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list known match ids: %w", result.Error)
	}

	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return known, nil
}

// RecordMatch inserts a match row if the (account, match id) pair is new.
// Re-inserting a known match is a no-op, so replays after a partial sync are
// harmless.
func (r *MatchRepository) RecordMatch(ctx context.Context, accountKey, matchID string, gameCreation int64, payload []byte) error {
	match := models.Match{
		ID:           uuid.New().String(),
		AccountKey:   accountKey,
		MatchID:      matchID,
		GameCreation: gameCreation,
		Payload:      payload,
		CreatedAt:    time.Now(),
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_key"}, {Name: "match_id"}},
		DoNothing: true,
	}).Create(&match)
	if result.Error != nil {
		return fmt.Errorf("failed to record match: %w", result.Error)
	}
	return nil
}
