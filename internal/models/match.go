package models

import "time"

// Match is one ledger row: a match id we have already ingested for an
// account. Payload holds the raw provider document for downstream
// aggregation queries.
type Match struct {
	ID           string    `gorm:"column:id;primaryKey"`
	AccountKey   string    `gorm:"column:account_key;uniqueIndex:idx_account_match"`
	MatchID      string    `gorm:"column:match_id;uniqueIndex:idx_account_match"`
	GameCreation int64     `gorm:"column:game_creation"`
	Payload      []byte    `gorm:"column:payload;type:jsonb"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName specifies the table name for GORM
func (Match) TableName() string {
	return "match"
}
