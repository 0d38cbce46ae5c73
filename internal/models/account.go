package models

import "time"

type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncSyncing   SyncStatus = "syncing"
	SyncCompleted SyncStatus = "completed"
	SyncFailed    SyncStatus = "failed"
)

// Account is one linked player account whose match history we mirror.
// AccountKey is the provider-issued opaque id (stable across renames).
type Account struct {
	ID           string     `gorm:"column:id;primaryKey"`
	AccountKey   string     `gorm:"column:account_key;uniqueIndex"`
	GameName     string     `gorm:"column:game_name"`
	TagLine      string     `gorm:"column:tag_line"`
	Region       string     `gorm:"column:region"`
	SyncStatus   SyncStatus `gorm:"column:sync_status"`
	SyncProgress int        `gorm:"column:sync_progress"`
	SyncTotal    int        `gorm:"column:sync_total"`
	LastSyncAt   *time.Time `gorm:"column:last_sync_at"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

// TableName specifies the table name for GORM
func (Account) TableName() string {
	return "account"
}
