package models

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// LedgerSyncLog is append-only: one row per sync attempt that got past its preconditions.
type LedgerSyncLog struct {
	ID              uint          `gorm:"primary_key" json:"id"`
	EntityType      EntityType    `gorm:"size:20;index:idx_ledger_sync_log_entity,priority:1;not null" json:"entity_type"`
	EntityId        int           `gorm:"index:idx_ledger_sync_log_entity,priority:2;not null" json:"entity_id"`
	Action          SyncAction    `gorm:"size:10;not null" json:"action"`
	Outcome         SyncOutcome   `gorm:"size:20" json:"outcome"`
	RemoteId        *string       `gorm:"size:64" json:"remote_id"`
	Status          SyncLogStatus `gorm:"size:10;index;not null" json:"status"`
	ErrorMessage    *string       `gorm:"type:text" json:"error_message"`
	RequestPayload  *string       `gorm:"type:text" json:"request_payload"`
	ResponsePayload *string       `gorm:"type:text" json:"response_payload"`
	DurationMs      int64         `json:"duration_ms"`
	Source          SyncSource    `gorm:"size:20" json:"source"`
	RunId           *uint         `gorm:"index" json:"run_id"`
	CorrelationId   string        `gorm:"size:64" json:"correlation_id"`
	CreatedAt       time.Time     `gorm:"autoCreateTime;index" json:"created_at"`
}

type SyncLogFilter struct {
	EntityType *EntityType
	EntityId   *int
	Status     *SyncLogStatus
	RunId      *uint
	Since      *time.Time
	Until      *time.Time
	Limit      int
	Offset     int
}

func CreateLedgerSyncLog(ctx context.Context, db *gorm.DB, entry *LedgerSyncLog) error {
	return db.WithContext(ctx).Create(entry).Error
}

// ListLedgerSyncLogs returns newest entries first.
func ListLedgerSyncLogs(ctx context.Context, db *gorm.DB, filter SyncLogFilter) ([]LedgerSyncLog, error) {
	query := db.WithContext(ctx).Model(&LedgerSyncLog{})
	if filter.EntityType != nil {
		query = query.Where("entity_type = ?", *filter.EntityType)
	}
	if filter.EntityId != nil {
		query = query.Where("entity_id = ?", *filter.EntityId)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.RunId != nil {
		query = query.Where("run_id = ?", *filter.RunId)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", filter.Since.UTC())
	}
	if filter.Until != nil {
		query = query.Where("created_at < ?", filter.Until.UTC())
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}
	var results []LedgerSyncLog
	err := query.Order("created_at DESC").Order("id DESC").Find(&results).Error
	return results, err
}
