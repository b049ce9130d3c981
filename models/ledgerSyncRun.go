package models

import (
	"context"
	"errors"
	"time"

	"github.com/mmdatafocus/ledger_sync/utils"
	"gorm.io/gorm"
)

type LedgerSyncRun struct {
	ID            uint       `gorm:"primary_key" json:"id"`
	Kind          string     `gorm:"size:20;index;not null" json:"kind"`
	BusinessDate  *string    `gorm:"size:10;index" json:"business_date"`
	Status        string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy   SyncSource `gorm:"size:20" json:"triggered_by"`
	TriggeredById *int       `json:"triggered_by_id"`
	StatsJSON     []byte     `gorm:"type:json" json:"stats"`
	RecordsSynced int        `json:"records_synced"`
	ErrorCount    int        `json:"error_count"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	DurationMs    int64      `json:"duration_ms"`
	CorrelationId string     `gorm:"size:64" json:"correlation_id"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func CreateLedgerSyncRun(ctx context.Context, db *gorm.DB, run *LedgerSyncRun) error {
	return db.WithContext(ctx).Create(run).Error
}

// FinishLedgerSyncRun derives the final status from the counts: all good is success,
// nothing good is failed, anything in between is partial.
func FinishLedgerSyncRun(ctx context.Context, db *gorm.DB, run *LedgerSyncRun, finishedAt time.Time, synced int, failed int, stats []byte) error {
	status := SyncRunStatusSuccess
	if failed > 0 {
		status = SyncRunStatusPartial
		if synced == 0 {
			status = SyncRunStatusFailed
		}
	}
	var duration int64
	if run.StartedAt != nil {
		duration = finishedAt.Sub(*run.StartedAt).Milliseconds()
	}
	run.Status = status
	run.RecordsSynced = synced
	run.ErrorCount = failed
	run.StatsJSON = stats
	run.FinishedAt = &finishedAt
	run.DurationMs = duration
	return db.WithContext(ctx).Model(&LedgerSyncRun{}).
		Where("id = ?", run.ID).
		Updates(map[string]interface{}{
			"status":         status,
			"records_synced": synced,
			"error_count":    failed,
			"stats_json":     stats,
			"finished_at":    finishedAt,
			"duration_ms":    duration,
		}).Error
}

func GetLedgerSyncRun(ctx context.Context, db *gorm.DB, id uint) (*LedgerSyncRun, error) {
	var run LedgerSyncRun
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &run, nil
}

func ListLedgerSyncRuns(ctx context.Context, db *gorm.DB, limit int) ([]LedgerSyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var runs []LedgerSyncRun
	err := db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&runs).Error
	return runs, err
}
