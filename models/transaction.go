package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/ledger_sync/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Transaction struct {
	ID                  int               `gorm:"primary_key" json:"id"`
	ReceiptNumber       string            `gorm:"size:50;index" json:"receipt_number"`
	TotalAmount         decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	DiscountAmount      decimal.Decimal   `gorm:"type:decimal(20,4);default:0" json:"discount_amount"`
	CustomerId          *int              `gorm:"index" json:"customer_id"`
	Status              TransactionStatus `gorm:"size:20;not null;default:'completed'" json:"status"`
	PaymentMethod       string            `gorm:"size:50" json:"payment_method"`
	EmployeeName        string            `gorm:"size:100" json:"employee_name"`
	CouponId            *int              `json:"coupon_id"`
	CouponCode          string            `gorm:"size:50" json:"coupon_code"`
	RemoteId            *string           `gorm:"size:64" json:"remote_id"`
	RemoteSyncStatus    SyncStatus        `gorm:"size:20;default:'unsynced';index" json:"remote_sync_status"`
	RemoteSyncError     *string           `gorm:"type:text" json:"remote_sync_error"`
	RemoteSyncedAt      *time.Time        `json:"remote_synced_at"`
	RemoteSyncClaimedAt *time.Time        `json:"remote_sync_claimed_at"`
	Lines               []TransactionLine `gorm:"foreignKey:TransactionId" json:"lines"`
	CreatedAt           time.Time         `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt           time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

type TransactionLine struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TransactionId int             `gorm:"index;not null" json:"transaction_id"`
	ServiceId     *int            `json:"service_id"`
	ProductId     *int            `json:"product_id"`
	ItemName      string          `gorm:"size:255" json:"item_name"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"quantity"`
	UnitPrice     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
}

// Timestamps are compared as instants across timezones; keep them in UTC at rest.
func (t *Transaction) BeforeSave(tx *gorm.DB) error {
	if !t.CreatedAt.IsZero() {
		t.CreatedAt = t.CreatedAt.UTC()
	}
	for _, line := range t.Lines {
		if line.ServiceId != nil && line.ProductId != nil {
			return errors.New("transaction line cannot reference both a service and a product")
		}
	}
	return nil
}

func (t Transaction) IsLinked() bool {
	return t.RemoteId != nil && strings.TrimSpace(*t.RemoteId) != ""
}

// retryable statuses for day sweeps; NULL covers rows written before the column existed.
var retryableSyncStatuses = []SyncStatus{SyncStatusUnsynced, SyncStatusFailed, SyncStatusPending}

func GetTransaction(ctx context.Context, db *gorm.DB, id int) (*Transaction, error) {
	var result Transaction
	err := db.WithContext(ctx).
		Preload("Lines", func(tx *gorm.DB) *gorm.DB { return tx.Order("id") }).
		Where("id = ?", id).
		Take(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// ClaimTransactionForSync moves the row to pending only if nobody else holds it.
// A pending claim older than lease counts as abandoned and can be taken over.
// Returns false when another run owns the row or it is already synced/skipped.
func ClaimTransactionForSync(ctx context.Context, db *gorm.DB, id int, now time.Time, lease time.Duration) (bool, error) {
	now = now.UTC()
	staleBefore := now.Add(-lease)
	res := db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ?", id).
		Where(
			db.Where("remote_sync_status IS NULL").
				Or("remote_sync_status IN ?", []SyncStatus{SyncStatusUnsynced, SyncStatusFailed}).
				Or("remote_sync_status = ? AND (remote_sync_claimed_at IS NULL OR remote_sync_claimed_at < ?)", SyncStatusPending, staleBefore),
		).
		Updates(map[string]interface{}{
			"remote_sync_status":     SyncStatusPending,
			"remote_sync_claimed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func MarkTransactionSkipped(ctx context.Context, db *gorm.DB, id int) error {
	return db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"remote_sync_status":     SyncStatusSkipped,
			"remote_sync_error":      nil,
			"remote_sync_claimed_at": nil,
		}).Error
}

func MarkTransactionSynced(ctx context.Context, db *gorm.DB, id int, remoteId string, syncedAt time.Time) error {
	return db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"remote_id":              remoteId,
			"remote_sync_status":     SyncStatusSynced,
			"remote_sync_error":      nil,
			"remote_synced_at":       syncedAt,
			"remote_sync_claimed_at": nil,
		}).Error
}

func MarkTransactionFailed(ctx context.Context, db *gorm.DB, id int, message string) error {
	return db.WithContext(ctx).Model(&Transaction{}).
		Where("id = ?", id).
		Where("remote_sync_status <> ?", SyncStatusSynced).
		Updates(map[string]interface{}{
			"remote_sync_status":     SyncStatusFailed,
			"remote_sync_error":      message,
			"remote_sync_claimed_at": nil,
		}).Error
}

// ListUnsyncedTransactions returns completed sales created in [start, end) that still need
// to reach the ledger, oldest first. limit <= 0 means no cap.
func ListUnsyncedTransactions(ctx context.Context, db *gorm.DB, start time.Time, end time.Time, limit int) ([]Transaction, error) {
	query := db.WithContext(ctx).Model(&Transaction{}).
		Where("status = ?", TransactionStatusCompleted).
		Where("created_at >= ? AND created_at < ?", start.UTC(), end.UTC()).
		Where(db.Where("remote_sync_status IS NULL").Or("remote_sync_status IN ?", retryableSyncStatuses)).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var result []Transaction
	err := query.Find(&result).Error
	return result, err
}

// ListFailedTransactions returns every failed completed sale regardless of day, oldest first.
func ListFailedTransactions(ctx context.Context, db *gorm.DB, limit int) ([]Transaction, error) {
	query := db.WithContext(ctx).Model(&Transaction{}).
		Where("status = ?", TransactionStatusCompleted).
		Where("remote_sync_status = ?", SyncStatusFailed).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var result []Transaction
	err := query.Find(&result).Error
	return result, err
}
