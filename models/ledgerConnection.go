package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
)

// LedgerConnection is the single settings row for the ledger integration.
type LedgerConnection struct {
	ID                uint       `gorm:"primary_key" json:"id"`
	Provider          string     `gorm:"uniqueIndex;size:50;not null" json:"provider"`
	Status            string     `gorm:"size:20;not null" json:"status"`
	Environment       string     `gorm:"size:20;not null;default:'sandbox'" json:"environment"`
	RealmId           string     `gorm:"size:100" json:"realm_id"`
	Enabled           bool       `gorm:"not null;default:false" json:"enabled"`
	SettingsJSON      []byte     `gorm:"type:json" json:"settings"`
	IncomeAccountId   string     `gorm:"size:64" json:"income_account_id"`
	DepositAccountId  string     `gorm:"size:64" json:"deposit_account_id"`
	LastSyncAt        *time.Time `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time `json:"last_success_sync_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// AutoSyncToggles are persisted inside SettingsJSON.
type AutoSyncToggles struct {
	Transactions bool `json:"transactions"`
	Customers    bool `json:"customers"`
	Catalog      bool `json:"catalog"`
}

func DecodeAutoSyncToggles(raw []byte) AutoSyncToggles {
	if len(raw) == 0 {
		return AutoSyncToggles{}
	}
	var toggles AutoSyncToggles
	if err := json.Unmarshal(raw, &toggles); err != nil {
		return AutoSyncToggles{}
	}
	return toggles
}

func EncodeAutoSyncToggles(toggles AutoSyncToggles) []byte {
	b, _ := json.Marshal(toggles)
	return b
}

// GetLedgerConnection returns nil without error when the integration was never configured.
func GetLedgerConnection(ctx context.Context, db *gorm.DB) (*LedgerConnection, error) {
	var conn LedgerConnection
	err := db.WithContext(ctx).Where("provider = ?", LedgerProvider).Take(&conn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conn, nil
}

func SaveLedgerConnection(ctx context.Context, db *gorm.DB, conn *LedgerConnection) error {
	if conn.Provider == "" {
		conn.Provider = LedgerProvider
	}
	return db.WithContext(ctx).Save(conn).Error
}

// TouchLedgerLastSync stamps last_sync_at, and last_success_sync_at when the run had no failures.
func TouchLedgerLastSync(ctx context.Context, db *gorm.DB, at time.Time, success bool) error {
	updates := map[string]interface{}{"last_sync_at": at}
	if success {
		updates["last_success_sync_at"] = at
	}
	return db.WithContext(ctx).Model(&LedgerConnection{}).
		Where("provider = ?", LedgerProvider).
		Updates(updates).Error
}

// ResetLedgerLinks clears every remote link so the next sync starts from an empty ledger.
// This is the only path that removes a remote_id.
func ResetLedgerLinks(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Customer{}).Where("1 = 1").Updates(map[string]interface{}{
			"remote_id":           nil,
			"remote_display_name": nil,
			"remote_synced_at":    nil,
		}).Error; err != nil {
			return err
		}
		for _, kind := range []CatalogKind{CatalogKindService, CatalogKindProduct} {
			if err := tx.Table(kind.TableName()).Where("1 = 1").Updates(map[string]interface{}{
				"remote_id":        nil,
				"remote_synced_at": nil,
			}).Error; err != nil {
				return err
			}
		}
		return tx.Model(&Transaction{}).Where("1 = 1").Updates(map[string]interface{}{
			"remote_id":              nil,
			"remote_sync_status":     SyncStatusUnsynced,
			"remote_sync_error":      nil,
			"remote_synced_at":       nil,
			"remote_sync_claimed_at": nil,
		}).Error
	})
}
