package models

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmdatafocus/ledger_sync/utils"
	"gorm.io/gorm"
)

type Customer struct {
	ID                int        `gorm:"primary_key" json:"id"`
	FirstName         string     `gorm:"size:100" json:"first_name"`
	LastName          string     `gorm:"size:100" json:"last_name"`
	Email             string     `gorm:"size:100" json:"email"`
	Phone             string     `gorm:"size:30" json:"phone"`
	RemoteId          *string    `gorm:"size:64;index" json:"remote_id"`
	RemoteDisplayName *string    `gorm:"size:255" json:"remote_display_name"`
	RemoteSyncedAt    *time.Time `json:"remote_synced_at"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c Customer) IsLinked() bool {
	return c.RemoteId != nil && strings.TrimSpace(*c.RemoteId) != ""
}

func GetCustomer(ctx context.Context, db *gorm.DB, id int) (*Customer, error) {
	var result Customer
	if err := db.WithContext(ctx).Where("id = ?", id).Take(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// LinkCustomer stores the ledger id and the display name the ledger accepted.
func LinkCustomer(ctx context.Context, db *gorm.DB, id int, remoteId string, displayName string, syncedAt time.Time) error {
	return db.WithContext(ctx).Model(&Customer{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"remote_id":           remoteId,
			"remote_display_name": displayName,
			"remote_synced_at":    syncedAt,
		}).Error
}

// ListUnlinkedCustomerIds filters ids down to customers that exist and have no ledger id yet.
func ListUnlinkedCustomerIds(ctx context.Context, db *gorm.DB, ids []int) ([]int, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var result []int
	err := db.WithContext(ctx).Model(&Customer{}).
		Where("id IN ?", ids).
		Where("remote_id IS NULL OR remote_id = ''").
		Order("id").
		Pluck("id", &result).Error
	return result, err
}
