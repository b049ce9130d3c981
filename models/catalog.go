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

// CatalogItem is the row shape shared by services and products.
type CatalogItem struct {
	ID             int             `gorm:"primary_key" json:"id"`
	Name           string          `gorm:"size:255;not null" json:"name"`
	Price          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"price"`
	IsActive       bool            `gorm:"not null;default:true" json:"is_active"`
	RemoteId       *string         `gorm:"size:64;index" json:"remote_id"`
	RemoteSyncedAt *time.Time      `json:"remote_synced_at"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type Service struct {
	CatalogItem
}

type Product struct {
	CatalogItem
}

func (i CatalogItem) IsLinked() bool {
	return i.RemoteId != nil && strings.TrimSpace(*i.RemoteId) != ""
}

func GetCatalogItem(ctx context.Context, db *gorm.DB, kind CatalogKind, id int) (*CatalogItem, error) {
	var result CatalogItem
	if err := db.WithContext(ctx).Table(kind.TableName()).Where("id = ?", id).Take(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

func LinkCatalogItem(ctx context.Context, db *gorm.DB, kind CatalogKind, id int, remoteId string, syncedAt time.Time) error {
	return db.WithContext(ctx).Table(kind.TableName()).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"remote_id":        remoteId,
			"remote_synced_at": syncedAt,
		}).Error
}

// ListActiveCatalogIds returns every active row, linked or not, in id order.
func ListActiveCatalogIds(ctx context.Context, db *gorm.DB, kind CatalogKind) ([]int, error) {
	var result []int
	err := db.WithContext(ctx).Table(kind.TableName()).
		Where("is_active = ?", true).
		Order("id").
		Pluck("id", &result).Error
	return result, err
}
