package ledgersync

import (
	"context"
	"time"

	"github.com/mmdatafocus/ledger_sync/config"
	"github.com/mmdatafocus/ledger_sync/models"
	"gorm.io/gorm"
)

const settingsCacheKey = "LedgerSyncSettings"

// SettingsStore reads the ledger connection row on demand, through Redis when it is configured.
type SettingsStore struct {
	db       *gorm.DB
	cacheTTL time.Duration
}

func NewSettingsStore(db *gorm.DB) *SettingsStore {
	return &SettingsStore{db: db, cacheTTL: 5 * time.Minute}
}

// SyncEnabled is the single gate every write path checks.
func (s Settings) SyncEnabled() bool {
	return config.LedgerSyncFeatureEnabled() && s.Enabled && s.Status == models.ConnectionStatusConnected
}

func defaultSettings() Settings {
	return Settings{
		Status:      models.ConnectionStatusDisconnected,
		Environment: models.LedgerEnvironmentSandbox,
	}
}

func settingsFromConnection(conn *models.LedgerConnection) Settings {
	if conn == nil {
		return defaultSettings()
	}
	return Settings{
		Status:            conn.Status,
		Environment:       conn.Environment,
		RealmId:           conn.RealmId,
		Enabled:           conn.Enabled,
		AutoSync:          models.DecodeAutoSyncToggles(conn.SettingsJSON),
		IncomeAccountId:   conn.IncomeAccountId,
		DepositAccountId:  conn.DepositAccountId,
		LastSyncAt:        conn.LastSyncAt,
		LastSuccessSyncAt: conn.LastSuccessSyncAt,
	}
}

func (s *SettingsStore) Get(ctx context.Context) (Settings, error) {
	var cached Settings
	exists, err := config.GetRedisObject(settingsCacheKey, &cached)
	if err != nil {
		config.LogError(config.GetLogger(), "ledgersync", "SettingsStore.Get", "read settings cache", nil, err)
	}
	if exists {
		return cached, nil
	}

	conn, err := models.GetLedgerConnection(ctx, s.db)
	if err != nil {
		return Settings{}, err
	}
	settings := settingsFromConnection(conn)
	if err := config.SetRedisObject(settingsCacheKey, settings, s.cacheTTL); err != nil {
		config.LogError(config.GetLogger(), "ledgersync", "SettingsStore.Get", "write settings cache", nil, err)
	}
	return settings, nil
}

func (s *SettingsStore) invalidate() {
	if err := config.RemoveRedisKey(settingsCacheKey); err != nil {
		config.LogError(config.GetLogger(), "ledgersync", "SettingsStore.invalidate", "remove settings cache", nil, err)
	}
}

// mutate loads (or starts) the connection row, applies fn and saves it.
func (s *SettingsStore) mutate(ctx context.Context, fn func(conn *models.LedgerConnection)) (Settings, error) {
	conn, err := models.GetLedgerConnection(ctx, s.db)
	if err != nil {
		return Settings{}, err
	}
	if conn == nil {
		conn = &models.LedgerConnection{
			Provider:    models.LedgerProvider,
			Status:      models.ConnectionStatusDisconnected,
			Environment: models.LedgerEnvironmentSandbox,
		}
	}
	fn(conn)
	if err := models.SaveLedgerConnection(ctx, s.db, conn); err != nil {
		return Settings{}, err
	}
	s.invalidate()
	return settingsFromConnection(conn), nil
}

func (s *SettingsStore) Connect(ctx context.Context, realmId string, environment string) (Settings, error) {
	return s.mutate(ctx, func(conn *models.LedgerConnection) {
		conn.Status = models.ConnectionStatusConnected
		conn.RealmId = realmId
		conn.Environment = environment
	})
}

func (s *SettingsStore) Disconnect(ctx context.Context) (Settings, error) {
	return s.mutate(ctx, func(conn *models.LedgerConnection) {
		conn.Status = models.ConnectionStatusDisconnected
		conn.Enabled = false
	})
}

func (s *SettingsStore) Update(ctx context.Context, req UpdateSettingsRequest) (Settings, error) {
	return s.mutate(ctx, func(conn *models.LedgerConnection) {
		if req.Enabled != nil {
			conn.Enabled = *req.Enabled
		}
		if req.Environment != nil {
			conn.Environment = *req.Environment
		}
		if req.AutoSync != nil {
			conn.SettingsJSON = models.EncodeAutoSyncToggles(*req.AutoSync)
		}
		if req.IncomeAccountId != nil {
			conn.IncomeAccountId = *req.IncomeAccountId
		}
		if req.DepositAccountId != nil {
			conn.DepositAccountId = *req.DepositAccountId
		}
	})
}

func (s *SettingsStore) TouchLastSync(ctx context.Context, at time.Time, success bool) error {
	if err := models.TouchLedgerLastSync(ctx, s.db, at.UTC(), success); err != nil {
		return err
	}
	s.invalidate()
	return nil
}
