package ledgersync

import (
	"context"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/ledger_sync/config"
	"github.com/mmdatafocus/ledger_sync/ledger"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("ledger-sync")

type Options struct {
	Location   *time.Location
	ItemDelay  time.Duration
	ChunkDelay time.Duration
	ChunkSize  int
	ClaimLease time.Duration
	// DayLimit caps transactions per batch run; 0 means no cap.
	DayLimit int
	RunLease time.Duration
	Locker   *redislock.Client
	Logger   *logrus.Logger
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
}

func OptionsFromEnv() Options {
	return Options{
		Location:   config.SyncLocation(),
		ItemDelay:  config.SyncItemDelay(),
		ChunkDelay: config.SyncChunkDelay(),
		ChunkSize:  config.SyncChunkSize(),
		ClaimLease: config.SyncClaimLease(),
		DayLimit:   config.SyncDayLimit(),
		RunLease:   30 * time.Minute,
		Locker:     config.GetRedisLock(),
		Logger:     config.GetLogger(),
	}
}

// GatewayFactory builds the ledger client for the current connection settings.
type GatewayFactory func(settings Settings) (ledger.Gateway, error)

func StaticGateway(gw ledger.Gateway) GatewayFactory {
	return func(Settings) (ledger.Gateway, error) { return gw, nil }
}

// HTTPGatewayFactory reuses one client per environment and realm so its rate limiter is shared.
func HTTPGatewayFactory() GatewayFactory {
	var mu sync.Mutex
	clients := map[string]*ledger.Client{}
	return func(settings Settings) (ledger.Gateway, error) {
		key := settings.Environment + "/" + settings.RealmId
		mu.Lock()
		defer mu.Unlock()
		if c, ok := clients[key]; ok {
			return c, nil
		}
		c, err := ledger.NewClient(ledger.ConfigFromEnv(settings.Environment, settings.RealmId))
		if err != nil {
			return nil, err
		}
		clients[key] = c
		return c, nil
	}
}

type Syncer struct {
	db       *gorm.DB
	settings *SettingsStore
	gateways GatewayFactory
	logger   *logrus.Logger
	opts     Options
}

func NewSyncer(db *gorm.DB, settings *SettingsStore, gateways GatewayFactory, opts Options) *Syncer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 25
	}
	if opts.ClaimLease <= 0 {
		opts.ClaimLease = 10 * time.Minute
	}
	if opts.RunLease <= 0 {
		opts.RunLease = 30 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = config.GetLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	return &Syncer{
		db:       db,
		settings: settings,
		gateways: gateways,
		logger:   opts.Logger,
		opts:     opts,
	}
}

func (s *Syncer) Settings() *SettingsStore {
	return s.settings
}

func (s *Syncer) Location() *time.Location {
	return s.opts.Location
}

func (s *Syncer) now() time.Time {
	return s.opts.Now().UTC()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// session is the state shared by every entity synced in one call or one batch run.
type session struct {
	settings     Settings
	gateway      ledger.Gateway
	placeholders *PlaceholderResolver
}

// begin checks the enabled gate and builds the gateway. No log row is written for a refusal.
func (s *Syncer) begin(ctx context.Context) (*session, error) {
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.SyncEnabled() {
		return nil, ErrSyncDisabled
	}
	gw, err := s.gateways(settings)
	if err != nil {
		return nil, err
	}
	return &session{
		settings:     settings,
		gateway:      gw,
		placeholders: NewPlaceholderResolver(gw, settings.IncomeAccountId),
	}, nil
}
