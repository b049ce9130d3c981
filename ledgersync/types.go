package ledgersync

import (
	"errors"
	"time"

	"github.com/mmdatafocus/ledger_sync/models"
)

var (
	ErrSyncDisabled         = errors.New("ledger sync is disabled")
	ErrIncomeAccountMissing = errors.New("income account mapping is not configured")
	ErrRunInProgress        = errors.New("another ledger sync run is in progress")
	ErrInvalidDate          = errors.New("invalid business date, expected YYYY-MM-DD")
)

// Result is what every single-entity sync returns. Failures are reported here, never as a Go error.
type Result struct {
	Success  bool               `json:"success"`
	RemoteId string             `json:"remote_id,omitempty"`
	Error    string             `json:"error,omitempty"`
	Outcome  models.SyncOutcome `json:"outcome"`
}

func failResult(err error) Result {
	return Result{Success: false, Error: err.Error(), Outcome: models.SyncOutcomeFailed}
}

type BatchResult struct {
	Total  int      `json:"total"`
	Synced int      `json:"synced"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors"`
	RunId  uint     `json:"run_id,omitempty"`
}

type CatalogResult struct {
	ServicesSynced int      `json:"services_synced"`
	ServicesFailed int      `json:"services_failed"`
	ProductsSynced int      `json:"products_synced"`
	ProductsFailed int      `json:"products_failed"`
	Errors         []string `json:"errors"`
	RunId          uint     `json:"run_id,omitempty"`
}

type DayResult struct {
	Date            string `json:"date,omitempty"`
	Total           int    `json:"total"`
	Synced          int    `json:"synced"`
	Failed          int    `json:"failed"`
	AlreadySynced   int    `json:"already_synced"`
	Skipped         int    `json:"skipped"`
	InProgress      int    `json:"in_progress"`
	CustomersSynced int    `json:"customers_synced"`
	CustomersFailed int    `json:"customers_failed"`
	RunId           uint   `json:"run_id,omitempty"`
}

func (r *DayResult) count(outcome models.SyncOutcome) {
	switch outcome {
	case models.SyncOutcomeCreated, models.SyncOutcomeUpdated, models.SyncOutcomeLinked:
		r.Synced++
	case models.SyncOutcomeAlreadySynced:
		r.AlreadySynced++
	case models.SyncOutcomeSkipped:
		r.Skipped++
	case models.SyncOutcomeInProgress:
		r.InProgress++
	default:
		r.Failed++
	}
}

// Settings is the typed view of the persisted ledger connection.
type Settings struct {
	Status            string                 `json:"status"`
	Environment       string                 `json:"environment"`
	RealmId           string                 `json:"realm_id"`
	Enabled           bool                   `json:"enabled"`
	AutoSync          models.AutoSyncToggles `json:"auto_sync"`
	IncomeAccountId   string                 `json:"income_account_id"`
	DepositAccountId  string                 `json:"deposit_account_id"`
	LastSyncAt        *time.Time             `json:"last_sync_at"`
	LastSuccessSyncAt *time.Time             `json:"last_success_sync_at"`
}

const (
	EventTransactionCompleted = "transaction.completed"
	EventCustomerSaved        = "customer.saved"
	EventServiceSaved         = "service.saved"
	EventProductSaved         = "product.saved"
	EventDayClose             = "day.close"
	EventRetryFailed          = "retry.failed"
)

// SyncEvent is the Pub/Sub payload published by the POS and the scheduler.
type SyncEvent struct {
	Type          string `json:"type"`
	EntityId      int    `json:"entity_id,omitempty"`
	Date          string `json:"date,omitempty"`
	CorrelationId string `json:"correlation_id,omitempty"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

type ConnectRequest struct {
	RealmId     string `json:"realm_id" validate:"required,max=100"`
	Environment string `json:"environment" validate:"required,oneof=sandbox production"`
}

type UpdateSettingsRequest struct {
	Enabled          *bool                   `json:"enabled"`
	Environment      *string                 `json:"environment" validate:"omitempty,oneof=sandbox production"`
	AutoSync         *models.AutoSyncToggles `json:"auto_sync"`
	IncomeAccountId  *string                 `json:"income_account_id" validate:"omitempty,max=64"`
	DepositAccountId *string                 `json:"deposit_account_id" validate:"omitempty,max=64"`
}

type SyncDayRequest struct {
	Date  string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	Async bool   `json:"async"`
}

type StatusResponse struct {
	Settings    Settings `json:"settings"`
	SyncEnabled bool     `json:"sync_enabled"`
	Timezone    string   `json:"timezone"`
}

type SyncRunResponse struct {
	ID            uint    `json:"id"`
	Kind          string  `json:"kind"`
	BusinessDate  *string `json:"business_date"`
	Status        string  `json:"status"`
	StartedAt     *string `json:"started_at"`
	FinishedAt    *string `json:"finished_at"`
	DurationMs    int64   `json:"duration_ms"`
	RecordsSynced int     `json:"records_synced"`
	ErrorCount    int     `json:"error_count"`
	TriggeredBy   string  `json:"triggered_by"`
	TriggeredById *int    `json:"triggered_by_id"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Logs []models.LedgerSyncLog `json:"logs"`
}
