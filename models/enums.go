package models

type SyncStatus string

const (
	SyncStatusUnsynced SyncStatus = "unsynced"
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusFailed   SyncStatus = "failed"
	SyncStatusSkipped  SyncStatus = "skipped"
)

func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusUnsynced, SyncStatusPending, SyncStatusSynced, SyncStatusFailed, SyncStatusSkipped:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusVoided    TransactionStatus = "voided"
	TransactionStatusRefunded  TransactionStatus = "refunded"
)

type EntityType string

const (
	EntityTypeCustomer    EntityType = "customer"
	EntityTypeService     EntityType = "service"
	EntityTypeProduct     EntityType = "product"
	EntityTypeTransaction EntityType = "transaction"
)

// CatalogKind selects between the two catalog tables. Both share the CatalogItem shape.
type CatalogKind string

const (
	CatalogKindService CatalogKind = "service"
	CatalogKindProduct CatalogKind = "product"
)

func (k CatalogKind) IsValid() bool {
	return k == CatalogKindService || k == CatalogKindProduct
}

func (k CatalogKind) TableName() string {
	if k == CatalogKindProduct {
		return "products"
	}
	return "services"
}

func (k CatalogKind) EntityType() EntityType {
	if k == CatalogKindProduct {
		return EntityTypeProduct
	}
	return EntityTypeService
}

type SyncAction string

const (
	SyncActionCreate SyncAction = "create"
	SyncActionUpdate SyncAction = "update"
)

type SyncLogStatus string

const (
	SyncLogStatusSuccess SyncLogStatus = "success"
	SyncLogStatusFailed  SyncLogStatus = "failed"
)

// SyncOutcome says which path a single-entity sync took.
type SyncOutcome string

const (
	SyncOutcomeCreated       SyncOutcome = "created"
	SyncOutcomeUpdated       SyncOutcome = "updated"
	SyncOutcomeLinked        SyncOutcome = "linked"
	SyncOutcomeAlreadySynced SyncOutcome = "already_synced"
	SyncOutcomeSkipped       SyncOutcome = "skipped"
	SyncOutcomeInProgress    SyncOutcome = "in_progress"
	SyncOutcomeFailed        SyncOutcome = "failed"
)

type SyncSource string

const (
	SyncSourceManual SyncSource = "manual"
	SyncSourceHook   SyncSource = "hook"
	SyncSourceBatch  SyncSource = "batch"
	SyncSourceBulk   SyncSource = "bulk"
	SyncSourceRetry  SyncSource = "retry"
	SyncSourceCLI    SyncSource = "cli"
	// SyncSourceInline marks a customer or item synced on demand while building a sales receipt.
	SyncSourceInline SyncSource = "inline"
)

const (
	LedgerProvider = "ledger"
)

const (
	ConnectionStatusConnected    = "connected"
	ConnectionStatusDisconnected = "disconnected"
	ConnectionStatusError        = "error"
)

const (
	LedgerEnvironmentSandbox    = "sandbox"
	LedgerEnvironmentProduction = "production"
)

const (
	SyncRunStatusQueued  = "queued"
	SyncRunStatusRunning = "running"
	SyncRunStatusSuccess = "success"
	SyncRunStatusFailed  = "failed"
	SyncRunStatusPartial = "partial"
)

const (
	SyncRunKindDay       = "day"
	SyncRunKindCatalog   = "catalog"
	SyncRunKindCustomers = "customers"
	SyncRunKindRetry     = "retry"
)
