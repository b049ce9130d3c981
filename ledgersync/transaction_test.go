package ledgersync

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/ledger_sync/ledger"
	"github.com/mmdatafocus/ledger_sync/models"
)

func TestSyncTransactionCreatesCustomerItemAndReceipt(t *testing.T) {
	env := newTestEnv(t)
	jane := env.createCustomer(t, "Jane", "Doe", "555-1234")
	wax := env.createService(t, "Wax", "45")
	createdAt := time.Date(2024, 3, 10, 14, 0, 0, 0, testLocation)
	txn := env.createTransaction(t, &jane.ID, "45", createdAt,
		lineInput{serviceId: &wax.ID, name: "Wax", qty: "1", price: "45"})

	r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if !r.Success || r.Outcome != models.SyncOutcomeCreated {
		t.Fatalf("SyncTransaction = %+v, want created", r)
	}

	if got := env.ledger.count("CreateCustomer"); got != 1 {
		t.Fatalf("CreateCustomer calls = %d, want 1", got)
	}
	if got := env.ledger.count("CreateItem"); got != 1 {
		t.Fatalf("CreateItem calls = %d, want 1", got)
	}
	if got := len(env.ledger.receipts); got != 1 {
		t.Fatalf("receipts = %d, want 1", got)
	}

	remoteJane := env.ledger.customerByName("Jane Doe")
	if remoteJane == nil {
		t.Fatalf("ledger customer Jane Doe not created")
	}
	if remoteJane.PrimaryPhone == nil || remoteJane.PrimaryPhone.FreeFormNumber != "555-1234" {
		t.Fatalf("ledger customer phone = %+v, want 555-1234", remoteJane.PrimaryPhone)
	}
	receipt := env.ledger.receipts[0]
	if receipt.CustomerRef == nil || receipt.CustomerRef.Value != remoteJane.Id {
		t.Fatalf("receipt customer = %+v, want %s", receipt.CustomerRef, remoteJane.Id)
	}
	if receipt.TxnDate != "2024-03-10" {
		t.Fatalf("TxnDate = %q, want 2024-03-10", receipt.TxnDate)
	}
	if receipt.DocNumber != txn.ReceiptNumber {
		t.Fatalf("DocNumber = %q, want %q", receipt.DocNumber, txn.ReceiptNumber)
	}
	if !strings.Contains(receipt.PrivateNote, "Payment: card") || !strings.Contains(receipt.PrivateNote, "Employee: Sam") {
		t.Fatalf("PrivateNote = %q", receipt.PrivateNote)
	}
	if len(receipt.Line) != 1 {
		t.Fatalf("receipt lines = %d, want 1", len(receipt.Line))
	}
	line := receipt.Line[0]
	if line.Amount.Decimal().StringFixed(2) != "45.00" {
		t.Fatalf("line amount = %s, want 45.00", line.Amount.Decimal().StringFixed(2))
	}

	reloadedWax, err := models.GetCatalogItem(env.ctx, env.db, models.CatalogKindService, wax.ID)
	if err != nil {
		t.Fatalf("reload service: %v", err)
	}
	if !reloadedWax.IsLinked() || line.SalesItemLineDetail.ItemRef.Value != *reloadedWax.RemoteId {
		t.Fatalf("line item ref = %+v, service remote id = %v", line.SalesItemLineDetail.ItemRef, reloadedWax.RemoteId)
	}

	stored := env.transaction(t, txn.ID)
	if stored.RemoteSyncStatus != models.SyncStatusSynced {
		t.Fatalf("status = %s, want synced", stored.RemoteSyncStatus)
	}
	if stored.RemoteId == nil || *stored.RemoteId != r.RemoteId {
		t.Fatalf("remote id = %v, want %s", stored.RemoteId, r.RemoteId)
	}
	if stored.RemoteSyncClaimedAt != nil {
		t.Fatalf("claim not released: %v", stored.RemoteSyncClaimedAt)
	}

	for _, tc := range []struct {
		entityType models.EntityType
		id         int
	}{
		{models.EntityTypeCustomer, jane.ID},
		{models.EntityTypeService, wax.ID},
		{models.EntityTypeTransaction, txn.ID},
	} {
		logs := env.logs(t, tc.entityType, tc.id)
		if len(logs) != 1 {
			t.Fatalf("%s logs = %d, want 1", tc.entityType, len(logs))
		}
		if logs[0].Status != models.SyncLogStatusSuccess || logs[0].RemoteId == nil {
			t.Fatalf("%s log = %+v, want success with remote id", tc.entityType, logs[0])
		}
		if logs[0].RequestPayload == nil || logs[0].ResponsePayload == nil {
			t.Fatalf("%s log is missing payloads", tc.entityType)
		}
	}
	if logs := env.logs(t, models.EntityTypeCustomer, jane.ID); logs[0].Source != models.SyncSourceInline {
		t.Fatalf("customer log source = %s, want inline", logs[0].Source)
	}
	if got := env.countLogs(t); got != 3 {
		t.Fatalf("log rows = %d, want 3", got)
	}
}

func TestSyncTransactionSendsFractionalQuantityUnrounded(t *testing.T) {
	env := newTestEnv(t)
	svc := env.createService(t, "Ribbon", "3")
	txn := env.createTransaction(t, nil, "1", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation),
		lineInput{serviceId: &svc.ID, name: "Ribbon", qty: "0.333", price: "3"})

	r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if !r.Success {
		t.Fatalf("SyncTransaction = %+v, want success", r)
	}
	line := env.ledger.receipts[0].Line[0]
	detail := line.SalesItemLineDetail
	if detail.Qty.Decimal().String() != "0.333" || detail.UnitPrice.Decimal().String() != "3" {
		t.Fatalf("line detail qty=%s price=%s, want 0.333 and 3", detail.Qty.Decimal(), detail.UnitPrice.Decimal())
	}
	if got := line.Amount.Decimal().StringFixed(2); got != "1.00" {
		t.Fatalf("line amount = %s, want 1.00", got)
	}
}

func TestSyncTransactionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createTransaction(t, nil, "12.50", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))

	first := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if !first.Success {
		t.Fatalf("first sync failed: %+v", first)
	}
	logsAfterFirst := env.countLogs(t)

	second := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if !second.Success || second.Outcome != models.SyncOutcomeAlreadySynced {
		t.Fatalf("second sync = %+v, want already_synced", second)
	}
	if second.RemoteId != first.RemoteId {
		t.Fatalf("remote id changed: %s -> %s", first.RemoteId, second.RemoteId)
	}
	if got := len(env.ledger.receipts); got != 1 {
		t.Fatalf("receipts = %d, want 1", got)
	}
	if got := env.countLogs(t); got != logsAfterFirst {
		t.Fatalf("log rows = %d, want %d", got, logsAfterFirst)
	}
}

func TestSyncTransactionSkipsZeroAmount(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createTransaction(t, nil, "0", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))

	r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if !r.Success || r.Outcome != models.SyncOutcomeSkipped {
		t.Fatalf("SyncTransaction = %+v, want skipped", r)
	}
	if got := len(env.ledger.calls); got != 0 {
		t.Fatalf("ledger calls = %v, want none", env.ledger.calls)
	}
	if got := env.transaction(t, txn.ID).RemoteSyncStatus; got != models.SyncStatusSkipped {
		t.Fatalf("status = %s, want skipped", got)
	}
	if got := env.countLogs(t); got != 0 {
		t.Fatalf("log rows = %d, want 0", got)
	}
}

func TestSyncTransactionRejectsNonCompletedSale(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createTransaction(t, nil, "10", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))
	if err := env.db.Model(&models.Transaction{}).Where("id = ?", txn.ID).Update("status", models.TransactionStatusVoided).Error; err != nil {
		t.Fatalf("void: %v", err)
	}

	r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if r.Success || r.Outcome != models.SyncOutcomeFailed {
		t.Fatalf("SyncTransaction = %+v, want failure", r)
	}
	if got := len(env.ledger.calls); got != 0 {
		t.Fatalf("ledger calls = %v, want none", env.ledger.calls)
	}
	if got := env.transaction(t, txn.ID).RemoteSyncStatus; got != models.SyncStatusUnsynced {
		t.Fatalf("status = %s, want unsynced", got)
	}
}

func TestSyncTransactionUsesPlaceholdersForMissingReferences(t *testing.T) {
	env := newTestEnv(t)
	deletedCustomer := 404
	txn := env.createTransaction(t, &deletedCustomer, "35", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation),
		lineInput{serviceId: intPtr(999), name: "Old service", qty: "2", price: "10"},
		lineInput{productId: intPtr(998), name: "Old product", qty: "1", price: "15"},
	)

	r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if !r.Success {
		t.Fatalf("SyncTransaction = %+v", r)
	}

	receipt := env.ledger.receipts[0]
	if receipt.CustomerRef == nil || receipt.CustomerRef.Name != WalkInCustomerName {
		t.Fatalf("customer ref = %+v, want walk-in", receipt.CustomerRef)
	}
	if len(receipt.Line) != 2 {
		t.Fatalf("lines = %d, want 2", len(receipt.Line))
	}
	if got := receipt.Line[0].SalesItemLineDetail.ItemRef.Name; got != MiscellaneousServiceName {
		t.Fatalf("line 1 item = %q, want %q", got, MiscellaneousServiceName)
	}
	if got := receipt.Line[0].Amount.Decimal().StringFixed(2); got != "20.00" {
		t.Fatalf("line 1 amount = %s, want 20.00", got)
	}
	if got := receipt.Line[1].SalesItemLineDetail.ItemRef.Name; got != MiscellaneousProductName {
		t.Fatalf("line 2 item = %q, want %q", got, MiscellaneousProductName)
	}

	var product *ledger.Item
	for _, item := range env.ledger.items {
		if item.Name == MiscellaneousProductName {
			product = item
		}
	}
	if product == nil || product.Type != ledger.ItemTypeNonInventory {
		t.Fatalf("placeholder product = %+v, want NonInventory", product)
	}
}

func TestSyncTransactionWithoutLinesBooksGrossAndDiscount(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createTransaction(t, nil, "40", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))
	if err := env.db.Model(&models.Transaction{}).Where("id = ?", txn.ID).Update("discount_amount", "5").Error; err != nil {
		t.Fatalf("set discount: %v", err)
	}

	r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if !r.Success {
		t.Fatalf("SyncTransaction = %+v", r)
	}
	receipt := env.ledger.receipts[0]
	if len(receipt.Line) != 2 {
		t.Fatalf("lines = %+v, want sale line and discount line", receipt.Line)
	}
	if got := receipt.Line[0].Amount.Decimal().StringFixed(2); got != "45.00" {
		t.Fatalf("gross line = %s, want 45.00", got)
	}
	if receipt.Line[1].DetailType != ledger.DetailTypeDiscountLine || receipt.Line[1].Amount.Decimal().StringFixed(2) != "5.00" {
		t.Fatalf("discount line = %+v", receipt.Line[1])
	}
	if got := receipt.TotalAmt.Decimal().StringFixed(2); got != "40.00" {
		t.Fatalf("ledger total = %s, want 40.00", got)
	}
}

func TestSyncTransactionFailureIsRecordedAndRetried(t *testing.T) {
	env := newTestEnv(t)
	txn := env.createTransaction(t, nil, "18", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))
	env.ledger.failReceipt = &ledger.Error{StatusCode: 400, Code: "6000", Message: "A business validation error has occurred"}

	r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if r.Success || r.Outcome != models.SyncOutcomeFailed {
		t.Fatalf("SyncTransaction = %+v, want failed", r)
	}
	stored := env.transaction(t, txn.ID)
	if stored.RemoteSyncStatus != models.SyncStatusFailed || stored.RemoteSyncError == nil {
		t.Fatalf("stored = %s / %v, want failed with error", stored.RemoteSyncStatus, stored.RemoteSyncError)
	}
	logs := env.logs(t, models.EntityTypeTransaction, txn.ID)
	if len(logs) != 1 || logs[0].Status != models.SyncLogStatusFailed || logs[0].ErrorMessage == nil {
		t.Fatalf("logs = %+v, want one failed row", logs)
	}
	if !strings.Contains(*logs[0].ErrorMessage, "business validation") {
		t.Fatalf("error message = %q", *logs[0].ErrorMessage)
	}

	env.ledger.failReceipt = nil
	result, err := env.syncer.RetryFailed(env.ctx, models.SyncSourceRetry)
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if result.Total != 1 || result.Synced != 1 {
		t.Fatalf("RetryFailed = %+v, want 1 synced", result)
	}
	if got := env.transaction(t, txn.ID).RemoteSyncStatus; got != models.SyncStatusSynced {
		t.Fatalf("status after retry = %s", got)
	}
	if logs := env.logs(t, models.EntityTypeTransaction, txn.ID); len(logs) != 2 || logs[0].RunId == nil || *logs[0].RunId != result.RunId {
		t.Fatalf("retry log = %+v, want run id %d", logs, result.RunId)
	}
}

func TestSyncTransactionClaim(t *testing.T) {
	tests := []struct {
		name      string
		claimedAt time.Duration
		want      models.SyncOutcome
	}{
		{name: "fresh claim blocks", claimedAt: -time.Minute, want: models.SyncOutcomeInProgress},
		{name: "abandoned claim is taken over", claimedAt: -20 * time.Minute, want: models.SyncOutcomeCreated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			txn := env.createTransaction(t, nil, "9", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))
			claimedAt := env.now.Add(tt.claimedAt)
			if err := env.db.Model(&models.Transaction{}).Where("id = ?", txn.ID).Updates(map[string]interface{}{
				"remote_sync_status":     models.SyncStatusPending,
				"remote_sync_claimed_at": claimedAt,
			}).Error; err != nil {
				t.Fatalf("set claim: %v", err)
			}

			r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
			if r.Outcome != tt.want {
				t.Fatalf("outcome = %s (%+v), want %s", r.Outcome, r, tt.want)
			}
			wantReceipts := 0
			if tt.want == models.SyncOutcomeCreated {
				wantReceipts = 1
			}
			if got := len(env.ledger.receipts); got != wantReceipts {
				t.Fatalf("receipts = %d, want %d", got, wantReceipts)
			}
		})
	}
}

func TestSyncDisabledWritesNothing(t *testing.T) {
	tests := []struct {
		name  string
		apply func(t *testing.T, env *testEnv)
	}{
		{name: "admin toggle off", apply: func(t *testing.T, env *testEnv) {
			disabled := false
			env.updateSettings(t, UpdateSettingsRequest{Enabled: &disabled})
		}},
		{name: "feature flag off", apply: func(t *testing.T, env *testEnv) {
			t.Setenv("LEDGER_SYNC_FEATURE_ENABLED", "false")
		}},
		{name: "disconnected", apply: func(t *testing.T, env *testEnv) {
			if _, err := env.syncer.Settings().Disconnect(env.ctx); err != nil {
				t.Fatalf("disconnect: %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			cust := env.createCustomer(t, "Ann", "Lee", "")
			txn := env.createTransaction(t, &cust.ID, "20", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))
			tt.apply(t, env)

			r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
			if r.Success || r.Error != ErrSyncDisabled.Error() {
				t.Fatalf("SyncTransaction = %+v, want disabled", r)
			}
			if r := env.syncer.SyncCustomer(env.ctx, cust.ID, models.SyncSourceManual); r.Success {
				t.Fatalf("SyncCustomer succeeded while disabled")
			}
			day, err := env.syncer.BatchSyncDay(env.ctx, "2024-03-10", models.SyncSourceBatch)
			if err != nil {
				t.Fatalf("BatchSyncDay: %v", err)
			}
			if day.Total != 0 || day.Synced != 0 || day.RunId != 0 {
				t.Fatalf("BatchSyncDay = %+v, want zero", day)
			}
			catalog, err := env.syncer.SyncCatalog(env.ctx, models.SyncSourceBulk)
			if err != nil || catalog.ServicesSynced != 0 {
				t.Fatalf("SyncCatalog = %+v, %v", catalog, err)
			}

			if got := len(env.ledger.calls); got != 0 {
				t.Fatalf("ledger calls = %v, want none", env.ledger.calls)
			}
			if got := env.countLogs(t); got != 0 {
				t.Fatalf("log rows = %d, want 0", got)
			}
			if got := env.transaction(t, txn.ID).RemoteSyncStatus; got != models.SyncStatusUnsynced {
				t.Fatalf("status = %s, want unsynced", got)
			}
		})
	}
}

func TestSyncTransactionStopsOnCustomerFailure(t *testing.T) {
	env := newTestEnv(t)
	cust := env.createCustomer(t, "Bo", "Chen", "")
	txn := env.createTransaction(t, &cust.ID, "20", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))
	env.ledger.duplicateNames["Bo Chen"] = true
	env.ledger.duplicateNames["Bo Chen #"+strconv.Itoa(cust.ID)] = true

	r := env.syncer.SyncTransaction(env.ctx, txn.ID, models.SyncSourceManual)
	if r.Success {
		t.Fatalf("SyncTransaction succeeded, want customer failure")
	}
	if !strings.Contains(r.Error, "sync customer") {
		t.Fatalf("error = %q, want customer failure", r.Error)
	}
	if got := len(env.ledger.receipts); got != 0 {
		t.Fatalf("receipts = %d, want 0", got)
	}
	if got := env.transaction(t, txn.ID).RemoteSyncStatus; got != models.SyncStatusFailed {
		t.Fatalf("status = %s, want failed", got)
	}
}

func TestPrivateNote(t *testing.T) {
	coupon := 7
	txn := &models.Transaction{ReceiptNumber: "A-1", PaymentMethod: "cash", EmployeeName: "Kim", CouponId: &coupon}
	if got, want := privateNote(txn), "Receipt #A-1, Payment: cash, Employee: Kim, Coupon: #7"; got != want {
		t.Fatalf("privateNote = %q, want %q", got, want)
	}
	txn.CouponCode = "SPRING"
	if got := privateNote(txn); !strings.HasSuffix(got, "Coupon: SPRING") {
		t.Fatalf("privateNote = %q, want coupon code", got)
	}
	if got := privateNote(&models.Transaction{}); got != "" {
		t.Fatalf("privateNote of empty sale = %q", got)
	}
}
