package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mmdatafocus/ledger_sync/config"
	"github.com/mmdatafocus/ledger_sync/ledger"
	"github.com/mmdatafocus/ledger_sync/models"
	"github.com/mmdatafocus/ledger_sync/utils"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// DocNumber is capped by the ledger.
const maxDocNumberLength = 21

// SyncTransaction submits one completed sale as a ledger sales receipt. Receipts are only
// ever created; a synced transaction short-circuits with its existing remote id.
func (s *Syncer) SyncTransaction(ctx context.Context, id int, source models.SyncSource) Result {
	ctx, span := tracer.Start(ctx, "ledgersync.SyncTransaction")
	defer span.End()
	span.SetAttributes(attribute.Int("transaction.id", id), attribute.String("sync.source", string(source)))

	sess, err := s.begin(ctx)
	if err != nil {
		return failResult(err)
	}
	r := s.syncTransaction(ctx, sess, id, source)
	span.SetAttributes(attribute.String("sync.outcome", string(r.Outcome)))
	return r
}

func (s *Syncer) syncTransaction(ctx context.Context, sess *session, id int, source models.SyncSource) Result {
	txn, err := models.GetTransaction(ctx, s.db, id)
	if err != nil {
		return failResult(fmt.Errorf("transaction %d: %w", id, err))
	}

	if txn.RemoteSyncStatus == models.SyncStatusSynced {
		syncShortCircuits.WithLabelValues(string(models.SyncOutcomeAlreadySynced)).Inc()
		return Result{Success: true, RemoteId: utils.DereferencePtr(txn.RemoteId, ""), Outcome: models.SyncOutcomeAlreadySynced}
	}
	if txn.Status != models.TransactionStatusCompleted {
		return failResult(fmt.Errorf("transaction %d is %s, only completed sales are synced", id, txn.Status))
	}
	if txn.TotalAmount.IsZero() {
		if err := models.MarkTransactionSkipped(ctx, s.db, id); err != nil {
			return failResult(fmt.Errorf("mark transaction %d skipped: %w", id, err))
		}
		syncShortCircuits.WithLabelValues(string(models.SyncOutcomeSkipped)).Inc()
		return Result{Success: true, Outcome: models.SyncOutcomeSkipped}
	}

	claimed, err := models.ClaimTransactionForSync(ctx, s.db, id, s.now(), s.opts.ClaimLease)
	if err != nil {
		config.LogError(s.logger, "ledgersync", "syncTransaction", "claim transaction", id, err)
		return failResult(fmt.Errorf("claim transaction %d: %w", id, err))
	}
	if !claimed {
		syncShortCircuits.WithLabelValues(string(models.SyncOutcomeInProgress)).Inc()
		return Result{Success: false, Error: fmt.Sprintf("transaction %d is already being synced", id), Outcome: models.SyncOutcomeInProgress}
	}

	a := s.newAttempt(models.EntityTypeTransaction, id, source)
	remote, err := s.submitReceipt(ctx, sess, txn, a)
	if err != nil {
		msg := utils.Truncate(err.Error(), maxErrorMessageLength)
		if markErr := models.MarkTransactionFailed(context.WithoutCancel(ctx), s.db, id, msg); markErr != nil {
			config.LogError(s.logger, "ledgersync", "syncTransaction", "mark transaction failed", id, markErr)
		}
		s.logFailure(ctx, a, "", err)
		return failResult(err)
	}
	a.response = remote

	if err := models.MarkTransactionSynced(context.WithoutCancel(ctx), s.db, id, remote.Id, s.now()); err != nil {
		// The receipt exists remotely; the log row keeps its id for manual repair.
		err = fmt.Errorf("save receipt link %s: %w", remote.Id, err)
		config.LogError(s.logger, "ledgersync", "syncTransaction", "mark transaction synced", id, err)
		s.logFailure(ctx, a, remote.Id, err)
		return Result{Success: false, RemoteId: remote.Id, Error: err.Error(), Outcome: models.SyncOutcomeFailed}
	}

	s.logSuccess(ctx, a, remote.Id, models.SyncOutcomeCreated)
	return Result{Success: true, RemoteId: remote.Id, Outcome: models.SyncOutcomeCreated}
}

// submitReceipt resolves the customer first, then every line item, then creates the receipt.
func (s *Syncer) submitReceipt(ctx context.Context, sess *session, txn *models.Transaction, a *attempt) (*ledger.SalesReceipt, error) {
	customerRef, err := s.resolveCustomerRef(ctx, sess, txn)
	if err != nil {
		return nil, err
	}
	lines, err := s.buildLines(ctx, sess, txn)
	if err != nil {
		return nil, err
	}

	receipt := ledger.SalesReceipt{
		DocNumber:   utils.Truncate(strings.TrimSpace(txn.ReceiptNumber), maxDocNumberLength),
		TxnDate:     utils.ConvertToDate(txn.CreatedAt, s.opts.Location).Format("2006-01-02"),
		CustomerRef: &customerRef,
		Line:        lines,
		PrivateNote: utils.Truncate(privateNote(txn), ledger.MaxPrivateNoteLength),
	}
	if sess.settings.DepositAccountId != "" {
		receipt.DepositToAccountRef = &ledger.Ref{Value: sess.settings.DepositAccountId}
	}
	a.request = receipt

	created, err := sess.gateway.CreateSalesReceipt(ctx, receipt)
	if err != nil {
		return nil, fmt.Errorf("create sales receipt: %w", err)
	}
	return created, nil
}

// resolveCustomerRef falls back to the walk-in customer for anonymous sales and deleted customers.
// An unlinked customer is synced inline and its failure aborts the receipt.
func (s *Syncer) resolveCustomerRef(ctx context.Context, sess *session, txn *models.Transaction) (ledger.Ref, error) {
	if txn.CustomerId == nil {
		return sess.placeholders.WalkInCustomer(ctx)
	}
	cust, err := models.GetCustomer(ctx, s.db, *txn.CustomerId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return sess.placeholders.WalkInCustomer(ctx)
	}
	if err != nil {
		return ledger.Ref{}, fmt.Errorf("load customer %d: %w", *txn.CustomerId, err)
	}
	if cust.IsLinked() {
		return ledger.Ref{Value: *cust.RemoteId}, nil
	}
	r := s.syncCustomer(ctx, sess, cust.ID, models.SyncSourceInline)
	if !r.Success {
		return ledger.Ref{}, fmt.Errorf("sync customer %d: %s", cust.ID, r.Error)
	}
	return ledger.Ref{Value: r.RemoteId}, nil
}

func (s *Syncer) buildLines(ctx context.Context, sess *session, txn *models.Transaction) ([]ledger.Line, error) {
	lines := make([]ledger.Line, 0, len(txn.Lines)+1)
	for i, l := range txn.Lines {
		itemRef, err := s.resolveItemRef(ctx, sess, l)
		if err != nil {
			return nil, err
		}
		amount := l.Quantity.Mul(l.UnitPrice)
		lines = append(lines, ledger.Line{
			LineNum:     i + 1,
			Description: strings.TrimSpace(l.ItemName),
			Amount:      ledger.NewMoney(amount),
			DetailType:  ledger.DetailTypeSalesItemLine,
			SalesItemLineDetail: &ledger.SalesItemLineDetail{
				ItemRef:   itemRef,
				Qty:       ledger.NewQuantity(l.Quantity),
				UnitPrice: ledger.NewQuantity(l.UnitPrice),
			},
		})
	}

	// A sale without line detail still books its total against the generic service.
	if len(lines) == 0 {
		itemRef, err := sess.placeholders.Item(ctx, models.CatalogKindService)
		if err != nil {
			return nil, err
		}
		gross := txn.TotalAmount.Add(txn.DiscountAmount)
		lines = append(lines, ledger.Line{
			LineNum:    1,
			Amount:     ledger.NewMoney(gross),
			DetailType: ledger.DetailTypeSalesItemLine,
			SalesItemLineDetail: &ledger.SalesItemLineDetail{
				ItemRef:   itemRef,
				Qty:       ledger.NewQuantity(decimal.NewFromInt(1)),
				UnitPrice: ledger.NewQuantity(gross.Round(2)),
			},
		})
	}

	if txn.DiscountAmount.GreaterThan(decimal.Zero) {
		lines = append(lines, ledger.Line{
			Amount:             ledger.NewMoney(txn.DiscountAmount),
			DetailType:         ledger.DetailTypeDiscountLine,
			DiscountLineDetail: &ledger.DiscountLineDetail{PercentBased: false},
		})
	}
	return lines, nil
}

// resolveItemRef maps a line to a ledger item. Deleted references and lines without one
// use the generic placeholder so the money still lands in the ledger.
func (s *Syncer) resolveItemRef(ctx context.Context, sess *session, l models.TransactionLine) (ledger.Ref, error) {
	kind := models.CatalogKindService
	var refId *int
	switch {
	case l.ServiceId != nil:
		refId = l.ServiceId
	case l.ProductId != nil:
		kind = models.CatalogKindProduct
		refId = l.ProductId
	}
	if refId == nil {
		return sess.placeholders.Item(ctx, kind)
	}

	item, err := models.GetCatalogItem(ctx, s.db, kind, *refId)
	if errors.Is(err, utils.ErrorRecordNotFound) {
		return sess.placeholders.Item(ctx, kind)
	}
	if err != nil {
		return ledger.Ref{}, fmt.Errorf("load %s %d: %w", kind, *refId, err)
	}
	if item.IsLinked() {
		return ledger.Ref{Value: *item.RemoteId}, nil
	}
	r := s.syncCatalogItem(ctx, sess, kind, item.ID, models.SyncSourceInline)
	if !r.Success {
		return ledger.Ref{}, fmt.Errorf("sync %s %d: %s", kind, item.ID, r.Error)
	}
	return ledger.Ref{Value: r.RemoteId}, nil
}

func privateNote(txn *models.Transaction) string {
	parts := make([]string, 0, 4)
	if v := strings.TrimSpace(txn.ReceiptNumber); v != "" {
		parts = append(parts, "Receipt #"+v)
	}
	if v := strings.TrimSpace(txn.PaymentMethod); v != "" {
		parts = append(parts, "Payment: "+v)
	}
	if v := strings.TrimSpace(txn.EmployeeName); v != "" {
		parts = append(parts, "Employee: "+v)
	}
	coupon := strings.TrimSpace(txn.CouponCode)
	if coupon == "" && txn.CouponId != nil {
		coupon = "#" + strconv.Itoa(*txn.CouponId)
	}
	if coupon != "" {
		parts = append(parts, "Coupon: "+coupon)
	}
	return strings.Join(parts, ", ")
}
