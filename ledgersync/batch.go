package ledgersync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mmdatafocus/ledger_sync/config"
	"github.com/mmdatafocus/ledger_sync/models"
	"github.com/mmdatafocus/ledger_sync/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// BatchSyncDay sweeps every completed sale of one business day that has not reached the ledger.
// A disabled integration returns zero counts without error.
func (s *Syncer) BatchSyncDay(ctx context.Context, date string, source models.SyncSource) (DayResult, error) {
	ctx, span := tracer.Start(ctx, "ledgersync.BatchSyncDay")
	defer span.End()

	day, err := ParseBusinessDate(date, s.opts.Location, s.now())
	if err != nil {
		return DayResult{}, err
	}
	businessDate := day.Format(businessDateLayout)
	span.SetAttributes(attribute.String("business_date", businessDate))
	result := DayResult{Date: businessDate}

	sess, err := s.begin(ctx)
	if errors.Is(err, ErrSyncDisabled) {
		return result, nil
	}
	if err != nil {
		return result, err
	}

	release, err := s.acquireRunLease(ctx, "day:"+businessDate)
	if err != nil {
		return result, err
	}
	defer release()

	start, end := DayWindow(day, s.opts.Location)
	txns, err := models.ListUnsyncedTransactions(ctx, s.db, start, end, s.opts.DayLimit)
	if err != nil {
		return result, fmt.Errorf("list transactions for %s: %w", businessDate, err)
	}

	run := s.startRun(ctx, models.SyncRunKindDay, &businessDate, source)
	if run != nil {
		ctx = utils.SetSyncRunIdInContext(ctx, run.ID)
		result.RunId = run.ID
	}
	runErr := s.sweepTransactions(ctx, sess, txns, source, &result)

	s.finishRun(ctx, run, result.Synced, result.Failed, result)
	s.touchLastSync(ctx, result.Failed == 0 && runErr == nil)
	return result, runErr
}

// RetryFailed sweeps every failed sale regardless of its day.
func (s *Syncer) RetryFailed(ctx context.Context, source models.SyncSource) (DayResult, error) {
	ctx, span := tracer.Start(ctx, "ledgersync.RetryFailed")
	defer span.End()

	var result DayResult
	sess, err := s.begin(ctx)
	if errors.Is(err, ErrSyncDisabled) {
		return result, nil
	}
	if err != nil {
		return result, err
	}

	release, err := s.acquireRunLease(ctx, "retry")
	if err != nil {
		return result, err
	}
	defer release()

	txns, err := models.ListFailedTransactions(ctx, s.db, s.opts.DayLimit)
	if err != nil {
		return result, fmt.Errorf("list failed transactions: %w", err)
	}

	run := s.startRun(ctx, models.SyncRunKindRetry, nil, source)
	if run != nil {
		ctx = utils.SetSyncRunIdInContext(ctx, run.ID)
		result.RunId = run.ID
	}
	runErr := s.sweepTransactions(ctx, sess, txns, source, &result)

	s.finishRun(ctx, run, result.Synced, result.Failed, result)
	s.touchLastSync(ctx, result.Failed == 0 && runErr == nil)
	return result, runErr
}

// sweepTransactions syncs referenced customers first, then the sales in chunks, oldest first.
// Only cancellation stops it early.
func (s *Syncer) sweepTransactions(ctx context.Context, sess *session, txns []models.Transaction, source models.SyncSource, result *DayResult) error {
	result.Total = len(txns)

	seen := map[int]bool{}
	customerIds := make([]int, 0)
	for _, txn := range txns {
		if txn.CustomerId != nil && !seen[*txn.CustomerId] {
			seen[*txn.CustomerId] = true
			customerIds = append(customerIds, *txn.CustomerId)
		}
	}
	unlinked, err := models.ListUnlinkedCustomerIds(ctx, s.db, customerIds)
	if err != nil {
		config.LogError(s.logger, "ledgersync", "sweepTransactions", "list unlinked customers", nil, err)
	}
	for i, id := range unlinked {
		if i > 0 {
			if err := s.opts.Sleep(ctx, s.opts.ItemDelay); err != nil {
				return err
			}
		}
		if r := s.syncCustomer(ctx, sess, id, source); r.Success {
			result.CustomersSynced++
		} else {
			result.CustomersFailed++
		}
	}

	for start := 0; start < len(txns); start += s.opts.ChunkSize {
		if start > 0 {
			if err := s.opts.Sleep(ctx, s.opts.ChunkDelay); err != nil {
				return err
			}
		}
		end := start + s.opts.ChunkSize
		if end > len(txns) {
			end = len(txns)
		}
		for _, txn := range txns[start:end] {
			if err := ctx.Err(); err != nil {
				return err
			}
			r := s.syncTransaction(ctx, sess, txn.ID, source)
			result.count(r.Outcome)
		}
	}
	return nil
}

func (s *Syncer) startRun(ctx context.Context, kind string, businessDate *string, source models.SyncSource) *models.LedgerSyncRun {
	startedAt := s.now()
	run := &models.LedgerSyncRun{
		Kind:         kind,
		BusinessDate: businessDate,
		Status:       models.SyncRunStatusRunning,
		TriggeredBy:  source,
		StartedAt:    &startedAt,
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		run.CorrelationId = cid
	}
	if userId, ok := utils.GetUserIdFromContext(ctx); ok {
		run.TriggeredById = &userId
	}
	if err := models.CreateLedgerSyncRun(ctx, s.db, run); err != nil {
		config.LogError(s.logger, "ledgersync", "startRun", "create sync run", kind, err)
		return nil
	}
	return run
}

func (s *Syncer) finishRun(ctx context.Context, run *models.LedgerSyncRun, synced int, failed int, stats any) {
	if run == nil {
		return
	}
	statsJSON, _ := json.Marshal(stats)
	if err := models.FinishLedgerSyncRun(context.WithoutCancel(ctx), s.db, run, s.now(), synced, failed, statsJSON); err != nil {
		config.LogError(s.logger, "ledgersync", "finishRun", "finish sync run", run.ID, err)
		return
	}
	syncRuns.WithLabelValues(run.Kind, run.Status).Inc()
	s.logger.WithFields(logrus.Fields{
		"run_id":         run.ID,
		"kind":           run.Kind,
		"status":         run.Status,
		"records_synced": synced,
		"error_count":    failed,
		"duration_ms":    run.DurationMs,
		"correlation_id": run.CorrelationId,
	}).Info("ledger sync run finished")
}

func (s *Syncer) touchLastSync(ctx context.Context, success bool) {
	if err := s.settings.TouchLastSync(context.WithoutCancel(ctx), s.now(), success); err != nil {
		config.LogError(s.logger, "ledgersync", "touchLastSync", "stamp last sync", nil, err)
	}
}
