package ledgersync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/ledger_sync/config"
	"github.com/mmdatafocus/ledger_sync/models"
	"github.com/mmdatafocus/ledger_sync/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorMessageLength = 1000

// attempt collects what one sync attempt did so it can be written as a single log row.
type attempt struct {
	entityType models.EntityType
	entityId   int
	action     models.SyncAction
	source     models.SyncSource
	startedAt  time.Time
	request    any
	response   any
}

func (s *Syncer) newAttempt(entityType models.EntityType, entityId int, source models.SyncSource) *attempt {
	return &attempt{
		entityType: entityType,
		entityId:   entityId,
		action:     models.SyncActionCreate,
		source:     source,
		startedAt:  s.now(),
	}
}

func (s *Syncer) logSuccess(ctx context.Context, a *attempt, remoteId string, outcome models.SyncOutcome) {
	s.writeLog(ctx, a, models.SyncLogStatusSuccess, outcome, remoteId, nil)
}

func (s *Syncer) logFailure(ctx context.Context, a *attempt, remoteId string, err error) {
	s.writeLog(ctx, a, models.SyncLogStatusFailed, models.SyncOutcomeFailed, remoteId, err)
}

// writeLog never fails the sync: a log write error is reported to the process logger only.
func (s *Syncer) writeLog(ctx context.Context, a *attempt, status models.SyncLogStatus, outcome models.SyncOutcome, remoteId string, syncErr error) {
	duration := s.now().Sub(a.startedAt).Milliseconds()
	entry := models.LedgerSyncLog{
		EntityType:      a.entityType,
		EntityId:        a.entityId,
		Action:          a.action,
		Outcome:         outcome,
		Status:          status,
		RequestPayload:  marshalPayload(a.request),
		ResponsePayload: marshalPayload(a.response),
		DurationMs:      duration,
		Source:          a.source,
	}
	if remoteId != "" {
		entry.RemoteId = utils.NewString(remoteId)
	}
	if syncErr != nil {
		entry.ErrorMessage = utils.NewString(utils.Truncate(syncErr.Error(), maxErrorMessageLength))
	}
	if runId, ok := utils.GetSyncRunIdFromContext(ctx); ok {
		entry.RunId = &runId
	}
	if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
		entry.CorrelationId = cid
	}

	syncAttempts.WithLabelValues(string(a.entityType), string(status), string(outcome)).Inc()
	syncAttemptDuration.WithLabelValues(string(a.entityType)).Observe(float64(duration))

	fields := logrus.Fields{
		"entity_type":    a.entityType,
		"entity_id":      a.entityId,
		"action":         a.action,
		"outcome":        outcome,
		"source":         a.source,
		"duration_ms":    duration,
		"correlation_id": entry.CorrelationId,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		fields["trace_id"] = sc.TraceID().String()
	}
	if syncErr != nil {
		s.logger.WithFields(fields).WithError(syncErr).Warn("ledger sync failed")
	} else {
		s.logger.WithFields(fields).Info("ledger sync succeeded")
	}

	if err := models.CreateLedgerSyncLog(context.WithoutCancel(ctx), s.db, &entry); err != nil {
		config.LogError(s.logger, "ledgersync", "writeLog", "create sync log", fields, err)
	}
}

func marshalPayload(v any) *string {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return utils.NewString(string(b))
}
