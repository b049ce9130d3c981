package ledgersync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/ledger_sync/config"
	"github.com/mmdatafocus/ledger_sync/models"
	"github.com/mmdatafocus/ledger_sync/utils"
	"github.com/sirupsen/logrus"
)

func syncTopic() string {
	topicName := strings.TrimSpace(os.Getenv("LEDGER_SYNC_TOPIC"))
	if topicName == "" {
		topicName = "ledger-sync"
	}
	return topicName
}

// PublishEvent queues ev for the push subscriber of this service.
func PublishEvent(ctx context.Context, ev SyncEvent) (string, error) {
	if ev.CorrelationId == "" {
		if cid, ok := utils.GetCorrelationIdFromContext(ctx); ok {
			ev.CorrelationId = cid
		}
	}
	return config.PublishJSON(ctx, syncTopic(), ev)
}

// HandleEvent dispatches a POS or scheduler event. Entity events respect the auto-sync toggles;
// day.close and retry.failed always run.
func (s *Syncer) HandleEvent(ctx context.Context, ev SyncEvent) error {
	if ev.CorrelationId == "" {
		ev.CorrelationId = uuid.NewString()
	}
	ctx = utils.SetCorrelationIdInContext(ctx, ev.CorrelationId)
	logger := s.logger.WithFields(logrus.Fields{
		"event":          ev.Type,
		"entity_id":      ev.EntityId,
		"correlation_id": ev.CorrelationId,
	})

	switch ev.Type {
	case EventDayClose:
		result, err := s.BatchSyncDay(ctx, ev.Date, models.SyncSourceBatch)
		if err != nil {
			return err
		}
		logger.WithField("result", result).Info("day close sync finished")
		return nil
	case EventRetryFailed:
		result, err := s.RetryFailed(ctx, models.SyncSourceRetry)
		if err != nil {
			return err
		}
		logger.WithField("result", result).Info("retry failed sync finished")
		return nil
	case EventTransactionCompleted, EventCustomerSaved, EventServiceSaved, EventProductSaved:
	default:
		return fmt.Errorf("unknown sync event type %q", ev.Type)
	}

	if ev.EntityId <= 0 {
		return fmt.Errorf("%s event without entity id", ev.Type)
	}
	settings, err := s.settings.Get(ctx)
	if err != nil {
		return err
	}

	var r Result
	switch ev.Type {
	case EventTransactionCompleted:
		if !settings.AutoSync.Transactions {
			return nil
		}
		r = s.SyncTransaction(ctx, ev.EntityId, models.SyncSourceHook)
	case EventCustomerSaved:
		if !settings.AutoSync.Customers {
			return nil
		}
		r = s.SyncCustomer(ctx, ev.EntityId, models.SyncSourceHook)
	case EventServiceSaved:
		if !settings.AutoSync.Catalog {
			return nil
		}
		r = s.SyncService(ctx, ev.EntityId, models.SyncSourceHook)
	case EventProductSaved:
		if !settings.AutoSync.Catalog {
			return nil
		}
		r = s.SyncProduct(ctx, ev.EntityId, models.SyncSourceHook)
	}
	if !r.Success && r.Outcome != models.SyncOutcomeInProgress {
		return fmt.Errorf("%s %d: %s", ev.Type, ev.EntityId, r.Error)
	}
	return nil
}

// PubSubPushHandler always acks: failures are already recorded in the sync log and picked up
// by the next day close or retry sweep.
func PubSubPushHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !config.EnvBool("ENABLE_LEDGER_PUBSUB_PUSH_ENDPOINT", true) {
			c.Status(204)
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(204)
			return
		}
		var envelope PubSubPushEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			c.Status(204)
			return
		}
		var ev SyncEvent
		if err := json.Unmarshal(envelope.Message.Data, &ev); err != nil || ev.Type == "" {
			c.Status(204)
			return
		}

		if err := s.HandleEvent(c.Request.Context(), ev); err != nil {
			config.LogError(s.logger, "ledgersync", "PubSubPushHandler", "handle event "+envelope.Message.ID, ev, err)
		}
		c.Status(204)
	}
}
