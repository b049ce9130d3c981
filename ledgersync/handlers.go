package ledgersync

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ledger_sync/config"
	"github.com/mmdatafocus/ledger_sync/models"
	"github.com/mmdatafocus/ledger_sync/utils"
)

// RegisterRoutes mounts the admin API. Callers wrap r with auth.
func RegisterRoutes(r gin.IRouter, s *Syncer) {
	r.GET("/status", StatusHandler(s))
	r.POST("/connect", ConnectHandler(s))
	r.POST("/disconnect", DisconnectHandler(s))
	r.POST("/reset", ResetHandler(s))
	r.POST("/settings", UpdateSettingsHandler(s))
	r.POST("/sync/day", SyncDayHandler(s))
	r.POST("/sync/retry-failed", RetryFailedHandler(s))
	r.POST("/sync/catalog", SyncCatalogHandler(s))
	r.POST("/sync/customers/:id", SyncEntityHandler(s, models.EntityTypeCustomer))
	r.POST("/sync/services/:id", SyncEntityHandler(s, models.EntityTypeService))
	r.POST("/sync/products/:id", SyncEntityHandler(s, models.EntityTypeProduct))
	r.POST("/sync/transactions/:id", SyncEntityHandler(s, models.EntityTypeTransaction))
	r.GET("/sync-runs", SyncHistoryHandler(s))
	r.GET("/sync-runs/:id", SyncRunDetailHandler(s))
	r.GET("/sync-logs", SyncLogsHandler(s))
	r.GET("/sync-logs/export", ExportSyncLogsHandler(s))
}

func StatusHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := s.settings.Get(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, StatusResponse{
			Settings:    settings,
			SyncEnabled: settings.SyncEnabled(),
			Timezone:    s.opts.Location.String(),
		})
	}
}

func ConnectHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		settings, err := s.settings.Connect(c.Request.Context(), strings.TrimSpace(req.RealmId), req.Environment)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}

func DisconnectHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		settings, err := s.settings.Disconnect(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}

// ResetHandler clears every remote link. Only allowed while disconnected.
func ResetHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		settings, err := s.settings.Get(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if settings.Status == models.ConnectionStatusConnected {
			c.JSON(http.StatusConflict, gin.H{"error": "disconnect the ledger before resetting links"})
			return
		}
		if err := models.ResetLedgerLinks(ctx, s.db); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func UpdateSettingsHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := utils.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		settings, err := s.settings.Update(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, settings)
	}
}

func SyncDayHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SyncDayRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		if err := utils.ValidateStruct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
			return
		}
		if req.Async {
			id, err := PublishEvent(c.Request.Context(), SyncEvent{Type: EventDayClose, Date: req.Date})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"message_id": id})
			return
		}
		result, err := s.BatchSyncDay(c.Request.Context(), req.Date, models.SyncSourceManual)
		respondRun(c, result, err)
	}
}

func RetryFailedHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := s.RetryFailed(c.Request.Context(), models.SyncSourceRetry)
		respondRun(c, result, err)
	}
}

func SyncCatalogHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		result, err := s.SyncCatalog(c.Request.Context(), models.SyncSourceBulk)
		respondRun(c, result, err)
	}
}

func respondRun(c *gin.Context, result any, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, result)
	case errors.Is(err, ErrInvalidDate), errors.Is(err, ErrIncomeAccountMissing):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, ErrRunInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		config.LogError(config.GetLogger(), "ledgersync", "respondRun", c.FullPath(), nil, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "result": result})
	}
}

func SyncEntityHandler(s *Syncer, entityType models.EntityType) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}
		ctx := c.Request.Context()
		var r Result
		switch entityType {
		case models.EntityTypeCustomer:
			r = s.SyncCustomer(ctx, id, models.SyncSourceManual)
		case models.EntityTypeService:
			r = s.SyncService(ctx, id, models.SyncSourceManual)
		case models.EntityTypeProduct:
			r = s.SyncProduct(ctx, id, models.SyncSourceManual)
		default:
			r = s.SyncTransaction(ctx, id, models.SyncSourceManual)
		}
		status := http.StatusOK
		if !r.Success {
			switch {
			case r.Outcome == models.SyncOutcomeInProgress:
				status = http.StatusConflict
			case strings.HasSuffix(r.Error, utils.ErrorRecordNotFound.Error()):
				status = http.StatusNotFound
			default:
				status = http.StatusUnprocessableEntity
			}
		}
		c.JSON(status, r)
	}
}

func SyncHistoryHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}
		runs, err := models.ListLedgerSyncRuns(c.Request.Context(), s.db, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

func SyncRunDetailHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}
		ctx := c.Request.Context()
		run, err := models.GetLedgerSyncRun(ctx, s.db, uint(id))
		if err != nil {
			if errors.Is(err, utils.ErrorRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		runId := run.ID
		logs, err := models.ListLedgerSyncLogs(ctx, s.db, models.SyncLogFilter{RunId: &runId, Limit: 500})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, SyncRunDetailResponse{SyncRunResponse: mapRunToResponse(*run), Logs: logs})
	}
}

func SyncLogsHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseSyncLogFilter(c, s.opts.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logs, err := models.ListLedgerSyncLogs(c.Request.Context(), s.db, filter)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": logs})
	}
}

func ExportSyncLogsHandler(s *Syncer) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := parseSyncLogFilter(c, s.opts.Location)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filter.Limit = 0
		data, err := ExportSyncLogs(c.Request.Context(), s.db, filter, s.opts.Location)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Header("Content-Disposition", "attachment; filename=ledger-sync-logs.xlsx")
		c.Data(http.StatusOK, xlsxContentType, data)
	}
}

// parseSyncLogFilter reads entity_type, entity_id, status, run_id, date (business day) and limit/offset.
func parseSyncLogFilter(c *gin.Context, loc *time.Location) (models.SyncLogFilter, error) {
	filter := models.SyncLogFilter{Limit: 50}
	if v := strings.TrimSpace(c.Query("entity_type")); v != "" {
		et := models.EntityType(v)
		filter.EntityType = &et
	}
	if v := strings.TrimSpace(c.Query("entity_id")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return filter, errors.New("invalid entity_id")
		}
		filter.EntityId = &n
	}
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		st := models.SyncLogStatus(v)
		filter.Status = &st
	}
	if v := strings.TrimSpace(c.Query("run_id")); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return filter, errors.New("invalid run_id")
		}
		runId := uint(n)
		filter.RunId = &runId
	}
	if v := strings.TrimSpace(c.Query("date")); v != "" {
		day, err := ParseBusinessDate(v, loc, time.Now())
		if err != nil {
			return filter, err
		}
		start, end := DayWindow(day, loc)
		filter.Since = &start
		filter.Until = &end
	}
	if v := strings.TrimSpace(c.Query("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if v := strings.TrimSpace(c.Query("offset")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}
	return filter, nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.LedgerSyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:            run.ID,
		Kind:          run.Kind,
		BusinessDate:  run.BusinessDate,
		Status:        run.Status,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   string(run.TriggeredBy),
		TriggeredById: run.TriggeredById,
	}
}
