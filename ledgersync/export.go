package ledgersync

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/ledger_sync/models"
	"github.com/mmdatafocus/ledger_sync/utils"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	syncLogSheet    = "Sheet1"
)

var syncLogHeadings = []string{
	"ID", "Created At", "Entity Type", "Entity ID", "Action", "Outcome", "Status",
	"Remote ID", "Error", "Duration (ms)", "Source", "Run ID", "Correlation ID",
}

// ExportSyncLogs renders the filtered sync log as an xlsx workbook.
func ExportSyncLogs(ctx context.Context, db *gorm.DB, filter models.SyncLogFilter, loc *time.Location) ([]byte, error) {
	entries, err := models.ListLedgerSyncLogs(ctx, db, filter)
	if err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close()

	for i, h := range syncLogHeadings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetCellValue(syncLogSheet, cell, h); err != nil {
			return nil, err
		}
	}

	for i, e := range entries {
		runId := ""
		if e.RunId != nil {
			runId = fmt.Sprint(*e.RunId)
		}
		values := []interface{}{
			e.ID,
			e.CreatedAt.In(loc).Format("2006-01-02 15:04:05"),
			string(e.EntityType),
			e.EntityId,
			string(e.Action),
			string(e.Outcome),
			string(e.Status),
			utils.DereferencePtr(e.RemoteId, ""),
			utils.DereferencePtr(e.ErrorMessage, ""),
			e.DurationMs,
			string(e.Source),
			runId,
			e.CorrelationId,
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(syncLogSheet, cell, &values); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ArchiveSyncLogs exports the log and uploads it to the GCS_BUCKET, returning the object name.
func ArchiveSyncLogs(ctx context.Context, db *gorm.DB, filter models.SyncLogFilter, loc *time.Location, objectName string) (string, error) {
	data, err := ExportSyncLogs(ctx, db, filter, loc)
	if err != nil {
		return "", err
	}
	if objectName == "" {
		objectName = fmt.Sprintf("ledger-sync-logs/%s.xlsx", time.Now().In(loc).Format("20060102-150405"))
	}
	exists, err := utils.ObjectExistsInGCS(ctx, objectName)
	if err != nil {
		return "", err
	}
	if exists {
		return "", fmt.Errorf("archive object %q already exists", objectName)
	}
	if err := utils.UploadBytesToGCS(ctx, objectName, data, xlsxContentType); err != nil {
		return "", err
	}
	return objectName, nil
}
