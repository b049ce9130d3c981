package ledgersync

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/ledger_sync/models"
)

func newTestRouter(env *testEnv) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterRoutes(r.Group("/api/integrations/ledger"), env.syncer)
	return r
}

func doRequest(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestStatusAndSettingsHandlers(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env)

	w := doRequest(t, r, http.MethodGet, "/api/integrations/ledger/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d: %s", w.Code, w.Body.String())
	}
	var status StatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.SyncEnabled || status.Timezone != "America/New_York" || status.Settings.RealmId != "realm-1" {
		t.Fatalf("status = %+v", status)
	}

	w = doRequest(t, r, http.MethodPost, "/api/integrations/ledger/settings", map[string]any{"environment": "staging"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid environment code = %d, want 400", w.Code)
	}

	w = doRequest(t, r, http.MethodPost, "/api/integrations/ledger/settings", map[string]any{
		"enabled":   false,
		"auto_sync": map[string]bool{"transactions": true},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("update settings code = %d: %s", w.Code, w.Body.String())
	}
	settings, err := env.syncer.Settings().Get(env.ctx)
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.Enabled || !settings.AutoSync.Transactions || settings.AutoSync.Customers {
		t.Fatalf("settings = %+v", settings)
	}
	if settings.IncomeAccountId != "79" {
		t.Fatalf("income account lost on partial update: %q", settings.IncomeAccountId)
	}
}

func TestConnectAndResetHandlers(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env)
	cust := env.createCustomer(t, "Ann", "Lee", "")
	if res := env.syncer.SyncCustomer(env.ctx, cust.ID, models.SyncSourceManual); !res.Success {
		t.Fatalf("sync customer: %+v", res)
	}

	if w := doRequest(t, r, http.MethodPost, "/api/integrations/ledger/reset", nil); w.Code != http.StatusConflict {
		t.Fatalf("reset while connected = %d, want 409", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/integrations/ledger/disconnect", nil); w.Code != http.StatusOK {
		t.Fatalf("disconnect = %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/integrations/ledger/reset", nil); w.Code != http.StatusOK {
		t.Fatalf("reset = %d: %s", w.Code, w.Body.String())
	}
	stored, err := models.GetCustomer(env.ctx, env.db, cust.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.IsLinked() {
		t.Fatalf("customer still linked after reset: %v", *stored.RemoteId)
	}

	if w := doRequest(t, r, http.MethodPost, "/api/integrations/ledger/connect", map[string]string{"realm_id": "realm-2"}); w.Code != http.StatusBadRequest {
		t.Fatalf("connect without environment = %d, want 400", w.Code)
	}
	w := doRequest(t, r, http.MethodPost, "/api/integrations/ledger/connect", map[string]string{"realm_id": "realm-2", "environment": "production"})
	if w.Code != http.StatusOK {
		t.Fatalf("connect = %d: %s", w.Code, w.Body.String())
	}
	settings, _ := env.syncer.Settings().Get(env.ctx)
	if settings.Status != models.ConnectionStatusConnected || settings.RealmId != "realm-2" || settings.Environment != "production" {
		t.Fatalf("settings after connect = %+v", settings)
	}
	if settings.Enabled {
		t.Fatalf("connect must not re-enable sync")
	}
}

func TestSyncHandlers(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env)
	txn := env.createTransaction(t, nil, "10", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))

	tests := []struct {
		name string
		path string
		body any
		want int
	}{
		{name: "bad id", path: "/sync/transactions/abc", want: http.StatusBadRequest},
		{name: "missing customer", path: "/sync/customers/9999", want: http.StatusNotFound},
		{name: "transaction", path: "/sync/transactions/" + strconv.Itoa(txn.ID), want: http.StatusOK},
		{name: "bad date", path: "/sync/day", body: map[string]string{"date": "10-03-2024"}, want: http.StatusBadRequest},
		{name: "day", path: "/sync/day", body: map[string]string{"date": "2024-03-10"}, want: http.StatusOK},
		{name: "retry", path: "/sync/retry-failed", want: http.StatusOK},
		{name: "catalog", path: "/sync/catalog", want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, r, http.MethodPost, "/api/integrations/ledger"+tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("%s = %d, want %d: %s", tt.path, w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestSyncHistoryAndLogHandlers(t *testing.T) {
	env := newTestEnv(t)
	r := newTestRouter(env)
	env.createTransaction(t, nil, "10", time.Date(2024, 3, 10, 9, 0, 0, 0, testLocation))
	result, err := env.syncer.BatchSyncDay(env.ctx, "2024-03-10", models.SyncSourceManual)
	if err != nil {
		t.Fatalf("BatchSyncDay: %v", err)
	}

	w := doRequest(t, r, http.MethodGet, "/api/integrations/ledger/sync-runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync-runs = %d", w.Code)
	}
	var history struct {
		Items []SyncRunResponse `json:"items"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history.Items) != 1 || history.Items[0].ID != result.RunId || history.Items[0].Status != models.SyncRunStatusSuccess {
		t.Fatalf("history = %+v", history.Items)
	}

	w = doRequest(t, r, http.MethodGet, "/api/integrations/ledger/sync-runs/"+strconv.Itoa(int(result.RunId)), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync-run detail = %d", w.Code)
	}
	var detail SyncRunDetailResponse
	if err := json.Unmarshal(w.Body.Bytes(), &detail); err != nil {
		t.Fatalf("decode detail: %v", err)
	}
	if len(detail.Logs) != 1 || detail.Logs[0].EntityType != models.EntityTypeTransaction {
		t.Fatalf("detail logs = %+v", detail.Logs)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/integrations/ledger/sync-runs/999", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing run = %d, want 404", w.Code)
	}

	w = doRequest(t, r, http.MethodGet, "/api/integrations/ledger/sync-logs?status=success&entity_type=transaction", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"entity_type":"transaction"`) {
		t.Fatalf("sync-logs = %d: %s", w.Code, w.Body.String())
	}
	if w := doRequest(t, r, http.MethodGet, "/api/integrations/ledger/sync-logs?entity_id=x", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad entity_id = %d, want 400", w.Code)
	}

	w = doRequest(t, r, http.MethodGet, "/api/integrations/ledger/sync-logs/export", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != xlsxContentType {
		t.Fatalf("export = %d %s", w.Code, w.Header().Get("Content-Type"))
	}
	// xlsx files are zip archives
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("PK")) {
		t.Fatalf("export body is not an xlsx archive")
	}
}
