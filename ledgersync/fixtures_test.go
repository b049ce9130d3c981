package ledgersync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/ledger_sync/config"
	"github.com/mmdatafocus/ledger_sync/ledger"
	"github.com/mmdatafocus/ledger_sync/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeLedger is an in-memory ledger that records every call.
type fakeLedger struct {
	mu sync.Mutex

	nextId    int
	customers map[string]*ledger.Customer
	items     map[string]*ledger.Item
	receipts  []ledger.SalesReceipt
	calls     []string

	// duplicateNames makes CreateCustomer fail once per listed name with a 6240 fault.
	duplicateNames map[string]bool
	// staleOnce makes the next update of the listed ids fail with a 5010 fault.
	staleOnce map[string]bool
	// hideFromSearch keeps names out of Find*ByName so duplicate handling can be exercised.
	hideFromSearch map[string]bool
	failReceipt    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		customers:      map[string]*ledger.Customer{},
		items:          map[string]*ledger.Item{},
		duplicateNames: map[string]bool{},
		staleOnce:      map[string]bool{},
		hideFromSearch: map[string]bool{},
	}
}

func (f *fakeLedger) id() string {
	f.nextId++
	return strconv.Itoa(f.nextId)
}

func (f *fakeLedger) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeLedger) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeLedger) CreateCustomer(ctx context.Context, c ledger.Customer) (*ledger.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateCustomer")
	if f.duplicateNames[c.DisplayName] {
		delete(f.duplicateNames, c.DisplayName)
		return nil, &ledger.Error{StatusCode: 400, Code: ledger.CodeDuplicateName, Message: "Duplicate Name Exists Error"}
	}
	for _, existing := range f.customers {
		if existing.DisplayName == c.DisplayName {
			return nil, &ledger.Error{StatusCode: 400, Code: ledger.CodeDuplicateName, Message: "Duplicate Name Exists Error"}
		}
	}
	c.Id = f.id()
	c.SyncToken = "0"
	stored := c
	f.customers[c.Id] = &stored
	out := stored
	return &out, nil
}

func (f *fakeLedger) GetCustomer(ctx context.Context, id string) (*ledger.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetCustomer")
	c, ok := f.customers[id]
	if !ok {
		return nil, &ledger.Error{StatusCode: 404, Message: "not found"}
	}
	out := *c
	return &out, nil
}

func (f *fakeLedger) UpdateCustomer(ctx context.Context, c ledger.Customer) (*ledger.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateCustomer")
	current, ok := f.customers[c.Id]
	if !ok {
		return nil, &ledger.Error{StatusCode: 404, Message: "not found"}
	}
	if f.staleOnce[c.Id] {
		delete(f.staleOnce, c.Id)
		bumpToken(&current.SyncToken)
		return nil, &ledger.Error{StatusCode: 400, Code: ledger.CodeStaleObject, Message: "Stale Object Error"}
	}
	if c.SyncToken != current.SyncToken {
		return nil, &ledger.Error{StatusCode: 400, Code: ledger.CodeStaleObject, Message: "Stale Object Error"}
	}
	c.SyncToken = current.SyncToken
	bumpToken(&c.SyncToken)
	c.Sparse = false
	stored := c
	f.customers[c.Id] = &stored
	out := stored
	return &out, nil
}

func (f *fakeLedger) FindCustomerByName(ctx context.Context, name string) (*ledger.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FindCustomerByName")
	if f.hideFromSearch[name] {
		return nil, nil
	}
	for _, c := range f.customers {
		if c.DisplayName == name {
			out := *c
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) CreateItem(ctx context.Context, item ledger.Item) (*ledger.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateItem")
	item.Id = f.id()
	item.SyncToken = "0"
	stored := item
	f.items[item.Id] = &stored
	out := stored
	return &out, nil
}

func (f *fakeLedger) GetItem(ctx context.Context, id string) (*ledger.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("GetItem")
	item, ok := f.items[id]
	if !ok {
		return nil, &ledger.Error{StatusCode: 404, Message: "not found"}
	}
	out := *item
	return &out, nil
}

func (f *fakeLedger) UpdateItem(ctx context.Context, item ledger.Item) (*ledger.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("UpdateItem")
	current, ok := f.items[item.Id]
	if !ok {
		return nil, &ledger.Error{StatusCode: 404, Message: "not found"}
	}
	if f.staleOnce[item.Id] {
		delete(f.staleOnce, item.Id)
		bumpToken(&current.SyncToken)
		return nil, &ledger.Error{StatusCode: 400, Code: ledger.CodeStaleObject, Message: "Stale Object Error"}
	}
	if item.SyncToken != current.SyncToken {
		return nil, &ledger.Error{StatusCode: 400, Code: ledger.CodeStaleObject, Message: "Stale Object Error"}
	}
	if item.Type == "" {
		item.Type = current.Type
	}
	bumpToken(&item.SyncToken)
	item.Sparse = false
	stored := item
	f.items[item.Id] = &stored
	out := stored
	return &out, nil
}

func (f *fakeLedger) FindItemByName(ctx context.Context, name string) (*ledger.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("FindItemByName")
	if f.hideFromSearch[name] {
		return nil, nil
	}
	for _, item := range f.items {
		if item.Name == name {
			out := *item
			return &out, nil
		}
	}
	return nil, nil
}

func (f *fakeLedger) CreateSalesReceipt(ctx context.Context, receipt ledger.SalesReceipt) (*ledger.SalesReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("CreateSalesReceipt")
	if f.failReceipt != nil {
		return nil, f.failReceipt
	}
	for _, l := range receipt.Line {
		d := l.SalesItemLineDetail
		if d == nil {
			continue
		}
		if want := d.Qty.Decimal().Mul(d.UnitPrice.Decimal()).Round(2); !l.Amount.Decimal().Equal(want) {
			return nil, &ledger.Error{StatusCode: 400, Code: "6070", Message: "Amount is not equal to UnitPrice * Qty"}
		}
	}
	receipt.Id = f.id()
	receipt.SyncToken = "0"
	total := decimal.Zero
	for _, l := range receipt.Line {
		if l.DetailType == ledger.DetailTypeDiscountLine {
			total = total.Sub(l.Amount.Decimal())
			continue
		}
		total = total.Add(l.Amount.Decimal())
	}
	totalAmt := ledger.NewMoney(total)
	receipt.TotalAmt = &totalAmt
	f.receipts = append(f.receipts, receipt)
	out := receipt
	return &out, nil
}

func (f *fakeLedger) customerByName(name string) *ledger.Customer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.customers {
		if c.DisplayName == name {
			return c
		}
	}
	return nil
}

func bumpToken(token *string) {
	n, _ := strconv.Atoi(*token)
	*token = strconv.Itoa(n + 1)
}

var testLocation = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// openTestDB opens a private in-memory database with the full schema.
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), config.GormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	// every connection to :memory: is its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

type testEnv struct {
	ctx    context.Context
	db     *gorm.DB
	ledger *fakeLedger
	syncer *Syncer
	now    time.Time
}

// newTestEnv returns a connected, enabled integration with an income account mapped.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("LEDGER_SYNC_FEATURE_ENABLED", "true")

	db := openTestDB(t)
	conn := &models.LedgerConnection{
		Provider:        models.LedgerProvider,
		Status:          models.ConnectionStatusConnected,
		Environment:     models.LedgerEnvironmentSandbox,
		RealmId:         "realm-1",
		Enabled:         true,
		SettingsJSON:    models.EncodeAutoSyncToggles(models.AutoSyncToggles{Transactions: true, Customers: true, Catalog: true}),
		IncomeAccountId: "79",
	}
	if err := models.SaveLedgerConnection(context.Background(), db, conn); err != nil {
		t.Fatalf("save connection: %v", err)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	fake := newFakeLedger()
	env := &testEnv{
		ctx:    context.Background(),
		db:     db,
		ledger: fake,
		now:    time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC),
	}
	env.syncer = NewSyncer(db, NewSettingsStore(db), StaticGateway(fake), Options{
		Location: testLocation,
		Logger:   logger,
		Now:      func() time.Time { return env.now },
		Sleep:    func(ctx context.Context, d time.Duration) error { return ctx.Err() },
	})
	return env
}

func (e *testEnv) updateSettings(t *testing.T, req UpdateSettingsRequest) {
	t.Helper()
	if _, err := e.syncer.Settings().Update(e.ctx, req); err != nil {
		t.Fatalf("update settings: %v", err)
	}
}

func (e *testEnv) createCustomer(t *testing.T, first, last, phone string) *models.Customer {
	t.Helper()
	c := &models.Customer{FirstName: first, LastName: last, Phone: phone}
	if err := e.db.Create(c).Error; err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func (e *testEnv) createService(t *testing.T, name string, price string) *models.Service {
	t.Helper()
	s := &models.Service{CatalogItem: models.CatalogItem{Name: name, Price: decimal.RequireFromString(price), IsActive: true}}
	if err := e.db.Create(s).Error; err != nil {
		t.Fatalf("create service: %v", err)
	}
	return s
}

func (e *testEnv) createProduct(t *testing.T, name string, price string) *models.Product {
	t.Helper()
	p := &models.Product{CatalogItem: models.CatalogItem{Name: name, Price: decimal.RequireFromString(price), IsActive: true}}
	if err := e.db.Create(p).Error; err != nil {
		t.Fatalf("create product: %v", err)
	}
	return p
}

type lineInput struct {
	serviceId *int
	productId *int
	name      string
	qty       string
	price     string
}

func (e *testEnv) createTransaction(t *testing.T, customerId *int, total string, createdAt time.Time, lines ...lineInput) *models.Transaction {
	t.Helper()
	txn := &models.Transaction{
		ReceiptNumber:    fmt.Sprintf("R-%d", createdAt.Unix()),
		TotalAmount:      decimal.RequireFromString(total),
		CustomerId:       customerId,
		Status:           models.TransactionStatusCompleted,
		PaymentMethod:    "card",
		EmployeeName:     "Sam",
		RemoteSyncStatus: models.SyncStatusUnsynced,
		CreatedAt:        createdAt,
	}
	for _, l := range lines {
		txn.Lines = append(txn.Lines, models.TransactionLine{
			ServiceId: l.serviceId,
			ProductId: l.productId,
			ItemName:  l.name,
			Quantity:  decimal.RequireFromString(l.qty),
			UnitPrice: decimal.RequireFromString(l.price),
		})
	}
	if err := e.db.Create(txn).Error; err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	return txn
}

func (e *testEnv) transaction(t *testing.T, id int) *models.Transaction {
	t.Helper()
	txn, err := models.GetTransaction(e.ctx, e.db, id)
	if err != nil {
		t.Fatalf("get transaction %d: %v", id, err)
	}
	return txn
}

func (e *testEnv) logs(t *testing.T, entityType models.EntityType, id int) []models.LedgerSyncLog {
	t.Helper()
	logs, err := models.ListLedgerSyncLogs(e.ctx, e.db, models.SyncLogFilter{EntityType: &entityType, EntityId: &id})
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	return logs
}

func (e *testEnv) countLogs(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&models.LedgerSyncLog{}).Count(&n).Error; err != nil {
		t.Fatalf("count logs: %v", err)
	}
	return n
}

func intPtr(v int) *int {
	return &v
}
