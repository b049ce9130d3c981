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
	"go.opentelemetry.io/otel/attribute"
)

func remoteItemType(kind models.CatalogKind) string {
	if kind == models.CatalogKindProduct {
		return ledger.ItemTypeNonInventory
	}
	return ledger.ItemTypeService
}

func kindTitle(kind models.CatalogKind) string {
	if kind == models.CatalogKindProduct {
		return "Product"
	}
	return "Service"
}

func (s *Syncer) SyncService(ctx context.Context, id int, source models.SyncSource) Result {
	return s.syncCatalogEntry(ctx, models.CatalogKindService, id, source)
}

func (s *Syncer) SyncProduct(ctx context.Context, id int, source models.SyncSource) Result {
	return s.syncCatalogEntry(ctx, models.CatalogKindProduct, id, source)
}

func (s *Syncer) syncCatalogEntry(ctx context.Context, kind models.CatalogKind, id int, source models.SyncSource) Result {
	ctx, span := tracer.Start(ctx, "ledgersync.Sync"+kindTitle(kind))
	defer span.End()
	span.SetAttributes(attribute.Int("catalog.id", id), attribute.String("sync.source", string(source)))

	sess, err := s.begin(ctx)
	if err != nil {
		return failResult(err)
	}
	return s.syncCatalogItem(ctx, sess, kind, id, source)
}

func (s *Syncer) syncCatalogItem(ctx context.Context, sess *session, kind models.CatalogKind, id int, source models.SyncSource) Result {
	if sess.settings.IncomeAccountId == "" {
		return failResult(ErrIncomeAccountMissing)
	}
	item, err := models.GetCatalogItem(ctx, s.db, kind, id)
	if err != nil {
		return failResult(fmt.Errorf("%s %d: %w", kind, id, err))
	}

	a := s.newAttempt(kind.EntityType(), id, source)
	payload := itemPayload(kind, item, sess.settings.IncomeAccountId)
	a.request = payload

	var (
		remote  *ledger.Item
		outcome models.SyncOutcome
	)
	if item.IsLinked() {
		a.action = models.SyncActionUpdate
		remote, err = s.updateItem(ctx, sess.gateway, *item.RemoteId, payload)
		outcome = models.SyncOutcomeUpdated
	} else {
		remote, outcome, err = createOrLinkItem(ctx, sess.gateway, payload)
	}
	if err != nil {
		remoteId := ""
		if item.IsLinked() {
			remoteId = *item.RemoteId
		}
		s.logFailure(ctx, a, remoteId, err)
		return failResult(err)
	}
	a.response = remote

	if err := models.LinkCatalogItem(ctx, s.db, kind, id, remote.Id, s.now()); err != nil {
		err = fmt.Errorf("save %s link: %w", kind, err)
		config.LogError(s.logger, "ledgersync", "syncCatalogItem", "link catalog item", id, err)
		s.logFailure(ctx, a, remote.Id, err)
		return failResult(err)
	}

	s.logSuccess(ctx, a, remote.Id, outcome)
	return Result{Success: true, RemoteId: remote.Id, Outcome: outcome}
}

// createOrLinkItem links to an item with exactly this name when one exists. Item names are
// not unique in the ledger so there is no disambiguation retry.
func createOrLinkItem(ctx context.Context, gw ledger.Gateway, payload ledger.Item) (*ledger.Item, models.SyncOutcome, error) {
	found, err := gw.FindItemByName(ctx, payload.Name)
	if err != nil {
		return nil, models.SyncOutcomeFailed, fmt.Errorf("find item by name: %w", err)
	}
	if found != nil {
		return found, models.SyncOutcomeLinked, nil
	}
	created, err := gw.CreateItem(ctx, payload)
	if err != nil {
		return nil, models.SyncOutcomeFailed, err
	}
	return created, models.SyncOutcomeCreated, nil
}

func (s *Syncer) updateItem(ctx context.Context, gw ledger.Gateway, remoteId string, payload ledger.Item) (*ledger.Item, error) {
	// the ledger refuses to change an item's type after creation
	payload.Type = ""
	return updateWithFreshToken(ctx,
		func() (string, error) {
			current, err := gw.GetItem(ctx, remoteId)
			if err != nil {
				return "", fmt.Errorf("fetch item %s: %w", remoteId, err)
			}
			return current.SyncToken, nil
		},
		func(token string) (*ledger.Item, error) {
			payload.Id = remoteId
			payload.SyncToken = token
			return gw.UpdateItem(ctx, payload)
		},
	)
}

func itemPayload(kind models.CatalogKind, item *models.CatalogItem, incomeAccountId string) ledger.Item {
	name := strings.TrimSpace(item.Name)
	if name == "" {
		name = kindTitle(kind) + "-" + strconv.Itoa(item.ID)
	}
	price := ledger.NewMoney(item.Price)
	return ledger.Item{
		Name:             utils.Truncate(name, ledger.MaxItemNameLength),
		Type:             remoteItemType(kind),
		Active:           true,
		UnitPrice:        &price,
		IncomeAccountRef: &ledger.Ref{Value: incomeAccountId},
	}
}

// SyncCatalog re-pushes every active service and product, linked or not.
func (s *Syncer) SyncCatalog(ctx context.Context, source models.SyncSource) (CatalogResult, error) {
	ctx, span := tracer.Start(ctx, "ledgersync.SyncCatalog")
	defer span.End()

	result := CatalogResult{Errors: []string{}}
	sess, err := s.begin(ctx)
	if errors.Is(err, ErrSyncDisabled) {
		return result, nil
	}
	if err != nil {
		return result, err
	}
	if sess.settings.IncomeAccountId == "" {
		return result, ErrIncomeAccountMissing
	}

	release, err := s.acquireRunLease(ctx, "catalog")
	if err != nil {
		return result, err
	}
	defer release()

	serviceIds, err := models.ListActiveCatalogIds(ctx, s.db, models.CatalogKindService)
	if err != nil {
		return result, err
	}
	productIds, err := models.ListActiveCatalogIds(ctx, s.db, models.CatalogKindProduct)
	if err != nil {
		return result, err
	}

	run := s.startRun(ctx, models.SyncRunKindCatalog, nil, source)
	if run != nil {
		ctx = utils.SetSyncRunIdInContext(ctx, run.ID)
		result.RunId = run.ID
	}

	var runErr error
	first := true
	sweep := func(kind models.CatalogKind, ids []int, synced *int, failed *int) {
		for _, id := range ids {
			if runErr != nil {
				return
			}
			if !first {
				if err := s.opts.Sleep(ctx, s.opts.ItemDelay); err != nil {
					runErr = err
					return
				}
			}
			first = false
			r := s.syncCatalogItem(ctx, sess, kind, id, source)
			if r.Success {
				*synced++
				continue
			}
			*failed++
			result.Errors = append(result.Errors, fmt.Sprintf("%s %d: %s", kind, id, r.Error))
		}
	}
	sweep(models.CatalogKindService, serviceIds, &result.ServicesSynced, &result.ServicesFailed)
	sweep(models.CatalogKindProduct, productIds, &result.ProductsSynced, &result.ProductsFailed)

	synced := result.ServicesSynced + result.ProductsSynced
	failed := result.ServicesFailed + result.ProductsFailed
	s.finishRun(ctx, run, synced, failed, result)
	s.touchLastSync(ctx, failed == 0 && runErr == nil)
	return result, runErr
}
