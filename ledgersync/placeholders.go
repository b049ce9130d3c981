package ledgersync

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mmdatafocus/ledger_sync/ledger"
	"github.com/mmdatafocus/ledger_sync/models"
	"github.com/shopspring/decimal"
)

const (
	WalkInCustomerName       = "Walk-in Customer"
	MiscellaneousServiceName = "Miscellaneous Service"
	MiscellaneousProductName = "Miscellaneous Product"
)

// PlaceholderResolver finds or creates the well-known fallback customer and items.
// Its cache only spans one run: the first lookup of each placeholder always searches the ledger.
type PlaceholderResolver struct {
	gateway         ledger.Gateway
	incomeAccountId string

	mu     sync.Mutex
	walkIn *ledger.Ref
	items  map[models.CatalogKind]*ledger.Ref
}

func NewPlaceholderResolver(gw ledger.Gateway, incomeAccountId string) *PlaceholderResolver {
	return &PlaceholderResolver{
		gateway:         gw,
		incomeAccountId: incomeAccountId,
		items:           map[models.CatalogKind]*ledger.Ref{},
	}
}

func placeholderItemName(kind models.CatalogKind) string {
	if kind == models.CatalogKindProduct {
		return MiscellaneousProductName
	}
	return MiscellaneousServiceName
}

func (p *PlaceholderResolver) WalkInCustomer(ctx context.Context) (ledger.Ref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.walkIn != nil {
		return *p.walkIn, nil
	}

	found, err := p.gateway.FindCustomerByName(ctx, WalkInCustomerName)
	if err != nil {
		return ledger.Ref{}, fmt.Errorf("find walk-in customer: %w", err)
	}
	if found == nil {
		found, err = p.gateway.CreateCustomer(ctx, ledger.Customer{DisplayName: WalkInCustomerName})
		if errors.Is(err, ledger.ErrDuplicateName) {
			// created by someone else between search and create
			found, err = p.gateway.FindCustomerByName(ctx, WalkInCustomerName)
		}
		if err != nil {
			return ledger.Ref{}, fmt.Errorf("create walk-in customer: %w", err)
		}
		if found == nil {
			return ledger.Ref{}, errors.New("walk-in customer not found after duplicate-name conflict")
		}
	}
	p.walkIn = &ledger.Ref{Value: found.Id, Name: WalkInCustomerName}
	return *p.walkIn, nil
}

func (p *PlaceholderResolver) Item(ctx context.Context, kind models.CatalogKind) (ledger.Ref, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ref, ok := p.items[kind]; ok {
		return *ref, nil
	}

	name := placeholderItemName(kind)
	found, err := p.gateway.FindItemByName(ctx, name)
	if err != nil {
		return ledger.Ref{}, fmt.Errorf("find %s: %w", name, err)
	}
	if found == nil {
		if p.incomeAccountId == "" {
			return ledger.Ref{}, ErrIncomeAccountMissing
		}
		zero := ledger.NewMoney(decimal.Zero)
		found, err = p.gateway.CreateItem(ctx, ledger.Item{
			Name:             name,
			Type:             remoteItemType(kind),
			Active:           true,
			UnitPrice:        &zero,
			IncomeAccountRef: &ledger.Ref{Value: p.incomeAccountId},
		})
		if err != nil {
			return ledger.Ref{}, fmt.Errorf("create %s: %w", name, err)
		}
	}
	ref := &ledger.Ref{Value: found.Id, Name: name}
	p.items[kind] = ref
	return *ref, nil
}
