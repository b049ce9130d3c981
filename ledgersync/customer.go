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

// SyncCustomer creates or updates one local customer in the ledger.
func (s *Syncer) SyncCustomer(ctx context.Context, id int, source models.SyncSource) Result {
	ctx, span := tracer.Start(ctx, "ledgersync.SyncCustomer")
	defer span.End()
	span.SetAttributes(attribute.Int("customer.id", id), attribute.String("sync.source", string(source)))

	sess, err := s.begin(ctx)
	if err != nil {
		return failResult(err)
	}
	return s.syncCustomer(ctx, sess, id, source)
}

// SyncCustomers runs SyncCustomer over ids one at a time. One failure never stops the rest.
func (s *Syncer) SyncCustomers(ctx context.Context, ids []int, source models.SyncSource) BatchResult {
	result := BatchResult{Total: len(ids), Errors: []string{}}
	sess, err := s.begin(ctx)
	if err != nil {
		result.Failed = len(ids)
		for _, id := range ids {
			result.Errors = append(result.Errors, fmt.Sprintf("customer %d: %s", id, err.Error()))
		}
		return result
	}

	run := s.startRun(ctx, models.SyncRunKindCustomers, nil, source)
	if run != nil {
		ctx = utils.SetSyncRunIdInContext(ctx, run.ID)
		result.RunId = run.ID
	}
	for i, id := range ids {
		if i > 0 {
			if err := s.opts.Sleep(ctx, s.opts.ItemDelay); err != nil {
				result.Failed += len(ids) - i
				result.Errors = append(result.Errors, err.Error())
				break
			}
		}
		r := s.syncCustomer(ctx, sess, id, source)
		if r.Success {
			result.Synced++
			continue
		}
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("customer %d: %s", id, r.Error))
	}
	s.finishRun(ctx, run, result.Synced, result.Failed, result)
	return result
}

func (s *Syncer) syncCustomer(ctx context.Context, sess *session, id int, source models.SyncSource) Result {
	cust, err := models.GetCustomer(ctx, s.db, id)
	if err != nil {
		return failResult(fmt.Errorf("customer %d: %w", id, err))
	}

	a := s.newAttempt(models.EntityTypeCustomer, id, source)
	payload := customerPayload(cust)
	a.request = payload

	var (
		remote  *ledger.Customer
		outcome models.SyncOutcome
	)
	if cust.IsLinked() {
		a.action = models.SyncActionUpdate
		remote, err = s.updateCustomer(ctx, sess.gateway, *cust.RemoteId, payload)
		outcome = models.SyncOutcomeUpdated
	} else {
		remote, outcome, err = s.createOrLinkCustomer(ctx, sess.gateway, cust, &payload)
		a.request = payload
	}
	if err != nil {
		remoteId := ""
		if cust.IsLinked() {
			remoteId = *cust.RemoteId
		}
		s.logFailure(ctx, a, remoteId, err)
		return failResult(err)
	}
	a.response = remote

	displayName := payload.DisplayName
	if remote.DisplayName != "" {
		displayName = remote.DisplayName
	}
	if err := models.LinkCustomer(ctx, s.db, id, remote.Id, displayName, s.now()); err != nil {
		err = fmt.Errorf("save customer link: %w", err)
		config.LogError(s.logger, "ledgersync", "syncCustomer", "link customer", id, err)
		s.logFailure(ctx, a, remote.Id, err)
		return failResult(err)
	}

	s.logSuccess(ctx, a, remote.Id, outcome)
	return Result{Success: true, RemoteId: remote.Id, Outcome: outcome}
}

// createOrLinkCustomer searches by display name first and only creates when nothing matches.
// A duplicate-name rejection gets exactly one retry with a disambiguated name.
func (s *Syncer) createOrLinkCustomer(ctx context.Context, gw ledger.Gateway, cust *models.Customer, payload *ledger.Customer) (*ledger.Customer, models.SyncOutcome, error) {
	found, err := gw.FindCustomerByName(ctx, payload.DisplayName)
	if err != nil {
		return nil, models.SyncOutcomeFailed, fmt.Errorf("find customer by name: %w", err)
	}
	if found != nil {
		return found, models.SyncOutcomeLinked, nil
	}

	created, err := gw.CreateCustomer(ctx, *payload)
	if errors.Is(err, ledger.ErrDuplicateName) {
		payload.DisplayName = disambiguatedDisplayName(cust, payload.DisplayName)
		created, err = gw.CreateCustomer(ctx, *payload)
	}
	if err != nil {
		return nil, models.SyncOutcomeFailed, err
	}
	return created, models.SyncOutcomeCreated, nil
}

func (s *Syncer) updateCustomer(ctx context.Context, gw ledger.Gateway, remoteId string, payload ledger.Customer) (*ledger.Customer, error) {
	return updateWithFreshToken(ctx,
		func() (string, error) {
			current, err := gw.GetCustomer(ctx, remoteId)
			if err != nil {
				return "", fmt.Errorf("fetch customer %s: %w", remoteId, err)
			}
			return current.SyncToken, nil
		},
		func(token string) (*ledger.Customer, error) {
			payload.Id = remoteId
			payload.SyncToken = token
			return gw.UpdateCustomer(ctx, payload)
		},
	)
}

// updateWithFreshToken reads the revision token right before submitting.
// A stale-token rejection refetches and retries once.
func updateWithFreshToken[T any](ctx context.Context, fetch func() (string, error), submit func(token string) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		token, err := fetch()
		if err != nil {
			return zero, err
		}
		out, err := submit(token)
		if errors.Is(err, ledger.ErrStaleObject) && attempt == 0 {
			continue
		}
		return out, err
	}
}

func customerPayload(cust *models.Customer) ledger.Customer {
	payload := ledger.Customer{
		DisplayName: customerDisplayName(cust),
		GivenName:   strings.TrimSpace(cust.FirstName),
		FamilyName:  strings.TrimSpace(cust.LastName),
	}
	if email := strings.TrimSpace(cust.Email); email != "" {
		payload.PrimaryEmailAddr = &ledger.EmailAddress{Address: email}
	}
	if phone := strings.TrimSpace(cust.Phone); phone != "" {
		payload.PrimaryPhone = &ledger.TelephoneNumber{FreeFormNumber: phone}
	}
	return payload
}

// baseDisplayName is "First Last", else the phone, else Customer-<id>.
func baseDisplayName(cust *models.Customer) string {
	name := strings.TrimSpace(strings.TrimSpace(cust.FirstName) + " " + strings.TrimSpace(cust.LastName))
	if name == "" {
		name = strings.TrimSpace(cust.Phone)
	}
	if name == "" {
		name = "Customer-" + strconv.Itoa(cust.ID)
	}
	return utils.Truncate(name, ledger.MaxDisplayNameLength)
}

// customerDisplayName keeps a previously disambiguated name only while it is still
// the disambiguated form of the current base name.
func customerDisplayName(cust *models.Customer) string {
	base := baseDisplayName(cust)
	if cust.RemoteDisplayName != nil && *cust.RemoteDisplayName == disambiguatedDisplayName(cust, base) {
		return *cust.RemoteDisplayName
	}
	return base
}

func disambiguatedDisplayName(cust *models.Customer, name string) string {
	suffix := "#" + strconv.Itoa(cust.ID)
	phone := strings.TrimSpace(cust.Phone)
	if phone != "" && phone != name {
		suffix = utils.FormatPhone(phone)
	}
	room := ledger.MaxDisplayNameLength - len([]rune(suffix)) - 1
	return utils.Truncate(name, room) + " " + suffix
}
