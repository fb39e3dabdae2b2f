package billing

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

// Handled events
const (
	EventChargeSuccess       = "charge.success"
	EventSubscriptionCreate  = "subscription.create"
	EventSubscriptionDisable = "subscription.disable"
)

// WebhookHandler applies verified payment provider events.
type WebhookHandler struct {
	billing Service
	schools tenant.Service
	logger  core.Logger
}

func NewWebhookHandler(billing Service, schools tenant.Service, logger core.Logger) *WebhookHandler {
	return &WebhookHandler{billing: billing, schools: schools, logger: logger}
}

// Handle applies ev. Every event is recorded first: a redelivered event does not touch billing again,
// but the school side effects of a successful charge are re-run since they are idempotent.
// Events about unknown subscriptions and unhandled events are acknowledged (nil error) & ignored.
//
// The first charge of a subscription carries our reference & the payer's email. The provider then
// creates its own recurring subscription, linked to ours by that email, & disables it by its code.
func (h *WebhookHandler) Handle(ctx context.Context, ev Event) error {
	var ok bool
	switch ev.Name {
	case EventChargeSuccess:
		ok = ev.Reference != ""
	case EventSubscriptionCreate:
		ok = ev.SubscriptionCode != ""
	case EventSubscriptionDisable:
		ok = ev.Key() != ""
	default:
		h.logger.Debug(fmt.Sprintf("webhook: ignoring %s event %q", ev.Provider, ev.Name))
		return nil
	}
	if !ok {
		h.logger.Warn(fmt.Sprintf("webhook: %s event %q without reference", ev.Provider, ev.Name))
		return nil
	}

	err := h.billing.InTx(ctx, func(ctx context.Context) error {
		recorded, err := h.billing.RecordEvent(ctx, ev)
		if err != nil {
			return errors.Wrap(err, "recording event")
		}
		if !recorded {
			h.logger.Info(fmt.Sprintf("webhook: duplicate %s event %q (%s)", ev.Provider, ev.Name, ev.Key()))
			return nil
		}

		switch ev.Name {
		case EventChargeSuccess:
			if _, err = h.billing.ActivateByReference(ctx, ev.Reference, ev.PaidAt); err != nil {
				return err
			}
			_, err = h.billing.AttachCustomer(ctx, ev.Reference, ev.CustomerEmail)
		case EventSubscriptionCreate:
			_, err = h.billing.AttachProviderCode(ctx, ev.CustomerEmail, ev.SubscriptionCode)
		case EventSubscriptionDisable:
			if ev.SubscriptionCode != "" {
				_, err = h.billing.CancelByProviderCode(ctx, ev.SubscriptionCode)
			} else {
				_, err = h.billing.Cancel(ctx, ev.Reference)
			}
		}
		return err
	})
	switch errors.Cause(err) {
	case nil:
	case ErrNotFound:
		h.logger.Warn(fmt.Sprintf("webhook: unknown reference %q in %s event %q", ev.Key(), ev.Provider, ev.Name))
		return nil
	case ErrInvalidState:
		h.logger.Warn(fmt.Sprintf("webhook: %s event %q (%s): %v", ev.Provider, ev.Name, ev.Key(), err))
		return nil
	default:
		return err
	}

	if ev.Name == EventChargeSuccess {
		return h.enableSchool(ctx, ev.Reference)
	}
	return nil
}

// enableSchool provisions (pending) or reactivates (suspended) the school of an active subscription.
func (h *WebhookHandler) enableSchool(ctx context.Context, reference string) error {
	sub, err := h.billing.GetSubscription(ctx, reference)
	if err != nil {
		return errors.Wrap(err, "finding subscription")
	}
	if sub.Status != StatusActive {
		return nil
	}
	school, err := h.schools.GetByID(ctx, sub.SchoolID)
	if err != nil {
		return errors.Wrap(err, "finding school")
	}

	switch school.Status {
	case tenant.StatusPending:
		_, err = h.schools.Provision(ctx, school)
		return errors.Wrap(err, "provisioning school")
	case tenant.StatusSuspended:
		_, err = h.schools.Reactivate(ctx, school)
		return errors.Wrap(err, "reactivating school")
	}
	return nil
}
