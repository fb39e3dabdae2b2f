package sqlxrepos

import (
	"context"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/billing"
)

var (
	planColumns = []string{
		"id", "code", "name", "description", "price", "currency", "interval", "is_active", "created_at", "updated_at",
	}
	subscriptionColumns = []string{
		"id", "school_id", "plan_id", "status", "reference", "customer_email", "provider_code",
		"current_period_start", "current_period_end", "created_at", "updated_at",
	}
)

type planRow struct {
	ID          string    `db:"id"`
	Code        string    `db:"code"`
	Name        string    `db:"name"`
	Description string    `db:"description"`
	Price       int64     `db:"price"`
	Currency    string    `db:"currency"`
	Interval    string    `db:"interval"`
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r planRow) plan() billing.Plan {
	return billing.Plan{
		ID:          r.ID,
		Code:        r.Code,
		Name:        r.Name,
		Description: r.Description,
		Price:       r.Price,
		Currency:    r.Currency,
		Interval:    r.Interval,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type subscriptionRow struct {
	ID                 string      `db:"id"`
	SchoolID           string      `db:"school_id"`
	PlanID             string      `db:"plan_id"`
	Status             string      `db:"status"`
	Reference          string      `db:"reference"`
	CustomerEmail      string      `db:"customer_email"`
	ProviderCode       null.String `db:"provider_code"`
	CurrentPeriodStart null.Time   `db:"current_period_start"`
	CurrentPeriodEnd   null.Time   `db:"current_period_end"`
	CreatedAt          time.Time   `db:"created_at"`
	UpdatedAt          time.Time   `db:"updated_at"`
}

func (r subscriptionRow) subscription() billing.Subscription {
	sub := billing.Subscription{
		ID:            r.ID,
		SchoolID:      r.SchoolID,
		PlanID:        r.PlanID,
		Status:        r.Status,
		Reference:     r.Reference,
		CustomerEmail: r.CustomerEmail,
		ProviderCode:  r.ProviderCode.String,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.CurrentPeriodStart.Valid {
		sub.CurrentPeriodStart = r.CurrentPeriodStart.Time.UTC()
	}
	if r.CurrentPeriodEnd.Valid {
		sub.CurrentPeriodEnd = r.CurrentPeriodEnd.Time.UTC()
	}
	return sub
}

func subscriptions(rows []subscriptionRow) []billing.Subscription {
	subs := make([]billing.Subscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, r.subscription())
	}
	return subs
}

func nullTime(t time.Time) null.Time {
	return null.NewTime(t.UTC(), !t.IsZero())
}

// billingRepository lives on the platform database.
type billingRepository struct {
	base
}

var _ billing.Repository = (*billingRepository)(nil) // interface compliance check

func NewBillingRepository(exec core.DBExecutor) *billingRepository {
	return &billingRepository{base{exec: exec}}
}

// Plans

func (repo billingRepository) CreatePlan(ctx context.Context, p billing.Plan) (billing.Plan, error) {
	_, err := repo.run(ctx, psql.Insert("plan").Columns(planColumns...).Values(
		p.ID, p.Code, p.Name, p.Description, p.Price, p.Currency, p.Interval, p.IsActive, p.CreatedAt.UTC(), p.UpdatedAt.UTC(),
	))
	if uniqueViolation(err) == "plan_code_key" {
		return billing.Plan{}, billing.ErrPlanExists
	}
	if err != nil {
		return billing.Plan{}, errors.Wrap(err, "inserting plan")
	}
	return p, nil
}

func (repo billingRepository) getPlan(ctx context.Context, where sq.Sqlizer, msg string) (billing.Plan, error) {
	var row planRow
	if err := repo.get(ctx, &row, psql.Select(planColumns...).From("plan").Where(where)); err != nil {
		return billing.Plan{}, trapNoRowsErr(err, billing.ErrNotFound, msg)
	}
	return row.plan(), nil
}

func (repo billingRepository) GetPlanByID(ctx context.Context, id string) (billing.Plan, error) {
	if !isUUID(id) {
		return billing.Plan{}, billing.ErrNotFound
	}
	return repo.getPlan(ctx, sq.Eq{"id": id}, "finding plan by ID")
}

func (repo billingRepository) GetPlanByCode(ctx context.Context, code string) (billing.Plan, error) {
	return repo.getPlan(ctx, sq.Eq{"code": code}, "finding plan by code")
}

func (repo billingRepository) QueryPlans(ctx context.Context, activeOnly bool) ([]billing.Plan, error) {
	q := psql.Select(planColumns...).From("plan").OrderBy("price ASC", "code ASC")
	if activeOnly {
		q = q.Where(sq.Eq{"is_active": true})
	}
	var rows []planRow
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying plans")
	}
	plans := make([]billing.Plan, 0, len(rows))
	for _, r := range rows {
		plans = append(plans, r.plan())
	}
	return plans, nil
}

func (repo billingRepository) UpdatePlan(ctx context.Context, p billing.Plan) (billing.Plan, error) {
	n, err := repo.run(ctx, psql.Update("plan").SetMap(map[string]interface{}{
		"name":        p.Name,
		"description": p.Description,
		"price":       p.Price,
		"currency":    p.Currency,
		"interval":    p.Interval,
		"is_active":   p.IsActive,
		"updated_at":  p.UpdatedAt.UTC(),
	}).Where(sq.Eq{"id": p.ID}))
	if err := mustAffect(n, err, billing.ErrNotFound, "updating plan"); err != nil {
		return billing.Plan{}, err
	}
	return p, nil
}

// Subscriptions

func (repo billingRepository) CreateSubscription(ctx context.Context, sub billing.Subscription) (billing.Subscription, error) {
	_, err := repo.run(ctx, psql.Insert("subscription").Columns(subscriptionColumns...).Values(
		sub.ID, sub.SchoolID, sub.PlanID, sub.Status, sub.Reference, sub.CustomerEmail, nullString(sub.ProviderCode),
		nullTime(sub.CurrentPeriodStart), nullTime(sub.CurrentPeriodEnd),
		sub.CreatedAt.UTC(), sub.UpdatedAt.UTC(),
	))
	if err != nil {
		return billing.Subscription{}, errors.Wrap(err, "inserting subscription")
	}
	return sub, nil
}

func (repo billingRepository) GetSubscriptionByReference(ctx context.Context, reference string) (billing.Subscription, error) {
	var row subscriptionRow
	q := psql.Select(subscriptionColumns...).From("subscription").Where(sq.Eq{"reference": reference})
	if err := repo.get(ctx, &row, q); err != nil {
		return billing.Subscription{}, trapNoRowsErr(err, billing.ErrNotFound, "finding subscription by reference")
	}
	return row.subscription(), nil
}

func (repo billingRepository) GetSubscriptionByProviderCode(ctx context.Context, code string) (billing.Subscription, error) {
	if code == "" {
		return billing.Subscription{}, billing.ErrNotFound
	}
	var row subscriptionRow
	q := psql.Select(subscriptionColumns...).From("subscription").Where(sq.Eq{"provider_code": code})
	if err := repo.get(ctx, &row, q); err != nil {
		return billing.Subscription{}, trapNoRowsErr(err, billing.ErrNotFound, "finding subscription by provider code")
	}
	return row.subscription(), nil
}

func (repo billingRepository) QuerySubscriptionsByCustomer(ctx context.Context, email string) ([]billing.Subscription, error) {
	if email == "" {
		return []billing.Subscription{}, nil
	}
	var rows []subscriptionRow
	q := psql.Select(subscriptionColumns...).From("subscription").
		Where(sq.Eq{"customer_email": email}).
		OrderBy("current_period_start DESC NULLS LAST", "created_at DESC")
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying subscriptions by customer")
	}
	return subscriptions(rows), nil
}

func (repo billingRepository) QuerySubscriptions(ctx context.Context, schoolID string) ([]billing.Subscription, error) {
	if !isUUID(schoolID) {
		return []billing.Subscription{}, nil
	}
	var rows []subscriptionRow
	q := psql.Select(subscriptionColumns...).From("subscription").
		Where(sq.Eq{"school_id": schoolID}).
		OrderBy("created_at DESC")
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "querying subscriptions")
	}
	return subscriptions(rows), nil
}

func (repo billingRepository) UpdateSubscription(ctx context.Context, sub billing.Subscription) (billing.Subscription, error) {
	n, err := repo.run(ctx, psql.Update("subscription").SetMap(map[string]interface{}{
		"status":               sub.Status,
		"customer_email":       sub.CustomerEmail,
		"provider_code":        nullString(sub.ProviderCode),
		"current_period_start": nullTime(sub.CurrentPeriodStart),
		"current_period_end":   nullTime(sub.CurrentPeriodEnd),
		"updated_at":           sub.UpdatedAt.UTC(),
	}).Where(sq.Eq{"id": sub.ID}))
	if err := mustAffect(n, err, billing.ErrNotFound, "updating subscription"); err != nil {
		return billing.Subscription{}, err
	}
	return sub, nil
}

func (repo billingRepository) CancelActiveSubscriptions(ctx context.Context, schoolID, exceptID string, at time.Time) error {
	_, err := repo.run(ctx, psql.Update("subscription").
		Set("status", billing.StatusCancelled).
		Set("updated_at", at.UTC()).
		Where(sq.Eq{"school_id": schoolID, "status": billing.StatusActive}).
		Where(sq.NotEq{"id": exceptID}))
	return errors.Wrap(err, "cancelling subscriptions")
}

func (repo billingRepository) ExpireSubscriptions(ctx context.Context, now time.Time) ([]billing.Subscription, error) {
	var rows []subscriptionRow
	q := psql.Update("subscription").
		Set("status", billing.StatusExpired).
		Set("updated_at", now.UTC()).
		Where(sq.Eq{"status": billing.StatusActive}).
		Where(sq.Lt{"current_period_end": now.UTC()}).
		Suffix("RETURNING " + strings.Join(subscriptionColumns, ", "))
	if err := repo.selectAll(ctx, &rows, q); err != nil {
		return nil, errors.Wrap(err, "expiring subscriptions")
	}
	return subscriptions(rows), nil
}

// Events

func (repo billingRepository) RecordEvent(ctx context.Context, ev billing.Event, at time.Time) (bool, error) {
	n, err := repo.run(ctx, psql.Insert("payment_event").
		Columns("id", "provider", "event", "reference", "received_at").
		Values(uuid.NewString(), ev.Provider, ev.Name, ev.Key(), at.UTC()).
		Suffix("ON CONFLICT (provider, event, reference) DO NOTHING"))
	if err != nil {
		return false, errors.Wrap(err, "recording payment event")
	}
	return n == 1, nil
}
