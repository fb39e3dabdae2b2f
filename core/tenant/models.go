package tenant

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/masomo-cloud/core"
)

// School statuses
const (
	StatusPending   = "pending"   // registered, database not provisioned yet
	StatusActive    = "active"    // provisioned & reachable
	StatusSuspended = "suspended" // provisioned, unreachable until reactivated
	StatusArchived  = "archived"  // terminal
)

var Statuses = []string{StatusPending, StatusActive, StatusSuspended, StatusArchived}

type School struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	DBName     string    `json:"-"`
	OwnerName  string    `json:"owner_name"`
	OwnerEmail string    `json:"owner_email"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

func (s School) IsActive() bool { return s.Status == StatusActive }

// DBName returns the name of the database of the school identified by slug.
func DBName(prefix, slug string) string {
	return prefix + strings.ReplaceAll(slug, "-", "_")
}

// NewSchool contains information needed to register a new School.
type NewSchool struct {
	Name       string `json:"name" validate:"notblank,max=200"`
	Slug       string `json:"slug" validate:"required,slug"`
	OwnerName  string `json:"owner_name" validate:"notblank,max=200"`
	OwnerEmail string `json:"owner_email" validate:"required,email"`
	PlanCode   string `json:"plan_code" validate:"omitempty,alphanum_"`
}

func (ns *NewSchool) Validate(validate *validator.Validate) error {
	ns.Name = core.CleanString(ns.Name)
	ns.Slug = core.CleanString(ns.Slug, true /* lower */)
	ns.OwnerName = core.CleanString(ns.OwnerName)
	ns.OwnerEmail = core.CleanString(ns.OwnerEmail, true /* lower */)
	ns.PlanCode = core.CleanString(ns.PlanCode, true /* lower */)
	return validate.Struct(ns)
}

type QueryFilter struct {
	Search string `query:"search"`
	Status string `query:"status"`
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
}
