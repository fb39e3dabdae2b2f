package tenant

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/user"
)

var (
	NowFunc = time.Now // mockable

	// errors
	ErrNotFound          = errors.New("school not found")
	ErrUnavailable       = errors.New("school is not available")
	ErrSlugExists        = errors.New("a school with this slug already exists")
	ErrInvalidTransition = errors.New("invalid school status transition")
)

type (
	Repository interface {
		CreateSchool(ctx context.Context, s School) (School, error)
		GetSchoolByID(ctx context.Context, id string) (School, error)
		GetSchoolBySlug(ctx context.Context, slug string) (School, error)
		QuerySchools(ctx context.Context, filter *QueryFilter) ([]School, error)
		UpdateSchoolStatus(ctx context.Context, id, status string, at time.Time) error
	}

	// Cache caches schools by slug in front of the platform database.
	Cache interface {
		GetSchool(ctx context.Context, slug string) (School, bool, error)
		SetSchool(ctx context.Context, s School) error
		DeleteSchool(ctx context.Context, slug string) error
	}

	// Router hands out the database connections of the schools.
	Router interface {
		School(ctx context.Context, dbName string) (core.DB, error)
		Evict(dbName string) error
	}

	// Provisioner creates, migrates & drops school databases.
	Provisioner interface {
		CreateSchoolDatabase(ctx context.Context, dbName string) error
		MigrateSchoolDatabase(ctx context.Context, dbName string) error
		DropSchoolDatabase(ctx context.Context, dbName string) error
	}

	Service interface {
		Register(ctx context.Context, ns NewSchool) (School, error)
		GetByID(ctx context.Context, id string) (School, error)
		GetBySlug(ctx context.Context, slug string) (School, error)
		Query(ctx context.Context, filter *QueryFilter) ([]School, error)
		// Provision creates & migrates the school database, invites its owner and activates the school.
		// Provisioning an active school is a no-op.
		Provision(ctx context.Context, s School) (School, error)
		Suspend(ctx context.Context, s School) (School, error)
		Reactivate(ctx context.Context, s School) (School, error)
		// Archive archives a school for good; purge also drops its database.
		Archive(ctx context.Context, s School, purge bool) (School, error)
		// Resolve returns an active school & its database connection.
		// It is the only way to reach a school database.
		Resolve(ctx context.Context, slug string) (School, core.DB, error)
		// SchoolContext scopes ctx to the school: repositories run on its database from then on.
		SchoolContext(ctx context.Context, s School, db core.DB) context.Context
	}

	service struct {
		conf        *core.Config
		repo        Repository
		cache       Cache
		router      Router
		provisioner Provisioner
		userSvc     user.Service
		validate    *validator.Validate
		logger      core.Logger
	}
)

var _ Service = (*service)(nil)

func NewService(
	conf *core.Config,
	repo Repository,
	cache Cache,
	router Router,
	provisioner Provisioner,
	userSvc user.Service,
	validate *validator.Validate,
	logger core.Logger,
) Service {
	if cache == nil {
		cache = NopCache{}
	}
	return &service{
		conf:        conf,
		repo:        repo,
		cache:       cache,
		router:      router,
		provisioner: provisioner,
		userSvc:     userSvc,
		validate:    validate,
		logger:      logger,
	}
}

func (svc *service) Register(ctx context.Context, ns NewSchool) (School, error) {
	if err := ns.Validate(svc.validate); err != nil {
		return School{}, err
	}
	slugTaken := core.NewValidationError(ErrSlugExists, core.FieldError{Field: "slug", Error: ErrSlugExists.Error()})

	_, err := svc.repo.GetSchoolBySlug(ctx, ns.Slug)
	switch errors.Cause(err) {
	case nil:
		return School{}, slugTaken
	case ErrNotFound:
	default:
		return School{}, errors.Wrap(err, "checking slug")
	}

	now := NowFunc().UTC()
	s, err := svc.repo.CreateSchool(ctx, School{
		ID:         uuid.NewString(),
		Name:       ns.Name,
		Slug:       ns.Slug,
		DBName:     DBName(svc.conf.Tenant.DBPrefix, ns.Slug),
		OwnerName:  ns.OwnerName,
		OwnerEmail: ns.OwnerEmail,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		if errors.Cause(err) == ErrSlugExists {
			return School{}, slugTaken
		}
		return School{}, errors.Wrap(err, "creating school")
	}
	svc.logger.Info(fmt.Sprintf("school %q registered", s.Slug))
	return s, nil
}

func (svc *service) GetByID(ctx context.Context, id string) (School, error) {
	if _, err := uuid.Parse(id); err != nil {
		return School{}, ErrNotFound
	}
	return svc.repo.GetSchoolByID(ctx, id)
}

func (svc *service) GetBySlug(ctx context.Context, slug string) (School, error) {
	return svc.repo.GetSchoolBySlug(ctx, core.CleanString(slug, true /* lower */))
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter) ([]School, error) {
	return svc.repo.QuerySchools(ctx, filter)
}

// setStatus persists the new status & drops everything cached about the school.
func (svc *service) setStatus(ctx context.Context, s School, status string) (School, error) {
	now := NowFunc().UTC()
	if err := svc.repo.UpdateSchoolStatus(ctx, s.ID, status, now); err != nil {
		return School{}, errors.Wrap(err, "updating school status")
	}
	prev := s.Status
	s.Status = status
	s.UpdatedAt = now

	if err := svc.cache.DeleteSchool(ctx, s.Slug); err != nil {
		svc.logger.Warn(fmt.Sprintf("evicting school %q from cache", s.Slug), err)
	}
	if err := svc.router.Evict(s.DBName); err != nil {
		svc.logger.Warn(fmt.Sprintf("evicting school %q connection", s.Slug), err)
	}
	svc.logger.Info(fmt.Sprintf("school %q: %s -> %s", s.Slug, prev, status))
	return s, nil
}

func (svc *service) Provision(ctx context.Context, s School) (School, error) {
	switch s.Status {
	case StatusActive:
		return s, nil
	case StatusPending:
	default:
		return School{}, errors.Wrapf(ErrInvalidTransition, "provisioning a %s school", s.Status)
	}

	if err := svc.provisioner.CreateSchoolDatabase(ctx, s.DBName); err != nil {
		return School{}, errors.Wrap(err, "creating school database")
	}
	if err := svc.provisioner.MigrateSchoolDatabase(ctx, s.DBName); err != nil {
		return School{}, errors.Wrap(err, "migrating school database")
	}
	db, err := svc.router.School(ctx, s.DBName)
	if err != nil {
		return School{}, errors.Wrap(err, "connecting to school database")
	}
	if err := svc.inviteOwner(svc.SchoolContext(ctx, s, db), s); err != nil {
		return School{}, errors.Wrap(err, "inviting school owner")
	}
	return svc.setStatus(ctx, s, StatusActive)
}

// inviteOwner creates the owner account, unless a previous provisioning attempt already did.
func (svc *service) inviteOwner(ctx context.Context, s School) error {
	_, err := svc.userSvc.GetByEmail(ctx, s.OwnerEmail)
	switch errors.Cause(err) {
	case nil:
		return nil
	case user.ErrNotFound:
	default:
		return errors.Wrap(err, "finding owner")
	}

	_, err = svc.userSvc.Invite(ctx, user.Invitation{
		Name:       s.OwnerName,
		Email:      s.OwnerEmail,
		Roles:      []string{user.RoleAdminOwner},
		SchoolName: s.Name,
		Slug:       s.Slug,
	})
	return err
}

func (svc *service) Suspend(ctx context.Context, s School) (School, error) {
	switch s.Status {
	case StatusSuspended:
		return s, nil
	case StatusActive:
		return svc.setStatus(ctx, s, StatusSuspended)
	default:
		return School{}, errors.Wrapf(ErrInvalidTransition, "suspending a %s school", s.Status)
	}
}

func (svc *service) Reactivate(ctx context.Context, s School) (School, error) {
	switch s.Status {
	case StatusActive:
		return s, nil
	case StatusSuspended:
		return svc.setStatus(ctx, s, StatusActive)
	default:
		return School{}, errors.Wrapf(ErrInvalidTransition, "reactivating a %s school", s.Status)
	}
}

func (svc *service) Archive(ctx context.Context, s School, purge bool) (School, error) {
	if s.Status != StatusArchived {
		var err error
		if s, err = svc.setStatus(ctx, s, StatusArchived); err != nil {
			return School{}, err
		}
	}
	if purge {
		if err := svc.provisioner.DropSchoolDatabase(ctx, s.DBName); err != nil {
			return School{}, errors.Wrap(err, "dropping school database")
		}
		svc.logger.Info(fmt.Sprintf("school %q: database dropped", s.Slug))
	}
	return s, nil
}

func (svc *service) Resolve(ctx context.Context, slug string) (School, core.DB, error) {
	s, found, err := svc.cache.GetSchool(ctx, slug)
	if err != nil {
		svc.logger.Warn(fmt.Sprintf("reading school %q from cache", slug), err)
	}
	if !found {
		if s, err = svc.repo.GetSchoolBySlug(ctx, slug); err != nil {
			return School{}, nil, err
		}
		if err := svc.cache.SetSchool(ctx, s); err != nil {
			svc.logger.Warn(fmt.Sprintf("caching school %q", slug), err)
		}
	}
	if !s.IsActive() {
		return School{}, nil, ErrUnavailable
	}

	db, err := svc.router.School(ctx, s.DBName)
	if err != nil {
		return School{}, nil, errors.Wrap(err, "connecting to school database")
	}
	return s, db, nil
}

func (svc *service) SchoolContext(ctx context.Context, s School, db core.DB) context.Context {
	ctx = core.ContextWithSchool(ctx, s.Slug)
	if db != nil {
		ctx = core.ContextWithExecutor(ctx, db)
	}
	return ctx
}

// NopCache is used when no cache is configured.
type NopCache struct{}

func (NopCache) GetSchool(context.Context, string) (School, bool, error) { return School{}, false, nil }
func (NopCache) SetSchool(context.Context, School) error                 { return nil }
func (NopCache) DeleteSchool(context.Context, string) error              { return nil }
