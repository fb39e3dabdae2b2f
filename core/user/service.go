package user

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
)

var (
	// errors
	ErrNotFound       = errors.New("user not found")
	ErrEmailExists    = errors.New("a user with this email already exists")
	ErrUsernameExists = errors.New("a user with this username already exists")
)

type (
	Repository interface {
		CheckUsernameUniqueness(ctx context.Context, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, user User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		QueryUsers(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		GetUserByID(ctx context.Context, id string) (User, error)
		GetUserByUsername(ctx context.Context, username string) (User, error)
		GetUserByEmail(ctx context.Context, email string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, username string) (User, error)
		UpdateUser(ctx context.Context, user User, isActive *bool) (User, error)
		SetUserLastLogin(ctx context.Context, id string, at time.Time) error
		DeleteUsersByID(ctx context.Context, ids ...string) error
	}

	// Service manages the users of the database the request context points to:
	// platform users on platform routes, school users on school routes.
	Service interface {
		CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (User, error)
		Invite(ctx context.Context, inv Invitation) (User, error)
		Query(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]User, error)
		GetByID(ctx context.Context, id string) (User, error)
		GetByUsername(ctx context.Context, uname string) (User, error)
		GetByEmail(ctx context.Context, email string) (User, error)
		GetByUsernameOrEmail(ctx context.Context, uname string) (User, error)
		Update(ctx context.Context, usr User, uu UpdateUser) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)
		Delete(ctx context.Context, ids ...string) error
		RequestPasswordReset(ctx context.Context, email string) error
		ResetPassword(ctx context.Context, data ResetUserPassword) error
	}

	service struct {
		conf     *core.Config
		repo     Repository
		mailSvc  core.EmailService
		tokenGen *tokenGenerator
		// dispatch runs mail deliveries; on their own goroutine by default
		dispatch func(f func())
	}
)

var _ Service = (*service)(nil)

func NewService(conf *core.Config, repo Repository, mailSvc core.EmailService) Service {
	return &service{
		conf:     conf,
		repo:     repo,
		mailSvc:  mailSvc,
		tokenGen: newTokenGenerator(conf.SecretKey, conf.PasswordResetTimeoutDelta),
		dispatch: func(f func()) { go f() },
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, uname, email, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return errors.Wrap(err, "checking username uniqueness")
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: errors.Cause(err).Error()})
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (User, error) {
	now := NowFunc().UTC()
	usr := User{
		ID:        uuid.NewString(),
		Name:      nu.Name,
		Username:  nu.Username,
		Email:     nu.Email,
		IsActive:  true,
		Roles:     nu.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, errors.Wrap(err, "setting password")
	}
	return svc.repo.CreateUser(ctx, usr)
}

// Invite creates a user with an unusable password and mails them a link to set theirs.
func (svc *service) Invite(ctx context.Context, inv Invitation) (User, error) {
	email := core.CleanString(inv.Email, true /* lower */)
	if err := svc.CheckUniqueness(ctx, "", email); err != nil {
		return User{}, err
	}

	now := NowFunc().UTC()
	usr := User{
		ID:        uuid.NewString(),
		Name:      core.CleanString(inv.Name),
		Email:     email,
		IsActive:  true,
		Roles:     inv.Roles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := usr.SetUnusablePassword(); err != nil {
		return User{}, errors.Wrap(err, "setting unusable password")
	}
	usr, err := svc.repo.CreateUser(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "creating user")
	}

	token, err := svc.tokenGen.MakeToken(usr)
	if err != nil {
		return User{}, errors.Wrap(err, "making token")
	}
	msg := &core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Welcome to " + svc.conf.AppName + "!",
		TemplateName: "school_welcome",
		TemplateData: map[string]interface{}{
			"OwnerName":  usr.Name,
			"SchoolName": inv.SchoolName,
			"Slug":       inv.Slug,
			"Username":   usr.Email,
			"UID":        EncodeUID(usr),
			"Token":      token,
		},
	}
	svc.dispatch(func() { svc.mailSvc.SendMessages(msg) })
	return usr, nil
}

func (svc *service) Query(ctx context.Context, filter *QueryFilter, orderings ...core.DBOrdering) ([]User, error) {
	return svc.repo.QueryUsers(ctx, filter, core.FilterOrderings(orderings, Orderings...)...)
}

func (svc *service) GetByID(ctx context.Context, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, id)
}

func (svc *service) GetByUsername(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsername(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) GetByEmail(ctx context.Context, email string) (User, error) {
	return svc.repo.GetUserByEmail(ctx, core.CleanString(email, true /* lower */))
}

func (svc *service) GetByUsernameOrEmail(ctx context.Context, uname string) (User, error) {
	return svc.repo.GetUserByUsernameOrEmail(ctx, core.CleanString(uname, true /* lower */))
}

func (svc *service) Update(ctx context.Context, usr User, uu UpdateUser) (User, error) {
	usr.Name = uu.Name
	usr.Username = uu.Username
	usr.Email = uu.Email
	if uu.Roles != nil {
		usr.Roles = uu.Roles
	}
	usr.UpdatedAt = NowFunc().UTC()
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, errors.Wrap(err, "setting password")
		}
	}
	return svc.repo.UpdateUser(ctx, usr, uu.IsActive)
}

func (svc *service) SetLastLogin(ctx context.Context, usr User) (User, error) {
	now := NowFunc().UTC()
	if err := svc.repo.SetUserLastLogin(ctx, usr.ID, now); err != nil {
		return User{}, err
	}
	usr.LastLogin = now
	return usr, nil
}

func (svc *service) Delete(ctx context.Context, ids ...string) error {
	return svc.repo.DeleteUsersByID(ctx, ids...)
}

func (svc *service) RequestPasswordReset(ctx context.Context, email string) error {
	usr, err := svc.GetByEmail(ctx, email)
	if err != nil {
		return err
	}
	if !usr.IsActive {
		return ErrNotFound
	}
	school := core.SchoolFromContext(ctx)
	svc.dispatch(func() { svc.sendPasswordResetMail(usr, school) })
	return nil
}

func (svc *service) sendPasswordResetMail(usr User, school string) {
	token, err := svc.tokenGen.MakeToken(usr)
	if err != nil {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password Reset",
		TemplateName: "password_reset",
		TemplateData: map[string]interface{}{
			"Name":   usr.Name,
			"School": school,
			"UID":    EncodeUID(usr),
			"Token":  token,
		},
	})
}

func (svc *service) ResetPassword(ctx context.Context, data ResetUserPassword) error {
	invalidLink := core.NewValidationError(nil, core.FieldError{Field: "token", Error: "invalid or expired link"})

	id, err := decodeUID(data.UID)
	if err != nil {
		return invalidLink
	}
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return invalidLink
		}
		return errors.Wrap(err, "finding user by ID")
	}
	if err := svc.tokenGen.verifyToken(usr, data.Token); err != nil {
		return invalidLink
	}
	if err := usr.SetPassword(data.Password); err != nil {
		return errors.Wrap(err, "setting password")
	}
	usr.UpdatedAt = NowFunc().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr, nil)
	return errors.Wrap(err, "updating user")
}
