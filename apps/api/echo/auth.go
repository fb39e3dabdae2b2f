package echoapi

import (
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/user"
)

const (
	tokenContextKey = "userToken"
	contextUserKey  = "user"
	signingMethod   = "HS256"
)

// Claims represents the authorization claims transmitted via a JWT.
type Claims struct {
	jwt.RegisteredClaims
	School          string   `json:"school,omitempty"` // slug; empty for platform users
	OrigIssuedAt    int64    `json:"oriat,omitempty"`
	Username        string   `json:"username,omitempty"`
	Email           string   `json:"email,omitempty"`
	IsStudent       bool     `json:"is_student,omitempty"`  // -> STUDENT PORTAL
	IsTeacher       bool     `json:"is_teacher,omitempty"`  // -> TEACHER PORTAL
	IsAdmin         bool     `json:"is_admin,omitempty"`    // -> ADMIN PORTAL
	IsPlatformAdmin bool     `json:"is_platform,omitempty"` // -> PLATFORM CONSOLE
	Roles           []string `json:"roles,omitempty"`
}

// NewClaims returns the claims of usr, a user of the school identified by slug ("" for platform users).
func NewClaims(conf *core.Config, usr user.User, school string, origIat ...int64) *Claims {
	now := time.Now()

	oriat := now.Unix()
	if len(origIat) > 0 {
		oriat = origIat[0]
	}

	aud := "platform"
	if school != "" {
		aud = school
	}

	return &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    conf.AppName,
			Subject:   usr.ID,
			Audience:  jwt.ClaimStrings{aud},
			ExpiresAt: jwt.NewNumericDate(now.Add(conf.Server.JWTExpirationDelta)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		School:          school,
		OrigIssuedAt:    oriat,
		Username:        usr.Username,
		Email:           usr.Email,
		IsStudent:       usr.IsStudent(),
		IsTeacher:       usr.IsTeacher(),
		IsAdmin:         usr.IsAdmin(),
		IsPlatformAdmin: usr.IsPlatformAdmin(),
		Roles:           usr.Roles,
	}
}

// GenerateToken generates a signed JWT token string representing the user Claims.
func GenerateToken(conf *core.Config, claims *Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.GetSigningMethod(signingMethod), claims)
	ss, err := token.SignedString([]byte(conf.SecretKey))
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func jwtMiddleware(conf *core.Config) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		SigningKey:    []byte(conf.SecretKey),
		SigningMethod: signingMethod,
		ContextKey:    tokenContextKey,
		NewClaimsFunc: func(echo.Context) jwt.Claims { return new(Claims) },
		ErrorHandler: func(_ echo.Context, err error) error {
			var extractErr *echojwt.TokenExtractionError
			if errors.As(err, &extractErr) {
				return errMissingToken
			}
			return errInvalidToken
		},
	})
}

func (s *server) authenticate(ctx echo.Context, uname, pwd string) (*Claims, error) {
	reqCtx := ctx.Request().Context()

	usr, err := s.opts.UserSvc.GetByUsernameOrEmail(reqCtx, uname)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil, errAuthenticationFailed
		}
		return nil, errors.Wrap(err, "finding user by username or email")
	}
	if err = usr.CheckPassword(pwd); err != nil {
		return nil, errAuthenticationFailed
	}
	if !usr.IsActive {
		return nil, errAccountDeactivated
	}
	usr, err = s.opts.UserSvc.SetLastLogin(reqCtx, usr)
	if err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}
	return NewClaims(s.opts.Conf, usr, core.SchoolFromContext(reqCtx)), nil
}

func getContextClaims(ctx echo.Context) (Claims, error) {
	if token, ok := ctx.Get(tokenContextKey).(*jwt.Token); ok {
		if claims, ok := token.Claims.(*Claims); ok {
			return *claims, nil
		}
	}
	return Claims{}, errUnauthorized
}

func getContextUser(ctx echo.Context, svc user.Service, clms ...Claims) (user.User, error) {
	if usr, ok := ctx.Get(contextUserKey).(user.User); ok {
		return usr, nil
	}

	var claims Claims
	var err error
	if len(clms) > 0 {
		claims = clms[0]
	} else {
		claims, err = getContextClaims(ctx)
		if err != nil {
			return user.User{}, errors.Wrap(err, "getting context claims")
		}
	}

	usr, err := svc.GetByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return user.User{}, errUnauthorized
		}
		return user.User{}, errors.Wrap(err, "finding user by ID")
	}
	ctx.Set(contextUserKey, usr)
	return usr, nil
}

func contextHasAnyRole(ctx echo.Context, roles []string) bool {
	if len(roles) == 0 {
		return true
	}
	if claims, err := getContextClaims(ctx); err == nil {
		sort.Strings(claims.Roles)
		for _, role := range roles {
			if i := sort.SearchStrings(claims.Roles, role); i < len(claims.Roles) {
				if match := claims.Roles[i]; role == match {
					return true
				}
			}
		}
	}
	return false
}

func (s *server) refreshToken(ctx echo.Context) (string, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context claims")
	}

	usr, err := getContextUser(ctx, s.opts.UserSvc, claims)
	if err != nil {
		return "", errors.Wrap(err, "getting context user")
	}

	// check if user is still active
	if !usr.IsActive {
		return "", errAccountDeactivated
	}

	// check if refresh has not expired
	expTime := time.Unix(claims.OrigIssuedAt, 0).Add(s.opts.Conf.Server.JWTRefreshExpirationDelta)
	if time.Now().After(expTime) {
		return "", errRefreshExpired
	}

	newClaims := NewClaims(s.opts.Conf, usr, claims.School, claims.OrigIssuedAt)
	token, err := GenerateToken(s.opts.Conf, newClaims)
	return token, errors.Wrap(err, "generating token")
}
