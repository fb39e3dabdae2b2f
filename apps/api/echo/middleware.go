package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-cloud/core"
	"github.com/trezcool/masomo-cloud/core/tenant"
)

const contextSchoolKey = "school"

// adminMiddleware lets school admins holding any of roles through.
func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.School != "" && claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// platformAdminMiddleware lets platform admins through.
func platformAdminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if claims.School == "" && claims.IsPlatformAdmin {
			return next(ctx)
		}
		return errHttpForbidden
	}
}

// platformTokenMiddleware rejects the tokens issued by schools.
func platformTokenMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		if claims.School != "" {
			return errHttpForbidden
		}
		return next(ctx)
	}
}

// tenantMiddleware resolves the school of the `:school` path parameter
// and scopes the request context to its database.
func tenantMiddleware(svc tenant.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			req := ctx.Request()
			s, db, err := svc.Resolve(req.Context(), core.CleanString(ctx.Param("school"), true /* lower */))
			if err != nil {
				return errors.Wrap(err, "resolving school")
			}
			ctx.SetRequest(req.WithContext(svc.SchoolContext(req.Context(), s, db)))
			ctx.Set(contextSchoolKey, s)
			return next(ctx)
		}
	}
}

// schoolTokenMiddleware rejects the tokens not issued by the school of the request.
// It must run after tenantMiddleware & the JWT middleware.
func schoolTokenMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		claims, err := getContextClaims(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context claims")
		}
		s, ok := ctx.Get(contextSchoolKey).(tenant.School)
		if !ok || claims.School == "" || claims.School != s.Slug {
			return errHttpForbidden
		}
		return next(ctx)
	}
}
