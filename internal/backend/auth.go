package backend

import (
	"fmt"
	"slices"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jo-hoe/goannotate/internal/core"
	"github.com/labstack/echo/v4"
)

const claimsContextKey = "claims"

// Claims are the JWT claims the service understands.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// RoleError carries the role sets of a rejected request into the 403 body.
type RoleError struct {
	Required []string
	Actual   []string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("requires one of %v, token has %v", e.Required, e.Actual)
}

// Authenticator validates HS256 bearer tokens.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// RequireRoles accepts a request whose token carries at least one of roles.
// An empty role list only requires a valid token.
func (a *Authenticator) RequireRoles(roles []string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := a.parse(ctx.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return core.NewError(core.KindUnauthorized, "Missing or invalid token", err)
			}
			if len(roles) > 0 && !hasAnyRole(claims.Roles, roles) {
				return core.NewError(core.KindForbidden, "Insufficient role",
					&RoleError{Required: roles, Actual: claims.Roles})
			}
			ctx.Set(claimsContextKey, claims)
			return next(ctx)
		}
	}
}

func (a *Authenticator) parse(header string) (*Claims, error) {
	tokenString, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(tokenString) == "" {
		return nil, fmt.Errorf("no bearer token in authorization header")
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), claims, func(token *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("failed to validate token: %w", err)
	}
	return claims, nil
}

func hasAnyRole(actual, required []string) bool {
	for _, role := range required {
		if slices.Contains(actual, role) {
			return true
		}
	}
	return false
}
