// Package auth guards the HTTP API with bearer-token authentication. The
// server validates HS256 tokens signed with a shared secret; in development
// mode authentication is skipped entirely and every request acts as a
// default clinician.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// ActorIDKey is the echo context key carrying the authenticated
	// actor's id.
	ActorIDKey = "actor_id"
	// ActorRoleKey is the echo context key carrying the actor's role.
	ActorRoleKey = "actor_role"
)

// Claims is the token payload the server issues and accepts.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// devActorID is the fixed identity used when development mode bypasses
// authentication.
var devActorID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

// Middleware validates the Authorization bearer token. When devMode is
// true the check is skipped and a fixed development identity is attached.
func Middleware(secret string, devMode bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if devMode {
				c.Set(ActorIDKey, devActorID)
				c.Set(ActorRoleKey, "clinician")
				return next(c)
			}

			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(header, "Bearer ") {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			raw := strings.TrimPrefix(header, "Bearer ")

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actorID, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid subject claim")
			}
			c.Set(ActorIDKey, actorID)
			c.Set(ActorRoleKey, claims.Role)
			return next(c)
		}
	}
}

// ActorID returns the authenticated actor from the request context.
func ActorID(c echo.Context) uuid.UUID {
	if id, ok := c.Get(ActorIDKey).(uuid.UUID); ok {
		return id
	}
	return uuid.Nil
}

// IssueToken signs a token for the given actor. Used by tests and
// operational tooling.
func IssueToken(secret string, actorID uuid.UUID, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actorID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
