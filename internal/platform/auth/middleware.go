package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Claims is the token payload issued by the external authentication layer.
// The subject carries the actor id; ActorType selects the identity branch.
type Claims struct {
	jwt.RegisteredClaims
	ActorType string `json:"actor_type"`
}

type JWTConfig struct {
	Issuer   string
	Audience string
	// SigningKey is the shared HMAC secret of the external auth layer.
	SigningKey []byte
}

// JWTMiddleware verifies the bearer token and attaches the resolved Actor to
// the request context. Token issuance is owned by the external auth service;
// this middleware only consumes its output.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256", "RS256"}),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			id, err := uuid.Parse(claims.Subject)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token subject")
			}
			actor, err := ParseActor(claims.ActorType, id)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid actor type")
			}

			ctx := WithActor(c.Request().Context(), actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// DevAuthMiddleware accepts identity from plain headers for local
// development: X-Actor-ID and X-Actor-Type. Requests without the headers
// default to a patient with a fixed id.
func DevAuthMiddleware() echo.MiddlewareFunc {
	devID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			kind := c.Request().Header.Get("X-Actor-Type")
			if kind == "" {
				kind = string(KindPatient)
			}
			id := devID
			if raw := c.Request().Header.Get("X-Actor-ID"); raw != "" {
				parsed, err := uuid.Parse(raw)
				if err != nil {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid X-Actor-ID")
				}
				id = parsed
			}
			actor, err := ParseActor(kind, id)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}
			ctx := WithActor(c.Request().Context(), actor)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}
