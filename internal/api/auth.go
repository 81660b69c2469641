package api

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

const localUID = "uid"

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Mode      string // "none", "api-key", "jwt"
	APIKey    string
	JWTSecret string
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header. In jwt mode the token subject becomes the caller uid.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" || cfg.Mode == "" {
			return c.Next()
		}

		path := c.Path()
		if isProbe(path) || (path == "/" && c.Method() == fiber.MethodGet) || c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		switch cfg.Mode {
		case "api-key":
			if token == cfg.APIKey {
				return c.Next()
			}
			logger.Warn().
				Str("path", path).
				Str("method", c.Method()).
				Msg("unauthorized request: invalid API key")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_api_key", "Unauthorized",
				"Invalid API key")

		case "jwt":
			uid, err := verifyToken(token, []byte(cfg.JWTSecret))
			if err != nil {
				logger.Warn().Err(err).
					Str("path", path).
					Str("method", c.Method()).
					Msg("unauthorized request: invalid token")
				return problemResponse(c, fiber.StatusUnauthorized,
					"invalid_token", "Unauthorized",
					"Invalid or expired token")
			}
			c.Locals(localUID, uid)
			return c.Next()
		}

		return problemResponse(c, fiber.StatusUnauthorized,
			"unsupported_auth_mode", "Unauthorized",
			"Authentication is misconfigured")
	}
}

func verifyToken(raw string, secret []byte) (string, error) {
	tok, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", err
	}
	claims, ok := tok.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// isOwner reports whether uid matches the token subject. It passes when no
// token uid is known.
func isOwner(c *fiber.Ctx, uid string) bool {
	tokenUID, _ := c.Locals(localUID).(string)
	return tokenUID == "" || uid == "" || tokenUID == uid
}

func forbidOwner(c *fiber.Ctx) error {
	return problemResponse(c, fiber.StatusForbidden,
		"uid_mismatch", "Forbidden",
		"uid does not match the authenticated user")
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}
