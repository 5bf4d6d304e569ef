package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/frog8/authflow/jwt"
	"github.com/gofiber/fiber/v2"
)

// GrantParser verifies a grant token. *authflow.Engine implements it.
type GrantParser interface {
	ParseGrant(token string) (*jwt.GrantClaims, error)
}

const grantLocalsKey = "authflow.grant"

type grantContextKey struct{}

// RequireGrant rejects requests without a valid bearer grant with 401 and
// stores the claims in c.Locals for GrantFromFiber.
func RequireGrant(parser GrantParser) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if parser == nil {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		token, ok := bearerToken(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		claims, err := parser.ParseGrant(token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		c.Locals(grantLocalsKey, claims)
		return c.Next()
	}
}

// GrantFromFiber returns the claims RequireGrant stored.
func GrantFromFiber(c *fiber.Ctx) (*jwt.GrantClaims, bool) {
	claims, ok := c.Locals(grantLocalsKey).(*jwt.GrantClaims)
	return claims, ok
}

// Guard is the net/http form of RequireGrant.
func Guard(parser GrantParser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if parser == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			claims, err := parser.ParseGrant(token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), grantContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GrantFromContext returns the claims Guard stored.
func GrantFromContext(ctx context.Context) (*jwt.GrantClaims, bool) {
	claims, ok := ctx.Value(grantContextKey{}).(*jwt.GrantClaims)
	return claims, ok
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}
