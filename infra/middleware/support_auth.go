package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"support_server/pkg/apperr"
	"support_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const operatorHeader = "X-Operator-ID"

// OperatorClaims is the JWT payload for operator tokens. Subject holds the operator id.
type OperatorClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenRevocations reports revoked token ids.
type TokenRevocations interface {
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisRevocations keeps revoked token ids in Redis until the token would have expired.
type RedisRevocations struct {
	client *redis.Client
	prefix string
}

func NewRedisRevocations(client *redis.Client) *RedisRevocations {
	return &RedisRevocations{client: client, prefix: "token:revoked:"}
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return r.client.Set(ctx, r.prefix+tokenID, "1", ttl).Err()
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type AuthConfig struct {
	Secret      string
	Revocations TokenRevocations
	// HeaderFallback accepts X-Operator-ID when no secret is configured. Development only.
	HeaderFallback bool
}

// JWTAuth validates HS256 bearer tokens and stores the operator id and role in Locals
// and in the user context.
func JWTAuth(cfg AuthConfig) fiber.Handler {
	secret := []byte(cfg.Secret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())

	return func(c *fiber.Ctx) error {
		if len(secret) == 0 {
			if cfg.HeaderFallback {
				if operatorID := strings.TrimSpace(c.Get(operatorHeader)); operatorID != "" {
					return withOperator(c, operatorID, "operator")
				}
			}
			return apperr.Unauthorized("authentication is not configured")
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return apperr.Unauthorized("missing authorization header")
		}
		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			return apperr.InvalidToken("invalid authorization header format")
		}

		claims := &OperatorClaims{}
		token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			if errors.Is(err, jwt.ErrTokenExpired) {
				return apperr.InvalidToken("token expired")
			}
			return apperr.InvalidToken("invalid token")
		}
		if claims.Subject == "" {
			return apperr.InvalidToken("token has no subject")
		}

		if cfg.Revocations != nil && claims.ID != "" {
			revoked, err := cfg.Revocations.IsRevoked(c.UserContext(), claims.ID)
			if err != nil {
				logger.WithContext(c.UserContext()).WithError(err).Warn("Token revocation lookup failed")
			} else if revoked {
				return apperr.InvalidToken("token revoked")
			}
		}

		return withOperator(c, claims.Subject, claims.Role)
	}
}

func withOperator(c *fiber.Ctx, operatorID, role string) error {
	c.Locals(LocalOperatorID, operatorID)
	c.Locals(LocalRole, role)
	c.SetUserContext(logger.ContextWithOperatorID(c.UserContext(), operatorID))
	return c.Next()
}

// RequireRole rejects operators whose role is not in roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(LocalRole).(string)
		if !allowed[role] {
			return apperr.Forbidden(fmt.Sprintf("role %q may not access this resource", role))
		}
		return c.Next()
	}
}

// OperatorID returns the authenticated operator, or "" on public routes.
func OperatorID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalOperatorID).(string)
	return id
}

// IssueToken signs an operator token. Used by the CLI and tests.
func IssueToken(secret, operatorID, role string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", apperr.ConfigError("JWT secret is empty")
	}
	now := time.Now()
	claims := OperatorClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   operatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
