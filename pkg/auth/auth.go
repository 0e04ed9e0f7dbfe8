package auth

import (
	"crypto/subtle"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
)

var (
	operatorUsername string
	operatorPassword string
)

func init() {
	operatorUsername = env.GetEnvStringOrDefault("OPERATOR_USERNAME", "admin")
	operatorPassword, _ = env.GetEnvString("OPERATOR_PASSWORD")
}

// ValidateCredentials checks the operator login in constant time.
func ValidateCredentials(username string, password string) error {
	if operatorPassword == "" {
		return errors.New("OPERATOR_PASSWORD is not configured")
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(operatorUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(operatorPassword)) == 1
	if !userOK || !passOK {
		return errors.New("invalid credentials")
	}
	return nil
}

// OperatorAuth validates the JWT bearer token on console endpoints.
func OperatorAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return router.ResponseUnauthorized(c, "Missing Authorization header")
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			return router.ResponseUnauthorized(c, "Invalid Authorization header format. Use: Bearer <token>")
		}

		claims, err := ValidateOperatorToken(parts[1])
		if err != nil {
			return router.ResponseUnauthorized(c, "Invalid or expired token")
		}

		c.Locals("operator", claims.Username)
		return c.Next()
	}
}
