package auth

import (
	"github.com/gofiber/fiber/v2"

	typConsole "github.com/cnkaya/go-whatsapp-campaign-engine/internal/types"
	pkgAuth "github.com/cnkaya/go-whatsapp-campaign-engine/pkg/auth"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
)

// Login exchanges operator credentials for a bearer token.
func Login(c *fiber.Ctx) error {
	var req typConsole.RequestLogin
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if err := pkgAuth.ValidateCredentials(req.Username, req.Password); err != nil {
		log.Print(c).WithField("username", req.Username).Warn("Rejected operator login")
		return router.ResponseUnauthorized(c, "Invalid username or password")
	}

	token, err := pkgAuth.GenerateOperatorToken(req.Username)
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	log.Print(c).WithField("username", req.Username).Info("Operator logged in")

	return router.ResponseSuccessWithData(c, "Success login", map[string]interface{}{
		"token": token,
	})
}
