package index

import (
	"github.com/gofiber/fiber/v2"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
)

func Index(c *fiber.Ctx) error {
	return router.ResponseSuccess(c, "Go WhatsApp Campaign Engine is running")
}
