package history

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	typConsole "github.com/cnkaya/go-whatsapp-campaign-engine/internal/types"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/compliance"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

// Controller serves the delivery audit trail and the recipient block-list.
type Controller struct {
	Store       *store.Store
	CountryCode string
}

func NewController(st *store.Store, countryCode string) *Controller {
	return &Controller{Store: st, CountryCode: countryCode}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func (ct *Controller) List(c *fiber.Ctx) error {
	entries, err := ct.Store.ListHistory(requestContext(c), c.Query("campaign_id"), c.QueryInt("limit"))
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get message history", entries)
}

// AddBlacklist blocks a phone from all future campaigns. The number is
// normalized so it matches the form jobs are enqueued with.
func (ct *Controller) AddBlacklist(c *fiber.Ctx) error {
	var req typConsole.RequestBlacklist
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if strings.TrimSpace(req.Phone) == "" {
		return router.ResponseBadRequest(c, "Phone is required")
	}

	phone, err := compliance.NormalizePhone(req.Phone, ct.CountryCode)
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	if err := ct.Store.AddBlacklist(requestContext(c), phone, req.Reason); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	log.Print(c).WithField("phone", phone).Info("Phone added to block-list")

	return router.ResponseCreatedWithData(c, "Success add phone to block-list", map[string]interface{}{
		"phone": phone,
	})
}
