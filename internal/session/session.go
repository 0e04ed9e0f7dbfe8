package session

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	typConsole "github.com/cnkaya/go-whatsapp-campaign-engine/internal/types"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
	pkgWhatsApp "github.com/cnkaya/go-whatsapp-campaign-engine/pkg/whatsapp"
)

// Controller exposes the session lifecycle over HTTP.
type Controller struct {
	Registry *pkgWhatsApp.Registry
}

func NewController(registry *pkgWhatsApp.Registry) *Controller {
	return &Controller{Registry: registry}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func respondSessionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, pkgWhatsApp.ErrSessionNotFound):
		return router.ResponseNotFound(c, err.Error())
	case errors.Is(err, pkgWhatsApp.ErrSessionExists),
		errors.Is(err, pkgWhatsApp.ErrSessionLimit),
		errors.Is(err, pkgWhatsApp.ErrInvalidSessionName),
		errors.Is(err, pkgWhatsApp.ErrProtectedSession),
		errors.Is(err, pkgWhatsApp.ErrNotConnected):
		return router.ResponseBadRequest(c, err.Error())
	case errors.Is(err, pkgWhatsApp.ErrEngineUnavailable):
		return router.ResponseBadGateway(c, err.Error())
	}
	return router.ResponseInternalError(c, err.Error())
}

func (ct *Controller) List(c *fiber.Ctx) error {
	states, err := ct.Registry.List(requestContext(c))
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get session list", states)
}

func (ct *Controller) Create(c *fiber.Ctx) error {
	var req typConsole.RequestCreateSession
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	state, err := ct.Registry.Create(requestContext(c), req.Name)
	if err != nil {
		return respondSessionError(c, err)
	}

	log.SessionOp(req.Name, "create").Info("Session created")

	return router.ResponseCreatedWithData(c, "Success create session", state)
}

// Connect starts pairing or reconnects an already paired session. The
// returned state carries the QR code when pairing is still in progress.
func (ct *Controller) Connect(c *fiber.Ctx) error {
	name := c.Params("name")

	state, err := ct.Registry.Connect(requestContext(c), name)
	if err != nil {
		log.SessionOp(name, "connect").WithError(err).Error("Failed to connect session")
		return respondSessionError(c, err)
	}

	return router.ResponseSuccessWithData(c, "Success connect session", state)
}

func (ct *Controller) Status(c *fiber.Ctx) error {
	state, err := ct.Registry.Status(requestContext(c), c.Params("name"))
	if err != nil {
		return respondSessionError(c, err)
	}

	return router.ResponseSuccessWithData(c, "Success get session status", state)
}

func (ct *Controller) QR(c *fiber.Ctx) error {
	state, err := ct.Registry.QR(requestContext(c), c.Params("name"))
	if err != nil {
		return respondSessionError(c, err)
	}

	return router.ResponseSuccessWithData(c, "Success get QR code", map[string]interface{}{
		"name":               state.Name,
		"qr_code":            state.QRCode,
		"qr_timeout_seconds": state.QRTimeout,
	})
}

func (ct *Controller) Disconnect(c *fiber.Ctx) error {
	name := c.Params("name")

	if err := ct.Registry.Disconnect(requestContext(c), name); err != nil {
		return respondSessionError(c, err)
	}

	log.SessionOp(name, "disconnect").Info("Session disconnected")

	return router.ResponseSuccess(c, "Success disconnect session")
}

// Logout drops the WhatsApp pairing; the next connect starts from a QR scan.
func (ct *Controller) Logout(c *fiber.Ctx) error {
	name := c.Params("name")

	if err := ct.Registry.Logout(requestContext(c), name); err != nil {
		return respondSessionError(c, err)
	}

	log.SessionOp(name, "logout").Info("Session logged out")

	return router.ResponseSuccess(c, "Success logout session")
}

func (ct *Controller) Delete(c *fiber.Ctx) error {
	name := c.Params("name")

	if err := ct.Registry.Delete(requestContext(c), name); err != nil {
		return respondSessionError(c, err)
	}

	log.SessionOp(name, "delete").Info("Session deleted")

	return router.ResponseSuccess(c, "Success delete session")
}
