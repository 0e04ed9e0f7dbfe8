package contact

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	typConsole "github.com/cnkaya/go-whatsapp-campaign-engine/internal/types"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

// Controller manages the contact book.
type Controller struct {
	Store *store.Store
}

func NewController(st *store.Store) *Controller {
	return &Controller{Store: st}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func (ct *Controller) List(c *fiber.Ctx) error {
	contacts, err := ct.Store.ListContacts(requestContext(c))
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get contact list", contacts)
}

func (ct *Controller) Get(c *fiber.Ctx) error {
	contact, err := ct.Store.GetContact(requestContext(c), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Contact not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get contact", contact)
}

func (ct *Controller) Create(c *fiber.Ctx) error {
	var req typConsole.RequestContact
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if strings.TrimSpace(req.Phone) == "" {
		return router.ResponseBadRequest(c, "Contact phone is required")
	}

	contact := store.Contact{
		Name:    req.Name,
		Surname: req.Surname,
		Phone:   req.Phone,
		Email:   req.Email,
		Address: req.Address,
		Company: req.Company,
		Consent: req.Consent,
	}
	if err := ct.Store.CreateContact(requestContext(c), &contact); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseCreatedWithData(c, "Success create contact", contact)
}

func (ct *Controller) Update(c *fiber.Ctx) error {
	ctx := requestContext(c)

	contact, err := ct.Store.GetContact(ctx, c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Contact not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	var req typConsole.RequestContact
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if strings.TrimSpace(req.Phone) == "" {
		return router.ResponseBadRequest(c, "Contact phone is required")
	}

	contact.Name = req.Name
	contact.Surname = req.Surname
	contact.Phone = req.Phone
	contact.Email = req.Email
	contact.Address = req.Address
	contact.Company = req.Company
	contact.Consent = req.Consent

	if err := ct.Store.UpdateContact(ctx, contact); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success update contact", contact)
}

func (ct *Controller) Delete(c *fiber.Ctx) error {
	err := ct.Store.DeleteContact(requestContext(c), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Contact not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccess(c, "Success delete contact")
}
