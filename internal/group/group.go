package group

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	typConsole "github.com/cnkaya/go-whatsapp-campaign-engine/internal/types"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

// Controller manages contact groups and their membership.
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
	groups, err := ct.Store.ListGroups(requestContext(c))
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get group list", groups)
}

func (ct *Controller) Get(c *fiber.Ctx) error {
	group, err := ct.Store.GetGroup(requestContext(c), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Group not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get group", group)
}

func (ct *Controller) Create(c *fiber.Ctx) error {
	var req typConsole.RequestGroup
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if strings.TrimSpace(req.Name) == "" {
		return router.ResponseBadRequest(c, "Group name is required")
	}

	group := store.Group{
		Name:        req.Name,
		Description: req.Description,
	}
	if err := ct.Store.CreateGroup(requestContext(c), &group); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseCreatedWithData(c, "Success create group", group)
}

func (ct *Controller) Delete(c *fiber.Ctx) error {
	err := ct.Store.DeleteGroup(requestContext(c), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Group not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccess(c, "Success delete group")
}

func (ct *Controller) Members(c *fiber.Ctx) error {
	contacts, err := ct.Store.GroupContacts(requestContext(c), c.Params("id"))
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get group members", contacts)
}

func (ct *Controller) AddMember(c *fiber.Ctx) error {
	ctx := requestContext(c)
	groupID := c.Params("id")
	contactID := c.Params("contact_id")

	if _, err := ct.Store.GetGroup(ctx, groupID); errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Group not found")
	} else if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	if _, err := ct.Store.GetContact(ctx, contactID); errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Contact not found")
	} else if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	if err := ct.Store.AddGroupContact(ctx, groupID, contactID); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccess(c, "Success add contact to group")
}

func (ct *Controller) RemoveMember(c *fiber.Ctx) error {
	err := ct.Store.RemoveGroupContact(requestContext(c), c.Params("id"), c.Params("contact_id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Contact is not in this group")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccess(c, "Success remove contact from group")
}
