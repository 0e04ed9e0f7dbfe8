package template

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	typConsole "github.com/cnkaya/go-whatsapp-campaign-engine/internal/types"
	pkgCampaign "github.com/cnkaya/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/validation"
)

// Controller manages reusable message templates.
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
	templates, err := ct.Store.ListTemplates(requestContext(c))
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get template list", templates)
}

func (ct *Controller) Get(c *fiber.Ctx) error {
	tpl, err := ct.Store.GetTemplate(requestContext(c), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Template not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get template", tpl)
}

func (ct *Controller) Create(c *fiber.Ctx) error {
	var req typConsole.RequestTemplate
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Content) == "" {
		return router.ResponseBadRequest(c, "Template name and content are required")
	}
	if err := validation.ValidateMediaURLs(req.MediaURL); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	tpl := store.Template{
		Name:          req.Name,
		Content:       req.Content,
		MediaURL:      req.MediaURL,
		MediaType:     req.MediaType,
		MediaFilename: req.MediaFilename,
	}
	if err := ct.Store.CreateTemplate(requestContext(c), &tpl); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseCreatedWithData(c, "Success create template", tpl)
}

func (ct *Controller) Update(c *fiber.Ctx) error {
	ctx := requestContext(c)

	tpl, err := ct.Store.GetTemplate(ctx, c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Template not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	var req typConsole.RequestTemplate
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Content) == "" {
		return router.ResponseBadRequest(c, "Template name and content are required")
	}
	if err := validation.ValidateMediaURLs(req.MediaURL); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	tpl.Name = req.Name
	tpl.Content = req.Content
	tpl.MediaURL = req.MediaURL
	tpl.MediaType = req.MediaType
	tpl.MediaFilename = req.MediaFilename

	if err := ct.Store.UpdateTemplate(ctx, tpl); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success update template", tpl)
}

func (ct *Controller) Delete(c *fiber.Ctx) error {
	err := ct.Store.DeleteTemplate(requestContext(c), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Template not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccess(c, "Success delete template")
}

// Preview renders template content against a contact, or against an empty
// contact when none is given, so the operator sees the exact message text.
func (ct *Controller) Preview(c *fiber.Ctx) error {
	ctx := requestContext(c)

	var req typConsole.RequestPreview
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if strings.TrimSpace(req.Content) == "" {
		return router.ResponseBadRequest(c, "Template content is required")
	}

	var contact *store.Contact
	if req.ContactID != "" {
		var err error
		contact, err = ct.Store.GetContact(ctx, req.ContactID)
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Contact not found")
		}
		if err != nil {
			return router.ResponseInternalError(c, err.Error())
		}
	}

	rendered := pkgCampaign.Render(req.Content, contact)

	return router.ResponseSuccessWithData(c, "Success render template preview", map[string]interface{}{
		"rendered": rendered,
	})
}
