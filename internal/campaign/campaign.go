package campaign

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	typConsole "github.com/cnkaya/go-whatsapp-campaign-engine/internal/types"
	pkgCampaign "github.com/cnkaya/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/compliance"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/validation"
)

// Controller drives the campaign lifecycle: create, materialize, start,
// pause and report.
type Controller struct {
	Store        *store.Store
	Materializer *pkgCampaign.Materializer
	Manager      *pkgCampaign.Manager
}

func NewController(st *store.Store, materializer *pkgCampaign.Materializer, manager *pkgCampaign.Manager) *Controller {
	return &Controller{
		Store:        st,
		Materializer: materializer,
		Manager:      manager,
	}
}

func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}

func (ct *Controller) List(c *fiber.Ctx) error {
	campaigns, err := ct.Store.ListCampaigns(requestContext(c))
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get campaign list", campaigns)
}

func (ct *Controller) Get(c *fiber.Ctx) error {
	campaign, err := ct.Store.GetCampaign(requestContext(c), c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Campaign not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get campaign", campaign)
}

func (ct *Controller) Create(c *fiber.Ctx) error {
	ctx := requestContext(c)

	var req typConsole.RequestCreateCampaign
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	if strings.TrimSpace(req.Name) == "" {
		return router.ResponseBadRequest(c, "Campaign name is required")
	}
	if req.Channel != store.ChannelHostedAPI && req.Channel != store.ChannelPersonal {
		return router.ResponseBadRequest(c, "Channel must be business_api or wa_web")
	}
	if err := validation.ValidateMediaURLs(req.MediaURL); err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	campaign := store.Campaign{
		Name:               req.Name,
		Channel:            req.Channel,
		MessageTemplate:    req.MessageTemplate,
		MediaURL:           req.MediaURL,
		MediaType:          req.MediaType,
		MediaFilename:      req.MediaFilename,
		TargetType:         req.TargetType,
		TargetContacts:     req.TargetContacts,
		TargetGroups:       req.TargetGroups,
		TargetManualPhones: req.TargetManualPhones,
		RatePerSecond:      req.RatePerSecond,
		RatePerMinute:      req.RatePerMinute,
		DelayMinMs:         req.DelayMinMs,
		DelayMaxMs:         req.DelayMaxMs,
		RequireConsent:     req.RequireConsent,
		DedupeRecipients:   req.DedupeRecipients,
	}

	// A template reference fills in whatever the request left blank.
	if req.TemplateID != "" {
		tpl, err := ct.Store.GetTemplate(ctx, req.TemplateID)
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Template not found")
		}
		if err != nil {
			return router.ResponseInternalError(c, err.Error())
		}
		if campaign.MessageTemplate == "" {
			campaign.MessageTemplate = tpl.Content
		}
		if campaign.MediaURL == "" {
			campaign.MediaURL = tpl.MediaURL
			campaign.MediaType = tpl.MediaType
			campaign.MediaFilename = tpl.MediaFilename
		}
	}

	if strings.TrimSpace(campaign.MessageTemplate) == "" {
		return router.ResponseBadRequest(c, "Campaign message is required")
	}

	if err := ct.Store.CreateCampaign(ctx, &campaign); err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	log.CampaignOp(campaign.ID, "create").WithField("channel", campaign.Channel).Info("Campaign created")

	return router.ResponseCreatedWithData(c, "Success create campaign", campaign)
}

// Materialize freezes the audience into send jobs and moves the campaign
// from draft to scheduled.
func (ct *Controller) Materialize(c *fiber.Ctx) error {
	id := c.Params("id")

	total, err := ct.Materializer.Materialize(requestContext(c), id)
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Campaign not found")
	}
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	log.CampaignOp(id, "materialize").WithField("total", total).Info("Audience materialized")

	return router.ResponseSuccessWithData(c, "Success materialize campaign", map[string]interface{}{
		"total_recipients": total,
	})
}

// Preview dry-runs the materialization: audience resolution, template
// rendering and the compliance evaluation, with nothing persisted.
func (ct *Controller) Preview(c *fiber.Ctx) error {
	id := c.Params("id")

	preview, err := ct.Materializer.Preview(requestContext(c), id)
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Campaign not found")
	}
	if err != nil {
		return router.ResponseBadRequest(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success preview campaign", preview)
}

// Start launches a background dispatch run. The run outlives the request,
// so it gets a fresh context instead of the request one.
func (ct *Controller) Start(c *fiber.Ctx) error {
	ctx := requestContext(c)
	id := c.Params("id")

	var req typConsole.RequestStartCampaign
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return router.ResponseBadRequest(c, "Failed to parse body request")
		}
	}

	campaign, err := ct.Store.GetCampaign(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Campaign not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	// Launching a draft materializes it first, so a single call covers the
	// common create-and-go flow.
	if campaign.Status == store.CampaignDraft {
		if _, err := ct.Materializer.Materialize(ctx, id); err != nil {
			return router.ResponseBadRequest(c, err.Error())
		}
	}

	opts := pkgCampaign.Options{
		Sessions:      req.Sessions,
		StartIndex:    req.StartIndex,
		EndIndex:      req.EndIndex,
		MessageDelay:  time.Duration(req.MessageDelaySeconds) * time.Second,
		RateProfile:   req.RateProfile,
		BreakInterval: req.BreakInterval,
		BreakDuration: time.Duration(req.BreakDurationMinutes) * time.Minute,
	}
	if req.Window != nil {
		opts.Window = &pkgCampaign.TimeWindow{
			Start: req.Window.Start,
			End:   req.Window.End,
			Mode:  req.Window.Mode,
		}
	}

	// launch preconditions are validated synchronously, so a bad channel,
	// missing sessions or an empty job range fail this request instead of
	// a background log line
	if err := ct.Manager.Start(context.Background(), id, opts); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Campaign not found")
		}
		return router.ResponseBadRequest(c, err.Error())
	}

	log.CampaignOp(id, "start").WithField("sessions", req.Sessions).Info("Campaign dispatch started")

	return router.ResponseSuccess(c, "Success start campaign")
}

// Pause flips the stop flag and waits until the dispatcher parks the
// campaign, so the response reflects the final paused state.
func (ct *Controller) Pause(c *fiber.Ctx) error {
	id := c.Params("id")

	if !ct.Manager.Running(id) {
		return router.ResponseBadRequest(c, "Campaign is not running")
	}

	ct.Manager.Pause(id)

	log.CampaignOp(id, "pause").Info("Campaign paused")

	return router.ResponseSuccess(c, "Success pause campaign")
}

func (ct *Controller) Report(c *fiber.Ctx) error {
	summary, err := pkgCampaign.BuildSummary(requestContext(c), ct.Store, c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Campaign not found")
	}
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get campaign report", summary)
}

func (ct *Controller) Jobs(c *fiber.Ctx) error {
	ctx := requestContext(c)
	id := c.Params("id")

	if _, err := ct.Store.GetCampaign(ctx, id); errors.Is(err, store.ErrNotFound) {
		return router.ResponseNotFound(c, "Campaign not found")
	} else if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	jobs, err := ct.Store.ListJobs(ctx, id, c.Query("status"))
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}

	return router.ResponseSuccessWithData(c, "Success get campaign jobs", jobs)
}

// ComplianceCheck runs the pre-launch content and audience rules. It never
// mutates the campaign; the operator decides what to do with the report.
func (ct *Controller) ComplianceCheck(c *fiber.Ctx) error {
	ctx := requestContext(c)

	var req typConsole.RequestComplianceCheck
	if err := c.BodyParser(&req); err != nil {
		return router.ResponseBadRequest(c, "Failed to parse body request")
	}

	in := compliance.Input{Message: req.Message}

	if req.CampaignID != "" {
		campaign, err := ct.Store.GetCampaign(ctx, req.CampaignID)
		if errors.Is(err, store.ErrNotFound) {
			return router.ResponseNotFound(c, "Campaign not found")
		}
		if err != nil {
			return router.ResponseInternalError(c, err.Error())
		}

		if in.Message == "" {
			in.Message = campaign.MessageTemplate
		}
		in.ConsentRequired = campaign.RequireConsent
		if campaign.MediaFilename != "" {
			in.Media = &compliance.MediaMeta{Filename: campaign.MediaFilename}
		}

		recipients, err := ct.complianceRecipients(ctx, campaign)
		if err != nil {
			return router.ResponseInternalError(c, err.Error())
		}
		in.Recipients = recipients
	} else {
		// Message-only checks; a placeholder recipient keeps the empty
		// audience rule from firing.
		in.Recipients = []compliance.Recipient{{Phone: "0", Consent: true}}
	}

	result := compliance.Evaluate(in)

	return router.ResponseSuccessWithData(c, "Success run compliance check", result)
}

// complianceRecipients reconstructs the audience view for the evaluator.
// Materialized campaigns use their frozen job list; drafts fall back to the
// target selection.
func (ct *Controller) complianceRecipients(ctx context.Context, campaign *store.Campaign) ([]compliance.Recipient, error) {
	jobs, err := ct.Store.ListJobs(ctx, campaign.ID, "")
	if err != nil {
		return nil, err
	}

	var recipients []compliance.Recipient
	var phones []string

	if len(jobs) > 0 {
		for _, job := range jobs {
			recipients = append(recipients, compliance.Recipient{
				Phone:   job.RecipientPhone,
				Name:    job.RecipientName,
				Consent: true,
			})
			phones = append(phones, job.RecipientPhone)
		}
	} else {
		seen := map[string]bool{}
		addContact := func(contact *store.Contact) {
			if seen[contact.ID] {
				return
			}
			seen[contact.ID] = true
			recipients = append(recipients, compliance.Recipient{
				Phone:   contact.Phone,
				Name:    contact.Name,
				Consent: contact.Consent,
			})
			phones = append(phones, contact.Phone)
		}

		for _, contactID := range campaign.TargetContacts {
			contact, err := ct.Store.GetContact(ctx, contactID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			addContact(contact)
		}
		for _, groupID := range campaign.TargetGroups {
			members, err := ct.Store.GroupContacts(ctx, groupID)
			if err != nil {
				return nil, err
			}
			for i := range members {
				addContact(&members[i])
			}
		}
		for _, phone := range campaign.TargetManualPhones {
			recipients = append(recipients, compliance.Recipient{Phone: phone, Consent: true})
			phones = append(phones, phone)
		}
	}

	blocked, err := ct.Store.BlacklistedPhones(ctx, phones)
	if err != nil {
		return nil, err
	}
	for i := range recipients {
		recipients[i].Blacklisted = blocked[recipients[i].Phone]
	}
	return recipients, nil
}

// Profiles lists the send-rate presets the dispatcher understands.
func (ct *Controller) Profiles(c *fiber.Ctx) error {
	return router.ResponseSuccessWithData(c, "Success get rate profiles", compliance.Profiles())
}
