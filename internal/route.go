package internal

import (
	"github.com/gofiber/fiber/v2"

	pkgAuth "github.com/cnkaya/go-whatsapp-campaign-engine/pkg/auth"
	pkgCampaign "github.com/cnkaya/go-whatsapp-campaign-engine/pkg/campaign"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/router"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
	pkgWhatsApp "github.com/cnkaya/go-whatsapp-campaign-engine/pkg/whatsapp"

	ctlAuth "github.com/cnkaya/go-whatsapp-campaign-engine/internal/auth"
	ctlCampaign "github.com/cnkaya/go-whatsapp-campaign-engine/internal/campaign"
	ctlContact "github.com/cnkaya/go-whatsapp-campaign-engine/internal/contact"
	ctlGroup "github.com/cnkaya/go-whatsapp-campaign-engine/internal/group"
	ctlHistory "github.com/cnkaya/go-whatsapp-campaign-engine/internal/history"
	ctlIndex "github.com/cnkaya/go-whatsapp-campaign-engine/internal/index"
	ctlSession "github.com/cnkaya/go-whatsapp-campaign-engine/internal/session"
	ctlTemplate "github.com/cnkaya/go-whatsapp-campaign-engine/internal/template"
)

// Dependencies carries the engine singletons the controllers are built on.
type Dependencies struct {
	Store        *store.Store
	Registry     *pkgWhatsApp.Registry
	Materializer *pkgCampaign.Materializer
	Manager      *pkgCampaign.Manager
}

func Routes(app *fiber.App, deps Dependencies) {
	sessions := ctlSession.NewController(deps.Registry)
	contacts := ctlContact.NewController(deps.Store)
	groups := ctlGroup.NewController(deps.Store)
	templates := ctlTemplate.NewController(deps.Store)
	campaigns := ctlCampaign.NewController(deps.Store, deps.Materializer, deps.Manager)
	history := ctlHistory.NewController(deps.Store, env.GetEnvStringOrDefault("DEFAULT_COUNTRY_CODE", "90"))

	// Route for Index
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", ctlIndex.Index)
	} else {
		app.Get(router.BaseURL, ctlIndex.Index)
		app.Get(router.BaseURL+"/", ctlIndex.Index)
	}

	// Route for Operator Login
	// ---------------------------------------------
	app.Post(router.BaseURL+"/auth/login", ctlAuth.Login)

	// All console routes below require an operator token.
	operator := pkgAuth.OperatorAuth()

	// Routes for WhatsApp Sessions
	// ---------------------------------------------
	app.Get(router.BaseURL+"/sessions", operator, sessions.List)
	app.Post(router.BaseURL+"/sessions", operator, sessions.Create)
	app.Post(router.BaseURL+"/sessions/:name/connect", operator, sessions.Connect)
	app.Get(router.BaseURL+"/sessions/:name/status", operator, sessions.Status)
	app.Get(router.BaseURL+"/sessions/:name/qr", operator, sessions.QR)
	app.Post(router.BaseURL+"/sessions/:name/disconnect", operator, sessions.Disconnect)
	app.Post(router.BaseURL+"/sessions/:name/logout", operator, sessions.Logout)
	app.Delete(router.BaseURL+"/sessions/:name", operator, sessions.Delete)

	// Routes for Contacts
	// ---------------------------------------------
	app.Get(router.BaseURL+"/contacts", operator, contacts.List)
	app.Post(router.BaseURL+"/contacts", operator, contacts.Create)
	app.Get(router.BaseURL+"/contacts/:id", operator, contacts.Get)
	app.Put(router.BaseURL+"/contacts/:id", operator, contacts.Update)
	app.Delete(router.BaseURL+"/contacts/:id", operator, contacts.Delete)

	// Routes for Contact Groups
	// ---------------------------------------------
	app.Get(router.BaseURL+"/groups", operator, groups.List)
	app.Post(router.BaseURL+"/groups", operator, groups.Create)
	app.Get(router.BaseURL+"/groups/:id", operator, groups.Get)
	app.Delete(router.BaseURL+"/groups/:id", operator, groups.Delete)
	app.Get(router.BaseURL+"/groups/:id/contacts", operator, groups.Members)
	app.Post(router.BaseURL+"/groups/:id/contacts/:contact_id", operator, groups.AddMember)
	app.Delete(router.BaseURL+"/groups/:id/contacts/:contact_id", operator, groups.RemoveMember)

	// Routes for Message Templates
	// ---------------------------------------------
	app.Get(router.BaseURL+"/templates", operator, templates.List)
	app.Post(router.BaseURL+"/templates", operator, templates.Create)
	app.Post(router.BaseURL+"/templates/preview", operator, templates.Preview)
	app.Get(router.BaseURL+"/templates/:id", operator, templates.Get)
	app.Put(router.BaseURL+"/templates/:id", operator, templates.Update)
	app.Delete(router.BaseURL+"/templates/:id", operator, templates.Delete)

	// Routes for Campaigns
	// ---------------------------------------------
	app.Get(router.BaseURL+"/campaigns", operator, campaigns.List)
	app.Post(router.BaseURL+"/campaigns", operator, campaigns.Create)
	app.Post(router.BaseURL+"/campaigns/compliance-check", operator, campaigns.ComplianceCheck)
	app.Get(router.BaseURL+"/campaigns/rate-profiles", operator, campaigns.Profiles)
	app.Get(router.BaseURL+"/campaigns/:id", operator, campaigns.Get)
	app.Post(router.BaseURL+"/campaigns/:id/materialize", operator, campaigns.Materialize)
	app.Post(router.BaseURL+"/campaigns/:id/preview", operator, campaigns.Preview)
	app.Post(router.BaseURL+"/campaigns/:id/start", operator, campaigns.Start)
	app.Post(router.BaseURL+"/campaigns/:id/pause", operator, campaigns.Pause)
	app.Post(router.BaseURL+"/campaigns/:id/stop", operator, campaigns.Pause)
	app.Post(router.BaseURL+"/campaigns/:id/resume", operator, campaigns.Start)
	app.Get(router.BaseURL+"/campaigns/:id/report", operator, campaigns.Report)
	app.Get(router.BaseURL+"/campaigns/:id/jobs", operator, campaigns.Jobs)

	// Routes for History and Block-list
	// ---------------------------------------------
	app.Get(router.BaseURL+"/history", operator, history.List)
	app.Post(router.BaseURL+"/blacklist", operator, history.AddBlacklist)
}
