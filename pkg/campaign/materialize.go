package campaign

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/compliance"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

type materializeStore interface {
	GetCampaign(ctx context.Context, id string) (*store.Campaign, error)
	GetContact(ctx context.Context, id string) (*store.Contact, error)
	GroupContacts(ctx context.Context, groupID string) ([]store.Contact, error)
	BlacklistedPhones(ctx context.Context, phones []string) (map[string]bool, error)
	CreateSendJobs(ctx context.Context, jobs []store.SendJob) error
	SetCampaignScheduled(ctx context.Context, id string, totalRecipients int) error
}

// Materializer expands a draft campaign into persisted send jobs. Each
// recipient gets one job with the template rendered and a staggered
// scheduled_at, so a restart never re-renders or re-randomizes anything.
type Materializer struct {
	store       materializeStore
	countryCode string
	now         func() time.Time
	randFloat   func() float64
}

func NewMaterializer(st *store.Store) *Materializer {
	countryCode := env.GetEnvStringOrDefault("DEFAULT_COUNTRY_CODE", "90")
	return newMaterializer(st, countryCode)
}

func newMaterializer(st materializeStore, countryCode string) *Materializer {
	return &Materializer{
		store:       st,
		countryCode: countryCode,
		now:         time.Now,
		randFloat:   rand.Float64,
	}
}

type recipient struct {
	phone   string
	contact *store.Contact
	blocked string
}

// Materialize turns a draft campaign into jobs and moves it to scheduled.
// Recipients that cannot be messaged get a terminal blocked job instead of
// being silently dropped, so totals always account for the whole audience.
func (m *Materializer) Materialize(ctx context.Context, campaignID string) (int, error) {
	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return 0, err
	}
	if c.Status != store.CampaignDraft {
		return 0, fmt.Errorf("campaign %s is %s, only drafts can be materialized", campaignID, c.Status)
	}

	// content and media rules block the whole launch; per-recipient
	// consent and block-list failures become blocked jobs further down
	if gate := evaluateContent(c); !gate.Passed {
		return 0, fmt.Errorf("compliance check failed: %s", strings.Join(gate.Errors, "; "))
	}

	recipients, err := m.resolveAudience(ctx, c)
	if err != nil {
		return 0, err
	}
	if len(recipients) == 0 {
		return 0, fmt.Errorf("campaign %s resolved to an empty audience", campaignID)
	}

	if c.DedupeRecipients {
		recipients = dedupe(recipients)
	}

	if err := m.applyBlacklist(ctx, recipients); err != nil {
		return 0, err
	}
	if c.RequireConsent {
		// manual phone entries were typed in by the operator and carry no
		// consent record; the flag only guards contact-book recipients
		for _, r := range recipients {
			if r.blocked == "" && r.contact != nil && !r.contact.Consent {
				r.blocked = "recipient has no recorded consent"
			}
		}
	}

	jobs := m.buildJobs(c, recipients)

	if err := m.store.CreateSendJobs(ctx, jobs); err != nil {
		return 0, err
	}
	if err := m.store.SetCampaignScheduled(ctx, campaignID, len(jobs)); err != nil {
		return 0, err
	}

	log.CampaignOp(campaignID, "materialize").
		WithField("jobs", len(jobs)).
		Info("campaign materialized")
	return len(jobs), nil
}

// PreviewRecipient is one resolved audience member in a launch preview.
type PreviewRecipient struct {
	Phone           string `json:"phone"`
	Name            string `json:"name,omitempty"`
	RenderedMessage string `json:"rendered_message"`
	BlockedReason   string `json:"blocked_reason,omitempty"`
}

// Preview summarizes what Materialize would enqueue without persisting it.
type Preview struct {
	TotalRecipients int                `json:"total_recipients"`
	Blocked         int                `json:"blocked"`
	Sample          []PreviewRecipient `json:"sample"`
	Compliance      compliance.Result  `json:"compliance"`
}

// previewSampleCap bounds the rendered sample so a 100k-recipient preview
// stays a cheap read.
const previewSampleCap = 20

// Preview resolves the audience, renders the template and runs the full
// compliance evaluation over the real recipients. Nothing is written; the
// campaign stays in whatever status it is in.
func (m *Materializer) Preview(ctx context.Context, campaignID string) (*Preview, error) {
	c, err := m.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	recipients, err := m.resolveAudience(ctx, c)
	if err != nil {
		return nil, err
	}
	if c.DedupeRecipients {
		recipients = dedupe(recipients)
	}
	if err := m.applyBlacklist(ctx, recipients); err != nil {
		return nil, err
	}

	in := compliance.Input{
		Message:         c.MessageTemplate,
		ConsentRequired: c.RequireConsent,
	}
	if c.MediaFilename != "" {
		in.Media = &compliance.MediaMeta{Filename: c.MediaFilename}
	}

	p := &Preview{TotalRecipients: len(recipients)}
	for _, r := range recipients {
		consent := true
		if r.contact != nil {
			consent = r.contact.Consent
		}
		in.Recipients = append(in.Recipients, compliance.Recipient{
			Phone:       r.phone,
			Consent:     consent,
			Blacklisted: r.blocked == "recipient is on the block-list",
		})

		blocked := r.blocked
		if blocked == "" && c.RequireConsent && r.contact != nil && !r.contact.Consent {
			blocked = "recipient has no recorded consent"
		}
		if blocked != "" {
			p.Blocked++
		}
		if len(p.Sample) < previewSampleCap {
			pr := PreviewRecipient{
				Phone:           r.phone,
				RenderedMessage: renderTemplate(c.MessageTemplate, r.contact),
				BlockedReason:   blocked,
			}
			if r.contact != nil {
				pr.Name = strings.TrimSpace(r.contact.Name + " " + r.contact.Surname)
			}
			p.Sample = append(p.Sample, pr)
		}
	}
	p.Compliance = compliance.Evaluate(in)
	return p, nil
}

// evaluateContent runs the compliance rules that apply to the campaign as
// a whole. The placeholder recipient keeps the audience rules out of it;
// those are enforced per recipient at enqueue time.
func evaluateContent(c *store.Campaign) compliance.Result {
	in := compliance.Input{
		Message:    c.MessageTemplate,
		Recipients: []compliance.Recipient{{Phone: "0", Consent: true}},
	}
	if c.MediaFilename != "" {
		in.Media = &compliance.MediaMeta{Filename: c.MediaFilename}
	}
	return compliance.Evaluate(in)
}

func (m *Materializer) resolveAudience(ctx context.Context, c *store.Campaign) ([]*recipient, error) {
	var recipients []*recipient

	addContact := func(contact *store.Contact) {
		r := &recipient{contact: contact}
		phone, err := compliance.NormalizePhone(contact.Phone, m.countryCode)
		if err != nil {
			r.phone = contact.Phone
			r.blocked = err.Error()
		} else {
			r.phone = phone
		}
		recipients = append(recipients, r)
	}

	includeContacts := c.TargetType == store.TargetContacts || c.TargetType == ""
	includeGroups := c.TargetType == store.TargetGroups || c.TargetType == ""
	includeManual := c.TargetType == store.TargetManual || c.TargetType == ""

	if includeContacts {
		for _, id := range c.TargetContacts {
			contact, err := m.store.GetContact(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("resolving contact %s: %w", id, err)
			}
			addContact(contact)
		}
	}

	if includeGroups {
		for _, groupID := range c.TargetGroups {
			contacts, err := m.store.GroupContacts(ctx, groupID)
			if err != nil {
				return nil, fmt.Errorf("resolving group %s: %w", groupID, err)
			}
			for i := range contacts {
				addContact(&contacts[i])
			}
		}
	}

	if includeManual {
		for _, raw := range c.TargetManualPhones {
			r := &recipient{}
			phone, err := compliance.NormalizePhone(raw, m.countryCode)
			if err != nil {
				r.phone = raw
				r.blocked = err.Error()
			} else {
				r.phone = phone
			}
			recipients = append(recipients, r)
		}
	}

	return recipients, nil
}

func dedupe(recipients []*recipient) []*recipient {
	seen := make(map[string]bool, len(recipients))
	out := recipients[:0]
	for _, r := range recipients {
		if seen[r.phone] {
			continue
		}
		seen[r.phone] = true
		out = append(out, r)
	}
	return out
}

func (m *Materializer) applyBlacklist(ctx context.Context, recipients []*recipient) error {
	phones := make([]string, 0, len(recipients))
	for _, r := range recipients {
		if r.blocked == "" {
			phones = append(phones, r.phone)
		}
	}
	if len(phones) == 0 {
		return nil
	}

	blocked, err := m.store.BlacklistedPhones(ctx, phones)
	if err != nil {
		return fmt.Errorf("checking block-list: %w", err)
	}
	for _, r := range recipients {
		if r.blocked == "" && blocked[r.phone] {
			r.blocked = "recipient is on the block-list"
		}
	}
	return nil
}

func (m *Materializer) buildJobs(c *store.Campaign, recipients []*recipient) []store.SendJob {
	base := m.now()
	minDelay := float64(c.DelayMinMs)
	maxDelay := float64(c.DelayMaxMs)
	if maxDelay < minDelay {
		maxDelay = minDelay
	}

	jobs := make([]store.SendJob, 0, len(recipients))
	offsetMs := 0.0
	for i, r := range recipients {
		if i > 0 {
			// accumulate rather than scale by index so scheduled_at is
			// strictly increasing even with independent random draws
			step := minDelay + m.randFloat()*(maxDelay-minDelay)
			if step < 1 {
				step = 1
			}
			offsetMs += step
		}
		job := store.SendJob{
			CampaignID:      c.ID,
			RecipientPhone:  r.phone,
			RenderedMessage: renderTemplate(c.MessageTemplate, r.contact),
			MediaURL:        c.MediaURL,
			MediaType:       c.MediaType,
			Status:          store.JobPending,
			ScheduledAt:     base.Add(time.Duration(offsetMs) * time.Millisecond),
		}
		if r.contact != nil {
			job.RecipientName = strings.TrimSpace(r.contact.Name + " " + r.contact.Surname)
		}
		if r.blocked != "" {
			job.Status = store.JobBlocked
			job.LastError = r.blocked
		}
		jobs = append(jobs, job)
	}
	return jobs
}

// Render substitutes contact placeholders into template content. It is the
// same rendering the materializer applies when jobs are built.
func Render(template string, contact *store.Contact) string {
	return renderTemplate(template, contact)
}

// renderTemplate substitutes contact placeholders; unknown recipients and
// missing fields render as empty strings.
func renderTemplate(template string, contact *store.Contact) string {
	var c store.Contact
	if contact != nil {
		c = *contact
	}
	return strings.NewReplacer(
		"{name}", c.Name,
		"{surname}", c.Surname,
		"{email}", c.Email,
		"{address}", c.Address,
		"{company}", c.Company,
	).Replace(template)
}
