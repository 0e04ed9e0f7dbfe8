package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

func testMaterializer(ms *memStore) *Materializer {
	m := newMaterializer(ms, "90")
	m.randFloat = func() float64 { return 0.5 }
	return m
}

func TestMaterializeRendersAndStaggers(t *testing.T) {
	ms := newMemStore()
	ms.contacts["c1"] = &store.Contact{
		ID: "c1", Name: "Ayşe", Surname: "Yılmaz", Phone: "0532 111 22 33",
		Company: "Acme", Consent: true,
	}
	ms.contacts["c2"] = &store.Contact{
		ID: "c2", Name: "Mehmet", Phone: "+90 532 111 22 34", Consent: true,
	}
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft, Channel: store.ChannelHostedAPI,
		MessageTemplate: "Hi {name} {surname} from {company}!",
		TargetType:      store.TargetContacts,
		TargetContacts:  []string{"c1", "c2"},
		DelayMinMs:      1000, DelayMaxMs: 3000,
	}

	m := testMaterializer(ms)
	total, err := m.Materialize(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	jobs := ms.campaignJobs("cam1")
	require.Len(t, jobs, 2)

	assert.Equal(t, "905321112233", jobs[0].RecipientPhone)
	assert.Equal(t, "Hi Ayşe Yılmaz from Acme!", jobs[0].RenderedMessage)
	assert.Equal(t, "Ayşe Yılmaz", jobs[0].RecipientName)

	// missing placeholder fields render as empty strings
	assert.Equal(t, "Hi Mehmet  from !", jobs[1].RenderedMessage)

	// randFloat pinned at 0.5 makes each offset i*2000ms
	gap := jobs[1].ScheduledAt.Sub(jobs[0].ScheduledAt)
	assert.Equal(t, 2*time.Second, gap)

	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignScheduled, c.Status)
	assert.Equal(t, 2, c.TotalRecipients)
}

func TestMaterializeStaggerIsMonotonic(t *testing.T) {
	ms := newMemStore()
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft,
		MessageTemplate: "hello",
		TargetType:      store.TargetManual,
		TargetManualPhones: []string{
			"905321112233", "905321112234", "905321112235",
		},
		DelayMinMs: 1000, DelayMaxMs: 5000,
	}

	// a large draw followed by a small one must not reorder the schedule
	m := testMaterializer(ms)
	draws := []float64{0.9, 0.1}
	calls := 0
	m.randFloat = func() float64 {
		v := draws[calls%len(draws)]
		calls++
		return v
	}

	_, err := m.Materialize(context.Background(), "cam1")
	require.NoError(t, err)

	jobs := ms.campaignJobs("cam1")
	require.Len(t, jobs, 3)
	for i := 1; i < len(jobs); i++ {
		assert.True(t, jobs[i].ScheduledAt.After(jobs[i-1].ScheduledAt),
			"job %d must be scheduled after job %d", i, i-1)
	}
}

func TestMaterializeBlocksAtEnqueue(t *testing.T) {
	ms := newMemStore()
	ms.blacklist["905321112235"] = true
	ms.contacts["c1"] = &store.Contact{ID: "c1", Name: "NoConsent", Phone: "905321112234", Consent: false}
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft,
		MessageTemplate:    "hello",
		TargetContacts:     []string{"c1"},
		TargetManualPhones: []string{"905321112233", "905321112235", "12"},
		RequireConsent:     true,
	}

	total, err := testMaterializer(ms).Materialize(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, 4, total, "blocked recipients still count toward the total")

	jobs := ms.campaignJobs("cam1")
	byPhone := make(map[string]store.SendJob)
	for _, j := range jobs {
		byPhone[j.RecipientPhone] = j
	}

	assert.Equal(t, store.JobBlocked, byPhone["905321112234"].Status)
	assert.Contains(t, byPhone["905321112234"].LastError, "consent")

	assert.Equal(t, store.JobBlocked, byPhone["905321112235"].Status)
	assert.Contains(t, byPhone["905321112235"].LastError, "block-list")

	assert.Equal(t, store.JobBlocked, byPhone["12"].Status)

	// manual recipients need no consent record
	assert.Equal(t, store.JobPending, byPhone["905321112233"].Status)
}

func TestMaterializeDedupe(t *testing.T) {
	ms := newMemStore()
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft,
		MessageTemplate:    "hello",
		TargetType:         store.TargetManual,
		TargetManualPhones: []string{"0532 111 22 33", "905321112233", "905321112234"},
		DedupeRecipients:   true,
	}

	total, err := testMaterializer(ms).Materialize(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, 2, total, "normalized duplicates collapse to one job")
}

func TestMaterializeKeepsDuplicatesByDefault(t *testing.T) {
	ms := newMemStore()
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft,
		MessageTemplate:    "hello",
		TargetType:         store.TargetManual,
		TargetManualPhones: []string{"905321112233", "905321112233"},
	}

	total, err := testMaterializer(ms).Materialize(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestMaterializeGroupAudience(t *testing.T) {
	ms := newMemStore()
	ms.groups["g1"] = []store.Contact{
		{ID: "c1", Name: "A", Phone: "905321112233", Consent: true},
		{ID: "c2", Name: "B", Phone: "905321112234", Consent: true},
	}
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft,
		MessageTemplate: "hello {name}",
		TargetType:      store.TargetGroups,
		TargetGroups:    []string{"g1"},
	}

	total, err := testMaterializer(ms).Materialize(context.Background(), "cam1")
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "hello A", ms.campaignJobs("cam1")[0].RenderedMessage)
}

func TestMaterializeRejectsNonDraft(t *testing.T) {
	ms := newMemStore()
	ms.campaigns["cam1"] = &store.Campaign{ID: "cam1", Status: store.CampaignRunning}

	_, err := testMaterializer(ms).Materialize(context.Background(), "cam1")
	assert.ErrorContains(t, err, "only drafts")
}

func TestMaterializeEmptyAudience(t *testing.T) {
	ms := newMemStore()
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft, MessageTemplate: "hello",
	}

	_, err := testMaterializer(ms).Materialize(context.Background(), "cam1")
	assert.ErrorContains(t, err, "empty audience")
}

func TestMaterializeBlockedByComplianceErrors(t *testing.T) {
	ms := newMemStore()
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft,
		MessageTemplate:    "catalogue attached below, have a look",
		MediaFilename:      "setup.exe",
		TargetType:         store.TargetManual,
		TargetManualPhones: []string{"905321112233"},
	}

	_, err := testMaterializer(ms).Materialize(context.Background(), "cam1")
	require.ErrorContains(t, err, "compliance check failed")
	assert.Empty(t, ms.campaignJobs("cam1"), "a refused launch must enqueue nothing")

	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignDraft, c.Status)

	// an empty message is refused the same way
	ms.campaigns["cam2"] = &store.Campaign{
		ID: "cam2", Status: store.CampaignDraft,
		TargetType:         store.TargetManual,
		TargetManualPhones: []string{"905321112233"},
	}
	_, err = testMaterializer(ms).Materialize(context.Background(), "cam2")
	assert.ErrorContains(t, err, "message content is empty")
}

func TestPreviewPersistsNothing(t *testing.T) {
	ms := newMemStore()
	ms.blacklist["905321112235"] = true
	ms.contacts["c1"] = &store.Contact{
		ID: "c1", Name: "Ayşe", Surname: "Yılmaz", Phone: "0532 111 22 33",
		Consent: true,
	}
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft, Channel: store.ChannelHostedAPI,
		MessageTemplate:    "Hi {name}, check https://bit.ly/deal",
		TargetContacts:     []string{"c1"},
		TargetManualPhones: []string{"905321112235"},
	}

	p, err := testMaterializer(ms).Preview(context.Background(), "cam1")
	require.NoError(t, err)

	assert.Equal(t, 2, p.TotalRecipients)
	assert.Equal(t, 1, p.Blocked)

	require.Len(t, p.Sample, 2)
	assert.Equal(t, "905321112233", p.Sample[0].Phone)
	assert.Equal(t, "Hi Ayşe, check https://bit.ly/deal", p.Sample[0].RenderedMessage)
	assert.Empty(t, p.Sample[0].BlockedReason)
	assert.Contains(t, p.Sample[1].BlockedReason, "block-list")

	// the blacklisted recipient and the shortened link both surface
	assert.False(t, p.Compliance.Passed)
	assert.Contains(t, p.Compliance.Errors, "1 recipients are on the block-list")
	assert.Contains(t, p.Compliance.Warnings, "shortened link detected; these are often blocked")

	// a dry run must leave the campaign and the job table untouched
	assert.Empty(t, ms.campaignJobs("cam1"))
	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignDraft, c.Status)
	assert.Equal(t, 0, c.TotalRecipients)
}
