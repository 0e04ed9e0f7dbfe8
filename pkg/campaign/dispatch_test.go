package campaign

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/transport"
)

func fastDispatch(t *testing.T) {
	t.Helper()
	prevRetry, prevAttach, prevPoll := retryBackoffStep, interAttachmentDelay, waitPollInterval
	retryBackoffStep = time.Millisecond
	interAttachmentDelay = time.Millisecond
	waitPollInterval = time.Millisecond
	t.Cleanup(func() {
		retryBackoffStep = prevRetry
		interAttachmentDelay = prevAttach
		waitPollInterval = prevPoll
	})
}

func seedCampaign(ms *memStore, channel string, jobCount int) {
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Name: "launch", Status: store.CampaignScheduled,
		Channel: channel, TotalRecipients: jobCount,
	}
	jobs := make([]store.SendJob, 0, jobCount)
	for i := 0; i < jobCount; i++ {
		jobs = append(jobs, store.SendJob{
			CampaignID:      "cam1",
			RecipientPhone:  "90532111223" + string(rune('0'+i)),
			RenderedMessage: "hello",
			ScheduledAt:     time.Now().Add(time.Duration(i) * time.Millisecond),
		})
	}
	_ = ms.CreateSendJobs(context.Background(), jobs)
}

func testOpts() Options {
	return Options{MessageDelay: time.Millisecond}
}

func runDispatcher(ms *memStore, adapter transport.Adapter) *Dispatcher {
	return newDispatcher(ms, map[string]transport.Adapter{adapter.Name(): adapter})
}

func TestRunSendsAllJobs(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 3)
	adapter := &scriptedAdapter{}

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts())
	require.NoError(t, err)

	assert.Len(t, adapter.sent(), 3)
	for _, job := range ms.campaignJobs("cam1") {
		assert.Equal(t, store.JobSent, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.NotNil(t, job.SentAt)
	}

	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignCompleted, c.Status)
	assert.Equal(t, 3, c.SentCount)
	assert.NotNil(t, c.StartedAt)
	assert.NotNil(t, c.CompletedAt)
	assert.Len(t, ms.history, 3)
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 1)
	adapter := &scriptedAdapter{errs: []error{
		transport.Transient(errors.New("gateway timeout")),
		transport.Transient(errors.New("gateway timeout")),
		nil,
	}}

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts())
	require.NoError(t, err)

	job := ms.campaignJobs("cam1")[0]
	assert.Equal(t, store.JobSent, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Len(t, adapter.sent(), 3)
}

func TestRunPermanentErrorFailsImmediately(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 2)
	adapter := &scriptedAdapter{errs: []error{
		errors.New("invalid recipient"),
		nil,
	}}

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts())
	require.NoError(t, err)

	jobs := ms.campaignJobs("cam1")
	assert.Equal(t, store.JobFailed, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts, "permanent errors are never retried")
	assert.Equal(t, "invalid recipient", jobs[0].LastError)
	assert.Equal(t, store.JobSent, jobs[1].Status)

	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignCompleted, c.Status)
	assert.Equal(t, 1, c.SentCount)
	assert.Equal(t, 1, c.FailedCount)
}

func TestRunAllFailedMarksCampaignFailed(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 2)
	adapter := &scriptedAdapter{errs: []error{
		errors.New("boom"),
		errors.New("boom"),
	}}

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts())
	require.NoError(t, err)

	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignFailed, c.Status)
}

func TestRunIsIdempotentOverSentJobs(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 4)
	jobs := ms.campaignJobs("cam1")
	require.NoError(t, ms.UpdateJobStatus(context.Background(), jobs[0].ID, store.JobSent, 1, ""))
	require.NoError(t, ms.UpdateJobStatus(context.Background(), jobs[1].ID, store.JobBlocked, 0, "blocked"))
	adapter := &scriptedAdapter{}

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts())
	require.NoError(t, err)

	assert.Len(t, adapter.sent(), 2, "sent and blocked jobs must not be re-sent")
}

func TestRunRoundRobinSessions(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelPersonal, 4)
	adapter := &scriptedAdapter{name: store.ChannelPersonal}

	opts := testOpts()
	opts.Sessions = []string{"alpha", "beta"}
	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", opts)
	require.NoError(t, err)

	calls := adapter.sent()
	require.Len(t, calls, 4)
	assert.Equal(t, []string{"alpha", "beta", "alpha", "beta"},
		[]string{calls[0].session, calls[1].session, calls[2].session, calls[3].session})
}

func TestRunPersonalChannelNeedsSessions(t *testing.T) {
	ms := newMemStore()
	seedCampaign(ms, store.ChannelPersonal, 1)
	adapter := &scriptedAdapter{name: store.ChannelPersonal}

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts())
	assert.ErrorIs(t, err, ErrNoSessions)
}

func TestRunStopFlagPausesBeforeFirstJob(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 3)
	adapter := &scriptedAdapter{}

	opts := testOpts()
	opts.Stop = &atomic.Bool{}
	opts.Stop.Store(true)

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", opts)
	require.NoError(t, err)

	assert.Empty(t, adapter.sent())
	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignPaused, c.Status)
}

func TestRunStopFlagPausesMidRun(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 5)
	stop := &atomic.Bool{}
	adapter := &scriptedAdapter{onSend: func(call int) {
		if call == 1 {
			stop.Store(true)
		}
	}}

	opts := testOpts()
	opts.Stop = stop
	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", opts)
	require.NoError(t, err)

	assert.Len(t, adapter.sent(), 2)
	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignPaused, c.Status)
	assert.Equal(t, 2, c.SentCount)

	counts, _ := ms.CountJobsByStatus(context.Background(), "cam1")
	assert.Equal(t, 3, counts[store.JobPending], "unsent jobs stay pending for resume")
}

func TestRunRangeLeavesRemainderScheduled(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 4)
	adapter := &scriptedAdapter{}

	opts := testOpts()
	opts.StartIndex = 0
	opts.EndIndex = 2
	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", opts)
	require.NoError(t, err)

	assert.Len(t, adapter.sent(), 2)
	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignScheduled, c.Status, "a partial range leaves the campaign resumable")
}

func TestRunWindowAborts(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 2)
	adapter := &scriptedAdapter{}
	d := runDispatcher(ms, adapter)
	d.now = func() time.Time {
		return time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	}

	opts := testOpts()
	opts.Window = &TimeWindow{Start: "09:00", End: "18:00", Mode: "abort"}
	err := d.Run(context.Background(), "cam1", opts)
	assert.ErrorIs(t, err, ErrOutsideWindow)

	assert.Empty(t, adapter.sent())
	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignPaused, c.Status)
}

func TestRunInsideWindowProceeds(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 2)
	adapter := &scriptedAdapter{}
	d := runDispatcher(ms, adapter)

	// tick the clock forward on every read so the injected delays elapse
	current := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time {
		current = current.Add(time.Second)
		return current
	}

	opts := testOpts()
	opts.Window = &TimeWindow{Start: "09:00", End: "18:00", Mode: "abort"}
	err := d.Run(context.Background(), "cam1", opts)
	require.NoError(t, err)
	assert.Len(t, adapter.sent(), 2)
}

func TestRunWindowEnforcedAfterWaits(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 2)
	adapter := &scriptedAdapter{}
	d := runDispatcher(ms, adapter)

	// the clock jumps past the window end while the first inter-message
	// delay elapses
	current := time.Date(2026, 8, 31, 10, 30, 0, 0, time.UTC)
	d.now = func() time.Time {
		current = current.Add(30 * time.Minute)
		return current
	}

	opts := testOpts()
	opts.Window = &TimeWindow{Start: "09:00", End: "12:00", Mode: "abort"}
	err := d.Run(context.Background(), "cam1", opts)
	assert.ErrorIs(t, err, ErrOutsideWindow)

	assert.Len(t, adapter.sent(), 1)
	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignPaused, c.Status)
}

func TestTimeWindowCrossesMidnight(t *testing.T) {
	w := &TimeWindow{Start: "21:00", End: "02:00"}

	at := func(hour, minute int) time.Time {
		return time.Date(2026, 8, 31, hour, minute, 0, 0, time.UTC)
	}

	inside, err := w.contains(at(23, 30))
	require.NoError(t, err)
	assert.True(t, inside)

	inside, _ = w.contains(at(1, 59))
	assert.True(t, inside)

	inside, _ = w.contains(at(2, 0))
	assert.False(t, inside)

	inside, _ = w.contains(at(12, 0))
	assert.False(t, inside)

	_, err = (&TimeWindow{Start: "25:00", End: "02:00"}).contains(at(12, 0))
	assert.Error(t, err)
}

func TestRunMultiAttachmentSequence(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignScheduled, Channel: store.ChannelHostedAPI,
		TotalRecipients: 1,
	}
	_ = ms.CreateSendJobs(context.Background(), []store.SendJob{{
		CampaignID:      "cam1",
		RecipientPhone:  "905321112233",
		RenderedMessage: "spring catalogue",
		MediaURL:        "http://cdn.example.com/cat.pdf, http://cdn.example.com/price.pdf",
		MediaType:       "application/pdf",
		ScheduledAt:     time.Now(),
	}})
	adapter := &scriptedAdapter{}

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts())
	require.NoError(t, err)

	calls := adapter.sent()
	require.Len(t, calls, 2)
	assert.Equal(t, "spring catalogue", calls[0].msg.Body, "first attachment carries the caption")
	assert.Equal(t, "cat.pdf", calls[0].msg.Attachments[0].Filename)
	assert.Equal(t, "2/2", calls[1].msg.Body)
	assert.Equal(t, "price.pdf", calls[1].msg.Attachments[0].Filename)

	job := ms.campaignJobs("cam1")[0]
	assert.Equal(t, store.JobSent, job.Status)
}

func TestRunBreaksAfterInterval(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 3)
	adapter := &scriptedAdapter{}
	d := runDispatcher(ms, adapter)

	// freeze time so clamped break durations do not actually elapse
	current := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time {
		current = current.Add(11 * time.Minute)
		return current
	}

	opts := testOpts()
	opts.BreakInterval = 2
	opts.BreakDuration = 10 * time.Minute
	err := d.Run(context.Background(), "cam1", opts)
	require.NoError(t, err)
	assert.Len(t, adapter.sent(), 3)
}

func TestRunRejectsUnknownChannel(t *testing.T) {
	ms := newMemStore()
	seedCampaign(ms, "carrier_pigeon", 1)
	adapter := &scriptedAdapter{}

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts())
	assert.ErrorContains(t, err, "no adapter registered")
}

func TestRunRejectsDraft(t *testing.T) {
	ms := newMemStore()
	ms.campaigns["cam1"] = &store.Campaign{ID: "cam1", Status: store.CampaignDraft, Channel: store.ChannelHostedAPI}
	adapter := &scriptedAdapter{}

	err := runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts())
	assert.ErrorContains(t, err, "cannot be dispatched")
}

func TestBuildSummary(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 4)
	adapter := &scriptedAdapter{errs: []error{
		nil,
		errors.New("number not on whatsapp"),
		errors.New("number not on whatsapp"),
		nil,
	}}

	require.NoError(t, runDispatcher(ms, adapter).Run(context.Background(), "cam1", testOpts()))

	summary, err := BuildSummary(context.Background(), ms, "cam1")
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Total)
	assert.Equal(t, 2, summary.Sent)
	assert.Equal(t, 2, summary.Failed)
	assert.InDelta(t, 50.0, summary.SuccessRate, 0.001)
	assert.Equal(t, 2, summary.Errors["number not on whatsapp"])
	assert.LessOrEqual(t, summary.Sent+summary.Failed, summary.Total)
}

func TestManagerStartAndPause(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	seedCampaign(ms, store.ChannelHostedAPI, 200)
	adapter := &scriptedAdapter{}
	manager := NewManager(runDispatcher(ms, adapter))

	opts := Options{MessageDelay: 5 * time.Millisecond}
	require.NoError(t, manager.Start(context.Background(), "cam1", opts))
	assert.ErrorIs(t, manager.Start(context.Background(), "cam1", opts), ErrAlreadyRunning)

	time.Sleep(25 * time.Millisecond)
	manager.Pause("cam1")

	assert.False(t, manager.Running("cam1"))
	c, _ := ms.GetCampaign(context.Background(), "cam1")
	assert.Equal(t, store.CampaignPaused, c.Status)
	sent := len(adapter.sent())
	assert.Greater(t, sent, 0)
	assert.Less(t, sent, 200)
}

func TestManagerStartSurfacesConfigurationErrors(t *testing.T) {
	fastDispatch(t)
	ms := newMemStore()
	adapter := &scriptedAdapter{}
	personal := &scriptedAdapter{name: store.ChannelPersonal}
	manager := NewManager(newDispatcher(ms, map[string]transport.Adapter{
		adapter.Name():  adapter,
		personal.Name(): personal,
	}))

	// draft campaign
	ms.campaigns["cam1"] = &store.Campaign{
		ID: "cam1", Status: store.CampaignDraft, Channel: store.ChannelHostedAPI,
	}
	err := manager.Start(context.Background(), "cam1", testOpts())
	assert.ErrorContains(t, err, "cannot be dispatched")
	assert.False(t, manager.Running("cam1"))

	// personal channel without a session pool
	seedCampaign(ms, store.ChannelPersonal, 1)
	ms.campaigns["cam1"].Channel = store.ChannelPersonal
	ms.campaigns["cam1"].Status = store.CampaignScheduled
	err = manager.Start(context.Background(), "cam1", testOpts())
	assert.ErrorIs(t, err, ErrNoSessions)

	// unknown channel
	ms.campaigns["cam1"].Channel = "carrier_pigeon"
	err = manager.Start(context.Background(), "cam1", testOpts())
	assert.ErrorContains(t, err, "no adapter registered")

	// malformed window
	ms.campaigns["cam1"].Channel = store.ChannelHostedAPI
	opts := testOpts()
	opts.Window = &TimeWindow{Start: "25:00", End: "02:00"}
	err = manager.Start(context.Background(), "cam1", opts)
	assert.ErrorContains(t, err, "invalid clock value")

	// empty job range
	opts = testOpts()
	opts.StartIndex = 5
	err = manager.Start(context.Background(), "cam1", opts)
	assert.ErrorContains(t, err, "no jobs in the requested range")

	assert.Empty(t, adapter.sent(), "nothing may be dispatched on a refused launch")
}
