package campaign

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/compliance"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/transport"
)

type dispatchStore interface {
	GetCampaign(ctx context.Context, id string) (*store.Campaign, error)
	UpdateCampaignStatus(ctx context.Context, id string, status string) error
	RefreshCampaignCounters(ctx context.Context, id string) error
	ListJobs(ctx context.Context, campaignID string, status string) ([]store.SendJob, error)
	UpdateJobStatus(ctx context.Context, id string, status string, attempts int, lastError string) error
	AppendHistory(ctx context.Context, entry *store.HistoryEntry) error
}

const (
	sendTimeout        = 30 * time.Second
	windowCheckEvery   = 10
	maxMessageDelay    = 60 * time.Second
	minBreakDuration   = 10 * time.Minute
	maxBreakDuration   = 60 * time.Minute
	maxBreakInterval   = 1000
	defaultMaxAttempts = 3
)

// test hooks
var (
	retryBackoffStep     = 2 * time.Second
	interAttachmentDelay = 2 * time.Second
	waitPollInterval     = 100 * time.Millisecond
)

var (
	ErrStopped       = errors.New("dispatch stopped by operator")
	ErrOutsideWindow = errors.New("current time is outside the allowed send window")
	ErrNoSessions    = errors.New("no sessions selected for the personal channel")
)

// TimeWindow restricts sending to a daily interval. Start and End are
// "HH:MM"; a window may cross midnight (e.g. 21:00 to 02:00).
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
	// Mode is "wait" to sleep until the window opens or "abort" to pause
	// the campaign instead.
	Mode string `json:"mode"`
}

func (w *TimeWindow) contains(t time.Time) (bool, error) {
	start, err := parseClock(w.Start)
	if err != nil {
		return false, err
	}
	end, err := parseClock(w.End)
	if err != nil {
		return false, err
	}
	minute := t.Hour()*60 + t.Minute()
	if start <= end {
		return minute >= start && minute < end, nil
	}
	return minute >= start || minute < end, nil
}

func parseClock(s string) (int, error) {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock value %q: %w", s, err)
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}

// Options tunes one dispatch run. Zero values mean run everything with the
// campaign's own pacing.
type Options struct {
	// Sessions is the personal-channel pool, used round-robin by job index.
	Sessions []string
	// StartIndex and EndIndex bound the run to [start, end) over the
	// campaign's job list. EndIndex <= 0 means to the end.
	StartIndex int
	EndIndex   int
	// MessageDelay overrides the randomized per-message delay when > 0.
	MessageDelay time.Duration
	// RateProfile picks the delay range when the campaign has none.
	RateProfile string
	// BreakInterval pauses for BreakDuration after that many sends.
	BreakInterval int
	BreakDuration time.Duration
	Window        *TimeWindow
	// Stop is polled at every suspension point; setting it pauses the run.
	Stop *atomic.Bool
}

func (o *Options) stopped() bool {
	return o.Stop != nil && o.Stop.Load()
}

// Dispatcher walks a campaign's pending jobs in schedule order and pushes
// them through a channel adapter, honoring pacing, breaks, the send window
// and the operator stop flag.
type Dispatcher struct {
	store     dispatchStore
	adapters  map[string]transport.Adapter
	now       func() time.Time
	randFloat func() float64
}

func NewDispatcher(st *store.Store, adapters map[string]transport.Adapter) *Dispatcher {
	return newDispatcher(st, adapters)
}

func newDispatcher(st dispatchStore, adapters map[string]transport.Adapter) *Dispatcher {
	return &Dispatcher{
		store:     st,
		adapters:  adapters,
		now:       time.Now,
		randFloat: rand.Float64,
	}
}

// Validate checks the launch preconditions Run would fail on, without
// touching campaign or job state. Manager.Start runs it before spawning the
// dispatch goroutine so configuration mistakes surface on the operator's
// request instead of in a log line.
func (d *Dispatcher) Validate(ctx context.Context, campaignID string, opts Options) error {
	c, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	switch c.Status {
	case store.CampaignScheduled, store.CampaignPaused, store.CampaignRunning:
	default:
		return fmt.Errorf("campaign %s is %s and cannot be dispatched", campaignID, c.Status)
	}
	if d.adapters[c.Channel] == nil {
		return fmt.Errorf("no adapter registered for channel %q", c.Channel)
	}
	if c.Channel == store.ChannelPersonal && len(opts.Sessions) == 0 {
		return ErrNoSessions
	}
	if opts.Window != nil {
		if _, err := opts.Window.contains(d.now()); err != nil {
			return err
		}
	}

	jobs, err := d.store.ListJobs(ctx, campaignID, "")
	if err != nil {
		return err
	}
	if len(sliceRange(jobs, opts.StartIndex, opts.EndIndex)) == 0 {
		return fmt.Errorf("campaign %s has no jobs in the requested range", campaignID)
	}
	return nil
}

// Run processes one campaign until its jobs are done, the operator stops
// it, or the send window aborts it. It is safe to re-run: sent, failed and
// blocked jobs are never touched again.
func (d *Dispatcher) Run(ctx context.Context, campaignID string, opts Options) error {
	c, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	switch c.Status {
	case store.CampaignScheduled, store.CampaignPaused, store.CampaignRunning:
	default:
		return fmt.Errorf("campaign %s is %s and cannot be dispatched", campaignID, c.Status)
	}

	adapter := d.adapters[c.Channel]
	if adapter == nil {
		return fmt.Errorf("no adapter registered for channel %q", c.Channel)
	}
	if c.Channel == store.ChannelPersonal && len(opts.Sessions) == 0 {
		return ErrNoSessions
	}

	jobs, err := d.store.ListJobs(ctx, campaignID, "")
	if err != nil {
		return err
	}
	jobs = sliceRange(jobs, opts.StartIndex, opts.EndIndex)
	if len(jobs) == 0 {
		return fmt.Errorf("campaign %s has no jobs in the requested range", campaignID)
	}

	if err := d.store.UpdateCampaignStatus(ctx, campaignID, store.CampaignRunning); err != nil {
		return err
	}
	log.CampaignOp(campaignID, "dispatch").
		WithField("jobs", len(jobs)).
		WithField("channel", c.Channel).
		Info("dispatch started")

	limiters := buildLimiters(c)
	delayMin, delayMax := delayRange(c, opts)
	sentThisRun := 0

	for i, job := range jobs {
		if opts.stopped() {
			return d.pause(ctx, campaignID, ErrStopped)
		}
		if err := ctx.Err(); err != nil {
			return d.pause(ctx, campaignID, err)
		}

		if opts.Window != nil && i%windowCheckEvery == 0 {
			if err := d.enforceWindow(ctx, campaignID, opts); err != nil {
				return err
			}
		}

		if job.Status != store.JobPending && job.Status != store.JobProcessing {
			continue
		}

		if i > 0 {
			if err := d.pacing(ctx, opts, delayMin, delayMax); err != nil {
				return d.pause(ctx, campaignID, err)
			}
			// the window may have closed while the delay elapsed
			if opts.Window != nil {
				if err := d.enforceWindow(ctx, campaignID, opts); err != nil {
					return err
				}
			}
		}
		for _, limiter := range limiters {
			if err := limiter.Wait(ctx); err != nil {
				return d.pause(ctx, campaignID, err)
			}
		}

		session := ""
		if len(opts.Sessions) > 0 {
			session = opts.Sessions[i%len(opts.Sessions)]
		}

		if err := d.processJob(ctx, &job, adapter, session, opts); err != nil {
			if errors.Is(err, ErrStopped) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return d.pause(ctx, campaignID, err)
			}
			return err
		}
		sentThisRun++

		if opts.BreakInterval > 0 && sentThisRun%clampInt(opts.BreakInterval, 1, maxBreakInterval) == 0 && i < len(jobs)-1 {
			dur := clampDuration(opts.BreakDuration, minBreakDuration, maxBreakDuration)
			log.CampaignOp(campaignID, "dispatch").
				WithField("after_messages", sentThisRun).
				Infof("taking a %s break", dur)
			if err := d.wait(ctx, opts, dur); err != nil {
				return d.pause(ctx, campaignID, err)
			}
			if opts.Window != nil {
				if err := d.enforceWindow(ctx, campaignID, opts); err != nil {
					return err
				}
			}
		}
	}

	return d.finish(ctx, campaignID)
}

func (d *Dispatcher) processJob(ctx context.Context, job *store.SendJob, adapter transport.Adapter, session string, opts Options) error {
	if err := d.store.UpdateJobStatus(ctx, job.ID, store.JobProcessing, job.Attempts, ""); err != nil {
		return err
	}

	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := job.Attempts + 1; attempt <= maxAttempts; attempt++ {
		lastErr = d.sendJob(ctx, job, adapter, session)
		if lastErr == nil {
			if err := d.store.UpdateJobStatus(ctx, job.ID, store.JobSent, attempt, ""); err != nil {
				return err
			}
			d.record(ctx, job, adapter.Name(), store.JobSent, "")
			return nil
		}

		if !transport.IsRetryable(lastErr) || attempt == maxAttempts {
			if err := d.store.UpdateJobStatus(ctx, job.ID, store.JobFailed, attempt, lastErr.Error()); err != nil {
				return err
			}
			d.record(ctx, job, adapter.Name(), store.JobFailed, lastErr.Error())
			log.CampaignOp(job.CampaignID, "dispatch").
				WithField("job", job.ID).
				WithField("attempts", attempt).
				WithError(lastErr).
				Warn("job failed")
			return nil
		}

		backoff := time.Duration(attempt) * retryBackoffStep
		if err := d.wait(ctx, opts, backoff); err != nil {
			// leave the job pending with its attempt count so a resume
			// picks it up where it left off
			if updateErr := d.store.UpdateJobStatus(ctx, job.ID, store.JobPending, attempt, lastErr.Error()); updateErr != nil {
				return updateErr
			}
			return err
		}
	}
	return nil
}

// sendJob pushes one job over the adapter. Multiple attachments go out
// sequentially: the first carries the message as caption, the rest a k/N
// marker.
func (d *Dispatcher) sendJob(ctx context.Context, job *store.SendJob, adapter transport.Adapter, session string) error {
	urls := splitMediaURLs(job.MediaURL)

	if len(urls) == 0 {
		return d.sendOne(ctx, adapter, session, transport.Message{
			To:   job.RecipientPhone,
			Body: job.RenderedMessage,
		})
	}

	for k, url := range urls {
		caption := job.RenderedMessage
		if k > 0 {
			caption = fmt.Sprintf("%d/%d", k+1, len(urls))
			select {
			case <-ctx.Done():
				return transport.Transient(ctx.Err())
			case <-time.After(interAttachmentDelay):
			}
		}
		msg := transport.Message{
			To:   job.RecipientPhone,
			Body: caption,
			Attachments: []transport.Attachment{{
				URL:      url,
				MimeType: job.MediaType,
				Filename: attachmentFilename(url),
			}},
		}
		if err := d.sendOne(ctx, adapter, session, msg); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) sendOne(ctx context.Context, adapter transport.Adapter, session string, msg transport.Message) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	_, err := adapter.Send(sendCtx, session, msg)
	return err
}

func (d *Dispatcher) record(ctx context.Context, job *store.SendJob, channel string, status string, sendErr string) {
	entry := &store.HistoryEntry{
		Phone:       job.RecipientPhone,
		Message:     job.RenderedMessage,
		ContactName: job.RecipientName,
		MediaURL:    job.MediaURL,
		Status:      status,
		Channel:     channel,
		CampaignID:  job.CampaignID,
		Error:       sendErr,
	}
	if err := d.store.AppendHistory(ctx, entry); err != nil {
		log.CampaignOp(job.CampaignID, "dispatch").WithError(err).Error("failed to append history")
	}
}

func (d *Dispatcher) pacing(ctx context.Context, opts Options, delayMin, delayMax time.Duration) error {
	delay := opts.MessageDelay
	if delay <= 0 {
		delay = delayMin + time.Duration(d.randFloat()*float64(delayMax-delayMin))
	}
	delay = clampDuration(delay, 0, maxMessageDelay)
	if delay == 0 {
		return nil
	}
	return d.wait(ctx, opts, delay)
}

// wait sleeps for dur while polling the stop flag. Window enforcement
// happens in Run after every wait, not here, because the wait-mode window
// loop itself sleeps through out-of-window stretches.
func (d *Dispatcher) wait(ctx context.Context, opts Options, dur time.Duration) error {
	deadline := d.now().Add(dur)
	for {
		if opts.stopped() {
			return ErrStopped
		}
		remaining := deadline.Sub(d.now())
		if remaining <= 0 {
			return nil
		}
		step := waitPollInterval
		if remaining < step {
			step = remaining
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(step):
		}
	}
}

func (d *Dispatcher) enforceWindow(ctx context.Context, campaignID string, opts Options) error {
	w := opts.Window
	inside, err := w.contains(d.now())
	if err != nil {
		return err
	}
	if inside {
		return nil
	}

	if w.Mode != "wait" {
		log.CampaignOp(campaignID, "dispatch").Warn("outside the send window, aborting run")
		if err := d.pause(ctx, campaignID, ErrOutsideWindow); err != nil {
			return err
		}
		return ErrOutsideWindow
	}

	log.CampaignOp(campaignID, "dispatch").Info("outside the send window, waiting")
	for {
		if err := d.wait(ctx, opts, time.Minute); err != nil {
			return d.pause(ctx, campaignID, err)
		}
		inside, err := w.contains(d.now())
		if err != nil {
			return err
		}
		if inside {
			return nil
		}
	}
}

func (d *Dispatcher) pause(ctx context.Context, campaignID string, cause error) error {
	log.CampaignOp(campaignID, "dispatch").WithField("cause", cause.Error()).Info("dispatch paused")
	if err := d.store.RefreshCampaignCounters(ctx, campaignID); err != nil {
		log.CampaignOp(campaignID, "dispatch").WithError(err).Error("failed to refresh counters")
	}
	if err := d.store.UpdateCampaignStatus(ctx, campaignID, store.CampaignPaused); err != nil {
		return err
	}
	if errors.Is(cause, ErrStopped) {
		return nil
	}
	return cause
}

func (d *Dispatcher) finish(ctx context.Context, campaignID string) error {
	if err := d.store.RefreshCampaignCounters(ctx, campaignID); err != nil {
		return err
	}

	jobs, err := d.store.ListJobs(ctx, campaignID, store.JobPending)
	if err != nil {
		return err
	}
	if len(jobs) > 0 {
		// a partial range run leaves the remainder for the next run
		log.CampaignOp(campaignID, "dispatch").
			WithField("remaining", len(jobs)).
			Info("dispatch range finished with jobs remaining")
		return d.store.UpdateCampaignStatus(ctx, campaignID, store.CampaignScheduled)
	}

	c, err := d.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return err
	}
	status := store.CampaignCompleted
	if c.TotalRecipients > 0 && c.SentCount == 0 && c.FailedCount > 0 {
		status = store.CampaignFailed
	}
	log.CampaignOp(campaignID, "dispatch").
		WithField("sent", c.SentCount).
		WithField("failed", c.FailedCount).
		Info("dispatch finished")
	return d.store.UpdateCampaignStatus(ctx, campaignID, status)
}

func buildLimiters(c *store.Campaign) []*rate.Limiter {
	var limiters []*rate.Limiter
	if c.RatePerSecond > 0 {
		limiters = append(limiters, rate.NewLimiter(rate.Limit(c.RatePerSecond), 1))
	}
	if c.RatePerMinute > 0 {
		limiters = append(limiters, rate.NewLimiter(rate.Every(time.Minute/time.Duration(c.RatePerMinute)), 1))
	}
	return limiters
}

func delayRange(c *store.Campaign, opts Options) (time.Duration, time.Duration) {
	if c.DelayMinMs > 0 || c.DelayMaxMs > 0 {
		minDelay := time.Duration(c.DelayMinMs) * time.Millisecond
		maxDelay := time.Duration(c.DelayMaxMs) * time.Millisecond
		if maxDelay < minDelay {
			maxDelay = minDelay
		}
		return minDelay, maxDelay
	}
	profile := compliance.ProfileByName(opts.RateProfile)
	return profile.MinDelay, profile.MaxDelay
}

func sliceRange(jobs []store.SendJob, start, end int) []store.SendJob {
	if start < 0 {
		start = 0
	}
	if end <= 0 || end > len(jobs) {
		end = len(jobs)
	}
	if start >= end {
		return nil
	}
	return jobs[start:end]
}

func splitMediaURLs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			urls = append(urls, trimmed)
		}
	}
	return urls
}

func attachmentFilename(url string) string {
	if idx := strings.LastIndex(url, "/"); idx >= 0 && idx < len(url)-1 {
		name := url[idx+1:]
		if q := strings.IndexByte(name, '?'); q >= 0 {
			name = name[:q]
		}
		return name
	}
	return url
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
