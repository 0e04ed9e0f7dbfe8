package campaign

import (
	"context"
	"time"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

type reportStore interface {
	GetCampaign(ctx context.Context, id string) (*store.Campaign, error)
	CountJobsByStatus(ctx context.Context, campaignID string) (map[string]int, error)
	GroupJobErrors(ctx context.Context, campaignID string) (map[string]int, error)
}

// Summary is the operator-facing report for one campaign. All counts are
// derived from the job table at read time, never from cached counters.
type Summary struct {
	CampaignID  string         `json:"campaign_id"`
	Name        string         `json:"name"`
	Status      string         `json:"status"`
	Channel     string         `json:"channel"`
	Total       int            `json:"total"`
	Pending     int            `json:"pending"`
	Processing  int            `json:"processing"`
	Sent        int            `json:"sent"`
	Failed      int            `json:"failed"`
	Blocked     int            `json:"blocked"`
	SuccessRate float64        `json:"success_rate"`
	Errors      map[string]int `json:"errors,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func BuildSummary(ctx context.Context, st reportStore, campaignID string) (*Summary, error) {
	c, err := st.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	counts, err := st.CountJobsByStatus(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	groupedErrors, err := st.GroupJobErrors(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		CampaignID:  c.ID,
		Name:        c.Name,
		Status:      c.Status,
		Channel:     c.Channel,
		Pending:     counts[store.JobPending],
		Processing:  counts[store.JobProcessing],
		Sent:        counts[store.JobSent],
		Failed:      counts[store.JobFailed],
		Blocked:     counts[store.JobBlocked],
		Errors:      groupedErrors,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
	}
	for _, n := range counts {
		summary.Total += n
	}
	if delivered := summary.Sent + summary.Failed; delivered > 0 {
		summary.SuccessRate = float64(summary.Sent) / float64(delivered) * 100
	}
	return summary, nil
}
