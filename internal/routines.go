package internal

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

// Routines registers the background jobs: a session health sync that
// reconciles persisted status with the live connections, and a counter
// refresh for campaigns that are mid-run.
func Routines(c *cron.Cron, deps Dependencies) {
	if env.GetEnvBoolOrDefault("CRON_SESSION_HEALTH_ENABLED", true) {
		spec := env.GetEnvStringOrDefault("CRON_SESSION_HEALTH_SPEC", "0 */5 * * * *")
		if _, err := c.AddFunc(spec, func() { sessionHealthSync(deps) }); err != nil {
			log.Print(nil).WithError(err).Error("Failed to schedule session health sync")
		}
	}

	if env.GetEnvBoolOrDefault("CRON_CAMPAIGN_COUNTERS_ENABLED", true) {
		spec := env.GetEnvStringOrDefault("CRON_CAMPAIGN_COUNTERS_SPEC", "0 * * * * *")
		if _, err := c.AddFunc(spec, func() { campaignCounterRefresh(deps) }); err != nil {
			log.Print(nil).WithError(err).Error("Failed to schedule campaign counter refresh")
		}
	}
}

// sessionHealthSync demotes sessions the store still believes are connected
// when their live client is gone, so the console never shows a stale green
// status after a silent drop.
func sessionHealthSync(deps Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sessions, err := deps.Store.ListSessions(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Error("Health sync failed to list sessions")
		return
	}

	connected := map[string]bool{}
	for _, name := range deps.Registry.Connected() {
		connected[name] = true
	}

	for _, s := range sessions {
		if s.Status == store.SessionConnected && !connected[s.Name] {
			log.SessionOp(s.Name, "health_sync").Warn("Persisted status is connected but no live client; marking disconnected")
			if err := deps.Store.UpsertSessionStatus(ctx, s.Name, store.SessionDisconnected, "", s.PhoneNumber); err != nil {
				log.SessionOp(s.Name, "health_sync").WithError(err).Error("Failed to demote session status")
			}
		}
	}
}

func campaignCounterRefresh(deps Dependencies) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, id := range deps.Manager.RunningIDs() {
		if err := deps.Store.RefreshCampaignCounters(ctx, id); err != nil {
			log.CampaignOp(id, "counter_refresh").WithError(err).Error("Failed to refresh counters")
		}
	}
}
