package internal

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/store"
)

// Startup restores the WhatsApp sessions that were paired before the last
// shutdown. Reconnects run concurrently with a small jitter so a restart
// does not hammer the WhatsApp servers with simultaneous dials.
func Startup(ctx context.Context, deps Dependencies) {
	if !env.GetEnvBoolOrDefault("WHATSAPP_RESTORE_SESSIONS_ON_STARTUP", true) {
		log.Print(nil).Info("Session restore on startup is disabled")
		return
	}

	if err := deps.Registry.EnsureDefault(ctx); err != nil {
		log.Print(nil).WithError(err).Error("Failed to ensure default session")
	}

	sessions, err := deps.Store.ListSessions(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Error("Failed to list sessions for restore")
		return
	}

	var paired []store.Session
	for _, s := range sessions {
		if s.DeviceJID != "" {
			paired = append(paired, s)
		}
	}
	if len(paired) == 0 {
		log.Print(nil).Info("No paired sessions to restore")
		return
	}

	maxConcurrent := env.GetEnvIntOrDefault("WHATSAPP_RESTORE_CONCURRENCY", 3)
	log.Print(nil).WithField("count", len(paired)).Info("Restoring paired WhatsApp sessions")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)

	for _, s := range paired {
		name := s.Name
		g.Go(func() error {
			jitterSleep(gctx)
			if _, err := deps.Registry.Connect(gctx, name); err != nil {
				log.SessionOp(name, "restore").WithError(err).Error("Failed to restore session")
				return nil
			}
			log.SessionOp(name, "restore").Info("Session restored")
			return nil
		})
	}
	_ = g.Wait()
}

// jitterSleep spreads reconnect dials over a short random delay.
func jitterSleep(ctx context.Context) {
	delay := time.Duration(500+rand.Intn(1500)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}
