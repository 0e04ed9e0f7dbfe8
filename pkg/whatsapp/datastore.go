package whatsapp

import (
	"context"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/env"
	"github.com/cnkaya/go-whatsapp-campaign-engine/pkg/log"
)

// OpenDatastore opens the whatsmeow device container. It returns nil with
// no error when WHATSAPP_DATASTORE_URI is unset; the registry then reports
// the engine as unavailable instead of failing at startup.
func OpenDatastore(ctx context.Context) (*sqlstore.Container, error) {
	dsn, err := env.GetEnvString("WHATSAPP_DATASTORE_URI")
	if err != nil || dsn == "" {
		log.Print(nil).Warn("WHATSAPP_DATASTORE_URI is not set, personal channel disabled")
		return nil, nil
	}

	container, err := sqlstore.New(ctx, "pgx", normalizeDatastoreDSN(dsn), nil)
	if err != nil {
		return nil, fmt.Errorf("opening whatsapp datastore: %w", err)
	}

	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("upgrading whatsapp datastore schema: %w", err)
	}

	log.Print(nil).Info("whatsapp datastore is ok")
	return container, nil
}

// pgx needs the simple protocol for whatsmeow's generated statements.
func normalizeDatastoreDSN(dsn string) string {
	appendParam := func(current string, key string, value string) string {
		if strings.Contains(current, key+"=") {
			return current
		}
		separator := "?"
		if strings.Contains(current, "?") {
			if strings.HasSuffix(current, "?") || strings.HasSuffix(current, "&") {
				separator = ""
			} else {
				separator = "&"
			}
		}
		return current + separator + key + "=" + value
	}
	dsn = appendParam(dsn, "prefer_simple_protocol", "true")
	dsn = appendParam(dsn, "statement_cache_capacity", "0")
	dsn = appendParam(dsn, "default_query_exec_mode", "simple_protocol")
	return dsn
}
