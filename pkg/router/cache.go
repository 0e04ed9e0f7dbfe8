package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
)

// volatileSuffixes are GET endpoints whose payload changes while a campaign
// runs or a pairing is in progress. Serving them even a few seconds stale
// would show the operator outdated counters or an already-scanned QR code.
var volatileSuffixes = []string{"/qr", "/status", "/report", "/jobs", "/history"}

func HttpCacheInMemory(ttl int) fiber.Handler {
	if ttl <= 0 {
		ttl = 5
	}
	return cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			if c.Method() != fiber.MethodGet {
				return true
			}
			path := c.Path()
			for _, suffix := range volatileSuffixes {
				if strings.HasSuffix(path, suffix) {
					return true
				}
			}
			return false
		},
		Expiration: time.Duration(ttl) * time.Second,
	})
}
