package router

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttpCacheSkipsVolatileEndpoints(t *testing.T) {
	app := fiber.New()
	app.Use(HttpCacheInMemory(60))

	hits := map[string]int{}
	handler := func(c *fiber.Ctx) error {
		hits[c.Path()]++
		return c.SendString(fmt.Sprintf("%d", hits[c.Path()]))
	}
	app.Get("/app/api/templates", handler)
	app.Get("/app/api/campaigns/cam1/report", handler)
	app.Get("/app/api/sessions/default/qr", handler)

	get := func(path string) string {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, path, nil))
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(body)
	}

	// a plain listing may be served from cache
	assert.Equal(t, "1", get("/app/api/templates"))
	assert.Equal(t, "1", get("/app/api/templates"))

	// live counters and QR codes must hit the handler every time
	assert.Equal(t, "1", get("/app/api/campaigns/cam1/report"))
	assert.Equal(t, "2", get("/app/api/campaigns/cam1/report"))
	assert.Equal(t, "1", get("/app/api/sessions/default/qr"))
	assert.Equal(t, "2", get("/app/api/sessions/default/qr"))
}

func TestHttpErrorHandlerEnvelope(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: HttpErrorHandler})
	app.Get("/teapot", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return fmt.Errorf("db gone")
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/teapot", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)

	var body Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.False(t, body.Status)
	assert.Equal(t, fiber.StatusTeapot, body.Code)
	assert.Equal(t, "short and stout", body.Message)

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
