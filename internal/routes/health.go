package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// RegisterHealthRoutes adds liveness/readiness style endpoints. A halted
// ledger reports unavailable so load balancers stop routing postings to it.
func RegisterHealthRoutes(app *fiber.App, d Deps) {
	app.Get("/healthz", func(c *fiber.Ctx) error {
		dbStatus := "ok"
		redisStatus := "ok"

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if d.DB != nil {
			if err := d.DB.Ping(ctx); err != nil {
				dbStatus = err.Error()
			}
		}
		if d.Cache != nil {
			if err := d.Cache.Ping(ctx).Err(); err != nil {
				redisStatus = err.Error()
			}
		}

		reason, at, halted := d.Halt.Status()
		status := http.StatusOK
		if dbStatus != "ok" || redisStatus != "ok" || halted {
			status = http.StatusServiceUnavailable
		}
		body := fiber.Map{
			"status":    fiber.Map{"postgres": dbStatus, "redis": redisStatus},
			"halted":    halted,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if halted {
			body["halt_reason"] = reason
			body["halted_at"] = at.UTC().Format(time.RFC3339Nano)
		}
		return c.Status(status).JSON(body)
	})
}
