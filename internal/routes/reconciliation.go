package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumapay/luma_ledger/internal/reconcile"
)

func haltBody(d Deps) (int, fiber.Map) {
	reason, at, halted := d.Halt.Status()
	body := fiber.Map{"halted": halted}
	if halted {
		body["reason"] = reason
		body["halted_at"] = at.UTC().Format(time.RFC3339Nano)
	}
	status := http.StatusOK
	if halted {
		status = http.StatusConflict
	}
	return status, body
}

// RegisterReconciliationRoutes wires the on-demand integrity sweep and its
// status endpoint.
func RegisterReconciliationRoutes(r fiber.Router, d Deps) {
	r.Post("/reconciliation/run", func(c *fiber.Ctx) error {
		err := d.Reconciler.Run(c.UserContext())
		if err != nil {
			var failure *reconcile.FailureError
			if !errors.As(err, &failure) {
				d.Logger.Error("reconciliation run failed", "error", err)
				return fiber.NewError(http.StatusInternalServerError, "reconciliation failed to run")
			}
		}
		status, body := haltBody(d)
		return c.Status(status).JSON(body)
	})

	r.Get("/reconciliation/status", func(c *fiber.Ctx) error {
		_, body := haltBody(d)
		return c.JSON(body)
	})
}
