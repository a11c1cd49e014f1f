package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/engine"
	"github.com/lumapay/luma_ledger/internal/idempotency"
	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/limits"
	"github.com/lumapay/luma_ledger/internal/middleware"
	"github.com/lumapay/luma_ledger/internal/money"
)

const idempotencyKeyHeader = "Idempotency-Key"

type legRequest struct {
	AccountID string `json:"account_id"`
	Type      string `json:"type"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

type postTransactionRequest struct {
	Description string       `json:"description"`
	UserID      string       `json:"user_id"`
	Legs        []legRequest `json:"legs"`
}

type transactionResponse struct {
	JournalID string `json:"journal_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func parseLegs(reqs []legRequest) ([]engine.Leg, error) {
	legs := make([]engine.Leg, 0, len(reqs))
	for _, r := range reqs {
		accountID, err := uuid.Parse(r.AccountID)
		if err != nil {
			return nil, fiber.NewError(http.StatusBadRequest, "invalid account id: "+r.AccountID)
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fiber.NewError(http.StatusBadRequest, "invalid amount: "+r.Amount)
		}
		legMoney, err := money.New(amount, r.Currency)
		if err != nil {
			return nil, fiber.NewError(http.StatusBadRequest, err.Error())
		}
		legs = append(legs, engine.Leg{
			AccountID: accountID,
			Type:      ledger.LineType(r.Type),
			Amount:    legMoney,
		})
	}
	return legs, nil
}

// postingStatus maps engine and ledger failures onto HTTP statuses.
func postingStatus(err error) *fiber.Error {
	var invalid *engine.InvalidTransactionError
	var mismatch *money.CurrencyMismatchError
	var exceeded *limits.ExceededError

	switch {
	case errors.As(err, &invalid), errors.As(err, &mismatch), errors.Is(err, ledger.ErrUnbalancedEntry):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrAccountFrozen), errors.Is(err, ledger.ErrAccountClosed):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.As(err, &exceeded):
		return fiber.NewError(http.StatusTooManyRequests, err.Error())
	case errors.Is(err, engine.ErrHalted):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, ledger.ErrContention):
		return fiber.NewError(http.StatusConflict, "transaction contention, retry with the same idempotency key")
	default:
		return fiber.NewError(http.StatusInternalServerError, "transaction failed")
	}
}

// RegisterTransactionRoutes wires the multi-leg posting endpoint.
func RegisterTransactionRoutes(r fiber.Router, d Deps) {
	r.Post("/transactions", func(c *fiber.Ctx) error {
		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(http.StatusBadRequest, "missing Idempotency-Key header")
		}

		var req postTransactionRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		legs, err := parseLegs(req.Legs)
		if err != nil {
			return err
		}

		// Fast path: the Redis mirror answers retries without opening a
		// store transaction. The durable record in the store remains the
		// source of truth on a miss.
		if journalID, found, err := d.Idem.Lookup(c.UserContext(), key); err != nil {
			if errors.Is(err, idempotency.ErrInProgress) {
				return fiber.NewError(http.StatusConflict, "duplicate request currently processing")
			}
		} else if found {
			return c.JSON(transactionResponse{JournalID: journalID.String(), Duplicate: true})
		}
		if ok, err := d.Idem.Reserve(c.UserContext(), key); err == nil && !ok {
			return fiber.NewError(http.StatusConflict, "duplicate request currently processing")
		}

		journalID, err := d.Engine.PostTransaction(c.UserContext(), key, req.Description, legs, req.UserID)
		if err != nil {
			var dup *ledger.DuplicateError
			if errors.As(err, &dup) {
				d.Idem.Remember(c.UserContext(), key, dup.JournalID)
				return c.JSON(transactionResponse{JournalID: dup.JournalID.String(), Duplicate: true})
			}
			d.Idem.Release(c.UserContext(), key)
			fe := postingStatus(err)
			if fe.Code == http.StatusInternalServerError {
				middleware.RequestLogger(c, d.Logger).Error("posting failed", "idempotency_key", key, "error", err)
			}
			return fe
		}

		d.Idem.Remember(c.UserContext(), key, journalID)
		return c.Status(http.StatusCreated).JSON(transactionResponse{JournalID: journalID.String()})
	})
}
