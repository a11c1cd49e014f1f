package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/fx"
	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/money"
	"github.com/lumapay/luma_ledger/internal/saga"
)

type transferRequest struct {
	FromAccount string `json:"from_account"`
	ToAccount   string `json:"to_account"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	UserID      string `json:"user_id"`
}

type crossBorderRequest struct {
	SourceAccount  string `json:"source_account"`
	TargetAccount  string `json:"target_account"`
	Amount         string `json:"amount"`
	SourceCurrency string `json:"source_currency"`
	TargetCurrency string `json:"target_currency"`
	UserID         string `json:"user_id"`
}

func transferStatus(err error) *fiber.Error {
	var failure *saga.TransferError
	if !errors.As(err, &failure) {
		return fiber.NewError(http.StatusInternalServerError, "transfer failed")
	}
	switch failure.Reason {
	case saga.ReasonReservation:
		return fiber.NewError(http.StatusUnprocessableEntity, failure.Error())
	case saga.ReasonFraud:
		return fiber.NewError(http.StatusForbidden, failure.Error())
	default:
		return fiber.NewError(http.StatusBadGateway, failure.Error())
	}
}

// RegisterTransferRoutes wires the coordinated transfer endpoints: the
// reserve/verify/commit flow between named accounts, and cross-border
// transfers exchanged through the FX desks.
func RegisterTransferRoutes(r fiber.Router, d Deps) {
	r.Post("/transfers", func(c *fiber.Ctx) error {
		var req transferRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid amount: "+req.Amount)
		}
		transferMoney, err := money.New(amount, req.Currency)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if !transferMoney.IsPositive() {
			return fiber.NewError(http.StatusBadRequest, "amount must be positive")
		}

		if err := d.Saga.ExecuteTransfer(c.UserContext(), req.FromAccount, req.ToAccount, transferMoney, req.UserID); err != nil {
			fe := transferStatus(err)
			if fe.Code >= http.StatusInternalServerError {
				d.Logger.Error("transfer failed", "from", req.FromAccount, "to", req.ToAccount, "error", err)
			}
			return fe
		}
		return c.Status(http.StatusCreated).JSON(fiber.Map{"status": "completed"})
	})

	r.Post("/transfers/cross-border", func(c *fiber.Ctx) error {
		key := c.Get(idempotencyKeyHeader)
		if key == "" {
			return fiber.NewError(http.StatusBadRequest, "missing Idempotency-Key header")
		}

		var req crossBorderRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		sourceID, err := uuid.Parse(req.SourceAccount)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid source account id")
		}
		targetID, err := uuid.Parse(req.TargetAccount)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid target account id")
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid amount: "+req.Amount)
		}

		journalID, err := d.FX.Transfer(c.UserContext(), fx.TransferInput{
			IdempotencyKey: key,
			SourceAccount:  sourceID,
			TargetAccount:  targetID,
			Amount:         amount,
			SourceCurrency: req.SourceCurrency,
			TargetCurrency: req.TargetCurrency,
			UserID:         req.UserID,
		})
		if err != nil {
			var dup *ledger.DuplicateError
			if errors.As(err, &dup) {
				return c.JSON(transactionResponse{JournalID: dup.JournalID.String(), Duplicate: true})
			}
			if errors.Is(err, fx.ErrUnknownPair) {
				return fiber.NewError(http.StatusBadRequest, err.Error())
			}
			fe := postingStatus(err)
			if fe.Code == http.StatusInternalServerError {
				d.Logger.Error("cross-border transfer failed", "idempotency_key", key, "error", err)
			}
			return fe
		}
		return c.Status(http.StatusCreated).JSON(transactionResponse{JournalID: journalID.String()})
	})
}
