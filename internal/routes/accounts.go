package routes

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/lumapay/luma_ledger/internal/ledger"
	"github.com/lumapay/luma_ledger/internal/money"
)

type createAccountRequest struct {
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

type accountResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Version   int64  `json:"version"`
	CreatedAt string `json:"created_at"`
}

func toAccountResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:        a.ID.String(),
		Name:      a.Name,
		Balance:   a.Balance.Amount().String(),
		Currency:  a.Balance.Currency(),
		Status:    string(a.Status),
		Version:   a.Version,
		CreatedAt: a.CreatedAt.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
	}
}

// RegisterAccountRoutes wires account endpoints. Accounts open with a zero
// balance; funds only ever arrive through postings so the balance always
// matches the line history.
func RegisterAccountRoutes(r fiber.Router, d Deps) {
	r.Post("/accounts", func(c *fiber.Ctx) error {
		var req createAccountRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		if req.Name == "" {
			return fiber.NewError(http.StatusBadRequest, "name is required")
		}
		zero, err := money.Zero(req.Currency)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		account := ledger.Account{Name: req.Name, Balance: zero}
		if err := d.Store.CreateAccount(c.UserContext(), account); err != nil {
			if errors.Is(err, ledger.ErrAccountExists) {
				return fiber.NewError(http.StatusConflict, "account name already taken")
			}
			d.Logger.Error("create account failed", "name", req.Name, "error", err)
			return fiber.NewError(http.StatusInternalServerError, "account creation failed")
		}

		created, err := d.Store.AccountByName(c.UserContext(), req.Name)
		if err != nil {
			d.Logger.Error("load created account failed", "name", req.Name, "error", err)
			return fiber.NewError(http.StatusInternalServerError, "account creation failed")
		}
		return c.Status(http.StatusCreated).JSON(toAccountResponse(created))
	})

	r.Get("/accounts/:id", func(c *fiber.Ctx) error {
		id, err := uuid.Parse(c.Params("id"))
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid account id")
		}
		account, err := d.Store.GetAccount(c.UserContext(), id)
		if err != nil {
			if errors.Is(err, ledger.ErrAccountNotFound) {
				return fiber.NewError(http.StatusNotFound, "account not found")
			}
			d.Logger.Error("load account failed", "account_id", id, "error", err)
			return fiber.NewError(http.StatusInternalServerError, "account lookup failed")
		}
		return c.JSON(toAccountResponse(account))
	})
}
