package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lumapay/luma_ledger/internal/money"
)

// PostgresStore persists the ledger in PostgreSQL. Expected schema:
//
//	accounts(id uuid pk, name text unique, balance_amount numeric(38,18),
//	         balance_currency char(3), status text, version bigint, created_at timestamptz)
//	journal_entries(id uuid pk, description text, created_at timestamptz)
//	transaction_lines(id uuid pk, journal_id uuid, account_id uuid,
//	                  line_type text, amount numeric(38,18), currency char(3))
//	idempotency_records(key text pk, journal_id uuid, processed_at timestamptz)
//	user_transaction_limits(user_id text, day date, currency char(3),
//	                        tx_count int, total_amount numeric(38,18), last_updated timestamptz,
//	                        unique(user_id, day, currency))
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed ledger store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin ledger tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// BeginRead opens a repeatable-read read-only transaction, so every query in
// it sees the same database snapshot regardless of concurrent commits.
func (s *PostgresStore) BeginRead(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.RepeatableRead,
		AccessMode: pgx.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("begin read-only ledger tx: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, account Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.Status == "" {
		account.Status = StatusActive
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `INSERT INTO accounts (id, name, balance_amount, balance_currency, status, version, created_at)
        VALUES ($1, $2, $3::numeric, $4, $5, $6, $7)`,
		account.ID, account.Name, account.Balance.Amount().String(), account.Balance.Currency(),
		string(account.Status), account.Version, account.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrAccountExists, account.Name)
	}
	return err
}

func (s *PostgresStore) GetAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	return scanAccount(s.db.QueryRow(ctx, accountQuery+` WHERE id = $1`, id))
}

func (s *PostgresStore) AccountByName(ctx context.Context, name string) (Account, error) {
	return scanAccount(s.db.QueryRow(ctx, accountQuery+` WHERE name = $1`, name))
}

func (s *PostgresStore) ListAccountIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) SumLines(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	const query = `
        SELECT COALESCE(SUM(CASE WHEN line_type = 'CREDIT' THEN amount ELSE -amount END), 0)::text
        FROM transaction_lines WHERE account_id = $1`
	var raw string
	if err := s.db.QueryRow(ctx, query, accountID).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (s *PostgresStore) Entry(ctx context.Context, id uuid.UUID) (JournalEntry, error) {
	var entry JournalEntry
	err := s.db.QueryRow(ctx, `SELECT id, description, created_at FROM journal_entries WHERE id = $1`, id).
		Scan(&entry.ID, &entry.Description, &entry.Timestamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return JournalEntry{}, fmt.Errorf("journal entry %s not found", id)
	}
	if err != nil {
		return JournalEntry{}, err
	}

	rows, err := s.db.Query(ctx, `SELECT id, account_id, line_type, amount::text, currency
        FROM transaction_lines WHERE journal_id = $1`, id)
	if err != nil {
		return JournalEntry{}, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			line     Line
			lineType string
			raw      string
			currency string
		)
		if err := rows.Scan(&line.ID, &line.AccountID, &lineType, &raw, &currency); err != nil {
			return JournalEntry{}, err
		}
		line.JournalID = id
		line.Type = LineType(lineType)
		if line.Amount, err = money.Parse(raw, currency); err != nil {
			return JournalEntry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return entry, rows.Err()
}

const accountQuery = `SELECT id, name, balance_amount::text, balance_currency, status, version, created_at FROM accounts`

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Account(ctx context.Context, id uuid.UUID) (Account, error) {
	return scanAccount(t.tx.QueryRow(ctx, accountQuery+` WHERE id = $1`, id))
}

func (t *pgTx) LockAccount(ctx context.Context, id uuid.UUID) (Account, error) {
	account, err := scanAccount(t.tx.QueryRow(ctx, accountQuery+` WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Account{}, contentionOr(err)
	}
	return account, nil
}

func (t *pgTx) UpdateBalance(ctx context.Context, id uuid.UUID, balance money.Money) error {
	tag, err := t.tx.Exec(ctx, `UPDATE accounts
        SET balance_amount = $1::numeric, balance_currency = $2, version = version + 1
        WHERE id = $3`, balance.Amount().String(), balance.Currency(), id)
	if err != nil {
		return contentionOr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) InsertEntry(ctx context.Context, entry *JournalEntry) error {
	if _, err := t.tx.Exec(ctx, `INSERT INTO journal_entries (id, description, created_at)
        VALUES ($1, $2, $3)`, entry.ID, entry.Description, entry.Timestamp); err != nil {
		return err
	}
	for _, line := range entry.Lines {
		if _, err := t.tx.Exec(ctx, `INSERT INTO transaction_lines (id, journal_id, account_id, line_type, amount, currency)
            VALUES ($1, $2, $3, $4, $5::numeric, $6)`,
			line.ID, entry.ID, line.AccountID, string(line.Type),
			line.Amount.Amount().String(), line.Amount.Currency()); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) Idempotency(ctx context.Context, key string) (uuid.UUID, bool, error) {
	var journalID uuid.UUID
	err := t.tx.QueryRow(ctx, `SELECT journal_id FROM idempotency_records WHERE key = $1`, key).Scan(&journalID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return journalID, true, nil
}

func (t *pgTx) PutIdempotency(ctx context.Context, key string, journalID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO idempotency_records (key, journal_id, processed_at)
        VALUES ($1, $2, $3)`, key, journalID, time.Now().UTC())
	if isUniqueViolation(err) {
		// A concurrent posting won the key; surface as contention so the
		// caller retries and observes the duplicate on the next attempt.
		return ErrContention
	}
	return err
}

func (t *pgTx) LimitRow(ctx context.Context, userID string, day time.Time, currency string) (LimitRow, error) {
	day = day.UTC().Truncate(24 * time.Hour)
	if _, err := t.tx.Exec(ctx, `INSERT INTO user_transaction_limits (user_id, day, currency, tx_count, total_amount, last_updated)
        VALUES ($1, $2, $3, 0, 0, $4) ON CONFLICT (user_id, day, currency) DO NOTHING`,
		userID, day, currency, time.Now().UTC()); err != nil {
		return LimitRow{}, err
	}

	row := LimitRow{UserID: userID, Day: day, Currency: currency}
	var raw string
	err := t.tx.QueryRow(ctx, `SELECT tx_count, total_amount::text, last_updated
        FROM user_transaction_limits WHERE user_id = $1 AND day = $2 AND currency = $3 FOR UPDATE`,
		userID, day, currency).Scan(&row.Count, &raw, &row.LastUpdated)
	if err != nil {
		return LimitRow{}, contentionOr(err)
	}
	if row.Total, err = decimal.NewFromString(raw); err != nil {
		return LimitRow{}, err
	}
	return row, nil
}

func (t *pgTx) PutLimitRow(ctx context.Context, row LimitRow) error {
	_, err := t.tx.Exec(ctx, `UPDATE user_transaction_limits
        SET tx_count = $1, total_amount = $2::numeric, last_updated = $3
        WHERE user_id = $4 AND day = $5 AND currency = $6`,
		row.Count, row.Total.String(), time.Now().UTC(), row.UserID, row.Day, row.Currency)
	return err
}

func (t *pgTx) SumLines(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	const query = `
        SELECT COALESCE(SUM(CASE WHEN line_type = 'CREDIT' THEN amount ELSE -amount END), 0)::text
        FROM transaction_lines WHERE account_id = $1`
	var raw string
	if err := t.tx.QueryRow(ctx, query, accountID).Scan(&raw); err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		account  Account
		raw      string
		currency string
		status   string
	)
	err := row.Scan(&account.ID, &account.Name, &raw, &currency, &status, &account.Version, &account.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, err
	}
	account.Status = AccountStatus(status)
	if account.Balance, err = money.Parse(raw, currency); err != nil {
		return Account{}, err
	}
	return account, nil
}

// contentionOr maps Postgres deadlock and serialization failures onto
// ErrContention. Postings lock accounts in leg order, so two postings that
// touch overlapping accounts in different orders can deadlock; the database
// detects this and aborts one of them.
func contentionOr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40P01", "40001":
			return ErrContention
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
