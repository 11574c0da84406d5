package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/app/domain/wallet"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.RoundStore = (*Store)(nil)
var _ storage.EntryStore = (*Store)(nil)
var _ storage.RequestStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- RoundStore -------------------------------------------------------------

func (s *Store) CreateRound(ctx context.Context, round raffle.Round) (raffle.Round, error) {
	if round.ID == "" {
		round.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	round.CreatedAt = now
	round.UpdatedAt = now

	wordsJSON, err := json.Marshal(round.Words)
	if err != nil {
		return raffle.Round{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO raffle_rounds (id, number, state, entrance_fee, pool, entries, winner, payout, request_id, words, opened_at, draw_at, completed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, round.ID, round.Number, round.State.String(), round.EntranceFee, round.Pool, round.Entries, round.Winner, round.Payout, round.RequestID, wordsJSON, toNullTime(round.OpenedAt), toNullTime(round.DrawAt), toNullTime(round.CompletedAt), round.CreatedAt, round.UpdatedAt)
	if err != nil {
		return raffle.Round{}, err
	}
	return round, nil
}

func (s *Store) UpdateRound(ctx context.Context, round raffle.Round) (raffle.Round, error) {
	existing, err := s.GetRound(ctx, round.ID)
	if err != nil {
		return raffle.Round{}, err
	}

	round.Number = existing.Number
	round.CreatedAt = existing.CreatedAt
	round.UpdatedAt = time.Now().UTC()

	wordsJSON, err := json.Marshal(round.Words)
	if err != nil {
		return raffle.Round{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE raffle_rounds
		SET state = $2, entrance_fee = $3, pool = $4, entries = $5, winner = $6, payout = $7, request_id = $8, words = $9, opened_at = $10, draw_at = $11, completed_at = $12, updated_at = $13
		WHERE id = $1
	`, round.ID, round.State.String(), round.EntranceFee, round.Pool, round.Entries, round.Winner, round.Payout, round.RequestID, wordsJSON, toNullTime(round.OpenedAt), toNullTime(round.DrawAt), toNullTime(round.CompletedAt), round.UpdatedAt)
	if err != nil {
		return raffle.Round{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return raffle.Round{}, fmt.Errorf("round %s: %w", round.ID, storage.ErrNotFound)
	}
	return round, nil
}

func (s *Store) GetRound(ctx context.Context, id string) (raffle.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, state, entrance_fee, pool, entries, winner, payout, request_id, words, opened_at, draw_at, completed_at, created_at, updated_at
		FROM raffle_rounds
		WHERE id = $1
	`, id)

	round, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Round{}, fmt.Errorf("round %s: %w", id, storage.ErrNotFound)
	}
	return round, err
}

func (s *Store) GetLatestRound(ctx context.Context) (raffle.Round, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, number, state, entrance_fee, pool, entries, winner, payout, request_id, words, opened_at, draw_at, completed_at, created_at, updated_at
		FROM raffle_rounds
		ORDER BY number DESC
		LIMIT 1
	`)

	round, err := scanRound(row)
	if errors.Is(err, sql.ErrNoRows) {
		return raffle.Round{}, fmt.Errorf("latest round: %w", storage.ErrNotFound)
	}
	return round, err
}

func (s *Store) ListRounds(ctx context.Context, limit int) ([]raffle.Round, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, number, state, entrance_fee, pool, entries, winner, payout, request_id, words, opened_at, draw_at, completed_at, created_at, updated_at
		FROM raffle_rounds
		ORDER BY number DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []raffle.Round
	for rows.Next() {
		round, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, round)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRound(row rowScanner) (raffle.Round, error) {
	var (
		round       raffle.Round
		state       string
		wordsRaw    []byte
		openedAt    sql.NullTime
		drawAt      sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&round.ID, &round.Number, &state, &round.EntranceFee, &round.Pool, &round.Entries, &round.Winner, &round.Payout, &round.RequestID, &wordsRaw, &openedAt, &drawAt, &completedAt, &round.CreatedAt, &round.UpdatedAt); err != nil {
		return raffle.Round{}, err
	}

	parsed, err := raffle.ParseState(state)
	if err != nil {
		return raffle.Round{}, err
	}
	round.State = parsed

	if len(wordsRaw) > 0 {
		_ = json.Unmarshal(wordsRaw, &round.Words)
	}
	if openedAt.Valid {
		round.OpenedAt = openedAt.Time.UTC()
	}
	if drawAt.Valid {
		round.DrawAt = drawAt.Time.UTC()
	}
	if completedAt.Valid {
		round.CompletedAt = completedAt.Time.UTC()
	}
	return round, nil
}

// --- EntryStore -------------------------------------------------------------

func (s *Store) CreateEntry(ctx context.Context, entry raffle.Entry) (raffle.Entry, error) {
	if entry.RoundID == "" {
		return raffle.Entry{}, errors.New("round_id required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO raffle_entries (id, round_id, address, fee_paid, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.ID, entry.RoundID, entry.Address, entry.FeePaid, entry.CreatedAt)
	if err != nil {
		return raffle.Entry{}, err
	}
	return entry, nil
}

func (s *Store) ListEntries(ctx context.Context, roundID string) ([]raffle.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, address, fee_paid, created_at
		FROM raffle_entries
		WHERE round_id = $1
		ORDER BY created_at
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []raffle.Entry
	for rows.Next() {
		var entry raffle.Entry
		if err := rows.Scan(&entry.ID, &entry.RoundID, &entry.Address, &entry.FeePaid, &entry.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

// --- RequestStore -----------------------------------------------------------

func (s *Store) CreateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Status == "" {
		req.Status = randomness.RequestStatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}

	resultJSON, err := json.Marshal(req.Result)
	if err != nil {
		return randomness.Request{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO randomness_requests (id, round_id, key_hash, subscription_id, confirmations, gas_limit, words, result, status, error, created_at, fulfilled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, req.ID, req.RoundID, req.KeyHash, req.SubscriptionID, req.Confirmations, req.CallbackGasLimit, req.Words, resultJSON, string(req.Status), req.Error, req.CreatedAt, toNullTime(req.FulfilledAt))
	if err != nil {
		return randomness.Request{}, err
	}
	return req, nil
}

func (s *Store) UpdateRequest(ctx context.Context, req randomness.Request) (randomness.Request, error) {
	existing, err := s.GetRequest(ctx, req.ID)
	if err != nil {
		return randomness.Request{}, err
	}

	req.RoundID = existing.RoundID
	req.Params = existing.Params
	req.CreatedAt = existing.CreatedAt

	resultJSON, err := json.Marshal(req.Result)
	if err != nil {
		return randomness.Request{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE randomness_requests
		SET result = $2, status = $3, error = $4, fulfilled_at = $5
		WHERE id = $1
	`, req.ID, resultJSON, string(req.Status), req.Error, toNullTime(req.FulfilledAt))
	if err != nil {
		return randomness.Request{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return randomness.Request{}, fmt.Errorf("request %s: %w", req.ID, storage.ErrNotFound)
	}
	return req, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (randomness.Request, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, round_id, key_hash, subscription_id, confirmations, gas_limit, words, result, status, error, created_at, fulfilled_at
		FROM randomness_requests
		WHERE id = $1
	`, id)

	req, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return randomness.Request{}, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return req, err
}

func (s *Store) ListRequests(ctx context.Context, roundID string) ([]randomness.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, key_hash, subscription_id, confirmations, gas_limit, words, result, status, error, created_at, fulfilled_at
		FROM randomness_requests
		WHERE $1 = '' OR round_id = $1
		ORDER BY created_at
	`, roundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRequests(rows)
}

func (s *Store) ListPendingRequests(ctx context.Context) ([]randomness.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, round_id, key_hash, subscription_id, confirmations, gas_limit, words, result, status, error, created_at, fulfilled_at
		FROM randomness_requests
		WHERE status = 'pending'
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRequests(rows)
}

func scanRequest(row rowScanner) (randomness.Request, error) {
	var (
		req         randomness.Request
		status      string
		resultRaw   []byte
		fulfilledAt sql.NullTime
	)
	if err := row.Scan(&req.ID, &req.RoundID, &req.KeyHash, &req.SubscriptionID, &req.Confirmations, &req.CallbackGasLimit, &req.Words, &resultRaw, &status, &req.Error, &req.CreatedAt, &fulfilledAt); err != nil {
		return randomness.Request{}, err
	}
	req.Status = randomness.RequestStatus(status)
	if len(resultRaw) > 0 {
		_ = json.Unmarshal(resultRaw, &req.Result)
	}
	if fulfilledAt.Valid {
		req.FulfilledAt = fulfilledAt.Time.UTC()
	}
	return req, nil
}

func collectRequests(rows *sql.Rows) ([]randomness.Request, error) {
	var result []randomness.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

// --- WalletStore ------------------------------------------------------------

func (s *Store) CreateWalletAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error) {
	if acct.Address == "" {
		return wallet.Account{}, errors.New("address required")
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_accounts (id, address, balance, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, acct.ID, acct.Address, acct.Balance, acct.Active, acct.CreatedAt, acct.UpdatedAt)
	if err != nil {
		return wallet.Account{}, err
	}
	return acct, nil
}

func (s *Store) UpdateWalletAccount(ctx context.Context, acct wallet.Account) (wallet.Account, error) {
	existing, err := s.GetWalletAccount(ctx, acct.ID)
	if err != nil {
		return wallet.Account{}, err
	}

	acct.Address = existing.Address
	acct.CreatedAt = existing.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE wallet_accounts
		SET balance = $2, active = $3, updated_at = $4
		WHERE id = $1
	`, acct.ID, acct.Balance, acct.Active, acct.UpdatedAt)
	if err != nil {
		return wallet.Account{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return wallet.Account{}, fmt.Errorf("wallet account %s: %w", acct.ID, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) GetWalletAccount(ctx context.Context, id string) (wallet.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, balance, active, created_at, updated_at
		FROM wallet_accounts
		WHERE id = $1
	`, id)

	var acct wallet.Account
	if err := row.Scan(&acct.ID, &acct.Address, &acct.Balance, &acct.Active, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wallet.Account{}, fmt.Errorf("wallet account %s: %w", id, storage.ErrNotFound)
		}
		return wallet.Account{}, err
	}
	return acct, nil
}

func (s *Store) GetWalletAccountByAddress(ctx context.Context, address string) (wallet.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, balance, active, created_at, updated_at
		FROM wallet_accounts
		WHERE LOWER(address) = LOWER($1)
	`, address)

	var acct wallet.Account
	if err := row.Scan(&acct.ID, &acct.Address, &acct.Balance, &acct.Active, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return wallet.Account{}, fmt.Errorf("wallet account for address %s: %w", address, storage.ErrNotFound)
		}
		return wallet.Account{}, err
	}
	return acct, nil
}

func (s *Store) ListWalletAccounts(ctx context.Context) ([]wallet.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, balance, active, created_at, updated_at
		FROM wallet_accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []wallet.Account
	for rows.Next() {
		var acct wallet.Account
		if err := rows.Scan(&acct.ID, &acct.Address, &acct.Balance, &acct.Active, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, acct)
	}
	return result, rows.Err()
}

func (s *Store) CreateWalletTransaction(ctx context.Context, tx wallet.Transaction) (wallet.Transaction, error) {
	if tx.Address == "" {
		return wallet.Transaction{}, errors.New("address required")
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, address, kind, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, tx.ID, tx.Address, string(tx.Kind), tx.Amount, tx.Reference, tx.CreatedAt)
	if err != nil {
		return wallet.Transaction{}, err
	}
	return tx, nil
}

func (s *Store) ListWalletTransactions(ctx context.Context, address string) ([]wallet.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, kind, amount, reference, created_at
		FROM wallet_transactions
		WHERE LOWER(address) = LOWER($1)
		ORDER BY created_at
	`, address)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []wallet.Transaction
	for rows.Next() {
		var (
			tx   wallet.Transaction
			kind string
		)
		if err := rows.Scan(&tx.ID, &tx.Address, &kind, &tx.Amount, &tx.Reference, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Kind = wallet.TransactionKind(kind)
		result = append(result, tx)
	}
	return result, rows.Err()
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
