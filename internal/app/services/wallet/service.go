package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	domain "github.com/R3E-Network/raffle_service/internal/app/domain/wallet"
	"github.com/R3E-Network/raffle_service/internal/app/events"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
	"github.com/R3E-Network/raffle_service/pkg/logger"
)

// Epsilon bounds float comparisons on balances.
const Epsilon = 1e-9

var (
	// ErrInsufficientFunds is returned when a debit exceeds the available balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrAccountInactive is returned when a transfer targets a frozen account.
	ErrAccountInactive = errors.New("account inactive")
)

// Service manages participant accounts and balance movements.
type Service struct {
	store  storage.WalletStore
	events *events.Log
	log    *logger.Logger

	mu sync.Mutex
}

// New constructs a wallet service.
func New(store storage.WalletStore, eventLog *events.Log, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("wallet")
	}
	return &Service{
		store:  store,
		events: eventLog,
		log:    log,
	}
}

// CreateAccount registers an account for the given address.
func (s *Service) CreateAccount(ctx context.Context, address string, initial float64) (domain.Account, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.Account{}, fmt.Errorf("address is required")
	}
	if initial < 0 {
		return domain.Account{}, fmt.Errorf("initial balance cannot be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.CreateWalletAccount(ctx, domain.Account{
		Address: address,
		Balance: initial,
		Active:  true,
	})
	if err != nil {
		return domain.Account{}, err
	}

	if initial > Epsilon {
		if _, err := s.store.CreateWalletTransaction(ctx, domain.Transaction{
			Address: acct.Address,
			Kind:    domain.TransactionDeposit,
			Amount:  initial,
		}); err != nil {
			return domain.Account{}, err
		}
	}

	s.log.WithField("address", acct.Address).
		WithField("balance", acct.Balance).
		Info("wallet account created")
	return acct, nil
}

// GetAccount retrieves an account by address.
func (s *Service) GetAccount(ctx context.Context, address string) (domain.Account, error) {
	return s.store.GetWalletAccountByAddress(ctx, address)
}

// ListAccounts returns all registered accounts.
func (s *Service) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	return s.store.ListWalletAccounts(ctx)
}

// ListTransactions returns the movement history for an address.
func (s *Service) ListTransactions(ctx context.Context, address string) ([]domain.Transaction, error) {
	return s.store.ListWalletTransactions(ctx, address)
}

// SetActive toggles the active flag on an account. Frozen accounts reject
// transfers in both directions except plain deposits.
func (s *Service) SetActive(ctx context.Context, address string, active bool) (domain.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetWalletAccountByAddress(ctx, address)
	if err != nil {
		return domain.Account{}, err
	}
	if acct.Active == active {
		return acct, nil
	}

	acct.Active = active
	acct, err = s.store.UpdateWalletAccount(ctx, acct)
	if err != nil {
		return domain.Account{}, err
	}

	s.log.WithField("address", acct.Address).
		WithField("active", active).
		Info("wallet account state changed")
	return acct, nil
}

// Deposit credits funds to an account.
func (s *Service) Deposit(ctx context.Context, address string, amount float64) (domain.Account, domain.Transaction, error) {
	if amount <= Epsilon {
		return domain.Account{}, domain.Transaction{}, fmt.Errorf("amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetWalletAccountByAddress(ctx, address)
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	acct.Balance += amount
	acct, err = s.store.UpdateWalletAccount(ctx, acct)
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	tx, err := s.store.CreateWalletTransaction(ctx, domain.Transaction{
		Address: acct.Address,
		Kind:    domain.TransactionDeposit,
		Amount:  amount,
	})
	if err != nil {
		return domain.Account{}, domain.Transaction{}, err
	}

	s.publish(events.Event{
		Type:    events.TypeWalletDeposit,
		Address: acct.Address,
		Amount:  amount,
		Message: "deposit credited",
	})
	return acct, tx, nil
}

// Collect debits an entry fee from an account. The reference ties the
// movement to the round it funds.
func (s *Service) Collect(ctx context.Context, address string, amount float64, reference string) (domain.Transaction, error) {
	if amount <= Epsilon {
		return domain.Transaction{}, fmt.Errorf("amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetWalletAccountByAddress(ctx, address)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !acct.Active {
		return domain.Transaction{}, fmt.Errorf("account %s: %w", acct.Address, ErrAccountInactive)
	}
	if acct.Balance+Epsilon < amount {
		return domain.Transaction{}, fmt.Errorf("account %s has %.8f, needs %.8f: %w", acct.Address, acct.Balance, amount, ErrInsufficientFunds)
	}

	acct.Balance -= amount
	if _, err := s.store.UpdateWalletAccount(ctx, acct); err != nil {
		return domain.Transaction{}, err
	}

	return s.store.CreateWalletTransaction(ctx, domain.Transaction{
		Address:   acct.Address,
		Kind:      domain.TransactionEntryFee,
		Amount:    amount,
		Reference: reference,
	})
}

// Refund credits a previously collected fee back to an account.
func (s *Service) Refund(ctx context.Context, address string, amount float64, reference string) (domain.Transaction, error) {
	if amount <= Epsilon {
		return domain.Transaction{}, fmt.Errorf("amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetWalletAccountByAddress(ctx, address)
	if err != nil {
		return domain.Transaction{}, err
	}

	acct.Balance += amount
	if _, err := s.store.UpdateWalletAccount(ctx, acct); err != nil {
		return domain.Transaction{}, err
	}

	return s.store.CreateWalletTransaction(ctx, domain.Transaction{
		Address:   acct.Address,
		Kind:      domain.TransactionRefund,
		Amount:    amount,
		Reference: reference,
	})
}

// Pay credits a prize to the winner's account. Payouts to missing or
// frozen accounts fail without moving funds.
func (s *Service) Pay(ctx context.Context, address string, amount float64, reference string) (domain.Transaction, error) {
	if amount <= Epsilon {
		return domain.Transaction{}, fmt.Errorf("amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, err := s.store.GetWalletAccountByAddress(ctx, address)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !acct.Active {
		return domain.Transaction{}, fmt.Errorf("account %s: %w", acct.Address, ErrAccountInactive)
	}

	acct.Balance += amount
	if _, err := s.store.UpdateWalletAccount(ctx, acct); err != nil {
		return domain.Transaction{}, err
	}

	tx, err := s.store.CreateWalletTransaction(ctx, domain.Transaction{
		Address:   acct.Address,
		Kind:      domain.TransactionPayout,
		Amount:    amount,
		Reference: reference,
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.publish(events.Event{
		Type:    events.TypeWalletPayout,
		Address: acct.Address,
		Amount:  amount,
		Message: "prize credited",
	})
	return tx, nil
}

func (s *Service) publish(ev events.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ev)
}
