package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/raffle_service/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_service/internal/app/domain/randomness"
	"github.com/R3E-Network/raffle_service/internal/app/domain/wallet"
	"github.com/R3E-Network/raffle_service/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu                sync.RWMutex
	nextID            int64
	rounds            map[string]raffle.Round
	roundOrder        []string
	entries           map[string][]raffle.Entry
	requests          map[string]randomness.Request
	accounts          map[string]wallet.Account
	accountsByAddress map[string]string
	transactions      map[string][]wallet.Transaction
}

var _ storage.RoundStore = (*Store)(nil)
var _ storage.EntryStore = (*Store)(nil)
var _ storage.RequestStore = (*Store)(nil)
var _ storage.WalletStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:            1,
		rounds:            make(map[string]raffle.Round),
		entries:           make(map[string][]raffle.Entry),
		requests:          make(map[string]randomness.Request),
		accounts:          make(map[string]wallet.Account),
		accountsByAddress: make(map[string]string),
		transactions:      make(map[string][]wallet.Transaction),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

// RoundStore implementation ----------------------------------------------------

func (s *Store) CreateRound(_ context.Context, round raffle.Round) (raffle.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if round.ID == "" {
		round.ID = s.nextIDLocked()
	} else if _, exists := s.rounds[round.ID]; exists {
		return raffle.Round{}, fmt.Errorf("round %s already exists", round.ID)
	}

	now := time.Now().UTC()
	round.CreatedAt = now
	round.UpdatedAt = now
	round.Words = append([]uint64(nil), round.Words...)

	s.rounds[round.ID] = round
	s.roundOrder = append(s.roundOrder, round.ID)
	return cloneRound(round), nil
}

func (s *Store) UpdateRound(_ context.Context, round raffle.Round) (raffle.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.rounds[round.ID]
	if !ok {
		return raffle.Round{}, fmt.Errorf("round %s: %w", round.ID, storage.ErrNotFound)
	}

	round.CreatedAt = original.CreatedAt
	round.UpdatedAt = time.Now().UTC()
	round.Words = append([]uint64(nil), round.Words...)

	s.rounds[round.ID] = round
	return cloneRound(round), nil
}

func (s *Store) GetRound(_ context.Context, id string) (raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	round, ok := s.rounds[id]
	if !ok {
		return raffle.Round{}, fmt.Errorf("round %s: %w", id, storage.ErrNotFound)
	}
	return cloneRound(round), nil
}

func (s *Store) GetLatestRound(_ context.Context) (raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.roundOrder) == 0 {
		return raffle.Round{}, fmt.Errorf("latest round: %w", storage.ErrNotFound)
	}
	round := s.rounds[s.roundOrder[len(s.roundOrder)-1]]
	return cloneRound(round), nil
}

func (s *Store) ListRounds(_ context.Context, limit int) ([]raffle.Round, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]raffle.Round, 0, len(s.roundOrder))
	for i := len(s.roundOrder) - 1; i >= 0; i-- {
		result = append(result, cloneRound(s.rounds[s.roundOrder[i]]))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// EntryStore implementation ----------------------------------------------------

func (s *Store) CreateEntry(_ context.Context, entry raffle.Entry) (raffle.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.RoundID == "" {
		return raffle.Entry{}, fmt.Errorf("round id is required")
	}
	if entry.ID == "" {
		entry.ID = s.nextIDLocked()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.entries[entry.RoundID] = append(s.entries[entry.RoundID], entry)
	return entry, nil
}

func (s *Store) ListEntries(_ context.Context, roundID string) ([]raffle.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.entries[roundID]
	result := make([]raffle.Entry, len(list))
	copy(result, list)
	return result, nil
}

// RequestStore implementation --------------------------------------------------

func (s *Store) CreateRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ID == "" {
		req.ID = s.nextIDLocked()
	} else if _, exists := s.requests[req.ID]; exists {
		return randomness.Request{}, fmt.Errorf("request %s already exists", req.ID)
	}

	if req.Status == "" {
		req.Status = randomness.RequestStatusPending
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	req.Result = append([]uint64(nil), req.Result...)

	s.requests[req.ID] = req
	return cloneRequest(req), nil
}

func (s *Store) UpdateRequest(_ context.Context, req randomness.Request) (randomness.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.requests[req.ID]
	if !ok {
		return randomness.Request{}, fmt.Errorf("request %s: %w", req.ID, storage.ErrNotFound)
	}

	req.CreatedAt = original.CreatedAt
	req.Result = append([]uint64(nil), req.Result...)

	s.requests[req.ID] = req
	return cloneRequest(req), nil
}

func (s *Store) GetRequest(_ context.Context, id string) (randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return randomness.Request{}, fmt.Errorf("request %s: %w", id, storage.ErrNotFound)
	}
	return cloneRequest(req), nil
}

func (s *Store) ListRequests(_ context.Context, roundID string) ([]randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]randomness.Request, 0, len(s.requests))
	for _, req := range s.requests {
		if roundID != "" && req.RoundID != roundID {
			continue
		}
		result = append(result, cloneRequest(req))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) ListPendingRequests(_ context.Context) ([]randomness.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]randomness.Request, 0)
	for _, req := range s.requests {
		if req.Status == randomness.RequestStatusPending {
			result = append(result, cloneRequest(req))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// WalletStore implementation ---------------------------------------------------

func (s *Store) CreateWalletAccount(_ context.Context, acct wallet.Account) (wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	address := strings.ToLower(strings.TrimSpace(acct.Address))
	if address == "" {
		return wallet.Account{}, fmt.Errorf("address is required")
	}
	if existing, exists := s.accountsByAddress[address]; exists {
		return wallet.Account{}, fmt.Errorf("address %s already assigned to account %s", acct.Address, existing)
	}

	if acct.ID == "" {
		acct.ID = s.nextIDLocked()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	s.accounts[acct.ID] = acct
	s.accountsByAddress[address] = acct.ID
	return acct, nil
}

func (s *Store) UpdateWalletAccount(_ context.Context, acct wallet.Account) (wallet.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.ID]
	if !ok {
		return wallet.Account{}, fmt.Errorf("wallet account %s: %w", acct.ID, storage.ErrNotFound)
	}

	acct.CreatedAt = original.CreatedAt
	acct.UpdatedAt = time.Now().UTC()

	oldAddress := strings.ToLower(strings.TrimSpace(original.Address))
	newAddress := strings.ToLower(strings.TrimSpace(acct.Address))
	if oldAddress != newAddress {
		if existing, exists := s.accountsByAddress[newAddress]; exists && existing != acct.ID {
			return wallet.Account{}, fmt.Errorf("address %s already assigned to account %s", acct.Address, existing)
		}
		delete(s.accountsByAddress, oldAddress)
		s.accountsByAddress[newAddress] = acct.ID
	}

	s.accounts[acct.ID] = acct
	return acct, nil
}

func (s *Store) GetWalletAccount(_ context.Context, id string) (wallet.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return wallet.Account{}, fmt.Errorf("wallet account %s: %w", id, storage.ErrNotFound)
	}
	return acct, nil
}

func (s *Store) GetWalletAccountByAddress(_ context.Context, address string) (wallet.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.accountsByAddress[strings.ToLower(strings.TrimSpace(address))]
	if !ok {
		return wallet.Account{}, fmt.Errorf("wallet account for address %s: %w", address, storage.ErrNotFound)
	}
	return s.accounts[id], nil
}

func (s *Store) ListWalletAccounts(_ context.Context) ([]wallet.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]wallet.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, acct)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) CreateWalletTransaction(_ context.Context, tx wallet.Transaction) (wallet.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	address := strings.ToLower(strings.TrimSpace(tx.Address))
	if address == "" {
		return wallet.Transaction{}, fmt.Errorf("address is required")
	}
	if tx.ID == "" {
		tx.ID = s.nextIDLocked()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	s.transactions[address] = append(s.transactions[address], tx)
	return tx, nil
}

func (s *Store) ListWalletTransactions(_ context.Context, address string) ([]wallet.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.transactions[strings.ToLower(strings.TrimSpace(address))]
	result := make([]wallet.Transaction, len(list))
	copy(result, list)
	return result, nil
}

func cloneRound(round raffle.Round) raffle.Round {
	round.Words = append([]uint64(nil), round.Words...)
	return round
}

func cloneRequest(req randomness.Request) randomness.Request {
	req.Result = append([]uint64(nil), req.Result...)
	return req
}
