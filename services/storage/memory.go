package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/emeka-okafor/kudipal/models"
	"github.com/emeka-okafor/kudipal/utils"
)

// MemoryUserStore is a map-backed UserStore. It serves tests and the
// degraded mode where no database is configured.
type MemoryUserStore struct {
	mu     sync.Mutex
	nextID uint
	users  map[uint]*models.User
}

// NewMemoryUserStore creates an empty MemoryUserStore.
func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[uint]*models.User)}
}

// ByWhatsAppNumber returns the user for the number, or (nil, nil) when absent.
func (s *MemoryUserStore) ByWhatsAppNumber(ctx context.Context, number string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.WhatsAppNumber == number {
			copied := *u
			return &copied, nil
		}
	}
	return nil, nil
}

// ByID returns the user by ID, or (nil, nil) when absent.
func (s *MemoryUserStore) ByID(ctx context.Context, id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

// Create assigns an ID and stores the user.
func (s *MemoryUserStore) Create(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	user.ID = s.nextID
	user.CreatedAt = time.Now()
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

// Save overwrites the stored user.
func (s *MemoryUserStore) Save(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user.UpdatedAt = time.Now()
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

// MemoryLedgerStore is a map-backed LedgerStore with the same atomicity
// guarantees as the gorm adapter, provided by a single mutex.
type MemoryLedgerStore struct {
	mu           sync.Mutex
	nextWalletID uint
	nextTxID     uint
	wallets      map[uint]*models.Wallet // keyed by user ID
	transactions map[string]*models.Transaction
}

// NewMemoryLedgerStore creates an empty MemoryLedgerStore.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		wallets:      make(map[uint]*models.Wallet),
		transactions: make(map[string]*models.Transaction),
	}
}

// WalletByUserID returns a copy of the user's wallet, or (nil, nil).
func (s *MemoryLedgerStore) WalletByUserID(ctx context.Context, userID uint) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, nil
	}
	copied := *w
	return &copied, nil
}

// CreateWallet assigns an ID and stores the wallet.
func (s *MemoryLedgerStore) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWalletID++
	wallet.ID = s.nextWalletID
	wallet.CreatedAt = time.Now()
	copied := *wallet
	s.wallets[wallet.UserID] = &copied
	return nil
}

// SaveWallet overwrites the stored wallet.
func (s *MemoryLedgerStore) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *wallet
	s.wallets[wallet.UserID] = &copied
	return nil
}

// TransactionByReference returns a copy of the transaction, or (nil, nil).
func (s *MemoryLedgerStore) TransactionByReference(ctx context.Context, ref string) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[ref]
	if !ok {
		return nil, nil
	}
	copied := *tx
	return &copied, nil
}

// ListByStatus returns up to limit transactions in the status, oldest first.
func (s *MemoryLedgerStore) ListByStatus(ctx context.Context, status string, limit int) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var txs []models.Transaction
	for _, tx := range s.transactions {
		if tx.Status == status {
			txs = append(txs, *tx)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.Before(txs[j].CreatedAt) })
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// ListByWallet returns the wallet's transactions since the time, newest first.
func (s *MemoryLedgerStore) ListByWallet(ctx context.Context, walletID uint, since time.Time) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var txs []models.Transaction
	for _, tx := range s.transactions {
		if tx.WalletID == walletID && !tx.CreatedAt.Before(since) {
			txs = append(txs, *tx)
		}
	}
	sort.Slice(txs, func(i, j int) bool { return txs[i].CreatedAt.After(txs[j].CreatedAt) })
	return txs, nil
}

// Apply implements the idempotent read-modify-write under the store mutex.
func (s *MemoryLedgerStore) Apply(ctx context.Context, userID uint, ref string, fn func(w *models.Wallet) (*models.Transaction, error)) (*models.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.transactions[ref]; ok {
		copied := *existing
		return &copied, true, nil
	}

	wallet, ok := s.wallets[userID]
	if !ok {
		return nil, false, utils.E(utils.KindNotFound, "wallet not found", nil)
	}

	// Work on a copy so a failing fn leaves the stored wallet untouched.
	working := *wallet
	record, err := fn(&working)
	if err != nil {
		return nil, false, err
	}

	s.nextTxID++
	record.ID = s.nextTxID
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	*wallet = working
	stored := *record
	s.transactions[record.Reference] = &stored
	copied := stored
	return &copied, false, nil
}

// ApplyExisting applies fn to the wallet and the stored transaction under
// the store mutex.
func (s *MemoryLedgerStore) ApplyExisting(ctx context.Context, userID uint, ref string, fn func(w *models.Wallet, t *models.Transaction) error) (*models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wallet, ok := s.wallets[userID]
	if !ok {
		return nil, utils.E(utils.KindNotFound, "wallet not found", nil)
	}
	record, ok := s.transactions[ref]
	if !ok {
		return nil, utils.E(utils.KindNotFound, "transaction not found", nil)
	}

	workingWallet := *wallet
	workingTx := *record
	if err := fn(&workingWallet, &workingTx); err != nil {
		return nil, err
	}
	workingTx.UpdatedAt = time.Now()
	*wallet = workingWallet
	*record = workingTx
	copied := workingTx
	return &copied, nil
}
