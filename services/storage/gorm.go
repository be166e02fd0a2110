// Package storage provides the gorm-backed UserStore and LedgerStore
// adapters, plus in-memory equivalents used in tests and when no database is
// configured.
package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/emeka-okafor/kudipal/models"
)

// GormUserStore persists users in Postgres.
type GormUserStore struct {
	db *gorm.DB
}

// NewGormUserStore wraps an initialized gorm DB.
func NewGormUserStore(db *gorm.DB) *GormUserStore {
	return &GormUserStore{db: db}
}

// ByWhatsAppNumber returns the user for the number, or (nil, nil) when absent.
func (s *GormUserStore) ByWhatsAppNumber(ctx context.Context, number string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("whats_app_number = ?", number).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ByID returns the user by primary key, or (nil, nil) when absent.
func (s *GormUserStore) ByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Create inserts a new user row.
func (s *GormUserStore) Create(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Create(user).Error
}

// Save persists all mutated user fields.
func (s *GormUserStore) Save(ctx context.Context, user *models.User) error {
	return s.db.WithContext(ctx).Save(user).Error
}

// GormLedgerStore persists wallets and transactions in Postgres. Wallet
// mutations run inside a row-locked transaction as defense in depth on top of
// the per-user serialization upstream.
type GormLedgerStore struct {
	db *gorm.DB
}

// NewGormLedgerStore wraps an initialized gorm DB.
func NewGormLedgerStore(db *gorm.DB) *GormLedgerStore {
	return &GormLedgerStore{db: db}
}

// WalletByUserID returns the wallet for the user, or (nil, nil) when absent.
func (s *GormLedgerStore) WalletByUserID(ctx context.Context, userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&wallet).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// CreateWallet inserts a new wallet row.
func (s *GormLedgerStore) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	return s.db.WithContext(ctx).Create(wallet).Error
}

// SaveWallet persists all mutated wallet fields.
func (s *GormLedgerStore) SaveWallet(ctx context.Context, wallet *models.Wallet) error {
	return s.db.WithContext(ctx).Save(wallet).Error
}

// TransactionByReference returns the transaction with the reference, or
// (nil, nil) when absent.
func (s *GormLedgerStore) TransactionByReference(ctx context.Context, ref string) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Where("reference = ?", ref).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// ListByStatus returns up to limit transactions in the given status, oldest
// first. The reconciler polls this for processing transactions.
func (s *GormLedgerStore) ListByStatus(ctx context.Context, status string, limit int) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC").
		Limit(limit).
		Find(&txs).Error
	return txs, err
}

// ListByWallet returns the wallet's transactions since the given time,
// newest first.
func (s *GormLedgerStore) ListByWallet(ctx context.Context, walletID uint, since time.Time) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := s.db.WithContext(ctx).
		Where("wallet_id = ? AND created_at >= ?", walletID, since).
		Order("created_at DESC").
		Find(&txs).Error
	return txs, err
}

// Apply implements the idempotent read-modify-write described on the
// LedgerStore interface using SELECT ... FOR UPDATE.
func (s *GormLedgerStore) Apply(ctx context.Context, userID uint, ref string, fn func(w *models.Wallet) (*models.Transaction, error)) (*models.Transaction, bool, error) {
	var result *models.Transaction
	replayed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Transaction
		err := tx.Where("reference = ?", ref).First(&existing).Error
		if err == nil {
			result = &existing
			replayed = true
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		var wallet models.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			return err
		}

		record, err := fn(&wallet)
		if err != nil {
			return err
		}
		if err := tx.Save(&wallet).Error; err != nil {
			return err
		}
		if err := tx.Create(record).Error; err != nil {
			return err
		}
		result = record
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, replayed, nil
}

// ApplyExisting locks the wallet row and the transaction with the reference,
// applies fn to both and commits atomically.
func (s *GormLedgerStore) ApplyExisting(ctx context.Context, userID uint, ref string, fn func(w *models.Wallet, t *models.Transaction) error) (*models.Transaction, error) {
	var result *models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wallet models.Wallet
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_id = ?", userID).First(&wallet).Error; err != nil {
			return err
		}
		var record models.Transaction
		if err := tx.Where("reference = ?", ref).First(&record).Error; err != nil {
			return err
		}
		if err := fn(&wallet, &record); err != nil {
			return err
		}
		if err := tx.Save(&wallet).Error; err != nil {
			return err
		}
		if err := tx.Save(&record).Error; err != nil {
			return err
		}
		result = &record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
