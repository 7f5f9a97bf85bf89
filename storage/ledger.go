// Package storage keeps a local record of submitted transactions.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/vitwit/coffee/utils"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Kind string

const (
	KindPurchase Kind = "purchase"
	KindWithdraw Kind = "withdraw"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned when no entry has the given transaction hash.
var ErrNotFound = errors.New("ledger entry not found")

// Entry is one submitted transaction.
type Entry struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	TxHash    string    `gorm:"uniqueIndex;size:66" json:"txHash"`
	Kind      Kind      `gorm:"index;size:16" json:"kind"`
	Status    Status    `gorm:"index;size:16" json:"status"`
	Account   string    `gorm:"size:42" json:"account"`
	Tier      string    `gorm:"size:16" json:"tier,omitempty"`
	Quantity  int       `json:"quantity,omitempty"`
	AmountWei string    `json:"amountWei"`
	Name      string    `json:"name,omitempty"`
	Message   string    `json:"message,omitempty"`
	Block     uint64    `json:"block,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Ledger stores entries in an embedded SQLite database.
type Ledger struct {
	db *gorm.DB
}

// Open creates the database file at path if needed and migrates the schema.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate ledger: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Record inserts e as pending.
func (l *Ledger) Record(ctx context.Context, e *Entry) error {
	if err := utils.ValidateTransactionHash(e.TxHash); err != nil {
		return fmt.Errorf("record %s: %w", e.Kind, err)
	}
	if e.Account != "" {
		if err := utils.ValidateAddress(e.Account); err != nil {
			return fmt.Errorf("record %s: %w", e.Kind, err)
		}
	}
	e.Status = StatusPending
	return l.db.WithContext(ctx).Create(e).Error
}

// MarkConfirmed sets the entry's status to confirmed at the given block.
func (l *Ledger) MarkConfirmed(ctx context.Context, txHash string, block uint64) error {
	return l.update(ctx, txHash, map[string]any{
		"status": StatusConfirmed,
		"block":  block,
		"error":  "",
	})
}

// MarkFailed sets the entry's status to failed with reason.
func (l *Ledger) MarkFailed(ctx context.Context, txHash string, reason string) error {
	return l.update(ctx, txHash, map[string]any{
		"status": StatusFailed,
		"error":  reason,
	})
}

func (l *Ledger) update(ctx context.Context, txHash string, fields map[string]any) error {
	res := l.db.WithContext(ctx).Model(&Entry{}).Where("tx_hash = ?", txHash).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the entry for txHash.
func (l *Ledger) Get(ctx context.Context, txHash string) (*Entry, error) {
	var e Entry
	err := l.db.WithContext(ctx).First(&e, "tx_hash = ?", txHash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Recent returns up to limit entries, newest first.
func (l *Ledger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []Entry
	err := l.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&entries).Error
	return entries, err
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
