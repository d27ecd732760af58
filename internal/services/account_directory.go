package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// AccountDirectory answers whether an account may move money.
type AccountDirectory interface {
	IsActive(ctx context.Context, accountID string) (bool, error)
}

// SQLAccountDirectory reads the accounts table owned by the profile service.
type SQLAccountDirectory struct {
	db *sql.DB
}

func NewSQLAccountDirectory(db *sql.DB) *SQLAccountDirectory {
	return &SQLAccountDirectory{db: db}
}

func (d *SQLAccountDirectory) IsActive(ctx context.Context, accountID string) (bool, error) {
	var status string
	err := d.db.QueryRowContext(ctx, "SELECT status FROM accounts WHERE account_id = $1", accountID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == "ACTIVE", nil
}

// StaticAccountDirectory treats every account as active unless disabled.
// Used with the in-memory store.
type StaticAccountDirectory struct {
	mu       sync.RWMutex
	disabled map[string]bool
}

func NewStaticAccountDirectory() *StaticAccountDirectory {
	return &StaticAccountDirectory{disabled: make(map[string]bool)}
}

func (d *StaticAccountDirectory) Disable(accountID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disabled[accountID] = true
}

func (d *StaticAccountDirectory) IsActive(_ context.Context, accountID string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return !d.disabled[accountID], nil
}
