package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ruralpay/marketpay/internal/models"
)

// MemoryStore is an in-process Store for local runs and tests. Row locks are
// held per key until the unit finishes, and staged writes become visible to
// readers all at once on commit.
type MemoryStore struct {
	mu           sync.RWMutex
	balances     map[string]models.LedgerBalance
	commissions  map[string]models.CommissionTotal
	transactions map[string]models.Transaction
	audit        []models.AuditEntry
	settlements  []models.Settlement
	earnings     []models.Earning
	nextAuditID  int64
	nextSettleID int64
	nextEarnID   int64

	locks rowLocks
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:     make(map[string]models.LedgerBalance),
		commissions:  make(map[string]models.CommissionTotal),
		transactions: make(map[string]models.Transaction),
		locks:        rowLocks{rows: make(map[string]chan struct{})},
	}
}

func balanceKey(accountID, currency string) string {
	return "bal:" + accountID + "|" + currency
}

func commissionKey(currency string) string {
	return "com:" + currency
}

func transactionKey(ref string) string {
	return "txn:" + ref
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		store:        s,
		held:         make(map[string]bool),
		balances:     make(map[string]models.LedgerBalance),
		commissions:  make(map[string]models.CommissionTotal),
		transactions: make(map[string]models.Transaction),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, ref string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	txn, ok := s.transactions[ref]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &txn, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, accountID string, limit int) ([]models.Transaction, error) {
	s.mu.RLock()
	var txns []models.Transaction
	for _, txn := range s.transactions {
		if txn.AccountID == accountID {
			txns = append(txns, txn)
		}
	}
	s.mu.RUnlock()

	sort.Slice(txns, func(i, j int) bool {
		return txns[i].CreatedAt.After(txns[j].CreatedAt)
	})
	if limit > 0 && len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, accountID, currency string) (*models.LedgerBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.balances[balanceKey(accountID, currency)]; ok {
		return &b, nil
	}
	return &models.LedgerBalance{AccountID: accountID, Currency: currency}, nil
}

func (s *MemoryStore) GetCommission(_ context.Context, currency string) (*models.CommissionTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.commissions[commissionKey(currency)]; ok {
		return &c, nil
	}
	return &models.CommissionTotal{Currency: currency}, nil
}

func (s *MemoryStore) ListAuditEntries(_ context.Context, accountID string, limit int) ([]models.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var entries []models.AuditEntry
	for i := len(s.audit) - 1; i >= 0; i-- {
		if s.audit[i].AccountID != accountID {
			continue
		}
		entries = append(entries, s.audit[i])
		if limit > 0 && len(entries) == limit {
			break
		}
	}
	return entries, nil
}

// Settlements returns every recorded settlement for a transaction.
func (s *MemoryStore) Settlements(ref string) []models.Settlement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Settlement
	for _, st := range s.settlements {
		if st.TransactionRef == ref {
			out = append(out, st)
		}
	}
	return out
}

// Earnings returns every fee record written for a transaction.
func (s *MemoryStore) Earnings(ref string) []models.Earning {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Earning
	for _, e := range s.earnings {
		if e.TransactionRef == ref {
			out = append(out, e)
		}
	}
	return out
}

type memTx struct {
	store        *MemoryStore
	held         map[string]bool
	balances     map[string]models.LedgerBalance
	commissions  map[string]models.CommissionTotal
	transactions map[string]models.Transaction
	audit        []*models.AuditEntry
	settlements  []*models.Settlement
	earnings     []*models.Earning
}

func (t *memTx) lock(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	if err := t.store.locks.lock(ctx, key); err != nil {
		return err
	}
	t.held[key] = true
	return nil
}

func (t *memTx) release() {
	for key := range t.held {
		t.store.locks.unlock(key)
	}
	t.held = nil
}

func (t *memTx) LockBalance(ctx context.Context, accountID, currency string) (*models.LedgerBalance, error) {
	key := balanceKey(accountID, currency)
	if err := t.lock(ctx, key); err != nil {
		return nil, err
	}
	if b, ok := t.balances[key]; ok {
		return &b, nil
	}
	t.store.mu.RLock()
	b, ok := t.store.balances[key]
	t.store.mu.RUnlock()
	if !ok {
		b = models.LedgerBalance{AccountID: accountID, Currency: currency, UpdatedAt: time.Now()}
	}
	t.balances[key] = b
	return &b, nil
}

func (t *memTx) SaveBalance(_ context.Context, balance *models.LedgerBalance) error {
	key := balanceKey(balance.AccountID, balance.Currency)
	if !t.held[key] {
		return errNotLocked(key)
	}
	if balance.Amount.IsNegative() {
		return models.ErrInsufficientFunds
	}
	balance.UpdatedAt = time.Now()
	t.balances[key] = *balance
	return nil
}

func (t *memTx) LockCommission(ctx context.Context, currency string) (*models.CommissionTotal, error) {
	key := commissionKey(currency)
	if err := t.lock(ctx, key); err != nil {
		return nil, err
	}
	if c, ok := t.commissions[key]; ok {
		return &c, nil
	}
	t.store.mu.RLock()
	c, ok := t.store.commissions[key]
	t.store.mu.RUnlock()
	if !ok {
		c = models.CommissionTotal{Currency: currency, UpdatedAt: time.Now()}
	}
	t.commissions[key] = c
	return &c, nil
}

func (t *memTx) SaveCommission(_ context.Context, total *models.CommissionTotal) error {
	key := commissionKey(total.Currency)
	if !t.held[key] {
		return errNotLocked(key)
	}
	total.UpdatedAt = time.Now()
	t.commissions[key] = *total
	return nil
}

func (t *memTx) InsertTransaction(ctx context.Context, txn *models.Transaction) error {
	key := transactionKey(txn.TransactionRef)
	if err := t.lock(ctx, key); err != nil {
		return err
	}
	if _, ok := t.transactions[txn.TransactionRef]; ok {
		return models.ErrDuplicate
	}
	t.store.mu.RLock()
	_, exists := t.store.transactions[txn.TransactionRef]
	t.store.mu.RUnlock()
	if exists {
		return models.ErrDuplicate
	}

	now := time.Now()
	if txn.CreatedAt.IsZero() {
		txn.CreatedAt = now
	}
	txn.UpdatedAt = now
	t.transactions[txn.TransactionRef] = *txn
	return nil
}

func (t *memTx) LockTransaction(ctx context.Context, ref string) (*models.Transaction, error) {
	if err := t.lock(ctx, transactionKey(ref)); err != nil {
		return nil, err
	}
	if txn, ok := t.transactions[ref]; ok {
		return &txn, nil
	}
	t.store.mu.RLock()
	txn, ok := t.store.transactions[ref]
	t.store.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	return &txn, nil
}

func (t *memTx) UpdateTransactionStatus(_ context.Context, txn *models.Transaction) error {
	key := transactionKey(txn.TransactionRef)
	if !t.held[key] {
		return errNotLocked(key)
	}
	current, ok := t.transactions[txn.TransactionRef]
	if !ok {
		t.store.mu.RLock()
		current, ok = t.store.transactions[txn.TransactionRef]
		t.store.mu.RUnlock()
	}
	if !ok {
		return models.ErrNotFound
	}

	current.Status = txn.Status
	if txn.ExternalTransactionID != nil {
		current.ExternalTransactionID = txn.ExternalTransactionID
	}
	current.UpdatedAt = time.Now()
	txn.UpdatedAt = current.UpdatedAt
	t.transactions[txn.TransactionRef] = current
	return nil
}

func (t *memTx) InsertAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	t.audit = append(t.audit, entry)
	return nil
}

func (t *memTx) InsertSettlement(_ context.Context, settlement *models.Settlement) error {
	if settlement.CreatedAt.IsZero() {
		settlement.CreatedAt = time.Now()
	}
	t.settlements = append(t.settlements, settlement)
	return nil
}

func (t *memTx) InsertEarning(_ context.Context, earning *models.Earning) error {
	if earning.CreatedAt.IsZero() {
		earning.CreatedAt = time.Now()
	}
	t.earnings = append(t.earnings, earning)
	return nil
}

func (t *memTx) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range t.balances {
		s.balances[key] = b
	}
	for key, c := range t.commissions {
		s.commissions[key] = c
	}
	for ref, txn := range t.transactions {
		s.transactions[ref] = txn
	}
	for _, entry := range t.audit {
		s.nextAuditID++
		entry.ID = s.nextAuditID
		s.audit = append(s.audit, *entry)
	}
	for _, st := range t.settlements {
		s.nextSettleID++
		st.ID = s.nextSettleID
		s.settlements = append(s.settlements, *st)
	}
	for _, e := range t.earnings {
		s.nextEarnID++
		e.ID = s.nextEarnID
		s.earnings = append(s.earnings, *e)
	}
}

type rowLocks struct {
	mu   sync.Mutex
	rows map[string]chan struct{}
}

func (l *rowLocks) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	ch, ok := l.rows[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.rows[key] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *rowLocks) unlock(key string) {
	l.mu.Lock()
	ch := l.rows[key]
	l.mu.Unlock()
	<-ch
}

type errNotLocked string

func (e errNotLocked) Error() string {
	return "row " + string(e) + " written without lock"
}
