// Package store provides ledger.TxStore implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/campuspay/ledger-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	users     map[ledger.UserID]ledger.User
	usernames map[string]ledger.UserID

	wallets      map[ledger.WalletID]ledger.Wallet
	walletByUser map[ledger.UserID]ledger.WalletID

	transactions map[ledger.TransactionID]ledger.Transaction
	txOrder      []ledger.TransactionID

	notifications []ledger.Notification

	issues     map[string]ledger.Issue
	issueOrder []string
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[ledger.UserID]ledger.User),
		usernames:    make(map[string]ledger.UserID),
		wallets:      make(map[ledger.WalletID]ledger.Wallet),
		walletByUser: make(map[ledger.UserID]ledger.WalletID),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		issues:       make(map[string]ledger.Issue),
	}
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) InsertUser(_ context.Context, u ledger.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertUserLocked(u)
}

func (m *Memory) insertUserLocked(u ledger.User) error {
	if _, ok := m.users[u.ID]; ok {
		return ledger.ErrDuplicateID
	}
	if _, ok := m.usernames[u.Username]; ok {
		return ledger.ErrDuplicateUsername
	}
	m.users[u.ID] = u
	m.usernames[u.Username] = u.ID
	return nil
}

func (m *Memory) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id)
}

func (m *Memory) getUserLocked(id ledger.UserID) (*ledger.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	return &u, nil
}

func (m *Memory) GetUserByUsername(_ context.Context, username string) (*ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[username]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	return m.getUserLocked(id)
}

func (m *Memory) ListUsers(_ context.Context) ([]ledger.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]ledger.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

// =============================================================================
// WALLETS
// =============================================================================

func (m *Memory) InsertWallet(_ context.Context, w ledger.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertWalletLocked(w)
}

func (m *Memory) insertWalletLocked(w ledger.Wallet) error {
	if _, ok := m.wallets[w.ID]; ok {
		return ledger.ErrDuplicateID
	}
	if _, ok := m.walletByUser[w.UserID]; ok {
		return ledger.ErrDuplicateID
	}
	m.wallets[w.ID] = w
	m.walletByUser[w.UserID] = w.ID
	return nil
}

func (m *Memory) UpdateWallet(_ context.Context, w ledger.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateWalletLocked(w)
}

func (m *Memory) updateWalletLocked(w ledger.Wallet) error {
	if _, ok := m.wallets[w.ID]; !ok {
		return ledger.ErrWalletNotFound
	}
	m.wallets[w.ID] = w
	return nil
}

func (m *Memory) GetWallet(_ context.Context, id ledger.WalletID) (*ledger.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getWalletLocked(id)
}

func (m *Memory) getWalletLocked(id ledger.WalletID) (*ledger.Wallet, error) {
	w, ok := m.wallets[id]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	return &w, nil
}

func (m *Memory) GetWalletByUser(_ context.Context, userID ledger.UserID) (*ledger.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getWalletByUserLocked(userID)
}

func (m *Memory) getWalletByUserLocked(userID ledger.UserID) (*ledger.Wallet, error) {
	id, ok := m.walletByUser[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	return m.getWalletLocked(id)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTransactionLocked(tx)
}

func (m *Memory) insertTransactionLocked(tx ledger.Transaction) error {
	if _, ok := m.transactions[tx.ID]; ok {
		return ledger.ErrDuplicateID
	}
	m.transactions[tx.ID] = tx
	m.txOrder = append(m.txOrder, tx.ID)
	return nil
}

func (m *Memory) UpdateTransactionStatus(_ context.Context, id ledger.TransactionID, status ledger.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTransactionStatusLocked(id, status)
}

func (m *Memory) updateTransactionStatusLocked(id ledger.TransactionID, status ledger.Status) error {
	tx, ok := m.transactions[id]
	if !ok {
		return ledger.ErrTransactionNotFound
	}
	tx.Status = status
	m.transactions[id] = tx
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Memory) getTransactionLocked(id ledger.TransactionID) (*ledger.Transaction, error) {
	tx, ok := m.transactions[id]
	if !ok {
		return nil, ledger.ErrTransactionNotFound
	}
	return &tx, nil
}

func (m *Memory) ListTransactions(_ context.Context) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txs := make([]ledger.Transaction, 0, len(m.txOrder))
	for _, id := range m.txOrder {
		txs = append(txs, m.transactions[id])
	}
	return txs, nil
}

func (m *Memory) TransactionsByWallet(_ context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterTxLocked(func(tx ledger.Transaction) bool {
		return tx.Sender == id || tx.Receiver == id
	}, true), nil
}

func (m *Memory) PendingBySender(_ context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pendingBySenderLocked(id), nil
}

func (m *Memory) pendingBySenderLocked(id ledger.WalletID) []ledger.Transaction {
	return m.filterTxLocked(func(tx ledger.Transaction) bool {
		return tx.Sender == id && tx.Status == ledger.StatusPending
	}, false)
}

func (m *Memory) PendingByReceiver(_ context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filterTxLocked(func(tx ledger.Transaction) bool {
		return tx.Receiver == id && tx.Status == ledger.StatusPending
	}, false), nil
}

// filterTxLocked walks insertion order; newestFirst reverses it.
func (m *Memory) filterTxLocked(keep func(ledger.Transaction) bool, newestFirst bool) []ledger.Transaction {
	var out []ledger.Transaction
	for _, id := range m.txOrder {
		if tx := m.transactions[id]; keep(tx) {
			out = append(out, tx)
		}
	}
	if newestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func (m *Memory) AppendNotification(_ context.Context, n ledger.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendNotificationLocked(n)
	return nil
}

func (m *Memory) appendNotificationLocked(n ledger.Notification) {
	m.notifications = append(m.notifications, n)
}

func (m *Memory) NotificationsByUser(_ context.Context, userID ledger.UserID) ([]ledger.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Notification
	for i := len(m.notifications) - 1; i >= 0; i-- {
		if m.notifications[i].UserID == userID {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func (m *Memory) MarkNotificationRead(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id {
			m.notifications[i].Read = true
			return nil
		}
	}
	return ledger.ErrNotificationNotFound
}

// =============================================================================
// ISSUES
// =============================================================================

func (m *Memory) InsertIssue(_ context.Context, i ledger.Issue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertIssueLocked(i)
}

func (m *Memory) insertIssueLocked(i ledger.Issue) error {
	if _, ok := m.issues[i.ID]; ok {
		return ledger.ErrDuplicateID
	}
	m.issues[i.ID] = i
	m.issueOrder = append(m.issueOrder, i.ID)
	return nil
}

func (m *Memory) UpdateIssueStatus(_ context.Context, id string, status ledger.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateIssueStatusLocked(id, status)
}

func (m *Memory) updateIssueStatusLocked(id string, status ledger.Status) error {
	issue, ok := m.issues[id]
	if !ok {
		return ledger.ErrIssueNotFound
	}
	issue.ResolvedStatus = status
	m.issues[id] = issue
	return nil
}

func (m *Memory) GetIssue(_ context.Context, id string) (*ledger.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, ledger.ErrIssueNotFound
	}
	return &issue, nil
}

func (m *Memory) IssuesByTransaction(_ context.Context, id ledger.TransactionID) ([]ledger.Issue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ledger.Issue
	for _, issueID := range m.issueOrder {
		if issue := m.issues[issueID]; issue.TransactionID == id {
			out = append(out, issue)
		}
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONS (STORE-LEVEL) - Snapshot and restore on error
// =============================================================================

// WithTx executes fn against a view of the store; on error the prior
// state is restored, simulating a rollback.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users         map[ledger.UserID]ledger.User
	usernames     map[string]ledger.UserID
	wallets       map[ledger.WalletID]ledger.Wallet
	walletByUser  map[ledger.UserID]ledger.WalletID
	transactions  map[ledger.TransactionID]ledger.Transaction
	txOrder       []ledger.TransactionID
	notifications []ledger.Notification
	issues        map[string]ledger.Issue
	issueOrder    []string
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:         make(map[ledger.UserID]ledger.User, len(m.users)),
		usernames:     make(map[string]ledger.UserID, len(m.usernames)),
		wallets:       make(map[ledger.WalletID]ledger.Wallet, len(m.wallets)),
		walletByUser:  make(map[ledger.UserID]ledger.WalletID, len(m.walletByUser)),
		transactions:  make(map[ledger.TransactionID]ledger.Transaction, len(m.transactions)),
		txOrder:       append([]ledger.TransactionID(nil), m.txOrder...),
		notifications: append([]ledger.Notification(nil), m.notifications...),
		issues:        make(map[string]ledger.Issue, len(m.issues)),
		issueOrder:    append([]string(nil), m.issueOrder...),
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.usernames {
		s.usernames[k] = v
	}
	for k, v := range m.wallets {
		s.wallets[k] = v
	}
	for k, v := range m.walletByUser {
		s.walletByUser[k] = v
	}
	for k, v := range m.transactions {
		s.transactions[k] = v
	}
	for k, v := range m.issues {
		s.issues[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.usernames = s.usernames
	m.wallets = s.wallets
	m.walletByUser = s.walletByUser
	m.transactions = s.transactions
	m.txOrder = s.txOrder
	m.notifications = s.notifications
	m.issues = s.issues
	m.issueOrder = s.issueOrder
}

// memView exposes the parent's unlocked operations to WithTx callbacks;
// the parent holds its write lock for the duration.
type memView struct {
	parent *Memory
}

func (v *memView) InsertUser(_ context.Context, u ledger.User) error { return v.parent.insertUserLocked(u) }
func (v *memView) GetUser(_ context.Context, id ledger.UserID) (*ledger.User, error) {
	return v.parent.getUserLocked(id)
}
func (v *memView) GetUserByUsername(_ context.Context, username string) (*ledger.User, error) {
	id, ok := v.parent.usernames[username]
	if !ok {
		return nil, ledger.ErrUserNotFound
	}
	return v.parent.getUserLocked(id)
}
func (v *memView) ListUsers(ctx context.Context) ([]ledger.User, error) {
	users := make([]ledger.User, 0, len(v.parent.users))
	for _, u := range v.parent.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}
func (v *memView) InsertWallet(_ context.Context, w ledger.Wallet) error {
	return v.parent.insertWalletLocked(w)
}
func (v *memView) UpdateWallet(_ context.Context, w ledger.Wallet) error {
	return v.parent.updateWalletLocked(w)
}
func (v *memView) GetWallet(_ context.Context, id ledger.WalletID) (*ledger.Wallet, error) {
	return v.parent.getWalletLocked(id)
}
func (v *memView) GetWalletByUser(_ context.Context, userID ledger.UserID) (*ledger.Wallet, error) {
	return v.parent.getWalletByUserLocked(userID)
}
func (v *memView) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.parent.insertTransactionLocked(tx)
}
func (v *memView) UpdateTransactionStatus(_ context.Context, id ledger.TransactionID, status ledger.Status) error {
	return v.parent.updateTransactionStatusLocked(id, status)
}
func (v *memView) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return v.parent.getTransactionLocked(id)
}
func (v *memView) ListTransactions(_ context.Context) ([]ledger.Transaction, error) {
	txs := make([]ledger.Transaction, 0, len(v.parent.txOrder))
	for _, id := range v.parent.txOrder {
		txs = append(txs, v.parent.transactions[id])
	}
	return txs, nil
}
func (v *memView) TransactionsByWallet(_ context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	return v.parent.filterTxLocked(func(tx ledger.Transaction) bool {
		return tx.Sender == id || tx.Receiver == id
	}, true), nil
}
func (v *memView) PendingBySender(_ context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	return v.parent.pendingBySenderLocked(id), nil
}
func (v *memView) PendingByReceiver(_ context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	return v.parent.filterTxLocked(func(tx ledger.Transaction) bool {
		return tx.Receiver == id && tx.Status == ledger.StatusPending
	}, false), nil
}
func (v *memView) AppendNotification(_ context.Context, n ledger.Notification) error {
	v.parent.appendNotificationLocked(n)
	return nil
}
func (v *memView) NotificationsByUser(_ context.Context, userID ledger.UserID) ([]ledger.Notification, error) {
	var out []ledger.Notification
	for i := len(v.parent.notifications) - 1; i >= 0; i-- {
		if v.parent.notifications[i].UserID == userID {
			out = append(out, v.parent.notifications[i])
		}
	}
	return out, nil
}
func (v *memView) MarkNotificationRead(_ context.Context, id string) error {
	for i := range v.parent.notifications {
		if v.parent.notifications[i].ID == id {
			v.parent.notifications[i].Read = true
			return nil
		}
	}
	return ledger.ErrNotificationNotFound
}
func (v *memView) InsertIssue(_ context.Context, i ledger.Issue) error {
	return v.parent.insertIssueLocked(i)
}
func (v *memView) UpdateIssueStatus(_ context.Context, id string, status ledger.Status) error {
	return v.parent.updateIssueStatusLocked(id, status)
}
func (v *memView) GetIssue(_ context.Context, id string) (*ledger.Issue, error) {
	issue, ok := v.parent.issues[id]
	if !ok {
		return nil, ledger.ErrIssueNotFound
	}
	return &issue, nil
}
func (v *memView) IssuesByTransaction(_ context.Context, id ledger.TransactionID) ([]ledger.Issue, error) {
	var out []ledger.Issue
	for _, issueID := range v.parent.issueOrder {
		if issue := v.parent.issues[issueID]; issue.TransactionID == id {
			out = append(out, issue)
		}
	}
	return out, nil
}
