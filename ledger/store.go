/*
store.go - Persistence interfaces for the ledger engine

PURPOSE:
  Defines the boundary between the engine and durable storage. The engine
  never touches a database directly; it speaks Store, and groups the
  writes of one logical operation inside TxStore.WithTx so that a transfer
  (two wallets + a transaction + notifications) is all-or-nothing.

CONTRACTS:
  - InsertTransaction returns ErrDuplicateID on a primary-key collision so
    the engine can regenerate the short random code and retry.
  - A transaction's body is immutable: the only update path is
    UpdateTransactionStatus.
  - Notifications are append-only except for the read flag.
  - Get* methods return the package's not-found sentinels, never nil-nil.

IMPLEMENTATIONS:
  - ledger/store (Memory): in-memory, snapshot/restore transactions; tests
  - store/sqlite: production SQLite, real sql.Tx transactions
*/
package ledger

import "context"

// =============================================================================
// STORE - Flat persistence operations
// =============================================================================

type Store interface {
	// Users
	InsertUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Wallets (1:1 with users)
	InsertWallet(ctx context.Context, w Wallet) error
	UpdateWallet(ctx context.Context, w Wallet) error
	GetWallet(ctx context.Context, id WalletID) (*Wallet, error)
	GetWalletByUser(ctx context.Context, userID UserID) (*Wallet, error)

	// Transactions
	InsertTransaction(ctx context.Context, tx Transaction) error
	UpdateTransactionStatus(ctx context.Context, id TransactionID, status Status) error
	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context) ([]Transaction, error)
	// TransactionsByWallet returns transactions where the wallet is sender
	// or receiver, newest first.
	TransactionsByWallet(ctx context.Context, id WalletID) ([]Transaction, error)
	// PendingBySender returns PENDING transactions sent from the wallet,
	// oldest first.
	PendingBySender(ctx context.Context, id WalletID) ([]Transaction, error)
	// PendingByReceiver returns PENDING transactions owed to the wallet,
	// oldest first.
	PendingByReceiver(ctx context.Context, id WalletID) ([]Transaction, error)

	// Notifications
	AppendNotification(ctx context.Context, n Notification) error
	NotificationsByUser(ctx context.Context, userID UserID) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error

	// Issues
	InsertIssue(ctx context.Context, i Issue) error
	UpdateIssueStatus(ctx context.Context, id string, status Status) error
	GetIssue(ctx context.Context, id string) (*Issue, error)
	IssuesByTransaction(ctx context.Context, id TransactionID) ([]Issue, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-write
// =============================================================================

// TxStore wraps Store with transaction support.
// The engine runs every state-mutating operation inside WithTx: if fn
// returns an error, nothing it wrote is durably visible.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
