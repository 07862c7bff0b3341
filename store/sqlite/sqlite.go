/*
Package sqlite provides a SQLite-backed implementation of ledger.TxStore.

PURPOSE:
  Durable storage for users, wallets, transactions, notifications and
  issues. The same SQL ports to PostgreSQL with minor dialect changes.

KEY TABLES:
  users          one row per user, role tag instead of subtypes
  wallets        1:1 with users; balance and pending stored as TEXT
                 decimals to avoid float drift
  transactions   immutable body; status is the only updatable column
  notifications  append-only except the read flag
  issues         disputes keyed to one transaction

TRANSACTIONS:
  WithTx wraps a real sql.Tx. The engine groups the writes of one logical
  operation (two wallets + transaction + notifications) inside it, so a
  transfer is all-or-nothing at the database level.

CONCURRENCY:
  Opened in WAL mode with a busy timeout. A store-level mutex serializes
  write transactions; SQLite allows a single writer at a time anyway, and
  the engine's per-wallet locks already serialize conflicting operations.

MIGRATION:
  Schema is created on New(). For production, use a versioned migration
  tool instead.

SEE ALSO:
  - ledger/store.go: interface contracts
  - ledger/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/campuspay/ledger-engine/ledger"
)

// Store implements ledger.TxStore on SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex // serializes write transactions
}

// New opens (or creates) the database at dbPath. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases coherent and sidesteps
	// SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id         TEXT PRIMARY KEY,
		username   TEXT NOT NULL UNIQUE,
		email      TEXT NOT NULL,
		phone      TEXT NOT NULL,
		role       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS wallets (
		id      TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE REFERENCES users(id),
		balance TEXT NOT NULL,
		pending TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS transactions (
		id         TEXT PRIMARY KEY,
		sender     TEXT NOT NULL REFERENCES wallets(id),
		receiver   TEXT NOT NULL REFERENCES wallets(id),
		amount     TEXT NOT NULL,
		status     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Hot paths: pending-dues aggregation per sender/receiver.
	CREATE INDEX IF NOT EXISTS idx_transactions_sender_status
		ON transactions(sender, status);
	CREATE INDEX IF NOT EXISTS idx_transactions_receiver_status
		ON transactions(receiver, status);

	CREATE TABLE IF NOT EXISTS notifications (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL REFERENCES users(id),
		subject    TEXT NOT NULL,
		body       TEXT NOT NULL,
		is_read    INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_notifications_user
		ON notifications(user_id, created_at DESC);

	CREATE TABLE IF NOT EXISTS issues (
		id              TEXT PRIMARY KEY,
		transaction_id  TEXT NOT NULL REFERENCES transactions(id),
		raised_by       TEXT NOT NULL REFERENCES users(id),
		subject         TEXT NOT NULL,
		content         TEXT NOT NULL,
		resolved_status TEXT NOT NULL,
		created_at      TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_issues_transaction
		ON issues(transaction_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// mapUnique translates SQLite unique-constraint violations into the
// ledger's duplicate sentinels so the engine's retry loops work.
func mapUnique(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey) {
		if strings.Contains(se.Error(), "users.username") {
			return ledger.ErrDuplicateUsername
		}
		return ledger.ErrDuplicateID
	}
	return err
}

// =============================================================================
// USERS
// =============================================================================

const userColumns = `id, username, email, phone, role, created_at`

func insertUser(ctx context.Context, q querier, u ledger.User) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Username, u.Email, u.Phone, u.Role, u.CreatedAt.UTC().Format(time.RFC3339Nano))
	return mapUnique(err)
}

func scanUser(row interface{ Scan(...any) error }) (*ledger.User, error) {
	var u ledger.User
	var createdAt string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.Role, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrUserNotFound
		}
		return nil, err
	}
	var err error
	u.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	return &u, err
}

func getUser(ctx context.Context, q querier, id ledger.UserID) (*ledger.User, error) {
	return scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

func getUserByUsername(ctx context.Context, q querier, username string) (*ledger.User, error) {
	return scanUser(q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

func listUsers(ctx context.Context, q querier) ([]ledger.User, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY username`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []ledger.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// =============================================================================
// WALLETS
// =============================================================================

func insertWallet(ctx context.Context, q querier, w ledger.Wallet) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO wallets (id, user_id, balance, pending) VALUES (?, ?, ?, ?)`,
		w.ID, w.UserID, w.Balance.String(), w.Pending.String())
	return mapUnique(err)
}

func updateWallet(ctx context.Context, q querier, w ledger.Wallet) error {
	res, err := q.ExecContext(ctx,
		`UPDATE wallets SET balance = ?, pending = ? WHERE id = ?`,
		w.Balance.String(), w.Pending.String(), w.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrWalletNotFound
	}
	return nil
}

func scanWallet(row interface{ Scan(...any) error }) (*ledger.Wallet, error) {
	var w ledger.Wallet
	var balance, pending string
	if err := row.Scan(&w.ID, &w.UserID, &balance, &pending); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrWalletNotFound
		}
		return nil, err
	}
	var err error
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("wallet %s balance: %w", w.ID, err)
	}
	if w.Pending, err = decimal.NewFromString(pending); err != nil {
		return nil, fmt.Errorf("wallet %s pending: %w", w.ID, err)
	}
	return &w, nil
}

func getWallet(ctx context.Context, q querier, id ledger.WalletID) (*ledger.Wallet, error) {
	return scanWallet(q.QueryRowContext(ctx,
		`SELECT id, user_id, balance, pending FROM wallets WHERE id = ?`, id))
}

func getWalletByUser(ctx context.Context, q querier, userID ledger.UserID) (*ledger.Wallet, error) {
	return scanWallet(q.QueryRowContext(ctx,
		`SELECT id, user_id, balance, pending FROM wallets WHERE user_id = ?`, userID))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const txColumns = `id, sender, receiver, amount, status, created_at`

func insertTransaction(ctx context.Context, q querier, tx ledger.Transaction) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO transactions (`+txColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.Sender, tx.Receiver, tx.Amount.String(), tx.Status,
		tx.CreatedAt.UTC().Format(time.RFC3339Nano))
	return mapUnique(err)
}

func updateTransactionStatus(ctx context.Context, q querier, id ledger.TransactionID, status ledger.Status) error {
	res, err := q.ExecContext(ctx,
		`UPDATE transactions SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrTransactionNotFound
	}
	return nil
}

func scanTransaction(row interface{ Scan(...any) error }) (*ledger.Transaction, error) {
	var tx ledger.Transaction
	var amount, createdAt string
	if err := row.Scan(&tx.ID, &tx.Sender, &tx.Receiver, &amount, &tx.Status, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrTransactionNotFound
		}
		return nil, err
	}
	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("transaction %s amount: %w", tx.ID, err)
	}
	if tx.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	return &tx, nil
}

func getTransaction(ctx context.Context, q querier, id ledger.TransactionID) (*ledger.Transaction, error) {
	return scanTransaction(q.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = ?`, id))
}

func queryTransactions(ctx context.Context, q querier, query string, args ...any) ([]ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []ledger.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func listTransactions(ctx context.Context, q querier) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q,
		`SELECT `+txColumns+` FROM transactions ORDER BY created_at, rowid`)
}

func transactionsByWallet(ctx context.Context, q querier, id ledger.WalletID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q,
		`SELECT `+txColumns+` FROM transactions
		 WHERE sender = ? OR receiver = ?
		 ORDER BY created_at DESC, rowid DESC`, id, id)
}

func pendingBySender(ctx context.Context, q querier, id ledger.WalletID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q,
		`SELECT `+txColumns+` FROM transactions
		 WHERE sender = ? AND status = ?
		 ORDER BY created_at, rowid`, id, ledger.StatusPending)
}

func pendingByReceiver(ctx context.Context, q querier, id ledger.WalletID) ([]ledger.Transaction, error) {
	return queryTransactions(ctx, q,
		`SELECT `+txColumns+` FROM transactions
		 WHERE receiver = ? AND status = ?
		 ORDER BY created_at, rowid`, id, ledger.StatusPending)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func appendNotification(ctx context.Context, q querier, n ledger.Notification) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, subject, body, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Subject, n.Body, n.Read,
		n.CreatedAt.UTC().Format(time.RFC3339Nano))
	return mapUnique(err)
}

func notificationsByUser(ctx context.Context, q querier, userID ledger.UserID) ([]ledger.Notification, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, subject, body, is_read, created_at FROM notifications
		 WHERE user_id = ? ORDER BY created_at DESC, rowid DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notes []ledger.Notification
	for rows.Next() {
		var n ledger.Notification
		var createdAt string
		if err := rows.Scan(&n.ID, &n.UserID, &n.Subject, &n.Body, &n.Read, &createdAt); err != nil {
			return nil, err
		}
		if n.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func markNotificationRead(ctx context.Context, q querier, id string) error {
	res, err := q.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotificationNotFound
	}
	return nil
}

// =============================================================================
// ISSUES
// =============================================================================

const issueColumns = `id, transaction_id, raised_by, subject, content, resolved_status, created_at`

func insertIssue(ctx context.Context, q querier, i ledger.Issue) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO issues (`+issueColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.TransactionID, i.RaisedBy, i.Subject, i.Content, i.ResolvedStatus,
		i.CreatedAt.UTC().Format(time.RFC3339Nano))
	return mapUnique(err)
}

func updateIssueStatus(ctx context.Context, q querier, id string, status ledger.Status) error {
	res, err := q.ExecContext(ctx,
		`UPDATE issues SET resolved_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrIssueNotFound
	}
	return nil
}

func scanIssue(row interface{ Scan(...any) error }) (*ledger.Issue, error) {
	var i ledger.Issue
	var createdAt string
	if err := row.Scan(&i.ID, &i.TransactionID, &i.RaisedBy, &i.Subject, &i.Content, &i.ResolvedStatus, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrIssueNotFound
		}
		return nil, err
	}
	var err error
	i.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	return &i, err
}

func getIssue(ctx context.Context, q querier, id string) (*ledger.Issue, error) {
	return scanIssue(q.QueryRowContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE id = ?`, id))
}

func issuesByTransaction(ctx context.Context, q querier, id ledger.TransactionID) ([]ledger.Issue, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE transaction_id = ? ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issues []ledger.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		issues = append(issues, *i)
	}
	return issues, rows.Err()
}

// =============================================================================
// ledger.Store METHODS (against the live *sql.DB)
// =============================================================================

func (s *Store) InsertUser(ctx context.Context, u ledger.User) error { return insertUser(ctx, s.db, u) }
func (s *Store) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return getUser(ctx, s.db, id)
}
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*ledger.User, error) {
	return getUserByUsername(ctx, s.db, username)
}
func (s *Store) ListUsers(ctx context.Context) ([]ledger.User, error) { return listUsers(ctx, s.db) }

func (s *Store) InsertWallet(ctx context.Context, w ledger.Wallet) error {
	return insertWallet(ctx, s.db, w)
}
func (s *Store) UpdateWallet(ctx context.Context, w ledger.Wallet) error {
	return updateWallet(ctx, s.db, w)
}
func (s *Store) GetWallet(ctx context.Context, id ledger.WalletID) (*ledger.Wallet, error) {
	return getWallet(ctx, s.db, id)
}
func (s *Store) GetWalletByUser(ctx context.Context, userID ledger.UserID) (*ledger.Wallet, error) {
	return getWalletByUser(ctx, s.db, userID)
}

func (s *Store) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return insertTransaction(ctx, s.db, tx)
}
func (s *Store) UpdateTransactionStatus(ctx context.Context, id ledger.TransactionID, status ledger.Status) error {
	return updateTransactionStatus(ctx, s.db, id, status)
}
func (s *Store) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, s.db, id)
}
func (s *Store) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return listTransactions(ctx, s.db)
}
func (s *Store) TransactionsByWallet(ctx context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	return transactionsByWallet(ctx, s.db, id)
}
func (s *Store) PendingBySender(ctx context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	return pendingBySender(ctx, s.db, id)
}
func (s *Store) PendingByReceiver(ctx context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	return pendingByReceiver(ctx, s.db, id)
}

func (s *Store) AppendNotification(ctx context.Context, n ledger.Notification) error {
	return appendNotification(ctx, s.db, n)
}
func (s *Store) NotificationsByUser(ctx context.Context, userID ledger.UserID) ([]ledger.Notification, error) {
	return notificationsByUser(ctx, s.db, userID)
}
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	return markNotificationRead(ctx, s.db, id)
}

func (s *Store) InsertIssue(ctx context.Context, i ledger.Issue) error {
	return insertIssue(ctx, s.db, i)
}
func (s *Store) UpdateIssueStatus(ctx context.Context, id string, status ledger.Status) error {
	return updateIssueStatus(ctx, s.db, id, status)
}
func (s *Store) GetIssue(ctx context.Context, id string) (*ledger.Issue, error) {
	return getIssue(ctx, s.db, id)
}
func (s *Store) IssuesByTransaction(ctx context.Context, id ledger.TransactionID) ([]ledger.Issue, error) {
	return issuesByTransaction(ctx, s.db, id)
}

// =============================================================================
// WithTx - real database transaction
// =============================================================================

func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(&txView{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

// txView routes the Store interface through an open sql.Tx.
type txView struct {
	q *sql.Tx
}

func (v *txView) InsertUser(ctx context.Context, u ledger.User) error { return insertUser(ctx, v.q, u) }
func (v *txView) GetUser(ctx context.Context, id ledger.UserID) (*ledger.User, error) {
	return getUser(ctx, v.q, id)
}
func (v *txView) GetUserByUsername(ctx context.Context, username string) (*ledger.User, error) {
	return getUserByUsername(ctx, v.q, username)
}
func (v *txView) ListUsers(ctx context.Context) ([]ledger.User, error) { return listUsers(ctx, v.q) }

func (v *txView) InsertWallet(ctx context.Context, w ledger.Wallet) error {
	return insertWallet(ctx, v.q, w)
}
func (v *txView) UpdateWallet(ctx context.Context, w ledger.Wallet) error {
	return updateWallet(ctx, v.q, w)
}
func (v *txView) GetWallet(ctx context.Context, id ledger.WalletID) (*ledger.Wallet, error) {
	return getWallet(ctx, v.q, id)
}
func (v *txView) GetWalletByUser(ctx context.Context, userID ledger.UserID) (*ledger.Wallet, error) {
	return getWalletByUser(ctx, v.q, userID)
}

func (v *txView) InsertTransaction(ctx context.Context, tx ledger.Transaction) error {
	return insertTransaction(ctx, v.q, tx)
}
func (v *txView) UpdateTransactionStatus(ctx context.Context, id ledger.TransactionID, status ledger.Status) error {
	return updateTransactionStatus(ctx, v.q, id, status)
}
func (v *txView) GetTransaction(ctx context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return getTransaction(ctx, v.q, id)
}
func (v *txView) ListTransactions(ctx context.Context) ([]ledger.Transaction, error) {
	return listTransactions(ctx, v.q)
}
func (v *txView) TransactionsByWallet(ctx context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	return transactionsByWallet(ctx, v.q, id)
}
func (v *txView) PendingBySender(ctx context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	return pendingBySender(ctx, v.q, id)
}
func (v *txView) PendingByReceiver(ctx context.Context, id ledger.WalletID) ([]ledger.Transaction, error) {
	return pendingByReceiver(ctx, v.q, id)
}

func (v *txView) AppendNotification(ctx context.Context, n ledger.Notification) error {
	return appendNotification(ctx, v.q, n)
}
func (v *txView) NotificationsByUser(ctx context.Context, userID ledger.UserID) ([]ledger.Notification, error) {
	return notificationsByUser(ctx, v.q, userID)
}
func (v *txView) MarkNotificationRead(ctx context.Context, id string) error {
	return markNotificationRead(ctx, v.q, id)
}

func (v *txView) InsertIssue(ctx context.Context, i ledger.Issue) error {
	return insertIssue(ctx, v.q, i)
}
func (v *txView) UpdateIssueStatus(ctx context.Context, id string, status ledger.Status) error {
	return updateIssueStatus(ctx, v.q, id, status)
}
func (v *txView) GetIssue(ctx context.Context, id string) (*ledger.Issue, error) {
	return getIssue(ctx, v.q, id)
}
func (v *txView) IssuesByTransaction(ctx context.Context, id ledger.TransactionID) ([]ledger.Issue, error) {
	return issuesByTransaction(ctx, v.q, id)
}
