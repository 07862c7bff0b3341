/*
engine.go - The transaction engine

PURPOSE:
  Engine owns every mutation of wallet state. It validates a transfer,
  applies it under per-wallet mutual exclusion, and persists the wallets,
  the transaction record, and the notifications as one atomic unit.

CONCURRENCY:
  Each wallet has a dedicated mutex, created lazily in a map guarded by
  its own mutex. Operations lock every wallet they touch in wallet-ID
  order, so two concurrent transfers over the same pair cannot deadlock
  and two transfers from the same sender cannot both pass the balance
  check. Locking is the primary correctness mechanism; the post-apply
  negative-balance check is a compensating safety net that should never
  fire and is logged as a near-miss when it does.

OUTCOMES vs ERRORS:
  Validation failures (non-positive amount, self transfer) return errors
  and mutate nothing except a failure notification to the sender.
  Insufficient funds and a pending-cap overflow are NOT errors: they
  produce a persisted transaction with status FAILED and notify the
  sender only.

SEE ALSO:
  - clearance.go: bulk settlement built on applyTransfer
  - issue.go: dispute resolution
  - events.go: post-commit event publishing
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DefaultPendingLimit caps a wallet's accumulated pending dues unless the
// engine is configured otherwise.
var DefaultPendingLimit = decimal.NewFromInt(100000)

// =============================================================================
// ENGINE
// =============================================================================

type Engine struct {
	store        TxStore
	events       EventPublisher
	pendingLimit decimal.Decimal

	locks   map[WalletID]*sync.Mutex
	locksMu sync.Mutex
}

type Option func(*Engine)

// WithPendingLimit overrides the global cap on a wallet's pending dues.
func WithPendingLimit(limit decimal.Decimal) Option {
	return func(e *Engine) { e.pendingLimit = limit }
}

// WithPublisher attaches an event publisher. Events are published after
// the store transaction commits, never inside it.
func WithPublisher(p EventPublisher) Option {
	return func(e *Engine) { e.events = p }
}

func New(store TxStore, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		pendingLimit: DefaultPendingLimit,
		locks:        make(map[WalletID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PendingLimit returns the configured cap on accumulated pending dues.
func (e *Engine) PendingLimit() decimal.Decimal { return e.pendingLimit }

// =============================================================================
// PER-WALLET LOCKING
// =============================================================================

func (e *Engine) walletLock(id WalletID) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()

	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	return mu
}

// lockWallets acquires the mutexes for the given wallets in ID order and
// returns a function releasing them in reverse. Duplicates are collapsed.
func (e *Engine) lockWallets(ids ...WalletID) func() {
	seen := make(map[WalletID]bool, len(ids))
	unique := make([]WalletID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	locked := make([]*sync.Mutex, 0, len(unique))
	for _, id := range unique {
		mu := e.walletLock(id)
		mu.Lock()
		locked = append(locked, mu)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

// =============================================================================
// TRANSFER
// =============================================================================

// Transfer moves amount from the sender's wallet to the receiver's.
//
// In IMMEDIATE mode the sender is debited and the receiver credited now;
// insufficient funds yield a FAILED transaction with no balance change.
// In PENDING mode the amount accrues on the sender's pending counter,
// bounded by the pending limit; overflow yields a FAILED transaction.
//
// Validation failures (ErrInvalidAmount, ErrSelfTransfer) notify the
// sender and create no transaction.
func (e *Engine) Transfer(ctx context.Context, senderID, receiverID UserID, amount decimal.Decimal, mode Mode) (*Transaction, error) {
	senderUser, senderWallet, err := e.resolve(ctx, senderID)
	if err != nil {
		return nil, err
	}
	receiverUser, receiverWallet, err := e.resolve(ctx, receiverID)
	if err != nil {
		return nil, err
	}

	// Fail fast, before any wallet mutation.
	if !amount.IsPositive() {
		e.notifyFailure(ctx, senderUser.ID, "amount must be greater than zero")
		return nil, ErrInvalidAmount
	}
	if senderWallet.ID == receiverWallet.ID {
		e.notifyFailure(ctx, senderUser.ID, "sender and receiver identical")
		return nil, ErrSelfTransfer
	}

	unlock := e.lockWallets(senderWallet.ID, receiverWallet.ID)
	defer unlock()

	var tx *Transaction
	err = e.store.WithTx(ctx, func(s Store) error {
		// Re-read under the locks: the pre-lock snapshot may be stale.
		sw, err := s.GetWallet(ctx, senderWallet.ID)
		if err != nil {
			return err
		}
		rw, err := s.GetWallet(ctx, receiverWallet.ID)
		if err != nil {
			return err
		}

		tx, err = e.applyTransfer(ctx, s, sw, rw, senderUser, receiverUser, amount, mode)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.publishCompleted(tx, senderUser, receiverUser)
	return tx, nil
}

// applyTransfer performs the transfer against already-locked wallets
// inside an open store transaction. It mutates the wallet structs,
// persists both wallets, the transaction and its notifications, and
// returns the transaction with its final status.
func (e *Engine) applyTransfer(ctx context.Context, s Store, sender, receiver *Wallet, senderUser, receiverUser *User, amount decimal.Decimal, mode Mode) (*Transaction, error) {
	now := time.Now().UTC()
	tx := Transaction{
		Sender:    sender.ID,
		Receiver:  receiver.ID,
		Amount:    amount,
		CreatedAt: now,
	}
	var notes []Notification

	switch mode {
	case ModePending:
		if sender.Pending.Add(amount).GreaterThan(e.pendingLimit) {
			tx.Status = StatusFailed
			notes = append(notes, newNotification(senderUser.ID, "Transaction failed.",
				fmt.Sprintf("Pending limit of %s would be exceeded.", e.pendingLimit), now))
		} else {
			sender.Pending = sender.Pending.Add(amount)
			tx.Status = StatusPending
			notes = append(notes,
				newNotification(senderUser.ID, "Transaction pending.",
					fmt.Sprintf("%s to %s recorded as pending dues.", amount, receiverUser.Username), now),
				newNotification(receiverUser.ID, "Transaction pending.",
					fmt.Sprintf("%s from %s recorded as pending dues.", amount, senderUser.Username), now))
		}

	default: // ModeImmediate
		if sender.Balance.LessThan(amount) {
			tx.Status = StatusFailed
			notes = append(notes, newNotification(senderUser.ID, "Transaction failed.",
				"Insufficient funds.", now))
		} else {
			sender.Balance = sender.Balance.Sub(amount)
			receiver.Balance = receiver.Balance.Add(amount)
			tx.Status = StatusSuccess
			notes = append(notes,
				newNotification(senderUser.ID, "Transaction success.",
					fmt.Sprintf("%s sent to %s.", amount, receiverUser.Username), now),
				newNotification(receiverUser.ID, "Transaction success.",
					fmt.Sprintf("%s received from %s.", amount, senderUser.Username), now))
		}
	}

	if err := s.UpdateWallet(ctx, *sender); err != nil {
		return nil, err
	}
	if err := s.UpdateWallet(ctx, *receiver); err != nil {
		return nil, err
	}

	// Safety net: with correct locking this cannot fire. If it does, a
	// concurrent double-apply slipped through; reverse and record FAILED.
	if sender.Balance.IsNegative() {
		log.Printf("ledger: near-miss, wallet %s negative after transfer; reversing", sender.ID)
		sender.Balance = sender.Balance.Add(amount)
		receiver.Balance = receiver.Balance.Sub(amount)
		tx.Status = StatusFailed
		if err := s.UpdateWallet(ctx, *sender); err != nil {
			return nil, err
		}
		if err := s.UpdateWallet(ctx, *receiver); err != nil {
			return nil, err
		}
	}

	if err := insertTransactionRetry(ctx, s, &tx); err != nil {
		return nil, err
	}
	for _, n := range notes {
		if err := s.AppendNotification(ctx, n); err != nil {
			return nil, err
		}
	}
	return &tx, nil
}

// insertTransactionRetry assigns fresh random IDs until the insert
// stops colliding (see id.go).
func insertTransactionRetry(ctx context.Context, s Store, tx *Transaction) error {
	var err error
	for i := 0; i < idRetries; i++ {
		tx.ID = newTransactionID()
		if err = s.InsertTransaction(ctx, *tx); !errors.Is(err, ErrDuplicateID) {
			return err
		}
	}
	return err
}

// =============================================================================
// USER AND WALLET LIFECYCLE
// =============================================================================

// RegisterUser creates a user, its wallet, and a welcome notification.
// Role defaults to customer.
func (e *Engine) RegisterUser(ctx context.Context, username, email, phone string, role Role) (*User, error) {
	if role == "" {
		role = RoleCustomer
	}
	if existing, err := e.store.GetUserByUsername(ctx, username); err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	} else if existing != nil {
		return nil, ErrDuplicateUsername
	}

	now := time.Now().UTC()
	user := User{
		Username:  username,
		Email:     email,
		Phone:     phone,
		Role:      role,
		CreatedAt: now,
	}

	err := e.store.WithTx(ctx, func(s Store) error {
		var err error
		for i := 0; i < idRetries; i++ {
			user.ID = newUserID()
			if err = s.InsertUser(ctx, user); !errors.Is(err, ErrDuplicateID) {
				break
			}
		}
		if err != nil {
			return err
		}

		if err := insertWalletRetry(ctx, s, user.ID); err != nil {
			return err
		}

		return s.AppendNotification(ctx, newNotification(user.ID, "Welcome!",
			fmt.Sprintf("Hello %s %s, welcome to CampusPay!", user.Role, user.Username), now))
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateWallet ensures the user has a wallet. Idempotent: if one already
// exists it is returned unchanged.
func (e *Engine) CreateWallet(ctx context.Context, userID UserID) (*Wallet, error) {
	w, err := e.store.GetWalletByUser(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ErrWalletNotFound) {
		return nil, err
	}
	if _, err := e.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	err = e.store.WithTx(ctx, func(s Store) error {
		return insertWalletRetry(ctx, s, userID)
	})
	if err != nil {
		return nil, err
	}
	return e.store.GetWalletByUser(ctx, userID)
}

func insertWalletRetry(ctx context.Context, s Store, userID UserID) error {
	w := Wallet{UserID: userID, Balance: decimal.Zero, Pending: decimal.Zero}
	var err error
	for i := 0; i < idRetries; i++ {
		w.ID = newWalletID()
		if err = s.InsertWallet(ctx, w); !errors.Is(err, ErrDuplicateID) {
			return err
		}
	}
	return err
}

// AddBalance credits the wallet directly, with no counterpart debit.
// This is the top-up path; only non-negative amounts are accepted.
func (e *Engine) AddBalance(ctx context.Context, userID UserID, amount decimal.Decimal) (*Wallet, error) {
	if amount.IsNegative() {
		return nil, ErrInvalidAmount
	}
	user, wallet, err := e.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return wallet, nil
	}

	unlock := e.lockWallets(wallet.ID)
	defer unlock()

	var updated *Wallet
	err = e.store.WithTx(ctx, func(s Store) error {
		w, err := s.GetWallet(ctx, wallet.ID)
		if err != nil {
			return err
		}
		w.Balance = w.Balance.Add(amount)
		if err := s.UpdateWallet(ctx, *w); err != nil {
			return err
		}
		updated = w
		return s.AppendNotification(ctx, newNotification(user.ID, "Balance added.",
			fmt.Sprintf("%s added to your wallet.", amount), time.Now().UTC()))
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// PendingDuesByPayee aggregates what the payer still owes, per payee.
func (e *Engine) PendingDuesByPayee(ctx context.Context, payerID UserID) ([]Due, error) {
	_, wallet, err := e.resolve(ctx, payerID)
	if err != nil {
		return nil, err
	}
	txs, err := e.store.PendingBySender(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	return e.aggregateDues(ctx, txs, func(tx Transaction) WalletID { return tx.Receiver })
}

// PendingDuesByPayer aggregates what each payer still owes the vendor.
func (e *Engine) PendingDuesByPayer(ctx context.Context, vendorID UserID) ([]Due, error) {
	_, wallet, err := e.resolve(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	txs, err := e.store.PendingByReceiver(ctx, wallet.ID)
	if err != nil {
		return nil, err
	}
	return e.aggregateDues(ctx, txs, func(tx Transaction) WalletID { return tx.Sender })
}

// History returns transactions where the user's wallet is sender or
// receiver, newest first.
func (e *Engine) History(ctx context.Context, userID UserID) ([]Transaction, error) {
	_, wallet, err := e.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return e.store.TransactionsByWallet(ctx, wallet.ID)
}

func (e *Engine) aggregateDues(ctx context.Context, txs []Transaction, counterparty func(Transaction) WalletID) ([]Due, error) {
	totals := make(map[WalletID]decimal.Decimal)
	for _, tx := range txs {
		id := counterparty(tx)
		totals[id] = totals[id].Add(tx.Amount)
	}

	ids := make([]WalletID, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	dues := make([]Due, 0, len(ids))
	for _, id := range ids {
		w, err := e.store.GetWallet(ctx, id)
		if err != nil {
			return nil, err
		}
		u, err := e.store.GetUser(ctx, w.UserID)
		if err != nil {
			return nil, err
		}
		dues = append(dues, Due{
			Counterparty: u.ID,
			Username:     u.Username,
			Wallet:       id,
			Amount:       totals[id],
		})
	}
	return dues, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// resolve loads a user and their wallet.
func (e *Engine) resolve(ctx context.Context, userID UserID) (*User, *Wallet, error) {
	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	wallet, err := e.store.GetWalletByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return user, wallet, nil
}

func newNotification(userID UserID, subject, body string, at time.Time) Notification {
	return Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Subject:   subject,
		Body:      body,
		CreatedAt: at,
	}
}

// notifyFailure records a validation-failure notification. Best-effort:
// the validation error itself is what the caller acts on.
func (e *Engine) notifyFailure(ctx context.Context, userID UserID, reason string) {
	n := newNotification(userID, "Transaction failed.", "Transaction failed: "+reason+".", time.Now().UTC())
	if err := e.store.AppendNotification(ctx, n); err != nil {
		log.Printf("ledger: failed to append notification: %v", err)
	}
}
