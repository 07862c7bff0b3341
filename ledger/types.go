/*
Package ledger implements the campus payment ledger engine.

PURPOSE:
  This package contains the domain types and the transaction engine for a
  campus payment system: users hold wallets, transfer funds to each other,
  accrue deferred "pending" dues up to a global cap, clear those dues in
  bulk, and dispute individual transactions.

KEY CONCEPTS IN THIS FILE (types.go):
  - Wallet: per-user balance + pending-due counter
  - Transaction: immutable transfer record with a rewritable status
  - Notification: append-only message to one user
  - Issue: a dispute tied to exactly one transaction

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for all money, never float
  2. Immutability: a transaction's body (sender/receiver/amount) is never
     mutated after creation; only its status moves
  3. Type safety: distinct ID types for users, wallets, transactions
  4. Fail clean: every operation either fully commits or changes nothing

SEE ALSO:
  - engine.go: transfer engine and wallet operations
  - clearance.go: bulk settlement of pending dues
  - issue.go: dispute raising and resolution
  - store.go: persistence interfaces
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type WalletID string
type TransactionID string

// =============================================================================
// USER - Single entity with a role tag (no subtype hierarchy)
// =============================================================================

type Role string

const (
	RoleCustomer Role = "customer"
	RoleVendor   Role = "vendor"
)

type User struct {
	ID        UserID
	Username  string
	Email     string
	Phone     string
	Role      Role
	CreatedAt time.Time
}

// IsVendor reports whether the user can be owed pending dues as a payee
// in vendor-facing queries. Capability checks live here, not in subtypes.
func (u User) IsVendor() bool { return u.Role == RoleVendor }

// =============================================================================
// WALLET - Mutable balance + pending-due counter, owned 1:1 by a user
// =============================================================================

// Wallet holds a user's spendable balance and the running total of
// deferred (pending) dues. Balance can transiently go negative mid-
// operation but never after a completed one. Pending is bounded by the
// engine's pending limit.
type Wallet struct {
	ID      WalletID
	UserID  UserID
	Balance decimal.Decimal
	Pending decimal.Decimal
}

// =============================================================================
// TRANSACTION - One transfer attempt, successful or not
// =============================================================================

// Status is the lifecycle state of a transaction.
//
// State machine:
//
//	created:          SUCCESS | FAILED | PENDING
//	clearance:        PENDING -> CLEARED
//	dispute:          {SUCCESS, FAILED, PENDING} -> IN_REVIEW -> {SUCCESS, PENDING, FAILED}
//
// IN_REVIEW is never a stable state: it exists only between raising an
// issue and resolving it.
type Status string

const (
	StatusSuccess  Status = "SUCCESS"
	StatusFailed   Status = "FAILED"
	StatusPending  Status = "PENDING"
	StatusInReview Status = "IN_REVIEW"
	StatusCleared  Status = "CLEARED"
)

// Mode selects how a transfer moves money.
type Mode string

const (
	// ModeImmediate debits the sender and credits the receiver now.
	ModeImmediate Mode = "IMMEDIATE"
	// ModePending records a deferred due against the sender's pending
	// counter; no balance moves until clearance.
	ModePending Mode = "PENDING"
)

// Transaction records one transfer attempt between two wallets. The body
// is immutable after creation; only Status is ever rewritten (by the
// clearance engine or the issue resolver).
type Transaction struct {
	ID        TransactionID
	Sender    WalletID
	Receiver  WalletID
	Amount    decimal.Decimal
	Status    Status
	CreatedAt time.Time
}

// =============================================================================
// NOTIFICATION - Append-only event record addressed to one user
// =============================================================================

type Notification struct {
	ID        string // uuid
	UserID    UserID
	Subject   string
	Body      string
	Read      bool
	CreatedAt time.Time
}

// =============================================================================
// ISSUE - A dispute over one transaction's outcome
// =============================================================================

// Issue is raised by the sender or receiver of a transaction. Resolving
// it is a one-shot transition that also mutates the linked transaction
// (and, for FAILED outcomes, the sender's pending counter).
type Issue struct {
	ID             string // uuid
	TransactionID  TransactionID
	RaisedBy       UserID
	Subject        string
	Content        string
	ResolvedStatus Status // IN_REVIEW while open
	CreatedAt      time.Time
}

// Open reports whether the issue still awaits resolution.
func (i Issue) Open() bool { return i.ResolvedStatus == StatusInReview }

// =============================================================================
// DUE SUMMARY - Aggregated pending dues for the outward queries
// =============================================================================

// Due is one line of a pending-dues summary: how much one counterparty
// is owed (or owes), aggregated over PENDING transactions.
type Due struct {
	Counterparty UserID
	Username     string
	Wallet       WalletID
	Amount       decimal.Decimal
}
