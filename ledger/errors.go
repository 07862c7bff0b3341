/*
errors.go - Centralized error types for the ledger engine

ERROR CATEGORIES:
  1. Validation errors - rejected before any mutation (InvalidAmount,
     SelfTransfer, MissingTransaction, Unauthorized, NegativeAmount)
  2. Not-found errors - missing users, wallets, transactions, issues
  3. Settlement precondition failures - InsufficientBalance during
     clearance, reported with zero mutation performed

NOTE:
  Insufficient funds and pending-cap overflow on a transfer are NOT
  errors. They are terminal FAILED statuses recorded on the transaction
  itself; the caller receives a created-but-failed transaction.

USAGE:
  if errors.Is(err, ledger.ErrUnauthorized) { ... }

  var ib *ledger.InsufficientBalanceError
  if errors.As(err, &ib) { ... ib.Shortfall ... }
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a transfer amount is not positive,
	// or when a top-up amount is negative. No state is mutated.
	ErrInvalidAmount = errors.New("amount must be greater than zero")

	// ErrSelfTransfer is returned when sender and receiver are the same
	// wallet. No state is mutated.
	ErrSelfTransfer = errors.New("sender and receiver cannot be the same")

	// ErrMissingTransaction is returned when an issue is raised without a
	// transaction reference.
	ErrMissingTransaction = errors.New("transaction reference required")

	// ErrUnauthorized is returned when an issue is raised by a user who is
	// neither the sender nor the receiver of the transaction.
	ErrUnauthorized = errors.New("user is not a party to the transaction")

	// ErrInsufficientBalance is returned when a clearance run would exceed
	// the payer's balance. Nothing is cleared.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrUserNotFound is returned when a referenced user doesn't exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrWalletNotFound is returned when a referenced wallet doesn't exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTransactionNotFound is returned when a referenced transaction
	// doesn't exist.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrIssueNotFound is returned when a referenced issue doesn't exist.
	ErrIssueNotFound = errors.New("issue not found")

	// ErrNotificationNotFound is returned when marking a missing
	// notification as read.
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrIssueClosed is returned when resolving an issue that was already
	// resolved. Resolution is one-shot.
	ErrIssueClosed = errors.New("issue already resolved")

	// ErrDuplicateID is returned by stores on a primary-key collision.
	// Short random codes collide eventually; callers regenerate and retry.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrDuplicateUsername is returned when registering a taken username.
	ErrDuplicateUsername = errors.New("username already in use")

	// ErrInvalidStatus is returned when a dispute resolution names a status
	// outside {SUCCESS, PENDING, FAILED}.
	ErrInvalidStatus = errors.New("invalid resolution status")

	// ErrConcurrentModification is returned when a clearance run cannot
	// stabilize its payee set after bounded retries.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a clearance solvency failure.
type InsufficientBalanceError struct {
	Payer     UserID
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, required %s, shortfall %s",
		e.Available, e.Required, e.Shortfall())
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

func (e *InsufficientBalanceError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrSelfTransfer) ||
		errors.Is(err, ErrMissingTransaction) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrIssueClosed) ||
		errors.Is(err, ErrDuplicateUsername)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrIssueNotFound)
}
