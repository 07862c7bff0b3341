/*
issue.go - Dispute raising and resolution

STATE MACHINE:
  {SUCCESS, FAILED, PENDING} -> IN_REVIEW -> {SUCCESS, PENDING, FAILED}

  Raising an issue forces the transaction to IN_REVIEW. A resolution
  supplied at raise time is applied immediately; otherwise the issue
  stays open and ResolveIssue supplies the one-shot exit. IN_REVIEW is
  never a stable state.

WALLET EFFECTS:
  Resolving to SUCCESS or PENDING touches no wallet: the funds already
  moved, or the debt is already tracked on the pending counter.
  Resolving to FAILED rolls the sender's pending counter back by the
  transaction amount, compensating a debt that will never be paid.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// validOutcome reports whether s is a status a dispute may resolve to.
func validOutcome(s Status) bool {
	return s == StatusSuccess || s == StatusPending || s == StatusFailed
}

// RaiseIssue opens a dispute over a transaction. Only the transaction's
// sender or receiver may raise it. If resolved names an outcome it is
// applied immediately; an empty (or IN_REVIEW) value leaves the issue
// open and the transaction in review.
func (e *Engine) RaiseIssue(ctx context.Context, raiserID UserID, txID TransactionID, subject, content string, resolved Status) (*Issue, error) {
	if txID == "" {
		return nil, ErrMissingTransaction
	}
	if resolved == "" {
		resolved = StatusInReview
	}
	if resolved != StatusInReview && !validOutcome(resolved) {
		return nil, ErrInvalidStatus
	}

	tx, err := e.store.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	senderUser, receiverUser, err := e.parties(ctx, tx)
	if err != nil {
		return nil, err
	}
	if raiserID != senderUser.ID && raiserID != receiverUser.ID {
		return nil, ErrUnauthorized
	}

	now := time.Now().UTC()
	issue := Issue{
		ID:             uuid.New().String(),
		TransactionID:  tx.ID,
		RaisedBy:       raiserID,
		Subject:        subject,
		Content:        content,
		ResolvedStatus: resolved,
		CreatedAt:      now,
	}

	unlock := e.lockWallets(tx.Sender, tx.Receiver)
	defer unlock()

	err = e.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateTransactionStatus(ctx, tx.ID, StatusInReview); err != nil {
			return err
		}
		if err := s.InsertIssue(ctx, issue); err != nil {
			return err
		}

		// Raised-issue notice to both parties.
		for _, u := range []*User{senderUser, receiverUser} {
			n := newNotification(u.ID, "Issue raised.",
				fmt.Sprintf("Transaction %s is under review: %s", tx.ID, subject), now)
			if err := s.AppendNotification(ctx, n); err != nil {
				return err
			}
		}

		if resolved == StatusInReview {
			return nil
		}
		return e.applyResolution(ctx, s, tx, senderUser, receiverUser, resolved, now)
	})
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// ResolveIssue closes an open issue with the given outcome, applying the
// corresponding transaction and wallet effects. Resolution is one-shot.
func (e *Engine) ResolveIssue(ctx context.Context, issueID string, outcome Status) (*Issue, error) {
	if !validOutcome(outcome) {
		return nil, ErrInvalidStatus
	}
	issue, err := e.store.GetIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !issue.Open() {
		return nil, ErrIssueClosed
	}
	tx, err := e.store.GetTransaction(ctx, issue.TransactionID)
	if err != nil {
		return nil, err
	}
	senderUser, receiverUser, err := e.parties(ctx, tx)
	if err != nil {
		return nil, err
	}

	unlock := e.lockWallets(tx.Sender, tx.Receiver)
	defer unlock()

	now := time.Now().UTC()
	err = e.store.WithTx(ctx, func(s Store) error {
		if err := s.UpdateIssueStatus(ctx, issue.ID, outcome); err != nil {
			return err
		}
		return e.applyResolution(ctx, s, tx, senderUser, receiverUser, outcome, now)
	})
	if err != nil {
		return nil, err
	}
	issue.ResolvedStatus = outcome
	return issue, nil
}

// applyResolution rewrites the transaction status and, for FAILED
// outcomes, rolls back the sender's pending counter. Runs inside an open
// store transaction with both wallets locked.
func (e *Engine) applyResolution(ctx context.Context, s Store, tx *Transaction, senderUser, receiverUser *User, outcome Status, now time.Time) error {
	if err := s.UpdateTransactionStatus(ctx, tx.ID, outcome); err != nil {
		return err
	}

	if outcome == StatusFailed {
		sender, err := s.GetWallet(ctx, tx.Sender)
		if err != nil {
			return err
		}
		sender.Pending = sender.Pending.Sub(tx.Amount)
		if err := s.UpdateWallet(ctx, *sender); err != nil {
			return err
		}
	}

	// Status-transition notice to both parties.
	for _, u := range []*User{senderUser, receiverUser} {
		n := newNotification(u.ID, "Issue resolved.",
			fmt.Sprintf("Transaction %s resolved as %s.", tx.ID, outcome), now)
		if err := s.AppendNotification(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// parties loads the users behind a transaction's sender and receiver
// wallets.
func (e *Engine) parties(ctx context.Context, tx *Transaction) (sender, receiver *User, err error) {
	sw, err := e.store.GetWallet(ctx, tx.Sender)
	if err != nil {
		return nil, nil, err
	}
	rw, err := e.store.GetWallet(ctx, tx.Receiver)
	if err != nil {
		return nil, nil, err
	}
	sender, err = e.store.GetUser(ctx, sw.UserID)
	if err != nil {
		return nil, nil, err
	}
	receiver, err = e.store.GetUser(ctx, rw.UserID)
	if err != nil {
		return nil, nil, err
	}
	return sender, receiver, nil
}
