/*
clearance.go - Bulk settlement of pending dues

PURPOSE:
  Converts a payer's accumulated PENDING transactions into real balance
  movement. Two phases inside one atomic unit: flip every gathered
  transaction to CLEARED, then synthesize one IMMEDIATE settlement
  transfer per distinct payee for that payee's aggregate.

WHY TWO PHASES:
  The original pending transactions are a record of deferred obligation,
  not live balance movement (pending amounts live on wallet.Pending, not
  wallet.Balance). The settlement transfer is where money actually moves,
  keeping balance accounting and pending-cap accounting orthogonal.

ALL-OR-NOTHING:
  Solvency is checked against the grand total before any write. Either
  every gathered transaction is cleared and every settlement created, or
  nothing changes.

CONCURRENCY:
  The pending set is snapshotted, then the payer and every payee wallet
  are locked in ID order and the set is re-read. A transfer from the
  payer cannot run while the payer's lock is held, so the re-read set is
  stable; if the re-read grew the payee set beyond the locked wallets,
  the locks are released and the gather retried (bounded).
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// clearRetries bounds the gather-lock-regather loop.
const clearRetries = 3

// ClearanceResult reports the outcome of a clearance run.
type ClearanceResult struct {
	Cleared bool
	// Reason is set when Cleared is false.
	Reason string
	// Total is the grand total of dues settled (or required, on failure).
	Total decimal.Decimal
	// Settlements holds the synthesized transfer per distinct payee.
	Settlements []Transaction
}

// ClearAll settles every PENDING transaction the payer has outstanding.
func (e *Engine) ClearAll(ctx context.Context, payerID UserID) (*ClearanceResult, error) {
	return e.clear(ctx, payerID, nil)
}

// ClearOne settles the payer's PENDING transactions towards one payee.
func (e *Engine) ClearOne(ctx context.Context, payerID, payeeID UserID) (*ClearanceResult, error) {
	_, payeeWallet, err := e.resolve(ctx, payeeID)
	if err != nil {
		return nil, err
	}
	return e.clear(ctx, payerID, &payeeWallet.ID)
}

func (e *Engine) clear(ctx context.Context, payerID UserID, only *WalletID) (*ClearanceResult, error) {
	payerUser, payerWallet, err := e.resolve(ctx, payerID)
	if err != nil {
		return nil, err
	}

	pending, unlock, err := e.gatherLocked(ctx, payerWallet.ID, only)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if len(pending) == 0 {
		return &ClearanceResult{Cleared: false, Reason: "no pending dues", Total: decimal.Zero}, nil
	}

	// Re-read under the locks; the pre-lock balance may be stale.
	payerWallet, err = e.store.GetWallet(ctx, payerWallet.ID)
	if err != nil {
		return nil, err
	}

	// Aggregate per payee and in total.
	perPayee := make(map[WalletID]decimal.Decimal)
	total := decimal.Zero
	for _, tx := range pending {
		perPayee[tx.Receiver] = perPayee[tx.Receiver].Add(tx.Amount)
		total = total.Add(tx.Amount)
	}

	if payerWallet.Balance.LessThan(total) {
		ib := &InsufficientBalanceError{Payer: payerID, Available: payerWallet.Balance, Required: total}
		return &ClearanceResult{Cleared: false, Reason: ib.Error(), Total: total}, nil
	}

	payees := make([]WalletID, 0, len(perPayee))
	for id := range perPayee {
		payees = append(payees, id)
	}
	sort.Slice(payees, func(i, j int) bool { return payees[i] < payees[j] })

	result := &ClearanceResult{Cleared: true, Total: total}
	type published struct {
		tx               *Transaction
		sender, receiver *User
	}
	var toPublish []published

	err = e.store.WithTx(ctx, func(s Store) error {
		payer, err := s.GetWallet(ctx, payerWallet.ID)
		if err != nil {
			return err
		}

		// Phase one: flip the gathered obligations to CLEARED and release
		// the pending counter they were holding.
		for _, tx := range pending {
			if err := s.UpdateTransactionStatus(ctx, tx.ID, StatusCleared); err != nil {
				return err
			}
		}
		payer.Pending = payer.Pending.Sub(total)
		if err := s.UpdateWallet(ctx, *payer); err != nil {
			return err
		}

		// Phase two: one settlement transfer per distinct payee.
		for _, payeeWalletID := range payees {
			payee, err := s.GetWallet(ctx, payeeWalletID)
			if err != nil {
				return err
			}
			payeeUser, err := s.GetUser(ctx, payee.UserID)
			if err != nil {
				return err
			}

			settlement, err := e.applyTransfer(ctx, s, payer, payee, payerUser, payeeUser, perPayee[payeeWalletID], ModeImmediate)
			if err != nil {
				return err
			}
			if settlement.Status != StatusSuccess {
				// Solvency was verified under the locks; anything else
				// means the invariant broke. Abort the whole run.
				return fmt.Errorf("settlement to wallet %s unexpectedly %s: %w",
					payeeWalletID, settlement.Status, ErrConcurrentModification)
			}
			result.Settlements = append(result.Settlements, *settlement)
			toPublish = append(toPublish, published{tx: settlement, sender: payerUser, receiver: payeeUser})
		}

		return s.AppendNotification(ctx, newNotification(payerUser.ID, "Dues cleared.",
			fmt.Sprintf("Pending dues of %s cleared across %d payee(s).", total, len(payees)),
			time.Now().UTC()))
	})
	if err != nil {
		return nil, err
	}

	for _, p := range toPublish {
		e.publishCompleted(p.tx, p.sender, p.receiver)
	}
	return result, nil
}

// gatherLocked snapshots the payer's pending set, locks the payer plus
// every payee in the snapshot, and re-reads. The returned set is stable
// for as long as the locks are held.
func (e *Engine) gatherLocked(ctx context.Context, payer WalletID, only *WalletID) ([]Transaction, func(), error) {
	for attempt := 0; attempt < clearRetries; attempt++ {
		pending, err := e.pendingTowards(ctx, payer, only)
		if err != nil {
			return nil, nil, err
		}

		ids := []WalletID{payer}
		locked := map[WalletID]bool{payer: true}
		for _, tx := range pending {
			if !locked[tx.Receiver] {
				locked[tx.Receiver] = true
				ids = append(ids, tx.Receiver)
			}
		}
		unlock := e.lockWallets(ids...)

		pending, err = e.pendingTowards(ctx, payer, only)
		if err != nil {
			unlock()
			return nil, nil, err
		}

		stable := true
		for _, tx := range pending {
			if !locked[tx.Receiver] {
				stable = false
				break
			}
		}
		if stable {
			return pending, unlock, nil
		}
		unlock()
	}
	return nil, nil, ErrConcurrentModification
}

func (e *Engine) pendingTowards(ctx context.Context, payer WalletID, only *WalletID) ([]Transaction, error) {
	pending, err := e.store.PendingBySender(ctx, payer)
	if err != nil {
		return nil, err
	}
	if only == nil {
		return pending, nil
	}
	filtered := pending[:0]
	for _, tx := range pending {
		if tx.Receiver == *only {
			filtered = append(filtered, tx)
		}
	}
	return filtered, nil
}
