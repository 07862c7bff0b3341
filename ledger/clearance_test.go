package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspay/ledger-engine/ledger"
)

// =============================================================================
// CLEAR ALL
// =============================================================================

func TestClearAll_SettlesPerDistinctPayee(t *testing.T) {
	// GIVEN: Alice owes the canteen 30 (two pending txs) and the library 15
	// WHEN: She clears all dues with a balance of 100
	// THEN: Three txs flip to CLEARED, two settlements are created, one per
	//       payee, and her balance drops by the grand total

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	canteen := registerUser(t, e, "canteen", ledger.RoleVendor)
	library := registerUser(t, e, "library", ledger.RoleVendor)
	fund(t, e, alice.ID, 100)

	var pendingIDs []ledger.TransactionID
	for _, p := range []struct {
		to     ledger.UserID
		amount int64
	}{{canteen.ID, 10}, {canteen.ID, 20}, {library.ID, 15}} {
		tx, err := e.Transfer(ctx, alice.ID, p.to, dec(p.amount), ledger.ModePending)
		require.NoError(t, err)
		require.Equal(t, ledger.StatusPending, tx.Status)
		pendingIDs = append(pendingIDs, tx.ID)
	}

	result, err := e.ClearAll(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, result.Cleared)
	assert.True(t, result.Total.Equal(dec(45)))
	require.Len(t, result.Settlements, 2, "one settlement per distinct payee")
	for _, s := range result.Settlements {
		assert.Equal(t, ledger.StatusSuccess, s.Status)
	}

	for _, id := range pendingIDs {
		tx, err := mem.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCleared, tx.Status)
	}

	aw := walletOf(t, e, mem, alice.ID)
	assert.True(t, aw.Balance.Equal(dec(55)))
	assert.True(t, aw.Pending.IsZero(), "pending counter must be released")
	assert.True(t, walletOf(t, e, mem, canteen.ID).Balance.Equal(dec(30)))
	assert.True(t, walletOf(t, e, mem, library.ID).Balance.Equal(dec(15)))
}

func TestClearAll_InsufficientBalance_NothingChanges(t *testing.T) {
	// GIVEN: Alice owes 45 but holds only 40
	// WHEN: She clears all dues
	// THEN: Not cleared, no error, and absolutely nothing mutates

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	canteen := registerUser(t, e, "canteen", ledger.RoleVendor)
	library := registerUser(t, e, "library", ledger.RoleVendor)
	fund(t, e, alice.ID, 40)

	tx1, err := e.Transfer(ctx, alice.ID, canteen.ID, dec(30), ledger.ModePending)
	require.NoError(t, err)
	tx2, err := e.Transfer(ctx, alice.ID, library.ID, dec(15), ledger.ModePending)
	require.NoError(t, err)

	result, err := e.ClearAll(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, result.Cleared)
	assert.Contains(t, result.Reason, "insufficient balance")
	assert.True(t, result.Total.Equal(dec(45)))
	assert.Empty(t, result.Settlements)

	// All-or-nothing: both txs still PENDING, wallet untouched.
	for _, id := range []ledger.TransactionID{tx1.ID, tx2.ID} {
		tx, err := mem.GetTransaction(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusPending, tx.Status)
	}
	aw := walletOf(t, e, mem, alice.ID)
	assert.True(t, aw.Balance.Equal(dec(40)))
	assert.True(t, aw.Pending.Equal(dec(45)))
}

func TestClearAll_NoPendingDues(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)

	result, err := e.ClearAll(ctx, alice.ID)
	require.NoError(t, err)
	assert.False(t, result.Cleared)
	assert.Equal(t, "no pending dues", result.Reason)
	assert.True(t, result.Total.IsZero())
}

func TestClearAll_ExactBalance(t *testing.T) {
	// GIVEN: Alice's balance equals her dues to the cent
	// WHEN: She clears
	// THEN: Cleared, and she ends at exactly zero

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	canteen := registerUser(t, e, "canteen", ledger.RoleVendor)
	fund(t, e, alice.ID, 45)

	_, err := e.Transfer(ctx, alice.ID, canteen.ID, dec(45), ledger.ModePending)
	require.NoError(t, err)

	result, err := e.ClearAll(ctx, alice.ID)
	require.NoError(t, err)
	assert.True(t, result.Cleared)
	assert.True(t, walletOf(t, e, mem, alice.ID).Balance.IsZero())
}

// =============================================================================
// CLEAR ONE
// =============================================================================

func TestClearOne_LeavesOtherPayeesAlone(t *testing.T) {
	// GIVEN: Alice owes the canteen 30 and the library 15
	// WHEN: She clears only the canteen
	// THEN: The canteen is paid, the library's dues stay pending

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	canteen := registerUser(t, e, "canteen", ledger.RoleVendor)
	library := registerUser(t, e, "library", ledger.RoleVendor)
	fund(t, e, alice.ID, 100)

	_, err := e.Transfer(ctx, alice.ID, canteen.ID, dec(30), ledger.ModePending)
	require.NoError(t, err)
	libTx, err := e.Transfer(ctx, alice.ID, library.ID, dec(15), ledger.ModePending)
	require.NoError(t, err)

	result, err := e.ClearOne(ctx, alice.ID, canteen.ID)
	require.NoError(t, err)
	assert.True(t, result.Cleared)
	assert.True(t, result.Total.Equal(dec(30)))
	require.Len(t, result.Settlements, 1)

	aw := walletOf(t, e, mem, alice.ID)
	assert.True(t, aw.Balance.Equal(dec(70)))
	assert.True(t, aw.Pending.Equal(dec(15)), "library dues must survive")

	tx, err := mem.GetTransaction(ctx, libTx.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tx.Status)
	assert.True(t, walletOf(t, e, mem, library.ID).Balance.IsZero())
}

func TestClearOne_SolventForPayeeButNotForAll(t *testing.T) {
	// GIVEN: Alice holds 30, owes the canteen 30 and the library 15
	// WHEN: She clears only the canteen
	// THEN: That clears fine; total solvency is not required

	e, _ := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	canteen := registerUser(t, e, "canteen", ledger.RoleVendor)
	library := registerUser(t, e, "library", ledger.RoleVendor)
	fund(t, e, alice.ID, 30)

	_, err := e.Transfer(ctx, alice.ID, canteen.ID, dec(30), ledger.ModePending)
	require.NoError(t, err)
	_, err = e.Transfer(ctx, alice.ID, library.ID, dec(15), ledger.ModePending)
	require.NoError(t, err)

	result, err := e.ClearOne(ctx, alice.ID, canteen.ID)
	require.NoError(t, err)
	assert.True(t, result.Cleared)
}

func TestClearOne_UnknownPayee(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)

	_, err := e.ClearOne(ctx, alice.ID, "NOSUCHID")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestClearAll_NotifiesPayer(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	canteen := registerUser(t, e, "canteen", ledger.RoleVendor)
	fund(t, e, alice.ID, 50)

	_, err := e.Transfer(ctx, alice.ID, canteen.ID, dec(20), ledger.ModePending)
	require.NoError(t, err)

	_, err = e.ClearAll(ctx, alice.ID)
	require.NoError(t, err)

	notes, err := mem.NotificationsByUser(ctx, alice.ID)
	require.NoError(t, err)
	subjects := make([]string, len(notes))
	for i, n := range notes {
		subjects[i] = n.Subject
	}
	assert.Contains(t, subjects, "Dues cleared.")
}
