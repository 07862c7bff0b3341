package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/campuspay/ledger-engine/ledger"
	"github.com/campuspay/ledger-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestEngine(t *testing.T, opts ...ledger.Option) (*ledger.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return ledger.New(mem, opts...), mem
}

func registerUser(t *testing.T, e *ledger.Engine, username string, role ledger.Role) *ledger.User {
	t.Helper()
	u, err := e.RegisterUser(context.Background(), username, username+"@campus.edu", "", role)
	require.NoError(t, err)
	return u
}

func fund(t *testing.T, e *ledger.Engine, userID ledger.UserID, amount int64) {
	t.Helper()
	_, err := e.AddBalance(context.Background(), userID, decimal.NewFromInt(amount))
	require.NoError(t, err)
}

func walletOf(t *testing.T, e *ledger.Engine, mem *store.Memory, userID ledger.UserID) *ledger.Wallet {
	t.Helper()
	w, err := mem.GetWalletByUser(context.Background(), userID)
	require.NoError(t, err)
	return w
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// =============================================================================
// REGISTRATION AND WALLETS
// =============================================================================

func TestRegisterUser_CreatesWalletAndWelcome(t *testing.T) {
	// GIVEN: A fresh ledger
	// WHEN: A user registers
	// THEN: They get a user ID, a zeroed wallet, and a welcome notification

	e, mem := newTestEngine(t)
	ctx := context.Background()

	user := registerUser(t, e, "alice", ledger.RoleCustomer)
	assert.Len(t, string(user.ID), 8)
	assert.Equal(t, ledger.RoleCustomer, user.Role)

	w := walletOf(t, e, mem, user.ID)
	assert.True(t, w.Balance.IsZero())
	assert.True(t, w.Pending.IsZero())

	notes, err := mem.NotificationsByUser(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Welcome!", notes[0].Subject)
}

func TestRegisterUser_DuplicateUsername(t *testing.T) {
	// GIVEN: "alice" is already registered
	// WHEN: Another registration uses the same username
	// THEN: ErrDuplicateUsername, and no second user exists

	e, mem := newTestEngine(t)
	ctx := context.Background()

	registerUser(t, e, "alice", ledger.RoleCustomer)

	_, err := e.RegisterUser(ctx, "alice", "other@campus.edu", "", ledger.RoleVendor)
	assert.ErrorIs(t, err, ledger.ErrDuplicateUsername)

	users, err := mem.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestCreateWallet_Idempotent(t *testing.T) {
	// GIVEN: A registered user, whose wallet already exists
	// WHEN: CreateWallet is called again
	// THEN: The same wallet comes back, state untouched

	e, _ := newTestEngine(t)
	ctx := context.Background()

	user := registerUser(t, e, "alice", ledger.RoleCustomer)
	fund(t, e, user.ID, 50)

	w1, err := e.CreateWallet(ctx, user.ID)
	require.NoError(t, err)
	w2, err := e.CreateWallet(ctx, user.ID)
	require.NoError(t, err)

	assert.Equal(t, w1.ID, w2.ID)
	assert.True(t, w2.Balance.Equal(dec(50)))
}

func TestCreateWallet_UnknownUser(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.CreateWallet(context.Background(), "NOSUCHID")
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestAddBalance_RejectsNegative(t *testing.T) {
	// GIVEN: A funded wallet
	// WHEN: A negative top-up is attempted
	// THEN: ErrInvalidAmount and the balance is unchanged

	e, mem := newTestEngine(t)
	user := registerUser(t, e, "alice", ledger.RoleCustomer)
	fund(t, e, user.ID, 30)

	_, err := e.AddBalance(context.Background(), user.ID, dec(-10))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	w := walletOf(t, e, mem, user.ID)
	assert.True(t, w.Balance.Equal(dec(30)))
}

func TestAddBalance_ZeroIsNoop(t *testing.T) {
	e, mem := newTestEngine(t)
	user := registerUser(t, e, "alice", ledger.RoleCustomer)

	w, err := e.AddBalance(context.Background(), user.ID, decimal.Zero)
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())

	// Zero top-up leaves no notification behind.
	notes, err := mem.NotificationsByUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Len(t, notes, 1) // welcome only
}

// =============================================================================
// IMMEDIATE TRANSFERS
// =============================================================================

func TestTransfer_Immediate_MovesBalance(t *testing.T) {
	// GIVEN: Alice has 100, Bob has 0
	// WHEN: Alice sends Bob 40 immediately
	// THEN: SUCCESS, balances 60/40, total conserved, both notified

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)
	fund(t, e, alice.ID, 100)

	tx, err := e.Transfer(ctx, alice.ID, bob.ID, dec(40), ledger.ModeImmediate)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusSuccess, tx.Status)
	assert.Len(t, string(tx.ID), 10)

	aw := walletOf(t, e, mem, alice.ID)
	bw := walletOf(t, e, mem, bob.ID)
	assert.True(t, aw.Balance.Equal(dec(60)))
	assert.True(t, bw.Balance.Equal(dec(40)))
	assert.True(t, aw.Balance.Add(bw.Balance).Equal(dec(100)), "money must be conserved")

	aliceNotes, err := mem.NotificationsByUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Transaction success.", aliceNotes[0].Subject)

	bobNotes, err := mem.NotificationsByUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "Transaction success.", bobNotes[0].Subject)
}

func TestTransfer_Immediate_InsufficientFunds(t *testing.T) {
	// GIVEN: Alice has 100
	// WHEN: She tries to send 100.01
	// THEN: No error, but a FAILED transaction, and no balance moves

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)
	fund(t, e, alice.ID, 100)

	amount, err := decimal.NewFromString("100.01")
	require.NoError(t, err)

	tx, err := e.Transfer(ctx, alice.ID, bob.ID, amount, ledger.ModeImmediate)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)

	assert.True(t, walletOf(t, e, mem, alice.ID).Balance.Equal(dec(100)))
	assert.True(t, walletOf(t, e, mem, bob.ID).Balance.IsZero())

	// Only the sender hears about a failure.
	bobNotes, err := mem.NotificationsByUser(ctx, bob.ID)
	require.NoError(t, err)
	assert.Len(t, bobNotes, 1) // welcome only
}

func TestTransfer_InvalidAmount(t *testing.T) {
	// GIVEN: Two users
	// WHEN: Transferring zero or negative amounts
	// THEN: ErrInvalidAmount, no transaction recorded

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)
	fund(t, e, alice.ID, 100)

	for _, amount := range []decimal.Decimal{decimal.Zero, dec(-5)} {
		_, err := e.Transfer(ctx, alice.ID, bob.ID, amount, ledger.ModeImmediate)
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}

	txs, err := mem.ListTransactions(ctx)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestTransfer_SelfTransfer(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	fund(t, e, alice.ID, 100)

	_, err := e.Transfer(ctx, alice.ID, alice.ID, dec(10), ledger.ModeImmediate)
	assert.ErrorIs(t, err, ledger.ErrSelfTransfer)

	assert.True(t, walletOf(t, e, mem, alice.ID).Balance.Equal(dec(100)))
}

func TestTransfer_UnknownParties(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)

	_, err := e.Transfer(ctx, "NOSUCHID", alice.ID, dec(10), ledger.ModeImmediate)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)

	_, err = e.Transfer(ctx, alice.ID, "NOSUCHID", dec(10), ledger.ModeImmediate)
	assert.ErrorIs(t, err, ledger.ErrUserNotFound)
}

// =============================================================================
// PENDING TRANSFERS AND THE CAP
// =============================================================================

func TestTransfer_Pending_AccruesOnCounter(t *testing.T) {
	// GIVEN: Alice with 100 balance
	// WHEN: She sends 40 in PENDING mode
	// THEN: Status PENDING, balance untouched, pending counter at 40

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)
	fund(t, e, alice.ID, 100)

	tx, err := e.Transfer(ctx, alice.ID, bob.ID, dec(40), ledger.ModePending)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tx.Status)

	aw := walletOf(t, e, mem, alice.ID)
	assert.True(t, aw.Balance.Equal(dec(100)), "pending mode must not touch balance")
	assert.True(t, aw.Pending.Equal(dec(40)))
	assert.True(t, walletOf(t, e, mem, bob.ID).Balance.IsZero())
}

func TestTransfer_Pending_CapOverflow(t *testing.T) {
	// GIVEN: A pending limit of 100000 and 99990 already accrued
	// WHEN: A further 20 is sent pending
	// THEN: FAILED, counter still 99990; a following 10 fits exactly

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)

	_, err := e.Transfer(ctx, alice.ID, bob.ID, dec(99990), ledger.ModePending)
	require.NoError(t, err)

	tx, err := e.Transfer(ctx, alice.ID, bob.ID, dec(20), ledger.ModePending)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)
	assert.True(t, walletOf(t, e, mem, alice.ID).Pending.Equal(dec(99990)))

	// The limit is inclusive: topping out exactly is allowed.
	tx, err = e.Transfer(ctx, alice.ID, bob.ID, dec(10), ledger.ModePending)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusPending, tx.Status)
	assert.True(t, walletOf(t, e, mem, alice.ID).Pending.Equal(dec(100000)))
}

func TestTransfer_Pending_ConfigurableLimit(t *testing.T) {
	e, _ := newTestEngine(t, ledger.WithPendingLimit(dec(50)))
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)

	tx, err := e.Transfer(ctx, alice.ID, bob.ID, dec(51), ledger.ModePending)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusFailed, tx.Status)
}

// =============================================================================
// QUERIES
// =============================================================================

func TestPendingDues_AggregatePerCounterparty(t *testing.T) {
	// GIVEN: Alice owes the canteen 30 (two txs) and the library 15
	// WHEN: Dues are queried from both sides
	// THEN: Alice sees two aggregated lines; the canteen sees Alice's 30

	e, _ := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	canteen := registerUser(t, e, "canteen", ledger.RoleVendor)
	library := registerUser(t, e, "library", ledger.RoleVendor)

	for _, amount := range []int64{10, 20} {
		_, err := e.Transfer(ctx, alice.ID, canteen.ID, dec(amount), ledger.ModePending)
		require.NoError(t, err)
	}
	_, err := e.Transfer(ctx, alice.ID, library.ID, dec(15), ledger.ModePending)
	require.NoError(t, err)

	dues, err := e.PendingDuesByPayee(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, dues, 2)
	byName := map[string]decimal.Decimal{}
	for _, d := range dues {
		byName[d.Username] = d.Amount
	}
	assert.True(t, byName["canteen"].Equal(dec(30)))
	assert.True(t, byName["library"].Equal(dec(15)))

	owed, err := e.PendingDuesByPayer(ctx, canteen.ID)
	require.NoError(t, err)
	require.Len(t, owed, 1)
	assert.Equal(t, alice.ID, owed[0].Counterparty)
	assert.True(t, owed[0].Amount.Equal(dec(30)))
}

func TestHistory_NewestFirstBothDirections(t *testing.T) {
	// GIVEN: Alice sent one transfer and received another
	// WHEN: Her history is queried
	// THEN: Both appear, most recent first

	e, _ := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)
	fund(t, e, alice.ID, 100)
	fund(t, e, bob.ID, 100)

	first, err := e.Transfer(ctx, alice.ID, bob.ID, dec(10), ledger.ModeImmediate)
	require.NoError(t, err)
	second, err := e.Transfer(ctx, bob.ID, alice.ID, dec(5), ledger.ModeImmediate)
	require.NoError(t, err)

	history, err := e.History(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, second.ID, history[0].ID)
	assert.Equal(t, first.ID, history[1].ID)
}

// =============================================================================
// EVENTS
// =============================================================================

type capturePublisher struct {
	mu     sync.Mutex
	events []ledger.TransactionCompleted
}

func (p *capturePublisher) Publish(topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if topic == ledger.TopicTransactionCompleted {
		p.events = append(p.events, event.(ledger.TransactionCompleted))
	}
	return nil
}

func TestTransfer_PublishesOnlySuccess(t *testing.T) {
	// GIVEN: An engine with a publisher attached
	// WHEN: One transfer succeeds and one fails on funds
	// THEN: Exactly one TransactionCompleted event goes out

	pub := &capturePublisher{}
	e, _ := newTestEngine(t, ledger.WithPublisher(pub))
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)
	fund(t, e, alice.ID, 50)

	ok, err := e.Transfer(ctx, alice.ID, bob.ID, dec(50), ledger.ModeImmediate)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusSuccess, ok.Status)

	failed, err := e.Transfer(ctx, alice.ID, bob.ID, dec(1), ledger.ModeImmediate)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, failed.Status)

	require.Len(t, pub.events, 1)
	assert.Equal(t, string(ok.ID), pub.events[0].TransactionID)
	assert.Equal(t, string(alice.ID), pub.events[0].SenderUser)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestTransfer_ConcurrentNeverOverdraws(t *testing.T) {
	// GIVEN: Alice has exactly 50
	// WHEN: 20 concurrent transfers of 10 race against her balance
	// THEN: Exactly 5 succeed and her balance ends at 0, never negative

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)
	fund(t, e, alice.ID, 50)

	const attempts = 20
	var wg sync.WaitGroup
	results := make([]ledger.Status, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tx, err := e.Transfer(ctx, alice.ID, bob.ID, dec(10), ledger.ModeImmediate)
			if assert.NoError(t, err) {
				results[i] = tx.Status
			}
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, s := range results {
		if s == ledger.StatusSuccess {
			succeeded++
		}
	}
	assert.Equal(t, 5, succeeded)

	aw := walletOf(t, e, mem, alice.ID)
	assert.True(t, aw.Balance.IsZero(), "balance was %s", aw.Balance)
	assert.True(t, walletOf(t, e, mem, bob.ID).Balance.Equal(dec(50)))
}

func TestTransfer_ConcurrentOppositeDirections(t *testing.T) {
	// GIVEN: Two funded users
	// WHEN: They transfer to each other concurrently, repeatedly
	// THEN: No deadlock, and total money is conserved

	e, mem := newTestEngine(t)
	ctx := context.Background()

	alice := registerUser(t, e, "alice", ledger.RoleCustomer)
	bob := registerUser(t, e, "bob", ledger.RoleVendor)
	fund(t, e, alice.ID, 1000)
	fund(t, e, bob.ID, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := e.Transfer(ctx, alice.ID, bob.ID, dec(1), ledger.ModeImmediate)
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := e.Transfer(ctx, bob.ID, alice.ID, dec(1), ledger.ModeImmediate)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	total := walletOf(t, e, mem, alice.ID).Balance.Add(walletOf(t, e, mem, bob.ID).Balance)
	assert.True(t, total.Equal(dec(2000)), fmt.Sprintf("total was %s", total))
}
