package ledger

import (
	"log"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// EVENTS - Published after commit, never inside the store transaction
// =============================================================================

// TopicTransactionCompleted carries TransactionCompleted payloads.
const TopicTransactionCompleted = "transaction_completed"

// EventPublisher pushes domain events to an external broker.
// Implementations live outside this package (see events/kafka).
type EventPublisher interface {
	Publish(topic string, event any) error
}

// TransactionCompleted is emitted for every transfer that ends SUCCESS,
// including settlement transfers created by clearance.
type TransactionCompleted struct {
	TransactionID string          `json:"transaction_id"`
	SenderWallet  string          `json:"sender_wallet"`
	SenderUser    string          `json:"sender_user"`
	ReceiverUser  string          `json:"receiver_user"`
	Amount        decimal.Decimal `json:"amount"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

// publishCompleted is best-effort: the transfer has already committed, so
// a broker failure is logged, not surfaced.
func (e *Engine) publishCompleted(tx *Transaction, sender, receiver *User) {
	if e.events == nil || tx == nil || tx.Status != StatusSuccess {
		return
	}
	event := TransactionCompleted{
		TransactionID: string(tx.ID),
		SenderWallet:  string(tx.Sender),
		SenderUser:    string(sender.ID),
		ReceiverUser:  string(receiver.ID),
		Amount:        tx.Amount,
		OccurredAt:    tx.CreatedAt,
	}
	if err := e.events.Publish(TopicTransactionCompleted, event); err != nil {
		log.Printf("ledger: publish %s: %v", TopicTransactionCompleted, err)
	}
}

// NopPublisher discards events. Useful when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(string, any) error { return nil }
