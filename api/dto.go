package api

import (
	"time"

	"github.com/campuspay/ledger-engine/ledger"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateUserRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Role     string `json:"role"` // "customer" (default) or "vendor"
}

type TransferRequest struct {
	ReceiverID string `json:"receiver_id"`
	Amount     string `json:"amount"`
	Mode       string `json:"mode"` // "IMMEDIATE" (default) or "PENDING"
}

type AddBalanceRequest struct {
	Amount string `json:"amount"`
}

type RaiseIssueRequest struct {
	TransactionID  string `json:"transaction_id"`
	Subject        string `json:"subject"`
	Content        string `json:"content"`
	ResolvedStatus string `json:"resolved_status"` // optional
}

type ResolveIssueRequest struct {
	Status string `json:"status"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Role      string `json:"role"`
	CreatedAt string `json:"created_at"`
}

type WalletDTO struct {
	ID      string `json:"id"`
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
	Pending string `json:"pending"`
}

type TransactionDTO struct {
	ID        string `json:"id"`
	Sender    string `json:"sender"`
	Receiver  string `json:"receiver"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

type NotificationDTO struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

type IssueDTO struct {
	ID             string `json:"id"`
	TransactionID  string `json:"transaction_id"`
	RaisedBy       string `json:"raised_by"`
	Subject        string `json:"subject"`
	Content        string `json:"content"`
	ResolvedStatus string `json:"resolved_status"`
	CreatedAt      string `json:"created_at"`
}

type DueDTO struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Wallet   string `json:"wallet"`
	Amount   string `json:"amount"`
}

type ClearanceDTO struct {
	Cleared     bool             `json:"cleared"`
	Reason      string           `json:"reason,omitempty"`
	Total       string           `json:"total"`
	Settlements []TransactionDTO `json:"settlements,omitempty"`
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toUserDTO(u ledger.User) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Username:  u.Username,
		Email:     u.Email,
		Phone:     u.Phone,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func toWalletDTO(w ledger.Wallet) WalletDTO {
	return WalletDTO{
		ID:      string(w.ID),
		UserID:  string(w.UserID),
		Balance: w.Balance.String(),
		Pending: w.Pending.String(),
	}
}

func toTransactionDTO(tx ledger.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:        string(tx.ID),
		Sender:    string(tx.Sender),
		Receiver:  string(tx.Receiver),
		Amount:    tx.Amount.String(),
		Status:    string(tx.Status),
		CreatedAt: tx.CreatedAt.Format(time.RFC3339),
	}
}

func toTransactionDTOs(txs []ledger.Transaction) []TransactionDTO {
	out := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		out[i] = toTransactionDTO(tx)
	}
	return out
}

func toNotificationDTO(n ledger.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Subject:   n.Subject,
		Body:      n.Body,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
}

func toIssueDTO(i ledger.Issue) IssueDTO {
	return IssueDTO{
		ID:             i.ID,
		TransactionID:  string(i.TransactionID),
		RaisedBy:       string(i.RaisedBy),
		Subject:        i.Subject,
		Content:        i.Content,
		ResolvedStatus: string(i.ResolvedStatus),
		CreatedAt:      i.CreatedAt.Format(time.RFC3339),
	}
}

func toDueDTOs(dues []ledger.Due) []DueDTO {
	out := make([]DueDTO, len(dues))
	for i, d := range dues {
		out[i] = DueDTO{
			UserID:   string(d.Counterparty),
			Username: d.Username,
			Wallet:   string(d.Wallet),
			Amount:   d.Amount.String(),
		}
	}
	return out
}

func toClearanceDTO(r ledger.ClearanceResult) ClearanceDTO {
	return ClearanceDTO{
		Cleared:     r.Cleared,
		Reason:      r.Reason,
		Total:       r.Total.String(),
		Settlements: toTransactionDTOs(r.Settlements),
	}
}
