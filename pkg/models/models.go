package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CreditStatus string

const (
	CreditStatusActive    CreditStatus = "ACTIVE"
	CreditStatusClosed    CreditStatus = "CLOSED"
	CreditStatusCancelled CreditStatus = "CANCELLED"
)

// IsTerminal reports whether no transition can leave the status.
func (s CreditStatus) IsTerminal() bool {
	return s == CreditStatusClosed || s == CreditStatusCancelled
}

// CanTransition reports whether a credit may move from one status to another.
func CanTransition(from, to CreditStatus) bool {
	return from == CreditStatusActive && (to == CreditStatusClosed || to == CreditStatusCancelled)
}

// Credit is one financed purchase, originated by exactly one credit sale.
type Credit struct {
	ID               uuid.UUID       `json:"id"`
	SaleID           string          `json:"sale_id"`
	ClientID         string          `json:"client_id"` // Link to external client record
	TotalAmount      decimal.Decimal `json:"total_amount"`
	DownPayment      decimal.Decimal `json:"down_payment"`
	FinancedBalance  decimal.Decimal `json:"financed_balance"`
	InterestAmount   decimal.Decimal `json:"interest_amount"`
	InterestRate     decimal.Decimal `json:"interest_rate"` // Flat one-time surcharge fraction
	TermMonths       int             `json:"term_months"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	Status           CreditStatus    `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Obligation is the financed balance plus the interest surcharge.
func (c *Credit) Obligation() decimal.Decimal {
	return c.FinancedBalance.Add(c.InterestAmount)
}

// Installment is one scheduled monthly payment of a credit.
type Installment struct {
	ID       uuid.UUID       `json:"id"`
	CreditID uuid.UUID       `json:"credit_id"`
	Sequence int             `json:"sequence"`
	Value    decimal.Decimal `json:"value"`
	DueDate  time.Time       `json:"due_date"`
	PaidAt   *time.Time      `json:"paid_at,omitempty"`
	Paid     bool            `json:"paid"`
}

// Sale is the host application's sale record.
type Sale struct {
	ID       string          `json:"id"`
	ClientID string          `json:"client_id"`
	Total    decimal.Decimal `json:"total"`
	IsCredit bool            `json:"is_credit"`
	SoldAt   time.Time       `json:"sold_at"`
	Voided   bool            `json:"voided"`
}

// Client is the host application's client record. Only OutstandingBalance and
// AvailableCredit are written by the credit engine.
type Client struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	AvailableCredit    decimal.Decimal `json:"available_credit"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

type TransactionType string

const (
	TransactionTypeDownPayment TransactionType = "down_payment"
	TransactionTypePayment     TransactionType = "installment_payment"
	TransactionTypeCancel      TransactionType = "cancellation"
)

// Transaction is one movement in a credit's journal.
type Transaction struct {
	ID        uuid.UUID       `json:"id"`
	CreditID  uuid.UUID       `json:"credit_id"`
	Sequence  int             `json:"sequence,omitempty"` // Installment sequence, 0 when not tied to one
	Amount    decimal.Decimal `json:"amount"`
	Type      TransactionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

type PaymentResult struct {
	Credit         *Credit         `json:"credit"`
	Installment    *Installment    `json:"installment"`
	AmountTendered decimal.Decimal `json:"amount_tendered"`
	AmountApplied  decimal.Decimal `json:"amount_applied"`
	Closed         bool            `json:"closed"`
}

type CreditSnapshot struct {
	Credit       *Credit        `json:"credit"`
	Installments []*Installment `json:"installments"`
	PaidCount    int            `json:"paid_count"`
	UnpaidCount  int            `json:"unpaid_count"`
	OverdueCount int            `json:"overdue_count"`
	NextDue      *Installment   `json:"next_due,omitempty"`
}

type BalanceProjection struct {
	ClientID           string          `json:"client_id"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	AvailableCredit    decimal.Decimal `json:"available_credit"`
}
