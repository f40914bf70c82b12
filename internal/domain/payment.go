package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a money movement.
type TransactionType string

const (
	TransactionEscrowFund        TransactionType = "escrow_fund"
	TransactionDriverPayout      TransactionType = "driver_payout"
	TransactionTreasuryFee       TransactionType = "treasury_fee"
	TransactionAgentCommission   TransactionType = "agent_commission"
	TransactionRefund            TransactionType = "refund"
	TransactionDisputeResolution TransactionType = "dispute_resolution"
)

// TransactionStatus is the status of a single ledger row.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusApproved  TransactionStatus = "approved"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusCancelled TransactionStatus = "cancelled"
)

// IsFinal reports whether the row can no longer change.
func (s TransactionStatus) IsFinal() bool {
	return s == TransactionStatusCompleted || s == TransactionStatusFailed
}

// PaymentTransaction is one money movement for a trip.
type PaymentTransaction struct {
	ID                string
	TripID            string
	Type              TransactionType
	FromUserID        string
	ToUserID          string
	Amount            decimal.Decimal
	ExternalPaymentID string
	ExternalTxID      string
	Status            TransactionStatus
	FailureReason     string
	Metadata          map[string]any
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TreasuryEntryType classifies a treasury ledger entry.
type TreasuryEntryType string

const (
	TreasuryEntryFee              TreasuryEntryType = "trip_fee"
	TreasuryEntryDisputeRemainder TreasuryEntryType = "dispute_remainder"
)

// TreasuryEntry is one row of the running treasury balance.
type TreasuryEntry struct {
	ID            int64
	TripID        string
	TransactionID string
	Type          TreasuryEntryType
	Amount        decimal.Decimal
	BalanceAfter  decimal.Decimal
	Description   string
	CreatedAt     time.Time
}
