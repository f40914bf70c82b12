package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DisputeStatus is the workflow state of a dispute.
type DisputeStatus string

const (
	DisputeStatusOpen        DisputeStatus = "open"
	DisputeStatusUnderReview DisputeStatus = "under_review"
	DisputeStatusResolved    DisputeStatus = "resolved"
	DisputeStatusRejected    DisputeStatus = "rejected"
)

// IsClosed reports whether the dispute has been decided.
func (s DisputeStatus) IsClosed() bool {
	return s == DisputeStatusResolved || s == DisputeStatusRejected
}

// DisputeReason is the category chosen by the filer.
type DisputeReason string

const (
	DisputeReasonPayment        DisputeReason = "payment_issue"
	DisputeReasonServiceQuality DisputeReason = "service_quality"
	DisputeReasonRoute          DisputeReason = "route_issue"
	DisputeReasonDriverBehavior DisputeReason = "driver_behavior"
	DisputeReasonRiderBehavior  DisputeReason = "rider_behavior"
	DisputeReasonOther          DisputeReason = "other"
)

// Valid reports whether r is a known reason.
func (r DisputeReason) Valid() bool {
	switch r {
	case DisputeReasonPayment, DisputeReasonServiceQuality, DisputeReasonRoute,
		DisputeReasonDriverBehavior, DisputeReasonRiderBehavior, DisputeReasonOther:
		return true
	}
	return false
}

// DisputeResolution is the money outcome an admin picks.
type DisputeResolution string

const (
	ResolutionRefundRider DisputeResolution = "refund_rider"
	ResolutionPayDriver   DisputeResolution = "pay_driver"
	ResolutionSplit       DisputeResolution = "split"
)

// Valid reports whether r is a known resolution.
func (r DisputeResolution) Valid() bool {
	return r == ResolutionRefundRider || r == ResolutionPayDriver || r == ResolutionSplit
}

// RefundTarget is who receives a dispute refund transfer.
type RefundTarget string

const (
	RefundTargetRider  RefundTarget = "rider"
	RefundTargetDriver RefundTarget = "driver"
)

// RefundStatus tracks the refund transfer of a resolved dispute.
type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "none"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// Dispute is filed by one trip party against the other.
type Dispute struct {
	ID              string
	TripID          string
	FiledBy         string
	FiledAgainst    string
	Reason          DisputeReason
	Description     string
	Evidence        map[string]any
	Status          DisputeStatus
	Resolution      DisputeResolution
	ResolutionNotes string
	RefundAmount    *decimal.Decimal
	RefundTarget    RefundTarget
	RefundStatus    RefundStatus
	ResolvedBy      string
	ResolvedAt      *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
