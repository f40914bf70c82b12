package service

import "errors"

// Validation errors.
var (
	// ErrInvalidDistance is returned when the trip distance is not positive.
	ErrInvalidDistance = errors.New("distance must be greater than zero")

	// ErrInvalidDuration is returned when the trip duration is not positive.
	ErrInvalidDuration = errors.New("duration must be greater than zero")

	// ErrInvalidSurge is returned when an explicit surge multiplier is outside [1, 3].
	ErrInvalidSurge = errors.New("surge multiplier must be between 1 and 3")

	// ErrInvalidServiceType is returned for an unknown service type.
	ErrInvalidServiceType = errors.New("invalid service type")

	// ErrInvalidVehicleType is returned for an unknown vehicle type.
	ErrInvalidVehicleType = errors.New("invalid vehicle type")

	// ErrInvalidLocation is returned when location coordinates are invalid.
	ErrInvalidLocation = errors.New("invalid location")

	// ErrInvalidPricingConfig is returned when a pricing config fails validation.
	ErrInvalidPricingConfig = errors.New("invalid pricing config")

	// ErrInvalidTripStatus is returned when a requested status cannot be set directly.
	ErrInvalidTripStatus = errors.New("invalid trip status")

	// ErrInvalidRating is returned for ratings outside 1–5.
	ErrInvalidRating = errors.New("rating must be between 1 and 5")

	// ErrInvalidDispute is returned when a dispute filing or resolution is malformed.
	ErrInvalidDispute = errors.New("invalid dispute")

	// ErrInvalidPaymentRef is returned when the external payment identifier is empty.
	ErrInvalidPaymentRef = errors.New("invalid payment id")

	// ErrInvalidDriverProfile is returned when a driver registration or verification is malformed.
	ErrInvalidDriverProfile = errors.New("invalid driver profile")

	// ErrInvalidRefundAmount is returned when a dispute refund is negative or exceeds the escrow.
	ErrInvalidRefundAmount = errors.New("invalid refund amount")
)

// Authorization errors.
var (
	// ErrForbidden is returned when the caller may not act on the entity.
	ErrForbidden = errors.New("not allowed for this user")

	// ErrNotDriver is returned when a driver action has no driver profile behind it.
	ErrNotDriver = errors.New("user is not a registered driver")

	// ErrAdminRequired is returned when a non-admin attempts an admin action.
	ErrAdminRequired = errors.New("admin privileges required")

	// ErrInvalidAccessToken is returned when the network rejects an access token.
	ErrInvalidAccessToken = errors.New("invalid access token")

	// ErrUserInactive is returned when a suspended or banned user authenticates.
	ErrUserInactive = errors.New("user is not active")
)

// State conflict errors. These are expected under concurrency.
var (
	// ErrTripAlreadyTaken is returned when another driver accepted the trip first.
	ErrTripAlreadyTaken = errors.New("trip is no longer available")

	// ErrDriverUnavailable is returned when the driver is offline, busy or unverified.
	ErrDriverUnavailable = errors.New("driver is not available")

	// ErrTripStateConflict is returned when the trip is not in a state that allows the transition.
	ErrTripStateConflict = errors.New("trip state does not allow this action")

	// ErrTripInProgress is returned when cancelling a trip that has started.
	ErrTripInProgress = errors.New("cannot cancel a trip in progress, file a dispute instead")

	// ErrTripNotCompleted is returned when releasing escrow before the trip has ended.
	ErrTripNotCompleted = errors.New("trip is not completed")

	// ErrTripDisputed is returned when settlement is attempted on a disputed trip.
	ErrTripDisputed = errors.New("trip is disputed")

	// ErrPaymentNotEscrowed is returned when completion or release needs escrowed funds.
	ErrPaymentNotEscrowed = errors.New("payment is not escrowed")

	// ErrPaymentTxMissing is returned when a release has no blockchain transaction to complete.
	ErrPaymentTxMissing = errors.New("payment transaction id not received yet")

	// ErrPaymentRefMismatch is returned when a callback names a payment other than the trip's escrow.
	ErrPaymentRefMismatch = errors.New("payment does not belong to this trip")

	// ErrRefundNotAllowed is returned when refunding a payment that was released or already refunded.
	ErrRefundNotAllowed = errors.New("refund not allowed for this payment state")

	// ErrEscrowAmountMismatch is returned when the approved amount is below the fare.
	ErrEscrowAmountMismatch = errors.New("approved amount does not cover the fare")

	// ErrSettlementInProgress is returned when another settlement holds the trip lock.
	ErrSettlementInProgress = errors.New("settlement already in progress for this trip")

	// ErrNoCounterparty is returned when filing a dispute before a driver is assigned.
	ErrNoCounterparty = errors.New("trip has no other party to dispute with")

	// ErrDisputeOpen is returned when a trip already has an open dispute.
	ErrDisputeOpen = errors.New("trip already has an open dispute")

	// ErrDisputeStateConflict is returned when the dispute is not in a state that allows the action.
	ErrDisputeStateConflict = errors.New("dispute state does not allow this action")

	// ErrAlreadyRated is returned when a party rates the same trip twice.
	ErrAlreadyRated = errors.New("trip already rated")

	// ErrPricingAlreadyActive is returned when a concurrent activation won.
	ErrPricingAlreadyActive = errors.New("another pricing config was activated concurrently")

	// ErrDriverExists is returned when registering a second driver profile.
	ErrDriverExists = errors.New("driver profile already exists")
)

// Downstream errors.
var (
	// ErrPaymentNetwork is returned when the payment network rejects or fails a call.
	ErrPaymentNetwork = errors.New("payment network request failed")

	// ErrPaymentNotConfigured is returned when no payment network client is configured.
	ErrPaymentNotConfigured = errors.New("payment network is not configured")
)

// FieldError reports which input failed validation. It unwraps to one of the
// validation sentinels above.
type FieldError struct {
	Err    error
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return e.Err.Error() + ": " + e.Field + " " + e.Reason
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func fieldError(err error, field, reason string) error {
	return &FieldError{Err: err, Field: field, Reason: reason}
}
