package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/logger"
	"pitaxi/internal/pinetwork"
	"pitaxi/internal/repository"
)

// PaymentNetwork is the external payment network.
type PaymentNetwork interface {
	Approve(ctx context.Context, paymentID string) (*pinetwork.Payment, error)
	Complete(ctx context.Context, paymentID, txID string) (*pinetwork.Payment, error)
	Cancel(ctx context.Context, paymentID string) (*pinetwork.Payment, error)
	Status(ctx context.Context, paymentID string) (*pinetwork.Payment, error)
	Transfer(ctx context.Context, req pinetwork.TransferRequest) (*pinetwork.Payment, error)
}

// SettlementLocker serializes settlement work per trip across instances.
type SettlementLocker interface {
	AcquireSettlementLock(ctx context.Context, tripID string, ttl time.Duration) (string, bool, error)
	ReleaseSettlementLock(ctx context.Context, tripID, token string) error
}

const (
	defaultNetworkTimeout = 30 * time.Second
	// lockedNetworkCalls bounds the payment network calls made under one
	// settlement lock: complete, status, three transfers and one spare.
	lockedNetworkCalls = 6
	maxReasonLen       = 500
)

// EscrowConfig holds the settlement parameters.
type EscrowConfig struct {
	// TreasuryUID receives the treasury leg of every release.
	TreasuryUID string
	// LockTTL is raised to cover lockedNetworkCalls round trips of
	// NetworkTimeout when it is shorter.
	LockTTL        time.Duration
	NetworkTimeout time.Duration
}

// EscrowService drives the two-phase payment protocol and the payout split.
//
// Settlement is best effort across legs: once the rider's payment is
// completed, each payout leg is attempted independently and a failed leg is
// left as a failed ledger row for reconciliation.
type EscrowService struct {
	store   repository.Store
	network PaymentNetwork
	locker  SettlementLocker
	audit   *AuditLog
	log     logger.ILogger
	cfg     EscrowConfig
	now     func() time.Time
}

// NewEscrowService creates a new EscrowService. network and locker may be nil:
// without a network every payment call fails with ErrPaymentNotConfigured,
// without a locker only the payment status compare-and-set guards settlement.
func NewEscrowService(
	store repository.Store,
	network PaymentNetwork,
	locker SettlementLocker,
	audit *AuditLog,
	log logger.ILogger,
	cfg EscrowConfig,
) *EscrowService {
	if cfg.NetworkTimeout <= 0 {
		cfg.NetworkTimeout = defaultNetworkTimeout
	}
	cfg.LockTTL = max(cfg.LockTTL, lockedNetworkCalls*cfg.NetworkTimeout)
	return &EscrowService{
		store:   store,
		network: network,
		locker:  locker,
		audit:   audit,
		log:     log,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Distribution is the outcome of a release.
type Distribution struct {
	Total           decimal.Decimal
	TreasuryFee     decimal.Decimal
	AgentCommission decimal.Decimal
	DriverPayout    decimal.Decimal
	Transactions    []*domain.PaymentTransaction
	// FailedLegs lists payout legs that did not complete.
	FailedLegs []domain.TransactionType
	// Replayed is set when the trip had already been settled.
	Replayed bool
}

// ────────────────────────────────────────────────────────────────
// Escrow funding
// ────────────────────────────────────────────────────────────────

// FundEscrow approves the rider's payment and holds it against the trip.
// Repeating the call with the same payment id returns the trip unchanged.
func (s *EscrowService) FundEscrow(ctx context.Context, tripID, paymentRef, callerID string) (*domain.Trip, error) {
	if paymentRef == "" {
		return nil, ErrInvalidPaymentRef
	}
	if s.network == nil {
		return nil, ErrPaymentNotConfigured
	}

	trip, err := s.store.Repos().Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && callerID != trip.RiderID {
		return nil, ErrForbidden
	}

	var funded *domain.Trip
	err = s.withLock(ctx, tripID, func(ctx context.Context) error {
		var err error
		funded, err = s.fund(ctx, tripID, paymentRef)
		return err
	})
	if err != nil {
		return nil, err
	}
	return funded, nil
}

func (s *EscrowService) fund(ctx context.Context, tripID, paymentRef string) (*domain.Trip, error) {
	repos := s.store.Repos()
	trip, err := repos.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	if existing, err := repos.Transactions.GetByExternalPaymentID(ctx, paymentRef, domain.TransactionEscrowFund); err == nil {
		if existing.TripID != tripID {
			return nil, ErrPaymentRefMismatch
		}
		return trip, nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if trip.PaymentStatus != domain.PaymentStatusPending {
		return nil, ErrTripStateConflict
	}
	switch trip.Status {
	case domain.TripStatusRequested, domain.TripStatusAccepted, domain.TripStatusInProgress:
	default:
		return nil, ErrTripStateConflict
	}

	rider, err := repos.Users.GetByID(ctx, trip.RiderID)
	if err != nil {
		return nil, err
	}

	payment, err := s.network.Approve(ctx, paymentRef)
	if err != nil {
		return nil, networkError("approve", err)
	}

	if payment.UserUID != "" && payment.UserUID != rider.PiUID {
		s.cancelQuietly(ctx, paymentRef)
		return nil, ErrPaymentRefMismatch
	}
	// The escrow must equal the fare snapshot so the split reconciles to it.
	if !payment.Amount.Equal(trip.EstimatedFare) {
		s.cancelQuietly(ctx, paymentRef)
		return nil, ErrEscrowAmountMismatch
	}

	var entry *domain.TransparencyLog
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		now := s.now().UTC()
		if err := repos.Transactions.Create(ctx, &domain.PaymentTransaction{
			ID:                uuid.New().String(),
			TripID:            trip.ID,
			Type:              domain.TransactionEscrowFund,
			FromUserID:        trip.RiderID,
			Amount:            payment.Amount,
			ExternalPaymentID: paymentRef,
			ExternalTxID:      payment.TxID(),
			Status:            domain.TransactionStatusApproved,
			Metadata:          map[string]any{"memo": payment.Memo, "network": payment.Network},
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return ErrTripStateConflict
			}
			return err
		}

		ok, err := repos.Trips.MarkEscrowed(ctx, trip.ID, paymentRef, payment.Amount)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTripStateConflict
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventEscrowFunded, trip.ID,
			"Rider payment held in escrow", map[string]any{
				"trip_number": trip.TripNumber,
				"amount":      money(payment.Amount),
				"payment_id":  paymentRef,
			})
		return err
	})
	if errors.Is(err, ErrTripStateConflict) {
		return s.fundConflict(ctx, tripID, paymentRef)
	}
	if err != nil {
		return nil, err
	}

	s.audit.Publish(ctx, entry)
	s.log.Info("escrow funded",
		logger.String("trip_id", tripID),
		logger.String("payment_id", paymentRef),
	)
	return repos.Trips.GetByID(ctx, tripID)
}

// fundConflict handles a funding write that lost to a concurrent one. The
// approval is cancelled only when another payment holds the escrow.
func (s *EscrowService) fundConflict(ctx context.Context, tripID, paymentRef string) (*domain.Trip, error) {
	trip, err := s.store.Repos().Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.PaymentRef == paymentRef {
		s.log.Info("escrow already funded by a concurrent call",
			logger.String("trip_id", tripID),
			logger.String("payment_id", paymentRef),
		)
		return trip, nil
	}
	s.cancelQuietly(ctx, paymentRef)
	return nil, ErrTripStateConflict
}

// PaymentCompletion is the result of a payment completion callback.
type PaymentCompletion struct {
	Trip *domain.Trip
	// Distribution is nil while the trip has not been completed.
	Distribution *Distribution
}

// CompletePayment records the blockchain transaction of the escrowed payment.
// When the trip has already been completed the escrow is released right away;
// otherwise the release runs when the driver completes the trip.
func (s *EscrowService) CompletePayment(ctx context.Context, tripID, paymentRef, txID, callerID string) (*PaymentCompletion, error) {
	if paymentRef == "" || txID == "" {
		return nil, ErrInvalidPaymentRef
	}

	repos := s.store.Repos()
	trip, err := repos.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && !trip.IsParticipant(callerID) {
		return nil, ErrForbidden
	}
	if trip.PaymentRef == "" {
		return nil, ErrPaymentNotEscrowed
	}
	if trip.PaymentRef != paymentRef {
		return nil, ErrPaymentRefMismatch
	}

	row, err := repos.Transactions.GetActive(ctx, tripID, domain.TransactionEscrowFund)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotEscrowed
		}
		return nil, err
	}
	if row.ExternalTxID == "" && row.Status == domain.TransactionStatusApproved {
		if _, err := repos.Transactions.UpdateStatus(ctx, repository.TransactionUpdate{
			ID:           row.ID,
			From:         domain.TransactionStatusApproved,
			To:           domain.TransactionStatusApproved,
			ExternalTxID: txID,
		}); err != nil {
			return nil, err
		}
	}

	if trip.Status != domain.TripStatusCompleted {
		return &PaymentCompletion{Trip: trip}, nil
	}

	dist, err := s.Release(ctx, tripID, txID)
	if err != nil {
		return nil, err
	}
	trip, err = repos.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return &PaymentCompletion{Trip: trip, Distribution: dist}, nil
}

// ────────────────────────────────────────────────────────────────
// Release
// ────────────────────────────────────────────────────────────────

// Release completes the rider's payment and pays out the split. externalTxID
// may be empty when the completion callback already recorded it. Releasing a
// settled trip returns the existing distribution.
func (s *EscrowService) Release(ctx context.Context, tripID, externalTxID string) (*Distribution, error) {
	if s.network == nil {
		return nil, ErrPaymentNotConfigured
	}

	var dist *Distribution
	err := s.withLock(ctx, tripID, func(ctx context.Context) error {
		var err error
		dist, err = s.release(ctx, tripID, externalTxID)
		return err
	})
	return dist, err
}

func (s *EscrowService) release(ctx context.Context, tripID, externalTxID string) (*Distribution, error) {
	repos := s.store.Repos()
	trip, err := repos.Trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}

	switch trip.PaymentStatus {
	case domain.PaymentStatusCompleted:
		return s.existingDistribution(ctx, trip)
	case domain.PaymentStatusDisputed:
		return nil, ErrTripDisputed
	case domain.PaymentStatusEscrowed, domain.PaymentStatusSettling:
	default:
		return nil, ErrPaymentNotEscrowed
	}
	if trip.Status != domain.TripStatusCompleted {
		return nil, ErrTripNotCompleted
	}

	escrow, err := repos.Transactions.GetActive(ctx, tripID, domain.TransactionEscrowFund)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPaymentNotEscrowed
		}
		return nil, err
	}

	txID := externalTxID
	if txID == "" {
		txID = escrow.ExternalTxID
	}
	if txID == "" && escrow.Status != domain.TransactionStatusCompleted {
		return nil, ErrPaymentTxMissing
	}

	if trip.PaymentStatus == domain.PaymentStatusEscrowed {
		ok, err := repos.Trips.UpdatePaymentStatus(ctx, tripID, domain.PaymentStatusEscrowed, domain.PaymentStatusSettling)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, s.settlementConflict(ctx, tripID)
		}
	}

	if err := s.completeEscrow(ctx, trip, escrow, txID); err != nil {
		if _, rbErr := repos.Trips.UpdatePaymentStatus(ctx, tripID, domain.PaymentStatusSettling, domain.PaymentStatusEscrowed); rbErr != nil {
			s.log.Error("release: restore escrowed status", logger.String("trip_id", tripID), logger.Error(rbErr))
		}
		return nil, err
	}

	legs, err := s.payoutLegs(ctx, trip)
	if err != nil {
		return nil, err
	}
	rows := s.runLegs(ctx, trip, legs)

	if err := s.finalizeSettlement(ctx, trip, domain.PaymentStatusSettling, trip.EstimatedFare, rows, externalTxID); err != nil {
		return nil, err
	}

	dist := s.distribution(trip, rows)
	s.log.Info("escrow released",
		logger.String("trip_id", tripID),
		logger.Int("failed_legs", len(dist.FailedLegs)),
	)
	return dist, nil
}

// completeEscrow finalizes the rider's payment on the network unless that
// already happened, and marks the escrow row completed.
func (s *EscrowService) completeEscrow(ctx context.Context, trip *domain.Trip, escrow *domain.PaymentTransaction, txID string) error {
	if escrow.Status == domain.TransactionStatusCompleted {
		return nil
	}

	if _, err := s.network.Complete(ctx, trip.PaymentRef, txID); err != nil {
		// A retry after a crash may find the payment completed already.
		status, statusErr := s.network.Status(ctx, trip.PaymentRef)
		if statusErr != nil || !status.Status.DeveloperCompleted {
			return networkError("complete", err)
		}
	}

	_, err := s.store.Repos().Transactions.UpdateStatus(ctx, repository.TransactionUpdate{
		ID:           escrow.ID,
		From:         escrow.Status,
		To:           domain.TransactionStatusCompleted,
		ExternalTxID: txID,
	})
	return err
}

// finalizeSettlement moves the payment to completed and applies the counters
// earned by the completed legs.
func (s *EscrowService) finalizeSettlement(
	ctx context.Context,
	trip *domain.Trip,
	from domain.PaymentStatus,
	finalFare decimal.Decimal,
	rows []*domain.PaymentTransaction,
	txID string,
) error {
	var entry *domain.TransparencyLog
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ok, err := repos.Trips.MarkSettled(ctx, trip.ID, from, finalFare)
		if err != nil {
			return err
		}
		if !ok {
			return ErrTripStateConflict
		}

		if err := repos.Users.IncrementTrips(ctx, trip.RiderID); err != nil {
			return err
		}
		if trip.DriverID != "" {
			if err := repos.Users.IncrementTrips(ctx, trip.DriverID); err != nil {
				return err
			}
		}

		data := map[string]any{
			"trip_number": trip.TripNumber,
			"total":       money(finalFare),
		}
		for _, row := range rows {
			data[string(row.Type)] = money(row.Amount)
			if row.Status != domain.TransactionStatusCompleted {
				data[string(row.Type)+"_status"] = string(row.Status)
				continue
			}
			switch row.Type {
			case domain.TransactionDriverPayout:
				if err := repos.Drivers.AddEarnings(ctx, trip.DriverID, row.Amount); err != nil {
					return err
				}
			case domain.TransactionAgentCommission:
				if err := repos.Referrals.RecordTrip(ctx, trip.AgentID, trip.RiderID, row.Amount); err != nil {
					return err
				}
			}
		}
		if txID != "" {
			data["txid"] = txID
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventPaymentDistributed, trip.ID,
			"Trip payment completed and funds distributed", data)
		return err
	})
	if err != nil {
		return err
	}

	s.audit.Publish(ctx, entry)
	return nil
}

// settlementConflict explains why a payment status compare-and-set lost.
func (s *EscrowService) settlementConflict(ctx context.Context, tripID string) error {
	trip, err := s.store.Repos().Trips.GetByID(ctx, tripID)
	if err != nil {
		return err
	}
	switch trip.PaymentStatus {
	case domain.PaymentStatusDisputed:
		return ErrTripDisputed
	case domain.PaymentStatusSettling:
		return ErrSettlementInProgress
	}
	return ErrTripStateConflict
}

func (s *EscrowService) existingDistribution(ctx context.Context, trip *domain.Trip) (*Distribution, error) {
	rows, err := s.store.Repos().Transactions.ListByTrip(ctx, trip.ID)
	if err != nil {
		return nil, err
	}

	var legs []*domain.PaymentTransaction
	for _, row := range rows {
		switch row.Type {
		case domain.TransactionTreasuryFee, domain.TransactionDriverPayout, domain.TransactionAgentCommission:
			legs = append(legs, row)
		}
	}

	dist := s.distribution(trip, latestPerType(legs))
	dist.Replayed = true
	return dist, nil
}

func (s *EscrowService) distribution(trip *domain.Trip, rows []*domain.PaymentTransaction) *Distribution {
	dist := &Distribution{
		Total:           trip.EstimatedFare,
		TreasuryFee:     trip.TreasuryFee,
		AgentCommission: trip.AgentCommission,
		DriverPayout:    trip.DriverPayout,
		Transactions:    rows,
	}
	for _, row := range rows {
		if row.Status != domain.TransactionStatusCompleted {
			dist.FailedLegs = append(dist.FailedLegs, row.Type)
		}
	}
	return dist
}

// latestPerType keeps the last row of each type, preserving first-seen order.
func latestPerType(rows []*domain.PaymentTransaction) []*domain.PaymentTransaction {
	index := make(map[domain.TransactionType]int)
	var out []*domain.PaymentTransaction
	for _, row := range rows {
		if i, ok := index[row.Type]; ok {
			out[i] = row
			continue
		}
		index[row.Type] = len(out)
		out = append(out, row)
	}
	return out
}

// ────────────────────────────────────────────────────────────────
// Payout legs
// ────────────────────────────────────────────────────────────────

// leg is one platform-initiated transfer.
type leg struct {
	Type         domain.TransactionType
	Amount       decimal.Decimal
	ToUserID     string
	RecipientUID string
	Memo         string
	// LedgerType books the leg into the treasury ledger when set.
	LedgerType domain.TreasuryEntryType
}

func (s *EscrowService) payoutLegs(ctx context.Context, trip *domain.Trip) ([]leg, error) {
	legs := []leg{{
		Type:         domain.TransactionTreasuryFee,
		Amount:       trip.TreasuryFee,
		RecipientUID: s.cfg.TreasuryUID,
		Memo:         "Treasury fee - Trip " + trip.TripNumber,
		LedgerType:   domain.TreasuryEntryFee,
	}}

	users := s.store.Repos().Users
	if trip.DriverPayout.IsPositive() && trip.DriverID != "" {
		driver, err := users.GetByID(ctx, trip.DriverID)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg{
			Type:         domain.TransactionDriverPayout,
			Amount:       trip.DriverPayout,
			ToUserID:     driver.ID,
			RecipientUID: driver.PiUID,
			Memo:         "Ride payment - Trip " + trip.TripNumber,
		})
	}
	if trip.AgentCommission.IsPositive() && trip.HasAgent() {
		agent, err := users.GetByID(ctx, trip.AgentID)
		if err != nil {
			return nil, err
		}
		legs = append(legs, leg{
			Type:         domain.TransactionAgentCommission,
			Amount:       trip.AgentCommission,
			ToUserID:     agent.ID,
			RecipientUID: agent.PiUID,
			Memo:         "Agent commission - Trip " + trip.TripNumber,
		})
	}
	return legs, nil
}

// runLegs attempts every leg. A failure never stops the legs after it.
func (s *EscrowService) runLegs(ctx context.Context, trip *domain.Trip, legs []leg) []*domain.PaymentTransaction {
	rows := make([]*domain.PaymentTransaction, 0, len(legs))
	for _, l := range legs {
		row, err := s.runLeg(ctx, trip, l)
		if err != nil {
			s.log.Error("payout leg not recorded",
				logger.String("trip_id", trip.ID),
				logger.String("leg", string(l.Type)),
				logger.Error(err),
			)
			rows = append(rows, &domain.PaymentTransaction{
				TripID:        trip.ID,
				Type:          l.Type,
				Amount:        l.Amount,
				ToUserID:      l.ToUserID,
				Status:        domain.TransactionStatusFailed,
				FailureReason: truncate(err.Error(), maxReasonLen),
			})
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// runLeg reserves the leg with a pending row, transfers, and records the
// outcome. A leg that already has a non-failed row is not transferred again.
func (s *EscrowService) runLeg(ctx context.Context, trip *domain.Trip, l leg) (*domain.PaymentTransaction, error) {
	txns := s.store.Repos().Transactions

	existing, err := txns.GetActive(ctx, trip.ID, l.Type)
	if err == nil {
		if existing.Status == domain.TransactionStatusPending {
			s.log.Warning("payout leg in doubt, left for reconciliation",
				logger.String("trip_id", trip.ID),
				logger.String("transaction_id", existing.ID),
			)
		}
		return existing, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	now := s.now().UTC()
	row := &domain.PaymentTransaction{
		ID:        uuid.New().String(),
		TripID:    trip.ID,
		Type:      l.Type,
		ToUserID:  l.ToUserID,
		Amount:    l.Amount,
		Status:    domain.TransactionStatusPending,
		Metadata:  map[string]any{"memo": l.Memo},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := txns.Create(ctx, row); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return txns.GetActive(ctx, trip.ID, l.Type)
		}
		return nil, err
	}

	transfer, err := s.transfer(ctx, trip, l)
	if err != nil {
		reason := truncate(err.Error(), maxReasonLen)
		if _, upErr := txns.UpdateStatus(ctx, repository.TransactionUpdate{
			ID:            row.ID,
			From:          domain.TransactionStatusPending,
			To:            domain.TransactionStatusFailed,
			FailureReason: reason,
		}); upErr != nil {
			return nil, upErr
		}
		s.log.Error("payout transfer failed",
			logger.String("trip_id", trip.ID),
			logger.String("leg", string(l.Type)),
			logger.String("amount", money(l.Amount)),
			logger.Error(err),
		)
		row.Status = domain.TransactionStatusFailed
		row.FailureReason = reason
		return row, nil
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ok, err := repos.Transactions.UpdateStatus(ctx, repository.TransactionUpdate{
			ID:                row.ID,
			From:              domain.TransactionStatusPending,
			To:                domain.TransactionStatusCompleted,
			ExternalPaymentID: transfer.Identifier,
			ExternalTxID:      transfer.TxID(),
		})
		if err != nil {
			return err
		}
		if !ok {
			s.log.Warning("payout leg changed before it was recorded",
				logger.String("trip_id", trip.ID),
				logger.String("transaction_id", row.ID),
			)
			return ErrTripStateConflict
		}
		if l.LedgerType == "" {
			return nil
		}
		return repos.Treasury.Append(ctx, &domain.TreasuryEntry{
			TripID:        trip.ID,
			TransactionID: row.ID,
			Type:          l.LedgerType,
			Amount:        l.Amount,
			Description:   l.Memo,
			CreatedAt:     s.now().UTC(),
		})
	})
	if err != nil {
		return nil, err
	}

	row.Status = domain.TransactionStatusCompleted
	row.ExternalPaymentID = transfer.Identifier
	row.ExternalTxID = transfer.TxID()
	return row, nil
}

func (s *EscrowService) transfer(ctx context.Context, trip *domain.Trip, l leg) (*pinetwork.Payment, error) {
	if l.RecipientUID == "" {
		return nil, fmt.Errorf("no payment network account for %s", l.Type)
	}
	p, err := s.network.Transfer(ctx, pinetwork.TransferRequest{
		RecipientUID: l.RecipientUID,
		Amount:       l.Amount,
		Memo:         l.Memo,
		Metadata: map[string]any{
			"trip_id": trip.ID,
			"type":    string(l.Type),
		},
	})
	if err != nil {
		return nil, networkError("transfer", err)
	}
	return p, nil
}

// ────────────────────────────────────────────────────────────────
// Refund
// ────────────────────────────────────────────────────────────────

// Refund returns the rider's money before any release. A payment whose
// blockchain transaction is already known is completed and transferred back;
// otherwise the approval is cancelled on the network.
func (s *EscrowService) Refund(ctx context.Context, tripID, reason string) (*domain.Trip, error) {
	err := s.withLock(ctx, tripID, func(ctx context.Context) error {
		trip, err := s.store.Repos().Trips.GetByID(ctx, tripID)
		if err != nil {
			return err
		}

		switch trip.PaymentStatus {
		case domain.PaymentStatusPending:
			return s.refundUnfunded(ctx, trip, reason)
		case domain.PaymentStatusEscrowed:
			if s.network == nil {
				return ErrPaymentNotConfigured
			}
			return s.refundEscrowed(ctx, trip, reason)
		default:
			return ErrRefundNotAllowed
		}
	})
	if err != nil {
		return nil, err
	}
	return s.store.Repos().Trips.GetByID(ctx, tripID)
}

func (s *EscrowService) refundUnfunded(ctx context.Context, trip *domain.Trip, reason string) error {
	var entry *domain.TransparencyLog
	err := s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		ok, err := repos.Trips.UpdatePaymentStatus(ctx, trip.ID, domain.PaymentStatusPending, domain.PaymentStatusRefunded)
		if err != nil {
			return err
		}
		if !ok {
			return ErrRefundNotAllowed
		}

		now := s.now().UTC()
		if err := repos.Transactions.Create(ctx, &domain.PaymentTransaction{
			ID:        uuid.New().String(),
			TripID:    trip.ID,
			Type:      domain.TransactionRefund,
			ToUserID:  trip.RiderID,
			Amount:    decimal.Zero,
			Status:    domain.TransactionStatusCompleted,
			Metadata:  map[string]any{"reason": reason},
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			return err
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventPaymentRefunded, trip.ID,
			"Unfunded payment closed", map[string]any{
				"trip_number": trip.TripNumber,
				"amount":      money(decimal.Zero),
			})
		return err
	})
	if err != nil {
		return err
	}
	s.audit.Publish(ctx, entry)
	return nil
}

func (s *EscrowService) refundEscrowed(ctx context.Context, trip *domain.Trip, reason string) error {
	repos := s.store.Repos()

	escrow, err := repos.Transactions.GetActive(ctx, trip.ID, domain.TransactionEscrowFund)
	if err != nil {
		return err
	}

	// Claim the payment first so no release can start.
	ok, err := repos.Trips.UpdatePaymentStatus(ctx, trip.ID, domain.PaymentStatusEscrowed, domain.PaymentStatusRefunded)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRefundNotAllowed
	}

	restore := func() {
		if _, err := repos.Trips.UpdatePaymentStatus(ctx, trip.ID, domain.PaymentStatusRefunded, domain.PaymentStatusEscrowed); err != nil {
			s.log.Error("refund: restore escrowed status", logger.String("trip_id", trip.ID), logger.Error(err))
		}
	}

	refund := &domain.PaymentTransaction{
		ID:                uuid.New().String(),
		TripID:            trip.ID,
		Type:              domain.TransactionRefund,
		ToUserID:          trip.RiderID,
		Amount:            trip.EscrowAmount,
		ExternalPaymentID: trip.PaymentRef,
		Status:            domain.TransactionStatusCompleted,
		Metadata:          map[string]any{"reason": reason},
	}
	escrowTo := domain.TransactionStatusCancelled

	if escrow.ExternalTxID == "" {
		if _, err := s.network.Cancel(ctx, trip.PaymentRef); err != nil {
			restore()
			return networkError("cancel", err)
		}
	} else {
		// The rider already signed: finalize the payment and send it back.
		if err := s.completeEscrow(ctx, trip, escrow, escrow.ExternalTxID); err != nil {
			restore()
			return err
		}
		escrowTo = ""
		var transfer *pinetwork.Payment
		rider, err := repos.Users.GetByID(ctx, trip.RiderID)
		if err == nil {
			transfer, err = s.transfer(ctx, trip, leg{
				Type:         domain.TransactionRefund,
				Amount:       trip.EscrowAmount,
				ToUserID:     rider.ID,
				RecipientUID: rider.PiUID,
				Memo:         "Refund - Trip " + trip.TripNumber,
			})
		}
		if err != nil {
			s.log.Error("refund transfer failed", logger.String("trip_id", trip.ID), logger.Error(err))
			refund.Status = domain.TransactionStatusFailed
			refund.FailureReason = truncate(err.Error(), maxReasonLen)
		} else {
			refund.ExternalPaymentID = transfer.Identifier
			refund.ExternalTxID = transfer.TxID()
		}
	}

	var entry *domain.TransparencyLog
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		now := s.now().UTC()
		refund.CreatedAt, refund.UpdatedAt = now, now
		if err := repos.Transactions.Create(ctx, refund); err != nil {
			return err
		}
		if escrowTo != "" {
			if _, err := repos.Transactions.UpdateStatus(ctx, repository.TransactionUpdate{
				ID:   escrow.ID,
				From: escrow.Status,
				To:   escrowTo,
			}); err != nil {
				return err
			}
		}

		var err error
		entry, err = s.audit.Append(ctx, repos, domain.EventPaymentRefunded, trip.ID,
			"Escrowed payment refunded to rider", map[string]any{
				"trip_number":   trip.TripNumber,
				"amount":        money(trip.EscrowAmount),
				"refund_status": string(refund.Status),
			})
		return err
	})
	if err != nil {
		return err
	}

	s.audit.Publish(ctx, entry)
	s.log.Info("escrow refunded", logger.String("trip_id", trip.ID), logger.String("reason", reason))
	return nil
}

// ────────────────────────────────────────────────────────────────
// Dispute settlement
// ────────────────────────────────────────────────────────────────

// DisputeSettlement is the money outcome of a resolved dispute.
type DisputeSettlement struct {
	TripID       string
	Resolution   domain.DisputeResolution
	RefundAmount *decimal.Decimal
	RefundTarget domain.RefundTarget
}

// DisputeOutcome reports what a dispute settlement moved.
type DisputeOutcome struct {
	RefundAmount decimal.Decimal
	RefundStatus domain.RefundStatus
	Transactions []*domain.PaymentTransaction
}

// ResolveDispute settles the frozen payment of a disputed trip.
func (s *EscrowService) ResolveDispute(ctx context.Context, req DisputeSettlement) (*DisputeOutcome, error) {
	var out *DisputeOutcome
	err := s.withLock(ctx, req.TripID, func(ctx context.Context) error {
		trip, err := s.store.Repos().Trips.GetByID(ctx, req.TripID)
		if err != nil {
			return err
		}
		if trip.PaymentStatus != domain.PaymentStatusDisputed {
			return ErrTripStateConflict
		}

		if trip.DisputedFromPaymentStatus != domain.PaymentStatusEscrowed {
			out, err = s.resolveUnfunded(ctx, trip, req)
			return err
		}
		if s.network == nil {
			return ErrPaymentNotConfigured
		}
		out, err = s.resolveEscrowed(ctx, trip, req)
		return err
	})
	return out, err
}

func (s *EscrowService) resolveUnfunded(ctx context.Context, trip *domain.Trip, req DisputeSettlement) (*DisputeOutcome, error) {
	if req.Resolution != domain.ResolutionRefundRider {
		return nil, ErrPaymentNotEscrowed
	}
	ok, err := s.store.Repos().Trips.UpdatePaymentStatus(ctx, trip.ID, domain.PaymentStatusDisputed, domain.PaymentStatusRefunded)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTripStateConflict
	}
	return &DisputeOutcome{RefundAmount: decimal.Zero, RefundStatus: domain.RefundStatusNone}, nil
}

func (s *EscrowService) resolveEscrowed(ctx context.Context, trip *domain.Trip, req DisputeSettlement) (*DisputeOutcome, error) {
	escrowed := trip.EscrowAmount
	if req.RefundAmount != nil && (req.RefundAmount.IsNegative() || req.RefundAmount.GreaterThan(escrowed)) {
		return nil, ErrInvalidRefundAmount
	}
	repos := s.store.Repos()

	escrow, err := repos.Transactions.GetActive(ctx, trip.ID, domain.TransactionEscrowFund)
	if err != nil {
		return nil, err
	}

	if escrow.ExternalTxID == "" && escrow.Status != domain.TransactionStatusCompleted {
		// Nothing reached the chain yet: only a full refund is possible.
		if req.Resolution != domain.ResolutionRefundRider || (req.RefundAmount != nil && !req.RefundAmount.Equal(escrowed)) {
			return nil, ErrPaymentTxMissing
		}
		if _, err := s.network.Cancel(ctx, trip.PaymentRef); err != nil {
			return nil, networkError("cancel", err)
		}
		if _, err := repos.Transactions.UpdateStatus(ctx, repository.TransactionUpdate{
			ID:   escrow.ID,
			From: escrow.Status,
			To:   domain.TransactionStatusCancelled,
		}); err != nil {
			return nil, err
		}
		ok, err := repos.Trips.UpdatePaymentStatus(ctx, trip.ID, domain.PaymentStatusDisputed, domain.PaymentStatusRefunded)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrTripStateConflict
		}
		return &DisputeOutcome{RefundAmount: escrowed, RefundStatus: domain.RefundStatusCompleted}, nil
	}

	if err := s.completeEscrow(ctx, trip, escrow, escrow.ExternalTxID); err != nil {
		return nil, err
	}

	if req.Resolution == domain.ResolutionPayDriver {
		legs, err := s.payoutLegs(ctx, trip)
		if err != nil {
			return nil, err
		}
		rows := s.runLegs(ctx, trip, legs)
		if err := s.finalizeSettlement(ctx, trip, domain.PaymentStatusDisputed, trip.EstimatedFare, rows, ""); err != nil {
			return nil, err
		}
		return &DisputeOutcome{RefundAmount: decimal.Zero, RefundStatus: domain.RefundStatusNone, Transactions: rows}, nil
	}

	amount := escrowed
	if req.RefundAmount != nil {
		amount = *req.RefundAmount
	}
	if amount.IsNegative() || amount.GreaterThan(escrowed) {
		return nil, ErrInvalidRefundAmount
	}

	target := req.RefundTarget
	if target == "" || req.Resolution == domain.ResolutionRefundRider {
		target = domain.RefundTargetRider
	}
	recipientID := trip.RiderID
	if target == domain.RefundTargetDriver {
		recipientID = trip.DriverID
	}
	recipient, err := repos.Users.GetByID(ctx, recipientID)
	if err != nil {
		return nil, err
	}

	var rows []*domain.PaymentTransaction
	refundStatus := domain.RefundStatusNone
	if amount.IsPositive() {
		row, err := s.runLeg(ctx, trip, leg{
			Type:         domain.TransactionDisputeResolution,
			Amount:       amount,
			ToUserID:     recipient.ID,
			RecipientUID: recipient.PiUID,
			Memo:         "Dispute resolution - Trip " + trip.TripNumber,
		})
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
		refundStatus = domain.RefundStatusFailed
		if row.Status == domain.TransactionStatusCompleted {
			refundStatus = domain.RefundStatusCompleted
		}
	}

	if remainder := escrowed.Sub(amount); remainder.IsPositive() {
		row, err := s.runLeg(ctx, trip, leg{
			Type:         domain.TransactionTreasuryFee,
			Amount:       remainder,
			RecipientUID: s.cfg.TreasuryUID,
			Memo:         "Dispute remainder - Trip " + trip.TripNumber,
			LedgerType:   domain.TreasuryEntryDisputeRemainder,
		})
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}

	var entry *domain.TransparencyLog
	err = s.store.WithinTx(ctx, func(ctx context.Context, repos repository.Repositories) error {
		var ok bool
		var err error
		if req.Resolution == domain.ResolutionRefundRider {
			ok, err = repos.Trips.UpdatePaymentStatus(ctx, trip.ID, domain.PaymentStatusDisputed, domain.PaymentStatusRefunded)
		} else {
			ok, err = repos.Trips.MarkSettled(ctx, trip.ID, domain.PaymentStatusDisputed, escrowed)
		}
		if err != nil {
			return err
		}
		if !ok {
			return ErrTripStateConflict
		}

		entry, err = s.audit.Append(ctx, repos, domain.EventPaymentRefunded, trip.ID,
			"Disputed payment settled", map[string]any{
				"trip_number":   trip.TripNumber,
				"resolution":    string(req.Resolution),
				"refund_amount": money(amount),
				"refund_target": string(target),
				"refund_status": string(refundStatus),
			})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit.Publish(ctx, entry)

	return &DisputeOutcome{RefundAmount: amount, RefundStatus: refundStatus, Transactions: rows}, nil
}

// ────────────────────────────────────────────────────────────────
// Queries
// ────────────────────────────────────────────────────────────────

// PaymentStatus returns the network's view of a payment.
func (s *EscrowService) PaymentStatus(ctx context.Context, paymentRef string) (*pinetwork.Payment, error) {
	if paymentRef == "" {
		return nil, ErrInvalidPaymentRef
	}
	if s.network == nil {
		return nil, ErrPaymentNotConfigured
	}
	p, err := s.network.Status(ctx, paymentRef)
	if err != nil {
		return nil, networkError("status", err)
	}
	return p, nil
}

// Transactions returns the ledger rows of a trip.
func (s *EscrowService) Transactions(ctx context.Context, tripID string) ([]*domain.PaymentTransaction, error) {
	return s.store.Repos().Transactions.ListByTrip(ctx, tripID)
}

// ────────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────────

// withLock runs fn under the per-trip settlement lock. When the lock store is
// unreachable fn still runs; the payment status compare-and-set is the guard.
func (s *EscrowService) withLock(ctx context.Context, tripID string, fn func(ctx context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}

	token, ok, err := s.locker.AcquireSettlementLock(ctx, tripID, s.cfg.LockTTL)
	if err != nil {
		s.log.Warning("settlement lock unavailable", logger.String("trip_id", tripID), logger.Error(err))
		return fn(ctx)
	}
	if !ok {
		return ErrSettlementInProgress
	}

	defer func() {
		if err := s.locker.ReleaseSettlementLock(context.WithoutCancel(ctx), tripID, token); err != nil {
			s.log.Warning("settlement lock release failed", logger.String("trip_id", tripID), logger.Error(err))
		}
	}()
	return fn(ctx)
}

func (s *EscrowService) cancelQuietly(ctx context.Context, paymentRef string) {
	if _, err := s.network.Cancel(ctx, paymentRef); err != nil {
		s.log.Warning("payment approval not cancelled", logger.String("payment_id", paymentRef), logger.Error(err))
	}
}

func networkError(op string, err error) error {
	if errors.Is(err, ErrPaymentNetwork) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrPaymentNetwork, op, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
