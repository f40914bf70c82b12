package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"pitaxi/internal/domain"
	"pitaxi/internal/logger"
	"pitaxi/internal/pinetwork"
	"pitaxi/internal/repository/memory"
)

// ──────────────────────────────────────────────
// Payment network
// ──────────────────────────────────────────────

type fakeNetwork struct {
	mu          sync.Mutex
	payments    map[string]*pinetwork.Payment
	failUIDs    map[string]error
	completeErr error
	transfers   []pinetwork.TransferRequest
	completed   int
	cancelled   int
	approved    int
	seq         int
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{
		payments: make(map[string]*pinetwork.Payment),
		failUIDs: make(map[string]error),
	}
}

// addPayment registers a user-initiated payment the rider has created.
func (n *fakeNetwork) addPayment(id, userUID string, amount decimal.Decimal, txID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := &pinetwork.Payment{
		Identifier: id,
		UserUID:    userUID,
		Amount:     amount,
		Memo:       "Trip payment",
		Network:    "Pi Testnet",
		Direction:  "user_to_app",
	}
	if txID != "" {
		p.Transaction = &pinetwork.Transaction{TxID: txID, Verified: true}
	}
	n.payments[id] = p
}

func (n *fakeNetwork) failTransfersTo(uid string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failUIDs[uid] = err
}

func (n *fakeNetwork) lookup(op, id string) (*pinetwork.Payment, error) {
	p, ok := n.payments[id]
	if !ok {
		return nil, &pinetwork.APIError{StatusCode: 404, Operation: op}
	}
	return p, nil
}

func (n *fakeNetwork) Approve(_ context.Context, id string) (*pinetwork.Payment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, err := n.lookup("approve", id)
	if err != nil {
		return nil, err
	}
	n.approved++
	p.Status.DeveloperApproved = true
	out := *p
	return &out, nil
}

func (n *fakeNetwork) Complete(_ context.Context, id, txID string) (*pinetwork.Payment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.completeErr != nil {
		return nil, n.completeErr
	}
	p, err := n.lookup("complete", id)
	if err != nil {
		return nil, err
	}
	n.completed++
	p.Status.DeveloperCompleted = true
	p.Transaction = &pinetwork.Transaction{TxID: txID, Verified: true}
	out := *p
	return &out, nil
}

func (n *fakeNetwork) Cancel(_ context.Context, id string) (*pinetwork.Payment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, err := n.lookup("cancel", id)
	if err != nil {
		return nil, err
	}
	n.cancelled++
	p.Status.Cancelled = true
	out := *p
	return &out, nil
}

func (n *fakeNetwork) Status(_ context.Context, id string) (*pinetwork.Payment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, err := n.lookup("status", id)
	if err != nil {
		return nil, err
	}
	out := *p
	return &out, nil
}

func (n *fakeNetwork) Transfer(_ context.Context, req pinetwork.TransferRequest) (*pinetwork.Payment, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.transfers = append(n.transfers, req)
	if err := n.failUIDs[req.RecipientUID]; err != nil {
		return nil, err
	}
	n.seq++
	return &pinetwork.Payment{
		Identifier:  fmt.Sprintf("a2u-%d", n.seq),
		UserUID:     req.RecipientUID,
		Amount:      req.Amount,
		Memo:        req.Memo,
		Direction:   "app_to_user",
		Transaction: &pinetwork.Transaction{TxID: fmt.Sprintf("chain-a2u-%d", n.seq)},
	}, nil
}

func (n *fakeNetwork) transferCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.transfers)
}

func (n *fakeNetwork) counts() (approved, completed, cancelled int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.approved, n.completed, n.cancelled
}

// ──────────────────────────────────────────────
// Settlement lock
// ──────────────────────────────────────────────

type fakeLocker struct {
	mu    sync.Mutex
	held  map[string]string
	err   error
	token int
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (l *fakeLocker) AcquireSettlementLock(_ context.Context, tripID string, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[tripID]; ok {
		return "", false, nil
	}
	l.token++
	token := fmt.Sprintf("token-%d", l.token)
	l.held[tripID] = token
	return token, true, nil
}

func (l *fakeLocker) ReleaseSettlementLock(_ context.Context, tripID, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	if l.held[tripID] == token {
		delete(l.held, tripID)
	}
	return nil
}

// ──────────────────────────────────────────────
// Pricing cache and event stream
// ──────────────────────────────────────────────

type fakePricingCache struct {
	mu          sync.Mutex
	cfg         *domain.PricingConfig
	invalidated int
}

func (c *fakePricingCache) GetActivePricing(context.Context) (*domain.PricingConfig, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg, nil
}

func (c *fakePricingCache) SetActivePricing(_ context.Context, cfg *domain.PricingConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *cfg
	c.cfg = &cp
	return nil
}

func (c *fakePricingCache) InvalidateActivePricing(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = nil
	c.invalidated++
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.TransparencyEvent
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, entry *domain.TransparencyLog) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, entry.EventType)
	return nil
}

func (p *fakePublisher) published() []domain.TransparencyEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.TransparencyEvent(nil), p.events...)
}

// ──────────────────────────────────────────────
// Fixture
// ──────────────────────────────────────────────

const treasuryUID = "pi-treasury"

type testEnv struct {
	store     *memory.Store
	network   *fakeNetwork
	locker    *fakeLocker
	publisher *fakePublisher
	audit     *AuditLog
	pricing   *PricingService
	escrow    *EscrowService
	trips     *TripService
	drivers   *DriverService
	disputes  *DisputeService

	rider  *domain.User
	driver *domain.User
	agent  *domain.User
	admin  *domain.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	log := logger.NewNop()
	store := memory.NewStore()
	network := newFakeNetwork()
	locker := newFakeLocker()
	publisher := &fakePublisher{}

	audit := NewAuditLog(store, publisher, log)
	pricing := NewPricingService(store, nil, NewSurgeService(store, log), audit, log)
	escrow := NewEscrowService(store, network, locker, audit, log, EscrowConfig{TreasuryUID: treasuryUID})

	env := &testEnv{
		store:     store,
		network:   network,
		locker:    locker,
		publisher: publisher,
		audit:     audit,
		pricing:   pricing,
		escrow:    escrow,
		trips:     NewTripService(store, pricing, escrow, audit, log),
		drivers:   NewDriverService(store, audit, log),
		disputes:  NewDisputeService(store, escrow, audit, log),
	}

	env.rider = env.seedUser(t, "rider-1", domain.UserRoleRider, "")
	env.driver = env.seedUser(t, "driver-1", domain.UserRoleRider, "")
	env.agent = env.seedUser(t, "agent-1", domain.UserRoleAgent, "")
	env.admin = env.seedUser(t, "admin-1", domain.UserRoleAdmin, "")
	env.seedDriver(t, env.driver.ID)
	return env
}

func (e *testEnv) seedUser(t *testing.T, id string, role domain.UserRole, referredBy string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:         id,
		PiUID:      "pi-" + id,
		Username:   id,
		Role:       role,
		Status:     domain.UserStatusActive,
		Rating:     decimal.NewFromInt(5),
		ReferredBy: referredBy,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.Repos().Users.Create(context.Background(), u); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
	return u
}

// seedDriver adds a verified, online and available driver profile.
func (e *testEnv) seedDriver(t *testing.T, userID string) {
	t.Helper()
	err := e.store.Repos().Drivers.Create(context.Background(), &domain.DriverProfile{
		UserID:             userID,
		VehicleType:        domain.VehicleTypeEconomy,
		VehiclePlate:       "PI-" + userID,
		IsOnline:           true,
		IsAvailable:        true,
		VerificationStatus: domain.VerificationVerified,
		TotalEarnings:      decimal.Zero,
	})
	if err != nil {
		t.Fatalf("seed driver %s: %v", userID, err)
	}
}

// requestTrip creates a 5.2 km / 12 min economy trip for riderID.
func (e *testEnv) requestTrip(t *testing.T, riderID string) *domain.Trip {
	t.Helper()
	trip, err := e.trips.Create(context.Background(), CreateTripRequest{
		RiderID:         riderID,
		Pickup:          domain.Location{Lat: 6.5244, Lng: 3.3792, Address: "Marina"},
		Dropoff:         domain.Location{Lat: 6.4281, Lng: 3.4219, Address: "Lekki"},
		DistanceKm:      decimal.RequireFromString("5.2"),
		DurationMinutes: decimal.NewFromInt(12),
	})
	if err != nil {
		t.Fatalf("create trip: %v", err)
	}
	return trip
}

func (e *testEnv) acceptedTrip(t *testing.T) *domain.Trip {
	t.Helper()
	trip := e.requestTrip(t, e.rider.ID)
	if _, err := e.trips.Assign(context.Background(), trip.ID, e.driver.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}
	return e.getTrip(t, trip.ID)
}

// fund approves a payment for the trip's fare. An empty txID leaves the
// blockchain transaction to the completion callback.
func (e *testEnv) fund(t *testing.T, tripID, paymentRef, txID string) *domain.Trip {
	t.Helper()
	trip := e.getTrip(t, tripID)
	e.network.addPayment(paymentRef, e.rider.PiUID, trip.EstimatedFare, txID)
	funded, err := e.escrow.FundEscrow(context.Background(), tripID, paymentRef, trip.RiderID)
	if err != nil {
		t.Fatalf("fund escrow: %v", err)
	}
	return funded
}

func (e *testEnv) start(t *testing.T, tripID string) {
	t.Helper()
	if _, err := e.trips.Advance(context.Background(), tripID, e.driver.ID, domain.TripStatusInProgress); err != nil {
		t.Fatalf("start trip: %v", err)
	}
}

func (e *testEnv) finish(t *testing.T, tripID string) {
	t.Helper()
	if _, err := e.trips.Advance(context.Background(), tripID, e.driver.ID, domain.TripStatusCompleted); err != nil {
		t.Fatalf("complete trip: %v", err)
	}
}

// inProgressTrip returns a funded, started trip.
func (e *testEnv) inProgressTrip(t *testing.T, paymentRef, txID string) *domain.Trip {
	t.Helper()
	trip := e.acceptedTrip(t)
	e.fund(t, trip.ID, paymentRef, txID)
	e.start(t, trip.ID)
	return e.getTrip(t, trip.ID)
}

// completedTrip returns a trip the driver has completed. With a txID the
// release runs during completion.
func (e *testEnv) completedTrip(t *testing.T, paymentRef, txID string) *domain.Trip {
	t.Helper()
	trip := e.inProgressTrip(t, paymentRef, txID)
	e.finish(t, trip.ID)
	return e.getTrip(t, trip.ID)
}

func (e *testEnv) getTrip(t *testing.T, id string) *domain.Trip {
	t.Helper()
	trip, err := e.store.Repos().Trips.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get trip %s: %v", id, err)
	}
	return trip
}

func (e *testEnv) getUser(t *testing.T, id string) *domain.User {
	t.Helper()
	u, err := e.store.Repos().Users.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get user %s: %v", id, err)
	}
	return u
}

func (e *testEnv) rows(t *testing.T, tripID string) []*domain.PaymentTransaction {
	t.Helper()
	rows, err := e.store.Repos().Transactions.ListByTrip(context.Background(), tripID)
	if err != nil {
		t.Fatalf("list transactions: %v", err)
	}
	return rows
}

func rowsOfType(rows []*domain.PaymentTransaction, txType domain.TransactionType) []*domain.PaymentTransaction {
	var out []*domain.PaymentTransaction
	for _, r := range rows {
		if r.Type == txType {
			out = append(out, r)
		}
	}
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertAmount(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Errorf("%s: expected %s, got %s", name, want, got.StringFixed(2))
	}
}

var errTransferRejected = errors.New("recipient wallet not found")
