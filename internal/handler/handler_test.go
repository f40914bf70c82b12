package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"pitaxi/internal/auth"
	"pitaxi/internal/domain"
	"pitaxi/internal/logger"
	"pitaxi/internal/middleware"
	"pitaxi/internal/repository"
	"pitaxi/internal/repository/memory"
	"pitaxi/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// tokenAsUser treats the bearer token as the user id; the role comes from the store.
type tokenAsUser struct {
	store *memory.Store
}

func (p tokenAsUser) Parse(raw string) (*auth.Claims, error) {
	u, err := p.store.Repos().Users.GetByID(context.Background(), raw)
	if err != nil {
		return nil, auth.ErrInvalidToken
	}
	return &auth.Claims{UserID: u.ID, Role: u.Role}, nil
}

type testServer struct {
	router *gin.Engine
	store  *memory.Store
}

// newTestServer wires the handlers over a memory store without a payment
// network: payment routes answer 503.
func newTestServer(t *testing.T) *testServer {
	t.Helper()

	log := logger.NewNop()
	store := memory.NewStore()
	audit := service.NewAuditLog(store, nil, log)
	pricing := service.NewPricingService(store, nil, service.NewSurgeService(store, log), audit, log)
	escrow := service.NewEscrowService(store, nil, nil, audit, log, service.EscrowConfig{})
	trips := service.NewTripService(store, pricing, escrow, audit, log)

	tripHandler := NewTripHandler(trips, escrow)
	paymentHandler := NewPaymentHandler(escrow)
	pricingHandler := NewPricingHandler(pricing)
	transparencyHandler := NewTransparencyHandler(audit)

	router := gin.New()
	v1 := router.Group("/v1")
	v1.POST("/fares/calculate", pricingHandler.CalculateFare)
	v1.GET("/pricing/active", pricingHandler.Active)
	v1.GET("/transparency/logs", transparencyHandler.Logs)
	v1.GET("/transparency/treasury", transparencyHandler.Treasury)

	authed := v1.Group("", middleware.Auth(tokenAsUser{store: store}))
	authed.POST("/trips", tripHandler.CreateTrip)
	authed.GET("/trips/:id", tripHandler.GetTrip)
	authed.POST("/trips/:id/accept", tripHandler.AcceptTrip)
	authed.POST("/payments/approve", paymentHandler.Approve)
	authed.POST("/admin/pricing", pricingHandler.Create)

	s := &testServer{router: router, store: store}
	s.seedUser(t, "rider-1", domain.UserRoleRider)
	s.seedUser(t, "driver-1", domain.UserRoleRider)
	s.seedUser(t, "outsider-1", domain.UserRoleRider)
	s.seedUser(t, "admin-1", domain.UserRoleAdmin)
	if err := store.Repos().Drivers.Create(context.Background(), &domain.DriverProfile{
		UserID:             "driver-1",
		VehicleType:        domain.VehicleTypeEconomy,
		VehiclePlate:       "PI-1",
		IsOnline:           true,
		IsAvailable:        true,
		VerificationStatus: domain.VerificationVerified,
	}); err != nil {
		t.Fatalf("seed driver: %v", err)
	}
	return s
}

func (s *testServer) seedUser(t *testing.T, id string, role domain.UserRole) {
	t.Helper()
	if err := s.store.Repos().Users.Create(context.Background(), &domain.User{
		ID:        id,
		PiUID:     "pi-" + id,
		Username:  id,
		Role:      role,
		Status:    domain.UserStatusActive,
		Rating:    decimal.NewFromInt(5),
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+userID)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

var tripBody = map[string]any{
	"pickup":           map[string]any{"lat": 6.5244, "lng": 3.3792, "address": "Marina"},
	"dropoff":          map[string]any{"lat": 6.4281, "lng": 3.4219, "address": "Lekki"},
	"distance_km":      5.2,
	"duration_minutes": 12,
}

// ──────────────────────────────────────────────
// Public routes
// ──────────────────────────────────────────────

func TestCalculateFare_Handler(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/v1/fares/calculate", "", map[string]any{
		"distance_km":      "5.2",
		"duration_minutes": "12",
		"has_agent":        true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	fare := decode[FareResponse](t, w)
	if fare.TotalFare != "21.40" || fare.AgentCommission != "1.07" || fare.DriverPayout != "18.19" {
		t.Errorf("unexpected fare %+v", fare)
	}
	if len(fare.Breakdown) == 0 {
		t.Error("expected breakdown lines")
	}

	w = s.do(t, http.MethodPost, "/v1/fares/calculate", "", map[string]any{"distance_km": 0, "duration_minutes": 12})
	if w.Code != http.StatusBadRequest {
		t.Errorf("zero distance: status = %d, want 400", w.Code)
	}
}

func TestActivePricing_Handler(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/v1/pricing/active", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	cfg := decode[PricingResponse](t, w)
	if cfg.ID != domain.DefaultPricingConfigID {
		t.Errorf("expected default config, got %q", cfg.ID)
	}
}

// ──────────────────────────────────────────────
// Trips
// ──────────────────────────────────────────────

func TestCreateTrip_Handler(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	if w := s.do(t, http.MethodPost, "/v1/trips", "", tripBody); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous: status = %d, want 401", w.Code)
	}

	w := s.do(t, http.MethodPost, "/v1/trips", "rider-1", tripBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	trip := decode[TripResponse](t, w)
	if !strings.HasPrefix(trip.TripNumber, "TRP-") {
		t.Errorf("unexpected trip number %q", trip.TripNumber)
	}
	if trip.EstimatedFare != "21.40" || trip.TreasuryFee != "2.14" || trip.DriverPayout != "19.26" {
		t.Errorf("unexpected split %+v", trip)
	}
	if trip.Status != string(domain.TripStatusRequested) || trip.PaymentStatus != string(domain.PaymentStatusPending) {
		t.Errorf("unexpected status %s/%s", trip.Status, trip.PaymentStatus)
	}

	if w := s.do(t, http.MethodGet, "/v1/trips/"+trip.ID, "outsider-1", nil); w.Code != http.StatusNotFound {
		t.Errorf("outsider: status = %d, want 404", w.Code)
	}
	if w := s.do(t, http.MethodGet, "/v1/trips/"+trip.ID, "admin-1", nil); w.Code != http.StatusOK {
		t.Errorf("admin: status = %d, want 200", w.Code)
	}

	w = s.do(t, http.MethodPost, "/v1/trips/"+trip.ID+"/accept", "driver-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: status = %d, body %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, "/v1/trips/"+trip.ID+"/accept", "driver-1", nil); w.Code != http.StatusConflict {
		t.Errorf("second accept: status = %d, want 409", w.Code)
	}
}

func TestCreateTrip_ValidationDetails(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := map[string]any{
		"pickup":           map[string]any{"lat": 95, "lng": 3.3},
		"dropoff":          map[string]any{"lat": 6.4, "lng": 3.4},
		"distance_km":      5,
		"duration_minutes": 10,
	}
	w := s.do(t, http.MethodPost, "/v1/trips", "rider-1", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	resp := decode[ErrorResponse](t, w)
	if resp.Error != service.ErrInvalidLocation.Error() {
		t.Errorf("unexpected error %q", resp.Error)
	}
	if len(resp.Details) == 0 {
		t.Error("expected field details")
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/trips", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer rider-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body: status = %d, want 400", rec.Code)
	}
}

// ──────────────────────────────────────────────
// Payments, admin and transparency
// ──────────────────────────────────────────────

func TestApprovePayment_NotConfigured(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	trip := decode[TripResponse](t, s.do(t, http.MethodPost, "/v1/trips", "rider-1", tripBody))

	w := s.do(t, http.MethodPost, "/v1/payments/approve", "rider-1", map[string]any{
		"trip_id":    trip.ID,
		"payment_id": "pay-1",
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if resp := decode[ErrorResponse](t, w); resp.Error != service.ErrPaymentNotConfigured.Error() {
		t.Errorf("unexpected error %q", resp.Error)
	}
}

func TestCreatePricing_AdminOnly(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	body := map[string]any{
		"name":                     "Weekend",
		"base_fare":                "6",
		"per_km_rate":              "2",
		"per_minute_rate":          "0.5",
		"minimum_fare":             "8",
		"treasury_fee_percent":     "10",
		"agent_commission_percent": "5",
	}
	if w := s.do(t, http.MethodPost, "/v1/admin/pricing", "rider-1", body); w.Code != http.StatusForbidden {
		t.Errorf("rider: status = %d, want 403", w.Code)
	}

	w := s.do(t, http.MethodPost, "/v1/admin/pricing", "admin-1", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("admin: status = %d, body %s", w.Code, w.Body.String())
	}
	if cfg := decode[PricingResponse](t, w); cfg.IsActive {
		t.Error("expected a new config to be inactive")
	}
}

func TestTransparencyLogs_Handler(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	trip := decode[TripResponse](t, s.do(t, http.MethodPost, "/v1/trips", "rider-1", tripBody))

	w := s.do(t, http.MethodGet, "/v1/transparency/logs?trip_id="+trip.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	logs := decode[[]LogResponse](t, w)
	if len(logs) != 1 || logs[0].EventType != string(domain.EventTripRequested) {
		t.Fatalf("unexpected logs %+v", logs)
	}
	if _, ok := logs[0].Data["rider_id"]; ok {
		t.Error("public data must not carry the rider id")
	}

	w = s.do(t, http.MethodGet, "/v1/transparency/treasury", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("treasury: status = %d", w.Code)
	}
	if treasury := decode[TreasuryResponse](t, w); treasury.Balance != "0.00" {
		t.Errorf("expected empty treasury, got %s", treasury.Balance)
	}
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{repository.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("wrap: %w", service.ErrInvalidRating), http.StatusBadRequest},
		{service.ErrInvalidAccessToken, http.StatusUnauthorized},
		{service.ErrAdminRequired, http.StatusForbidden},
		{service.ErrTripDisputed, http.StatusConflict},
		{service.ErrSettlementInProgress, http.StatusConflict},
		{service.ErrPaymentNetwork, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := mapErrorToHTTPStatus(tt.err); got != tt.want {
			t.Errorf("mapErrorToHTTPStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRespondError_ClientErrorsHideInternals(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{
			name:     "wrapped conflict",
			err:      fmt.Errorf("leg %s: %w", "0b5e7c1a-row", service.ErrTripStateConflict),
			wantCode: http.StatusConflict,
			wantMsg:  service.ErrTripStateConflict.Error(),
		},
		{
			name:     "wrapped not found",
			err:      fmt.Errorf("trip t-42: %w", repository.ErrNotFound),
			wantCode: http.StatusNotFound,
			wantMsg:  repository.ErrNotFound.Error(),
		},
		{
			name:     "plain sentinel",
			err:      service.ErrRefundNotAllowed,
			wantCode: http.StatusConflict,
			wantMsg:  service.ErrRefundNotAllowed.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			respondError(c, tt.err)

			if w.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantCode)
			}
			body := decode[ErrorResponse](t, w)
			if body.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", body.Error, tt.wantMsg)
			}
		})
	}
}
