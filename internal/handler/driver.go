package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pitaxi/internal/domain"
	"pitaxi/internal/middleware"
	"pitaxi/internal/service"
)

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	driverService *service.DriverService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService) *DriverHandler {
	return &DriverHandler{driverService: driverService}
}

// RegisterDriverRequest is the HTTP request body for driver registration.
type RegisterDriverRequest struct {
	VehicleType  string `json:"vehicle_type"`
	VehicleMake  string `json:"vehicle_make"`
	VehicleModel string `json:"vehicle_model"`
	VehiclePlate string `json:"vehicle_plate"`
}

// VerifyDriverRequest is the HTTP request body for an admin verification.
type VerifyDriverRequest struct {
	Status string `json:"status" binding:"required"`
}

// DriverResponse is the HTTP response for driver data.
type DriverResponse struct {
	UserID             string `json:"user_id"`
	VehicleType        string `json:"vehicle_type"`
	VehicleMake        string `json:"vehicle_make,omitempty"`
	VehicleModel       string `json:"vehicle_model,omitempty"`
	VehiclePlate       string `json:"vehicle_plate"`
	IsOnline           bool   `json:"is_online"`
	IsAvailable        bool   `json:"is_available"`
	VerificationStatus string `json:"verification_status"`
	TotalEarnings      string `json:"total_earnings"`
}

func toDriverResponse(d *domain.DriverProfile) DriverResponse {
	return DriverResponse{
		UserID:             d.UserID,
		VehicleType:        string(d.VehicleType),
		VehicleMake:        d.VehicleMake,
		VehicleModel:       d.VehicleModel,
		VehiclePlate:       d.VehiclePlate,
		IsOnline:           d.IsOnline,
		IsAvailable:        d.IsAvailable,
		VerificationStatus: string(d.VerificationStatus),
		TotalEarnings:      d.TotalEarnings.StringFixed(2),
	}
}

// Register handles POST /v1/drivers
func (h *DriverHandler) Register(c *gin.Context) {
	var req RegisterDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}

	profile, err := h.driverService.Register(c.Request.Context(), service.RegisterDriverRequest{
		UserID:       middleware.UserID(c),
		VehicleType:  domain.VehicleType(req.VehicleType),
		VehicleMake:  req.VehicleMake,
		VehicleModel: req.VehicleModel,
		VehiclePlate: req.VehiclePlate,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusCreated, toDriverResponse(profile))
}

// Me handles GET /v1/drivers/me
func (h *DriverHandler) Me(c *gin.Context) {
	profile, err := h.driverService.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(profile))
}

// GoOnline handles POST /v1/drivers/me/online
func (h *DriverHandler) GoOnline(c *gin.Context) {
	h.setOnline(c, true)
}

// GoOffline handles POST /v1/drivers/me/offline
func (h *DriverHandler) GoOffline(c *gin.Context) {
	h.setOnline(c, false)
}

func (h *DriverHandler) setOnline(c *gin.Context, online bool) {
	profile, err := h.driverService.SetOnline(c.Request.Context(), middleware.UserID(c), online)
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(profile))
}

// Verify handles POST /v1/admin/drivers/:id/verify
func (h *DriverHandler) Verify(c *gin.Context) {
	var req VerifyDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}

	profile, err := h.driverService.Verify(c.Request.Context(), c.Param("id"),
		middleware.UserID(c), domain.VerificationStatus(req.Status))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toDriverResponse(profile))
}
