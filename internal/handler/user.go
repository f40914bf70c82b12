package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pitaxi/internal/domain"
	"pitaxi/internal/middleware"
	"pitaxi/internal/service"
)

// UserHandler handles sign-in and user records.
type UserHandler struct {
	userService *service.UserService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(userService *service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// AuthenticateRequest is the HTTP request body for signing in.
type AuthenticateRequest struct {
	AccessToken string `json:"access_token" binding:"required"`
	ReferredBy  string `json:"referred_by"`
}

// UserResponse is the HTTP response for user data.
type UserResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	Rating      string `json:"rating"`
	RatingCount int    `json:"rating_count"`
	TotalTrips  int    `json:"total_trips"`
}

// SessionResponse is the HTTP response for a successful sign-in.
type SessionResponse struct {
	Token     string       `json:"token"`
	ExpiresAt string       `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// ReferralResponse is an agent's stats for one referred user.
type ReferralResponse struct {
	ReferredUserID  string `json:"referred_user_id"`
	TotalTrips      int    `json:"total_trips"`
	TotalCommission string `json:"total_commission"`
}

func toUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:          u.ID,
		Username:    u.Username,
		Role:        string(u.Role),
		Status:      string(u.Status),
		Rating:      u.Rating.StringFixed(2),
		RatingCount: u.RatingCount,
		TotalTrips:  u.TotalTrips,
	}
}

// Authenticate handles POST /v1/auth/pi
func (h *UserHandler) Authenticate(c *gin.Context) {
	var req AuthenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "access_token is required")
		return
	}

	session, err := h.userService.Authenticate(c.Request.Context(), service.AuthenticateRequest{
		AccessToken: req.AccessToken,
		ReferredBy:  req.ReferredBy,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, SessionResponse{
		Token:     session.Token,
		ExpiresAt: formatTime(session.ExpiresAt),
		User:      toUserResponse(session.User),
	})
}

// Me handles GET /v1/users/me
func (h *UserHandler) Me(c *gin.Context) {
	user, err := h.userService.Get(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	respondJSON(c, http.StatusOK, toUserResponse(user))
}

// Referrals handles GET /v1/users/me/referrals
func (h *UserHandler) Referrals(c *gin.Context) {
	refs, err := h.userService.Referrals(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}

	response := make([]ReferralResponse, 0, len(refs))
	for _, ref := range refs {
		response = append(response, ReferralResponse{
			ReferredUserID:  ref.ReferredUserID,
			TotalTrips:      ref.TotalTrips,
			TotalCommission: ref.TotalCommission.StringFixed(2),
		})
	}
	respondJSON(c, http.StatusOK, response)
}
