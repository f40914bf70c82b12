package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"

	"pitaxi/internal/repository"
	"pitaxi/internal/service"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details,omitempty"`
}

// respondError sends an error response with the appropriate HTTP status code.
// Server errors are reported to New Relic and answered without internals;
// client errors carry only the message of the sentinel they wrap.
func respondError(c *gin.Context, err error) {
	code := mapErrorToHTTPStatus(err)

	resp := ErrorResponse{Error: err.Error()}
	var fe *service.FieldError
	if errors.As(err, &fe) {
		resp = ErrorResponse{Error: fe.Err.Error(), Details: map[string]string{fe.Field: fe.Reason}}
	}

	switch {
	case code == http.StatusServiceUnavailable:
		resp.Error = service.ErrPaymentNetwork.Error()
		if errors.Is(err, service.ErrPaymentNotConfigured) {
			resp.Error = service.ErrPaymentNotConfigured.Error()
		}
		nrgin.Transaction(c).NoticeError(err)
	case code >= http.StatusInternalServerError:
		resp.Error = "internal server error"
		nrgin.Transaction(c).NoticeError(err)
	case fe == nil:
		resp.Error = rootCause(err).Error()
	}

	c.JSON(code, resp)
}

// rootCause follows a chain of single wraps down to the innermost error.
func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

// respondJSON sends a JSON response with the given status code.
func respondJSON(c *gin.Context, code int, data any) {
	c.JSON(code, data)
}

// badRequest answers a malformed body or parameter.
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

// mapErrorToHTTPStatus maps service/repository errors to HTTP status codes.
func mapErrorToHTTPStatus(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound

	// Validation errors - Bad Request
	case errors.Is(err, service.ErrInvalidDistance),
		errors.Is(err, service.ErrInvalidDuration),
		errors.Is(err, service.ErrInvalidSurge),
		errors.Is(err, service.ErrInvalidServiceType),
		errors.Is(err, service.ErrInvalidVehicleType),
		errors.Is(err, service.ErrInvalidLocation),
		errors.Is(err, service.ErrInvalidPricingConfig),
		errors.Is(err, service.ErrInvalidTripStatus),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrInvalidDispute),
		errors.Is(err, service.ErrInvalidPaymentRef),
		errors.Is(err, service.ErrInvalidDriverProfile),
		errors.Is(err, service.ErrInvalidRefundAmount):
		return http.StatusBadRequest

	case errors.Is(err, service.ErrInvalidAccessToken):
		return http.StatusUnauthorized

	// Forbidden errors
	case errors.Is(err, service.ErrForbidden),
		errors.Is(err, service.ErrNotDriver),
		errors.Is(err, service.ErrAdminRequired),
		errors.Is(err, service.ErrUserInactive):
		return http.StatusForbidden

	// Conflict errors
	case errors.Is(err, service.ErrTripAlreadyTaken),
		errors.Is(err, service.ErrDriverUnavailable),
		errors.Is(err, service.ErrTripStateConflict),
		errors.Is(err, service.ErrTripInProgress),
		errors.Is(err, service.ErrTripNotCompleted),
		errors.Is(err, service.ErrTripDisputed),
		errors.Is(err, service.ErrPaymentNotEscrowed),
		errors.Is(err, service.ErrPaymentTxMissing),
		errors.Is(err, service.ErrPaymentRefMismatch),
		errors.Is(err, service.ErrRefundNotAllowed),
		errors.Is(err, service.ErrEscrowAmountMismatch),
		errors.Is(err, service.ErrSettlementInProgress),
		errors.Is(err, service.ErrNoCounterparty),
		errors.Is(err, service.ErrDisputeOpen),
		errors.Is(err, service.ErrDisputeStateConflict),
		errors.Is(err, service.ErrAlreadyRated),
		errors.Is(err, service.ErrPricingAlreadyActive),
		errors.Is(err, service.ErrDriverExists),
		errors.Is(err, repository.ErrDuplicate):
		return http.StatusConflict

	// Service unavailable
	case errors.Is(err, service.ErrPaymentNetwork),
		errors.Is(err, service.ErrPaymentNotConfigured):
		return http.StatusServiceUnavailable

	// Default to internal server error
	default:
		return http.StatusInternalServerError
	}
}

// queryLimit reads ?limit=, falling back to def for missing or bad values.
func queryLimit(c *gin.Context, def int) int {
	n, err := strconv.Atoi(c.Query("limit"))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// formatTime renders timestamps as RFC 3339 in UTC.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
