package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Response represents a standardized API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *Error      `json:"error,omitempty"`
}

// Error represents an error response
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// Common error codes
const (
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeBadRequest    = "BAD_REQUEST"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRiskDenied    = "RISK_DENIED"
	ErrCodeEngineStopped = "ENGINE_STOPPED"
	ErrCodeBrokerError   = "BROKER_REJECTED"
	ErrCodeBrokerTimeout = "BROKER_TIMEOUT"
)

// Handle processes the error and returns the appropriate generic response.
// Handlers map their own domain errors before falling back to this.
func Handle(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		NotFound(c, "Resource not found")
	default:
		InternalError(c, "An unexpected error occurred")
	}
}

// Success sends a successful response
func Success(c *gin.Context, data interface{}) {
	status := http.StatusOK
	if c.Request.Method == "POST" {
		status = http.StatusCreated
	}

	c.JSON(status, Response{
		Success: true,
		Data:    data,
	})
}

// NotFound sends a 404 response
func NotFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeNotFound,
			Message: message,
		},
	})
}

// BadRequest sends a 400 response
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBadRequest,
			Message: message,
		},
	})
}

// Unauthorized sends a 401 response
func Unauthorized(c *gin.Context, message string) {
	c.JSON(http.StatusUnauthorized, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeUnauthorized,
			Message: message,
		},
	})
}

// Forbidden sends a 403 response
func Forbidden(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeForbidden,
			Message: message,
		},
	})
}

// RiskDenied sends a 403 response carrying the machine-readable denial
// reason so callers can tell a tripped breaker from a cap violation.
func RiskDenied(c *gin.Context, reason, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeRiskDenied,
			Message: message,
			Reason:  reason,
		},
	})
}

// EngineStopped sends a 403 response for autonomous trades while stopped
func EngineStopped(c *gin.Context, message string) {
	c.JSON(http.StatusForbidden, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeEngineStopped,
			Message: message,
		},
	})
}

// BrokerRejected sends a 502 response for brokerage-side failures
func BrokerRejected(c *gin.Context, message string) {
	c.JSON(http.StatusBadGateway, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBrokerError,
			Message: message,
		},
	})
}

// BrokerTimeout sends a 504 response for brokerage calls that hit their deadline
func BrokerTimeout(c *gin.Context, message string) {
	c.JSON(http.StatusGatewayTimeout, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeBrokerTimeout,
			Message: message,
		},
	})
}

// InternalError sends a 500 response
func InternalError(c *gin.Context, message string) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error: &Error{
			Code:    ErrCodeInternalError,
			Message: message,
		},
	})
}
