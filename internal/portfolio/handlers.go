package portfolio

import (
	"errors"

	"github.com/gin-gonic/gin"

	"tradebot/internal/broker"
	"tradebot/pkg/response"
)

// GinHandlers contains HTTP handlers for the portfolio endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for the portfolio endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// StatusHandler handles GET requests for the live portfolio view
func (h *GinHandlers) StatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := h.service.Status(c.Request.Context())
		if err != nil {
			handleBrokerError(c, err)
			return
		}
		response.Success(c, status)
	}
}

// PerformanceHandler handles GET requests for performance metrics
func (h *GinHandlers) PerformanceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		performance, err := h.service.Performance()
		response.Handle(c, performance, err)
	}
}

// HistoryHandler handles GET requests for the full trade history
func (h *GinHandlers) HistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		trades, err := h.service.History()
		response.Handle(c, trades, err)
	}
}

// ClosePositionHandler handles POST requests to close one position
// URL parameter: symbol
func (h *GinHandlers) ClosePositionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		symbol := c.Param("symbol")
		if symbol == "" {
			response.BadRequest(c, "Symbol is required")
			return
		}

		closed, err := h.service.ClosePosition(c.Request.Context(), symbol)
		if err != nil {
			if errors.Is(err, ErrNoSuchPosition) {
				response.NotFound(c, err.Error())
				return
			}
			handleBrokerError(c, err)
			return
		}
		response.Success(c, closed)
	}
}

// CloseAllHandler handles POST requests for emergency liquidation. The
// per-symbol result list is returned even when some closes fail.
func (h *GinHandlers) CloseAllHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		results, err := h.service.CloseAll(c.Request.Context())
		if err != nil {
			handleBrokerError(c, err)
			return
		}
		response.Success(c, gin.H{
			"closed_positions": len(results),
			"results":          results,
		})
	}
}

func handleBrokerError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, broker.ErrTimeout):
		response.BrokerTimeout(c, err.Error())
	case errors.Is(err, broker.ErrRejected):
		response.BrokerRejected(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}
