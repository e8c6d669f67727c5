package execution

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"

	"tradebot/internal/broker"
	"tradebot/internal/risk"
	"tradebot/internal/sizing"
	"tradebot/internal/types"
	"tradebot/pkg/response"
)

// GinHandlers contains HTTP handlers for the execution endpoints
type GinHandlers struct {
	controller *Controller
	riskMgr    *risk.Manager
}

// NewGinHandlers creates a new set of HTTP handlers for the execution endpoints
func NewGinHandlers(controller *Controller, riskManager *risk.Manager) *GinHandlers {
	return &GinHandlers{
		controller: controller,
		riskMgr:    riskManager,
	}
}

// StartHandler handles POST requests to enable autonomous trading.
// Repeated starts are no-ops returning the current state.
func (h *GinHandlers) StartHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := h.controller.Start()
		response.Success(c, gin.H{
			"state":        state,
			"message":      "autonomous trading active",
			"risk_metrics": h.riskMgr.Metrics(time.Now()),
		})
	}
}

// StopHandler handles POST requests to disable autonomous trading.
// Stopping never cancels orders already at the brokerage.
func (h *GinHandlers) StopHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		state := h.controller.Stop()
		response.Success(c, gin.H{
			"state":   state,
			"message": "autonomous trading stopped",
		})
	}
}

// ExecuteTradeHandler handles POST requests to execute a single trade.
// Requests arriving here are manual by definition: they are the explicit
// override path that works even while the engine is stopped.
func (h *GinHandlers) ExecuteTradeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TradeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		req.Source = types.SourceManual

		result, err := h.controller.ExecuteTrade(c.Request.Context(), req)
		if err != nil {
			handleTradeError(c, err)
			return
		}
		response.Success(c, result)
	}
}

// handleTradeError maps the trade-execution error taxonomy onto HTTP
// responses.
func handleTradeError(c *gin.Context, err error) {
	var deniedErr *risk.DeniedError
	switch {
	case errors.As(err, &deniedErr):
		response.RiskDenied(c, deniedErr.Reason, deniedErr.Detail)
	case errors.Is(err, ErrEngineStopped):
		response.EngineStopped(c, err.Error())
	case errors.Is(err, sizing.ErrInvalidSignal):
		response.BadRequest(c, err.Error())
	case errors.Is(err, broker.ErrTimeout):
		response.BrokerTimeout(c, err.Error())
	case errors.Is(err, broker.ErrRejected):
		response.BrokerRejected(c, err.Error())
	default:
		response.InternalError(c, err.Error())
	}
}
