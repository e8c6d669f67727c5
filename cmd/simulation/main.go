package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tradebot/internal/auth"
	"tradebot/internal/broker/paper"
	"tradebot/internal/database"
	"tradebot/internal/execution"
	"tradebot/internal/history"
	"tradebot/internal/portfolio"
	"tradebot/internal/risk"
	"tradebot/pkg/middleware"
)

const (
	serverAddress = "http://localhost:8080"
	numWorkers    = 4
	minTrades     = 20
	maxTrades     = 60

	simAPIKey    = "sim-api-key"
	simAPISecret = "sim-api-secret"
	simJWTSecret = "sim-jwt-secret"

	startingCash = 100000.0
)

// Simulated market. Prices are seeded into the paper brokerage before the
// first trade is submitted.
var marketPrices = map[string]float64{
	"AAPL":    232.50,
	"MSFT":    418.20,
	"GOOGL":   187.60,
	"TSLA":    348.90,
	"NVDA":    138.75,
	"BTC/USD": 97250.00,
	"ETH/USD": 3410.00,
}

var symbols = []string{"AAPL", "MSFT", "GOOGL", "TSLA", "NVDA", "BTC/USD", "ETH/USD"}
var signals = []string{"buy", "buy", "buy", "sell", "hold"}

func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	mu         sync.Mutex
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

func (rs *routeStats) addFailure() {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	// Sort durations for percentile calculations
	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	// Calculate mean
	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	// Calculate median
	median = rs.durations[len(rs.durations)/2]

	// Calculate percentiles
	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the engine API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client
// It authenticates with the API and prepares performance tracking
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":        {name: "Authentication"},
			"start":       {name: "Engine Start"},
			"trade":       {name: "Execute Trade"},
			"status":      {name: "Portfolio Status"},
			"performance": {name: "Performance"},
			"close_all":   {name: "Close All"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    simAPIKey,
		"api_secret": simAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// post sends an authenticated POST request and returns the response body
func (sc *simulationClient) post(route, path string, payload any) (int, []byte, error) {
	start := time.Now()
	defer func() {
		sc.stats[route].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest("POST", sc.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sc.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[route].addFailure()
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, respBody, nil
}

// get sends an authenticated GET request and returns the response body
func (sc *simulationClient) get(route, path string) ([]byte, error) {
	start := time.Now()
	defer func() {
		sc.stats[route].addDuration(time.Since(start))
	}()

	req, err := http.NewRequest("GET", sc.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+sc.authToken)

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[route].addFailure()
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		sc.stats[route].addFailure()
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(body))
	}

	return io.ReadAll(resp.Body)
}

// executeTrade submits a single trade signal to the engine
// Returns the result status ("executed", "skipped") or the API error code
func (sc *simulationClient) executeTrade(symbol, signal string, confidence float64) (string, error) {
	payload := map[string]any{
		"symbol":     symbol,
		"side":       signal,
		"confidence": confidence,
		"reason":     "simulation signal",
	}

	status, body, err := sc.post("trade", "/api/v1/execute/trade", payload)
	if err != nil {
		return "", err
	}

	if status == http.StatusOK || status == http.StatusCreated {
		var result struct {
			Data struct {
				Status  string `json:"status"`
				OrderID string `json:"order_id"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &result); err != nil {
			return "", fmt.Errorf("failed to decode response: %w, body: %s", err, string(body))
		}
		return result.Data.Status, nil
	}

	// Risk denials and engine-state refusals come back as structured
	// errors. They are expected outcomes of the simulation, not bugs.
	var errResult struct {
		Error struct {
			Code   string `json:"code"`
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResult); err != nil {
		return "", fmt.Errorf("trade failed with status %d: %s", status, string(body))
	}
	if errResult.Error.Reason != "" {
		return errResult.Error.Reason, nil
	}
	return errResult.Error.Code, nil
}

func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nAPI Performance Statistics")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-20s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	for _, stats := range sc.stats {
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-20s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

// main runs the trading simulation
// It starts a local engine backed by a paper brokerage and drives it with
// multiple concurrent signal workers
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	// Enable autonomous mode so the engine reports a running state, then
	// drive it with manual signals.
	if status, body, err := simClient.post("start", "/api/v1/execute/start", nil); err != nil || status >= http.StatusBadRequest {
		log.Fatal().Err(err).Int("status", status).Str("body", string(body)).Msg("Failed to start engine")
	}

	targetTrades := rand.Intn(maxTrades-minTrades) + minTrades
	log.Info().Int("target_trades", targetTrades).Msg("Starting simulation")

	outcomes := make(chan string, targetTrades)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runSignalWorker(workerID, targetTrades/numWorkers, simClient, outcomes)
		}(i)
	}

	wg.Wait()
	close(outcomes)

	// Tally outcomes by status
	counts := make(map[string]int)
	total := 0
	for outcome := range outcomes {
		counts[outcome]++
		total++
	}

	statusBody, err := simClient.get("status", "/api/v1/portfolio/status")
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch portfolio status")
	}

	if _, err := simClient.get("performance", "/api/v1/portfolio/performance"); err != nil {
		log.Error().Err(err).Msg("Failed to fetch performance")
	}

	closeStatus, closeBody, err := simClient.post("close_all", "/api/v1/portfolio/close_all", nil)
	if err != nil || closeStatus >= http.StatusBadRequest {
		log.Error().Err(err).Int("status", closeStatus).Msg("Failed to close positions")
	}

	var closeResult struct {
		Data struct {
			ClosedPositions int `json:"closed_positions"`
		} `json:"data"`
	}
	_ = json.Unmarshal(closeBody, &closeResult)

	var portfolioStatus struct {
		Data struct {
			Account struct {
				Equity float64 `json:"equity"`
				Cash   float64 `json:"cash"`
			} `json:"account"`
			RiskMetrics struct {
				DailyPnL     float64 `json:"daily_pnl"`
				DailyLossPct float64 `json:"daily_loss_pct"`
				ExposurePct  float64 `json:"portfolio_exposure_pct"`
				CanTrade     bool    `json:"can_trade"`
			} `json:"risk_metrics"`
		} `json:"data"`
	}
	_ = json.Unmarshal(statusBody, &portfolioStatus)

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("TRADING SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
Signal Outcomes
---------------
Total Signals:   %d
`, total)
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		barLength := int(float64(counts[k]) / float64(total) * 20)
		bar := strings.Repeat("#", barLength)
		fmt.Printf("%-20s: %s (%d)\n", k, bar, counts[k])
	}

	fmt.Printf(`
Portfolio
---------
Equity:          $%.2f
Cash:            $%.2f
Daily P&L:       $%.2f
Exposure:        %.2f%%
Can Trade:       %v
Closed At End:   %d
`,
		portfolioStatus.Data.Account.Equity,
		portfolioStatus.Data.Account.Cash,
		portfolioStatus.Data.RiskMetrics.DailyPnL,
		portfolioStatus.Data.RiskMetrics.ExposurePct,
		portfolioStatus.Data.RiskMetrics.CanTrade,
		closeResult.Data.ClosedPositions)

	fmt.Println("\n" + strings.Repeat("=", 80))

	simClient.printPerformanceStats()
}

// runSignalWorker generates and submits random trade signals to the API
// Runs as a worker goroutine, sending outcome statuses to outcomes
func runSignalWorker(workerID, numTrades int, simClient *simulationClient, outcomes chan<- string) {
	for i := 0; i < numTrades; i++ {
		symbol := symbols[rand.Intn(len(symbols))]
		signal := signals[rand.Intn(len(signals))]
		confidence := 0.5 + rand.Float64()*0.45

		outcome, err := simClient.executeTrade(symbol, signal, confidence)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("symbol", symbol).
				Msg("Failed to execute trade")
			simClient.stats["trade"].addFailure()
			continue
		}

		outcomes <- outcome
		log.Info().
			Int("worker_id", workerID).
			Str("symbol", symbol).
			Str("signal", signal).
			Float64("confidence", confidence).
			Str("outcome", outcome).
			Msg("Signal processed")

		// Random sleep between signals
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// startServer initializes and starts the engine API server backed by a
// paper brokerage seeded with simulated market prices
func startServer() error {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	historyService := history.NewService(db)

	brokerage := paper.New(paper.Config{
		StartingCash: startingCash,
		SuccessRate:  0.95,
		MinLatency:   5 * time.Millisecond,
		MaxLatency:   30 * time.Millisecond,
	})
	for symbol, price := range marketPrices {
		brokerage.SetPrice(symbol, price)
	}

	riskManager := risk.NewManager(risk.Config{
		InitialCapital:     startingCash,
		MaxDailyLossPct:    2.0,
		MaxPositionSizePct: 5.0,
	}, 0, time.Now())

	controller := execution.NewController(execution.Config{
		MaxPositionSizePct: 5.0,
		MaxStopLossPct:     3.0,
		TakeProfitPct:      10.0,
		BrokerTimeout:      5 * time.Second,
	}, brokerage, riskManager, historyService)

	portfolioService := portfolio.NewService(brokerage, riskManager, historyService, 5*time.Second)

	authService := auth.NewService(simJWTSecret)
	authService.RegisterAPICredentials(simAPIKey, simAPISecret)

	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	executionHandlers := execution.NewGinHandlers(controller, riskManager)
	portfolioHandlers := portfolio.NewGinHandlers(portfolioService)

	setupRoutes(router, authHandlers, executionHandlers, portfolioHandlers)

	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	executionHandlers *execution.GinHandlers,
	portfolioHandlers *portfolio.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		execute := v1.Group("/execute")
		execute.Use(middleware.JWTAuth(simJWTSecret))
		{
			execute.POST("/start", executionHandlers.StartHandler())
			execute.POST("/stop", executionHandlers.StopHandler())
			execute.POST("/trade", executionHandlers.ExecuteTradeHandler())
		}

		portfolioGroup := v1.Group("/portfolio")
		portfolioGroup.Use(middleware.JWTAuth(simJWTSecret))
		{
			portfolioGroup.GET("/status", portfolioHandlers.StatusHandler())
			portfolioGroup.GET("/performance", portfolioHandlers.PerformanceHandler())
			portfolioGroup.GET("/history", portfolioHandlers.HistoryHandler())
			portfolioGroup.POST("/close/:symbol", portfolioHandlers.ClosePositionHandler())
			portfolioGroup.POST("/close_all", portfolioHandlers.CloseAllHandler())
		}
	}
}
