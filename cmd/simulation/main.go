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
	"github.com/shopspring/decimal"

	"github.com/dealpoint/commission-api/internal/auth"
	"github.com/dealpoint/commission-api/internal/database"
	"github.com/dealpoint/commission-api/internal/deal"
	"github.com/dealpoint/commission-api/internal/payment"
	"github.com/dealpoint/commission-api/internal/template"
	"github.com/dealpoint/commission-api/internal/types"
)

const (
	minDeals      = 10
	maxDeals      = 60
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var brokers = []string{"BRK_ANDERS", "BRK_BAILEY", "BRK_COHEN", "BRK_DIAZ", "BRK_EVANS"}

// init configures the logger for the simulation with pretty printing and timestamp
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
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simulationClient handles HTTP communication with the commission API
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
			"auth":     {name: "Authentication"},
			"create":   {name: "Create Deal"},
			"change":   {name: "Apply Deal Change"},
			"template": {name: "Upsert Template"},
			"override": {name: "Override Payment"},
			"clear":    {name: "Clear Override"},
			"payments": {name: "List Payments"},
			"splits":   {name: "List Splits"},
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
		"api_key":    auth.TestAPIKey,
		"api_secret": auth.TestAPISecret,
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
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Token, nil
}

// doJSON performs an authenticated request and decodes the standard
// response envelope into out.
func (sc *simulationClient) doJSON(method, path, statKey string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		sc.stats[statKey].addDuration(time.Since(start))
	}()

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		sc.stats[statKey].failures++
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats[statKey].failures++
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

func (sc *simulationClient) createDeal(req deal.CreateRequest) (*types.DealResponse, error) {
	var created types.DealResponse
	if err := sc.doJSON("POST", "/api/v1/deals", "create", req, &created); err != nil {
		return nil, err
	}
	if created.DealID == "" {
		return nil, fmt.Errorf("no deal ID in response")
	}
	return &created, nil
}

func (sc *simulationClient) applyChange(dealID string, req deal.ChangeRequest) (*types.DealResponse, error) {
	var changed types.DealResponse
	path := fmt.Sprintf("/api/v1/deals/%s", dealID)
	if err := sc.doJSON("PATCH", path, "change", req, &changed); err != nil {
		return nil, err
	}
	return &changed, nil
}

func (sc *simulationClient) upsertTemplate(dealID, brokerID string, req template.UpsertRequest) error {
	path := fmt.Sprintf("/api/v1/deals/%s/templates/%s", dealID, brokerID)
	return sc.doJSON("PUT", path, "template", req, nil)
}

func (sc *simulationClient) listPayments(dealID string) ([]types.PaymentView, error) {
	var payments []types.PaymentView
	path := fmt.Sprintf("/api/v1/deals/%s/payments", dealID)
	if err := sc.doJSON("GET", path, "payments", nil, &payments); err != nil {
		return nil, err
	}
	return payments, nil
}

func (sc *simulationClient) listSplits(paymentID string) ([]types.SplitView, error) {
	var splits []types.SplitView
	path := fmt.Sprintf("/api/v1/payments/%s/splits", paymentID)
	if err := sc.doJSON("GET", path, "splits", nil, &splits); err != nil {
		return nil, err
	}
	return splits, nil
}

func (sc *simulationClient) overridePayment(paymentID string, amount decimal.Decimal) (*types.PaymentView, error) {
	var view types.PaymentView
	path := fmt.Sprintf("/api/v1/internal/payments/%s/override", paymentID)
	req := payment.OverrideRequest{NewAmount: amount, ActorID: "SIM_USER"}
	if err := sc.doJSON("POST", path, "override", req, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func (sc *simulationClient) clearOverride(paymentID string) (*types.PaymentView, error) {
	var view types.PaymentView
	path := fmt.Sprintf("/api/v1/internal/payments/%s/override", paymentID)
	if err := sc.doJSON("DELETE", path, "clear", nil, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

// printPerformanceStats prints latency statistics per route
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\nRoute Performance")
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("%-20s %8s %8s %8s %8s %8s %8s\n",
		"Route", "Calls", "Min", "Mean", "Median", "P95", "P99")

	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, _, mean, median, p95, p99 := rs.calculate()
		fmt.Printf("%-20s %8d %8s %8s %8s %8s %8s\n",
			rs.name, rs.totalCalls,
			min.Round(time.Microsecond),
			mean.Round(time.Microsecond),
			median.Round(time.Microsecond),
			p95.Round(time.Microsecond),
			p99.Round(time.Microsecond))
	}
}

// dealScenario runs the full commission lifecycle against one deal:
// templates, an override, a fee change and a schedule change, then checks
// the stored schedule still reconciles.
func dealScenario(workerID int, sc *simulationClient, results chan<- scenarioResult) {
	fee := decimal.NewFromInt(int64(rand.Intn(90000) + 10000))
	n := rand.Intn(5) + 1

	created, err := sc.createDeal(deal.CreateRequest{
		Name:               fmt.Sprintf("Simulated Deal W%d", workerID),
		Fee:                fee,
		NumberOfPayments:   n,
		ReferralFeePercent: decimal.NewFromInt(int64(rand.Intn(10))),
	})
	if err != nil {
		log.Error().Err(err).Int("worker_id", workerID).Msg("Failed to create deal")
		results <- scenarioResult{failed: true}
		return
	}

	log.Info().
		Str("deal_id", created.DealID).
		Str("fee", fee.String()).
		Int("number_of_payments", n).
		Msg("Deal created")

	// Two brokers splitting the full deal category
	brokerA := brokers[rand.Intn(len(brokers))]
	brokerB := brokerA
	for brokerB == brokerA {
		brokerB = brokers[rand.Intn(len(brokers))]
	}
	if err := sc.upsertTemplate(created.DealID, brokerA, template.UpsertRequest{
		SplitDealPercent: decimal.NewFromInt(60),
	}); err != nil {
		log.Error().Err(err).Str("deal_id", created.DealID).Msg("Failed to upsert template")
		results <- scenarioResult{failed: true}
		return
	}
	if err := sc.upsertTemplate(created.DealID, brokerB, template.UpsertRequest{
		SplitDealPercent: decimal.NewFromInt(40),
	}); err != nil {
		log.Error().Err(err).Str("deal_id", created.DealID).Msg("Failed to upsert template")
		results <- scenarioResult{failed: true}
		return
	}

	payments, err := sc.listPayments(created.DealID)
	if err != nil || len(payments) == 0 {
		log.Error().Err(err).Str("deal_id", created.DealID).Msg("Failed to list payments")
		results <- scenarioResult{failed: true}
		return
	}

	// Pin a random payment slightly above its derived amount
	target := payments[rand.Intn(len(payments))]
	pinned := target.PaymentAmount.Mul(decimal.NewFromFloat(1.05)).Round(2)
	overrode := false
	if len(payments) > 1 {
		if _, err := sc.overridePayment(target.PaymentID, pinned); err != nil {
			log.Error().Err(err).Str("payment_id", target.PaymentID).Msg("Failed to override payment")
			results <- scenarioResult{failed: true}
			return
		}
		overrode = true
		log.Info().
			Str("payment_id", target.PaymentID).
			Str("amount", pinned.String()).
			Msg("Payment overridden")
	}

	// Upstream change: bump the fee, the pinned amount must survive
	newFee := fee.Add(decimal.NewFromInt(int64(rand.Intn(5000) + 500)))
	if _, err := sc.applyChange(created.DealID, deal.ChangeRequest{Fee: &newFee}); err != nil {
		log.Error().Err(err).Str("deal_id", created.DealID).Msg("Failed to apply fee change")
		results <- scenarioResult{failed: true}
		return
	}

	// Some scenarios unpin again; the payment must fall back to the
	// derived amount under the new fee
	if overrode && rand.Intn(100) < 30 {
		view, err := sc.clearOverride(target.PaymentID)
		if err != nil {
			log.Error().Err(err).Str("payment_id", target.PaymentID).Msg("Failed to clear override")
			results <- scenarioResult{failed: true}
			return
		}
		if view.IsOverridden {
			log.Error().Str("payment_id", target.PaymentID).Msg("Payment still pinned after clear")
		}
		overrode = false
	}

	// Schedule churn: shrink then grow back
	if n > 1 {
		smaller := n - 1
		if _, err := sc.applyChange(created.DealID, deal.ChangeRequest{NumberOfPayments: &smaller}); err != nil {
			log.Error().Err(err).Str("deal_id", created.DealID).Msg("Failed to shrink schedule")
			results <- scenarioResult{failed: true}
			return
		}
		if _, err := sc.applyChange(created.DealID, deal.ChangeRequest{NumberOfPayments: &n}); err != nil {
			log.Error().Err(err).Str("deal_id", created.DealID).Msg("Failed to grow schedule")
			results <- scenarioResult{failed: true}
			return
		}
	}

	// Reconcile from stored values only
	payments, err = sc.listPayments(created.DealID)
	if err != nil {
		results <- scenarioResult{failed: true}
		return
	}

	total := decimal.Zero
	overridesIntact := true
	for _, p := range payments {
		total = total.Add(p.PaymentAmount)
		if overrode && p.PaymentID == target.PaymentID {
			if !p.PaymentAmount.Equal(pinned) || !p.IsOverridden {
				overridesIntact = false
			}
		}
	}
	feeReconciles := total.Sub(newFee).Abs().LessThanOrEqual(decimal.New(1, -2))

	splitsReconcile := true
	for _, p := range payments {
		splits, err := sc.listSplits(p.PaymentID)
		if err != nil {
			splitsReconcile = false
			break
		}
		splitTotal := decimal.Zero
		for _, sp := range splits {
			splitTotal = splitTotal.Add(sp.SplitAmountUSD)
		}
		if splitTotal.Sub(p.AGCI).Abs().GreaterThan(decimal.New(1, -2)) {
			splitsReconcile = false
			log.Error().
				Str("payment_id", p.PaymentID).
				Str("agci", p.AGCI.String()).
				Str("split_total", splitTotal.String()).
				Msg("Splits do not reconcile to AGCI")
		}
	}

	results <- scenarioResult{
		fee:             newFee,
		payments:        len(payments),
		feeReconciles:   feeReconciles,
		splitsReconcile: splitsReconcile,
		overridesIntact: overridesIntact,
	}
}

type scenarioResult struct {
	fee             decimal.Decimal
	payments        int
	failed          bool
	feeReconciles   bool
	splitsReconcile bool
	overridesIntact bool
}

func main() {
	// Start the API server in-process
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	time.Sleep(500 * time.Millisecond)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create simulation client")
	}

	numDeals := rand.Intn(maxDeals-minDeals+1) + minDeals
	log.Info().Int("deals", numDeals).Int("workers", numWorkers).Msg("Starting commission simulation")

	results := make(chan scenarioResult, numDeals)
	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for range work {
				dealScenario(workerID, simClient, results)
				time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
			}
		}(w)
	}
	for i := 0; i < numDeals; i++ {
		work <- i
	}
	close(work)
	wg.Wait()
	close(results)

	stats := struct {
		TotalDeals      int
		Failed          int
		FeeMismatch     int
		SplitMismatch   int
		OverrideBroken  int
		TotalPayments   int
		TotalCommission decimal.Decimal
		StartTime       time.Time
	}{StartTime: time.Now(), TotalCommission: decimal.Zero}

	for r := range results {
		stats.TotalDeals++
		if r.failed {
			stats.Failed++
			continue
		}
		stats.TotalPayments += r.payments
		stats.TotalCommission = stats.TotalCommission.Add(r.fee)
		if !r.feeReconciles {
			stats.FeeMismatch++
		}
		if !r.splitsReconcile {
			stats.SplitMismatch++
		}
		if !r.overridesIntact {
			stats.OverrideBroken++
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("COMMISSION SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Deal Statistics
---------------
Total Deals:        %d
Failed Scenarios:   %d
Total Payments:     %d
Total Commission:   $%s
Fee Mismatches:     %d
Split Mismatches:   %d
Broken Overrides:   %d
`, stats.TotalDeals, stats.Failed, stats.TotalPayments,
		stats.TotalCommission.StringFixed(2),
		stats.FeeMismatch, stats.SplitMismatch, stats.OverrideBroken)

	if stats.FeeMismatch == 0 && stats.SplitMismatch == 0 && stats.OverrideBroken == 0 {
		log.Info().Msg("All deals reconcile from stored values")
	} else {
		log.Error().
			Int("fee_mismatches", stats.FeeMismatch).
			Int("split_mismatches", stats.SplitMismatch).
			Int("broken_overrides", stats.OverrideBroken).
			Msg("Reconciliation failures detected")
	}

	simClient.printPerformanceStats()
}

// startServer initializes and starts the commission API server
// Sets up all required services, handlers and routes
func startServer() error {
	db, err := database.NewDatabase("simulation.db")
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	jwtSecret := "commission-secret-key"

	authService := auth.NewService(jwtSecret)
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	paymentService := payment.NewService(db)
	dealService := deal.NewService(db, paymentService)
	templateService := template.NewService(db)

	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	paymentHandlers := payment.NewGinHandlers(paymentService)
	dealHandlers := deal.NewGinHandlers(dealService)
	templateHandlers := template.NewGinHandlers(templateService)

	setupRoutes(router, jwtSecret, authHandlers, dealHandlers, paymentHandlers, templateHandlers)

	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	dealHandlers *deal.GinHandlers,
	paymentHandlers *payment.GinHandlers,
	templateHandlers *template.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Deal routes
		deals := v1.Group("/deals")
		{
			deals.POST("", dealHandlers.CreateDealHandler())
			deals.GET("/:deal_id", dealHandlers.GetDealHandler())
			deals.PATCH("/:deal_id", dealHandlers.ApplyChangeHandler())
			deals.GET("/:deal_id/payments", paymentHandlers.ListPaymentsHandler())
			deals.GET("/:deal_id/templates", templateHandlers.ListTemplatesHandler())
			deals.PUT("/:deal_id/templates/:broker_id", templateHandlers.UpsertTemplateHandler())
			deals.DELETE("/:deal_id/templates/:broker_id", templateHandlers.DeleteTemplateHandler())
		}

		// Payment reads
		payments := v1.Group("/payments")
		{
			payments.GET("/:payment_id/splits", paymentHandlers.ListSplitsHandler())
		}

		// Internal routes
		internal := v1.Group("/internal")
		{
			internal.POST("/payments/:payment_id/override", paymentHandlers.OverrideHandler())
			internal.DELETE("/payments/:payment_id/override", paymentHandlers.ClearOverrideHandler())
		}
	}
}
