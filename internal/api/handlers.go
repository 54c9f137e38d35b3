package api

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"fundarb/internal/arbitrage"
	"fundarb/internal/auth"
	"fundarb/internal/config"
	"fundarb/internal/errors"
	"fundarb/internal/logger"
	"fundarb/internal/market"
	"fundarb/internal/middleware"
	"fundarb/internal/monitoring"
	"fundarb/internal/orchestrator"
)

// Handler serves the opportunity and ingest endpoints.
type Handler struct {
	cfg       *config.Config
	markets   *market.Manager
	service   *arbitrage.Service
	scheduler *orchestrator.Scheduler
	jwt       *auth.JWTManager
	metrics   *monitoring.Metrics
}

// NewHandler creates the API handler set. metrics may be nil.
func NewHandler(cfg *config.Config, markets *market.Manager, service *arbitrage.Service, scheduler *orchestrator.Scheduler, jwtManager *auth.JWTManager, metrics *monitoring.Metrics) *Handler {
	return &Handler{
		cfg:       cfg,
		markets:   markets,
		service:   service,
		scheduler: scheduler,
		jwt:       jwtManager,
		metrics:   metrics,
	}
}

// @Summary List arbitrage opportunities
// @Description Returns the current funding-rate arbitrage opportunities, filtered, sorted and paginated
// @Tags Opportunities
// @Produce json
// @Param assets query string false "Comma-separated asset filter"
// @Param exchanges query string false "Comma-separated exchange filter, matches either leg"
// @Param intervals query string false "Comma-separated funding intervals in hours, matches either leg"
// @Param min_spread query number false "Minimum per-period rate spread"
// @Param min_apr query number false "Minimum annualized spread"
// @Param max_apr query number false "Maximum annualized spread"
// @Param min_oi_either query number false "Minimum open interest on the smaller leg"
// @Param min_oi_combined query number false "Minimum combined open interest"
// @Param significant_only query boolean false "Only opportunities with |z| above the significance threshold"
// @Param extreme_only query boolean false "Only opportunities with |z| above the extreme threshold"
// @Param sort_by query string false "apr_spread, rate_spread, zscore, combined_oi or asset"
// @Param sort_dir query string false "asc or desc"
// @Param page query integer false "Page number, 1-based"
// @Param page_size query integer false "Page size"
// @Success 200 {object} Response{data=arbitrage.QueryResult}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 503 {object} errors.ErrorResponse
// @Router /opportunities [get]
func (h *Handler) GetOpportunities(c *gin.Context) {
	req, err := parseQueryRequest(c)
	if err != nil {
		c.Error(err)
		return
	}

	result, err := h.service.QueryOpportunities(c.Request.Context(), req)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// @Summary Search assets
// @Description Returns canonical assets matching the query, prefix matches first
// @Tags Market
// @Produce json
// @Param q query string false "Search term"
// @Param limit query integer false "Maximum matches"
// @Success 200 {object} Response{data=[]string}
// @Failure 400 {object} errors.ErrorResponse
// @Router /assets/search [get]
func (h *Handler) SearchAssets(c *gin.Context) {
	limit, err := queryInt(c, "limit")
	if err != nil {
		c.Error(err)
		return
	}
	if limit == 0 {
		limit = h.cfg.Arbitrage.SearchLimit
	}
	if limit < 0 || limit > h.cfg.Arbitrage.MaxSearchLimit {
		c.Error(errors.NewAppErrorWithDetails(errors.ErrCodeValidation,
			"Invalid search limit",
			fmt.Sprintf("limit must be between 1 and %d", h.cfg.Arbitrage.MaxSearchLimit), nil))
		return
	}

	assets, err := h.markets.SearchAssets(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		c.Error(err)
		return
	}
	if assets == nil {
		assets = []string{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: assets})
}

// @Summary List exchanges
// @Description Returns the exchanges present in the current snapshot set with contract counts and freshness
// @Tags Market
// @Produce json
// @Success 200 {object} Response{data=[]market.ExchangeSummary}
// @Failure 503 {object} errors.ErrorResponse
// @Router /exchanges [get]
func (h *Handler) GetExchanges(c *gin.Context) {
	summaries, err := h.markets.ExchangeSummaries(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}
	if summaries == nil {
		summaries = []market.ExchangeSummary{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: summaries})
}

// @Summary Pair spread history
// @Description Returns the recorded spread samples for one asset and exchange pair, oldest first
// @Tags Opportunities
// @Produce json
// @Param asset path string true "Canonical asset"
// @Param exchange_a query string true "First exchange"
// @Param exchange_b query string true "Second exchange"
// @Param hours query integer false "Lookback window in hours, defaults to the statistics window"
// @Success 200 {object} Response{data=PairHistoryResponse}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 503 {object} errors.ErrorResponse
// @Router /pairs/{asset}/history [get]
func (h *Handler) GetPairHistory(c *gin.Context) {
	asset, exchangeA, exchangeB, err := pairParams(c)
	if err != nil {
		c.Error(err)
		return
	}

	hours, err := queryInt(c, "hours")
	if err != nil {
		c.Error(err)
		return
	}
	if hours < 0 {
		c.Error(errors.NewAppErrorWithDetails(errors.ErrCodeValidation,
			"Invalid lookback", "hours must be positive", nil))
		return
	}
	window := h.cfg.Arbitrage.StatsWindow()
	if hours > 0 {
		window = time.Duration(hours) * time.Hour
	}
	since := time.Now().Add(-window)

	samples, err := h.service.PairHistory(c.Request.Context(), asset, exchangeA, exchangeB, since)
	if err != nil {
		c.Error(err)
		return
	}
	if samples == nil {
		samples = []arbitrage.SpreadSample{}
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: PairHistoryResponse{
		Asset:     strings.ToUpper(asset),
		ExchangeA: strings.ToLower(exchangeA),
		ExchangeB: strings.ToLower(exchangeB),
		Since:     since,
		Samples:   samples,
	}})
}

// @Summary Pair spread statistics
// @Description Returns the windowed spread statistics for one asset and exchange pair
// @Tags Opportunities
// @Produce json
// @Param asset path string true "Canonical asset"
// @Param exchange_a query string true "First exchange"
// @Param exchange_b query string true "Second exchange"
// @Success 200 {object} Response{data=arbitrage.SpreadStatistics}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 404 {object} errors.ErrorResponse
// @Router /pairs/{asset}/statistics [get]
func (h *Handler) GetPairStatistics(c *gin.Context) {
	asset, exchangeA, exchangeB, err := pairParams(c)
	if err != nil {
		c.Error(err)
		return
	}

	stats, ok := h.service.PairStatistics(asset, exchangeA, exchangeB)
	if !ok {
		c.Error(errors.NewAppErrorWithDetails(errors.ErrCodeNotFound,
			"No statistics for pair",
			fmt.Sprintf("no materialized statistics for %s %s/%s", asset, exchangeA, exchangeB), nil))
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: stats})
}

// @Summary Issue collector token
// @Description Exchanges a configured collector API key for a JWT
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Collector credentials"
// @Success 200 {object} Response{data=TokenResponse}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Router /auth/token [post]
func (h *Handler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(middleware.ValidationErrorHandler(err))
		return
	}

	matched := false
	for _, key := range h.cfg.Auth.APIKeys {
		idOK := subtle.ConstantTimeCompare([]byte(key.ID), []byte(req.KeyID)) == 1
		keyOK := subtle.ConstantTimeCompare([]byte(key.Key), []byte(req.APIKey)) == 1
		if idOK && keyOK {
			matched = true
		}
	}
	if !matched {
		c.Error(errors.NewAppError(errors.ErrCodeUnauthorized, "Invalid collector credentials", nil))
		return
	}

	token, err := h.jwt.GenerateToken(req.KeyID, "collector")
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "Failed to issue token"))
		return
	}

	ttl := h.jwt.TokenTTL()
	c.JSON(http.StatusOK, Response{Success: true, Data: TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresIn: int64(ttl.Seconds()),
		ExpiresAt: time.Now().Add(ttl),
	}})
}

// @Summary Ingest funding snapshots
// @Description Accepts a batch of funding rate snapshots from a collector. Invalid entries are dropped, not fatal.
// @Tags Ingest
// @Accept json
// @Produce json
// @Param request body SnapshotBatch true "Snapshot batch"
// @Success 200 {object} Response{data=IngestResult}
// @Failure 400 {object} errors.ErrorResponse
// @Failure 401 {object} errors.ErrorResponse
// @Failure 503 {object} errors.ErrorResponse
// @Security BearerAuth
// @Router /snapshots [post]
func (h *Handler) IngestSnapshots(c *gin.Context) {
	var batch SnapshotBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		c.Error(middleware.ValidationErrorHandler(err))
		return
	}
	if len(batch.Snapshots) == 0 {
		c.Error(errors.NewAppErrorWithDetails(errors.ErrCodeValidation,
			"Empty snapshot batch", "snapshots must contain at least one entry", nil))
		return
	}

	accepted, err := h.markets.Ingest(c.Request.Context(), batch.Snapshots)
	if err != nil {
		c.Error(err)
		return
	}

	collector := "unknown"
	if claims, ok := middleware.GetClaims(c); ok {
		collector = claims.KeyID
	}
	logger.Info("Snapshot batch ingested",
		"collector", collector,
		"accepted", accepted,
		"rejected", len(batch.Snapshots)-accepted,
	)

	h.recordIngested(batch.Snapshots)

	c.JSON(http.StatusOK, Response{Success: true, Data: IngestResult{
		Accepted: accepted,
		Rejected: len(batch.Snapshots) - accepted,
	}})
}

// recordIngested counts accepted snapshots per exchange. Validation here
// mirrors the ingest path, so the counts match what the manager kept.
// Accepted records without a usable funding interval are counted
// separately; they are stored but excluded from annualization.
func (h *Handler) recordIngested(snapshots []market.FundingRateSnapshot) {
	if h.metrics == nil {
		return
	}
	perExchange := make(map[string]int)
	zeroInterval := make(map[string]int)
	for i := range snapshots {
		if snapshots[i].Validate() != nil {
			continue
		}
		exchange := strings.ToLower(strings.TrimSpace(snapshots[i].Exchange))
		perExchange[exchange]++
		if !snapshots[i].HasUsableInterval() {
			zeroInterval[exchange]++
		}
	}
	for exchange, count := range perExchange {
		h.metrics.RecordSnapshotsIngested(exchange, count)
	}
	for exchange, count := range zeroInterval {
		h.metrics.RecordZeroIntervalSnapshots(exchange, count)
	}
}

// @Summary List scheduled tasks
// @Description Returns the background task states
// @Tags Tasks
// @Produce json
// @Success 200 {object} Response{data=[]orchestrator.Task}
// @Security BearerAuth
// @Router /tasks [get]
func (h *Handler) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, Response{Success: true, Data: h.scheduler.ListTasks()})
}

// @Summary Run a task now
// @Description Triggers one background task run outside its schedule
// @Tags Tasks
// @Produce json
// @Param name path string true "Task name"
// @Success 200 {object} Response{data=orchestrator.Task}
// @Failure 404 {object} errors.ErrorResponse
// @Failure 500 {object} errors.ErrorResponse
// @Security BearerAuth
// @Router /tasks/{name}/run [post]
func (h *Handler) RunTask(c *gin.Context) {
	name := c.Param("name")
	if _, err := h.scheduler.GetTask(name); err != nil {
		c.Error(errors.NewAppErrorWithDetails(errors.ErrCodeNotFound, "Unknown task", err.Error(), nil))
		return
	}

	if err := h.scheduler.RunNow(name); err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "Task run failed"))
		return
	}

	task, err := h.scheduler.GetTask(name)
	if err != nil {
		c.Error(errors.WrapError(err, errors.ErrCodeInternal, "Task state unavailable"))
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: task})
}

// parseQueryRequest maps query parameters onto an opportunity query.
// Normalization and range checks live in the request's own Validate;
// only parse failures are rejected here.
func parseQueryRequest(c *gin.Context) (arbitrage.QueryRequest, error) {
	var req arbitrage.QueryRequest

	req.Assets = queryCSV(c, "assets")
	req.Exchanges = queryCSV(c, "exchanges")

	intervals, err := queryFloats(c, "intervals")
	if err != nil {
		return req, err
	}
	req.Intervals = intervals

	if req.MinSpread, err = queryFloat(c, "min_spread"); err != nil {
		return req, err
	}
	if req.MinAPRSpread, err = queryFloat(c, "min_apr"); err != nil {
		return req, err
	}
	if req.MaxAPRSpread, err = queryFloat(c, "max_apr"); err != nil {
		return req, err
	}
	if req.MinOpenInterestEither, err = queryFloat(c, "min_oi_either"); err != nil {
		return req, err
	}
	if req.MinOpenInterestCombined, err = queryFloat(c, "min_oi_combined"); err != nil {
		return req, err
	}

	if req.SignificantOnly, err = queryBool(c, "significant_only"); err != nil {
		return req, err
	}
	if req.ExtremeOnly, err = queryBool(c, "extreme_only"); err != nil {
		return req, err
	}

	req.SortBy = strings.TrimSpace(c.Query("sort_by"))
	req.SortDir = strings.ToLower(strings.TrimSpace(c.Query("sort_dir")))

	if req.Page, err = queryInt(c, "page"); err != nil {
		return req, err
	}
	if req.PageSize, err = queryInt(c, "page_size"); err != nil {
		return req, err
	}

	return req, nil
}

func pairParams(c *gin.Context) (asset, exchangeA, exchangeB string, err error) {
	asset = strings.TrimSpace(c.Param("asset"))
	exchangeA = strings.TrimSpace(c.Query("exchange_a"))
	exchangeB = strings.TrimSpace(c.Query("exchange_b"))
	if asset == "" || exchangeA == "" || exchangeB == "" {
		return "", "", "", errors.NewAppErrorWithDetails(errors.ErrCodeValidation,
			"Missing pair parameters", "asset, exchange_a and exchange_b are required", nil)
	}
	return asset, exchangeA, exchangeB, nil
}

func queryCSV(c *gin.Context, name string) []string {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func queryFloats(c *gin.Context, name string) ([]float64, error) {
	parts := queryCSV(c, name)
	if len(parts) == 0 {
		return nil, nil
	}
	out := make([]float64, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, invalidParam(name, part)
		}
		out = append(out, v)
	}
	return out, nil
}

func queryFloat(c *gin.Context, name string) (*float64, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, invalidParam(name, raw)
	}
	return &v, nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(name, raw)
	}
	return v, nil
}

func queryBool(c *gin.Context, name string) (bool, error) {
	raw := strings.ToLower(strings.TrimSpace(c.Query(name)))
	switch raw {
	case "":
		return false, nil
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	default:
		return false, invalidParam(name, raw)
	}
}

func invalidParam(name, value string) error {
	return errors.NewAppErrorWithDetails(errors.ErrCodeValidation,
		"Invalid query parameter",
		fmt.Sprintf("cannot parse %s value %q", name, value), nil)
}
