package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/banking/fraud-detection-service/internal/alerts"
	"github.com/banking/fraud-detection-service/internal/domain"
	"github.com/banking/fraud-detection-service/internal/evaluator"
	"github.com/banking/fraud-detection-service/internal/pkg/logger"
	"github.com/banking/fraud-detection-service/internal/storage"
)

// Version is reported by the info and health endpoints
const Version = "1.0.0"

// EvaluateRequest is the evaluate endpoint payload: a transaction plus
// optional caller-supplied context
type EvaluateRequest struct {
	domain.Transaction
	Context *domain.EvaluationContext `json:"context,omitempty"`
}

// EvaluateResponse surfaces the final assessment plus measured wall-clock
// processing time
type EvaluateResponse struct {
	TransactionID     string                   `json:"transaction_id"`
	CustomerID        string                   `json:"customer_id"`
	RiskScore         float64                  `json:"risk_score"`
	Confidence        float64                  `json:"confidence"`
	RecommendedAction domain.RecommendedAction `json:"recommended_action"`
	Flags             []domain.RiskFlag        `json:"flags"`
	Explanation       string                   `json:"explanation"`
	ProcessingTimeMs  float64                  `json:"processing_time_ms"`
	Timestamp         time.Time                `json:"timestamp"`
}

// BatchItemResult is one entry of a batch response; exactly one of the
// assessment fields or Error is set
type BatchItemResult struct {
	TransactionID     string                   `json:"transaction_id"`
	RiskScore         float64                  `json:"risk_score,omitempty"`
	RecommendedAction domain.RecommendedAction `json:"recommended_action,omitempty"`
	Error             string                   `json:"error,omitempty"`
}

// Handler exposes the fraud evaluation API
type Handler struct {
	orchestrator *evaluator.Orchestrator
	profiler     *evaluator.BehavioralProfiler
	publisher    *alerts.Publisher             // nil when Kafka is disabled
	repo         *storage.AssessmentRepository // nil when persistence is disabled
	log          *logger.Logger
	tracer       trace.Tracer
}

// NewHandler wires the API handler. publisher and repo may be nil.
func NewHandler(
	orchestrator *evaluator.Orchestrator,
	profiler *evaluator.BehavioralProfiler,
	publisher *alerts.Publisher,
	repo *storage.AssessmentRepository,
	log *logger.Logger,
) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		profiler:     profiler,
		publisher:    publisher,
		repo:         repo,
		log:          log.Named("api"),
		tracer:       otel.Tracer("fraud-detection-service/api"),
	}
}

// Info handles GET /
func (h *Handler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"service": "fraud-detection-service",
		"version": Version,
		"status":  "operational",
		"endpoints": map[string]string{
			"evaluate":       "/api/v1/fraud/evaluate",
			"evaluate_batch": "/api/v1/fraud/evaluate-batch",
			"health":         "/health",
			"status":         "/status",
		},
	})
}

// Health handles GET /health
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":            "healthy",
		"timestamp":         time.Now(),
		"evaluators_online": len(h.orchestrator.EvaluatorNames()),
		"version":           Version,
	})
}

// Status handles GET /status: registry, weights, and per-evaluator metrics
func (h *Handler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"evaluators": h.orchestrator.EvaluatorNames(),
		"weights":    h.orchestrator.Weights(),
		"metrics":    h.orchestrator.MetricsSnapshot(),
	})
}

// Evaluate handles POST /api/v1/fraud/evaluate
func (h *Handler) Evaluate(c echo.Context) error {
	var req EvaluateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request: "+err.Error())
	}
	if err := validateTransaction(&req.Transaction); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, span := h.tracer.Start(c.Request().Context(), "fraud.evaluate",
		trace.WithAttributes(
			attribute.String("transaction.id", req.Transaction.ID),
			attribute.String("customer.id", req.Transaction.CustomerID),
		),
	)
	defer span.End()

	start := time.Now()
	assessment := h.orchestrator.Evaluate(ctx, &req.Transaction, req.Context)
	processingMs := float64(time.Since(start).Microseconds()) / 1000.0

	span.SetAttributes(
		attribute.Float64("fraud.score", assessment.Score),
		attribute.String("fraud.action", string(assessment.RecommendedAction)),
	)

	h.publishAndPersist(c, &req.Transaction, assessment)

	return c.JSON(http.StatusOK, EvaluateResponse{
		TransactionID:     req.Transaction.ID,
		CustomerID:        req.Transaction.CustomerID,
		RiskScore:         assessment.Score,
		Confidence:        assessment.Confidence,
		RecommendedAction: assessment.RecommendedAction,
		Flags:             assessment.Flags,
		Explanation:       assessment.Explanation,
		ProcessingTimeMs:  processingMs,
		Timestamp:         assessment.Timestamp,
	})
}

// EvaluateBatch handles POST /api/v1/fraud/evaluate-batch. Items are
// evaluated independently; one item's failure never aborts the batch.
func (h *Handler) EvaluateBatch(c echo.Context) error {
	var reqs []EvaluateRequest
	if err := c.Bind(&reqs); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request: "+err.Error())
	}

	results := make([]BatchItemResult, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if err := validateTransaction(&req.Transaction); err != nil {
			results = append(results, BatchItemResult{
				TransactionID: req.Transaction.ID,
				Error:         err.Error(),
			})
			continue
		}

		assessment := h.orchestrator.Evaluate(c.Request().Context(), &req.Transaction, req.Context)
		h.publishAndPersist(c, &req.Transaction, assessment)
		results = append(results, BatchItemResult{
			TransactionID:     req.Transaction.ID,
			RiskScore:         assessment.Score,
			RecommendedAction: assessment.RecommendedAction,
		})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": results,
		"total":   len(results),
	})
}

// CustomerProfile handles GET /api/v1/customer/:id/profile
func (h *Handler) CustomerProfile(c echo.Context) error {
	customerID := c.Param("id")
	snapshot, ok := h.profiler.Snapshot(customerID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no behavioral profile for customer")
	}
	return c.JSON(http.StatusOK, snapshot)
}

// FraudCases handles GET /api/v1/fraud/cases: recent assessments filtered
// by recommended action
func (h *Handler) FraudCases(c echo.Context) error {
	action := c.QueryParam("action")
	if action == "" {
		action = string(domain.ActionBlock)
	}
	limit := intQueryParam(c, "limit", 50)
	offset := intQueryParam(c, "offset", 0)

	if h.repo == nil {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"cases": []storage.StoredAssessment{}, "total": 0,
		})
	}

	cases, err := h.repo.ListByAction(c.Request().Context(), action, limit, offset)
	if err != nil {
		h.log.Error("failed to list fraud cases", logger.ErrorField(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list cases")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"cases": cases, "total": len(cases),
	})
}

// publishAndPersist runs the best-effort side effects of an evaluation
func (h *Handler) publishAndPersist(c echo.Context, tx *domain.Transaction, assessment *domain.RiskAssessment) {
	if h.publisher != nil && alerts.ShouldAlert(assessment) {
		if err := h.publisher.Publish(tx, assessment); err != nil {
			h.log.Error("failed to publish fraud alert", logger.ErrorField(err))
		}
	}
	if h.repo != nil {
		if err := h.repo.Save(c.Request().Context(), tx, assessment); err != nil {
			h.log.Error("failed to persist assessment", logger.ErrorField(err))
		}
	}
}

func validateTransaction(tx *domain.Transaction) error {
	if tx.ID == "" {
		return errors.New("transaction_id is required")
	}
	if tx.CustomerID == "" {
		return errors.New("customer_id is required")
	}
	if tx.Amount < 0 {
		return errors.New("amount must be non-negative")
	}
	return nil
}

func intQueryParam(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	var v int
	if err := echo.QueryParamsBinder(c).Int(name, &v).BindError(); err != nil {
		return fallback
	}
	return v
}
