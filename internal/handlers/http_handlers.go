package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx/types"

	"github.com/solacehealth/safety-engine/internal/database"
	"github.com/solacehealth/safety-engine/internal/detector"
	"github.com/solacehealth/safety-engine/internal/domain"
	"github.com/solacehealth/safety-engine/internal/event"
	"github.com/solacehealth/safety-engine/internal/metrics"
)

// Handler serves the admin and detection HTTP API.
type Handler struct {
	detector   *detector.LayeredDetector
	bus        *event.Bus
	rules      *database.RuleRepository
	executions *database.ExecutionRepository
	tasks      *domain.TaskService
	validate   *validator.Validate
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// NewHandler creates the HTTP handler.
func NewHandler(
	safetyDetector *detector.LayeredDetector,
	bus *event.Bus,
	rules *database.RuleRepository,
	executions *database.ExecutionRepository,
	tasks *domain.TaskService,
	logger *slog.Logger,
	collector *metrics.Collector,
) *Handler {
	return &Handler{
		detector:   safetyDetector,
		bus:        bus,
		rules:      rules,
		executions: executions,
		tasks:      tasks,
		validate:   validator.New(),
		logger:     logger,
		metrics:    collector,
	}
}

// Router builds the HTTP route table.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.metricsMiddleware)

	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
	router.HandleFunc("/v1/detect", h.detect).Methods(http.MethodPost)

	router.HandleFunc("/v1/rules", h.createRule).Methods(http.MethodPost)
	router.HandleFunc("/v1/rules", h.listRules).Methods(http.MethodGet)
	router.HandleFunc("/v1/rules/{id}", h.getRule).Methods(http.MethodGet)
	router.HandleFunc("/v1/rules/{id}", h.updateRule).Methods(http.MethodPut)
	router.HandleFunc("/v1/rules/{id}", h.deleteRule).Methods(http.MethodDelete)
	router.HandleFunc("/v1/rules/{id}/activate", h.setRuleActive(true)).Methods(http.MethodPost)
	router.HandleFunc("/v1/rules/{id}/deactivate", h.setRuleActive(false)).Methods(http.MethodPost)

	router.HandleFunc("/v1/executions", h.listExecutions).Methods(http.MethodGet)
	router.HandleFunc("/v1/tasks/{id}/complete", h.completeTask).Methods(http.MethodPost)

	return router
}

func (h *Handler) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if current := mux.CurrentRoute(r); current != nil {
			if template, err := current.GetPathTemplate(); err == nil {
				route = template
			}
		}
		h.metrics.ObserveHTTP(r.Method, route, strconv.Itoa(recorder.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// actorFrom extracts the acting identity from the gateway-injected headers.
// The upstream gateway authenticates callers; this service only enforces
// ownership.
func actorFrom(r *http.Request) (database.Actor, bool) {
	id := r.Header.Get("X-Actor-ID")
	if id == "" {
		return database.Actor{}, false
	}
	admin, _ := strconv.ParseBool(r.Header.Get("X-Actor-Admin"))
	return database.Actor{ID: id, Admin: admin}, true
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

type detectRequest struct {
	Message     string `json:"message"`
	Category    string `json:"category" validate:"required,oneof=crisis grief"`
	ClientID    string `json:"clientId"`
	MessageID   string `json:"messageId"`
	CounselorID string `json:"counselorId"`
}

// detect runs the safety detector over a message and publishes
// crisis.detected on a crisis hit. The caller always receives the detection
// result; downstream workflow behavior never changes the response.
func (h *Handler) detect(w http.ResponseWriter, r *http.Request) {
	var req detectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	category := detector.Category(req.Category)
	result := h.detector.Detect(r.Context(), req.Message, category)

	if result.Confidence == detector.ConfidenceLow {
		// Low confidence only arises from a classifier fallback.
		h.metrics.ClassifierFailures.Inc()
	}
	h.metrics.DetectionsTotal.WithLabelValues(
		req.Category,
		string(result.Method),
		string(result.Confidence),
		strconv.FormatBool(result.IsDetected),
	).Inc()

	if category == detector.CategoryCrisis && result.IsDetected {
		h.metrics.EventsPublished.WithLabelValues(event.TypeCrisisDetected).Inc()
		h.bus.Publish(event.TypeCrisisDetected, map[string]interface{}{
			"clientId":    req.ClientID,
			"messageId":   req.MessageID,
			"counselorId": req.CounselorID,
			"method":      string(result.Method),
			"confidence":  string(result.Confidence),
		})
	}

	h.respond(w, http.StatusOK, result)
}

type ruleRequest struct {
	Name       string          `json:"name" validate:"required,max=255"`
	Level      string          `json:"level" validate:"required,oneof=platform organization counselor"`
	OwnerID    *string         `json:"owner_id"`
	Trigger    json.RawMessage `json:"trigger" validate:"required"`
	Conditions json.RawMessage `json:"conditions"`
	Actions    json.RawMessage `json:"actions" validate:"required"`
	Priority   int             `json:"priority"`
	IsActive   *bool           `json:"is_active"`
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "missing actor identity")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule := &database.WorkflowRule{
		ID:         uuid.NewString(),
		Name:       req.Name,
		Level:      req.Level,
		OwnerID:    req.OwnerID,
		Trigger:    types.JSONText(req.Trigger),
		Conditions: types.JSONText(req.Conditions),
		Actions:    types.JSONText(req.Actions),
		Priority:   req.Priority,
		IsActive:   active,
	}

	if err := h.rules.Create(r.Context(), rule, actor); err != nil {
		h.respondRepoError(w, err)
		return
	}
	h.respond(w, http.StatusCreated, rule)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "missing actor identity")
		return
	}

	rules, err := h.rules.List(r.Context(), actor)
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	h.respond(w, http.StatusOK, rules)
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(r); !ok {
		h.respondError(w, http.StatusUnauthorized, "missing actor identity")
		return
	}

	rule, err := h.rules.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	h.respond(w, http.StatusOK, rule)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "missing actor identity")
		return
	}

	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule := &database.WorkflowRule{
		ID:         mux.Vars(r)["id"],
		Name:       req.Name,
		Level:      req.Level,
		OwnerID:    req.OwnerID,
		Trigger:    types.JSONText(req.Trigger),
		Conditions: types.JSONText(req.Conditions),
		Actions:    types.JSONText(req.Actions),
		Priority:   req.Priority,
		IsActive:   active,
	}

	if err := h.rules.Update(r.Context(), rule, actor); err != nil {
		h.respondRepoError(w, err)
		return
	}
	h.respond(w, http.StatusOK, rule)
}

func (h *Handler) setRuleActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFrom(r)
		if !ok {
			h.respondError(w, http.StatusUnauthorized, "missing actor identity")
			return
		}

		id := mux.Vars(r)["id"]
		if err := h.rules.SetActive(r.Context(), id, active, actor); err != nil {
			h.respondRepoError(w, err)
			return
		}
		h.respond(w, http.StatusOK, map[string]interface{}{"id": id, "is_active": active})
	}
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFrom(r)
	if !ok {
		h.respondError(w, http.StatusUnauthorized, "missing actor identity")
		return
	}

	if err := h.rules.Delete(r.Context(), mux.Vars(r)["id"], actor); err != nil {
		h.respondRepoError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(r); !ok {
		h.respondError(w, http.StatusUnauthorized, "missing actor identity")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	var (
		executions []*database.WorkflowExecution
		err        error
	)
	if ruleID := r.URL.Query().Get("rule_id"); ruleID != "" {
		executions, err = h.executions.ListByRule(r.Context(), ruleID, limit)
	} else {
		executions, err = h.executions.ListRecent(r.Context(), limit)
	}
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	h.respond(w, http.StatusOK, executions)
}

func (h *Handler) completeTask(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorFrom(r); !ok {
		h.respondError(w, http.StatusUnauthorized, "missing actor identity")
		return
	}

	task, err := h.tasks.Complete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondRepoError(w, err)
		return
	}
	h.respond(w, http.StatusOK, task)
}

func (h *Handler) respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respond(w, status, map[string]string{"error": message})
}

// respondRepoError maps repository sentinel errors to HTTP statuses.
func (h *Handler) respondRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		h.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, database.ErrForbidden):
		h.respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, database.ErrImmutableField):
		h.respondError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("Request failed", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal error")
	}
}
