package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/solacehealth/safety-engine/internal/database"
	"github.com/solacehealth/safety-engine/internal/event"
	"github.com/solacehealth/safety-engine/internal/metrics"
)

// Trigger is the stored trigger envelope of a workflow rule.
type Trigger struct {
	Event string `json:"event"`
}

// ActionOutcome records how a single action of a matched rule fared. Exactly
// one outcome slot is written per declared action, in declaration order.
type ActionOutcome struct {
	Action Action      `json:"action"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// RuleSource provides the active rules to evaluate, highest priority first.
type RuleSource interface {
	ListActive(ctx context.Context) ([]*database.WorkflowRule, error)
}

// ExecutionSink receives the append-only audit record of each matched rule.
type ExecutionSink interface {
	Append(ctx context.Context, execution *database.WorkflowExecution) error
}

// Engine subscribes to every known event type and evaluates the active
// workflow rules against each published event. One execution record is
// appended per matched rule; a failing rule never interrupts the evaluation
// of the rules after it.
type Engine struct {
	bus        *event.Bus
	rules      RuleSource
	executions ExecutionSink
	dispatcher *Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Collector

	mu      sync.Mutex
	subs    map[string]event.Token
	baseCtx context.Context
}

// NewEngine creates a workflow rule engine.
func NewEngine(
	bus *event.Bus,
	rules RuleSource,
	executions ExecutionSink,
	dispatcher *Dispatcher,
	logger *slog.Logger,
	collector *metrics.Collector,
) *Engine {
	return &Engine{
		bus:        bus,
		rules:      rules,
		executions: executions,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    collector,
		subs:       make(map[string]event.Token),
	}
}

// Start subscribes the engine to every known event type. ctx bounds the work
// done for events delivered after this call.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.subs) > 0 {
		return fmt.Errorf("engine already started")
	}

	e.baseCtx = ctx
	for _, eventType := range event.KnownTypes {
		e.subs[eventType] = e.bus.Subscribe(eventType, e.handle)
	}

	e.logger.Info("Workflow rule engine started", "event_types", len(e.subs))
	return nil
}

// Stop removes the engine's subscriptions. Events published afterwards are
// no longer evaluated.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for eventType, token := range e.subs {
		e.bus.Unsubscribe(eventType, token)
		delete(e.subs, eventType)
	}

	e.logger.Info("Workflow rule engine stopped")
}

func (e *Engine) handle(evt event.Event) {
	e.EvaluateEvent(e.baseCtx, evt.Type, evt.Payload)
}

// EvaluateEvent runs every active rule against one event. Rules are fetched
// fresh per event so configuration changes apply immediately. A rule store
// outage degrades to a logged no-op.
func (e *Engine) EvaluateEvent(ctx context.Context, eventType string, eventData map[string]interface{}) {
	rules, err := e.rules.ListActive(ctx)
	if err != nil {
		e.logger.Error("Failed to load active workflow rules",
			"event_type", eventType,
			"error", err)
		return
	}

	for _, rule := range rules {
		e.evaluateRule(ctx, rule, eventType, eventData)
	}
}

// evaluateRule processes a single rule in isolation. A panic inside one rule
// is logged and does not stop the remaining rules.
func (e *Engine) evaluateRule(ctx context.Context, rule *database.WorkflowRule, eventType string, eventData map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic while evaluating workflow rule",
				"rule_id", rule.ID,
				"event_type", eventType,
				"panic", r)
		}
	}()

	e.metrics.RuleEvaluations.Inc()

	trigger, ok := e.parseTrigger(rule)
	if !ok {
		return
	}
	if trigger.Event != eventType {
		return
	}

	conditions, ok := e.parseConditions(rule)
	if !ok {
		return
	}
	if !conditionsMatch(conditions, eventData) {
		return
	}

	actions, ok := e.parseActions(rule)
	if !ok {
		return
	}

	e.metrics.RuleMatches.WithLabelValues(eventType).Inc()
	e.logger.Info("Workflow rule matched",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"event_type", eventType,
		"actions", len(actions))

	outcomes, firstErr := e.runActions(ctx, actions, eventData)
	success := firstErr == ""

	e.metrics.ExecutionsTotal.WithLabelValues(strconv.FormatBool(success)).Inc()

	if err := e.appendExecution(ctx, rule, eventType, eventData, outcomes, success, firstErr); err != nil {
		e.logger.Error("Failed to record workflow execution",
			"rule_id", rule.ID,
			"error", err)
	}
}

func (e *Engine) parseTrigger(rule *database.WorkflowRule) (Trigger, bool) {
	var trigger Trigger
	if len(rule.Trigger) == 0 || json.Unmarshal(rule.Trigger, &trigger) != nil || trigger.Event == "" {
		e.metrics.RulesSkipped.WithLabelValues("malformed_trigger").Inc()
		e.logger.Warn("Skipping workflow rule with malformed trigger", "rule_id", rule.ID)
		return Trigger{}, false
	}
	return trigger, true
}

func (e *Engine) parseConditions(rule *database.WorkflowRule) (map[string]interface{}, bool) {
	if len(rule.Conditions) == 0 || string(rule.Conditions) == "null" {
		return nil, true
	}

	var conditions map[string]interface{}
	if err := json.Unmarshal(rule.Conditions, &conditions); err != nil {
		e.metrics.RulesSkipped.WithLabelValues("malformed_conditions").Inc()
		e.logger.Warn("Skipping workflow rule with malformed conditions",
			"rule_id", rule.ID,
			"error", err)
		return nil, false
	}
	return conditions, true
}

func (e *Engine) parseActions(rule *database.WorkflowRule) ([]Action, bool) {
	var actions []Action
	if err := json.Unmarshal(rule.Actions, &actions); err != nil {
		e.metrics.RulesSkipped.WithLabelValues("malformed_actions").Inc()
		e.logger.Warn("Skipping workflow rule with malformed actions",
			"rule_id", rule.ID,
			"error", err)
		return nil, false
	}
	for _, action := range actions {
		if action.Type == "" {
			e.metrics.RulesSkipped.WithLabelValues("malformed_actions").Inc()
			e.logger.Warn("Skipping workflow rule with untyped action", "rule_id", rule.ID)
			return nil, false
		}
	}
	return actions, true
}

// runActions dispatches each action in declaration order. A failing action is
// captured in its outcome slot and the remaining actions still run.
func (e *Engine) runActions(ctx context.Context, actions []Action, eventData map[string]interface{}) ([]ActionOutcome, string) {
	outcomes := make([]ActionOutcome, 0, len(actions))
	firstErr := ""

	for _, action := range actions {
		outcome := ActionOutcome{Action: action}

		result, err := e.dispatcher.Execute(ctx, action, eventData)
		if err != nil {
			outcome.Error = err.Error()
			if firstErr == "" {
				firstErr = fmt.Sprintf("%s: %s", action.Type, err.Error())
			}
			e.metrics.ActionExecutions.WithLabelValues(action.Type, "error").Inc()
			e.logger.Error("Workflow action failed",
				"action_type", action.Type,
				"error", err)
		} else {
			outcome.Result = result.Result
			e.metrics.ActionExecutions.WithLabelValues(action.Type, "ok").Inc()
		}

		outcomes = append(outcomes, outcome)
	}

	return outcomes, firstErr
}

func (e *Engine) appendExecution(
	ctx context.Context,
	rule *database.WorkflowRule,
	eventType string,
	eventData map[string]interface{},
	outcomes []ActionOutcome,
	success bool,
	firstErr string,
) error {
	contextJSON, err := json.Marshal(eventData)
	if err != nil {
		return fmt.Errorf("failed to marshal event context: %w", err)
	}
	outcomesJSON, err := json.Marshal(outcomes)
	if err != nil {
		return fmt.Errorf("failed to marshal action outcomes: %w", err)
	}

	execution := &database.WorkflowExecution{
		ID:          uuid.NewString(),
		RuleID:      rule.ID,
		TriggeredBy: eventType,
		Context:     contextJSON,
		Actions:     outcomesJSON,
		Success:     success,
		ExecutedAt:  time.Now().UTC(),
	}
	if firstErr != "" {
		execution.Error = &firstErr
	}

	return e.executions.Append(ctx, execution)
}

// conditionsMatch reports whether every condition key is present in the event
// payload with an equal value. An empty condition set always matches.
func conditionsMatch(conditions, eventData map[string]interface{}) bool {
	for key, want := range conditions {
		got, present := eventData[key]
		if !present {
			return false
		}
		if !valuesEqual(got, want) {
			return false
		}
	}
	return true
}

// valuesEqual compares a payload value with a condition value. Conditions
// arrive through JSON, so numbers are normalized to float64 before the deep
// comparison; no other coercion is applied.
func valuesEqual(got, want interface{}) bool {
	return reflect.DeepEqual(normalizeNumber(got), normalizeNumber(want))
}

func normalizeNumber(v interface{}) interface{} {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int8:
		return float64(n)
	case int16:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case uint:
		return float64(n)
	case uint8:
		return float64(n)
	case uint16:
		return float64(n)
	case uint32:
		return float64(n)
	case uint64:
		return float64(n)
	case float32:
		return float64(n)
	default:
		return v
	}
}
