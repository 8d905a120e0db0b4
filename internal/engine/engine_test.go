package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solacehealth/safety-engine/internal/database"
	"github.com/solacehealth/safety-engine/internal/event"
	"github.com/solacehealth/safety-engine/internal/metrics"
)

type fakeRuleSource struct {
	rules []*database.WorkflowRule
	err   error
}

func (f *fakeRuleSource) ListActive(context.Context) ([]*database.WorkflowRule, error) {
	return f.rules, f.err
}

type fakeSink struct {
	mu         sync.Mutex
	executions []*database.WorkflowExecution
	err        error
}

func (f *fakeSink) Append(_ context.Context, execution *database.WorkflowExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions = append(f.executions, execution)
	return f.err
}

// stubCollaborators implements every dispatcher collaborator with recordable
// outcomes.
type stubCollaborators struct {
	mu           sync.Mutex
	alertCalls   int
	alertErr     error
	taskCalls    []TaskRequest
	assignCalls  int
	assignDueAt  time.Time
	notifyCalls  int
	notifyAddr   string
	contactCalls int
	contactErr   error
}

func (s *stubCollaborators) SendCrisisAlert(context.Context, string, string) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertCalls++
	if s.alertErr != nil {
		return nil, s.alertErr
	}
	return map[string]interface{}{"sent": true}, nil
}

func (s *stubCollaborators) AssignAssessment(_ context.Context, _, _ string, dueAt time.Time) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignCalls++
	s.assignDueAt = dueAt
	return map[string]interface{}{"assigned": true}, nil
}

func (s *stubCollaborators) CreateTask(_ context.Context, req TaskRequest) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.taskCalls = append(s.taskCalls, req)
	return map[string]interface{}{"taskId": "t-1"}, nil
}

func (s *stubCollaborators) NotifyCounselor(_ context.Context, address, _, _ string, _ map[string]interface{}) (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyCalls++
	s.notifyAddr = address
	return map[string]interface{}{"notified": true}, nil
}

func (s *stubCollaborators) ContactAddress(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contactCalls++
	if s.contactErr != nil {
		return "", s.contactErr
	}
	return "counselor@example.org", nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, rules *fakeRuleSource) (*Engine, *fakeSink, *stubCollaborators) {
	t.Helper()

	stub := &stubCollaborators{}
	dispatcher := NewDispatcher(stub, stub, stub, stub, stub, 7*24*time.Hour, time.Minute, time.Minute, testLogger())
	sink := &fakeSink{}
	collector := metrics.NewCollector(prometheus.NewRegistry())
	bus := event.NewBus(testLogger())

	return NewEngine(bus, rules, sink, dispatcher, testLogger(), collector), sink, stub
}

func makeRule(id string, priority int, trigger, conditions, actions string) *database.WorkflowRule {
	rule := &database.WorkflowRule{
		ID:       id,
		Name:     "rule " + id,
		Level:    database.LevelPlatform,
		Priority: priority,
		IsActive: true,
		Trigger:  types.JSONText(trigger),
		Actions:  types.JSONText(actions),
	}
	if conditions != "" {
		rule.Conditions = types.JSONText(conditions)
	}
	return rule
}

func TestEvaluateEventTriggerMismatch(t *testing.T) {
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("r1", 0, `{"event":"task.overdue"}`, "", `[{"type":"auto_assign_task"}]`),
	}}
	eng, sink, stub := newTestEngine(t, rules)

	eng.EvaluateEvent(context.Background(), event.TypeCrisisDetected, map[string]interface{}{"clientId": "c-1"})

	assert.Empty(t, sink.executions)
	assert.Empty(t, stub.taskCalls)
}

func TestEvaluateEventConditionsGate(t *testing.T) {
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("r1", 0,
			`{"event":"wellbeing.status.changed"}`,
			`{"newStatus":"red","previousStatus":"yellow"}`,
			`[{"type":"auto_assign_task","config":{"title":"Check in"}}]`),
	}}
	eng, sink, stub := newTestEngine(t, rules)

	eng.EvaluateEvent(context.Background(), event.TypeWellbeingStatusChanged, map[string]interface{}{
		"newStatus":      "red",
		"previousStatus": "green",
	})
	assert.Empty(t, sink.executions, "one mismatched condition fails the whole set")

	eng.EvaluateEvent(context.Background(), event.TypeWellbeingStatusChanged, map[string]interface{}{
		"newStatus":      "red",
		"previousStatus": "yellow",
		"clientId":       "c-9",
	})
	require.Len(t, sink.executions, 1)
	require.Len(t, stub.taskCalls, 1)
	assert.Equal(t, "Check in", stub.taskCalls[0].Title)
	assert.True(t, sink.executions[0].Success)
}

func TestEvaluateEventMissingConditionKey(t *testing.T) {
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("r1", 0,
			`{"event":"session.completed"}`,
			`{"sessionType":"intake"}`,
			`[{"type":"auto_assign_task"}]`),
	}}
	eng, sink, _ := newTestEngine(t, rules)

	eng.EvaluateEvent(context.Background(), event.TypeSessionCompleted, map[string]interface{}{"clientId": "c-1"})

	assert.Empty(t, sink.executions, "absent payload key never satisfies a condition")
}

func TestEvaluateEventNumericConditions(t *testing.T) {
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("r1", 0,
			`{"event":"assessment.score.changed"}`,
			`{"score":12}`,
			`[{"type":"auto_assign_assessment","config":{"assessmentType":"phq9"}}]`),
	}}
	eng, sink, stub := newTestEngine(t, rules)

	eng.EvaluateEvent(context.Background(), event.TypeAssessmentScoreChanged, map[string]interface{}{"score": float64(12)})
	require.Len(t, sink.executions, 1)
	assert.Equal(t, 1, stub.assignCalls)

	eng.EvaluateEvent(context.Background(), event.TypeAssessmentScoreChanged, map[string]interface{}{"score": "12"})
	assert.Len(t, sink.executions, 1, "string never equals number")
}

func TestEvaluateEventPriorityOrder(t *testing.T) {
	// The rule source returns priority-descending order, as the repository
	// query guarantees; the engine must preserve it.
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("high", 100, `{"event":"crisis.detected"}`, "", `[{"type":"auto_assign_task"}]`),
		makeRule("low", 10, `{"event":"crisis.detected"}`, "", `[{"type":"auto_assign_task"}]`),
	}}
	eng, sink, _ := newTestEngine(t, rules)

	eng.EvaluateEvent(context.Background(), event.TypeCrisisDetected, map[string]interface{}{"clientId": "c-1"})

	require.Len(t, sink.executions, 2)
	assert.Equal(t, "high", sink.executions[0].RuleID)
	assert.Equal(t, "low", sink.executions[1].RuleID)
}

func TestEvaluateEventPartialActionFailure(t *testing.T) {
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("r1", 0, `{"event":"crisis.detected"}`, "",
			`[{"type":"send_crisis_alert_email"},{"type":"auto_assign_task","config":{"title":"Follow up"}}]`),
	}}
	eng, sink, stub := newTestEngine(t, rules)
	stub.alertErr = errors.New("smtp unreachable")

	eng.EvaluateEvent(context.Background(), event.TypeCrisisDetected, map[string]interface{}{
		"clientId":  "c-1",
		"messageId": "m-1",
	})

	require.Len(t, sink.executions, 1)
	execution := sink.executions[0]
	assert.False(t, execution.Success)
	require.NotNil(t, execution.Error)
	assert.Contains(t, *execution.Error, "smtp unreachable")

	var outcomes []ActionOutcome
	require.NoError(t, json.Unmarshal(execution.Actions, &outcomes))
	require.Len(t, outcomes, 2)
	assert.Contains(t, outcomes[0].Error, "smtp unreachable")
	assert.Empty(t, outcomes[1].Error, "later actions still run after a failure")
	require.Len(t, stub.taskCalls, 1)
}

func TestEvaluateEventUnknownActionCaptured(t *testing.T) {
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("r1", 0, `{"event":"crisis.detected"}`, "", `[{"type":"launch_rocket"}]`),
	}}
	eng, sink, _ := newTestEngine(t, rules)

	eng.EvaluateEvent(context.Background(), event.TypeCrisisDetected, map[string]interface{}{})

	require.Len(t, sink.executions, 1)
	execution := sink.executions[0]
	assert.False(t, execution.Success)

	var outcomes []ActionOutcome
	require.NoError(t, json.Unmarshal(execution.Actions, &outcomes))
	require.Len(t, outcomes, 1)
	assert.Contains(t, outcomes[0].Error, "unknown action type")
}

func TestEvaluateEventMalformedEnvelopesSkipRule(t *testing.T) {
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("bad-trigger", 30, `{"nope":true}`, "", `[{"type":"auto_assign_task"}]`),
		makeRule("bad-conditions", 20, `{"event":"crisis.detected"}`, `["not","an","object"]`, `[{"type":"auto_assign_task"}]`),
		makeRule("bad-actions", 15, `{"event":"crisis.detected"}`, "", `{"not":"an array"}`),
		makeRule("untyped-action", 12, `{"event":"crisis.detected"}`, "", `[{"config":{}}]`),
		makeRule("good", 10, `{"event":"crisis.detected"}`, "", `[{"type":"auto_assign_task"}]`),
	}}
	eng, sink, _ := newTestEngine(t, rules)

	eng.EvaluateEvent(context.Background(), event.TypeCrisisDetected, map[string]interface{}{"clientId": "c-1"})

	require.Len(t, sink.executions, 1, "malformed rules are skipped, later rules still run")
	assert.Equal(t, "good", sink.executions[0].RuleID)
}

func TestEvaluateEventRuleStoreOutage(t *testing.T) {
	rules := &fakeRuleSource{err: errors.New("connection refused")}
	eng, sink, _ := newTestEngine(t, rules)

	eng.EvaluateEvent(context.Background(), event.TypeCrisisDetected, map[string]interface{}{})

	assert.Empty(t, sink.executions)
}

func TestEvaluateEventRecordsContext(t *testing.T) {
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("r1", 0, `{"event":"task.overdue"}`, "", `[{"type":"auto_assign_task"}]`),
	}}
	eng, sink, _ := newTestEngine(t, rules)

	payload := map[string]interface{}{"taskId": "t-7", "counselorId": "co-3"}
	eng.EvaluateEvent(context.Background(), event.TypeTaskOverdue, payload)

	require.Len(t, sink.executions, 1)
	execution := sink.executions[0]
	assert.Equal(t, event.TypeTaskOverdue, execution.TriggeredBy)
	assert.NotEmpty(t, execution.ID)
	assert.False(t, execution.ExecutedAt.IsZero())

	var recorded map[string]interface{}
	require.NoError(t, json.Unmarshal(execution.Context, &recorded))
	assert.Equal(t, "t-7", recorded["taskId"])
	assert.Equal(t, "co-3", recorded["counselorId"])
}

func TestEngineStartSubscribesKnownTypes(t *testing.T) {
	rules := &fakeRuleSource{rules: []*database.WorkflowRule{
		makeRule("r1", 0, `{"event":"session.completed"}`, "", `[{"type":"auto_assign_task"}]`),
	}}

	stub := &stubCollaborators{}
	dispatcher := NewDispatcher(stub, stub, stub, stub, stub, 7*24*time.Hour, time.Minute, time.Minute, testLogger())
	sink := &fakeSink{}
	bus := event.NewBus(testLogger())
	eng := NewEngine(bus, rules, sink, dispatcher, testLogger(), metrics.NewCollector(prometheus.NewRegistry()))

	require.NoError(t, eng.Start(context.Background()))
	defer eng.Stop()

	assert.Error(t, eng.Start(context.Background()), "double start is rejected")

	bus.Publish(event.TypeSessionCompleted, map[string]interface{}{"clientId": "c-1"})
	bus.Drain()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.executions, 1)
	assert.Equal(t, "r1", sink.executions[0].RuleID)
}
