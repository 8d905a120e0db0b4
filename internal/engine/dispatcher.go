package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"
)

// Action types recognized by the dispatcher. The switch is closed: anything
// else fails with ErrUnknownActionType.
const (
	ActionSendCrisisAlertEmail = "send_crisis_alert_email"
	ActionAutoAssignAssessment = "auto_assign_assessment"
	ActionAutoAssignTask       = "auto_assign_task"
	ActionNotifyCounselor      = "notify_counselor"
)

// SystemAssignee is the sentinel assignee used when an event carries no
// counselor.
const SystemAssignee = "system"

// ErrUnknownActionType is returned when an action's type matches no
// recognized variant.
var ErrUnknownActionType = errors.New("unknown action type")

// Action is a typed, configured side-effecting operation embedded in a rule.
type Action struct {
	Type   string                 `json:"type"`
	Config map[string]interface{} `json:"config,omitempty"`
}

// ActionResult is the successful outcome of a single dispatched action.
type ActionResult struct {
	Success bool        `json:"success"`
	Result  interface{} `json:"result,omitempty"`
}

// TaskRequest describes a task to be created by the task collaborator.
type TaskRequest struct {
	Title       string
	Description string
	AssigneeID  string
	ClientID    string
	DueAt       time.Time
}

// Domain collaborators, one per action variant. Each is an opaque call
// returning a result value or failing with a collaborator-specific error.
type (
	// AlertSender delivers a crisis alert for a subject and the record that
	// triggered it.
	AlertSender interface {
		SendCrisisAlert(ctx context.Context, subjectID, recordID string) (interface{}, error)
	}

	// AssessmentAssigner assigns an assessment of the given type to a client.
	AssessmentAssigner interface {
		AssignAssessment(ctx context.Context, clientID, assessmentType string, dueAt time.Time) (interface{}, error)
	}

	// TaskCreator creates a counselor work item.
	TaskCreator interface {
		CreateTask(ctx context.Context, req TaskRequest) (interface{}, error)
	}

	// CounselorNotifier delivers a templated notification to a contact
	// address, with the full event payload as template context.
	CounselorNotifier interface {
		NotifyCounselor(ctx context.Context, address, subject, templateName string, data map[string]interface{}) (interface{}, error)
	}

	// ContactDirectory resolves a counselor identifier to a contact address.
	ContactDirectory interface {
		ContactAddress(ctx context.Context, counselorID string) (string, error)
	}
)

// Dispatcher translates a rule's declared actions into calls against the
// domain collaborators. Collaborator failures propagate to the caller, which
// captures them per-action.
type Dispatcher struct {
	alerts        AlertSender
	assessments   AssessmentAssigner
	tasks         TaskCreator
	notifier      CounselorNotifier
	directory     ContactDirectory
	contacts      *cache.Cache
	dueIn         time.Duration
	actionTimeout time.Duration
	logger        *slog.Logger
}

// NewDispatcher creates an action dispatcher. dueIn is how far in the future
// auto-assigned work is due; actionTimeout bounds each collaborator call.
func NewDispatcher(
	alerts AlertSender,
	assessments AssessmentAssigner,
	tasks TaskCreator,
	notifier CounselorNotifier,
	directory ContactDirectory,
	dueIn time.Duration,
	actionTimeout time.Duration,
	contactCacheTTL time.Duration,
	logger *slog.Logger,
) *Dispatcher {
	if dueIn <= 0 {
		dueIn = 7 * 24 * time.Hour
	}
	if actionTimeout <= 0 {
		actionTimeout = 30 * time.Second
	}
	if contactCacheTTL <= 0 {
		contactCacheTTL = 5 * time.Minute
	}
	return &Dispatcher{
		alerts:        alerts,
		assessments:   assessments,
		tasks:         tasks,
		notifier:      notifier,
		directory:     directory,
		contacts:      cache.New(contactCacheTTL, 2*contactCacheTTL),
		dueIn:         dueIn,
		actionTimeout: actionTimeout,
		logger:        logger,
	}
}

// Execute runs one action against its collaborator.
func (d *Dispatcher) Execute(ctx context.Context, action Action, eventData map[string]interface{}) (ActionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, d.actionTimeout)
	defer cancel()

	switch action.Type {
	case ActionSendCrisisAlertEmail:
		return d.sendCrisisAlertEmail(ctx, eventData)
	case ActionAutoAssignAssessment:
		return d.autoAssignAssessment(ctx, action, eventData)
	case ActionAutoAssignTask:
		return d.autoAssignTask(ctx, action, eventData)
	case ActionNotifyCounselor:
		return d.notifyCounselor(ctx, action, eventData)
	default:
		return ActionResult{}, fmt.Errorf("%w: %q", ErrUnknownActionType, action.Type)
	}
}

func (d *Dispatcher) sendCrisisAlertEmail(ctx context.Context, eventData map[string]interface{}) (ActionResult, error) {
	subjectID := stringValue(eventData, "clientId")
	recordID := stringValue(eventData, "messageId")

	result, err := d.alerts.SendCrisisAlert(ctx, subjectID, recordID)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Success: true, Result: result}, nil
}

func (d *Dispatcher) autoAssignAssessment(ctx context.Context, action Action, eventData map[string]interface{}) (ActionResult, error) {
	assessmentType := stringValue(action.Config, "assessmentType")
	if assessmentType == "" {
		return ActionResult{}, fmt.Errorf("auto_assign_assessment requires config.assessmentType")
	}

	clientID := stringValue(eventData, "clientId")
	dueAt := time.Now().UTC().Add(d.dueIn)

	result, err := d.assessments.AssignAssessment(ctx, clientID, assessmentType, dueAt)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Success: true, Result: result}, nil
}

func (d *Dispatcher) autoAssignTask(ctx context.Context, action Action, eventData map[string]interface{}) (ActionResult, error) {
	assignee := stringValue(eventData, "counselorId")
	if assignee == "" {
		assignee = SystemAssignee
	}

	title := stringValue(action.Config, "title")
	if title == "" {
		title = "Automated follow-up"
	}

	req := TaskRequest{
		Title:       title,
		Description: stringValue(action.Config, "description"),
		AssigneeID:  assignee,
		ClientID:    stringValue(eventData, "clientId"),
		DueAt:       time.Now().UTC().Add(d.dueIn),
	}

	result, err := d.tasks.CreateTask(ctx, req)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Success: true, Result: result}, nil
}

func (d *Dispatcher) notifyCounselor(ctx context.Context, action Action, eventData map[string]interface{}) (ActionResult, error) {
	counselorID := stringValue(eventData, "counselorId")
	if counselorID == "" {
		counselorID = SystemAssignee
	}

	address, err := d.contactAddress(ctx, counselorID)
	if err != nil {
		return ActionResult{}, err
	}

	subject := stringValue(action.Config, "subject")
	templateName := stringValue(action.Config, "template")

	result, err := d.notifier.NotifyCounselor(ctx, address, subject, templateName, eventData)
	if err != nil {
		return ActionResult{}, err
	}
	return ActionResult{Success: true, Result: result}, nil
}

// contactAddress resolves a counselor's contact address through a short TTL
// cache so a burst of rule matches does not hammer the directory.
func (d *Dispatcher) contactAddress(ctx context.Context, counselorID string) (string, error) {
	if cached, ok := d.contacts.Get(counselorID); ok {
		return cached.(string), nil
	}

	address, err := d.directory.ContactAddress(ctx, counselorID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve contact for counselor %s: %w", counselorID, err)
	}

	d.contacts.Set(counselorID, address, cache.DefaultExpiration)
	return address, nil
}

func stringValue(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}
