package database

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Actor identifies who is performing a rule mutation. Platform admins may
// operate on any rule; everyone else only on rules they own.
type Actor struct {
	ID    string
	Admin bool
}

// Rule levels. Non-platform rules always belong to an owner.
const (
	LevelPlatform     = "platform"
	LevelOrganization = "organization"
	LevelCounselor    = "counselor"
)

// WorkflowRule is a stored automation rule. Trigger, Conditions and Actions
// are JSONB envelopes validated at the evaluation boundary rather than
// trusted from the store: a malformed envelope makes the rule skippable, not
// the engine crashable.
type WorkflowRule struct {
	ID         string         `db:"id" json:"id"`
	Name       string         `db:"name" json:"name"`
	Level      string         `db:"level" json:"level"`
	OwnerID    *string        `db:"owner_id" json:"owner_id,omitempty"`
	Trigger    types.JSONText `db:"trigger" json:"trigger"`
	Conditions types.JSONText `db:"conditions" json:"conditions,omitempty"`
	Actions    types.JSONText `db:"actions" json:"actions"`
	Priority   int            `db:"priority" json:"priority"`
	IsActive   bool           `db:"is_active" json:"is_active"`
	CreatedBy  string         `db:"created_by" json:"created_by"`
	UpdatedBy  string         `db:"updated_by" json:"updated_by"`
	CreatedAt  time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at" json:"updated_at"`
}

// WorkflowExecution is the append-only audit record produced once per rule
// match per event. Immutable after creation.
type WorkflowExecution struct {
	ID          string         `db:"id" json:"id"`
	RuleID      string         `db:"rule_id" json:"rule_id"`
	TriggeredBy string         `db:"triggered_by" json:"triggered_by"`
	Context     types.JSONText `db:"context" json:"context"`
	Actions     types.JSONText `db:"actions" json:"actions"`
	Success     bool           `db:"success" json:"success"`
	Error       *string        `db:"error" json:"error,omitempty"`
	ExecutedAt  time.Time      `db:"executed_at" json:"executed_at"`
}

// Task statuses
const (
	TaskStatusOpen      = "open"
	TaskStatusCompleted = "completed"
)

// Task is a counselor work item, typically created by the auto_assign_task
// action. Overdue tasks feed the task.overdue event sweep.
type Task struct {
	ID              string     `db:"id" json:"id"`
	Title           string     `db:"title" json:"title"`
	Description     string     `db:"description" json:"description"`
	AssigneeID      string     `db:"assignee_id" json:"assignee_id"`
	ClientID        string     `db:"client_id" json:"client_id"`
	Status          string     `db:"status" json:"status"`
	DueAt           time.Time  `db:"due_at" json:"due_at"`
	OverdueNotified bool       `db:"overdue_notified" json:"overdue_notified"`
	CompletedAt     *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// AssessmentAssignment records an assessment assigned to a client with a due
// date, typically by the auto_assign_assessment action.
type AssessmentAssignment struct {
	ID             string    `db:"id" json:"id"`
	ClientID       string    `db:"client_id" json:"client_id"`
	AssessmentID   string    `db:"assessment_id" json:"assessment_id"`
	AssessmentType string    `db:"assessment_type" json:"assessment_type"`
	DueAt          time.Time `db:"due_at" json:"due_at"`
	Status         string    `db:"status" json:"status"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Counselor is the contact-directory record used to resolve notification
// addresses.
type Counselor struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Email     string    `db:"email" json:"email"`
	Phone     *string   `db:"phone" json:"phone,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Notification statuses
const (
	NotificationStatusPending = "pending"
	NotificationStatusSent    = "sent"
	NotificationStatusFailed  = "failed"
)

// Notification is a persisted record of an outbound delivery attempt.
type Notification struct {
	ID        string     `db:"id" json:"id"`
	Channel   string     `db:"channel" json:"channel"`
	Recipient string     `db:"recipient" json:"recipient"`
	Subject   string     `db:"subject" json:"subject"`
	Body      string     `db:"body" json:"body"`
	Status    string     `db:"status" json:"status"`
	Error     *string    `db:"error" json:"error,omitempty"`
	SentAt    *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
}
