package domain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/solacehealth/safety-engine/internal/database"
	"github.com/solacehealth/safety-engine/internal/engine"
	"github.com/solacehealth/safety-engine/internal/event"
)

// assessmentCatalog maps the assessment type names rule authors use to the
// identifiers of the published assessment instruments.
var assessmentCatalog = map[string]string{
	"phq9":              "asm-phq9",
	"gad7":              "asm-gad7",
	"wellbeing-checkin": "asm-wellbeing-checkin",
	"grief-support":     "asm-grief-support",
}

// AssessmentService assigns assessments to clients on behalf of workflow
// actions.
type AssessmentService struct {
	assignments *database.AssignmentRepository
	logger      *slog.Logger
}

// NewAssessmentService creates an assessment service.
func NewAssessmentService(assignments *database.AssignmentRepository, logger *slog.Logger) *AssessmentService {
	return &AssessmentService{assignments: assignments, logger: logger}
}

// AssignAssessment resolves the assessment type to a concrete instrument and
// records the assignment.
func (s *AssessmentService) AssignAssessment(ctx context.Context, clientID, assessmentType string, dueAt time.Time) (interface{}, error) {
	assessmentID, ok := assessmentCatalog[assessmentType]
	if !ok {
		return nil, fmt.Errorf("unknown assessment type %q", assessmentType)
	}

	assignment := &database.AssessmentAssignment{
		ID:             uuid.NewString(),
		ClientID:       clientID,
		AssessmentID:   assessmentID,
		AssessmentType: assessmentType,
		DueAt:          dueAt,
	}
	if err := s.assignments.Create(ctx, assignment); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"assignmentId": assignment.ID,
		"assessmentId": assessmentID,
		"dueAt":        dueAt.Format(time.RFC3339),
	}, nil
}

// TaskService creates and completes counselor tasks, publishing the matching
// lifecycle events on the bus.
type TaskService struct {
	tasks  *database.TaskRepository
	bus    *event.Bus
	logger *slog.Logger
}

// NewTaskService creates a task service.
func NewTaskService(tasks *database.TaskRepository, bus *event.Bus, logger *slog.Logger) *TaskService {
	return &TaskService{tasks: tasks, bus: bus, logger: logger}
}

// CreateTask records a new open task.
func (s *TaskService) CreateTask(ctx context.Context, req engine.TaskRequest) (interface{}, error) {
	task := &database.Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		AssigneeID:  req.AssigneeID,
		ClientID:    req.ClientID,
		Status:      database.TaskStatusOpen,
		DueAt:       req.DueAt,
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"taskId": task.ID,
		"dueAt":  task.DueAt.Format(time.RFC3339),
	}, nil
}

// Complete marks a task completed and publishes task.completed.
func (s *TaskService) Complete(ctx context.Context, taskID string) (*database.Task, error) {
	if err := s.tasks.Complete(ctx, taskID); err != nil {
		return nil, err
	}
	task, err := s.tasks.GetByID(ctx, taskID)
	if err != nil {
		return nil, err
	}

	s.bus.Publish(event.TypeTaskCompleted, map[string]interface{}{
		"taskId":      task.ID,
		"clientId":    task.ClientID,
		"counselorId": task.AssigneeID,
		"title":       task.Title,
	})

	return task, nil
}

// ContactService resolves counselor identifiers to contact addresses,
// preferring email and falling back to phone. The system sentinel resolves to
// the fallback address so automated work always has somewhere to go.
type ContactService struct {
	counselors      *database.CounselorRepository
	fallbackAddress string
	logger          *slog.Logger
}

// NewContactService creates a contact directory backed by the counselor
// table. fallbackAddress receives notifications addressed to the system
// sentinel or to counselors with no contact details.
func NewContactService(counselors *database.CounselorRepository, fallbackAddress string, logger *slog.Logger) *ContactService {
	return &ContactService{
		counselors:      counselors,
		fallbackAddress: fallbackAddress,
		logger:          logger,
	}
}

// ContactAddress returns the best delivery address for a counselor.
func (s *ContactService) ContactAddress(ctx context.Context, counselorID string) (string, error) {
	if counselorID == engine.SystemAssignee {
		if s.fallbackAddress == "" {
			return "", fmt.Errorf("no fallback contact address configured")
		}
		return s.fallbackAddress, nil
	}

	counselor, err := s.counselors.GetByID(ctx, counselorID)
	if err != nil {
		return "", err
	}

	if counselor.Email != "" {
		return counselor.Email, nil
	}
	if counselor.Phone != nil && *counselor.Phone != "" {
		return *counselor.Phone, nil
	}
	if s.fallbackAddress != "" {
		s.logger.Warn("Counselor has no contact details, using fallback", "counselor_id", counselorID)
		return s.fallbackAddress, nil
	}
	return "", fmt.Errorf("counselor %s has no contact address", counselorID)
}
