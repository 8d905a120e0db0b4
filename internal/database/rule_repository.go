package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// RuleRepository handles workflow rule storage and the ownership/admin checks
// that gate every mutation.
type RuleRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *sqlx.DB, logger *slog.Logger) *RuleRepository {
	return &RuleRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// authorize checks that the actor may operate on a rule with the given owner.
func authorize(actor Actor, ownerID *string) error {
	if actor.Admin {
		return nil
	}
	if ownerID == nil || *ownerID != actor.ID {
		return ErrForbidden
	}
	return nil
}

// validateNewRule enforces the creation-time ownership rules: non-platform
// rules always carry an owner, and only platform admins create platform
// rules. A non-admin may only create rules they own.
func validateNewRule(rule *WorkflowRule, actor Actor) error {
	if rule.Level != LevelPlatform && rule.OwnerID == nil {
		return fmt.Errorf("owner_id is required for %s-level rules", rule.Level)
	}
	if actor.Admin {
		return nil
	}
	if rule.Level == LevelPlatform {
		return fmt.Errorf("%w: only platform admins may create platform rules", ErrForbidden)
	}
	return authorize(actor, rule.OwnerID)
}

// checkRuleImmutable rejects updates that try to move a rule to another
// level or owner. Both fields are fixed at creation to prevent privilege
// escalation; attempts to change them fail, they are not silently dropped.
func checkRuleImmutable(current, updated *WorkflowRule) error {
	if updated.Level != "" && updated.Level != current.Level {
		return fmt.Errorf("level: %w", ErrImmutableField)
	}
	if updated.OwnerID != nil && (current.OwnerID == nil || *updated.OwnerID != *current.OwnerID) {
		return fmt.Errorf("owner_id: %w", ErrImmutableField)
	}
	return nil
}

// Create inserts a new rule after validating the actor's authority over it.
func (r *RuleRepository) Create(ctx context.Context, rule *WorkflowRule, actor Actor) error {
	if err := validateNewRule(rule, actor); err != nil {
		return err
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.CreatedBy = actor.ID
	rule.UpdatedBy = actor.ID

	query := `
		INSERT INTO workflow_rules (
			id, name, level, owner_id, "trigger", conditions, actions,
			priority, is_active, created_by, updated_by, created_at, updated_at
		) VALUES (
			:id, :name, :level, :owner_id, :trigger, :conditions, :actions,
			:priority, :is_active, :created_by, :updated_by, :created_at, :updated_at
		)`

	if _, err := r.db.NamedExecContext(ctx, query, rule); err != nil {
		r.logger.Error("Failed to create rule", "rule_id", rule.ID, "error", err)
		return fmt.Errorf("failed to create rule: %w", err)
	}

	r.logger.Info("Rule created", "rule_id", rule.ID, "name", rule.Name, "level", rule.Level, "actor", actor.ID)
	return nil
}

// GetByID retrieves a rule by ID
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*WorkflowRule, error) {
	query := `SELECT * FROM workflow_rules WHERE id = $1`

	var rule WorkflowRule
	if err := r.db.GetContext(ctx, &rule, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get rule by ID: %w", err)
	}

	return &rule, nil
}

// ListActive retrieves all active rules ordered by priority descending. This
// is the exact rule set the workflow engine evaluates on every event.
func (r *RuleRepository) ListActive(ctx context.Context) ([]*WorkflowRule, error) {
	query := `
		SELECT * FROM workflow_rules
		WHERE is_active = true
		ORDER BY priority DESC, created_at ASC`

	var rules []*WorkflowRule
	if err := r.db.SelectContext(ctx, &rules, query); err != nil {
		return nil, fmt.Errorf("failed to list active rules: %w", err)
	}

	return rules, nil
}

// List retrieves every rule visible to the actor: all rules for admins, owned
// rules otherwise.
func (r *RuleRepository) List(ctx context.Context, actor Actor) ([]*WorkflowRule, error) {
	var rules []*WorkflowRule
	var err error
	if actor.Admin {
		err = r.db.SelectContext(ctx, &rules,
			`SELECT * FROM workflow_rules ORDER BY priority DESC, created_at ASC`)
	} else {
		err = r.db.SelectContext(ctx, &rules,
			`SELECT * FROM workflow_rules WHERE owner_id = $1 ORDER BY priority DESC, created_at ASC`, actor.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

// Update mutates an existing rule. Level and owner are immutable after
// creation to prevent privilege escalation; attempts to change them are
// rejected, not silently dropped.
func (r *RuleRepository) Update(ctx context.Context, rule *WorkflowRule, actor Actor) error {
	current, err := r.GetByID(ctx, rule.ID)
	if err != nil {
		return err
	}
	if err := authorize(actor, current.OwnerID); err != nil {
		return err
	}
	if err := checkRuleImmutable(current, rule); err != nil {
		return err
	}

	rule.Level = current.Level
	rule.OwnerID = current.OwnerID
	rule.UpdatedBy = actor.ID
	rule.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE workflow_rules SET
			name = :name,
			"trigger" = :trigger,
			conditions = :conditions,
			actions = :actions,
			priority = :priority,
			is_active = :is_active,
			updated_by = :updated_by,
			updated_at = :updated_at
		WHERE id = :id`

	result, err := r.db.NamedExecContext(ctx, query, rule)
	if err != nil {
		r.logger.Error("Failed to update rule", "rule_id", rule.ID, "error", err)
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}

	r.logger.Info("Rule updated", "rule_id", rule.ID, "actor", actor.ID)
	return nil
}

// SetActive soft-enables or soft-disables a rule.
func (r *RuleRepository) SetActive(ctx context.Context, id string, active bool, actor Actor) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, current.OwnerID); err != nil {
		return err
	}

	query := `
		UPDATE workflow_rules SET
			is_active = $2,
			updated_by = $3,
			updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.ExecContext(ctx, query, id, active, actor.ID); err != nil {
		return fmt.Errorf("failed to set rule active state: %w", err)
	}

	r.logger.Info("Rule active state changed", "rule_id", id, "is_active", active, "actor", actor.ID)
	return nil
}

// Delete hard-deletes a rule. Soft-disable via SetActive is the common path;
// hard delete exists for owner-initiated cleanup.
func (r *RuleRepository) Delete(ctx context.Context, id string, actor Actor) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(actor, current.OwnerID); err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_rules WHERE id = $1`, id)
	if err != nil {
		r.logger.Error("Failed to delete rule", "rule_id", id, "error", err)
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}

	r.logger.Info("Rule deleted", "rule_id", id, "actor", actor.ID)
	return nil
}
