package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name    string
		actor   Actor
		ownerID *string
		wantErr error
	}{
		{
			name:    "admin may operate on any rule",
			actor:   Actor{ID: "admin-1", Admin: true},
			ownerID: strPtr("someone-else"),
		},
		{
			name:    "admin may operate on ownerless rule",
			actor:   Actor{ID: "admin-1", Admin: true},
			ownerID: nil,
		},
		{
			name:    "owner may operate on own rule",
			actor:   Actor{ID: "co-1"},
			ownerID: strPtr("co-1"),
		},
		{
			name:    "non-admin may not touch another owner's rule",
			actor:   Actor{ID: "co-1"},
			ownerID: strPtr("co-2"),
			wantErr: ErrForbidden,
		},
		{
			name:    "non-admin may not touch ownerless rule",
			actor:   Actor{ID: "co-1"},
			ownerID: nil,
			wantErr: ErrForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := authorize(tt.actor, tt.ownerID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateNewRule(t *testing.T) {
	t.Run("non-platform rule requires owner", func(t *testing.T) {
		err := validateNewRule(&WorkflowRule{Level: LevelCounselor}, Actor{ID: "admin-1", Admin: true})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner_id is required")
	})

	t.Run("organization rule requires owner", func(t *testing.T) {
		err := validateNewRule(&WorkflowRule{Level: LevelOrganization}, Actor{ID: "co-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "owner_id is required")
	})

	t.Run("non-admin may not create platform rule", func(t *testing.T) {
		err := validateNewRule(&WorkflowRule{Level: LevelPlatform}, Actor{ID: "co-1"})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("admin may create platform rule without owner", func(t *testing.T) {
		err := validateNewRule(&WorkflowRule{Level: LevelPlatform}, Actor{ID: "admin-1", Admin: true})
		assert.NoError(t, err)
	})

	t.Run("non-admin may create rule they own", func(t *testing.T) {
		rule := &WorkflowRule{Level: LevelCounselor, OwnerID: strPtr("co-1")}
		assert.NoError(t, validateNewRule(rule, Actor{ID: "co-1"}))
	})

	t.Run("non-admin may not create rule owned by someone else", func(t *testing.T) {
		rule := &WorkflowRule{Level: LevelCounselor, OwnerID: strPtr("co-2")}
		assert.ErrorIs(t, validateNewRule(rule, Actor{ID: "co-1"}), ErrForbidden)
	})

	t.Run("admin may create rule for any owner", func(t *testing.T) {
		rule := &WorkflowRule{Level: LevelOrganization, OwnerID: strPtr("org-9")}
		assert.NoError(t, validateNewRule(rule, Actor{ID: "admin-1", Admin: true}))
	})
}

func TestCheckRuleImmutable(t *testing.T) {
	current := &WorkflowRule{Level: LevelCounselor, OwnerID: strPtr("co-1")}

	t.Run("changing level is rejected", func(t *testing.T) {
		err := checkRuleImmutable(current, &WorkflowRule{Level: LevelPlatform})
		assert.ErrorIs(t, err, ErrImmutableField)
	})

	t.Run("changing owner is rejected", func(t *testing.T) {
		err := checkRuleImmutable(current, &WorkflowRule{Level: LevelCounselor, OwnerID: strPtr("co-2")})
		assert.ErrorIs(t, err, ErrImmutableField)
	})

	t.Run("setting owner on ownerless rule is rejected", func(t *testing.T) {
		platform := &WorkflowRule{Level: LevelPlatform}
		err := checkRuleImmutable(platform, &WorkflowRule{Level: LevelPlatform, OwnerID: strPtr("co-1")})
		assert.ErrorIs(t, err, ErrImmutableField)
	})

	t.Run("same level and owner pass", func(t *testing.T) {
		update := &WorkflowRule{Level: LevelCounselor, OwnerID: strPtr("co-1"), Name: "renamed"}
		assert.NoError(t, checkRuleImmutable(current, update))
	})

	t.Run("omitted level and owner pass", func(t *testing.T) {
		assert.NoError(t, checkRuleImmutable(current, &WorkflowRule{Name: "renamed"}))
	})
}
