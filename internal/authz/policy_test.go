package authz

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPolicyEngine(t *testing.T, store *fakeStore, engine *Engine, opts ...PolicyEngineOption) *PolicyEngine {
	t.Helper()
	opts = append([]PolicyEngineOption{WithPolicyClock(fixedClock(testNow))}, opts...)
	return NewPolicyEngine(store, engine, slog.Default(), opts...)
}

func TestDutySegregationBlocksNonSuperAdmin(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "delete_property", "property", nil)

	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.BlockedPolicies, "Administrative Duty Segregation")
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "critical", decision.Violations[0].Severity)
	assert.Equal(t, ViolationOpen, decision.Violations[0].Status)
	assert.Equal(t, 1, store.violationCount(), "violation must be persisted")
}

func TestDutySegregationAllowsSuperAdmin(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleSuperAdmin, IsActive: true}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "delete_property", "property", nil)

	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Violations)
	assert.Empty(t, decision.BlockedPolicies)
}

func TestDutySegregationSkipsNonAdminActions(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "view_report", "report", nil)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Violations)

	// The requires_admin context flag pulls arbitrary actions into scope.
	decision = pe.EvaluateAction(context.Background(), 1, "view_report", "report",
		map[string]any{"requires_admin": true})
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.BlockedPolicies, "Administrative Duty Segregation")
}

func TestAdvisoryPolicyWarnsWithoutBlocking(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.policies = []CompliancePolicy{{
		ID:          7,
		Name:        "Staff Activity Review",
		Type:        "hygiene",
		Status:      PolicyActive,
		Enforcement: EnforceAdvisory,
		Priority:    PriorityLow,
		Rules: []PolicyRule{{
			Condition: RuleCondition{Type: CondUserRole, Operator: OpEquals, Value: "staff"},
			Action:    ActionNotify,
			Message:   "staff actions are sampled for review",
		}},
	}}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "create_entry", "fnb", nil)

	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.BlockedPolicies)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "low", decision.Violations[0].Severity)
	require.Len(t, decision.Warnings, 1)
	assert.Equal(t, "Staff Activity Review: staff actions are sampled for review", decision.Warnings[0])
}

func TestBlockingPolicyFromStore(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleSupervisor, IsActive: true}
	store.policies = []CompliancePolicy{{
		ID:          3,
		Name:        "Night Shift Lockout",
		Type:        "schedule",
		Status:      PolicyActive,
		Enforcement: EnforceBlocking,
		Priority:    PriorityHigh,
		Rules: []PolicyRule{{
			// testNow is 10:00 UTC.
			Condition: RuleCondition{Type: CondTimeBased, Operator: OpGreaterThan, Value: 9},
			Action:    ActionBlock,
			Message:   "approvals are locked after 09:00",
		}},
	}}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "approve_entry", "fnb", nil)

	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{"Night Shift Lockout"}, decision.BlockedPolicies)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "high", decision.Violations[0].Severity)
}

func TestTimeBasedRuleOutsideWindowDoesNotMatch(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleSupervisor, IsActive: true}
	store.policies = []CompliancePolicy{{
		Name:        "Early Morning Lockout",
		Type:        "schedule",
		Status:      PolicyActive,
		Enforcement: EnforceBlocking,
		Priority:    PriorityHigh,
		Rules: []PolicyRule{{
			Condition: RuleCondition{Type: CondTimeBased, Operator: OpLessThan, Value: 6},
			Action:    ActionBlock,
		}},
	}}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "approve_entry", "fnb", nil)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Violations)
}

func TestPermissionCountCondition(t *testing.T) {
	store := supervisorFixture()
	engine := newTestEngine(t, store)
	store.policies = []CompliancePolicy{{
		Name:        "Wide Permission Review",
		Type:        "permission_hygiene",
		Status:      PolicyActive,
		Enforcement: EnforceAdvisory,
		Priority:    PriorityMedium,
		Rules: []PolicyRule{{
			Condition: RuleCondition{Type: CondPermissionCount, Operator: OpGreaterThan, Value: 5},
			Action:    ActionNotify,
			Message:   "permission set is wider than the departmental baseline",
		}},
	}}
	pe := newPolicyEngine(t, store, engine)

	decision := pe.EvaluateAction(context.Background(), 1, "export_report", "report", nil)

	assert.True(t, decision.Allowed)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "Wide Permission Review", decision.Violations[0].PolicyName)
}

func TestDefaultExcessivePermissionsPolicyNotTriggeredByNormalUser(t *testing.T) {
	store := supervisorFixture()
	engine := newTestEngine(t, store)
	pe := newPolicyEngine(t, store, engine)

	decision := pe.EvaluateAction(context.Background(), 1, "export_report", "report", nil)

	// Supervisors resolve well under the 50-permission threshold.
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Violations)
	assert.Empty(t, decision.Warnings)
}

func TestEvaluationFailsOpenOnStoreErrors(t *testing.T) {
	store := newFakeStore()
	store.userErr = errors.New("db unreachable")
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "delete_property", "property", nil)
	assert.True(t, decision.Allowed, "user load failure must fail open")
	require.Len(t, decision.Warnings, 1)
	assert.Contains(t, decision.Warnings[0], "load user")

	store = newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.policiesErr = errors.New("db unreachable")
	pe = newPolicyEngine(t, store, nil)

	decision = pe.EvaluateAction(context.Background(), 1, "delete_property", "property", nil)
	assert.True(t, decision.Allowed, "policy load failure must fail open")
	require.Len(t, decision.Warnings, 1)
	assert.Contains(t, decision.Warnings[0], "load policies")
}

func TestRuleFailureSkipsRuleWhenFailOpen(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.policies = []CompliancePolicy{{
		Name:        "Permission Budget",
		Type:        "permission_hygiene",
		Status:      PolicyActive,
		Enforcement: EnforceBlocking,
		Priority:    PriorityHigh,
		Rules: []PolicyRule{{
			// No inheritance engine wired, so this condition errors.
			Condition: RuleCondition{Type: CondPermissionCount, Operator: OpGreaterThan, Value: 5},
			Action:    ActionBlock,
		}},
	}}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "export_report", "report", nil)

	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.BlockedPolicies)
	require.Len(t, decision.Warnings, 1)
	assert.Contains(t, decision.Warnings[0], "rule skipped")
}

func TestRuleFailureBlocksWhenFailClosed(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.policies = []CompliancePolicy{{
		Name:        "Permission Budget",
		Type:        "permission_hygiene",
		Status:      PolicyActive,
		Enforcement: EnforceBlocking,
		Priority:    PriorityHigh,
		OnError:     FailClosed,
		Rules: []PolicyRule{{
			Condition: RuleCondition{Type: CondPermissionCount, Operator: OpGreaterThan, Value: 5},
			Action:    ActionBlock,
		}},
	}}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "export_report", "report", nil)

	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{"Permission Budget"}, decision.BlockedPolicies)
	require.Len(t, decision.Warnings, 1)
	assert.Contains(t, decision.Warnings[0], "fail-closed")
}

type recordingRemediator struct {
	calls []ComplianceViolation
	err   error
}

func (r *recordingRemediator) Remediate(_ context.Context, _ CompliancePolicy, v ComplianceViolation) error {
	r.calls = append(r.calls, v)
	return r.err
}

func TestCorrectivePolicyInvokesRemediator(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.policies = []CompliancePolicy{{
		Name:        "Auto Downgrade",
		Type:        "hygiene",
		Status:      PolicyActive,
		Enforcement: EnforceCorrective,
		Priority:    PriorityMedium,
		Rules: []PolicyRule{{
			Condition: RuleCondition{Type: CondUserRole, Operator: OpEquals, Value: "staff"},
			Action:    ActionRemediate,
			Message:   "downgrade stale staff grants",
		}},
	}}
	remediator := &recordingRemediator{}
	pe := newPolicyEngine(t, store, nil, WithRemediator(remediator))

	decision := pe.EvaluateAction(context.Background(), 1, "create_entry", "fnb", nil)

	assert.True(t, decision.Allowed, "corrective enforcement never blocks")
	require.Len(t, remediator.calls, 1)
	assert.Equal(t, "Auto Downgrade", remediator.calls[0].PolicyName)
}

func TestRemediatorFailureDoesNotBlock(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.policies = []CompliancePolicy{{
		Name:        "Auto Downgrade",
		Type:        "hygiene",
		Status:      PolicyActive,
		Enforcement: EnforceCorrective,
		Priority:    PriorityMedium,
		Rules: []PolicyRule{{
			Condition: RuleCondition{Type: CondUserRole, Operator: OpEquals, Value: "staff"},
			Action:    ActionRemediate,
		}},
	}}
	pe := newPolicyEngine(t, store, nil, WithRemediator(&recordingRemediator{err: errors.New("hook down")}))

	decision := pe.EvaluateAction(context.Background(), 1, "create_entry", "fnb", nil)
	assert.True(t, decision.Allowed)
}

func TestViolationPersistenceFailureIsBestEffort(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.violationErr = errors.New("insert failed")
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "delete_property", "property", nil)

	// The decision still carries the violation even though persisting it failed.
	assert.False(t, decision.Allowed)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, 0, store.violationCount())
}

func TestPoliciesEvaluateByPriority(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.policies = []CompliancePolicy{
		{
			Name: "Low Bar", Type: "hygiene", Status: PolicyActive,
			Enforcement: EnforceBlocking, Priority: PriorityLow,
			Rules: []PolicyRule{{Condition: RuleCondition{Type: CondUserRole, Operator: OpEquals, Value: "staff"}, Action: ActionBlock}},
		},
		{
			Name: "High Bar", Type: "hygiene", Status: PolicyActive,
			Enforcement: EnforceBlocking, Priority: PriorityCritical,
			Rules: []PolicyRule{{Condition: RuleCondition{Type: CondUserRole, Operator: OpEquals, Value: "staff"}, Action: ActionBlock}},
		},
	}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "create_entry", "fnb", nil)

	assert.False(t, decision.Allowed)
	assert.Equal(t, []string{"High Bar", "Low Bar"}, decision.BlockedPolicies,
		"critical priority policies evaluate before low priority ones")
}

func TestInactivePoliciesAreSkipped(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.policies = []CompliancePolicy{
		{
			Name: "Draft Rule", Type: "hygiene", Status: PolicyDraft,
			Enforcement: EnforceBlocking, Priority: PriorityHigh,
			Rules: []PolicyRule{{Condition: RuleCondition{Type: CondUserRole, Operator: OpEquals, Value: "staff"}, Action: ActionBlock}},
		},
		{
			Name: "Live Rule", Type: "hygiene", Status: PolicyActive,
			Enforcement: EnforceAdvisory, Priority: PriorityLow,
			Rules: []PolicyRule{{Condition: RuleCondition{Type: CondUserRole, Operator: OpEquals, Value: "staff"}, Action: ActionNotify, Message: "noted"}},
		},
	}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "create_entry", "fnb", nil)

	assert.True(t, decision.Allowed)
	require.Len(t, decision.Violations, 1)
	assert.Equal(t, "Live Rule", decision.Violations[0].PolicyName)
}

func TestReservedConditionTypesNeverMatch(t *testing.T) {
	store := newFakeStore()
	store.users[1] = &User{ID: 1, Role: RoleStaff, IsActive: true}
	store.policies = []CompliancePolicy{{
		Name: "Reserved", Type: "hygiene", Status: PolicyActive,
		Enforcement: EnforceBlocking, Priority: PriorityHigh,
		Rules: []PolicyRule{
			{Condition: RuleCondition{Type: CondAccessLevel, Operator: OpEquals, Value: "owner"}, Action: ActionBlock},
			{Condition: RuleCondition{Type: CondCustom, Operator: OpEquals, Value: "x"}, Action: ActionBlock},
		},
	}}
	pe := newPolicyEngine(t, store, nil)

	decision := pe.EvaluateAction(context.Background(), 1, "create_entry", "fnb", nil)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Violations)
	assert.Empty(t, decision.Warnings)
}

func TestCompareHelpers(t *testing.T) {
	matched, err := compareStrings("staff", OpContains, "taf")
	require.NoError(t, err)
	assert.True(t, matched)

	matched, err = compareStrings("staff", OpNotContains, "admin")
	require.NoError(t, err)
	assert.True(t, matched)

	_, err = compareStrings("staff", OpGreaterThan, "a")
	assert.Error(t, err)

	matched, err = compareNumbers(10, OpLessThan, "12.5")
	require.NoError(t, err)
	assert.True(t, matched)

	_, err = compareNumbers(10, OpContains, 5)
	assert.Error(t, err)

	_, err = toFloat(struct{}{})
	assert.Error(t, err)
}
