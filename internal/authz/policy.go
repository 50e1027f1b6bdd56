package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// PolicyStatus is the lifecycle state of a compliance policy.
type PolicyStatus string

const (
	PolicyActive   PolicyStatus = "active"
	PolicyDraft    PolicyStatus = "draft"
	PolicyDisabled PolicyStatus = "disabled"
)

// Enforcement controls how a matched policy affects the decision.
type Enforcement string

const (
	EnforceAdvisory   Enforcement = "advisory"
	EnforceBlocking   Enforcement = "blocking"
	EnforceCorrective Enforcement = "corrective"
)

// Priority orders policies during evaluation and maps to violation
// severity.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Operator compares a condition value against the observed value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// ConditionType selects what a rule condition inspects.
type ConditionType string

const (
	// CondUserRole compares the user's role.
	CondUserRole ConditionType = "user_role"
	// CondPermissionCount compares the size of the user's resolved
	// permission set.
	CondPermissionCount ConditionType = "permission_count"
	// CondAccessLevel is reserved and always evaluates false.
	CondAccessLevel ConditionType = "access_level"
	// CondTimeBased compares the current hour (0-23).
	CondTimeBased ConditionType = "time_based"
	// CondCustom is reserved and always evaluates false.
	CondCustom ConditionType = "custom"
)

// RuleAction tags what a matched rule asks for. Enforcement semantics
// come from the policy, not the rule action.
type RuleAction string

const (
	ActionBlock     RuleAction = "block"
	ActionApprove   RuleAction = "approve"
	ActionEscalate  RuleAction = "escalate"
	ActionLog       RuleAction = "log"
	ActionNotify    RuleAction = "notify"
	ActionRemediate RuleAction = "remediate"
)

// RuleCondition is the matching half of a policy rule.
type RuleCondition struct {
	Type     ConditionType `json:"type"`
	Operator Operator      `json:"operator"`
	Value    any           `json:"value"`
}

// PolicyRule pairs a condition with the action it requests and the
// message surfaced on a match.
type PolicyRule struct {
	Condition RuleCondition `json:"condition"`
	Action    RuleAction    `json:"action"`
	Message   string        `json:"message"`
}

// ErrorMode selects what happens when evaluating a policy fails
// internally. The engine default is fail-open (availability over
// strictness); individual policies can opt into fail-closed.
type ErrorMode string

const (
	FailOpen   ErrorMode = "open"
	FailClosed ErrorMode = "closed"
)

// CompliancePolicy is an ordered rule list with enforcement semantics.
type CompliancePolicy struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Type        string       `json:"type"`
	Status      PolicyStatus `json:"status"`
	Rules       []PolicyRule `json:"rules"`
	Enforcement Enforcement  `json:"enforcement"`
	Priority    Priority     `json:"priority"`
	OnError     ErrorMode    `json:"on_error,omitempty"`
}

// ViolationStatus tracks the investigation lifecycle of a violation.
type ViolationStatus string

const (
	ViolationOpen          ViolationStatus = "open"
	ViolationInvestigating ViolationStatus = "investigating"
	ViolationResolved      ViolationStatus = "resolved"
	ViolationFalsePositive ViolationStatus = "false_positive"
)

// ComplianceViolation is persisted whenever a policy rule matches.
type ComplianceViolation struct {
	ID         int64           `json:"id"`
	Reference  string          `json:"reference"`
	PolicyID   int64           `json:"policy_id"`
	PolicyName string          `json:"policy_name"`
	UserID     int64           `json:"user_id"`
	Severity   string          `json:"severity"`
	Status     ViolationStatus `json:"status"`
	Evidence   map[string]any  `json:"evidence"`
	DetectedAt time.Time       `json:"detected_at"`
}

// Decision is the outcome of evaluating an action against the active
// policies.
type Decision struct {
	Allowed         bool                  `json:"allowed"`
	Violations      []ComplianceViolation `json:"violations"`
	Warnings        []string              `json:"warnings"`
	BlockedPolicies []string              `json:"blocked_policies"`
}

// Remediator is the extension point for corrective policies. The
// default implementation does nothing.
type Remediator interface {
	Remediate(ctx context.Context, policy CompliancePolicy, violation ComplianceViolation) error
}

// NoopRemediator satisfies Remediator without side effects.
type NoopRemediator struct{}

func (NoopRemediator) Remediate(context.Context, CompliancePolicy, ComplianceViolation) error {
	return nil
}

// adminActions are the actions tagged as requiring administrative
// rights; the built-in duty segregation policy only applies to these.
var adminActions = map[string]struct{}{
	"delete_property": {},
	"delete_user":     {},
	"manage_users":    {},
	"manage_roles":    {},
	"manage_access":   {},
	"system_settings": {},
}

func actionRequiresAdmin(action string, context map[string]any) bool {
	if _, ok := adminActions[action]; ok {
		return true
	}
	if v, ok := context["requires_admin"].(bool); ok && v {
		return true
	}
	return false
}

// excessivePermissionThreshold triggers the built-in hygiene policy.
const excessivePermissionThreshold = 50

// policyTypeDutySegregation scopes a policy to admin-tagged actions.
const policyTypeDutySegregation = "duty_segregation"

// defaultPolicies is the built-in fallback used when the store holds no
// active policies.
func defaultPolicies() []CompliancePolicy {
	return []CompliancePolicy{
		{
			Name:        "Excessive Permissions Policy",
			Type:        "permission_hygiene",
			Status:      PolicyActive,
			Enforcement: EnforceAdvisory,
			Priority:    PriorityMedium,
			Rules: []PolicyRule{{
				Condition: RuleCondition{Type: CondPermissionCount, Operator: OpGreaterThan, Value: excessivePermissionThreshold},
				Action:    ActionNotify,
				Message:   "user holds an unusually large permission set",
			}},
		},
		{
			Name:        "Administrative Duty Segregation",
			Type:        policyTypeDutySegregation,
			Status:      PolicyActive,
			Enforcement: EnforceBlocking,
			Priority:    PriorityCritical,
			Rules: []PolicyRule{{
				Condition: RuleCondition{Type: CondUserRole, Operator: OpNotEquals, Value: string(RoleSuperAdmin)},
				Action:    ActionBlock,
				Message:   "administrative actions are reserved for super administrators",
			}},
		},
	}
}

// PolicyEngine evaluates requested actions against active compliance
// policies.
type PolicyEngine struct {
	store      Store
	engine     *Engine
	remediator Remediator
	logger     *slog.Logger
	metrics    *Metrics
	clock      func() time.Time

	dashboardGroup singleflight.Group
}

// PolicyEngineOption customises construction.
type PolicyEngineOption func(*PolicyEngine)

// WithRemediator installs the corrective-enforcement hook.
func WithRemediator(r Remediator) PolicyEngineOption {
	return func(p *PolicyEngine) {
		p.remediator = r
	}
}

// WithPolicyMetrics attaches decision counters.
func WithPolicyMetrics(m *Metrics) PolicyEngineOption {
	return func(p *PolicyEngine) {
		p.metrics = m
	}
}

// WithPolicyClock overrides the time source used by time_based rules.
func WithPolicyClock(clock func() time.Time) PolicyEngineOption {
	return func(p *PolicyEngine) {
		p.clock = clock
	}
}

// NewPolicyEngine builds a policy engine on top of the inheritance
// engine (used to resolve permission counts).
func NewPolicyEngine(store Store, engine *Engine, logger *slog.Logger, opts ...PolicyEngineOption) *PolicyEngine {
	if logger == nil {
		logger = slog.Default()
	}
	p := &PolicyEngine{
		store:      store,
		engine:     engine,
		remediator: NoopRemediator{},
		logger:     logger,
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EvaluateAction decides whether the user may perform the action on the
// resource. Internal errors fail open: the decision allows the action
// and carries a warning describing the failure. Policies marked
// on_error=closed instead block when their own evaluation fails.
func (p *PolicyEngine) EvaluateAction(ctx context.Context, userID int64, action, resource string, evalCtx map[string]any) *Decision {
	decision := &Decision{Allowed: true}
	if evalCtx == nil {
		evalCtx = map[string]any{}
	}

	user, err := p.store.FindUserWithGrants(ctx, userID)
	if err != nil {
		p.failOpen(decision, fmt.Sprintf("policy evaluation degraded: load user: %v", err))
		return decision
	}

	policies, err := p.store.ListActivePolicies(ctx)
	if err != nil {
		p.failOpen(decision, fmt.Sprintf("policy evaluation degraded: load policies: %v", err))
		return decision
	}
	if len(policies) == 0 {
		policies = defaultPolicies()
	}
	sort.SliceStable(policies, func(i, j int) bool {
		return priorityRank[policies[i].Priority] < priorityRank[policies[j].Priority]
	})

	for _, policy := range policies {
		if policy.Status != PolicyActive {
			continue
		}
		if policy.Type == policyTypeDutySegregation && !actionRequiresAdmin(action, evalCtx) {
			continue
		}
		p.evaluatePolicy(ctx, policy, user, action, resource, evalCtx, decision)
	}

	if decision.Allowed {
		p.metrics.PolicyDecision("allowed")
	} else {
		p.metrics.PolicyDecision("blocked")
	}
	return decision
}

func (p *PolicyEngine) evaluatePolicy(ctx context.Context, policy CompliancePolicy, user *User, action, resource string, evalCtx map[string]any, decision *Decision) {
	for _, rule := range policy.Rules {
		matched, err := p.evaluateCondition(ctx, rule.Condition, user, evalCtx)
		if err != nil {
			if policy.OnError == FailClosed {
				decision.Allowed = false
				decision.BlockedPolicies = append(decision.BlockedPolicies, policy.Name)
				decision.Warnings = append(decision.Warnings,
					fmt.Sprintf("%s: evaluation failed and policy is fail-closed: %v", policy.Name, err))
			} else {
				decision.Warnings = append(decision.Warnings,
					fmt.Sprintf("%s: evaluation failed, rule skipped: %v", policy.Name, err))
			}
			p.logger.Warn("policy rule evaluation failed",
				slog.String("policy", policy.Name), slog.Any("error", err))
			continue
		}
		if !matched {
			continue
		}

		violation := ComplianceViolation{
			Reference:  uuid.NewString(),
			PolicyID:   policy.ID,
			PolicyName: policy.Name,
			UserID:     user.ID,
			Severity:   severityFor(policy.Priority),
			Status:     ViolationOpen,
			DetectedAt: p.clock(),
			Evidence: map[string]any{
				"action":    action,
				"resource":  resource,
				"rule":      string(rule.Condition.Type),
				"operator":  string(rule.Condition.Operator),
				"message":   rule.Message,
				"user_role": string(user.Role),
			},
		}
		if err := p.store.CreateViolation(ctx, &violation); err != nil {
			// Best effort; a persistence failure never aborts evaluation.
			p.logger.Error("persist violation failed", slog.String("policy", policy.Name), slog.Any("error", err))
		}
		decision.Violations = append(decision.Violations, violation)

		switch policy.Enforcement {
		case EnforceBlocking:
			decision.Allowed = false
			decision.BlockedPolicies = append(decision.BlockedPolicies, policy.Name)
		case EnforceAdvisory:
			decision.Warnings = append(decision.Warnings, fmt.Sprintf("%s: %s", policy.Name, rule.Message))
		case EnforceCorrective:
			if err := p.remediator.Remediate(ctx, policy, violation); err != nil {
				p.logger.Error("remediation failed", slog.String("policy", policy.Name), slog.Any("error", err))
			}
		}
	}
}

func (p *PolicyEngine) evaluateCondition(ctx context.Context, cond RuleCondition, user *User, evalCtx map[string]any) (bool, error) {
	switch cond.Type {
	case CondUserRole:
		return compareStrings(string(user.Role), cond.Operator, cond.Value)

	case CondPermissionCount:
		if p.engine == nil {
			return false, fmt.Errorf("permission_count condition requires the inheritance engine")
		}
		computed, err := p.engine.Compute(ctx, user.ID, nil, ComputeOptions{})
		if err != nil {
			return false, fmt.Errorf("resolve permission count: %w", err)
		}
		return compareNumbers(float64(len(computed.Permissions)), cond.Operator, cond.Value)

	case CondTimeBased:
		return compareNumbers(float64(p.clock().Hour()), cond.Operator, cond.Value)

	case CondAccessLevel, CondCustom:
		// Reserved condition types never match.
		return false, nil

	default:
		return false, fmt.Errorf("unknown condition type %q", cond.Type)
	}
}

func (p *PolicyEngine) failOpen(decision *Decision, warning string) {
	decision.Allowed = true
	decision.Warnings = append(decision.Warnings, warning)
	p.metrics.PolicyDecision("fail_open")
	p.logger.Error("policy evaluation failed open", slog.String("warning", warning))
}

func severityFor(priority Priority) string {
	switch priority {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	default:
		return "low"
	}
}

func compareStrings(observed string, op Operator, value any) (bool, error) {
	expected := fmt.Sprintf("%v", value)
	switch op {
	case OpEquals:
		return observed == expected, nil
	case OpNotEquals:
		return observed != expected, nil
	case OpContains:
		return strings.Contains(observed, expected), nil
	case OpNotContains:
		return !strings.Contains(observed, expected), nil
	case OpGreaterThan, OpLessThan:
		return false, fmt.Errorf("operator %q not applicable to string condition", op)
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func compareNumbers(observed float64, op Operator, value any) (bool, error) {
	expected, err := toFloat(value)
	if err != nil {
		return false, err
	}
	switch op {
	case OpEquals:
		return observed == expected, nil
	case OpNotEquals:
		return observed != expected, nil
	case OpGreaterThan:
		return observed > expected, nil
	case OpLessThan:
		return observed < expected, nil
	case OpContains, OpNotContains:
		return false, fmt.Errorf("operator %q not applicable to numeric condition", op)
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(v, 64)
	default:
		return 0, fmt.Errorf("condition value %v is not numeric", value)
	}
}
