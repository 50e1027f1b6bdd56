package authz

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// scanParallelism bounds concurrent per-user evaluations during a scan.
const scanParallelism = 8

// violationRateThreshold is the share of flagged users above which the
// scan recommends a permission review.
const violationRateThreshold = 0.10

// ScanReport summarises one compliance scan. Scans are idempotent: they
// only append violation records and never mutate user or permission
// state.
type ScanReport struct {
	UsersScanned      int       `json:"users_scanned"`
	PoliciesEvaluated int       `json:"policies_evaluated"`
	Violations        int       `json:"violations"`
	CriticalIssues    int       `json:"critical_issues"`
	UsersFlagged      int       `json:"users_flagged"`
	ViolationRate     float64   `json:"violation_rate"`
	Recommendations   []string  `json:"recommendations"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`
}

// Dashboard is the operational view of compliance state.
type Dashboard struct {
	Violations     ViolationStats `json:"violations"`
	ActivePolicies int            `json:"active_policies"`
	GeneratedAt    time.Time      `json:"generated_at"`
}

// PerformComplianceScan evaluates every active policy against every
// active user and aggregates the findings.
func (p *PolicyEngine) PerformComplianceScan(ctx context.Context) (*ScanReport, error) {
	started := p.clock()

	users, err := p.store.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("authz: scan list users: %w", err)
	}
	policies, err := p.store.ListActivePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("authz: scan list policies: %w", err)
	}
	if len(policies) == 0 {
		policies = defaultPolicies()
	}

	var (
		mu           sync.Mutex
		violations   int
		critical     int
		usersFlagged int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(scanParallelism)
	for i := range users {
		user := users[i]
		g.Go(func() error {
			decision := &Decision{Allowed: true}
			for _, policy := range policies {
				if policy.Status != PolicyActive {
					continue
				}
				// Duty-segregation policies guard specific actions and
				// have no meaning in a user-wide sweep.
				if policy.Type == policyTypeDutySegregation {
					continue
				}
				p.evaluatePolicy(gctx, policy, &user, "compliance_scan", "user", map[string]any{"scan": true}, decision)
			}
			if len(decision.Violations) == 0 {
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			usersFlagged++
			violations += len(decision.Violations)
			for _, v := range decision.Violations {
				if v.Severity == "critical" {
					critical++
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &ScanReport{
		UsersScanned:      len(users),
		PoliciesEvaluated: len(policies),
		Violations:        violations,
		CriticalIssues:    critical,
		UsersFlagged:      usersFlagged,
		StartedAt:         started,
		FinishedAt:        p.clock(),
	}
	if len(users) > 0 {
		report.ViolationRate = float64(usersFlagged) / float64(len(users))
	}
	if report.CriticalIssues > 0 {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%d critical compliance issues require immediate review", report.CriticalIssues))
	}
	if report.ViolationRate > violationRateThreshold {
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("%.0f%% of users triggered policy violations; schedule a permission review", report.ViolationRate*100))
	}

	if err := p.store.AppendAuditLog(ctx, AuditEntry{
		Action:   "compliance.scan",
		Entity:   "system",
		EntityID: "compliance",
		Meta: map[string]any{
			"users_scanned":   report.UsersScanned,
			"violations":      report.Violations,
			"critical_issues": report.CriticalIssues,
		},
		At: report.FinishedAt,
	}); err != nil {
		p.logger.Warn("scan audit log failed", slog.Any("error", err))
	}

	return report, nil
}

// ComplianceDashboard aggregates violation statistics. Concurrent
// callers share one store round trip via singleflight.
func (p *PolicyEngine) ComplianceDashboard(ctx context.Context) (*Dashboard, error) {
	v, err, _ := p.dashboardGroup.Do("dashboard", func() (any, error) {
		stats, err := p.store.ViolationSummary(ctx)
		if err != nil {
			return nil, fmt.Errorf("authz: violation summary: %w", err)
		}
		policies, err := p.store.ListActivePolicies(ctx)
		if err != nil {
			return nil, fmt.Errorf("authz: list policies: %w", err)
		}
		active := len(policies)
		if active == 0 {
			active = len(defaultPolicies())
		}
		return &Dashboard{
			Violations:     stats,
			ActivePolicies: active,
			GeneratedAt:    p.clock(),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Dashboard), nil
}
