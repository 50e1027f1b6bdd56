package authz

import (
	"context"
	"time"
)

// AuditReader supplies recent audit entries naming a user as the
// target of a permission share.
type AuditReader interface {
	RecentTargetActions(ctx context.Context, targetUserID int64, action string, since time.Time) ([]AuditEntry, error)
}

// auditShareAction is the audit action recorded when permissions are
// shared outside a formal delegation.
const auditShareAction = "permissions.shared"

// AuditLogSource derives inherited permissions from audit-log share
// entries. This is a legacy heuristic kept behind a feature flag; the
// Delegation entity is the first-class path and should be preferred.
type AuditLogSource struct {
	reader AuditReader
	window time.Duration
	clock  func() time.Time
}

// NewAuditLogSource builds the source. A zero window defaults to 30
// days.
func NewAuditLogSource(reader AuditReader, window time.Duration) *AuditLogSource {
	if window <= 0 {
		window = 30 * 24 * time.Hour
	}
	return &AuditLogSource{
		reader: reader,
		window: window,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// Name labels provenance entries contributed by this source.
func (s *AuditLogSource) Name() string {
	return "audit-log shares"
}

// Contribute extracts permission names from recent share entries. Any
// read failure is surfaced to the engine, which logs it and omits the
// source.
func (s *AuditLogSource) Contribute(ctx context.Context, user *User, propertyID *int64) ([]string, error) {
	since := s.clock().Add(-s.window)
	entries, err := s.reader.RecentTargetActions(ctx, user.ID, auditShareAction, since)
	if err != nil {
		return nil, err
	}
	var perms []string
	for _, entry := range entries {
		raw, ok := entry.Meta["permissions"]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case []string:
			perms = append(perms, v...)
		case []any:
			for _, item := range v {
				if name, ok := item.(string); ok {
					perms = append(perms, name)
				}
			}
		}
	}
	return perms, nil
}
