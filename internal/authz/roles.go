package authz

import (
	"fmt"
	"sort"
)

// roleOrder is the single canonical definition of the role hierarchy,
// ordered from most junior to most senior. Ancestor sets are derived by
// slicing this list, so the hierarchy cannot drift out of sync with
// itself.
var roleOrder = []Role{
	RoleReadOnly,
	RoleStaff,
	RoleSupervisor,
	RoleDepartmentHead,
	RolePropertyManager,
	RoleGeneralManager,
	RoleAdmin,
	RoleSuperAdmin,
}

// roleBasePermissions holds each role's own base permission set.
// Permissions of junior roles are inherited through AncestorsOf, not
// duplicated here.
var roleBasePermissions = map[Role][]string{
	RoleReadOnly:        {PermReportsView},
	RoleStaff:           {PermFnbView, PermFnbEntry},
	RoleSupervisor:      {PermFnbEdit, PermFnbApprove, PermSummaryView},
	RoleDepartmentHead:  {PermSummaryRecalculate, PermBudgetsView},
	RolePropertyManager: {PermBudgetsEdit, PermReportsExport, PermUsersView},
	RoleGeneralManager:  {PermBudgetsApprove, PermPropertySettings, PermAuditView},
	RoleAdmin:           {PermUsersEdit, PermRolesEdit, PermPoliciesView, PermPoliciesEdit},
	RoleSuperAdmin:      {PermSystemAdmin, PermAccessManage, PermPropertyDelete, PermPropertyTransfer},
}

// ValidRole reports whether the role is one of the defined roles.
func ValidRole(role Role) bool {
	for _, r := range roleOrder {
		if r == role {
			return true
		}
	}
	return false
}

// Roles returns the canonical role order, most junior first.
func Roles() []Role {
	out := make([]Role, len(roleOrder))
	copy(out, roleOrder)
	return out
}

// AncestorsOf returns the roles whose permissions the given role
// inherits, nearest first. Seniors inherit from juniors, so the
// ancestors of a role are the roles below it in the canonical order.
func AncestorsOf(role Role) []Role {
	idx := roleIndex(role)
	if idx <= 0 {
		return nil
	}
	ancestors := make([]Role, 0, idx)
	for i := idx - 1; i >= 0; i-- {
		ancestors = append(ancestors, roleOrder[i])
	}
	return ancestors
}

// BasePermissions returns a sorted copy of the role's own permission
// set, excluding anything inherited from junior roles.
func BasePermissions(role Role) []string {
	perms := roleBasePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	sort.Strings(out)
	return out
}

func roleIndex(role Role) int {
	for i, r := range roleOrder {
		if r == role {
			return i
		}
	}
	return -1
}

// ValidateHierarchy checks the role hierarchy for cycles and unknown
// references. The current hierarchy is a total order derived from
// roleOrder and cannot cycle, but the check treats it as a general
// adjacency list so a future branching hierarchy is still validated.
// Called at engine construction.
func ValidateHierarchy() error {
	adjacency := make(map[Role][]Role, len(roleOrder))
	for _, role := range roleOrder {
		adjacency[role] = AncestorsOf(role)
	}

	indegree := make(map[Role]int, len(adjacency))
	for role := range adjacency {
		if _, ok := indegree[role]; !ok {
			indegree[role] = 0
		}
		for _, dep := range adjacency[role] {
			if _, known := adjacency[dep]; !known {
				return fmt.Errorf("authz: role %q inherits from unknown role %q", role, dep)
			}
			indegree[dep]++
		}
	}

	queue := make([]Role, 0, len(indegree))
	for role, deg := range indegree {
		if deg == 0 {
			queue = append(queue, role)
		}
	}
	visited := 0
	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		visited++
		for _, dep := range adjacency[role] {
			indegree[dep]--
			if indegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}
	if visited != len(adjacency) {
		return fmt.Errorf("authz: role hierarchy contains a cycle")
	}
	return nil
}
