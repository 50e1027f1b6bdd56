package authz

import "sort"

// levelOrder lists the access levels from narrowest to widest.
var levelOrder = []AccessLevel{
	LevelReadOnly,
	LevelDataEntry,
	LevelManagement,
	LevelFullControl,
	LevelOwner,
}

// levelAdditions defines what each level adds on top of the previous
// one. Full sets are built cumulatively in init, which makes the
// monotonic-inclusion invariant hold by construction instead of by
// convention.
var levelAdditions = map[AccessLevel][]string{
	LevelReadOnly:    {PermReportsView, PermSummaryView, PermFnbView},
	LevelDataEntry:   {PermFnbEntry, PermFnbEdit, PermSummaryRecalculate},
	LevelManagement:  {PermFnbApprove, PermBudgetsView, PermBudgetsEdit, PermReportsExport, PermUsersView},
	LevelFullControl: {PermUsersEdit, PermPropertySettings, PermBudgetsApprove, PermAuditView},
	LevelOwner:       {PermPropertyTransfer, PermPropertyDelete, PermAccessManage},
}

var levelPermissions map[AccessLevel][]string

func init() {
	levelPermissions = make(map[AccessLevel][]string, len(levelOrder))
	var cumulative []string
	for _, level := range levelOrder {
		cumulative = append(cumulative, levelAdditions[level]...)
		perms := make([]string, len(cumulative))
		copy(perms, cumulative)
		sort.Strings(perms)
		levelPermissions[level] = perms
	}
}

// ValidAccessLevel reports whether the level is one of the five defined
// levels.
func ValidAccessLevel(level AccessLevel) bool {
	_, ok := levelPermissions[level]
	return ok
}

// AccessLevels returns the levels ordered from narrowest to widest.
func AccessLevels() []AccessLevel {
	out := make([]AccessLevel, len(levelOrder))
	copy(out, levelOrder)
	return out
}

// AccessLevelPermissions returns a sorted copy of the permission set
// for the given level. Unknown levels yield an empty set.
func AccessLevelPermissions(level AccessLevel) []string {
	perms := levelPermissions[level]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}
