package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccessLevelMonotonicity(t *testing.T) {
	levels := AccessLevels()
	for i := 0; i < len(levels); i++ {
		for j := i + 1; j < len(levels); j++ {
			narrow := AccessLevelPermissions(levels[i])
			wide := make(map[string]struct{})
			for _, p := range AccessLevelPermissions(levels[j]) {
				wide[p] = struct{}{}
			}
			for _, p := range narrow {
				assert.Contains(t, wide, p, "permissions(%s) must contain permissions(%s)", levels[j], levels[i])
			}
		}
	}
}

func TestAccessLevelPermissionsSortedAndCopied(t *testing.T) {
	first := AccessLevelPermissions(LevelManagement)
	require.NotEmpty(t, first)
	first[0] = "mutated"
	second := AccessLevelPermissions(LevelManagement)
	assert.NotEqual(t, "mutated", second[0], "callers must not share the backing array")
}

func TestUnknownAccessLevelIsEmpty(t *testing.T) {
	assert.Empty(t, AccessLevelPermissions(AccessLevel("vip")))
	assert.False(t, ValidAccessLevel(AccessLevel("vip")))
	assert.True(t, ValidAccessLevel(LevelOwner))
}
