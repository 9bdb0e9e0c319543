package rbac

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermissionName(t *testing.T) {
	valid := []string{"users.view", "audit.export", "api-keys.rotate", "reports.run_daily"}
	for _, raw := range valid {
		name, err := ParsePermissionName(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, raw, name.String())
	}

	invalid := []string{"", "users", "users.", ".view", "Users.View", "users.view.all", "users view"}
	for _, raw := range invalid {
		_, err := ParsePermissionName(raw)
		assert.Error(t, err, raw)
	}
}

func TestPermissionName_Parts(t *testing.T) {
	name := MustPermissionName("departments.manage")
	assert.Equal(t, "departments", name.Resource())
	assert.Equal(t, "manage", name.Action())
}

func TestPermissionSet(t *testing.T) {
	set := &PermissionSet{
		Global: permSet("users.view", "audit.view"),
		Scoped: permSet("users.view", "users.edit"),
	}

	assert.True(t, set.Contains("users.view"))
	assert.True(t, set.Contains("users.edit"))
	assert.False(t, set.Contains("users.delete"))

	assert.True(t, set.GlobalOnly("audit.view"))
	assert.False(t, set.GlobalOnly("users.edit"))

	assert.ElementsMatch(t, []PermissionName{"users.view", "users.edit", "audit.view"}, set.Names())
}

func TestRoleInUseError(t *testing.T) {
	var err error = &RoleInUseError{RoleID: 3, Principals: 7}

	var inUse *RoleInUseError
	require.True(t, errors.As(err, &inUse))
	assert.Equal(t, int64(3), inUse.RoleID)
	assert.Contains(t, err.Error(), "7 principal(s)")
}

func TestPrincipal_ActiveRoles(t *testing.T) {
	p := &Principal{
		Roles: []Role{
			{ID: 1, Name: "viewer", Active: true},
			{ID: 2, Name: "retired", Active: false},
		},
	}
	roles := p.ActiveRoles()
	require.Len(t, roles, 1)
	assert.Equal(t, "viewer", roles[0].Name)
}

func TestDefaultRoles(t *testing.T) {
	roles := DefaultRoles()
	byName := make(map[string]Role, len(roles))
	for _, r := range roles {
		byName[r.Name] = r
	}

	require.Contains(t, byName, RoleSuperAdmin)
	assert.True(t, byName[RoleSuperAdmin].IsAdmin)

	require.Contains(t, byName, RoleDepartmentManager)
	assert.Equal(t, RoleScopeDepartment, byName[RoleDepartmentManager].Scope)
	assert.False(t, byName[RoleDepartmentManager].IsAdmin)

	for _, r := range roles {
		for _, p := range r.Permissions {
			_, err := ParsePermissionName(string(p))
			assert.NoError(t, err, "role %s permission %s", r.Name, p)
		}
	}
}
