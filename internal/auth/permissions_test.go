package auth

import "testing"

func TestHasPermission(t *testing.T) {
	tests := []struct {
		role Role
		perm Permission
		want bool
	}{
		{RoleViewer, PermDevicesRead, true},
		{RoleViewer, PermRulesRead, true},
		{RoleViewer, PermHistoryRead, true},
		{RoleViewer, PermRulesWrite, false},
		{RoleViewer, PermSystemAdmin, false},
		{RoleOperator, PermRulesWrite, true},
		{RoleOperator, PermSystemAdmin, false},
		{RoleAdmin, PermRulesWrite, true},
		{RoleAdmin, PermSystemAdmin, true},
		{Role("nonexistent"), PermDevicesRead, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.perm), func(t *testing.T) {
			if got := HasPermission(tt.role, tt.perm); got != tt.want {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", tt.role, tt.perm, got, tt.want)
			}
		})
	}
}

func TestPermissionsForRole(t *testing.T) {
	perms := PermissionsForRole(RoleAdmin)
	if len(perms) != 5 {
		t.Errorf("admin has %d permissions, want 5", len(perms))
	}

	// Mutating the returned slice must not affect the table.
	perms[0] = "tampered"
	if !HasPermission(RoleAdmin, PermDevicesRead) {
		t.Error("PermissionsForRole() returned the internal slice")
	}

	if PermissionsForRole(Role("ghost")) != nil {
		t.Error("unknown role should return nil")
	}
}

func TestIsValidRole(t *testing.T) {
	for _, r := range ValidRoles {
		if !IsValidRole(r) {
			t.Errorf("IsValidRole(%s) = false", r)
		}
	}
	if IsValidRole("owner") {
		t.Error("IsValidRole(owner) = true")
	}
}
