package api

import (
	"encoding/json"
	"net/http"
	"slices"
	"testing"

	"github.com/nerrad567/usbroles/internal/auth"
)

func TestMe(t *testing.T) {
	router := testServer(t, withSecret).buildRouter()

	tests := []struct {
		name      string
		role      auth.Role
		wantWrite bool
	}{
		{"viewer", auth.RoleViewer, false},
		{"operator", auth.RoleOperator, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := do(t, router, http.MethodGet, "/api/auth/me", "", "Authorization", "Bearer "+mustToken(t, tt.role))
			if w.Code != http.StatusOK || env.Code != 0 {
				t.Fatalf("got %d/%d, want 200/0", w.Code, env.Code)
			}

			var me MeResponse
			if err := json.Unmarshal(env.Data, &me); err != nil {
				t.Fatal(err)
			}
			if !me.AuthEnabled || me.Subject != "test" || me.Role != tt.role || me.ExpiresAt == "" {
				t.Errorf("me = %+v", me)
			}
			if got := slices.Contains(me.Permissions, auth.PermRulesWrite); got != tt.wantWrite {
				t.Errorf("rules:write granted = %v, want %v", got, tt.wantWrite)
			}
		})
	}

	t.Run("without token", func(t *testing.T) {
		w, env := do(t, router, http.MethodGet, "/api/auth/me", "")
		if w.Code != http.StatusUnauthorized || env.Code != int(CodeUnauthorized) {
			t.Errorf("got %d/%d, want 401/%d", w.Code, env.Code, CodeUnauthorized)
		}
	})
}

func TestMe_AuthDisabled(t *testing.T) {
	_, env := do(t, testServer(t).buildRouter(), http.MethodGet, "/api/auth/me", "")

	var me MeResponse
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatal(err)
	}
	if me.AuthEnabled || me.Role != "" {
		t.Errorf("me = %+v", me)
	}
	if !slices.Contains(me.Permissions, auth.PermSystemAdmin) {
		t.Errorf("permissions = %v, want everything", me.Permissions)
	}
}
