package api

import (
	"net/http"
	"time"

	"github.com/nerrad567/usbroles/internal/auth"
)

// MeResponse describes the caller of /api/auth/me.
type MeResponse struct {
	AuthEnabled bool              `json:"auth_enabled"`
	Subject     string            `json:"subject,omitempty"`
	Role        auth.Role         `json:"role,omitempty"`
	Permissions []auth.Permission `json:"permissions"`
	ExpiresAt   string            `json:"expires_at,omitempty"`
}

// handleMe returns the identity and permissions carried by the bearer
// token. Without a configured secret every request may do everything.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	if !s.authEnabled() {
		writeOK(w, MeResponse{Permissions: auth.PermissionsForRole(auth.RoleAdmin)})
		return
	}

	claims, ok := r.Context().Value(ctxKeyClaims).(*auth.CustomClaims)
	if !ok {
		writeError(w, CodeUnauthorized)
		return
	}

	resp := MeResponse{
		AuthEnabled: true,
		Subject:     claims.Subject,
		Role:        claims.Role,
		Permissions: auth.PermissionsForRole(claims.Role),
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.UTC().Format(time.RFC3339)
	}
	writeOK(w, resp)
}
