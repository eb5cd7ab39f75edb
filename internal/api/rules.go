package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/usbroles/internal/usb"
)

// ChannelRules is the WebSocket channel carrying the rule set after a replacement.
const ChannelRules = "rules.changed"

// handleListRules returns the current rule set.
func (s *Server) handleListRules(w http.ResponseWriter, _ *http.Request) {
	writeOK(w, s.state.Rules.Snapshot())
}

// handleSaveRules replaces the whole rule set with the submitted array.
//
// The set is validated and written to disk before it becomes visible; a
// persistence failure leaves the in-memory rules unchanged.
func (s *Server) handleSaveRules(w http.ResponseWriter, r *http.Request) {
	var rules []usb.Rule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		s.logger.Debug("rejecting rule submission", "error", err)
		writeError(w, CodeInvalidParam)
		return
	}

	if err := s.state.Rules.Replace(rules); err != nil {
		if errors.Is(err, usb.ErrRulePersist) {
			s.logger.Error("persisting rules failed", "path", s.state.Rules.Path(), "error", err)
			writeServerError(w, "write failed: "+err.Error())
			return
		}
		s.logger.Info("rule submission rejected", "error", err)
		writeError(w, codeForRuleError(err))
		return
	}

	s.logger.Info("rules replaced", "count", len(rules), "path", s.state.Rules.Path())

	if s.onRulesChanged != nil {
		s.onRulesChanged()
	}
	s.hub.Broadcast(ChannelRules, s.state.Rules.Snapshot())
	s.BroadcastDevices()

	writeOK(w, nil)
}
