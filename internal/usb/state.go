package usb

// State is the long-lived context shared by every component that needs the
// device registry or the rule set.
//
// The two stores are locked independently and never together: updating
// rules never blocks device reads and vice versa. A query may therefore
// combine a registry snapshot and a rule snapshot taken at slightly
// different instants.
type State struct {
	Registry *Registry
	Rules    *RuleStore
}

// NewState bundles a registry and a rule store.
func NewState(registry *Registry, rules *RuleStore) *State {
	return &State{
		Registry: registry,
		Rules:    rules,
	}
}

// Views matches the current registry contents against the current rules.
func (s *State) Views() []DeviceView {
	rules := s.Rules.Snapshot()
	devices := s.Registry.Snapshot()
	return Match(devices, rules)
}
