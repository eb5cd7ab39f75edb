package usb

import "fmt"

// Match projects raw devices onto role-annotated views.
//
// Exactly one view is produced per raw device, in input order. For each
// device the rules are scanned in order and the first matching rule assigns
// its role; a device without a matching rule gets a nil Role.
//
// Match performs no I/O and touches no shared state: callers pass in the
// Registry and RuleStore snapshots they took.
func Match(raw []RawDevice, rules []Rule) []DeviceView {
	views := make([]DeviceView, 0, len(raw))

	for _, dev := range raw {
		view := NewView(dev)
		if rule, ok := FirstMatch(dev, rules); ok {
			role := rule.Role
			view.Role = &role
		}
		views = append(views, view)
	}

	return views
}

// FirstMatch returns the first rule in rules that matches dev.
func FirstMatch(dev RawDevice, rules []Rule) (Rule, bool) {
	for _, rule := range rules {
		if rule.Matches(dev) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Matches reports whether dev satisfies the rule: equal VID, PID and
// PortPath, and an equal serial number when the rule names one.
func (r Rule) Matches(dev RawDevice) bool {
	if r.VID != dev.VID || r.PID != dev.PID {
		return false
	}

	if r.Serial != nil {
		if dev.Serial == nil || *r.Serial != *dev.Serial {
			return false
		}
	}

	return r.PortPath == dev.PortPath
}

// Identifies reports whether dev carries the rule's hardware identity
// (VID, PID and serial, where two absent serials are equal).
// The port path is ignored: a removed device may have re-enumerated
// under a different port.
func (r Rule) Identifies(dev RawDevice) bool {
	return r.VID == dev.VID && r.PID == dev.PID && serialEqual(r.Serial, dev.Serial)
}

// NewView formats a raw device for display without a role.
func NewView(dev RawDevice) DeviceView {
	return DeviceView{
		VID:        FormatID(dev.VID),
		PID:        FormatID(dev.PID),
		Serial:     cloneString(dev.Serial),
		PortPath:   dev.PortPath,
		SystemPath: dev.SystemPath,
	}
}

// FormatID renders a vendor or product id as "0x" followed by four lowercase hex digits.
func FormatID(id uint16) string {
	return fmt.Sprintf("0x%04x", id)
}
