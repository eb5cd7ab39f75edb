package usb

import (
	"context"
	"fmt"
)

// RawDevice is one physically attached, currently enumerable USB device
// as reported by a Monitor.
//
// Identity for matching is (VID, PID, Serial if present, PortPath).
// SystemPath is informational and never used for matching.
type RawDevice struct {
	VID        uint16  `json:"vid"`
	PID        uint16  `json:"pid"`
	Serial     *string `json:"serial"`
	PortPath   string  `json:"port_path"`
	SystemPath string  `json:"system_path"`
}

// Fingerprint returns the short identity used to detect appearing and
// disappearing devices between two scans.
func (d RawDevice) Fingerprint() string {
	return fmt.Sprintf("%04x:%04x:%s", d.VID, d.PID, d.PortPath)
}

// clone returns a copy that shares no pointers with d.
func (d RawDevice) clone() RawDevice {
	d.Serial = cloneString(d.Serial)
	return d
}

// Rule binds a role to a physical device.
//
// VID and PID are persisted as plain integers. A nil Serial matches any
// serial number (including none); PortPath must always match exactly.
type Rule struct {
	Role     string  `json:"role"`
	VID      uint16  `json:"vid"`
	PID      uint16  `json:"pid"`
	Serial   *string `json:"serial"`
	PortPath string  `json:"port_path"`
}

// clone returns a copy that shares no pointers with r.
func (r Rule) clone() Rule {
	r.Serial = cloneString(r.Serial)
	return r
}

// DeviceView is the role-annotated, display-ready projection of a RawDevice.
// Views are derived per query and never stored.
type DeviceView struct {
	Role       *string `json:"role"`
	VID        string  `json:"vid"`
	PID        string  `json:"pid"`
	Serial     *string `json:"serial"`
	PortPath   string  `json:"port_path"`
	SystemPath string  `json:"system_path"`
}

// Event is a hotplug notification pushed by a Monitor.
// It is either Attached or Detached.
type Event interface {
	isEvent()
}

// Attached reports that a device was plugged in.
type Attached struct {
	Device RawDevice
}

func (Attached) isEvent() {}

// Detached reports that the device bound to Role was unplugged.
type Detached struct {
	Role string
}

func (Detached) isEvent() {}

// Monitor is the OS-facing device enumeration capability.
type Monitor interface {
	// ScanNow performs a full enumeration of attached devices.
	// It may block for several seconds while the OS walks its device tree.
	ScanNow(ctx context.Context) ([]RawDevice, error)

	// Subscribe starts the hotplug event stream. The returned channel is
	// closed when the underlying source terminates.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Logger defines the logging interface used by the usb components.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Serial returns a pointer to s, for building devices and rules with a serial number.
func Serial(s string) *string {
	return &s
}

// cloneString copies the pointed-to string so the result can be handed out safely.
func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// serialEqual compares two optional serial numbers; two absent serials are equal.
func serialEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
