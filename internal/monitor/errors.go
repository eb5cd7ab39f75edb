package monitor

import "errors"

// Errors returned by the monitors. Use errors.Is() to check for them.
var (
	// ErrUnsupported is returned when hotplug events are not available on
	// this platform.
	ErrUnsupported = errors.New("monitor: hotplug events not supported on this platform")

	// ErrNoEventSource is returned by Composite.Subscribe when no event
	// source is configured.
	ErrNoEventSource = errors.New("monitor: no event source configured")

	// ErrNotUSBDevice is returned when a sysfs entry is not a USB device.
	ErrNotUSBDevice = errors.New("monitor: not a usb device")

	// ErrMalformedUevent is returned for netlink messages that are not kernel uevents.
	ErrMalformedUevent = errors.New("monitor: malformed uevent")

	// ErrMalformedEvent is returned for hotplug payloads that cannot be decoded.
	ErrMalformedEvent = errors.New("monitor: malformed hotplug event")
)
