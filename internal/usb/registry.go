package usb

import "sync"

// Registry is the shared list of currently attached raw devices.
//
// The Scanner replaces it wholesale after every scan and the Listener
// removes entries ahead of the next scan when a bound device is unplugged.
// There is no ordering between the two writers: the last write wins, and
// the next scan re-derives ground truth.
//
// Readers always observe a complete list. All public methods are thread-safe.
type Registry struct {
	mu      sync.RWMutex
	devices []RawDevice

	// onChange is notified after a write that altered the list.
	onChange   func()
	onChangeMu sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Snapshot returns a copy of the current device list in registry order.
// Callers can safely modify the result.
func (r *Registry) Snapshot() []RawDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return cloneDevices(r.devices)
}

// SetOnChange registers a callback invoked after every write that changed
// the device list. It runs outside the registry lock on the writer's goroutine.
func (r *Registry) SetOnChange(callback func()) {
	r.onChangeMu.Lock()
	r.onChange = callback
	r.onChangeMu.Unlock()
}

// Replace swaps the whole device list for a copy of devices.
func (r *Registry) Replace(devices []RawDevice) {
	next := cloneDevices(devices)

	r.mu.Lock()
	changed := !devicesEqual(r.devices, next)
	r.devices = next
	r.mu.Unlock()

	if changed {
		r.notify()
	}
}

// RemoveFunc deletes every device for which remove returns true, keeping
// the order of the remaining devices. It returns the number of devices removed.
//
// remove is called with the write lock held and must not call back into the Registry.
func (r *Registry) RemoveFunc(remove func(RawDevice) bool) int {
	r.mu.Lock()
	kept := make([]RawDevice, 0, len(r.devices))
	for _, d := range r.devices {
		if !remove(d) {
			kept = append(kept, d)
		}
	}

	removed := len(r.devices) - len(kept)
	if removed > 0 {
		r.devices = kept
	}
	r.mu.Unlock()

	if removed > 0 {
		r.notify()
	}
	return removed
}

// Len returns the number of devices currently registered.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

func (r *Registry) notify() {
	r.onChangeMu.RLock()
	callback := r.onChange
	r.onChangeMu.RUnlock()

	if callback != nil {
		callback()
	}
}

// devicesEqual compares two device lists element by element, order included.
func devicesEqual(a, b []RawDevice) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.VID != y.VID || x.PID != y.PID || x.PortPath != y.PortPath ||
			x.SystemPath != y.SystemPath || !serialEqual(x.Serial, y.Serial) {
			return false
		}
	}
	return true
}

// cloneDevices deep-copies a device list.
func cloneDevices(devices []RawDevice) []RawDevice {
	out := make([]RawDevice, len(devices))
	for i, d := range devices {
		out[i] = d.clone()
	}
	return out
}
