package monitor

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nerrad567/usbroles/internal/usb"
)

// Uevent is a parsed kernel hotplug message.
type Uevent struct {
	Action    string
	DevPath   string
	Subsystem string
	DevType   string
	Env       map[string]string
}

// KernelName returns the last element of DevPath, which for USB devices
// is the port path ("1-2.3").
func (u Uevent) KernelName() string {
	return path.Base(u.DevPath)
}

// IsUSBDevice reports whether the event concerns a whole USB device
// rather than one of its interfaces.
func (u Uevent) IsUSBDevice() bool {
	return u.Subsystem == "usb" && u.DevType == "usb_device"
}

// ParseUevent decodes a kernel uevent: a "action@devpath" header followed
// by NUL-separated KEY=VALUE pairs. Messages rebroadcast by udev (with a
// "libudev" header) are rejected.
func ParseUevent(msg []byte) (Uevent, error) {
	fields := bytes.Split(bytes.TrimRight(msg, "\x00"), []byte{0})
	if len(fields) == 0 {
		return Uevent{}, ErrMalformedUevent
	}

	header := string(fields[0])
	action, devpath, ok := strings.Cut(header, "@")
	if !ok || action == "" || devpath == "" {
		return Uevent{}, fmt.Errorf("%w: header %q", ErrMalformedUevent, header)
	}

	u := Uevent{
		Action:  action,
		DevPath: devpath,
		Env:     make(map[string]string, len(fields)-1),
	}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(string(f), "=")
		if !ok {
			continue
		}
		u.Env[key] = value
	}

	if a := u.Env["ACTION"]; a != "" {
		u.Action = a
	}
	if p := u.Env["DEVPATH"]; p != "" {
		u.DevPath = p
	}
	u.Subsystem = u.Env["SUBSYSTEM"]
	u.DevType = u.Env["DEVTYPE"]

	return u, nil
}

// parseProduct reads the vendor and product ids from a PRODUCT value
// such as "46d/825/10" (hex, unpadded, followed by the device release).
func parseProduct(product string) (vid, pid uint16, err error) {
	parts := strings.Split(product, "/")
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("%w: PRODUCT %q", ErrMalformedUevent, product)
	}
	if vid, err = parseHexID(parts[0]); err != nil {
		return 0, 0, err
	}
	if pid, err = parseHexID(parts[1]); err != nil {
		return 0, 0, err
	}
	return vid, pid, nil
}

// eventBuffer is the capacity of the channel returned by Subscribe.
const eventBuffer = 64

// UeventSource turns kernel hotplug messages into usb.Events.
//
// Attach messages are resolved to a full device by reading sysfs. By the
// time a detach message arrives the sysfs entry is gone, so the source
// remembers every device it has seen by kernel name and hands the last
// known device to a RoleResolver; detachments of devices without a role
// are dropped.
type UeventSource struct {
	sysfs    *Sysfs
	resolver RoleResolver
	logger   Logger

	mu    sync.Mutex
	known map[string]usb.RawDevice
}

// NewUeventSource creates an event source reading attach details from
// sysfs and resolving roles on detach through resolver.
func NewUeventSource(sysfs *Sysfs, resolver RoleResolver) *UeventSource {
	return &UeventSource{
		sysfs:    sysfs,
		resolver: resolver,
		logger:   noopLogger{},
		known:    make(map[string]usb.RawDevice),
	}
}

// SetLogger sets the logger for the source.
// Must be called before Subscribe.
func (s *UeventSource) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// seed remembers the devices attached before the subscription started so
// their removal can be resolved.
func (s *UeventSource) seed(ctx context.Context) {
	devices, err := s.sysfs.ScanNow(ctx)
	if err != nil {
		s.logger.Warn("initial sysfs scan for hotplug cache failed", "error", err)
		return
	}

	s.mu.Lock()
	for _, d := range devices {
		s.known[d.PortPath] = d
	}
	s.mu.Unlock()
}

// translate converts a uevent into a usb.Event. It reports false for
// events that don't concern a USB device or can't be attributed.
func (s *UeventSource) translate(u Uevent) (usb.Event, bool) {
	if !u.IsUSBDevice() {
		return nil, false
	}
	name := u.KernelName()

	switch u.Action {
	case "add":
		dev, err := s.sysfs.ReadDevice(name)
		if err != nil {
			dev, err = s.deviceFromEnv(u)
			if err != nil {
				s.logger.Debug("unresolvable attach event", "devpath", u.DevPath, "error", err)
				return nil, false
			}
		}
		s.mu.Lock()
		s.known[name] = dev
		s.mu.Unlock()
		return usb.Attached{Device: dev}, true

	case "remove":
		s.mu.Lock()
		dev, ok := s.known[name]
		delete(s.known, name)
		s.mu.Unlock()

		if !ok {
			var err error
			if dev, err = s.deviceFromEnv(u); err != nil {
				s.logger.Debug("unresolvable detach event", "devpath", u.DevPath, "error", err)
				return nil, false
			}
		}

		role, ok := s.resolver.ResolveRole(dev)
		if !ok {
			s.logger.Debug("detached device has no role", "fingerprint", dev.Fingerprint())
			return nil, false
		}
		return usb.Detached{Role: role}, true
	}

	return nil, false
}

// deviceFromEnv builds a serial-less device from the PRODUCT variable.
func (s *UeventSource) deviceFromEnv(u Uevent) (usb.RawDevice, error) {
	vid, pid, err := parseProduct(u.Env["PRODUCT"])
	if err != nil {
		return usb.RawDevice{}, err
	}
	return usb.RawDevice{
		VID:        vid,
		PID:        pid,
		PortPath:   u.KernelName(),
		SystemPath: filepath.Join(s.sysfs.root, u.DevPath),
	}, nil
}
