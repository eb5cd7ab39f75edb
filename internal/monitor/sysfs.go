package monitor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nerrad567/usbroles/internal/usb"
)

// DefaultSysfsRoot is where sysfs is mounted on Linux.
const DefaultSysfsRoot = "/sys"

// Sysfs enumerates USB devices from /sys/bus/usb/devices.
//
// Each device entry is named after its port path ("1-2", "3-1.4"); the
// attributes idVendor, idProduct and serial are read from it. Interface
// entries ("1-2:1.0") and root hubs ("usb1") are skipped.
type Sysfs struct {
	root   string
	logger Logger
}

// NewSysfs creates a scanner reading below root ("/sys" when empty).
func NewSysfs(root string) *Sysfs {
	if root == "" {
		root = DefaultSysfsRoot
	}
	return &Sysfs{root: root, logger: noopLogger{}}
}

// SetLogger sets the logger for unreadable entries.
func (s *Sysfs) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// DevicesDir returns the directory holding one entry per USB device.
func (s *Sysfs) DevicesDir() string {
	return filepath.Join(s.root, "bus", "usb", "devices")
}

// ScanNow lists every attached USB device, ordered by port path.
// Entries that vanish or can't be read mid-scan are skipped.
func (s *Sysfs) ScanNow(ctx context.Context) ([]usb.RawDevice, error) {
	entries, err := os.ReadDir(s.DevicesDir())
	if err != nil {
		return nil, fmt.Errorf("listing usb devices: %w", err)
	}

	devices := make([]usb.RawDevice, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := entry.Name()
		if !IsDeviceName(name) {
			continue
		}

		dev, err := s.ReadDevice(name)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, ErrNotUSBDevice) {
				s.logger.Debug("skipping unreadable usb device", "name", name, "error", err)
			}
			continue
		}
		devices = append(devices, dev)
	}

	return devices, nil
}

// ReadDevice reads the device whose kernel name (port path) is name.
func (s *Sysfs) ReadDevice(name string) (usb.RawDevice, error) {
	dir := filepath.Join(s.DevicesDir(), name)

	vid, err := readHexID(filepath.Join(dir, "idVendor"))
	if err != nil {
		return usb.RawDevice{}, err
	}
	pid, err := readHexID(filepath.Join(dir, "idProduct"))
	if err != nil {
		return usb.RawDevice{}, err
	}

	dev := usb.RawDevice{
		VID:        vid,
		PID:        pid,
		PortPath:   name,
		SystemPath: dir,
	}

	if serial, err := readAttr(filepath.Join(dir, "serial")); err == nil && serial != "" {
		dev.Serial = usb.Serial(serial)
	}

	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		dev.SystemPath = resolved
	}

	return dev, nil
}

// IsDeviceName reports whether a /sys/bus/usb/devices entry names a
// device behind a port, as opposed to an interface or a root hub.
func IsDeviceName(name string) bool {
	if name == "" || strings.HasPrefix(name, "usb") || strings.Contains(name, ":") {
		return false
	}
	bus, _, ok := strings.Cut(name, "-")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(bus)
	return err == nil
}

func readAttr(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readHexID(path string) (uint16, error) {
	raw, err := readAttr(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s missing", ErrNotUSBDevice, filepath.Base(path))
		}
		return 0, err
	}
	return parseHexID(raw)
}

// parseHexID parses a 16-bit id written as hex, with or without 0x.
func parseHexID(raw string) (uint16, error) {
	raw = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	id, err := strconv.ParseUint(raw, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("parsing id %q: %w", raw, err)
	}
	return uint16(id), nil
}
