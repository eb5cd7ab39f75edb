package usb

import (
	"context"
	"errors"
	"sync"
)

var (
	camVID uint16 = 0x046d
	camPID uint16 = 0x0825
)

func camera(serial *string, port string) RawDevice {
	return RawDevice{
		VID:        camVID,
		PID:        camPID,
		Serial:     serial,
		PortPath:   port,
		SystemPath: "/sys/bus/usb/devices/" + port,
	}
}

var errScanFailed = errors.New("scan failed")

// fakeMonitor serves scripted scan results and an event channel the test
// controls.
type fakeMonitor struct {
	mu      sync.Mutex
	scans   [][]RawDevice
	scanErr error
	calls   int

	events       chan Event
	subscribeErr error
}

func newFakeMonitor(scans ...[]RawDevice) *fakeMonitor {
	return &fakeMonitor{scans: scans, events: make(chan Event, 16)}
}

// ScanNow returns the next scripted result; the last one repeats.
func (m *fakeMonitor) ScanNow(_ context.Context) ([]RawDevice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.scanErr != nil {
		return nil, m.scanErr
	}
	if len(m.scans) == 0 {
		return nil, nil
	}
	next := m.scans[0]
	if len(m.scans) > 1 {
		m.scans = m.scans[1:]
	}
	return next, nil
}

func (m *fakeMonitor) Subscribe(_ context.Context) (<-chan Event, error) {
	if m.subscribeErr != nil {
		return nil, m.subscribeErr
	}
	return m.events, nil
}

func (m *fakeMonitor) setScanErr(err error) {
	m.mu.Lock()
	m.scanErr = err
	m.mu.Unlock()
}

func (m *fakeMonitor) scanCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingLogger captures log messages for assertions.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) log(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.log(msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.log(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.log(msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.log(msg) }

func (l *recordingLogger) has(msg string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.msgs {
		if m == msg {
			return true
		}
	}
	return false
}
