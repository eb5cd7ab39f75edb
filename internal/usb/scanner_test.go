package usb

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordedScan struct {
	devices int
	err     error
}

type fakeRecorder struct {
	mu    sync.Mutex
	scans []recordedScan
}

func (r *fakeRecorder) RecordScan(_ time.Duration, devices int, err error) {
	r.mu.Lock()
	r.scans = append(r.scans, recordedScan{devices: devices, err: err})
	r.mu.Unlock()
}

type fakeObserver struct {
	diffs []ScanDiff
	err   error
}

func (o *fakeObserver) ObserveScan(_ context.Context, diff ScanDiff) error {
	o.diffs = append(o.diffs, diff)
	return o.err
}

func TestScannerScanOnceReplacesRegistry(t *testing.T) {
	devices := []RawDevice{camera(nil, "1-1"), camera(nil, "1-2")}
	mon := newFakeMonitor(devices)
	reg := NewRegistry()
	rec := &fakeRecorder{}

	s := NewScanner(mon, reg, ScannerOptions{})
	s.SetRecorder(rec)
	s.ScanOnce(context.Background())

	if reg.Len() != 2 {
		t.Errorf("registry Len() = %d, want 2", reg.Len())
	}
	if len(rec.scans) != 1 || rec.scans[0].devices != 2 || rec.scans[0].err != nil {
		t.Errorf("recorded scans = %+v", rec.scans)
	}
	if st := s.Stats(); st.Scans != 1 || st.Failures != 0 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestScannerFailureKeepsRegistry(t *testing.T) {
	mon := newFakeMonitor([]RawDevice{camera(nil, "1-1")})
	reg := NewRegistry()
	rec := &fakeRecorder{}
	log := &recordingLogger{}

	s := NewScanner(mon, reg, ScannerOptions{})
	s.SetRecorder(rec)
	s.SetLogger(log)
	s.ScanOnce(context.Background())

	mon.setScanErr(errScanFailed)
	s.ScanOnce(context.Background())

	if reg.Len() != 1 {
		t.Errorf("registry Len() after failed scan = %d, want 1", reg.Len())
	}
	if !log.has("usb scan failed") {
		t.Error("failed scan not logged")
	}
	st := s.Stats()
	if st.Failures != 1 || st.LastError == "" {
		t.Errorf("Stats() = %+v, want one failure", st)
	}
	if last := rec.scans[len(rec.scans)-1]; !errors.Is(last.err, errScanFailed) {
		t.Errorf("recorder got err %v", last.err)
	}
}

func TestScannerObserversSeeDiffs(t *testing.T) {
	a := camera(nil, "1-1")
	b := camera(nil, "1-2")
	mon := newFakeMonitor(
		[]RawDevice{a},
		[]RawDevice{a}, // unchanged
		[]RawDevice{b},
	)
	obs := &fakeObserver{err: errors.New("ignored")}
	log := &recordingLogger{}

	s := NewScanner(mon, NewRegistry(), ScannerOptions{})
	s.SetLogger(log)
	s.AddObserver(obs)

	ctx := context.Background()
	s.ScanOnce(ctx)
	s.ScanOnce(ctx)
	s.ScanOnce(ctx)

	if len(obs.diffs) != 2 {
		t.Fatalf("observer saw %d diffs, want 2", len(obs.diffs))
	}
	if d := obs.diffs[0]; len(d.Added) != 1 || len(d.Removed) != 0 || d.At.IsZero() {
		t.Errorf("first diff = %+v", d)
	}
	d := obs.diffs[1]
	if len(d.Added) != 1 || d.Added[0].PortPath != "1-2" {
		t.Errorf("second diff added = %+v", d.Added)
	}
	if len(d.Removed) != 1 || d.Removed[0].PortPath != "1-1" {
		t.Errorf("second diff removed = %+v", d.Removed)
	}
	if !log.has("new device detected") {
		t.Error("new device not logged")
	}
	if !log.has("scan observer failed") {
		t.Error("observer error not logged")
	}
}

func TestScannerRunStopsOnCancel(t *testing.T) {
	mon := newFakeMonitor([]RawDevice{camera(nil, "1-1")})
	reg := NewRegistry()
	s := NewScanner(mon, reg, ScannerOptions{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for mon.scanCalls() < 3 {
		select {
		case <-deadline:
			t.Fatal("scanner did not loop")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}

	if reg.Len() != 1 {
		t.Errorf("registry Len() = %d, want 1", reg.Len())
	}
}

// slowMonitor blocks every scan for a fixed duration.
type slowMonitor struct {
	*fakeMonitor
	delay time.Duration
}

func (m *slowMonitor) ScanNow(ctx context.Context) ([]RawDevice, error) {
	time.Sleep(m.delay)
	return m.fakeMonitor.ScanNow(ctx)
}

func TestScannerStallSkipsSleep(t *testing.T) {
	mon := &slowMonitor{fakeMonitor: newFakeMonitor(), delay: 10 * time.Millisecond}
	log := &recordingLogger{}

	// The interval is long enough that only stalled iterations can repeat
	// within the test window.
	s := NewScanner(mon, NewRegistry(), ScannerOptions{
		Interval:       time.Hour,
		StallThreshold: time.Millisecond,
	})
	s.SetLogger(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	deadline := time.After(2 * time.Second)
	for mon.scanCalls() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d scans, stalled scans should loop immediately", mon.scanCalls())
		case <-time.After(time.Millisecond):
		}
	}
	cancel()

	if !log.has("scan stalled") {
		t.Error("stall not logged")
	}
	if s.Stats().Stalls == 0 {
		t.Error("stall not counted")
	}
}

func TestNewScannerDefaults(t *testing.T) {
	s := NewScanner(newFakeMonitor(), NewRegistry(), ScannerOptions{})
	if s.interval != DefaultScanInterval || s.stallThreshold != DefaultStallThreshold {
		t.Errorf("defaults = %v / %v", s.interval, s.stallThreshold)
	}
}
