package usb

import (
	"context"
	"sync"
	"time"
)

// Scanner defaults.
const (
	// DefaultScanInterval is the pause between two scans that finished in time.
	DefaultScanInterval = 300 * time.Millisecond

	// DefaultStallThreshold is the scan duration above which a scan counts
	// as stalled and the next one starts without pausing.
	DefaultStallThreshold = time.Second
)

// ScanDiff describes how the set of attached devices changed between two
// successful scans. Devices are compared by Fingerprint.
type ScanDiff struct {
	Added   []RawDevice
	Removed []RawDevice
	At      time.Time
}

// ScanObserver is notified after a successful scan that changed the set
// of attached devices.
type ScanObserver interface {
	ObserveScan(ctx context.Context, diff ScanDiff) error
}

// ScanRecorder receives the outcome of every scan, successful or not.
// It is used to export scan metrics.
type ScanRecorder interface {
	RecordScan(duration time.Duration, devices int, err error)
}

// ScanStats summarises the scanner's activity since start.
type ScanStats struct {
	Scans        uint64        `json:"scans"`
	Failures     uint64        `json:"failures"`
	Stalls       uint64        `json:"stalls"`
	LastDuration time.Duration `json:"last_duration_ns"`
	LastScanAt   time.Time     `json:"last_scan_at"`
	LastError    string        `json:"last_error,omitempty"`
}

// ScannerOptions tunes the poll loop. Zero values select the defaults.
type ScannerOptions struct {
	Interval       time.Duration
	StallThreshold time.Duration
}

// Scanner keeps the Registry converged with ground truth by repeatedly
// running a full scan through the Monitor and replacing the registry
// contents with the result.
//
// A failed scan leaves the registry untouched and is retried on the next
// iteration without backoff.
type Scanner struct {
	monitor        Monitor
	registry       *Registry
	interval       time.Duration
	stallThreshold time.Duration
	logger         Logger

	observers []ScanObserver
	recorder  ScanRecorder

	// known holds the fingerprints seen by the last successful scan.
	// Only touched by the scanning goroutine.
	known map[string]RawDevice

	statsMu sync.RWMutex
	stats   ScanStats
}

// NewScanner creates a poll scanner feeding registry from monitor.
func NewScanner(monitor Monitor, registry *Registry, opts ScannerOptions) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = DefaultScanInterval
	}
	if opts.StallThreshold <= 0 {
		opts.StallThreshold = DefaultStallThreshold
	}
	return &Scanner{
		monitor:        monitor,
		registry:       registry,
		interval:       opts.Interval,
		stallThreshold: opts.StallThreshold,
		logger:         noopLogger{},
		known:          make(map[string]RawDevice),
	}
}

// SetLogger sets the logger for the scanner.
// Must be called before Run.
func (s *Scanner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// AddObserver registers an observer for device set changes.
// Must be called before Run.
func (s *Scanner) AddObserver(o ScanObserver) {
	s.observers = append(s.observers, o)
}

// SetRecorder registers the recorder that receives every scan outcome.
// Must be called before Run.
func (s *Scanner) SetRecorder(r ScanRecorder) {
	s.recorder = r
}

// Stats returns a copy of the scanner's counters.
func (s *Scanner) Stats() ScanStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// Run polls until ctx is cancelled.
//
// After a scan that took longer than the stall threshold a warning is
// logged and the next scan starts immediately; otherwise the loop sleeps
// for the scan interval.
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info("poll scanner started",
		"interval", s.interval,
		"stall_threshold", s.stallThreshold,
	)

	for {
		if ctx.Err() != nil {
			s.logger.Info("poll scanner stopped")
			return
		}

		elapsed := s.ScanOnce(ctx)

		if elapsed > s.stallThreshold {
			s.logger.Warn("scan stalled", "duration", elapsed, "threshold", s.stallThreshold)
			s.statsMu.Lock()
			s.stats.Stalls++
			s.statsMu.Unlock()
			continue
		}

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("poll scanner stopped")
			return
		case <-timer.C:
		}
	}
}

// ScanOnce performs a single scan iteration and returns how long the
// Monitor took. On success the registry is replaced with the result.
func (s *Scanner) ScanOnce(ctx context.Context) time.Duration {
	start := time.Now()
	devices, err := s.monitor.ScanNow(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return elapsed
		}
		s.logger.Error("usb scan failed", "error", err, "duration", elapsed)
		s.record(start, elapsed, 0, err)
		return elapsed
	}

	s.registry.Replace(devices)
	s.record(start, elapsed, len(devices), nil)
	s.reconcile(ctx, devices, start)

	return elapsed
}

// reconcile compares the fingerprints of this scan with the previous one,
// logs newly seen devices and informs observers.
func (s *Scanner) reconcile(ctx context.Context, devices []RawDevice, at time.Time) {
	current := make(map[string]RawDevice, len(devices))
	for _, d := range devices {
		current[d.Fingerprint()] = d
	}

	var diff ScanDiff
	for _, d := range devices {
		fp := d.Fingerprint()
		if _, seen := s.known[fp]; !seen {
			s.logger.Info("new device detected", "fingerprint", fp, "system_path", d.SystemPath)
			diff.Added = append(diff.Added, d.clone())
		}
	}
	for fp, d := range s.known {
		if _, still := current[fp]; !still {
			s.logger.Debug("device gone", "fingerprint", fp)
			diff.Removed = append(diff.Removed, d)
		}
	}

	s.known = current

	if len(diff.Added) == 0 && len(diff.Removed) == 0 {
		return
	}
	diff.At = at.UTC()

	for _, o := range s.observers {
		if err := o.ObserveScan(ctx, diff); err != nil {
			s.logger.Warn("scan observer failed", "error", err)
		}
	}
}

func (s *Scanner) record(start time.Time, elapsed time.Duration, count int, err error) {
	s.statsMu.Lock()
	s.stats.Scans++
	s.stats.LastDuration = elapsed
	s.stats.LastScanAt = start.UTC()
	if err != nil {
		s.stats.Failures++
		s.stats.LastError = err.Error()
	} else {
		s.stats.LastError = ""
	}
	s.statsMu.Unlock()

	if s.recorder != nil {
		s.recorder.RecordScan(elapsed, count, err)
	}
}
