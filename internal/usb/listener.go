package usb

import (
	"context"
	"sync/atomic"
)

// ListenerStats counts the events handled by a Listener.
type ListenerStats struct {
	Attached uint64 `json:"attached"`
	Detached uint64 `json:"detached"`
	Removed  uint64 `json:"removed"`
	Running  bool   `json:"running"`
}

// Listener consumes hotplug events and applies detachments to the
// Registry ahead of the next scan.
//
// Attach events are informational only: new devices enter the registry
// through the Scanner.
type Listener struct {
	monitor Monitor
	state   *State
	logger  Logger

	attached atomic.Uint64
	detached atomic.Uint64
	removed  atomic.Uint64
	running  atomic.Bool
}

// NewListener creates a listener reading events from monitor.
func NewListener(monitor Monitor, state *State) *Listener {
	return &Listener{
		monitor: monitor,
		state:   state,
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the listener.
// Must be called before Run.
func (l *Listener) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	l.logger = logger
}

// Stats returns the listener's event counters.
func (l *Listener) Stats() ListenerStats {
	return ListenerStats{
		Attached: l.attached.Load(),
		Detached: l.detached.Load(),
		Removed:  l.removed.Load(),
		Running:  l.running.Load(),
	}
}

// Run subscribes to the Monitor once and handles events until the stream
// ends or ctx is cancelled.
//
// A failed subscription is logged and Run returns immediately: the process
// keeps working in poll-only mode. When the event stream closes Run logs
// and returns without resubscribing.
func (l *Listener) Run(ctx context.Context) {
	events, err := l.monitor.Subscribe(ctx)
	if err != nil {
		l.logger.Error("hotplug subscription failed, running in poll-only mode", "error", err)
		return
	}

	l.running.Store(true)
	defer l.running.Store(false)
	l.logger.Info("hotplug listener started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("hotplug listener stopped")
			return
		case ev, ok := <-events:
			if !ok {
				l.logger.Warn("hotplug event stream closed, listener exiting")
				return
			}
			l.Handle(ev)
		}
	}
}

// Handle applies a single event.
//
// For Detached, the rule bound to the role is looked up in the current
// rule set and every registry entry with the same VID, PID and serial is
// removed. Port paths are ignored, so a matching device on another port
// is removed as well. An unknown role is a no-op.
func (l *Listener) Handle(ev Event) {
	switch e := ev.(type) {
	case Attached:
		l.attached.Add(1)
		l.logger.Info("device attached",
			"fingerprint", e.Device.Fingerprint(),
			"system_path", e.Device.SystemPath,
		)

	case Detached:
		l.detached.Add(1)
		rule, ok := l.state.Rules.Lookup(e.Role)
		if !ok {
			l.logger.Debug("detach for unknown role ignored", "role", e.Role)
			return
		}

		n := l.state.Registry.RemoveFunc(rule.Identifies)
		l.removed.Add(uint64(n)) //nolint:gosec // n is a non-negative count
		l.logger.Info("device detached", "role", e.Role, "removed", n)

	default:
		l.logger.Warn("unknown hotplug event ignored")
	}
}
