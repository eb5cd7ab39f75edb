package monitor

import (
	"context"

	"github.com/nerrad567/usbroles/internal/usb"
)

// Scanner enumerates attached devices on demand.
type Scanner interface {
	ScanNow(ctx context.Context) ([]usb.RawDevice, error)
}

// EventSource streams hotplug events. The channel is closed when the
// source terminates.
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan usb.Event, error)
}

// Logger defines the logging interface used by the monitors.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Composite combines a Scanner and an optional EventSource into a
// usb.Monitor.
type Composite struct {
	scanner Scanner
	events  EventSource
}

// NewComposite builds a monitor scanning through scanner and streaming
// events from events. events may be nil for poll-only operation.
func NewComposite(scanner Scanner, events EventSource) *Composite {
	return &Composite{scanner: scanner, events: events}
}

// ScanNow delegates to the scanner.
func (c *Composite) ScanNow(ctx context.Context) ([]usb.RawDevice, error) {
	return c.scanner.ScanNow(ctx)
}

// Subscribe delegates to the event source, or fails with ErrNoEventSource.
func (c *Composite) Subscribe(ctx context.Context) (<-chan usb.Event, error) {
	if c.events == nil {
		return nil, ErrNoEventSource
	}
	return c.events.Subscribe(ctx)
}

// RoleResolver maps a device to the role it is bound to.
type RoleResolver interface {
	ResolveRole(dev usb.RawDevice) (string, bool)
}

// RuleResolver resolves roles against the live rule set using the same
// first-match semantics as device views.
type RuleResolver struct {
	Rules *usb.RuleStore
}

// ResolveRole returns the role of the first rule matching dev.
func (r RuleResolver) ResolveRole(dev usb.RawDevice) (string, bool) {
	rule, ok := usb.FirstMatch(dev, r.Rules.Snapshot())
	if !ok {
		return "", false
	}
	return rule.Role, true
}

// Tapped is an EventSource that reports every event to a callback
// after forwarding it.
type Tapped struct {
	source EventSource
	tap    func(usb.Event)
}

// Tap wraps source so that tap sees each event once it has been forwarded.
// tap runs on its own goroutine, so a slow callback never delays delivery;
// events arriving while tap is more than eventBuffer events behind are
// forwarded but not tapped.
func Tap(source EventSource, tap func(usb.Event)) *Tapped {
	return &Tapped{source: source, tap: tap}
}

// Subscribe subscribes to the wrapped source. The returned channel is
// closed when the source's channel closes or ctx is cancelled.
func (t *Tapped) Subscribe(ctx context.Context) (<-chan usb.Event, error) {
	in, err := t.source.Subscribe(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan usb.Event, eventBuffer)
	side := make(chan usb.Event, eventBuffer)

	go func() {
		for ev := range side {
			t.tap(ev)
		}
	}()

	go func() {
		defer close(out)
		defer close(side)
		for ev := range in {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
			select {
			case side <- ev:
			default:
			}
		}
	}()
	return out, nil
}
