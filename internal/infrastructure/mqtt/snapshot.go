package mqtt

import (
	"context"
	"errors"
)

// Publisher is the part of Client needed to publish JSON state.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// SnapshotPublisher keeps a retained topic in sync with some in-memory state.
//
// Notify may be called from any goroutine and never blocks; bursts of
// notifications collapse into a single publish of the latest snapshot.
type SnapshotPublisher struct {
	pub      Publisher
	topic    string
	snapshot func() any
	logger   Logger
	pending  chan struct{}
}

// NewSnapshotPublisher creates a publisher that sends snapshot() to topic.
func NewSnapshotPublisher(pub Publisher, topic string, snapshot func() any) *SnapshotPublisher {
	return &SnapshotPublisher{
		pub:      pub,
		topic:    topic,
		snapshot: snapshot,
		pending:  make(chan struct{}, 1),
	}
}

// SetLogger sets a logger for publish failures.
// Must be called before Run.
func (p *SnapshotPublisher) SetLogger(logger Logger) {
	p.logger = logger
}

// Notify schedules a publish of the current snapshot.
func (p *SnapshotPublisher) Notify() {
	select {
	case p.pending <- struct{}{}:
	default:
	}
}

// Run publishes an initial snapshot and then one per notification until
// ctx is cancelled.
func (p *SnapshotPublisher) Run(ctx context.Context) {
	p.publish()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.pending:
			p.publish()
		}
	}
}

func (p *SnapshotPublisher) publish() {
	err := p.pub.PublishJSON(p.topic, p.snapshot())
	if err == nil || p.logger == nil {
		return
	}
	// A disconnected client republishes on reconnect via Notify.
	if errors.Is(err, ErrNotConnected) {
		return
	}
	p.logger.Warn("MQTT snapshot publish failed", "topic", p.topic, "error", err)
}
