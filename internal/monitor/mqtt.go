package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nerrad567/usbroles/internal/infrastructure/mqtt"
	"github.com/nerrad567/usbroles/internal/usb"
)

// Subscriber is the part of the MQTT client used by MQTTSource.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// detachPayload is published by remote agents on the detached topic.
// Agents that don't know the role send the device instead and the role is
// resolved locally.
type detachPayload struct {
	Role   string         `json:"role"`
	Device *usb.RawDevice `json:"device,omitempty"`
}

// MQTTSource receives hotplug events published by remote agents.
//
// Attach messages carry a device as JSON ({"vid":..,"pid":..,"serial":..,
// "port_path":..,"system_path":..}); detach messages carry {"role":".."}
// or {"device":{..}}.
type MQTTSource struct {
	client   Subscriber
	topics   mqtt.Topics
	qos      byte
	resolver RoleResolver
	logger   Logger
}

// NewMQTTSource creates an event source on client's hotplug topics.
// resolver may be nil if agents always send roles.
func NewMQTTSource(client Subscriber, topics mqtt.Topics, qos byte, resolver RoleResolver) *MQTTSource {
	return &MQTTSource{
		client:   client,
		topics:   topics,
		qos:      qos,
		resolver: resolver,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the source.
func (s *MQTTSource) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Subscribe subscribes to the hotplug topics. The returned channel is
// closed after ctx is cancelled. Events arriving while the channel is full
// are dropped; the next scan corrects the registry.
func (s *MQTTSource) Subscribe(ctx context.Context) (<-chan usb.Event, error) {
	events := make(chan usb.Event, eventBuffer)

	var (
		mu     sync.Mutex
		closed bool
	)
	emit := func(ev usb.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case events <- ev:
		default:
			s.logger.Warn("hotplug event dropped, listener is behind")
		}
	}

	attached := s.topics.Attached()
	detached := s.topics.Detached()

	err := s.client.Subscribe(attached, s.qos, func(_ string, payload []byte) error {
		ev, err := decodeAttached(payload)
		if err != nil {
			return err
		}
		emit(ev)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", attached, err)
	}

	err = s.client.Subscribe(detached, s.qos, func(_ string, payload []byte) error {
		ev, ok, err := s.decodeDetached(payload)
		if err != nil || !ok {
			return err
		}
		emit(ev)
		return nil
	})
	if err != nil {
		s.client.Unsubscribe(attached) //nolint:errcheck // Subscribe error takes precedence
		return nil, fmt.Errorf("subscribing to %s: %w", detached, err)
	}

	go func() {
		<-ctx.Done()
		s.client.Unsubscribe(attached) //nolint:errcheck // Shutting down
		s.client.Unsubscribe(detached) //nolint:errcheck // Shutting down

		mu.Lock()
		closed = true
		close(events)
		mu.Unlock()
	}()

	return events, nil
}

func decodeAttached(payload []byte) (usb.Event, error) {
	var dev usb.RawDevice
	if err := json.Unmarshal(payload, &dev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	return usb.Attached{Device: dev}, nil
}

func (s *MQTTSource) decodeDetached(payload []byte) (usb.Event, bool, error) {
	var p detachPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	if p.Role != "" {
		return usb.Detached{Role: p.Role}, true, nil
	}
	if p.Device == nil {
		return nil, false, fmt.Errorf("%w: detach needs a role or a device", ErrMalformedEvent)
	}
	if s.resolver == nil {
		return nil, false, nil
	}

	role, ok := s.resolver.ResolveRole(*p.Device)
	if !ok {
		s.logger.Debug("remote detach of device without role", "fingerprint", p.Device.Fingerprint())
		return nil, false, nil
	}
	return usb.Detached{Role: role}, true, nil
}
