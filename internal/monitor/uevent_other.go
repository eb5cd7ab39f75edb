//go:build !linux

package monitor

import (
	"context"

	"github.com/nerrad567/usbroles/internal/usb"
)

// Subscribe is unavailable outside Linux; the daemon falls back to
// poll-only operation.
func (s *UeventSource) Subscribe(_ context.Context) (<-chan usb.Event, error) {
	return nil, ErrUnsupported
}
