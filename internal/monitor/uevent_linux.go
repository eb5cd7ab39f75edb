//go:build linux

package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/nerrad567/usbroles/internal/usb"
)

const (
	// kernelGroup is the netlink multicast group the kernel sends uevents to.
	kernelGroup = 1

	// recvBufferSize fits the largest uevent the kernel emits.
	recvBufferSize = 8192

	// readTimeout bounds each receive so cancellation is noticed.
	readTimeout = 500 * time.Millisecond
)

// Subscribe opens a NETLINK_KOBJECT_UEVENT socket and streams USB
// attach/detach events until ctx is cancelled or the socket fails.
func (s *UeventSource) Subscribe(ctx context.Context) (<-chan usb.Event, error) {
	fd, err := openUeventSocket()
	if err != nil {
		return nil, err
	}

	s.seed(ctx)

	events := make(chan usb.Event, eventBuffer)
	go s.readLoop(ctx, fd, events)
	return events, nil
}

func openUeventSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return -1, fmt.Errorf("opening uevent socket: %w", err)
	}

	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: kernelGroup}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd) //nolint:errcheck // Bind error takes precedence
		return -1, fmt.Errorf("binding uevent socket: %w", err)
	}

	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd) //nolint:errcheck // Setsockopt error takes precedence
		return -1, fmt.Errorf("setting uevent socket timeout: %w", err)
	}

	return fd, nil
}

func (s *UeventSource) readLoop(ctx context.Context, fd int, events chan<- usb.Event) {
	defer close(events)
	defer unix.Close(fd) //nolint:errcheck // Nothing to do on close failure

	buf := make([]byte, recvBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}

		n, _, err := unix.Recvfrom(fd, buf, 0)
		if err != nil {
			switch {
			case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.ENOBUFS):
				s.logger.Warn("uevent socket overrun, some hotplug events were lost")
				continue
			}
			s.logger.Error("reading uevents failed", "error", err)
			return
		}

		u, err := ParseUevent(buf[:n])
		if err != nil {
			s.logger.Debug("ignoring netlink message", "error", err)
			continue
		}

		ev, ok := s.translate(u)
		if !ok {
			continue
		}

		select {
		case events <- ev:
		case <-ctx.Done():
			return
		}
	}
}
