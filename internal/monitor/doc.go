// Package monitor provides the operating-system side of device presence:
// full scans and hotplug event streams that satisfy usb.Monitor.
//
// Implementations:
//   - Sysfs: full scan of /sys/bus/usb/devices
//   - UeventSource: kernel hotplug messages over a NETLINK_KOBJECT_UEVENT
//     socket (Linux only; other platforms return ErrUnsupported)
//   - MQTTSource: hotplug events published by remote agents
//
// Composite pairs one scanner with one event source:
//
//	sysfs := monitor.NewSysfs(cfg.Monitor.SysfsRoot)
//	events := monitor.NewUeventSource(sysfs, monitor.RuleResolver{Rules: rules})
//	mon := monitor.NewComposite(sysfs, events)
package monitor
