// Package usb provides the USB device presence engine for usbroles.
//
// It keeps a live, concurrently readable inventory of attached USB devices
// and annotates each one with the operator-defined role it is bound to.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                             State                                │
//	│                                                                  │
//	│  ┌──────────────────┐                    ┌──────────────────┐    │
//	│  │     Registry     │                    │    RuleStore     │    │
//	│  │  (registry.go)   │                    │    (rules.go)    │    │
//	│  │ • RawDevice list │                    │ • Rule list      │    │
//	│  │ • RWMutex        │                    │ • JSON file      │    │
//	│  └──────────────────┘                    └──────────────────┘    │
//	│     ▲          ▲                             │         ▲         │
//	└─────│──────────│─────────────────────────────│─────────│─────────┘
//	      │ Replace  │ RemoveFunc                  │ Lookup  │ Replace
//	┌─────┴──────┐ ┌─┴─────────────┐             │   ┌─────┴──────┐
//	│  Scanner   │ │   Listener    │◀────────────┘   │  REST API  │
//	│(scanner.go)│ │ (listener.go) │                 │            │
//	└─────▲──────┘ └──────▲────────┘                 └────────────┘
//	      │ ScanNow       │ Subscribe
//	┌─────┴───────────────┴────────┐
//	│          Monitor             │
//	└──────────────────────────────┘
//
// The Scanner replaces the registry with the result of a full scan every
// few hundred milliseconds. The Listener removes devices as soon as a
// detach event for a bound role arrives, ahead of the next scan. Both
// write without coordination; the next scan restores ground truth.
//
// # Matching
//
// Match turns raw devices into DeviceViews. Each device takes the role of
// the first rule whose VID, PID and port path equal the device's and whose
// serial, if set, equals the device's serial.
//
// # Usage
//
//	rules, err := usb.OpenRuleStore(path)
//	if err != nil {
//	    return err
//	}
//	state := usb.NewState(usb.NewRegistry(), rules)
//
//	scanner := usb.NewScanner(monitor, state.Registry, usb.ScannerOptions{})
//	scanner.SetLogger(log)
//	go scanner.Run(ctx)
//
//	listener := usb.NewListener(monitor, state)
//	listener.SetLogger(log)
//	go listener.Run(ctx)
//
//	views := state.Views()
//
// # Thread Safety
//
// Registry and RuleStore are safe for concurrent use and are never locked
// together.
package usb
