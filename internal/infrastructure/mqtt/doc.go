// Package mqtt provides MQTT connectivity for usbroles.
//
// The broker is optional. When enabled it is used to:
//   - publish the retained list of device views on <prefix>/devices and
//     the rule set on <prefix>/rules whenever they change
//   - receive hotplug events from remote agents on <prefix>/hotplug/attached
//     and <prefix>/hotplug/detached
//   - announce the daemon on <prefix>/status, with a Last Will so
//     subscribers notice a crash
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	views := mqtt.NewSnapshotPublisher(client, client.Topics().Devices(), func() any {
//	    return state.Views()
//	})
//	go views.Run(ctx)
//	client.SetOnConnect(views.Notify)
//
// Tests that need a broker are behind the integration build tag:
//
//	go test -tags=integration ./internal/infrastructure/mqtt/...
package mqtt
