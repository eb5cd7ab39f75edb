package mqtt

import "strings"

// DefaultTopicPrefix is used when the configured prefix is empty.
const DefaultTopicPrefix = "usbroles"

// Topics builds the topic names used by usbroles under a common prefix.
//
//	topics := mqtt.NewTopics("usbroles")
//	topics.Devices()  // "usbroles/devices"
//	topics.Attached() // "usbroles/hotplug/attached"
type Topics struct {
	prefix string
}

// NewTopics returns a builder for prefix. Surrounding slashes are trimmed.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the root of the topic tree.
func (t Topics) Prefix() string {
	return t.prefix
}

// Status is the retained online/offline status of the daemon (also the LWT topic).
func (t Topics) Status() string {
	return t.prefix + "/status"
}

// Devices carries the retained list of current device views.
func (t Topics) Devices() string {
	return t.prefix + "/devices"
}

// Rules carries the retained current rule set.
func (t Topics) Rules() string {
	return t.prefix + "/rules"
}

// Attached receives attach events from remote hotplug agents.
func (t Topics) Attached() string {
	return t.prefix + "/hotplug/attached"
}

// Detached receives detach events from remote hotplug agents.
func (t Topics) Detached() string {
	return t.prefix + "/hotplug/detached"
}

// AllHotplug matches both hotplug event topics.
func (t Topics) AllHotplug() string {
	return t.prefix + "/hotplug/+"
}
