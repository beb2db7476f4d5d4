package mqtt

import "fmt"

// Topic prefixes for the Ward Core MQTT namespace.
//
// Device traffic uses the flat scheme: wardcore/{category}/{device_or_request_id}
const (
	// TopicPrefix is the base for all Ward Core topics.
	TopicPrefix = "wardcore"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "wardcore/system"
)

// Topics provides builders for Ward Core MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.Command("heater-garage")
//	// Returns: "wardcore/command/heater-garage"
type Topics struct{}

// Command returns the topic for commands addressed to a device.
//
// Example: wardcore/command/heater-garage
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Read returns the topic for state read requests addressed to a device.
//
// Example: wardcore/read/heater-garage
func (Topics) Read(deviceID string) string {
	return fmt.Sprintf("%s/read/%s", TopicPrefix, deviceID)
}

// Response returns the topic a device replies on for a given request.
//
// Example: wardcore/response/req-abc123
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// DeviceState returns the topic for unsolicited device state updates.
//
// Example: wardcore/state/heater-garage
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Notification returns the topic for operator-facing alerts.
//
// Example: wardcore/notification
func (Topics) Notification() string {
	return fmt.Sprintf("%s/notification", TopicPrefix)
}

// SystemStatus returns the system status topic.
//
// Example: wardcore/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SystemShutdown returns the shutdown signal topic.
//
// Example: wardcore/system/shutdown
func (Topics) SystemShutdown() string {
	return fmt.Sprintf("%s/shutdown", TopicPrefixSystem)
}

// AllResponses returns a pattern matching every response topic.
//
// Pattern: wardcore/response/+
func (Topics) AllResponses() string {
	return fmt.Sprintf("%s/response/+", TopicPrefix)
}

// AllDeviceStates returns a pattern matching all device state updates.
//
// Pattern: wardcore/state/+
func (Topics) AllDeviceStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllTopics returns a pattern matching all Ward Core topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: wardcore/#
func (Topics) AllTopics() string {
	return "wardcore/#"
}
