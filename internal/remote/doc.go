// Package remote implements the device API transport over MQTT.
//
// Each command or read publishes a request carrying a correlation ID
// and waits for the device's reply on a per-request response topic.
// Timeouts and broker failures surface as transient errors so the
// gateway's retry policy can handle them; explicit rejections from the
// device come back permanent, because retrying an unsupported action
// cannot succeed.
package remote
