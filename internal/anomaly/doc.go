// Package anomaly watches device power draw and takes protective
// action when readings exceed the configured overshoot threshold.
//
// Each registered device has a normal power range. A reading above
// max * overshoot factor is anomalous: the monitor records it, issues
// a shutdown command through the gateway, and counts a strike against
// the device. Three strikes since the last explicit enable and the
// device is flagged disabled until an operator intervenes.
//
// Detection history lives in memory (authoritative, newest first) and
// is written through to SQLite for the audit trail. Severity is banded:
// readings within 25% past the threshold are medium, anything beyond
// is high.
package anomaly
