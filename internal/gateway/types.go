package gateway

import "time"

// State is the raw key-value state reported by a device, e.g.
// {"power": "on", "watts": 412.5}.
type State map[string]any

// DeepCopy returns an independent copy of the state map.
// Nested maps and slices are copied recursively so callers cannot
// mutate gateway-internal state.
func (s State) DeepCopy() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = deepCopyValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = deepCopyValue(inner)
		}
		return out
	default:
		return val
	}
}

// PowerRange is the normal operating band for a device's power draw,
// in watts.
type PowerRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Device is a registered controllable device.
type Device struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Range     PowerRange `json:"normal_power_range"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Command is an action to perform on a device.
type Command struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// DeepCopy returns an independent copy of the command.
func (c Command) DeepCopy() Command {
	out := Command{Action: c.Action}
	if c.Params != nil {
		out.Params = State(c.Params).DeepCopy()
	}
	return out
}

// CommandResult reports how a command was handled.
type CommandResult struct {
	// Queued is true when the command was accepted into the offline
	// queue rather than delivered.
	Queued bool `json:"queued"`

	// State is the device state returned by a delivered command.
	// Nil when Queued is true.
	State State `json:"state,omitempty"`
}

// QueuedCommand is a command held in the offline FIFO queue.
type QueuedCommand struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Command    Command   `json:"command"`
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts replay attempts, not the retries inside each one.
	Attempts int `json:"attempts"`
}

// CachedState is the last successfully observed state for a device.
type CachedState struct {
	DeviceID   string    `json:"device_id"`
	State      State     `json:"state"`
	ObservedAt time.Time `json:"observed_at"`

	// Stale is true when the state was served from cache rather than a
	// live read.
	Stale bool `json:"stale"`
}

// QueueStatus is a snapshot of the offline command queue.
type QueueStatus struct {
	Length   int             `json:"length"`
	Cap      int             `json:"cap"`
	Commands []QueuedCommand `json:"commands"`
}

// CacheStatus is a snapshot of the last-known-state cache.
type CacheStatus struct {
	Entries int           `json:"entries"`
	States  []CachedState `json:"states"`
}

// APIStatus is a snapshot of remote API health as the gateway sees it.
type APIStatus struct {
	Reachable   bool       `json:"reachable"`
	LastFailure *time.Time `json:"last_failure,omitempty"`
	QueueLength int        `json:"queue_length"`
}
