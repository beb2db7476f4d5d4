package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ward-core/internal/failure"
	"github.com/nerrad567/ward-core/internal/infrastructure/config"
	"github.com/nerrad567/ward-core/internal/retry"
)

// RemoteAPI is the transport to the remote device control API.
// Implementations must honour ctx cancellation and return errors
// wrapped with retry.Permanent for rejections that retrying cannot fix.
type RemoteAPI interface {
	// Execute delivers a command and returns the device state after it
	// was applied.
	Execute(ctx context.Context, deviceID string, cmd Command) (State, error)

	// ReadState fetches the current state of a device.
	ReadState(ctx context.Context, deviceID string) (State, error)
}

// EventSink receives gateway events for push delivery to clients.
// Compatible with the WebSocket hub.
type EventSink interface {
	Broadcast(channel string, payload any)
}

// Logger is the minimal logging interface the gateway needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Info(msg string, args ...any)  {}
func (noopLogger) Warn(msg string, args ...any)  {}
func (noopLogger) Error(msg string, args ...any) {}

// ChannelReachability is the event channel for reachability changes.
const ChannelReachability = "gateway.reachability"

// Gateway owns the device registry, the last-known-state cache, and
// the offline command queue.
type Gateway struct {
	api      RemoteAPI
	failures *failure.Reporter
	retryCfg retry.Config
	queueCap int

	mu          sync.RWMutex
	devices     map[string]*Device
	cache       map[string]*CachedState
	queue       []*QueuedCommand
	pending     map[string]int // queued-command count per device, replay in flight included
	reachable   bool
	lastFailure *time.Time

	events EventSink
	logger Logger
	now    func() time.Time
}

// New constructs a Gateway. The remote API starts out assumed
// reachable; the first exhausted command flips it.
func New(api RemoteAPI, failures *failure.Reporter, cfg config.GatewayConfig) *Gateway {
	queueCap := cfg.QueueCap
	if queueCap <= 0 {
		queueCap = 256
	}

	return &Gateway{
		api:       api,
		failures:  failures,
		retryCfg:  retryConfigFrom(cfg.Retry),
		queueCap:  queueCap,
		devices:   make(map[string]*Device),
		cache:     make(map[string]*CachedState),
		pending:   make(map[string]int),
		reachable: true,
		logger:    noopLogger{},
		now:       time.Now,
	}
}

// retryConfigFrom converts millisecond config values to durations.
func retryConfigFrom(cfg config.RetryConfig) retry.Config {
	return retry.Config{
		MaxRetries:        cfg.MaxRetries,
		BaseDelay:         time.Duration(cfg.BaseDelay) * time.Millisecond,
		BackoffMultiplier: cfg.BackoffMultiplier,
		MaxDelay:          time.Duration(cfg.MaxDelay) * time.Millisecond,
		JitterRatio:       cfg.JitterRatio,
	}
}

// SetLogger attaches structured logging.
func (g *Gateway) SetLogger(logger Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// SetEventSink attaches a push channel for reachability events.
func (g *Gateway) SetEventSink(sink EventSink) {
	g.events = sink
}

// RegisterDevice adds a device or updates an existing registration.
// Re-registering keeps the original creation time and any cached state.
func (g *Gateway) RegisterDevice(id, deviceType string, rng PowerRange) (*Device, error) {
	if id == "" {
		return nil, ErrInvalidDeviceID
	}
	if deviceType == "" {
		return nil, ErrInvalidDeviceType
	}
	if rng.Min < 0 || rng.Max < rng.Min {
		return nil, fmt.Errorf("%w: min=%v max=%v", ErrInvalidRange, rng.Min, rng.Max)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	dev, exists := g.devices[id]
	if !exists {
		dev = &Device{ID: id, CreatedAt: now}
		g.devices[id] = dev
	}
	dev.Type = deviceType
	dev.Range = rng
	dev.UpdatedAt = now

	g.logger.Info("device registered", "device_id", id, "type", deviceType)

	out := *dev
	return &out, nil
}

// RemoveDevice deletes a device along with its cached state and any
// queued commands.
func (g *Gateway) RemoveDevice(id string) error {
	if id == "" {
		return ErrInvalidDeviceID
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(g.devices, id)
	delete(g.cache, id)
	delete(g.pending, id)

	kept := g.queue[:0]
	for _, qc := range g.queue {
		if qc.DeviceID != id {
			kept = append(kept, qc)
		}
	}
	g.queue = kept

	g.logger.Info("device removed", "device_id", id)
	return nil
}

// Device returns a copy of a registered device.
func (g *Gateway) Device(id string) (*Device, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	dev, ok := g.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	out := *dev
	return &out, nil
}

// Devices returns copies of all registered devices.
func (g *Gateway) Devices() []Device {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]Device, 0, len(g.devices))
	for _, dev := range g.devices {
		out = append(out, *dev)
	}
	return out
}

// SendCommand delivers a command to a device, or queues it when the
// remote API is unreachable.
//
// Delivery runs through the retry policy. When the attempt budget is
// spent the gateway marks the API unreachable, queues the command, and
// reports success-with-queued rather than an error: the command is not
// lost, it is deferred.
//
// A command for a device with queued commands outstanding joins the
// queue behind them even while the API is reachable; delivering it
// live would let it overtake the device's backlog mid-replay.
//
// Returns:
//   - CommandResult with the fresh device state on delivery
//   - CommandResult with Queued=true when deferred
//   - ErrQueueFull when deferred but the queue is at capacity
//   - validation errors for empty IDs/actions and unknown devices
func (g *Gateway) SendCommand(ctx context.Context, deviceID string, cmd Command) (CommandResult, error) {
	if deviceID == "" {
		return CommandResult{}, ErrInvalidDeviceID
	}
	if cmd.Action == "" {
		return CommandResult{}, ErrInvalidCommand
	}

	g.mu.Lock()
	if _, known := g.devices[deviceID]; !known {
		g.mu.Unlock()
		return CommandResult{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}
	if !g.reachable || g.pending[deviceID] > 0 {
		result, err := g.enqueueLocked(deviceID, cmd)
		g.mu.Unlock()
		return result, err
	}
	g.mu.Unlock()

	state, err := g.deliver(ctx, deviceID, cmd, "send_command")
	if err != nil {
		if retry.IsPermanent(err) {
			// The remote API rejected the command outright; queueing
			// would just replay the same rejection.
			return CommandResult{}, err
		}
		g.markUnreachable()
		return g.enqueue(deviceID, cmd)
	}

	g.storeState(deviceID, state)
	return CommandResult{Queued: false, State: state.DeepCopy()}, nil
}

// deliver runs one command through the retry policy with failure
// reporting. Holds no locks across the remote call.
func (g *Gateway) deliver(ctx context.Context, deviceID string, cmd Command, operation string) (State, error) {
	var state State
	err := g.failures.ExecuteWithErrorHandling(ctx, g.retryCfg, failure.CategoryDeviceCommunication,
		failure.Source{Component: "gateway", Operation: operation, DeviceID: deviceID},
		func(ctx context.Context) error {
			s, err := g.api.Execute(ctx, deviceID, cmd)
			if err != nil {
				return err
			}
			state = s
			return nil
		})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// enqueue appends a command to the offline FIFO queue.
func (g *Gateway) enqueue(deviceID string, cmd Command) (CommandResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.enqueueLocked(deviceID, cmd)
}

// enqueueLocked appends a command to the queue and bumps the device's
// pending count. Caller holds g.mu.
func (g *Gateway) enqueueLocked(deviceID string, cmd Command) (CommandResult, error) {
	if len(g.queue) >= g.queueCap {
		g.logger.Warn("command queue full, rejecting command",
			"device_id", deviceID, "action", cmd.Action, "cap", g.queueCap)
		return CommandResult{}, fmt.Errorf("%w: %d commands pending", ErrQueueFull, len(g.queue))
	}

	qc := &QueuedCommand{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		Command:    cmd.DeepCopy(),
		EnqueuedAt: g.now(),
	}
	g.queue = append(g.queue, qc)
	g.pending[deviceID]++

	g.logger.Info("command queued", "device_id", deviceID, "action", cmd.Action, "queue_length", len(g.queue))
	return CommandResult{Queued: true}, nil
}

// commandDelivered clears one unit of a device's queued backlog.
func (g *Gateway) commandDelivered(deviceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.pending[deviceID] > 1 {
		g.pending[deviceID]--
	} else {
		delete(g.pending, deviceID)
	}
}

// storeState records the last observed state for a device.
func (g *Gateway) storeState(deviceID string, state State) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.cache[deviceID] = &CachedState{
		DeviceID:   deviceID,
		State:      state.DeepCopy(),
		ObservedAt: g.now(),
	}
}

// ObserveState records externally observed device state, refreshing the
// last-known-state cache. Used for unsolicited state updates arriving
// over the message bus.
func (g *Gateway) ObserveState(deviceID string, state State) error {
	if deviceID == "" {
		return ErrInvalidDeviceID
	}

	g.mu.RLock()
	_, known := g.devices[deviceID]
	g.mu.RUnlock()
	if !known {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	g.storeState(deviceID, state)
	return nil
}

// markUnreachable flips the gateway into offline mode.
func (g *Gateway) markUnreachable() {
	g.mu.Lock()
	wasReachable := g.reachable
	g.reachable = false
	now := g.now()
	g.lastFailure = &now
	g.mu.Unlock()

	if wasReachable {
		g.logger.Warn("remote API unreachable, queueing commands")
		g.broadcastReachability(false)
	}
}

func (g *Gateway) broadcastReachability(reachable bool) {
	if g.events == nil {
		return
	}
	g.mu.RLock()
	queueLen := len(g.queue)
	g.mu.RUnlock()
	g.events.Broadcast(ChannelReachability, map[string]any{
		"reachable":    reachable,
		"queue_length": queueLen,
	})
}

// GetDeviceStatus returns device state, preferring a live read and
// falling back to the cache.
//
// A failed live read does not flip the reachability flag; only command
// delivery does. The returned state is marked Stale when served from
// cache.
func (g *Gateway) GetDeviceStatus(ctx context.Context, deviceID string) (*CachedState, error) {
	if deviceID == "" {
		return nil, ErrInvalidDeviceID
	}

	g.mu.RLock()
	_, known := g.devices[deviceID]
	reachable := g.reachable
	g.mu.RUnlock()

	if !known {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	if reachable {
		var state State
		err := g.failures.ExecuteWithErrorHandling(ctx, g.retryCfg, failure.CategoryDeviceCommunication,
			failure.Source{Component: "gateway", Operation: "read_state", DeviceID: deviceID},
			func(ctx context.Context) error {
				s, err := g.api.ReadState(ctx, deviceID)
				if err != nil {
					return err
				}
				state = s
				return nil
			})
		if err == nil {
			g.storeState(deviceID, state)
			return &CachedState{
				DeviceID:   deviceID,
				State:      state.DeepCopy(),
				ObservedAt: g.now(),
			}, nil
		}
		g.logger.Warn("live read failed, falling back to cache", "device_id", deviceID, "error", err)
	}

	g.mu.RLock()
	cached, ok := g.cache[deviceID]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStateUnavailable, deviceID)
	}

	return &CachedState{
		DeviceID:   cached.DeviceID,
		State:      cached.State.DeepCopy(),
		ObservedAt: cached.ObservedAt,
		Stale:      true,
	}, nil
}

// OnReachabilityRestored marks the remote API reachable again and
// replays the offline queue in FIFO order.
//
// Replay preserves per-device ordering: the first failed command for a
// device halts replay for that device, leaving it and everything
// behind it queued, while other devices continue. Commands sent while
// replay is in flight queue behind their device's backlog, so replay
// loops until the queue drains or a pass delivers nothing. Replayed
// commands update the state cache on success.
//
// Returns the number of commands delivered.
func (g *Gateway) OnReachabilityRestored(ctx context.Context) int {
	g.mu.Lock()
	g.reachable = true
	queued := len(g.queue)
	g.mu.Unlock()

	g.logger.Info("remote API reachability restored", "pending_commands", queued)
	g.broadcastReachability(true)

	delivered := 0
	halted := make(map[string]bool)

	for {
		g.mu.Lock()
		pending := g.queue
		g.queue = nil
		g.mu.Unlock()

		if len(pending) == 0 {
			break
		}

		progressed := false
		var remaining []*QueuedCommand

		for _, qc := range pending {
			if halted[qc.DeviceID] {
				remaining = append(remaining, qc)
				continue
			}

			qc.Attempts++
			state, err := g.deliver(ctx, qc.DeviceID, qc.Command, "replay_command")
			if err != nil {
				g.logger.Warn("replay halted for device",
					"device_id", qc.DeviceID, "command_id", qc.ID, "error", err)
				halted[qc.DeviceID] = true
				remaining = append(remaining, qc)
				continue
			}

			g.storeState(qc.DeviceID, state)
			g.commandDelivered(qc.DeviceID)
			delivered++
			progressed = true
			g.logger.Debug("queued command replayed", "device_id", qc.DeviceID, "command_id", qc.ID)
		}

		g.mu.Lock()
		// Commands enqueued while the pass ran sit behind the survivors.
		g.queue = append(remaining, g.queue...)
		drained := len(g.queue) == len(remaining)
		g.mu.Unlock()

		if !progressed || drained {
			break
		}
	}

	return delivered
}

// QueueStatus returns a snapshot of the offline command queue.
func (g *Gateway) QueueStatus() QueueStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	commands := make([]QueuedCommand, 0, len(g.queue))
	for _, qc := range g.queue {
		cp := *qc
		cp.Command = qc.Command.DeepCopy()
		commands = append(commands, cp)
	}
	return QueueStatus{Length: len(g.queue), Cap: g.queueCap, Commands: commands}
}

// CacheStatus returns a snapshot of the last-known-state cache.
func (g *Gateway) CacheStatus() CacheStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	states := make([]CachedState, 0, len(g.cache))
	for _, cs := range g.cache {
		states = append(states, CachedState{
			DeviceID:   cs.DeviceID,
			State:      cs.State.DeepCopy(),
			ObservedAt: cs.ObservedAt,
			Stale:      true,
		})
	}
	return CacheStatus{Entries: len(states), States: states}
}

// APIStatus returns the gateway's view of remote API health.
func (g *Gateway) APIStatus() APIStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()

	status := APIStatus{
		Reachable:   g.reachable,
		QueueLength: len(g.queue),
	}
	if g.lastFailure != nil {
		t := *g.lastFailure
		status.LastFailure = &t
	}
	return status
}
