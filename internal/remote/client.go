package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/ward-core/internal/gateway"
	"github.com/nerrad567/ward-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/ward-core/internal/retry"
)

// defaultResponseTimeout bounds one request/response round trip.
const defaultResponseTimeout = 5 * time.Second

// Broker is the slice of the MQTT client the transport needs.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger is the minimal logging interface the transport needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, args ...any) {}
func (noopLogger) Warn(msg string, args ...any)  {}

// request is the wire format for commands and reads.
type request struct {
	RequestID string         `json:"request_id"`
	DeviceID  string         `json:"device_id"`
	Action    string         `json:"action,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	IssuedAt  time.Time      `json:"issued_at"`
}

// response is the wire format for device replies.
type response struct {
	RequestID string         `json:"request_id"`
	Status    string         `json:"status"` // "ok" or "error"
	State     map[string]any `json:"state,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Client delivers commands and state reads over MQTT. Implements
// gateway.RemoteAPI.
type Client struct {
	broker  Broker
	qos     byte
	timeout time.Duration
	topics  mqtt.Topics

	mu      sync.Mutex
	pending map[string]chan response

	logger Logger
}

// New constructs a transport and subscribes to the response topic
// pattern. timeout bounds each request/response round trip; zero uses
// the default.
func New(broker Broker, qos byte, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = defaultResponseTimeout
	}

	c := &Client{
		broker:  broker,
		qos:     qos,
		timeout: timeout,
		pending: make(map[string]chan response),
		logger:  noopLogger{},
	}

	if err := broker.Subscribe(c.topics.AllResponses(), qos, c.handleResponse); err != nil {
		return nil, fmt.Errorf("subscribing to response topics: %w", err)
	}

	return c, nil
}

// SetLogger attaches structured logging.
func (c *Client) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// handleResponse routes a device reply to the waiting request by the
// trailing topic segment (the request ID).
func (c *Client) handleResponse(topic string, payload []byte) error {
	idx := strings.LastIndex(topic, "/")
	if idx < 0 || idx == len(topic)-1 {
		return fmt.Errorf("%w: unroutable topic %q", ErrMalformedResponse, topic)
	}
	requestID := topic[idx+1:]

	var resp response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if resp.RequestID == "" {
		resp.RequestID = requestID
	}

	c.mu.Lock()
	ch, ok := c.pending[requestID]
	c.mu.Unlock()
	if !ok {
		// Late reply for a request that already timed out.
		c.logger.Debug("dropping unmatched device response", "request_id", requestID)
		return nil
	}

	select {
	case ch <- resp:
	default:
	}
	return nil
}

// Execute delivers a command and returns the device state after it was
// applied. Implements gateway.RemoteAPI.
func (c *Client) Execute(ctx context.Context, deviceID string, cmd gateway.Command) (gateway.State, error) {
	req := request{
		DeviceID: deviceID,
		Action:   cmd.Action,
		Params:   cmd.Params,
	}
	return c.roundTrip(ctx, c.topics.Command(deviceID), req)
}

// ReadState fetches the current state of a device. Implements
// gateway.RemoteAPI.
func (c *Client) ReadState(ctx context.Context, deviceID string) (gateway.State, error) {
	req := request{DeviceID: deviceID}
	return c.roundTrip(ctx, c.topics.Read(deviceID), req)
}

// roundTrip publishes a request and waits for the matching response.
func (c *Client) roundTrip(ctx context.Context, topic string, req request) (gateway.State, error) {
	req.RequestID = "req-" + uuid.NewString()
	req.IssuedAt = time.Now().UTC()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("encoding request: %w", err))
	}

	ch := make(chan response, 1)
	c.mu.Lock()
	c.pending[req.RequestID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	if err := c.broker.Publish(topic, payload, c.qos, false); err != nil {
		return nil, fmt.Errorf("publishing request: %w", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		c.logger.Warn("device response timed out",
			"device_id", req.DeviceID, "request_id", req.RequestID, "timeout", c.timeout)
		return nil, fmt.Errorf("%w: %s after %v", ErrTimeout, req.DeviceID, c.timeout)
	case resp := <-ch:
		if resp.Status != "ok" {
			// The device understood the request and said no; retrying
			// the same request will get the same answer.
			return nil, retry.Permanent(fmt.Errorf("%w: %s", ErrRejected, resp.Error))
		}
		return gateway.State(resp.State), nil
	}
}
