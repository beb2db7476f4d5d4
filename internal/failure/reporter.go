package failure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/ward-core/internal/retry"
)

// Category identifies the subsystem an error originated from.
type Category string

const (
	CategoryDeviceCommunication Category = "device_communication"
	CategoryCloudAPI            Category = "cloud_api"
	CategoryInference           Category = "inference"
	CategoryValidation          Category = "validation"
	CategoryPersistence         Category = "persistence"
	CategoryInternal            Category = "internal"
)

// Severity grades how urgent a failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities for threshold comparison.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// ParseSeverity maps a config string to a Severity, defaulting to high
// for unrecognised values so misconfiguration errs on the loud side.
func ParseSeverity(s string) Severity {
	sev := Severity(s)
	if _, ok := severityRank[sev]; ok {
		return sev
	}
	return SeverityHigh
}

// Source describes where an error occurred.
type Source struct {
	Component string
	Operation string
	DeviceID  string
}

// Record is one captured failure.
type Record struct {
	Category   Category  `json:"category"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	Component  string    `json:"component,omitempty"`
	Operation  string    `json:"operation,omitempty"`
	DeviceID   string    `json:"device_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier receives failures at or above the notification threshold.
// Implementations must not block; the reporter calls it while holding
// no locks but from request paths.
type Notifier interface {
	Notify(severity Severity, message string, deviceID string)
}

// Logger is the minimal logging interface the reporter needs.
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

// Options tunes the reporter. Zero values fall back to safe defaults.
type Options struct {
	// RecordCap bounds the in-memory failure buffer.
	RecordCap int

	// NotifyThreshold is the minimum severity forwarded to the Notifier.
	NotifyThreshold Severity

	// NotifyCooldown suppresses repeat notifications from the same
	// category+device source inside the window.
	NotifyCooldown time.Duration

	// FeatureRecovery is how long a feature stays disabled after its
	// primary path fails before it is retried automatically.
	FeatureRecovery time.Duration
}

const (
	defaultRecordCap       = 500
	defaultNotifyCooldown  = 5 * time.Minute
	defaultFeatureRecovery = 10 * time.Minute
)

// Reporter categorises, records, and escalates failures.
type Reporter struct {
	mu sync.Mutex

	records []Record // ring buffer, oldest at head
	head    int
	size    int

	threshold    Severity
	cooldown     time.Duration
	lastNotified map[string]time.Time

	recovery time.Duration
	features map[string]*featureState
	cached   map[string]any

	policy   *retry.Policy
	notifier Notifier
	logger   Logger
	now      func() time.Time
}

// New constructs a Reporter.
func New(opts Options) *Reporter {
	if opts.RecordCap <= 0 {
		opts.RecordCap = defaultRecordCap
	}
	if opts.NotifyThreshold == "" {
		opts.NotifyThreshold = SeverityHigh
	}
	if opts.NotifyCooldown <= 0 {
		opts.NotifyCooldown = defaultNotifyCooldown
	}
	if opts.FeatureRecovery <= 0 {
		opts.FeatureRecovery = defaultFeatureRecovery
	}

	return &Reporter{
		records:      make([]Record, opts.RecordCap),
		threshold:    opts.NotifyThreshold,
		cooldown:     opts.NotifyCooldown,
		lastNotified: make(map[string]time.Time),
		recovery:     opts.FeatureRecovery,
		features:     make(map[string]*featureState),
		cached:       make(map[string]any),
		policy:       retry.New(),
		logger:       noopLogger{},
		now:          time.Now,
	}
}

// SetLogger attaches structured logging. The logger also reaches the
// embedded retry policy so every failed attempt is logged with its
// attempt number, not just the final exhaustion.
func (r *Reporter) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
		r.policy.SetLogger(logger)
	}
}

// SetNotifier attaches the downstream notification channel.
func (r *Reporter) SetNotifier(n Notifier) {
	r.notifier = n
}

// HandleError records a failure, logs it at a level matching its
// severity, and notifies downstream if the severity clears the
// threshold and the source is not in its cooldown window.
func (r *Reporter) HandleError(category Category, severity Severity, src Source, err error) {
	if err == nil {
		return
	}

	now := r.now()
	rec := Record{
		Category:   category,
		Severity:   severity,
		Message:    err.Error(),
		Component:  src.Component,
		Operation:  src.Operation,
		DeviceID:   src.DeviceID,
		OccurredAt: now,
	}

	r.mu.Lock()
	r.push(rec)
	shouldNotify := r.shouldNotifyLocked(category, src.DeviceID, severity, now)
	r.mu.Unlock()

	args := []any{
		"category", string(category),
		"severity", string(severity),
		"component", src.Component,
		"operation", src.Operation,
		"error", err,
	}
	if src.DeviceID != "" {
		args = append(args, "device_id", src.DeviceID)
	}

	switch severity {
	case SeverityLow:
		r.logger.Debug("failure recorded", args...)
	case SeverityMedium:
		r.logger.Warn("failure recorded", args...)
	default:
		r.logger.Error("failure recorded", args...)
	}

	if shouldNotify && r.notifier != nil {
		r.notifier.Notify(severity, rec.Message, src.DeviceID)
	}
}

// push appends to the ring buffer, evicting the oldest record when full.
// Caller must hold r.mu.
func (r *Reporter) push(rec Record) {
	idx := (r.head + r.size) % len(r.records)
	r.records[idx] = rec
	if r.size < len(r.records) {
		r.size++
	} else {
		r.head = (r.head + 1) % len(r.records)
	}
}

// shouldNotifyLocked applies the threshold and per-source cooldown.
// Caller must hold r.mu.
func (r *Reporter) shouldNotifyLocked(category Category, deviceID string, severity Severity, now time.Time) bool {
	if severityRank[severity] < severityRank[r.threshold] {
		return false
	}
	key := fmt.Sprintf("%s|%s", category, deviceID)
	if last, ok := r.lastNotified[key]; ok && now.Sub(last) < r.cooldown {
		return false
	}
	r.lastNotified[key] = now
	return true
}

// Records returns captured failures, newest first.
func (r *Reporter) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, r.size)
	for i := 0; i < r.size; i++ {
		// Walk backwards from the newest entry.
		idx := (r.head + r.size - 1 - i) % len(r.records)
		out[i] = r.records[idx]
	}
	return out
}

// RecordCount returns the number of buffered failures.
func (r *Reporter) RecordCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// ExecuteWithErrorHandling runs op through the retry policy and, when
// the attempt budget is spent, classifies and records the failure
// before returning it. Permanent errors are recorded as validation
// failures at low severity.
func (r *Reporter) ExecuteWithErrorHandling(ctx context.Context, cfg retry.Config, category Category, src Source, op func(ctx context.Context) error) error {
	err := r.policy.Execute(ctx, cfg, op)
	if err == nil {
		return nil
	}

	switch {
	case retry.IsPermanent(err):
		r.HandleError(CategoryValidation, SeverityLow, src, err)
	case errors.Is(err, retry.ErrExhausted):
		r.HandleError(category, SeverityHigh, src, err)
	default:
		// Context cancellation or shutdown; worth a record but quiet.
		r.HandleError(category, SeverityLow, src, err)
	}
	return err
}
