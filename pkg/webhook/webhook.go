// Package webhook posts lifecycle transitions of snapshots, volumes and
// store copies to HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"gopkg.in/tomb.v2"

	"github.com/jvs-project/volsnap/pkg/logging"
)

// Headers set on every delivery.
const (
	HeaderEvent     = "X-Volsnap-Event"
	HeaderSignature = "X-Volsnap-Signature"
)

// Event is the payload posted to hooks. Name is "<machine>.<to-state>",
// for example "snapshot.BackedUp".
type Event struct {
	Name       string         `json:"event"`
	Timestamp  string         `json:"timestamp"`
	Machine    string         `json:"machine"`
	EntityID   uint64         `json:"entity_id"`
	EntityUUID string         `json:"entity_uuid,omitempty"`
	Trigger    string         `json:"trigger"`
	FromState  string         `json:"from_state"`
	ToState    string         `json:"to_state"`
	Details    map[string]any `json:"details,omitempty"`
}

// HookConfig represents a single webhook.
type HookConfig struct {
	URL    string `yaml:"url" json:"url"`
	Secret string `yaml:"secret,omitempty" json:"secret,omitempty"`
	// Events are event names, "<machine>.*" or "*".
	Events   []string      `yaml:"events" json:"events"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	Disabled bool          `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// Config represents the webhook configuration.
type Config struct {
	Hooks      []HookConfig  `yaml:"hooks,omitempty" json:"hooks,omitempty"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	QueueSize  int           `yaml:"queue_size" json:"queue_size"`
}

// DefaultConfig returns the default webhook configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		QueueSize:  100,
	}
}

// Matches reports whether hook subscribes to the event name.
func (h HookConfig) Matches(name string) bool {
	machine, _, _ := strings.Cut(name, ".")
	for _, e := range h.Events {
		if e == "*" || e == name || e == machine+".*" {
			return true
		}
	}
	return false
}

type job struct {
	event Event
	hook  HookConfig
}

// Client delivers events to the configured hooks from a background worker.
type Client struct {
	config Config
	http   *http.Client
	clock  clock.Clock
	queue  chan job
	tomb   tomb.Tomb
	once   sync.Once
	now    func() time.Time
	logger *logging.Logger
}

// NewClient starts a client for cfg.
func NewClient(cfg Config) *Client {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		clock:  clock.WallClock,
		queue:  make(chan job, cfg.QueueSize),
		now:    time.Now,
		logger: logging.WithFields(map[string]any{"component": "webhook"}),
	}
	c.tomb.Go(c.loop)
	return c
}

// Enabled reports whether any hook is configured.
func (c *Client) Enabled() bool {
	for _, h := range c.config.Hooks {
		if !h.Disabled {
			return true
		}
	}
	return false
}

func (c *Client) loop() error {
	for {
		select {
		case <-c.tomb.Dying():
			for {
				select {
				case j := <-c.queue:
					c.deliver(context.Background(), j)
				default:
					return nil
				}
			}
		case j := <-c.queue:
			c.deliver(context.Background(), j)
		}
	}
}

func (c *Client) hooksFor(name string) []HookConfig {
	var hooks []HookConfig
	for _, h := range c.config.Hooks {
		if !h.Disabled && h.Matches(name) {
			hooks = append(hooks, h)
		}
	}
	return hooks
}

func (c *Client) stamp(ev Event) Event {
	if ev.Timestamp == "" {
		ev.Timestamp = c.now().UTC().Format(time.RFC3339Nano)
	}
	return ev
}

// Send queues ev for every matching hook. It never blocks: when the queue
// is full the delivery is dropped and logged.
func (c *Client) Send(ev Event) {
	select {
	case <-c.tomb.Dying():
		c.logger.Warn("webhook client closed, dropping event", map[string]any{"event": ev.Name})
		return
	default:
	}
	ev = c.stamp(ev)
	for _, h := range c.hooksFor(ev.Name) {
		select {
		case c.queue <- job{event: ev, hook: h}:
		default:
			c.logger.Warn("webhook queue full, dropping event", map[string]any{"event": ev.Name, "url": h.URL})
		}
	}
}

// SendSync delivers ev to every matching hook before returning and reports
// the last delivery error.
func (c *Client) SendSync(ctx context.Context, ev Event) error {
	ev = c.stamp(ev)
	var lastErr error
	for _, h := range c.hooksFor(ev.Name) {
		if err := c.deliver(ctx, job{event: ev, hook: h}); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *Client) deliver(ctx context.Context, j job) error {
	payload, err := json.Marshal(j.event)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			return c.post(ctx, j.hook, j.event.Name, payload)
		},
		NotifyFunc: func(err error, attempt int) {
			c.logger.Debug("webhook delivery failed", map[string]any{"url": j.hook.URL, "attempt": attempt, "error": err.Error()})
		},
		Attempts: c.config.MaxRetries + 1,
		Delay:    c.config.RetryDelay,
		Clock:    c.clock,
		Stop:     ctx.Done(),
	})
	if err != nil {
		if retry.IsAttemptsExceeded(err) {
			err = retry.LastError(err)
		}
		c.logger.WarnErr("webhook delivery gave up", err, map[string]any{"url": j.hook.URL, "event": j.event.Name})
		return err
	}
	return nil
}

func (c *Client) post(ctx context.Context, hook HookConfig, name string, payload []byte) error {
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "volsnap-webhook/1.0")
	req.Header.Set(HeaderEvent, name)
	if hook.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(payload, hook.Secret))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// Sign returns the HMAC-SHA256 signature of payload as sent in
// HeaderSignature.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Close delivers what is queued and stops the worker. Later Sends are
// dropped.
func (c *Client) Close() error {
	c.once.Do(func() { c.tomb.Kill(nil) })
	return c.tomb.Wait()
}
