// Package registration announces the server to a service registry and keeps
// the entry alive with heartbeats. Registration is optional: a missing or
// failing registry never stops the server.
package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NERVsystems/urbanmcp/pkg/core"
)

const (
	// DefaultHeartbeatInterval is the default interval between heartbeats.
	DefaultHeartbeatInterval = 30 * time.Second
	// DefaultTimeout bounds each registry request.
	DefaultTimeout = 5 * time.Second
)

// Config holds the configuration for service registration.
type Config struct {
	RegistryURL  string
	ServiceName  string
	ServiceType  string // defaults to "mcp"
	ServiceURL   string
	HealthURL    string // defaults to ServiceURL + "/health"
	Version      string
	Capabilities []string
	Tools        []string
	Metadata     map[string]any

	HeartbeatInterval time.Duration
	Timeout           time.Duration
}

// Request is the body sent to the registry.
type Request struct {
	Name         string         `json:"name"`
	InstanceID   string         `json:"instance_id"`
	Type         string         `json:"type"`
	URL          string         `json:"url"`
	HealthURL    string         `json:"health_url"`
	Version      string         `json:"version"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Tools        []string       `json:"tools,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Response is the registry's acknowledgement.
type Response struct {
	Status     string `json:"status"`
	Name       string `json:"name"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// Client registers one server instance.
type Client struct {
	cfg        Config
	instanceID string
	logger     *slog.Logger
	httpClient *http.Client

	mu         sync.RWMutex
	registered bool
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewClient creates a registration client with a fresh instance ID.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ServiceType == "" {
		cfg.ServiceType = "mcp"
	}
	if cfg.HealthURL == "" && cfg.ServiceURL != "" {
		cfg.HealthURL = cfg.ServiceURL + "/health"
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		instanceID: uuid.NewString(),
		logger:     logger.With("component", "registration"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// InstanceID identifies this process to the registry.
func (c *Client) InstanceID() string {
	return c.instanceID
}

// Start registers immediately and then on every heartbeat until Stop or
// ctx is done. It does not block.
func (c *Client) Start(ctx context.Context) {
	if c.cfg.RegistryURL == "" {
		c.logger.Warn("service registration enabled but no registry URL configured")
		return
	}

	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.heartbeatLoop(ctx)
}

// Stop ends the heartbeat loop and deregisters.
func (c *Client) Stop(ctx context.Context) {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done

	if err := c.Deregister(ctx); err != nil {
		c.logger.Debug("deregistration failed", "error", err)
	}
}

// IsRegistered reports whether the last heartbeat succeeded.
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	defer close(c.done)

	c.heartbeat(ctx)

	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.heartbeat(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	wasRegistered := c.IsRegistered()
	resp, err := c.Register(ctx)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Debug("registration failed (registry may be unavailable)", "error", err)
		}
		return
	}
	if !wasRegistered {
		c.logger.Info("registered with service registry",
			"name", c.cfg.ServiceName,
			"instance_id", c.instanceID,
			"ttl_seconds", resp.TTLSeconds)
	}
}

// Register sends one registration or heartbeat request.
func (c *Client) Register(ctx context.Context) (*Response, error) {
	body, err := json.Marshal(Request{
		Name:         c.cfg.ServiceName,
		InstanceID:   c.instanceID,
		Type:         c.cfg.ServiceType,
		URL:          c.cfg.ServiceURL,
		HealthURL:    c.cfg.HealthURL,
		Version:      c.cfg.Version,
		Capabilities: c.cfg.Capabilities,
		Tools:        c.cfg.Tools,
		Metadata:     c.cfg.Metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal registration: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RegistryURL+"/api/register", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// A canceled heartbeat says nothing about the registry.
		if ctx.Err() == nil {
			c.setRegistered(false)
		}
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.setRegistered(false)
		return nil, core.ServiceError("registry", resp.StatusCode, string(msg))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.setRegistered(false)
		return nil, fmt.Errorf("decode registration response: %w", err)
	}
	c.setRegistered(true)
	return &out, nil
}

// Deregister removes this instance from the registry. It is a no-op when
// not registered.
func (c *Client) Deregister(ctx context.Context) error {
	if !c.IsRegistered() {
		return nil
	}
	defer c.setRegistered(false)

	u := fmt.Sprintf("%s/api/register/%s/%s", c.cfg.RegistryURL,
		url.PathEscape(c.cfg.ServiceName), url.PathEscape(c.instanceID))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return core.ServiceError("registry", resp.StatusCode, "deregistration rejected")
	}
	c.logger.Info("deregistered from service registry", "name", c.cfg.ServiceName)
	return nil
}

func (c *Client) setRegistered(registered bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registered = registered
}
