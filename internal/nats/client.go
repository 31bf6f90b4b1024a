package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"

	"authcore/internal/models"
)

// Event types
const (
	EventTenantCreated = "tenant.created"
	EventTenantUpdated = "tenant.updated"
	EventTenantDeleted = "tenant.deleted"
)

// TenantEvent is published on every tenant lifecycle change so downstream
// services (routing, billing, audit) can track the catalog.
type TenantEvent struct {
	EventType           string    `json:"event_type"`
	ConnectionURIDomain string    `json:"connection_uri_domain"`
	AppID               string    `json:"app_id"`
	TenantID            string    `json:"tenant_id"`
	UserPoolID          string    `json:"user_pool_id,omitempty"`
	Timestamp           time.Time `json:"timestamp"`
}

func eventFromIdentifier(eventType string, id models.TenantIdentifier) *TenantEvent {
	return &TenantEvent{
		EventType:           eventType,
		ConnectionURIDomain: id.ConnectionURIDomain,
		AppID:               id.AppID,
		TenantID:            id.TenantID,
		Timestamp:           time.Now().UTC(),
	}
}

// Client wraps the NATS connection
type Client struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Config holds NATS connection configuration
type Config struct {
	URL string
}

// DefaultConfig returns the default NATS configuration
func DefaultConfig() *Config {
	url := os.Getenv("NATS_URL")
	if url == "" {
		url = "nats://nats.nats.svc.cluster.local:4222"
	}
	return &Config{
		URL: url,
	}
}

// NewClient creates a new NATS client
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	log.Printf("[NATS] Connecting to %s", cfg.URL)

	// Connect with retry options - production-ready settings
	opts := []nats.Option{
		nats.Name("authcore"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1), // Unlimited reconnects for production resilience
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024), // 8MB buffer for messages during reconnect
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Printf("[NATS] Disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[NATS] Reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Printf("[NATS] Error: %v", err)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Printf("[NATS] Connection closed")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	// Create JetStream context for persistent messaging
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	// Ensure the tenant events stream exists
	// Using LimitsPolicy to allow multiple consumers
	_, err = js.AddStream(&nats.StreamConfig{
		Name:        "TENANT_EVENTS",
		Description: "Stream for tenant lifecycle events",
		Subjects:    []string{"tenant.>"},
		Storage:     nats.FileStorage,
		Retention:   nats.LimitsPolicy,
		MaxAge:      24 * time.Hour * 7, // Keep messages for 7 days
		MaxMsgs:     100000,
		Discard:     nats.DiscardOld,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		log.Printf("[NATS] Warning: Could not create stream (may already exist): %v", err)
	}

	log.Printf("[NATS] Connected successfully to %s", cfg.URL)

	return &Client{
		conn: conn,
		js:   js,
	}, nil
}

// Close closes the NATS connection
func (c *Client) Close() {
	if c != nil && c.conn != nil {
		c.conn.Close()
	}
}

// IsConnected reports whether the NATS connection is currently up.
func (c *Client) IsConnected() bool {
	return c != nil && c.conn != nil && c.conn.IsConnected()
}

// PublishTenantCreated publishes a tenant created event.
func (c *Client) PublishTenantCreated(ctx context.Context, id models.TenantIdentifier, userPoolID string) error {
	event := eventFromIdentifier(EventTenantCreated, id)
	event.UserPoolID = userPoolID
	return c.publish(ctx, EventTenantCreated, event)
}

// PublishTenantUpdated publishes a tenant updated event.
func (c *Client) PublishTenantUpdated(ctx context.Context, id models.TenantIdentifier, userPoolID string) error {
	event := eventFromIdentifier(EventTenantUpdated, id)
	event.UserPoolID = userPoolID
	return c.publish(ctx, EventTenantUpdated, event)
}

// PublishTenantDeleted publishes a tenant deleted event.
func (c *Client) PublishTenantDeleted(ctx context.Context, id models.TenantIdentifier) error {
	return c.publish(ctx, EventTenantDeleted, eventFromIdentifier(EventTenantDeleted, id))
}

// publish sends an event through JetStream with bounded retry.
func (c *Client) publish(ctx context.Context, subject string, event *TenantEvent) error {
	if c == nil || c.js == nil {
		return fmt.Errorf("NATS client not initialized")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var ack *nats.PubAck
	maxRetries := 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		ack, err = c.js.Publish(subject, data)
		if err == nil {
			break
		}
		log.Printf("[NATS] Attempt %d/%d: Failed to publish %s event: %v", attempt, maxRetries, subject, err)
		if attempt < maxRetries {
			// Exponential backoff: 1s, 2s, 4s
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-ctx.Done():
				return fmt.Errorf("context cancelled while retrying publish: %w", ctx.Err())
			case <-time.After(backoff):
				continue
			}
		}
	}
	if err != nil {
		return fmt.Errorf("failed to publish event after %d attempts: %w", maxRetries, err)
	}

	log.Printf("[NATS] Published %s event for tenant (%s, %s, %s) (seq: %d)",
		subject, event.ConnectionURIDomain, event.AppID, event.TenantID, ack.Sequence)
	return nil
}
