// Package messaging provides a NATS client wrapper for fan-out between
// reference-server instances. Conversation events (messages, typing, read
// confirmations) are published to per-conversation subjects so both
// participants receive them regardless of which instance holds their
// connection.
package messaging

import (
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns.
const (
	SubjectConversation = "convo" // + .<chatIdentifier>
	SubjectUser         = "user"  // + .<userID> (direct notifications)
)

// NATSClient wraps the NATS connection with helper methods for pub/sub.
type NATSClient struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           "nats://localhost:4222",
		Name:          "moviesquad-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewNATSClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewNATSClient(config NATSConfig) (*NATSClient, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &NATSClient{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given NATS subject.
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// PublishConversation publishes data to the convo.<chatIdentifier> subject.
func (c *NATSClient) PublishConversation(chatIdentifier string, data []byte) error {
	return c.Publish(SubjectConversation+"."+chatIdentifier, data)
}

// SubscribeConversation subscribes a user's connection to the
// convo.<chatIdentifier> subject. The subscription is keyed by userID so two
// users on the same server instance can follow the same conversation without
// overwriting each other; re-subscribing the same user to a different
// conversation replaces the old subscription.
func (c *NATSClient) SubscribeConversation(chatIdentifier, userID string, handler func(data []byte)) error {
	subject := SubjectConversation + "." + chatIdentifier
	key := "convosub:" + userID

	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[key]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeConversation drops a user's conversation subscription.
func (c *NATSClient) UnsubscribeConversation(userID string) error {
	return c.unsubscribe("convosub:" + userID)
}

// ConversationSubscriptions returns the number of live per-user conversation
// subscriptions on this instance.
func (c *NATSClient) ConversationSubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key := range c.subs {
		if strings.HasPrefix(key, "convosub:") {
			n++
		}
	}
	return n
}

// PublishUser publishes a direct notification to the user.<userID> subject.
func (c *NATSClient) PublishUser(userID string, data []byte) error {
	return c.Publish(SubjectUser+"."+userID, data)
}

// SubscribeUser subscribes to direct notifications for a user.
func (c *NATSClient) SubscribeUser(userID string, handler func(data []byte)) error {
	subject := SubjectUser + "." + userID
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// UnsubscribeUser drops the direct-notification subscription for a user.
func (c *NATSClient) UnsubscribeUser(userID string) error {
	return c.unsubscribe(SubjectUser + "." + userID)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *NATSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}

// unsubscribe removes and unsubscribes a stored subscription.
func (c *NATSClient) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("nats: no subscription for %s", key)
	}
	delete(c.subs, key)
	c.mu.Unlock()

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}
