package main

import (
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// NATSMessage represents a message received from NATS
type NATSMessage struct {
	Subject string
	Reply   string
	Data    []byte
}

// NATSClient wraps a NATS connection
type NATSClient struct {
	conn   *nats.Conn
	config NATSConfig
	subs   []*nats.Subscription
}

// NewNATSClient connects to NATS. onStatus is called with the connection
// state whenever it changes.
func NewNATSClient(cfg NATSConfig, onStatus func(connected bool)) (*NATSClient, error) {
	if onStatus == nil {
		onStatus = func(bool) {}
	}

	opts := []nats.Option{
		nats.Name("trustvault-parent"),
		// Start even while the broker is down; health reports the outage
		nats.RetryOnFailedConnect(true),
		nats.ReconnectWait(time.Duration(cfg.ReconnectWait) * time.Millisecond),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ConnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS connected")
			onStatus(true)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
			onStatus(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
			onStatus(true)
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			log.Info().Msg("NATS connection closed")
			onStatus(false)
		}),
	}

	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err == nil {
			opts = append(opts, nats.UserCredentials(cfg.CredentialsFile))
		} else {
			log.Warn().Str("file", cfg.CredentialsFile).Msg("NATS credentials file not found, connecting without it")
		}
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	onStatus(conn.IsConnected())

	return &NATSClient{
		conn:   conn,
		config: cfg,
	}, nil
}

// QueueSubscribe subscribes to subject in queue group and sends messages to msgChan.
// An empty queue subscribes without a group.
func (c *NATSClient) QueueSubscribe(subject, queue string, msgChan chan *NATSMessage) error {
	handler := func(msg *nats.Msg) {
		select {
		case msgChan <- &NATSMessage{
			Subject: msg.Subject,
			Reply:   msg.Reply,
			Data:    msg.Data,
		}:
		default:
			log.Warn().Str("subject", msg.Subject).Msg("Message channel full, dropping message")
		}
	}

	var sub *nats.Subscription
	var err error
	if queue == "" {
		sub, err = c.conn.Subscribe(subject, handler)
	} else {
		sub, err = c.conn.QueueSubscribe(subject, queue, handler)
	}
	if err != nil {
		return err
	}

	c.subs = append(c.subs, sub)
	log.Debug().Str("subject", subject).Str("queue", queue).Msg("Subscribed to NATS")
	return nil
}

// Publish publishes a message to a subject
func (c *NATSClient) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// Close unsubscribes, flushes buffered replies and closes the NATS connection.
// Messages still queued for a subscription are discarded.
func (c *NATSClient) Close() {
	for _, sub := range c.subs {
		sub.Unsubscribe()
	}
	if c.conn.IsConnected() {
		if err := c.conn.FlushTimeout(time.Second); err != nil {
			log.Warn().Err(err).Msg("Failed to flush NATS replies")
		}
	}
	c.conn.Close()
	c.subs = nil
}

// IsConnected returns true if connected to NATS
func (c *NATSClient) IsConnected() bool {
	return c.conn.IsConnected()
}

// Status returns the connection status
func (c *NATSClient) Status() string {
	switch c.conn.Status() {
	case nats.CONNECTED:
		return "connected"
	case nats.CONNECTING:
		return "connecting"
	case nats.RECONNECTING:
		return "reconnecting"
	case nats.DISCONNECTED:
		return "disconnected"
	case nats.CLOSED:
		return "closed"
	default:
		return "unknown"
	}
}
