// Package messaging publishes aggregated measurements to an AMQP queue for
// downstream consumers (mapping, sensor fusion, recording).
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"echoloc-core/pkg/aggregate"
	"echoloc-core/pkg/config"
	"echoloc-core/pkg/metrics"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"
)

const (
	connectTimeout = 5 * time.Second
	setupTimeout   = 3 * time.Second
	publishTimeout = 200 * time.Millisecond

	reconnectDelay = 5 * time.Second
)

// Client handles the AMQP connection and measurement publishing. Publishing
// is best-effort: a broker outage must never stall the ranging loop.
type Client struct {
	logger *logrus.Logger
	config config.MessagingConfig

	connMutex sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	stopChan  chan struct{}
}

// NewClient creates an AMQP client. An empty URL disables publishing; every
// method is then a no-op, so callers need no separate enabled path.
func NewClient(logger *logrus.Logger, cfg config.MessagingConfig) *Client {
	return &Client{
		logger:   logger,
		config:   cfg,
		stopChan: make(chan struct{}),
	}
}

// Enabled reports whether a broker URL is configured.
func (c *Client) Enabled() bool {
	return c.config.URL != ""
}

// Connect establishes the connection and declares the measurement queue.
// Idempotent while connected.
func (c *Client) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}
	if !c.Enabled() {
		c.logger.Debug("AMQP URL not set, measurement publishing disabled")
		return fmt.Errorf("AMQP URL not configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	connChan := make(chan struct {
		conn *amqp.Connection
		err  error
	}, 1)

	go func() {
		conn, err := amqp.Dial(c.config.URL)
		select {
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		case connChan <- struct {
			conn *amqp.Connection
			err  error
		}{conn, err}:
		}
	}()

	var conn *amqp.Connection
	var err error
	select {
	case result := <-connChan:
		conn = result.conn
		err = result.err
	case <-ctx.Done():
		return fmt.Errorf("connection to AMQP server timed out after %s", connectTimeout)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := c.openChannel(conn)
	if err != nil {
		conn.Close()
		return err
	}

	if _, err := channel.QueueDeclare(
		c.config.QueueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	c.conn = conn
	c.channel = channel
	c.connected = true
	c.stopChan = make(chan struct{})

	c.logger.WithFields(logrus.Fields{
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	go c.monitorConnection()

	return nil
}

func (c *Client) openChannel(conn *amqp.Connection) (*amqp.Channel, error) {
	channelChan := make(chan struct {
		channel *amqp.Channel
		err     error
	}, 1)

	go func() {
		channel, err := conn.Channel()
		channelChan <- struct {
			channel *amqp.Channel
			err     error
		}{channel, err}
	}()

	select {
	case result := <-channelChan:
		if result.err != nil {
			return nil, fmt.Errorf("failed to open AMQP channel: %w", result.err)
		}
		return result.channel, nil
	case <-time.After(setupTimeout):
		return nil, fmt.Errorf("channel creation timed out after %s", setupTimeout)
	}
}

// Disconnect closes the AMQP connection.
func (c *Client) Disconnect() {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.connected {
		return
	}

	close(c.stopChan)

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}

	c.connected = false
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status.
func (c *Client) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishMeasurement publishes one aggregated measurement to the queue.
// Returns quickly whether or not the broker cooperates; the ranging loop
// must not block on messaging.
func (c *Client) PublishMeasurement(measurement aggregate.AggregatedMeasurement) error {
	if !c.Enabled() {
		return nil
	}
	if !c.IsConnected() {
		err := fmt.Errorf("not connected to AMQP server")
		metrics.RecordPublish(err)
		return err
	}

	body, err := json.Marshal(measurement)
	if err != nil {
		metrics.RecordPublish(err)
		return fmt.Errorf("failed to marshal measurement: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		c.connMutex.RLock()
		defer c.connMutex.RUnlock()

		if !c.connected || c.channel == nil {
			publishChan <- fmt.Errorf("lost AMQP connection before publishing")
			return
		}

		publishChan <- c.channel.Publish(
			"", // default exchange
			c.config.QueueName,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    measurement.Timestamp,
				Body:         body,
			},
		)
	}()

	select {
	case err = <-publishChan:
	case <-ctx.Done():
		err = fmt.Errorf("publishing measurement timed out after %s", publishTimeout)
	}

	metrics.RecordPublish(err)
	if err != nil {
		return err
	}

	c.logger.WithFields(logrus.Fields{
		"distance_meters": measurement.DistanceMeters,
		"reliable":        measurement.IsReliable,
		"sample_count":    measurement.SampleCount,
	}).Debug("Measurement published")

	return nil
}

// monitorConnection watches for broker-side closes and reconnects with a
// fixed backoff until Disconnect.
func (c *Client) monitorConnection() {
	c.connMutex.RLock()
	closeChan := c.conn.NotifyClose(make(chan *amqp.Error, 1))
	stopChan := c.stopChan
	c.connMutex.RUnlock()

	select {
	case <-stopChan:
		return
	case closeErr := <-closeChan:
		if closeErr == nil {
			return
		}
		c.logger.WithError(closeErr).Warn("AMQP connection closed, will reconnect")
	}

	c.connMutex.Lock()
	c.connected = false
	c.connMutex.Unlock()

	for {
		select {
		case <-stopChan:
			return
		case <-time.After(reconnectDelay):
		}

		if err := c.Connect(); err != nil {
			c.logger.WithError(err).Warn("AMQP reconnect failed")
			continue
		}
		return
	}
}
