// Package messaging publishes analysis lifecycle events over AMQP so
// downstream consumers (researcher dashboards, data pipelines) learn about
// completed analyses without polling the API.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"gaze-engine/pkg/analysis"
	"gaze-engine/pkg/metrics"
)

// AMQPConfig holds AMQP client configuration
type AMQPConfig struct {
	URL          string
	QueueName    string
	ExchangeName string
	RoutingKey   string
	Durable      bool
	AutoDelete   bool
}

// AMQPClient handles the AMQP connection and event publishing. It implements
// analysis.EventPublisher.
type AMQPClient struct {
	logger    *logrus.Logger
	config    AMQPConfig
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	connMutex sync.RWMutex
	stopChan  chan struct{}
}

// NewAMQPClient creates a new AMQP client
func NewAMQPClient(logger *logrus.Logger, config AMQPConfig) *AMQPClient {
	if config.RoutingKey == "" {
		config.RoutingKey = config.QueueName
	}
	config.Durable = true
	config.AutoDelete = false

	return &AMQPClient{
		logger:   logger,
		config:   config,
		stopChan: make(chan struct{}),
	}
}

// Connect establishes a connection to the AMQP server
func (c *AMQPClient) Connect() error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.connected {
		return nil
	}

	if c.config.URL == "" || c.config.QueueName == "" {
		c.logger.Warn("AMQP_URL or AMQP_QUEUE_NAME not set, event publishing will be disabled")
		return fmt.Errorf("AMQP URL or queue name not configured")
	}

	// Dial in a goroutine so a stalled broker cannot hang startup
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
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
			return
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
		c.recordConnectionError()
		return fmt.Errorf("connection to AMQP server timed out after 5 seconds")
	}

	if err != nil {
		c.recordConnectionError()
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	c.conn = conn

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		c.recordConnectionError()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}
	c.channel = channel

	_, err = channel.QueueDeclare(
		c.config.QueueName,
		c.config.Durable,
		c.config.AutoDelete,
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		channel.Close()
		conn.Close()
		c.recordConnectionError()
		return fmt.Errorf("failed to declare AMQP queue: %w", err)
	}

	c.connected = true
	if metrics.AMQPConnectionStatus != nil {
		metrics.AMQPConnectionStatus.Set(1)
	}
	c.logger.WithFields(logrus.Fields{
		"url":   c.config.URL,
		"queue": c.config.QueueName,
	}).Info("Connected to AMQP server")

	// Fresh stop channel in case this is a reconnect
	c.stopChan = make(chan struct{})
	go c.monitorConnection()

	return nil
}

// Disconnect closes the AMQP connection
func (c *AMQPClient) Disconnect() {
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
	if metrics.AMQPConnectionStatus != nil {
		metrics.AMQPConnectionStatus.Set(0)
	}
	c.logger.Info("Disconnected from AMQP server")
}

// IsConnected returns the connection status
func (c *AMQPClient) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.connected
}

// PublishAnalysisEvent publishes an analysis-completed event to the queue.
// A broker problem must never take down the analysis pipeline, so panics are
// recovered and publishing is bounded by a short timeout.
func (c *AMQPClient) PublishAnalysisEvent(ctx context.Context, event analysis.AnalysisEvent) error {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithFields(logrus.Fields{
				"analysis_id": event.AnalysisID,
				"recover":     r,
			}).Error("Recovered from panic while publishing analysis event")
		}
	}()

	if !c.IsConnected() {
		c.recordPublish("error")
		return fmt.Errorf("not connected to AMQP server")
	}

	body, err := json.Marshal(event)
	if err != nil {
		c.recordPublish("error")
		return fmt.Errorf("failed to marshal analysis event: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	publishChan := make(chan error, 1)
	go func() {
		c.connMutex.RLock()
		defer c.connMutex.RUnlock()

		if !c.connected || c.channel == nil {
			select {
			case <-pubCtx.Done():
			case publishChan <- fmt.Errorf("lost AMQP connection before publishing"):
			}
			return
		}

		err := c.channel.Publish(
			c.config.ExchangeName,
			c.config.RoutingKey,
			false, // Mandatory
			false, // Immediate
			amqp.Publishing{
				ContentType:  "application/json",
				Body:         body,
				DeliveryMode: amqp.Persistent,
				Timestamp:    time.Now(),
				Type:         event.EventType,
				// Expire undelivered events so a dead consumer cannot
				// grow the queue without bound
				Expiration: "43200000", // 12 hours in milliseconds
			},
		)

		select {
		case <-pubCtx.Done():
		case publishChan <- err:
		}
	}()

	select {
	case err := <-publishChan:
		if err != nil {
			c.recordPublish("error")
			return fmt.Errorf("failed to publish analysis event: %w", err)
		}
	case <-pubCtx.Done():
		c.recordPublish("error")
		return fmt.Errorf("publishing analysis event timed out")
	}

	c.recordPublish("success")
	c.logger.WithFields(logrus.Fields{
		"analysis_id": event.AnalysisID,
		"session_id":  event.SessionID,
	}).Debug("Published analysis event")
	return nil
}

// monitorConnection watches for connection loss and reconnects with backoff
func (c *AMQPClient) monitorConnection() {
	closeChan := make(chan *amqp.Error)

	c.connMutex.RLock()
	if c.conn != nil {
		c.conn.NotifyClose(closeChan)
	}
	c.connMutex.RUnlock()

	select {
	case <-c.stopChan:
		return
	case closeErr := <-closeChan:
		c.connMutex.Lock()
		c.connected = false
		c.connMutex.Unlock()
		if metrics.AMQPConnectionStatus != nil {
			metrics.AMQPConnectionStatus.Set(0)
		}

		c.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")

		for attempt := 1; attempt <= 10; attempt++ {
			c.logger.WithField("attempt", attempt).Info("Reconnecting to AMQP server")

			// A successful Connect starts a fresh monitor; this one is done
			// either way because closeChan delivers nothing further.
			err := c.Connect()
			if err == nil {
				c.logger.Info("Successfully reconnected to AMQP server")
				return
			}

			c.logger.WithError(err).WithField("attempt", attempt).Error("Failed to reconnect to AMQP server")

			// Exponential backoff capped at 30 seconds
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			time.Sleep(backoff)
		}

		c.logger.Error("Giving up on AMQP reconnection after 10 attempts")
	}
}

func (c *AMQPClient) recordPublish(status string) {
	if metrics.AMQPPublishedMessages != nil {
		metrics.AMQPPublishedMessages.WithLabelValues(c.config.QueueName, status).Inc()
	}
}

func (c *AMQPClient) recordConnectionError() {
	if metrics.AMQPConnectionErrors != nil {
		metrics.AMQPConnectionErrors.WithLabelValues("connect").Inc()
	}
}
