// Package amqp moves scan jobs between the server and the OCR worker
// over RabbitMQ: one durable direct exchange, a job queue consumed by
// the worker and a results queue consumed by the server.
package amqp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	jobQueue     string
	resultQueue  string
}

func NewClient(url, exchangeName, jobQueue, resultQueue string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		jobQueue:     jobQueue,
		resultQueue:  resultQueue,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.jobQueue, c.resultQueue} {
		_, err = c.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key matches the queue name on a direct exchange.
		err = c.channel.QueueBind(queue, queue, c.exchangeName, false, nil)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent, // survive broker restarts
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// PublishScanJob enqueues a recognition job for the worker.
func (c *Client) PublishScanJob(ctx context.Context, msg *ScanJobMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := c.publish(ctx, c.jobQueue, body); err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	slog.InfoContext(ctx, "Published scan job",
		"job_id", msg.JobID,
		"language", msg.Language,
		"image_bytes", len(msg.Image))
	return nil
}

// PublishScanProgress reports a recognition progress event.
func (c *Client) PublishScanProgress(ctx context.Context, jobID, phase string, progress float64) error {
	msg := &ScanEventMessage{
		Type:      EventProgress,
		JobID:     jobID,
		Phase:     phase,
		Progress:  progress,
		Timestamp: time.Now(),
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	if err := c.publish(ctx, c.resultQueue, body); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	return nil
}

// PublishScanResult reports the recognized text or a failure.
func (c *Client) PublishScanResult(ctx context.Context, jobID, text, errMsg string) error {
	msg := &ScanEventMessage{
		Type:      EventResult,
		JobID:     jobID,
		Text:      text,
		Error:     errMsg,
		Timestamp: time.Now(),
	}
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	if err := c.publish(ctx, c.resultQueue, body); err != nil {
		return fmt.Errorf("publish result: %w", err)
	}
	slog.InfoContext(ctx, "Published scan result",
		"job_id", jobID,
		"failed", errMsg != "")
	return nil
}

// ConsumeScanJobs delivers job messages to the handler with manual
// acks. A handler error requeues the delivery; an undecodable message
// is dropped.
func (c *Client) ConsumeScanJobs(ctx context.Context, handler func(context.Context, *ScanJobMessage) error) error {
	msgs, err := c.channel.Consume(
		c.jobQueue, // queue
		"",         // consumer
		false,      // auto-ack (we want manual ack)
		false,      // exclusive
		false,      // no-local
		false,      // no-wait
		nil,        // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming scan jobs", "queue", c.jobQueue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping job consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := ScanJobMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal job", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}

			if err := handler(ctx, msg); err != nil {
				slog.ErrorContext(ctx, "Failed to handle job",
					"error", err, "job_id", msg.JobID)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

// ConsumeScanEvents delivers progress and result events to the handler.
// Events are fire-and-forget for the worker, so failed handling drops
// the message instead of requeueing it.
func (c *Client) ConsumeScanEvents(ctx context.Context, handler func(*ScanEventMessage)) error {
	msgs, err := c.channel.Consume(c.resultQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming scan events", "queue", c.resultQueue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping event consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			msg, err := ScanEventMessageFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal event", "error", err)
				delivery.Nack(false, false)
				continue
			}

			handler(msg)
			delivery.Ack(false)
		}
	}
}

// exponentialBackoff returns the wait before reconnect attempt n,
// capped at 30 seconds.
func exponentialBackoff(attempt int) time.Duration {
	if attempt > 4 {
		return 30 * time.Second
	}
	return time.Second << attempt
}

// isConnectionError reports whether err looks like a broken broker
// connection worth redialing for.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "connection") || strings.Contains(s, "eof") || strings.Contains(s, "channel/connection is not open")
}

// ConsumeScanJobsWithRetry keeps a job consumer alive across broker
// hiccups, redialing with exponential backoff on connection errors.
func ConsumeScanJobsWithRetry(ctx context.Context, url, exchange, jobQueue, resultQueue string, handler func(context.Context, *ScanJobMessage) error) error {
	attempt := 0
	for {
		client, err := NewClient(url, exchange, jobQueue, resultQueue)
		if err == nil {
			attempt = 0
			err = client.ConsumeScanJobs(ctx, handler)
			client.Close()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !isConnectionError(err) {
			return err
		}

		wait := exponentialBackoff(attempt)
		attempt++
		slog.WarnContext(ctx, "AMQP consumer lost, reconnecting",
			"error", err, "wait", wait, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
