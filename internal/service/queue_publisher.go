// Package service provides publishing of domain events to RabbitMQ.
// Errors are logged and returned so callers can ignore failures without
// interrupting the request flow.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	q "github.com/iliyamo/patient-records/internal/queue"
	"github.com/iliyamo/patient-records/pkg/sl"
)

// EventPublisher sends patient change events somewhere.
type EventPublisher interface {
	PublishPatientEvent(ctx context.Context, event q.PatientEvent) error
}

// NopPublisher drops every event. Used when events are disabled.
type NopPublisher struct{}

func (NopPublisher) PublishPatientEvent(context.Context, q.PatientEvent) error { return nil }

// RabbitPublisher dials the broker for every event, which keeps it free of
// connection state at the cost of a handshake per mutation.
type RabbitPublisher struct {
	URL         string
	Queue       string
	DialTimeout time.Duration
	Log         *slog.Logger
}

// PublishPatientEvent publishes event to the configured queue as a
// persistent JSON message. The queue is declared durable on every call.
func (p *RabbitPublisher) PublishPatientEvent(ctx context.Context, event q.PatientEvent) error {
	timeout := p.DialTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	conn, err := amqp.DialConfig(p.URL, amqp.Config{Dial: amqp.DefaultDial(timeout)})
	if err != nil {
		p.Log.Warn("rabbitmq: dial failed", sl.Err(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.Log.Warn("rabbitmq: channel open failed", sl.Err(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(
		p.Queue, // name
		true,    // durable
		false,   // autoDelete
		false,   // exclusive
		false,   // noWait
		nil,     // args
	); err != nil {
		p.Log.Warn("rabbitmq: queue declare failed", sl.Err(err))
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.Log.Warn("rabbitmq: marshal event failed", sl.Err(err))
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx,
		"",      // default exchange
		p.Queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		pub,
	); err != nil {
		p.Log.Warn("rabbitmq: publish failed", sl.Err(err))
		return err
	}
	return nil
}
