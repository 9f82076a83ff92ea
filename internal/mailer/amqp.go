package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

// AMQPMailer hands rendered messages to an external delivery relay
// over RabbitMQ instead of speaking SMTP itself.
type AMQPMailer struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
	log   *slog.Logger
}

type relayMessage struct {
	To          string            `json:"to"`
	Subject     string            `json:"subject"`
	HTMLBody    string            `json:"html_body"`
	FromName    string            `json:"from_name"`
	FromEmail   string            `json:"from_email"`
	Attachments []relayAttachment `json:"attachments,omitempty"`
}

type relayAttachment struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

// NewAMQPMailer connects and declares the durable relay queue.
func NewAMQPMailer(url, queueName string, logger *slog.Logger) (*AMQPMailer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queueName, err)
	}

	return &AMQPMailer{
		conn:  conn,
		ch:    ch,
		queue: queueName,
		log:   logger.With("component", "amqp-mailer"),
	}, nil
}

func (m *AMQPMailer) Dispatch(_ context.Context, msg OutboundEmail) (*Result, error) {
	attachments := make([]relayAttachment, 0, len(msg.Attachments))
	for _, a := range msg.Attachments {
		attachments = append(attachments, relayAttachment{
			Filename: a.Filename,
			Content:  a.Content,
			Encoding: a.Encoding,
		})
	}

	body, err := json.Marshal(relayMessage{
		To:          msg.To,
		Subject:     msg.Subject,
		HTMLBody:    msg.HTMLBody,
		FromName:    msg.FromName,
		FromEmail:   msg.FromEmail,
		Attachments: attachments,
	})
	if err != nil {
		return nil, fmt.Errorf("encode relay message: %w", err)
	}

	messageID := uuid.NewString()
	err = m.ch.Publish("", m.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Body:         body,
	})
	if err != nil {
		return nil, fmt.Errorf("publish to relay: %w", err)
	}

	return &Result{PreviewURL: "relay://" + m.queue + "/" + messageID}, nil
}

func (m *AMQPMailer) Close() error {
	if err := m.ch.Close(); err != nil {
		m.conn.Close()
		return err
	}
	return m.conn.Close()
}

var _ Mailer = (*AMQPMailer)(nil)
