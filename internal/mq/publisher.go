package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/Dozilab/internal/domain"
)

// MessageType — тип сообщения.
type MessageType string

const (
	MessageTypeTaskReady    MessageType = "task.ready"
	MessageTypeStateChanged MessageType = "deployment.state_changed"
)

// Message — конверт сообщения.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// TaskReadyPayload — в очереди появилась задача.
type TaskReadyPayload struct {
	TaskID       uuid.UUID `json:"task_id"`
	DeploymentID uuid.UUID `json:"deployment_id"`
}

// StateChangedPayload — развёртывание сменило состояние.
// Содержит только то, что безопасно показывать пользователю.
type StateChangedPayload struct {
	DeploymentID uuid.UUID              `json:"deployment_id"`
	OwnerID      uuid.UUID              `json:"owner_id"`
	Revision     int64                  `json:"revision"`
	From         domain.DeploymentState `json:"from,omitempty"`
	To           domain.DeploymentState `json:"to"`
	Cause        string                 `json:"cause"`
	LastError    *domain.LastError      `json:"last_error,omitempty"`
}

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, logger: logger}
}

// NewMessage создаёт конверт с новым ID.
func NewMessage(msgType MessageType, payload any) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Publish отправляет persistent JSON-сообщение.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, key RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(ctx, string(exchange), string(key), false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msg.ID,
			Timestamp:    msg.Timestamp,
			Type:         string(msg.Type),
			Body:         body,
		})
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, key, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", key,
			"message_id", msg.ID,
			"type", msg.Type,
		)
		return nil
	})
}

// PublishTaskReady будит воркеров.
func (p *Publisher) PublishTaskReady(ctx context.Context, taskID, deploymentID uuid.UUID) error {
	msg := NewMessage(MessageTypeTaskReady, TaskReadyPayload{TaskID: taskID, DeploymentID: deploymentID})
	return p.Publish(ctx, ExchangeTasks, RoutingKeyReady, msg)
}

// DeploymentChanged публикует событие о переходе состояния.
func (p *Publisher) DeploymentChanged(ctx context.Context, d *domain.Deployment, ev *domain.DeploymentEvent) error {
	msg := NewMessage(MessageTypeStateChanged, StateChangedEvent(d, ev))
	return p.Publish(ctx, ExchangeDeployments, RoutingKeyStateChanged, msg)
}

// StateChangedEvent строит payload события перехода.
func StateChangedEvent(d *domain.Deployment, ev *domain.DeploymentEvent) StateChangedPayload {
	return StateChangedPayload{
		DeploymentID: d.ID,
		OwnerID:      d.OwnerID,
		Revision:     ev.Revision,
		From:         ev.From,
		To:           ev.To,
		Cause:        ev.Cause,
		LastError:    d.LastError,
	}
}
