package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — имя обменника.
type Exchange string

// Queue — имя очереди.
type Queue string

// RoutingKey — ключ маршрутизации.
type RoutingKey string

const (
	ExchangeTasks       Exchange = "dozilab.tasks"
	ExchangeDeployments Exchange = "dozilab.deployments"
	ExchangeDLQ         Exchange = "dozilab.dlq"
)

const (
	QueueTasksReady       Queue = "tasks.ready"
	QueueDeploymentEvents Queue = "deployments.events"
	QueueDLQTasks         Queue = "dlq.tasks"
)

const (
	RoutingKeyReady        RoutingKey = "ready"
	RoutingKeyStateChanged RoutingKey = "state_changed"
	RoutingKeyDLQTasks     RoutingKey = "tasks"
)

type binding struct {
	queue    Queue
	key      RoutingKey
	exchange Exchange
	args     amqp.Table
}

// topology: exchanges — direct; tasks.ready уходит в DLQ при отказе обработчика.
var bindings = []binding{
	{
		queue:    QueueTasksReady,
		key:      RoutingKeyReady,
		exchange: ExchangeTasks,
		args: amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeDLQ),
			"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
		},
	},
	{queue: QueueDeploymentEvents, key: RoutingKeyStateChanged, exchange: ExchangeDeployments},
	{queue: QueueDLQTasks, key: RoutingKeyDLQTasks, exchange: ExchangeDLQ},
}

// SetupTopology объявляет exchanges, queues и bindings. Операция идемпотентна.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range []Exchange{ExchangeTasks, ExchangeDeployments, ExchangeDLQ} {
			if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex, err)
			}
		}

		for _, b := range bindings {
			if _, err := ch.QueueDeclare(string(b.queue), true, false, false, false, b.args); err != nil {
				return fmt.Errorf("declare queue %s: %w", b.queue, err)
			}
			if err := ch.QueueBind(string(b.queue), string(b.key), string(b.exchange), false, nil); err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}
		return nil
	})
}
