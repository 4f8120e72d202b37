// Package mq — RabbitMQ-транспорт движка развёртываний.
//
// Очередь задач живёт в PostgreSQL; RabbitMQ только будит воркеров
// и разносит события о смене состояния развёртываний.
//
// Структура:
//   - connection.go — соединение с автоматическим переподключением
//   - topology.go   — exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений
//
// Типы сообщений:
//   - task.ready                — в очереди появилась задача
//   - deployment.state_changed  — развёртывание перешло в новое состояние
package mq
