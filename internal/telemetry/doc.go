// Package telemetry обеспечивает наблюдаемость движка развёртываний.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики исполнителя, автомата и адаптера OpenStack
//
// Воркер экспортирует метрики на /metrics.
// В логи никогда не попадают ответы OpenStack и значения секретов.
package telemetry
