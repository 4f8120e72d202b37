package openstack

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shaiso/Dozilab/internal/domain"
	"github.com/shaiso/Dozilab/internal/telemetry"
)

// Значения по умолчанию для circuit breaker.
const (
	DefaultBreakerFailures = 5
	DefaultBreakerTimeout  = 30 * time.Second
)

// BreakerConfig — параметры circuit breaker.
type BreakerConfig struct {
	// Failures — сколько транзиентных ошибок подряд открывают breaker.
	Failures uint32

	// Timeout — сколько breaker остаётся открытым.
	Timeout time.Duration
}

// Client — адаптер OpenStack для исполнителя и проверки квот.
type Client struct {
	backend Backend
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewClient оборачивает backend нормализацией ошибок и circuit breaker.
func NewClient(backend Backend, bc BreakerConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if bc.Failures == 0 {
		bc.Failures = DefaultBreakerFailures
	}
	if bc.Timeout <= 0 {
		bc.Timeout = DefaultBreakerTimeout
	}

	settings := gobreaker.Settings{
		Name:        "openstack",
		MaxRequests: 1,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.Failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		// Отказ запроса по существу (400, 404, квота) говорит, что облако отвечает.
		IsSuccessful: func(err error) bool {
			return !isTransient(err)
		},
	}

	return &Client{
		backend: backend,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// call выполняет запрос через breaker и возвращает исходную ошибку транспорта.
func (c *Client) call(op string, fn func() (any, error)) (any, error) {
	res, err := c.breaker.Execute(fn)

	result := "ok"
	switch {
	case err == nil:
	case isNotFound(err):
		result = "not_found"
	case isTransient(err):
		result = "transient"
	default:
		result = "fatal"
	}
	telemetry.AdapterCalls.WithLabelValues(op, result).Inc()

	return res, err
}

// CreateStack создаёт стек и возвращает его ID.
func (c *Client) CreateStack(ctx context.Context, spec StackSpec) (string, error) {
	res, err := c.call("create_stack", func() (any, error) {
		return c.backend.CreateStack(ctx, spec)
	})
	if err != nil {
		return "", classify("create_stack", err)
	}
	return res.(string), nil
}

// FindStack ищет стек по имени. Если стека нет, возвращает пустую строку.
func (c *Client) FindStack(ctx context.Context, projectID, name string) (string, error) {
	res, err := c.call("find_stack", func() (any, error) {
		return c.backend.FindStack(ctx, projectID, name)
	})
	if isNotFound(err) {
		return "", nil
	}
	if err != nil {
		return "", classify("find_stack", err)
	}

	stack := res.(*Stack)
	if _, state := parseStatus(stack.Status); state == StackGone {
		return "", nil
	}
	return stack.ID, nil
}

// PollStack возвращает текущее состояние стека. 404 означает StackGone.
func (c *Client) PollStack(ctx context.Context, ref StackRef) (*StackStatus, error) {
	res, err := c.call("get_stack", func() (any, error) {
		return c.backend.GetStack(ctx, ref)
	})
	if isNotFound(err) {
		return &StackStatus{State: StackGone}, nil
	}
	if err != nil {
		return nil, classify("get_stack", err)
	}

	stack := res.(*Stack)
	action, state := parseStatus(stack.Status)
	return &StackStatus{
		State:   state,
		Action:  action,
		Reason:  stack.StatusReason,
		Outputs: stack.Outputs,
	}, nil
}

// UpdateStack запускает обновление стека до нового шаблона.
func (c *Client) UpdateStack(ctx context.Context, ref StackRef, spec StackSpec) error {
	_, err := c.call("update_stack", func() (any, error) {
		return nil, c.backend.UpdateStack(ctx, ref, spec)
	})
	return classify("update_stack", err)
}

// DeleteStack запускает удаление стека. Отсутствующий стек не ошибка.
func (c *Client) DeleteStack(ctx context.Context, ref StackRef) error {
	_, err := c.call("delete_stack", func() (any, error) {
		return nil, c.backend.DeleteStack(ctx, ref)
	})
	if isNotFound(err) {
		return nil
	}
	return classify("delete_stack", err)
}

// ProjectUsage возвращает использование и лимиты проекта.
func (c *Client) ProjectUsage(ctx context.Context, projectID string) (*domain.ProjectUsage, error) {
	res, err := c.call("project_usage", func() (any, error) {
		return c.backend.Limits(ctx, projectID)
	})
	if err != nil {
		return nil, classify("project_usage", err)
	}
	return res.(*domain.ProjectUsage), nil
}

// IsOpen возвращает true, если breaker открыт.
func (c *Client) IsOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}
