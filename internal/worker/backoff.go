package worker

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffConfig — экспоненциальная задержка с jitter.
// Используется и для опроса стека внутри шага, и для повторной постановки задачи.
type BackoffConfig struct {
	Base       time.Duration // первая задержка (default: 2s)
	Multiplier float64       // множитель (default: 2)
	Jitter     float64       // доля случайного разброса (default: 0.2)
	Max        time.Duration // потолок задержки (default: 30s)
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Base <= 0 {
		c.Base = 2 * time.Second
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		c.Jitter = 0.2
	}
	if c.Max <= 0 {
		c.Max = 30 * time.Second
	}
	if c.Max < c.Base {
		c.Max = c.Base
	}
	return c
}

// New возвращает backoff без ограничения по общему времени.
func (c BackoffConfig) New() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.Base
	b.Multiplier = c.Multiplier
	b.RandomizationFactor = c.Jitter
	b.MaxInterval = c.Max
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delay возвращает задержку перед попыткой номер attempt (с 1).
func (c BackoffConfig) Delay(attempt int) time.Duration {
	b := c.New()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// jittered разбрасывает d на долю jitter в обе стороны.
func jittered(d time.Duration, jitter float64) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d
	b.RandomizationFactor = jitter
	b.Multiplier = 1
	b.MaxInterval = d
	b.MaxElapsedTime = 0
	b.Reset()
	return b.NextBackOff()
}
