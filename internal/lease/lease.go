// Package lease — эксклюзивная аренда развёртывания на время шага.
//
// Одновременно над развёртыванием работает не больше одной задачи.
// Аренда продлевается в фоне; если продлить не удалось, канал Lost
// закрывается и держатель обязан прекратить работу.
package lease

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrHeld — аренду держит другой владелец.
var ErrHeld = errors.New("lease held by another owner")

// Lease — удерживаемая аренда.
type Lease interface {
	// Lost закрывается, когда аренда потеряна.
	Lost() <-chan struct{}

	// Release освобождает аренду. Повторный вызов безопасен.
	Release(ctx context.Context) error
}

// Manager выдаёт аренды.
type Manager interface {
	// Acquire захватывает аренду развёртывания. Занятая аренда — ErrHeld.
	Acquire(ctx context.Context, deploymentID uuid.UUID, owner string) (Lease, error)
}

// held — общая часть реализаций Lease.
type held struct {
	lost     chan struct{}
	lostOnce sync.Once

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	release func(ctx context.Context) error
}

func newHeld(release func(ctx context.Context) error) *held {
	return &held{
		lost:    make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		release: release,
	}
}

func (h *held) Lost() <-chan struct{} {
	return h.lost
}

func (h *held) markLost() {
	h.lostOnce.Do(func() { close(h.lost) })
}

func (h *held) Release(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		close(h.stop)
		<-h.done
		err = h.release(ctx)
	})
	return err
}
