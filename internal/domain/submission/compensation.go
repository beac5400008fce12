package submission

import (
	"context"
	"sync"
)

// Compensation отменяет один выполненный побочный эффект.
type Compensation struct {
	Name string
	Undo func(ctx context.Context)
}

// Compensations: стек отмен, по одной на каждый успешный побочный
// эффект. Run выполняет их начиная с последней.
type Compensations struct {
	mu      sync.Mutex
	actions []Compensation
}

// Push добавляет отмену.
func (c *Compensations) Push(name string, undo func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, Compensation{Name: name, Undo: undo})
}

// Len возвращает число ожидающих отмен.
func (c *Compensations) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.actions)
}

// Names возвращает имена ожидающих отмен в порядке добавления.
func (c *Compensations) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.actions))
	for i, a := range c.actions {
		names[i] = a.Name
	}
	return names
}

// Run выполняет все ожидающие отмены в обратном порядке и очищает стек.
func (c *Compensations) Run(ctx context.Context) {
	c.mu.Lock()
	actions := c.actions
	c.actions = nil
	c.mu.Unlock()

	for i := len(actions) - 1; i >= 0; i-- {
		actions[i].Undo(ctx)
	}
}

// Discard отбрасывает все отмены. Вызывается после сохранения заявки.
func (c *Compensations) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = nil
}
