// Package middleware набор middleware для операций huma
package middleware

import (
	"sync"

	"github.com/danielgtaylor/huma/v2"
)

// Container накапливает middleware для очередной группы операций
type Container struct {
	mu  sync.Mutex
	mws huma.Middlewares
}

func NewContainer() *Container {
	return &Container{}
}

func (c *Container) Add(mw func(huma.Context, func(huma.Context))) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mws = append(c.mws, mw)
}

// GetAllAndClear возвращает накопленные middleware и очищает контейнер
func (c *Container) GetAllAndClear() huma.Middlewares {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.mws
	c.mws = nil
	return out
}
