package rpc

import (
	"context"
	"sync"
)

// Call is a pending RPC. It completes exactly once with either a reply body
// or an error.
type Call struct {
	once sync.Once
	done chan struct{}
	body []byte
	err  error
}

func NewCall() *Call {
	return &Call{done: make(chan struct{})}
}

// Complete resolves the call. Only the first completion is kept.
func (c *Call) Complete(body []byte, err error) {
	c.once.Do(func() {
		c.body, c.err = body, err
		close(c.done)
	})
}

func (c *Call) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the call completes or ctx is done.
func (c *Call) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.done:
		return c.body, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
