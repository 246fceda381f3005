// Package llmtest provides a scripted llm.Completer for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/scrypster/agenda/internal/llm"
)

// ErrExhausted is returned once every scripted reply has been consumed.
var ErrExhausted = errors.New("llmtest: no more responses configured")

// Reply is one scripted answer: either Text or Err.
type Reply struct {
	Text string
	Err  error
}

// Completer returns scripted replies in order and records every request.
// With Repeat set, the last reply is served forever instead of ErrExhausted.
type Completer struct {
	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
	model    string
	Repeat   bool
}

// New creates a Completer that answers with the given texts in order.
func New(texts ...string) *Completer {
	c := &Completer{model: "mock-model"}
	for _, t := range texts {
		c.replies = append(c.replies, Reply{Text: t})
	}
	return c
}

// Push appends scripted replies.
func (c *Completer) Push(replies ...Reply) *Completer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies = append(c.replies, replies...)
	return c
}

// PushText appends plain-text replies.
func (c *Completer) PushText(texts ...string) *Completer {
	for _, t := range texts {
		c.Push(Reply{Text: t})
	}
	return c
}

// PushError appends a failing reply.
func (c *Completer) PushError(err error) *Completer {
	return c.Push(Reply{Err: err})
}

// Complete implements llm.Completer.
func (c *Completer) Complete(ctx context.Context, req llm.Request) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := len(c.requests)
	c.requests = append(c.requests, req)

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if idx >= len(c.replies) {
		if c.Repeat && len(c.replies) > 0 {
			idx = len(c.replies) - 1
		} else {
			return "", ErrExhausted
		}
	}
	r := c.replies[idx]
	if r.Err != nil {
		return "", r.Err
	}
	return r.Text, nil
}

// GetModel implements llm.Completer.
func (c *Completer) GetModel() string {
	return c.model
}

// Calls returns the number of Complete calls so far.
func (c *Completer) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Requests returns a copy of the recorded requests.
func (c *Completer) Requests() []llm.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.Request, len(c.requests))
	copy(out, c.requests)
	return out
}

var _ llm.Completer = (*Completer)(nil)
