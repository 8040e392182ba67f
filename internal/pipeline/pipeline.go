// Package pipeline intercepts outbound protocol messages on their way to one
// specific recipient. Handlers are registered per message type; each handler
// may inspect the (lazily decoded) payload and swap in a replacement that the
// remaining handlers observe. Types with no handlers pass through untouched.
package pipeline

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
)

// Message is one opaque outbound payload. Raw is the encoded wire form.
type Message struct {
	Type string
	Raw  []byte
}

// Handler observes and optionally rewrites one outbound message. Returning an
// error (or panicking) never blocks delivery: dispatch logs it and falls back
// to the original payload.
type Handler func(*Context) error

// Context is the per-dispatch view handed to handlers. It lives only for the
// duration of one Dispatch call.
type Context struct {
	recipient int64
	original  Message
	current   Message
	dropped   bool

	view    map[string]any
	viewRaw []byte
	viewErr error
}

// Recipient is the identity the message is addressed to.
func (c *Context) Recipient() int64 { return c.recipient }

// Original is the payload as the simulation produced it.
func (c *Context) Original() Message { return c.original }

// Current is the payload as rewritten so far (the original if untouched).
func (c *Context) Current() Message { return c.current }

// Decode unmarshals the current payload into v. Use View for the cached
// generic read view; Decode is for handlers that want a typed struct to edit.
func (c *Context) Decode(v any) error {
	return json.Unmarshal(c.current.Raw, v)
}

// View returns a generic decoded read view of the current payload. The decode
// runs on first access only and is re-done after a Replace.
func (c *Context) View() (map[string]any, error) {
	raw := c.current.Raw
	fresh := c.view == nil && c.viewErr == nil
	if fresh || !sameRaw(c.viewRaw, raw) {
		c.view = nil
		c.viewErr = nil
		c.viewRaw = raw
		if err := json.Unmarshal(raw, &c.view); err != nil {
			c.view = nil
			c.viewErr = fmt.Errorf("decode %s: %w", c.current.Type, err)
		}
	}
	return c.view, c.viewErr
}

func sameRaw(a, b []byte) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

// Replace swaps in a full replacement payload for the remaining handlers and
// for delivery. The authoritative state the message was derived from is not
// touched.
func (c *Context) Replace(m Message) {
	c.current = m
}

// ReplaceEncoded marshals v and swaps it in under the same message type.
func (c *Context) ReplaceEncoded(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.Replace(Message{Type: c.current.Type, Raw: b})
	return nil
}

// Drop suppresses delivery to this recipient entirely.
func (c *Context) Drop() {
	c.dropped = true
}

func (c *Context) reset() {
	*c = Context{}
}

// Pipeline is the per-type handler registry. Register may be called from any
// goroutine during wiring; Dispatch runs only on the tick goroutine, so the
// handler lists themselves need no locking beyond registration.
type Pipeline struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	log      *log.Logger

	pool sync.Pool
}

func New(logger *log.Logger) *Pipeline {
	p := &Pipeline{
		handlers: make(map[string][]Handler),
		log:      logger,
	}
	p.pool.New = func() any { return new(Context) }
	return p
}

// Register appends handler to the ordered list for msgType.
func (p *Pipeline) Register(msgType string, handler Handler) {
	if handler == nil {
		return
	}
	p.mu.Lock()
	p.handlers[msgType] = append(p.handlers[msgType], handler)
	p.mu.Unlock()
}

// Dispatch runs the registered handlers for m's type against one recipient and
// returns the payload to deliver. deliver=false means a handler dropped the
// message. With no handlers registered the original message is returned as-is,
// without decoding.
func (p *Pipeline) Dispatch(recipient int64, m Message) (final Message, deliver bool) {
	p.mu.Lock()
	hs := p.handlers[m.Type]
	p.mu.Unlock()
	if len(hs) == 0 {
		return m, true
	}

	ctx := p.pool.Get().(*Context)
	ctx.recipient = recipient
	ctx.original = m
	ctx.current = m
	defer func() {
		ctx.reset()
		p.pool.Put(ctx)
	}()

	for i, h := range hs {
		if err := p.runHandler(h, ctx); err != nil {
			// A broken handler must not cost the recipient the message:
			// forward the original, unmodified payload.
			if p.log != nil {
				p.log.Printf("pipeline: handler %d for %s (recipient %d): %v", i, m.Type, recipient, err)
			}
			return m, true
		}
		if ctx.dropped {
			return Message{}, false
		}
	}
	return ctx.current, true
}

func (p *Pipeline) runHandler(h Handler, ctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx)
}
