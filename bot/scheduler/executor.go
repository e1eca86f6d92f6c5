package scheduler

import (
	"context"
	"fmt"

	"github.com/whiteout-project/warden/bot/store"
)

// Token is the cooperative-cancellation checkpoint handed to handlers.
// The store's view of the process status is the source of truth: once the
// row leaves active (preemption, external requeue), Active reports false
// and the handler is expected to return cleanly with progress persisted.
type Token struct {
	st store.Store
	id int64
}

func NewToken(st store.Store, id int64) *Token {
	return &Token{st: st, id: id}
}

// Active reports whether the process should keep running. A context
// cancellation or a storage read failure both read as "stop"; the next
// admission resumes from persisted progress.
func (t *Token) Active(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	p, err := t.st.GetProcess(ctx, t.id)
	if err != nil {
		return false
	}
	return p.Status == store.StatusActive
}

// ProcessID identifies the process this token belongs to.
func (t *Token) ProcessID() int64 { return t.id }

// Handler executes one process kind. Run must call tok.Active between
// externally-visible steps and return nil without completing when it
// reports false. A non-nil error fails the process.
type Handler interface {
	Run(ctx context.Context, tok *Token, p *store.Process) error
}

// Executor maps action kinds to their handlers.
type Executor struct {
	handlers map[store.Action]Handler
}

func NewExecutor() *Executor {
	return &Executor{handlers: make(map[store.Action]Handler)}
}

// Register binds a handler to an action kind. Later registrations win,
// which tests use to substitute stubs.
func (e *Executor) Register(action store.Action, h Handler) {
	e.handlers[action] = h
}

// Handles reports whether a handler is registered for the action.
func (e *Executor) Handles(action store.Action) bool {
	_, ok := e.handlers[action]
	return ok
}

// Dispatch runs the process through its handler. An unknown action is a
// programming error and fails the process.
func (e *Executor) Dispatch(ctx context.Context, tok *Token, p *store.Process) error {
	h, ok := e.handlers[p.Action]
	if !ok {
		return fmt.Errorf("no handler registered for action %q", p.Action)
	}
	return h.Run(ctx, tok, p)
}
