package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/chatpulse/extract/chatdb"
)

// Engine runs the aggregations against a store. Each call issues its own
// fixed queries; nothing is cached between calls.
type Engine struct {
	store chatdb.Store
	loc   *time.Location
}

// NewEngine binds the aggregations to a store. loc selects the timezone for
// hour-of-day bucketing; nil means the process-local zone.
func NewEngine(store chatdb.Store, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{store: store, loc: loc}
}

func (e *Engine) CountsByContact(ctx context.Context) ([]ContactCount, error) {
	msgs, handles, err := e.messagesAndHandles(ctx)
	if err != nil {
		return nil, err
	}
	return CountsByContact(msgs, handles), nil
}

func (e *Engine) Timeline(ctx context.Context, interval Interval) ([]TimelineBucket, error) {
	// Validate before touching the store: a bad selector must fail without
	// partial execution.
	if _, err := ParseInterval(string(interval)); err != nil {
		return nil, err
	}
	msgs, err := e.store.ListMessages(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	return Timeline(msgs, interval)
}

func (e *Engine) TopContacts(ctx context.Context, limit int) ([]TopContact, error) {
	if limit < 1 {
		return nil, fmt.Errorf("%w: limit %d, want >= 1", ErrInvalidArgument, limit)
	}
	msgs, handles, err := e.messagesAndHandles(ctx)
	if err != nil {
		return nil, err
	}
	return TopContacts(msgs, handles, limit)
}

func (e *Engine) ResponseTimes(ctx context.Context) ([]ResponseTime, error) {
	rows, err := e.store.ListMessagesByChat(ctx)
	if err != nil {
		return nil, err
	}
	handles, err := e.store.ListHandles(ctx)
	if err != nil {
		return nil, err
	}
	return ResponseTimes(rows, handles), nil
}

func (e *Engine) BusiestHours(ctx context.Context) ([]HourBucket, error) {
	msgs, err := e.store.ListMessages(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	return BusiestHours(msgs, e.loc), nil
}

func (e *Engine) ReactionSummary(ctx context.Context) ([]ReactionCount, error) {
	msgs, err := e.store.ListMessages(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	return ReactionSummary(msgs), nil
}

func (e *Engine) messagesAndHandles(ctx context.Context) ([]chatdb.Message, []chatdb.Handle, error) {
	msgs, err := e.store.ListMessages(ctx, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	handles, err := e.store.ListHandles(ctx)
	if err != nil {
		return nil, nil, err
	}
	return msgs, handles, nil
}
