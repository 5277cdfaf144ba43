package call

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout is how long a prompt waits for the user before the call
// resolves as timed out.
const DefaultTimeout = 30 * time.Second

// Timer is a cancellable scheduled task.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run once after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// PromptOptions configures a prompt.
type PromptOptions struct {
	// Timeout is the deadline for user action. Defaults to DefaultTimeout.
	Timeout time.Duration
	// AfterFunc schedules the deadline. Defaults to time.AfterFunc.
	AfterFunc AfterFunc
	// Post shows the prompt's surface. It runs under the call's lock and a
	// failure is logged, not returned.
	Post func(ctx context.Context) error
	// Surface names where the prompt is shown, for logs.
	Surface string
}

// Prompt is one accept/reject surface for a call with a deadline. It ends
// when the call resolves by any path, including one it did not produce.
type Prompt struct {
	event    Event
	resolver *Resolver
	timeout  time.Duration
	deadline time.Time
	surface  string
	logger   *slog.Logger

	mu     sync.Mutex
	timer  Timer
	closed bool
	done   chan struct{}
}

// OpenPrompt shows a prompt for ev and arms its deadline. If the call has
// already resolved the returned error is a *ResolvedError and nothing is
// shown.
func OpenPrompt(ctx context.Context, r *Resolver, ev Event, opts PromptOptions) (*Prompt, error) {
	if ev.ID == "" {
		return nil, ErrMissingCallID
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if opts.Surface == "" {
		opts.Surface = "prompt"
	}

	p := &Prompt{
		event:    ev,
		resolver: r,
		timeout:  opts.Timeout,
		deadline: r.now().Add(opts.Timeout),
		surface:  opts.Surface,
		logger:   r.logger.With("call_id", ev.ID, "surface", opts.Surface),
		done:     make(chan struct{}),
	}

	if err := r.present(ctx, ev, p, opts.Post); err != nil {
		return nil, err
	}

	t := opts.AfterFunc(opts.Timeout, p.expire)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		t.Stop()
	} else {
		p.timer = t
		p.mu.Unlock()
	}

	p.logger.Info("call prompt shown", "caller_name", ev.CallerName, "call_type", ev.Type, "deadline", p.deadline)
	return p, nil
}

// Event returns the call this prompt shows.
func (p *Prompt) Event() Event { return p.event }

// Deadline returns when the prompt times out.
func (p *Prompt) Deadline() time.Time { return p.deadline }

// Done is closed when the prompt is torn down.
func (p *Prompt) Done() <-chan struct{} { return p.done }

// Closed reports whether the prompt has been torn down.
func (p *Prompt) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Accept is the user's accept tap.
func (p *Prompt) Accept(ctx context.Context) (Outcome, error) {
	return p.resolver.Resolve(ctx, p.event.ID, Accepted, SourcePresenterUI)
}

// Reject is the user's reject tap.
func (p *Prompt) Reject(ctx context.Context) (Outcome, error) {
	return p.resolver.Resolve(ctx, p.event.ID, Rejected, SourcePresenterUI)
}

// expire runs on the deadline timer's goroutine.
func (p *Prompt) expire() {
	p.logger.Info("call prompt deadline elapsed", "timeout", p.timeout)
	_, _ = p.resolver.Resolve(context.Background(), p.event.ID, TimedOut, SourceDeadline)
}

// Wait blocks until the prompt is torn down or ctx is done, then returns
// the call's canonical outcome. The wait is bounded by the deadline.
func (p *Prompt) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	out, ok := p.resolver.Outcome(ctx, p.event.ID)
	if !ok {
		return Outcome{}, ErrNotResolved
	}
	return out, nil
}

// close cancels the deadline and tears down the surface. Idempotent.
func (p *Prompt) close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
	}
	close(p.done)
	p.logger.Debug("call prompt closed")
}
