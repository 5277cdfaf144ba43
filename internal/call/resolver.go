package call

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/flowpbx/pushcall/internal/call/claim"
	"github.com/flowpbx/pushcall/internal/notify"
)

// RingStopper stops the ringtone if the given call holds the device.
type RingStopper interface {
	StopFor(callID string)
}

// Withdrawer removes a posted notification. Unknown ids are a no-op.
type Withdrawer interface {
	Cancel(ctx context.Context, id int32) error
}

// Sink observes committed outcomes. Each call's outcome is delivered once.
type Sink interface {
	CallResolved(ctx context.Context, res Resolution)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res Resolution)

func (f SinkFunc) CallResolved(ctx context.Context, res Resolution) { f(ctx, res) }

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Claims arbitrates the first writer. Defaults to an in-memory store.
	Claims claim.Store
	Ringer RingStopper
	Tray   Withdrawer
	// Retention is how long resolved calls stay visible locally.
	Retention time.Duration
	// CleanupInterval is how often expired resolved calls are pruned.
	CleanupInterval time.Duration
	// MaxTombstones bounds how many pruned call ids are remembered as
	// resolved after their outcome is forgotten.
	MaxTombstones int
}

// DefaultMaxTombstones is the tombstone bound used when none is configured.
const DefaultMaxTombstones = 100000

// pendingCall is a call awaiting resolution and the prompts showing it.
type pendingCall struct {
	event   Event
	prompts []*Prompt
}

type resolvedCall struct {
	event   Event
	outcome Outcome
}

// Snapshot is a point-in-time view of one call.
type Snapshot struct {
	Event   Event    `json:"event"`
	State   string   `json:"state"` // "pending" or "resolved"
	Outcome *Outcome `json:"outcome,omitempty"`
}

// Resolver is the arbitration point for every entry point that can end a
// call. The first Resolve for a call id commits the outcome; later calls
// perform cleanup only and return a *ResolvedError.
type Resolver struct {
	claims    claim.Store
	local     *claim.MemoryStore
	ringer    RingStopper
	tray      Withdrawer
	retention time.Duration
	maxTombs  int
	logger    *slog.Logger
	now       func() time.Time

	locks *keyLock

	mu       sync.Mutex
	pending  map[string]*pendingCall
	resolved map[string]resolvedCall
	sinks    []Sink

	// Pruned call ids. The outcome is gone but the id stays resolved.
	tombstones map[string]struct{}
	tombOrder  []string

	stopCh chan struct{}
	stop   sync.Once
}

// NewResolver creates a resolver and starts background pruning of
// resolved calls.
func NewResolver(cfg ResolverConfig, logger *slog.Logger) *Resolver {
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxTombstones <= 0 {
		cfg.MaxTombstones = DefaultMaxTombstones
	}
	logger = logger.With("subsystem", "call-resolver")
	local := claim.NewMemoryStore(claim.MemoryConfig{
		TTL:             cfg.Retention,
		CleanupInterval: cfg.CleanupInterval,
		Logger:          logger,
	})
	if cfg.Claims == nil {
		cfg.Claims = local
	}

	r := &Resolver{
		claims:    cfg.Claims,
		local:     local,
		ringer:    cfg.Ringer,
		tray:      cfg.Tray,
		retention: cfg.Retention,
		maxTombs:  cfg.MaxTombstones,
		logger:    logger,
		now:       time.Now,
		locks:     newKeyLock(),
		pending:   make(map[string]*pendingCall),
		resolved:  make(map[string]resolvedCall),
		stopCh:    make(chan struct{}),

		tombstones: make(map[string]struct{}),
	}
	go r.cleanupLoop(cfg.CleanupInterval)
	return r
}

// AddSink registers a sink for committed outcomes.
func (r *Resolver) AddSink(s Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

// Stop terminates background pruning.
func (r *Resolver) Stop() {
	r.stop.Do(func() {
		close(r.stopCh)
		r.local.Stop()
	})
}

// Begin registers ev as pending. It returns false when the call id is
// already pending or resolved, so a duplicate push can be ignored.
func (r *Resolver) Begin(ctx context.Context, ev Event) bool {
	unlock := r.locks.Lock(ev.ID)
	defer unlock()

	if _, ok := r.settled(ctx, ev.ID); ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[ev.ID]; ok {
		return false
	}
	r.pending[ev.ID] = &pendingCall{event: ev}
	r.logger.Debug("call pending", "call_id", ev.ID, "caller_name", ev.CallerName)
	return true
}

// present attaches p to the pending call, registering the call if needed,
// and runs post while holding the call's lock so a concurrent resolution
// cannot slip between the check and the surface appearing.
func (r *Resolver) present(ctx context.Context, ev Event, p *Prompt, post func(context.Context) error) error {
	unlock := r.locks.Lock(ev.ID)
	defer unlock()

	if out, ok := r.settled(ctx, ev.ID); ok {
		return &ResolvedError{CallID: ev.ID, Outcome: out}
	}

	r.mu.Lock()
	pc, ok := r.pending[ev.ID]
	if !ok {
		pc = &pendingCall{event: ev}
		r.pending[ev.ID] = pc
	}
	pc.prompts = append(pc.prompts, p)
	r.mu.Unlock()

	if post != nil {
		if err := post(ctx); err != nil {
			// The prompt still shows without the system alert.
			r.logger.Warn("posting call surface failed", "call_id", ev.ID, "error", err)
		}
	}
	return nil
}

// Resolve commits action for callID if no outcome exists yet. Every caller,
// winner or not, stops the call's ringer, withdraws its notification and
// tears down its prompts. Later callers get a *ResolvedError.
func (r *Resolver) Resolve(ctx context.Context, callID string, action Action, source Source) (Outcome, error) {
	if callID == "" {
		return Outcome{}, ErrMissingCallID
	}
	switch action {
	case Accepted, Rejected, TimedOut:
	default:
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	unlock := r.locks.Lock(callID)
	defer unlock()

	if out, ok := r.settled(ctx, callID); ok {
		r.cleanup(ctx, callID)
		attrs := []any{"call_id", callID, "attempted_action", action, "attempted_by", source}
		if out != nil {
			attrs = append(attrs, "action", out.Action, "resolved_by", out.ResolvedBy)
		}
		r.logger.Debug("call already resolved", attrs...)
		return Outcome{}, &ResolvedError{CallID: callID, Outcome: out}
	}

	out := Outcome{
		CallID:     callID,
		Action:     action,
		ResolvedAt: r.now(),
		ResolvedBy: source,
	}
	won, err := r.claim(ctx, out)
	if err != nil {
		return Outcome{}, err
	}
	if !won {
		// Another process committed first.
		canonical, known := r.canonical(ctx, callID)
		r.cleanup(ctx, callID)
		if known {
			return Outcome{}, &ResolvedError{CallID: callID, Outcome: &canonical}
		}
		return Outcome{}, &ResolvedError{CallID: callID}
	}

	ev := r.commit(out)
	r.cleanup(ctx, callID)

	r.logger.Info("call resolved",
		"call_id", callID,
		"action", out.Action,
		"resolved_by", out.ResolvedBy,
		"caller_name", ev.CallerName,
	)

	r.mu.Lock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()
	res := Resolution{Outcome: out, Event: ev}
	for _, s := range sinks {
		s.CallResolved(ctx, res)
	}
	return out, nil
}

// claim records out in the claim store. A shared store failure falls back
// to the local store so a call is never left unresolvable.
func (r *Resolver) claim(ctx context.Context, out Outcome) (bool, error) {
	val, err := json.Marshal(out)
	if err != nil {
		return false, fmt.Errorf("encoding outcome: %w", err)
	}
	won, err := r.claims.Claim(ctx, out.CallID, val)
	if err == nil {
		return won, nil
	}
	if r.claims == claim.Store(r.local) {
		return false, err
	}
	r.logger.Warn("shared claim store unavailable, claiming locally",
		"call_id", out.CallID,
		"error", err,
	)
	return r.local.Claim(ctx, out.CallID, val)
}

// canonical returns the committed outcome for callID, consulting the claim
// store when this process has not seen it. Caller must hold the call's lock.
func (r *Resolver) canonical(ctx context.Context, callID string) (Outcome, bool) {
	r.mu.Lock()
	rc, ok := r.resolved[callID]
	r.mu.Unlock()
	if ok {
		return rc.outcome, true
	}

	for _, s := range r.stores() {
		val, found, err := s.Get(ctx, callID)
		if err != nil {
			r.logger.Warn("reading call claim", "call_id", callID, "error", err)
			continue
		}
		if !found {
			continue
		}
		var out Outcome
		if err := json.Unmarshal(val, &out); err != nil {
			r.logger.Warn("decoding call claim", "call_id", callID, "error", err)
			continue
		}
		r.commit(out)
		return out, true
	}
	return Outcome{}, false
}

// settled reports whether callID has an outcome. The outcome is nil when the
// call was pruned and no claim store still holds it. Caller must hold the
// call's lock.
func (r *Resolver) settled(ctx context.Context, callID string) (*Outcome, bool) {
	if out, ok := r.canonical(ctx, callID); ok {
		return &out, true
	}
	r.mu.Lock()
	_, ok := r.tombstones[callID]
	r.mu.Unlock()
	return nil, ok
}

func (r *Resolver) stores() []claim.Store {
	if r.claims == claim.Store(r.local) {
		return []claim.Store{r.local}
	}
	return []claim.Store{r.claims, r.local}
}

// commit moves callID from pending to resolved and returns its event.
func (r *Resolver) commit(out Outcome) Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	ev := Event{ID: out.CallID}
	if pc, ok := r.pending[out.CallID]; ok {
		ev = pc.event
	}
	r.resolved[out.CallID] = resolvedCall{event: ev, outcome: out}
	return ev
}

// cleanup is idempotent. Caller must hold the call's lock.
func (r *Resolver) cleanup(ctx context.Context, callID string) {
	if r.ringer != nil {
		r.ringer.StopFor(callID)
	}
	if r.tray != nil {
		if err := r.tray.Cancel(ctx, notify.NotificationID(callID)); err != nil {
			r.logger.Warn("withdrawing call notification", "call_id", callID, "error", err)
		}
	}

	r.mu.Lock()
	pc, ok := r.pending[callID]
	delete(r.pending, callID)
	r.mu.Unlock()

	if ok {
		for _, p := range pc.prompts {
			p.close()
		}
	}
}

// Outcome returns the committed outcome for callID.
func (r *Resolver) Outcome(ctx context.Context, callID string) (Outcome, bool) {
	unlock := r.locks.Lock(callID)
	defer unlock()
	return r.canonical(ctx, callID)
}

// Lookup returns the event for a pending or recently resolved call.
func (r *Resolver) Lookup(callID string) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pc, ok := r.pending[callID]; ok {
		return pc.event, true
	}
	if rc, ok := r.resolved[callID]; ok {
		return rc.event, true
	}
	return Event{}, false
}

// Prompt returns an open prompt for a pending call.
func (r *Resolver) Prompt(callID string) (*Prompt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pc, ok := r.pending[callID]
	if !ok {
		return nil, false
	}
	for _, p := range pc.prompts {
		if !p.Closed() {
			return p, true
		}
	}
	return nil, false
}

// Pending returns the events awaiting resolution, oldest first.
func (r *Resolver) Pending() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, 0, len(r.pending))
	for _, pc := range r.pending {
		out = append(out, pc.event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out
}

// PendingCount returns the number of calls awaiting resolution.
func (r *Resolver) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Snapshot returns the state of one call known to this process.
func (r *Resolver) Snapshot(callID string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if pc, ok := r.pending[callID]; ok {
		return Snapshot{Event: pc.event, State: "pending"}, true
	}
	if rc, ok := r.resolved[callID]; ok {
		out := rc.outcome
		return Snapshot{Event: rc.event, State: "resolved", Outcome: &out}, true
	}
	return Snapshot{}, false
}

// Snapshots returns every pending and retained resolved call, newest first.
func (r *Resolver) Snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Snapshot, 0, len(r.pending)+len(r.resolved))
	for _, pc := range r.pending {
		out = append(out, Snapshot{Event: pc.event, State: "pending"})
	}
	for _, rc := range r.resolved {
		o := rc.outcome
		out = append(out, Snapshot{Event: rc.event, State: "resolved", Outcome: &o})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Event.ReceivedAt.After(out[j].Event.ReceivedAt) })
	return out
}

func (r *Resolver) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.prune()
		case <-r.stopCh:
			return
		}
	}
}

// prune forgets the outcomes of resolved calls older than the retention
// window. Their ids are kept as tombstones so they never resolve again.
func (r *Resolver) prune() {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.retention)
	var expired []Outcome
	for _, rc := range r.resolved {
		if rc.outcome.ResolvedAt.Before(cutoff) {
			expired = append(expired, rc.outcome)
		}
	}
	// Oldest first, so the tombstone bound evicts the oldest ids.
	sort.Slice(expired, func(i, j int) bool {
		if !expired[i].ResolvedAt.Equal(expired[j].ResolvedAt) {
			return expired[i].ResolvedAt.Before(expired[j].ResolvedAt)
		}
		return expired[i].CallID < expired[j].CallID
	})
	for _, out := range expired {
		delete(r.resolved, out.CallID)
		r.tombstone(out.CallID)
	}
	if removed := len(expired); removed > 0 {
		r.logger.Debug("pruned resolved calls", "removed", removed, "remaining", len(r.resolved))
	}
}

// tombstone records id as resolved, evicting the oldest tombstone past the
// bound. Caller must hold r.mu.
func (r *Resolver) tombstone(id string) {
	if _, ok := r.tombstones[id]; ok {
		return
	}
	r.tombstones[id] = struct{}{}
	r.tombOrder = append(r.tombOrder, id)
	for len(r.tombOrder) > r.maxTombs {
		delete(r.tombstones, r.tombOrder[0])
		r.tombOrder = r.tombOrder[1:]
	}
}
