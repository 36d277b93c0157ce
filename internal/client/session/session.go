// Package session combines the identity gateway and the role resolver into a
// single authentication state that the rest of the client observes.
//
// RESOLUTION:
//
//	CurrentUser ── none / error ──────────────▶ unauthenticated
//	     │
//	     └─ identity ──▶ Resolve ── ok ───────▶ authenticated, IsAdmin from the row
//	                        └────── error ────▶ authenticated, IsAdmin=false
//
// Only the newest resolution may write the state. Each trigger bumps a
// generation counter and cancels the one in flight, so a slow stale answer
// can never overwrite a newer one. A token refresh never changes the
// identity, so TOKEN_REFRESHED does not interrupt a resolution in flight;
// the refresh is often caused by that resolution's own CurrentUser call.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/melotech/melotech/internal/client/identity"
	"github.com/melotech/melotech/internal/client/roles"
)

// State is a snapshot of who is signed in. It is always replaced as a whole.
type State struct {
	Identity        *identity.Identity
	InternalUserID  string
	IsAuthenticated bool
	IsAdmin         bool
	Loading         bool
}

// Unauthenticated is the resolved signed-out state.
func Unauthenticated() State {
	return State{}
}

// Aggregator owns the State cell. Construct one per application and pass it
// to whatever needs it.
type Aggregator struct {
	gateway  identity.Gateway
	resolver roles.Resolver
	logger   *slog.Logger

	mu          sync.Mutex
	state       State
	gen         uint64
	cancel      context.CancelFunc
	base        context.Context
	subs        map[int]func(State)
	nextSub     int
	unsubscribe func()
	closed      bool

	// idle is closed whenever the state is not loading.
	idle     chan struct{}
	idleDone bool

	wg sync.WaitGroup
}

// New returns an aggregator in the Loading state. Nothing happens until Start.
func New(gateway identity.Gateway, resolver roles.Resolver, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		gateway:  gateway,
		resolver: resolver,
		logger:   logger,
		state:    State{Loading: true},
		base:     context.Background(),
		subs:     make(map[int]func(State)),
		idle:     make(chan struct{}),
	}
}

// Start subscribes to session changes and runs the initial resolution before
// returning. Event driven resolutions inherit ctx's values, not its deadline.
func (a *Aggregator) Start(ctx context.Context) State {
	a.mu.Lock()
	a.base = context.WithoutCancel(ctx)
	a.unsubscribe = a.gateway.OnSessionChange(a.onSessionChange)
	a.mu.Unlock()

	return a.Refetch(ctx)
}

// State returns the current snapshot.
func (a *Aggregator) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Subscribe calls fn with every new state until the returned func is called.
func (a *Aggregator) Subscribe(fn func(State)) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			a.mu.Unlock()
		})
	}
}

// Refetch runs a full resolution on the calling goroutine and returns the
// resolved state. When a newer trigger supersedes it, Refetch waits for that
// one to settle, or for ctx to end.
func (a *Aggregator) Refetch(ctx context.Context) State {
	gen, rctx, ok := a.begin(ctx)
	if !ok {
		return a.State()
	}
	a.resolve(rctx, gen)
	return a.wait(ctx)
}

func (a *Aggregator) wait(ctx context.Context) State {
	a.mu.Lock()
	idle := a.idle
	a.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
	}
	return a.State()
}

// Close drops the gateway subscription, cancels any resolution in flight and
// waits for background resolutions to return.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.closed = true
	unsubscribe := a.unsubscribe
	a.unsubscribe = nil
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.gen++
	a.markIdle()
	a.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	a.wg.Wait()
}

func (a *Aggregator) onSessionChange(ev identity.Event, s *identity.Session) {
	if ev == identity.SignedOut || s == nil {
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return
		}
		a.gen++
		gen := a.gen
		if a.cancel != nil {
			a.cancel()
			a.cancel = nil
		}
		a.mu.Unlock()

		a.logger.Debug("session ended", slog.String("event", string(ev)))
		a.commit(gen, Unauthenticated())
		return
	}

	a.mu.Lock()
	base := a.base
	inFlight := a.cancel != nil
	a.mu.Unlock()

	if ev == identity.TokenRefreshed && inFlight {
		a.logger.Debug("token refreshed during resolution")
		return
	}

	gen, rctx, ok := a.begin(base)
	if !ok {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.resolve(rctx, gen)
	}()
}

// begin claims a new generation, cancels the previous resolution and marks
// the state as loading.
func (a *Aggregator) begin(parent context.Context) (uint64, context.Context, bool) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return 0, nil, false
	}
	if a.cancel != nil {
		a.cancel()
	}
	ctx, cancel := context.WithCancel(parent)
	a.gen++
	gen := a.gen
	a.cancel = cancel
	next := a.state
	next.Loading = true
	a.mu.Unlock()

	a.commit(gen, next)
	return gen, ctx, true
}

func (a *Aggregator) resolve(ctx context.Context, gen uint64) {
	current, err := a.gateway.CurrentUser(ctx)
	if err != nil {
		a.logger.Warn("loading current user failed", slog.String("error", err.Error()))
		a.commit(gen, Unauthenticated())
		return
	}
	if current == nil {
		a.commit(gen, Unauthenticated())
		return
	}

	who := current.Identity
	role, err := a.resolver.Resolve(ctx, who.ID)
	if err != nil {
		a.logger.Warn("resolving role failed; continuing without admin",
			slog.String("identityID", who.ID),
			slog.String("error", err.Error()),
		)
		role = roles.Role{}
	}

	a.commit(gen, State{
		Identity:        &who,
		InternalUserID:  role.InternalUserID,
		IsAuthenticated: true,
		IsAdmin:         role.IsAdmin,
	})
}

// commit replaces the state when gen is still the newest and notifies
// subscribers. Stale generations are dropped.
func (a *Aggregator) commit(gen uint64, next State) {
	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		return
	}
	if !next.Loading && a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	switch {
	case next.Loading && a.idleDone:
		a.idle = make(chan struct{})
		a.idleDone = false
	case !next.Loading:
		a.markIdle()
	}
	a.state = next
	fns := make([]func(State), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
}

// markIdle releases waiters. Callers hold a.mu.
func (a *Aggregator) markIdle() {
	if !a.idleDone {
		close(a.idle)
		a.idleDone = true
	}
}
