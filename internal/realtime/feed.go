package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/noah-isme/unigigs-api/internal/observability"
)

// ErrFeedClosed is returned when subscribing to a stopped feed.
var ErrFeedClosed = errors.New("feed closed")

// Loader returns the current ordered window of a scope, at most window items.
type Loader[T any] func(ctx context.Context, scope string, window int) ([]T, error)

// Callback receives the full current snapshot. Snapshots are shared between
// subscribers and must not be mutated.
type Callback[T any] func(snapshot []T)

// Feed fans out ordered snapshots of a scoped collection (messages of a
// community, notifications of a user) to subscribers.
type Feed[T any] struct {
	name   string
	loader Loader[T]
	window int
	bus    Bus
	logger zerolog.Logger

	mu     sync.RWMutex
	scopes map[string]*scopeState[T]
	closed bool
}

type scopeState[T any] struct {
	refreshMu   sync.Mutex
	subscribers map[*subscriber[T]]struct{}
}

// NewFeed constructs a feed. bus may be nil for a single-node deployment.
func NewFeed[T any](name string, window int, loader Loader[T], bus Bus, logger zerolog.Logger) *Feed[T] {
	if window <= 0 {
		window = 100
	}
	return &Feed[T]{
		name:   name,
		loader: loader,
		window: window,
		bus:    bus,
		logger: logger.With().Str("component", "realtime_feed").Str("feed", name).Logger(),
		scopes: make(map[string]*scopeState[T]),
	}
}

// Name returns the feed name, also used as bus topic.
func (f *Feed[T]) Name() string {
	return f.name
}

// Window returns the maximum snapshot size.
func (f *Feed[T]) Window() int {
	return f.window
}

// Start listens for change events published by other nodes.
func (f *Feed[T]) Start(ctx context.Context) {
	if f.bus == nil {
		return
	}
	err := f.bus.Listen(ctx, f.name, func(scope string) {
		if err := f.Refresh(ctx, scope); err != nil {
			f.logger.Warn().Err(err).Str("scope", scope).Msg("remote refresh failed")
		}
	})
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to listen for remote changes")
	}
}

// Subscribe delivers the current snapshot of scope and then every later
// snapshot until the subscription is cancelled or ctx is done.
func (f *Feed[T]) Subscribe(ctx context.Context, scope string, fn Callback[T]) (*Subscription, error) {
	sub := &subscriber[T]{
		feed:    f,
		scope:   scope,
		fn:      fn,
		mailbox: make(chan []T, 1),
		done:    make(chan struct{}),
	}

	state, err := f.register(sub)
	if err != nil {
		return nil, err
	}
	observability.RealtimeSubscribers().WithLabelValues(f.name).Inc()
	go sub.run()

	subscription := &Subscription{stop: sub.stop, wait: sub.wait}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				sub.stop()
			case <-sub.done:
			}
		}()
	}

	state.refreshMu.Lock()
	snapshot, err := f.loader(ctx, scope, f.window)
	if err == nil {
		sub.offer(snapshot)
	}
	state.refreshMu.Unlock()

	if err != nil {
		subscription.Cancel()
		return nil, err
	}

	return subscription, nil
}

// Notify refreshes local subscribers of scope and tells other nodes about the change.
func (f *Feed[T]) Notify(ctx context.Context, scope string) {
	if err := f.Refresh(ctx, scope); err != nil {
		f.logger.Warn().Err(err).Str("scope", scope).Msg("local refresh failed")
	}
	if f.bus == nil {
		return
	}
	if err := f.bus.Publish(ctx, f.name, scope); err != nil {
		f.logger.Warn().Err(err).Str("scope", scope).Msg("failed to publish change event")
	}
}

// Refresh reloads scope and offers the snapshot to local subscribers only.
func (f *Feed[T]) Refresh(ctx context.Context, scope string) error {
	for {
		f.mu.RLock()
		state, ok := f.scopes[scope]
		f.mu.RUnlock()
		if !ok {
			return nil
		}

		state.refreshMu.Lock()
		subscribers, current := f.membersOf(scope, state)
		if !current {
			// The scope emptied and was recreated while we waited.
			state.refreshMu.Unlock()
			continue
		}

		err := f.refreshLocked(ctx, scope, subscribers)
		state.refreshMu.Unlock()
		return err
	}
}

func (f *Feed[T]) refreshLocked(ctx context.Context, scope string, subscribers []*subscriber[T]) error {
	if len(subscribers) == 0 {
		return nil
	}
	snapshot, err := f.loader(ctx, scope, f.window)
	if err != nil {
		return err
	}
	for _, sub := range subscribers {
		sub.offer(snapshot)
	}
	return nil
}

// Subscribers returns the number of live subscriptions on scope.
func (f *Feed[T]) Subscribers(scope string) int {
	return len(f.subscribersOf(scope))
}

// Close cancels every subscription, waits for running callbacks and rejects
// new subscriptions.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	f.closed = true
	var all []*subscriber[T]
	for _, state := range f.scopes {
		for sub := range state.subscribers {
			all = append(all, sub)
		}
	}
	f.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
	for _, sub := range all {
		sub.wait()
	}
}

func (f *Feed[T]) register(sub *subscriber[T]) (*scopeState[T], error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrFeedClosed
	}
	state, ok := f.scopes[sub.scope]
	if !ok {
		state = &scopeState[T]{subscribers: make(map[*subscriber[T]]struct{})}
		f.scopes[sub.scope] = state
	}
	state.subscribers[sub] = struct{}{}
	return state, nil
}

func (f *Feed[T]) unregister(sub *subscriber[T]) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.scopes[sub.scope]
	if !ok {
		return
	}
	delete(state.subscribers, sub)
	if len(state.subscribers) == 0 {
		delete(f.scopes, sub.scope)
	}
}

func (f *Feed[T]) subscribersOf(scope string) []*subscriber[T] {
	f.mu.RLock()
	state, ok := f.scopes[scope]
	f.mu.RUnlock()
	if !ok {
		return nil
	}
	subscribers, _ := f.membersOf(scope, state)
	return subscribers
}

func (f *Feed[T]) membersOf(scope string, state *scopeState[T]) ([]*subscriber[T], bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.scopes[scope] != state {
		return nil, false
	}
	out := make([]*subscriber[T], 0, len(state.subscribers))
	for sub := range state.subscribers {
		out = append(out, sub)
	}
	return out, true
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	stop func()
	wait func()
}

// Cancel stops delivery and waits for a running callback to return, so the
// caller may release whatever the callback writes to. It is idempotent. A
// callback must not cancel its own subscription this way; it uses Stop.
func (s *Subscription) Cancel() {
	if s == nil || s.stop == nil {
		return
	}
	s.stop()
	s.wait()
}

// Stop stops delivery without waiting for a running callback. It is
// idempotent and is the form to use from inside the callback. No callback
// starts after Stop returns.
func (s *Subscription) Stop() {
	if s == nil || s.stop == nil {
		return
	}
	s.stop()
}

type subscriber[T any] struct {
	feed    *Feed[T]
	scope   string
	fn      Callback[T]
	mailbox chan []T
	done    chan struct{}

	deliverMu sync.Mutex
	cancelled atomic.Bool
	once      sync.Once
}

// offer replaces any undelivered snapshot with the newer one.
func (s *subscriber[T]) offer(snapshot []T) {
	for {
		select {
		case s.mailbox <- snapshot:
			return
		default:
		}
		select {
		case <-s.mailbox:
		default:
		}
	}
}

func (s *subscriber[T]) run() {
	for {
		select {
		case <-s.done:
			return
		case snapshot := <-s.mailbox:
			s.deliver(snapshot)
		}
	}
}

func (s *subscriber[T]) deliver(snapshot []T) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if s.cancelled.Load() {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.feed.logger.Error().Interface("panic", r).Str("scope", s.scope).Msg("subscriber callback panicked")
		}
	}()

	s.fn(snapshot)
}

func (s *subscriber[T]) stop() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		close(s.done)
		s.feed.unregister(s)
		observability.RealtimeSubscribers().WithLabelValues(s.feed.name).Dec()
	})
}

// wait blocks until an in-flight callback returns. deliver re-checks
// cancelled under the same lock, so nothing starts afterwards.
func (s *subscriber[T]) wait() {
	s.deliverMu.Lock()
	s.deliverMu.Unlock()
}
