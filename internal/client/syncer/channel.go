// Package syncer keeps a client's view of its pair and memories
// converged with the store by listening to the push change feed and
// triggering full refetches. The connection lifecycle is an explicit
// state machine, not ad hoc flags, so it can be exercised in tests by
// feeding it transitions without a real network.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"couplesync/internal/client/store"
	"couplesync/internal/common"
	"couplesync/internal/models"
)

// State of the sync channel.
type State int

const (
	// StateDisconnected is the idle state. It is terminal for the
	// session after an auth failure or logout.
	StateDisconnected State = iota
	// StateConnecting means a subscription attempt is in flight. At
	// most one attempt may be in flight at a time.
	StateConnecting
	// StateConnected means the change feed is live.
	StateConnected
	// StateBackoff means a transient failure occurred and a retry is
	// scheduled after a fixed delay.
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Kind classifies a change event at the boundary, exactly once, so
// downstream code never re-parses collection strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindPair
	KindMemory
)

func classify(collection string) Kind {
	switch collection {
	case models.CollectionPairs:
		return KindPair
	case models.CollectionMemories:
		return KindMemory
	default:
		return KindUnknown
	}
}

// Config configures a Channel.
type Config struct {
	// RetryDelay is the fixed wait before reconnecting after a
	// transient failure.
	RetryDelay time.Duration

	// OnPairChanged is invoked when a relevant pair event arrives; the
	// callback should refresh the pair snapshot.
	OnPairChanged func(ctx context.Context)

	// OnMemoryChanged is invoked when a memory event arrives; the
	// callback should refetch memories.
	OnMemoryChanged func(ctx context.Context)

	Logger zerolog.Logger
}

// Channel owns the single change-feed subscription for a signed-in user.
type Channel struct {
	docs    store.Store
	session store.Session
	cfg     Config

	mu          sync.Mutex
	state       State
	userID      string // captured at connect; guards late results after logout
	gen         uint64 // subscription generation; stale callbacks are discarded
	unsubscribe func()
	retryTimer  *time.Timer
	closed      bool
}

// New creates a sync channel. It starts Disconnected; call Connect.
func New(docs store.Store, session store.Session, cfg Config) *Channel {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}
	return &Channel{docs: docs, session: session, cfg: cfg}
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect verifies a live session and opens the subscription. A second
// call while Connecting or Connected is a no-op: the state machine is
// the guard against concurrent attempts. Without a live session the
// channel stays Disconnected and does not spin.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("sync channel closed: %w", common.ErrValidation)
	}
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	ident, err := c.session.CurrentIdentity(ctx)
	if err != nil || ident == nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("sync connect: %w", err)
		}
		return fmt.Errorf("sync connect: %w", common.ErrAuthRequired)
	}

	// Any previous subscription is released before a new one opens, so
	// exactly one is ever live.
	c.mu.Lock()
	c.releaseLocked()
	c.userID = ident.UserID
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	unsub, err := c.docs.Subscribe(ctx,
		[]string{models.CollectionPairs, models.CollectionMemories},
		func(ev models.ChangeEvent) { c.handleEvent(gen, ev) },
		func(err error) { c.handleError(gen, err) })
	if err != nil {
		if errors.Is(err, common.ErrAuthRequired) {
			c.mu.Lock()
			c.state = StateDisconnected
			c.mu.Unlock()
			return fmt.Errorf("sync connect: %w", err)
		}
		c.scheduleRetry()
		return fmt.Errorf("sync connect: %w", err)
	}

	// The feed can fail before the subscription is recorded: the error
	// handler then moves the state first, and the promotion below must not
	// clobber it. Promote only while this attempt is still current and
	// still Connecting; otherwise release the dead subscription and keep
	// the state the error handler chose.
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		unsub()
		return fmt.Errorf("sync channel closed: %w", common.ErrValidation)
	}
	if gen != c.gen || c.state != StateConnecting {
		state := c.state
		c.mu.Unlock()
		unsub()
		if state == StateDisconnected {
			return fmt.Errorf("sync connect: feed rejected during handshake: %w", common.ErrAuthRequired)
		}
		return fmt.Errorf("sync connect: feed dropped during handshake: %w", common.ErrNetwork)
	}
	c.unsubscribe = unsub
	c.state = StateConnected
	c.mu.Unlock()

	c.cfg.Logger.Info().Str("user_id", ident.UserID).Msg("Sync channel connected")
	return nil
}

// Close tears the channel down: the subscription is released and the
// state becomes Disconnected. Used on logout.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
	c.releaseLocked()
	c.state = StateDisconnected
	c.userID = ""
}

// handleEvent classifies and filters one change event, then triggers the
// matching refetch. Events are never applied as patches; the refetch is
// the convergence mechanism, so ordering between events and local
// mutation responses does not matter.
func (c *Channel) handleEvent(gen uint64, ev models.ChangeEvent) {
	c.mu.Lock()
	userID := c.userID
	current := gen == c.gen && c.state == StateConnected
	c.mu.Unlock()
	if !current || userID == "" {
		// A late event from a superseded subscription, or after logout,
		// is discarded.
		return
	}

	switch classify(ev.Collection) {
	case KindPair:
		if !pairEventRelevant(ev, userID) {
			return
		}
		c.cfg.Logger.Debug().Str("event", ev.EventType).Str("document_id", ev.DocumentID).Msg("Pair changed, refreshing")
		if c.cfg.OnPairChanged != nil {
			go c.cfg.OnPairChanged(context.Background())
		}
	case KindMemory:
		c.cfg.Logger.Debug().Str("event", ev.EventType).Str("document_id", ev.DocumentID).Msg("Memories changed, refetching")
		if c.cfg.OnMemoryChanged != nil {
			go c.cfg.OnMemoryChanged(context.Background())
		}
	default:
		c.cfg.Logger.Warn().Str("collection", ev.Collection).Msg("Ignoring event for unknown collection")
	}
}

// pairEventRelevant reports whether a pair event concerns userID. Delete
// events carry no participant list and are always relevant: the refetch
// is cheap and resolves it authoritatively.
func pairEventRelevant(ev models.ChangeEvent, userID string) bool {
	if ev.EventType == models.EventDeleted {
		return true
	}
	users, ok := ev.Payload["users"]
	if !ok {
		return true
	}
	switch list := users.(type) {
	case []string:
		for _, u := range list {
			if u == userID {
				return true
			}
		}
	case []any:
		for _, u := range list {
			if s, ok := u.(string); ok && s == userID {
				return true
			}
		}
	}
	return false
}

// handleError reacts to a subscription failure. Auth failures are
// terminal: the channel goes Disconnected and stays there until a fresh
// session triggers Connect again. Anything else is treated as transient
// and retried after the fixed delay.
func (c *Channel) handleError(gen uint64, err error) {
	c.mu.Lock()
	stale := gen != c.gen
	c.mu.Unlock()
	if stale {
		return
	}

	if errors.Is(err, common.ErrAuthRequired) {
		c.cfg.Logger.Warn().Err(err).Msg("Sync channel lost authorization")
		c.mu.Lock()
		c.releaseLocked()
		c.state = StateDisconnected
		c.mu.Unlock()
		return
	}

	c.cfg.Logger.Warn().Err(err).Dur("retry_in", c.cfg.RetryDelay).Msg("Sync channel dropped, scheduling retry")
	c.scheduleRetry()
}

func (c *Channel) scheduleRetry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.releaseLocked()
	c.state = StateBackoff
	if c.retryTimer != nil {
		c.retryTimer.Stop()
	}
	c.retryTimer = time.AfterFunc(c.cfg.RetryDelay, c.retry)
}

func (c *Channel) retry() {
	c.mu.Lock()
	if c.closed || c.state != StateBackoff {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	if err := c.Connect(context.Background()); err != nil {
		c.cfg.Logger.Warn().Err(err).Msg("Sync reconnect failed")
	}
}

// releaseLocked invokes and clears the registered unsubscribe. Callers
// hold c.mu.
func (c *Channel) releaseLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}
