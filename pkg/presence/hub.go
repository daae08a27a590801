package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/platinummonkey/beacon/pkg/async"
	"github.com/platinummonkey/beacon/pkg/observability"
)

var (
	// ErrChannelClosed is returned by operations on a closed hub
	ErrChannelClosed = errors.New("presence channel closed")
	// ErrNotJoined is returned by a member that has left
	ErrNotJoined = errors.New("not joined to presence channel")
)

// StatusSubscribed confirms a join
const StatusSubscribed = "SUBSCRIBED"

// DefaultChannel is the well-known presence channel name
const DefaultChannel = "online-users"

// Payload is what a member publishes
type Payload struct {
	Page      string `json:"page"`
	OnlineAt  string `json:"online_at"`
	SessionID string `json:"session_id"`
}

// Presence is one tracked member state with its publish sequence
type Presence struct {
	Payload
	Key string `json:"key"`
	Seq uint64 `json:"seq"`
}

// Sync is the full channel state keyed by presence key
type Sync struct {
	Channel string                `json:"channel"`
	State   map[string][]Presence `json:"state"`
}

// Flatten returns every entry in publish order, most recent last
func (s Sync) Flatten() []Presence {
	var out []Presence
	for _, entries := range s.State {
		out = append(out, entries...)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Mirror replicates member state outside the process
type Mirror interface {
	Put(ctx context.Context, p Presence) error
	Remove(ctx context.Context, p Presence) error
}

// HubOptions configures a Hub
type HubOptions struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Mirror  Mirror
	// MirrorTimeout bounds each mirror write
	MirrorTimeout time.Duration
}

// Hub is a single named presence channel. Each member holds at most one
// payload; Track replaces it. Every change sends the full state to every
// member.
type Hub struct {
	name    string
	logger  *observability.Logger
	metrics *observability.Metrics
	mirror  Mirror
	writes  *async.Group

	mu      sync.Mutex
	members map[uint64]*Member
	nextID  uint64
	seq     uint64
	closed  bool
}

// NewHub creates a channel called name
func NewHub(name string, opts HubOptions) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger = logger.WithComponent("presence").WithField("channel", name)
	return &Hub{
		name:    name,
		logger:  logger,
		metrics: opts.Metrics,
		mirror:  opts.Mirror,
		writes:  async.NewGroup(logger, opts.MirrorTimeout),
		members: make(map[uint64]*Member),
	}
}

// Name returns the channel name
func (h *Hub) Name() string {
	return h.name
}

// Join subscribes key to the channel. The returned member is confirmed
// and has the current state waiting in its mailbox.
func (h *Hub) Join(ctx context.Context, key string) (*Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrChannelClosed
	}

	h.nextID++
	m := &Member{
		hub:     h,
		id:      h.nextID,
		key:     key,
		mailbox: make(chan Sync, 1),
		status:  StatusSubscribed,
	}
	h.members[m.id] = m
	h.deliverLocked(m, h.snapshotLocked())

	h.logger.WithField("key", key).Debug("Member joined")
	return m, nil
}

// Subscribe joins the channel as a Subscription
func (h *Hub) Subscribe(ctx context.Context, key string) (Subscription, error) {
	m, err := h.Join(ctx, key)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// State returns the current full state
func (h *Hub) State() Sync {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshotLocked()
}

// Members returns the number of joined members
func (h *Hub) Members() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members)
}

// Close disconnects every member and waits for pending mirror writes
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	for id, m := range h.members {
		m.left = true
		close(m.mailbox)
		delete(h.members, id)
	}
	h.mu.Unlock()

	h.gauge()
	return h.writes.Wait(ctx)
}

func (h *Hub) track(m *Member, p Payload) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrChannelClosed
	}
	if m.left {
		h.mu.Unlock()
		return ErrNotJoined
	}

	h.seq++
	presence := Presence{Payload: p, Key: m.key, Seq: h.seq}
	m.presence = &presence
	h.broadcastLocked()
	h.mu.Unlock()

	h.mirrorPut(presence)
	return nil
}

func (h *Hub) leave(m *Member) error {
	h.mu.Lock()
	if m.left {
		h.mu.Unlock()
		if h.isClosed() {
			return ErrChannelClosed
		}
		return ErrNotJoined
	}

	m.left = true
	delete(h.members, m.id)
	close(m.mailbox)
	removed := m.presence
	// another member of the same session keeps the mirrored entry alive
	var survivor *Presence
	if removed != nil {
		for _, other := range h.members {
			if other.presence != nil && other.presence.SessionID == removed.SessionID {
				if survivor == nil || other.presence.Seq > survivor.Seq {
					survivor = other.presence
				}
			}
		}
	}
	h.broadcastLocked()
	h.mu.Unlock()

	h.logger.WithField("key", m.key).Debug("Member left")

	switch {
	case survivor != nil:
		h.mirrorPut(*survivor)
	case removed != nil:
		h.mirrorRemove(*removed)
	}
	return nil
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// snapshotLocked builds the full state; h.mu must be held
func (h *Hub) snapshotLocked() Sync {
	state := make(map[string][]Presence)
	for _, m := range h.members {
		if m.presence == nil {
			continue
		}
		state[m.key] = append(state[m.key], *m.presence)
	}
	for key := range state {
		entries := state[key]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	}
	return Sync{Channel: h.name, State: state}
}

func (h *Hub) broadcastLocked() {
	snapshot := h.snapshotLocked()
	for _, m := range h.members {
		h.deliverLocked(m, snapshot)
	}
	if h.metrics != nil {
		h.metrics.PresenceMembers.Set(float64(len(h.members)))
	}
}

// deliverLocked replaces any undelivered sync in m's mailbox with s
func (h *Hub) deliverLocked(m *Member, s Sync) {
	select {
	case m.mailbox <- s:
	default:
		select {
		case <-m.mailbox:
		default:
		}
		m.mailbox <- s
	}
	if h.metrics != nil {
		h.metrics.PresenceSyncsTotal.Inc()
	}
}

func (h *Hub) gauge() {
	if h.metrics != nil {
		h.metrics.PresenceMembers.Set(float64(h.Members()))
	}
}

// RefreshMirror rewrites the latest presence of every live session so
// entries of members idle on one page do not go stale
func (h *Hub) RefreshMirror(ctx context.Context) error {
	if h.mirror == nil {
		return nil
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	latest := make(map[string]Presence)
	for _, m := range h.members {
		if m.presence == nil {
			continue
		}
		if cur, ok := latest[m.presence.SessionID]; !ok || m.presence.Seq > cur.Seq {
			latest[m.presence.SessionID] = *m.presence
		}
	}
	h.mu.Unlock()

	var errs []error
	for _, p := range latest {
		if err := h.mirror.Put(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartMirrorRefresh calls RefreshMirror every interval until ctx is done.
// interval should be well under the mirror TTL.
func (h *Hub) StartMirrorRefresh(ctx context.Context, interval time.Duration) {
	if h.mirror == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(h.logger, "presence mirror refresh")

		for {
			select {
			case <-ticker.C:
				async.SafeGo(ctx, h.logger, interval, "refresh presence mirror", h.RefreshMirror)
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (h *Hub) mirrorPut(p Presence) {
	if h.mirror == nil {
		return
	}
	h.writes.Go(context.Background(), "mirror presence", func(ctx context.Context) error {
		return h.mirror.Put(ctx, p)
	})
}

func (h *Hub) mirrorRemove(p Presence) {
	if h.mirror == nil {
		return
	}
	h.writes.Go(context.Background(), "mirror leave", func(ctx context.Context) error {
		return h.mirror.Remove(ctx, p)
	})
}

// Member is one subscription to a Hub
type Member struct {
	hub     *Hub
	id      uint64
	key     string
	mailbox chan Sync
	status  string

	// guarded by hub.mu
	presence *Presence
	left     bool
}

// Key returns the presence key the member joined under
func (m *Member) Key() string { return m.key }

// Status returns the subscription status
func (m *Member) Status() string { return m.status }

// Track publishes p, replacing this member's previous payload
func (m *Member) Track(ctx context.Context, p Payload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.hub.track(m, p)
}

// Leave removes the member and notifies the others
func (m *Member) Leave() error {
	return m.hub.leave(m)
}

// Syncs delivers full-state updates. A slow reader sees only the newest.
// The channel is closed after Leave.
func (m *Member) Syncs() <-chan Sync {
	return m.mailbox
}
