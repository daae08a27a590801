package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// DefaultObserverKey is the reserved key observers join under
const DefaultObserverKey = "admin-observer"

// PageCount is the number of active sessions on a page
type PageCount struct {
	Page  string `json:"page"`
	Count int    `json:"count"`
}

// ActiveSet is the de-duplicated list of active sessions
type ActiveSet struct {
	Total int         `json:"total"`
	Users []Presence  `json:"users"`
	Pages []PageCount `json:"pages"`
}

// Rebuild computes the active set from flattened state. Entries under
// observerKey, or whose session id equals it, are dropped. Each session
// keeps its last entry.
func Rebuild(flat []Presence, observerKey string) ActiveSet {
	index := make(map[string]int)
	users := make([]Presence, 0, len(flat))

	for _, p := range flat {
		if p.Key == observerKey || p.SessionID == observerKey || p.SessionID == "" {
			continue
		}
		if i, ok := index[p.SessionID]; ok {
			users[i] = p
			continue
		}
		index[p.SessionID] = len(users)
		users = append(users, p)
	}

	counts := make(map[string]int)
	for _, u := range users {
		counts[u.Page]++
	}
	pages := make([]PageCount, 0, len(counts))
	for page, n := range counts {
		pages = append(pages, PageCount{Page: page, Count: n})
	}
	sort.Slice(pages, func(i, j int) bool {
		if pages[i].Count != pages[j].Count {
			return pages[i].Count > pages[j].Count
		}
		return pages[i].Page < pages[j].Page
	})

	return ActiveSet{Total: len(users), Users: users, Pages: pages}
}

// Observer follows a channel without being counted
type Observer struct {
	channel Channel
	key     string
	logger  *observability.Logger

	mu       sync.RWMutex
	active   ActiveSet
	onChange func(ActiveSet)
}

// NewObserver creates an observer joining under key
func NewObserver(channel Channel, key string, logger *observability.Logger) *Observer {
	if key == "" {
		key = DefaultObserverKey
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Observer{
		channel: channel,
		key:     key,
		logger:  logger.WithComponent("presence-observer"),
		active:  ActiveSet{Users: []Presence{}, Pages: []PageCount{}},
	}
}

// OnChange registers fn to run after every rebuild. Call before Run.
func (o *Observer) OnChange(fn func(ActiveSet)) {
	o.onChange = fn
}

// Active returns the latest active set
func (o *Observer) Active() ActiveSet {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active
}

// Run joins the channel and rebuilds the active set on every sync until
// ctx is done or the channel closes. It never tracks.
func (o *Observer) Run(ctx context.Context) error {
	sub, err := o.channel.Subscribe(ctx, o.key)
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Leave(); err != nil {
			o.logger.WithError(err).Debug("Observer leave failed")
		}
	}()

	o.logger.WithField("key", o.key).Info("Observer subscribed")

	syncs := sub.Syncs()
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-syncs:
			if !ok {
				return ErrChannelClosed
			}
			o.apply(s)
		}
	}
}

func (o *Observer) apply(s Sync) {
	active := Rebuild(s.Flatten(), o.key)

	o.mu.Lock()
	o.active = active
	o.mu.Unlock()

	if o.onChange != nil {
		o.onChange(active)
	}
}
