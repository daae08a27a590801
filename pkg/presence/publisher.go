package presence

import (
	"context"
	"sync"
	"time"

	"github.com/platinummonkey/beacon/pkg/observability"
)

// Subscription is a confirmed membership of a presence channel
type Subscription interface {
	Track(ctx context.Context, p Payload) error
	Leave() error
	Syncs() <-chan Sync
}

// Channel is a presence channel that can be joined
type Channel interface {
	Subscribe(ctx context.Context, key string) (Subscription, error)
}

// Publisher advertises one session's current page. Failures are logged
// and the publish is skipped; nothing is retried.
type Publisher struct {
	channel   Channel
	sessionID string
	logger    *observability.Logger
	now       func() time.Time

	mu  sync.Mutex
	sub Subscription
}

// NewPublisher creates a publisher for sessionID
func NewPublisher(channel Channel, sessionID string, logger *observability.Logger) *Publisher {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Publisher{
		channel:   channel,
		sessionID: sessionID,
		logger:    logger.WithComponent("presence").WithField("session_id", sessionID),
		now:       time.Now,
	}
}

// Start joins under the session id and, once subscribed, tracks path
func (p *Publisher) Start(ctx context.Context, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub == nil {
		sub, err := p.channel.Subscribe(ctx, p.sessionID)
		if err != nil {
			p.logger.WithError(err).Warn("Presence join failed")
			return
		}
		p.sub = sub
	}
	p.trackLocked(ctx, path)
}

// Navigate re-publishes with the new path
func (p *Publisher) Navigate(ctx context.Context, path string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub == nil {
		return
	}
	p.trackLocked(ctx, path)
}

// Stop leaves the channel
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sub == nil {
		return
	}
	if err := p.sub.Leave(); err != nil {
		p.logger.WithError(err).Debug("Presence leave failed")
	}
	p.sub = nil
}

// Joined reports whether the publisher holds a subscription
func (p *Publisher) Joined() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sub != nil
}

func (p *Publisher) trackLocked(ctx context.Context, path string) {
	payload := Payload{
		Page:      path,
		OnlineAt:  p.now().UTC().Format(time.RFC3339Nano),
		SessionID: p.sessionID,
	}
	if err := p.sub.Track(ctx, payload); err != nil {
		p.logger.WithError(err).WithField("page", path).Warn("Presence track failed")
	}
}
