package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/beacon/pkg/observability"
)

func latest(t *testing.T, m *Member) Sync {
	t.Helper()
	select {
	case s, ok := <-m.Syncs():
		require.True(t, ok, "mailbox closed")
		return s
	case <-time.After(time.Second):
		t.Fatal("no sync delivered")
		return Sync{}
	}
}

func assertClosed(t *testing.T, m *Member) {
	t.Helper()
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-m.Syncs():
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("mailbox not closed")
		}
	}
}

func TestHub_JoinConfirmsAndDeliversState(t *testing.T) {
	hub := NewHub(DefaultChannel, HubOptions{})
	ctx := context.Background()

	a, err := hub.Join(ctx, "sess-a")
	require.NoError(t, err)
	assert.Equal(t, StatusSubscribed, a.Status())
	assert.Empty(t, latest(t, a).State, "initial state is empty")

	require.NoError(t, a.Track(ctx, Payload{Page: "/sell", SessionID: "sess-a"}))

	b, err := hub.Join(ctx, "sess-b")
	require.NoError(t, err)
	s := latest(t, b)
	assert.Equal(t, DefaultChannel, s.Channel)
	require.Len(t, s.State["sess-a"], 1)
	assert.Equal(t, "/sell", s.State["sess-a"][0].Page)
}

func TestHub_TrackIsLastWriteWins(t *testing.T) {
	hub := NewHub(DefaultChannel, HubOptions{})
	ctx := context.Background()

	m, err := hub.Join(ctx, "sess-a")
	require.NoError(t, err)

	require.NoError(t, m.Track(ctx, Payload{Page: "/", SessionID: "sess-a"}))
	require.NoError(t, m.Track(ctx, Payload{Page: "/buy", SessionID: "sess-a"}))

	s := hub.State()
	require.Len(t, s.State["sess-a"], 1)
	assert.Equal(t, "/buy", s.State["sess-a"][0].Page)
	assert.Equal(t, uint64(2), s.State["sess-a"][0].Seq)

	// slow reader only sees the newest state
	got := latest(t, m)
	assert.Equal(t, "/buy", got.State["sess-a"][0].Page)
}

func TestHub_FlattenOrdersBySequence(t *testing.T) {
	hub := NewHub(DefaultChannel, HubOptions{})
	ctx := context.Background()

	first, _ := hub.Join(ctx, "sess-a")
	second, _ := hub.Join(ctx, "sess-a")
	other, _ := hub.Join(ctx, "sess-b")

	require.NoError(t, second.Track(ctx, Payload{Page: "/old", SessionID: "sess-a"}))
	require.NoError(t, other.Track(ctx, Payload{Page: "/rates", SessionID: "sess-b"}))
	require.NoError(t, first.Track(ctx, Payload{Page: "/new", SessionID: "sess-a"}))

	flat := hub.State().Flatten()
	require.Len(t, flat, 3)
	assert.Equal(t, []string{"/old", "/rates", "/new"}, []string{flat[0].Page, flat[1].Page, flat[2].Page})
}

func TestHub_LeaveNotifiesAndClosesMailbox(t *testing.T) {
	hub := NewHub(DefaultChannel, HubOptions{})
	ctx := context.Background()

	a, _ := hub.Join(ctx, "sess-a")
	b, _ := hub.Join(ctx, "sess-b")
	require.NoError(t, a.Track(ctx, Payload{Page: "/", SessionID: "sess-a"}))

	require.NoError(t, a.Leave())
	assert.Empty(t, latest(t, b).State)

	assertClosed(t, a)

	assert.ErrorIs(t, a.Leave(), ErrNotJoined)
	assert.ErrorIs(t, a.Track(ctx, Payload{}), ErrNotJoined)
	assert.Equal(t, 1, hub.Members())
}

func TestHub_Close(t *testing.T) {
	hub := NewHub(DefaultChannel, HubOptions{})
	ctx := context.Background()

	m, _ := hub.Join(ctx, "sess-a")
	require.NoError(t, hub.Close(ctx))

	_, err := hub.Join(ctx, "sess-b")
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.ErrorIs(t, m.Track(ctx, Payload{}), ErrChannelClosed)
	assert.ErrorIs(t, m.Leave(), ErrChannelClosed)
	assert.NoError(t, hub.Close(ctx))
}

func TestHub_JoinCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHub(DefaultChannel, HubOptions{}).Join(ctx, "sess-a")
	assert.ErrorIs(t, err, context.Canceled)
}

type recordingMirror struct {
	mu      sync.Mutex
	puts    []Presence
	removes []Presence
}

func (r *recordingMirror) Put(_ context.Context, p Presence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts = append(r.puts, p)
	return nil
}

func (r *recordingMirror) Remove(_ context.Context, p Presence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes = append(r.removes, p)
	return nil
}

func TestHub_Mirror(t *testing.T) {
	mirror := &recordingMirror{}
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	hub := NewHub(DefaultChannel, HubOptions{Mirror: mirror, Metrics: metrics})
	ctx := context.Background()

	tab1, _ := hub.Join(ctx, "sess-a")
	tab2, _ := hub.Join(ctx, "sess-a")
	require.NoError(t, tab1.Track(ctx, Payload{Page: "/", SessionID: "sess-a"}))
	require.NoError(t, tab2.Track(ctx, Payload{Page: "/buy", SessionID: "sess-a"}))

	require.NoError(t, tab2.Leave())
	require.NoError(t, tab1.Leave())
	require.NoError(t, hub.Close(ctx))

	mirror.mu.Lock()
	defer mirror.mu.Unlock()
	assert.Len(t, mirror.puts, 3, "two tracks and the surviving tab re-put")
	require.Len(t, mirror.removes, 1, "removed once the last tab leaves")
	assert.Equal(t, "sess-a", mirror.removes[0].SessionID)

	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PresenceMembers))
	assert.Greater(t, testutil.ToFloat64(metrics.PresenceSyncsTotal), 0.0)
}

func TestHub_MirrorRefresh(t *testing.T) {
	mirror := &recordingMirror{}
	hub := NewHub(DefaultChannel, HubOptions{Mirror: mirror})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tab1, _ := hub.Join(ctx, "sess-a")
	tab2, _ := hub.Join(ctx, "sess-a")
	idle, _ := hub.Join(ctx, "sess-b")
	_, _ = hub.Join(ctx, "lurker")
	require.NoError(t, tab1.Track(ctx, Payload{Page: "/", SessionID: "sess-a"}))
	require.NoError(t, tab2.Track(ctx, Payload{Page: "/buy", SessionID: "sess-a"}))
	require.NoError(t, idle.Track(ctx, Payload{Page: "/sell", SessionID: "sess-b"}))
	require.NoError(t, hub.writes.Wait(ctx))

	mirror.mu.Lock()
	mirror.puts = nil
	mirror.mu.Unlock()

	require.NoError(t, hub.RefreshMirror(ctx))

	mirror.mu.Lock()
	pages := map[string]string{}
	for _, p := range mirror.puts {
		pages[p.SessionID] = p.Page
	}
	mirror.mu.Unlock()
	assert.Equal(t, map[string]string{"sess-a": "/buy", "sess-b": "/sell"}, pages, "one put per session, newest payload")

	hub.StartMirrorRefresh(ctx, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		mirror.mu.Lock()
		defer mirror.mu.Unlock()
		return len(mirror.puts) >= 4
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, hub.Close(context.Background()))
	assert.NoError(t, hub.RefreshMirror(context.Background()), "closed hub refreshes nothing")
}
