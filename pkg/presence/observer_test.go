package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(key, session, page string, seq uint64) Presence {
	return Presence{Key: key, Seq: seq, Payload: Payload{SessionID: session, Page: page}}
}

func TestRebuild_ExcludesObserver(t *testing.T) {
	flat := []Presence{
		entry("s1", "s1", "/", 1),
		entry(DefaultObserverKey, DefaultObserverKey, "/admin", 2),
		entry("s2", DefaultObserverKey, "/admin", 3),
		entry(DefaultObserverKey, "s9", "/admin", 4),
	}

	active := Rebuild(flat, DefaultObserverKey)
	assert.Equal(t, 1, active.Total)
	require.Len(t, active.Users, 1)
	assert.Equal(t, "s1", active.Users[0].SessionID)
	assert.Equal(t, []PageCount{{Page: "/", Count: 1}}, active.Pages)
}

func TestRebuild_DedupesKeepingLast(t *testing.T) {
	flat := []Presence{
		entry("s1", "s1", "/", 1),
		entry("s2", "s2", "/buy", 2),
		entry("s1-transient", "s1", "/sell", 3),
		entry("s3", "s3", "/buy", 4),
		entry("s1", "s1", "/rates", 5),
	}

	active := Rebuild(flat, DefaultObserverKey)
	assert.Equal(t, 3, active.Total)

	bySession := map[string]string{}
	for _, u := range active.Users {
		bySession[u.SessionID] = u.Page
	}
	assert.Equal(t, map[string]string{"s1": "/rates", "s2": "/buy", "s3": "/buy"}, bySession)
	assert.Equal(t, []PageCount{{"/buy", 2}, {"/rates", 1}}, active.Pages)
}

func TestRebuild_PageTiesSortByName(t *testing.T) {
	flat := []Presence{
		entry("s1", "s1", "/sell", 1),
		entry("s2", "s2", "/buy", 2),
	}
	assert.Equal(t, []PageCount{{"/buy", 1}, {"/sell", 1}}, Rebuild(flat, DefaultObserverKey).Pages)
}

func TestRebuild_Empty(t *testing.T) {
	active := Rebuild(nil, DefaultObserverKey)
	assert.Zero(t, active.Total)
	assert.NotNil(t, active.Users)
	assert.NotNil(t, active.Pages)
}

func TestObserver_Run(t *testing.T) {
	hub := NewHub(DefaultChannel, HubOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	obs := NewObserver(hub, "", nil)
	changes := make(chan ActiveSet, 16)
	obs.OnChange(func(a ActiveSet) { changes <- a })

	done := make(chan error, 1)
	go func() { done <- obs.Run(ctx) }()

	require.Eventually(t, func() bool { return hub.Members() == 1 }, time.Second, 5*time.Millisecond)

	visitor, err := hub.Join(ctx, "sess-a")
	require.NoError(t, err)
	require.NoError(t, visitor.Track(ctx, Payload{Page: "/sell", SessionID: "sess-a"}))

	require.Eventually(t, func() bool { return obs.Active().Total == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "/sell", obs.Active().Pages[0].Page)
	assert.NotEmpty(t, changes)

	_, tracked := hub.State().State[DefaultObserverKey]
	assert.False(t, tracked, "observer never tracks")

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, 1, hub.Members(), "observer left on return")
}

func TestObserver_ChannelClosed(t *testing.T) {
	hub := NewHub(DefaultChannel, HubOptions{})
	obs := NewObserver(hub, "ops", nil)

	done := make(chan error, 1)
	go func() { done <- obs.Run(context.Background()) }()
	require.Eventually(t, func() bool { return hub.Members() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Close(context.Background()))
	assert.ErrorIs(t, <-done, ErrChannelClosed)
}
