package locmux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMockGateway_SubscribeAndInject(t *testing.T) {
	g := NewMockGateway()
	id, events := g.Subscribe()

	g.InjectEnter("region-1")
	ev := <-events
	require.Equal(t, KindRawEnter, ev.Kind)
	require.Equal(t, "region-1", ev.RegionID)

	g.InjectLocation(51.5, -0.12)
	ev = <-events
	require.Equal(t, KindLocationUpdate, ev.Kind)
	require.Equal(t, 51.5, ev.Latitude)

	g.Unsubscribe(id)
	_, open := <-events
	require.False(t, open, "channel should be closed after Unsubscribe")
}

func TestMockGateway_SlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	g := NewMockGateway()
	_, events := g.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*2; i++ {
			g.InjectVisit()
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber channel")
	}
	require.NotEmpty(t, events)
}

func TestMockGateway_CommandRecording(t *testing.T) {
	g := NewMockGateway()

	require.NoError(t, g.StartMonitoring(MonitoredRegion{ID: "a", RadiusM: 100}))
	require.NoError(t, g.StartMonitoring(MonitoredRegion{ID: "b", RadiusM: 200}))
	require.NoError(t, g.StopMonitoring("a"))
	require.NoError(t, g.StopAllMonitoring())
	require.NoError(t, g.StartCoarseMode())

	require.Len(t, g.Started(), 2)
	require.Equal(t, 1, g.StopAllCalls())
	require.True(t, g.CoarseActive())
	require.Empty(t, g.Active())

	g.ResetCounters()
	require.Empty(t, g.Started())
	require.Zero(t, g.StopAllCalls())
}

func TestMockGateway_RequestStatePrimed(t *testing.T) {
	g := NewMockGateway()

	s, err := g.RequestState("a")
	require.NoError(t, err)
	require.Equal(t, StateUnknown, s)

	g.SetState("a", StateInside)
	s, err = g.RequestState("a")
	require.NoError(t, err)
	require.Equal(t, StateInside, s)
}

func TestMockGateway_ReplayScript(t *testing.T) {
	g := NewMockGateway()
	_, events := g.Subscribe()

	script := `
# fixture playback
enter home
exit home
loc 48.1 11.5
auth always precise
visit
error gps wedged
bogus directive
`
	require.NoError(t, g.ReplayScript(context.Background(), script))

	kinds := make([]EventKind, 0, 6)
	for i := 0; i < 6; i++ {
		select {
		case ev := <-events:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
	require.Equal(t, []EventKind{
		KindRawEnter, KindRawExit, KindLocationUpdate,
		KindAuthChanged, KindVisit, KindError,
	}, kinds)
}

func TestMockGateway_ReplayScriptHonoursContext(t *testing.T) {
	g := NewMockGateway()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.ReplayScript(ctx, "sleep 10s\nenter home\n")
	require.Error(t, err)
}
