package widget

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type viewLog struct {
	mu    sync.Mutex
	views []View
}

func (l *viewLog) render(v View) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.views = append(l.views, v)
}

func (l *viewLog) last() View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.views[len(l.views)-1]
}

func (l *viewLog) all() []View {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]View(nil), l.views...)
}

func wait(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
		return Result{}
	}
}

var customerLast = Snapshot{
	{AuthorName: "Jane", AuthorRole: RoleEndUser, Content: "My router is down"},
}

var agentLast = Snapshot{
	{AuthorName: "Jane", AuthorRole: RoleEndUser, Content: "My router is down"},
	{AuthorName: "Sam", AuthorRole: RoleAgent, Content: "Looking into it"},
}

func TestWidgetGenerateResolves(t *testing.T) {
	views := &viewLog{}
	w := &Widget{
		Relay:       &fakeRelay{latest: botOn(2, "Restart it.")},
		Interval:    time.Millisecond,
		MaxAttempts: 10,
		Render:      views.render,
	}

	r := wait(t, w.Generate(context.Background(), "42", customerLast))
	require.NoError(t, r.Err)
	assert.Equal(t, StateResolved, r.State)
	assert.Equal(t, "Restart it.", r.Text)

	last := views.last()
	assert.Equal(t, StateResolved, last.State)
	assert.False(t, last.Retry)
}

func TestWidgetSecondGenerateCancelsFirst(t *testing.T) {
	first := &fakeRelay{}
	views := &viewLog{}
	w := &Widget{
		Relay:       first,
		Interval:    time.Millisecond,
		MaxAttempts: 100000,
		Render:      views.render,
	}

	r1 := w.Generate(context.Background(), "42", customerLast)
	require.Eventually(t, func() bool { return first.latestCalls.Load() > 0 }, time.Second, time.Millisecond)

	second := &fakeRelay{latest: botOn(1, "second answer")}
	w.Relay = second
	r2 := w.Generate(context.Background(), "42", customerLast)

	res1 := wait(t, r1)
	assert.ErrorIs(t, res1.Err, context.Canceled)
	assert.Equal(t, StateIdle, res1.State)

	calls := first.latestCalls.Load()
	res2 := wait(t, r2)
	require.NoError(t, res2.Err)
	assert.Equal(t, "second answer", res2.Text)

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, calls, first.latestCalls.Load(), "superseded loop kept polling")
	assert.Equal(t, StateResolved, views.last().State)
}

func TestWidgetSupersededLoopIsSilent(t *testing.T) {
	release := make(chan struct{})
	slow := &fakeRelay{sendWait: release}
	views := &viewLog{}
	w := &Widget{Relay: slow, Interval: time.Millisecond, MaxAttempts: 5, Render: views.render}

	r1 := w.Generate(context.Background(), "42", customerLast)
	require.Eventually(t, func() bool { return len(views.all()) == 1 }, time.Second, time.Millisecond)

	w.Relay = &fakeRelay{latest: botOn(1, "fresh")}
	r2 := w.Generate(context.Background(), "42", customerLast)
	close(release)

	wait(t, r1)
	wait(t, r2)
	for _, v := range views.all()[1:] {
		assert.NotEqual(t, StateFailed, v.State, "cancelled loop must not render a failure")
	}
	assert.Equal(t, StateResolved, views.last().State)
}

func TestWidgetAutoTrigger(t *testing.T) {
	t.Run("customer spoke last", func(t *testing.T) {
		relay := &fakeRelay{latest: botOn(1, "ok")}
		w := &Widget{Relay: relay, Interval: time.Millisecond}

		ch := w.OnConversationChanged(context.Background(), "42", customerLast)
		require.NotNil(t, ch)
		r := wait(t, ch)
		assert.Equal(t, StateResolved, r.State)
		assert.Len(t, relay.sent, 1)
	})

	t.Run("agent spoke last", func(t *testing.T) {
		relay := &fakeRelay{}
		views := &viewLog{}
		w := &Widget{Relay: relay, Interval: time.Millisecond, Render: views.render}

		ch := w.OnConversationChanged(context.Background(), "42", agentLast)
		assert.Nil(t, ch)
		assert.Empty(t, relay.sent)
		v := views.last()
		assert.Equal(t, StateIdle, v.State)
		assert.True(t, v.Retry)
	})

	t.Run("empty conversation", func(t *testing.T) {
		w := &Widget{Relay: &fakeRelay{}}
		assert.Nil(t, w.OnConversationChanged(context.Background(), "42", nil))
	})
}

func TestWidgetTimeoutOffersRetry(t *testing.T) {
	views := &viewLog{}
	w := &Widget{Relay: &fakeRelay{}, Interval: time.Millisecond, MaxAttempts: 3, Render: views.render}

	r := wait(t, w.Generate(context.Background(), "42", customerLast))
	assert.Equal(t, StateTimedOut, r.State)
	assert.ErrorIs(t, r.Err, ErrTimeout)

	v := views.last()
	assert.Equal(t, StateTimedOut, v.State)
	assert.True(t, v.Retry)
	assert.False(t, v.SetupRequired)
}

func TestWidgetSetupRequired(t *testing.T) {
	views := &viewLog{}
	relay := &fakeRelay{sendErr: &HTTPError{StatusCode: 404, Code: "SETUP_REQUIRED", Message: "Configuration not found"}}
	w := &Widget{Relay: relay, Interval: time.Millisecond, Render: views.render}

	r := wait(t, w.Generate(context.Background(), "42", customerLast))
	assert.Equal(t, StateFailed, r.State)
	assert.ErrorIs(t, r.Err, ErrSetupRequired)

	v := views.last()
	assert.True(t, v.Retry)
	assert.True(t, v.SetupRequired)
}

func TestWidgetCancel(t *testing.T) {
	relay := &fakeRelay{}
	w := &Widget{Relay: relay, Interval: time.Millisecond, MaxAttempts: 100000}

	ch := w.Generate(context.Background(), "42", customerLast)
	require.Eventually(t, func() bool { return relay.latestCalls.Load() > 0 }, time.Second, time.Millisecond)
	w.Cancel()

	r := wait(t, ch)
	assert.Equal(t, StateIdle, r.State)
	calls := relay.latestCalls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, calls, relay.latestCalls.Load())

	// no loop running is a no-op
	w.Cancel()
}

func TestWidgetRenderCanCancel(t *testing.T) {
	relay := &fakeRelay{}
	w := &Widget{Relay: relay, Interval: time.Millisecond, MaxAttempts: 100000}
	w.Render = func(v View) {
		if v.State == StatePolling {
			w.Cancel()
		}
	}

	r := wait(t, w.Generate(context.Background(), "42", customerLast))
	assert.Equal(t, StateIdle, r.State)
	assert.ErrorIs(t, r.Err, context.Canceled)
	assert.EqualValues(t, 0, relay.latestCalls.Load(), "cancelled before the first poll")
}

func TestWidgetRenderCanRetry(t *testing.T) {
	relay := &fakeRelay{latest: func(attempt int) (*Message, error) {
		if attempt > 2 {
			return &Message{ID: "msg_bot", Role: RoleBot, Text: "second try"}, nil
		}
		return nil, nil
	}}
	retried := make(chan (<-chan Result), 1)
	w := &Widget{Relay: relay, Interval: time.Millisecond, MaxAttempts: 2}
	w.Render = func(v View) {
		if v.State == StateTimedOut && v.Retry {
			retried <- w.Generate(context.Background(), "42", customerLast)
		}
	}

	first := wait(t, w.Generate(context.Background(), "42", customerLast))
	assert.Equal(t, StateTimedOut, first.State)

	var second <-chan Result
	select {
	case second = <-retried:
	case <-time.After(5 * time.Second):
		t.Fatal("retry from Render did not start a new loop")
	}
	r := wait(t, second)
	assert.Equal(t, StateResolved, r.State)
	assert.Equal(t, "second try", r.Text)
}
