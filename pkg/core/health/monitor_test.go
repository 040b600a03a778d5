package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/relay-agent/pkg/core/dispatch"
	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
	"github.com/LENAX/relay-agent/pkg/events"
	"github.com/LENAX/relay-agent/test/mocks"
)

type fakeLocator struct {
	t   target.Target
	err error
}

func (f *fakeLocator) Locate() (target.Target, error) { return f.t, f.err }

type fakeIdentity struct {
	ident dispatch.Identity
	err   error
	calls int
}

func (f *fakeIdentity) Identity(ctx context.Context, t target.Target) (dispatch.Identity, error) {
	f.calls++
	return f.ident, f.err
}

type fakeNotifier struct {
	reasons []string
	err     error
}

func (f *fakeNotifier) NotifyDisconnect(ctx context.Context, reason string, at time.Time) error {
	f.reasons = append(f.reasons, reason)
	return f.err
}

type topicRecorder struct {
	mu     sync.Mutex
	topics []events.Topic
}

func (r *topicRecorder) Publish(ctx context.Context, ev *events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, ev.Topic)
	return nil
}

func newMonitor(loc Locator, id IdentityFetcher, n Notifier, pub events.Publisher) (*Monitor, *time.Time) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := New(Options{Locator: loc, Identity: id, Notifier: n, Publisher: pub, Interval: time.Minute})
	m.now = func() time.Time { return clock }
	return m, &clock
}

var alice = dispatch.Identity{UserID: "1", LoginName: "alice"}

func TestMonitor_DisconnectNotifiesOnce(t *testing.T) {
	ident := &fakeIdentity{ident: alice}
	notifier := &fakeNotifier{}
	pub := &topicRecorder{}
	m, _ := newMonitor(&fakeLocator{t: mocks.NewMockTarget("tab-1")}, ident, notifier, pub)

	m.Check(context.Background())
	assert.True(t, m.State().WasConnected)
	assert.Empty(t, notifier.reasons)

	ident.ident = dispatch.Identity{UserID: "1"}
	m.Check(context.Background())
	assert.False(t, m.State().WasConnected)
	require.Len(t, notifier.reasons, 1)

	// 持续断开不会重复通知
	m.Check(context.Background())
	assert.Len(t, notifier.reasons, 1)

	assert.Equal(t, []events.Topic{events.TopicConnectionRestored, events.TopicConnectionLost}, pub.topics)
}

func TestMonitor_IdentityErrorCountsAsDisconnected(t *testing.T) {
	ident := &fakeIdentity{ident: alice}
	notifier := &fakeNotifier{}
	m, _ := newMonitor(&fakeLocator{t: mocks.NewMockTarget("tab-1")}, ident, notifier, nil)

	m.Check(context.Background())
	ident.err = types.NewError(types.CodeTimeout, "超时")
	m.Check(context.Background())

	require.Len(t, notifier.reasons, 1)
	assert.Contains(t, notifier.reasons[0], "超时")
}

func TestMonitor_NotifyFailureStillUpdatesState(t *testing.T) {
	ident := &fakeIdentity{ident: alice}
	notifier := &fakeNotifier{err: errors.New("control plane down")}
	m, _ := newMonitor(&fakeLocator{t: mocks.NewMockTarget("tab-1")}, ident, notifier, nil)

	m.Check(context.Background())
	ident.ident = dispatch.Identity{}
	m.Check(context.Background())

	assert.False(t, m.State().WasConnected)
	// 不在本轮重试
	assert.Len(t, notifier.reasons, 1)
}

func TestMonitor_NoTargetSkipsSilently(t *testing.T) {
	ident := &fakeIdentity{}
	notifier := &fakeNotifier{}
	m, clock := newMonitor(&fakeLocator{err: types.ErrNoTarget}, ident, notifier, nil)

	m.Check(context.Background())
	assert.Zero(t, ident.calls)
	assert.Empty(t, notifier.reasons)
	assert.Equal(t, *clock, m.State().LastChecked)
}

func TestMonitor_MaybeCheckHonoursInterval(t *testing.T) {
	ident := &fakeIdentity{ident: alice}
	m, clock := newMonitor(&fakeLocator{t: mocks.NewMockTarget("tab-1")}, ident, nil, nil)

	assert.True(t, m.MaybeCheck(context.Background()))
	assert.False(t, m.MaybeCheck(context.Background()))

	*clock = clock.Add(30 * time.Second)
	assert.False(t, m.MaybeCheck(context.Background()))

	*clock = clock.Add(30 * time.Second)
	assert.True(t, m.MaybeCheck(context.Background()))
	assert.Equal(t, 2, ident.calls)
}
