package target_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/relay-agent/pkg/core/target"
	"github.com/LENAX/relay-agent/pkg/core/types"
	"github.com/LENAX/relay-agent/test/mocks"
)

type stubProber struct {
	status types.SessionStatus
	err    error
	calls  int
}

func (p *stubProber) ProbeSession(ctx context.Context, t target.Target) (types.SessionStatus, error) {
	p.calls++
	return p.status, p.err
}

type stubOpener struct {
	onOpen func(url string)
	err    error
	urls   []string
}

func (o *stubOpener) OpenTab(ctx context.Context, url string) error {
	o.urls = append(o.urls, url)
	if o.onOpen != nil {
		o.onOpen(url)
	}
	return o.err
}

type chanWatcher struct {
	ch chan target.Target
}

func (w *chanWatcher) WatchReady() (<-chan target.Target, func()) {
	return w.ch, func() {}
}

func TestSelect_Policy(t *testing.T) {
	now := time.Now()
	first := mocks.NewMockTarget("first").SetInfo(func(i *target.Info) { i.ConnectedAt = now.Add(-time.Hour) })
	recent := mocks.NewMockTarget("recent").SetInfo(func(i *target.Info) { i.LastAccessed = now.Add(-time.Minute) })
	older := mocks.NewMockTarget("older").SetInfo(func(i *target.Info) { i.LastAccessed = now.Add(-time.Hour) })
	active := mocks.NewMockTarget("active").SetInfo(func(i *target.Info) {
		i.Active = true
		i.LastAccessed = now.Add(-2 * time.Hour)
	})
	notReady := mocks.NewMockTarget("loading").SetInfo(func(i *target.Info) {
		i.Active = true
		i.Ready = false
	})

	// 前台标签页优先
	got, err := target.Select([]target.Target{first, older, recent, active, notReady})
	require.NoError(t, err)
	assert.Equal(t, "active", got.ID())

	// 其次最近访问
	got, err = target.Select([]target.Target{first, older, recent})
	require.NoError(t, err)
	assert.Equal(t, "recent", got.ID())

	// 最后取最早连接的
	plain := mocks.NewMockTarget("plain")
	got, err = target.Select([]target.Target{plain, first})
	require.NoError(t, err)
	assert.Equal(t, "first", got.ID())

	// 未就绪的不参与选择
	_, err = target.Select([]target.Target{notReady})
	assert.True(t, errors.Is(err, types.ErrNoTarget))
}

// TestEnsure_NoTarget 没有执行目标时直接返回 NO_TARGET，不做任何探测
func TestEnsure_NoTarget(t *testing.T) {
	prober := &stubProber{status: types.SessionStatus{HasSession: true}}
	loc := target.NewLocator(target.LocatorOptions{
		Source: mocks.NewMockSource(),
		Prober: prober,
	})

	_, err := loc.Ensure(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.CodeNoTarget, types.CodeOf(err))
	assert.Contains(t, err.Error(), "打开站点")
	assert.Equal(t, 0, prober.calls)
}

func TestEnsure_SessionStates(t *testing.T) {
	tab := mocks.NewMockTarget("tab-1")
	cases := []struct {
		name   string
		status types.SessionStatus
		code   types.Code
	}{
		{"valid", types.SessionStatus{HasSession: true}, ""},
		{"no session", types.SessionStatus{HasSession: false}, types.CodeNoSession},
		{"expired", types.SessionStatus{HasSession: true, IsExpired: true}, types.CodeSessionExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loc := target.NewLocator(target.LocatorOptions{
				Source: mocks.NewMockSource(tab),
				Prober: &stubProber{status: tc.status},
			})
			got, err := loc.Ensure(context.Background())
			if tc.code == "" {
				require.NoError(t, err)
				assert.Equal(t, "tab-1", got.ID())
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.code, types.CodeOf(err))
		})
	}
}

func TestEnsure_ProbeError(t *testing.T) {
	loc := target.NewLocator(target.LocatorOptions{
		Source: mocks.NewMockSource(mocks.NewMockTarget("tab-1")),
		Prober: &stubProber{err: types.NewError(types.CodeTimeout, "超时")},
	})
	_, err := loc.Ensure(context.Background())
	assert.Equal(t, types.CodeTimeout, types.CodeOf(err))
}

func TestOpen_WaitsForReadyTarget(t *testing.T) {
	watcher := &chanWatcher{ch: make(chan target.Target, 1)}
	opened := mocks.NewMockTarget("new-tab")
	opener := &stubOpener{onOpen: func(string) {
		go func() {
			time.Sleep(20 * time.Millisecond)
			watcher.ch <- opened
		}()
	}}
	loc := target.NewLocator(target.LocatorOptions{
		Watcher:     watcher,
		Opener:      opener,
		SiteURL:     "https://seller.example.com/",
		LoadTimeout: time.Second,
	})

	got, err := loc.Open(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "new-tab", got.ID())
	assert.Equal(t, []string{"https://seller.example.com/"}, opener.urls)
}

func TestOpen_LoadTimeout(t *testing.T) {
	loc := target.NewLocator(target.LocatorOptions{
		Watcher:     &chanWatcher{ch: make(chan target.Target)},
		Opener:      &stubOpener{},
		SiteURL:     "https://seller.example.com/",
		LoadTimeout: 50 * time.Millisecond,
	})

	start := time.Now()
	_, err := loc.Open(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, types.CodeLoadTimeout, types.CodeOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestOpen_NotConfigured(t *testing.T) {
	loc := target.NewLocator(target.LocatorOptions{SiteURL: "https://seller.example.com/"})
	_, err := loc.Open(context.Background(), "")
	assert.Equal(t, types.CodeTargetUnavailable, types.CodeOf(err))

	loc = target.NewLocator(target.LocatorOptions{})
	_, err = loc.Open(context.Background(), "")
	assert.Equal(t, types.CodeInvalidRequest, types.CodeOf(err))
}

func TestOpen_OpenerError(t *testing.T) {
	loc := target.NewLocator(target.LocatorOptions{
		Watcher: &chanWatcher{ch: make(chan target.Target)},
		Opener:  &stubOpener{err: errors.New("connection refused")},
	})
	_, err := loc.Open(context.Background(), "https://seller.example.com/")
	require.Error(t, err)
	assert.Equal(t, types.CodeTargetUnavailable, types.CodeOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}
