package target_test

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/relay-agent/pkg/core/target"
)

func TestSessionFromCookies(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	cases := []struct {
		name    string
		cookies []*network.Cookie
		has     bool
		expired bool
	}{
		{"missing", []*network.Cookie{{Name: "other"}}, false, false},
		{"http only session cookie", []*network.Cookie{{Name: "sid", HTTPOnly: true, Session: true}}, true, false},
		{"persistent valid", []*network.Cookie{{Name: "sid", HTTPOnly: true, Expires: float64(now.Unix() + 3600)}}, true, false},
		{"persistent expired", []*network.Cookie{{Name: "sid", Expires: float64(now.Unix() - 1)}}, true, true},
		{"nil entries skipped", []*network.Cookie{nil, {Name: "sid", Session: true}}, true, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := target.SessionFromCookies(tc.cookies, "sid", now)
			assert.Equal(t, tc.has, st.HasSession)
			assert.Equal(t, tc.expired, st.IsExpired)
		})
	}
}

func TestCDPOpener_SessionCookieWithoutRemote(t *testing.T) {
	o := target.NewCDPOpener("", "ws://127.0.0.1:8719/agent/ws", time.Second, nil)
	_, err := o.SessionCookie(context.Background(), "https://seller.example.com", "sid")
	require.Error(t, err)
}
