// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"log/slog"
	"os"
	"testing"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/packets"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

// newLedgerHook returns an initialised hook checking against the rules of
// checkLedger.
func newLedgerHook(t *testing.T) (*Hook, *Ledger) {
	t.Helper()
	h := new(Hook)
	h.SetOpts(logger, nil)

	ln := &Ledger{
		Users: checkLedger.Users,
		Auth:  checkLedger.Auth,
		ACL:   checkLedger.ACL,
	}
	require.NoError(t, h.Init(&Options{Ledger: ln}))
	return h, ln
}

func clientNamed(username, remote string) *mqtt.Client {
	return &mqtt.Client{
		ID: "cl1",
		Properties: mqtt.ClientProperties{
			Username: []byte(username),
		},
		Net: mqtt.ClientConnection{
			Remote: remote,
		},
	}
}

func TestHookID(t *testing.T) {
	require.Equal(t, "auth-ledger", new(Hook).ID())
}

func TestHookProvides(t *testing.T) {
	h := new(Hook)
	require.True(t, h.Provides(mqtt.OnACLCheck))
	require.True(t, h.Provides(mqtt.OnConnectAuthenticate))
	require.True(t, h.Provides(mqtt.OnAuthorizeForward))
	require.False(t, h.Provides(mqtt.OnPublish))
	require.False(t, h.Provides(mqtt.StoredSubscriptions))
}

func TestHookInit(t *testing.T) {
	ln := &Ledger{
		Auth: AuthRules{{Remote: "127.0.0.1", Allow: true}},
		ACL:  ACLRules{{Remote: "127.0.0.1", Filters: Filters{"#": ReadWrite}}},
	}

	tt := []struct {
		desc    string
		config  any
		wantErr bool
		check   func(t *testing.T, h *Hook)
	}{
		{
			desc:    "wrong config type",
			config:  map[string]any{},
			wantErr: true,
		},
		{
			desc:   "nil config gives empty ledger",
			config: nil,
			check: func(t *testing.T, h *Hook) {
				require.NotNil(t, h.ledger)
				require.Empty(t, h.ledger.Auth)
				require.Empty(t, h.ledger.ACL)
			},
		},
		{
			desc:   "ledger pointer is used directly",
			config: &Options{Ledger: ln},
			check: func(t *testing.T, h *Hook) {
				require.Same(t, ln, h.ledger)
			},
		},
		{
			desc:   "json rules",
			config: &Options{Data: ledgerJSON},
			check: func(t *testing.T, h *Hook) {
				require.Equal(t, ledgerStruct.Auth, h.ledger.Auth)
				require.Equal(t, ledgerStruct.ACL, h.ledger.ACL)
			},
		},
		{
			desc:   "yaml rules",
			config: &Options{Data: ledgerYAML},
			check: func(t *testing.T, h *Hook) {
				require.Equal(t, ledgerStruct.Users, h.ledger.Users)
			},
		},
		{
			desc:    "unparseable rules",
			config:  &Options{Data: []byte("fdsfdsafasd")},
			wantErr: true,
		},
	}

	for _, d := range tt {
		t.Run(d.desc, func(t *testing.T) {
			h := new(Hook)
			h.SetOpts(logger, nil)
			err := h.Init(d.config)
			if d.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			d.check(t, h)
		})
	}
}

func TestHookOnConnectAuthenticate(t *testing.T) {
	h, _ := newLedgerHook(t)

	pass := func(p string) packets.Packet {
		return packets.Packet{Connect: packets.ConnectParams{Password: []byte(p)}}
	}

	require.True(t, h.OnConnectAuthenticate(clientNamed("mochi", ""), pass("melon")))
	require.True(t, h.OnConnectAuthenticate(clientNamed("mochi-co", ""), pass("melon")))
	require.True(t, h.OnConnectAuthenticate(clientNamed("anyone", "127.0.0.1"), packets.Packet{}))
	require.False(t, h.OnConnectAuthenticate(clientNamed("mochi", ""), pass("bad-pass")))
	require.False(t, h.OnConnectAuthenticate(clientNamed("banned-user", "127.0.0.1"), packets.Packet{}))
	require.False(t, h.OnConnectAuthenticate(&mqtt.Client{}, packets.Packet{}))
}

func TestHookOnConnectAuthenticateUsernameFromPacket(t *testing.T) {
	h, _ := newLedgerHook(t)

	// the username is read from the packet when the session has not yet
	// taken it on
	pk := packets.Packet{Connect: packets.ConnectParams{
		Username: []byte("mochi"),
		Password: []byte("melon"),
	}}
	require.True(t, h.OnConnectAuthenticate(&mqtt.Client{}, pk))
}

func TestHookOnACLCheck(t *testing.T) {
	h, _ := newLedgerHook(t)
	cl := clientNamed("mochi", "")

	require.True(t, h.OnACLCheck(cl, "mochi/info", true))
	require.False(t, h.OnACLCheck(cl, "d/j/f", true))
	require.True(t, h.OnACLCheck(cl, "readonly", false))
	require.False(t, h.OnACLCheck(cl, "readonly", true))
	require.False(t, h.OnACLCheck(cl, "$SYS/broker/uptime", false))
	require.True(t, h.OnACLCheck(clientNamed("admin", ""), "$SYS/broker/uptime", false))
}

func TestHookOnAuthorizeForward(t *testing.T) {
	h, _ := newLedgerHook(t)
	cl := clientNamed("mochi", "")

	env, ok := h.OnAuthorizeForward(cl, mqtt.Envelope{Topic: "readonly", Payload: []byte("hi")})
	require.True(t, ok)
	require.Equal(t, []byte("hi"), env.Payload)

	_, ok = h.OnAuthorizeForward(cl, mqtt.Envelope{Topic: "d/j/f"})
	require.False(t, ok)

	_, ok = h.OnAuthorizeForward(cl, mqtt.Envelope{Topic: "updates/mochi"})
	require.False(t, ok)
}

func TestHookOnAuthorizeForwardAfterUpdate(t *testing.T) {
	h, ln := newLedgerHook(t)
	cl := clientNamed("viewer", "")

	_, ok := h.OnAuthorizeForward(cl, mqtt.Envelope{Topic: "feeds/prices"})
	require.True(t, ok)

	ln.Update(&Ledger{
		ACL: ACLRules{
			{Username: "viewer", Filters: Filters{"feeds/#": Deny}},
		},
	})

	_, ok = h.OnAuthorizeForward(cl, mqtt.Envelope{Topic: "feeds/prices"})
	require.False(t, ok)
	require.False(t, h.OnACLCheck(cl, "feeds/prices", false))
}
