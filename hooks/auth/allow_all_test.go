// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package auth

import (
	"testing"

	mqtt "github.com/mochi-mqtt/session"
	"github.com/mochi-mqtt/session/packets"
	"github.com/stretchr/testify/require"
)

func TestAllowHookProvides(t *testing.T) {
	h := new(AllowHook)
	require.Equal(t, "allow-all-auth", h.ID())
	for _, b := range []byte{mqtt.OnACLCheck, mqtt.OnConnectAuthenticate, mqtt.OnAuthorizeForward} {
		require.True(t, h.Provides(b))
	}
	require.False(t, h.Provides(mqtt.OnPublished))
}

func TestAllowHookInit(t *testing.T) {
	h := new(AllowHook)
	h.SetOpts(logger, nil)
	require.NoError(t, h.Init(nil))
	require.ErrorIs(t, h.Init(&Options{}), mqtt.ErrInvalidConfigType)
}

func TestAllowHookAllowsEverything(t *testing.T) {
	h := new(AllowHook)
	cl := clientNamed("banned-user", "123.123.123.123")

	require.True(t, h.OnConnectAuthenticate(cl, packets.Packet{}))
	require.True(t, h.OnACLCheck(cl, "$SYS/broker/uptime", true))

	env, ok := h.OnAuthorizeForward(cl, mqtt.Envelope{Topic: "a/b", Payload: []byte("x")})
	require.True(t, ok)
	require.Equal(t, "a/b", env.Topic)
}
