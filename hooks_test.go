// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mochi-mqtt/session/hooks/storage"
	"github.com/mochi-mqtt/session/packets"
)

var errTestHook = errors.New("error")

// modifiedHookBase provides every method, failing them when fail is set.
type modifiedHookBase struct {
	HookBase
	*storage.Store
	fail bool
}

func newModifiedHook(fail bool) *modifiedHookBase {
	return &modifiedHookBase{
		Store: storage.NewStore(storage.NewMemoryKV()),
		fail:  fail,
	}
}

func (h *modifiedHookBase) ID() string {
	return "modified"
}

func (h *modifiedHookBase) Init(config any) error {
	if config != nil {
		return errTestHook
	}
	return nil
}

func (h *modifiedHookBase) Provides(b byte) bool {
	return true
}

func (h *modifiedHookBase) Stop() error {
	if h.fail {
		return errTestHook
	}
	return nil
}

func (h *modifiedHookBase) OnConnect(cl *Client, pk packets.Packet) error {
	if h.fail {
		return errTestHook
	}
	return nil
}

func (h *modifiedHookBase) OnConnectAuthenticate(cl *Client, pk packets.Packet) bool {
	return !h.fail
}

func (h *modifiedHookBase) OnACLCheck(cl *Client, topic string, write bool) bool {
	return !h.fail
}

func (h *modifiedHookBase) OnPublish(cl *Client, pk packets.Packet) (packets.Packet, error) {
	if h.fail {
		if pk.TopicName == "reject" {
			return pk, ErrRejectPacket
		}
		return pk, errTestHook
	}

	pk.TopicName = "modified/" + pk.TopicName
	return pk, nil
}

func (h *modifiedHookBase) OnPacketRead(cl *Client, pk packets.Packet) (packets.Packet, error) {
	if h.fail {
		if pk.TopicName == "reject" {
			return pk, ErrRejectPacket
		}
		return pk, errTestHook
	}

	pk.TopicName = "modified"
	return pk, nil
}

func (h *modifiedHookBase) OnAuthorizeForward(cl *Client, env Envelope) (Envelope, bool) {
	if h.fail {
		return env, false
	}
	env.Topic = "forwarded"
	return env, true
}

func (h *modifiedHookBase) OnWill(cl *Client, will Will) (Will, error) {
	if h.fail {
		return will, errTestHook
	}
	will.Topic = "modified"
	return will, nil
}

func (h *modifiedHookBase) OutgoingEnqueue(client string, m storage.Message) error {
	if h.fail {
		return errTestHook
	}
	return h.Store.OutgoingEnqueue(client, m)
}

type providesCheckHook struct {
	HookBase
}

func (h *providesCheckHook) Provides(b byte) bool {
	return b == OnConnect
}

func newHooks(hooks ...Hook) *Hooks {
	h := &Hooks{Log: logger}
	for _, hook := range hooks {
		_ = h.Add(hook, nil)
	}
	return h
}

func TestHooksProvides(t *testing.T) {
	h := newHooks(new(providesCheckHook))
	require.True(t, h.Provides(OnConnect, OnDisconnect))
	require.False(t, h.Provides(OnDisconnect, OnPublish))
}

func TestHooksAddLenGetAll(t *testing.T) {
	h := newHooks(new(modifiedHookBase), new(providesCheckHook))
	require.Equal(t, int64(2), h.Len())

	all := h.GetAll()
	require.Equal(t, "modified", all[0].ID())
	require.Equal(t, "base", all[1].ID())
}

func TestHooksAddInitFailure(t *testing.T) {
	h := newHooks()
	err := h.Add(new(modifiedHookBase), map[string]any{})
	require.ErrorIs(t, err, errTestHook)
	require.Equal(t, int64(0), h.Len())
}

func TestHooksStop(t *testing.T) {
	h := newHooks(newModifiedHook(false), newModifiedHook(true))
	h.Stop()
	require.Equal(t, int64(2), h.Len())
}

func TestHooksNonReturns(t *testing.T) {
	h := newHooks()
	cl := new(Client)

	for i := 0; i < 2; i++ {
		t.Run("step", func(t *testing.T) {
			// on first iteration, check without hook methods
			h.OnStarted()
			h.OnStopped()
			h.OnSysInfoTick(nil)
			h.OnSessionEstablished(cl, packets.Packet{})
			h.OnDisconnect(cl, nil, false)
			h.OnClientError(cl, nil)
			h.OnConnectionError(cl, nil)
			h.OnPacketSent(cl, packets.Packet{}, []byte{})
			h.OnPacketProcessed(cl, packets.Packet{}, nil)
			h.OnSubscribed(cl, packets.Packet{}, []byte{1})
			h.OnUnsubscribed(cl, packets.Packet{})
			h.OnPublished(cl, packets.Packet{})
			h.OnPublishDropped(cl, packets.Packet{})
			h.OnQosPublish(cl, packets.Packet{})
			h.OnQosComplete(cl, packets.Packet{})
			h.OnQosDropped(cl, packets.Packet{})
			h.OnPacketIDExhausted(cl, packets.Packet{})
			h.OnWillSent(cl, packets.Packet{})
			h.OnPing(cl)

			// on second iteration, check added hook methods
			require.NoError(t, h.Add(new(modifiedHookBase), nil))
		})
	}
}

func TestHooksOnConnectAuthenticate(t *testing.T) {
	h := newHooks()
	require.False(t, h.OnConnectAuthenticate(new(Client), packets.Packet{}))

	require.NoError(t, h.Add(newModifiedHook(true), nil))
	require.False(t, h.OnConnectAuthenticate(new(Client), packets.Packet{}))

	require.NoError(t, h.Add(newModifiedHook(false), nil))
	require.True(t, h.OnConnectAuthenticate(new(Client), packets.Packet{}))
}

func TestHooksOnACLCheck(t *testing.T) {
	h := newHooks()
	require.False(t, h.OnACLCheck(new(Client), "a/b", true))

	require.NoError(t, h.Add(newModifiedHook(false), nil))
	require.True(t, h.OnACLCheck(new(Client), "a/b", true))
}

func TestHooksOnConnect(t *testing.T) {
	h := newHooks(newModifiedHook(false))
	require.NoError(t, h.OnConnect(new(Client), packets.Packet{}))

	require.NoError(t, h.Add(newModifiedHook(true), nil))
	require.ErrorIs(t, h.OnConnect(new(Client), packets.Packet{}), errTestHook)
}

func TestHooksOnPublish(t *testing.T) {
	h := newHooks(newModifiedHook(false))
	pk, err := h.OnPublish(new(Client), packets.Packet{TopicName: "a"})
	require.NoError(t, err)
	require.Equal(t, "modified/a", pk.TopicName)

	h = newHooks(newModifiedHook(true))
	pk, err = h.OnPublish(new(Client), packets.Packet{TopicName: "reject"})
	require.ErrorIs(t, err, ErrRejectPacket)
	require.Equal(t, "reject", pk.TopicName)

	_, err = h.OnPublish(new(Client), packets.Packet{TopicName: "a"})
	require.ErrorIs(t, err, errTestHook)
}

func TestHooksOnPacketRead(t *testing.T) {
	h := newHooks(newModifiedHook(true), newModifiedHook(false))

	// a plain error skips the failing hook
	pk, err := h.OnPacketRead(new(Client), packets.Packet{TopicName: "a"})
	require.NoError(t, err)
	require.Equal(t, "modified", pk.TopicName)

	pk, err = h.OnPacketRead(new(Client), packets.Packet{TopicName: "reject"})
	require.ErrorIs(t, err, ErrRejectPacket)
	require.Equal(t, "reject", pk.TopicName)
}

func TestHooksOnSubscribeUnsubscribe(t *testing.T) {
	h := newHooks(new(modifiedHookBase))
	pk := packets.Packet{Filters: packets.Subscriptions{{Filter: "a"}}}
	require.Equal(t, pk, h.OnSubscribe(new(Client), pk))
	require.Equal(t, pk, h.OnUnsubscribe(new(Client), pk))
	require.Equal(t, pk, h.OnPacketEncode(new(Client), pk))
}

func TestHooksOnAuthorizeForward(t *testing.T) {
	h := newHooks()
	env, ok := h.OnAuthorizeForward(new(Client), Envelope{Topic: "a"})
	require.True(t, ok)
	require.Equal(t, "a", env.Topic)

	require.NoError(t, h.Add(newModifiedHook(false), nil))
	env, ok = h.OnAuthorizeForward(new(Client), Envelope{Topic: "a"})
	require.True(t, ok)
	require.Equal(t, "forwarded", env.Topic)

	require.NoError(t, h.Add(newModifiedHook(true), nil))
	_, ok = h.OnAuthorizeForward(new(Client), Envelope{Topic: "a"})
	require.False(t, ok)
}

func TestHooksOnWill(t *testing.T) {
	h := newHooks(newModifiedHook(true))
	w := h.OnWill(new(Client), Will{Topic: "a"})
	require.Equal(t, "a", w.Topic)

	require.NoError(t, h.Add(newModifiedHook(false), nil))
	w = h.OnWill(new(Client), Will{Topic: "a"})
	require.Equal(t, "modified", w.Topic)
}

func TestHooksStorageJoinsErrors(t *testing.T) {
	good := newModifiedHook(false)
	h := newHooks(good, newModifiedHook(true))

	err := h.OutgoingEnqueue("c1", storage.Message{TopicName: "a", BrokerID: "b1", BrokerCounter: 1})
	require.ErrorIs(t, err, errTestHook)
	require.Contains(t, err.Error(), "modified")

	// the working hook still stored the message
	msgs, err := good.OutgoingStream("c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestHooksStorageReadsFirstProvider(t *testing.T) {
	first := newModifiedHook(false)
	second := newModifiedHook(false)
	require.NoError(t, second.AddSubscriptions("c1", []storage.Subscription{{Filter: "a"}}))
	require.NoError(t, second.StoreRetained(storage.Message{TopicName: "r", Payload: []byte("x")}))

	h := newHooks(first, second)
	subs, err := h.ClientSubscriptions("c1")
	require.NoError(t, err)
	require.Empty(t, subs)

	msgs, err := h.StoredRetainedMessages()
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestHooksStorageWithoutProvider(t *testing.T) {
	h := newHooks()

	require.NoError(t, h.OutgoingEnqueue("c1", storage.Message{}))
	require.NoError(t, h.ClearSession("c1"))

	msgs, err := h.OutgoingStream("c1")
	require.NoError(t, err)
	require.Nil(t, msgs)

	_, err = h.IncomingTake("c1", 1)
	require.ErrorIs(t, err, storage.ErrNotFound)

	wills, err := h.StoredWills("b1")
	require.NoError(t, err)
	require.Nil(t, wills)
}

func TestHookBaseID(t *testing.T) {
	h := new(HookBase)
	require.Equal(t, "base", h.ID())
}

func TestHookBaseProvidesNone(t *testing.T) {
	h := new(HookBase)
	for _, b := range []byte{OnConnect, OnPublish, OutgoingEnqueue, StoredWills} {
		require.False(t, h.Provides(b))
	}
}

func TestHookBaseInit(t *testing.T) {
	h := new(HookBase)
	require.Nil(t, h.Init(nil))
}

func TestHookBaseSetOpts(t *testing.T) {
	h := new(HookBase)
	h.SetOpts(logger, new(HookOptions))
	require.NotNil(t, h.Log)
	require.NotNil(t, h.Opts)
}

func TestHookBaseStop(t *testing.T) {
	h := new(HookBase)
	require.NoError(t, h.Stop())
}

func TestHookBaseDefaults(t *testing.T) {
	h := new(HookBase)
	cl := new(Client)
	pk := packets.Packet{TopicName: "a"}

	require.False(t, h.OnConnectAuthenticate(cl, pk))
	require.False(t, h.OnACLCheck(cl, "a", true))
	require.NoError(t, h.OnConnect(cl, pk))

	got, err := h.OnPublish(cl, pk)
	require.NoError(t, err)
	require.Equal(t, pk, got)

	got, err = h.OnPacketRead(cl, pk)
	require.NoError(t, err)
	require.Equal(t, pk, got)

	env, ok := h.OnAuthorizeForward(cl, Envelope{Topic: "a"})
	require.True(t, ok)
	require.Equal(t, "a", env.Topic)

	w, err := h.OnWill(cl, Will{Topic: "a"})
	require.NoError(t, err)
	require.Equal(t, "a", w.Topic)
}
