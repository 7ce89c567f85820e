// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co, thedevop, dgduncan

package mqtt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mochi-mqtt/session/hooks/storage"
	"github.com/mochi-mqtt/session/packets"
	"github.com/mochi-mqtt/session/system"
)

const (
	SetOptions byte = iota
	OnSysInfoTick
	OnStarted
	OnStopped
	OnConnectAuthenticate
	OnACLCheck
	OnConnect
	OnSessionEstablished
	OnDisconnect
	OnClientError
	OnConnectionError
	OnPacketRead
	OnPacketEncode
	OnPacketSent
	OnPacketProcessed
	OnSubscribe
	OnSubscribed
	OnUnsubscribe
	OnUnsubscribed
	OnPublish
	OnPublished
	OnPublishDropped
	OnAuthorizeForward
	OnQosPublish
	OnQosComplete
	OnQosDropped
	OnPacketIDExhausted
	OnWill
	OnWillSent
	OnPing
	OutgoingEnqueue
	OutgoingUpdate
	OutgoingClearMessageID
	OutgoingStream
	IncomingStore
	IncomingTake
	PutWill
	DelWill
	StoredWills
	AddSubscriptions
	RemoveSubscriptions
	ClientSubscriptions
	StoredSubscriptions
	ClearSession
	StoreRetained
	StoredRetainedMessages
)

// StorageMethods lists the hook methods a complete storage backend provides.
var StorageMethods = []byte{
	OutgoingEnqueue,
	OutgoingUpdate,
	OutgoingClearMessageID,
	OutgoingStream,
	IncomingStore,
	IncomingTake,
	PutWill,
	DelWill,
	StoredWills,
	AddSubscriptions,
	RemoveSubscriptions,
	ClientSubscriptions,
	StoredSubscriptions,
	ClearSession,
	StoreRetained,
	StoredRetainedMessages,
}

var (
	// ErrInvalidConfigType indicates a different Type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")
)

// Hook provides an interface of handlers for different events which occur
// during the lifecycle of the broker. Storage methods are synchronous; the
// session runs them off its own goroutine and resumes when they return.
type Hook interface {
	ID() string
	Provides(b byte) bool
	Init(config any) error
	Stop() error
	SetOpts(l *slog.Logger, o *HookOptions)
	OnStarted()
	OnStopped()
	OnSysInfoTick(*system.Info)
	OnConnectAuthenticate(cl *Client, pk packets.Packet) bool
	OnACLCheck(cl *Client, topic string, write bool) bool
	OnConnect(cl *Client, pk packets.Packet) error
	OnSessionEstablished(cl *Client, pk packets.Packet)
	OnDisconnect(cl *Client, err error, expire bool)
	OnClientError(cl *Client, err error)
	OnConnectionError(cl *Client, err error)
	OnPacketRead(cl *Client, pk packets.Packet) (packets.Packet, error) // triggers when a new packet is received by a client, before it is handled
	OnPacketEncode(cl *Client, pk packets.Packet) packets.Packet        // modify a packet before it is byte-encoded and written to the client
	OnPacketSent(cl *Client, pk packets.Packet, b []byte)               // triggers when packet bytes have been written to the client
	OnPacketProcessed(cl *Client, pk packets.Packet, err error)         // triggers after a packet from the client been processed (handled)
	OnSubscribe(cl *Client, pk packets.Packet) packets.Packet
	OnSubscribed(cl *Client, pk packets.Packet, reasonCodes []byte)
	OnUnsubscribe(cl *Client, pk packets.Packet) packets.Packet
	OnUnsubscribed(cl *Client, pk packets.Packet)
	OnPublish(cl *Client, pk packets.Packet) (packets.Packet, error)
	OnPublished(cl *Client, pk packets.Packet)
	OnPublishDropped(cl *Client, pk packets.Packet)
	OnAuthorizeForward(cl *Client, env Envelope) (Envelope, bool)
	OnQosPublish(cl *Client, pk packets.Packet)
	OnQosComplete(cl *Client, pk packets.Packet)
	OnQosDropped(cl *Client, pk packets.Packet)
	OnPacketIDExhausted(cl *Client, pk packets.Packet)
	OnWill(cl *Client, will Will) (Will, error)
	OnWillSent(cl *Client, pk packets.Packet)
	OnPing(cl *Client)
	OutgoingEnqueue(client string, m storage.Message) error
	OutgoingUpdate(client string, m storage.Message) error
	OutgoingClearMessageID(client string, packetID uint16) error
	OutgoingStream(client string) ([]storage.Message, error)
	IncomingStore(client string, m storage.Message) error
	IncomingTake(client string, packetID uint16) (storage.Message, error)
	PutWill(w storage.Will) error
	DelWill(brokerID, client string) error
	StoredWills(brokerID string) ([]storage.Will, error)
	AddSubscriptions(client string, subs []storage.Subscription) error
	RemoveSubscriptions(client string, filters []string) error
	ClientSubscriptions(client string) ([]storage.Subscription, error)
	StoredSubscriptions() ([]storage.Subscription, error)
	ClearSession(client string) error
	StoreRetained(m storage.Message) error
	StoredRetainedMessages() ([]storage.Message, error)
}

// HookOptions contains values which are inherited from the server on initialisation.
type HookOptions struct {
	Capabilities *Capabilities
}

// Hooks is a slice of Hook interfaces to be called in sequence.
type Hooks struct {
	Log        *slog.Logger   // a logger for the hook (from the server)
	internal   atomic.Value   // a slice of []Hook
	wg         sync.WaitGroup // a waitgroup for syncing hook shutdown
	qty        int64          // the number of hooks in use
	sync.Mutex                // a mutex for locking when adding hooks
}

// Len returns the number of hooks added.
func (h *Hooks) Len() int64 {
	return atomic.LoadInt64(&h.qty)
}

// Provides returns true if any one hook provides any of the requested hook methods.
func (h *Hooks) Provides(b ...byte) bool {
	for _, hook := range h.GetAll() {
		for _, hb := range b {
			if hook.Provides(hb) {
				return true
			}
		}
	}

	return false
}

// Add adds and initializes a new hook.
func (h *Hooks) Add(hook Hook, config any) error {
	h.Lock()
	defer h.Unlock()

	err := hook.Init(config)
	if err != nil {
		return fmt.Errorf("failed initialising %s hook: %w", hook.ID(), err)
	}

	i, ok := h.internal.Load().([]Hook)
	if !ok {
		i = []Hook{}
	}

	i = append(i, hook)
	h.internal.Store(i)
	atomic.AddInt64(&h.qty, 1)
	h.wg.Add(1)

	return nil
}

// GetAll returns a slice of all the hooks.
func (h *Hooks) GetAll() []Hook {
	i, ok := h.internal.Load().([]Hook)
	if !ok {
		return []Hook{}
	}

	return i
}

// Stop indicates all attached hooks to gracefully end.
func (h *Hooks) Stop() {
	go func() {
		for _, hook := range h.GetAll() {
			h.Log.Info("stopping hook", "hook", hook.ID())
			if err := hook.Stop(); err != nil {
				h.Log.Debug("problem stopping hook", "error", err, "hook", hook.ID())
			}

			h.wg.Done()
		}
	}()

	h.wg.Wait()
}

// each calls fn for every attached hook providing method, in the order the
// hooks were added, until fn returns false.
func (h *Hooks) each(method byte, fn func(hook Hook) bool) {
	for _, hook := range h.GetAll() {
		if hook.Provides(method) && !fn(hook) {
			return
		}
	}
}

// notify calls fn for every attached hook providing method.
func (h *Hooks) notify(method byte, fn func(hook Hook)) {
	h.each(method, func(hook Hook) bool {
		fn(hook)
		return true
	})
}

// first returns the first attached hook providing method, or nil.
func (h *Hooks) first(method byte) Hook {
	var found Hook
	h.each(method, func(hook Hook) bool {
		found = hook
		return false
	})
	return found
}

// OnSysInfoTick is called when the $SYS topic values are published out.
func (h *Hooks) OnSysInfoTick(sys *system.Info) {
	h.notify(OnSysInfoTick, func(hook Hook) { hook.OnSysInfoTick(sys) })
}

// OnStarted is called when the server has successfully started.
func (h *Hooks) OnStarted() {
	h.notify(OnStarted, func(hook Hook) { hook.OnStarted() })
}

// OnStopped is called when the server has successfully stopped.
func (h *Hooks) OnStopped() {
	h.notify(OnStopped, func(hook Hook) { hook.OnStopped() })
}

// OnConnectAuthenticate reports whether any hook admits the connecting
// client. With no auth hook attached every client is refused, so a server
// needs at least one (see hooks/auth).
func (h *Hooks) OnConnectAuthenticate(cl *Client, pk packets.Packet) bool {
	var ok bool
	h.each(OnConnectAuthenticate, func(hook Hook) bool {
		ok = hook.OnConnectAuthenticate(cl, pk)
		return !ok
	})
	return ok
}

// OnACLCheck reports whether any hook grants the client read or write
// access to topic.
func (h *Hooks) OnACLCheck(cl *Client, topic string, write bool) bool {
	var ok bool
	h.each(OnACLCheck, func(hook Hook) bool {
		ok = hook.OnACLCheck(cl, topic, write)
		return !ok
	})
	return ok
}

// OnConnect is called when a new client connects. The first error, which
// may be a packets.Code, halts the connection.
func (h *Hooks) OnConnect(cl *Client, pk packets.Packet) (err error) {
	h.each(OnConnect, func(hook Hook) bool {
		err = hook.OnConnect(cl, pk)
		return err == nil
	})
	return err
}

// OnSessionEstablished is called when a new client establishes a session (after OnConnect).
func (h *Hooks) OnSessionEstablished(cl *Client, pk packets.Packet) {
	h.notify(OnSessionEstablished, func(hook Hook) { hook.OnSessionEstablished(cl, pk) })
}

// OnDisconnect is called when a client is disconnected for any reason.
func (h *Hooks) OnDisconnect(cl *Client, err error, expire bool) {
	h.notify(OnDisconnect, func(hook Hook) { hook.OnDisconnect(cl, err, expire) })
}

// OnClientError is called when a session with a known client identifier fails.
func (h *Hooks) OnClientError(cl *Client, err error) {
	h.notify(OnClientError, func(hook Hook) { hook.OnClientError(cl, err) })
}

// OnConnectionError is called when a connection fails before the client identified itself.
func (h *Hooks) OnConnectionError(cl *Client, err error) {
	h.notify(OnConnectionError, func(hook Hook) { hook.OnConnectionError(cl, err) })
}

// OnPacketRead passes a received packet through the hooks in turn. A hook
// returning ErrRejectPacket discards the packet; other errors leave the
// packet as it was before that hook.
func (h *Hooks) OnPacketRead(cl *Client, pk packets.Packet) (packets.Packet, error) {
	out := pk
	var rejected error
	h.each(OnPacketRead, func(hook Hook) bool {
		npk, err := hook.OnPacketRead(cl, out)
		switch {
		case errors.Is(err, ErrRejectPacket):
			h.Log.Debug("packet rejected", "hook", hook.ID(), "packet", out)
			rejected = err
			return false
		case err == nil:
			out = npk
		}
		return true
	})

	if rejected != nil {
		return pk, rejected
	}
	return out, nil
}

// OnPacketEncode is called immediately before a packet is encoded to be sent to a client.
func (h *Hooks) OnPacketEncode(cl *Client, pk packets.Packet) packets.Packet {
	h.notify(OnPacketEncode, func(hook Hook) { pk = hook.OnPacketEncode(cl, pk) })
	return pk
}

// OnPacketProcessed is called when a packet has been received and handled by the broker.
func (h *Hooks) OnPacketProcessed(cl *Client, pk packets.Packet, err error) {
	h.notify(OnPacketProcessed, func(hook Hook) { hook.OnPacketProcessed(cl, pk, err) })
}

// OnPacketSent is called with the bytes of a packet once they are written
// to the client. b is only valid for the duration of the call.
func (h *Hooks) OnPacketSent(cl *Client, pk packets.Packet, b []byte) {
	h.notify(OnPacketSent, func(hook Hook) { hook.OnPacketSent(cl, pk, b) })
}

// OnSubscribe lets hooks rewrite a subscribe packet before it is processed,
// each receiving the result of the previous.
func (h *Hooks) OnSubscribe(cl *Client, pk packets.Packet) packets.Packet {
	h.notify(OnSubscribe, func(hook Hook) { pk = hook.OnSubscribe(cl, pk) })
	return pk
}

// OnSubscribed is called when a client subscribes to one or more filters.
func (h *Hooks) OnSubscribed(cl *Client, pk packets.Packet, reasonCodes []byte) {
	h.notify(OnSubscribed, func(hook Hook) { hook.OnSubscribed(cl, pk, reasonCodes) })
}

// OnUnsubscribe lets hooks rewrite an unsubscribe packet before it is processed.
func (h *Hooks) OnUnsubscribe(cl *Client, pk packets.Packet) packets.Packet {
	h.notify(OnUnsubscribe, func(hook Hook) { pk = hook.OnUnsubscribe(cl, pk) })
	return pk
}

// OnUnsubscribed is called when a client unsubscribes from one or more filters.
func (h *Hooks) OnUnsubscribed(cl *Client, pk packets.Packet) {
	h.notify(OnUnsubscribed, func(hook Hook) { hook.OnUnsubscribed(cl, pk) })
}

// OnPublish lets hooks rewrite or refuse an inbound publish, each receiving
// the result of the previous. Any error stops the chain and the original
// packet is returned with it.
func (h *Hooks) OnPublish(cl *Client, pk packets.Packet) (packets.Packet, error) {
	out := pk
	var failed error
	h.each(OnPublish, func(hook Hook) bool {
		npk, err := hook.OnPublish(cl, out)
		if err == nil {
			out = npk
			return true
		}

		if errors.Is(err, ErrRejectPacket) {
			h.Log.Debug("publish packet rejected", "error", err, "hook", hook.ID(), "packet", out)
		} else {
			h.Log.Error("publish packet error", "error", err, "hook", hook.ID(), "packet", out)
		}
		failed = err
		return false
	})

	if failed != nil {
		return pk, failed
	}
	return out, nil
}

// OnPublished is called when a client has published a message to subscribers.
func (h *Hooks) OnPublished(cl *Client, pk packets.Packet) {
	h.notify(OnPublished, func(hook Hook) { hook.OnPublished(cl, pk) })
}

// OnPublishDropped is called when a message for a client is discarded
// rather than delivered, such as when its mailbox is full.
func (h *Hooks) OnPublishDropped(cl *Client, pk packets.Packet) {
	h.notify(OnPublishDropped, func(hook Hook) { hook.OnPublishDropped(cl, pk) })
}

// OnAuthorizeForward is called before a message is forwarded to a client. Any hook
// may veto the delivery; hooks may also substitute the envelope to be delivered.
func (h *Hooks) OnAuthorizeForward(cl *Client, env Envelope) (Envelope, bool) {
	ok := true
	h.each(OnAuthorizeForward, func(hook Hook) bool {
		env, ok = hook.OnAuthorizeForward(cl, env)
		return ok
	})
	return env, ok
}

// OnQosPublish is called when a publish packet with Qos >= 1 is issued to a subscriber.
func (h *Hooks) OnQosPublish(cl *Client, pk packets.Packet) {
	h.notify(OnQosPublish, func(hook Hook) { hook.OnQosPublish(cl, pk) })
}

// OnQosComplete is called when the Qos flow for a message has been completed.
func (h *Hooks) OnQosComplete(cl *Client, pk packets.Packet) {
	h.notify(OnQosComplete, func(hook Hook) { hook.OnQosComplete(cl, pk) })
}

// OnQosDropped is called when the Qos flow for a message is abandoned.
func (h *Hooks) OnQosDropped(cl *Client, pk packets.Packet) {
	h.notify(OnQosDropped, func(hook Hook) { hook.OnQosDropped(cl, pk) })
}

// OnPacketIDExhausted is called when every packet id of a client is in flight.
func (h *Hooks) OnPacketIDExhausted(cl *Client, pk packets.Packet) {
	h.notify(OnPacketIDExhausted, func(hook Hook) { hook.OnPacketIDExhausted(cl, pk) })
}

// OnWill lets hooks rewrite the will of an ending session before it is
// published. A hook which fails is logged and skipped.
func (h *Hooks) OnWill(cl *Client, will Will) Will {
	h.notify(OnWill, func(hook Hook) {
		w, err := hook.OnWill(cl, will)
		if err != nil {
			h.Log.Error("will rewrite failed", "error", err, "hook", hook.ID(), "client", cl.ID)
			return
		}
		will = w
	})
	return will
}

// OnWillSent is called when the will of an ending session has been published.
func (h *Hooks) OnWillSent(cl *Client, pk packets.Packet) {
	h.notify(OnWillSent, func(hook Hook) { hook.OnWillSent(cl, pk) })
}

// OnPing is called when a client sends a ping request.
func (h *Hooks) OnPing(cl *Client) {
	h.notify(OnPing, func(hook Hook) { hook.OnPing(cl) })
}

// eachStore calls fn for every hook providing the storage method b, joining any errors.
func (h *Hooks) eachStore(b byte, fn func(hook Hook) error) error {
	var errs []error
	h.notify(b, func(hook Hook) {
		if err := fn(hook); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", hook.ID(), err))
		}
	})
	return errors.Join(errs...)
}

// OutgoingEnqueue queues a message for a persistent session.
func (h *Hooks) OutgoingEnqueue(client string, m storage.Message) error {
	return h.eachStore(OutgoingEnqueue, func(hook Hook) error {
		return hook.OutgoingEnqueue(client, m)
	})
}

// OutgoingUpdate records the packet id a queued message was delivered with.
func (h *Hooks) OutgoingUpdate(client string, m storage.Message) error {
	return h.eachStore(OutgoingUpdate, func(hook Hook) error {
		return hook.OutgoingUpdate(client, m)
	})
}

// OutgoingClearMessageID removes the queued message delivered with packetID.
func (h *Hooks) OutgoingClearMessageID(client string, packetID uint16) error {
	return h.eachStore(OutgoingClearMessageID, func(hook Hook) error {
		return hook.OutgoingClearMessageID(client, packetID)
	})
}

// OutgoingStream returns the queued messages of a client from the first hook which stores them.
func (h *Hooks) OutgoingStream(client string) ([]storage.Message, error) {
	if hook := h.first(OutgoingStream); hook != nil {
		return hook.OutgoingStream(client)
	}

	return nil, nil
}

// IncomingStore records a received qos 2 message until it is released.
func (h *Hooks) IncomingStore(client string, m storage.Message) error {
	return h.eachStore(IncomingStore, func(hook Hook) error {
		return hook.IncomingStore(client, m)
	})
}

// IncomingTake removes and returns a received qos 2 message.
func (h *Hooks) IncomingTake(client string, packetID uint16) (storage.Message, error) {
	if hook := h.first(IncomingTake); hook != nil {
		return hook.IncomingTake(client, packetID)
	}

	return storage.Message{}, storage.ErrNotFound
}

// PutWill stores the will message of a client.
func (h *Hooks) PutWill(w storage.Will) error {
	return h.eachStore(PutWill, func(hook Hook) error {
		return hook.PutWill(w)
	})
}

// DelWill deletes the stored will message of a client.
func (h *Hooks) DelWill(brokerID, client string) error {
	return h.eachStore(DelWill, func(hook Hook) error {
		return hook.DelWill(brokerID, client)
	})
}

// StoredWills returns the wills recorded for a broker.
func (h *Hooks) StoredWills(brokerID string) ([]storage.Will, error) {
	if hook := h.first(StoredWills); hook != nil {
		return hook.StoredWills(brokerID)
	}

	return nil, nil
}

// AddSubscriptions stores subscriptions of a client.
func (h *Hooks) AddSubscriptions(client string, subs []storage.Subscription) error {
	return h.eachStore(AddSubscriptions, func(hook Hook) error {
		return hook.AddSubscriptions(client, subs)
	})
}

// RemoveSubscriptions deletes stored subscriptions of a client.
func (h *Hooks) RemoveSubscriptions(client string, filters []string) error {
	return h.eachStore(RemoveSubscriptions, func(hook Hook) error {
		return hook.RemoveSubscriptions(client, filters)
	})
}

// ClientSubscriptions returns the stored subscriptions of a client.
func (h *Hooks) ClientSubscriptions(client string) ([]storage.Subscription, error) {
	if hook := h.first(ClientSubscriptions); hook != nil {
		return hook.ClientSubscriptions(client)
	}

	return nil, nil
}

// StoredSubscriptions returns all stored subscriptions.
func (h *Hooks) StoredSubscriptions() ([]storage.Subscription, error) {
	if hook := h.first(StoredSubscriptions); hook != nil {
		return hook.StoredSubscriptions()
	}

	return nil, nil
}

// ClearSession deletes all stored session state of a client.
func (h *Hooks) ClearSession(client string) error {
	return h.eachStore(ClearSession, func(hook Hook) error {
		return hook.ClearSession(client)
	})
}

// StoreRetained stores or deletes a retained message.
func (h *Hooks) StoreRetained(m storage.Message) error {
	return h.eachStore(StoreRetained, func(hook Hook) error {
		return hook.StoreRetained(m)
	})
}

// StoredRetainedMessages returns all stored retained messages.
func (h *Hooks) StoredRetainedMessages() ([]storage.Message, error) {
	if hook := h.first(StoredRetainedMessages); hook != nil {
		return hook.StoredRetainedMessages()
	}

	return nil, nil
}

// HookBase provides a set of default methods for each hook. It should be embedded in
// all hooks. Storage methods have no default; a hook which reports providing
// them must implement them, usually by embedding a *storage.Store.
type HookBase struct {
	Hook
	Log  *slog.Logger
	Opts *HookOptions
}

// ID returns the ID of the hook.
func (h *HookBase) ID() string {
	return "base"
}

// Provides indicates which methods a hook provides. The default is none - this method
// should be overridden by the embedding hook.
func (h *HookBase) Provides(b byte) bool {
	return false
}

// Init performs any pre-start initializations for the hook, such as connecting to databases
// or opening files.
func (h *HookBase) Init(config any) error {
	return nil
}

// SetOpts is called by the server to propagate internal values and generally should
// not be called manually.
func (h *HookBase) SetOpts(l *slog.Logger, opts *HookOptions) {
	h.Log = l
	h.Opts = opts
}

// Stop is called to gracefully shut down the hook.
func (h *HookBase) Stop() error {
	return nil
}

// OnStarted is called when the server starts.
func (h *HookBase) OnStarted() {}

// OnStopped is called when the server stops.
func (h *HookBase) OnStopped() {}

// OnSysInfoTick is called when the server publishes system info.
func (h *HookBase) OnSysInfoTick(*system.Info) {}

// OnConnectAuthenticate is called when a user attempts to authenticate with the server.
func (h *HookBase) OnConnectAuthenticate(cl *Client, pk packets.Packet) bool {
	return false
}

// OnACLCheck is called when a user attempts to subscribe or publish to a topic.
func (h *HookBase) OnACLCheck(cl *Client, topic string, write bool) bool {
	return false
}

// OnConnect is called when a new client connects.
func (h *HookBase) OnConnect(cl *Client, pk packets.Packet) error {
	return nil
}

// OnSessionEstablished is called when a new client establishes a session (after OnConnect).
func (h *HookBase) OnSessionEstablished(cl *Client, pk packets.Packet) {}

// OnDisconnect is called when a client is disconnected for any reason.
func (h *HookBase) OnDisconnect(cl *Client, err error, expire bool) {}

// OnClientError is called when a session with a client identifier fails.
func (h *HookBase) OnClientError(cl *Client, err error) {}

// OnConnectionError is called when an unidentified connection fails.
func (h *HookBase) OnConnectionError(cl *Client, err error) {}

// OnPacketRead is called when a packet is received.
func (h *HookBase) OnPacketRead(cl *Client, pk packets.Packet) (packets.Packet, error) {
	return pk, nil
}

// OnPacketEncode is called before a packet is byte-encoded and written to the client.
func (h *HookBase) OnPacketEncode(cl *Client, pk packets.Packet) packets.Packet {
	return pk
}

// OnPacketSent is called immediately after a packet is written to a client.
func (h *HookBase) OnPacketSent(cl *Client, pk packets.Packet, b []byte) {}

// OnPacketProcessed is called immediately after a packet from a client is processed.
func (h *HookBase) OnPacketProcessed(cl *Client, pk packets.Packet, err error) {}

// OnSubscribe is called when a client subscribes to one or more filters.
func (h *HookBase) OnSubscribe(cl *Client, pk packets.Packet) packets.Packet {
	return pk
}

// OnSubscribed is called when a client subscribes to one or more filters.
func (h *HookBase) OnSubscribed(cl *Client, pk packets.Packet, reasonCodes []byte) {}

// OnUnsubscribe is called when a client unsubscribes from one or more filters.
func (h *HookBase) OnUnsubscribe(cl *Client, pk packets.Packet) packets.Packet {
	return pk
}

// OnUnsubscribed is called when a client unsubscribes from one or more filters.
func (h *HookBase) OnUnsubscribed(cl *Client, pk packets.Packet) {}

// OnPublish is called when a client publishes a message.
func (h *HookBase) OnPublish(cl *Client, pk packets.Packet) (packets.Packet, error) {
	return pk, nil
}

// OnPublished is called when a client has published a message to subscribers.
func (h *HookBase) OnPublished(cl *Client, pk packets.Packet) {}

// OnPublishDropped is called when a message to a client is dropped instead of being delivered.
func (h *HookBase) OnPublishDropped(cl *Client, pk packets.Packet) {}

// OnAuthorizeForward is called before a message is forwarded to a client.
func (h *HookBase) OnAuthorizeForward(cl *Client, env Envelope) (Envelope, bool) {
	return env, true
}

// OnQosPublish is called when a publish packet with Qos > 1 is issued to a subscriber.
func (h *HookBase) OnQosPublish(cl *Client, pk packets.Packet) {}

// OnQosComplete is called when the Qos flow for a message has been completed.
func (h *HookBase) OnQosComplete(cl *Client, pk packets.Packet) {}

// OnQosDropped is called the Qos flow for a message expires.
func (h *HookBase) OnQosDropped(cl *Client, pk packets.Packet) {}

// OnPacketIDExhausted is called when the client runs out of unused packet ids to assign to a packet.
func (h *HookBase) OnPacketIDExhausted(cl *Client, pk packets.Packet) {}

// OnWill is called when a client disconnects and publishes an LWT message.
func (h *HookBase) OnWill(cl *Client, will Will) (Will, error) {
	return will, nil
}

// OnWillSent is called when an LWT message has been issued from a disconnecting client.
func (h *HookBase) OnWillSent(cl *Client, pk packets.Packet) {}

// OnPing is called when a client sends a ping request.
func (h *HookBase) OnPing(cl *Client) {}
