// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package mqtt

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/mochi-mqtt/session/packets"
)

const (
	defaultKeepaliveGrace = 1.5 // multiple of the keepalive allowed between packets
)

// SessionState is the lifecycle position of a client session. A session only
// ever moves forward through the states.
type SessionState uint32

const (
	StateAwaitingConnect SessionState = iota // accepted, no CONNECT processed yet
	StateConnected                           // CONNACK sent
	StateClosing                             // teardown in progress
	StateClosed                              // teardown complete
)

// String returns the name of the state.
func (s SessionState) String() string {
	switch s {
	case StateAwaitingConnect:
		return "awaiting_connect"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Will contains the last will message of a client.
type Will struct {
	Payload []byte `json:"payload"`
	Topic   string `json:"topic"`
	Qos     byte   `json:"qos"`
	Retain  bool   `json:"retain"`
}

// ClientConnection contains the connection transport and metadata for the client.
type ClientConnection struct {
	Conn     net.Conn // the net.Conn used to establish the connection
	Remote   string   // the remote address of the client
	Listener string   // listener id of the client
}

// ClientProperties contains the properties which define the client behaviour.
type ClientProperties struct {
	Username        []byte
	Keepalive       uint16
	ProtocolVersion byte
	Clean           bool
}

// ops contains server values which can be propagated to other structs.
type ops struct {
	options *Options     // a pointer to the server options and capabilities, for referencing in clients
	hooks   *Hooks       // pointer to the server hooks
	log     *slog.Logger // a structured logger for the client
}

// outboundPacket is an encoded packet waiting for the writer.
type outboundPacket struct {
	pk   packets.Packet
	buf  *bytes.Buffer
	done func(error)
}

// mailbox is the task queue of a client loop.
type mailbox struct {
	tasks  []func()
	signal chan struct{}
	closed bool
	sync.Mutex
}

// Client is a single connection session. Every change to the session state
// runs on the client's own loop goroutine, so the state needs no locking;
// work submitted from other goroutines is posted to the loop.
type Client struct {
	ID            string           // the client id
	Net           ClientConnection // network connection state
	Properties    ClientProperties // client properties from the CONNECT packet
	Subscriptions *Subscriptions   // subscriptions held by the session, keyed on filter
	Inflight      *Inflight        // outbound qos messages awaiting acknowledgement
	server        *Server
	ops           *ops
	log           *slog.Logger
	handler       PacketHandler
	ingest        *ingester
	limiter       *rate.Limiter
	duplicates    Duplicates
	incoming      map[uint16]Envelope // received qos 2 messages awaiting pubrel, when not persisted
	held          []heldDelivery      // deliveries which arrived before the CONNACK was sent
	will          *Will               // the installed will
	pendingWill   *Will               // the will of a CONNECT still being authenticated
	closeWaiters  []func(error)
	closeErr      error
	mailbox       mailbox
	exec          sync.Mutex // held while a task runs
	outbound      chan outboundPacket
	writerDone    chan struct{}
	drain         chan struct{}
	drainOnce     sync.Once
	closed        chan struct{}
	connectTimer  *time.Timer
	keepalive     *time.Timer
	lastRead      time.Time

	state           uint32
	messageID       uint16
	errored         bool
	cleanDisconnect bool
	registered      bool
	outboundShut    bool
	errorsAttached  bool
	eosAttached     bool

	// deliver0 and deliverQos send an envelope to the client at qos 0 and at
	// its requested qos. They are fields so they can be replaced.
	deliver0   func(env Envelope, done func(error))
	deliverQos func(env Envelope, done func(error))
}

// newClient returns a session for a newly accepted connection.
func newClient(c net.Conn, s *Server, listener string) *Client {
	o := s.Options
	cl := &Client{
		Net: ClientConnection{
			Conn:     c,
			Listener: listener,
		},
		Properties: ClientProperties{
			ProtocolVersion: packets.ProtocolV311,
			Clean:           true,
		},
		Subscriptions: NewSubscriptions(),
		Inflight:      NewInflights(),
		server:        s,
		ops: &ops{
			options: o,
			hooks:   s.hooks,
			log:     s.Log,
		},
		handler:        s.handler,
		duplicates:     Duplicates{},
		incoming:       map[uint16]Envelope{},
		outbound:       make(chan outboundPacket, o.Capabilities.MaximumClientWritesPending),
		writerDone:     make(chan struct{}),
		drain:          make(chan struct{}),
		closed:         make(chan struct{}),
		messageID:      uint16(rand.Intn(65535)),
		errorsAttached: true,
		eosAttached:    true,
		mailbox: mailbox{
			signal: make(chan struct{}, 1),
		},
	}

	if c != nil {
		cl.Net.Remote = c.RemoteAddr().String()
	}

	if o.InboundRateLimit > 0 {
		cl.limiter = rate.NewLimiter(rate.Limit(o.InboundRateLimit), o.InboundRateBurst)
	}

	cl.log = s.Log.With("remote", cl.Net.Remote, "listener", listener)
	cl.ingest = newIngester(cl, packets.NewParser(int(o.Capabilities.MaximumPacketSize)))
	cl.deliver0 = cl.deliverQos0
	cl.deliverQos = cl.deliverQosN

	return cl
}

// start begins the loop, writer and reader goroutines of the client and arms
// the connect deadline.
func (cl *Client) start() {
	go cl.run()
	go cl.writeLoop()
	go cl.readLoop()

	if d := time.Duration(cl.ops.options.ConnectTimeout) * time.Second; d > 0 {
		cl.connectTimer = time.AfterFunc(d, func() {
			cl.post(func() {
				if cl.State() == StateAwaitingConnect {
					cl.onError(newSessionError(KindTimeout, "connect", ErrConnectTimeout))
				}
			})
		})
	}

	cl.post(cl.ingest.pull)
}

// State returns the current session state.
func (cl *Client) State() SessionState {
	return SessionState(atomic.LoadUint32(&cl.state))
}

// setState moves the session forward to s. Moves backward are ignored.
func (cl *Client) setState(s SessionState) bool {
	for {
		cur := atomic.LoadUint32(&cl.state)
		if uint32(s) <= cur {
			return false
		}
		if atomic.CompareAndSwapUint32(&cl.state, cur, uint32(s)) {
			return true
		}
	}
}

// Closed returns a channel which is closed once the session has been torn down.
func (cl *Client) Closed() <-chan struct{} {
	return cl.closed
}

// Err returns the error which ended the session, if any.
func (cl *Client) Err() error {
	<-cl.closed
	return cl.closeErr
}

// post submits fn to the client loop. Once the loop has ended, fn runs on
// its own goroutine, still serialized with any other late task.
func (cl *Client) post(fn func()) {
	cl.mailbox.Lock()
	if cl.mailbox.closed {
		cl.mailbox.Unlock()
		go func() {
			cl.exec.Lock()
			defer cl.exec.Unlock()
			fn()
		}()
		return
	}

	cl.mailbox.tasks = append(cl.mailbox.tasks, fn)
	cl.mailbox.Unlock()

	select {
	case cl.mailbox.signal <- struct{}{}:
	default:
	}
}

// tryPost submits fn to the client loop unless the loop has ended or its
// queue holds MaximumClientWritesPending tasks.
func (cl *Client) tryPost(fn func()) bool {
	cl.mailbox.Lock()
	if cl.mailbox.closed || len(cl.mailbox.tasks) >= int(cl.ops.options.Capabilities.MaximumClientWritesPending) {
		cl.mailbox.Unlock()
		return false
	}

	cl.mailbox.tasks = append(cl.mailbox.tasks, fn)
	cl.mailbox.Unlock()

	select {
	case cl.mailbox.signal <- struct{}{}:
	default:
	}

	return true
}

// run is the client loop. It runs posted tasks in order until the mailbox
// is closed, then drains anything left.
func (cl *Client) run() {
	for range cl.mailbox.signal {
		for {
			cl.mailbox.Lock()
			tasks := cl.mailbox.tasks
			cl.mailbox.tasks = nil
			closed := cl.mailbox.closed
			cl.mailbox.Unlock()

			for _, task := range tasks {
				cl.exec.Lock()
				task()
				cl.exec.Unlock()
			}

			if len(tasks) == 0 {
				if closed {
					return
				}
				break
			}
		}
	}
}

// closeMailbox ends the client loop once the queued tasks have run.
func (cl *Client) closeMailbox() {
	cl.mailbox.Lock()
	cl.mailbox.closed = true
	cl.mailbox.Unlock()

	select {
	case cl.mailbox.signal <- struct{}{}:
	default:
	}
}

// readLoop performs one read for every pull granted by the ingester.
func (cl *Client) readLoop() {
	size := cl.ops.options.ClientNetReadBufferSize
	for range cl.ingest.pulls {
		buf := make([]byte, size)
		n, err := cl.Net.Conn.Read(buf)
		if n > 0 {
			b := buf[:n]
			cl.post(func() { cl.ingest.onChunk(b) })
		}

		if err != nil {
			cl.post(func() { cl.onTransportError(err) })
			return
		}

		if n == 0 {
			cl.post(func() { cl.ingest.onChunk(nil) })
		}
	}
}

// onTransportError handles a failed read. The end of the stream closes the
// session gracefully, anything else is a transport error.
func (cl *Client) onTransportError(err error) {
	if cl.State() >= StateClosing {
		return
	}

	if errors.Is(err, io.EOF) {
		if cl.eosAttached {
			cl.close(nil, nil)
		}
		return
	}

	if cl.errorsAttached {
		cl.onError(newSessionError(KindTransport, "read", err))
	}
}

// refreshKeepalive records inbound activity.
func (cl *Client) refreshKeepalive() {
	cl.lastRead = time.Now()
}

// keepaliveWindow returns the time allowed between inbound packets.
func (cl *Client) keepaliveWindow() time.Duration {
	grace := cl.ops.options.KeepaliveGrace
	if grace <= 0 {
		grace = defaultKeepaliveGrace
	}
	return time.Duration(float64(cl.Properties.Keepalive) * grace * float64(time.Second))
}

// armKeepalive starts the keepalive timer, if the client asked for one.
func (cl *Client) armKeepalive() {
	window := cl.keepaliveWindow()
	if window <= 0 {
		return
	}

	cl.refreshKeepalive()
	var check func()
	check = func() {
		cl.post(func() {
			if cl.State() != StateConnected {
				return
			}

			idle := time.Since(cl.lastRead)
			if idle >= window {
				cl.onError(newSessionError(KindTimeout, "keepalive", ErrKeepaliveTimeout))
				return
			}

			cl.keepalive.Reset(window - idle)
		})
	}

	cl.keepalive = time.AfterFunc(window, check)
}

// stopTimers clears the connect and keepalive timers.
func (cl *Client) stopTimers() {
	if cl.connectTimer != nil {
		cl.connectTimer.Stop()
		cl.connectTimer = nil
	}

	if cl.keepalive != nil {
		cl.keepalive.Stop()
		cl.keepalive = nil
	}
}

// nextMessageID returns the next packet id not currently in flight.
func (cl *Client) nextMessageID() (uint16, error) {
	if cl.Inflight.Len() >= int(cl.ops.options.Capabilities.MaximumInflight) {
		cl.ops.hooks.OnPacketIDExhausted(cl, packets.Packet{})
		return 0, ErrQuotaExceeded
	}

	max := cl.ops.options.Capabilities.maximumPacketID
	for i := uint32(0); i < max; i++ {
		next := uint32(cl.messageID) + 1
		if next > max {
			next = 1
		}
		cl.messageID = uint16(next)

		if !cl.Inflight.Has(cl.messageID) {
			return cl.messageID, nil
		}
	}

	cl.ops.hooks.OnPacketIDExhausted(cl, packets.Packet{})
	return 0, ErrQuotaExceeded
}

// writeLoop writes encoded packets in order until the outbound queue is
// closed. After a failed write the remaining packets are failed without
// touching the connection.
func (cl *Client) writeLoop() {
	defer close(cl.writerDone)

	var failed error
	for o := range cl.outbound {
		if failed != nil {
			cl.server.buffers.Put(o.buf)
			cl.complete(o.done, ErrConnectionClosed)
			continue
		}

		if t := cl.ops.options.ClientWriteTimeout; t > 0 {
			_ = cl.Net.Conn.SetWriteDeadline(time.Now().Add(time.Duration(t) * time.Second))
		}

		b := o.buf.Bytes()
		n, err := cl.Net.Conn.Write(b)
		atomic.AddInt64(&cl.server.Info.BytesSent, int64(n))
		if err != nil {
			cl.server.buffers.Put(o.buf)
			failed = err
			cl.emitDrain()
			cl.post(func() {
				if cl.errorsAttached {
					cl.onError(newSessionError(KindTransport, "write", err))
				}
			})
			cl.complete(o.done, err)
			continue
		}

		atomic.AddInt64(&cl.server.Info.PacketsSent, 1)
		if o.pk.FixedHeader.Type == packets.Publish {
			atomic.AddInt64(&cl.server.Info.MessagesSent, 1)
		}

		cl.ops.hooks.OnPacketSent(cl, o.pk, b)
		cl.server.buffers.Put(o.buf)
		cl.complete(o.done, nil)
	}
}

// complete posts done(err) to the client loop, if done is set.
func (cl *Client) complete(done func(error), err error) {
	if done != nil {
		cl.post(func() { done(err) })
	}
}

// WritePacket encodes and queues a packet for the writer. It must run on the
// client loop. done, if set, is called on the loop once the write was issued.
// If the queue is full it waits for space or for the drain signal.
func (cl *Client) WritePacket(pk packets.Packet, done func(error)) {
	if cl.outboundShut {
		cl.complete(done, ErrConnectionClosed)
		return
	}

	pk = cl.ops.hooks.OnPacketEncode(cl, pk)
	buf := cl.server.buffers.Get()
	if err := pk.Encode(buf); err != nil {
		cl.server.buffers.Put(buf)
		cl.complete(done, err)
		return
	}

	o := outboundPacket{pk: pk, buf: buf, done: done}
	select {
	case cl.outbound <- o:
		return
	default:
	}

	select {
	case cl.outbound <- o:
	case <-cl.drain:
		cl.server.buffers.Put(buf)
		cl.complete(done, ErrConnectionClosed)
	}
}

// emitDrain releases any write waiting for space in the outbound queue.
func (cl *Client) emitDrain() {
	cl.drainOnce.Do(func() {
		close(cl.drain)
	})
}

// terminate ends the transport. An errored session is cut off at once;
// otherwise queued writes are flushed and the write side is closed first.
func (cl *Client) terminate() {
	if cl.outboundShut {
		return
	}
	cl.outboundShut = true
	close(cl.outbound)

	conn := cl.Net.Conn
	if conn == nil {
		return
	}

	if cl.errored {
		_ = conn.Close()
		return
	}

	go func() {
		<-cl.writerDone
		if cw, ok := conn.(interface{ CloseWrite() error }); ok {
			_ = cw.CloseWrite()
		}
		_ = conn.Close()
	}()
}

// Publish delivers a message to this client. For a persistent session with a
// known identity, messages with qos above 0 are stored before delivery and
// are not delivered if storing fails. done is called on the client loop.
func (cl *Client) Publish(m Message, done func(error)) {
	cl.post(func() {
		cl.publish(m, done)
	})
}

func (cl *Client) publish(m Message, done func(error)) {
	env := cl.server.newEnvelope(m, "")
	if env.Qos == 0 || cl.Properties.Clean || cl.ID == "" {
		cl.deliverQos(env, done)
		return
	}

	sm := env.StorageMessage()
	cl.server.persist.run(cl, OutgoingEnqueue, "outgoing enqueue", func() error {
		return cl.ops.hooks.OutgoingEnqueue(cl.ID, sm)
	}, func(err error) {
		if err != nil {
			callback(done, err)
			return
		}
		cl.deliverQos(env, done)
	})
}

// Subscribe adds subscriptions to the session. v may be a
// packets.Subscription, a slice of them, a SubscribeRequest or a pointer to
// one. done is called on the client loop.
func (cl *Client) Subscribe(v any, done func(error)) {
	cl.post(func() {
		req, err := normalizeSubscribe(v)
		if err != nil {
			callback(done, err)
			return
		}
		cl.handler.Subscribe(cl, req, done)
	})
}

// Unsubscribe removes subscriptions from the session. v may be a filter, a
// slice of filters, an UnsubscribeRequest or a pointer to one. done is
// called on the client loop.
func (cl *Client) Unsubscribe(v any, done func(error)) {
	cl.post(func() {
		req, err := normalizeUnsubscribe(v)
		if err != nil {
			callback(done, err)
			return
		}
		cl.handler.Unsubscribe(cl, req, done)
	})
}

// Close tears the session down. It is safe to call any number of times from
// any goroutine; done is called once the teardown has completed.
func (cl *Client) Close(done func(error)) {
	cl.post(func() {
		cl.close(nil, done)
	})
}

// Stop closes the session with err as the reason and waits for the teardown.
func (cl *Client) Stop(err error) {
	cl.post(func() {
		cl.close(err, nil)
	})
	<-cl.closed
}

// Pause stops reading from the transport.
func (cl *Client) Pause() {
	cl.post(cl.ingest.pause)
}

// Resume restarts reading from the transport.
func (cl *Client) Resume() {
	cl.post(cl.ingest.resume)
}

// callback calls done with err if done is set.
func callback(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
