// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

// Package mqtt provides an MQTT v3.1 and v3.1.1 broker built around
// independent per-connection sessions.
package mqtt

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"

	"github.com/mochi-mqtt/session/hooks/storage"
	"github.com/mochi-mqtt/session/listeners"
	"github.com/mochi-mqtt/session/mempool"
	"github.com/mochi-mqtt/session/packets"
	"github.com/mochi-mqtt/session/system"
)

const (
	Version                          = "1.0.0" // the current server version.
	defaultSysTopicInterval    int64 = 1       // the interval between $SYS topic publishes
	defaultHeartbeatInterval   int64 = 60      // the interval between heartbeat publishes
	defaultConnectTimeout      int64 = 30      // seconds allowed between accepting a connection and its CONNECT
	defaultClientWriteTimeout  int64 = 30      // seconds allowed for a single write to a client
	defaultPersistenceQueue          = 1024
	defaultBreakerThreshold          = 5
	defaultBreakerTimeout      int64 = 30
	defaultClientReadBufferLen       = 1024 * 2
	maxPooledBufferLen               = 1024 * 64 // encoding buffers larger than this are not reused
)

// Capabilities indicates the capabilities and features provided by the server.
type Capabilities struct {
	MaximumClients             int64  `yaml:"maximum_clients" json:"maximum_clients"`                             // maximum number of connected clients
	MaximumClientWritesPending int32  `yaml:"maximum_client_writes_pending" json:"maximum_client_writes_pending"` // maximum number of pending writes and deliveries for a client
	MaximumPacketSize          uint32 `yaml:"maximum_packet_size" json:"maximum_packet_size"`                     // maximum packet size, no limit if 0
	maximumPacketID            uint32 // unexported, used for testing only
	MaximumInflight            uint16 `yaml:"maximum_inflight" json:"maximum_inflight"` // maximum number of qos > 0 messages awaiting acknowledgement per client
	MaximumQos                 byte   `yaml:"maximum_qos" json:"maximum_qos"`           // maximum qos value available to clients
}

// NewDefaultServerCapabilities defines the default features and capabilities provided by the server.
func NewDefaultServerCapabilities() *Capabilities {
	return &Capabilities{
		MaximumClients:             math.MaxInt64, // maximum number of connected clients
		MaximumClientWritesPending: 1024 * 8,      // maximum number of pending message writes for a client
		MaximumPacketSize:          0,             // no maximum packet size
		maximumPacketID:            math.MaxUint16,
		MaximumInflight:            1024 * 8, // maximum number of qos > 0 messages can be stored
		MaximumQos:                 2,        // maximum qos value available to clients
	}
}

// Options contains configurable options for the server.
type Options struct {
	// Listeners specifies any listeners which should be dynamically added on serve. Used when setting listeners by config.
	Listeners []listeners.Config `yaml:"listeners" json:"listeners"`

	// Hooks specifies any hooks which should be dynamically added on serve. Used when setting hooks by config.
	Hooks []HookLoadConfig `yaml:"hooks" json:"hooks"`

	// Capabilities defines the server features and behaviour. If you only wish to modify
	// several of these values, set them explicitly - e.g.
	// 	server.Options.Capabilities.MaximumClientWritesPending = 16 * 1024
	Capabilities *Capabilities `yaml:"capabilities" json:"capabilities"`

	// BrokerID identifies the broker in message origins and stored wills. Keep it
	// stable across restarts so that wills left by a crash can be recovered.
	BrokerID string `yaml:"broker_id" json:"broker_id"`

	// ClientNetReadBufferSize specifies the size of each read from a client connection.
	ClientNetReadBufferSize int `yaml:"client_net_read_buffer_size" json:"client_net_read_buffer_size"`

	// ClientWriteTimeout is the number of seconds a single write to a client may take.
	ClientWriteTimeout int64 `yaml:"client_write_timeout" json:"client_write_timeout"`

	// ConnectTimeout is the number of seconds a connection may stay open without sending CONNECT.
	ConnectTimeout int64 `yaml:"connect_timeout" json:"connect_timeout"`

	// KeepaliveGrace is the multiple of the client keepalive after which an idle client is disconnected.
	KeepaliveGrace float64 `yaml:"keepalive_grace" json:"keepalive_grace"`

	// InboundRateLimit limits the publish packets per second accepted from each
	// client, with bursts of InboundRateBurst. 0 disables the limit.
	InboundRateLimit float64 `yaml:"inbound_rate_limit" json:"inbound_rate_limit"`
	InboundRateBurst int     `yaml:"inbound_rate_burst" json:"inbound_rate_burst"`

	// HeartbeatInterval specifies the interval between $SYS/<broker id>/heartbeat publishes in seconds.
	HeartbeatInterval int64 `yaml:"heartbeat_interval" json:"heartbeat_interval"`

	// SysTopicResendInterval specifies the interval between $SYS topic updates in seconds.
	SysTopicResendInterval int64 `yaml:"sys_topic_resend_interval" json:"sys_topic_resend_interval"`

	// PersistenceWorkers is the number of goroutines running storage hook calls, and
	// PersistenceQueueSize the number of calls each may have queued.
	PersistenceWorkers   int `yaml:"persistence_workers" json:"persistence_workers"`
	PersistenceQueueSize int `yaml:"persistence_queue_size" json:"persistence_queue_size"`

	// PersistenceBreakerThreshold is the number of consecutive storage failures which
	// open the circuit breaker, and PersistenceBreakerTimeout the seconds it stays open.
	PersistenceBreakerThreshold int   `yaml:"persistence_breaker_threshold" json:"persistence_breaker_threshold"`
	PersistenceBreakerTimeout   int64 `yaml:"persistence_breaker_timeout" json:"persistence_breaker_timeout"`

	// Logger specifies a custom configured implementation of log/slog to override
	// the servers default logger configuration. If you wish to change the log level,
	// of the default logger, you can do so by setting:
	// server := mqtt.New(nil)
	// level := new(slog.LevelVar)
	// server.Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
	// 	Level: level,
	// }))
	// level.Set(slog.LevelDebug)
	Logger *slog.Logger `yaml:"-" json:"-"`
}

// Server is an MQTT broker server. It should be created with server.New()
// in order to ensure all the internal fields are correctly populated.
type Server struct {
	Options   *Options             // configurable server options
	Listeners *listeners.Listeners // listeners are network interfaces which listen for new connections
	Clients   *Clients             // sessions registered under a client id
	Topics    *TopicsIndex         // an index of live topic filter subscriptions and retained messages
	Info      *system.Info         // values about the server commonly known as $SYS topics
	Log       *slog.Logger         // minimal no-alloc logger
	ID        string               // the broker id, stamped on the envelopes this broker creates
	counter   uint64               // the last envelope counter issued
	offline   *offlineIndex        // subscriptions of disconnected persistent sessions
	persist   *persistence         // runs storage hook calls away from the client loops
	handler   PacketHandler        // processes the packets of every session
	buffers   *mempool.Pool        // encoding buffers shared by every client writer
	hooks     *Hooks               // hooks contains hooks for extra functionality such as auth and persistent storage
	sessions  map[*Client]struct{} // every session not yet torn down, registered or not
	loop      *loop                // loop contains tickers for the system event loop
	done      chan bool            // indicate that the server is ending
	mu        sync.Mutex           // guards sessions
	closing   uint32
}

// loop contains interval tickers for the system events loop.
type loop struct {
	sysTopics *time.Ticker // interval ticker for sending updating $SYS topics
	heartbeat *time.Ticker // interval ticker for the broker heartbeat
}

// HookLoadConfig contains the hook and configuration as loaded from a configuration (usually file).
type HookLoadConfig struct {
	Hook   Hook
	Config any
}

// New returns a new instance of the broker. Optional parameters
// can be specified to override some default settings (see Options).
func New(opts *Options) *Server {
	if opts == nil {
		opts = new(Options)
	}

	opts.ensureDefaults()

	s := &Server{
		done:      make(chan bool),
		Clients:   NewClients(),
		Topics:    NewTopicsIndex(),
		Listeners: listeners.New(),
		loop: &loop{
			sysTopics: time.NewTicker(time.Second * time.Duration(opts.SysTopicResendInterval)),
			heartbeat: time.NewTicker(time.Second * time.Duration(opts.HeartbeatInterval)),
		},
		Options: opts,
		Info: &system.Info{
			Version: Version,
			Started: time.Now().Unix(),
		},
		ID:       opts.BrokerID,
		Log:      opts.Logger,
		offline:  newOfflineIndex(),
		buffers:  mempool.New(maxPooledBufferLen),
		sessions: map[*Client]struct{}{},
		hooks: &Hooks{
			Log: opts.Logger,
		},
	}

	s.persist = newPersistence(s.hooks, opts, s.Info, s.Log)
	s.handler = &protocolHandler{s: s}

	return s
}

// ensureDefaults ensures that the server starts with sane default values, if none are provided.
func (o *Options) ensureDefaults() {
	if o.Capabilities == nil {
		o.Capabilities = NewDefaultServerCapabilities()
	}

	o.Capabilities.maximumPacketID = math.MaxUint16 // spec maximum is 65535

	if o.Capabilities.MaximumInflight == 0 {
		o.Capabilities.MaximumInflight = 1024 * 8
	}

	if o.Capabilities.MaximumClientWritesPending == 0 {
		o.Capabilities.MaximumClientWritesPending = 1024 * 8
	}

	if o.Capabilities.MaximumClients == 0 {
		o.Capabilities.MaximumClients = math.MaxInt64
	}

	if o.BrokerID == "" {
		o.BrokerID = xid.New().String()
	}

	if o.SysTopicResendInterval == 0 {
		o.SysTopicResendInterval = defaultSysTopicInterval
	}

	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = defaultHeartbeatInterval
	}

	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}

	if o.ClientWriteTimeout == 0 {
		o.ClientWriteTimeout = defaultClientWriteTimeout
	}

	if o.KeepaliveGrace == 0 {
		o.KeepaliveGrace = defaultKeepaliveGrace
	}

	if o.InboundRateLimit > 0 && o.InboundRateBurst == 0 {
		o.InboundRateBurst = int(math.Ceil(o.InboundRateLimit))
	}

	if o.ClientNetReadBufferSize == 0 {
		o.ClientNetReadBufferSize = defaultClientReadBufferLen
	}

	if o.PersistenceWorkers == 0 {
		o.PersistenceWorkers = runtime.NumCPU()
	}

	if o.PersistenceQueueSize == 0 {
		o.PersistenceQueueSize = defaultPersistenceQueue
	}

	if o.PersistenceBreakerThreshold == 0 {
		o.PersistenceBreakerThreshold = defaultBreakerThreshold
	}

	if o.PersistenceBreakerTimeout == 0 {
		o.PersistenceBreakerTimeout = defaultBreakerTimeout
	}

	if o.Logger == nil {
		log := slog.New(slog.NewTextHandler(os.Stdout, nil))
		o.Logger = log
	}
}

// nextCounter returns the next envelope counter of this broker.
func (s *Server) nextCounter() uint64 {
	return atomic.AddUint64(&s.counter, 1)
}

// AddHook attaches a new Hook to the server. Ideally, this should be called
// before the server is started with s.Serve().
func (s *Server) AddHook(hook Hook, config any) error {
	nl := s.Log.With("hook", hook.ID())
	hook.SetOpts(nl, &HookOptions{
		Capabilities: s.Options.Capabilities,
	})

	s.Log.Info("added hook", "hook", hook.ID())
	return s.hooks.Add(hook, config)
}

// AddHooksFromConfig adds hooks to the server which were specified in the hooks config (usually from a config file).
func (s *Server) AddHooksFromConfig(hooks []HookLoadConfig) error {
	for _, h := range hooks {
		if err := s.AddHook(h.Hook, h.Config); err != nil {
			return err
		}
	}
	return nil
}

// AddListener adds a new network listener to the server, for receiving incoming client connections.
func (s *Server) AddListener(l listeners.Listener) error {
	if _, ok := s.Listeners.Get(l.ID()); ok {
		return ErrListenerIDExists
	}

	nl := s.Log.With(slog.String("listener", l.ID()))
	err := l.Init(nl)
	if err != nil {
		return err
	}

	s.Listeners.Add(l)

	s.Log.Info("attached listener", "id", l.ID(), "protocol", l.Protocol(), "address", l.Address())
	return nil
}

// AddListenersFromConfig adds listeners to the server which were specified in the listeners config (usually from a config file).
// New built-in listeners should be added to this list.
func (s *Server) AddListenersFromConfig(configs []listeners.Config) error {
	for _, conf := range configs {
		var l listeners.Listener
		switch strings.ToLower(conf.Type) {
		case listeners.TypeTCP:
			l = listeners.NewTCP(conf)
		case listeners.TypeWS:
			l = listeners.NewWebsocket(conf)
		case listeners.TypeUnix:
			l = listeners.NewUnixSock(conf)
		case listeners.TypeHealthCheck:
			l = listeners.NewHTTPHealthCheck(conf, s.Health)
		case listeners.TypeSysInfo:
			l = listeners.NewHTTPStats(conf, s.Info)
		case listeners.TypeMock:
			l = listeners.NewMockListener(conf.ID, conf.Address)
		default:
			s.Log.Error("listener type unavailable by config", "listener", conf.Type)
			continue
		}
		if err := s.AddListener(l); err != nil {
			return err
		}
	}
	return nil
}

// Serve starts the event loops responsible for establishing client connections
// on all attached listeners, publishing the system topics, and starting all hooks.
func (s *Server) Serve() error {
	s.Log.Info("mqtt server starting", "version", Version, "broker", s.ID)
	defer s.Log.Info("mqtt server started")

	if len(s.Options.Listeners) > 0 {
		err := s.AddListenersFromConfig(s.Options.Listeners)
		if err != nil {
			return err
		}
	}

	if len(s.Options.Hooks) > 0 {
		err := s.AddHooksFromConfig(s.Options.Hooks)
		if err != nil {
			return err
		}
	}

	if s.hooks.Provides(
		StoredRetainedMessages,
		StoredSubscriptions,
		StoredWills,
	) {
		err := s.readStore()
		if err != nil {
			return err
		}
	}

	go s.eventLoop()                            // spin up event loop for issuing $SYS values and closing server.
	s.Listeners.ServeAll(s.EstablishConnection) // start listening on all listeners.
	s.publishSysTopics()                        // begin publishing $SYS system values.
	s.hooks.OnStarted()

	return nil
}

// eventLoop loops forever, running various server housekeeping methods at different intervals.
func (s *Server) eventLoop() {
	s.Log.Debug("system event loop started")
	defer s.Log.Debug("system event loop halted")

	for {
		select {
		case <-s.done:
			s.loop.sysTopics.Stop()
			s.loop.heartbeat.Stop()
			return
		case <-s.loop.sysTopics.C:
			s.publishSysTopics()
		case <-s.loop.heartbeat.C:
			s.publishHeartbeat()
		}
	}
}

// EstablishConnection runs a session for a connection accepted by a listener,
// returning once the session has been torn down.
func (s *Server) EstablishConnection(listener string, c net.Conn) error {
	if atomic.LoadUint32(&s.closing) == 1 {
		_ = c.Close()
		return ErrServerShuttingDown
	}

	defer s.Listeners.ClientsWg.Done()
	s.Listeners.ClientsWg.Add(1)

	cl := newClient(c, s, listener)
	s.attach(cl)
	cl.start()

	<-cl.Closed()
	return cl.closeErr
}

// attach records a running session.
func (s *Server) attach(cl *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[cl] = struct{}{}
}

// detach forgets a session which has been torn down.
func (s *Server) detach(cl *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, cl)
}

// attached returns the running sessions, optionally only those of one listener.
func (s *Server) attached(listener string) []*Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Client, 0, len(s.sessions))
	for cl := range s.sessions {
		if listener == "" || cl.Net.Listener == listener {
			out = append(out, cl)
		}
	}
	return out
}

// takeover registers cl under its client id. A session already registered
// under the id is closed first, and next runs on the loop of cl once it has
// gone. The subscriptions of a persistent predecessor are handed on.
func (s *Server) takeover(cl *Client, next func()) {
	old, ok := s.Clients.Add(cl) // [MQTT-3.1.4-2]
	cl.registered = true
	if !ok {
		next()
		return
	}

	cl.log.Debug("taking over existing session", "remote", old.Net.Remote)
	atomic.AddInt64(&s.Info.Takeovers, 1)
	old.post(func() {
		subs := old.Subscriptions.GetAll()
		persistent := !old.Properties.Clean
		old.close(ErrSessionTakenOver, func(error) {
			if persistent && len(subs) > 0 {
				s.offline.adopt(cl.ID, subs)
			}
			cl.post(next)
		})
	})
}

// authorizePublish reports whether cl may publish to topic.
func (s *Server) authorizePublish(cl *Client, topic string) bool {
	return s.hooks.OnACLCheck(cl, topic, true)
}

// authorizeSubscribe reports whether cl may subscribe to filter.
func (s *Server) authorizeSubscribe(cl *Client, filter string) bool {
	return s.hooks.OnACLCheck(cl, filter, false)
}

// publish routes env to every matching session. A retained envelope is
// stored first. Envelopes with qos above 0 are queued in storage for
// disconnected persistent sessions. done is called on the loop of from once
// the envelope has been handed to the subscribers.
func (s *Server) publish(env Envelope, from *Client, done func(error)) {
	if !env.Retain {
		s.fanout(env)
		callback(done, nil)
		return
	}

	s.retain(env)
	sm := env.StorageMessage()
	store := func() error {
		return s.hooks.StoreRetained(sm)
	}

	if from == nil {
		s.persist.background(StoreRetained, env.Topic, "store retained", store)
		s.fanout(env)
		callback(done, nil)
		return
	}

	s.persist.run(from, StoreRetained, "store retained", store, func(err error) {
		if err != nil {
			callback(done, err)
			return
		}
		s.fanout(env)
		callback(done, nil)
	})
}

// retain records env as the retained message of its topic.
func (s *Server) retain(env Envelope) {
	n := s.Topics.RetainMessage(env)
	atomic.AddInt64(&s.Info.Retained, n)
}

// fanout hands env to the live subscribers and queues it for the offline ones.
func (s *Server) fanout(env Envelope) {
	env.Retain = false // [MQTT-3.3.1-9]

	for id := range s.Topics.Subscribers(env.Topic) {
		cl, ok := s.Clients.Get(id)
		if !ok {
			continue
		}

		out := env
		if !cl.tryPost(func() { cl.deliverQos(out, nil) }) {
			atomic.AddInt64(&s.Info.MessagesDropped, 1)
			s.hooks.OnPublishDropped(cl, out.Packet())
			cl.log.Warn("client mailbox full, message dropped", "topic", out.Topic)
		}
	}

	if env.Qos == 0 {
		return
	}

	for id, sub := range s.offline.Subscribers(env.Topic) {
		if _, ok := s.Clients.Get(id); ok {
			continue
		}

		qos := minQos(env.Qos, sub.Qos)
		if qos == 0 {
			continue
		}

		id, m := id, env.withQos(qos).StorageMessage()
		s.persist.background(OutgoingEnqueue, id, "outgoing enqueue", func() error {
			return s.hooks.OutgoingEnqueue(id, m)
		})
	}
}

// Publish publishes a message from the embedding application to all matching
// subscribers, bypassing acl checks.
func (s *Server) Publish(topic string, payload []byte, retain bool, qos byte) error {
	if topic == "" || strings.ContainsAny(topic, "+#") {
		return packets.ErrTopicNameInvalid
	}

	if qos > s.Options.Capabilities.MaximumQos {
		return packets.ErrProtocolViolationQosOutOfRange
	}

	env := s.newEnvelope(Message{
		Topic:   topic,
		Payload: payload,
		Retain:  retain,
		Qos:     qos,
	}, "")

	s.publish(env, nil, nil)
	return nil
}

// publishHeartbeat announces that the broker is alive.
func (s *Server) publishHeartbeat() {
	env := s.newEnvelope(Message{
		Topic:   SysPrefix + "/" + s.ID + "/heartbeat",
		Payload: []byte(s.ID),
	}, "")
	s.publish(env, nil, nil)
}

// publishSysTopics publishes the current values to the server $SYS topics.
// Due to the int to string conversions this method is not as cheap as
// some of the others so the publishing interval should be set appropriately.
func (s *Server) publishSysTopics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	atomic.StoreInt64(&s.Info.MemoryAlloc, int64(m.HeapInuse))
	atomic.StoreInt64(&s.Info.Threads, int64(runtime.NumGoroutine()))
	atomic.StoreInt64(&s.Info.Time, time.Now().Unix())
	atomic.StoreInt64(&s.Info.Uptime, time.Now().Unix()-atomic.LoadInt64(&s.Info.Started))
	atomic.StoreInt64(&s.Info.ClientsDisconnected, int64(s.offline.Len()))
	atomic.StoreInt64(&s.Info.ClientsTotal, int64(s.Clients.Len())+atomic.LoadInt64(&s.Info.ClientsDisconnected))

	info := s.Info.Clone()
	topics := map[string]string{
		SysPrefix + "/broker/version":              s.Info.Version,
		SysPrefix + "/broker/time":                 Int64toa(info.Time),
		SysPrefix + "/broker/uptime":               Int64toa(info.Uptime),
		SysPrefix + "/broker/started":              Int64toa(info.Started),
		SysPrefix + "/broker/load/bytes/received":  Int64toa(info.BytesReceived),
		SysPrefix + "/broker/load/bytes/sent":      Int64toa(info.BytesSent),
		SysPrefix + "/broker/clients/connected":    Int64toa(info.ClientsConnected),
		SysPrefix + "/broker/clients/disconnected": Int64toa(info.ClientsDisconnected),
		SysPrefix + "/broker/clients/maximum":      Int64toa(info.ClientsMaximum),
		SysPrefix + "/broker/clients/total":        Int64toa(info.ClientsTotal),
		SysPrefix + "/broker/packets/received":     Int64toa(info.PacketsReceived),
		SysPrefix + "/broker/packets/sent":         Int64toa(info.PacketsSent),
		SysPrefix + "/broker/messages/received":    Int64toa(info.MessagesReceived),
		SysPrefix + "/broker/messages/sent":        Int64toa(info.MessagesSent),
		SysPrefix + "/broker/messages/dropped":     Int64toa(info.MessagesDropped),
		SysPrefix + "/broker/messages/inflight":    Int64toa(info.Inflight),
		SysPrefix + "/broker/retained":             Int64toa(info.Retained),
		SysPrefix + "/broker/subscriptions":        Int64toa(info.Subscriptions),
		SysPrefix + "/broker/sessions/takeovers":   Int64toa(info.Takeovers),
		SysPrefix + "/broker/sessions/wills":       Int64toa(info.WillsSent),
		SysPrefix + "/broker/forwards/duplicates":  Int64toa(info.DuplicatesSuppressed),
		SysPrefix + "/broker/forwards/vetoed":      Int64toa(info.ForwardsVetoed),
		SysPrefix + "/broker/persistence/failures": Int64toa(info.PersistenceFailures),
		SysPrefix + "/broker/persistence/pending":  Int64toa(info.PersistencePending),
		SysPrefix + "/broker/system/memory":        Int64toa(info.MemoryAlloc),
		SysPrefix + "/broker/system/threads":       Int64toa(info.Threads),
	}

	for topic, payload := range topics {
		env := s.newEnvelope(Message{
			Topic:   topic,
			Payload: []byte(payload),
		}, "")

		s.Topics.RetainMessage(env.withRetain(true))
		s.fanout(env)
	}

	s.hooks.OnSysInfoTick(info)
}

// Close attempts to gracefully shut down the server, all listeners, clients, and stores.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapUint32(&s.closing, 0, 1) {
		return nil
	}

	close(s.done)
	s.Log.Info("gracefully stopping server")
	s.Listeners.CloseAll(s.closeListenerClients)
	s.closeSessions(s.attached(""))
	s.persist.close()
	s.hooks.OnStopped()
	s.hooks.Stop()

	s.Log.Info("mqtt server stopped")
	return nil
}

// Health returns nil if the server can take new sessions, or the reason it cannot.
func (s *Server) Health() error {
	if atomic.LoadUint32(&s.closing) == 1 {
		return ErrServerShuttingDown
	}
	if atomic.LoadInt64(&s.Info.BreakerOpen) == 1 {
		return ErrStorageUnavailable
	}
	return nil
}

// closeListenerClients closes all sessions on the specified listener.
func (s *Server) closeListenerClients(listener string) {
	s.closeSessions(s.attached(listener))
}

// closeSessions closes sessions and waits for them to be torn down.
func (s *Server) closeSessions(sessions []*Client) {
	for _, cl := range sessions {
		cl := cl
		cl.post(func() {
			cl.close(ErrServerShuttingDown, nil)
		})
	}

	for _, cl := range sessions {
		<-cl.Closed()
	}
}

// readStore reads in any data from the persistent datastore (if applicable).
func (s *Server) readStore() error {
	if s.hooks.Provides(StoredRetainedMessages) {
		retained, err := s.hooks.StoredRetainedMessages()
		if err != nil {
			return fmt.Errorf("load retained; %w", err)
		}
		s.loadRetained(retained)
		s.Log.Debug("loaded retained messages from store", "len", len(retained))
	}

	if s.hooks.Provides(StoredSubscriptions) {
		subs, err := s.hooks.StoredSubscriptions()
		if err != nil {
			return fmt.Errorf("load subscriptions; %w", err)
		}
		s.loadSubscriptions(subs)
		s.Log.Debug("loaded subscriptions from store", "len", len(subs))
	}

	if s.hooks.Provides(StoredWills) {
		wills, err := s.hooks.StoredWills(s.ID)
		if err != nil {
			return fmt.Errorf("load wills; %w", err)
		}
		s.sendStoredWills(wills)
		s.Log.Debug("sent wills left in store", "len", len(wills))
	}

	return nil
}

// loadRetained restores retained messages from the datastore.
func (s *Server) loadRetained(v []storage.Message) {
	for _, msg := range v {
		env := envelopeFromStorage(msg)
		env.Retain = true
		s.retain(env)
	}
}

// loadSubscriptions restores the subscriptions of disconnected sessions from the datastore.
func (s *Server) loadSubscriptions(v []storage.Subscription) {
	byClient := map[string]map[string]packets.Subscription{}
	for _, sub := range v {
		if byClient[sub.Client] == nil {
			byClient[sub.Client] = map[string]packets.Subscription{}
		}
		byClient[sub.Client][sub.Filter] = packets.Subscription{
			Filter: sub.Filter,
			Qos:    sub.Qos,
		}
	}

	for client, subs := range byClient {
		s.offline.adopt(client, subs)
	}
}

// sendStoredWills publishes the wills left behind when this broker last
// stopped without closing its sessions, then deletes them.
func (s *Server) sendStoredWills(wills []storage.Will) {
	for _, w := range wills {
		env := s.newEnvelope(Message{
			Topic:   w.Topic,
			Payload: w.Payload,
			Qos:     w.Qos,
			Retain:  w.Retain,
		}, w.Client)

		s.publish(env, nil, nil)

		w := w
		s.persist.background(DelWill, w.Client, "delete will", func() error {
			return s.hooks.DelWill(w.BrokerID, w.Client)
		})
	}
}

// Int64toa converts an int64 to a string.
func Int64toa(v int64) string {
	return strconv.FormatInt(v, 10)
}
