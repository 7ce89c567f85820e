// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2022 mochi-mqtt, mochi-co
// SPDX-FileContributor: mochi-co

package system

import (
	"runtime"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Info contains atomic counters and values for the server and the sessions
// it runs, published on the $SYS topics and exported as metrics.
// based on https://github.com/mqtt/mqtt.org/wiki/SYS-Topics
type Info struct {
	Version              string `json:"version"`               // the current version of the server
	Started              int64  `json:"started"`               // the time the server started in unix seconds
	Time                 int64  `json:"time"`                  // current time on the server
	Uptime               int64  `json:"uptime"`                // the number of seconds the server has been online
	BytesReceived        int64  `json:"bytes_received"`        // total number of bytes received since the broker started
	BytesSent            int64  `json:"bytes_sent"`            // total number of bytes sent since the broker started
	ClientsConnected     int64  `json:"clients_connected"`     // number of currently connected clients
	ClientsDisconnected  int64  `json:"clients_disconnected"`  // persistent sessions with stored subscriptions but no connection
	ClientsMaximum       int64  `json:"clients_maximum"`       // maximum number of active clients that have been connected
	ClientsTotal         int64  `json:"clients_total"`         // connected clients plus disconnected persistent sessions
	MessagesReceived     int64  `json:"messages_received"`     // total number of publish messages received
	MessagesSent         int64  `json:"messages_sent"`         // total number of publish messages sent
	MessagesDropped      int64  `json:"messages_dropped"`      // publish messages dropped because a session mailbox was full
	Retained             int64  `json:"retained"`              // total number of retained messages active on the broker
	Inflight             int64  `json:"inflight"`              // the number of qos messages awaiting acknowledgement
	Subscriptions        int64  `json:"subscriptions"`         // total number of subscriptions active on the broker
	PacketsReceived      int64  `json:"packets_received"`      // total number of packets of any type decoded
	PacketsSent          int64  `json:"packets_sent"`          // total number of packets of any type sent
	DuplicatesSuppressed int64  `json:"duplicates_suppressed"` // deliveries skipped because the origin counter was not newer
	ForwardsVetoed       int64  `json:"forwards_vetoed"`       // deliveries refused by a forward authorization hook
	Takeovers            int64  `json:"takeovers"`             // sessions closed by a newer connection with the same identifier
	WillsSent            int64  `json:"wills_sent"`            // will messages published for sessions which ended uncleanly
	PersistenceFailures  int64  `json:"persistence_failures"`  // storage calls which failed or were refused by the breaker
	PersistencePending   int64  `json:"persistence_pending"`   // storage calls queued or running
	BreakerOpen          int64  `json:"breaker_open"`          // 1 while the persistence circuit breaker is not closed
	MemoryAlloc          int64  `json:"memory_alloc"`          // memory currently allocated
	Threads              int64  `json:"threads"`               // number of active goroutines, named as threads for platform ambiguity
}

// Clone makes a copy of Info using atomic operation
func (i *Info) Clone() *Info {
	return &Info{
		Version:              i.Version,
		Started:              atomic.LoadInt64(&i.Started),
		Time:                 atomic.LoadInt64(&i.Time),
		Uptime:               atomic.LoadInt64(&i.Uptime),
		BytesReceived:        atomic.LoadInt64(&i.BytesReceived),
		BytesSent:            atomic.LoadInt64(&i.BytesSent),
		ClientsConnected:     atomic.LoadInt64(&i.ClientsConnected),
		ClientsMaximum:       atomic.LoadInt64(&i.ClientsMaximum),
		ClientsTotal:         atomic.LoadInt64(&i.ClientsTotal),
		ClientsDisconnected:  atomic.LoadInt64(&i.ClientsDisconnected),
		MessagesReceived:     atomic.LoadInt64(&i.MessagesReceived),
		MessagesSent:         atomic.LoadInt64(&i.MessagesSent),
		MessagesDropped:      atomic.LoadInt64(&i.MessagesDropped),
		Retained:             atomic.LoadInt64(&i.Retained),
		Inflight:             atomic.LoadInt64(&i.Inflight),
		Subscriptions:        atomic.LoadInt64(&i.Subscriptions),
		PacketsReceived:      atomic.LoadInt64(&i.PacketsReceived),
		PacketsSent:          atomic.LoadInt64(&i.PacketsSent),
		DuplicatesSuppressed: atomic.LoadInt64(&i.DuplicatesSuppressed),
		ForwardsVetoed:       atomic.LoadInt64(&i.ForwardsVetoed),
		Takeovers:            atomic.LoadInt64(&i.Takeovers),
		WillsSent:            atomic.LoadInt64(&i.WillsSent),
		PersistenceFailures:  atomic.LoadInt64(&i.PersistenceFailures),
		PersistencePending:   atomic.LoadInt64(&i.PersistencePending),
		BreakerOpen:          atomic.LoadInt64(&i.BreakerOpen),
		MemoryAlloc:          atomic.LoadInt64(&i.MemoryAlloc),
		Threads:              atomic.LoadInt64(&i.Threads),
	}
}

// Metric describes one exported value of Info.
type Metric struct {
	Name    string
	Help    string
	Counter bool // monotonically increasing, otherwise a gauge
	Value   *int64
}

// Metrics returns the exported values of Info.
func (i *Info) Metrics() []Metric {
	return []Metric{
		{"bytes_received", "Total bytes read from client connections", true, &i.BytesReceived},
		{"bytes_sent", "Total bytes written to client connections", true, &i.BytesSent},
		{"clients_connected", "Currently connected clients", false, &i.ClientsConnected},
		{"clients_disconnected", "Persistent sessions without a connection", false, &i.ClientsDisconnected},
		{"clients_maximum", "Most clients connected at once", false, &i.ClientsMaximum},
		{"clients_total", "Connected clients plus disconnected persistent sessions", false, &i.ClientsTotal},
		{"messages_received", "Publish packets received", true, &i.MessagesReceived},
		{"messages_sent", "Publish packets sent", true, &i.MessagesSent},
		{"messages_dropped", "Messages dropped because a session mailbox was full", true, &i.MessagesDropped},
		{"retained", "Retained messages held", false, &i.Retained},
		{"inflight", "Qos messages awaiting acknowledgement", false, &i.Inflight},
		{"subscriptions", "Active subscriptions", false, &i.Subscriptions},
		{"packets_received", "Packets decoded from clients", true, &i.PacketsReceived},
		{"packets_sent", "Packets written to clients", true, &i.PacketsSent},
		{"duplicates_suppressed", "Deliveries skipped as already forwarded", true, &i.DuplicatesSuppressed},
		{"forwards_vetoed", "Deliveries refused by a forward authorization hook", true, &i.ForwardsVetoed},
		{"takeovers", "Sessions replaced by a newer connection", true, &i.Takeovers},
		{"wills_sent", "Will messages published", true, &i.WillsSent},
		{"persistence_failures", "Failed storage calls", true, &i.PersistenceFailures},
		{"persistence_pending", "Storage calls queued or running", false, &i.PersistencePending},
		{"persistence_breaker_open", "Whether the persistence circuit breaker is open", false, &i.BreakerOpen},
	}
}

// RegisterPrometheusMetrics exposes the values of Info on registry under
// namespace, or on the default registerer if registry is nil.
func (i *Info) RegisterPrometheusMetrics(registry prometheus.Registerer, namespace string) error {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	for _, m := range i.Metrics() {
		value := m.Value
		fn := func() float64 {
			return float64(atomic.LoadInt64(value))
		}

		var c prometheus.Collector
		if m.Counter {
			c = prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: namespace, Name: m.Name, Help: m.Help}, fn)
		} else {
			c = prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: m.Name, Help: m.Help}, fn)
		}

		if err := registry.Register(c); err != nil {
			return err
		}
	}

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build Information",
		},
		[]string{"goversion", "version"},
	)
	if err := registry.Register(buildInfo); err != nil {
		return err
	}
	buildInfo.With(prometheus.Labels{"goversion": runtime.Version(), "version": i.Version}).Set(1)

	return nil
}
